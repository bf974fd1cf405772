// Package telegram provides Telegram bot functionality.
package telegram

import (
	"context"
	"fmt"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

const updateTimeout = 60

// updateSource is the long-polling side of the Bot API.
type updateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// Bot receives chat updates and dispatches them to the command handlers.
type Bot struct {
	api      *tgbotapi.BotAPI
	source   updateSource
	handlers *Handlers

	startedAt time.Time
	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewBot authorizes token and binds the handlers to db.
func NewBot(token string, debug bool, db *storage.Database, region string) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}
	api.Debug = debug

	logger.Info().Str("username", api.Self.UserName).Msg("Telegram bot authorized")

	b := newBot(api, api, db.Repository(), region)
	b.api = api
	return b, nil
}

func newBot(source updateSource, sender Sender, repo *storage.Repository, region string) *Bot {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bot{source: source, ctx: ctx, cancel: cancel}
	b.handlers = NewHandlers(sender, repo, region, b.Uptime)
	return b
}

// Start begins long polling. Updates are handled one at a time.
func (b *Bot) Start() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = updateTimeout
	updates := b.source.GetUpdatesChan(u)
	b.startedAt = time.Now()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-b.ctx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					logger.Warn().Msg("Telegram update channel closed")
					return
				}
				b.dispatch(update)
			}
		}
	}()

	logger.Info().Msg("Telegram bot started, listening for updates")
}

// Stop cancels in-flight handlers and waits for the loop to exit.
func (b *Bot) Stop() {
	logger.Info().Dur("uptime", b.Uptime()).Msg("Stopping Telegram bot")
	b.cancel()
	b.source.StopReceivingUpdates()
	b.wg.Wait()
}

// Uptime reports how long the bot has been receiving updates.
func (b *Bot) Uptime() time.Duration {
	if b.startedAt.IsZero() {
		return 0
	}
	return time.Since(b.startedAt)
}

// dispatch routes one update. A panicking handler loses only its own update.
func (b *Bot) dispatch(update tgbotapi.Update) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().
				Int("update_id", update.UpdateID).
				Interface("panic", r).
				Msg("Update handler panicked")
		}
	}()

	switch {
	case update.Message != nil && update.Message.IsCommand():
		b.handlers.HandleCommand(b.ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handlers.HandleCallback(b.ctx, update.CallbackQuery)
	}
}

// GetAPI returns the underlying bot API for direct access.
func (b *Bot) GetAPI() *tgbotapi.BotAPI {
	return b.api
}
