// Package notifier delivers triggered price alerts to users.
package notifier

import (
	"context"
	"errors"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/telegram"
	"github.com/user/dealtracker/pkg/logger"
)

// ErrNoChannel is returned for users who cannot be reached.
var ErrNoChannel = errors.New("user has no notification channel")

// Notifier sends price alerts to Telegram chats.
type Notifier struct {
	bot        telegram.Sender
	msgBuilder *telegram.MessageBuilder
}

// NewNotifier creates a new notifier instance.
func NewNotifier(bot telegram.Sender) *Notifier {
	return &Notifier{
		bot:        bot,
		msgBuilder: telegram.NewMessageBuilder(),
	}
}

// SendPriceAlert implements alerts.Notifier.
func (n *Notifier) SendPriceAlert(ctx context.Context, note alerts.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if note.User.TelegramChatID == nil || !note.User.PriceAlertNotifications {
		return fmt.Errorf("alert %d: %w", note.Alert.ID, ErrNoChannel)
	}

	chatID := *note.User.TelegramChatID
	if err := n.sendNotification(chatID, n.msgBuilder.BuildPriceAlert(note)); err != nil {
		return fmt.Errorf("failed to notify chat %d: %w", chatID, err)
	}

	logger.Debug().Int64("alert_id", note.Alert.ID).Int64("chat_id", chatID).Msg("Price alert sent")
	return nil
}

// sendNotification sends a message to a chat.
func (n *Notifier) sendNotification(chatID int64, message string) error {
	msg := tgbotapi.NewMessage(chatID, message)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true

	_, err := n.bot.Send(msg)
	return err
}

// LogNotifier only logs triggered alerts. Used when no bot is configured.
type LogNotifier struct{}

// SendPriceAlert implements alerts.Notifier.
func (LogNotifier) SendPriceAlert(_ context.Context, note alerts.Notification) error {
	logger.Info().
		Int64("alert_id", note.Alert.ID).
		Int64("user_id", note.User.ID).
		Str("game", note.Game.Title).
		Float64("price", note.Deal.SalePrice).
		Str("store", note.Deal.StoreName).
		Msg("Price alert triggered")
	return nil
}
