package telegram

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// Sender is the part of the Bot API the handlers use. *tgbotapi.BotAPI implements it.
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Handlers manages command handling for the bot.
type Handlers struct {
	api      Sender
	repo     *storage.Repository
	region   string
	messages *MessageBuilder
	uptime   func() time.Duration
}

// NewHandlers creates a new handlers instance. region applies to deal listings and
// uptime feeds /status; nil reports zero.
func NewHandlers(api Sender, repo *storage.Repository, region string, uptime func() time.Duration) *Handlers {
	if uptime == nil {
		uptime = func() time.Duration { return 0 }
	}
	return &Handlers{
		api:      api,
		repo:     repo,
		region:   region,
		messages: NewMessageBuilder(),
		uptime:   uptime,
	}
}

// HandleCommand routes commands to appropriate handlers.
func (h *Handlers) HandleCommand(ctx context.Context, msg *tgbotapi.Message) {
	command := msg.Command()
	args := strings.TrimSpace(msg.CommandArguments())

	logger.Debug().
		Str("command", command).
		Str("args", args).
		Int64("chat_id", msg.Chat.ID).
		Msg("Received command")

	// Every chat that talks to the bot becomes a user.
	user, err := h.trackChat(ctx, msg)
	if err != nil {
		logger.Error().Err(err).Int64("chat_id", msg.Chat.ID).Msg("Failed to track chat")
		h.sendReply(msg.Chat.ID, "❌ Something went wrong, please try again later")
		return
	}

	switch command {
	case "start":
		h.handleStart(msg)
	case "help":
		h.handleHelp(msg)
	case "deals":
		h.handleDeals(ctx, msg, args)
	case "alert":
		h.handleAlert(ctx, msg, user, args)
	case "alerts":
		h.handleAlerts(ctx, msg, user)
	case "reset":
		h.handleReset(ctx, msg.Chat.ID, user, args)
	case "delalert":
		h.handleDeleteAlert(ctx, msg.Chat.ID, user, args)
	case "wish":
		h.handleWish(ctx, msg, user, args)
	case "wishlist":
		h.handleWishlist(ctx, msg, user)
	case "status":
		h.handleStatus(ctx, msg)
	default:
		h.sendReply(msg.Chat.ID, "Unknown command. Use /help to see what I can do.")
	}
}

// HandleCallback handles inline keyboard callbacks.
func (h *Handlers) HandleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if _, err := h.api.Request(tgbotapi.NewCallback(callback.ID, "")); err != nil {
		logger.Warn().Err(err).Msg("Failed to answer callback")
	}
	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID

	action, id, ok := strings.Cut(callback.Data, ":")
	if !ok {
		return
	}

	user, err := h.repo.FindUserByTelegramChat(ctx, chatID)
	if err != nil {
		logger.Warn().Err(err).Int64("chat_id", chatID).Msg("Callback from unknown chat")
		return
	}

	switch action {
	case "reset":
		h.handleReset(ctx, chatID, user, id)
	case "del":
		h.handleDeleteAlert(ctx, chatID, user, id)
	}
}

// trackChat stores the chat as a user for future notifications.
func (h *Handlers) trackChat(ctx context.Context, msg *tgbotapi.Message) (*storage.User, error) {
	name := msg.Chat.UserName
	if msg.From != nil && msg.From.UserName != "" {
		name = msg.From.UserName
	}
	if name == "" {
		name = msg.Chat.Title
	}
	if name == "" {
		name = strings.TrimSpace(msg.Chat.FirstName + " " + msg.Chat.LastName)
	}
	return h.repo.CreateOrUpdateTelegramUser(ctx, msg.Chat.ID, name)
}

// handleStart sends a welcome message.
func (h *Handlers) handleStart(msg *tgbotapi.Message) {
	text := `🎮 *Welcome to the deal tracker!*

I watch game prices on Steam, Epic, GOG, Humble and Fanatical and tell you when a game you want gets cheap.

*Quick start:*
` + "`/alert hades 10`" + ` - tell me when Hades costs $10 or less
` + "`/deals`" + ` - today's hottest deals

Use /help to see all commands.`

	h.sendMarkdown(msg.Chat.ID, text)
}

// handleHelp sends help information.
func (h *Handlers) handleHelp(msg *tgbotapi.Message) {
	text := `📚 *Commands*

*Deals:*
• ` + "`/deals`" + ` - hot deals (50% off or more)
• ` + "`/deals free`" + ` - games free right now
• ` + "`/deals ending`" + ` - deals ending in the next 48 hours

*Price alerts:*
• ` + "`/alert <game> <price>`" + ` - alert when the price drops to a target
• ` + "`/alerts`" + ` - list your alerts
• ` + "`/reset <id>`" + ` - watch a triggered alert again
• ` + "`/delalert <id>`" + ` - delete an alert

*Wishlist:*
• ` + "`/wish <game> [price]`" + ` - add a game, optionally with a target price
• ` + "`/wishlist`" + ` - wishlisted games on sale

Games are named by their slug, e.g. ` + "`hollow-knight`" + `.`

	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) handleDeals(ctx context.Context, msg *tgbotapi.Message, args string) {
	var (
		deals  []storage.DealView
		header string
		err    error
	)
	switch strings.ToLower(args) {
	case "", "hot":
		header = "🔥 Hot deals"
		deals, err = h.repo.HotDeals(ctx, h.region, 10)
	case "free":
		header = "🎁 Free right now"
		deals, err = h.repo.FreeGames(ctx, h.region, 10)
	case "ending":
		header = "⏳ Ending soon"
		deals, err = h.repo.EndingSoon(ctx, h.region, 48, 10)
	default:
		h.sendReply(msg.Chat.ID, "❌ Usage: `/deals [hot|free|ending]`")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list deals")
		h.sendReply(msg.Chat.ID, "❌ Failed to load deals")
		return
	}
	if len(deals) == 0 {
		h.sendReply(msg.Chat.ID, "📭 No deals right now, check back later")
		return
	}
	h.sendMarkdown(msg.Chat.ID, h.messages.BuildDealList(header, deals))
}

func (h *Handlers) handleAlert(ctx context.Context, msg *tgbotapi.Message, user *storage.User, args string) {
	slug, target, err := parseGameArgs(args, true)
	if err != nil {
		h.sendReply(msg.Chat.ID, "❌ Usage: `/alert <game> <price>`")
		return
	}

	game, ok := h.findGame(ctx, msg.Chat.ID, slug)
	if !ok {
		return
	}

	alert, err := h.repo.CreateAlert(ctx, user.ID, game.ID, *target, user.PreferredCurrency, user.PreferredRegion)
	if err != nil {
		h.replyError(msg.Chat.ID, err, "Failed to create alert")
		return
	}

	h.sendMarkdown(msg.Chat.ID, fmt.Sprintf("✅ Alert `#%d` set: *%s* at %s or less",
		alert.ID, escape(game.Title), FormatPrice(alert.TargetPrice, alert.Currency)))
}

func (h *Handlers) handleAlerts(ctx context.Context, msg *tgbotapi.Message, user *storage.User) {
	list, err := h.repo.ListUserAlerts(ctx, user.ID, true)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list alerts")
		h.sendReply(msg.Chat.ID, "❌ Failed to load your alerts")
		return
	}
	if len(list) == 0 {
		h.sendReply(msg.Chat.ID, "📭 You have no alerts\n\nUse `/alert <game> <price>` to create one")
		return
	}

	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(list))
	for _, a := range list {
		id := strconv.FormatInt(a.ID, 10)
		row := []tgbotapi.InlineKeyboardButton{tgbotapi.NewInlineKeyboardButtonData("🗑 #"+id, "del:"+id)}
		if a.IsTriggered {
			row = append(row, tgbotapi.NewInlineKeyboardButtonData("🔄 #"+id, "reset:"+id))
		}
		rows = append(rows, row)
	}

	reply := tgbotapi.NewMessage(msg.Chat.ID, h.messages.BuildAlertList(list))
	reply.ParseMode = tgbotapi.ModeMarkdown
	reply.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(rows...)
	if _, err := h.api.Send(reply); err != nil {
		logger.Error().Err(err).Msg("Failed to send alert list")
	}
}

func (h *Handlers) handleReset(ctx context.Context, chatID int64, user *storage.User, args string) {
	id, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil {
		h.sendReply(chatID, "❌ Usage: `/reset <id>`")
		return
	}
	if err := h.repo.ResetAlert(ctx, user.ID, id); err != nil {
		h.replyError(chatID, err, "Failed to reset alert")
		return
	}
	h.sendReply(chatID, fmt.Sprintf("🔄 Alert `#%d` is watching again", id))
}

func (h *Handlers) handleDeleteAlert(ctx context.Context, chatID int64, user *storage.User, args string) {
	id, err := strconv.ParseInt(strings.TrimPrefix(args, "#"), 10, 64)
	if err != nil {
		h.sendReply(chatID, "❌ Usage: `/delalert <id>`")
		return
	}
	if err := h.repo.DeleteAlert(ctx, user.ID, id); err != nil {
		h.replyError(chatID, err, "Failed to delete alert")
		return
	}
	h.sendReply(chatID, fmt.Sprintf("✅ Alert `#%d` deleted", id))
}

func (h *Handlers) handleWish(ctx context.Context, msg *tgbotapi.Message, user *storage.User, args string) {
	slug, target, err := parseGameArgs(args, false)
	if err != nil {
		h.sendReply(msg.Chat.ID, "❌ Usage: `/wish <game> [price]`")
		return
	}

	game, ok := h.findGame(ctx, msg.Chat.ID, slug)
	if !ok {
		return
	}

	if err := h.repo.AddToWishlist(ctx, user.ID, game.ID, target, nil); err != nil {
		h.replyError(msg.Chat.ID, err, "Failed to update wishlist")
		return
	}

	text := fmt.Sprintf("⭐ *%s* added to your wishlist", escape(game.Title))
	if target != nil {
		text += " with target " + FormatPrice(*target, user.PreferredCurrency)
	}
	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) handleWishlist(ctx context.Context, msg *tgbotapi.Message, user *storage.User) {
	items, err := h.repo.ListWishlist(ctx, user.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list wishlist")
		h.sendReply(msg.Chat.ID, "❌ Failed to load your wishlist")
		return
	}
	if len(items) == 0 {
		h.sendReply(msg.Chat.ID, "📭 Your wishlist is empty\n\nUse `/wish <game>` to add one")
		return
	}

	deals, err := h.repo.WishlistDeals(ctx, user.ID, user.PreferredRegion)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list wishlist deals")
		h.sendReply(msg.Chat.ID, "❌ Failed to load your wishlist")
		return
	}
	if len(deals) == 0 {
		h.sendReply(msg.Chat.ID, fmt.Sprintf("⭐ %d games on your wishlist, none on sale at your target yet", len(items)))
		return
	}
	h.sendMarkdown(msg.Chat.ID, h.messages.BuildDealList(fmt.Sprintf("⭐ Wishlist deals (%d of %d games)", len(deals), len(items)), deals))
}

// handleStatus shows bot status information.
func (h *Handlers) handleStatus(ctx context.Context, msg *tgbotapi.Message) {
	stats, err := h.repo.GetDealStats(ctx, h.region)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load deal stats")
		h.sendReply(msg.Chat.ID, "❌ Failed to load status")
		return
	}

	text := fmt.Sprintf(`📊 *Status*

⏱️ *Uptime:* %s
🌍 *Region:* %s

🏷 *Deals:* %d tracked, %d on sale
📉 *Average discount:* %s
🎁 *Free games:* %d
`, formatDuration(h.uptime()), h.region,
		stats.TotalDeals, stats.ActiveDeals, FormatDiscount(stats.AverageDiscount), stats.FreeGamesCount)

	h.sendMarkdown(msg.Chat.ID, text)
}

func (h *Handlers) findGame(ctx context.Context, chatID int64, slug string) (*storage.Game, bool) {
	game, err := h.repo.FindGameBySlug(ctx, slug)
	if err != nil {
		logger.Error().Err(err).Str("slug", slug).Msg("Failed to find game")
		h.sendReply(chatID, "❌ Something went wrong, please try again later")
		return nil, false
	}
	if game == nil {
		h.sendReply(chatID, fmt.Sprintf("❌ No game called `%s`", slug))
		return nil, false
	}
	return game, true
}

func (h *Handlers) replyError(chatID int64, err error, what string) {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		h.sendReply(chatID, "❌ Not found")
	case errors.Is(err, apperror.ErrInvalid):
		var appErr *apperror.AppError
		errors.As(err, &appErr)
		h.sendReply(chatID, "❌ "+appErr.Message)
	default:
		logger.Error().Err(err).Int64("chat_id", chatID).Msg(what)
		h.sendReply(chatID, "❌ "+what+", please try again later")
	}
}

// formatDuration formats a duration to a human-readable string.
func formatDuration(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	} else if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	} else if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}

// sendReply sends a simple text reply.
func (h *Handlers) sendReply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send reply")
	}
}

// sendMarkdown sends a markdown-formatted message.
func (h *Handlers) sendMarkdown(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := h.api.Send(msg); err != nil {
		logger.Error().Err(err).Msg("Failed to send markdown message")
	}
}

// parseGameArgs parses "<slug> [price]". The price is required when needPrice is set.
func parseGameArgs(args string, needPrice bool) (slug string, price *float64, err error) {
	fields := strings.Fields(args)
	if len(fields) == 0 || len(fields) > 2 {
		return "", nil, fmt.Errorf("invalid format")
	}
	slug = strings.ToLower(fields[0])

	if len(fields) == 1 {
		if needPrice {
			return "", nil, fmt.Errorf("missing price")
		}
		return slug, nil, nil
	}

	p, err := strconv.ParseFloat(strings.TrimPrefix(fields[1], "$"), 64)
	if err != nil || p < 0 {
		return "", nil, fmt.Errorf("invalid price %q", fields[1])
	}
	return slug, &p, nil
}
