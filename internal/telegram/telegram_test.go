package telegram

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/reconciler"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/storage"
)

// fakeSender records every message instead of calling Telegram.
type fakeSender struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests int
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests++
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeSender) last(t *testing.T) tgbotapi.MessageConfig {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.sent)
	return f.sent[len(f.sent)-1]
}

const chatID = 4242

func newTestHandlers(t *testing.T) (*Handlers, *fakeSender, *storage.Repository) {
	t.Helper()
	ctx := context.Background()

	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Repository().SeedStores(ctx, storage.DefaultStores))

	rec := reconciler.New(resolver.New(nil))
	require.NoError(t, db.InTx(ctx, func(tx *storage.Tx) error {
		_, err := rec.ReconcileBatch(ctx, tx, []provider.DealCandidate{
			{Provider: provider.CheapShark, StoreID: "1", Title: "Hades", DealID: "hades-deal",
				SalePrice: 9.99, NormalPrice: 24.99, Region: "US", DealURL: "https://www.cheapshark.com/redirect?dealID=hades-deal"},
			{Provider: provider.Epic, StoreID: provider.Epic, Title: "Control", DealID: "epic:control",
				SalePrice: 0, NormalPrice: 29.99, Region: "US"},
		})
		return err
	}))

	sender := &fakeSender{}
	return NewHandlers(sender, db.Repository(), "US", nil), sender, db.Repository()
}

func command(text string) *tgbotapi.Message {
	cmd, _, _ := strings.Cut(text, " ")
	return &tgbotapi.Message{
		Text:     text,
		Chat:     &tgbotapi.Chat{ID: chatID, Type: "private", FirstName: "Zagreus"},
		From:     &tgbotapi.User{ID: 1, UserName: "zag"},
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: len(cmd)}},
	}
}

func TestHandleCommand_RegistersChat(t *testing.T) {
	h, sender, repo := newTestHandlers(t)

	h.HandleCommand(context.Background(), command("/start"))

	user, err := repo.FindUserByTelegramChat(context.Background(), chatID)
	require.NoError(t, err)
	assert.Equal(t, "zag", user.Username)
	assert.Contains(t, sender.last(t).Text, "Welcome")
}

func TestHandleCommand_AlertLifecycle(t *testing.T) {
	h, sender, repo := newTestHandlers(t)
	ctx := context.Background()

	h.HandleCommand(ctx, command("/alert hades $12"))
	assert.Contains(t, sender.last(t).Text, "Alert `#1` set")

	user, err := repo.FindUserByTelegramChat(ctx, chatID)
	require.NoError(t, err)
	list, err := repo.ListUserAlerts(ctx, user.ID, true)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 12.0, list[0].TargetPrice)

	h.HandleCommand(ctx, command("/alerts"))
	reply := sender.last(t)
	assert.Contains(t, reply.Text, "Hades")
	markup, ok := reply.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, markup.InlineKeyboard, 1)
	require.NotNil(t, markup.InlineKeyboard[0][0].CallbackData)
	assert.Equal(t, "del:1", *markup.InlineKeyboard[0][0].CallbackData)

	h.HandleCommand(ctx, command("/reset 1"))
	assert.Contains(t, sender.last(t).Text, "watching again")

	h.HandleCallback(ctx, &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    "del:1",
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	})
	assert.Equal(t, 1, sender.requests)
	assert.Contains(t, sender.last(t).Text, "deleted")

	h.HandleCommand(ctx, command("/delalert 1"))
	assert.Contains(t, sender.last(t).Text, "Not found")
}

func TestHandleCommand_BadArguments(t *testing.T) {
	h, sender, _ := newTestHandlers(t)
	ctx := context.Background()

	h.HandleCommand(ctx, command("/alert hades"))
	assert.Contains(t, sender.last(t).Text, "Usage")

	h.HandleCommand(ctx, command("/alert nothing-like-this 5"))
	assert.Contains(t, sender.last(t).Text, "No game called")

	h.HandleCommand(ctx, command("/reset abc"))
	assert.Contains(t, sender.last(t).Text, "Usage")

	h.HandleCommand(ctx, command("/unknown"))
	assert.Contains(t, sender.last(t).Text, "Unknown command")
}

func TestHandleCommand_DealsAndWishlist(t *testing.T) {
	h, sender, _ := newTestHandlers(t)
	ctx := context.Background()

	h.HandleCommand(ctx, command("/deals"))
	text := sender.last(t).Text
	assert.Contains(t, text, "Hot deals")
	assert.Contains(t, text, "Control")
	assert.Contains(t, text, "[Hades](https://www.cheapshark.com/redirect?dealID=hades-deal)")

	h.HandleCommand(ctx, command("/deals free"))
	text = sender.last(t).Text
	assert.Contains(t, text, "Control: Free")
	assert.NotContains(t, text, "Hades")

	h.HandleCommand(ctx, command("/wishlist"))
	assert.Contains(t, sender.last(t).Text, "empty")

	h.HandleCommand(ctx, command("/wish hades 5"))
	assert.Contains(t, sender.last(t).Text, "added to your wishlist")

	h.HandleCommand(ctx, command("/wishlist"))
	assert.Contains(t, sender.last(t).Text, "none on sale")

	h.HandleCommand(ctx, command("/wish hades"))
	h.HandleCommand(ctx, command("/wishlist"))
	assert.Contains(t, sender.last(t).Text, "Wishlist deals (1 of 1 games)")
}

func TestBuildPriceAlert(t *testing.T) {
	end := time.Date(2026, 3, 1, 17, 0, 0, 0, time.UTC)
	n := alerts.Notification{
		Alert: storage.PriceAlert{ID: 7, TargetPrice: 10, Currency: "USD"},
		Deal: storage.BestDeal{
			Deal: storage.Deal{
				SalePrice: 9.99, NormalPrice: 24.99, SavingsPercentage: 60.02, Currency: "USD",
				DealURL: "https://example.com/deal", DealEndDate: &end,
			},
			StoreName: "Steam",
		},
		Game: storage.Game{Title: "Baldur_s Gate"},
	}

	msg := NewMessageBuilder().BuildPriceAlert(n)
	assert.Contains(t, msg, `Baldur\_s Gate`)
	assert.Contains(t, msg, "Now $9.99 at Steam (target $10.00)")
	assert.Contains(t, msg, "Was $24.99, 60.02% off")
	assert.Contains(t, msg, "Ends 2026-03-01 17:00 UTC")
	assert.Contains(t, msg, "[Open deal](https://example.com/deal)")
	assert.Contains(t, msg, "/reset 7")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "Free", FormatPrice(0, "USD"))
	assert.Equal(t, "$4.50", FormatPrice(4.5, ""))
	assert.Equal(t, "€19.99", FormatPrice(19.99, "eur"))
	assert.Equal(t, "1200.00 JPY", FormatPrice(1200, "JPY"))

	assert.Equal(t, "60%", FormatDiscount(60))
	assert.Equal(t, "60.5%", FormatDiscount(60.5))
	assert.Equal(t, "33.33%", FormatDiscount(33.33))

	assert.Equal(t, "2d 3h 0m", formatDuration(51*time.Hour))
	assert.Equal(t, "45s", formatDuration(45*time.Second))
}

func TestParseGameArgs(t *testing.T) {
	slug, price, err := parseGameArgs("Hades 9.99", true)
	require.NoError(t, err)
	assert.Equal(t, "hades", slug)
	require.NotNil(t, price)
	assert.Equal(t, 9.99, *price)

	slug, price, err = parseGameArgs("celeste", false)
	require.NoError(t, err)
	assert.Equal(t, "celeste", slug)
	assert.Nil(t, price)

	_, _, err = parseGameArgs("celeste", true)
	assert.Error(t, err)
	_, _, err = parseGameArgs("celeste -1", false)
	assert.Error(t, err)
	_, _, err = parseGameArgs("", false)
	assert.Error(t, err)
}
