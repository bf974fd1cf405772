package notifier

import (
	"context"
	"errors"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/storage"
)

type fakeBot struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if f.err != nil {
		return tgbotapi.Message{}, f.err
	}
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeBot) Request(tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func notification(chatID *int64) alerts.Notification {
	return alerts.Notification{
		Alert: storage.PriceAlert{ID: 3, TargetPrice: 10, Currency: "USD"},
		Deal: storage.BestDeal{
			Deal:      storage.Deal{SalePrice: 9.99, NormalPrice: 24.99, SavingsPercentage: 60.02, Currency: "USD"},
			StoreName: "Steam",
		},
		User: storage.User{ID: 1, TelegramChatID: chatID, PriceAlertNotifications: true},
		Game: storage.Game{Title: "Hades"},
	}
}

func TestSendPriceAlert(t *testing.T) {
	bot := &fakeBot{}
	n := NewNotifier(bot)
	chat := int64(99)

	require.NoError(t, n.SendPriceAlert(context.Background(), notification(&chat)))
	require.Len(t, bot.sent, 1)
	assert.Equal(t, chat, bot.sent[0].ChatID)
	assert.Equal(t, tgbotapi.ModeMarkdown, bot.sent[0].ParseMode)
	assert.True(t, bot.sent[0].DisableWebPagePreview)
	assert.Contains(t, bot.sent[0].Text, "Price alert: Hades")
}

func TestSendPriceAlert_NoChannel(t *testing.T) {
	bot := &fakeBot{}
	n := NewNotifier(bot)

	err := n.SendPriceAlert(context.Background(), notification(nil))
	assert.ErrorIs(t, err, ErrNoChannel)

	chat := int64(99)
	muted := notification(&chat)
	muted.User.PriceAlertNotifications = false
	assert.ErrorIs(t, n.SendPriceAlert(context.Background(), muted), ErrNoChannel)
	assert.Empty(t, bot.sent)
}

func TestSendPriceAlert_SendFails(t *testing.T) {
	n := NewNotifier(&fakeBot{err: errors.New("Forbidden: bot was blocked by the user")})
	chat := int64(99)

	err := n.SendPriceAlert(context.Background(), notification(&chat))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "blocked")
}

func TestLogNotifier(t *testing.T) {
	var n alerts.Notifier = LogNotifier{}
	assert.NoError(t, n.SendPriceAlert(context.Background(), notification(nil)))
}
