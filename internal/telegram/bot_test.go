package telegram

import (
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/storage"
)

// fakeSource feeds updates from a channel in place of long polling.
type fakeSource struct {
	ch   chan tgbotapi.Update
	once sync.Once
}

func newFakeSource() *fakeSource {
	return &fakeSource{ch: make(chan tgbotapi.Update, 8)}
}

func (f *fakeSource) GetUpdatesChan(tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.ch
}

func (f *fakeSource) StopReceivingUpdates() {
	f.once.Do(func() { close(f.ch) })
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func TestBot_StatusReportsUptime(t *testing.T) {
	_, sender, repo := newTestHandlers(t)
	source := newFakeSource()
	b := newBot(source, sender, repo, "US")

	assert.Zero(t, b.Uptime())
	b.Start()
	t.Cleanup(b.Stop)

	source.ch <- tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Text: "hello", Chat: &tgbotapi.Chat{ID: chatID}}}
	source.ch <- tgbotapi.Update{UpdateID: 2, Message: command("/status")}

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	text := sender.last(t).Text
	assert.Contains(t, text, "Uptime:")
	assert.Contains(t, text, "US")
	assert.Positive(t, b.Uptime())
}

func TestBot_SurvivesPanickingHandler(t *testing.T) {
	sender := &fakeSender{}
	source := newFakeSource()
	// A nil repository makes every command panic while tracking the chat.
	b := newBot(source, sender, (*storage.Repository)(nil), "US")
	b.Start()

	source.ch <- tgbotapi.Update{UpdateID: 1, Message: command("/start")}
	source.ch <- tgbotapi.Update{UpdateID: 2, CallbackQuery: &tgbotapi.CallbackQuery{ID: "cb-1"}}

	require.Eventually(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return sender.requests == 1
	}, time.Second, 5*time.Millisecond)

	b.Stop()
}

func TestBot_ExitsWhenUpdatesClose(t *testing.T) {
	source := newFakeSource()
	b := newBot(source, &fakeSender{}, nil, "US")
	b.Start()

	source.StopReceivingUpdates()
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("update loop did not exit")
	}
	b.Stop()
}
