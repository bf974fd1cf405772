package alerts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/storage"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []Notification
	err  error
}

func (r *recordingNotifier) SendPriceAlert(ctx context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, n)
	return nil
}

type fixture struct {
	db    *storage.Database
	repo  *storage.Repository
	game  *storage.Game
	user  *storage.User
	steam *storage.Store
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	repo := db.Repository()
	require.NoError(t, repo.SeedStores(ctx, storage.DefaultStores))

	game, err := repo.CreateGame(ctx, storage.NewGame{Title: "Hades", NormalizedTitle: "hades", Slug: "hades"})
	require.NoError(t, err)
	user, err := repo.CreateOrUpdateTelegramUser(ctx, 42, "alice")
	require.NoError(t, err)
	steam, err := repo.FindStoreBySlug(ctx, "steam")
	require.NoError(t, err)

	return &fixture{db: db, repo: repo, game: game, user: user, steam: steam}
}

func (f *fixture) deal(t *testing.T, id string, sale float64) {
	t.Helper()
	_, err := f.repo.UpsertDeal(context.Background(), storage.DealUpsert{
		GameID: f.game.ID, StoreID: f.steam.ID, Provider: "steam", ExternalDealID: id, Title: "Hades",
		SalePrice: sale, NormalPrice: 24.99, SavingsPercentage: 50, Currency: "USD", Region: "US",
		IsOnSale: sale < 24.99, Now: time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestAlertTriggersOnce(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	e := NewEvaluator(f.db, notifier)

	alert, err := f.repo.CreateAlert(ctx, f.user.ID, f.game.ID, 10.00, "USD", "US")
	require.NoError(t, err)

	f.deal(t, "a", 12.00)
	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Zero(t, report.Triggered)

	got, err := f.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.False(t, got.IsTriggered)

	f.deal(t, "b", 9.99)
	report, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, report.Notified)

	got, err = f.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTriggered)
	assert.Equal(t, 9.99, *got.TriggeredPrice)
	assert.Equal(t, "Steam", *got.TriggeredStore)
	assert.NotNil(t, got.TriggeredAt)
	assert.True(t, got.NotificationSent)

	require.Len(t, notifier.sent, 1)
	n := notifier.sent[0]
	assert.Equal(t, "Hades", n.Game.Title)
	assert.Equal(t, int64(42), *n.User.TelegramChatID)
	assert.Equal(t, 9.99, n.Deal.SalePrice)

	// Prices drop further: no second notification.
	f.deal(t, "c", 5.00)
	report, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
	assert.Len(t, notifier.sent, 1)
}

func TestAlertRearmsAfterReset(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	notifier := &recordingNotifier{}
	e := NewEvaluator(f.db, notifier)

	alert, err := f.repo.CreateAlert(ctx, f.user.ID, f.game.ID, 10.00, "USD", "US")
	require.NoError(t, err)
	f.deal(t, "a", 9.99)

	_, err = e.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, f.repo.ResetAlert(ctx, f.user.ID, alert.ID))

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
	assert.Len(t, notifier.sent, 2)
}

func TestNotifierFailureKeepsTrigger(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := NewEvaluator(f.db, &recordingNotifier{err: errors.New("telegram down")})

	alert, err := f.repo.CreateAlert(ctx, f.user.ID, f.game.ID, 10.00, "USD", "US")
	require.NoError(t, err)
	f.deal(t, "a", 9.99)

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
	assert.Equal(t, 1, report.NotifyFailed)

	got, err := f.repo.GetAlert(ctx, alert.ID)
	require.NoError(t, err)
	assert.True(t, got.IsTriggered)
	assert.False(t, got.NotificationSent)
}

func TestAlertIgnoresOtherRegionsAndInactive(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := NewEvaluator(f.db, &recordingNotifier{})

	gb, err := f.repo.CreateAlert(ctx, f.user.ID, f.game.ID, 10.00, "GBP", "GB")
	require.NoError(t, err)
	f.deal(t, "a", 9.99)

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Triggered)

	require.NoError(t, f.repo.DeactivateAlert(ctx, f.user.ID, gb.ID))
	report, err = e.Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Checked)
}

func TestAlertMatchesExactTarget(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e := NewEvaluator(f.db, &recordingNotifier{})

	_, err := f.repo.CreateAlert(ctx, f.user.ID, f.game.ID, 9.99, "USD", "US")
	require.NoError(t, err)
	f.deal(t, "a", 9.99)

	report, err := e.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Triggered)
}
