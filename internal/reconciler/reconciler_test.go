package reconciler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/storage"
)

func newTestDB(t *testing.T) *storage.Database {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Repository().SeedStores(context.Background(), storage.DefaultStores))
	return db
}

func hades(sale float64) provider.DealCandidate {
	appID := int64(1145360)
	return provider.DealCandidate{
		Provider:    provider.CheapShark,
		StoreID:     "1",
		Title:       "Hades",
		ExternalIDs: map[string]string{provider.CheapShark: "612"},
		SteamAppID:  &appID,
		SalePrice:   sale,
		NormalPrice: 24.99,
		Savings:     99, // provider value is ignored
		DealID:      "hades-deal",
		Currency:    "USD",
		Region:      "US",
	}
}

func runBatch(t *testing.T, db *storage.Database, r *Reconciler, candidates ...provider.DealCandidate) BatchReport {
	t.Helper()
	var report BatchReport
	err := db.InTx(context.Background(), func(tx *storage.Tx) error {
		var err error
		report, err = r.ReconcileBatch(context.Background(), tx, candidates)
		return err
	})
	require.NoError(t, err)
	return report
}

func TestSavings(t *testing.T) {
	assert.Equal(t, 60.02, Savings(9.99, 24.99))
	assert.Equal(t, 100.0, Savings(0, 19.99))
	assert.Equal(t, 0.0, Savings(10, 10))
	assert.Equal(t, 0.0, Savings(12, 10))
	assert.Equal(t, 0.0, Savings(5, 0))
	assert.Equal(t, 0.0, Savings(0, 0))
	assert.Equal(t, 33.33, Savings(2, 3))
}

func TestReconcileIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	r := New(resolver.New(nil))

	first := runBatch(t, db, r, hades(9.99))
	assert.Equal(t, 1, first.Created)
	second := runBatch(t, db, r, hades(9.99))
	assert.Equal(t, 1, second.Unchanged)

	repo := db.Repository()
	deal, err := repo.FindDealByExternalID(context.Background(), "hades-deal")
	require.NoError(t, err)
	require.NotNil(t, deal)
	assert.Equal(t, 9.99, deal.SalePrice)
	assert.Equal(t, 24.99, deal.NormalPrice)
	assert.Equal(t, 60.02, deal.SavingsPercentage)
	assert.True(t, deal.IsOnSale)
	assert.Equal(t, first.Deals[0].ID, second.Deals[0].ID)

	deals, err := repo.ListDeals(context.Background(), storage.DealFilter{})
	require.NoError(t, err)
	assert.Len(t, deals, 1)

	points, err := repo.CountPricePoints(context.Background(), deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, points)
}

func TestReconcilePriceChange(t *testing.T) {
	db := newTestDB(t)
	r := New(resolver.New(nil))
	ctx := context.Background()

	runBatch(t, db, r, hades(9.99))
	report := runBatch(t, db, r, hades(7.49))
	assert.Equal(t, 1, report.Updated)

	repo := db.Repository()
	deal, err := repo.FindDealByExternalID(ctx, "hades-deal")
	require.NoError(t, err)
	assert.Equal(t, 7.49, deal.SalePrice)
	assert.Equal(t, Savings(7.49, 24.99), deal.SavingsPercentage)

	points, err := repo.CountPricePoints(ctx, deal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, points)

	snapshots, err := repo.GetGameStores(ctx, deal.GameID)
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, 7.49, *snapshots[0].CurrentPrice)
	assert.Equal(t, "612", snapshots[0].StoreGameID)

	// Back to full price: not on sale any more.
	full := hades(24.99)
	runBatch(t, db, r, full)
	deal, err = repo.FindDealByExternalID(ctx, "hades-deal")
	require.NoError(t, err)
	assert.False(t, deal.IsOnSale)
	assert.Zero(t, deal.SavingsPercentage)
}

func TestReconcileDropsUnmappedStore(t *testing.T) {
	db := newTestDB(t)
	r := New(resolver.New(nil))

	unmapped := hades(9.99)
	unmapped.StoreID = "99"
	unmapped.DealID = "other"

	report := runBatch(t, db, r, unmapped)
	assert.Equal(t, 1, report.Dropped)
	assert.Empty(t, report.Deals)

	deal, err := db.Repository().FindDealByExternalID(context.Background(), "other")
	require.NoError(t, err)
	assert.Nil(t, deal)
	games, err := db.Repository().ListGames(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestBatchIsolatesCandidates(t *testing.T) {
	db := newTestDB(t)
	r := New(resolver.New(nil))

	invalid := provider.DealCandidate{
		Provider: provider.GOG, StoreID: provider.GOG, Title: "Broken Game", DealID: "gog:1",
		SalePrice: -5, NormalPrice: 10,
	}
	celeste := provider.DealCandidate{
		Provider: provider.GOG, StoreID: provider.GOG, Title: "Celeste", DealID: "gog:2",
		SalePrice: 4.99, NormalPrice: 19.99, Region: "us",
	}

	report := runBatch(t, db, r, hades(9.99), invalid, celeste)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Dropped)

	repo := db.Repository()
	broken, err := repo.FindGameBySlug(context.Background(), "broken-game")
	require.NoError(t, err)
	assert.Nil(t, broken, "game created by a failed candidate is rolled back")

	deal, err := repo.FindDealByExternalID(context.Background(), "gog:2")
	require.NoError(t, err)
	require.NotNil(t, deal)
	assert.Equal(t, "US", deal.Region)
	assert.Equal(t, "USD", deal.Currency)
}

func TestBatchSameGameFromTwoProviders(t *testing.T) {
	db := newTestDB(t)
	r := New(resolver.New(nil))

	steam := hades(9.99)
	gog := provider.DealCandidate{
		Provider: provider.GOG, StoreID: provider.GOG, Title: "HADES", DealID: "gog:1113570",
		ExternalIDs: map[string]string{provider.GOG: "1113570"}, SalePrice: 12.49, NormalPrice: 24.99,
		Region: "US",
	}
	report := runBatch(t, db, r, steam, gog)
	assert.Equal(t, 2, report.Created)

	games, err := db.Repository().ListGames(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, games, 1)

	best, err := db.Repository().BestOnSaleDeal(context.Background(), games[0].ID, "US")
	require.NoError(t, err)
	assert.Equal(t, 9.99, best.SalePrice)
	assert.Equal(t, "Steam", best.StoreName)
}

func TestBatchReportAdd(t *testing.T) {
	a := BatchReport{Created: 1, Dropped: 2}
	a.Add(BatchReport{Created: 2, Failed: 1, Deals: []*storage.Deal{{ID: 1}}})
	assert.Equal(t, 3, a.Created)
	assert.Equal(t, 2, a.Dropped)
	assert.Equal(t, 1, a.Failed)
	assert.Len(t, a.Deals, 1)
}

func TestOverlappingBatchesOnFileDatabase(t *testing.T) {
	db, err := storage.NewDatabase(filepath.Join(t.TempDir(), "deals.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	require.NoError(t, db.Repository().SeedStores(ctx, storage.DefaultStores))
	r := New(resolver.New(nil))

	other := func(title, dealID string) provider.DealCandidate {
		c := hades(4.99)
		c.Title = title
		c.DealID = dealID
		c.ExternalIDs = map[string]string{provider.CheapShark: dealID}
		c.SteamAppID = nil
		return c
	}

	started := make(chan struct{})
	type outcome struct {
		report BatchReport
		err    error
	}
	first := make(chan outcome, 1)
	go func() {
		var o outcome
		o.err = db.InTx(ctx, func(tx *storage.Tx) error {
			var err error
			o.report, err = r.ReconcileBatch(ctx, tx, []provider.DealCandidate{hades(9.99)})
			close(started)
			time.Sleep(300 * time.Millisecond)
			return err
		})
		first <- o
	}()

	<-started
	time.Sleep(100 * time.Millisecond)
	second := runBatch(t, db, r, other("Celeste", "celeste-deal"), other("Control", "control-deal"))
	assert.Equal(t, 2, second.Created)
	assert.Zero(t, second.Failed)

	o := <-first
	require.NoError(t, o.err)
	assert.Equal(t, 1, o.report.Created)

	repo := db.Repository()
	for _, id := range []string{"hades-deal", "celeste-deal", "control-deal"} {
		deal, err := repo.FindDealByExternalID(ctx, id)
		require.NoError(t, err)
		assert.NotNil(t, deal, id)
	}
}
