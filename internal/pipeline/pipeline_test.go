package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/storage"
)

type notifierFunc func(ctx context.Context, n alerts.Notification) error

func (f notifierFunc) SendPriceAlert(ctx context.Context, n alerts.Notification) error {
	return f(ctx, n)
}

type fakeLinker map[string]int64

func (f fakeLinker) LookupAppID(_ context.Context, title string) (int64, bool, error) {
	id, ok := f[title]
	return id, ok, nil
}

type fakeEnricher struct {
	mu      sync.Mutex
	calls   int
	byTitle map[string]*provider.Metadata
}

func (f *fakeEnricher) Enrich(_ context.Context, title string) (*provider.Metadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.byTitle[title], nil
}

func testConfig() config.PipelineConfig {
	return config.PipelineConfig{
		Region:         "US",
		RetentionDays:  90,
		CleanupBatch:   100,
		SteamLinkBatch: 10,
		EnrichBatch:    10,
	}
}

func newTestPipeline(t *testing.T, src Sources, n alerts.Notifier) (*Pipeline, *storage.Database) {
	t.Helper()
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Repository().SeedStores(context.Background(), storage.DefaultStores))

	if n == nil {
		n = notifierFunc(func(context.Context, alerts.Notification) error { return nil })
	}
	p := New(db, testConfig(), src, resolver.New(nil), n)
	t.Cleanup(p.Close)
	return p, db
}

func feed(name string, candidates ...provider.DealCandidate) provider.Client {
	return provider.NewClient(name, func(context.Context, string) ([]provider.DealCandidate, error) {
		return candidates, nil
	})
}

func failingFeed(name string) provider.Client {
	return provider.NewClient(name, func(context.Context, string) ([]provider.DealCandidate, error) {
		return nil, apperror.Provider(name, errors.New("connection refused"))
	})
}

func candidate(prov, storeID, title, dealID string, sale, normal float64) provider.DealCandidate {
	return provider.DealCandidate{
		Provider:    prov,
		StoreID:     storeID,
		Title:       title,
		SalePrice:   sale,
		NormalPrice: normal,
		DealID:      dealID,
		Currency:    "USD",
		Region:      "US",
	}
}

func TestDiscoverNewDeals(t *testing.T) {
	src := Sources{Discover: []provider.Client{
		feed("cheapshark/recent",
			candidate(provider.CheapShark, "1", "Hades", "hades-deal", 9.99, 24.99),
			candidate(provider.CheapShark, "99", "Unknown Store Game", "unknown-deal", 1, 10),
		),
		failingFeed("epic/free"),
		feed("gog/discounted", candidate(provider.GOG, provider.GOG, "Celeste", "gog:1", 4.99, 19.99)),
	}}
	p, db := newTestPipeline(t, src, nil)

	report, err := p.DiscoverNewDeals(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StageDiscoverDeals, report.Stage)
	assert.Equal(t, 3, report.Fetched)
	assert.Equal(t, 1, report.ProviderFailures)
	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 1, report.Dropped)
	assert.Zero(t, report.Failed)

	deals, err := db.Repository().ListDeals(context.Background(), storage.DealFilter{Region: "US"})
	require.NoError(t, err)
	assert.Len(t, deals, 2)

	// A second run with unchanged prices does not create anything.
	report, err = p.DiscoverNewDeals(context.Background())
	require.NoError(t, err)
	assert.Zero(t, report.Created)
	assert.Equal(t, 2, report.Unchanged)
}

func TestUpdateAllPrices_LinksAndEnriches(t *testing.T) {
	enricher := &fakeEnricher{byTitle: map[string]*provider.Metadata{
		"Celeste": {
			IGDBID:    26226,
			Summary:   "Help Madeline survive her inner demons.",
			Genres:    []string{"Platform", "Indie"},
			Platforms: []string{"PC"},
			Developer: "Maddy Makes Games",
		},
	}}
	src := Sources{
		Discover: []provider.Client{feed("gog/discounted",
			candidate(provider.GOG, provider.GOG, "Celeste", "gog:1", 4.99, 19.99),
			candidate(provider.GOG, provider.GOG, "Obscure Game", "gog:2", 1.99, 9.99),
		)},
		Linker:   fakeLinker{"Celeste": 504230},
		Enricher: enricher,
	}
	p, db := newTestPipeline(t, src, nil)
	ctx := context.Background()

	_, err := p.DiscoverNewDeals(ctx)
	require.NoError(t, err)

	report, err := p.UpdateAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Linked)
	assert.Equal(t, 1, report.Enriched)
	assert.Equal(t, 2, enricher.calls)

	game, err := db.Repository().FindGameBySteamAppID(ctx, 504230)
	require.NoError(t, err)
	assert.Equal(t, "Celeste", game.Title)
	assert.Equal(t, "Maddy Makes Games", game.Developer)
	assert.Equal(t, storage.NewStringSet("Indie", "Platform"), game.Genres)
	require.NotNil(t, game.IGDBID)
	assert.EqualValues(t, 26226, *game.IGDBID)

	// Both games are fresh now, including the one the enricher did not know.
	_, err = p.UpdateAllPrices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, enricher.calls)
}

func TestUpdateAllPrices_ProviderFailureDoesNotAbort(t *testing.T) {
	src := Sources{Update: []provider.Client{
		failingFeed("steam/tracked"),
		feed("cheapshark/savings", candidate(provider.CheapShark, "25", "Control", "control-deal", 9.99, 39.99)),
	}}
	p, _ := newTestPipeline(t, src, nil)

	report, err := p.UpdateAllPrices(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.ProviderFailures)
	assert.Equal(t, 1, report.Created)
}

func TestCheckPriceAlerts(t *testing.T) {
	var (
		mu   sync.Mutex
		sent []alerts.Notification
	)
	n := notifierFunc(func(_ context.Context, n alerts.Notification) error {
		mu.Lock()
		defer mu.Unlock()
		sent = append(sent, n)
		return nil
	})
	src := Sources{Discover: []provider.Client{
		feed("cheapshark/recent", candidate(provider.CheapShark, "1", "Hades", "hades-deal", 9.99, 24.99)),
	}}
	p, db := newTestPipeline(t, src, n)
	ctx := context.Background()

	_, err := p.DiscoverNewDeals(ctx)
	require.NoError(t, err)

	repo := db.Repository()
	user, err := repo.CreateOrUpdateTelegramUser(ctx, 42, "player")
	require.NoError(t, err)
	game, err := repo.FindGameBySlug(ctx, "hades")
	require.NoError(t, err)
	_, err = repo.CreateAlert(ctx, user.ID, game.ID, 10, "USD", "US")
	require.NoError(t, err)

	report, err := p.CheckPriceAlerts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.AlertsChecked)
	assert.Equal(t, 1, report.AlertsTriggered)
	assert.Equal(t, 1, report.Notified)
	require.Len(t, sent, 1)
	assert.Equal(t, 9.99, sent[0].Deal.SalePrice)

	report, err = p.CheckPriceAlerts(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.AlertsChecked)
	assert.Len(t, sent, 1)
}

func TestCleanupOldData(t *testing.T) {
	src := Sources{Discover: []provider.Client{
		feed("cheapshark/recent", candidate(provider.CheapShark, "1", "Hades", "hades-deal", 9.99, 24.99)),
	}}
	p, db := newTestPipeline(t, src, nil)
	ctx := context.Background()

	_, err := p.DiscoverNewDeals(ctx)
	require.NoError(t, err)

	report, err := p.CleanupOldData(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.DealsDeleted)

	later := time.Now().UTC().Add(100 * 24 * time.Hour)
	p.now = func() time.Time { return later }

	report, err = p.CleanupOldData(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, report.DealsDeleted)

	deals, err := db.Repository().ListDeals(ctx, storage.DealFilter{Region: "US"})
	require.NoError(t, err)
	assert.Empty(t, deals)

	// Games are never deleted.
	_, err = db.Repository().FindGameBySlug(ctx, "hades")
	assert.NoError(t, err)
}

func TestStageFailureIsFatal(t *testing.T) {
	p, _ := newTestPipeline(t, Sources{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.CleanupOldData(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperror.ErrFatal)
}

func TestStages(t *testing.T) {
	p, _ := newTestPipeline(t, Sources{}, nil)
	stages := p.Stages()
	assert.Len(t, stages, 4)
	for _, name := range []string{StageUpdatePrices, StageDiscoverDeals, StageCheckAlerts, StageCleanup} {
		assert.Contains(t, stages, name)
	}
}

func TestStoreBudgetCapsConfiguredRate(t *testing.T) {
	db, err := storage.NewDatabase(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	ctx := context.Background()
	repo := db.Repository()
	require.NoError(t, repo.SeedStores(ctx, storage.DefaultStores))

	assert.Equal(t, 200, storeBudget(ctx, repo, "steam", 1000))
	assert.Equal(t, 30, storeBudget(ctx, repo, "gog", 30))
	assert.Equal(t, 60, storeBudget(ctx, repo, "epic", 0))
	assert.Equal(t, 45, storeBudget(ctx, repo, "itch", 45))
}
