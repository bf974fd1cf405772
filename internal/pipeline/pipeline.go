// Package pipeline runs the ingestion stages: price update, deal discovery, alert
// check and cleanup.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alitto/pond/v2"

	"github.com/user/dealtracker/internal/alerts"
	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/reconciler"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// Stage names, also used as scheduler job names.
const (
	StageUpdatePrices  = "update_all_prices"
	StageDiscoverDeals = "discover_new_deals"
	StageCheckAlerts   = "check_price_alerts"
	StageCleanup       = "cleanup_old_data"
)

// metadataMaxAge is how long enriched metadata is considered fresh.
const metadataMaxAge = 30 * 24 * time.Hour

// Report summarizes one stage run.
type Report struct {
	Stage     string        `json:"stage"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`

	Fetched          int `json:"fetched"`
	ProviderFailures int `json:"provider_failures"`
	Created          int `json:"created"`
	Updated          int `json:"updated"`
	Unchanged        int `json:"unchanged"`
	Dropped          int `json:"dropped"`
	Failed           int `json:"failed"`
	Linked           int `json:"linked"`
	Enriched         int `json:"enriched"`

	AlertsChecked   int `json:"alerts_checked"`
	AlertsTriggered int `json:"alerts_triggered"`
	Notified        int `json:"notified"`

	DealsDeleted       int64 `json:"deals_deleted"`
	PricePointsDeleted int64 `json:"price_points_deleted"`
}

func (r *Report) addBatch(b reconciler.BatchReport) {
	r.Created += b.Created
	r.Updated += b.Updated
	r.Unchanged += b.Unchanged
	r.Dropped += b.Dropped
	r.Failed += b.Failed
}

// Pipeline holds the clients and collaborators every stage runs with.
type Pipeline struct {
	db         *storage.Database
	cfg        config.PipelineConfig
	sources    Sources
	reconciler *reconciler.Reconciler
	evaluator  *alerts.Evaluator
	pool       pond.ResultPool[fetchResult]
	now        func() time.Time
}

// New creates a pipeline. Storefront feeds are fetched concurrently, at most one
// goroutine per feed.
func New(db *storage.Database, cfg config.PipelineConfig, sources Sources, res *resolver.Resolver, notifier alerts.Notifier) *Pipeline {
	workers := len(sources.Update)
	if len(sources.Discover) > workers {
		workers = len(sources.Discover)
	}
	if workers == 0 {
		workers = 1
	}

	return &Pipeline{
		db:         db,
		cfg:        cfg,
		sources:    sources,
		reconciler: reconciler.New(res),
		evaluator:  alerts.NewEvaluator(db, notifier),
		pool:       pond.NewResultPool[fetchResult](workers * 2),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Close waits for in-flight fetches and releases the worker pool.
func (p *Pipeline) Close() {
	p.pool.StopAndWait()
}

// Stages returns the stage functions keyed by name.
func (p *Pipeline) Stages() map[string]func(context.Context) (Report, error) {
	return map[string]func(context.Context) (Report, error){
		StageUpdatePrices:  p.UpdateAllPrices,
		StageDiscoverDeals: p.DiscoverNewDeals,
		StageCheckAlerts:   p.CheckPriceAlerts,
		StageCleanup:       p.CleanupOldData,
	}
}

type fetchResult struct {
	feed       string
	candidates []provider.DealCandidate
	err        error
}

// fetch runs every feed concurrently. Failed feeds are logged and skipped.
func (p *Pipeline) fetch(ctx context.Context, feeds []provider.Client, report *Report) []provider.DealCandidate {
	if len(feeds) == 0 {
		return nil
	}

	group := p.pool.NewGroup()
	for _, feed := range feeds {
		feed := feed
		group.Submit(func() fetchResult {
			candidates, err := feed.FetchCandidates(ctx, p.cfg.Region)
			return fetchResult{feed: feed.Name(), candidates: candidates, err: err}
		})
	}
	results, err := group.Wait()
	if err != nil {
		// Tasks never return errors; only a panic ends up here.
		logger.Error().Err(err).Msg("Provider fetch task failed")
	}

	var all []provider.DealCandidate
	for _, r := range results {
		if r.err != nil {
			report.ProviderFailures++
			logger.Warn().Err(r.err).Str("provider", r.feed).Msg("Provider fetch failed, skipping for this run")
			continue
		}
		logger.Debug().Str("provider", r.feed).Int("candidates", len(r.candidates)).Msg("Provider fetched")
		all = append(all, r.candidates...)
	}
	report.Fetched += len(all)
	return all
}

// reconcile writes candidates in one stage transaction.
func (p *Pipeline) reconcile(ctx context.Context, stage string, candidates []provider.DealCandidate, report *Report, extra func(tx *storage.Tx) error) error {
	err := p.db.InTx(ctx, func(tx *storage.Tx) error {
		batch, err := p.reconciler.ReconcileBatch(ctx, tx, candidates)
		if err != nil {
			return err
		}
		report.addBatch(batch)
		if extra != nil {
			return extra(tx)
		}
		return nil
	})
	if err != nil {
		return apperror.Fatal(stage, err)
	}
	return nil
}

func (p *Pipeline) begin(stage string) Report {
	return Report{Stage: stage, StartedAt: p.now()}
}

func (p *Pipeline) finish(r *Report, err error) {
	r.Duration = p.now().Sub(r.StartedAt)
	event := logger.Info()
	if err != nil {
		event = logger.Error().Err(err)
	}
	event.
		Str("stage", r.Stage).
		Dur("duration", r.Duration).
		Int("fetched", r.Fetched).
		Int("provider_failures", r.ProviderFailures).
		Int("created", r.Created).
		Int("updated", r.Updated).
		Int("unchanged", r.Unchanged).
		Int("dropped", r.Dropped).
		Int("failed", r.Failed).
		Msg("Stage finished")
}

// UpdateAllPrices refreshes prices of known deals and tracked Steam apps, links
// games to Steam app IDs and enriches catalog metadata.
func (p *Pipeline) UpdateAllPrices(ctx context.Context) (report Report, err error) {
	report = p.begin(StageUpdatePrices)
	defer func() { p.finish(&report, err) }()

	candidates := p.fetch(ctx, p.sources.Update, &report)

	// Network lookups finish before the transaction opens.
	links, err := p.lookupSteamIDs(ctx)
	if err != nil {
		return report, apperror.Fatal(StageUpdatePrices, err)
	}
	metadata, err := p.lookupMetadata(ctx)
	if err != nil {
		return report, apperror.Fatal(StageUpdatePrices, err)
	}

	err = p.reconcile(ctx, StageUpdatePrices, candidates, &report, func(tx *storage.Tx) error {
		linked, err := p.applySteamIDs(ctx, tx, links)
		if err != nil {
			return err
		}
		report.Linked = linked

		enriched, err := p.applyMetadata(ctx, tx, metadata)
		if err != nil {
			return err
		}
		report.Enriched = enriched
		return nil
	})
	return report, err
}

// DiscoverNewDeals reads the discovery feeds and reconciles what they return.
func (p *Pipeline) DiscoverNewDeals(ctx context.Context) (report Report, err error) {
	report = p.begin(StageDiscoverDeals)
	defer func() { p.finish(&report, err) }()

	candidates := p.fetch(ctx, p.sources.Discover, &report)
	err = p.reconcile(ctx, StageDiscoverDeals, candidates, &report, nil)
	return report, err
}

// CheckPriceAlerts evaluates pending alerts against the best current prices.
func (p *Pipeline) CheckPriceAlerts(ctx context.Context) (report Report, err error) {
	report = p.begin(StageCheckAlerts)
	defer func() { p.finish(&report, err) }()

	result, err := p.evaluator.Run(ctx)
	report.AlertsChecked = result.Checked
	report.AlertsTriggered = result.Triggered
	report.Notified = result.Notified
	report.Failed = result.Failed
	if err != nil {
		return report, apperror.Fatal(StageCheckAlerts, err)
	}
	return report, nil
}

// CleanupOldData deletes deals created before the retention window and price
// points recorded before it, at most CleanupBatch rows of each per run.
func (p *Pipeline) CleanupOldData(ctx context.Context) (report Report, err error) {
	report = p.begin(StageCleanup)
	defer func() { p.finish(&report, err) }()

	cutoff := p.now().Add(-time.Duration(p.cfg.RetentionDays) * 24 * time.Hour)
	err = p.db.InTx(ctx, func(tx *storage.Tx) error {
		deals, err := tx.DeleteDealsCreatedBefore(ctx, cutoff, p.cfg.CleanupBatch)
		if err != nil {
			return fmt.Errorf("failed to delete old deals: %w", err)
		}
		points, err := tx.DeletePricePointsBefore(ctx, cutoff, p.cfg.CleanupBatch)
		if err != nil {
			return fmt.Errorf("failed to delete old price points: %w", err)
		}
		report.DealsDeleted, report.PricePointsDeleted = deals, points
		return nil
	})
	if err != nil {
		return report, apperror.Fatal(StageCleanup, err)
	}

	logger.Info().
		Int64("deals", report.DealsDeleted).
		Int64("price_points", report.PricePointsDeleted).
		Time("cutoff", cutoff).
		Msg("Old data cleaned up")
	return report, nil
}

// lookupSteamIDs resolves Steam app IDs for a bounded batch of unlinked games.
func (p *Pipeline) lookupSteamIDs(ctx context.Context) (map[int64]int64, error) {
	if p.sources.Linker == nil || p.cfg.SteamLinkBatch <= 0 {
		return nil, nil
	}
	games, err := p.db.Repository().ListGamesWithoutSteamAppID(ctx, p.cfg.SteamLinkBatch)
	if err != nil {
		return nil, err
	}

	links := map[int64]int64{}
	for _, g := range games {
		appID, ok, err := p.sources.Linker.LookupAppID(ctx, g.Title)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.Warn().Err(err).Str("provider", provider.Steam).Msg("Steam app lookup failed")
			return links, nil
		}
		if ok {
			links[g.ID] = appID
		}
	}
	return links, nil
}

func (p *Pipeline) applySteamIDs(ctx context.Context, tx *storage.Tx, links map[int64]int64) (int, error) {
	linked := 0
	for gameID, appID := range links {
		appID := appID
		err := tx.Savepoint(ctx, func() error {
			return tx.UpdateGame(ctx, gameID, storage.GameUpdate{SteamAppID: &appID})
		})
		switch {
		case err == nil:
			linked++
		case errors.Is(err, storage.ErrSavepoint):
			return linked, err
		default:
			// The app ID already belongs to another game or the game is gone.
			logger.Warn().Err(err).Int64("game_id", gameID).Int64("app_id", appID).Msg("Skipped Steam link")
		}
	}
	return linked, nil
}

// lookupMetadata fetches metadata for a bounded batch of games never enriched or
// enriched too long ago. A nil entry marks a title the enricher does not know.
func (p *Pipeline) lookupMetadata(ctx context.Context) (map[int64]*provider.Metadata, error) {
	if p.sources.Enricher == nil || p.cfg.EnrichBatch <= 0 {
		return nil, nil
	}
	games, err := p.db.Repository().ListGamesNeedingMetadata(ctx, p.now().Add(-metadataMaxAge), p.cfg.EnrichBatch)
	if err != nil {
		return nil, err
	}

	metadata := map[int64]*provider.Metadata{}
	for _, g := range games {
		m, err := p.sources.Enricher.Enrich(ctx, g.Title)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			logger.Warn().Err(err).Str("provider", provider.IGDB).Int64("game_id", g.ID).Msg("Metadata lookup failed")
			continue
		}
		metadata[g.ID] = m
	}
	return metadata, nil
}

func (p *Pipeline) applyMetadata(ctx context.Context, tx *storage.Tx, metadata map[int64]*provider.Metadata) (int, error) {
	enriched := 0
	now := p.now()
	for gameID, m := range metadata {
		update := storage.GameUpdate{MetadataRefresh: &now}
		if m != nil {
			update = metadataUpdate(m, now)
		}
		err := tx.Savepoint(ctx, func() error {
			return tx.UpdateGame(ctx, gameID, update)
		})
		switch {
		case err == nil:
			if m != nil {
				enriched++
			}
		case errors.Is(err, storage.ErrSavepoint):
			return enriched, err
		default:
			logger.Warn().Err(err).Int64("game_id", gameID).Msg("Skipped metadata update")
		}
	}
	return enriched, nil
}

func metadataUpdate(m *provider.Metadata, now time.Time) storage.GameUpdate {
	u := storage.GameUpdate{MetadataRefresh: &now, UserRating: m.Rating}
	if m.IGDBID > 0 {
		id := m.IGDBID
		u.IGDBID = &id
	}
	if m.Summary != "" {
		u.Description = &m.Summary
	}
	if m.Developer != "" {
		u.Developer = &m.Developer
	}
	if m.Publisher != "" {
		u.Publisher = &m.Publisher
	}
	if len(m.Genres) > 0 {
		genres := storage.NewStringSet(m.Genres...)
		u.Genres = &genres
	}
	if len(m.Platforms) > 0 {
		platforms := storage.NewStringSet(m.Platforms...)
		u.Platforms = &platforms
	}
	if m.CoverImage != "" {
		u.CoverImageURL = &m.CoverImage
	}
	return u
}
