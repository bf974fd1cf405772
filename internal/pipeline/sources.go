package pipeline

import (
	"context"
	"net/http"

	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// AppIDLookup finds the Steam app ID of a title.
type AppIDLookup interface {
	LookupAppID(ctx context.Context, title string) (int64, bool, error)
}

// Sources are the feeds and helpers each stage reads from.
type Sources struct {
	// Update feeds refresh known prices.
	Update []provider.Client
	// Discover feeds look for new deals.
	Discover []provider.Client
	Linker   AppIDLookup
	Enricher provider.Enricher
}

// BuildSources creates the storefront clients enabled in cfg. Tracked Steam apps
// are listed from db, and a store's seeded rate limit caps the configured one.
func BuildSources(ctx context.Context, cfg *config.Config, db *storage.Database) Sources {
	var (
		src     Sources
		timeout = cfg.Pipeline.HTTPTimeout
		p       = cfg.Providers
		repo    = db.Repository()
	)
	p.Steam.RateLimitPerMinute = storeBudget(ctx, repo, "steam", p.Steam.RateLimitPerMinute)
	p.Epic.RateLimitPerMinute = storeBudget(ctx, repo, "epic", p.Epic.RateLimitPerMinute)
	p.GOG.RateLimitPerMinute = storeBudget(ctx, repo, "gog", p.GOG.RateLimitPerMinute)

	if p.CheapShark.Enabled {
		cs := provider.NewCheapSharkClient(p.CheapShark, cfg.Pipeline.PageSize, timeout, &http.Client{})
		src.Update = append(src.Update, cs.Feed(provider.SortSavings))
		src.Discover = append(src.Discover, cs.Feed(provider.SortRecent))
	}
	if p.Steam.Enabled {
		steam := provider.NewSteamClient(p.Steam, timeout, &http.Client{})
		src.Update = append(src.Update, steam.Tracked(func(ctx context.Context) ([]int64, error) {
			return repo.ListSteamAppIDs(ctx)
		}))
		src.Discover = append(src.Discover, steam.Featured())
		src.Linker = steam
	}
	if p.Epic.Enabled {
		src.Discover = append(src.Discover, provider.NewEpicClient(p.Epic, timeout, &http.Client{}).Free())
	}
	if p.GOG.Enabled {
		src.Discover = append(src.Discover, provider.NewGOGClient(p.GOG, timeout, &http.Client{}).Discounted())
	}
	if p.IGDB.Enabled {
		src.Enricher = provider.NewIGDBClient(p.IGDB, timeout, nil)
	}
	return src
}

// storeBudget returns the lower of the configured requests per minute and the
// budget stored on the store row. CheapShark spans many stores and keeps its own.
func storeBudget(ctx context.Context, repo *storage.Repository, slug string, configured int) int {
	s, err := repo.FindStoreBySlug(ctx, slug)
	if err != nil {
		logger.Warn().Err(err).Str("store", slug).Msg("Failed to load store rate limit, using configured value")
		return configured
	}
	if s == nil || s.RateLimitPerMinute <= 0 {
		return configured
	}
	if configured <= 0 || s.RateLimitPerMinute < configured {
		return s.RateLimitPerMinute
	}
	return configured
}
