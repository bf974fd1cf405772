// Package resolver maps deal candidates onto persisted games and stores.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/storage"
)

// maxSlugSuffix bounds the "-2", "-3", ... attempts for colliding slugs.
const maxSlugSuffix = 50

// DefaultStoreMap maps "provider:store_id" to a store slug.
var DefaultStoreMap = map[string]string{
	"cheapshark:1":  "steam",
	"cheapshark:25": "epic",
	"cheapshark:7":  "gog",
	"cheapshark:2":  "humble",
	"cheapshark:15": "fanatical",
	"steam:steam":   "steam",
	"epic:epic":     "epic",
	"gog:gog":       "gog",
}

// Resolver finds or creates the game and store of a candidate.
type Resolver struct {
	storeMap map[string]string
}

// New creates a resolver with DefaultStoreMap plus overrides. An override with an
// empty slug removes the mapping.
func New(overrides map[string]string) *Resolver {
	m := make(map[string]string, len(DefaultStoreMap)+len(overrides))
	for k, v := range DefaultStoreMap {
		m[k] = v
	}
	for k, v := range overrides {
		k = strings.ToLower(strings.TrimSpace(k))
		if v == "" {
			delete(m, k)
			continue
		}
		m[k] = v
	}
	return &Resolver{storeMap: m}
}

// StoreSlug returns the store slug mapped for a candidate.
func (r *Resolver) StoreSlug(c provider.DealCandidate) (string, bool) {
	slug, ok := r.storeMap[strings.ToLower(c.StoreKey())]
	return slug, ok
}

// ResolveStore returns the store of a candidate, or apperror.ErrUnresolved when the
// provider store is unmapped or the mapped store is unknown or inactive.
func (r *Resolver) ResolveStore(ctx context.Context, repo *storage.Repository, c provider.DealCandidate) (*storage.Store, error) {
	slug, ok := r.StoreSlug(c)
	if !ok {
		return nil, apperror.Unresolved("store", c.StoreKey())
	}
	s, err := repo.FindStoreBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if s == nil || !s.IsActive {
		return nil, apperror.Unresolved("store", c.StoreKey())
	}
	return s, nil
}

// ResolveGame finds the game of a candidate by external ID, then by normalized
// title, and creates it when neither matches. Unique violations during creation
// send the lookup around again so a concurrent insert is found instead of
// duplicated.
func (r *Resolver) ResolveGame(ctx context.Context, repo *storage.Repository, c provider.DealCandidate) (*storage.Game, error) {
	normalized := NormalizeTitle(c.Title)
	if normalized == "" {
		return nil, apperror.Invalid("title", "candidate title is empty")
	}

	g, err := r.find(ctx, repo, c, normalized)
	if err != nil {
		return nil, err
	}
	if g == nil {
		if g, err = r.create(ctx, repo, c, normalized); err != nil {
			return nil, err
		}
	}

	if err := r.link(ctx, repo, g, c); err != nil {
		return nil, err
	}
	return g, nil
}

func (r *Resolver) find(ctx context.Context, repo *storage.Repository, c provider.DealCandidate, normalized string) (*storage.Game, error) {
	if c.SteamAppID != nil {
		g, err := repo.FindGameBySteamAppID(ctx, *c.SteamAppID)
		if err != nil || g != nil {
			return g, err
		}
	}

	providers := make([]string, 0, len(c.ExternalIDs))
	for p := range c.ExternalIDs {
		providers = append(providers, p)
	}
	sort.Strings(providers)
	for _, p := range providers {
		g, err := repo.FindGameByExternalID(ctx, p, c.ExternalIDs[p])
		if err != nil || g != nil {
			return g, err
		}
	}

	return repo.FindGameByNormalizedTitle(ctx, normalized)
}

func (r *Resolver) create(ctx context.Context, repo *storage.Repository, c provider.DealCandidate, normalized string) (*storage.Game, error) {
	base := Slugify(c.Title)
	for attempt := 1; attempt <= maxSlugSuffix; attempt++ {
		slug := base
		if attempt > 1 {
			slug = fmt.Sprintf("%s-%d", base, attempt)
		}

		g, err := repo.CreateGame(ctx, storage.NewGame{
			Title:           strings.TrimSpace(c.Title),
			NormalizedTitle: normalized,
			Slug:            slug,
			SteamAppID:      c.SteamAppID,
			CoverImageURL:   c.Thumbnail,
			MetacriticScore: c.MetacriticScore,
		})
		if err == nil {
			return g, nil
		}
		if !errors.Is(err, apperror.ErrConflict) {
			return nil, fmt.Errorf("failed to create game %q: %w", slug, err)
		}

		// Someone else created it meanwhile, or the slug belongs to another title.
		existing, findErr := r.find(ctx, repo, c, normalized)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, apperror.Conflict("game", base)
}

// link attaches the candidate's external IDs to g and fills missing catalog fields.
func (r *Resolver) link(ctx context.Context, repo *storage.Repository, g *storage.Game, c provider.DealCandidate) error {
	for p, id := range c.ExternalIDs {
		if id == "" {
			continue
		}
		if err := repo.AttachExternalID(ctx, g.ID, p, id); err != nil {
			return fmt.Errorf("failed to attach %s id: %w", p, err)
		}
	}

	var update storage.GameUpdate
	changed := false
	if g.SteamAppID == nil && c.SteamAppID != nil {
		owner, err := repo.FindGameBySteamAppID(ctx, *c.SteamAppID)
		if err != nil {
			return err
		}
		if owner == nil {
			update.SteamAppID = c.SteamAppID
			changed = true
		}
	}
	if g.CoverImageURL == "" && c.Thumbnail != "" {
		update.CoverImageURL = &c.Thumbnail
		changed = true
	}
	if g.MetacriticScore == nil && c.MetacriticScore != nil {
		update.MetacriticScore = c.MetacriticScore
		changed = true
	}
	if !changed {
		return nil
	}

	if err := repo.UpdateGame(ctx, g.ID, update); err != nil {
		return fmt.Errorf("failed to update game %d: %w", g.ID, err)
	}
	if update.SteamAppID != nil {
		g.SteamAppID = update.SteamAppID
	}
	if update.CoverImageURL != nil {
		g.CoverImageURL = *update.CoverImageURL
	}
	if update.MetacriticScore != nil {
		g.MetacriticScore = update.MetacriticScore
	}
	return nil
}
