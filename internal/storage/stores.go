package storage

import (
	"context"

	"github.com/user/dealtracker/internal/apperror"
)

// DefaultStores is the reference storefront data seeded at startup.
var DefaultStores = []Store{
	{Name: "Steam", Slug: "steam", BaseURL: "https://store.steampowered.com", IsActive: true, RateLimitPerMinute: 200},
	{Name: "Epic Games Store", Slug: "epic", BaseURL: "https://store.epicgames.com", IsActive: true, RateLimitPerMinute: 60},
	{Name: "GOG", Slug: "gog", BaseURL: "https://www.gog.com", IsActive: true, RateLimitPerMinute: 60},
	{Name: "Humble Store", Slug: "humble", BaseURL: "https://www.humblebundle.com/store", IsActive: true, RateLimitPerMinute: 60},
	{Name: "Fanatical", Slug: "fanatical", BaseURL: "https://www.fanatical.com", IsActive: true, RateLimitPerMinute: 60},
}

// SeedStores inserts stores missing by slug. Existing rows are left as they are.
func (r *Repository) SeedStores(ctx context.Context, stores []Store) error {
	for _, s := range stores {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO stores (name, slug, base_url, is_active, rate_limit_per_minute)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(slug) DO NOTHING
		`, s.Name, s.Slug, s.BaseURL, s.IsActive, s.RateLimitPerMinute)
		if err != nil {
			return err
		}
	}
	return nil
}

// FindStoreBySlug returns the store with the given slug, or nil.
func (r *Repository) FindStoreBySlug(ctx context.Context, slug string) (*Store, error) {
	var s Store
	err := r.db.GetContext(ctx, &s, `SELECT * FROM stores WHERE slug = ?`, slug)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetStore returns a store by ID.
func (r *Repository) GetStore(ctx context.Context, id int64) (*Store, error) {
	var s Store
	err := r.db.GetContext(ctx, &s, `SELECT * FROM stores WHERE id = ?`, id)
	if missing, err := notFound(err); missing {
		return nil, apperror.NotFound("store", id)
	} else if err != nil {
		return nil, err
	}
	return &s, nil
}

// ListStores returns all stores ordered by name.
func (r *Repository) ListStores(ctx context.Context) ([]Store, error) {
	var stores []Store
	err := r.db.SelectContext(ctx, &stores, `SELECT * FROM stores ORDER BY name`)
	return stores, err
}
