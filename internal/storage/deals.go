package storage

import (
	"context"
	"time"
)

const dealColumns = `d.id, d.game_id, d.store_id, d.provider, d.external_deal_id, d.title, d.deal_url,
	d.thumbnail_url, d.sale_price, d.normal_price, d.savings_percentage, d.currency, d.region,
	d.deal_rating, d.is_on_sale, d.deal_start_date, d.deal_end_date, d.created_at, d.updated_at`

// FindDealByExternalID returns the deal with the given external ID, or nil.
func (r *Repository) FindDealByExternalID(ctx context.Context, externalID string) (*Deal, error) {
	var d Deal
	err := r.db.GetContext(ctx, &d,
		`SELECT `+dealColumns+` FROM deals d WHERE d.external_deal_id = ?`, externalID)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &d, nil
}

// UpsertDeal inserts a deal or, when external_deal_id exists, overwrites its price
// fields. Game, store and created_at of an existing deal are kept.
func (r *Repository) UpsertDeal(ctx context.Context, u DealUpsert) (*Deal, error) {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO deals (game_id, store_id, provider, external_deal_id, title, deal_url,
			thumbnail_url, sale_price, normal_price, savings_percentage, currency, region,
			deal_rating, is_on_sale, deal_start_date, deal_end_date, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(external_deal_id) DO UPDATE SET
			sale_price = excluded.sale_price,
			normal_price = excluded.normal_price,
			savings_percentage = excluded.savings_percentage,
			is_on_sale = excluded.is_on_sale,
			deal_rating = COALESCE(excluded.deal_rating, deals.deal_rating),
			deal_start_date = COALESCE(excluded.deal_start_date, deals.deal_start_date),
			deal_end_date = COALESCE(excluded.deal_end_date, deals.deal_end_date),
			updated_at = excluded.updated_at
	`, u.GameID, u.StoreID, u.Provider, u.ExternalDealID, u.Title, u.DealURL,
		u.ThumbnailURL, u.SalePrice, u.NormalPrice, u.SavingsPercentage, u.Currency, u.Region,
		u.DealRating, u.IsOnSale, u.DealStartDate, u.DealEndDate, u.Now, u.Now)
	if err != nil {
		return nil, err
	}
	return r.FindDealByExternalID(ctx, u.ExternalDealID)
}

// UpsertGameStore writes the current-price snapshot for (game, store).
func (r *Repository) UpsertGameStore(ctx context.Context, s GameStoreSnapshot) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO game_stores (game_id, store_id, store_game_id, store_url, is_available,
			current_price, original_price, discount_percentage, currency, region,
			last_price_check, created_at, updated_at)
		VALUES (?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(game_id, store_id) DO UPDATE SET
			store_game_id = CASE WHEN excluded.store_game_id != '' THEN excluded.store_game_id ELSE game_stores.store_game_id END,
			store_url = CASE WHEN excluded.store_url != '' THEN excluded.store_url ELSE game_stores.store_url END,
			is_available = 1,
			current_price = excluded.current_price,
			original_price = excluded.original_price,
			discount_percentage = excluded.discount_percentage,
			currency = excluded.currency,
			region = excluded.region,
			last_price_check = excluded.last_price_check,
			updated_at = excluded.updated_at
	`, s.GameID, s.StoreID, s.StoreGameID, s.StoreURL, s.CurrentPrice, s.OriginalPrice,
		s.DiscountPercentage, s.Currency, s.Region, s.CheckedAt, s.CheckedAt, s.CheckedAt)
	return err
}

// GetGameStores returns the per-store snapshots of a game.
func (r *Repository) GetGameStores(ctx context.Context, gameID int64) ([]GameStore, error) {
	var rows []GameStore
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM game_stores WHERE game_id = ? ORDER BY current_price`, gameID)
	return rows, err
}

// LastPricePoint returns the most recent price point of a deal, or nil.
func (r *Repository) LastPricePoint(ctx context.Context, dealID int64) (*PricePoint, error) {
	var p PricePoint
	err := r.db.GetContext(ctx, &p,
		`SELECT * FROM price_points WHERE deal_id = ? ORDER BY recorded_at DESC, id DESC LIMIT 1`, dealID)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecordPricePoint appends a price observation for a deal.
func (r *Repository) RecordPricePoint(ctx context.Context, d *Deal, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO price_points (deal_id, game_id, store_id, sale_price, normal_price,
			savings_percentage, currency, region, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.GameID, d.StoreID, d.SalePrice, d.NormalPrice, d.SavingsPercentage,
		d.Currency, d.Region, at)
	return err
}

// CountPricePoints returns the number of price points recorded for a deal.
func (r *Repository) CountPricePoints(ctx context.Context, dealID int64) (int, error) {
	var n int
	err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM price_points WHERE deal_id = ?`, dealID)
	return n, err
}

// BestDeal is the cheapest on-sale deal of a game with its store name.
type BestDeal struct {
	Deal
	StoreName string `db:"store_name"`
}

// BestOnSaleDeal returns the cheapest on-sale deal for a game in a region, or nil.
func (r *Repository) BestOnSaleDeal(ctx context.Context, gameID int64, region string) (*BestDeal, error) {
	var d BestDeal
	err := r.db.GetContext(ctx, &d, `
		SELECT `+dealColumns+`, s.name AS store_name
		FROM deals d JOIN stores s ON s.id = d.store_id
		WHERE d.game_id = ? AND d.region = ? AND d.is_on_sale = 1
		ORDER BY d.sale_price ASC, d.updated_at DESC, d.id ASC
		LIMIT 1
	`, gameID, region)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &d, nil
}

// DeleteDealsCreatedBefore deletes at most limit deals created before cutoff,
// oldest first, and returns the number removed.
func (r *Repository) DeleteDealsCreatedBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM deals WHERE id IN (
			SELECT id FROM deals WHERE created_at < ? ORDER BY created_at, id LIMIT ?
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeletePricePointsBefore deletes at most limit price points recorded before cutoff.
func (r *Repository) DeletePricePointsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM price_points WHERE id IN (
			SELECT id FROM price_points WHERE recorded_at < ? ORDER BY recorded_at, id LIMIT ?
		)`, cutoff, limit)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
