package storage

import (
	"context"
	"math"
	"strings"
	"time"
)

const dealViewSelect = `SELECT ` + dealColumns + `, g.slug AS game_slug, s.name AS store_name, s.slug AS store_slug
	FROM deals d
	JOIN games g ON g.id = d.game_id
	JOIN stores s ON s.id = d.store_id`

// DealSort selects the ordering of deal listings.
type DealSort string

const (
	SortSavings DealSort = "savings"
	SortPrice   DealSort = "price"
	SortRecent  DealSort = "recent"
)

// DealFilter narrows deal listings. Zero values mean "any".
type DealFilter struct {
	Region      string
	StoreID     int64
	GameID      int64
	MinDiscount float64
	MaxPrice    *float64
	Sort        DealSort
	Limit       int
}

func (f DealFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 100 {
		return 20
	}
	return f.Limit
}

// ListDeals returns on-sale deals matching f.
func (r *Repository) ListDeals(ctx context.Context, f DealFilter) ([]DealView, error) {
	where := []string{"d.is_on_sale = 1"}
	var args []interface{}
	if f.Region != "" {
		where = append(where, "d.region = ?")
		args = append(args, f.Region)
	}
	if f.StoreID > 0 {
		where = append(where, "d.store_id = ?")
		args = append(args, f.StoreID)
	}
	if f.GameID > 0 {
		where = append(where, "d.game_id = ?")
		args = append(args, f.GameID)
	}
	if f.MinDiscount > 0 {
		where = append(where, "d.savings_percentage >= ?")
		args = append(args, f.MinDiscount)
	}
	if f.MaxPrice != nil {
		where = append(where, "d.sale_price <= ?")
		args = append(args, *f.MaxPrice)
	}

	order := "d.savings_percentage DESC, d.sale_price ASC"
	switch f.Sort {
	case SortPrice:
		order = "d.sale_price ASC, d.savings_percentage DESC"
	case SortRecent:
		order = "d.created_at DESC"
	}

	query := dealViewSelect + ` WHERE ` + strings.Join(where, " AND ") + ` ORDER BY ` + order + `, d.id LIMIT ?`
	args = append(args, f.limit())

	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, query, args...)
	return deals, err
}

// HotDeals returns the deals with at least 50% savings.
func (r *Repository) HotDeals(ctx context.Context, region string, limit int) ([]DealView, error) {
	return r.ListDeals(ctx, DealFilter{Region: region, MinDiscount: 50, Limit: limit})
}

// RecentDeals returns on-sale deals created within the last hours.
func (r *Repository) RecentDeals(ctx context.Context, region string, hours, limit int) ([]DealView, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)
	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, dealViewSelect+`
		WHERE d.region = ? AND d.is_on_sale = 1 AND d.created_at >= ?
		ORDER BY d.created_at DESC, d.id DESC LIMIT ?`,
		region, cutoff, DealFilter{Limit: limit}.limit())
	return deals, err
}

// FreeGames returns on-sale deals with a zero sale price.
func (r *Repository) FreeGames(ctx context.Context, region string, limit int) ([]DealView, error) {
	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, dealViewSelect+`
		WHERE d.region = ? AND d.is_on_sale = 1 AND d.sale_price = 0
		ORDER BY d.created_at DESC, d.id DESC LIMIT ?`,
		region, DealFilter{Limit: limit}.limit())
	return deals, err
}

// EndingSoon returns on-sale deals whose end date falls within the next hours.
func (r *Repository) EndingSoon(ctx context.Context, region string, hours, limit int) ([]DealView, error) {
	now := time.Now().UTC()
	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, dealViewSelect+`
		WHERE d.region = ? AND d.is_on_sale = 1
			AND d.deal_end_date IS NOT NULL AND d.deal_end_date >= ? AND d.deal_end_date <= ?
		ORDER BY d.deal_end_date ASC, d.id LIMIT ?`,
		region, now, now.Add(time.Duration(hours)*time.Hour), DealFilter{Limit: limit}.limit())
	return deals, err
}

// WeeklyBest returns the best deals created in the last 7 days with at least 50% savings.
func (r *Repository) WeeklyBest(ctx context.Context, limit int) ([]DealView, error) {
	cutoff := time.Now().UTC().Add(-7 * 24 * time.Hour)
	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, dealViewSelect+`
		WHERE d.created_at >= ? AND d.savings_percentage >= 50
		ORDER BY d.savings_percentage DESC, d.id LIMIT ?`,
		cutoff, DealFilter{Limit: limit}.limit())
	return deals, err
}

// DealStats aggregates deal counts for a region.
type DealStats struct {
	TotalDeals      int     `db:"total_deals" json:"total_deals"`
	ActiveDeals     int     `db:"active_deals" json:"active_deals"`
	AverageDiscount float64 `db:"average_discount" json:"average_discount"`
	FreeGamesCount  int     `db:"free_games_count" json:"free_games_count"`
}

// GetDealStats returns deal statistics for a region.
func (r *Repository) GetDealStats(ctx context.Context, region string) (*DealStats, error) {
	var s DealStats
	err := r.db.GetContext(ctx, &s, `
		SELECT
			COUNT(*) AS total_deals,
			COALESCE(SUM(CASE WHEN is_on_sale = 1 THEN 1 ELSE 0 END), 0) AS active_deals,
			COALESCE(AVG(CASE WHEN is_on_sale = 1 THEN savings_percentage END), 0) AS average_discount,
			COALESCE(SUM(CASE WHEN is_on_sale = 1 AND sale_price = 0 THEN 1 ELSE 0 END), 0) AS free_games_count
		FROM deals WHERE region = ?
	`, region)
	if err != nil {
		return nil, err
	}
	s.AverageDiscount = math.Round(s.AverageDiscount*100) / 100
	return &s, nil
}

// PriceHistory is a game's price points grouped by store name.
type PriceHistory struct {
	GameID  int64                   `json:"game_id"`
	Region  string                  `json:"region"`
	Days    int                     `json:"days"`
	History map[string][]PricePoint `json:"history"`
}

// GetPriceHistory returns price points of a game recorded in the last days,
// optionally restricted to a store.
func (r *Repository) GetPriceHistory(ctx context.Context, gameID int64, region string, days int, storeID int64) (*PriceHistory, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	query := `
		SELECT p.*, s.name AS store_name
		FROM price_points p JOIN stores s ON s.id = p.store_id
		WHERE p.game_id = ? AND p.region = ? AND p.recorded_at >= ?`
	args := []interface{}{gameID, region, cutoff}
	if storeID > 0 {
		query += ` AND p.store_id = ?`
		args = append(args, storeID)
	}
	query += ` ORDER BY p.recorded_at, p.id`

	var rows []struct {
		PricePoint
		StoreName string `db:"store_name"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}

	history := &PriceHistory{GameID: gameID, Region: region, Days: days, History: map[string][]PricePoint{}}
	for _, row := range rows {
		history.History[row.StoreName] = append(history.History[row.StoreName], row.PricePoint)
	}
	return history, nil
}

// LowestPrice returns the cheapest price point of a game in the last days, or nil.
func (r *Repository) LowestPrice(ctx context.Context, gameID int64, region string, days int) (*PricePoint, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	var p PricePoint
	err := r.db.GetContext(ctx, &p, `
		SELECT * FROM price_points
		WHERE game_id = ? AND region = ? AND recorded_at >= ?
		ORDER BY sale_price ASC, recorded_at DESC
		LIMIT 1
	`, gameID, region, cutoff)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &p, nil
}

// GameSearch filters the game catalog. Zero values mean "any".
type GameSearch struct {
	Query     string
	Genre     string
	MinRating int
	MaxPrice  *float64
	Limit     int
}

// SearchGames returns games matching s, best rated first.
func (r *Repository) SearchGames(ctx context.Context, s GameSearch) ([]Game, error) {
	where := []string{"1 = 1"}
	var args []interface{}
	if q := strings.TrimSpace(s.Query); q != "" {
		where = append(where, "g.normalized_title LIKE ?")
		args = append(args, "%"+strings.ToLower(q)+"%")
	}
	if s.Genre != "" {
		where = append(where, "LOWER(g.genres) LIKE ?")
		args = append(args, "%"+strings.ToLower(s.Genre)+"%")
	}
	if s.MinRating > 0 {
		where = append(where, "g.metacritic_score >= ?")
		args = append(args, s.MinRating)
	}
	if s.MaxPrice != nil {
		where = append(where, `EXISTS (SELECT 1 FROM deals d WHERE d.game_id = g.id AND d.sale_price <= ?)`)
		args = append(args, *s.MaxPrice)
	}
	args = append(args, DealFilter{Limit: s.Limit}.limit())

	query := `SELECT ` + prefixed("g.", gameColumns) + ` FROM games g WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY g.metacritic_score IS NULL, g.metacritic_score DESC, g.title LIMIT ?`

	games := []Game{}
	err := r.db.SelectContext(ctx, &games, query, args...)
	return games, err
}

// WishlistDeals returns on-sale deals for a user's wishlisted games that meet the
// entry's target price and target discount, when set.
func (r *Repository) WishlistDeals(ctx context.Context, userID int64, region string) ([]DealView, error) {
	deals := []DealView{}
	err := r.db.SelectContext(ctx, &deals, dealViewSelect+`
		JOIN user_wishlist w ON w.game_id = d.game_id
		WHERE w.user_id = ? AND d.region = ? AND d.is_on_sale = 1
			AND (w.target_price IS NULL OR d.sale_price <= w.target_price)
			AND (w.target_discount IS NULL OR d.savings_percentage >= w.target_discount)
		ORDER BY w.priority DESC, d.sale_price ASC, d.id
	`, userID, region)
	return deals, err
}

// prefixed qualifies a comma-separated column list with a table alias.
func prefixed(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
