package storage

import (
	"context"
	"time"

	"github.com/user/dealtracker/internal/apperror"
)

// WishlistItem is a wishlist entry joined with its game.
type WishlistItem struct {
	WishlistEntry
	GameTitle string `db:"game_title" json:"game_title"`
	GameSlug  string `db:"game_slug" json:"game_slug"`
}

// AddToWishlist adds a game to a user's wishlist or updates its targets.
func (r *Repository) AddToWishlist(ctx context.Context, userID, gameID int64, targetPrice, targetDiscount *float64) error {
	if targetPrice != nil && *targetPrice < 0 {
		return apperror.Invalid("target_price", "target price must not be negative")
	}
	if targetDiscount != nil && (*targetDiscount < 0 || *targetDiscount > 100) {
		return apperror.Invalid("target_discount", "target discount must be between 0 and 100")
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO user_wishlist (user_id, game_id, target_price, target_discount, added_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, game_id) DO UPDATE SET
			target_price = excluded.target_price,
			target_discount = excluded.target_discount
	`, userID, gameID, targetPrice, targetDiscount, time.Now().UTC())
	return err
}

// RemoveFromWishlist removes a game from a user's wishlist.
func (r *Repository) RemoveFromWishlist(ctx context.Context, userID, gameID int64) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_wishlist WHERE user_id = ? AND game_id = ?`, userID, gameID)
	return expectOne(res, err, "wishlist entry", gameID)
}

// ListWishlist returns a user's wishlist, highest priority first.
func (r *Repository) ListWishlist(ctx context.Context, userID int64) ([]WishlistItem, error) {
	var items []WishlistItem
	err := r.db.SelectContext(ctx, &items, `
		SELECT w.*, g.title AS game_title, g.slug AS game_slug
		FROM user_wishlist w JOIN games g ON g.id = w.game_id
		WHERE w.user_id = ?
		ORDER BY w.priority DESC, w.added_at DESC, w.id DESC
	`, userID)
	return items, err
}
