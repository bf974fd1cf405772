package storage

import (
	"context"
	"time"

	"github.com/user/dealtracker/internal/apperror"
)

// ListPendingAlerts returns active alerts that have not fired yet.
func (r *Repository) ListPendingAlerts(ctx context.Context) ([]PriceAlert, error) {
	var alerts []PriceAlert
	err := r.db.SelectContext(ctx, &alerts,
		`SELECT * FROM price_alerts WHERE is_active = 1 AND is_triggered = 0 ORDER BY id`)
	return alerts, err
}

// GetAlert returns an alert by ID.
func (r *Repository) GetAlert(ctx context.Context, id int64) (*PriceAlert, error) {
	var a PriceAlert
	err := r.db.GetContext(ctx, &a, `SELECT * FROM price_alerts WHERE id = ?`, id)
	if missing, err := notFound(err); missing {
		return nil, apperror.NotFound("alert", id)
	} else if err != nil {
		return nil, err
	}
	return &a, nil
}

// TriggerAlert flips an untriggered alert to triggered and captures the price
// snapshot. It reports false when the alert was already triggered or inactive.
func (r *Repository) TriggerAlert(ctx context.Context, id int64, price float64, store string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE price_alerts SET
			is_triggered = 1,
			triggered_at = ?,
			triggered_price = ?,
			triggered_store = ?,
			updated_at = ?
		WHERE id = ? AND is_active = 1 AND is_triggered = 0
	`, at, price, store, at, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// MarkAlertNotified records a delivered notification.
func (r *Repository) MarkAlertNotified(ctx context.Context, id int64, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE price_alerts SET notification_sent = 1, notification_sent_at = ? WHERE id = ?`, at, id)
	return err
}

// CreateAlert creates a price alert, or retargets the user's existing active alert
// for the same game.
func (r *Repository) CreateAlert(ctx context.Context, userID, gameID int64, targetPrice float64, currency, region string) (*PriceAlert, error) {
	if targetPrice < 0 {
		return nil, apperror.Invalid("target_price", "target price must not be negative")
	}
	now := time.Now().UTC()

	var existingID int64
	err := r.db.GetContext(ctx, &existingID,
		`SELECT id FROM price_alerts WHERE user_id = ? AND game_id = ? AND is_active = 1 ORDER BY id LIMIT 1`,
		userID, gameID)
	missing, err := notFound(err)
	if err != nil {
		return nil, err
	}

	if !missing {
		_, err = r.db.ExecContext(ctx, `
			UPDATE price_alerts SET target_price = ?, currency = ?, region = ?, updated_at = ?
			WHERE id = ?
		`, targetPrice, currency, region, now, existingID)
		if err != nil {
			return nil, err
		}
		return r.GetAlert(ctx, existingID)
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO price_alerts (user_id, game_id, target_price, currency, region, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, userID, gameID, targetPrice, currency, region, now, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetAlert(ctx, id)
}

// ResetAlert re-arms a user's alert so the evaluator considers it again.
func (r *Repository) ResetAlert(ctx context.Context, userID, alertID int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE price_alerts SET
			is_active = 1,
			is_triggered = 0,
			triggered_at = NULL,
			triggered_price = NULL,
			triggered_store = NULL,
			notification_sent = 0,
			notification_sent_at = NULL,
			updated_at = ?
		WHERE id = ? AND user_id = ?
	`, time.Now().UTC(), alertID, userID)
	return expectOne(res, err, "alert", alertID)
}

// DeactivateAlert stops evaluating an alert without deleting it.
func (r *Repository) DeactivateAlert(ctx context.Context, userID, alertID int64) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE price_alerts SET is_active = 0, updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now().UTC(), alertID, userID)
	return expectOne(res, err, "alert", alertID)
}

// DeleteAlert removes a user's alert.
func (r *Repository) DeleteAlert(ctx context.Context, userID, alertID int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM price_alerts WHERE id = ? AND user_id = ?`, alertID, userID)
	return expectOne(res, err, "alert", alertID)
}

// ListUserAlerts returns a user's alerts, newest first.
func (r *Repository) ListUserAlerts(ctx context.Context, userID int64, activeOnly bool) ([]AlertView, error) {
	query := `
		SELECT a.*, g.title AS game_title, g.slug AS game_slug
		FROM price_alerts a JOIN games g ON g.id = a.game_id
		WHERE a.user_id = ?`
	if activeOnly {
		query += ` AND a.is_active = 1`
	}
	query += ` ORDER BY a.created_at DESC, a.id DESC`

	var alerts []AlertView
	err := r.db.SelectContext(ctx, &alerts, query, userID)
	return alerts, err
}
