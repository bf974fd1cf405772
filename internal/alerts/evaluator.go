// Package alerts evaluates price alerts against reconciled deals.
package alerts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// Notification carries everything a notifier needs to tell a user about a
// triggered alert.
type Notification struct {
	Alert storage.PriceAlert
	Deal  storage.BestDeal
	User  storage.User
	Game  storage.Game
}

// Notifier delivers triggered alerts. Delivery is best effort.
type Notifier interface {
	SendPriceAlert(ctx context.Context, n Notification) error
}

// Report counts the outcome of one evaluator pass.
type Report struct {
	Checked      int
	Triggered    int
	Notified     int
	NotifyFailed int
	Failed       int
}

// Evaluator flips pending alerts whose game reached the target price.
type Evaluator struct {
	db       *storage.Database
	notifier Notifier
	now      func() time.Time
}

// NewEvaluator creates an evaluator sending notifications through n.
func NewEvaluator(db *storage.Database, n Notifier) *Evaluator {
	return &Evaluator{db: db, notifier: n, now: func() time.Time { return time.Now().UTC() }}
}

// Run evaluates every active, untriggered alert. Triggers are committed in one
// transaction before any notification is sent; an alert fires at most once until
// it is reset.
func (e *Evaluator) Run(ctx context.Context) (Report, error) {
	var (
		report  Report
		pending []Notification
	)

	err := e.db.InTx(ctx, func(tx *storage.Tx) error {
		report, pending = Report{}, nil

		alerts, err := tx.ListPendingAlerts(ctx)
		if err != nil {
			return fmt.Errorf("failed to list pending alerts: %w", err)
		}

		for _, alert := range alerts {
			if err := ctx.Err(); err != nil {
				return err
			}
			report.Checked++

			var n *Notification
			err := tx.Savepoint(ctx, func() error {
				var err error
				n, err = e.evaluate(ctx, tx.Repository, alert)
				return err
			})
			if errors.Is(err, storage.ErrSavepoint) {
				return err
			}
			if err != nil {
				report.Failed++
				logger.Error().Err(err).Int64("alert_id", alert.ID).Msg("Failed to evaluate alert")
				continue
			}
			if n != nil {
				report.Triggered++
				pending = append(pending, *n)
			}
		}
		return nil
	})
	if err != nil {
		return report, err
	}

	repo := e.db.Repository()
	for _, n := range pending {
		if err := e.notifier.SendPriceAlert(ctx, n); err != nil {
			report.NotifyFailed++
			logger.Warn().Err(err).Int64("alert_id", n.Alert.ID).Int64("user_id", n.User.ID).Msg("Failed to send price alert")
			continue
		}
		if err := repo.MarkAlertNotified(ctx, n.Alert.ID, e.now()); err != nil {
			logger.Warn().Err(err).Int64("alert_id", n.Alert.ID).Msg("Failed to record alert notification")
			continue
		}
		report.Notified++
	}

	return report, nil
}

// evaluate triggers alert when the best on-sale price of its game is at or below
// the target. It returns nil when the alert stays pending.
func (e *Evaluator) evaluate(ctx context.Context, repo *storage.Repository, alert storage.PriceAlert) (*Notification, error) {
	best, err := repo.BestOnSaleDeal(ctx, alert.GameID, alert.Region)
	if err != nil {
		return nil, err
	}
	if best == nil || best.SalePrice > alert.TargetPrice {
		return nil, nil
	}

	now := e.now()
	fired, err := repo.TriggerAlert(ctx, alert.ID, best.SalePrice, best.StoreName, now)
	if err != nil {
		return nil, err
	}
	if !fired {
		return nil, nil
	}

	price, store := best.SalePrice, best.StoreName
	alert.IsTriggered = true
	alert.TriggeredAt = &now
	alert.TriggeredPrice = &price
	alert.TriggeredStore = &store

	user, err := repo.GetUser(ctx, alert.UserID)
	if err != nil {
		return nil, err
	}
	game, err := repo.GetGame(ctx, alert.GameID)
	if err != nil {
		return nil, err
	}

	logger.Info().
		Int64("alert_id", alert.ID).
		Int64("game_id", alert.GameID).
		Float64("price", price).
		Float64("target", alert.TargetPrice).
		Str("store", store).
		Msg("Price alert triggered")

	return &Notification{Alert: alert, Deal: *best, User: *user, Game: *game}, nil
}
