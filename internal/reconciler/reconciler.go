// Package reconciler merges deal candidates into persisted deals.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/provider"
	"github.com/user/dealtracker/internal/resolver"
	"github.com/user/dealtracker/internal/storage"
	"github.com/user/dealtracker/pkg/logger"
)

// Savings returns round(100*(normal-sale)/normal, 2) clamped to [0, 100].
func Savings(sale, normal float64) float64 {
	if normal <= 0 {
		return 0
	}
	s := math.Round(100*(normal-sale)/normal*100) / 100
	return math.Max(0, math.Min(100, s))
}

// Outcome classifies what reconciliation did to a deal.
type Outcome int

const (
	Unchanged Outcome = iota
	Created
	Updated
)

// Result is the reconciled deal of one candidate.
type Result struct {
	Deal    *storage.Deal
	Outcome Outcome
}

// Reconciler upserts deals and their derived state.
type Reconciler struct {
	resolver *resolver.Resolver
	now      func() time.Time
}

// New creates a reconciler resolving candidates with res.
func New(res *resolver.Resolver) *Reconciler {
	return &Reconciler{resolver: res, now: func() time.Time { return time.Now().UTC() }}
}

// Reconcile upserts the deal of c keyed by its deal ID, refreshes the per-store
// snapshot and appends a price point when the deal is new or its sale price moved.
// Running it twice with the same candidate leaves one deal with the same prices.
func (r *Reconciler) Reconcile(ctx context.Context, repo *storage.Repository, game *storage.Game, store *storage.Store, c provider.DealCandidate) (*Result, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	now := r.now()

	existing, err := repo.FindDealByExternalID(ctx, c.DealID)
	if err != nil {
		return nil, err
	}

	savings := Savings(c.SalePrice, c.NormalPrice)
	currency := c.Currency
	if currency == "" {
		currency = "USD"
	}
	region := strings.ToUpper(c.Region)

	deal, err := repo.UpsertDeal(ctx, storage.DealUpsert{
		GameID:            game.ID,
		StoreID:           store.ID,
		Provider:          c.Provider,
		ExternalDealID:    c.DealID,
		Title:             strings.TrimSpace(c.Title),
		DealURL:           c.DealURL,
		ThumbnailURL:      c.Thumbnail,
		SalePrice:         c.SalePrice,
		NormalPrice:       c.NormalPrice,
		SavingsPercentage: savings,
		Currency:          currency,
		Region:            region,
		DealRating:        c.Rating,
		IsOnSale:          c.SalePrice < c.NormalPrice,
		DealStartDate:     c.StartsAt,
		DealEndDate:       c.EndsAt,
		Now:               now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert deal: %w", err)
	}

	err = repo.UpsertGameStore(ctx, storage.GameStoreSnapshot{
		GameID:             deal.GameID,
		StoreID:            deal.StoreID,
		StoreGameID:        c.ExternalIDs[c.Provider],
		StoreURL:           c.DealURL,
		CurrentPrice:       deal.SalePrice,
		OriginalPrice:      deal.NormalPrice,
		DiscountPercentage: deal.SavingsPercentage,
		Currency:           deal.Currency,
		Region:             deal.Region,
		CheckedAt:          now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update store snapshot: %w", err)
	}

	outcome := Unchanged
	switch {
	case existing == nil:
		outcome = Created
	case existing.SalePrice != deal.SalePrice || existing.NormalPrice != deal.NormalPrice:
		outcome = Updated
	}

	if existing == nil || existing.SalePrice != deal.SalePrice {
		if err := repo.RecordPricePoint(ctx, deal, now); err != nil {
			return nil, fmt.Errorf("failed to record price point: %w", err)
		}
	}

	return &Result{Deal: deal, Outcome: outcome}, nil
}

// BatchReport counts the outcomes of a batch.
type BatchReport struct {
	Created   int
	Updated   int
	Unchanged int
	Dropped   int
	Failed    int
	// Deals holds every deal written by the batch.
	Deals []*storage.Deal
}

// Add merges o into b.
func (b *BatchReport) Add(o BatchReport) {
	b.Created += o.Created
	b.Updated += o.Updated
	b.Unchanged += o.Unchanged
	b.Dropped += o.Dropped
	b.Failed += o.Failed
	b.Deals = append(b.Deals, o.Deals...)
}

// ReconcileBatch resolves and reconciles candidates inside tx. Each candidate runs in
// its own savepoint: a failing candidate is logged and rolled back alone. The
// returned error is non-nil only when the transaction itself broke.
func (r *Reconciler) ReconcileBatch(ctx context.Context, tx *storage.Tx, candidates []provider.DealCandidate) (BatchReport, error) {
	var report BatchReport

	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var result *Result
		err := tx.Savepoint(ctx, func() error {
			store, err := r.resolver.ResolveStore(ctx, tx.Repository, c)
			if err != nil {
				return err
			}
			game, err := r.resolver.ResolveGame(ctx, tx.Repository, c)
			if err != nil {
				return err
			}
			result, err = r.Reconcile(ctx, tx.Repository, game, store, c)
			return err
		})

		switch {
		case err == nil:
			report.Deals = append(report.Deals, result.Deal)
			switch result.Outcome {
			case Created:
				report.Created++
			case Updated:
				report.Updated++
			default:
				report.Unchanged++
			}
		case errors.Is(err, apperror.ErrUnresolved), errors.Is(err, apperror.ErrInvalid):
			report.Dropped++
			logger.Warn().
				Err(err).
				Str("provider", c.Provider).
				Str("store_id", c.StoreID).
				Str("deal_id", c.DealID).
				Msg("Dropped deal candidate")
		case ctx.Err() != nil, errors.Is(err, storage.ErrSavepoint):
			return report, err
		default:
			report.Failed++
			logger.Error().
				Err(err).
				Str("provider", c.Provider).
				Str("deal_id", c.DealID).
				Msg("Failed to reconcile deal candidate")
		}
	}

	return report, nil
}
