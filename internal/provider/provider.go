// Package provider implements the storefront clients that feed the ingestion
// pipeline with deal candidates.
package provider

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/apperror"
)

// Provider names, also used as keys of DealCandidate.ExternalIDs.
const (
	CheapShark = "cheapshark"
	Steam      = "steam"
	Epic       = "epic"
	GOG        = "gog"
	IGDB       = "igdb"
)

// DealCandidate is a normalized deal record awaiting resolution and reconciliation.
type DealCandidate struct {
	Provider string
	// StoreID is the provider's own store identifier, mapped to a store slug
	// by the resolver.
	StoreID         string
	Title           string
	ExternalIDs     map[string]string
	SteamAppID      *int64
	SalePrice       float64
	NormalPrice     float64
	Savings         float64
	Thumbnail       string
	DealID          string
	DealURL         string
	Rating          *float64
	MetacriticScore *int
	Currency        string
	Region          string
	StartsAt        *time.Time
	EndsAt          *time.Time
}

// StoreKey returns the "provider:store_id" key used by the store map.
func (c DealCandidate) StoreKey() string {
	return c.Provider + ":" + c.StoreID
}

// Validate rejects candidates that cannot be reconciled.
func (c DealCandidate) Validate() error {
	switch {
	case strings.TrimSpace(c.Title) == "":
		return apperror.Invalid("title", "candidate title is empty")
	case c.DealID == "":
		return apperror.Invalid("deal_id", "candidate deal id is empty")
	case c.SalePrice < 0 || c.NormalPrice < 0:
		return apperror.Invalid("price", "candidate prices must not be negative")
	case math.IsNaN(c.SalePrice) || math.IsNaN(c.NormalPrice):
		return apperror.Invalid("price", "candidate prices must be numbers")
	}
	return nil
}

// Client fetches deal candidates from one storefront feed. A failed fetch returns
// no candidates and an apperror.ErrProvider error.
type Client interface {
	Name() string
	FetchCandidates(ctx context.Context, region string) ([]DealCandidate, error)
}

// FetchFunc fetches candidates for a region.
type FetchFunc func(ctx context.Context, region string) ([]DealCandidate, error)

type funcClient struct {
	name  string
	fetch FetchFunc
}

// NewClient adapts fn into a named Client.
func NewClient(name string, fn FetchFunc) Client {
	return &funcClient{name: name, fetch: fn}
}

func (c *funcClient) Name() string { return c.name }

func (c *funcClient) FetchCandidates(ctx context.Context, region string) ([]DealCandidate, error) {
	return c.fetch(ctx, region)
}

// valid drops candidates failing Validate and reports how many were dropped.
func valid(candidates []DealCandidate) ([]DealCandidate, int) {
	out := candidates[:0]
	dropped := 0
	for _, c := range candidates {
		if c.Validate() != nil {
			dropped++
			continue
		}
		out = append(out, c)
	}
	return out, dropped
}
