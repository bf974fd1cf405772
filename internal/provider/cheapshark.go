package provider

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/pkg/logger"
)

// CheapShark sort orders.
const (
	SortSavings = "Savings"
	SortRecent  = "Recent"
)

// CheapSharkClient reads the CheapShark deal aggregator.
type CheapSharkClient struct {
	http     *httpClient
	pageSize int
}

// NewCheapSharkClient creates a CheapShark client.
func NewCheapSharkClient(cfg config.ProviderConfig, pageSize int, timeout time.Duration, hc *http.Client) *CheapSharkClient {
	if pageSize <= 0 || pageSize > 60 {
		// CheapShark caps pageSize at 60.
		pageSize = 60
	}
	return &CheapSharkClient{
		http:     newHTTPClient(CheapShark, cfg.BaseURL, cfg.RateLimitPerMinute, timeout, hc),
		pageSize: pageSize,
	}
}

type cheapSharkDeal struct {
	Title           string  `json:"title"`
	DealID          string  `json:"dealID"`
	StoreID         string  `json:"storeID"`
	GameID          string  `json:"gameID"`
	SalePrice       string  `json:"salePrice"`
	NormalPrice     string  `json:"normalPrice"`
	Savings         string  `json:"savings"`
	MetacriticScore string  `json:"metacriticScore"`
	SteamAppID      *string `json:"steamAppID"`
	DealRating      string  `json:"dealRating"`
	Thumb           string  `json:"thumb"`
	LastChange      int64   `json:"lastChange"`
}

// CheapSharkStore is an entry of the CheapShark store catalog.
type CheapSharkStore struct {
	StoreID   string `json:"storeID"`
	StoreName string `json:"storeName"`
	IsActive  int    `json:"isActive"`
}

// Feed returns a Client reading on-sale deals in the given sort order.
func (c *CheapSharkClient) Feed(sortBy string) Client {
	return NewClient(CheapShark+"/"+strings.ToLower(sortBy), func(ctx context.Context, region string) ([]DealCandidate, error) {
		return c.Deals(ctx, region, sortBy)
	})
}

// Deals fetches one page of on-sale deals. CheapShark prices are USD only.
func (c *CheapSharkClient) Deals(ctx context.Context, region, sortBy string) ([]DealCandidate, error) {
	params := url.Values{}
	params.Set("pageSize", strconv.Itoa(c.pageSize))
	params.Set("sortBy", sortBy)
	params.Set("desc", "1")
	params.Set("onSale", "1")

	var raw []cheapSharkDeal
	if err := c.http.getJSON(ctx, "deals", params, &raw); err != nil {
		return nil, err
	}

	candidates := make([]DealCandidate, 0, len(raw))
	for _, d := range raw {
		candidates = append(candidates, d.candidate(region))
	}
	candidates, dropped := valid(candidates)
	if dropped > 0 {
		logger.Warn().Str("provider", CheapShark).Int("dropped", dropped).Msg("Dropped malformed deals")
	}
	return candidates, nil
}

// Stores fetches the CheapShark store catalog.
func (c *CheapSharkClient) Stores(ctx context.Context) ([]CheapSharkStore, error) {
	var stores []CheapSharkStore
	if err := c.http.getJSON(ctx, "stores", nil, &stores); err != nil {
		return nil, err
	}
	return stores, nil
}

func (d cheapSharkDeal) candidate(region string) DealCandidate {
	c := DealCandidate{
		Provider:    CheapShark,
		StoreID:     d.StoreID,
		Title:       strings.TrimSpace(d.Title),
		ExternalIDs: map[string]string{},
		SalePrice:   parseFloat(d.SalePrice, -1),
		NormalPrice: parseFloat(d.NormalPrice, -1),
		Savings:     parseFloat(d.Savings, 0),
		Thumbnail:   d.Thumb,
		DealID:      d.DealID,
		Currency:    "USD",
		Region:      region,
	}
	if d.DealID != "" {
		c.DealURL = "https://www.cheapshark.com/redirect?dealID=" + url.QueryEscape(d.DealID)
	}
	if d.GameID != "" {
		c.ExternalIDs[CheapShark] = d.GameID
	}
	if d.SteamAppID != nil {
		if id, err := strconv.ParseInt(*d.SteamAppID, 10, 64); err == nil && id > 0 {
			c.SteamAppID = &id
			c.ExternalIDs[Steam] = *d.SteamAppID
		}
	}
	if r := parseFloat(d.DealRating, 0); r > 0 {
		c.Rating = &r
	}
	if score, err := strconv.Atoi(d.MetacriticScore); err == nil && score > 0 {
		c.MetacriticScore = &score
	}
	return c
}

// parseFloat parses a provider price string, returning fallback when malformed.
func parseFloat(s string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fallback
	}
	return f
}
