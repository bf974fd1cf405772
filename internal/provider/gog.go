package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/config"
)

// GOGClient reads discounted products from the GOG catalog.
type GOGClient struct {
	http *httpClient
}

// NewGOGClient creates a GOG client.
func NewGOGClient(cfg config.ProviderConfig, timeout time.Duration, hc *http.Client) *GOGClient {
	return &GOGClient{http: newHTTPClient(GOG, cfg.BaseURL, cfg.RateLimitPerMinute, timeout, hc)}
}

type gogProduct struct {
	ID    json.Number `json:"id"`
	Title string      `json:"title"`
	Image string      `json:"image"`
	URL   string      `json:"url"`
	Price struct {
		Currency           string `json:"currency"`
		BaseAmount         string `json:"baseAmount"`
		FinalAmount        string `json:"finalAmount"`
		IsDiscounted       bool   `json:"isDiscounted"`
		DiscountPercentage int    `json:"discountPercentage"`
	} `json:"price"`
}

type gogFiltered struct {
	Products []gogProduct `json:"products"`
}

// Discounted returns a Client reading discounted products by popularity.
func (c *GOGClient) Discounted() Client {
	return NewClient(GOG+"/discounted", c.DiscountedGames)
}

// DiscountedGames fetches the first page of discounted games.
func (c *GOGClient) DiscountedGames(ctx context.Context, region string) ([]DealCandidate, error) {
	params := url.Values{}
	params.Set("mediaType", "game")
	params.Set("sort", "popularity")
	params.Set("price", "discounted")
	params.Set("page", "1")

	var raw gogFiltered
	if err := c.http.getJSON(ctx, "filtered", params, &raw); err != nil {
		return nil, err
	}

	var candidates []DealCandidate
	for _, p := range raw.Products {
		id := p.ID.String()
		if id == "" {
			continue
		}
		currency := p.Price.Currency
		if currency == "" {
			currency = "USD"
		}
		candidates = append(candidates, DealCandidate{
			Provider:    GOG,
			StoreID:     GOG,
			Title:       strings.TrimSpace(p.Title),
			ExternalIDs: map[string]string{GOG: id},
			SalePrice:   parseFloat(p.Price.FinalAmount, -1),
			NormalPrice: parseFloat(p.Price.BaseAmount, -1),
			Savings:     float64(p.Price.DiscountPercentage),
			Thumbnail:   absoluteURL(p.Image),
			DealID:      "gog:" + id,
			DealURL:     gogURL(p.URL),
			Currency:    currency,
			Region:      region,
		})
	}
	candidates, _ = valid(candidates)
	return candidates, nil
}

func absoluteURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func gogURL(path string) string {
	if path == "" || strings.HasPrefix(path, "http") {
		return path
	}
	return "https://www.gog.com" + path
}
