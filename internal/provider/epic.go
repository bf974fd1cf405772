package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/config"
)

// EpicClient reads the Epic Games Store free games promotions.
type EpicClient struct {
	http *httpClient
}

// NewEpicClient creates an Epic client.
func NewEpicClient(cfg config.ProviderConfig, timeout time.Duration, hc *http.Client) *EpicClient {
	return &EpicClient{http: newHTTPClient(Epic, cfg.BaseURL, cfg.RateLimitPerMinute, timeout, hc)}
}

type epicPromotionWindow struct {
	StartDate *time.Time `json:"startDate"`
	EndDate   *time.Time `json:"endDate"`
}

type epicElement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	KeyImages   []struct {
		Type string `json:"type"`
		URL  string `json:"url"`
	} `json:"keyImages"`
	CatalogNs struct {
		Mappings []struct {
			PageSlug string `json:"pageSlug"`
		} `json:"mappings"`
	} `json:"catalogNs"`
	Price struct {
		TotalPrice struct {
			DiscountPrice int64  `json:"discountPrice"`
			OriginalPrice int64  `json:"originalPrice"`
			CurrencyCode  string `json:"currencyCode"`
		} `json:"totalPrice"`
	} `json:"price"`
	Promotions *struct {
		PromotionalOffers []struct {
			PromotionalOffers []epicPromotionWindow `json:"promotionalOffers"`
		} `json:"promotionalOffers"`
	} `json:"promotions"`
}

type epicPromotions struct {
	Data struct {
		Catalog struct {
			SearchStore struct {
				Elements []epicElement `json:"elements"`
			} `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

// Free returns a Client reading the current free promotions.
func (c *EpicClient) Free() Client {
	return NewClient(Epic+"/free", c.FreeGames)
}

// FreeGames fetches promotion elements whose discounted price is zero.
func (c *EpicClient) FreeGames(ctx context.Context, region string) ([]DealCandidate, error) {
	country := strings.ToUpper(region)
	params := url.Values{}
	params.Set("locale", "en-US")
	params.Set("country", country)
	params.Set("allowCountries", country)

	var raw epicPromotions
	if err := c.http.getJSON(ctx, "freeGamesPromotions", params, &raw); err != nil {
		return nil, err
	}

	var candidates []DealCandidate
	for _, e := range raw.Data.Catalog.SearchStore.Elements {
		price := e.Price.TotalPrice
		if price.DiscountPrice != 0 || e.ID == "" {
			continue
		}

		currency := price.CurrencyCode
		if currency == "" {
			currency = "USD"
		}
		cand := DealCandidate{
			Provider:    Epic,
			StoreID:     Epic,
			Title:       strings.TrimSpace(e.Title),
			ExternalIDs: map[string]string{Epic: e.ID},
			SalePrice:   0,
			NormalPrice: float64(price.OriginalPrice) / 100,
			Thumbnail:   e.thumbnail(),
			DealID:      "epic:" + e.ID,
			DealURL:     "https://store.epicgames.com/en-US/p/" + e.slug(),
			Currency:    currency,
			Region:      region,
		}
		if cand.NormalPrice > 0 {
			cand.Savings = 100
		}
		if w := e.activeWindow(); w != nil {
			cand.StartsAt = w.StartDate
			cand.EndsAt = w.EndDate
		}
		candidates = append(candidates, cand)
	}
	candidates, _ = valid(candidates)
	return candidates, nil
}

func (e epicElement) slug() string {
	if e.ProductSlug != "" {
		return strings.TrimSuffix(e.ProductSlug, "/home")
	}
	for _, m := range e.CatalogNs.Mappings {
		if m.PageSlug != "" {
			return m.PageSlug
		}
	}
	return e.URLSlug
}

func (e epicElement) thumbnail() string {
	for _, img := range e.KeyImages {
		if img.Type == "Thumbnail" || img.Type == "OfferImageWide" {
			return img.URL
		}
	}
	if len(e.KeyImages) > 0 {
		return e.KeyImages[0].URL
	}
	return ""
}

func (e epicElement) activeWindow() *epicPromotionWindow {
	if e.Promotions == nil {
		return nil
	}
	for _, group := range e.Promotions.PromotionalOffers {
		for _, offer := range group.PromotionalOffers {
			w := offer
			return &w
		}
	}
	return nil
}
