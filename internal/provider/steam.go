package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/user/dealtracker/internal/apperror"
	"github.com/user/dealtracker/internal/config"
	"github.com/user/dealtracker/pkg/logger"
)

const appListTTL = 24 * time.Hour

// AppIDSource lists the Steam app IDs whose prices should be refreshed.
type AppIDSource func(ctx context.Context) ([]int64, error)

// SteamClient reads Steam store prices and keeps a cached app list for title lookups.
type SteamClient struct {
	http       *httpClient
	appListURL string

	mu         sync.Mutex
	appIndex   map[string]int64
	appIndexAt time.Time
	now        func() time.Time
}

// NewSteamClient creates a Steam client.
func NewSteamClient(cfg config.SteamConfig, timeout time.Duration, hc *http.Client) *SteamClient {
	return &SteamClient{
		http:       newHTTPClient(Steam, cfg.BaseURL, cfg.RateLimitPerMinute, timeout, hc),
		appListURL: cfg.AppListURL,
		now:        time.Now,
	}
}

// SteamPrice is the price of a Steam app in one region.
type SteamPrice struct {
	AppID           int64
	Name            string
	Currency        string
	Initial         float64
	Final           float64
	DiscountPercent int
	IsFree          bool
	HeaderImage     string
	MetacriticScore *int
	Developers      []string
	Publishers      []string
	Genres          []string
	Platforms       []string
	Description     string
}

type steamAppDetails struct {
	Success bool `json:"success"`
	Data    struct {
		Name             string   `json:"name"`
		SteamAppID       int64    `json:"steam_appid"`
		IsFree           bool     `json:"is_free"`
		ShortDescription string   `json:"short_description"`
		HeaderImage      string   `json:"header_image"`
		Developers       []string `json:"developers"`
		Publishers       []string `json:"publishers"`
		PriceOverview    *struct {
			Currency        string `json:"currency"`
			Initial         int64  `json:"initial"`
			Final           int64  `json:"final"`
			DiscountPercent int    `json:"discount_percent"`
		} `json:"price_overview"`
		Metacritic *struct {
			Score int `json:"score"`
		} `json:"metacritic"`
		Genres []struct {
			Description string `json:"description"`
		} `json:"genres"`
		Platforms map[string]bool `json:"platforms"`
	} `json:"data"`
}

// AppDetails fetches the store page data of an app. It returns nil when Steam does
// not know the app or has no price for it.
func (c *SteamClient) AppDetails(ctx context.Context, appID int64, region string) (*SteamPrice, error) {
	params := url.Values{}
	params.Set("appids", strconv.FormatInt(appID, 10))
	params.Set("cc", strings.ToLower(region))
	params.Set("l", "english")

	var raw map[string]steamAppDetails
	if err := c.http.getJSON(ctx, "appdetails", params, &raw); err != nil {
		return nil, err
	}

	app, ok := raw[strconv.FormatInt(appID, 10)]
	if !ok || !app.Success {
		return nil, nil
	}

	d := app.Data
	price := &SteamPrice{
		AppID:       appID,
		Name:        strings.TrimSpace(d.Name),
		Currency:    "USD",
		IsFree:      d.IsFree,
		HeaderImage: d.HeaderImage,
		Developers:  d.Developers,
		Publishers:  d.Publishers,
		Description: d.ShortDescription,
	}
	if d.PriceOverview != nil {
		price.Currency = d.PriceOverview.Currency
		price.Initial = float64(d.PriceOverview.Initial) / 100
		price.Final = float64(d.PriceOverview.Final) / 100
		price.DiscountPercent = d.PriceOverview.DiscountPercent
	} else if !d.IsFree {
		// Unreleased or delisted.
		return nil, nil
	}
	if d.Metacritic != nil && d.Metacritic.Score > 0 {
		score := d.Metacritic.Score
		price.MetacriticScore = &score
	}
	for _, g := range d.Genres {
		price.Genres = append(price.Genres, g.Description)
	}
	for platform, supported := range d.Platforms {
		if supported {
			price.Platforms = append(price.Platforms, platform)
		}
	}
	return price, nil
}

// Tracked returns a Client refreshing the prices of the apps listed by source.
func (c *SteamClient) Tracked(source AppIDSource) Client {
	return NewClient(Steam+"/tracked", func(ctx context.Context, region string) ([]DealCandidate, error) {
		appIDs, err := source(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to list tracked apps: %w", err)
		}
		return c.Prices(ctx, appIDs, region)
	})
}

// Prices fetches the current price of each app. Apps that fail are skipped; an
// error is returned only when every request failed.
func (c *SteamClient) Prices(ctx context.Context, appIDs []int64, region string) ([]DealCandidate, error) {
	var (
		candidates []DealCandidate
		errs       []error
	)
	for _, appID := range appIDs {
		price, err := c.AppDetails(ctx, appID, region)
		if err != nil {
			if ctx.Err() != nil {
				return candidates, apperror.Provider(Steam, ctx.Err())
			}
			logger.Warn().Err(err).Str("provider", Steam).Int64("app_id", appID).Msg("Failed to fetch app price")
			errs = append(errs, err)
			continue
		}
		if price == nil {
			continue
		}
		candidates = append(candidates, price.candidate(region))
	}

	if len(candidates) == 0 && len(errs) > 0 {
		return nil, apperror.Provider(Steam, errors.Join(errs...))
	}
	candidates, _ = valid(candidates)
	return candidates, nil
}

func (p *SteamPrice) candidate(region string) DealCandidate {
	appID := p.AppID
	c := DealCandidate{
		Provider:        Steam,
		StoreID:         Steam,
		Title:           p.Name,
		ExternalIDs:     map[string]string{Steam: strconv.FormatInt(appID, 10)},
		SteamAppID:      &appID,
		SalePrice:       p.Final,
		NormalPrice:     p.Initial,
		Savings:         float64(p.DiscountPercent),
		Thumbnail:       p.HeaderImage,
		DealID:          steamDealID(appID, region),
		DealURL:         fmt.Sprintf("https://store.steampowered.com/app/%d/", appID),
		MetacriticScore: p.MetacriticScore,
		Currency:        p.Currency,
		Region:          region,
	}
	return c
}

func steamDealID(appID int64, region string) string {
	return fmt.Sprintf("steam:%d:%s", appID, strings.ToLower(region))
}

type steamFeaturedItem struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Discounted         bool   `json:"discounted"`
	DiscountPercent    int    `json:"discount_percent"`
	OriginalPrice      *int64 `json:"original_price"`
	FinalPrice         int64  `json:"final_price"`
	Currency           string `json:"currency"`
	LargeCapsuleImage  string `json:"large_capsule_image"`
	DiscountExpiration *int64 `json:"discount_expiration"`
}

type steamFeatured struct {
	LargeCapsules []steamFeaturedItem `json:"large_capsules"`
	FeaturedWin   []steamFeaturedItem `json:"featured_win"`
	FeaturedMac   []steamFeaturedItem `json:"featured_mac"`
	FeaturedLinux []steamFeaturedItem `json:"featured_linux"`
}

// Featured returns a Client reading Steam's featured discounted items.
func (c *SteamClient) Featured() Client {
	return NewClient(Steam+"/featured", c.FeaturedDeals)
}

// FeaturedDeals fetches the discounted items of the Steam front page.
func (c *SteamClient) FeaturedDeals(ctx context.Context, region string) ([]DealCandidate, error) {
	params := url.Values{}
	params.Set("cc", strings.ToLower(region))
	params.Set("l", "english")

	var raw steamFeatured
	if err := c.http.getJSON(ctx, "featured", params, &raw); err != nil {
		return nil, err
	}

	seen := map[int64]bool{}
	var candidates []DealCandidate
	for _, group := range [][]steamFeaturedItem{raw.LargeCapsules, raw.FeaturedWin, raw.FeaturedMac, raw.FeaturedLinux} {
		for _, item := range group {
			if !item.Discounted || item.OriginalPrice == nil || seen[item.ID] {
				continue
			}
			seen[item.ID] = true

			price := &SteamPrice{
				AppID:           item.ID,
				Name:            strings.TrimSpace(item.Name),
				Currency:        item.Currency,
				Initial:         float64(*item.OriginalPrice) / 100,
				Final:           float64(item.FinalPrice) / 100,
				DiscountPercent: item.DiscountPercent,
				HeaderImage:     item.LargeCapsuleImage,
			}
			cand := price.candidate(region)
			if item.DiscountExpiration != nil && *item.DiscountExpiration > 0 {
				ends := time.Unix(*item.DiscountExpiration, 0).UTC()
				cand.EndsAt = &ends
			}
			candidates = append(candidates, cand)
		}
	}
	candidates, _ = valid(candidates)
	return candidates, nil
}

type steamAppList struct {
	AppList struct {
		Apps []struct {
			AppID int64  `json:"appid"`
			Name  string `json:"name"`
		} `json:"apps"`
	} `json:"applist"`
}

// LookupAppID finds the app ID of a title in the cached Steam app list, refreshing
// the list when it is older than a day.
func (c *SteamClient) LookupAppID(ctx context.Context, title string) (int64, bool, error) {
	index, err := c.appList(ctx)
	if err != nil {
		return 0, false, err
	}
	id, ok := index[foldTitle(title)]
	return id, ok, nil
}

func (c *SteamClient) appList(ctx context.Context) (map[string]int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.appIndex != nil && c.now().Sub(c.appIndexAt) < appListTTL {
		return c.appIndex, nil
	}

	var raw steamAppList
	if err := c.http.getJSON(ctx, c.appListURL, nil, &raw); err != nil {
		if c.appIndex != nil {
			logger.Warn().Err(err).Str("provider", Steam).Msg("Using stale app list")
			return c.appIndex, nil
		}
		return nil, err
	}

	index := make(map[string]int64, len(raw.AppList.Apps))
	for _, app := range raw.AppList.Apps {
		key := foldTitle(app.Name)
		if key == "" {
			continue
		}
		// Keep the lowest app ID; later duplicates are usually soundtracks or demos.
		if existing, ok := index[key]; !ok || app.AppID < existing {
			index[key] = app.AppID
		}
	}
	c.appIndex = index
	c.appIndexAt = c.now()
	logger.Info().Int("apps", len(index)).Msg("Refreshed Steam app list")
	return index, nil
}

// foldTitle lowercases a title and collapses its whitespace.
func foldTitle(title string) string {
	return strings.ToLower(strings.Join(strings.Fields(title), " "))
}
