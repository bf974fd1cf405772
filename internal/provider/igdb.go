package provider

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/user/dealtracker/internal/config"
)

// Metadata is descriptive game data used to fill catalog fields.
type Metadata struct {
	IGDBID     int64
	Name       string
	Summary    string
	Genres     []string
	Platforms  []string
	Rating     *float64
	Developer  string
	Publisher  string
	CoverImage string
}

// Enricher looks up metadata for a game title.
type Enricher interface {
	Enrich(ctx context.Context, title string) (*Metadata, error)
}

// IGDBClient queries IGDB with a Twitch client credentials token.
type IGDBClient struct {
	http *httpClient
}

// NewIGDBClient creates an IGDB client. Tokens are fetched and refreshed by the
// oauth2 transport. base is the transport used for both token and API requests.
func NewIGDBClient(cfg config.IGDBConfig, timeout time.Duration, base *http.Client) *IGDBClient {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInParams,
	}

	if base == nil {
		base = &http.Client{Timeout: timeout}
	}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	c := &IGDBClient{http: newHTTPClient(IGDB, cfg.BaseURL, cfg.RateLimitPerMinute, timeout, cc.Client(ctx))}
	c.http.header.Set("Client-ID", cfg.ClientID)
	return c
}

type igdbGame struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Summary     string   `json:"summary"`
	TotalRating *float64 `json:"total_rating"`
	Genres      []struct {
		Name string `json:"name"`
	} `json:"genres"`
	Platforms []struct {
		Name string `json:"name"`
	} `json:"platforms"`
	InvolvedCompanies []struct {
		Developer bool `json:"developer"`
		Publisher bool `json:"publisher"`
		Company   struct {
			Name string `json:"name"`
		} `json:"company"`
	} `json:"involved_companies"`
	Cover *struct {
		URL string `json:"url"`
	} `json:"cover"`
}

// Enrich returns the best IGDB match for title, or nil when there is none.
func (c *IGDBClient) Enrich(ctx context.Context, title string) (*Metadata, error) {
	query := fmt.Sprintf(`search "%s"; fields name,summary,total_rating,genres.name,platforms.name,`+
		`involved_companies.developer,involved_companies.publisher,involved_companies.company.name,cover.url; limit 1;`,
		strings.ReplaceAll(title, `"`, ""))

	var games []igdbGame
	if err := c.http.postJSON(ctx, "games", "text/plain", []byte(query), &games); err != nil {
		return nil, err
	}
	if len(games) == 0 {
		return nil, nil
	}

	g := games[0]
	m := &Metadata{
		IGDBID:  g.ID,
		Name:    g.Name,
		Summary: g.Summary,
		Rating:  g.TotalRating,
	}
	for _, genre := range g.Genres {
		m.Genres = append(m.Genres, genre.Name)
	}
	for _, p := range g.Platforms {
		m.Platforms = append(m.Platforms, p.Name)
	}
	for _, ic := range g.InvolvedCompanies {
		if ic.Developer && m.Developer == "" {
			m.Developer = ic.Company.Name
		}
		if ic.Publisher && m.Publisher == "" {
			m.Publisher = ic.Company.Name
		}
	}
	if g.Cover != nil {
		m.CoverImage = absoluteURL(strings.Replace(g.Cover.URL, "t_thumb", "t_cover_big", 1))
	}
	return m, nil
}
