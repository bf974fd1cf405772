// Package catalog scores games against each other for "similar games" listings.
package catalog

import (
	"sort"
	"strings"

	"github.com/user/dealtracker/internal/storage"
)

// SimilarityPolicy weighs the signals that make two games similar. A candidate is
// listed when its score reaches MinScore.
type SimilarityPolicy struct {
	// SharedGenreWeight is earned once when the games share any genre.
	SharedGenreWeight float64
	// GenreWeight scales the Jaccard overlap of the genre sets.
	GenreWeight float64
	// DeveloperWeight is earned when both games name the same developer.
	DeveloperWeight float64
	// PlatformWeight scales the Jaccard overlap of the platform sets.
	PlatformWeight float64
	MinScore       float64
}

// DefaultPolicy lists games sharing a genre or a developer, ranking closer genre
// and platform overlap first.
func DefaultPolicy() SimilarityPolicy {
	return SimilarityPolicy{
		SharedGenreWeight: 1,
		GenreWeight:       0.5,
		DeveloperWeight:   1,
		PlatformWeight:    0.1,
		MinScore:          1,
	}
}

// Match is a scored candidate.
type Match struct {
	Game  storage.Game `json:"game"`
	Score float64      `json:"score"`
}

// Score rates how similar candidate is to source.
func (p SimilarityPolicy) Score(source, candidate storage.Game) float64 {
	var score float64

	genres := jaccard(source.Genres, candidate.Genres)
	if genres > 0 {
		score += p.SharedGenreWeight
	}
	score += p.GenreWeight * genres
	score += p.PlatformWeight * jaccard(source.Platforms, candidate.Platforms)

	dev := strings.TrimSpace(source.Developer)
	if dev != "" && strings.EqualFold(dev, strings.TrimSpace(candidate.Developer)) {
		score += p.DeveloperWeight
	}
	return score
}

// Similar returns up to limit candidates reaching MinScore, best score first and
// then by metacritic score. The source game itself is skipped.
func (p SimilarityPolicy) Similar(source storage.Game, candidates []storage.Game, limit int) []Match {
	matches := []Match{}
	for _, c := range candidates {
		if c.ID == source.ID {
			continue
		}
		if s := p.Score(source, c); s >= p.MinScore {
			matches = append(matches, Match{Game: c, Score: s})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return metacritic(matches[i].Game) > metacritic(matches[j].Game)
	})

	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func metacritic(g storage.Game) int {
	if g.MetacriticScore == nil {
		return -1
	}
	return *g.MetacriticScore
}

func jaccard(a, b storage.StringSet) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for _, v := range a {
		if b.Contains(v) {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}
