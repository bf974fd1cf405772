package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/user/dealtracker/internal/apperror"
)

const gameColumns = `id, title, normalized_title, slug, steam_app_id, igdb_id, description, developer,
	publisher, genres, platforms, cover_image_url, metacritic_score, user_rating,
	metadata_refreshed_at, created_at, updated_at`

// GetGame returns a game by ID.
func (r *Repository) GetGame(ctx context.Context, id int64) (*Game, error) {
	var g Game
	err := r.db.GetContext(ctx, &g, `SELECT `+gameColumns+` FROM games WHERE id = ?`, id)
	if missing, err := notFound(err); missing {
		return nil, apperror.NotFound("game", id)
	} else if err != nil {
		return nil, err
	}
	return &g, nil
}

// findGame runs a single-row game lookup; a missing row yields (nil, nil).
func (r *Repository) findGame(ctx context.Context, where string, args ...interface{}) (*Game, error) {
	var g Game
	err := r.db.GetContext(ctx, &g, `SELECT `+gameColumns+` FROM games WHERE `+where+` LIMIT 1`, args...)
	if missing, err := notFound(err); missing {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return &g, nil
}

// FindGameBySteamAppID returns the game with the given Steam app ID, or nil.
func (r *Repository) FindGameBySteamAppID(ctx context.Context, appID int64) (*Game, error) {
	return r.findGame(ctx, `steam_app_id = ?`, appID)
}

// FindGameByExternalID returns the game linked to a provider-specific ID, or nil.
func (r *Repository) FindGameByExternalID(ctx context.Context, provider, externalID string) (*Game, error) {
	return r.findGame(ctx,
		`id = (SELECT game_id FROM game_external_ids WHERE provider = ? AND external_id = ?)`,
		provider, externalID)
}

// FindGameByNormalizedTitle returns the oldest game with the given normalized title, or nil.
func (r *Repository) FindGameByNormalizedTitle(ctx context.Context, normalized string) (*Game, error) {
	return r.findGame(ctx, `normalized_title = ? ORDER BY id`, normalized)
}

// FindGameBySlug returns the game with the given slug, or nil.
func (r *Repository) FindGameBySlug(ctx context.Context, slug string) (*Game, error) {
	return r.findGame(ctx, `slug = ?`, slug)
}

// CreateGame inserts a game. Slug and Steam app ID collisions return apperror.ErrConflict.
func (r *Repository) CreateGame(ctx context.Context, g NewGame) (*Game, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO games (title, normalized_title, slug, steam_app_id, cover_image_url,
			metacritic_score, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, g.Title, g.NormalizedTitle, g.Slug, g.SteamAppID, g.CoverImageURL, g.MetacriticScore, now, now)
	if err != nil {
		return nil, conflictOr(err, "game", g.Slug)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetGame(ctx, id)
}

// AttachExternalID links a provider ID to a game. Linking an ID that is already
// present is a no-op.
func (r *Repository) AttachExternalID(ctx context.Context, gameID int64, provider, externalID string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO game_external_ids (game_id, provider, external_id)
		VALUES (?, ?, ?)
	`, gameID, provider, externalID)
	return err
}

// ExternalIDs returns the provider IDs linked to a game keyed by provider.
func (r *Repository) ExternalIDs(ctx context.Context, gameID int64) (map[string]string, error) {
	var rows []struct {
		Provider   string `db:"provider"`
		ExternalID string `db:"external_id"`
	}
	err := r.db.SelectContext(ctx, &rows,
		`SELECT provider, external_id FROM game_external_ids WHERE game_id = ? ORDER BY provider`, gameID)
	if err != nil {
		return nil, err
	}
	ids := make(map[string]string, len(rows))
	for _, row := range rows {
		ids[row.Provider] = row.ExternalID
	}
	return ids, nil
}

// UpdateGame applies the non-nil fields of u.
func (r *Repository) UpdateGame(ctx context.Context, id int64, u GameUpdate) error {
	var sets []string
	var args []interface{}
	add := func(column string, value interface{}) {
		sets = append(sets, column+" = ?")
		args = append(args, value)
	}

	if u.SteamAppID != nil {
		add("steam_app_id", *u.SteamAppID)
	}
	if u.IGDBID != nil {
		add("igdb_id", *u.IGDBID)
	}
	if u.Description != nil {
		add("description", *u.Description)
	}
	if u.Developer != nil {
		add("developer", *u.Developer)
	}
	if u.Publisher != nil {
		add("publisher", *u.Publisher)
	}
	if u.Genres != nil {
		add("genres", *u.Genres)
	}
	if u.Platforms != nil {
		add("platforms", *u.Platforms)
	}
	if u.CoverImageURL != nil {
		add("cover_image_url", *u.CoverImageURL)
	}
	if u.MetacriticScore != nil {
		add("metacritic_score", *u.MetacriticScore)
	}
	if u.UserRating != nil {
		add("user_rating", *u.UserRating)
	}
	if u.MetadataRefresh != nil {
		add("metadata_refreshed_at", *u.MetadataRefresh)
	}
	if len(sets) == 0 {
		return nil
	}
	add("updated_at", time.Now().UTC())
	args = append(args, id)

	query := fmt.Sprintf(`UPDATE games SET %s WHERE id = ?`, strings.Join(sets, ", "))
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return conflictOr(err, "game", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound("game", id)
	}
	return nil
}

// ListSteamAppIDs returns the Steam app IDs of all tracked games.
func (r *Repository) ListSteamAppIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := r.db.SelectContext(ctx, &ids,
		`SELECT steam_app_id FROM games WHERE steam_app_id IS NOT NULL ORDER BY steam_app_id`)
	return ids, err
}

// ListGamesWithoutSteamAppID returns up to limit games not yet linked to Steam.
func (r *Repository) ListGamesWithoutSteamAppID(ctx context.Context, limit int) ([]Game, error) {
	var games []Game
	err := r.db.SelectContext(ctx, &games,
		`SELECT `+gameColumns+` FROM games WHERE steam_app_id IS NULL ORDER BY id LIMIT ?`, limit)
	return games, err
}

// ListGamesNeedingMetadata returns up to limit games never enriched, or enriched
// before staleBefore.
func (r *Repository) ListGamesNeedingMetadata(ctx context.Context, staleBefore time.Time, limit int) ([]Game, error) {
	var games []Game
	err := r.db.SelectContext(ctx, &games, `
		SELECT `+gameColumns+` FROM games
		WHERE metadata_refreshed_at IS NULL OR metadata_refreshed_at < ?
		ORDER BY metadata_refreshed_at IS NOT NULL, id
		LIMIT ?`, staleBefore, limit)
	return games, err
}

// ListGames returns all games except excludeID, used by similarity scoring.
func (r *Repository) ListGames(ctx context.Context, excludeID int64) ([]Game, error) {
	var games []Game
	err := r.db.SelectContext(ctx, &games,
		`SELECT `+gameColumns+` FROM games WHERE id != ? ORDER BY id`, excludeID)
	return games, err
}
