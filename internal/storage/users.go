package storage

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/user/dealtracker/internal/apperror"
)

// expectOne turns a zero-row write into apperror.ErrNotFound.
func expectOne(res sql.Result, err error, resource string, id any) error {
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}

// CreateOrUpdateTelegramUser registers a Telegram chat as a user, refreshing the
// username of a known chat.
func (r *Repository) CreateOrUpdateTelegramUser(ctx context.Context, chatID int64, username string) (*User, error) {
	now := time.Now().UTC()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (username, telegram_chat_id, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(telegram_chat_id) DO UPDATE SET
			username = excluded.username,
			updated_at = excluded.updated_at
	`, username, chatID, now, now)
	if err != nil {
		return nil, err
	}
	return r.FindUserByTelegramChat(ctx, chatID)
}

// CreateUser inserts a user with an email address.
func (r *Repository) CreateUser(ctx context.Context, email, username string) (*User, error) {
	now := time.Now().UTC()
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO users (email, username, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		email, username, now, now)
	if err != nil {
		return nil, conflictOr(err, "user", email)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return r.GetUser(ctx, id)
}

// GetUser returns a user by ID.
func (r *Repository) GetUser(ctx context.Context, id int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", id)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindUserByTelegramChat returns the user bound to a Telegram chat.
func (r *Repository) FindUserByTelegramChat(ctx context.Context, chatID int64) (*User, error) {
	var u User
	err := r.db.GetContext(ctx, &u, `SELECT * FROM users WHERE telegram_chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NotFound("user", chatID)
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}
