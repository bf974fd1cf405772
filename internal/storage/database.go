package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
)

// ErrSavepoint reports a savepoint that could not be opened, rolled back or
// released. The enclosing transaction is unusable afterwards.
var ErrSavepoint = errors.New("savepoint failed")

// Database wraps the sqlx.DB connection.
type Database struct {
	*sqlx.DB
}

// DBTX is satisfied by both *sqlx.DB and *sqlx.Tx so repositories run inside or
// outside a transaction.
type DBTX interface {
	sqlx.ExtContext
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
}

// schema defines the database tables.
const schema = `
CREATE TABLE IF NOT EXISTS stores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    name TEXT UNIQUE NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    base_url TEXT NOT NULL DEFAULT '',
    is_active INTEGER NOT NULL DEFAULT 1,
    rate_limit_per_minute INTEGER NOT NULL DEFAULT 60,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS games (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    title TEXT NOT NULL,
    normalized_title TEXT NOT NULL,
    slug TEXT UNIQUE NOT NULL,
    steam_app_id INTEGER UNIQUE,
    igdb_id INTEGER UNIQUE,
    description TEXT NOT NULL DEFAULT '',
    developer TEXT NOT NULL DEFAULT '',
    publisher TEXT NOT NULL DEFAULT '',
    genres TEXT NOT NULL DEFAULT '[]',
    platforms TEXT NOT NULL DEFAULT '[]',
    cover_image_url TEXT NOT NULL DEFAULT '',
    metacritic_score INTEGER,
    user_rating REAL,
    metadata_refreshed_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS game_external_ids (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    external_id TEXT NOT NULL,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(provider, external_id),
    FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS game_stores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL,
    store_game_id TEXT NOT NULL DEFAULT '',
    store_url TEXT NOT NULL DEFAULT '',
    is_available INTEGER NOT NULL DEFAULT 1,
    current_price REAL,
    original_price REAL,
    discount_percentage REAL,
    currency TEXT NOT NULL DEFAULT 'USD',
    region TEXT NOT NULL DEFAULT 'US',
    last_price_check DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(game_id, store_id),
    FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE,
    FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE TABLE IF NOT EXISTS deals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    game_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL,
    provider TEXT NOT NULL,
    external_deal_id TEXT UNIQUE NOT NULL,
    title TEXT NOT NULL,
    deal_url TEXT NOT NULL DEFAULT '',
    thumbnail_url TEXT NOT NULL DEFAULT '',
    sale_price REAL NOT NULL,
    normal_price REAL NOT NULL,
    savings_percentage REAL NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    region TEXT NOT NULL DEFAULT 'US',
    deal_rating REAL,
    is_on_sale INTEGER NOT NULL DEFAULT 0,
    deal_start_date DATETIME,
    deal_end_date DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE,
    FOREIGN KEY (store_id) REFERENCES stores(id)
);

CREATE TABLE IF NOT EXISTS price_points (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    deal_id INTEGER NOT NULL,
    game_id INTEGER NOT NULL,
    store_id INTEGER NOT NULL,
    sale_price REAL NOT NULL,
    normal_price REAL NOT NULL,
    savings_percentage REAL NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    region TEXT NOT NULL DEFAULT 'US',
    recorded_at DATETIME NOT NULL,
    FOREIGN KEY (deal_id) REFERENCES deals(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    email TEXT UNIQUE,
    username TEXT NOT NULL DEFAULT '',
    telegram_chat_id INTEGER UNIQUE,
    preferred_currency TEXT NOT NULL DEFAULT 'USD',
    preferred_region TEXT NOT NULL DEFAULT 'US',
    price_alert_notifications INTEGER NOT NULL DEFAULT 1,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS user_wishlist (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    game_id INTEGER NOT NULL,
    notes TEXT NOT NULL DEFAULT '',
    priority INTEGER NOT NULL DEFAULT 1,
    target_price REAL,
    target_discount REAL,
    added_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, game_id),
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS price_alerts (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL,
    game_id INTEGER NOT NULL,
    target_price REAL NOT NULL,
    currency TEXT NOT NULL DEFAULT 'USD',
    region TEXT NOT NULL DEFAULT 'US',
    is_active INTEGER NOT NULL DEFAULT 1,
    is_triggered INTEGER NOT NULL DEFAULT 0,
    triggered_at DATETIME,
    triggered_price REAL,
    triggered_store TEXT,
    notification_sent INTEGER NOT NULL DEFAULT 0,
    notification_sent_at DATETIME,
    created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE,
    FOREIGN KEY (game_id) REFERENCES games(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_games_normalized_title ON games(normalized_title);
CREATE INDEX IF NOT EXISTS idx_game_external_ids_game ON game_external_ids(game_id);
CREATE INDEX IF NOT EXISTS idx_deals_game_region ON deals(game_id, region, is_on_sale, sale_price);
CREATE INDEX IF NOT EXISTS idx_deals_savings ON deals(savings_percentage);
CREATE INDEX IF NOT EXISTS idx_deals_created ON deals(created_at);
CREATE INDEX IF NOT EXISTS idx_price_points_game ON price_points(game_id, recorded_at);
CREATE INDEX IF NOT EXISTS idx_price_alerts_pending ON price_alerts(is_active, is_triggered);
`

// NewDatabase creates a new database connection and initializes the schema.
// dbPath ":memory:" opens a private in-memory database on a single connection.
func NewDatabase(dbPath string) (*Database, error) {
	inMemory := dbPath == ":memory:"

	// Immediate transactions take the write lock at BEGIN, so an overlapping
	// stage waits on the busy timeout instead of failing on a stale snapshot.
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if !inMemory {
		// Ensure directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn += "&_journal_mode=WAL"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if inMemory {
		// Every new connection would see an empty database.
		db.SetMaxOpenConns(1)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{DB: db}, nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.DB.Close()
}

// Repository returns a repository bound to the connection pool.
func (d *Database) Repository() *Repository {
	return NewRepository(d.DB)
}

// Tx is a repository bound to an open transaction.
type Tx struct {
	*Repository
	tx        *sqlx.Tx
	savepoint int
}

// InTx runs fn inside a transaction. The transaction commits when fn returns nil
// and rolls back entirely otherwise.
func (d *Database) InTx(ctx context.Context, fn func(tx *Tx) error) error {
	sqlTx, err := d.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	tx := &Tx{Repository: NewRepository(sqlTx), tx: sqlTx}
	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Savepoint runs fn inside a nested savepoint. When fn fails only its own writes are
// undone; earlier work in the transaction is kept.
func (t *Tx) Savepoint(ctx context.Context, fn func() error) error {
	t.savepoint++
	name := fmt.Sprintf("sp_%d", t.savepoint)

	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSavepoint, name, err)
	}

	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("%w: rollback to %s: %v", ErrSavepoint, name, rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("%w: release %s: %v", ErrSavepoint, name, relErr))
		}
		return err
	}

	if _, err := t.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("%w: release %s: %v", ErrSavepoint, name, err)
	}
	return nil
}

// IsUniqueViolation reports whether err comes from a UNIQUE or PRIMARY KEY constraint.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	// Some wrapped paths only keep the message.
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
