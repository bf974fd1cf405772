// Package storage provides database operations and data models.
package storage

import "time"

// Game is a title tracked across storefronts. Created on first sighting, never
// deleted by the pipeline.
type Game struct {
	ID                  int64      `db:"id" json:"id"`
	Title               string     `db:"title" json:"title"`
	NormalizedTitle     string     `db:"normalized_title" json:"-"`
	Slug                string     `db:"slug" json:"slug"`
	SteamAppID          *int64     `db:"steam_app_id" json:"steam_app_id,omitempty"`
	IGDBID              *int64     `db:"igdb_id" json:"igdb_id,omitempty"`
	Description         string     `db:"description" json:"description,omitempty"`
	Developer           string     `db:"developer" json:"developer,omitempty"`
	Publisher           string     `db:"publisher" json:"publisher,omitempty"`
	Genres              StringSet  `db:"genres" json:"genres"`
	Platforms           StringSet  `db:"platforms" json:"platforms"`
	CoverImageURL       string     `db:"cover_image_url" json:"cover_image_url,omitempty"`
	MetacriticScore     *int       `db:"metacritic_score" json:"metacritic_score,omitempty"`
	UserRating          *float64   `db:"user_rating" json:"user_rating,omitempty"`
	MetadataRefreshedAt *time.Time `db:"metadata_refreshed_at" json:"-"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at" json:"updated_at"`
}

// NewGame holds the fields needed to insert a game.
type NewGame struct {
	Title           string
	NormalizedTitle string
	Slug            string
	SteamAppID      *int64
	CoverImageURL   string
	MetacriticScore *int
}

// GameUpdate enumerates the mutable game fields. Nil fields are left untouched.
type GameUpdate struct {
	SteamAppID      *int64
	IGDBID          *int64
	Description     *string
	Developer       *string
	Publisher       *string
	Genres          *StringSet
	Platforms       *StringSet
	CoverImageURL   *string
	MetacriticScore *int
	UserRating      *float64
	MetadataRefresh *time.Time
}

// Store is a storefront. Static reference data seeded at startup.
type Store struct {
	ID                 int64     `db:"id" json:"id"`
	Name               string    `db:"name" json:"name"`
	Slug               string    `db:"slug" json:"slug"`
	BaseURL            string    `db:"base_url" json:"base_url"`
	IsActive           bool      `db:"is_active" json:"is_active"`
	RateLimitPerMinute int       `db:"rate_limit_per_minute" json:"rate_limit_per_minute"`
	CreatedAt          time.Time `db:"created_at" json:"-"`
	UpdatedAt          time.Time `db:"updated_at" json:"-"`
}

// GameStore is the current-price snapshot of a game on one store.
type GameStore struct {
	ID                 int64      `db:"id" json:"id"`
	GameID             int64      `db:"game_id" json:"game_id"`
	StoreID            int64      `db:"store_id" json:"store_id"`
	StoreGameID        string     `db:"store_game_id" json:"store_game_id"`
	StoreURL           string     `db:"store_url" json:"store_url"`
	IsAvailable        bool       `db:"is_available" json:"is_available"`
	CurrentPrice       *float64   `db:"current_price" json:"current_price"`
	OriginalPrice      *float64   `db:"original_price" json:"original_price"`
	DiscountPercentage *float64   `db:"discount_percentage" json:"discount_percentage"`
	Currency           string     `db:"currency" json:"currency"`
	Region             string     `db:"region" json:"region"`
	LastPriceCheck     *time.Time `db:"last_price_check" json:"last_price_check"`
	CreatedAt          time.Time  `db:"created_at" json:"-"`
	UpdatedAt          time.Time  `db:"updated_at" json:"-"`
}

// Deal is a priced offer of a game on a store. Price fields are written only by the
// reconciler.
type Deal struct {
	ID                int64      `db:"id" json:"id"`
	GameID            int64      `db:"game_id" json:"game_id"`
	StoreID           int64      `db:"store_id" json:"store_id"`
	Provider          string     `db:"provider" json:"provider"`
	ExternalDealID    string     `db:"external_deal_id" json:"external_deal_id"`
	Title             string     `db:"title" json:"title"`
	DealURL           string     `db:"deal_url" json:"deal_url"`
	ThumbnailURL      string     `db:"thumbnail_url" json:"thumbnail_url"`
	SalePrice         float64    `db:"sale_price" json:"sale_price"`
	NormalPrice       float64    `db:"normal_price" json:"normal_price"`
	SavingsPercentage float64    `db:"savings_percentage" json:"savings_percentage"`
	Currency          string     `db:"currency" json:"currency"`
	Region            string     `db:"region" json:"region"`
	DealRating        *float64   `db:"deal_rating" json:"deal_rating,omitempty"`
	IsOnSale          bool       `db:"is_on_sale" json:"is_on_sale"`
	DealStartDate     *time.Time `db:"deal_start_date" json:"deal_start_date,omitempty"`
	DealEndDate       *time.Time `db:"deal_end_date" json:"deal_end_date,omitempty"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

// DealUpsert is the reconciler's write model for a deal.
type DealUpsert struct {
	GameID            int64
	StoreID           int64
	Provider          string
	ExternalDealID    string
	Title             string
	DealURL           string
	ThumbnailURL      string
	SalePrice         float64
	NormalPrice       float64
	SavingsPercentage float64
	Currency          string
	Region            string
	DealRating        *float64
	IsOnSale          bool
	DealStartDate     *time.Time
	DealEndDate       *time.Time
	Now               time.Time
}

// GameStoreSnapshot is the write model for a game_stores row.
type GameStoreSnapshot struct {
	GameID             int64
	StoreID            int64
	StoreGameID        string
	StoreURL           string
	CurrentPrice       float64
	OriginalPrice      float64
	DiscountPercentage float64
	Currency           string
	Region             string
	CheckedAt          time.Time
}

// PricePoint is one observed price of a deal.
type PricePoint struct {
	ID                int64     `db:"id" json:"-"`
	DealID            int64     `db:"deal_id" json:"deal_id"`
	GameID            int64     `db:"game_id" json:"game_id"`
	StoreID           int64     `db:"store_id" json:"store_id"`
	SalePrice         float64   `db:"sale_price" json:"price"`
	NormalPrice       float64   `db:"normal_price" json:"original_price"`
	SavingsPercentage float64   `db:"savings_percentage" json:"discount"`
	Currency          string    `db:"currency" json:"currency"`
	Region            string    `db:"region" json:"region"`
	RecordedAt        time.Time `db:"recorded_at" json:"date"`
}

// User receives price alert notifications.
type User struct {
	ID                      int64     `db:"id" json:"id"`
	Email                   *string   `db:"email" json:"email,omitempty"`
	Username                string    `db:"username" json:"username"`
	TelegramChatID          *int64    `db:"telegram_chat_id" json:"-"`
	PreferredCurrency       string    `db:"preferred_currency" json:"preferred_currency"`
	PreferredRegion         string    `db:"preferred_region" json:"preferred_region"`
	PriceAlertNotifications bool      `db:"price_alert_notifications" json:"price_alert_notifications"`
	IsActive                bool      `db:"is_active" json:"is_active"`
	CreatedAt               time.Time `db:"created_at" json:"created_at"`
	UpdatedAt               time.Time `db:"updated_at" json:"-"`
}

// WishlistEntry links a user to a game they want. Presentation-only filter.
type WishlistEntry struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"user_id"`
	GameID         int64     `db:"game_id" json:"game_id"`
	Notes          string    `db:"notes" json:"notes,omitempty"`
	Priority       int       `db:"priority" json:"priority"`
	TargetPrice    *float64  `db:"target_price" json:"target_price,omitempty"`
	TargetDiscount *float64  `db:"target_discount" json:"target_discount,omitempty"`
	AddedAt        time.Time `db:"added_at" json:"added_at"`
}

// PriceAlert fires once when a game's best on-sale price reaches the target.
// Trigger fields are written only by the alert evaluator.
type PriceAlert struct {
	ID                 int64      `db:"id" json:"id"`
	UserID             int64      `db:"user_id" json:"user_id"`
	GameID             int64      `db:"game_id" json:"game_id"`
	TargetPrice        float64    `db:"target_price" json:"target_price"`
	Currency           string     `db:"currency" json:"currency"`
	Region             string     `db:"region" json:"region"`
	IsActive           bool       `db:"is_active" json:"is_active"`
	IsTriggered        bool       `db:"is_triggered" json:"is_triggered"`
	TriggeredAt        *time.Time `db:"triggered_at" json:"triggered_at,omitempty"`
	TriggeredPrice     *float64   `db:"triggered_price" json:"triggered_price,omitempty"`
	TriggeredStore     *string    `db:"triggered_store" json:"triggered_store,omitempty"`
	NotificationSent   bool       `db:"notification_sent" json:"notification_sent"`
	NotificationSentAt *time.Time `db:"notification_sent_at" json:"-"`
	CreatedAt          time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time  `db:"updated_at" json:"updated_at"`
}

// DealView is a deal joined with its game and store for presentation.
type DealView struct {
	Deal
	GameSlug  string `db:"game_slug" json:"game_slug"`
	StoreName string `db:"store_name" json:"store_name"`
	StoreSlug string `db:"store_slug" json:"store_slug"`
}

// AlertView is an alert joined with its game title.
type AlertView struct {
	PriceAlert
	GameTitle string `db:"game_title" json:"game_title"`
	GameSlug  string `db:"game_slug" json:"game_slug"`
}
