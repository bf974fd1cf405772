// Package config provides configuration management for the application.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Providers ProvidersConfig `mapstructure:"providers"`
}

// TelegramConfig holds Telegram bot configuration.
// An empty token disables the bot and alert notifications are only logged.
type TelegramConfig struct {
	Token string `mapstructure:"token"`
	Debug bool   `mapstructure:"debug"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// ScheduleConfig holds the interval of every pipeline stage.
type ScheduleConfig struct {
	PriceUpdate   time.Duration `mapstructure:"price_update"`
	DealDiscovery time.Duration `mapstructure:"deal_discovery"`
	AlertCheck    time.Duration `mapstructure:"alert_check"`
	Cleanup       time.Duration `mapstructure:"cleanup"`
}

// PipelineConfig tunes the ingestion stages.
type PipelineConfig struct {
	Region         string        `mapstructure:"region"`
	RetentionDays  int           `mapstructure:"retention_days"`
	CleanupBatch   int           `mapstructure:"cleanup_batch"`
	PageSize       int           `mapstructure:"page_size"`
	HTTPTimeout    time.Duration `mapstructure:"http_timeout"`
	SteamLinkBatch int           `mapstructure:"steam_link_batch"`
	EnrichBatch    int           `mapstructure:"enrich_batch"`
}

// ProviderConfig holds the endpoint and request budget of one storefront API.
type ProviderConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	BaseURL            string `mapstructure:"base_url"`
	RateLimitPerMinute int    `mapstructure:"rate_limit_per_minute"`
}

// SteamConfig extends ProviderConfig with the app list endpoint.
type SteamConfig struct {
	ProviderConfig `mapstructure:",squash"`
	AppListURL     string `mapstructure:"app_list_url"`
}

// IGDBConfig holds IGDB credentials (Twitch client credentials flow).
type IGDBConfig struct {
	ProviderConfig `mapstructure:",squash"`
	ClientID       string `mapstructure:"client_id"`
	ClientSecret   string `mapstructure:"client_secret"`
	TokenURL       string `mapstructure:"token_url"`
}

// ProvidersConfig groups all external store clients.
type ProvidersConfig struct {
	CheapShark ProviderConfig `mapstructure:"cheapshark"`
	Steam      SteamConfig    `mapstructure:"steam"`
	Epic       ProviderConfig `mapstructure:"epic"`
	GOG        ProviderConfig `mapstructure:"gog"`
	IGDB       IGDBConfig     `mapstructure:"igdb"`
	// StoreMap adds or overrides "provider:store_id" -> store slug entries.
	StoreMap map[string]string `mapstructure:"store_map"`
}

// Load reads configuration from .env, the config file and environment variables.
func Load(configPath string) (*Config, error) {
	loadEnv(configPath)

	v := viper.New()
	setDefaults(v)

	// Read config file
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Read environment variables
	v.SetEnvPrefix("DEALTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("database.path", "./data/dealtracker.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("telegram.token", "")
	v.SetDefault("telegram.debug", false)

	v.SetDefault("schedule.price_update", "6h")
	v.SetDefault("schedule.deal_discovery", "2h")
	v.SetDefault("schedule.alert_check", "30m")
	v.SetDefault("schedule.cleanup", "24h")

	v.SetDefault("pipeline.region", "US")
	v.SetDefault("pipeline.retention_days", 90)
	v.SetDefault("pipeline.cleanup_batch", 5000)
	v.SetDefault("pipeline.page_size", 100)
	v.SetDefault("pipeline.http_timeout", "30s")
	v.SetDefault("pipeline.steam_link_batch", 25)
	v.SetDefault("pipeline.enrich_batch", 10)

	v.SetDefault("providers.cheapshark.enabled", true)
	v.SetDefault("providers.cheapshark.base_url", "https://www.cheapshark.com/api/1.0")
	v.SetDefault("providers.cheapshark.rate_limit_per_minute", 60)

	v.SetDefault("providers.steam.enabled", true)
	v.SetDefault("providers.steam.base_url", "https://store.steampowered.com/api")
	v.SetDefault("providers.steam.app_list_url", "https://api.steampowered.com/ISteamApps/GetAppList/v2/")
	v.SetDefault("providers.steam.rate_limit_per_minute", 200)

	v.SetDefault("providers.epic.enabled", true)
	v.SetDefault("providers.epic.base_url", "https://store-site-backend-static.ak.epicgames.com")
	v.SetDefault("providers.epic.rate_limit_per_minute", 60)

	v.SetDefault("providers.gog.enabled", true)
	v.SetDefault("providers.gog.base_url", "https://www.gog.com/games/ajax")
	v.SetDefault("providers.gog.rate_limit_per_minute", 60)

	v.SetDefault("providers.igdb.enabled", false)
	v.SetDefault("providers.igdb.base_url", "https://api.igdb.com/v4")
	v.SetDefault("providers.igdb.token_url", "https://id.twitch.tv/oauth2/token")
	v.SetDefault("providers.igdb.rate_limit_per_minute", 240)
	v.SetDefault("providers.igdb.client_id", "")
	v.SetDefault("providers.igdb.client_secret", "")
}

// loadEnv loads .env files next to the config file and in the working directory.
// Missing files are ignored.
func loadEnv(configPath string) {
	candidates := []string{".env"}
	if configPath != "" {
		candidates = append(candidates, filepath.Join(filepath.Dir(configPath), ".env"))
	}
	for _, candidate := range candidates {
		_ = godotenv.Load(candidate)
	}
}

// Validate checks that intervals and budgets are usable.
func (c *Config) Validate() error {
	intervals := map[string]time.Duration{
		"schedule.price_update":   c.Schedule.PriceUpdate,
		"schedule.deal_discovery": c.Schedule.DealDiscovery,
		"schedule.alert_check":    c.Schedule.AlertCheck,
		"schedule.cleanup":        c.Schedule.Cleanup,
		"pipeline.http_timeout":   c.Pipeline.HTTPTimeout,
	}
	for key, d := range intervals {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Pipeline.RetentionDays <= 0 {
		return fmt.Errorf("pipeline.retention_days must be positive")
	}
	if c.Pipeline.CleanupBatch <= 0 {
		return fmt.Errorf("pipeline.cleanup_batch must be positive")
	}
	if c.Pipeline.Region == "" {
		return fmt.Errorf("pipeline.region is required")
	}

	providers := map[string]ProviderConfig{
		"cheapshark": c.Providers.CheapShark,
		"steam":      c.Providers.Steam.ProviderConfig,
		"epic":       c.Providers.Epic,
		"gog":        c.Providers.GOG,
		"igdb":       c.Providers.IGDB.ProviderConfig,
	}
	for name, p := range providers {
		if p.Enabled && p.RateLimitPerMinute <= 0 {
			return fmt.Errorf("providers.%s.rate_limit_per_minute must be positive", name)
		}
	}
	if c.Providers.IGDB.Enabled && (c.Providers.IGDB.ClientID == "" || c.Providers.IGDB.ClientSecret == "") {
		return fmt.Errorf("providers.igdb requires client_id and client_secret")
	}
	return nil
}

// ServerAddress returns the full server address.
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Retention returns the deal retention window.
func (c *Config) Retention() time.Duration {
	return time.Duration(c.Pipeline.RetentionDays) * 24 * time.Hour
}
