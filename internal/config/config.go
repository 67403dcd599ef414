package config

import (
	"os"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Memory   MemoryConfig   `toml:"memory"`
	Email    OAuthConfig    `toml:"email"`
	Calendar OAuthConfig    `toml:"calendar"`
	Database DatabaseConfig `toml:"database"`
	User     UserConfig     `toml:"user"`
	Observer ObserverConfig `toml:"observer"`
}

type ServerConfig struct {
	Addr    string `toml:"addr"`
	BaseURL string `toml:"base_url"` // public base for OAuth redirect URIs
}

type MemoryConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

type OAuthConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
}

type DatabaseConfig struct {
	Path        string `toml:"path"`
	PostgresURL string `toml:"postgres_url"` // when set, postgres replaces sqlite
}

type UserConfig struct {
	DefaultTimezone string `toml:"default_timezone"`
}

type ObserverConfig struct {
	Enabled bool `toml:"enabled"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		Server:   ServerConfig{Addr: ":8080", BaseURL: "http://localhost:8080"},
		Database: DatabaseConfig{Path: "valet.db"},
		User:     UserConfig{DefaultTimezone: "UTC"},
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "valet.toml"
	}

	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	// Env overrides
	if v := os.Getenv("VALET_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("VALET_BASE_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("VALET_MEMORY_API_KEY"); v != "" {
		cfg.Memory.APIKey = v
	}
	if v := os.Getenv("VALET_MEMORY_BASE_URL"); v != "" {
		cfg.Memory.BaseURL = v
	}
	if v := os.Getenv("VALET_EMAIL_CLIENT_ID"); v != "" {
		cfg.Email.ClientID = v
	}
	if v := os.Getenv("VALET_EMAIL_CLIENT_SECRET"); v != "" {
		cfg.Email.ClientSecret = v
	}
	if v := os.Getenv("VALET_CALENDAR_CLIENT_ID"); v != "" {
		cfg.Calendar.ClientID = v
	}
	if v := os.Getenv("VALET_CALENDAR_CLIENT_SECRET"); v != "" {
		cfg.Calendar.ClientSecret = v
	}
	if v := os.Getenv("VALET_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("VALET_POSTGRES_URL"); v != "" {
		cfg.Database.PostgresURL = v
	}
	if v := os.Getenv("VALET_DEFAULT_TIMEZONE"); v != "" {
		cfg.User.DefaultTimezone = v
	}
	if os.Getenv("VALET_OBSERVER_ENABLED") == "true" || os.Getenv("VALET_OBSERVER_ENABLED") == "1" {
		cfg.Observer.Enabled = true
	}

	// A single Google OAuth app commonly backs both integrations.
	if cfg.Calendar.ClientID == "" {
		cfg.Calendar = cfg.Email
	}

	return cfg
}
