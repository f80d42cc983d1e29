package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds client configuration. Values come from the environment and
// can be overridden per-command with flags.
type Config struct {
	// Backend
	APIURL string `env:"KRAFT_API_URL" envDefault:"http://127.0.0.1:5000"`

	// Client behavior
	Streaming   bool   `env:"KRAFT_STREAMING" envDefault:"false"`
	SessionType string `env:"KRAFT_SESSION_TYPE" envDefault:"idea"`
	DataDir     string `env:"KRAFT_DATA_DIR"`

	// Push channel reconnect policy: delay = attempt * ReconnectUnit,
	// stops for good after ReconnectAttempts failures.
	ReconnectAttempts int           `env:"KRAFT_RECONNECT_ATTEMPTS" envDefault:"5"`
	ReconnectUnit     time.Duration `env:"KRAFT_RECONNECT_UNIT" envDefault:"2s"`

	// Timeouts
	RequestTimeout time.Duration `env:"KRAFT_REQUEST_TIMEOUT" envDefault:"60s"`

	// Logging
	LogLevel string `env:"KRAFT_LOG_LEVEL" envDefault:"info"`

	// Bounded local caches
	RecentResults int `env:"KRAFT_RECENT_RESULTS" envDefault:"20"`
	ActivityLines int `env:"KRAFT_ACTIVITY_LINES" envDefault:"200"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	return cfg, nil
}

// Default returns the built-in configuration without consulting the
// environment. Used by tests and as the flag baseline.
func Default() *Config {
	return &Config{
		APIURL:            "http://127.0.0.1:5000",
		SessionType:       "idea",
		DataDir:           defaultDataDir(),
		ReconnectAttempts: 5,
		ReconnectUnit:     2 * time.Second,
		RequestTimeout:    60 * time.Second,
		LogLevel:          "info",
		RecentResults:     20,
		ActivityLines:     200,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kraft"
	}
	return filepath.Join(home, ".kraft")
}
