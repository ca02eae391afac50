package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for the importer.
// Configuration can come from a YAML file (config.yaml) or environment
// variables. Environment variables always override YAML values for fields
// that support both. Secrets (the postgres DSN) must only come from
// environment variables.
type Config struct {
	// DataDir is where downloaded dumps, the default database file, and
	// exported artifacts live. Created on first run if missing.
	DataDir string `yaml:"data_dir" env:"EDDBLINK_DATA_DIR" env-default:"data"`

	// ExportDir is where table CSVs and the prices file are written.
	// Defaults to DataDir when empty.
	ExportDir string `yaml:"export_dir" env:"EDDBLINK_EXPORT_DIR" env-default:""`

	Version string `yaml:"-"` // Set at load time, not from config

	// Source mirror configuration
	Source SourceConfig `yaml:"source"`

	// Database configuration (sqlite by default, postgres optional)
	Database DatabaseConfig `yaml:"database"`

	// Logging configuration
	Logging LoggingConfig `yaml:"logging"`
}

// SourceConfig holds the dump mirror endpoints.
type SourceConfig struct {
	// BaseURL is the primary mirror serving the dump files.
	BaseURL string `yaml:"base_url" env:"EDDBLINK_BASE_URL" env-default:"http://elite.ripz.org/files/"`

	// FallbackURL is the archive used when the primary mirror is down.
	// It does not serve the live listings file.
	FallbackURL string `yaml:"fallback_url" env:"EDDBLINK_FALLBACK_URL" env-default:"https://eddb.io/archive/v5/"`

	// ShipsURL is the coriolis ship index. It publishes no Last-Modified
	// header, so it is re-fetched on every run that needs it.
	ShipsURL string `yaml:"ships_url" env:"EDDBLINK_SHIPS_URL" env-default:"https://raw.githubusercontent.com/EDCD/coriolis-data/master/dist/index.json"`

	// Timeout bounds each HTTP request (probe or download).
	Timeout time.Duration `yaml:"timeout" env:"EDDBLINK_HTTP_TIMEOUT" env-default:"60s"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	// Driver selects the backend: "sqlite" (default) or "postgres".
	Driver string `yaml:"driver" env:"EDDBLINK_DB_DRIVER" env-default:"sqlite"`

	// Path is the sqlite database file. Defaults to
	// <data_dir>/TradeDangerous.db when empty.
	Path string `yaml:"path" env:"EDDBLINK_DB_PATH" env-default:""`

	// URL is the postgres DSN. Secret - not in YAML.
	URL string `yaml:"-" env:"EDDBLINK_DB_URL"`

	// BusyRetryDelay is the wait between attempts while another writer
	// holds the database. Busy writes are retried without limit.
	BusyRetryDelay time.Duration `yaml:"busy_retry_delay" env:"EDDBLINK_DB_BUSY_RETRY_DELAY" env-default:"1s"`
}

// LoggingConfig holds logger construction settings.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"EDDBLINK_LOG_LEVEL" env-default:"info"`
	Format string `yaml:"format" env:"EDDBLINK_LOG_FORMAT" env-default:"console"` // console|json
}

// Load reads configuration from the given YAML file with environment
// variable overrides. A missing file is not an error: the environment and
// defaults are enough to run. The version parameter is injected at build
// time and set on the returned Config.
func Load(path, version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to read environment: %w", err)
		}
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills fields whose defaults derive from other fields.
func (c *Config) applyDefaults() {
	if c.ExportDir == "" {
		c.ExportDir = c.DataDir
	}
	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.DataDir, "TradeDangerous.db")
	}

	// Mirror URLs are joined with bare file names.
	c.Source.BaseURL = ensureTrailingSlash(c.Source.BaseURL)
	c.Source.FallbackURL = ensureTrailingSlash(c.Source.FallbackURL)
}

func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlite":
		// Path always has a default by now.
	case "postgres":
		if c.Database.URL == "" {
			return fmt.Errorf("postgres driver requires EDDBLINK_DB_URL")
		}
	default:
		return fmt.Errorf("unknown database driver %q (want sqlite or postgres)", c.Database.Driver)
	}

	if c.Source.BaseURL == "" || c.Source.FallbackURL == "" || c.Source.ShipsURL == "" {
		return fmt.Errorf("source URLs must not be empty")
	}

	return nil
}

func ensureTrailingSlash(u string) string {
	if u != "" && !strings.HasSuffix(u, "/") {
		return u + "/"
	}
	return u
}
