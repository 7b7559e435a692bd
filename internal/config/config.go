// Package config provides configuration loading for extractflow.
// Supports YAML files, .env files, and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultBaseURL is the hosted processing API.
	DefaultBaseURL = "https://staging.impromptu-labs.com/api_tools"
	// DefaultPromptTemplate is the extraction instruction; the service substitutes {input_data}.
	DefaultPromptTemplate = "Extract key information and structure from this data: {input_data}"
	// PromptPlaceholder must appear in every prompt template.
	PromptPlaceholder = "{input_data}"

	tokenEnv     = "EXTRACTFLOW_API_TOKEN"
	stubTokenEnv = "EXTRACTFLOW_STUB_TOKEN"
)

// ErrMissingToken is returned when no API token is present in the environment.
var ErrMissingToken = errors.New(tokenEnv + " environment variable is not set")

// Config holds all configuration for extractflow.
type Config struct {
	Remote        RemoteConfig        `yaml:"remote"`
	Extraction    ExtractionConfig    `yaml:"extraction"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Archive       ArchiveConfig       `yaml:"archive"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Export        ExportConfig        `yaml:"export"`
	Observability ObservabilityConfig `yaml:"observability"`
	Stub          StubConfig          `yaml:"stub"`
}

// RemoteConfig describes the processing API endpoint.
type RemoteConfig struct {
	BaseURL        string        `yaml:"base_url"`
	RequestTimeout time.Duration `yaml:"request_timeout"` // 0 means no timeout
}

// ExtractionConfig holds the parameters of the transform step.
type ExtractionConfig struct {
	PromptTemplate     string `yaml:"prompt_template"`
	ProcessingMode     string `yaml:"processing_mode"`
	DataType           string `yaml:"data_type"`
	AutoCleanupOrphans bool   `yaml:"auto_cleanup_orphans"`
}

// LedgerConfig bounds the in-memory call ledger.
type LedgerConfig struct {
	MaxEntries int `yaml:"max_entries"` // 0 means unbounded
}

// ArchiveConfig selects the optional SQL archive for ledger records and created objects.
type ArchiveConfig struct {
	Driver   string         `yaml:"driver"` // "", sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path         string `yaml:"path"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN          string `yaml:"dsn"`
	MaxOpenConns int    `yaml:"max_open_conns"`
}

// BroadcastConfig enables publishing ledger records to Redis.
type BroadcastConfig struct {
	Enabled bool        `yaml:"enabled"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
	Channel  string `yaml:"channel"`
}

// ExportConfig controls where CSV exports are written.
type ExportConfig struct {
	Dir string `yaml:"dir"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// StubConfig configures the local stand-in for the processing API.
type StubConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Load reads configuration from .env files, an optional YAML file and the environment.
func Load(path string) (*Config, error) {
	// .env files are optional
	_ = godotenv.Load()
	_ = godotenv.Load("../.env")

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL: DefaultBaseURL,
		},
		Extraction: ExtractionConfig{
			PromptTemplate: DefaultPromptTemplate,
			ProcessingMode: "combine_events",
			DataType:       "strings",
		},
		Archive: ArchiveConfig{
			SQLite: SQLiteConfig{
				Path:         filepath.Join(dataDir(), "extractflow.db"),
				MaxOpenConns: 1,
			},
			Postgres: PostgresConfig{
				MaxOpenConns: 5,
			},
		},
		Broadcast: BroadcastConfig{
			Redis: RedisConfig{
				Addr:    "localhost:6379",
				Prefix:  "ef:",
				Channel: "ledger",
			},
		},
		Export: ExportConfig{
			Dir: ".",
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
		Stub: StubConfig{
			Host: "127.0.0.1",
			Port: 8089,
		},
	}
}

// dataDir returns $EXTRACTFLOW_DATA_DIR, then ~/.extractflow, then ./data.
func dataDir() string {
	if dir := os.Getenv("EXTRACTFLOW_DATA_DIR"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".extractflow")
	}
	return "data"
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("remote.base_url must be an absolute URL, got %q", c.Remote.BaseURL)
	}

	if c.Remote.RequestTimeout < 0 {
		return fmt.Errorf("remote.request_timeout must not be negative")
	}

	if !strings.Contains(c.Extraction.PromptTemplate, PromptPlaceholder) {
		return fmt.Errorf("extraction.prompt_template must contain %s", PromptPlaceholder)
	}

	if c.Extraction.ProcessingMode == "" {
		return fmt.Errorf("extraction.processing_mode is required")
	}

	if c.Extraction.DataType != "strings" {
		return fmt.Errorf("extraction.data_type %q is not supported", c.Extraction.DataType)
	}

	if c.Ledger.MaxEntries < 0 {
		return fmt.Errorf("ledger.max_entries must not be negative")
	}

	switch c.Archive.Driver {
	case "":
	case "sqlite":
		if c.Archive.SQLite.Path == "" {
			return fmt.Errorf("archive.sqlite.path is required")
		}
	case "postgres":
		if c.Archive.Postgres.DSN == "" {
			return fmt.Errorf("archive.postgres.dsn is required")
		}
	default:
		return fmt.Errorf("unsupported archive driver: %s", c.Archive.Driver)
	}

	if c.Broadcast.Enabled && c.Broadcast.Redis.Addr == "" {
		return fmt.Errorf("broadcast.redis.addr is required when broadcast is enabled")
	}

	if c.Stub.Port < 1 || c.Stub.Port > 65535 {
		return fmt.Errorf("stub.port must be between 1 and 65535")
	}

	return nil
}

// APIToken returns the bearer token for the processing API from the environment.
func (c *Config) APIToken() (string, error) {
	token := os.Getenv(tokenEnv)
	if token == "" {
		return "", ErrMissingToken
	}
	return token, nil
}

// StubToken returns the token the local stub accepts, defaulting to the API token.
func (c *Config) StubToken() string {
	if token := os.Getenv(stubTokenEnv); token != "" {
		return token
	}
	return os.Getenv(tokenEnv)
}

// ArchiveDSN returns the data source name for the configured archive driver.
func (c *Config) ArchiveDSN() string {
	if c.Archive.Driver == "postgres" {
		return c.Archive.Postgres.DSN
	}
	return c.Archive.SQLite.Path
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EXTRACTFLOW_BASE_URL"); v != "" {
		cfg.Remote.BaseURL = strings.TrimRight(v, "/")
	}

	if v := os.Getenv("EXTRACTFLOW_REQUEST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Remote.RequestTimeout = d
		}
	}

	if v := os.Getenv("EXTRACTFLOW_PROMPT"); v != "" {
		cfg.Extraction.PromptTemplate = v
	}

	if v := os.Getenv("EXTRACTFLOW_AUTO_CLEANUP"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Extraction.AutoCleanupOrphans = b
		}
	}

	if v := os.Getenv("EXTRACTFLOW_LEDGER_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ledger.MaxEntries = n
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Archive.Driver = "sqlite"
			cfg.Archive.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Archive.Driver = "postgres"
			cfg.Archive.Postgres.DSN = v
		}
	}

	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Broadcast.Enabled = true
		cfg.Broadcast.Redis.Addr = strings.TrimPrefix(v, "redis://")
	}

	if v := os.Getenv("EXTRACTFLOW_EXPORT_DIR"); v != "" {
		cfg.Export.Dir = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}

	if v := os.Getenv("EXTRACTFLOW_STUB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Stub.Port = port
		}
	}
}
