// Package config loads the recordfetch configuration: which adapter to talk
// to, how to log, where to cache, and the type classes records belong to.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile = "recordfetch.toml"
	EnvFile    = ".env"
)

// Environment overrides
const (
	EnvURL      = "RECORDFETCH_URL"
	EnvToken    = "RECORDFETCH_TOKEN"
	EnvLogLevel = "RECORDFETCH_LOG_LEVEL"
)

// Adapter kinds
const (
	AdapterHTTP     = "http"
	AdapterWeaviate = "weaviate"
	AdapterSQLite   = "sqlite"
)

// ErrNotFound is returned when no config file exists in the working
// directory or any parent.
var ErrNotFound = errors.New("no " + ConfigFile + " found (or any parent up to root)")

// AdapterConfig selects and configures the data source.
type AdapterConfig struct {
	Kind      string `toml:"kind"`
	URL       string `toml:"url"`
	Namespace string `toml:"namespace"`
	Token     string `toml:"token"`
	Database  string `toml:"database"` // sqlite file, relative to the config

	RequestsPerSecond float64 `toml:"requests_per_second"`
	Burst             int     `toml:"burst"`
	TimeoutSeconds    int     `toml:"timeout_seconds"`
	Concurrency       int     `toml:"concurrency"`
}

// Timeout returns the request timeout, zero when unset.
func (a AdapterConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// RetryConfig mirrors remote.RetryConfig in file form.
type RetryConfig struct {
	MaxRetries       int     `toml:"max_retries"`
	InitialBackoffMS int     `toml:"initial_backoff_ms"`
	MaxBackoffMS     int     `toml:"max_backoff_ms"`
	JitterFraction   float64 `toml:"jitter_fraction"`
}

// ServerConfig configures recordfetch-server.
type ServerConfig struct {
	Listen            string `toml:"listen"`
	Namespace         string `toml:"namespace"`
	Token             string `toml:"token"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
	Fixtures          string `toml:"fixtures"`
}

// Config represents a recordfetch.toml file.
type Config struct {
	Log     logging.Config      `toml:"log"`
	Cache   string              `toml:"cache"` // bbolt file, relative to the config; empty disables
	Adapter AdapterConfig       `toml:"adapter"`
	Retry   RetryConfig         `toml:"retry"`
	Server  ServerConfig        `toml:"server"`
	Types   []*models.TypeClass `toml:"types"`

	path string // directory holding the config file
}

// Default returns a config with defaults filled in and no types.
func Default() *Config {
	return &Config{
		Log:   logging.Config{Level: "info", Format: "text"},
		Cache: ".recordfetch/cache.db",
		Adapter: AdapterConfig{
			Kind:           AdapterHTTP,
			URL:            "http://localhost:8730",
			Namespace:      "api/v1",
			Burst:          1,
			TimeoutSeconds: 30,
			Concurrency:    8,
		},
		Retry: RetryConfig{
			MaxRetries:       3,
			InitialBackoffMS: 500,
			MaxBackoffMS:     30000,
			JitterFraction:   0.25,
		},
		Server: ServerConfig{
			Listen:            "0.0.0.0:8730",
			Namespace:         "api/v1",
			RequestsPerMinute: 600,
		},
	}
}

// FindConfig finds recordfetch.toml by walking up from dir.
func FindConfig(dir string) (string, error) {
	for {
		p := filepath.Join(dir, ConfigFile)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", ErrNotFound
		}
		dir = parent
	}
}

// Load reads the config at path, or finds one from the working directory
// when path is empty. A .env file next to the config is loaded into the
// process environment before overrides are applied.
func Load(path string) (*Config, error) {
	if path == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		path, err = FindConfig(cwd)
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	cfg.path = filepath.Dir(abs)

	if err := loadEnvFile(filepath.Join(cfg.path, EnvFile)); err != nil {
		return nil, err
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// loadEnvFile loads a .env file without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	err := godotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load %s: %w", path, err)
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvURL); v != "" {
		c.Adapter.URL = v
	}
	if v := os.Getenv(EnvToken); v != "" {
		c.Adapter.Token = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Log.Level = v
	}
}

// Validate checks the adapter kind and the type classes.
func (c *Config) Validate() error {
	switch c.Adapter.Kind {
	case AdapterHTTP, AdapterWeaviate:
		if c.Adapter.URL == "" {
			return fmt.Errorf("adapter %q needs a url", c.Adapter.Kind)
		}
	case AdapterSQLite:
		if c.Adapter.Database == "" {
			return fmt.Errorf("adapter %q needs a database", c.Adapter.Kind)
		}
	default:
		return fmt.Errorf("unknown adapter kind %q", c.Adapter.Kind)
	}
	if len(c.Types) == 0 {
		return fmt.Errorf("no types declared")
	}
	_, err := c.Registry()
	return err
}

// Registry builds a type registry from the declared types.
func (c *Config) Registry() (*models.Registry, error) {
	return models.NewRegistry(c.Types...)
}

// Save writes the configuration to its directory.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(filepath.Join(c.path, ConfigFile), data, 0644)
}

// Dir returns the directory holding the config file.
func (c *Config) Dir() string {
	return c.path
}

// Resolve makes a config-relative path absolute. Empty stays empty.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.path, p)
}

// CachePath returns the absolute bbolt cache path, or "" when disabled.
func (c *Config) CachePath() string {
	return c.Resolve(c.Cache)
}

// Initialize writes a starter recordfetch.toml into dir, declaring a small
// post/person/comment model.
func Initialize(dir, adapterURL string) (*Config, error) {
	p := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(p); err == nil {
		return nil, fmt.Errorf("%s already exists", p)
	}

	cfg := Default()
	cfg.path = dir
	if adapterURL != "" {
		cfg.Adapter.URL = adapterURL
	}
	cfg.Types = []*models.TypeClass{
		{
			Name:       "post",
			Attributes: []string{"title", "body"},
			Relationships: []*models.Relationship{
				{Name: "author", Kind: models.BelongsTo, Type: "person", Link: "/posts/{id}/author"},
				{Name: "comments", Kind: models.HasMany, Type: "comment", Link: "/posts/{id}/comments"},
			},
		},
		{Name: "person", Plural: "people", Attributes: []string{"name"}},
		{
			Name:          "comment",
			Attributes:    []string{"body"},
			Relationships: []*models.Relationship{{Name: "post", Kind: models.BelongsTo, Type: "post"}},
		},
	}

	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}
