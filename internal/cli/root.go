// Package cli implements the command-line interface for recordfetch.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/kilupskalvis/recordfetch/internal/config"
	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/metrics"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/store"
	"github.com/spf13/cobra"
)

const sinceKeyPrefix = "since:"

var (
	configPath   string
	logLevel     string
	dumpMetrics  bool
	disableCache bool
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config   *config.Config
	Registry *models.Registry
	Store    *store.Store
	Fetcher  *fetch.Fetcher
	Logger   *slog.Logger

	cache        *store.BoltCache
	closeAdapter func() error
}

// Close saves since tokens and releases the store, cache and adapter.
func (c *cmdContext) Close() {
	if c.cache != nil && c.Store != nil {
		for _, name := range c.Registry.Names() {
			if token := c.Store.SinceToken(name); token != "" {
				if err := c.cache.SetValue(sinceKeyPrefix+name, token); err != nil {
					c.Logger.Warn("failed to save since token", "type", name, "error", err)
				}
			}
		}
	}
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			c.Logger.Warn("failed to close store", "error", err)
		}
	}
	if c.closeAdapter != nil {
		if err := c.closeAdapter(); err != nil {
			c.Logger.Warn("failed to close adapter", "error", err)
		}
	}
}

// initConfig loads the config and builds the logger and registry.
func initConfig() (*config.Config, *models.Registry, *slog.Logger) {
	cfg, err := config.Load(configPath)
	if err != nil {
		exitError("%v", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	logger := logging.New(os.Stderr, cfg.Log)
	slog.SetDefault(logger)

	registry, err := cfg.Registry()
	if err != nil {
		exitError("%v", err)
	}
	return cfg, registry, logger
}

// initContext loads the config, opens the record cache, warm-loads the store
// and connects the adapter.
func initContext() *cmdContext {
	cfg, registry, logger := initConfig()
	c := &cmdContext{Config: cfg, Registry: registry, Logger: logger}

	opts := []store.Option{store.WithLogger(logger)}
	if p := cfg.CachePath(); p != "" && !disableCache {
		cache, err := store.OpenBoltCache(p)
		if err != nil {
			exitError("failed to open record cache: %v", err)
		}
		c.cache = cache
		opts = append(opts, store.WithPersister(cache))
	}
	c.Store = store.New(opts...)

	if c.cache != nil {
		if _, err := c.Store.WarmLoad(); err != nil {
			c.Close()
			exitError("%v", err)
		}
		for _, name := range registry.Names() {
			token, err := c.cache.GetValue(sinceKeyPrefix + name)
			if err != nil {
				c.Close()
				exitError("failed to read since token: %v", err)
			}
			if token != "" {
				c.Store.SetSinceToken(name, token)
			}
		}
	}

	adapter, closeAdapter, err := buildAdapter(context.Background(), cfg, registry, logger)
	if err != nil {
		c.Close()
		exitError("%v", err)
	}
	c.closeAdapter = closeAdapter
	c.Fetcher = fetch.NewFetcher(registry, adapter, c.Store, fetch.WithFetcherLogger(logger))

	return c
}

var rootCmd = &cobra.Command{
	Use:   "recordfetch",
	Short: "Fetch records from a data source into a local store",
	Long: `recordfetch fetches typed records through an adapter (REST, Weaviate or
SQLite), normalizes the payloads and merges them into a record store that
is cached on disk between runs.`,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if dumpMetrics {
			if err := metrics.WriteText(os.Stderr); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to write metrics: %v\n", err)
			}
		}
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "Config file (default: recordfetch.toml in this or a parent directory)")
	pf.StringVar(&logLevel, "log-level", "", "Log level (debug|info|warn|error), overrides the config")
	pf.BoolVar(&dumpMetrics, "metrics", false, "Print fetch metrics to stderr when done")
	pf.BoolVar(&disableCache, "no-cache", false, "Do not read or write the record cache")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(findCmd)
	rootCmd.AddCommand(findManyCmd)
	rootCmd.AddCommand(findAllCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(relatedCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(dbCmd)
}

// exitError prints an error and exits
func exitError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}
