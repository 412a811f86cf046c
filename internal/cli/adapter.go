package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/config"
	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/localdb"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/remote"
	"github.com/kilupskalvis/recordfetch/internal/weaviate"
)

// buildAdapter connects the adapter the config selects. The returned
// function releases it.
func buildAdapter(ctx context.Context, cfg *config.Config, registry *models.Registry, logger *slog.Logger) (fetch.Adapter, func() error, error) {
	noop := func() error { return nil }
	a := cfg.Adapter

	switch a.Kind {
	case config.AdapterHTTP:
		client := remote.NewHTTPAdapter(remote.Options{
			BaseURL:           a.URL,
			Namespace:         a.Namespace,
			Token:             a.Token,
			RequestsPerSecond: a.RequestsPerSecond,
			Burst:             a.Burst,
			Timeout:           a.Timeout(),
		})
		return fetch.Async(remote.NewRetryAdapter(client, retryConfig(cfg.Retry))), noop, nil

	case config.AdapterWeaviate:
		client, err := weaviate.NewClient(a.URL, a.Token)
		if err != nil {
			return nil, nil, err
		}
		useCursor := true
		if version, err := client.GetServerVersion(ctx); err != nil {
			logger.Warn("could not detect Weaviate version, assuming cursor pagination", "error", err)
		} else if !version.SupportsCursor() {
			logger.Info("server < 1.18, using offset pagination", "version", version.Version)
			useCursor = false
		}
		adapter := weaviate.NewAdapter(client, registry, weaviate.AdapterOptions{
			Concurrency: a.Concurrency,
			UseCursor:   useCursor,
		})
		return fetch.Async(adapter), noop, nil

	case config.AdapterSQLite:
		db, err := localdb.Open(cfg.Resolve(a.Database))
		if err != nil {
			return nil, nil, err
		}
		return fetch.Async(localdb.NewAdapter(db, registry)), db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown adapter kind %q", a.Kind)
	}
}

func retryConfig(rc config.RetryConfig) *remote.RetryConfig {
	return &remote.RetryConfig{
		MaxRetries:     rc.MaxRetries,
		InitialBackoff: time.Duration(rc.InitialBackoffMS) * time.Millisecond,
		MaxBackoff:     time.Duration(rc.MaxBackoffMS) * time.Millisecond,
		JitterFraction: rc.JitterFraction,
	}
}
