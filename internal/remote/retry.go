package remote

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	"github.com/kilupskalvis/recordfetch/internal/fetch"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
)

// RetryConfig configures retry behavior for transient errors.
type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig returns sensible retry defaults.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		JitterFraction: 0.25,
	}
}

// RetryAdapter wraps a blocking adapter with automatic retry on transient
// errors. Every fetch is a read, so every call is retried.
type RetryAdapter struct {
	inner  fetch.BlockingAdapter
	config *RetryConfig
}

var _ fetch.BlockingAdapter = (*RetryAdapter)(nil)

// NewRetryAdapter creates a RetryAdapter around inner.
func NewRetryAdapter(inner fetch.BlockingAdapter, cfg *RetryConfig) *RetryAdapter {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	return &RetryAdapter{inner: inner, config: cfg}
}

// SerializerFor forwards to the wrapped adapter.
func (ra *RetryAdapter) SerializerFor(tc *models.TypeClass) serializer.Serializer {
	if p, ok := ra.inner.(serializer.Provider); ok {
		return p.SerializerFor(tc)
	}
	return nil
}

// isTransient returns true for errors that are worth retrying.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var re *RemoteError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true // network errors are transient
}

// backoff computes the delay for the given attempt with jitter.
func (ra *RetryAdapter) backoff(attempt int) time.Duration {
	base := float64(ra.config.InitialBackoff) * math.Pow(2, float64(attempt))
	if base > float64(ra.config.MaxBackoff) {
		base = float64(ra.config.MaxBackoff)
	}
	jitter := base * ra.config.JitterFraction * (rand.Float64()*2 - 1)
	d := time.Duration(base + jitter)
	if d < 0 {
		d = 0
	}
	return d
}

// sleep waits for the given duration or until the context is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retry executes fn with retry logic. Only retries transient errors.
func (ra *RetryAdapter) retry(ctx context.Context, operation string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt <= ra.config.MaxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !isTransient(lastErr) {
			return lastErr
		}
		if attempt < ra.config.MaxRetries {
			d := ra.backoff(attempt)
			if err := sleep(ctx, d); err != nil {
				return fmt.Errorf("%s: %w (retry cancelled)", operation, lastErr)
			}
		}
	}
	return fmt.Errorf("%s: %w (after %d retries)", operation, lastErr, ra.config.MaxRetries)
}

func (ra *RetryAdapter) Find(ctx context.Context, tc *models.TypeClass, id string, snapshot *models.Snapshot) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "find", func() error {
		payload, err = ra.inner.Find(ctx, tc, id, snapshot)
		return err
	})
	return
}

func (ra *RetryAdapter) FindMany(ctx context.Context, tc *models.TypeClass, ids []string, snapshots []*models.Snapshot) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "find many", func() error {
		payload, err = ra.inner.FindMany(ctx, tc, ids, snapshots)
		return err
	})
	return
}

func (ra *RetryAdapter) FindHasMany(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "find has-many", func() error {
		payload, err = ra.inner.FindHasMany(ctx, snapshot, link, rel)
		return err
	})
	return
}

func (ra *RetryAdapter) FindBelongsTo(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "find belongs-to", func() error {
		payload, err = ra.inner.FindBelongsTo(ctx, snapshot, link, rel)
		return err
	})
	return
}

func (ra *RetryAdapter) FindAll(ctx context.Context, tc *models.TypeClass, sinceToken string) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "find all", func() error {
		payload, err = ra.inner.FindAll(ctx, tc, sinceToken)
		return err
	})
	return
}

func (ra *RetryAdapter) FindQuery(ctx context.Context, tc *models.TypeClass, query map[string]interface{}) (payload models.AdapterPayload, err error) {
	err = ra.retry(ctx, "query", func() error {
		payload, err = ra.inner.FindQuery(ctx, tc, query)
		return err
	})
	return
}
