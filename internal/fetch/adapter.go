// Package fetch drives record retrieval: it asks an adapter for raw data,
// extracts and normalizes the payload, and merges the result into the store.
// Each operation returns a future; continuations are dropped silently when
// the store (or, for relationship fetches, the owning record) is torn down
// before the adapter answers.
package fetch

import (
	"context"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

// Pending is the future an adapter returns.
type Pending = async.Future[models.AdapterPayload]

// Adapter talks to a data source. Every method returns a future for the raw
// payload; a nil future is treated as an adapter bug by FindMany and as an
// empty answer elsewhere.
type Adapter interface {
	Find(ctx context.Context, st *store.Store, tc *models.TypeClass, id string, snapshot *models.Snapshot) *Pending
	FindMany(ctx context.Context, st *store.Store, tc *models.TypeClass, ids []string, snapshots []*models.Snapshot) *Pending
	FindHasMany(ctx context.Context, st *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending
	FindBelongsTo(ctx context.Context, st *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending
	FindAll(ctx context.Context, st *store.Store, tc *models.TypeClass, sinceToken string) *Pending
	FindQuery(ctx context.Context, st *store.Store, tc *models.TypeClass, query map[string]interface{}, arr *store.RecordArray) *Pending
}

// BlockingAdapter is an adapter written as plain blocking calls. Wrap it with
// Async to get an Adapter.
type BlockingAdapter interface {
	Find(ctx context.Context, tc *models.TypeClass, id string, snapshot *models.Snapshot) (models.AdapterPayload, error)
	FindMany(ctx context.Context, tc *models.TypeClass, ids []string, snapshots []*models.Snapshot) (models.AdapterPayload, error)
	FindHasMany(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error)
	FindBelongsTo(ctx context.Context, snapshot *models.Snapshot, link string, rel *models.Relationship) (models.AdapterPayload, error)
	FindAll(ctx context.Context, tc *models.TypeClass, sinceToken string) (models.AdapterPayload, error)
	FindQuery(ctx context.Context, tc *models.TypeClass, query map[string]interface{}) (models.AdapterPayload, error)
}

// Async runs each call of b on its own goroutine.
func Async(b BlockingAdapter) Adapter {
	return &asyncAdapter{b: b}
}

type asyncAdapter struct {
	b BlockingAdapter
}

// SerializerFor forwards to the wrapped adapter when it provides one.
func (a *asyncAdapter) SerializerFor(tc *models.TypeClass) serializer.Serializer {
	if p, ok := a.b.(serializer.Provider); ok {
		return p.SerializerFor(tc)
	}
	return nil
}

func (a *asyncAdapter) Find(ctx context.Context, _ *store.Store, tc *models.TypeClass, id string, snapshot *models.Snapshot) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.Find(ctx, tc, id, snapshot)
	})
}

func (a *asyncAdapter) FindMany(ctx context.Context, _ *store.Store, tc *models.TypeClass, ids []string, snapshots []*models.Snapshot) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.FindMany(ctx, tc, ids, snapshots)
	})
}

func (a *asyncAdapter) FindHasMany(ctx context.Context, _ *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.FindHasMany(ctx, snapshot, link, rel)
	})
}

func (a *asyncAdapter) FindBelongsTo(ctx context.Context, _ *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.FindBelongsTo(ctx, snapshot, link, rel)
	})
}

func (a *asyncAdapter) FindAll(ctx context.Context, _ *store.Store, tc *models.TypeClass, sinceToken string) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.FindAll(ctx, tc, sinceToken)
	})
}

func (a *asyncAdapter) FindQuery(ctx context.Context, _ *store.Store, tc *models.TypeClass, query map[string]interface{}, _ *store.RecordArray) *Pending {
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		return a.b.FindQuery(ctx, tc, query)
	})
}

// serializerFor returns the adapter's serializer for tc, falling back to
// fallback.
func serializerFor(adapter Adapter, tc *models.TypeClass, fallback serializer.Serializer) serializer.Serializer {
	if p, ok := adapter.(serializer.Provider); ok {
		if s := p.SerializerFor(tc); s != nil {
			return s
		}
	}
	if fallback != nil {
		return fallback
	}
	return serializer.NewJSON(nil)
}
