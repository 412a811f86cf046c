package fetch

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/logging"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

// Fetcher binds an adapter, a store and a type registry, and exposes the
// finders as blocking calls keyed by type name.
type Fetcher struct {
	registry *models.Registry
	adapter  Adapter
	store    *store.Store
	logger   *slog.Logger
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithFetcherLogger sets the logger carried into every fetch.
func WithFetcherLogger(logger *slog.Logger) FetcherOption {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithDefaultSerializer sets the serializer used when the adapter does not
// provide one. Defaults to a JSON serializer over the registry.
func WithDefaultSerializer(s serializer.Serializer) FetcherOption {
	return func(f *Fetcher) {
		f.adapter = &defaultSerializer{Adapter: unwrap(f.adapter), fallback: s}
	}
}

// NewFetcher creates a Fetcher.
func NewFetcher(registry *models.Registry, adapter Adapter, st *store.Store, opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		registry: registry,
		adapter:  &defaultSerializer{Adapter: adapter, fallback: serializer.NewJSON(registry)},
		store:    st,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Store returns the fetcher's store.
func (f *Fetcher) Store() *store.Store { return f.store }

// Registry returns the fetcher's registry.
func (f *Fetcher) Registry() *models.Registry { return f.registry }

func (f *Fetcher) context(ctx context.Context) context.Context {
	return logging.WithLogger(ctx, f.logger)
}

// FindRecord returns the record for (typeName, id), fetching it unless it
// is already loaded.
func (f *Fetcher) FindRecord(ctx context.Context, typeName, id string) (*store.Record, error) {
	tc, err := f.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	rec := f.store.RecordFor(typeName, id)
	if rec.IsLoaded() {
		return rec, nil
	}
	return f.load(ctx, tc, rec)
}

// ReloadRecord fetches (typeName, id) even when it is loaded.
func (f *Fetcher) ReloadRecord(ctx context.Context, typeName, id string) (*store.Record, error) {
	tc, err := f.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	return f.load(ctx, tc, f.store.RecordFor(typeName, id))
}

func (f *Fetcher) load(ctx context.Context, tc *models.TypeClass, rec *store.Record) (*store.Record, error) {
	rec.LoadingStarted()
	ctx = f.context(ctx)
	return settle(ctx, Find(ctx, f.adapter, f.store, tc, rec.ID(), rec))
}

// FindRecords returns records for ids in order, fetching the ones not yet
// loaded with a single find-many.
func (f *Fetcher) FindRecords(ctx context.Context, typeName string, ids []string) ([]*store.Record, error) {
	tc, err := f.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	var missingIDs []string
	var missing []*store.Record
	for _, id := range ids {
		rec := f.store.RecordFor(typeName, id)
		if !rec.IsLoaded() {
			rec.LoadingStarted()
			missingIDs = append(missingIDs, id)
			missing = append(missing, rec)
		}
	}

	if len(missing) > 0 {
		ctx = f.context(ctx)
		_, err := settle(ctx, FindMany(ctx, f.adapter, f.store, tc, missingIDs, missing))
		// records the answer did not load leave the loading state
		for _, rec := range missing {
			if !rec.IsLoaded() {
				rec.NotFound()
			}
		}
		if err != nil {
			return nil, err
		}
	}

	out := make([]*store.Record, 0, len(ids))
	for _, id := range ids {
		rec := f.store.Peek(typeName, id)
		if rec == nil || !rec.IsLoaded() {
			return nil, fmt.Errorf("%s %s: %w", typeName, id, ErrNotReturned)
		}
		out = append(out, rec)
	}
	return out, nil
}

// FindRelated loads the named relationship of rec. A related link on the
// record wins, then the relationship's link template; without either the
// referenced ids are fetched directly.
func (f *Fetcher) FindRelated(ctx context.Context, rec *store.Record, name string) ([]*store.Record, error) {
	tc, err := f.registry.Lookup(rec.Type())
	if err != nil {
		return nil, err
	}
	rel := tc.Relationship(name)
	if rel == nil {
		return nil, fmt.Errorf("type '%s' has no relationship '%s'", tc, name)
	}

	ref, _ := rec.Relationship(name)
	link := models.RelatedLink(ref)
	if link == "" {
		link = expandLink(rel.Link, rec)
	}

	if link == "" {
		ids := models.RelatedIDs(ref)
		if len(ids) == 0 {
			return nil, nil
		}
		if rel.Kind == models.BelongsTo {
			one, err := f.FindRecord(ctx, rel.Type, ids[0])
			if err != nil {
				return nil, err
			}
			return []*store.Record{one}, nil
		}
		return f.FindRecords(ctx, rel.Type, ids)
	}

	ctx = f.context(ctx)
	if rel.Kind == models.BelongsTo {
		one, err := settle(ctx, FindBelongsTo(ctx, f.adapter, f.store, rec, link, rel))
		if err != nil || one == nil {
			return nil, err
		}
		return []*store.Record{one}, nil
	}
	return settle(ctx, FindHasMany(ctx, f.adapter, f.store, rec, link, rel))
}

// FindAll refreshes every record of typeName, passing the since token the
// store holds for it.
func (f *Fetcher) FindAll(ctx context.Context, typeName string) (*store.RecordArray, error) {
	tc, err := f.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}

	f.store.WillUpdateAll(typeName)
	ctx = f.context(ctx)
	pending := FindAll(ctx, f.adapter, f.store, tc, f.store.SinceToken(typeName))
	pending = async.Then(pending, func(arr *store.RecordArray) (*store.RecordArray, error) {
		return arr, nil
	}, func(err error) (*store.RecordArray, error) {
		f.store.UpdateAllFailed(typeName)
		return nil, err
	})
	return settle(ctx, pending)
}

// Query runs a query for typeName and returns a fresh query array.
func (f *Fetcher) Query(ctx context.Context, typeName string, query map[string]interface{}) (*store.RecordArray, error) {
	tc, err := f.registry.Lookup(typeName)
	if err != nil {
		return nil, err
	}
	arr := store.NewQueryArray(typeName, query)
	ctx = f.context(ctx)
	return settle(ctx, FindQuery(ctx, f.adapter, f.store, tc, query, arr))
}

// settle waits for p and maps a dropped result to ErrDropped.
func settle[T any](ctx context.Context, p *async.Future[T]) (T, error) {
	v, err := p.Await(ctx)
	if err == nil && p.Suppressed() {
		var zero T
		return zero, ErrDropped
	}
	return v, err
}

// expandLink fills {id} and {type} in a relationship link template.
func expandLink(tmpl string, rec *store.Record) string {
	if tmpl == "" {
		return ""
	}
	return strings.NewReplacer("{id}", rec.ID(), "{type}", rec.Type()).Replace(tmpl)
}

// defaultSerializer supplies a serializer for adapters that bring none.
type defaultSerializer struct {
	Adapter
	fallback serializer.Serializer
}

func (d *defaultSerializer) SerializerFor(tc *models.TypeClass) serializer.Serializer {
	return serializerFor(d.Adapter, tc, d.fallback)
}

func unwrap(a Adapter) Adapter {
	if d, ok := a.(*defaultSerializer); ok {
		return d.Adapter
	}
	return a
}
