// Package store provides the in-memory identity-map store that fetched
// records are merged into. It owns the record cache, the per-type live
// arrays and per-type metadata, batches change notifications inside
// AdapterRun, and can write merged resources through to a bbolt cache.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// ErrDestroyed is returned by mutating calls on a destroyed store.
var ErrDestroyed = errors.New("store destroyed")

// EventKind identifies a change notification
type EventKind string

const (
	EventLoaded       EventKind = "loaded"
	EventUpdated      EventKind = "updated"
	EventUnloaded     EventKind = "unloaded"
	EventDidUpdateAll EventKind = "did_update_all"
)

// Event is a change notification delivered to subscribers.
type Event struct {
	Kind EventKind
	Type string
	ID   string
}

// Persister stores merged resources outside of memory.
type Persister interface {
	Save(resources []*models.Resource) error
	Delete(typeName, id string) error
	LoadAll() ([]*models.Resource, error)
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithPersister enables write-through of merged resources.
func WithPersister(p Persister) Option {
	return func(s *Store) {
		s.persister = p
	}
}

// Store is the in-memory record cache.
type Store struct {
	logger    *slog.Logger
	persister Persister
	destroyed atomic.Bool

	// runMu serializes AdapterRun scopes.
	runMu sync.Mutex

	mu          sync.Mutex
	records     map[string]*Record
	live        map[string]*RecordArray
	meta        map[string]map[string]interface{}
	subscribers []func(Event)
	batching    int
	pending     []Event
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:  slog.Default(),
		records: make(map[string]*Record),
		live:    make(map[string]*RecordArray),
		meta:    make(map[string]map[string]interface{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsAlive reports whether the store has not been destroyed.
func (s *Store) IsAlive() bool {
	return !s.destroyed.Load()
}

// Destroy tears the store down. In-flight fetches guarded on the store
// become no-ops, and every record reports not alive.
func (s *Store) Destroy() {
	if s.destroyed.Swap(true) {
		return
	}
	s.logger.Debug("store destroyed")
}

// Close destroys the store and releases the persister.
func (s *Store) Close() error {
	s.Destroy()
	if s.persister != nil {
		return s.persister.Close()
	}
	return nil
}

// Subscribe registers fn for change notifications.
func (s *Store) Subscribe(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// AdapterRun runs fn as one merge scope. Scopes are serialized; change
// notifications raised inside are delivered once fn returns, whether it
// returned an error or panicked.
func (s *Store) AdapterRun(fn func() error) error {
	s.runMu.Lock()
	s.mu.Lock()
	s.batching++
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.batching--
		var events []Event
		if s.batching == 0 {
			events = s.pending
			s.pending = nil
		}
		subs := slices.Clone(s.subscribers)
		s.mu.Unlock()
		s.runMu.Unlock()
		deliver(subs, events)
	}()

	return fn()
}

// emitLocked queues or returns events for delivery. Caller holds s.mu.
func (s *Store) emitLocked(events ...Event) (deliverNow []Event, subs []func(Event)) {
	if s.batching > 0 {
		s.pending = append(s.pending, events...)
		return nil, nil
	}
	return events, slices.Clone(s.subscribers)
}

func deliver(subs []func(Event), events []Event) {
	for _, e := range events {
		for _, fn := range subs {
			fn(e)
		}
	}
}

// RecordFor returns the record for (type, id), creating an empty one if the
// store has never seen it.
func (s *Store) RecordFor(typeName, id string) *Record {
	key := models.RecordKey(typeName, id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if rec, ok := s.records[key]; ok {
		return rec
	}
	rec := newRecord(s, typeName, id)
	s.records[key] = rec
	return rec
}

// Peek returns the record for (type, id) if the store holds it.
func (s *Store) Peek(typeName, id string) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[models.RecordKey(typeName, id)]
}

// HasRecord reports whether a loaded record exists for (type, id).
func (s *Store) HasRecord(typeName, id string) bool {
	rec := s.Peek(typeName, id)
	return rec != nil && rec.IsLoaded()
}

// PushNormalized merges every resource of a normalized payload with
// create-or-update semantics keyed by (type, id). Sideloaded types are
// merged first. It returns the primary records in payload order.
func (s *Store) PushNormalized(p *models.NormalizedPayload) ([]*Record, error) {
	if !s.IsAlive() {
		return nil, ErrDestroyed
	}
	if p == nil {
		return nil, fmt.Errorf("push: nil payload")
	}

	s.mu.Lock()
	var events []Event
	for _, typeName := range p.Sideloaded() {
		for _, res := range p.Data[typeName] {
			_, e := s.pushLocked(res)
			events = append(events, e)
		}
	}

	primary := p.PrimaryResources()
	records := make([]*Record, 0, len(primary))
	for _, res := range primary {
		rec, e := s.pushLocked(res)
		records = append(records, rec)
		events = append(events, e)
	}

	if len(p.Meta) > 0 {
		m := s.meta[p.Primary]
		if m == nil {
			m = make(map[string]interface{})
			s.meta[p.Primary] = m
		}
		for k, v := range p.Meta {
			m[k] = v
		}
	}
	now, subs := s.emitLocked(events...)
	s.mu.Unlock()
	deliver(subs, now)

	if s.persister != nil {
		var all []*models.Resource
		for _, typeName := range p.Sideloaded() {
			all = append(all, p.Data[typeName]...)
		}
		all = append(all, primary...)
		if err := s.persister.Save(all); err != nil {
			return nil, fmt.Errorf("persist pushed resources: %w", err)
		}
	}

	return records, nil
}

func (s *Store) pushLocked(res *models.Resource) (*Record, Event) {
	key := res.Key()
	rec, ok := s.records[key]
	if !ok || rec.State() == StateUnloaded {
		rec = newRecord(s, res.Type, res.ID)
		s.records[key] = rec
	}

	kind := EventUpdated
	if rec.setup(res) {
		kind = EventLoaded
	}
	s.liveLocked(res.Type).add(rec)
	return rec, Event{Kind: kind, Type: res.Type, ID: res.ID}
}

func (s *Store) liveLocked(typeName string) *RecordArray {
	arr, ok := s.live[typeName]
	if !ok {
		arr = newLiveArray(typeName)
		s.live[typeName] = arr
	}
	return arr
}

// UnloadRecord removes rec from the identity map and every live array.
func (s *Store) UnloadRecord(rec *Record) {
	if rec == nil {
		return
	}

	s.mu.Lock()
	if cur, ok := s.records[rec.Key()]; ok && cur == rec {
		delete(s.records, rec.Key())
	}
	if arr, ok := s.live[rec.Type()]; ok {
		arr.remove(rec)
	}
	rec.unload()
	now, subs := s.emitLocked(Event{Kind: EventUnloaded, Type: rec.Type(), ID: rec.ID()})
	s.mu.Unlock()
	deliver(subs, now)

	if s.persister != nil {
		if err := s.persister.Delete(rec.Type(), rec.ID()); err != nil {
			s.logger.Warn("failed to drop unloaded record from cache", "record", rec.String(), "error", err)
		}
	}
}

// All returns the live array for a type. Records pushed later appear in it.
func (s *Store) All(typeName string) *RecordArray {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.liveLocked(typeName)
}

// WillUpdateAll flags the live array for a type as refreshing.
func (s *Store) WillUpdateAll(typeName string) {
	s.All(typeName).setUpdating(true)
}

// UpdateAllFailed clears the refreshing flag after a failed find-all.
func (s *Store) UpdateAllFailed(typeName string) {
	s.All(typeName).setUpdating(false)
}

// DidUpdateAll marks the live array for a type as freshly loaded.
func (s *Store) DidUpdateAll(typeName string) {
	s.mu.Lock()
	arr := s.liveLocked(typeName)
	arr.markUpdated()
	now, subs := s.emitLocked(Event{Kind: EventDidUpdateAll, Type: typeName})
	s.mu.Unlock()
	deliver(subs, now)
}

// Metadata returns a copy of the metadata last pushed for a type.
func (s *Store) Metadata(typeName string) map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneMap(s.meta[typeName])
}

// SinceToken returns the "since" metadata for a type, or "".
func (s *Store) SinceToken(typeName string) string {
	v, ok := s.Metadata(typeName)["since"]
	if !ok || v == nil {
		return ""
	}
	return fmt.Sprint(v)
}

// SetSinceToken seeds the "since" metadata for a type, typically from a
// token saved by an earlier process.
func (s *Store) SetSinceToken(typeName, token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.meta[typeName]
	if m == nil {
		m = make(map[string]interface{})
		s.meta[typeName] = m
	}
	m["since"] = token
}

// Counts returns the number of loaded records per type.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[string]int)
	for _, rec := range s.records {
		if rec.IsLoaded() {
			counts[rec.Type()]++
		}
	}
	return counts
}

// WarmLoad pushes every resource held by the persister into memory.
func (s *Store) WarmLoad() (int, error) {
	if s.persister == nil {
		return 0, nil
	}
	resources, err := s.persister.LoadAll()
	if err != nil {
		return 0, fmt.Errorf("load cached resources: %w", err)
	}

	s.mu.Lock()
	for _, res := range resources {
		s.pushLocked(res)
	}
	s.mu.Unlock()

	s.logger.Debug("warm-loaded record cache", "count", len(resources))
	return len(resources), nil
}
