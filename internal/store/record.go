package store

import (
	"fmt"
	"sync"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// RecordState is the lifecycle state of a record
type RecordState int

const (
	// StateEmpty records exist in the identity map but hold no data.
	StateEmpty RecordState = iota
	// StateLoading records have a fetch in flight.
	StateLoading
	// StateLoaded records hold data pushed from a payload.
	StateLoaded
	// StateUnloaded records were removed from the store and must not be used.
	StateUnloaded
)

func (s RecordState) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoading:
		return "loading"
	case StateLoaded:
		return "loaded"
	case StateUnloaded:
		return "unloaded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Record is the store's live reference for one (type, id).
type Record struct {
	store    *Store
	typeName string
	id       string

	mu            sync.RWMutex
	state         RecordState
	notFound      bool
	attributes    map[string]interface{}
	relationships map[string]interface{}
}

func newRecord(st *Store, typeName, id string) *Record {
	return &Record{
		store:         st,
		typeName:      typeName,
		id:            id,
		attributes:    make(map[string]interface{}),
		relationships: make(map[string]interface{}),
	}
}

// Type returns the record's type name
func (r *Record) Type() string { return r.typeName }

// ID returns the record id
func (r *Record) ID() string { return r.id }

// Key returns the identity-map key
func (r *Record) Key() string { return models.RecordKey(r.typeName, r.id) }

func (r *Record) String() string {
	return fmt.Sprintf("<%s:%s>", r.typeName, r.id)
}

// State returns the current lifecycle state.
func (r *Record) State() RecordState {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// IsEmpty reports whether the record holds no data.
func (r *Record) IsEmpty() bool {
	return r.State() == StateEmpty
}

// IsLoaded reports whether the record holds pushed data.
func (r *Record) IsLoaded() bool {
	return r.State() == StateLoaded
}

// IsAlive reports whether the record is still usable: not unloaded and
// owned by a store that has not been destroyed.
func (r *Record) IsAlive() bool {
	if r.State() == StateUnloaded {
		return false
	}
	return r.store == nil || r.store.IsAlive()
}

// WasNotFound reports whether the last fetch for this record was rejected.
func (r *Record) WasNotFound() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.notFound
}

// Attr returns an attribute value.
func (r *Record) Attr(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.attributes[name]
	return v, ok
}

// Attributes returns a copy of the record's attributes.
func (r *Record) Attributes() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneMap(r.attributes)
}

// Relationship returns a raw relationship value.
func (r *Record) Relationship(name string) (interface{}, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.relationships[name]
	return v, ok
}

// Relationships returns a copy of the record's relationship values.
func (r *Record) Relationships() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneMap(r.relationships)
}

// CreateSnapshot captures the record's current data.
func (r *Record) CreateSnapshot() *models.Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return models.NewSnapshot(r.typeName, r.id, r.attributes, r.relationships)
}

// LoadingStarted moves an empty record into the loading state.
func (r *Record) LoadingStarted() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateEmpty {
		r.state = StateLoading
	}
}

// NotFound records a rejected fetch. A record that never loaded data goes
// back to empty; a loaded record keeps its data.
func (r *Record) NotFound() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notFound = true
	if r.state == StateLoading {
		r.state = StateEmpty
	}
}

// setup merges resource data into the record and marks it loaded.
// Returns true when the record was not loaded before.
func (r *Record) setup(res *models.Resource) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for k, v := range res.Attributes {
		r.attributes[k] = v
	}
	for k, v := range res.Relationships {
		r.relationships[k] = v
	}
	created := r.state != StateLoaded
	r.state = StateLoaded
	r.notFound = false
	return created
}

func (r *Record) unload() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state = StateUnloaded
}

// resource renders the record back into a canonical resource.
func (r *Record) resource() *models.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return &models.Resource{
		ID:            r.id,
		Type:          r.typeName,
		Attributes:    cloneMap(r.attributes),
		Relationships: cloneMap(r.relationships),
	}
}

func cloneMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
