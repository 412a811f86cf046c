package store

import (
	"sync"
	"time"
)

// RecordArray is an ordered collection of records of one type. The store
// keeps one live array per type (see Store.All); query arrays are created
// by callers and filled by a find-query.
type RecordArray struct {
	typeName string
	query    map[string]interface{}
	live     bool

	mu        sync.RWMutex
	records   []*Record
	loaded    bool
	updating  bool
	updatedAt time.Time
	loadCount int
}

// NewQueryArray creates an empty, adapter-populated array for a query.
func NewQueryArray(typeName string, query map[string]interface{}) *RecordArray {
	return &RecordArray{typeName: typeName, query: cloneMap(query)}
}

func newLiveArray(typeName string) *RecordArray {
	return &RecordArray{typeName: typeName, live: true}
}

// Type returns the array's type name
func (a *RecordArray) Type() string { return a.typeName }

// Query returns a copy of the query the array was created for.
func (a *RecordArray) Query() map[string]interface{} { return cloneMap(a.query) }

// IsLive reports whether this is a store-maintained live array.
func (a *RecordArray) IsLive() bool { return a.live }

// LoadRecords replaces the array's contents and marks it loaded.
func (a *RecordArray) LoadRecords(records []*Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.records = append(a.records[:0:0], records...)
	a.loaded = true
	a.updating = false
	a.updatedAt = time.Now()
	a.loadCount++
}

// Records returns the alive records in order.
func (a *RecordArray) Records() []*Record {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]*Record, 0, len(a.records))
	for _, r := range a.records {
		if r.IsAlive() {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of alive records.
func (a *RecordArray) Len() int {
	return len(a.Records())
}

// IDs returns the ids of the alive records in order.
func (a *RecordArray) IDs() []string {
	records := a.Records()
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID()
	}
	return ids
}

// IsLoaded reports whether the array has been filled at least once.
func (a *RecordArray) IsLoaded() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loaded
}

// IsUpdating reports whether a refresh is in flight.
func (a *RecordArray) IsUpdating() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updating
}

// UpdatedAt returns when the array was last refreshed.
func (a *RecordArray) UpdatedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.updatedAt
}

// LoadCount returns how many times LoadRecords was called.
func (a *RecordArray) LoadCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.loadCount
}

func (a *RecordArray) setUpdating(v bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.updating = v
}

func (a *RecordArray) markUpdated() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.loaded = true
	a.updating = false
	a.updatedAt = time.Now()
}

func (a *RecordArray) add(r *Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, existing := range a.records {
		if existing == r {
			return
		}
	}
	a.records = append(a.records, r)
}

func (a *RecordArray) remove(r *Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, existing := range a.records {
		if existing == r {
			a.records = append(a.records[:i], a.records[i+1:]...)
			return
		}
	}
}
