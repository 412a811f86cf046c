package fetch

import (
	"context"
	"sync"

	"github.com/kilupskalvis/recordfetch/internal/async"
	"github.com/kilupskalvis/recordfetch/internal/models"
	"github.com/kilupskalvis/recordfetch/internal/serializer"
	"github.com/kilupskalvis/recordfetch/internal/store"
)

// MockCall records one adapter call.
type MockCall struct {
	Kind       models.RequestKind
	Type       string
	ID         string
	IDs        []string
	Link       string
	SinceToken string
	Query      map[string]interface{}
	Snapshots  []*models.Snapshot
}

// MockAdapter is an in-memory Adapter for testing. Responses are keyed by
// request kind. When Gate is set, every answer waits for it to be closed.
type MockAdapter struct {
	mu        sync.Mutex
	Payloads  map[models.RequestKind]models.AdapterPayload
	Errors    map[models.RequestKind]error
	NilFuture map[models.RequestKind]bool
	Gate      chan struct{}
	Calls     []MockCall

	// Serializer, when set, is returned from SerializerFor.
	Serializer *MockSerializer
}

// NewMockAdapter creates a mock adapter with no responses configured.
func NewMockAdapter() *MockAdapter {
	return &MockAdapter{
		Payloads:  make(map[models.RequestKind]models.AdapterPayload),
		Errors:    make(map[models.RequestKind]error),
		NilFuture: make(map[models.RequestKind]bool),
	}
}

var _ Adapter = (*MockAdapter)(nil)

// Respond sets the payload returned for kind.
func (m *MockAdapter) Respond(kind models.RequestKind, payload models.AdapterPayload) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Payloads[kind] = payload
	return m
}

// Fail makes requests of kind reject with err.
func (m *MockAdapter) Fail(kind models.RequestKind, err error) *MockAdapter {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[kind] = err
	return m
}

// CallCount returns the number of calls of kind.
func (m *MockAdapter) CallCount(kind models.RequestKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.Calls {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// LastCall returns the most recent call, or the zero value.
func (m *MockAdapter) LastCall() MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockCall{}
	}
	return m.Calls[len(m.Calls)-1]
}

// SerializerFor implements serializer.Provider.
func (m *MockAdapter) SerializerFor(tc *models.TypeClass) serializer.Serializer {
	if m.Serializer == nil {
		return nil
	}
	return m.Serializer
}

func (m *MockAdapter) answer(ctx context.Context, call MockCall) *Pending {
	m.mu.Lock()
	m.Calls = append(m.Calls, call)
	payload := m.Payloads[call.Kind]
	err := m.Errors[call.Kind]
	nilFuture := m.NilFuture[call.Kind]
	gate := m.Gate
	m.mu.Unlock()

	if nilFuture {
		return nil
	}
	if gate == nil {
		if err != nil {
			return async.Reject[models.AdapterPayload](err)
		}
		return async.Resolve[models.AdapterPayload](payload)
	}
	return async.Go(ctx, func(ctx context.Context) (models.AdapterPayload, error) {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return payload, err
	})
}

func (m *MockAdapter) Find(ctx context.Context, _ *store.Store, tc *models.TypeClass, id string, snapshot *models.Snapshot) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFind, Type: tc.Name, ID: id, Snapshots: []*models.Snapshot{snapshot}})
}

func (m *MockAdapter) FindMany(ctx context.Context, _ *store.Store, tc *models.TypeClass, ids []string, snapshots []*models.Snapshot) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFindMany, Type: tc.Name, IDs: ids, Snapshots: snapshots})
}

func (m *MockAdapter) FindHasMany(ctx context.Context, _ *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFindHasMany, Type: rel.Type, Link: link, Snapshots: []*models.Snapshot{snapshot}})
}

func (m *MockAdapter) FindBelongsTo(ctx context.Context, _ *store.Store, snapshot *models.Snapshot, link string, rel *models.Relationship) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFindBelongsTo, Type: rel.Type, Link: link, Snapshots: []*models.Snapshot{snapshot}})
}

func (m *MockAdapter) FindAll(ctx context.Context, _ *store.Store, tc *models.TypeClass, sinceToken string) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFindAll, Type: tc.Name, SinceToken: sinceToken})
}

func (m *MockAdapter) FindQuery(ctx context.Context, _ *store.Store, tc *models.TypeClass, query map[string]interface{}, _ *store.RecordArray) *Pending {
	return m.answer(ctx, MockCall{Kind: models.RequestFindQuery, Type: tc.Name, Query: query})
}

// MockSerializer wraps a serializer and counts Extract calls.
type MockSerializer struct {
	mu    sync.Mutex
	Inner serializer.Serializer
	calls int
}

// NewMockSerializer wraps the default JSON serializer.
func NewMockSerializer() *MockSerializer {
	return &MockSerializer{Inner: serializer.NewJSON(nil)}
}

// Extract implements serializer.Serializer.
func (s *MockSerializer) Extract(tc *models.TypeClass, payload models.AdapterPayload, id string, kind models.RequestKind) (interface{}, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return s.Inner.Extract(tc, payload, id, kind)
}

// Calls returns the number of Extract calls.
func (s *MockSerializer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
