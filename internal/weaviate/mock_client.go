package weaviate

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// MockClient is a mock implementation of ClientInterface for testing.
type MockClient struct {
	mu sync.Mutex
	// Objects stores objects by "ClassName/ObjectID" key
	Objects map[string]*models.WeaviateObject
	// Err can be set to make methods return an error
	Err error
	// Calls counts calls per method name
	Calls map[string]int
	// LastQuery is the where map of the last QueryObjects call
	LastQuery map[string]interface{}
}

// NewMockClient creates a new MockClient for testing.
func NewMockClient() *MockClient {
	return &MockClient{
		Objects: make(map[string]*models.WeaviateObject),
		Calls:   make(map[string]int),
	}
}

// AddObject adds an object to the mock store.
func (m *MockClient) AddObject(obj *models.WeaviateObject) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[models.ObjectKey(obj.Class, obj.ID)] = obj
}

// CallCount returns how many times method was called.
func (m *MockClient) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Calls[method]
}

func (m *MockClient) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[method]++
	return m.Err
}

// GetObject returns a single object from the mock store.
func (m *MockClient) GetObject(ctx context.Context, className, objectID string) (*models.WeaviateObject, error) {
	if err := m.record("GetObject"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.Objects[models.ObjectKey(className, objectID)]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", className, objectID, ErrObjectNotFound)
	}
	return obj, nil
}

// GetAllObjects returns all objects of a class, ordered by ID.
func (m *MockClient) GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*models.WeaviateObject, error) {
	if err := m.record("GetAllObjects"); err != nil {
		return nil, err
	}
	return m.matching(className, nil), nil
}

// QueryObjects returns objects whose properties equal every value in where,
// compared as text.
func (m *MockClient) QueryObjects(ctx context.Context, className string, properties []string, where map[string]interface{}) ([]*models.WeaviateObject, error) {
	if err := m.record("QueryObjects"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	m.LastQuery = where
	m.mu.Unlock()
	return m.matching(className, where), nil
}

func (m *MockClient) matching(className string, where map[string]interface{}) []*models.WeaviateObject {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.WeaviateObject
	for _, obj := range m.Objects {
		if obj.Class != className || !matches(obj, where) {
			continue
		}
		out = append(out, obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func matches(obj *models.WeaviateObject, where map[string]interface{}) bool {
	for k, want := range where {
		got, ok := obj.Properties[k]
		if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}
