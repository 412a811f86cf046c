package weaviate

import (
	"context"
	"errors"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// ErrObjectNotFound is returned by GetObject when the object does not exist.
var ErrObjectNotFound = errors.New("object not found")

// ClientInterface defines the Weaviate reads the adapter needs.
// This interface enables mocking for testing the adapter.
type ClientInterface interface {
	// GetObject returns ErrObjectNotFound when the object does not exist.
	GetObject(ctx context.Context, className, objectID string) (*models.WeaviateObject, error)
	GetAllObjects(ctx context.Context, className string, useCursor bool) ([]*models.WeaviateObject, error)
	// QueryObjects returns objects whose properties equal every value in where.
	QueryObjects(ctx context.Context, className string, properties []string, where map[string]interface{}) ([]*models.WeaviateObject, error)
}

// Verify that *Client implements ClientInterface at compile time
var _ ClientInterface = (*Client)(nil)
