package fetch

import (
	"errors"
	"fmt"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// Sentinel errors for errors.Is checks.
var (
	ErrAdapterContractViolation = errors.New("adapter contract violation")
	ErrMalformedPayloadShape    = errors.New("malformed payload shape")

	// ErrDropped is returned by Fetcher calls whose result was discarded
	// because the store or owning record was torn down.
	ErrDropped = errors.New("fetch result dropped")

	// ErrNotReturned means the adapter answered without a requested record.
	ErrNotReturned = errors.New("record not returned by adapter")
)

// AdapterContractError reports an adapter that broke its calling contract:
// an empty payload for a find-by-id or no future at all for a find-many.
type AdapterContractError struct {
	Kind   models.RequestKind
	Type   string
	ID     string
	Reason string
}

func (e *AdapterContractError) Error() string {
	target := e.Type
	if e.ID != "" {
		target = fmt.Sprintf("%s with id %s", e.Type, e.ID)
	}
	return fmt.Sprintf("adapter %s of %s: %s", e.Kind, target, e.Reason)
}

func (e *AdapterContractError) Unwrap() error { return ErrAdapterContractViolation }

// MalformedPayloadError reports an extracted payload whose shape does not
// fit the request.
type MalformedPayloadError struct {
	Kind   models.RequestKind
	Type   string
	Shape  string
	Reason string
}

func (e *MalformedPayloadError) Error() string {
	if e.Shape == "" {
		return fmt.Sprintf("%s payload for %s: %s", e.Kind, e.Type, e.Reason)
	}
	return fmt.Sprintf("%s payload for %s (%s): %s", e.Kind, e.Type, e.Shape, e.Reason)
}

func (e *MalformedPayloadError) Unwrap() error { return ErrMalformedPayloadShape }

func malformed(kind models.RequestKind, tc *models.TypeClass, v interface{}, format string, args ...interface{}) *MalformedPayloadError {
	return &MalformedPayloadError{
		Kind:   kind,
		Type:   tc.String(),
		Shape:  describe(v),
		Reason: fmt.Sprintf(format, args...),
	}
}

func describe(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case []interface{}:
		return fmt.Sprintf("array of %d", len(x))
	case map[string]interface{}:
		return fmt.Sprintf("object with %d keys", len(x))
	default:
		return fmt.Sprintf("%T", v)
	}
}
