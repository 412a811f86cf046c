// Package serializer turns raw adapter payloads into extracted payloads:
// plain decoded JSON values (slices and maps) in one of the shapes the fetch
// layer knows how to normalize.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kilupskalvis/recordfetch/internal/models"
)

// Serializer extracts a payload for one request.
type Serializer interface {
	Extract(tc *models.TypeClass, payload models.AdapterPayload, id string, kind models.RequestKind) (interface{}, error)
}

// Provider is implemented by adapters that bring their own serializer.
type Provider interface {
	SerializerFor(tc *models.TypeClass) Serializer
}

// JSON is the default serializer. It decodes raw JSON, unwraps REST-style
// root keys ({"post": {...}}, {"posts": [...], "users": [...]}) into an
// envelope with sideloaded resources under "included", and keeps "meta".
// Already-decoded values and canonical resources pass through.
type JSON struct {
	// Registry resolves sideload root keys to type names. Optional.
	Registry *models.Registry
}

var _ Serializer = (*JSON)(nil)

// NewJSON creates a JSON serializer.
func NewJSON(registry *models.Registry) *JSON {
	return &JSON{Registry: registry}
}

// Extract implements Serializer.
func (s *JSON) Extract(tc *models.TypeClass, payload models.AdapterPayload, id string, kind models.RequestKind) (interface{}, error) {
	decoded, err := decode(payload)
	if err != nil {
		return nil, fmt.Errorf("extract %s for %s: %w", kind, tc, err)
	}

	doc, ok := decoded.(map[string]interface{})
	if !ok {
		return decoded, nil
	}
	return s.unwrapRoot(tc, doc), nil
}

// unwrapRoot rewrites {"<type>": ..., "<other>": [...], "meta": {...}} into
// {"data": ..., "included": [...], "meta": {...}}. Documents that already
// look like an envelope or a single resource are returned unchanged.
func (s *JSON) unwrapRoot(tc *models.TypeClass, doc map[string]interface{}) interface{} {
	if _, ok := doc["data"]; ok {
		return doc
	}
	if _, ok := doc["id"]; ok {
		return doc
	}

	primaryKey := ""
	for _, key := range []string{tc.Name, tc.PluralName()} {
		if _, ok := doc[key]; ok {
			primaryKey = key
			break
		}
	}
	if primaryKey == "" {
		return doc
	}

	envelope := map[string]interface{}{"data": doc[primaryKey]}
	var included []interface{}
	for key, value := range doc {
		switch key {
		case primaryKey:
			continue
		case "meta":
			envelope["meta"] = value
			continue
		}
		typeName := s.typeForRootKey(key)
		switch v := value.(type) {
		case []interface{}:
			for _, item := range v {
				included = append(included, withType(item, typeName))
			}
		case map[string]interface{}:
			included = append(included, withType(v, typeName))
		}
	}
	if len(included) > 0 {
		envelope["included"] = included
	}
	return envelope
}

func (s *JSON) typeForRootKey(key string) string {
	if s.Registry != nil {
		for _, name := range s.Registry.Names() {
			tc, _ := s.Registry.Lookup(name)
			if key == tc.Name || key == tc.PluralName() {
				return tc.Name
			}
		}
	}
	switch {
	case strings.HasSuffix(key, "ies"):
		return strings.TrimSuffix(key, "ies") + "y"
	case strings.HasSuffix(key, "s"):
		return strings.TrimSuffix(key, "s")
	default:
		return key
	}
}

func withType(item interface{}, typeName string) interface{} {
	m, ok := item.(map[string]interface{})
	if !ok {
		return item
	}
	if _, ok := m["type"]; ok {
		return m
	}
	out := make(map[string]interface{}, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["type"] = typeName
	return out
}

// decode turns an adapter payload into plain JSON values. Numbers from raw
// JSON are kept as json.Number so large ids survive.
func decode(payload models.AdapterPayload) (interface{}, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case []byte:
		return decodeBytes(p)
	case json.RawMessage:
		return decodeBytes(p)
	case string:
		return decodeBytes([]byte(p))
	case map[string]interface{}, []interface{}:
		return p, nil
	case []map[string]interface{}:
		out := make([]interface{}, len(p))
		for i, m := range p {
			out[i] = m
		}
		return out, nil
	case *models.Resource:
		if p == nil {
			return nil, nil
		}
		return resourceToMap(p), nil
	case []*models.Resource:
		out := make([]interface{}, len(p))
		for i, r := range p {
			out[i] = resourceToMap(r)
		}
		return out, nil
	default:
		data, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("encode %T: %w", payload, err)
		}
		return decodeBytes(data)
	}
}

func decodeBytes(data []byte) (interface{}, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

func resourceToMap(r *models.Resource) map[string]interface{} {
	m := map[string]interface{}{
		"id":   r.ID,
		"type": r.Type,
	}
	if r.Attributes != nil {
		m["attributes"] = r.Attributes
	}
	if r.Relationships != nil {
		m["relationships"] = r.Relationships
	}
	return m
}
