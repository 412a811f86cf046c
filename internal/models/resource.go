// Package models defines the data structures shared by the fetch layer,
// the store and the adapters: type classes, resources, snapshots and
// normalized payloads.
package models

import (
	"fmt"
	"sort"
)

// AdapterPayload is whatever an adapter hands back. It is opaque to the
// fetch layer and only interpreted by a serializer.
type AdapterPayload = interface{}

// Resource is one canonical resource object
type Resource struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	Attributes    map[string]interface{} `json:"attributes"`
	Relationships map[string]interface{} `json:"relationships"`
}

// Key returns the identity-map key for the resource
func (r *Resource) Key() string {
	return RecordKey(r.Type, r.ID)
}

// RecordKey returns the unique key for a record of the given type and id
func RecordKey(typeName, id string) string {
	return typeName + "/" + id
}

// NormalizedPayload is the canonical shape produced by normalization.
// Data maps a type name to its resources in payload order. Primary names the
// type whose resources are the answer to the request; other entries are
// sideloaded.
type NormalizedPayload struct {
	Primary string
	Data    map[string][]*Resource
	Meta    map[string]interface{}
}

// NewNormalizedPayload creates an empty payload for the given primary type.
func NewNormalizedPayload(primary string) *NormalizedPayload {
	return &NormalizedPayload{
		Primary: primary,
		Data:    map[string][]*Resource{primary: {}},
		Meta:    make(map[string]interface{}),
	}
}

// Add appends a resource under its own type.
func (p *NormalizedPayload) Add(r *Resource) {
	p.Data[r.Type] = append(p.Data[r.Type], r)
}

// PrimaryResources returns the resources of the primary type in order.
func (p *NormalizedPayload) PrimaryResources() []*Resource {
	return p.Data[p.Primary]
}

// Sideloaded returns the type names other than the primary type, sorted so
// that merges are deterministic.
func (p *NormalizedPayload) Sideloaded() []string {
	var names []string
	for name := range p.Data {
		if name != p.Primary {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Len returns the total number of resources across all types.
func (p *NormalizedPayload) Len() int {
	n := 0
	for _, rs := range p.Data {
		n += len(rs)
	}
	return n
}

// RelatedIDs returns the ids held by a relationship value: an id, a list of
// ids or {"id": ...} objects, or an object with "data".
func RelatedIDs(ref interface{}) []string {
	switch x := ref.(type) {
	case string:
		return []string{x}
	case []string:
		return append([]string(nil), x...)
	case []interface{}:
		out := make([]string, 0, len(x))
		for _, v := range x {
			out = append(out, RelatedIDs(v)...)
		}
		return out
	case map[string]interface{}:
		if id, ok := x["id"]; ok {
			return []string{fmt.Sprint(id)}
		}
		return RelatedIDs(x["data"])
	default:
		return nil
	}
}

// RelatedLink returns the related link of a canonical relationship value,
// or "".
func RelatedLink(ref interface{}) string {
	m, ok := ref.(map[string]interface{})
	if !ok {
		return ""
	}
	links, _ := m["links"].(map[string]interface{})
	link, _ := links["related"].(string)
	return link
}
