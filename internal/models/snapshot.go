package models

// RequestKind names the fetch operation a serializer is extracting for.
type RequestKind string

const (
	RequestFind          RequestKind = "find"
	RequestFindMany      RequestKind = "findMany"
	RequestFindHasMany   RequestKind = "findHasMany"
	RequestFindBelongsTo RequestKind = "findBelongsTo"
	RequestFindAll       RequestKind = "findAll"
	RequestFindQuery     RequestKind = "findQuery"
)

// IsSingular reports whether the request expects a single resource.
func (k RequestKind) IsSingular() bool {
	return k == RequestFind || k == RequestFindBelongsTo
}

// Snapshot is an immutable point-in-time view of a record, handed to an
// adapter for the duration of one call.
type Snapshot struct {
	typeName      string
	id            string
	attributes    map[string]interface{}
	relationships map[string]interface{}
}

// NewSnapshot copies the given maps so later record mutation is not visible.
func NewSnapshot(typeName, id string, attributes, relationships map[string]interface{}) *Snapshot {
	return &Snapshot{
		typeName:      typeName,
		id:            id,
		attributes:    copyMap(attributes),
		relationships: copyMap(relationships),
	}
}

// Type returns the record's type name
func (s *Snapshot) Type() string { return s.typeName }

// ID returns the record id
func (s *Snapshot) ID() string { return s.id }

// Attr returns an attribute value and whether it was set.
func (s *Snapshot) Attr(name string) (interface{}, bool) {
	v, ok := s.attributes[name]
	return v, ok
}

// Attributes returns a copy of all attributes.
func (s *Snapshot) Attributes() map[string]interface{} {
	return copyMap(s.attributes)
}

// Relationship returns the raw relationship value (an id, a list of ids, or
// a link object) and whether it was set.
func (s *Snapshot) Relationship(name string) (interface{}, bool) {
	v, ok := s.relationships[name]
	return v, ok
}

// Relationships returns a copy of all relationship values.
func (s *Snapshot) Relationships() map[string]interface{} {
	return copyMap(s.relationships)
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
