package models

import (
	"fmt"
	"sort"
	"strings"
)

// RelationshipKind distinguishes to-one from to-many associations
type RelationshipKind string

const (
	BelongsTo RelationshipKind = "belongsTo"
	HasMany   RelationshipKind = "hasMany"
)

// Relationship describes a typed association declared on a type class.
type Relationship struct {
	Name string           `toml:"name" json:"name"`
	Kind RelationshipKind `toml:"kind" json:"kind"`
	Type string           `toml:"type" json:"type"` // target type name
	Link string           `toml:"link" json:"link,omitempty"`

	// Target is resolved by the registry once the target type is registered.
	Target *TypeClass `toml:"-" json:"-"`
}

// TargetType returns the resolved target type class, or a bare one carrying
// only the target name.
func (r *Relationship) TargetType() *TypeClass {
	if r.Target != nil {
		return r.Target
	}
	return &TypeClass{Name: r.Type}
}

// TypeClass is the model definition a payload or record belongs to.
type TypeClass struct {
	Name          string          `toml:"name"`
	Plural        string          `toml:"plural"`
	Attributes    []string        `toml:"attributes"`
	Relationships []*Relationship `toml:"relationships"`
}

// String returns the type name
func (tc *TypeClass) String() string {
	if tc == nil {
		return "<nil>"
	}
	return tc.Name
}

// PluralName returns the configured plural or a naive English plural.
func (tc *TypeClass) PluralName() string {
	if tc.Plural != "" {
		return tc.Plural
	}
	switch {
	case strings.HasSuffix(tc.Name, "s"), strings.HasSuffix(tc.Name, "x"), strings.HasSuffix(tc.Name, "ch"):
		return tc.Name + "es"
	case strings.HasSuffix(tc.Name, "y") && len(tc.Name) > 1 && !strings.ContainsRune("aeiou", rune(tc.Name[len(tc.Name)-2])):
		return tc.Name[:len(tc.Name)-1] + "ies"
	default:
		return tc.Name + "s"
	}
}

// Relationship returns the named relationship or nil.
func (tc *TypeClass) Relationship(name string) *Relationship {
	for _, r := range tc.Relationships {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// HasRelationship reports whether name is a declared relationship.
func (tc *TypeClass) HasRelationship(name string) bool {
	return tc.Relationship(name) != nil
}

// Registry holds type classes by name.
type Registry struct {
	types map[string]*TypeClass
}

// NewRegistry creates a registry from the given type classes.
func NewRegistry(types ...*TypeClass) (*Registry, error) {
	r := &Registry{types: make(map[string]*TypeClass)}
	for _, tc := range types {
		if err := r.Register(tc); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a type class. Names must be unique and non-empty.
func (r *Registry) Register(tc *TypeClass) error {
	if tc == nil || tc.Name == "" {
		return fmt.Errorf("type class must have a name")
	}
	if _, ok := r.types[tc.Name]; ok {
		return fmt.Errorf("type class '%s' already registered", tc.Name)
	}
	for _, rel := range tc.Relationships {
		if rel.Kind != BelongsTo && rel.Kind != HasMany {
			return fmt.Errorf("type class '%s': relationship '%s' has invalid kind %q", tc.Name, rel.Name, rel.Kind)
		}
		if rel.Type == "" {
			return fmt.Errorf("type class '%s': relationship '%s' has no target type", tc.Name, rel.Name)
		}
	}
	r.types[tc.Name] = tc
	r.resolve()
	return nil
}

func (r *Registry) resolve() {
	for _, tc := range r.types {
		for _, rel := range tc.Relationships {
			if target, ok := r.types[rel.Type]; ok {
				rel.Target = target
			}
		}
	}
}

// Lookup returns the type class with the given name.
func (r *Registry) Lookup(name string) (*TypeClass, error) {
	tc, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("unknown type '%s'", name)
	}
	return tc, nil
}

// ForName returns the type class or a bare one carrying only the name.
// Adapters and serializers use it for sideloaded types nobody declared.
func (r *Registry) ForName(name string) *TypeClass {
	if r != nil {
		if tc, ok := r.types[name]; ok {
			return tc
		}
	}
	return &TypeClass{Name: name}
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
