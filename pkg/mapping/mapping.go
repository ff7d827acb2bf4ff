// Package mapping declares the persistence shape of entity types.
//
// A mapping is declared once per type and data source, either with the
// fluent builder:
//
//	m, err := mapping.New[Item]("main").
//	    ID("ID", mapping.AutoIncrement()).
//	    Reference("Name", mapping.MaxLength(100)).
//	    ManyToOne("Children", mapping.Cascade(true)).
//	    Build()
//
// or from `po` struct tags with Parse. Mappings are immutable after Build and
// are resolved into a schema per data source.
package mapping

import (
	"fmt"
	"reflect"
)

// Kind classifies a mapped property.
type Kind int

const (
	// Reference is a scalar column, or a foreign key when the field points to a mapped type.
	Reference Kind = iota
	// Map is a one-to-one composition owned by the declaring type.
	Map
	// ManyToOne is a foreign key relationship. On a slice field the key lives on the element table.
	ManyToOne
	// ManyToMany is a relationship backed by a link table.
	ManyToMany
)

func (k Kind) String() string {
	switch k {
	case Reference:
		return "reference"
	case Map:
		return "map"
	case ManyToOne:
		return "manyToOne"
	case ManyToMany:
		return "manyToMany"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Property is one declared, non-identity property.
type Property struct {
	Name       string
	Kind       Kind
	Column     string
	MaxLength  int
	Nullable   bool
	Cascade    bool
	LinkTable  string
	ForeignKey string
}

// Equal reports whether two declarations describe the same property.
func (p Property) Equal(o Property) bool {
	return p == o
}

// IDProperty is one part of a type's identity.
type IDProperty struct {
	Name          string
	Type          reflect.Type
	Column        string
	AutoIncrement bool
	Ordinal       int
}

// Mapping is the declared persistence shape of one type in one data source.
type Mapping struct {
	Type       reflect.Type
	DataSource string
	Table      string
	Merge      bool
	IDs        []IDProperty
	Properties []Property
}

// Name returns the mapped type's name.
func (m *Mapping) Name() string {
	return m.Type.Name()
}

// IsInterface reports whether the mapping describes an interface.
func (m *Mapping) IsInterface() bool {
	return m.Type.Kind() == reflect.Interface
}

// Property returns the declared property with the given name.
func (m *Mapping) Property(name string) (Property, bool) {
	for _, p := range m.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}
