package schema

import (
	"fmt"
	"reflect"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
)

// ColumnKind tells where a column's value comes from.
type ColumnKind int

const (
	// IDColumn stores part of the type's identity.
	IDColumn ColumnKind = iota
	// ScalarColumn stores a scalar property.
	ScalarColumn
	// ForeignKeyColumn stores the identity of a single referenced entity.
	ForeignKeyColumn
	// BackReferenceColumn stores the identity of the owner of a ManyToOne collection.
	BackReferenceColumn
)

// Column is one physical column of a concrete type's table.
type Column struct {
	Name          string
	Kind          ColumnKind
	Type          reflect.Type
	MaxLength     int
	Nullable      bool
	AutoIncrement bool
	// Ordinal is the ID component stored by the column.
	Ordinal  int
	Property *Property
	Back     *BackReference
}

// ID is one resolved component of a type's identity.
type ID struct {
	Name          string
	Column        string
	Type          reflect.Type
	AutoIncrement bool
	Ordinal       int
	Index         []int
}

// Relationship records how a property links to another mapped type.
type Relationship struct {
	Kind       mapping.Kind
	Cascade    bool
	Collection bool
	// Target is the arena index of the referenced type.
	Target int
	// Columns are the foreign key columns: on the owner table for single
	// references, on the target tables for ManyToOne collections.
	Columns       []string
	LinkTable     string
	OwnerColumns  []string
	TargetColumns []string
}

// Property is a merged property of a resolved type.
type Property struct {
	Name         string
	Kind         mapping.Kind
	Index        []int
	Type         reflect.Type
	Column       string
	MaxLength    int
	Nullable     bool
	Ambiguous    bool
	Relationship *Relationship

	decl  mapping.Property
	depth int
}

// IsScalar reports whether the property maps to a single plain column.
func (p *Property) IsScalar() bool {
	return p.Relationship == nil
}

// BackReference is a foreign key a concrete type carries on behalf of
// another type's ManyToOne collection.
type BackReference struct {
	Owner    int
	Property string
	Columns  []string
}

// LinkTable backs a ManyToMany relationship.
type LinkTable struct {
	Name          string
	OwnerColumns  []string
	OwnerTypes    []reflect.Type
	TargetColumns []string
	TargetTypes   []reflect.Type
}

// Type is the resolved, flattened record of one mapped type.
type Type struct {
	Index          int
	GoType         reflect.Type
	Name           string
	Concrete       bool
	Table          string
	IDs            []ID
	Properties     []*Property
	Parents        []int
	Children       []int
	BackReferences []BackReference
	Columns        []Column
	Mapping        *mapping.Mapping

	byName map[string]*Property
}

// Property returns the merged property with the given name, or nil.
func (t *Type) Property(name string) *Property {
	return t.byName[name]
}

// Lookup returns a property usable in a query.
func (t *Type) Lookup(name string) (*Property, error) {
	p, ok := t.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s has no property %s", runtime.ErrUnknownProperty, t.Name, name)
	}
	if p.Ambiguous {
		return nil, fmt.Errorf("%w: %s.%s is declared differently by merged mappings", runtime.ErrAmbiguousProperty, t.Name, name)
	}
	return p, nil
}

// IDByName returns the identity component with the given name.
func (t *Type) IDByName(name string) (ID, bool) {
	for _, id := range t.IDs {
		if id.Name == name {
			return id, true
		}
	}
	return ID{}, false
}

// IDColumns returns the identity column names in ordinal order.
func (t *Type) IDColumns() []string {
	cols := make([]string, len(t.IDs))
	for i, id := range t.IDs {
		cols[i] = id.Column
	}
	return cols
}

// AutoIncrement reports whether the type has a single generated ID.
func (t *Type) AutoIncrement() bool {
	return len(t.IDs) == 1 && t.IDs[0].AutoIncrement
}

// IDValues reads the identity of an entity.
func (t *Type) IDValues(entity reflect.Value) []any {
	entity = Indirect(entity)
	values := make([]any, len(t.IDs))
	for i, id := range t.IDs {
		if f, ok := Field(entity, id.Index, false); ok {
			values[i] = f.Interface()
		}
	}
	return values
}

// IsNew reports whether an entity with a generated ID has not been stored yet.
func (t *Type) IsNew(entity reflect.Value) bool {
	if !t.AutoIncrement() {
		return false
	}
	f, ok := Field(Indirect(entity), t.IDs[0].Index, false)
	return !ok || f.IsZero()
}

// Indirect follows pointers and interfaces to the struct value.
func Indirect(v reflect.Value) reflect.Value {
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}

// Field returns the field at index, following embedded pointers. With alloc
// set, nil embedded pointers are allocated on the way.
func Field(v reflect.Value, index []int, alloc bool) (reflect.Value, bool) {
	if !v.IsValid() || len(index) == 0 {
		return reflect.Value{}, false
	}
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				if !alloc || !v.CanSet() {
					return reflect.Value{}, false
				}
				v.Set(reflect.New(v.Type().Elem()))
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}
