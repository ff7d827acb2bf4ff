package mapping

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/marshallshelly/inflatable/pkg/runtime"
)

// PropertyOption configures a declared property.
type PropertyOption func(*Property, *IDProperty)

// Column overrides the derived column name.
func Column(name string) PropertyOption {
	return func(p *Property, id *IDProperty) {
		if p != nil {
			p.Column = name
		}
		if id != nil {
			id.Column = name
		}
	}
}

// MaxLength bounds a string column.
func MaxLength(n int) PropertyOption {
	return func(p *Property, _ *IDProperty) {
		if p != nil {
			p.MaxLength = n
		}
	}
}

// Nullable allows NULL in the column.
func Nullable() PropertyOption {
	return func(p *Property, _ *IDProperty) {
		if p != nil {
			p.Nullable = true
		}
	}
}

// AutoIncrement marks an ID as generated by the database.
func AutoIncrement() PropertyOption {
	return func(_ *Property, id *IDProperty) {
		if id != nil {
			id.AutoIncrement = true
		}
	}
}

// Cascade sets whether the relationship target is saved and deleted with its owner.
func Cascade(on bool) PropertyOption {
	return func(p *Property, _ *IDProperty) {
		if p != nil {
			p.Cascade = on
		}
	}
}

// LinkTable overrides the derived link table name of a ManyToMany property.
func LinkTable(name string) PropertyOption {
	return func(p *Property, _ *IDProperty) {
		if p != nil {
			p.LinkTable = name
		}
	}
}

// ForeignKey overrides the derived foreign key column of a single-column relationship.
func ForeignKey(column string) PropertyOption {
	return func(p *Property, _ *IDProperty) {
		if p != nil {
			p.ForeignKey = column
		}
	}
}

// MappingOption configures a mapping.
type MappingOption func(*Mapping)

// Table overrides the derived table name.
func Table(name string) MappingOption {
	return func(m *Mapping) { m.Table = name }
}

// Merge marks the mapping as a trait merged into implementing types rather
// than a concrete, independently stored type.
func Merge() MappingOption {
	return func(m *Mapping) { m.Merge = true }
}

// Builder declares the mapping of T.
type Builder[T any] struct {
	m    *Mapping
	errs []error
}

// New starts the mapping of T in the named data source.
func New[T any](dataSource string, opts ...MappingOption) *Builder[T] {
	m := &Mapping{
		Type:       reflect.TypeOf((*T)(nil)).Elem(),
		DataSource: dataSource,
	}
	for _, opt := range opts {
		opt(m)
	}
	return &Builder[T]{m: m}
}

// ID declares an identity property. Repeated calls build a composite ID in call order.
func (b *Builder[T]) ID(name string, opts ...PropertyOption) *Builder[T] {
	id := IDProperty{Name: name, Ordinal: len(b.m.IDs)}
	for _, opt := range opts {
		opt(nil, &id)
	}
	if f, ok := b.field(name); ok {
		id.Type = f.Type
	}
	b.m.IDs = append(b.m.IDs, id)
	return b
}

// Reference declares a scalar property or a foreign key to a mapped type.
func (b *Builder[T]) Reference(name string, opts ...PropertyOption) *Builder[T] {
	return b.add(Property{Name: name, Kind: Reference}, opts)
}

// Map declares a one-to-one composition. Cascade defaults to true.
func (b *Builder[T]) Map(name string, opts ...PropertyOption) *Builder[T] {
	return b.add(Property{Name: name, Kind: Map, Cascade: true}, opts)
}

// ManyToOne declares a foreign key relationship.
func (b *Builder[T]) ManyToOne(name string, opts ...PropertyOption) *Builder[T] {
	return b.add(Property{Name: name, Kind: ManyToOne}, opts)
}

// ManyToMany declares a relationship stored in a link table.
func (b *Builder[T]) ManyToMany(name string, opts ...PropertyOption) *Builder[T] {
	return b.add(Property{Name: name, Kind: ManyToMany}, opts)
}

func (b *Builder[T]) add(p Property, opts []PropertyOption) *Builder[T] {
	for _, opt := range opts {
		opt(&p, nil)
	}
	b.m.Properties = append(b.m.Properties, p)
	return b
}

func (b *Builder[T]) field(name string) (reflect.StructField, bool) {
	if b.m.Type.Kind() != reflect.Struct {
		return reflect.StructField{}, false
	}
	return b.m.Type.FieldByName(name)
}

// Build validates the declaration and returns the mapping.
func (b *Builder[T]) Build() (*Mapping, error) {
	if err := validate(b.m); err != nil {
		return nil, err
	}
	return b.m, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder[T]) MustBuild() *Mapping {
	m, err := b.Build()
	if err != nil {
		panic(err)
	}
	return m
}

func validate(m *Mapping) error {
	fail := func(prop string, err error) error {
		return &runtime.ResolutionError{DataSource: m.DataSource, Type: m.Type.String(), Property: prop, Err: err}
	}

	switch m.Type.Kind() {
	case reflect.Struct, reflect.Interface:
	default:
		return fail("", fmt.Errorf("%w: mapped type must be a struct or interface, got %s", runtime.ErrInvalidModel, m.Type.Kind()))
	}
	if m.DataSource == "" {
		return fail("", errors.New("data source is required"))
	}

	seen := make(map[string]bool)
	for _, id := range m.IDs {
		if seen[id.Name] {
			return fail(id.Name, errors.New("declared twice"))
		}
		seen[id.Name] = true
		if err := checkField(m, id.Name, Reference); err != nil {
			return fail(id.Name, err)
		}
	}
	for _, p := range m.Properties {
		if seen[p.Name] {
			return fail(p.Name, errors.New("declared twice"))
		}
		seen[p.Name] = true
		if err := checkField(m, p.Name, p.Kind); err != nil {
			return fail(p.Name, err)
		}
	}
	return nil
}

// checkField verifies a struct field exists and fits the property kind.
// Interface mappings are checked against their implementers during resolution.
func checkField(m *Mapping, name string, kind Kind) error {
	if m.Type.Kind() != reflect.Struct {
		return nil
	}
	f, ok := m.Type.FieldByName(name)
	if !ok {
		return runtime.ErrUnknownProperty
	}
	if !f.IsExported() {
		return fmt.Errorf("%w: field is not exported", runtime.ErrInvalidModel)
	}
	return CheckShape(f.Type, kind)
}

// CheckShape verifies a field type can hold a property of the given kind.
func CheckShape(t reflect.Type, kind Kind) error {
	switch kind {
	case Map:
		if !IsEntityRef(t) {
			return fmt.Errorf("%w: map property must be a pointer to a struct or an interface", runtime.ErrInvalidModel)
		}
	case ManyToOne:
		if !IsEntityRef(t) && !IsEntityCollection(t) {
			return fmt.Errorf("%w: manyToOne property must be an entity reference or a slice of them", runtime.ErrInvalidModel)
		}
	case ManyToMany:
		if !IsEntityCollection(t) {
			return fmt.Errorf("%w: manyToMany property must be a slice of entity references", runtime.ErrInvalidModel)
		}
	}
	return nil
}

// IsEntityRef reports whether t can reference a single entity.
func IsEntityRef(t reflect.Type) bool {
	return (t.Kind() == reflect.Pointer && t.Elem().Kind() == reflect.Struct) || t.Kind() == reflect.Interface
}

// IsEntityCollection reports whether t is a slice of entity references.
func IsEntityCollection(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && IsEntityRef(t.Elem())
}

// EntityType returns the entity type referenced by a relationship field.
func EntityType(t reflect.Type) reflect.Type {
	if t.Kind() == reflect.Slice {
		t = t.Elem()
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}
