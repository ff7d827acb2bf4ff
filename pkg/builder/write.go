package builder

import (
	"fmt"
	"reflect"
	"slices"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
)

// BackKey names the ManyToOne collection a back-reference column stores
// membership of.
type BackKey struct {
	Owner    int
	Property string
}

// WriteOptions controls the columns of an insert or update.
type WriteOptions struct {
	// ExplicitID writes a generated identity that is already set.
	ExplicitID bool
	// Upsert turns the insert into an insert-or-update on the identity.
	Upsert bool
	// Changed restricts an update to these properties. Nil writes all of them.
	Changed []string
	// Owners holds the owner of each collection the entity belongs to.
	Owners map[BackKey]any
}

// Insert builds the insert of an entity.
func (t *Translator) Insert(entity any, opt WriteOptions) (*Command, error) {
	typ, err := t.concrete(entity)
	if err != nil {
		return nil, err
	}
	cmd := &Command{
		Kind:       Insert,
		DataSource: t.src.Name(),
		Type:       typ,
		Table:      typ.Table,
		Entity:     entity,
	}
	v := reflect.ValueOf(entity)
	keys := keyParams(typ, entity)
	refs := make(map[string][]*Param)

	var row []*Param
	for _, c := range typ.Columns {
		var p *Param
		switch c.Kind {
		case schema.IDColumn:
			if c.AutoIncrement && !opt.ExplicitID {
				cmd.Identity = true
				continue
			}
			// An explicit identity that is still to be generated elsewhere
			// stays pending until it is patched in.
			p = keys[c.Ordinal]
		case schema.ScalarColumn:
			p = &Param{Value: fieldValue(v, c.Property.Index)}
		case schema.ForeignKeyColumn:
			if p, err = t.refParam(v, c, refs); err != nil {
				return nil, err
			}
		case schema.BackReferenceColumn:
			owner, ok := opt.Owners[BackKey{Owner: c.Back.Owner, Property: c.Back.Property}]
			if !ok {
				p = &Param{}
				break
			}
			if p, err = t.ownerParam(owner, c); err != nil {
				return nil, err
			}
		}
		cmd.Columns = append(cmd.Columns, c.Name)
		row = append(row, p)
	}
	cmd.Rows = [][]*Param{row}
	if opt.Upsert {
		cmd.Conflict = typ.IDColumns()
	}
	return cmd, nil
}

// Update builds the update of a stored entity. It returns nil when no
// column is left to write.
func (t *Translator) Update(entity any, opt WriteOptions) (*Command, error) {
	typ, err := t.concrete(entity)
	if err != nil {
		return nil, err
	}
	if len(typ.IDs) == 0 {
		return nil, fmt.Errorf("%w: cannot update %s without an identity", runtime.ErrMissingIdentity, typ.Name)
	}
	if typ.IsNew(reflect.ValueOf(entity)) {
		return nil, fmt.Errorf("%w: cannot update %s before it is stored", runtime.ErrMissingIdentity, typ.Name)
	}
	cmd := &Command{
		Kind:       Update,
		DataSource: t.src.Name(),
		Type:       typ,
		Table:      typ.Table,
		Entity:     entity,
		Where:      typ.IDColumns(),
		Keys:       keyParams(typ, entity),
	}
	v := reflect.ValueOf(entity)
	refs := make(map[string][]*Param)
	changed := func(name string) bool {
		return opt.Changed == nil || slices.Contains(opt.Changed, name)
	}

	var row []*Param
	for _, c := range typ.Columns {
		var p *Param
		switch c.Kind {
		case schema.ScalarColumn:
			if !changed(c.Property.Name) {
				continue
			}
			p = &Param{Value: fieldValue(v, c.Property.Index)}
		case schema.ForeignKeyColumn:
			if !changed(c.Property.Name) {
				continue
			}
			if p, err = t.refParam(v, c, refs); err != nil {
				return nil, err
			}
		case schema.BackReferenceColumn:
			owner, ok := opt.Owners[BackKey{Owner: c.Back.Owner, Property: c.Back.Property}]
			if !ok {
				continue
			}
			if p, err = t.ownerParam(owner, c); err != nil {
				return nil, err
			}
		default:
			continue
		}
		cmd.Columns = append(cmd.Columns, c.Name)
		row = append(row, p)
	}
	if len(row) == 0 {
		return nil, nil
	}
	cmd.Rows = [][]*Param{row}
	return cmd, nil
}

// Delete builds the delete of a stored entity.
func (t *Translator) Delete(entity any) (*Command, error) {
	typ, err := t.concrete(entity)
	if err != nil {
		return nil, err
	}
	if len(typ.IDs) == 0 {
		return nil, fmt.Errorf("%w: cannot delete %s without an identity", runtime.ErrMissingIdentity, typ.Name)
	}
	if typ.IsNew(reflect.ValueOf(entity)) {
		return nil, fmt.Errorf("%w: cannot delete %s before it is stored", runtime.ErrMissingIdentity, typ.Name)
	}
	return &Command{
		Kind:       Delete,
		DataSource: t.src.Name(),
		Type:       typ,
		Table:      typ.Table,
		Entity:     entity,
		Where:      typ.IDColumns(),
		Keys:       keyParams(typ, entity),
	}, nil
}

// SetOwner builds the update that links a stored entity to the owner of a
// ManyToOne collection, or unlinks it when owner is nil. Only the
// back-reference columns are written.
func (t *Translator) SetOwner(entity any, key BackKey, owner any) (*Command, error) {
	typ, err := t.concrete(entity)
	if err != nil {
		return nil, err
	}
	cmd := &Command{
		Kind:       Update,
		DataSource: t.src.Name(),
		Type:       typ,
		Table:      typ.Table,
		Entity:     entity,
		Where:      typ.IDColumns(),
		Keys:       keyParams(typ, entity),
	}
	var row []*Param
	for _, c := range typ.Columns {
		if c.Kind != schema.BackReferenceColumn || c.Back.Owner != key.Owner || c.Back.Property != key.Property {
			continue
		}
		p := &Param{}
		if owner != nil {
			if p, err = t.ownerParam(owner, c); err != nil {
				return nil, err
			}
		}
		cmd.Columns = append(cmd.Columns, c.Name)
		row = append(row, p)
	}
	if len(row) == 0 {
		return nil, fmt.Errorf("%w: %s stores no owner of %s.%s", runtime.ErrUnknownProperty, typ.Name, t.src.At(key.Owner).Name, key.Property)
	}
	cmd.Rows = [][]*Param{row}
	return cmd, nil
}

// JoinSave builds the link table insert relating owner to target through a
// ManyToMany property.
func (t *Translator) JoinSave(owner any, property string, target any) (*Command, error) {
	ot, rel, err := t.manyToMany(owner, property)
	if err != nil {
		return nil, err
	}
	tt, err := t.concrete(target)
	if err != nil {
		return nil, err
	}
	row := append(keyParams(ot, owner), keyParams(tt, target)...)
	return &Command{
		Kind:       JoinSave,
		DataSource: t.src.Name(),
		Type:       ot,
		Table:      rel.LinkTable,
		Entity:     owner,
		Columns:    append(slices.Clone(rel.OwnerColumns), rel.TargetColumns...),
		Rows:       [][]*Param{row},
	}, nil
}

// JoinDelete builds the link table delete for one target of a ManyToMany
// property, or for all of them when target is nil.
func (t *Translator) JoinDelete(owner any, property string, target any) (*Command, error) {
	ot, rel, err := t.manyToMany(owner, property)
	if err != nil {
		return nil, err
	}
	cmd := &Command{
		Kind:       JoinDelete,
		DataSource: t.src.Name(),
		Type:       ot,
		Table:      rel.LinkTable,
		Entity:     owner,
		Where:      slices.Clone(rel.OwnerColumns),
		Keys:       keyParams(ot, owner),
	}
	if target != nil {
		tt, err := t.concrete(target)
		if err != nil {
			return nil, err
		}
		cmd.Where = append(cmd.Where, rel.TargetColumns...)
		cmd.Keys = append(cmd.Keys, keyParams(tt, target)...)
	}
	return cmd, nil
}

func (t *Translator) manyToMany(owner any, property string) (*schema.Type, *schema.Relationship, error) {
	ot, err := t.concrete(owner)
	if err != nil {
		return nil, nil, err
	}
	p, err := ot.Lookup(property)
	if err != nil {
		return nil, nil, err
	}
	if p.Relationship == nil || p.Relationship.Kind != mapping.ManyToMany {
		return nil, nil, fmt.Errorf("%s.%s is not a many-to-many relationship", ot.Name, property)
	}
	return ot, p.Relationship, nil
}

// concrete returns the concrete type of an entity.
func (t *Translator) concrete(entity any) (*schema.Type, error) {
	typ, ok := t.src.TypeOf(entity)
	if !ok || !typ.Concrete {
		return nil, fmt.Errorf("%w: %T in data source %s", runtime.ErrUnmappedType, entity, t.src.Name())
	}
	if reflect.TypeOf(entity).Kind() != reflect.Pointer {
		return nil, fmt.Errorf("%w: %T must be passed by pointer", runtime.ErrInvalidModel, entity)
	}
	return typ, nil
}

// refParam returns the param of one foreign key column, reading the
// referenced entity once per property.
func (t *Translator) refParam(v reflect.Value, c schema.Column, refs map[string][]*Param) (*Param, error) {
	name := c.Property.Name
	params, ok := refs[name]
	if !ok {
		n := len(c.Property.Relationship.Columns)
		params = make([]*Param, n)
		var ref any
		if f, ok := schema.Field(schema.Indirect(v), c.Property.Index, false); ok && !isNil(f) {
			ref = f.Interface()
		}
		if ref == nil {
			for i := range params {
				params[i] = &Param{}
			}
		} else {
			rt, err := t.concrete(ref)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			params = keyParams(rt, ref)
			if len(params) != n {
				return nil, fmt.Errorf("%w: %s has %d identity columns, %s.%s expects %d",
					runtime.ErrConflictingIdentity, rt.Name, len(params), schema.Indirect(v).Type().Name(), name, n)
			}
		}
		refs[name] = params
	}
	return params[c.Ordinal], nil
}

func (t *Translator) ownerParam(owner any, c schema.Column) (*Param, error) {
	ot, err := t.concrete(owner)
	if err != nil {
		return nil, err
	}
	params := keyParams(ot, owner)
	if c.Ordinal >= len(params) {
		return nil, fmt.Errorf("%w: owner %s has no identity component %d", runtime.ErrConflictingIdentity, ot.Name, c.Ordinal)
	}
	return params[c.Ordinal], nil
}

// keyParams returns the identity params of an entity. Identities that are
// still to be generated are left pending.
func keyParams(t *schema.Type, entity any) []*Param {
	v := reflect.ValueOf(entity)
	ids := t.IDValues(v)
	pending := t.IsNew(v)
	params := make([]*Param, len(ids))
	for i, id := range ids {
		p := &Param{Value: id, Ref: entity, Ordinal: i}
		if pending {
			p.Value = nil
		}
		params[i] = p
	}
	return params
}

// fieldValue reads a scalar field as a driver argument. Nil pointers become
// NULL and other pointers are dereferenced.
func fieldValue(v reflect.Value, index []int) any {
	f, ok := schema.Field(schema.Indirect(v), index, false)
	if !ok || isNil(f) {
		return nil
	}
	for f.Kind() == reflect.Pointer || f.Kind() == reflect.Interface {
		f = f.Elem()
		if isNil(f) {
			return nil
		}
	}
	return f.Interface()
}

func isNil(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
