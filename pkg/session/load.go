package session

import (
	"context"
	"fmt"
	"reflect"

	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
	"github.com/marshallshelly/inflatable/pkg/track"
)

var _ track.Loader = (*Manager)(nil)

// Load fills a relationship property of a stored entity. Collections are read
// by their owner's identity, single references by the foreign key recorded
// when the entity was read. A reference stored as null is left nil.
func (m *Manager) Load(ctx context.Context, entity any, property string) error {
	r, p, err := m.relationshipRoute(entity, property)
	if err != nil {
		return err
	}
	f, ok := schema.Field(schema.Indirect(reflect.ValueOf(entity)), p.Index, true)
	if !ok || !f.CanSet() {
		return fmt.Errorf("%w: cannot set %T.%s", runtime.ErrInvalidModel, entity, property)
	}
	owner, _ := r.src.TypeOf(entity)
	target := r.src.At(p.Relationship.Target)
	log := m.log.WithField("property", owner.Name+"."+property)

	if p.Relationship.Collection {
		cmds, err := r.tr.LoadProperty(entity, property)
		if err != nil {
			return err
		}
		stmts := make([]statement, len(cmds))
		for i, c := range cmds {
			stmts[i] = statement{r: r, cmd: c}
		}
		rows, err := m.fetch(ctx, log, target.GoType.String(), stmts, "", []string{owner.GoType.String()})
		if err != nil {
			return err
		}
		loaded, err := m.materialize(stmts, rows, false)
		if err != nil {
			return err
		}
		if f.Kind() != reflect.Slice {
			return fmt.Errorf("%w: %T.%s is not a slice", runtime.ErrInvalidModel, entity, property)
		}
		out := reflect.MakeSlice(f.Type(), 0, len(loaded))
		for _, e := range loaded {
			v, ok := convert(reflect.ValueOf(e), f.Type().Elem())
			if !ok {
				return fmt.Errorf("%w: %T does not fit %T.%s", runtime.ErrInvalidModel, e, entity, property)
			}
			out = reflect.Append(out, v)
		}
		f.Set(out)
		return nil
	}

	st := track.Of(entity)
	if st == nil {
		return nil
	}
	key, ok := st.ForeignKey(property)
	if !ok {
		return nil
	}
	cmds, err := r.tr.LoadData(target.GoType, key)
	if err != nil {
		return err
	}
	stmts := make([]statement, len(cmds))
	for i, c := range cmds {
		stmts[i] = statement{r: r, cmd: c}
	}
	rows, err := m.fetch(ctx, log, target.GoType.String(), stmts, "", nil)
	if err != nil {
		return err
	}
	loaded, err := m.materialize(stmts, rows, false)
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		return fmt.Errorf("%w: %s of %s with key %v", runtime.ErrNotFound, property, owner.Name, key)
	}
	v, ok := convert(reflect.ValueOf(loaded[0]), f.Type())
	if !ok {
		return fmt.Errorf("%w: %T does not fit %T.%s", runtime.ErrInvalidModel, loaded[0], entity, property)
	}
	f.Set(v)
	return nil
}

// relationshipRoute returns the first readable source where the entity's
// type has the relationship property.
func (m *Manager) relationshipRoute(entity any, property string) (*route, *schema.Property, error) {
	mapped := false
	for _, r := range m.routes {
		if !r.src.DataSource.Readable {
			continue
		}
		t, ok := r.src.TypeOf(entity)
		if !ok || !t.Concrete {
			continue
		}
		mapped = true
		if p := t.Property(property); p != nil && p.Relationship != nil {
			return r, p, nil
		}
	}
	if !mapped {
		return nil, nil, fmt.Errorf("%w: %T", runtime.ErrUnmappedType, entity)
	}
	return nil, nil, &runtime.TranslationError{
		Type:     reflect.TypeOf(entity).String(),
		Property: property,
		Err:      runtime.ErrUnknownProperty,
	}
}
