package builder

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/query"
	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/marshallshelly/inflatable/pkg/schema"
)

// Translator turns query descriptions and entity writes into commands for
// one mapping source. It holds no mutable state and is safe for concurrent use.
type Translator struct {
	src *schema.MappingSource
	d   dialect.Dialect
}

// NewTranslator returns a translator for a resolved mapping source.
func NewTranslator(src *schema.MappingSource, d dialect.Dialect) *Translator {
	return &Translator{src: src, d: d}
}

// Source returns the mapping source.
func (t *Translator) Source() *schema.MappingSource {
	return t.src
}

// Dialect returns the SQL dialect.
func (t *Translator) Dialect() dialect.Dialect {
	return t.d
}

// Translate produces one select per concrete type stored for the target of
// desc. Subtypes lacking a property the predicate names are skipped, as are
// subtypes whose predicate folds to false.
//
// With union set, or when several statements result, each statement is
// limited to skip+take rows without an offset and carries its ordering
// columns in the shape, so the caller can order the union and apply skip
// and take itself.
func (t *Translator) Translate(desc *query.Description, union bool) ([]*Command, error) {
	concrete := t.src.ConcreteTypes(desc.Target)
	if len(concrete) == 0 {
		return nil, &runtime.TranslationError{Type: typeName(desc.Target), Err: runtime.ErrUnmappedType}
	}
	union = union || len(concrete) > 1

	var cmds []*Command
	var absent error
	for _, ct := range concrete {
		cmd, err := t.selectFor(ct, desc, union)
		if errors.Is(err, query.ErrAbsentProperty) {
			absent = err
			continue
		}
		if err != nil {
			return nil, err
		}
		if cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	if len(cmds) == 0 && absent != nil {
		return nil, &runtime.TranslationError{
			Type: typeName(desc.Target),
			Err:  fmt.Errorf("%w: %w", runtime.ErrUnknownProperty, absent),
		}
	}
	return cmds, nil
}

func (t *Translator) selectFor(ct *schema.Type, desc *query.Description, union bool) (*Command, error) {
	sel := &selection{t: t}

	var pred query.Node
	if desc.Predicate != nil {
		n, err := desc.Predicate.Copy().Optimize(sel.resolver(ct, "t0"))
		if err != nil {
			return nil, err
		}
		if s, ok := n.(*query.Static); ok {
			if !s.Value {
				return nil, nil
			}
		} else {
			pred = n
		}
	}

	cols, err := sel.columns(ct, desc.Projection)
	if err != nil {
		return nil, err
	}
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = "t0." + t.d.Quote(c.Name)
	}

	var orderBy []string
	var sortKeys []SortKey
	for _, o := range desc.Orders {
		res, err := sel.resolve(ct, "t0", o.Path)
		if err != nil {
			return nil, err
		}
		for _, col := range res.Columns {
			dir := "ASC"
			if o.Descending {
				dir = "DESC"
			}
			orderBy = append(orderBy, col+" "+dir)

			at := indexOf(exprs, col)
			if at < 0 {
				exprs = append(exprs, col)
				cols = append(cols, nil)
				at = len(exprs) - 1
			}
			sortKeys = append(sortKeys, SortKey{Index: at, Descending: o.Descending})
		}
	}

	a := &args{d: t.d}
	var sql strings.Builder
	sql.WriteString("SELECT ")
	if desc.Distinct {
		sql.WriteString("DISTINCT ")
	}
	sql.WriteString(strings.Join(exprs, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(t.d.Quote(ct.Table))
	sql.WriteString(" AS t0")
	for _, j := range sel.joins {
		sql.WriteString(j.sql)
	}
	if pred != nil {
		sql.WriteString(" WHERE ")
		if err := renderPredicate(&sql, pred, a); err != nil {
			return nil, &runtime.TranslationError{Type: ct.Name, Err: err}
		}
	}
	if len(orderBy) > 0 {
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(orderBy, ", "))
	}

	var limit, offset string
	switch {
	case union && desc.Take > 0:
		limit = a.add(desc.Skip + desc.Take)
	case !union:
		if desc.Take > 0 {
			limit = a.add(desc.Take)
		}
		if desc.Skip > 0 {
			offset = a.add(desc.Skip)
		}
	}
	if clause := t.d.Limit(limit, offset); clause != "" {
		sql.WriteString(" ")
		sql.WriteString(clause)
	}

	return &Command{
		Kind:       Select,
		DataSource: t.src.Name(),
		Type:       ct,
		Table:      ct.Table,
		SQL:        sql.String(),
		Args:       a.values,
		Shape:      &Shape{Type: ct, Columns: cols, Orders: sortKeys},
	}, nil
}

// LoadProperty builds the reads that fill a collection property of a stored
// entity: one per concrete target type.
func (t *Translator) LoadProperty(owner any, property string) ([]*Command, error) {
	ot, err := t.concrete(owner)
	if err != nil {
		return nil, err
	}
	p, err := ot.Lookup(property)
	if err != nil {
		return nil, &runtime.TranslationError{Type: ot.Name, Property: property, Err: err}
	}
	rel := p.Relationship
	if rel == nil || !rel.Collection {
		return nil, &runtime.TranslationError{Type: ot.Name, Property: property, Err: errors.New("not a collection")}
	}
	if ot.IsNew(reflect.ValueOf(owner)) {
		return nil, &runtime.TranslationError{Type: ot.Name, Property: property, Err: runtime.ErrMissingIdentity}
	}
	key := ot.IDValues(reflect.ValueOf(owner))
	target := t.src.At(rel.Target)

	var cmds []*Command
	for _, ct := range t.src.ConcreteTypes(target.GoType) {
		var join string
		var where []string
		if rel.Kind == mapping.ManyToMany {
			on := make([]string, len(rel.TargetColumns))
			for i, c := range rel.TargetColumns {
				on[i] = "l." + t.d.Quote(c) + " = t0." + t.d.Quote(ct.IDs[i].Column)
			}
			join = " INNER JOIN " + t.d.Quote(rel.LinkTable) + " AS l ON " + strings.Join(on, " AND ")
			for _, c := range rel.OwnerColumns {
				where = append(where, "l."+t.d.Quote(c))
			}
		} else {
			for _, c := range ct.Columns {
				if c.Kind == schema.BackReferenceColumn && c.Back.Owner == ot.Index && c.Back.Property == property {
					where = append(where, "t0."+t.d.Quote(c.Name))
				}
			}
			if len(where) == 0 {
				continue
			}
		}
		cmds = append(cmds, t.load(LoadProperty, ct, join, where, key))
	}
	return cmds, nil
}

// LoadData builds the reads that fetch entities of target by identity: one
// per concrete type.
func (t *Translator) LoadData(target reflect.Type, key []any) ([]*Command, error) {
	concrete := t.src.ConcreteTypes(target)
	if len(concrete) == 0 {
		return nil, &runtime.TranslationError{Type: typeName(target), Err: runtime.ErrUnmappedType}
	}
	var cmds []*Command
	for _, ct := range concrete {
		if len(ct.IDs) != len(key) {
			return nil, &runtime.TranslationError{
				Type: ct.Name,
				Err:  fmt.Errorf("%w: %d key values for %d identity columns", runtime.ErrConflictingIdentity, len(key), len(ct.IDs)),
			}
		}
		where := make([]string, len(ct.IDs))
		for i, id := range ct.IDs {
			where[i] = "t0." + t.d.Quote(id.Column)
		}
		cmds = append(cmds, t.load(LoadData, ct, "", where, key))
	}
	return cmds, nil
}

func (t *Translator) load(kind CommandKind, ct *schema.Type, join string, where []string, key []any) *Command {
	cols := storedColumns(ct)
	exprs := make([]string, len(cols))
	for i, c := range cols {
		exprs[i] = "t0." + t.d.Quote(c.Name)
	}
	a := &args{d: t.d}
	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(exprs, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(t.d.Quote(ct.Table))
	sql.WriteString(" AS t0")
	sql.WriteString(join)
	sql.WriteString(" WHERE ")
	for i, w := range where {
		if i > 0 {
			sql.WriteString(" AND ")
		}
		sql.WriteString(w)
		sql.WriteString(" = ")
		sql.WriteString(a.add(key[i]))
	}
	return &Command{
		Kind:       kind,
		DataSource: t.src.Name(),
		Type:       ct,
		Table:      ct.Table,
		SQL:        sql.String(),
		Args:       a.values,
		Shape:      &Shape{Type: ct, Columns: cols},
	}
}

// selection accumulates the joins of one select.
type selection struct {
	t     *Translator
	joins []joinClause
}

type joinClause struct {
	from     string
	property string
	alias    string
	sql      string
}

func (s *selection) resolver(ct *schema.Type, alias string) query.Resolver {
	return query.ResolverFunc(func(path []string) (query.Resolution, error) {
		return s.resolve(ct, alias, path)
	})
}

// resolve binds a property path on ct, joining referenced tables for
// multi-segment paths.
func (s *selection) resolve(ct *schema.Type, alias string, path []string) (query.Resolution, error) {
	d := s.t.d
	name := path[0]
	if id, ok := ct.IDByName(name); ok && len(path) == 1 {
		return query.Resolution{Columns: []string{alias + "." + d.Quote(id.Column)}}, nil
	}
	p, err := ct.Lookup(name)
	switch {
	case errors.Is(err, runtime.ErrUnknownProperty):
		return query.Resolution{}, fmt.Errorf("%w: %s.%s", query.ErrAbsentProperty, ct.Name, name)
	case err != nil:
		return query.Resolution{}, &runtime.TranslationError{Type: ct.Name, Property: name, Err: err}
	}
	rel := p.Relationship
	if rel != nil && rel.Collection {
		return query.Resolution{}, &runtime.TranslationError{
			Type:     ct.Name,
			Property: name,
			Err:      fmt.Errorf("%w: collection properties cannot be queried", runtime.ErrUnsupportedPredicate),
		}
	}

	if len(path) == 1 {
		if rel == nil {
			return query.Resolution{Columns: []string{alias + "." + d.Quote(p.Column)}}, nil
		}
		cols := make([]string, len(rel.Columns))
		for i, c := range rel.Columns {
			cols[i] = alias + "." + d.Quote(c)
		}
		return query.Resolution{Columns: cols, Key: s.t.keyFunc(s.t.src.At(rel.Target))}, nil
	}

	if rel == nil {
		return query.Resolution{}, &runtime.TranslationError{
			Type:     ct.Name,
			Property: name,
			Err:      fmt.Errorf("%w: %s is not a reference", runtime.ErrUnsupportedPredicate, name),
		}
	}
	targets := s.t.src.ConcreteTypes(s.t.src.At(rel.Target).GoType)
	if len(targets) != 1 {
		return query.Resolution{}, &runtime.TranslationError{
			Type:     ct.Name,
			Property: name,
			Err:      fmt.Errorf("%w: %s references %d stored types", runtime.ErrUnsupportedPredicate, name, len(targets)),
		}
	}
	next := s.join(alias, p, targets[0])
	res, err := s.resolve(targets[0], next, path[1:])
	if errors.Is(err, query.ErrAbsentProperty) {
		// Only the queried type selects subtypes; a missing property on a
		// joined type is an error.
		return query.Resolution{}, &runtime.TranslationError{
			Type:     ct.Name,
			Property: strings.Join(path, "."),
			Err:      fmt.Errorf("%w: %v", runtime.ErrUnknownProperty, err),
		}
	}
	return res, err
}

// join returns the alias of the table referenced by p from alias, adding a
// LEFT JOIN on first use.
func (s *selection) join(from string, p *schema.Property, target *schema.Type) string {
	for _, j := range s.joins {
		if j.from == from && j.property == p.Name {
			return j.alias
		}
	}
	d := s.t.d
	alias := fmt.Sprintf("t%d", len(s.joins)+1)
	on := make([]string, len(p.Relationship.Columns))
	for i, c := range p.Relationship.Columns {
		on[i] = alias + "." + d.Quote(target.IDs[i].Column) + " = " + from + "." + d.Quote(c)
	}
	s.joins = append(s.joins, joinClause{
		from:     from,
		property: p.Name,
		alias:    alias,
		sql:      " LEFT JOIN " + d.Quote(target.Table) + " AS " + alias + " ON " + strings.Join(on, " AND "),
	})
	return alias
}

// columns returns the selected columns of ct: every stored column, or the
// identity plus the projected properties.
func (s *selection) columns(ct *schema.Type, projection [][]string) ([]*schema.Column, error) {
	if len(projection) == 0 {
		return storedColumns(ct), nil
	}
	want := make(map[string]bool)
	for _, path := range projection {
		name := path[0]
		if _, ok := ct.IDByName(name); ok && len(path) == 1 {
			continue
		}
		p, err := ct.Lookup(name)
		switch {
		case errors.Is(err, runtime.ErrUnknownProperty):
			return nil, fmt.Errorf("%w: %s.%s", query.ErrAbsentProperty, ct.Name, name)
		case err != nil:
			return nil, &runtime.TranslationError{Type: ct.Name, Property: name, Err: err}
		}
		if len(path) > 1 || (p.Relationship != nil && p.Relationship.Collection) {
			return nil, &runtime.TranslationError{
				Type:     ct.Name,
				Property: strings.Join(path, "."),
				Err:      fmt.Errorf("%w: only own columns can be projected", runtime.ErrUnsupportedPredicate),
			}
		}
		want[name] = true
	}
	var out []*schema.Column
	for i := range ct.Columns {
		c := &ct.Columns[i]
		switch c.Kind {
		case schema.IDColumn:
			out = append(out, c)
		case schema.ScalarColumn, schema.ForeignKeyColumn:
			if want[c.Property.Name] {
				out = append(out, c)
			}
		}
	}
	return out, nil
}

// storedColumns returns the columns an entity is materialized from.
// Back-reference columns belong to the owner's collection and are not read.
func storedColumns(ct *schema.Type) []*schema.Column {
	out := make([]*schema.Column, 0, len(ct.Columns))
	for i := range ct.Columns {
		if ct.Columns[i].Kind != schema.BackReferenceColumn {
			out = append(out, &ct.Columns[i])
		}
	}
	return out
}

// keyFunc maps a compared value to the identity columns of target. Entities
// give their identity; a single identity may also be compared with a raw
// value, and a composite one with a slice of values.
func (t *Translator) keyFunc(target *schema.Type) func(any) ([]any, error) {
	return func(v any) ([]any, error) {
		rv := reflect.ValueOf(v)
		if et, ok := t.src.TypeOf(v); ok && rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				return make([]any, len(et.IDs)), nil
			}
			return et.IDValues(rv), nil
		}
		if vs, ok := v.([]any); ok && len(vs) == len(target.IDs) {
			return vs, nil
		}
		if len(target.IDs) == 1 {
			return []any{v}, nil
		}
		return nil, fmt.Errorf("%w: cannot compare %T with the identity of %s", runtime.ErrUnsupportedPredicate, v, target.Name)
	}
}

func indexOf(list []string, s string) int {
	for i, x := range list {
		if x == s {
			return i
		}
	}
	return -1
}

func typeName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t.String()
}
