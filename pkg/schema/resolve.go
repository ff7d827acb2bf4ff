// Package schema resolves declared mappings into a flat, per-data-source
// schema: one record per mapped type, with inherited and merged properties,
// a single identity chain, and table, column and link table names.
package schema

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/marshallshelly/inflatable/pkg/mapping"
	"github.com/marshallshelly/inflatable/pkg/runtime"
)

// Resolve builds the MappingSource of one data source. Mappings bound to
// other data sources are ignored. Resolution is pure and never touches the
// physical schema.
func Resolve(mappings []*mapping.Mapping, ds *mapping.DataSource) (*MappingSource, error) {
	r := &resolver{
		src: &MappingSource{
			DataSource: ds,
			byType:     make(map[reflect.Type]int),
		},
	}
	for _, m := range mappings {
		if m.DataSource != ds.Name {
			continue
		}
		if _, dup := r.src.byType[m.Type]; dup {
			return nil, r.fail(m.Type.String(), "", errors.New("type is mapped twice"))
		}
		t := &Type{
			Index:    len(r.src.types),
			GoType:   m.Type,
			Name:     m.Type.Name(),
			Concrete: m.Type.Kind() == reflect.Struct && !m.Merge,
			Mapping:  m,
			byName:   make(map[string]*Property),
		}
		r.src.byType[m.Type] = t.Index
		r.src.types = append(r.src.types, t)
	}

	r.linkParents()
	steps := []func(*Type) error{r.mergeProperties, r.mergeIDs, r.bindFields}
	for _, step := range steps {
		for _, t := range r.src.types {
			if err := step(t); err != nil {
				return nil, err
			}
		}
	}
	for _, t := range r.src.types {
		r.borrowIDTypes(t)
	}
	for _, t := range r.src.types {
		if err := r.relate(t); err != nil {
			return nil, err
		}
	}
	for _, t := range r.src.types {
		if err := r.assignColumns(t); err != nil {
			return nil, err
		}
	}
	return r.src, nil
}

type resolver struct {
	src *MappingSource
}

func (r *resolver) fail(typ, prop string, err error) error {
	return &runtime.ResolutionError{DataSource: r.src.DataSource.Name, Type: typ, Property: prop, Err: err}
}

// linkParents records, for every type, its nearest mapped ancestors: mapped
// structs it embeds and mapped interfaces it implements.
func (r *resolver) linkParents() {
	candidates := make([][]int, len(r.src.types))
	for _, t := range r.src.types {
		var cands []int
		if t.GoType.Kind() == reflect.Struct {
			cands = r.embedded(t.GoType, t.Index, make(map[reflect.Type]bool))
		}
		for _, o := range r.src.types {
			if o.Index == t.Index || o.GoType.Kind() != reflect.Interface {
				continue
			}
			if !implements(t.GoType, o.GoType) {
				continue
			}
			// Interfaces with identical method sets would otherwise parent each other.
			if t.GoType.Kind() == reflect.Interface && o.GoType.Implements(t.GoType) {
				continue
			}
			cands = appendUnique(cands, o.Index)
		}
		candidates[t.Index] = cands
	}

	for _, t := range r.src.types {
		cands := candidates[t.Index]
		for _, c := range cands {
			redundant := false
			for _, d := range cands {
				if d != c && reaches(candidates, d, c) && !reaches(candidates, c, d) {
					redundant = true
					break
				}
			}
			if !redundant {
				t.Parents = append(t.Parents, c)
			}
		}
		for _, p := range t.Parents {
			r.src.types[p].Children = append(r.src.types[p].Children, t.Index)
		}
	}
}

func (r *resolver) embedded(gt reflect.Type, self int, visited map[reflect.Type]bool) []int {
	visited[gt] = true
	var out []int
	for i := 0; i < gt.NumField(); i++ {
		f := gt.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() != reflect.Struct || visited[ft] {
			continue
		}
		if idx, ok := r.src.byType[ft]; ok {
			if idx != self {
				out = appendUnique(out, idx)
			}
			continue
		}
		for _, idx := range r.embedded(ft, self, visited) {
			out = appendUnique(out, idx)
		}
	}
	return out
}

// reaches reports whether to is an ancestor of from.
func reaches(candidates [][]int, from, to int) bool {
	seen := map[int]bool{from: true}
	stack := append([]int(nil), candidates[from]...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == to {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, candidates[n]...)
	}
	return false
}

// levels returns t and its ancestors grouped by distance, nearest first.
func (r *resolver) levels(t *Type) [][]int {
	seen := map[int]bool{t.Index: true}
	current := []int{t.Index}
	var out [][]int
	for len(current) > 0 {
		out = append(out, current)
		var next []int
		for _, i := range current {
			for _, p := range r.src.types[i].Parents {
				if !seen[p] {
					seen[p] = true
					next = append(next, p)
				}
			}
		}
		current = next
	}
	return out
}

// mergeProperties flattens declared properties nearest-first. A property
// declared differently by two contributors at the same distance is ambiguous.
func (r *resolver) mergeProperties(t *Type) error {
	for depth, level := range r.levels(t) {
		for _, idx := range level {
			for _, decl := range r.src.types[idx].Mapping.Properties {
				if existing, ok := t.byName[decl.Name]; ok {
					if existing.depth == depth && !existing.decl.Equal(decl) {
						existing.Ambiguous = true
					}
					continue
				}
				p := &Property{
					Name:      decl.Name,
					Kind:      decl.Kind,
					MaxLength: decl.MaxLength,
					Nullable:  decl.Nullable,
					decl:      decl,
					depth:     depth,
				}
				t.byName[decl.Name] = p
				t.Properties = append(t.Properties, p)
			}
		}
	}
	return nil
}

// mergeIDs builds the identity chain. Every contributor declaring IDs must
// declare the same names with the same generation setting.
func (r *resolver) mergeIDs(t *Type) error {
	var chain []ID
	var owner string
	for _, level := range r.levels(t) {
		for _, idx := range level {
			m := r.src.types[idx].Mapping
			if len(m.IDs) == 0 {
				continue
			}
			if chain == nil {
				owner = m.Type.String()
				for _, id := range m.IDs {
					chain = append(chain, ID{Name: id.Name, Column: id.Column, Type: id.Type, AutoIncrement: id.AutoIncrement, Ordinal: id.Ordinal})
				}
				continue
			}
			if !sameIDNames(chain, m.IDs) {
				return r.fail(t.GoType.String(), "", fmt.Errorf("%w: %s declares (%s) but %s declares (%s)",
					runtime.ErrConflictingIdentity, owner, idNames(chain), m.Type.String(), declNames(m.IDs)))
			}
			for _, id := range m.IDs {
				c := &chain[indexOfID(chain, id.Name)]
				if c.AutoIncrement != id.AutoIncrement {
					return r.fail(t.GoType.String(), id.Name, fmt.Errorf("%w: incompatible auto-increment declarations in %s and %s",
						runtime.ErrConflictingIdentity, owner, m.Type.String()))
				}
				if c.Column == "" {
					c.Column = id.Column
				}
				if c.Type == nil {
					c.Type = id.Type
				}
			}
		}
	}
	if len(chain) > 1 {
		for _, id := range chain {
			if id.AutoIncrement {
				return r.fail(t.GoType.String(), id.Name, fmt.Errorf("%w: a composite identity cannot be generated", runtime.ErrConflictingIdentity))
			}
		}
	}
	for i := range chain {
		if chain[i].Column == "" {
			chain[i].Column = Underscore(chain[i].Name)
		}
		chain[i].Ordinal = i
		if p := t.byName[chain[i].Name]; p != nil {
			return r.fail(t.GoType.String(), p.Name, errors.New("declared as both identity and property"))
		}
	}
	t.IDs = chain
	return nil
}

// bindFields locates struct fields and assigns table and column names.
func (r *resolver) bindFields(t *Type) error {
	ds := r.src.DataSource
	if t.Concrete {
		t.Table = t.Mapping.Table
		if t.Table == "" {
			t.Table = ds.TablePrefix + Underscore(t.Name) + ds.TableSuffix
		}
	}
	for _, p := range t.Properties {
		p.Column = p.decl.Column
		if p.Column == "" {
			p.Column = Underscore(p.Name)
		}
	}
	if t.GoType.Kind() != reflect.Struct {
		return nil
	}

	for i := range t.IDs {
		f, ok := t.GoType.FieldByName(t.IDs[i].Name)
		if !ok {
			return r.fail(t.GoType.String(), t.IDs[i].Name, runtime.ErrUnknownProperty)
		}
		t.IDs[i].Index = f.Index
		t.IDs[i].Type = f.Type
	}
	for _, p := range t.Properties {
		f, ok := t.GoType.FieldByName(p.Name)
		if !ok || !f.IsExported() {
			return r.fail(t.GoType.String(), p.Name, runtime.ErrUnknownProperty)
		}
		if err := mapping.CheckShape(f.Type, p.Kind); err != nil {
			return r.fail(t.GoType.String(), p.Name, err)
		}
		p.Index = f.Index
		p.Type = f.Type
		if f.Type.Kind() == reflect.Pointer {
			p.Nullable = true
		}
	}
	return nil
}

// borrowIDTypes gives interface identities the field types of their first
// concrete implementer.
func (r *resolver) borrowIDTypes(t *Type) {
	if t.GoType.Kind() == reflect.Struct {
		return
	}
	for i := range t.IDs {
		if t.IDs[i].Type != nil {
			continue
		}
		for _, c := range r.src.ConcreteTypes(t.GoType) {
			if id, ok := c.IDByName(t.IDs[i].Name); ok {
				t.IDs[i].Type = id.Type
				break
			}
		}
	}
}

// relate resolves the relationship of every property that references a mapped type.
func (r *resolver) relate(t *Type) error {
	if t.GoType.Kind() != reflect.Struct {
		return nil
	}
	for _, p := range t.Properties {
		target, isRel := r.target(p)
		if !isRel {
			continue
		}
		if target == nil {
			return r.fail(t.GoType.String(), p.Name, fmt.Errorf("%w: relationship target %s is not mapped in this data source",
				runtime.ErrUnmappedType, mapping.EntityType(p.Type)))
		}
		if len(target.IDs) == 0 {
			return r.fail(target.GoType.String(), "", fmt.Errorf("%w: %s is referenced by %s.%s",
				runtime.ErrMissingIdentity, target.Name, t.Name, p.Name))
		}

		rel := &Relationship{
			Kind:       p.Kind,
			Cascade:    p.decl.Cascade,
			Collection: p.Type.Kind() == reflect.Slice,
			Target:     target.Index,
		}
		p.Relationship = rel

		switch {
		case rel.Kind == mapping.ManyToMany:
			if err := r.linkTable(t, p, target); err != nil {
				return err
			}
		case rel.Collection:
			if len(t.IDs) == 0 {
				return r.fail(t.GoType.String(), p.Name, fmt.Errorf("%w: owner of collection %s has no identity", runtime.ErrMissingIdentity, p.Name))
			}
			rel.Columns = r.foreignKeys(p, Underscore(t.Name)+"_"+Underscore(p.Name), t.IDs)
			if !t.Concrete {
				continue
			}
			for _, c := range r.src.ConcreteTypes(target.GoType) {
				c.BackReferences = append(c.BackReferences, BackReference{Owner: t.Index, Property: p.Name, Columns: rel.Columns})
			}
		default:
			rel.Columns = r.foreignKeys(p, Underscore(p.Name), target.IDs)
		}
	}
	return nil
}

// target returns the referenced type and whether p is a relationship. A
// Reference to an unmapped struct pointer is a plain nullable column.
func (r *resolver) target(p *Property) (*Type, bool) {
	if p.Type == nil {
		return nil, false
	}
	et := mapping.EntityType(p.Type)
	t, mapped := r.src.Type(et)
	if p.Kind == mapping.Reference {
		if !mapping.IsEntityRef(p.Type) || !mapped {
			return nil, false
		}
		return t, true
	}
	return t, true
}

func (r *resolver) foreignKeys(p *Property, prefix string, ids []ID) []string {
	if p.decl.ForeignKey != "" && len(ids) == 1 {
		return []string{p.decl.ForeignKey}
	}
	cols := make([]string, len(ids))
	for i, id := range ids {
		cols[i] = joinName(prefix, id.Column)
	}
	return cols
}

func (r *resolver) linkTable(owner *Type, p *Property, target *Type) error {
	if len(owner.IDs) == 0 {
		return r.fail(owner.GoType.String(), p.Name, fmt.Errorf("%w: owner of link %s has no identity", runtime.ErrMissingIdentity, p.Name))
	}
	rel := p.Relationship
	ds := r.src.DataSource
	rel.LinkTable = p.decl.LinkTable
	if rel.LinkTable == "" {
		rel.LinkTable = ds.TablePrefix + joinName(Underscore(owner.Name), Underscore(p.Name)) + ds.TableSuffix
	}
	ownerPrefix := Underscore(owner.Name)
	targetPrefix := Underscore(target.Name)
	if ownerPrefix == targetPrefix {
		targetPrefix = "related_" + targetPrefix
	}
	link := LinkTable{Name: rel.LinkTable}
	for _, id := range owner.IDs {
		rel.OwnerColumns = append(rel.OwnerColumns, joinName(ownerPrefix, id.Column))
		link.OwnerTypes = append(link.OwnerTypes, id.Type)
	}
	for _, id := range target.IDs {
		rel.TargetColumns = append(rel.TargetColumns, joinName(targetPrefix, id.Column))
		link.TargetTypes = append(link.TargetTypes, id.Type)
	}
	link.OwnerColumns = rel.OwnerColumns
	link.TargetColumns = rel.TargetColumns
	if !owner.Concrete {
		return nil
	}
	for _, existing := range r.src.links {
		if existing.Name == link.Name {
			return nil
		}
	}
	r.src.links = append(r.src.links, link)
	return nil
}

// assignColumns lists the physical columns of a concrete type.
func (r *resolver) assignColumns(t *Type) error {
	if !t.Concrete {
		return nil
	}
	seen := make(map[string]bool)
	add := func(c Column) error {
		if seen[c.Name] {
			return r.fail(t.GoType.String(), "", fmt.Errorf("column %s is assigned twice", c.Name))
		}
		seen[c.Name] = true
		t.Columns = append(t.Columns, c)
		return nil
	}

	for _, id := range t.IDs {
		if err := add(Column{Name: id.Column, Kind: IDColumn, Type: id.Type, AutoIncrement: id.AutoIncrement, Ordinal: id.Ordinal}); err != nil {
			return err
		}
	}
	for _, p := range t.Properties {
		rel := p.Relationship
		switch {
		case rel == nil:
			if err := add(Column{Name: p.Column, Kind: ScalarColumn, Type: p.Type, MaxLength: p.MaxLength, Nullable: p.Nullable, Property: p}); err != nil {
				return err
			}
		case !rel.Collection:
			target := r.src.types[rel.Target]
			for i, col := range rel.Columns {
				if err := add(Column{Name: col, Kind: ForeignKeyColumn, Type: target.IDs[i].Type, Nullable: true, Ordinal: i, Property: p}); err != nil {
					return err
				}
			}
		}
	}
	for i := range t.BackReferences {
		back := &t.BackReferences[i]
		owner := r.src.types[back.Owner]
		for j, col := range back.Columns {
			if err := add(Column{Name: col, Kind: BackReferenceColumn, Type: owner.IDs[j].Type, Nullable: true, Ordinal: j, Back: back}); err != nil {
				return err
			}
		}
	}
	return nil
}

func appendUnique(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

func sameIDNames(chain []ID, ids []mapping.IDProperty) bool {
	if len(chain) != len(ids) {
		return false
	}
	for _, id := range ids {
		if indexOfID(chain, id.Name) < 0 {
			return false
		}
	}
	return true
}

func indexOfID(chain []ID, name string) int {
	for i, id := range chain {
		if id.Name == name {
			return i
		}
	}
	return -1
}

func idNames(chain []ID) string {
	names := make([]string, len(chain))
	for i, id := range chain {
		names[i] = id.Name
	}
	return strings.Join(names, ", ")
}

func declNames(ids []mapping.IDProperty) string {
	names := make([]string, len(ids))
	for i, id := range ids {
		names[i] = id.Name
	}
	return strings.Join(names, ", ")
}
