package schema

import (
	"reflect"
	"sort"

	"github.com/marshallshelly/inflatable/pkg/mapping"
)

// MappingSource is the resolved schema of one data source. It is read-only
// once Resolve returns and safe for concurrent use.
type MappingSource struct {
	DataSource *mapping.DataSource

	types  []*Type
	byType map[reflect.Type]int
	links  []LinkTable
}

// Name returns the data source name.
func (s *MappingSource) Name() string {
	return s.DataSource.Name
}

// Types returns every resolved type in registration order.
func (s *MappingSource) Types() []*Type {
	return s.types
}

// At returns the type at an arena index.
func (s *MappingSource) At(i int) *Type {
	return s.types[i]
}

// Type returns the resolved record of a mapped type. Pointer types are dereferenced.
func (s *MappingSource) Type(t reflect.Type) (*Type, bool) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	i, ok := s.byType[t]
	if !ok {
		return nil, false
	}
	return s.types[i], true
}

// TypeOf returns the resolved record of an entity's dynamic type.
func (s *MappingSource) TypeOf(entity any) (*Type, bool) {
	return s.Type(reflect.TypeOf(entity))
}

// ConcreteTypes returns the concrete types stored for t: t itself when it is
// concrete plus every concrete descendant, in registration order. For an
// unmapped interface every concrete type implementing it is returned.
func (s *MappingSource) ConcreteTypes(t reflect.Type) []*Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil
	}
	root, ok := s.byType[t]
	if !ok {
		if t.Kind() != reflect.Interface {
			return nil
		}
		var out []*Type
		for _, c := range s.types {
			if c.Concrete && implements(c.GoType, t) {
				out = append(out, c)
			}
		}
		return out
	}

	seen := map[int]bool{root: true}
	queue := []int{root}
	var found []int
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		if s.types[i].Concrete {
			found = append(found, i)
		}
		for _, c := range s.types[i].Children {
			if !seen[c] {
				seen[c] = true
				queue = append(queue, c)
			}
		}
	}
	sort.Ints(found)
	out := make([]*Type, len(found))
	for i, idx := range found {
		out[i] = s.types[idx]
	}
	return out
}

// LinkTables returns the link tables of every ManyToMany relationship.
func (s *MappingSource) LinkTables() []LinkTable {
	return s.links
}

func implements(t, iface reflect.Type) bool {
	if t.Implements(iface) {
		return true
	}
	return t.Kind() != reflect.Interface && reflect.PointerTo(t).Implements(iface)
}
