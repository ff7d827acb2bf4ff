package query

import (
	"fmt"
	"reflect"
	"strings"
)

// Order is one ordering term.
type Order struct {
	Path       []string
	Descending bool
}

func (o Order) String() string {
	if o.Descending {
		return strings.Join(o.Path, ".") + " DESC"
	}
	return strings.Join(o.Path, ".") + " ASC"
}

// Description is the complete, provider-independent description of a query.
type Description struct {
	// Target is the queried type: a struct or an interface, never a pointer.
	Target    reflect.Type
	Predicate Node
	Orders    []Order
	// Projection lists the property paths to load. Empty loads every column.
	Projection [][]string
	Skip       int
	// Take limits the result. Zero means unlimited.
	Take     int
	Distinct bool
}

// Copy returns a deep clone.
func (d *Description) Copy() *Description {
	out := *d
	if d.Predicate != nil {
		out.Predicate = d.Predicate.Copy()
	}
	out.Orders = append([]Order(nil), d.Orders...)
	out.Projection = append([][]string(nil), d.Projection...)
	return &out
}

// String renders the description in a stable form.
func (d *Description) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "FROM %s", d.Target)
	if d.Predicate != nil {
		fmt.Fprintf(&b, " WHERE %s", d.Predicate)
	}
	if len(d.Orders) > 0 {
		parts := make([]string, len(d.Orders))
		for i, o := range d.Orders {
			parts[i] = o.String()
		}
		fmt.Fprintf(&b, " ORDER BY %s", strings.Join(parts, ", "))
	}
	if len(d.Projection) > 0 {
		parts := make([]string, len(d.Projection))
		for i, p := range d.Projection {
			parts[i] = strings.Join(p, ".")
		}
		fmt.Fprintf(&b, " SELECT %s", strings.Join(parts, ", "))
	}
	if d.Distinct {
		b.WriteString(" DISTINCT")
	}
	if d.Skip > 0 {
		fmt.Fprintf(&b, " SKIP %d", d.Skip)
	}
	if d.Take > 0 {
		fmt.Fprintf(&b, " TAKE %d", d.Take)
	}
	return b.String()
}

// Query builds a Description for T, where T is a pointer to a mapped struct
// or a mapped interface.
type Query[T any] struct {
	desc Description
}

// For starts a query for T.
func For[T any]() *Query[T] {
	t := reflect.TypeOf((*T)(nil)).Elem()
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return &Query[T]{desc: Description{Target: t}}
}

// Where adds a predicate. Repeated calls are combined with AND.
func (q *Query[T]) Where(n Node) *Query[T] {
	if n == nil {
		return q
	}
	if q.desc.Predicate == nil {
		if n.Parent() != nil {
			n = n.Copy()
		}
		q.desc.Predicate = n
		return q
	}
	q.desc.Predicate = And(q.desc.Predicate, n)
	return q
}

// OrderBy adds an ascending ordering term.
func (q *Query[T]) OrderBy(path string) *Query[T] {
	q.desc.Orders = append(q.desc.Orders, Order{Path: strings.Split(path, ".")})
	return q
}

// OrderByDescending adds a descending ordering term.
func (q *Query[T]) OrderByDescending(path string) *Query[T] {
	q.desc.Orders = append(q.desc.Orders, Order{Path: strings.Split(path, "."), Descending: true})
	return q
}

// Select restricts the loaded properties. Identity columns are always loaded.
func (q *Query[T]) Select(paths ...string) *Query[T] {
	for _, p := range paths {
		q.desc.Projection = append(q.desc.Projection, strings.Split(p, "."))
	}
	return q
}

// Skip skips the first n results.
func (q *Query[T]) Skip(n int) *Query[T] {
	q.desc.Skip = n
	return q
}

// Take limits the number of results.
func (q *Query[T]) Take(n int) *Query[T] {
	q.desc.Take = n
	return q
}

// Distinct removes duplicate rows.
func (q *Query[T]) Distinct() *Query[T] {
	q.desc.Distinct = true
	return q
}

// Description returns an independent copy of the built description.
func (q *Query[T]) Description() *Description {
	return q.desc.Copy()
}
