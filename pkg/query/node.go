// Package query describes queries as explicit operator trees.
//
// A predicate is built from constructors such as Eq, In and And, and is
// rewritten per concrete type by Optimize, which binds property paths to
// columns through a Resolver, folds constants and prunes static branches.
// Trees are never rewritten in place: Optimize and LogicallyNegate return new
// trees, and Copy clones one.
package query

import (
	"errors"
	"fmt"
	"strings"
)

// ErrAbsentProperty is returned by a Resolver when the queried type does not
// have a property. Translators use it to exclude that type from a query.
var ErrAbsentProperty = errors.New("property is absent")

// Operator is a binary comparison operator.
type Operator string

const (
	// OpEqual represents the = operator.
	OpEqual Operator = "="
	// OpNotEqual represents the <> operator.
	OpNotEqual Operator = "<>"
	// OpGreaterThan represents the > operator.
	OpGreaterThan Operator = ">"
	// OpGreaterThanOrEqual represents the >= operator.
	OpGreaterThanOrEqual Operator = ">="
	// OpLessThan represents the < operator.
	OpLessThan Operator = "<"
	// OpLessThanOrEqual represents the <= operator.
	OpLessThanOrEqual Operator = "<="
	// OpLike represents the LIKE operator.
	OpLike Operator = "LIKE"
	// OpNotLike represents the NOT LIKE operator.
	OpNotLike Operator = "NOT LIKE"
)

var negated = map[Operator]Operator{
	OpEqual:              OpNotEqual,
	OpNotEqual:           OpEqual,
	OpGreaterThan:        OpLessThanOrEqual,
	OpLessThanOrEqual:    OpGreaterThan,
	OpLessThan:           OpGreaterThanOrEqual,
	OpGreaterThanOrEqual: OpLessThan,
	OpLike:               OpNotLike,
	OpNotLike:            OpLike,
}

// Negate returns the operator matching exactly the rows op rejects.
func (op Operator) Negate() Operator {
	return negated[op]
}

// Resolution binds a property path to physical columns.
type Resolution struct {
	// Columns are rendered column references, one per key component.
	Columns []string
	// Key converts a compared value into one value per column. It is set for
	// relationship paths, where the value may be a referenced entity.
	Key func(v any) ([]any, error)
}

// Resolver binds property paths for one queried type.
type Resolver interface {
	Resolve(path []string) (Resolution, error)
}

// ResolverFunc adapts a function to a Resolver.
type ResolverFunc func(path []string) (Resolution, error)

// Resolve calls f(path).
func (f ResolverFunc) Resolve(path []string) (Resolution, error) {
	return f(path)
}

// Node is one operator of a predicate tree.
type Node interface {
	// Parent returns the enclosing node, or nil at the root.
	Parent() Node
	// Copy returns a deep clone detached from any parent.
	Copy() Node
	// LogicallyNegate returns a tree matching exactly the rows this one
	// rejects, with negation pushed to the leaves.
	LogicallyNegate() Node
	// Optimize binds properties through r and folds the tree.
	Optimize(r Resolver) (Node, error)
	String() string

	setParent(Node)
}

type link struct {
	parent Node
}

func (l *link) Parent() Node { return l.parent }
func (l *link) setParent(p Node) { l.parent = p }

// Property references a property path. Used on its own as a predicate it
// means "is true".
type Property struct {
	link
	Path []string
	// Columns is set once the property has been resolved.
	Columns []string
}

// Prop creates a property reference from a dotted path such as "Parent.Name".
func Prop(path string) *Property {
	return &Property{Path: strings.Split(path, ".")}
}

// Name returns the dotted path.
func (p *Property) Name() string {
	return strings.Join(p.Path, ".")
}

// Copy implements Node.
func (p *Property) Copy() Node {
	return p.clone()
}

func (p *Property) clone() *Property {
	return &Property{
		Path:    append([]string(nil), p.Path...),
		Columns: append([]string(nil), p.Columns...),
	}
}

// LogicallyNegate implements Node.
func (p *Property) LogicallyNegate() Node {
	return newComparison(OpNotEqual, p.clone(), &Constant{Value: true})
}

// Optimize implements Node.
func (p *Property) Optimize(r Resolver) (Node, error) {
	return newComparison(OpEqual, p.clone(), &Constant{Value: true}).Optimize(r)
}

func (p *Property) String() string {
	return p.Name()
}

// Constant is a literal operand. It is always bound as a parameter.
type Constant struct {
	link
	Value any
}

// Copy implements Node.
func (c *Constant) Copy() Node {
	return &Constant{Value: c.Value}
}

// LogicallyNegate implements Node. Only boolean constants can be negated.
func (c *Constant) LogicallyNegate() Node {
	if b, ok := c.Value.(bool); ok {
		return &Constant{Value: !b}
	}
	return &Constant{Value: c.Value}
}

// Optimize implements Node. A boolean constant folds to a Static.
func (c *Constant) Optimize(Resolver) (Node, error) {
	if b, ok := c.Value.(bool); ok {
		return &Static{Value: b}, nil
	}
	return nil, fmt.Errorf("constant %v is not a predicate", c.Value)
}

func (c *Constant) String() string {
	return formatValue(c.Value)
}

// Static is a predicate known to be always true or always false.
type Static struct {
	link
	Value bool
}

// Copy implements Node.
func (s *Static) Copy() Node {
	return &Static{Value: s.Value}
}

// LogicallyNegate implements Node.
func (s *Static) LogicallyNegate() Node {
	return &Static{Value: !s.Value}
}

// Optimize implements Node.
func (s *Static) Optimize(Resolver) (Node, error) {
	return &Static{Value: s.Value}, nil
}

func (s *Static) String() string {
	if s.Value {
		return "TRUE"
	}
	return "FALSE"
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case string:
		return fmt.Sprintf("%q", x)
	case []byte:
		return fmt.Sprintf("0x%x", x)
	case fmt.Stringer:
		return fmt.Sprintf("%T(%s)", v, x.String())
	default:
		return fmt.Sprintf("%v", v)
	}
}

func resolve(r Resolver, p *Property) (*Property, Resolution, error) {
	res, err := r.Resolve(p.Path)
	if err != nil {
		return nil, Resolution{}, err
	}
	if len(res.Columns) == 0 {
		return nil, Resolution{}, fmt.Errorf("property %s resolved to no column", p.Name())
	}
	return &Property{Path: append([]string(nil), p.Path...), Columns: res.Columns}, res, nil
}

// column returns a resolved property narrowed to its i-th column.
func (p *Property) column(i int) *Property {
	return &Property{Path: append([]string(nil), p.Path...), Columns: []string{p.Columns[i]}}
}

func keyValues(res Resolution, v any) ([]any, error) {
	if res.Key == nil {
		return []any{v}, nil
	}
	return res.Key(v)
}
