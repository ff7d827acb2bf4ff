package query

import (
	"fmt"
	"strings"

	"github.com/marshallshelly/inflatable/pkg/runtime"
)

// Comparison compares a property with a constant.
type Comparison struct {
	link
	Op    Operator
	Left  *Property
	Right *Constant
}

func newComparison(op Operator, left *Property, right *Constant) *Comparison {
	c := &Comparison{Op: op, Left: left, Right: right}
	left.setParent(c)
	right.setParent(c)
	return c
}

// Copy implements Node.
func (c *Comparison) Copy() Node {
	return newComparison(c.Op, c.Left.clone(), &Constant{Value: c.Right.Value})
}

// LogicallyNegate implements Node.
func (c *Comparison) LogicallyNegate() Node {
	return newComparison(c.Op.Negate(), c.Left.clone(), &Constant{Value: c.Right.Value})
}

// Optimize implements Node. Comparing with nil becomes a null test, and a
// comparison on a composite key expands to one comparison per column.
func (c *Comparison) Optimize(r Resolver) (Node, error) {
	left, res, err := resolve(r, c.Left)
	if err != nil {
		return nil, err
	}
	if c.Right.Value == nil {
		switch c.Op {
		case OpEqual:
			return (&NullTest{Operand: left}).expand(), nil
		case OpNotEqual:
			return (&NullTest{Negated: true, Operand: left}).expand(), nil
		default:
			return &Static{Value: false}, nil
		}
	}
	values, err := keyValues(res, c.Right.Value)
	if err != nil {
		return nil, err
	}
	if len(values) != len(left.Columns) {
		return nil, fmt.Errorf("%w: %s has %d columns but %d values were given",
			runtime.ErrUnsupportedPredicate, c.Left.Name(), len(left.Columns), len(values))
	}
	if len(values) == 1 {
		if values[0] == nil {
			return (&Comparison{Op: c.Op, Left: c.Left, Right: &Constant{}}).Optimize(r)
		}
		return newComparison(c.Op, left, &Constant{Value: values[0]}), nil
	}

	var op LogicalOperator
	switch c.Op {
	case OpEqual:
		op = OpAnd
	case OpNotEqual:
		op = OpOr
	default:
		return nil, fmt.Errorf("%w: %s on composite key %s", runtime.ErrUnsupportedPredicate, c.Op, c.Left.Name())
	}
	parts := make([]Node, len(values))
	for i, v := range values {
		if v == nil {
			parts[i] = &NullTest{Negated: c.Op == OpNotEqual, Operand: left.column(i)}
			continue
		}
		parts[i] = newComparison(c.Op, left.column(i), &Constant{Value: v})
	}
	return newLogical(op, parts...), nil
}

func (c *Comparison) String() string {
	return fmt.Sprintf("%s %s %s", c.Left, c.Op, c.Right)
}

// Membership tests a property against a list of values.
type Membership struct {
	link
	Negated bool
	Left    *Property
	Values  []any
}

func (m *Membership) clone(negated bool) *Membership {
	out := &Membership{Negated: negated, Left: m.Left.clone(), Values: append([]any(nil), m.Values...)}
	out.Left.setParent(out)
	return out
}

// Copy implements Node.
func (m *Membership) Copy() Node {
	return m.clone(m.Negated)
}

// LogicallyNegate implements Node.
func (m *Membership) LogicallyNegate() Node {
	return m.clone(!m.Negated)
}

// Optimize implements Node. An empty list folds to a static result.
func (m *Membership) Optimize(r Resolver) (Node, error) {
	left, res, err := resolve(r, m.Left)
	if err != nil {
		return nil, err
	}
	if len(left.Columns) != 1 {
		return nil, fmt.Errorf("%w: IN on composite key %s", runtime.ErrUnsupportedPredicate, m.Left.Name())
	}
	values := make([]any, 0, len(m.Values))
	for _, v := range m.Values {
		if v == nil {
			continue
		}
		kv, err := keyValues(res, v)
		if err != nil {
			return nil, err
		}
		values = append(values, kv[0])
	}
	if len(values) == 0 {
		return &Static{Value: m.Negated}, nil
	}
	out := &Membership{Negated: m.Negated, Left: left, Values: values}
	left.setParent(out)
	return out, nil
}

func (m *Membership) String() string {
	parts := make([]string, len(m.Values))
	for i, v := range m.Values {
		parts[i] = formatValue(v)
	}
	op := "IN"
	if m.Negated {
		op = "NOT IN"
	}
	return fmt.Sprintf("%s %s (%s)", m.Left, op, strings.Join(parts, ", "))
}

// NullTest checks whether a property is null.
type NullTest struct {
	link
	Negated bool
	Operand *Property
}

func (n *NullTest) clone(negated bool) *NullTest {
	out := &NullTest{Negated: negated, Operand: n.Operand.clone()}
	out.Operand.setParent(out)
	return out
}

// Copy implements Node.
func (n *NullTest) Copy() Node {
	return n.clone(n.Negated)
}

// LogicallyNegate implements Node.
func (n *NullTest) LogicallyNegate() Node {
	return n.clone(!n.Negated)
}

// Optimize implements Node.
func (n *NullTest) Optimize(r Resolver) (Node, error) {
	operand, _, err := resolve(r, n.Operand)
	if err != nil {
		return nil, err
	}
	return (&NullTest{Negated: n.Negated, Operand: operand}).expand(), nil
}

// expand splits a test on a resolved composite key into per-column tests.
func (n *NullTest) expand() Node {
	if len(n.Operand.Columns) <= 1 {
		n.Operand.setParent(n)
		return n
	}
	parts := make([]Node, len(n.Operand.Columns))
	for i := range n.Operand.Columns {
		parts[i] = &NullTest{Negated: n.Negated, Operand: n.Operand.column(i)}
	}
	op := OpAnd
	if n.Negated {
		op = OpOr
	}
	return newLogical(op, parts...)
}

func (n *NullTest) String() string {
	if n.Negated {
		return fmt.Sprintf("%s IS NOT NULL", n.Operand)
	}
	return fmt.Sprintf("%s IS NULL", n.Operand)
}

// LogicalOperator joins predicates.
type LogicalOperator string

const (
	// OpAnd matches rows matching every operand.
	OpAnd LogicalOperator = "AND"
	// OpOr matches rows matching any operand.
	OpOr LogicalOperator = "OR"
)

func (op LogicalOperator) flip() LogicalOperator {
	if op == OpAnd {
		return OpOr
	}
	return OpAnd
}

// Logical combines predicates with AND or OR.
type Logical struct {
	link
	Op       LogicalOperator
	Operands []Node
}

func newLogical(op LogicalOperator, operands ...Node) *Logical {
	l := &Logical{Op: op, Operands: operands}
	for _, o := range operands {
		o.setParent(l)
	}
	return l
}

// Copy implements Node.
func (l *Logical) Copy() Node {
	operands := make([]Node, len(l.Operands))
	for i, o := range l.Operands {
		operands[i] = o.Copy()
	}
	return newLogical(l.Op, operands...)
}

// LogicallyNegate implements Node using De Morgan's laws.
func (l *Logical) LogicallyNegate() Node {
	operands := make([]Node, len(l.Operands))
	for i, o := range l.Operands {
		operands[i] = o.LogicallyNegate()
	}
	return newLogical(l.Op.flip(), operands...)
}

// Optimize implements Node. Nested operands with the same operator are
// flattened, static operands are folded, and a single remaining operand
// replaces the node.
func (l *Logical) Optimize(r Resolver) (Node, error) {
	optimized := make([]Node, len(l.Operands))
	for i, o := range l.Operands {
		opt, err := o.Optimize(r)
		if err != nil {
			return nil, err
		}
		optimized[i] = opt
	}
	var operands []Node
	for _, opt := range optimized {
		if s, ok := opt.(*Static); ok {
			// true short-circuits OR, false short-circuits AND.
			if s.Value == (l.Op == OpOr) {
				return &Static{Value: s.Value}, nil
			}
			continue
		}
		if nested, ok := opt.(*Logical); ok && nested.Op == l.Op {
			operands = append(operands, nested.Operands...)
			continue
		}
		operands = append(operands, opt)
	}
	switch len(operands) {
	case 0:
		return &Static{Value: l.Op == OpAnd}, nil
	case 1:
		operands[0].setParent(nil)
		return operands[0], nil
	}
	return newLogical(l.Op, operands...), nil
}

func (l *Logical) String() string {
	if len(l.Operands) == 0 {
		return (&Static{Value: l.Op == OpAnd}).String()
	}
	parts := make([]string, len(l.Operands))
	for i, o := range l.Operands {
		parts[i] = o.String()
	}
	return "(" + strings.Join(parts, " "+string(l.Op)+" ") + ")"
}
