package query

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/marshallshelly/inflatable/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type ref struct {
	A, B int
}

// testResolver maps every path to a column of the same name, except
// "Missing", which is absent, and "Pair", a two-column key.
var testResolver = ResolverFunc(func(path []string) (Resolution, error) {
	name := strings.Join(path, ".")
	switch name {
	case "Missing":
		return Resolution{}, fmt.Errorf("%w: %s", ErrAbsentProperty, name)
	case "Pair":
		return Resolution{
			Columns: []string{"pair_a", "pair_b"},
			Key: func(v any) ([]any, error) {
				r, ok := v.(*ref)
				if !ok {
					return nil, errors.New("not a ref")
				}
				return []any{r.A, r.B}, nil
			},
		}, nil
	}
	return Resolution{Columns: []string{name}}, nil
})

func optimize(t *testing.T, n Node) Node {
	t.Helper()
	out, err := n.Optimize(testResolver)
	require.NoError(t, err)
	return out
}

// eval evaluates an optimized tree against a row keyed by column.
func eval(n Node, row map[string]any) bool {
	switch x := n.(type) {
	case *Static:
		return x.Value
	case *Logical:
		for _, o := range x.Operands {
			v := eval(o, row)
			if x.Op == OpAnd && !v {
				return false
			}
			if x.Op == OpOr && v {
				return true
			}
		}
		return x.Op == OpAnd
	case *NullTest:
		isNull := row[x.Operand.Columns[0]] == nil
		return isNull != x.Negated
	case *Membership:
		found := false
		for _, v := range x.Values {
			if row[x.Left.Columns[0]] == v {
				found = true
			}
		}
		return found != x.Negated
	case *Comparison:
		left := row[x.Left.Columns[0]]
		right := x.Right.Value
		switch x.Op {
		case OpEqual:
			return left == right
		case OpNotEqual:
			return left != right
		case OpLike, OpNotLike:
			match := strings.HasPrefix(left.(string), strings.TrimSuffix(right.(string), "%"))
			return match == (x.Op == OpLike)
		}
		l, r := left.(int), right.(int)
		switch x.Op {
		case OpGreaterThan:
			return l > r
		case OpGreaterThanOrEqual:
			return l >= r
		case OpLessThan:
			return l < r
		case OpLessThanOrEqual:
			return l <= r
		}
	}
	panic(fmt.Sprintf("unexpected node %T", n))
}

func TestOptimize(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want string
	}{
		{name: "comparison", node: Gt("Age", 3), want: "Age > 3"},
		{name: "bare property", node: True("BoolValue"), want: "BoolValue = true"},
		{name: "false", node: False("BoolValue"), want: "BoolValue = false"},
		{name: "nil equality", node: Eq("Name", nil), want: "Name IS NULL"},
		{name: "nil inequality", node: Ne("Name", nil), want: "Name IS NOT NULL"},
		{name: "nil ordering", node: Gt("Name", nil), want: "FALSE"},
		{name: "empty in", node: In("Age"), want: "FALSE"},
		{name: "empty not in", node: NotIn("Age"), want: "TRUE"},
		{name: "in", node: In("Age", 1, 2), want: "Age IN (1, 2)"},
		{name: "empty and", node: And(), want: "TRUE"},
		{name: "empty or", node: Or(), want: "FALSE"},
		{name: "single operand", node: And(Eq("Name", "a")), want: `Name = "a"`},
		{name: "flatten", node: And(Eq("A", 1), And(Eq("B", 2), Eq("C", 3))), want: "(A = 1 AND B = 2 AND C = 3)"},
		{name: "prune true in and", node: And(Eq("A", 1), NotIn("B")), want: "A = 1"},
		{name: "false short-circuits and", node: And(Eq("A", 1), In("B")), want: "FALSE"},
		{name: "true short-circuits or", node: Or(Eq("A", 1), NotIn("B")), want: "TRUE"},
		{name: "composite equality", node: Eq("Pair", &ref{A: 1, B: 2}), want: "(Pair = 1 AND Pair = 2)"},
		{name: "composite inequality", node: Ne("Pair", &ref{A: 1, B: 2}), want: "(Pair <> 1 OR Pair <> 2)"},
		{name: "composite null", node: IsNull("Pair"), want: "(Pair IS NULL AND Pair IS NULL)"},
		{name: "composite not null", node: IsNotNull("Pair"), want: "(Pair IS NOT NULL OR Pair IS NOT NULL)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, optimize(t, tt.node).String())
		})
	}
}

func TestOptimize_ResolvesColumns(t *testing.T) {
	out := optimize(t, Eq("Pair", &ref{A: 1, B: 2}))
	l, ok := out.(*Logical)
	require.True(t, ok)
	require.Len(t, l.Operands, 2)
	assert.Equal(t, []string{"pair_a"}, l.Operands[0].(*Comparison).Left.Columns)
	assert.Equal(t, []string{"pair_b"}, l.Operands[1].(*Comparison).Left.Columns)
	assert.Same(t, l, l.Operands[0].Parent())
	assert.Nil(t, out.Parent())
}

func TestOptimize_Errors(t *testing.T) {
	_, err := And(Eq("A", 1), Eq("Missing", 2)).Optimize(testResolver)
	assert.ErrorIs(t, err, ErrAbsentProperty)

	// Absent properties are reported even behind a short-circuit.
	_, err = Or(NotIn("A"), Eq("Missing", 2)).Optimize(testResolver)
	assert.ErrorIs(t, err, ErrAbsentProperty)

	_, err = Gt("Pair", &ref{}).Optimize(testResolver)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedPredicate)

	_, err = In("Pair", &ref{}).Optimize(testResolver)
	assert.ErrorIs(t, err, runtime.ErrUnsupportedPredicate)

	_, err = (&Constant{Value: 3}).Optimize(testResolver)
	assert.Error(t, err)
}

func TestLogicallyNegate(t *testing.T) {
	tests := []struct {
		name string
		node Node
		want string
	}{
		{name: "comparison", node: Gt("A", 1), want: "A <= 1"},
		{name: "like", node: Like("Name", "a%"), want: `Name NOT LIKE "a%"`},
		{name: "in", node: In("A", 1), want: "A NOT IN (1)"},
		{name: "null", node: IsNull("A"), want: "A IS NOT NULL"},
		{name: "property", node: True("Flag"), want: "Flag <> true"},
		{name: "de morgan", node: And(Eq("A", 1), Or(Lt("B", 2), IsNotNull("C"))), want: "(A <> 1 OR (B >= 2 AND C IS NULL))"},
		{name: "static", node: &Static{Value: true}, want: "FALSE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.node.String()
			assert.Equal(t, tt.want, tt.node.LogicallyNegate().String())
			assert.Equal(t, before, tt.node.String(), "negation must not mutate the tree")
		})
	}
}

func TestLogicallyNegate_DoubleNegationIsEquivalent(t *testing.T) {
	trees := []Node{
		Eq("A", 1),
		And(Gt("A", 1), Le("B", 5)),
		Or(And(Eq("A", 2), NotIn("B", 1, 3)), IsNull("C"), Like("S", "ab%")),
		Not(Or(Ge("A", 3), In("B"))),
		And(Or(), Eq("A", 1)),
		Eq("C", nil),
	}
	var rows []map[string]any
	for a := 0; a < 4; a++ {
		for b := 0; b < 4; b++ {
			for _, c := range []any{nil, 1} {
				for _, s := range []string{"abc", "xyz"} {
					rows = append(rows, map[string]any{"A": a, "B": b, "C": c, "S": s})
				}
			}
		}
	}

	for i, tree := range trees {
		t.Run(fmt.Sprintf("tree %d", i), func(t *testing.T) {
			original := optimize(t, tree)
			negated := optimize(t, tree.LogicallyNegate())
			double := optimize(t, tree.LogicallyNegate().LogicallyNegate())
			for _, row := range rows {
				want := eval(original, row)
				assert.Equal(t, !want, eval(negated, row), "negation of %s on %v", tree, row)
				assert.Equal(t, want, eval(double, row), "double negation of %s on %v", tree, row)
			}
		})
	}
}

func TestCopy_IsIndependent(t *testing.T) {
	tree := And(Eq("A", 1), In("B", 1, 2), IsNull("C"))
	clone := tree.Copy()
	assert.Equal(t, tree.String(), clone.String())
	assert.Nil(t, clone.Parent())

	l := clone.(*Logical)
	l.Operands[0].(*Comparison).Left.Path[0] = "Z"
	l.Operands[1].(*Membership).Values[0] = 9
	assert.Equal(t, "(A = 1 AND B IN (1, 2) AND C IS NULL)", tree.String())

	for _, o := range l.Operands {
		assert.Same(t, l, o.Parent())
	}
}

func TestAnd_DetachesAttachedNodes(t *testing.T) {
	shared := Eq("A", 1)
	first := And(shared, Eq("B", 2)).(*Logical)
	second := Or(shared, Eq("C", 3)).(*Logical)
	assert.Same(t, first, first.Operands[0].Parent())
	assert.Same(t, second, second.Operands[0].Parent())
	assert.NotSame(t, first.Operands[0], second.Operands[0])
}

type item struct{}

type named interface{ Name() string }

func TestQuery_Description(t *testing.T) {
	q := For[*item]().
		Where(Eq("A", 1)).
		Where(Gt("B", 2)).
		OrderBy("A").
		OrderByDescending("Parent.Name").
		Select("A", "B").
		Skip(5).
		Take(10).
		Distinct()

	d := q.Description()
	assert.Equal(t, reflect.TypeOf(item{}), d.Target)
	assert.Equal(t, "(A = 1 AND B > 2)", d.Predicate.String())
	assert.Equal(t, []Order{{Path: []string{"A"}}, {Path: []string{"Parent", "Name"}, Descending: true}}, d.Orders)
	assert.Equal(t, [][]string{{"A"}, {"B"}}, d.Projection)
	assert.Equal(t, 5, d.Skip)
	assert.Equal(t, 10, d.Take)
	assert.True(t, d.Distinct)
	assert.Equal(t, `FROM query.item WHERE (A = 1 AND B > 2) ORDER BY A ASC, Parent.Name DESC SELECT A, B DISTINCT SKIP 5 TAKE 10`, d.String())

	// Descriptions are snapshots.
	q.Where(Eq("C", 3))
	assert.Equal(t, "(A = 1 AND B > 2)", d.Predicate.String())

	iface := For[named]().Description()
	assert.Equal(t, reflect.Interface, iface.Target.Kind())
	assert.Nil(t, iface.Predicate)
}
