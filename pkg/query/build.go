package query

// Eq creates an equality predicate. Comparing with nil tests for null, and
// comparing a relationship path with an entity compares its identity.
func Eq(path string, value any) Node {
	return newComparison(OpEqual, Prop(path), &Constant{Value: value})
}

// Ne creates a not-equal predicate.
func Ne(path string, value any) Node {
	return newComparison(OpNotEqual, Prop(path), &Constant{Value: value})
}

// Gt creates a greater-than predicate.
func Gt(path string, value any) Node {
	return newComparison(OpGreaterThan, Prop(path), &Constant{Value: value})
}

// Ge creates a greater-than-or-equal predicate.
func Ge(path string, value any) Node {
	return newComparison(OpGreaterThanOrEqual, Prop(path), &Constant{Value: value})
}

// Lt creates a less-than predicate.
func Lt(path string, value any) Node {
	return newComparison(OpLessThan, Prop(path), &Constant{Value: value})
}

// Le creates a less-than-or-equal predicate.
func Le(path string, value any) Node {
	return newComparison(OpLessThanOrEqual, Prop(path), &Constant{Value: value})
}

// Like creates a LIKE predicate.
func Like(path, pattern string) Node {
	return newComparison(OpLike, Prop(path), &Constant{Value: pattern})
}

// NotLike creates a NOT LIKE predicate.
func NotLike(path, pattern string) Node {
	return newComparison(OpNotLike, Prop(path), &Constant{Value: pattern})
}

// In creates a membership predicate.
func In(path string, values ...any) Node {
	m := &Membership{Left: Prop(path), Values: values}
	m.Left.setParent(m)
	return m
}

// NotIn creates a negated membership predicate.
func NotIn(path string, values ...any) Node {
	m := &Membership{Negated: true, Left: Prop(path), Values: values}
	m.Left.setParent(m)
	return m
}

// IsNull creates a null test.
func IsNull(path string) Node {
	n := &NullTest{Operand: Prop(path)}
	n.Operand.setParent(n)
	return n
}

// IsNotNull creates a negated null test.
func IsNotNull(path string) Node {
	n := &NullTest{Negated: true, Operand: Prop(path)}
	n.Operand.setParent(n)
	return n
}

// True matches rows where a boolean property is true.
func True(path string) Node {
	return Prop(path)
}

// False matches rows where a boolean property is false.
func False(path string) Node {
	return newComparison(OpEqual, Prop(path), &Constant{Value: false})
}

// And matches rows matching every predicate. With no predicates it matches everything.
func And(nodes ...Node) Node {
	return newLogical(OpAnd, detach(nodes)...)
}

// Or matches rows matching any predicate. With no predicates it matches nothing.
func Or(nodes ...Node) Node {
	return newLogical(OpOr, detach(nodes)...)
}

// Not negates a predicate by pushing the negation to its leaves.
func Not(node Node) Node {
	return node.LogicallyNegate()
}

// detach copies nodes that already belong to another tree.
func detach(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	for i, n := range nodes {
		if n.Parent() != nil {
			n = n.Copy()
		}
		out[i] = n
	}
	return out
}
