package builder

import (
	"fmt"
	"strings"

	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/query"
	"github.com/marshallshelly/inflatable/pkg/runtime"
)

// args collects bound values and hands out placeholders.
type args struct {
	d      dialect.Dialect
	values []any
}

func (a *args) add(v any) string {
	a.values = append(a.values, v)
	return a.d.Placeholder(len(a.values))
}

// Render returns the SQL text and arguments of a command. Read commands are
// rendered at translation time; write commands are rendered here so that
// identities patched in after translation are bound.
func Render(c *Command, d dialect.Dialect) (string, []any, error) {
	if c.Kind.IsRead() {
		return c.SQL, c.Args, nil
	}
	a := &args{d: d}
	var sql strings.Builder

	switch c.Kind {
	case Insert, JoinSave:
		if len(c.Rows) == 0 {
			return "", nil, fmt.Errorf("%s into %s has no rows", c.Kind, c.Table)
		}
		sql.WriteString("INSERT INTO ")
		sql.WriteString(d.Quote(c.Table))
		if len(c.Columns) == 0 {
			// Only a generated identity.
			if d.Name() == dialect.MySQL {
				sql.WriteString(" () VALUES ()")
			} else {
				sql.WriteString(" DEFAULT VALUES")
			}
		} else {
			sql.WriteString(" (")
			sql.WriteString(quoteAll(d, c.Columns))
			sql.WriteString(") VALUES ")
			if err := writeRows(&sql, a, c); err != nil {
				return "", nil, err
			}
		}
		if len(c.Conflict) > 0 {
			sql.WriteString(" ")
			sql.WriteString(d.Upsert(c.Conflict, updatable(c.Columns, c.Conflict)))
		}
		if c.Identity && d.SupportsReturning() && c.Type != nil {
			sql.WriteString(" RETURNING ")
			sql.WriteString(d.Quote(c.Type.IDs[0].Column))
		}

	case Update:
		if len(c.Rows) != 1 || len(c.Columns) == 0 {
			return "", nil, fmt.Errorf("update of %s has nothing to set", c.Table)
		}
		sql.WriteString("UPDATE ")
		sql.WriteString(d.Quote(c.Table))
		sql.WriteString(" SET ")
		for i, col := range c.Columns {
			if i > 0 {
				sql.WriteString(", ")
			}
			sql.WriteString(d.Quote(col))
			sql.WriteString(" = ")
			sql.WriteString(a.add(c.Rows[0][i].Value))
		}
		if err := writeKeys(&sql, a, c.Where, c.Keys); err != nil {
			return "", nil, err
		}

	case Delete, JoinDelete:
		sql.WriteString("DELETE FROM ")
		sql.WriteString(d.Quote(c.Table))
		if err := writeKeys(&sql, a, c.Where, c.Keys); err != nil {
			return "", nil, err
		}

	default:
		return "", nil, fmt.Errorf("cannot render %s", c.Kind)
	}
	return sql.String(), a.values, nil
}

func writeRows(sql *strings.Builder, a *args, c *Command) error {
	for i, row := range c.Rows {
		if len(row) != len(c.Columns) {
			return fmt.Errorf("row %d of %s into %s has %d values for %d columns", i, c.Kind, c.Table, len(row), len(c.Columns))
		}
		if i > 0 {
			sql.WriteString(", ")
		}
		sql.WriteString("(")
		for j, p := range row {
			if p.Pending() {
				return fmt.Errorf("%s into %s: column %s refers to an entity without identity", c.Kind, c.Table, c.Columns[j])
			}
			if j > 0 {
				sql.WriteString(", ")
			}
			sql.WriteString(a.add(p.Value))
		}
		sql.WriteString(")")
	}
	return nil
}

func writeKeys(sql *strings.Builder, a *args, where []string, keys []*Param) error {
	if len(where) == 0 || len(where) != len(keys) {
		return fmt.Errorf("%d key columns for %d key values", len(where), len(keys))
	}
	sql.WriteString(" WHERE ")
	for i, col := range where {
		if i > 0 {
			sql.WriteString(" AND ")
		}
		if keys[i].Pending() {
			return fmt.Errorf("key %s refers to an entity without identity", col)
		}
		sql.WriteString(a.d.Quote(col))
		sql.WriteString(" = ")
		sql.WriteString(a.add(keys[i].Value))
	}
	return nil
}

// updatable returns the inserted columns an upsert overwrites.
func updatable(columns, conflict []string) []string {
	var out []string
	for _, c := range columns {
		skip := false
		for _, k := range conflict {
			if c == k {
				skip = true
				break
			}
		}
		if !skip {
			out = append(out, c)
		}
	}
	return out
}

func quoteAll(d dialect.Dialect, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = d.Quote(c)
	}
	return strings.Join(parts, ", ")
}

// renderPredicate writes an optimized predicate tree.
func renderPredicate(sql *strings.Builder, n query.Node, a *args) error {
	switch x := n.(type) {
	case *query.Static:
		if x.Value {
			sql.WriteString("1 = 1")
		} else {
			sql.WriteString("1 = 0")
		}
	case *query.Comparison:
		sql.WriteString(x.Left.Columns[0])
		sql.WriteString(" ")
		sql.WriteString(string(x.Op))
		sql.WriteString(" ")
		sql.WriteString(a.add(x.Right.Value))
	case *query.Membership:
		sql.WriteString(x.Left.Columns[0])
		if x.Negated {
			sql.WriteString(" NOT IN (")
		} else {
			sql.WriteString(" IN (")
		}
		for i, v := range x.Values {
			if i > 0 {
				sql.WriteString(", ")
			}
			sql.WriteString(a.add(v))
		}
		sql.WriteString(")")
	case *query.NullTest:
		sql.WriteString(x.Operand.Columns[0])
		if x.Negated {
			sql.WriteString(" IS NOT NULL")
		} else {
			sql.WriteString(" IS NULL")
		}
	case *query.Logical:
		sql.WriteString("(")
		for i, o := range x.Operands {
			if i > 0 {
				sql.WriteString(" ")
				sql.WriteString(string(x.Op))
				sql.WriteString(" ")
			}
			if err := renderPredicate(sql, o, a); err != nil {
				return err
			}
		}
		sql.WriteString(")")
	default:
		return fmt.Errorf("%w: cannot render %T", runtime.ErrUnsupportedPredicate, n)
	}
	return nil
}
