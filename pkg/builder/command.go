// Package builder translates query descriptions and entity writes into
// parameterized commands for one data source.
package builder

import (
	"fmt"
	"slices"

	"github.com/marshallshelly/inflatable/pkg/schema"
)

// CommandKind is the kind of statement a command runs.
type CommandKind int

const (
	// Insert adds one or more rows, optionally capturing a generated identity.
	Insert CommandKind = iota
	// Update changes columns of one row.
	Update
	// Delete removes one row.
	Delete
	// Select reads the rows of a query.
	Select
	// JoinSave adds link table rows.
	JoinSave
	// JoinDelete removes link table rows.
	JoinDelete
	// LoadProperty reads the entities of a relationship property.
	LoadProperty
	// LoadData reads entities by identity.
	LoadData
)

func (k CommandKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	case Delete:
		return "delete"
	case Select:
		return "select"
	case JoinSave:
		return "join-save"
	case JoinDelete:
		return "join-delete"
	case LoadProperty:
		return "load-property"
	case LoadData:
		return "load-data"
	}
	return fmt.Sprintf("command(%d)", int(k))
}

// IsRead reports whether the command returns rows.
func (k CommandKind) IsRead() bool {
	return k == Select || k == LoadProperty || k == LoadData
}

// Param is a bound argument of a write command. A param that carries the
// identity of another entity names it in Ref, and receives the generated
// value once that entity is inserted.
type Param struct {
	Value   any
	Ref     any
	Ordinal int
}

// Pending reports whether the param waits for a generated identity.
func (p *Param) Pending() bool {
	return p.Ref != nil && p.Value == nil
}

// Command is one pending statement. Write commands keep their values as
// params and are rendered just before they run; read commands carry
// rendered SQL and a Shape.
type Command struct {
	Kind       CommandKind
	DataSource string
	Type       *schema.Type
	Table      string
	// Entity is the written entity, or the owner for link commands.
	Entity any

	Columns []string
	Rows    [][]*Param
	// Where and Keys identify the rows of updates and deletes.
	Where []string
	Keys  []*Param
	// Conflict turns an insert into an upsert on these columns.
	Conflict []string
	// Identity asks the insert to return the generated identity of Entity.
	Identity bool

	SQL   string
	Args  []any
	Shape *Shape
}

// Params returns every param of the command.
func (c *Command) Params() []*Param {
	var out []*Param
	for _, row := range c.Rows {
		out = append(out, row...)
	}
	return append(out, c.Keys...)
}

// References returns the distinct entities whose identities the command uses,
// in first-use order. The command's own entity is included when it is
// referenced by a key.
func (c *Command) References() []any {
	var out []any
	for _, p := range c.Params() {
		if p.Ref != nil && !slices.Contains(out, p.Ref) {
			out = append(out, p.Ref)
		}
	}
	return out
}

// Patch writes a generated identity into every param referencing entity and
// reports how many params changed.
func (c *Command) Patch(entity any, ids []any) int {
	n := 0
	for _, p := range c.Params() {
		if p.Ref == entity && p.Ordinal < len(ids) {
			p.Value = ids[p.Ordinal]
			n++
		}
	}
	return n
}

// Defer detaches the row params of an insert that reference entities matched
// by pending, writing NULL instead, and returns the update that restores them
// once the referenced rows exist. It returns nil when nothing was detached.
func (c *Command) Defer(pending func(any) bool) *Command {
	if c.Kind != Insert || len(c.Rows) != 1 || c.Type == nil {
		return nil
	}
	fix := &Command{
		Kind:       Update,
		DataSource: c.DataSource,
		Type:       c.Type,
		Table:      c.Table,
		Entity:     c.Entity,
		Where:      c.Type.IDColumns(),
	}
	var values []*Param
	for i, p := range c.Rows[0] {
		if p.Ref == nil || !pending(p.Ref) || isKeyColumn(c.Type, c.Columns[i]) {
			continue
		}
		fix.Columns = append(fix.Columns, c.Columns[i])
		values = append(values, &Param{Value: p.Value, Ref: p.Ref, Ordinal: p.Ordinal})
		c.Rows[0][i] = &Param{}
	}
	if len(values) == 0 {
		return nil
	}
	fix.Rows = [][]*Param{values}
	fix.Keys = keyParams(c.Type, c.Entity)
	return fix
}

func isKeyColumn(t *schema.Type, column string) bool {
	for _, id := range t.IDs {
		if id.Column == column {
			return true
		}
	}
	return false
}

// Merge folds adjacent inserts into one multi-row insert when they target
// the same table of the same data source with the same columns and conflict
// handling. Inserts that capture an identity are never merged.
func Merge(cmds []*Command) []*Command {
	var out []*Command
	for _, c := range cmds {
		if n := len(out); n > 0 && mergeable(out[n-1], c) {
			prev := out[n-1]
			if prev.Entity != nil {
				// Copy before growing so the caller's command is not modified.
				merged := *prev
				merged.Entity = nil
				merged.Rows = append([][]*Param(nil), prev.Rows...)
				out[n-1] = &merged
				prev = &merged
			}
			prev.Rows = append(prev.Rows, c.Rows...)
			continue
		}
		out = append(out, c)
	}
	return out
}

func mergeable(a, b *Command) bool {
	if a.Kind != b.Kind || (a.Kind != Insert && a.Kind != JoinSave) {
		return false
	}
	if a.Identity || b.Identity {
		return false
	}
	return a.DataSource == b.DataSource &&
		a.Table == b.Table &&
		slices.Equal(a.Columns, b.Columns) &&
		slices.Equal(a.Conflict, b.Conflict)
}
