package migration

import (
	"fmt"
	"strings"

	"github.com/marshallshelly/inflatable/pkg/dialect"
	"github.com/marshallshelly/inflatable/pkg/schema"
)

// PlannerOptions configures statement generation.
type PlannerOptions struct {
	// IfNotExists makes the statements safe to run more than once.
	// Default: true
	IfNotExists bool
	// Indexes adds an index on every foreign key and back-reference column.
	// Default: true
	Indexes bool
}

// Planner generates the DDL of a resolved mapping source.
type Planner struct {
	d       dialect.Dialect
	options PlannerOptions
}

// NewPlanner creates a planner with default options.
func NewPlanner(d dialect.Dialect) *Planner {
	return NewPlannerWithOptions(d, PlannerOptions{IfNotExists: true, Indexes: true})
}

// NewPlannerWithOptions creates a planner with custom options.
func NewPlannerWithOptions(d dialect.Dialect, opts PlannerOptions) *Planner {
	return &Planner{d: d, options: opts}
}

// Plan returns the statements creating the tables of src: one per concrete
// type, then one per link table, each followed by its indexes.
//
// Relationships are not declared as foreign key constraints. A reference may
// target several concrete tables, and cyclic references are written in two
// steps within one transaction.
func (p *Planner) Plan(src *schema.MappingSource) []string {
	var out []string
	for _, t := range src.Types() {
		if !t.Concrete || t.Table == "" || len(t.Columns) == 0 {
			continue
		}
		out = append(out, p.createTable(t))
		out = append(out, p.typeIndexes(t)...)
	}
	for _, l := range src.LinkTables() {
		out = append(out, p.createLinkTable(l))
		if p.options.Indexes && !p.inlineIndexes() {
			out = append(out, p.createIndex(l.Name, l.TargetColumns))
		}
	}
	return out
}

// PlanDrop returns the statements dropping the tables of src, link tables
// first.
func (p *Planner) PlanDrop(src *schema.MappingSource) []string {
	var out []string
	links := src.LinkTables()
	for i := len(links) - 1; i >= 0; i-- {
		out = append(out, p.dropTable(links[i].Name))
	}
	types := src.Types()
	for i := len(types) - 1; i >= 0; i-- {
		t := types[i]
		if !t.Concrete || t.Table == "" || len(t.Columns) == 0 {
			continue
		}
		out = append(out, p.dropTable(t.Table))
	}
	return out
}

// Migration returns the up and down scripts of src.
func (p *Planner) Migration(src *schema.MappingSource, name string) *Migration {
	return &Migration{
		Version: GenerateVersion(),
		Name:    name,
		UpSQL:   script(p.Plan(src)),
		DownSQL: script(p.PlanDrop(src)),
	}
}

func script(stmts []string) string {
	if len(stmts) == 0 {
		return ""
	}
	return strings.Join(stmts, ";\n\n") + ";\n"
}

func (p *Planner) createClause(kind string) string {
	if p.options.IfNotExists {
		return "CREATE " + kind + " IF NOT EXISTS"
	}
	return "CREATE " + kind
}

func (p *Planner) createTable(t *schema.Type) string {
	var parts []string
	var keys []string
	identity := false
	for _, c := range t.Columns {
		if c.Kind == schema.IDColumn && c.AutoIncrement && len(t.IDs) == 1 {
			// The identity definition carries its own primary key.
			parts = append(parts, "    "+p.d.Quote(c.Name)+" "+p.d.IdentityColumn(c.Type))
			identity = true
			continue
		}
		parts = append(parts, "    "+p.columnDefinition(c))
		if c.Kind == schema.IDColumn {
			keys = append(keys, c.Name)
		}
	}
	if !identity && len(keys) > 0 {
		parts = append(parts, fmt.Sprintf("    PRIMARY KEY (%s)", p.quoteAll(keys)))
	}
	if p.options.Indexes && p.inlineIndexes() {
		for _, cols := range indexedColumns(t) {
			parts = append(parts, fmt.Sprintf("    INDEX %s (%s)", p.d.Quote(indexName(t.Table, cols)), p.quoteAll(cols)))
		}
	}
	return fmt.Sprintf("%s %s (\n%s\n)", p.createClause("TABLE"), p.d.Quote(t.Table), strings.Join(parts, ",\n"))
}

func (p *Planner) columnDefinition(c schema.Column) string {
	parts := []string{p.d.Quote(c.Name), p.d.ColumnType(c.Type, c.MaxLength)}
	switch {
	case c.Kind == schema.IDColumn:
		parts = append(parts, "NOT NULL")
	case c.Kind == schema.ScalarColumn && !c.Nullable:
		parts = append(parts, "NOT NULL")
	}
	return strings.Join(parts, " ")
}

func (p *Planner) createLinkTable(l schema.LinkTable) string {
	var parts []string
	for i, c := range l.OwnerColumns {
		parts = append(parts, fmt.Sprintf("    %s %s NOT NULL", p.d.Quote(c), p.d.ColumnType(l.OwnerTypes[i], 0)))
	}
	for i, c := range l.TargetColumns {
		parts = append(parts, fmt.Sprintf("    %s %s NOT NULL", p.d.Quote(c), p.d.ColumnType(l.TargetTypes[i], 0)))
	}
	keys := append(append([]string(nil), l.OwnerColumns...), l.TargetColumns...)
	parts = append(parts, fmt.Sprintf("    PRIMARY KEY (%s)", p.quoteAll(keys)))
	if p.options.Indexes && p.inlineIndexes() {
		parts = append(parts, fmt.Sprintf("    INDEX %s (%s)", p.d.Quote(indexName(l.Name, l.TargetColumns)), p.quoteAll(l.TargetColumns)))
	}
	return fmt.Sprintf("%s %s (\n%s\n)", p.createClause("TABLE"), p.d.Quote(l.Name), strings.Join(parts, ",\n"))
}

func (p *Planner) typeIndexes(t *schema.Type) []string {
	if !p.options.Indexes || p.inlineIndexes() {
		return nil
	}
	var out []string
	for _, cols := range indexedColumns(t) {
		out = append(out, p.createIndex(t.Table, cols))
	}
	return out
}

func (p *Planner) createIndex(table string, cols []string) string {
	return fmt.Sprintf("%s %s ON %s (%s)", p.createClause("INDEX"), p.d.Quote(indexName(table, cols)), p.d.Quote(table), p.quoteAll(cols))
}

// inlineIndexes reports whether indexes are declared inside CREATE TABLE.
// MySQL has no CREATE INDEX IF NOT EXISTS.
func (p *Planner) inlineIndexes() bool {
	return p.d.Name() == dialect.MySQL
}

func (p *Planner) dropTable(name string) string {
	return "DROP TABLE IF EXISTS " + p.d.Quote(name)
}

func (p *Planner) quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = p.d.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

// indexedColumns groups the foreign key and back-reference columns of t by
// the relationship they store, in column order.
func indexedColumns(t *schema.Type) [][]string {
	var out [][]string
	at := make(map[string]int)
	for _, c := range t.Columns {
		var group string
		switch c.Kind {
		case schema.ForeignKeyColumn:
			group = "fk:" + c.Property.Name
		case schema.BackReferenceColumn:
			group = fmt.Sprintf("back:%d:%s", c.Back.Owner, c.Back.Property)
		default:
			continue
		}
		i, ok := at[group]
		if !ok {
			i = len(out)
			at[group] = i
			out = append(out, nil)
		}
		out[i] = append(out[i], c.Name)
	}
	return out
}

func indexName(table string, cols []string) string {
	return "idx_" + table + "_" + strings.Join(cols, "_")
}
