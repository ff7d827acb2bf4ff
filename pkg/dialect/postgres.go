package dialect

import (
	"fmt"
	"reflect"
	"strings"
)

type postgres struct{}

func (postgres) Name() string { return Postgres }

func (postgres) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (postgres) Quote(ident string) string { return quoteWith('"', ident) }

func (postgres) SupportsReturning() bool { return true }

func (postgres) Limit(limit, offset string) string {
	var parts []string
	if limit != "" {
		parts = append(parts, "LIMIT "+limit)
	}
	if offset != "" {
		parts = append(parts, "OFFSET "+offset)
	}
	return strings.Join(parts, " ")
}

func (d postgres) Upsert(conflict, update []string) string {
	return onConflict(d, conflict, update)
}

// onConflict renders the ON CONFLICT clause shared by Postgres and SQLite.
func onConflict(d Dialect, conflict, update []string) string {
	quoted := make([]string, len(conflict))
	for i, c := range conflict {
		quoted[i] = d.Quote(c)
	}
	clause := "ON CONFLICT (" + strings.Join(quoted, ", ") + ")"
	if len(update) == 0 {
		return clause + " DO NOTHING"
	}
	sets := make([]string, len(update))
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = excluded.%s", d.Quote(c), d.Quote(c))
	}
	return clause + " DO UPDATE SET " + strings.Join(sets, ", ")
}

func (postgres) ColumnType(t reflect.Type, maxLength int) string {
	t = baseKind(t)
	if t == timeType {
		return "TIMESTAMPTZ"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return "SMALLINT"
	case reflect.Int32, reflect.Uint16:
		return "INTEGER"
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "BIGINT"
	case reflect.Float32:
		return "REAL"
	case reflect.Float64:
		return "DOUBLE PRECISION"
	case reflect.String:
		if maxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", maxLength)
		}
		return "TEXT"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BYTEA"
		}
	}
	return "TEXT"
}

func (postgres) IdentityColumn(t reflect.Type) string {
	switch baseKind(t).Kind() {
	case reflect.Int32, reflect.Int16, reflect.Uint16:
		return "SERIAL PRIMARY KEY"
	}
	return "BIGSERIAL PRIMARY KEY"
}
