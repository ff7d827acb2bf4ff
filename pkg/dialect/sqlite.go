package dialect

import (
	"fmt"
	"reflect"
)

type sqlite struct{}

func (sqlite) Name() string { return SQLite }

func (sqlite) Placeholder(int) string { return "?" }

func (sqlite) Quote(ident string) string { return quoteWith('"', ident) }

// SupportsReturning is false so generated keys are read through LastInsertId.
func (sqlite) SupportsReturning() bool { return false }

func (sqlite) Limit(limit, offset string) string {
	switch {
	case limit == "" && offset == "":
		return ""
	case offset == "":
		return "LIMIT " + limit
	case limit == "":
		return "LIMIT -1 OFFSET " + offset
	default:
		return "LIMIT " + limit + " OFFSET " + offset
	}
}

func (d sqlite) Upsert(conflict, update []string) string {
	return onConflict(d, conflict, update)
}

func (sqlite) ColumnType(t reflect.Type, maxLength int) string {
	t = baseKind(t)
	if t == timeType {
		return "DATETIME"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "BOOLEAN"
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "INTEGER"
	case reflect.Float32, reflect.Float64:
		return "REAL"
	case reflect.String:
		if maxLength > 0 {
			return fmt.Sprintf("VARCHAR(%d)", maxLength)
		}
		return "TEXT"
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	return "TEXT"
}

func (sqlite) IdentityColumn(reflect.Type) string {
	return "INTEGER PRIMARY KEY AUTOINCREMENT"
}
