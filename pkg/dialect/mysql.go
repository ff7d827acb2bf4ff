package dialect

import (
	"fmt"
	"reflect"
	"strings"
)

// maxRows stands in for "no limit" when MySQL needs an OFFSET on its own.
const maxRows = "18446744073709551615"

type mysql struct{}

func (mysql) Name() string { return MySQL }

func (mysql) Placeholder(int) string { return "?" }

func (mysql) Quote(ident string) string { return quoteWith('`', ident) }

func (mysql) SupportsReturning() bool { return false }

func (mysql) Limit(limit, offset string) string {
	switch {
	case limit == "" && offset == "":
		return ""
	case offset == "":
		return "LIMIT " + limit
	case limit == "":
		return "LIMIT " + maxRows + " OFFSET " + offset
	default:
		return "LIMIT " + limit + " OFFSET " + offset
	}
}

func (d mysql) Upsert(conflict, update []string) string {
	if len(update) == 0 {
		// A no-op assignment keeps the statement valid when only keys are written.
		c := d.Quote(conflict[0])
		return fmt.Sprintf("ON DUPLICATE KEY UPDATE %s = %s", c, c)
	}
	sets := make([]string, len(update))
	for i, c := range update {
		sets[i] = fmt.Sprintf("%s = VALUES(%s)", d.Quote(c), d.Quote(c))
	}
	return "ON DUPLICATE KEY UPDATE " + strings.Join(sets, ", ")
}

func (mysql) ColumnType(t reflect.Type, maxLength int) string {
	t = baseKind(t)
	if t == timeType {
		return "DATETIME(6)"
	}
	switch t.Kind() {
	case reflect.Bool:
		return "TINYINT(1)"
	case reflect.Int8, reflect.Int16, reflect.Uint8:
		return "SMALLINT"
	case reflect.Int32, reflect.Uint16:
		return "INT"
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return "BIGINT"
	case reflect.Float32:
		return "FLOAT"
	case reflect.Float64:
		return "DOUBLE"
	case reflect.String:
		if maxLength <= 0 {
			maxLength = 255
		}
		return fmt.Sprintf("VARCHAR(%d)", maxLength)
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return "BLOB"
		}
	}
	return "TEXT"
}

func (mysql) IdentityColumn(reflect.Type) string {
	return "BIGINT AUTO_INCREMENT PRIMARY KEY"
}
