// Package dialect provides provider-specific SQL fragments.
//
// Three providers are supported:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
package dialect

import (
	"fmt"
	"reflect"
	"strings"
	"time"
)

// Provider names.
const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Dialect renders the parts of a statement that differ between providers.
type Dialect interface {
	// Name returns the provider name.
	Name() string
	// Placeholder returns the bind marker for the n-th (1-based) argument.
	Placeholder(n int) string
	// Quote quotes an identifier.
	Quote(ident string) string
	// SupportsReturning reports whether generated keys come back through RETURNING.
	SupportsReturning() bool
	// Limit renders a LIMIT/OFFSET clause from already rendered placeholders.
	// An empty string means the part is absent.
	Limit(limit, offset string) string
	// Upsert renders the conflict clause appended to an INSERT.
	Upsert(conflict, update []string) string
	// ColumnType maps a Go type to a column type.
	ColumnType(t reflect.Type, maxLength int) string
	// IdentityColumn returns the full definition of a generated primary key column.
	IdentityColumn(t reflect.Type) string
}

// For returns the dialect for a provider name.
func For(provider string) (Dialect, error) {
	switch strings.ToLower(provider) {
	case Postgres, "postgresql", "pgx", "pq":
		return postgres{}, nil
	case MySQL, "mariadb":
		return mysql{}, nil
	case SQLite, "sqlite3":
		return sqlite{}, nil
	default:
		return nil, fmt.Errorf("unknown provider %q", provider)
	}
}

var timeType = reflect.TypeOf(time.Time{})

// baseKind strips pointers from t.
func baseKind(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func quoteWith(q byte, ident string) string {
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = string(q) + p + string(q)
	}
	return strings.Join(parts, ".")
}
