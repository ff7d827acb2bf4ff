package runtime

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marshallshelly/inflatable/pkg/dialect"

	// Registered database/sql drivers.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// RowSet is a fully buffered query result.
type RowSet struct {
	Columns []string
	Rows    [][]any
}

// Executor runs parameterized statements.
type Executor interface {
	// Exec runs a statement and returns the affected row count.
	Exec(ctx context.Context, query string, args ...any) (int64, error)
	// Query runs a statement and buffers every row.
	Query(ctx context.Context, query string, args ...any) (*RowSet, error)
	// Insert runs an INSERT and returns the generated identity. When returning
	// is true the statement carries a RETURNING clause whose single column is
	// scanned; otherwise the driver's last insert id is used.
	Insert(ctx context.Context, query string, returning bool, args ...any) (int64, error)
}

// Tx is a transaction scope on one connection.
type Tx interface {
	Executor
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Conn is a pooled connection held for the duration of one batch.
type Conn interface {
	Executor
	Begin(ctx context.Context) (Tx, error)
	// Release returns the connection to its pool.
	Release()
}

// Driver is the per-data-source connection capability.
type Driver interface {
	Dialect() dialect.Dialect
	Acquire(ctx context.Context) (Conn, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open creates a driver for a provider and connection string. Postgres goes
// through pgxpool; "pq", "mysql" and "sqlite" go through database/sql.
func Open(ctx context.Context, provider, connString string) (Driver, error) {
	switch strings.ToLower(provider) {
	case dialect.Postgres, "postgresql", "pgx":
		pool, err := pgxpool.New(ctx, connString)
		if err != nil {
			return nil, fmt.Errorf("failed to create connection pool: %w", err)
		}
		return NewPgxDriver(pool), nil
	case "pq":
		return openSQL("postgres", dialect.Postgres, connString)
	case dialect.MySQL, "mariadb":
		return openSQL("mysql", dialect.MySQL, connString)
	case dialect.SQLite, "sqlite3":
		return openSQL("sqlite", dialect.SQLite, connString)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
}

func openSQL(driverName, provider, connString string) (Driver, error) {
	db, err := sql.Open(driverName, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", driverName, err)
	}
	d, err := dialect.For(provider)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return NewSQLDriver(db, d), nil
}
