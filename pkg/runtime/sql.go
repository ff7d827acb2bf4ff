package runtime

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/marshallshelly/inflatable/pkg/dialect"
)

// SQLDriver runs statements on a database/sql pool.
type SQLDriver struct {
	db      *sql.DB
	dialect dialect.Dialect
}

// NewSQLDriver wraps an opened *sql.DB.
func NewSQLDriver(db *sql.DB, d dialect.Dialect) *SQLDriver {
	return &SQLDriver{db: db, dialect: d}
}

// DB returns the underlying *sql.DB.
func (d *SQLDriver) DB() *sql.DB {
	return d.db
}

// Dialect returns the driver's dialect.
func (d *SQLDriver) Dialect() dialect.Dialect {
	return d.dialect
}

// Acquire takes a dedicated connection from the pool.
func (d *SQLDriver) Acquire(ctx context.Context) (Conn, error) {
	c, err := d.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &sqlConn{conn: c}, nil
}

// Ping verifies the database connection is alive.
func (d *SQLDriver) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the pool.
func (d *SQLDriver) Close() error {
	return d.db.Close()
}

// sqlRunner is satisfied by *sql.Conn and *sql.Tx.
type sqlRunner interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqlExec(ctx context.Context, r sqlRunner, query string, args []any) (int64, error) {
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

func sqlQuery(ctx context.Context, r sqlRunner, query string, args []any) (*RowSet, error) {
	rows, err := r.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	set := &RowSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		targets := make([]any, len(columns))
		for i := range values {
			targets[i] = &values[i]
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		for i, v := range values {
			// Drivers may reuse byte buffers between rows.
			if b, ok := v.([]byte); ok {
				values[i] = append([]byte(nil), b...)
			}
		}
		set.Rows = append(set.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return set, nil
}

func sqlInsert(ctx context.Context, r sqlRunner, query string, returning bool, args []any) (int64, error) {
	if returning {
		var id int64
		if err := r.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
			return 0, &QueryError{Query: query, Err: err}
		}
		return id, nil
	}
	res, err := r.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	return id, nil
}

type sqlConn struct {
	conn *sql.Conn
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, c.conn, query, args)
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	return sqlQuery(ctx, c.conn, query, args)
}

func (c *sqlConn) Insert(ctx context.Context, query string, returning bool, args ...any) (int64, error) {
	return sqlInsert(ctx, c.conn, query, returning, args)
}

func (c *sqlConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqlTx{tx: tx}, nil
}

func (c *sqlConn) Release() {
	_ = c.conn.Close()
}

type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return sqlExec(ctx, t.tx, query, args)
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	return sqlQuery(ctx, t.tx, query, args)
}

func (t *sqlTx) Insert(ctx context.Context, query string, returning bool, args ...any) (int64, error) {
	return sqlInsert(ctx, t.tx, query, returning, args)
}

func (t *sqlTx) Commit(context.Context) error {
	return t.tx.Commit()
}

func (t *sqlTx) Rollback(context.Context) error {
	return t.tx.Rollback()
}
