package runtime

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/marshallshelly/inflatable/pkg/dialect"
)

// PgxDriver runs statements on a pgxpool.Pool.
type PgxDriver struct {
	pool *pgxpool.Pool
}

// NewPgxDriver creates a driver from a connection pool.
func NewPgxDriver(pool *pgxpool.Pool) *PgxDriver {
	return &PgxDriver{pool: pool}
}

// Pool returns the underlying pgxpool.Pool.
func (d *PgxDriver) Pool() *pgxpool.Pool {
	return d.pool
}

// Dialect returns the Postgres dialect.
func (d *PgxDriver) Dialect() dialect.Dialect {
	dl, _ := dialect.For(dialect.Postgres)
	return dl
}

// Acquire takes a connection from the pool.
func (d *PgxDriver) Acquire(ctx context.Context) (Conn, error) {
	c, err := d.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}
	return &pgxConn{conn: c}, nil
}

// Ping verifies the database connection is alive.
func (d *PgxDriver) Ping(ctx context.Context) error {
	return d.pool.Ping(ctx)
}

// Close closes the database connection pool.
func (d *PgxDriver) Close() error {
	if d.pool != nil {
		d.pool.Close()
	}
	return nil
}

// pgxRunner is satisfied by *pgxpool.Conn and pgx.Tx.
type pgxRunner interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func pgxExec(ctx context.Context, r pgxRunner, query string, args []any) (int64, error) {
	tag, err := r.Exec(ctx, query, args...)
	if err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	return tag.RowsAffected(), nil
}

func pgxQuery(ctx context.Context, r pgxRunner, query string, args []any) (*RowSet, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	defer rows.Close()

	set := &RowSet{}
	for _, fd := range rows.FieldDescriptions() {
		set.Columns = append(set.Columns, fd.Name)
	}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, &QueryError{Query: query, Err: err}
		}
		set.Rows = append(set.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, &QueryError{Query: query, Err: err}
	}
	return set, nil
}

func pgxInsert(ctx context.Context, r pgxRunner, query string, returning bool, args []any) (int64, error) {
	if !returning {
		_, err := pgxExec(ctx, r, query, args)
		return 0, err
	}
	var id int64
	if err := r.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		return 0, &QueryError{Query: query, Err: err}
	}
	return id, nil
}

type pgxConn struct {
	conn *pgxpool.Conn
}

func (c *pgxConn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgxExec(ctx, c.conn, query, args)
}

func (c *pgxConn) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	return pgxQuery(ctx, c.conn, query, args)
}

func (c *pgxConn) Insert(ctx context.Context, query string, returning bool, args ...any) (int64, error) {
	return pgxInsert(ctx, c.conn, query, returning, args)
}

func (c *pgxConn) Begin(ctx context.Context) (Tx, error) {
	tx, err := c.conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgxTx{tx: tx}, nil
}

func (c *pgxConn) Release() {
	c.conn.Release()
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	return pgxExec(ctx, t.tx, query, args)
}

func (t *pgxTx) Query(ctx context.Context, query string, args ...any) (*RowSet, error) {
	return pgxQuery(ctx, t.tx, query, args)
}

func (t *pgxTx) Insert(ctx context.Context, query string, returning bool, args ...any) (int64, error) {
	return pgxInsert(ctx, t.tx, query, returning, args)
}

func (t *pgxTx) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *pgxTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
