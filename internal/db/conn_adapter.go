package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// pgxConn adapts a standalone *pgx.Conn. Release closes it.
type pgxConn struct {
	conn *pgx.Conn
}

func (c *pgxConn) Exec(ctx context.Context, sql string, args ...any) (crdb.CommandTag, error) {
	tag, err := c.conn.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (c *pgxConn) Query(ctx context.Context, sql string, args ...any) (crdb.Rows, error) {
	rows, err := c.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *pgxConn) QueryRow(ctx context.Context, sql string, args ...any) crdb.Row {
	return c.conn.QueryRow(ctx, sql, args...)
}

func (c *pgxConn) Release(ctx context.Context) error {
	return c.conn.Close(ctx)
}

// pooledConnAdapter adapts *pgxpool.Conn. Release returns it to the pool.
type pooledConnAdapter struct {
	conn *pgxpool.Conn
}

func (p *pooledConnAdapter) Exec(ctx context.Context, sql string, args ...any) (crdb.CommandTag, error) {
	tag, err := p.conn.Exec(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return tag, nil
}

func (p *pooledConnAdapter) Query(ctx context.Context, sql string, args ...any) (crdb.Rows, error) {
	rows, err := p.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (p *pooledConnAdapter) QueryRow(ctx context.Context, sql string, args ...any) crdb.Row {
	return p.conn.QueryRow(ctx, sql, args...)
}

func (p *pooledConnAdapter) Release(context.Context) error {
	p.conn.Release()
	return nil
}

// poolAdapter adapts *pgxpool.Pool to crdb.Pool.
//
// Thread-Safety: Safe for concurrent use (pgxpool.Pool is thread-safe).
type poolAdapter struct {
	pool *pgxpool.Pool
}

func (p *poolAdapter) Acquire(ctx context.Context) (crdb.Conn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, &crdb.ConnectionError{Op: "acquire", Err: err}
	}
	return &pooledConnAdapter{conn: conn}, nil
}

func (p *poolAdapter) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *poolAdapter) Close() {
	p.pool.Close()
}

// sqlConn adapts a *sql.Conn. Release returns it to its *sql.DB; owner, when
// set, is a private single-connection DB that is closed as well.
type sqlConn struct {
	conn  *sql.Conn
	owner *sql.DB
}

func (c *sqlConn) Exec(ctx context.Context, query string, args ...any) (crdb.CommandTag, error) {
	res, err := c.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return sqlResultTag{res: res}, nil
}

func (c *sqlConn) Query(ctx context.Context, query string, args ...any) (crdb.Rows, error) {
	rows, err := c.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &sqlRows{rows: rows}, nil
}

func (c *sqlConn) QueryRow(ctx context.Context, query string, args ...any) crdb.Row {
	return c.conn.QueryRowContext(ctx, query, args...)
}

func (c *sqlConn) Release(context.Context) error {
	err := c.conn.Close()
	if c.owner != nil {
		err = errors.Join(err, c.owner.Close())
	}
	return err
}

// sqlResultTag exposes a sql.Result as a crdb.CommandTag.
type sqlResultTag struct {
	res sql.Result
}

func (t sqlResultTag) RowsAffected() int64 {
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}

func (t sqlResultTag) String() string {
	return ""
}

// sqlRows adapts *sql.Rows, whose Close returns an error, to crdb.Rows.
type sqlRows struct {
	rows     *sql.Rows
	closeErr error
}

func (r *sqlRows) Next() bool             { return r.rows.Next() }
func (r *sqlRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }

func (r *sqlRows) Err() error {
	if err := r.rows.Err(); err != nil {
		return err
	}
	return r.closeErr
}

func (r *sqlRows) Close() {
	r.closeErr = r.rows.Close()
}

// sqlPool adapts *sql.DB to crdb.Pool.
type sqlPool struct {
	db *sql.DB
}

func (p *sqlPool) Acquire(ctx context.Context) (crdb.Conn, error) {
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, &crdb.ConnectionError{Op: "acquire", Err: err}
	}
	return &sqlConn{conn: conn}, nil
}

func (p *sqlPool) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *sqlPool) Close() {
	_ = p.db.Close()
}

var (
	_ crdb.Conn = (*pgxConn)(nil)
	_ crdb.Conn = (*pooledConnAdapter)(nil)
	_ crdb.Conn = (*sqlConn)(nil)
	_ crdb.Pool = (*poolAdapter)(nil)
	_ crdb.Pool = (*sqlPool)(nil)
	_ crdb.Rows = (*sqlRows)(nil)
)
