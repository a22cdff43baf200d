package db

import (
	"context"
	"sync/atomic"

	"github.com/vvka-141/crdb/pkg/crdb"
)

// Runner runs a unit of work under the retry protocol on a connection it
// takes ownership of. *retry.Coordinator implements it.
type Runner interface {
	Run(ctx context.Context, conn crdb.Conn, fn crdb.TxFunc, opts ...crdb.RetryOption) error
}

// TransactionalConn decorates a crdb.Conn with Retry. The underlying
// connection is released at most once, either by Release or by Retry.
//
// Thread-Safety: the release guard is safe for concurrent use; statements
// follow the usual one-goroutine-per-connection rule.
type TransactionalConn struct {
	conn     crdb.Conn
	runner   Runner
	released atomic.Bool
}

// NewTransactionalConn wraps conn. runner drives Retry calls.
func NewTransactionalConn(conn crdb.Conn, runner Runner) *TransactionalConn {
	return &TransactionalConn{conn: conn, runner: runner}
}

func (c *TransactionalConn) Exec(ctx context.Context, sql string, args ...any) (crdb.CommandTag, error) {
	if c.released.Load() {
		return nil, crdb.ErrConnReleased
	}
	return c.conn.Exec(ctx, sql, args...)
}

func (c *TransactionalConn) Query(ctx context.Context, sql string, args ...any) (crdb.Rows, error) {
	if c.released.Load() {
		return nil, crdb.ErrConnReleased
	}
	return c.conn.Query(ctx, sql, args...)
}

func (c *TransactionalConn) QueryRow(ctx context.Context, sql string, args ...any) crdb.Row {
	if c.released.Load() {
		return releasedRow{}
	}
	return c.conn.QueryRow(ctx, sql, args...)
}

// Release hands the connection back to its owner. Only the first call, or a
// Retry that already ran, reaches the owner; later calls return ErrConnReleased.
func (c *TransactionalConn) Release(ctx context.Context) error {
	if !c.released.CompareAndSwap(false, true) {
		return crdb.ErrConnReleased
	}
	return c.conn.Release(ctx)
}

// Retry runs fn inside a retried transaction and releases the connection
// before returning, whatever the outcome.
func (c *TransactionalConn) Retry(ctx context.Context, fn crdb.TxFunc, opts ...crdb.RetryOption) error {
	if !c.released.CompareAndSwap(false, true) {
		return crdb.ErrConnReleased
	}
	return c.runner.Run(ctx, c.conn, fn, opts...)
}

// IsReleased reports whether the connection has been handed back.
func (c *TransactionalConn) IsReleased() bool {
	return c.released.Load()
}

type releasedRow struct{}

func (releasedRow) Scan(...any) error { return crdb.ErrConnReleased }

// TransactionalPool decorates a crdb.Pool so that every acquired connection
// carries Retry. Acquisition accounting stays with the wrapped pool.
//
// Thread-Safety: Safe for concurrent use when the wrapped pool is.
type TransactionalPool struct {
	pool   crdb.Pool
	runner Runner
}

// NewTransactionalPool wraps pool. runner drives Retry calls.
func NewTransactionalPool(pool crdb.Pool, runner Runner) *TransactionalPool {
	return &TransactionalPool{pool: pool, runner: runner}
}

// Acquire obtains a connection, blocking until one is available.
func (p *TransactionalPool) Acquire(ctx context.Context) (crdb.TransactionalConn, error) {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return NewTransactionalConn(conn, p.runner), nil
}

// AcquireFunc acquires a connection, calls fn with it and releases it unless
// fn already did, directly or through Retry.
func (p *TransactionalPool) AcquireFunc(ctx context.Context, fn func(context.Context, crdb.TransactionalConn) error) error {
	conn, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	tc := NewTransactionalConn(conn, p.runner)
	defer func() {
		if !tc.IsReleased() {
			_ = tc.Release(context.WithoutCancel(ctx))
		}
	}()
	return fn(ctx, tc)
}

// Retry acquires a connection and runs fn on it under the retry protocol.
func (p *TransactionalPool) Retry(ctx context.Context, fn crdb.TxFunc, opts ...crdb.RetryOption) error {
	conn, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	return conn.Retry(ctx, fn, opts...)
}

func (p *TransactionalPool) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *TransactionalPool) Close() {
	p.pool.Close()
}

var (
	_ crdb.TransactionalConn = (*TransactionalConn)(nil)
	_ crdb.TransactionalPool = (*TransactionalPool)(nil)
)
