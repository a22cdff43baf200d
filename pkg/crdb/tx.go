package crdb

import "context"

// Tx is the handle passed to a unit of work. It exposes the connection for
// application statements and lets the callback end the transaction early.
//
// A Tx must not be retained: every method returns ErrTxDone once the callback
// has returned.
type Tx interface {
	Querier

	// Abort rolls the transaction back immediately. No commit and no further
	// attempt follow, whatever the callback does afterwards. Calling Abort
	// again is a no-op.
	Abort(ctx context.Context) error

	// Attempt returns the 1-based number of the current attempt.
	Attempt() int
}

// TxFunc is a unit of work run inside a retried transaction. It may be invoked
// several times; it must not keep side effects outside the database that
// cannot tolerate re-execution.
type TxFunc func(ctx context.Context, tx Tx) error

// Retrier runs units of work under the BEGIN/SAVEPOINT retry protocol.
type Retrier interface {
	Retry(ctx context.Context, fn TxFunc, opts ...RetryOption) error
}

// TransactionalConn is a Conn augmented with the retry capability.
//
// Retry takes ownership of the connection: it is released exactly once before
// Retry returns, whatever the outcome. Release is idempotent; any use after
// release fails with ErrConnReleased.
type TransactionalConn interface {
	Conn
	Retrier
}

// TransactionalPool is a pool whose connections all carry the retry capability.
// Acquisition accounting is the underlying pool's: releasing a
// TransactionalConn is exactly the release the pool would have seen.
type TransactionalPool interface {
	Retrier

	// Acquire obtains a connection, blocking until one is available.
	Acquire(ctx context.Context) (TransactionalConn, error)

	// AcquireFunc acquires a connection, calls fn with it and releases it
	// afterwards unless fn already did (for example through Retry).
	AcquireFunc(ctx context.Context, fn func(context.Context, TransactionalConn) error) error

	Ping(ctx context.Context) error
	Close()
}

// RetryOptions holds per-call retry settings.
type RetryOptions struct {
	// Limit is the maximum number of attempts.
	Limit int

	// Backoff, when set, delays each attempt after a conflict.
	Backoff BackoffStrategy
}

// RetryOption configures a single Retry call.
type RetryOption func(*RetryOptions)

// WithLimit sets the maximum number of attempts.
func WithLimit(limit int) RetryOption {
	return func(o *RetryOptions) {
		o.Limit = limit
	}
}

// WithBackoff waits strategy.NextDelay(n) before the (n+2)-th attempt.
func WithBackoff(strategy BackoffStrategy) RetryOption {
	return func(o *RetryOptions) {
		o.Backoff = strategy
	}
}

// NewRetryOptions applies opts over the defaults.
func NewRetryOptions(opts ...RetryOption) RetryOptions {
	o := RetryOptions{Limit: DefaultRetryLimit}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RetryValue runs fn through r and returns the value produced by the attempt
// that ended the transaction.
//
// Example:
//
//	balance, err := crdb.RetryValue(ctx, conn, func(ctx context.Context, tx crdb.Tx) (int64, error) {
//	    var b int64
//	    err := tx.QueryRow(ctx, "SELECT balance FROM accounts WHERE id = $1", id).Scan(&b)
//	    return b, err
//	})
func RetryValue[T any](ctx context.Context, r Retrier, fn func(context.Context, Tx) (T, error), opts ...RetryOption) (T, error) {
	var result T
	err := r.Retry(ctx, func(ctx context.Context, tx Tx) error {
		v, err := fn(ctx, tx)
		if err != nil {
			return err
		}
		result = v
		return nil
	}, opts...)
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
