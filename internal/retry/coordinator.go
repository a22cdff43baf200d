package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/vvka-141/crdb/internal/logging"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// Coordinator drives the BEGIN/SAVEPOINT/retry/COMMIT protocol on a borrowed
// connection.
//
// Thread Safety:
// A Coordinator holds no per-call state and may serve many connections
// concurrently. Each Run call owns its connection exclusively.
type Coordinator struct {
	classifier crdb.ErrorClassifier
	logger     crdb.Logger
	observer   crdb.Observer
}

// CoordinatorOption configures a Coordinator.
type CoordinatorOption func(*Coordinator)

// WithClassifier replaces the serialization-conflict classifier.
func WithClassifier(classifier crdb.ErrorClassifier) CoordinatorOption {
	return func(c *Coordinator) { c.classifier = classifier }
}

// WithLogger sets the logger used for state transitions and cleanup failures.
func WithLogger(logger crdb.Logger) CoordinatorOption {
	return func(c *Coordinator) { c.logger = logger }
}

// WithObserver sets the observer notified of attempts, conflicts and outcomes.
func WithObserver(observer crdb.Observer) CoordinatorOption {
	return func(c *Coordinator) { c.observer = observer }
}

// NewCoordinator creates a Coordinator that retries on SQLSTATE 40001 only.
func NewCoordinator(opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		classifier: NewConflictClassifier(),
		logger:     logging.NewNullLogger(),
		observer:   crdb.NopObserver{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes fn inside a transaction on conn, retrying it after each
// serialization conflict until it succeeds, fails otherwise, aborts, or
// exhausts the attempt limit.
//
// Run takes ownership of conn and releases it exactly once before returning.
// It returns nil after a commit or after an abort the callback survived,
// the callback's own error unchanged for non-retryable failures,
// *crdb.RetryLimitExceededError when conflicts outlast the limit, and
// *crdb.ConnectionError when a control statement fails.
func (c *Coordinator) Run(ctx context.Context, conn crdb.Conn, fn crdb.TxFunc, opts ...crdb.RetryOption) error {
	options := crdb.NewRetryOptions(opts...)
	txn := newTransaction(conn, options.Limit, c.logger)
	started := time.Now()

	defer func() {
		if err := conn.Release(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("transaction %s: releasing connection failed: %v", txn.id, err)
		}
		c.observer.TransactionFinished(txn.currentState(), txn.attempts(), time.Since(started))
	}()

	if options.Limit < 1 {
		txn.transition(crdb.TxStateFailed)
		return fmt.Errorf("retry limit %d must be at least 1: %w", options.Limit, crdb.ErrInvalidConfig)
	}

	if err := txn.exec(ctx, crdb.StmtBeginSavepoint); err != nil {
		c.rollback(ctx, txn)
		txn.transition(crdb.TxStateFailed)
		return &crdb.ConnectionError{Op: "begin", Err: err}
	}
	txn.transition(crdb.TxStateExecuting)

	for {
		attempt := txn.nextAttempt()
		c.observer.AttemptStarted(attempt)

		err := c.invoke(ctx, txn, attempt, fn)

		if !txn.isRunning() {
			txn.transition(crdb.TxStateAborted)
			if err != nil {
				return err
			}
			return txn.abortError()
		}

		if err == nil {
			done, commitErr := c.commit(ctx, txn)
			if done {
				return commitErr
			}
			err = commitErr
		}

		if !c.classifier.IsRetryable(err) {
			c.rollback(ctx, txn)
			txn.transition(crdb.TxStateFailed)
			return err
		}

		conflict := &crdb.ConflictError{Attempt: attempt, Err: err}
		c.observer.ConflictDetected(attempt)

		if attempt >= txn.limit {
			c.logger.Info("transaction %s: %v; giving up after %d attempts", txn.id, conflict, attempt)
			c.rollback(ctx, txn)
			txn.transition(crdb.TxStateFailed)
			return &crdb.RetryLimitExceededError{Limit: txn.limit, Last: conflict}
		}

		c.logger.Info("transaction %s: %v; retrying", txn.id, conflict)
		if err := txn.exec(ctx, crdb.StmtRollbackToSavepoint); err != nil {
			c.rollback(ctx, txn)
			txn.transition(crdb.TxStateFailed)
			return &crdb.ConnectionError{Op: "rollback to savepoint", Err: err}
		}

		if options.Backoff != nil {
			if err := sleep(ctx, options.Backoff.NextDelay(attempt-1)); err != nil {
				c.rollback(ctx, txn)
				txn.transition(crdb.TxStateFailed)
				return err
			}
		}
	}
}

// invoke runs one attempt. A panicking callback still gets its transaction
// rolled back; the panic is re-raised after that.
func (c *Coordinator) invoke(ctx context.Context, txn *transaction, attempt int, fn crdb.TxFunc) error {
	h := newHandle(txn, attempt)
	defer h.close()
	defer func() {
		if r := recover(); r != nil {
			if txn.isRunning() {
				c.rollback(ctx, txn)
			}
			txn.transition(crdb.TxStateFailed)
			panic(r)
		}
	}()
	return fn(ctx, h)
}

// commit releases the savepoint and commits. done is false only when RELEASE
// reported a retryable conflict; the transaction is still open in that case.
func (c *Coordinator) commit(ctx context.Context, txn *transaction) (done bool, err error) {
	if err := txn.exec(ctx, crdb.StmtReleaseSavepoint); err != nil {
		if c.classifier.IsRetryable(err) {
			return false, err
		}
		c.rollback(ctx, txn)
		txn.transition(crdb.TxStateFailed)
		return true, &crdb.ConnectionError{Op: "release savepoint", Err: err}
	}

	if err := txn.exec(ctx, crdb.StmtCommit); err != nil {
		txn.transition(crdb.TxStateFailed)
		return true, &crdb.ConnectionError{Op: "commit", Err: err}
	}

	txn.transition(crdb.TxStateCommitted)
	return true, nil
}

// rollback issues a full ROLLBACK even if ctx is already cancelled. A failure
// is logged; the caller's error is what propagates.
func (c *Coordinator) rollback(ctx context.Context, txn *transaction) {
	if err := txn.exec(context.WithoutCancel(ctx), crdb.StmtRollback); err != nil {
		c.logger.Error("transaction %s: rollback failed: %v", txn.id, err)
	}
}
