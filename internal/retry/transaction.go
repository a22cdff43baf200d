package retry

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// transaction is the state of one Run call. Only the Coordinator mutates it;
// the unit of work can do no more than request an abort through its handle.
type transaction struct {
	id     uuid.UUID
	conn   crdb.Conn
	limit  int
	logger crdb.Logger

	mu       sync.Mutex
	attempt  int
	state    crdb.TxState
	running  bool
	abortErr error
}

func newTransaction(conn crdb.Conn, limit int, logger crdb.Logger) *transaction {
	return &transaction{
		id:      uuid.New(),
		conn:    conn,
		limit:   limit,
		logger:  logger,
		state:   crdb.TxStateInit,
		running: true,
	}
}

func (t *transaction) exec(ctx context.Context, stmt string) error {
	t.logger.Verbose("transaction %s: %s", t.id, stmt)
	_, err := t.conn.Exec(ctx, stmt)
	return err
}

func (t *transaction) nextAttempt() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempt++
	return t.attempt
}

func (t *transaction) isRunning() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.running
}

func (t *transaction) currentState() crdb.TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *transaction) attempts() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempt
}

// transition moves to the given state. Entering a terminal state clears running.
func (t *transaction) transition(to crdb.TxState) {
	t.mu.Lock()
	from := t.state
	t.state = to
	if to.IsTerminal() {
		t.running = false
	}
	t.mu.Unlock()

	t.logger.Verbose("transaction %s: %s -> %s", t.id, from, to)
}

// abort clears running and rolls back right away. Only the first call has an
// effect.
func (t *transaction) abort(ctx context.Context) error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	t.mu.Unlock()

	t.logger.Verbose("transaction %s: abort requested on attempt %d", t.id, t.attempts())
	if err := t.exec(ctx, crdb.StmtRollback); err != nil {
		abortErr := &crdb.ConnectionError{Op: "abort", Err: err}
		t.mu.Lock()
		t.abortErr = abortErr
		t.mu.Unlock()
		return abortErr
	}
	return nil
}

func (t *transaction) abortError() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.abortErr
}

// handle is the crdb.Tx given to one attempt. It stops working once the
// attempt's callback has returned.
type handle struct {
	txn     *transaction
	attempt int
	done    atomic.Bool
}

func newHandle(txn *transaction, attempt int) *handle {
	return &handle{txn: txn, attempt: attempt}
}

func (h *handle) close() {
	h.done.Store(true)
}

func (h *handle) Exec(ctx context.Context, sql string, args ...any) (crdb.CommandTag, error) {
	if h.done.Load() {
		return nil, crdb.ErrTxDone
	}
	return h.txn.conn.Exec(ctx, sql, args...)
}

func (h *handle) Query(ctx context.Context, sql string, args ...any) (crdb.Rows, error) {
	if h.done.Load() {
		return nil, crdb.ErrTxDone
	}
	return h.txn.conn.Query(ctx, sql, args...)
}

func (h *handle) QueryRow(ctx context.Context, sql string, args ...any) crdb.Row {
	if h.done.Load() {
		return errRow{err: crdb.ErrTxDone}
	}
	return h.txn.conn.QueryRow(ctx, sql, args...)
}

func (h *handle) Abort(ctx context.Context) error {
	if h.done.Load() {
		return crdb.ErrTxDone
	}
	return h.txn.abort(ctx)
}

func (h *handle) Attempt() int {
	return h.attempt
}

type errRow struct {
	err error
}

func (r errRow) Scan(...any) error { return r.err }

var _ crdb.Tx = (*handle)(nil)
