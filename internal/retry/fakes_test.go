package retry

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// fakeConn records every statement and lets tests script failures per
// control statement.
type fakeConn struct {
	mu         sync.Mutex
	statements []string
	failures   map[string][]error // consumed in order, nil entries mean success
	releases   int
	releaseErr error
}

func newFakeConn() *fakeConn {
	return &fakeConn{failures: make(map[string][]error)}
}

func (f *fakeConn) failNext(stmt string, errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[stmt] = append(f.failures[stmt], errs...)
}

func (f *fakeConn) Exec(_ context.Context, sql string, _ ...any) (crdb.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statements = append(f.statements, sql)
	if queue := f.failures[sql]; len(queue) > 0 {
		f.failures[sql] = queue[1:]
		if queue[0] != nil {
			return nil, queue[0]
		}
	}
	return pgconn.NewCommandTag("OK"), nil
}

func (f *fakeConn) Query(context.Context, string, ...any) (crdb.Rows, error) {
	return nil, nil
}

func (f *fakeConn) QueryRow(context.Context, string, ...any) crdb.Row {
	return errRow{}
}

func (f *fakeConn) Release(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases++
	return f.releaseErr
}

func (f *fakeConn) count(stmt string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, s := range f.statements {
		if s == stmt {
			n++
		}
	}
	return n
}

// controlStatements filters out application statements.
func (f *fakeConn) controlStatements() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, s := range f.statements {
		switch s {
		case crdb.StmtBeginSavepoint, crdb.StmtRollbackToSavepoint, crdb.StmtReleaseSavepoint,
			crdb.StmtCommit, crdb.StmtRollback:
			out = append(out, s)
		}
	}
	return out
}

func conflictErr() error {
	return &pgconn.PgError{Code: "40001", Message: "restart transaction: TransactionRetryWithProtoRefreshError"}
}

// recordingObserver captures observer callbacks.
type recordingObserver struct {
	mu        sync.Mutex
	attempts  []int
	conflicts []int
	finals    []crdb.TxState
	total     int
}

func (o *recordingObserver) AttemptStarted(attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts = append(o.attempts, attempt)
}

func (o *recordingObserver) ConflictDetected(attempt int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conflicts = append(o.conflicts, attempt)
}

func (o *recordingObserver) TransactionFinished(state crdb.TxState, attempts int, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finals = append(o.finals, state)
	o.total = attempts
}
