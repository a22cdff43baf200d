package crdb

import "context"

// CommandTag describes the outcome of a statement executed with Exec.
// pgconn.CommandTag satisfies it directly.
type CommandTag interface {
	RowsAffected() int64
	String() string
}

// Rows is the result set returned by Query. pgx.Rows satisfies it directly.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// Row represents a single row returned by QueryRow.
// Errors are deferred until Scan is called.
type Row interface {
	// Scan reads the values from the row into dest values.
	// Returns an error if no row was found or if the scan fails.
	Scan(dest ...any) error
}

// Querier issues application statements.
type Querier interface {
	// Exec executes a statement without returning any rows.
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)

	// Query executes a statement that returns rows. The caller must Close them.
	Query(ctx context.Context, sql string, args ...any) (Rows, error)

	// QueryRow executes a query that is expected to return at most one row.
	// Always returns a non-nil Row.
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// Conn is one active session to the database. It is not safe for concurrent
// use; one goroutine issues one statement at a time.
type Conn interface {
	Querier

	// Release returns the connection to its owner: a pooled connection goes
	// back to its pool, a standalone connection is closed.
	// After calling Release, the connection must not be used.
	Release(ctx context.Context) error
}

// Pool hands out connections on demand.
//
// Thread-Safety: implementations must be safe for concurrent use.
type Pool interface {
	// Acquire obtains a dedicated connection from the pool.
	// Caller must call Release on the returned Conn when done.
	Acquire(ctx context.Context) (Conn, error)

	// Ping verifies a connection to the database can be established.
	Ping(ctx context.Context) error

	// Close closes all connections in the pool.
	Close()
}

// Driver produces standalone connections and pools for one resolved
// configuration. A client picks its Driver once, at construction.
type Driver interface {
	// Name identifies the implementation ("pgx" or "database/sql").
	Name() string

	// Connect establishes one standalone connection.
	Connect(ctx context.Context) (Conn, error)

	// Pool establishes a connection pool.
	// The returned pool should be closed by the caller when done.
	Pool(ctx context.Context) (Pool, error)

	// Close releases driver-level resources such as cloud dialers.
	Close() error
}
