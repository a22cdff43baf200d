package crdb

import "time"

// Exit codes for semantic error classification, used by the crdb CLI.
const (
	ExitSuccess          = 0  // Command completed successfully
	ExitGeneralError     = 1  // Unknown or unclassified error
	ExitUsageError       = 2  // CLI usage error (missing args, invalid flags)
	ExitPanic            = 3  // Internal panic (unexpected crash)
	ExitConfigError      = 10 // Invalid configuration or parameters
	ExitConnectionError  = 11 // Failed to connect to or talk to the database
	ExitRetryLimitError  = 12 // Serialization conflicts outlasted the retry limit
	ExitTransactionError = 13 // The unit of work itself failed
)

// SavepointName is the savepoint CockroachDB recognizes for client-side retries.
const SavepointName = "cockroach_restart"

// Control statements issued by the retry coordinator. These are fixed and are
// the only statements the coordinator sends on its own behalf.
const (
	StmtBeginSavepoint      = "BEGIN; SAVEPOINT " + SavepointName
	StmtRollbackToSavepoint = "ROLLBACK TO SAVEPOINT " + SavepointName
	StmtReleaseSavepoint    = "RELEASE SAVEPOINT " + SavepointName
	StmtCommit              = "COMMIT"
	StmtRollback            = "ROLLBACK"
)

// SQLStateSerializationFailure is the SQLSTATE the server uses to ask the
// client to retry a transaction.
const SQLStateSerializationFailure = "40001"

const (
	// DefaultRetryLimit is the default maximum number of attempts per Retry call.
	DefaultRetryLimit = 11

	// DefaultConnectRetryInitialDelay is the initial delay before retrying a
	// failed connection attempt.
	DefaultConnectRetryInitialDelay = 100 * time.Millisecond

	// DefaultConnectRetryMaxDelay caps the delay between connection attempts.
	DefaultConnectRetryMaxDelay = 1 * time.Minute

	// DefaultPort is the CockroachDB SQL port.
	DefaultPort = 26257

	// DefaultDatabase is used when neither config nor connection string name one.
	DefaultDatabase = "defaultdb"

	// DefaultMaxConns limits the size of pools created by the drivers.
	DefaultMaxConns = 10

	// DefaultMinConns keeps at least one warm connection in a pool.
	DefaultMinConns = 1

	// DefaultMaxConnIdleTime closes pooled connections idle for longer than this.
	DefaultMaxConnIdleTime = 30 * time.Minute
)
