package crdb

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common failure scenarios.
// These enable callers to distinguish error kinds using errors.Is().
//
// Example usage:
//
//	err := conn.Retry(ctx, transfer)
//	if errors.Is(err, crdb.ErrRetryLimitExceeded) {
//	    // contention outlasted the attempt budget
//	}
var (
	// ErrInvalidConfig indicates the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates the connection could not be established or used.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrRetryLimitExceeded indicates serialization conflicts recurred on every allowed attempt.
	ErrRetryLimitExceeded = errors.New("retry limit exceeded")

	// ErrTxDone indicates a transaction handle was used after its callback returned.
	ErrTxDone = errors.New("transaction handle used after callback returned")

	// ErrConnReleased indicates a connection was used after it was returned to its owner.
	ErrConnReleased = errors.New("connection already released")

	// ErrUnsupportedAuthMethod indicates the requested authentication method is not supported.
	ErrUnsupportedAuthMethod = errors.New("unsupported authentication method")
)

// ConnectionError reports a failure to establish the connection or to run one
// of the coordinator's control statements on it. It is never retried.
type ConnectionError struct {
	// Op names the operation that failed, e.g. "connect", "begin", "commit".
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// Is reports ErrConnectionFailed as a match so callers need not know the type.
func (e *ConnectionError) Is(target error) bool {
	return target == ErrConnectionFailed
}

// ConflictError wraps a serialization failure observed on a given attempt.
type ConflictError struct {
	Attempt int
	Err     error
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("serialization conflict on attempt %d: %v", e.Attempt, e.Err)
}

func (e *ConflictError) Unwrap() error { return e.Err }

// RetryLimitExceededError is returned when the conflict recurred on the last
// permitted attempt. The transaction has been fully rolled back.
type RetryLimitExceededError struct {
	Limit int
	// Last is the conflict that ended the final attempt.
	Last *ConflictError
}

func (e *RetryLimitExceededError) Error() string {
	return fmt.Sprintf("retry limit of %d attempts exceeded: %v", e.Limit, e.Last)
}

func (e *RetryLimitExceededError) Unwrap() error { return e.Last }

func (e *RetryLimitExceededError) Is(target error) bool {
	return target == ErrRetryLimitExceeded
}

// ExitCodeForError returns the appropriate exit code for an error.
// Returns ExitSuccess (0) for nil errors, semantic codes for known errors,
// and ExitGeneralError for unclassified errors. Server-reported SQL errors
// that escape a unit of work map to ExitTransactionError.
func ExitCodeForError(err error) int {
	if err == nil {
		return ExitSuccess
	}

	switch {
	case errors.Is(err, ErrInvalidConfig), errors.Is(err, ErrUnsupportedAuthMethod):
		return ExitConfigError
	case errors.Is(err, ErrRetryLimitExceeded):
		return ExitRetryLimitError
	case errors.Is(err, ErrConnectionFailed):
		return ExitConnectionError
	}

	var sqlErr interface{ SQLState() string }
	if errors.As(err, &sqlErr) {
		return ExitTransactionError
	}

	errStr := err.Error()
	for _, prefix := range usageErrorPrefixes {
		if strings.HasPrefix(errStr, prefix) {
			return ExitUsageError
		}
	}
	if strings.Contains(errStr, "failed to connect") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") {
		return ExitConnectionError
	}

	return ExitGeneralError
}

// usageErrorPrefixes are the messages cobra and pflag produce for bad
// invocations.
var usageErrorPrefixes = []string{
	"unknown flag",
	"unknown shorthand flag",
	"unknown command",
	"accepts ",
	"requires at least",
	"required flag",
	"invalid argument",
	"flag needs an argument",
}
