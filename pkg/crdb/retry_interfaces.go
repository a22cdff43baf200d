package crdb

import "time"

// ErrorClassifier decides whether an error permits another attempt.
type ErrorClassifier interface {
	// IsRetryable returns true if the operation should be attempted again.
	IsRetryable(err error) bool
}

// BackoffStrategy calculates the delay before the next retry attempt.
type BackoffStrategy interface {
	// NextDelay returns the duration to wait before the next attempt.
	// attempt is zero-indexed (0 = first retry, 1 = second retry, etc.)
	NextDelay(attempt int) time.Duration

	// MaxAttempts returns the maximum number of retry attempts (0 = no retries, -1 = unlimited)
	MaxAttempts() int
}

// Observer receives retry lifecycle events. Implementations must be safe for
// concurrent use because one observer serves every connection of a client.
type Observer interface {
	// AttemptStarted is called before each execution of the unit of work.
	AttemptStarted(attempt int)

	// ConflictDetected is called when an attempt ends in a serialization conflict.
	ConflictDetected(attempt int)

	// TransactionFinished is called once per Retry call, after release.
	TransactionFinished(state TxState, attempts int, elapsed time.Duration)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) AttemptStarted(int)                             {}
func (NopObserver) ConflictDetected(int)                           {}
func (NopObserver) TransactionFinished(TxState, int, time.Duration) {}
