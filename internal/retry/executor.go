package retry

import (
	"context"
	"time"

	"github.com/vvka-141/crdb/pkg/crdb"
)

// Executor retries an operation with backoff while its error is classified
// as retryable. The drivers use it to ride out transient connection failures.
//
// Thread Safety:
// Execute is safe for concurrent use. WithOnRetry returns a new instance and
// leaves the receiver unchanged.
type Executor struct {
	classifier crdb.ErrorClassifier
	strategy   crdb.BackoffStrategy
	onRetry    func(attempt int, err error, delay time.Duration)
}

// NewExecutor creates a new retry executor with the given configuration.
// Panics if classifier or strategy is nil.
func NewExecutor(classifier crdb.ErrorClassifier, strategy crdb.BackoffStrategy) *Executor {
	if classifier == nil {
		panic("classifier cannot be nil")
	}
	if strategy == nil {
		panic("strategy cannot be nil")
	}
	return &Executor{
		classifier: classifier,
		strategy:   strategy,
	}
}

// NewConnectExecutor builds the executor used for connection establishment:
// transient connection errors, retried up to retries times.
func NewConnectExecutor(retries int) *Executor {
	return NewExecutor(
		NewTransientClassifier(),
		NewExponentialBackoff(retries,
			WithInitialDelay(crdb.DefaultConnectRetryInitialDelay),
			WithMaxDelay(crdb.DefaultConnectRetryMaxDelay),
		),
	)
}

// WithOnRetry returns a new Executor with the specified retry callback.
func (e *Executor) WithOnRetry(callback func(attempt int, err error, delay time.Duration)) *Executor {
	clone := *e
	clone.onRetry = callback
	return &clone
}

// Execute runs the operation, retrying retryable failures.
// Returns nil on success, otherwise the error of the last attempt or the
// context error if ctx ends while waiting.
func (e *Executor) Execute(ctx context.Context, operation func(ctx context.Context) error) error {
	maxAttempts := e.strategy.MaxAttempts()

	err := operation(ctx)
	for retry := 0; err != nil && e.classifier.IsRetryable(err); retry++ {
		if maxAttempts >= 0 && retry >= maxAttempts {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		delay := e.strategy.NextDelay(retry)
		if e.onRetry != nil {
			e.onRetry(retry, err, delay)
		}
		if waitErr := sleep(ctx, delay); waitErr != nil {
			return waitErr
		}

		err = operation(ctx)
	}
	return err
}
