// Package retry implements the client side of CockroachDB's transaction retry
// protocol, plus the backoff and error classification it shares with
// connection establishment.
//
// # Transaction retries
//
// A Coordinator owns one connection for the duration of a Run call. It
// brackets the unit of work in
//
//	BEGIN; SAVEPOINT cockroach_restart
//	  ... attempt ...
//	  ROLLBACK TO SAVEPOINT cockroach_restart   (on serialization conflict, then retry)
//	RELEASE SAVEPOINT cockroach_restart
//	COMMIT
//
// and falls back to a full ROLLBACK on any non-retryable failure, on an
// explicit Abort, or when the attempt limit is reached. The connection is
// released exactly once on every exit path.
//
// # Error Classification
//
// ConflictClassifier accepts only SQLSTATE 40001 (serialization_failure).
// TransientClassifier recognizes connection-level failures worth retrying
// while a connection is being established.
//
// # Backoff Strategies
//
// ExponentialBackoff implements exponential backoff with jitter and a delay cap.
// It drives the connect-time Executor and, when requested with
// crdb.WithBackoff, the pause between transaction attempts.
package retry
