package retry

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/vvka-141/crdb/pkg/crdb"
)

// sqlStater is implemented by *pgconn.PgError and by most other PostgreSQL
// wire-protocol error types.
type sqlStater interface {
	SQLState() string
}

// SQLState extracts the SQLSTATE carried anywhere in err's chain, or "".
func SQLState(err error) string {
	var se sqlStater
	if errors.As(err, &se) {
		return se.SQLState()
	}
	return ""
}

// IsSerializationFailure reports whether err carries SQLSTATE 40001.
func IsSerializationFailure(err error) bool {
	return err != nil && SQLState(err) == crdb.SQLStateSerializationFailure
}

// ConflictClassifier treats exactly the serialization-failure signal as
// retryable. Connection errors, constraint violations and everything else are
// fatal for a transaction.
type ConflictClassifier struct{}

// NewConflictClassifier creates a classifier for transaction retries.
func NewConflictClassifier() *ConflictClassifier {
	return &ConflictClassifier{}
}

// IsRetryable returns true if err is a serialization conflict.
func (c *ConflictClassifier) IsRetryable(err error) bool {
	return IsSerializationFailure(err)
}

// SQLSTATE classes that indicate a connection attempt may succeed later.
// See: https://www.postgresql.org/docs/current/errcodes-appendix.html
var transientClasses = []string{
	"08", // connection_exception
	"53", // insufficient_resources (too_many_connections among them)
	"57", // operator_intervention (admin/crash shutdown, cannot_connect_now)
}

// transientPatterns are matched against driver messages that carry no SQLSTATE.
var transientPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"connection failure",
	"no such host",
	"network is unreachable",
	"i/o timeout",
	"broken pipe",
	"too many connections",
	"server closed the connection",
	"unexpected eof",
}

// TransientClassifier recognizes failures worth retrying while a connection
// is being established.
type TransientClassifier struct{}

// NewTransientClassifier creates a classifier for connect-time retries.
func NewTransientClassifier() *TransientClassifier {
	return &TransientClassifier{}
}

// IsRetryable determines if a connection error is temporary.
func (c *TransientClassifier) IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if code := SQLState(err); code != "" {
		for _, class := range transientClasses {
			if strings.HasPrefix(code, class) {
				return true
			}
		}
		return false
	}

	if isNetworkError(err) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range transientPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

func isNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() || dnsErr.Timeout()
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return true
		}
		return errors.Is(opErr.Err, syscall.ECONNREFUSED) ||
			errors.Is(opErr.Err, syscall.ECONNRESET) ||
			errors.Is(opErr.Err, syscall.ENETUNREACH) ||
			errors.Is(opErr.Err, syscall.EHOSTUNREACH)
	}
	return false
}

var (
	_ crdb.ErrorClassifier = (*ConflictClassifier)(nil)
	_ crdb.ErrorClassifier = (*TransientClassifier)(nil)
)
