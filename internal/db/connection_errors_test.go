package db

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapConnectionError(t *testing.T) {
	tests := []struct {
		name         string
		errMsg       string
		host         string
		port         int
		database     string
		wantContains string
	}{
		{
			name:         "connection refused",
			errMsg:       "dial tcp 127.0.0.1:26257: connection refused",
			host:         "127.0.0.1",
			port:         26257,
			database:     "defaultdb",
			wantContains: "connection refused to 127.0.0.1:26257",
		},
		{
			name:         "actively refused (Windows)",
			errMsg:       "dial tcp 127.0.0.1:26257: connectex: No connection could be made because the target machine actively refused it",
			host:         "127.0.0.1",
			port:         26257,
			database:     "defaultdb",
			wantContains: "connection refused to 127.0.0.1:26257",
		},
		{
			name:         "no such host",
			errMsg:       "dial tcp: lookup badhost.example.com: no such host",
			host:         "badhost.example.com",
			port:         26257,
			database:     "defaultdb",
			wantContains: `cannot resolve host "badhost.example.com"`,
		},
		{
			name:         "password auth failed",
			errMsg:       `password authentication failed for user "maxroach"`,
			host:         "localhost",
			port:         26257,
			database:     "bank",
			wantContains: `password authentication failed for database "bank"`,
		},
		{
			name:         "database does not exist",
			errMsg:       `database "nope" does not exist`,
			host:         "localhost",
			port:         26257,
			database:     "nope",
			wantContains: "CREATE DATABASE nope",
		},
		{
			name:         "timeout",
			errMsg:       "dial tcp 10.0.0.1:26257: i/o timeout",
			host:         "10.0.0.1",
			port:         26257,
			database:     "defaultdb",
			wantContains: "connection timed out to 10.0.0.1:26257",
		},
		{
			name:         "x509 error",
			errMsg:       "x509: certificate signed by unknown authority",
			host:         "localhost",
			port:         26257,
			database:     "defaultdb",
			wantContains: "SSL/TLS connection error",
		},
		{
			name:         "TLS error",
			errMsg:       "tls: handshake failure",
			host:         "localhost",
			port:         26257,
			database:     "defaultdb",
			wantContains: "SSL/TLS connection error",
		},
		{
			name:         "too many connections",
			errMsg:       "FATAL: too many connections for role",
			host:         "localhost",
			port:         26257,
			database:     "busydb",
			wantContains: `too many connections to database "busydb"`,
		},
		{
			name:         "unknown error falls through to default",
			errMsg:       "something completely unexpected happened",
			host:         "localhost",
			port:         26257,
			database:     "defaultdb",
			wantContains: "failed to connect to database",
		},
		{
			name:         "case insensitive matching",
			errMsg:       "CONNECTION REFUSED by firewall",
			host:         "firewall.host",
			port:         26258,
			database:     "defaultdb",
			wantContains: "connection refused to firewall.host:26258",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			originalErr := errors.New(tt.errMsg)
			wrapped := wrapConnectionError(originalErr, tt.host, tt.port, tt.database)

			if !strings.Contains(wrapped.Error(), tt.wantContains) {
				t.Errorf("wrapConnectionError() = %q, want it to contain %q", wrapped.Error(), tt.wantContains)
			}

			if !errors.Is(wrapped, originalErr) {
				t.Error("wrapped error does not unwrap to original error")
			}
		})
	}
}
