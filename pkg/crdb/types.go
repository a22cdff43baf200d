package crdb

import (
	"errors"
	"fmt"
	"time"
)

// ConnectionConfig represents parsed connection parameters.
//
// Fields the library does not interpret (AdditionalParams) are passed through
// to the underlying driver untouched.
type ConnectionConfig struct {
	Host     string
	Port     int
	Database string
	Username string
	Password string

	// SSL names the TLS mode and the certificate material to read from disk.
	// Files are loaded once per connect and attached to the driver
	// configuration inline.
	SSL SSLConfig

	// Native selects the database/sql driver implementation instead of the
	// default pgx implementation. Resolved once per client.
	Native bool

	// Discovery is a reserved hook for node discovery. It is accepted and
	// currently has no effect.
	Discovery any

	// AuthMethod indicates the authentication mechanism to use
	AuthMethod AuthMethod

	// Additional connection parameters
	AppName          string
	ConnectTimeout   time.Duration
	AdditionalParams map[string]string

	// Pool sizing passthrough. Zero values use the package defaults.
	MaxConns        int32
	MinConns        int32
	MaxConnIdleTime time.Duration

	// ConnectRetries is the number of times a transient connection failure
	// is retried with exponential backoff before Connect gives up.
	// Zero disables connect-time retries.
	ConnectRetries int

	// AWS RDS IAM authentication (AuthMethodAWSIAM)
	AWSRegion string

	// Google Cloud SQL IAM authentication (AuthMethodGoogleIAM).
	// Instance connection name in project:region:instance form.
	GoogleInstance string

	// Azure Entra ID authentication parameters (used when AuthMethod is AuthMethodAzureEntraID)
	// If all three are provided, Service Principal authentication is used.
	// If none are provided, DefaultAzureCredential chain is used (env vars, managed identity, CLI, etc.)
	AzureTenantID     string
	AzureClientID     string
	AzureClientSecret string
}

// SSLConfig mirrors the libpq sslmode/sslrootcert/sslcert/sslkey options.
type SSLConfig struct {
	Mode     string
	RootCert string
	Cert     string
	Key      string
}

// HasMaterial reports whether any certificate or key path is set.
func (s SSLConfig) HasMaterial() bool {
	return s.RootCert != "" || s.Cert != "" || s.Key != ""
}

// Validate checks if the ConnectionConfig has all required fields and valid values.
// It returns a multi-error if multiple validation failures occur.
func (c *ConnectionConfig) Validate() error {
	var errs []error

	if c.Host == "" && c.AuthMethod != AuthMethodGoogleIAM {
		errs = append(errs, fmt.Errorf("Host is required: %w", ErrInvalidConfig))
	}

	if c.Port < 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("Port %d is out of range: %w", c.Port, ErrInvalidConfig))
	}

	if !c.AuthMethod.IsValid() {
		errs = append(errs, fmt.Errorf("auth method %v: %w", c.AuthMethod, ErrUnsupportedAuthMethod))
	}

	if (c.SSL.Cert == "") != (c.SSL.Key == "") {
		errs = append(errs, fmt.Errorf("sslcert and sslkey must be provided together: %w", ErrInvalidConfig))
	}

	if c.MinConns < 0 || c.MaxConns < 0 || (c.MaxConns > 0 && c.MinConns > c.MaxConns) {
		errs = append(errs, fmt.Errorf("invalid pool bounds min=%d max=%d: %w", c.MinConns, c.MaxConns, ErrInvalidConfig))
	}

	if c.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("connect timeout cannot be negative: %w", ErrInvalidConfig))
	}

	if c.ConnectRetries < 0 {
		errs = append(errs, fmt.Errorf("connect retries cannot be negative: %w", ErrInvalidConfig))
	}

	switch c.AuthMethod {
	case AuthMethodAWSIAM:
		if c.AWSRegion == "" {
			errs = append(errs, fmt.Errorf("AWS IAM auth requires a region: %w", ErrInvalidConfig))
		}
	case AuthMethodGoogleIAM:
		if c.GoogleInstance == "" {
			errs = append(errs, fmt.Errorf("Google Cloud SQL IAM auth requires an instance (project:region:instance): %w", ErrInvalidConfig))
		}
	}

	if c.Username == "" && c.AuthMethod != AuthMethodStandard {
		errs = append(errs, fmt.Errorf("%v auth requires a username: %w", c.AuthMethod, ErrInvalidConfig))
	}

	return errors.Join(errs...)
}

// AuthMethod represents the type of authentication to use.
type AuthMethod int

const (
	AuthMethodStandard     AuthMethod = iota // Username/Password or client certificate
	AuthMethodAWSIAM                         // AWS IAM Database Authentication
	AuthMethodGoogleIAM                      // Google Cloud SQL IAM
	AuthMethodAzureEntraID                   // Azure Active Directory (Entra ID)
)

// String returns a human-readable string representation of the AuthMethod.
func (a AuthMethod) String() string {
	switch a {
	case AuthMethodStandard:
		return "Standard"
	case AuthMethodAWSIAM:
		return "AWS IAM"
	case AuthMethodGoogleIAM:
		return "Google IAM"
	case AuthMethodAzureEntraID:
		return "Azure Entra ID"
	default:
		return fmt.Sprintf("Unknown(%d)", a)
	}
}

// IsValid returns true if the AuthMethod is a valid, defined value.
func (a AuthMethod) IsValid() bool {
	return a >= AuthMethodStandard && a <= AuthMethodAzureEntraID
}

// ParseAuthMethod maps the config-file spelling of an auth method.
func ParseAuthMethod(s string) (AuthMethod, error) {
	switch s {
	case "", "standard":
		return AuthMethodStandard, nil
	case "aws", "aws-iam":
		return AuthMethodAWSIAM, nil
	case "google", "google-iam":
		return AuthMethodGoogleIAM, nil
	case "azure", "azure-entra-id":
		return AuthMethodAzureEntraID, nil
	default:
		return AuthMethodStandard, fmt.Errorf("auth method %q: %w", s, ErrUnsupportedAuthMethod)
	}
}

// TxState is the lifecycle state of one Retry invocation.
type TxState int

const (
	TxStateInit TxState = iota
	TxStateExecuting
	TxStateCommitted
	TxStateAborted
	TxStateFailed
)

func (s TxState) String() string {
	switch s {
	case TxStateInit:
		return "init"
	case TxStateExecuting:
		return "executing"
	case TxStateCommitted:
		return "committed"
	case TxStateAborted:
		return "aborted"
	case TxStateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// IsTerminal reports whether no further transition can leave this state.
func (s TxState) IsTerminal() bool {
	return s == TxStateCommitted || s == TxStateAborted || s == TxStateFailed
}
