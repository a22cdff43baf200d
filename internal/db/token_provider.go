package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vvka-141/crdb/pkg/crdb"
)

// TokenProvider abstracts cloud token acquisition for database authentication.
// The token is used as the password of each new physical connection.
type TokenProvider interface {
	// GetToken returns a token and its expiry time.
	GetToken(ctx context.Context) (token string, expiresOn time.Time, err error)

	// String returns a human-readable description for logging.
	// Should NOT include secrets. Example: "AzureServicePrincipal(tenant=xxx, client=yyy)"
	String() string
}

// AzurePostgreSQLScope is the OAuth scope Azure AD issues database tokens for.
const AzurePostgreSQLScope = "https://ossrdbms-aad.database.windows.net/.default"

// tokenRefreshMargin is how long before expiry a cached token is replaced.
const tokenRefreshMargin = 5 * time.Minute

// cachingTokenProvider reuses a token across connections until it is within
// tokenRefreshMargin of expiring. Pools open connections in bursts; one cloud
// round trip serves all of them.
type cachingTokenProvider struct {
	inner TokenProvider
	now   func() time.Time

	mu        sync.Mutex
	token     string
	expiresOn time.Time
}

func newCachingTokenProvider(inner TokenProvider) *cachingTokenProvider {
	return &cachingTokenProvider{inner: inner, now: time.Now}
}

func (p *cachingTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.token != "" && p.now().Add(tokenRefreshMargin).Before(p.expiresOn) {
		return p.token, p.expiresOn, nil
	}

	token, expiresOn, err := p.inner.GetToken(ctx)
	if err != nil {
		return "", time.Time{}, err
	}
	p.token, p.expiresOn = token, expiresOn
	return token, expiresOn, nil
}

func (p *cachingTokenProvider) String() string {
	return p.inner.String()
}

// newTokenProvider picks the provider for the configured auth method, or nil
// when the method authenticates without a token.
func newTokenProvider(config *crdb.ConnectionConfig) (TokenProvider, error) {
	switch config.AuthMethod {
	case crdb.AuthMethodStandard, crdb.AuthMethodGoogleIAM:
		return nil, nil
	case crdb.AuthMethodAWSIAM:
		port := config.Port
		if port == 0 {
			port = crdb.DefaultPort
		}
		provider, err := NewAWSIAMTokenProvider(fmt.Sprintf("%s:%d", config.Host, port), config.AWSRegion, config.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to create AWS IAM token provider: %w", err)
		}
		return newCachingTokenProvider(provider), nil
	case crdb.AuthMethodAzureEntraID:
		provider, err := newAzureTokenProvider(config)
		if err != nil {
			return nil, err
		}
		return newCachingTokenProvider(provider), nil
	default:
		return nil, fmt.Errorf("unsupported auth method %v: %w", config.AuthMethod, crdb.ErrUnsupportedAuthMethod)
	}
}

// newAzureTokenProvider uses Service Principal auth when tenant, client and
// secret are all set, and the DefaultAzureCredential chain otherwise.
func newAzureTokenProvider(config *crdb.ConnectionConfig) (TokenProvider, error) {
	if config.AzureTenantID != "" && config.AzureClientID != "" && config.AzureClientSecret != "" {
		provider, err := NewAzureServicePrincipalProvider(config.AzureTenantID, config.AzureClientID, config.AzureClientSecret)
		if err != nil {
			return nil, fmt.Errorf("failed to create Azure Service Principal provider: %w", err)
		}
		return provider, nil
	}

	provider, err := NewAzureDefaultCredentialProvider()
	if err != nil {
		return nil, fmt.Errorf("failed to create Azure Default Credential provider: %w", err)
	}
	return provider, nil
}
