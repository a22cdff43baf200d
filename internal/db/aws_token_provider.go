package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/rds/auth"
)

// awsTokenLifetime is how long an RDS IAM token is accepted after signing.
const awsTokenLifetime = 15 * time.Minute

// AWSIAMTokenProvider signs IAM authentication tokens for an RDS-compatible
// endpoint using the default AWS credential chain.
type AWSIAMTokenProvider struct {
	endpoint string // host:port
	region   string
	username string

	once        sync.Once
	credentials aws.CredentialsProvider
	loadErr     error
}

// NewAWSIAMTokenProvider creates a token provider for AWS RDS IAM authentication.
// endpoint is in host:port form; username is the database user mapped to the IAM identity.
func NewAWSIAMTokenProvider(endpoint, region, username string) (*AWSIAMTokenProvider, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("AWS IAM auth requires endpoint (host:port)")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS IAM auth requires region (use --aws-region or $AWS_REGION)")
	}
	if username == "" {
		return nil, fmt.Errorf("AWS IAM auth requires database username")
	}

	return &AWSIAMTokenProvider{
		endpoint: endpoint,
		region:   region,
		username: username,
	}, nil
}

// GetToken signs a fresh token. The AWS configuration is loaded on first use.
func (p *AWSIAMTokenProvider) GetToken(ctx context.Context) (string, time.Time, error) {
	p.once.Do(func() {
		cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(p.region))
		if err != nil {
			p.loadErr = fmt.Errorf("failed to load AWS config: %w", err)
			return
		}
		p.credentials = cfg.Credentials
	})
	if p.loadErr != nil {
		return "", time.Time{}, p.loadErr
	}

	signedAt := time.Now()
	token, err := auth.BuildAuthToken(ctx, p.endpoint, p.region, p.username, p.credentials)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build RDS auth token: %w", err)
	}
	return token, signedAt.Add(awsTokenLifetime), nil
}

// String returns a human-readable representation of the provider.
func (p *AWSIAMTokenProvider) String() string {
	return fmt.Sprintf("AWSIAMTokenProvider(endpoint=%s, region=%s, user=%s)", p.endpoint, p.region, p.username)
}
