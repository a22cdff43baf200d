package testinfra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	PostgresImage    = "postgres:17"
	PostgresUser     = "postgres"
	PostgresPassword = "postgres"
	PostgresDB       = "postgres"

	CockroachImage = "cockroachdb/cockroach:v24.3.5"

	containerCertDir  = "/tmp/testcontainers-go/postgres"
	sslEntrypointPath = "/usr/local/bin/docker-entrypoint-ssl.bash"
)

// PostgresOptions selects the TLS setup of a test server. The zero value
// starts a plaintext server.
type PostgresOptions struct {
	// Certs enables TLS with the bundle's CA and node certificate.
	Certs *CertPaths

	// MutualTLS additionally requires a client certificate for every
	// connection. Requires Certs.
	MutualTLS bool
}

// Database is a running test database and a connection string to it.
type Database struct {
	ConnString string
	terminate  func(context.Context) error
}

// Terminate stops and removes the container.
func (d *Database) Terminate(ctx context.Context) error {
	return d.terminate(ctx)
}

// StartPostgres runs PostgreSQL. The savepoint protocol, SQLSTATE 40001 and
// TLS behave there as on CockroachDB, which keeps container startup fast.
func StartPostgres(ctx context.Context, opts PostgresOptions) (*Database, error) {
	if opts.MutualTLS && opts.Certs == nil {
		return nil, fmt.Errorf("mutual TLS requires certificates")
	}

	customizers := []testcontainers.ContainerCustomizer{
		postgres.WithUsername(PostgresUser),
		postgres.WithPassword(PostgresPassword),
		postgres.WithDatabase(PostgresDB),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	}

	if opts.Certs != nil {
		confPath, err := writeSSLConfig(opts.Certs.Dir)
		if err != nil {
			return nil, err
		}
		customizers = append(customizers,
			postgres.WithSSLCert(opts.Certs.CACert, opts.Certs.ServerCert, opts.Certs.ServerKey),
			postgres.WithConfigFile(confPath),
			// WithSSLCert sets entrypoint to "sh" which fails on Debian (dash doesn't support pipefail).
			testcontainers.WithEntrypoint("bash", sslEntrypointPath),
		)
	}

	if opts.MutualTLS {
		initScript, err := writeMTLSInitScript(opts.Certs.Dir)
		if err != nil {
			return nil, err
		}
		customizers = append(customizers, postgres.WithInitScripts(initScript))
	}

	ctr, err := postgres.Run(ctx, PostgresImage, customizers...)
	if err != nil {
		return nil, fmt.Errorf("start postgres: %w", err)
	}

	connStr, err := ctr.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get connection string: %w", err)
	}

	return &Database{
		ConnString: connStr,
		terminate:  func(ctx context.Context) error { return ctr.Terminate(ctx) },
	}, nil
}

// StartCockroach runs an insecure single-node CockroachDB cluster.
func StartCockroach(ctx context.Context) (*Database, error) {
	const sqlPort = "26257/tcp"

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        CockroachImage,
			Cmd:          []string{"start-single-node", "--insecure", "--store=type=mem,size=0.25"},
			ExposedPorts: []string{sqlPort, "8080/tcp"},
			WaitingFor: wait.ForHTTP("/health?ready=1").
				WithPort("8080/tcp").
				WithStartupTimeout(120*time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("start cockroach: %w", err)
	}

	host, err := ctr.Host(ctx)
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get host: %w", err)
	}
	port, err := ctr.MappedPort(ctx, sqlPort)
	if err != nil {
		ctr.Terminate(ctx) //nolint:errcheck
		return nil, fmt.Errorf("get mapped port: %w", err)
	}

	return &Database{
		ConnString: fmt.Sprintf("postgresql://root@%s:%s/defaultdb?sslmode=disable", host, port.Port()),
		terminate:  func(ctx context.Context) error { return ctr.Terminate(ctx) },
	}, nil
}

func writeSSLConfig(dir string) (string, error) {
	conf := fmt.Sprintf(`listen_addresses = '*'
ssl = on
ssl_cert_file = '%s/server.cert'
ssl_key_file = '%s/server.key'
ssl_ca_file = '%s/ca_cert.pem'
`, containerCertDir, containerCertDir, containerCertDir)

	path := filepath.Join(dir, "postgresql.conf")
	if err := os.WriteFile(path, []byte(conf), 0644); err != nil {
		return "", fmt.Errorf("write postgresql.conf: %w", err)
	}
	return path, nil
}

func writeMTLSInitScript(dir string) (string, error) {
	script := `#!/bin/bash
cat > "$PGDATA/pg_hba.conf" << 'PGEOF'
local   all all                trust
hostssl all all 0.0.0.0/0      cert clientcert=verify-full
hostssl all all ::/0            cert clientcert=verify-full
PGEOF
`
	path := filepath.Join(dir, "init-mtls.sh")
	if err := os.WriteFile(path, []byte(script), 0755); err != nil {
		return "", fmt.Errorf("write init script: %w", err)
	}
	return path, nil
}
