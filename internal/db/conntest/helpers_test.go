//go:build integration

// Package conntest runs the retry protocol and the TLS modes against real
// servers started with testcontainers.
package conntest

import (
	"context"
	"fmt"
	"os"
	"testing"

	"github.com/vvka-141/crdb/internal/db"
	"github.com/vvka-141/crdb/internal/testinfra"
	"github.com/vvka-141/crdb/pkg/client"
	"github.com/vvka-141/crdb/pkg/crdb"
)

var (
	tlsServer  *testinfra.Database
	mtlsServer *testinfra.Database
	crdbServer *testinfra.Database
	certPaths  *testinfra.CertPaths
)

func TestMain(m *testing.M) {
	os.Exit(run(m))
}

func run(m *testing.M) int {
	ctx := context.Background()

	bundle, err := testinfra.GenerateCertBundle([]string{"localhost", "127.0.0.1"}, testinfra.PostgresUser)
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate certs: %v\n", err)
		return 1
	}

	dir, err := os.MkdirTemp("", "crdb-conntest-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "create temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(dir)

	certPaths, err = bundle.WriteToDir(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "write certs: %v\n", err)
		return 1
	}

	tlsServer, err = testinfra.StartPostgres(ctx, testinfra.PostgresOptions{Certs: certPaths})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		return 1
	}
	defer tlsServer.Terminate(ctx) //nolint:errcheck

	mtlsServer, err = testinfra.StartPostgres(ctx, testinfra.PostgresOptions{Certs: certPaths, MutualTLS: true})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start mTLS postgres: %v\n", err)
		return 1
	}
	defer mtlsServer.Terminate(ctx) //nolint:errcheck

	crdbServer, err = testinfra.StartCockroach(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start cockroach: %v\n", err)
		return 1
	}
	defer crdbServer.Terminate(ctx) //nolint:errcheck

	return m.Run()
}

func parseConfig(t *testing.T, server *testinfra.Database) *crdb.ConnectionConfig {
	t.Helper()
	config, err := db.ParseConnectionString(server.ConnString)
	if err != nil {
		t.Fatalf("parse connection string: %v", err)
	}
	return config
}

func newClient(t *testing.T, config *crdb.ConnectionConfig, opts ...client.Option) *client.Client {
	t.Helper()
	c, err := client.New(config, opts...)
	if err != nil {
		t.Fatalf("create client: %v", err)
	}
	t.Cleanup(func() { c.Close() }) //nolint:errcheck
	return c
}

func newPool(t *testing.T, config *crdb.ConnectionConfig) crdb.TransactionalPool {
	t.Helper()
	pool, err := newClient(t, config).Pool(context.Background())
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	t.Cleanup(pool.Close)
	return pool
}

func pingSucceeds(t *testing.T, pool crdb.TransactionalPool) {
	t.Helper()
	if err := pool.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
}

// bothDrivers runs fn once with the pgx driver and once with database/sql.
func bothDrivers(t *testing.T, server *testinfra.Database, fn func(t *testing.T, config *crdb.ConnectionConfig)) {
	for _, native := range []bool{false, true} {
		name := "pgx"
		if native {
			name = "native"
		}
		t.Run(name, func(t *testing.T) {
			config := parseConfig(t, server)
			config.Native = native
			fn(t, config)
		})
	}
}
