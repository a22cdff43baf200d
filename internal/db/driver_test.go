package db

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/crdb/internal/logging"
	"github.com/vvka-141/crdb/internal/retry"
	"github.com/vvka-141/crdb/pkg/crdb"
)

func localConfig() *crdb.ConnectionConfig {
	return &crdb.ConnectionConfig{
		Host:     "localhost",
		Port:     26257,
		Database: "bank",
		Username: "root",
		SSL:      crdb.SSLConfig{Mode: "disable"},
	}
}

// newMockSQLDriver builds a database/sql driver whose DB is a sqlmock.
func newMockSQLDriver(t *testing.T, config *crdb.ConnectionConfig) (*sqlDriver, sqlmock.Sqlmock, *pgx.ConnConfig) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual),
		sqlmock.MonitorPingsOption(true),
	)
	require.NoError(t, err)

	c, err := newConnector(config, logging.NewNullLogger())
	require.NoError(t, err)

	seen := &pgx.ConnConfig{}
	d := &sqlDriver{
		connector: c,
		openDB: func(cc pgx.ConnConfig, _ ...stdlib.OptionOpenDB) *sql.DB {
			*seen = cc
			return mockDB
		},
	}
	return d, mock, seen
}

func TestNewDriver_SelectsImplementation(t *testing.T) {
	d, err := NewDriver(localConfig(), logging.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, DriverPgx, d.Name())
	assert.NoError(t, d.Close())

	cfg := localConfig()
	cfg.Native = true
	d, err = NewDriver(cfg, logging.NewNullLogger())
	require.NoError(t, err)
	assert.Equal(t, DriverDatabase, d.Name())
	assert.NoError(t, d.Close())
}

func TestNewDriver_InvalidConfig(t *testing.T) {
	cfg := localConfig()
	cfg.Host = ""
	cfg.SSL.Cert = "client.root.crt"

	_, err := NewDriver(cfg, logging.NewNullLogger())
	require.Error(t, err)
	assert.ErrorIs(t, err, crdb.ErrInvalidConfig)
	assert.ErrorContains(t, err, "Host is required")
	assert.ErrorContains(t, err, "sslcert and sslkey")
}

func TestPgxDriver_ConnectFailureIsConnectionError(t *testing.T) {
	cfg := localConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.ConnectTimeout = 2 * time.Second

	d, err := NewDriver(cfg, logging.NewNullLogger())
	require.NoError(t, err)

	_, err = d.Connect(context.Background())
	require.Error(t, err)

	var connErr *crdb.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, "connect", connErr.Op)
	assert.ErrorIs(t, err, crdb.ErrConnectionFailed)
	assert.ErrorContains(t, err, "127.0.0.1:1")
}

func TestSQLDriver_ConnectRunsRetryProtocol(t *testing.T) {
	d, mock, _ := newMockSQLDriver(t, localConfig())

	ok := sqlmock.NewResult(0, 0)
	mock.ExpectExec(crdb.StmtBeginSavepoint).WillReturnResult(ok)
	mock.ExpectExec("UPDATE accounts SET balance = balance - 10 WHERE id = 1").
		WillReturnError(&pgconn.PgError{Code: crdb.SQLStateSerializationFailure, Message: "restart transaction"})
	mock.ExpectExec(crdb.StmtRollbackToSavepoint).WillReturnResult(ok)
	mock.ExpectExec("UPDATE accounts SET balance = balance - 10 WHERE id = 1").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(crdb.StmtReleaseSavepoint).WillReturnResult(ok)
	mock.ExpectExec(crdb.StmtCommit).WillReturnResult(ok)
	mock.ExpectClose()

	ctx := context.Background()
	conn, err := d.Connect(ctx)
	require.NoError(t, err)

	tc := NewTransactionalConn(conn, retry.NewCoordinator())
	var affected int64
	err = tc.Retry(ctx, func(ctx context.Context, tx crdb.Tx) error {
		tag, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - 10 WHERE id = 1")
		if err != nil {
			return err
		}
		affected = tag.RowsAffected()
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDriver_FatalErrorRollsBack(t *testing.T) {
	d, mock, _ := newMockSQLDriver(t, localConfig())

	ok := sqlmock.NewResult(0, 0)
	uniqueViolation := &pgconn.PgError{Code: "23505", Message: "duplicate key value"}
	mock.ExpectExec(crdb.StmtBeginSavepoint).WillReturnResult(ok)
	mock.ExpectExec("INSERT INTO accounts (id) VALUES (1)").WillReturnError(uniqueViolation)
	mock.ExpectExec(crdb.StmtRollback).WillReturnResult(ok)
	mock.ExpectClose()

	ctx := context.Background()
	conn, err := d.Connect(ctx)
	require.NoError(t, err)

	err = NewTransactionalConn(conn, retry.NewCoordinator()).Retry(ctx, func(ctx context.Context, tx crdb.Tx) error {
		_, err := tx.Exec(ctx, "INSERT INTO accounts (id) VALUES (1)")
		return err
	})
	assert.Same(t, uniqueViolation, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDriver_Pool(t *testing.T) {
	d, mock, _ := newMockSQLDriver(t, localConfig())

	mock.ExpectPing()
	mock.ExpectQuery("SELECT 1").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectClose()

	ctx := context.Background()
	pool, err := d.Pool(ctx)
	require.NoError(t, err)

	tp := NewTransactionalPool(pool, retry.NewCoordinator())
	err = tp.AcquireFunc(ctx, func(ctx context.Context, conn crdb.TransactionalConn) error {
		var n int
		if err := conn.QueryRow(ctx, "SELECT 1").Scan(&n); err != nil {
			return err
		}
		assert.Equal(t, 1, n)
		return nil
	})
	require.NoError(t, err)

	tp.Close()
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDriver_PoolPingFailure(t *testing.T) {
	d, mock, _ := newMockSQLDriver(t, localConfig())

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))
	mock.ExpectClose()

	_, err := d.Pool(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, crdb.ErrConnectionFailed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDriver_QueryRowsAdapter(t *testing.T) {
	d, mock, _ := newMockSQLDriver(t, localConfig())

	mock.ExpectQuery("SELECT id FROM accounts").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1).AddRow(2))
	mock.ExpectClose()

	ctx := context.Background()
	conn, err := d.Connect(ctx)
	require.NoError(t, err)

	rows, err := conn.Query(ctx, "SELECT id FROM accounts")
	require.NoError(t, err)
	var ids []int
	for rows.Next() {
		var id int
		require.NoError(t, rows.Scan(&id))
		ids = append(ids, id)
	}
	rows.Close()
	require.NoError(t, rows.Err())
	assert.Equal(t, []int{1, 2}, ids)

	require.NoError(t, conn.Release(ctx))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLDriver_AppliesTLSMaterial(t *testing.T) {
	paths := writeTestCerts(t)
	cfg := localConfig()
	cfg.SSL = crdb.SSLConfig{
		Mode:     "verify-full",
		RootCert: paths.CACert,
		Cert:     paths.ClientCert,
		Key:      paths.ClientKey,
	}
	d, mock, seen := newMockSQLDriver(t, cfg)
	mock.ExpectClose()

	conn, err := d.Connect(context.Background())
	require.NoError(t, err)
	require.NoError(t, conn.Release(context.Background()))

	require.NotNil(t, seen.TLSConfig)
	assert.Equal(t, "localhost", seen.TLSConfig.ServerName)
	assert.NotNil(t, seen.TLSConfig.RootCAs)
	assert.Len(t, seen.TLSConfig.Certificates, 1)
	assert.Empty(t, seen.Fallbacks)
}

func TestConnector_ConnectionStringForCloudSQL(t *testing.T) {
	cfg := &crdb.ConnectionConfig{
		AuthMethod:     crdb.AuthMethodGoogleIAM,
		GoogleInstance: "proj:us-central1:crdb",
		Username:       "app@proj.iam",
		Password:       "ignored",
		Database:       "bank",
		SSL:            crdb.SSLConfig{Mode: "verify-full", RootCert: "ca.crt"},
	}
	c, err := newConnector(cfg, logging.NewNullLogger())
	require.NoError(t, err)

	connStr := c.connectionString()
	assert.Contains(t, connStr, "@localhost:26257/bank")
	assert.Contains(t, connStr, "sslmode=disable")
	assert.NotContains(t, connStr, "ignored")
	assert.NotContains(t, connStr, "sslrootcert")
}

func TestConnector_BeforeConnectInjectsToken(t *testing.T) {
	inner := &mockTokenProvider{lifetime: time.Hour, now: time.Now}
	c := &connector{config: localConfig(), logger: logging.NewNullLogger(), tokens: inner}

	cc := &pgx.ConnConfig{}
	require.NoError(t, c.beforeConnect(context.Background(), cc))
	assert.Equal(t, "token-1", cc.Password)

	inner.err = errors.New("expired credentials")
	err := c.beforeConnect(context.Background(), cc)
	assert.ErrorContains(t, err, "failed to acquire mock token")
}

func TestConnector_BeforeConnectWithoutTokens(t *testing.T) {
	c := &connector{config: localConfig(), logger: logging.NewNullLogger()}
	cc := &pgx.ConnConfig{}
	cc.Password = "secret"

	require.NoError(t, c.beforeConnect(context.Background(), cc))
	assert.Equal(t, "secret", cc.Password)
}

func TestConnector_PoolLimits(t *testing.T) {
	tests := []struct {
		name               string
		maxConns, minConns int32
		maxIdle            time.Duration
		wantMax, wantMin   int32
		wantIdle           time.Duration
	}{
		{name: "defaults", wantMax: crdb.DefaultMaxConns, wantMin: crdb.DefaultMinConns, wantIdle: crdb.DefaultMaxConnIdleTime},
		{name: "explicit", maxConns: 20, minConns: 4, maxIdle: time.Minute, wantMax: 20, wantMin: 4, wantIdle: time.Minute},
		{name: "min clamped to max", maxConns: 2, minConns: 0, wantMax: 2, wantMin: 1, wantIdle: crdb.DefaultMaxConnIdleTime},
		{name: "default min above small max", minConns: 50, wantMax: crdb.DefaultMaxConns, wantMin: crdb.DefaultMaxConns, wantIdle: crdb.DefaultMaxConnIdleTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := localConfig()
			cfg.MaxConns, cfg.MinConns, cfg.MaxConnIdleTime = tt.maxConns, tt.minConns, tt.maxIdle
			c := &connector{config: cfg}

			gotMax, gotMin, gotIdle := c.poolLimits()
			assert.Equal(t, tt.wantMax, gotMax)
			assert.Equal(t, tt.wantMin, gotMin)
			assert.Equal(t, tt.wantIdle, gotIdle)
		})
	}
}
