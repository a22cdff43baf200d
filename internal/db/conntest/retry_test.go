//go:build integration

package conntest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vvka-141/crdb/pkg/crdb"
)

const raiseConflict = `DO $$ BEGIN RAISE EXCEPTION 'restart transaction' USING ERRCODE = '40001'; END $$`

func createCounter(t *testing.T, pool crdb.TransactionalPool, table string) {
	t.Helper()
	ctx := context.Background()
	err := pool.AcquireFunc(ctx, func(ctx context.Context, conn crdb.TransactionalConn) error {
		if _, err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", table)); err != nil {
			return err
		}
		if _, err := conn.Exec(ctx, fmt.Sprintf("CREATE TABLE %s (id INT PRIMARY KEY, n INT NOT NULL)", table)); err != nil {
			return err
		}
		_, err := conn.Exec(ctx, fmt.Sprintf("INSERT INTO %s VALUES (1, 0)", table))
		return err
	})
	require.NoError(t, err)
}

func readCounter(t *testing.T, pool crdb.TransactionalPool, table string) int {
	t.Helper()
	n, err := crdb.RetryValue(context.Background(), pool, func(ctx context.Context, tx crdb.Tx) (int, error) {
		var n int
		err := tx.QueryRow(ctx, fmt.Sprintf("SELECT n FROM %s WHERE id = 1", table)).Scan(&n)
		return n, err
	})
	require.NoError(t, err)
	return n
}

func TestRetry_ConflictIsRetried(t *testing.T) {
	bothDrivers(t, tlsServer, func(t *testing.T, config *crdb.ConnectionConfig) {
		config.SSL.Mode = "disable"
		pool := newPool(t, config)
		createCounter(t, pool, "retry_conflict")

		attempts := 0
		err := pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
			attempts = tx.Attempt()
			if _, err := tx.Exec(ctx, "UPDATE retry_conflict SET n = n + 1 WHERE id = 1"); err != nil {
				return err
			}
			if tx.Attempt() < 3 {
				_, err := tx.Exec(ctx, raiseConflict)
				return err
			}
			return nil
		})
		require.NoError(t, err)

		assert.Equal(t, 3, attempts)
		assert.Equal(t, 1, readCounter(t, pool, "retry_conflict"), "rolled back attempts must leave no trace")
	})
}

func TestRetry_LimitExceeded(t *testing.T) {
	bothDrivers(t, tlsServer, func(t *testing.T, config *crdb.ConnectionConfig) {
		config.SSL.Mode = "disable"
		pool := newPool(t, config)
		createCounter(t, pool, "retry_limit")

		err := pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
			if _, err := tx.Exec(ctx, "UPDATE retry_limit SET n = n + 1 WHERE id = 1"); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, raiseConflict)
			return err
		}, crdb.WithLimit(3))

		var limitErr *crdb.RetryLimitExceededError
		require.ErrorAs(t, err, &limitErr)
		assert.Equal(t, 3, limitErr.Limit)
		assert.Equal(t, 3, limitErr.Last.Attempt)
		assert.Equal(t, 0, readCounter(t, pool, "retry_limit"))
	})
}

func TestRetry_FatalErrorRollsBack(t *testing.T) {
	bothDrivers(t, tlsServer, func(t *testing.T, config *crdb.ConnectionConfig) {
		config.SSL.Mode = "disable"
		pool := newPool(t, config)
		createCounter(t, pool, "retry_fatal")

		err := pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
			if _, err := tx.Exec(ctx, "UPDATE retry_fatal SET n = n + 1 WHERE id = 1"); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO retry_fatal VALUES (1, 0)")
			return err
		})

		var pgErr *pgconn.PgError
		require.ErrorAs(t, err, &pgErr)
		assert.Equal(t, "23505", pgErr.Code)
		assert.Equal(t, 0, readCounter(t, pool, "retry_fatal"))
	})
}

func TestRetry_CallbackErrorIsUnchanged(t *testing.T) {
	config := parseConfig(t, tlsServer)
	config.SSL.Mode = "disable"
	pool := newPool(t, config)

	sentinel := errors.New("insufficient funds")
	err := pool.Retry(context.Background(), func(context.Context, crdb.Tx) error {
		return sentinel
	})
	assert.Same(t, sentinel, err)
}

func TestRetry_Abort(t *testing.T) {
	config := parseConfig(t, tlsServer)
	config.SSL.Mode = "disable"
	pool := newPool(t, config)
	createCounter(t, pool, "retry_abort")

	err := pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
		if _, err := tx.Exec(ctx, "UPDATE retry_abort SET n = 42 WHERE id = 1"); err != nil {
			return err
		}
		if err := tx.Abort(ctx); err != nil {
			return err
		}
		return tx.Abort(ctx)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, readCounter(t, pool, "retry_abort"))
}

func TestRetry_StandaloneConnection(t *testing.T) {
	bothDrivers(t, tlsServer, func(t *testing.T, config *crdb.ConnectionConfig) {
		config.SSL.Mode = "disable"
		conn, err := newClient(t, config).Connect(context.Background())
		require.NoError(t, err)

		var one int
		err = conn.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
			return tx.QueryRow(ctx, "SELECT 1").Scan(&one)
		})
		require.NoError(t, err)
		assert.Equal(t, 1, one)

		assert.ErrorIs(t, conn.Release(context.Background()), crdb.ErrConnReleased)
		_, err = conn.Exec(context.Background(), "SELECT 1")
		assert.ErrorIs(t, err, crdb.ErrConnReleased)
	})
}

func TestCockroach_ForcedRetry(t *testing.T) {
	bothDrivers(t, crdbServer, func(t *testing.T, config *crdb.ConnectionConfig) {
		pool := newPool(t, config)
		createCounter(t, pool, "forced_retry")

		attempts := 0
		err := pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
			attempts = tx.Attempt()
			if _, err := tx.Exec(ctx, "UPDATE forced_retry SET n = n + 1 WHERE id = 1"); err != nil {
				return err
			}
			if tx.Attempt() == 1 {
				_, err := tx.Exec(ctx, "SELECT crdb_internal.force_retry('1h')")
				return err
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, attempts)
		assert.Equal(t, 1, readCounter(t, pool, "forced_retry"))
	})
}

func TestCockroach_ContendedIncrements(t *testing.T) {
	pool := newPool(t, parseConfig(t, crdbServer))
	createCounter(t, pool, "contended")

	const workers, increments = 8, 5
	var wg sync.WaitGroup
	errs := make(chan error, workers*increments)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range increments {
				errs <- pool.Retry(context.Background(), func(ctx context.Context, tx crdb.Tx) error {
					var n int
					if err := tx.QueryRow(ctx, "SELECT n FROM contended WHERE id = 1").Scan(&n); err != nil {
						return err
					}
					_, err := tx.Exec(ctx, "UPDATE contended SET n = $1 WHERE id = 1", n+1)
					return err
				}, crdb.WithLimit(50))
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, workers*increments, readCounter(t, pool, "contended"))
}
