package db

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"sync"
	"time"

	"cloud.google.com/go/cloudsqlconn"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/vvka-141/crdb/internal/retry"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// Driver names reported by crdb.Driver.Name.
const (
	DriverPgx      = "pgx"
	DriverDatabase = "database/sql"
)

// NewDriver resolves the driver for config: the pgx driver by default, the
// database/sql driver when config.Native is set.
func NewDriver(config *crdb.ConnectionConfig, logger crdb.Logger) (crdb.Driver, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c, err := newConnector(config, logger)
	if err != nil {
		return nil, err
	}

	if config.Native {
		return &sqlDriver{connector: c, openDB: stdlib.OpenDB}, nil
	}
	return &pgxDriver{connector: c}, nil
}

// connector owns what every physical connection of one configuration needs:
// the token source, the Cloud SQL dialer and the connect-retry executor.
type connector struct {
	config   *crdb.ConnectionConfig
	logger   crdb.Logger
	tokens   TokenProvider
	executor *retry.Executor

	dialerMu sync.Mutex
	dialer   *cloudsqlconn.Dialer
}

func newConnector(config *crdb.ConnectionConfig, logger crdb.Logger) (*connector, error) {
	tokens, err := newTokenProvider(config)
	if err != nil {
		return nil, err
	}

	executor := retry.NewConnectExecutor(config.ConnectRetries).
		WithOnRetry(func(attempt int, err error, delay time.Duration) {
			logger.Info("connection attempt %d to %s failed: %v; retrying in %v", attempt+1, config.Host, err, delay)
		})

	return &connector{
		config:   config,
		logger:   logger,
		tokens:   tokens,
		executor: executor,
	}, nil
}

// connectionString is the URI pgx parses. Cloud SQL connections are dialed
// by instance name, so host and TLS are the dialer's business.
func (c *connector) connectionString() string {
	if c.config.AuthMethod != crdb.AuthMethodGoogleIAM {
		return driverConnectionString(c.config)
	}
	cfg := *c.config
	cfg.Host = "localhost"
	cfg.Password = ""
	cfg.SSL = crdb.SSLConfig{Mode: "disable"}
	return driverConnectionString(&cfg)
}

// prepare applies loaded TLS material, notice logging and the Cloud SQL dial
// hook to a parsed connection config.
func (c *connector) prepare(ctx context.Context, cc *pgx.ConnConfig) error {
	if c.config.SSL.HasMaterial() && c.config.AuthMethod != crdb.AuthMethodGoogleIAM {
		tlsCfg, err := NewTLSConfig(c.config.SSL, c.config.Host)
		if err != nil {
			return err
		}
		applyTLS(&cc.Config, tlsCfg)
	}

	cc.OnNotice = func(_ *pgconn.PgConn, notice *pgconn.Notice) {
		c.logger.Info("%s: %s", notice.Severity, notice.Message)
	}

	if c.config.AuthMethod == crdb.AuthMethodGoogleIAM {
		dialer, err := c.cloudSQLDialer(ctx)
		if err != nil {
			return err
		}
		instance := c.config.GoogleInstance
		cc.DialFunc = func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.Dial(ctx, instance)
		}
		cc.LookupFunc = func(_ context.Context, host string) ([]string, error) {
			return []string{host}, nil
		}
	}
	return nil
}

func (c *connector) cloudSQLDialer(ctx context.Context) (*cloudsqlconn.Dialer, error) {
	c.dialerMu.Lock()
	defer c.dialerMu.Unlock()

	if c.dialer != nil {
		return c.dialer, nil
	}
	dialer, err := cloudsqlconn.NewDialer(ctx, cloudsqlconn.WithIAMAuthN())
	if err != nil {
		return nil, fmt.Errorf("failed to create Cloud SQL dialer: %w", err)
	}
	c.dialer = dialer
	return dialer, nil
}

// beforeConnect injects a cloud token as the password of each new physical
// connection.
func (c *connector) beforeConnect(ctx context.Context, cc *pgx.ConnConfig) error {
	if c.tokens == nil {
		return nil
	}
	token, expiresOn, err := c.tokens.GetToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire %s token: %w", c.tokens, err)
	}
	if remaining := time.Until(expiresOn); remaining < tokenRefreshMargin {
		c.logger.Info("%s token expires in %v", c.tokens, remaining.Round(time.Second))
	}
	cc.Password = token
	return nil
}

// connect runs op under the connect-retry executor and wraps the final
// failure as a ConnectionError.
func (c *connector) connect(ctx context.Context, op func(ctx context.Context) error) error {
	err := c.executor.Execute(ctx, func(ctx context.Context) error {
		if err := op(ctx); err != nil {
			return wrapConnectionError(err, c.config.Host, c.port(), c.config.Database)
		}
		return nil
	})
	if err != nil {
		return &crdb.ConnectionError{Op: "connect", Err: err}
	}
	return nil
}

func (c *connector) port() int {
	if c.config.Port == 0 {
		return crdb.DefaultPort
	}
	return c.config.Port
}

func (c *connector) poolLimits() (maxConns, minConns int32, maxIdle time.Duration) {
	maxConns, minConns, maxIdle = crdb.DefaultMaxConns, crdb.DefaultMinConns, crdb.DefaultMaxConnIdleTime
	if c.config.MaxConns > 0 {
		maxConns = c.config.MaxConns
	}
	if c.config.MinConns > 0 {
		minConns = c.config.MinConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}
	if c.config.MaxConnIdleTime > 0 {
		maxIdle = c.config.MaxConnIdleTime
	}
	return maxConns, minConns, maxIdle
}

func (c *connector) Close() error {
	c.dialerMu.Lock()
	defer c.dialerMu.Unlock()
	if c.dialer != nil {
		err := c.dialer.Close()
		c.dialer = nil
		return err
	}
	return nil
}

// pgxDriver connects through pgx and pgxpool.
type pgxDriver struct {
	*connector
}

func (d *pgxDriver) Name() string { return DriverPgx }

func (d *pgxDriver) Connect(ctx context.Context) (crdb.Conn, error) {
	var conn *pgx.Conn
	err := d.connect(ctx, func(ctx context.Context) error {
		cc, err := pgx.ParseConfig(d.connectionString())
		if err != nil {
			return fmt.Errorf("failed to parse connection config: %w", err)
		}
		if err := d.prepare(ctx, cc); err != nil {
			return err
		}
		if err := d.beforeConnect(ctx, cc); err != nil {
			return err
		}
		conn, err = pgx.ConnectConfig(ctx, cc)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &pgxConn{conn: conn}, nil
}

func (d *pgxDriver) Pool(ctx context.Context) (crdb.Pool, error) {
	var pool *pgxpool.Pool
	err := d.connect(ctx, func(ctx context.Context) error {
		poolConfig, err := pgxpool.ParseConfig(d.connectionString())
		if err != nil {
			return fmt.Errorf("failed to parse connection config: %w", err)
		}
		if err := d.prepare(ctx, poolConfig.ConnConfig); err != nil {
			return err
		}
		poolConfig.MaxConns, poolConfig.MinConns, poolConfig.MaxConnIdleTime = d.poolLimits()
		poolConfig.BeforeConnect = d.beforeConnect

		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return err
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &poolAdapter{pool: pool}, nil
}

// sqlDriver connects through database/sql with the pgx stdlib adapter.
type sqlDriver struct {
	*connector
	openDB func(pgx.ConnConfig, ...stdlib.OptionOpenDB) *sql.DB
}

func (d *sqlDriver) Name() string { return DriverDatabase }

func (d *sqlDriver) open(ctx context.Context) (*sql.DB, error) {
	cc, err := pgx.ParseConfig(d.connectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection config: %w", err)
	}
	if err := d.prepare(ctx, cc); err != nil {
		return nil, err
	}
	return d.openDB(*cc, stdlib.OptionBeforeConnect(d.beforeConnect)), nil
}

// Connect opens a private single-connection DB; releasing the connection
// closes it.
func (d *sqlDriver) Connect(ctx context.Context) (crdb.Conn, error) {
	var conn *sqlConn
	err := d.connect(ctx, func(ctx context.Context) error {
		db, err := d.open(ctx)
		if err != nil {
			return err
		}
		db.SetMaxOpenConns(1)

		c, err := db.Conn(ctx)
		if err != nil {
			_ = db.Close()
			return err
		}
		conn = &sqlConn{conn: c, owner: db}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *sqlDriver) Pool(ctx context.Context) (crdb.Pool, error) {
	var db *sql.DB
	err := d.connect(ctx, func(ctx context.Context) error {
		var err error
		db, err = d.open(ctx)
		if err != nil {
			return err
		}
		maxConns, minConns, maxIdle := d.poolLimits()
		db.SetMaxOpenConns(int(maxConns))
		db.SetMaxIdleConns(int(max(minConns, 1)))
		db.SetConnMaxIdleTime(maxIdle)

		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sqlPool{db: db}, nil
}

var (
	_ crdb.Driver = (*pgxDriver)(nil)
	_ crdb.Driver = (*sqlDriver)(nil)
)
