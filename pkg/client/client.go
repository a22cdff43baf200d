// Package client is the entry point of the library: it turns a connection
// configuration into connections and pools whose units of work are retried on
// serialization conflicts.
//
// Example:
//
//	c, err := client.New(cfg, client.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	defer c.Close()
//
//	pool, err := c.Pool(ctx)
//	if err != nil {
//	    return err
//	}
//	defer pool.Close()
//
//	err = pool.Retry(ctx, func(ctx context.Context, tx crdb.Tx) error {
//	    _, err := tx.Exec(ctx, "UPDATE accounts SET balance = balance - $1 WHERE id = $2", amount, from)
//	    return err
//	})
package client

import (
	"context"
	"errors"
	"fmt"

	"github.com/vvka-141/crdb/internal/db"
	"github.com/vvka-141/crdb/internal/logging"
	"github.com/vvka-141/crdb/internal/retry"
	"github.com/vvka-141/crdb/pkg/crdb"
)

// DriverFactory builds the driver a client uses for all its connections.
type DriverFactory func(config *crdb.ConnectionConfig, logger crdb.Logger) (crdb.Driver, error)

// Client owns one resolved driver and the coordinator shared by every
// connection it hands out.
//
// Thread-Safety: Safe for concurrent use.
type Client struct {
	driver      crdb.Driver
	coordinator *retry.Coordinator
	logger      crdb.Logger
}

type options struct {
	logger        crdb.Logger
	observer      crdb.Observer
	classifier    crdb.ErrorClassifier
	driverFactory DriverFactory
}

// Option configures a Client.
type Option func(*options)

// WithLogger sets the logger for connection and transaction events.
func WithLogger(logger crdb.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver sets the observer notified of attempts, conflicts and outcomes.
func WithObserver(observer crdb.Observer) Option {
	return func(o *options) { o.observer = observer }
}

// WithClassifier replaces the serialization-conflict classifier.
func WithClassifier(classifier crdb.ErrorClassifier) Option {
	return func(o *options) { o.classifier = classifier }
}

// WithDriverFactory replaces the driver selection. The default picks pgx, or
// database/sql when config.Native is set.
func WithDriverFactory(factory DriverFactory) Option {
	return func(o *options) { o.driverFactory = factory }
}

// New validates config and resolves the driver once for the client's lifetime.
func New(config *crdb.ConnectionConfig, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("connection config is nil: %w", crdb.ErrInvalidConfig)
	}

	o := options{
		logger:        logging.NewNullLogger(),
		observer:      crdb.NopObserver{},
		driverFactory: db.NewDriver,
	}
	for _, opt := range opts {
		opt(&o)
	}

	driver, err := o.driverFactory(config, o.logger)
	if err != nil {
		return nil, err
	}

	if config.Discovery != nil {
		o.logger.Verbose("discovery option set; node discovery is not performed, connecting to %s directly", config.Host)
	}

	coordinatorOpts := []retry.CoordinatorOption{
		retry.WithLogger(o.logger),
		retry.WithObserver(o.observer),
	}
	if o.classifier != nil {
		coordinatorOpts = append(coordinatorOpts, retry.WithClassifier(o.classifier))
	}

	return &Client{
		driver:      driver,
		coordinator: retry.NewCoordinator(coordinatorOpts...),
		logger:      o.logger,
	}, nil
}

// Open parses connStr and creates a Client for it.
func Open(connStr string, opts ...Option) (*Client, error) {
	config, err := db.ParseConnectionString(connStr)
	if err != nil {
		return nil, err
	}
	return New(config, opts...)
}

// Connect establishes a standalone connection. Releasing it, or running
// Retry on it, closes the connection.
func (c *Client) Connect(ctx context.Context) (crdb.TransactionalConn, error) {
	conn, err := c.driver.Connect(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Verbose("connected using the %s driver", c.driver.Name())
	return db.NewTransactionalConn(conn, c.coordinator), nil
}

// Pool establishes a connection pool whose connections carry Retry.
func (c *Client) Pool(ctx context.Context) (crdb.TransactionalPool, error) {
	pool, err := c.driver.Pool(ctx)
	if err != nil {
		return nil, err
	}
	c.logger.Verbose("pool ready using the %s driver", c.driver.Name())
	return db.NewTransactionalPool(pool, c.coordinator), nil
}

// Driver reports the name of the resolved driver.
func (c *Client) Driver() string {
	return c.driver.Name()
}

// Close releases driver-level resources. Connections and pools handed out
// earlier must be released or closed by their holders.
func (c *Client) Close() error {
	return c.driver.Close()
}

// Connect is a shorthand for New followed by Client.Connect. Releasing the
// connection also closes the client.
func Connect(ctx context.Context, config *crdb.ConnectionConfig, opts ...Option) (crdb.TransactionalConn, error) {
	c, err := New(config, opts...)
	if err != nil {
		return nil, err
	}
	conn, err := c.driver.Connect(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return db.NewTransactionalConn(&ownedConn{Conn: conn, client: c}, c.coordinator), nil
}

// Pool is a shorthand for New followed by Client.Pool. Closing the pool also
// closes the client.
func Pool(ctx context.Context, config *crdb.ConnectionConfig, opts ...Option) (crdb.TransactionalPool, error) {
	c, err := New(config, opts...)
	if err != nil {
		return nil, err
	}
	pool, err := c.driver.Pool(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return db.NewTransactionalPool(&ownedPool{Pool: pool, client: c}, c.coordinator), nil
}

type ownedConn struct {
	crdb.Conn
	client *Client
}

func (o *ownedConn) Release(ctx context.Context) error {
	return errors.Join(o.Conn.Release(ctx), o.client.Close())
}

type ownedPool struct {
	crdb.Pool
	client *Client
}

func (o *ownedPool) Close() {
	o.Pool.Close()
	if err := o.client.Close(); err != nil {
		o.client.logger.Error("closing driver: %v", err)
	}
}
