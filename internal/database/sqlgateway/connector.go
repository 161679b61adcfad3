package sqlgateway

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/denismitr/shift/internal/retry"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultConnectionAttempts    = 100
	DefaultConnectionTimeout     = 60 * time.Second
	DefaultConnectionAttemptStep = 2 * time.Second
)

type ConnectOptions struct {
	MaxAttempts int
	MaxTimeout  time.Duration
	RetryStep   time.Duration
}

func NewDefaultConnectOptions() *ConnectOptions {
	return &ConnectOptions{
		MaxAttempts: DefaultConnectionAttempts,
		MaxTimeout:  DefaultConnectionTimeout,
		RetryStep:   DefaultConnectionAttemptStep,
	}
}

// Connector hands out the one connection every gateway call goes through
type Connector interface {
	Connect(ctx context.Context) (*sqlx.Conn, error)
	Close() error
}

type RetryingConnector struct {
	mu      sync.Mutex
	options *ConnectOptions
	db      *sqlx.DB
	conn    *sqlx.Conn
}

var _ Connector = (*RetryingConnector)(nil)

func NewRetryingConnector(db *sql.DB, driverName string, options *ConnectOptions) *RetryingConnector {
	if options == nil {
		options = NewDefaultConnectOptions()
	}

	return &RetryingConnector{db: sqlx.NewDb(db, driverName), options: options}
}

func (c *RetryingConnector) Timeout() time.Duration {
	return c.options.MaxTimeout
}

// Connect pins a single connection, retrying until the database is reachable
func (c *RetryingConnector) Connect(ctx context.Context) (*sqlx.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	if c.options.MaxTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.options.MaxTimeout)
		defer cancel()
	}

	conn, err := retry.Incremental(ctx, c.options.RetryStep, c.options.MaxAttempts, func(attempt int) (*sqlx.Conn, error) {
		conn, err := c.db.Connx(ctx)
		if err != nil {
			return nil, retry.Error(errors.Wrap(err, "could not establish DB connection"), attempt)
		}

		if err := conn.PingContext(ctx); err != nil {
			_ = conn.Close()
			return nil, retry.Error(errors.Wrap(err, "db ping failed"), attempt)
		}

		return conn, nil
	})

	if err != nil {
		return nil, err
	}

	c.conn = conn

	return conn, nil
}

func (c *RetryingConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return errors.Wrap(err, "retrying connector could not close the connection")
	}

	return nil
}
