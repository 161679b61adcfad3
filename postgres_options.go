package shift

import (
	"database/sql"
	"time"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/internal/database/sqlgateway"
)

type PostgresOptionFunc func(*sqlgateway.PostgresOptions, *sqlgateway.ConnectOptions)

func UsePostgres(db *sql.DB, options ...PostgresOptionFunc) OptionFunc {
	return func(m *Migrator) error {
		pgOpts := &sqlgateway.PostgresOptions{
			LockKey: sqlgateway.DefaultPostgresLockKey,
			LockFor: sqlgateway.DefaultPostgresLockSeconds,
			CommonOptions: sqlgateway.CommonOptions{
				MigrationsTable: database.DefaultMigrationsTable,
			},
		}

		connectOpts := sqlgateway.NewDefaultConnectOptions()

		for _, oFunc := range options {
			oFunc(pgOpts, connectOpts)
		}

		connector := sqlgateway.NewRetryingConnector(db, "postgres", connectOpts)
		gateway := sqlgateway.NewPostgresGateway(connector, pgOpts)

		m.closerFns = append(m.closerFns, gateway.Close)
		m.gateway = gateway

		return nil
	}
}

func WithPostgresNoLock() PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.NoLock = true
	}
}

// WithPostgresLockKey sets the key of the session level advisory lock
func WithPostgresLockKey(key int64) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.LockKey = key
	}
}

func WithPostgresLockFor(lockFor int) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.LockFor = lockFor
	}
}

func WithPostgresMigrationTable(migrationTable string) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		pgOpts.MigrationsTable = migrationTable
	}
}

func WithPostgresConnectionTimeout(timeout time.Duration) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxTimeout = timeout
	}
}

func WithPostgresMaxConnectionAttempts(attempts int) PostgresOptionFunc {
	return func(pgOpts *sqlgateway.PostgresOptions, connectOpts *sqlgateway.ConnectOptions) {
		connectOpts.MaxAttempts = attempts
	}
}
