package sqlgateway

import (
	"context"
	"strings"
	"time"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/internal/logger"
	"github.com/denismitr/shift/migration"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var ErrBookkeepingTable = errors.New("the migrations table cannot be dropped as an application table")

type CommonOptions struct {
	MigrationsTable string
}

func (o CommonOptions) table() string {
	if o.MigrationsTable == "" {
		return database.DefaultMigrationsTable
	}

	return o.MigrationsTable
}

// SQLGateway implements the version repository and the schema
// operations on top of one pinned connection
type SQLGateway struct {
	connector Connector
	dialect   Dialect
	locker    database.Locker
	table     string
	lg        logger.Logger
	clock     migration.ClockFunc
}

var _ database.Gateway = (*SQLGateway)(nil)

func NewMySQLGateway(connector Connector, opts *MySQLOptions) *SQLGateway {
	if opts == nil {
		opts = &MySQLOptions{}
	}

	charset := opts.Charset
	if charset == "" {
		charset = DefaultMySQLCharset
	}

	return newGateway(
		connector,
		mysqlDialect{charset: charset},
		newMySQLLocker(opts.LockKey, opts.LockFor, opts.NoLock),
		opts.table(),
	)
}

func NewPostgresGateway(connector Connector, opts *PostgresOptions) *SQLGateway {
	if opts == nil {
		opts = &PostgresOptions{}
	}

	return newGateway(
		connector,
		postgresDialect{},
		newPostgresLocker(opts.LockKey, opts.LockFor, opts.NoLock),
		opts.table(),
	)
}

// NewSqliteGateway never locks, concurrent writers are serialized by the database file lock
func NewSqliteGateway(connector Connector, opts *SqliteOptions) *SQLGateway {
	if opts == nil {
		opts = &SqliteOptions{}
	}

	return newGateway(connector, sqliteDialect{}, database.NullLocker{}, opts.table())
}

func newGateway(connector Connector, d Dialect, l database.Locker, table string) *SQLGateway {
	return &SQLGateway{
		connector: connector,
		dialect:   d,
		locker:    l,
		table:     table,
		lg:        logger.NullLogger{},
		clock:     time.Now,
	}
}

func (g *SQLGateway) SetLogger(lg logger.Logger) {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	g.lg = lg
}

func (g *SQLGateway) MigrationsTable() string {
	return g.table
}

func (g *SQLGateway) Dialect() string {
	return g.dialect.Name()
}

func (g *SQLGateway) Tokens() migration.TokenTable {
	return g.dialect.Tokens()
}

func (g *SQLGateway) ErrorCode(err error) string {
	return g.dialect.ErrorCode(err)
}

func (g *SQLGateway) EnsureInitialized(ctx context.Context) error {
	conn, err := g.conn(ctx)
	if err != nil {
		return migration.NewStorageError("initialize", "", err)
	}

	q := g.dialect.InitQuery(g.table)
	g.lg.SQL(q)

	if _, err := conn.ExecContext(ctx, q); err != nil {
		if g.dialect.IsAlreadyExists(err) {
			g.lg.Debugf("migrations table %s already exists", g.table)
			return nil
		}

		return migration.NewStorageError("initialize", "", errors.Wrapf(err, "could not create migrations table %s", g.table))
	}

	return nil
}

func (g *SQLGateway) ReadVersions(ctx context.Context) (migration.Versions, error) {
	conn, err := g.conn(ctx)
	if err != nil {
		return nil, migration.NewStorageError("read", "", err)
	}

	q := g.dialect.ReadVersionsQuery(g.table)
	g.lg.SQL(q)

	var raw []string
	if err := conn.SelectContext(ctx, &raw, q); err != nil {
		return nil, migration.NewStorageError("read", "", errors.Wrapf(err, "could not read versions from %s", g.table))
	}

	result := make(migration.Versions, 0, len(raw))
	for _, s := range raw {
		v, err := migration.ParseVersion(strings.TrimSpace(s))
		if err != nil {
			return nil, migration.NewStorageError("read", "", err)
		}

		result = append(result, v)
	}

	return result, nil
}

func (g *SQLGateway) ShowTables(ctx context.Context) ([]string, error) {
	conn, err := g.conn(ctx)
	if err != nil {
		return nil, err
	}

	q := g.dialect.ShowTablesQuery()
	g.lg.SQL(q)

	var tables []string
	if err := conn.SelectContext(ctx, &tables, q); err != nil {
		return nil, errors.Wrap(err, "could not list all tables")
	}

	result := make([]string, 0, len(tables))
	for _, t := range tables {
		if g.isBookkeeping(t) {
			continue
		}

		result = append(result, t)
	}

	return result, nil
}

func (g *SQLGateway) ShowCreateTable(ctx context.Context, table string) (string, error) {
	if g.isBookkeeping(table) {
		return "", errors.Wrapf(ErrBookkeepingTable, "%s", table)
	}

	conn, err := g.conn(ctx)
	if err != nil {
		return "", err
	}

	return g.dialect.ShowCreateTable(ctx, conn, table)
}

// DropTable runs outside of any transaction
func (g *SQLGateway) DropTable(ctx context.Context, table string) (err error) {
	if g.isBookkeeping(table) {
		return errors.Wrapf(ErrBookkeepingTable, "%s", table)
	}

	conn, err := g.conn(ctx)
	if err != nil {
		return err
	}

	ds := g.dialect.DropTableStatements(table)

	defer func() {
		for _, stmt := range ds.After {
			g.lg.SQL(stmt)
			if _, restoreErr := conn.ExecContext(context.WithoutCancel(ctx), stmt); restoreErr != nil {
				if err == nil {
					err = errors.Wrapf(restoreErr, "could not restore session after dropping %s", table)
				} else {
					g.lg.Warnf("could not restore session after dropping %s: %v", table, restoreErr)
				}
			}
		}
	}()

	for _, stmt := range append(ds.Before, ds.Drop) {
		g.lg.SQL(stmt)
		if _, err := conn.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "could not drop table %s", table)
		}
	}

	return nil
}

func (g *SQLGateway) DatabaseName(ctx context.Context) (string, error) {
	conn, err := g.conn(ctx)
	if err != nil {
		return "", err
	}

	return g.dialect.DatabaseName(ctx, conn)
}

func (g *SQLGateway) Lock(ctx context.Context) error {
	conn, err := g.conn(ctx)
	if err != nil {
		return err
	}

	if err := g.locker.Lock(ctx, conn); err != nil {
		return errors.Wrap(err, "database lock failed")
	}

	return nil
}

func (g *SQLGateway) Unlock(ctx context.Context) error {
	conn, err := g.conn(ctx)
	if err != nil {
		return err
	}

	return g.locker.Unlock(ctx, conn)
}

func (g *SQLGateway) Close() error {
	return g.connector.Close()
}

func (g *SQLGateway) conn(ctx context.Context) (*sqlx.Conn, error) {
	conn, err := g.connector.Connect(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "could not connect to the database")
	}

	return conn, nil
}

func (g *SQLGateway) rebind(q string) string {
	return sqlx.Rebind(g.dialect.BindType(), q)
}

func (g *SQLGateway) isBookkeeping(table string) bool {
	return strings.EqualFold(table, g.table)
}
