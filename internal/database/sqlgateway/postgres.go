package sqlgateway

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/internal/retry"
	"github.com/denismitr/shift/migration"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

const (
	DefaultPostgresLockKey     = 99887766
	DefaultPostgresLockSeconds = 3

	pgDuplicateTable = "42P07"
	pgLockPollStep   = 100 * time.Millisecond
)

type PostgresOptions struct {
	CommonOptions
	LockKey int64
	LockFor int
	NoLock  bool
}

type postgresDialect struct{}

var _ Dialect = (*postgresDialect)(nil)

func (postgresDialect) Name() string {
	return "postgres"
}

func (postgresDialect) BindType() int {
	return sqlx.DOLLAR
}

func (postgresDialect) InitQuery(table string) string {
	const createSQL = `CREATE TABLE IF NOT EXISTS %s (
	version CHAR(14) NOT NULL PRIMARY KEY,
	name VARCHAR(255),
	migrated_at TIMESTAMPTZ DEFAULT CURRENT_TIMESTAMP
)`

	return fmt.Sprintf(createSQL, pq.QuoteIdentifier(table))
}

func (postgresDialect) InsertQuery(table string, d *migration.Descriptor, at time.Time) (string, []interface{}) {
	return insertQuery(pq.QuoteIdentifier(table), d, at)
}

func (postgresDialect) RemoveQuery(table string, v migration.Version) (string, []interface{}) {
	return removeQuery(pq.QuoteIdentifier(table), v)
}

func (postgresDialect) ReadVersionsQuery(table string) string {
	return readVersionsQuery(pq.QuoteIdentifier(table))
}

func (postgresDialect) ShowTablesQuery() string {
	return "SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename"
}

type pgColumn struct {
	Name      string         `db:"column_name"`
	DataType  string         `db:"data_type"`
	MaxLength sql.NullInt64  `db:"character_maximum_length"`
	Nullable  string         `db:"is_nullable"`
	Default   sql.NullString `db:"column_default"`
}

// ShowCreateTable rebuilds the statement from information_schema,
// postgres has no native equivalent of SHOW CREATE TABLE
func (postgresDialect) ShowCreateTable(ctx context.Context, q sqlx.QueryerContext, table string) (string, error) {
	const columnsSQL = `SELECT column_name, data_type, character_maximum_length, is_nullable, column_default
FROM information_schema.columns
WHERE table_schema = current_schema() AND table_name = $1
ORDER BY ordinal_position`

	const primaryKeySQL = `SELECT kcu.column_name
FROM information_schema.table_constraints tc
JOIN information_schema.key_column_usage kcu
	ON tc.constraint_name = kcu.constraint_name AND tc.table_schema = kcu.table_schema
WHERE tc.constraint_type = 'PRIMARY KEY' AND tc.table_schema = current_schema() AND tc.table_name = $1
ORDER BY kcu.ordinal_position`

	var columns []pgColumn
	if err := sqlx.SelectContext(ctx, q, &columns, columnsSQL, table); err != nil {
		return "", errors.Wrapf(err, "could not read columns of table %s", table)
	}

	if len(columns) == 0 {
		return "", errors.Errorf("table %s has no columns or does not exist", table)
	}

	var primaryKey []string
	if err := sqlx.SelectContext(ctx, q, &primaryKey, primaryKeySQL, table); err != nil {
		return "", errors.Wrapf(err, "could not read primary key of table %s", table)
	}

	var b bytes.Buffer
	b.WriteString("CREATE TABLE ")
	b.WriteString(pq.QuoteIdentifier(table))
	b.WriteString(" (\n")

	for i, c := range columns {
		b.WriteString("  ")
		b.WriteString(pq.QuoteIdentifier(c.Name))
		b.WriteString(" ")
		b.WriteString(c.DataType)
		if c.MaxLength.Valid {
			fmt.Fprintf(&b, "(%d)", c.MaxLength.Int64)
		}
		if c.Nullable == "NO" {
			b.WriteString(" NOT NULL")
		}
		if c.Default.Valid {
			b.WriteString(" DEFAULT ")
			b.WriteString(c.Default.String)
		}
		if i < len(columns)-1 || len(primaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}

	if len(primaryKey) > 0 {
		quoted := make([]string, 0, len(primaryKey))
		for _, k := range primaryKey {
			quoted = append(quoted, pq.QuoteIdentifier(k))
		}

		b.WriteString("  PRIMARY KEY (")
		b.WriteString(strings.Join(quoted, ", "))
		b.WriteString(")\n")
	}

	b.WriteString(")")

	return b.String(), nil
}

func (postgresDialect) DatabaseName(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var name string
	if err := q.QueryRowxContext(ctx, "SELECT current_database()").Scan(&name); err != nil {
		return "", err
	}

	return name, nil
}

func (postgresDialect) DropTableStatements(table string) DropStatements {
	return DropStatements{Drop: "DROP TABLE IF EXISTS " + pq.QuoteIdentifier(table) + " CASCADE"}
}

func (postgresDialect) Tokens() migration.TokenTable {
	return migration.TokenTable{
		migration.TokenPrimaryKey:     "BIGSERIAL PRIMARY KEY",
		migration.TokenInt:            "INTEGER",
		migration.TokenUnsignedInt:    "BIGINT",
		migration.TokenString:         "VARCHAR(255)",
		migration.TokenTimestamps:     "created_at TIMESTAMPTZ NOT NULL, updated_at TIMESTAMPTZ NOT NULL",
		migration.TokenNullTimestamps: "created_at TIMESTAMPTZ NULL, updated_at TIMESTAMPTZ NULL",
	}
}

func (postgresDialect) ErrorCode(err error) string {
	var pe *pq.Error
	if errors.As(err, &pe) {
		return string(pe.Code)
	}

	return ""
}

func (postgresDialect) IsAlreadyExists(err error) bool {
	var pe *pq.Error
	return errors.As(err, &pe) && pe.Code == pgDuplicateTable
}

type postgresLocker struct {
	lockKey int64
	lockFor int
}

var _ database.Locker = (*postgresLocker)(nil)

func newPostgresLocker(lockKey int64, lockFor int, noLock bool) database.Locker {
	if noLock {
		return database.NullLocker{}
	}

	if lockKey == 0 {
		lockKey = DefaultPostgresLockKey
	}

	if lockFor <= 0 {
		lockFor = DefaultPostgresLockSeconds
	}

	return &postgresLocker{lockKey: lockKey, lockFor: lockFor}
}

// Lock polls pg_try_advisory_lock until lockFor seconds have passed
func (l *postgresLocker) Lock(ctx context.Context, q sqlx.QueryerContext) error {
	attempts := int(time.Duration(l.lockFor) * time.Second / pgLockPollStep)

	_, err := retry.Start(ctx, retry.ConstantAttempts(pgLockPollStep, attempts), func(attempt int) (bool, error) {
		var acquired bool
		if err := q.QueryRowxContext(ctx, "SELECT pg_try_advisory_lock($1)", l.lockKey).Scan(&acquired); err != nil {
			return false, errors.Wrapf(err, "could not obtain [%d] exclusive Postgres DB lock", l.lockKey)
		}

		if !acquired {
			return false, retry.Error(database.ErrLockTimeout, attempt)
		}

		return true, nil
	})

	if errors.Is(err, retry.ErrTooManyAttempts) {
		return errors.Wrapf(database.ErrLockTimeout, "[%d] after %d seconds", l.lockKey, l.lockFor)
	}

	return err
}

func (l *postgresLocker) Unlock(ctx context.Context, q sqlx.QueryerContext) error {
	var released bool
	if err := q.QueryRowxContext(ctx, "SELECT pg_advisory_unlock($1)", l.lockKey).Scan(&released); err != nil {
		return errors.Wrapf(err, "could not release [%d] exclusive Postgres DB lock", l.lockKey)
	}

	return nil
}
