package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/migration"
	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

const (
	DefaultMySQLLockKey     = "shift_migrations"
	DefaultMySQLLockSeconds = 3
	DefaultMySQLCharset     = "utf8mb4"

	mysqlTableExists = 1050
)

type MySQLOptions struct {
	CommonOptions
	LockKey string
	LockFor int
	NoLock  bool
	Charset string
}

type mysqlDialect struct {
	charset string
}

var _ Dialect = (*mysqlDialect)(nil)

func (mysqlDialect) Name() string {
	return "mysql"
}

func (mysqlDialect) BindType() int {
	return sqlx.QUESTION
}

func (d mysqlDialect) InitQuery(table string) string {
	const createSQL = `CREATE TABLE IF NOT EXISTS %s (
	version CHAR(14) NOT NULL PRIMARY KEY,
	name VARCHAR(255),
	migrated_at TIMESTAMP NULL DEFAULT CURRENT_TIMESTAMP
) ENGINE=InnoDB CHARACTER SET=%s`

	return fmt.Sprintf(createSQL, quoteMySQL(table), d.charset)
}

func (mysqlDialect) InsertQuery(table string, d *migration.Descriptor, at time.Time) (string, []interface{}) {
	return insertQuery(quoteMySQL(table), d, at)
}

func (mysqlDialect) RemoveQuery(table string, v migration.Version) (string, []interface{}) {
	return removeQuery(quoteMySQL(table), v)
}

func (mysqlDialect) ReadVersionsQuery(table string) string {
	return readVersionsQuery(quoteMySQL(table))
}

func (mysqlDialect) ShowTablesQuery() string {
	return `SELECT table_name FROM information_schema.tables
WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE' ORDER BY table_name`
}

func (mysqlDialect) ShowCreateTable(ctx context.Context, q sqlx.QueryerContext, table string) (string, error) {
	var name, stmt string
	if err := q.QueryRowxContext(ctx, "SHOW CREATE TABLE "+quoteMySQL(table)).Scan(&name, &stmt); err != nil {
		return "", errors.Wrapf(err, "could not show create table %s", table)
	}

	return stmt, nil
}

func (mysqlDialect) DatabaseName(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var name sql.NullString
	if err := q.QueryRowxContext(ctx, "SELECT DATABASE()").Scan(&name); err != nil {
		return "", err
	}

	return name.String, nil
}

// DropTableStatements disables foreign key checks for the pinned session only
func (mysqlDialect) DropTableStatements(table string) DropStatements {
	return DropStatements{
		Before: []string{"SET FOREIGN_KEY_CHECKS = 0"},
		Drop:   "DROP TABLE IF EXISTS " + quoteMySQL(table),
		After:  []string{"SET FOREIGN_KEY_CHECKS = 1"},
	}
}

func (mysqlDialect) Tokens() migration.TokenTable {
	return migration.TokenTable{
		migration.TokenPrimaryKey:     "INT UNSIGNED NOT NULL AUTO_INCREMENT PRIMARY KEY",
		migration.TokenInt:            "INT",
		migration.TokenUnsignedInt:    "INT UNSIGNED",
		migration.TokenString:         "VARCHAR(255)",
		migration.TokenTimestamps:     "created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL",
		migration.TokenNullTimestamps: "created_at DATETIME NULL, updated_at DATETIME NULL",
	}
}

func (mysqlDialect) ErrorCode(err error) string {
	var me *mysql.MySQLError
	if errors.As(err, &me) {
		return strconv.Itoa(int(me.Number))
	}

	return ""
}

func (mysqlDialect) IsAlreadyExists(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == mysqlTableExists
}

func quoteMySQL(identifier string) string {
	return "`" + strings.Replace(identifier, "`", "``", -1) + "`"
}

type mySQLLocker struct {
	lockKey string
	lockFor int
}

var _ database.Locker = (*mySQLLocker)(nil)

func newMySQLLocker(lockKey string, lockFor int, noLock bool) database.Locker {
	if noLock {
		return database.NullLocker{}
	}

	if lockKey == "" {
		lockKey = DefaultMySQLLockKey
	}

	if lockFor <= 0 {
		lockFor = DefaultMySQLLockSeconds
	}

	return &mySQLLocker{lockKey: lockKey, lockFor: lockFor}
}

func (l *mySQLLocker) Lock(ctx context.Context, q sqlx.QueryerContext) error {
	var acquired sql.NullInt64
	if err := q.QueryRowxContext(ctx, "SELECT GET_LOCK(?, ?)", l.lockKey, l.lockFor).Scan(&acquired); err != nil {
		return errors.Wrapf(err, "could not obtain [%s] exclusive MySQL DB lock for [%d] seconds", l.lockKey, l.lockFor)
	}

	if !acquired.Valid || acquired.Int64 != 1 {
		return errors.Wrapf(database.ErrLockTimeout, "[%s] after %d seconds", l.lockKey, l.lockFor)
	}

	return nil
}

func (l *mySQLLocker) Unlock(ctx context.Context, q sqlx.QueryerContext) error {
	var released sql.NullInt64
	if err := q.QueryRowxContext(ctx, "SELECT RELEASE_LOCK(?)", l.lockKey).Scan(&released); err != nil {
		return errors.Wrapf(err, "could not release [%s] exclusive MySQL DB lock", l.lockKey)
	}

	return nil
}
