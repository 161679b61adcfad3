package sqlgateway

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/denismitr/shift/migration"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type SqliteOptions struct {
	CommonOptions
}

type sqliteDialect struct{}

var _ Dialect = (*sqliteDialect)(nil)

func (sqliteDialect) Name() string {
	return "sqlite3"
}

func (sqliteDialect) BindType() int {
	return sqlx.QUESTION
}

func (sqliteDialect) InitQuery(table string) string {
	const createSQL = `CREATE TABLE IF NOT EXISTS %s (
	version CHAR(14) NOT NULL PRIMARY KEY,
	name VARCHAR(255),
	migrated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`

	return fmt.Sprintf(createSQL, quoteANSI(table))
}

func (sqliteDialect) InsertQuery(table string, d *migration.Descriptor, at time.Time) (string, []interface{}) {
	return insertQuery(quoteANSI(table), d, at)
}

func (sqliteDialect) RemoveQuery(table string, v migration.Version) (string, []interface{}) {
	return removeQuery(quoteANSI(table), v)
}

func (sqliteDialect) ReadVersionsQuery(table string) string {
	return readVersionsQuery(quoteANSI(table))
}

func (sqliteDialect) ShowTablesQuery() string {
	return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
}

func (sqliteDialect) ShowCreateTable(ctx context.Context, q sqlx.QueryerContext, table string) (string, error) {
	var stmt sql.NullString
	err := q.QueryRowxContext(ctx, "SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&stmt)
	if err != nil {
		return "", errors.Wrapf(err, "could not show create table %s", table)
	}

	return stmt.String, nil
}

// DatabaseName is the file name of the main database, or "main" when in memory
func (sqliteDialect) DatabaseName(ctx context.Context, q sqlx.QueryerContext) (string, error) {
	var file sql.NullString
	if err := q.QueryRowxContext(ctx, "SELECT file FROM pragma_database_list WHERE name = 'main'").Scan(&file); err != nil {
		return "", err
	}

	if file.String == "" {
		return "main", nil
	}

	return filepath.Base(file.String), nil
}

func (sqliteDialect) DropTableStatements(table string) DropStatements {
	return DropStatements{Drop: "DROP TABLE IF EXISTS " + quoteANSI(table)}
}

func (sqliteDialect) Tokens() migration.TokenTable {
	return migration.TokenTable{
		migration.TokenPrimaryKey:     "INTEGER PRIMARY KEY AUTOINCREMENT",
		migration.TokenInt:            "INTEGER",
		migration.TokenUnsignedInt:    "INTEGER",
		migration.TokenString:         "TEXT",
		migration.TokenTimestamps:     "created_at DATETIME NOT NULL, updated_at DATETIME NOT NULL",
		migration.TokenNullTimestamps: "created_at DATETIME NULL, updated_at DATETIME NULL",
	}
}

func (sqliteDialect) ErrorCode(err error) string {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return strconv.Itoa(int(se.ExtendedCode))
	}

	return ""
}

// IsAlreadyExists relies on the message, sqlite reports a generic SQLITE_ERROR
func (sqliteDialect) IsAlreadyExists(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}

	return se.Code == sqlite3.ErrError && strings.Contains(strings.ToLower(se.Error()), "already exists")
}

func quoteANSI(identifier string) string {
	return `"` + strings.Replace(identifier, `"`, `""`, -1) + `"`
}
