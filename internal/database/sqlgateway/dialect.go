package sqlgateway

import (
	"context"
	"fmt"
	"time"

	"github.com/denismitr/shift/migration"
	"github.com/jmoiron/sqlx"
)

// Dialect builds the backend specific queries of the gateway.
// Queries use ? placeholders and are rebound with BindType.
type Dialect interface {
	Name() string
	BindType() int

	InitQuery(table string) string
	InsertQuery(table string, d *migration.Descriptor, at time.Time) (string, []interface{})
	RemoveQuery(table string, v migration.Version) (string, []interface{})
	ReadVersionsQuery(table string) string

	ShowTablesQuery() string
	ShowCreateTable(ctx context.Context, q sqlx.QueryerContext, table string) (string, error)
	DatabaseName(ctx context.Context, q sqlx.QueryerContext) (string, error)
	DropTableStatements(table string) DropStatements

	Tokens() migration.TokenTable
	ErrorCode(err error) string
	IsAlreadyExists(err error) bool
}

// DropStatements is a drop wrapped in session settings. After runs even
// when Before or Drop fail, so the pinned session is always restored.
type DropStatements struct {
	Before []string
	Drop   string
	After  []string
}

const (
	insertVersionSQL = "INSERT INTO %s (version, name, migrated_at) VALUES (?, ?, ?)"
	removeVersionSQL = "DELETE FROM %s WHERE version = ?"
	readVersionsSQL  = "SELECT version FROM %s ORDER BY version ASC"
)

func insertQuery(quoted string, d *migration.Descriptor, at time.Time) (string, []interface{}) {
	return fmt.Sprintf(insertVersionSQL, quoted), []interface{}{d.Version.String(), d.Name, at.UTC()}
}

func removeQuery(quoted string, v migration.Version) (string, []interface{}) {
	return fmt.Sprintf(removeVersionSQL, quoted), []interface{}{v.String()}
}

func readVersionsQuery(quoted string) string {
	return fmt.Sprintf(readVersionsSQL, quoted)
}
