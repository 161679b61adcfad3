package sqlgateway

import (
	"context"
	"database/sql"
	"strings"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/migration"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

var (
	ErrTxDeadlock          = errors.New("transaction deadlock occurred")
	ErrVersionNotInstalled = errors.New("migration version is not installed")
)

type sqlTx struct {
	tx *sqlx.Tx
	g  *SQLGateway
}

var _ database.Tx = (*sqlTx)(nil)

func (t *sqlTx) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return t.tx.ExecContext(ctx, query, args...)
}

func (t *sqlTx) Record(ctx context.Context, d *migration.Descriptor) error {
	q, args := t.g.dialect.InsertQuery(t.g.table, d, t.g.clock())
	q = t.g.rebind(q)
	t.g.lg.SQL(q, args...)

	if _, err := t.tx.ExecContext(ctx, q, args...); err != nil {
		return migration.NewStorageError("record", d.Version, err)
	}

	return nil
}

// Remove fails when nothing was deleted, an absent version means the
// bookkeeping went out of sync
func (t *sqlTx) Remove(ctx context.Context, v migration.Version) error {
	q, args := t.g.dialect.RemoveQuery(t.g.table, v)
	q = t.g.rebind(q)
	t.g.lg.SQL(q, args...)

	res, err := t.tx.ExecContext(ctx, q, args...)
	if err != nil {
		return migration.NewStorageError("remove", v, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return migration.NewStorageError("remove", v, err)
	}

	if affected == 0 {
		return migration.NewStorageError("remove", v, ErrVersionNotInstalled)
	}

	return nil
}

// InTransaction commits when f succeeds and rolls back on any error
func (g *SQLGateway) InTransaction(ctx context.Context, f func(tx database.Tx) error) error {
	conn, err := g.conn(ctx)
	if err != nil {
		return err
	}

	txx, err := conn.BeginTxx(ctx, &sql.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "could not start transaction")
	}

	if err := f(&sqlTx{tx: txx, g: g}); err != nil {
		if rbErr := txx.Rollback(); rbErr != nil {
			return errors.Wrap(err, " : ROLLBACK : "+rbErr.Error())
		}

		return err
	}

	if err := txx.Commit(); err != nil {
		if isDeadlock(err) {
			return errors.Wrapf(ErrTxDeadlock, "on commit: %s", err.Error())
		}

		return errors.Wrap(err, "could not commit transaction")
	}

	return nil
}

func isDeadlock(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "deadlock")
}
