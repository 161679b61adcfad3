package migration

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/denismitr/shift/internal/logger"
)

// Executor is satisfied by *sql.DB, *sql.Conn, *sql.Tx and their sqlx wrappers
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// ErrorCoder extracts a backend native error code, or returns ""
type ErrorCoder func(err error) string

// Session is handed to a unit body and issues its statements
// against the transaction of the current batch
type Session struct {
	ex      Executor
	lg      logger.Logger
	tokens  TokenTable
	coder   ErrorCoder
	version Version
	rows    int64
}

func NewSession(ex Executor, lg logger.Logger, tokens TokenTable, coder ErrorCoder) *Session {
	if lg == nil {
		lg = logger.NullLogger{}
	}

	return &Session{ex: ex, lg: lg, tokens: tokens, coder: coder}
}

// Exec runs a schema changing statement
func (s *Session) Exec(ctx context.Context, stmt string, args ...interface{}) error {
	_, err := s.exec(ctx, stmt, args...)
	return err
}

// Query runs a data manipulating statement and returns the affected rows
func (s *Session) Query(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	res, err := s.exec(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		// not every driver reports affected rows for every statement
		s.lg.Debugf("affected rows are not available for [%s]: %v", abbreviate(stmt), err)
		return 0, nil
	}

	s.rows += affected

	return affected, nil
}

// TimedExec is Exec that reports the elapsed time
func (s *Session) TimedExec(ctx context.Context, stmt string, args ...interface{}) error {
	started := time.Now()
	s.lg.Infof("   -> %s", abbreviate(stmt))

	if err := s.Exec(ctx, stmt, args...); err != nil {
		return err
	}

	s.lg.Infof("      %.4fs", time.Since(started).Seconds())

	return nil
}

// TimedQuery is Query that reports the elapsed time and affected rows
func (s *Session) TimedQuery(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	started := time.Now()
	s.lg.Infof("   -> %s", abbreviate(stmt))

	affected, err := s.Query(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}

	s.lg.Infof("      %.4fs, %d rows", time.Since(started).Seconds(), affected)

	return affected, nil
}

// ExecAll runs every statement with Exec, stopping at the first failure
func (s *Session) ExecAll(ctx context.Context, statements []string) error {
	for _, stmt := range statements {
		if err := s.Exec(ctx, stmt); err != nil {
			return err
		}
	}

	return nil
}

// RowsAffected is the total reported by Query calls of the current unit
func (s *Session) RowsAffected() int64 {
	return s.rows
}

func (s *Session) bind(v Version) {
	s.version = v
	s.rows = 0
}

func (s *Session) exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	query := Substitute(stmt, s.tokens)
	s.lg.SQL(query, args...)

	res, err := s.ex.ExecContext(ctx, query, args...)
	if err != nil {
		execErr := &ExecutionError{Version: s.version, Statement: query, Err: err}
		if s.coder != nil {
			execErr.Code = s.coder(err)
		}

		return nil, execErr
	}

	return res, nil
}

func abbreviate(stmt string) string {
	const max = 80

	stmt = strings.Join(strings.Fields(stmt), " ")
	if len(stmt) <= max {
		return stmt
	}

	return stmt[:max-3] + "..."
}
