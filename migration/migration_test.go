package migration

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/denismitr/shift/internal/logger"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	query string
	args  []interface{}
}

type fakeResult struct {
	rows    int64
	rowsErr error
}

func (r fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.rows, r.rowsErr }

type fakeExecutor struct {
	calls   []execCall
	failOn  string
	rows    int64
	rowsErr error
}

func (f *fakeExecutor) ExecContext(_ context.Context, query string, args ...interface{}) (sql.Result, error) {
	f.calls = append(f.calls, execCall{query: query, args: args})
	if f.failOn != "" && query == f.failOn {
		return nil, errors.New("syntax error near table")
	}

	return fakeResult{rows: f.rows, rowsErr: f.rowsErr}, nil
}

type oneWayUnit struct {
	Irreversible
}

func (oneWayUnit) Up(context.Context, *Session) error {
	return nil
}

func TestParseVersion(t *testing.T) {
	t.Parallel()

	valid := []string{"20200101000000", "19991231235959", "00000000000001"}
	for _, s := range valid {
		v, err := ParseVersion(s)
		require.NoError(t, err, s)
		assert.Equal(t, Version(s), v)
	}

	invalid := []string{"", "2020010100000", "202001010000001", "2020010100000a", "1596897167", " 20200101000000"}
	for _, s := range invalid {
		_, err := ParseVersion(s)
		assert.True(t, errors.Is(err, ErrInvalidVersionFormat), s)
	}
}

func TestGenerateVersion(t *testing.T) {
	t.Parallel()

	clock := func() time.Time {
		return time.Date(2020, 8, 8, 14, 32, 47, 0, time.UTC)
	}

	v := GenerateVersion(clock)
	assert.Equal(t, Version("20200808143247"), v)

	ts, err := v.Time()
	require.NoError(t, err)
	assert.True(t, ts.Equal(clock()))
}

func TestVersions(t *testing.T) {
	t.Parallel()

	vs := Versions{"20200103000000", "20200101000000", "20200102000000"}
	sorted := vs.Sorted()

	assert.Equal(t, Versions{"20200101000000", "20200102000000", "20200103000000"}, sorted)
	assert.Equal(t, Version("20200103000000"), vs[0], "original slice must be left untouched")
	assert.True(t, vs.Contains("20200102000000"))
	assert.False(t, vs.Contains("20200104000000"))
}

func TestParseTarget(t *testing.T) {
	t.Parallel()

	tt := []struct {
		in      string
		latest  bool
		reset   bool
		version Version
	}{
		{in: "", latest: true},
		{in: "latest", latest: true},
		{in: "LATEST", latest: true},
		{in: "reset", reset: true},
		{in: "20200101000000", version: "20200101000000"},
	}

	for _, tc := range tt {
		t.Run(tc.in, func(t *testing.T) {
			target, err := ParseTarget(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.latest, target.IsLatest())
			assert.Equal(t, tc.reset, target.IsReset())

			v, ok := target.Version()
			assert.Equal(t, tc.version != "", ok)
			assert.Equal(t, tc.version, v)
		})
	}

	_, err := ParseTarget("yesterday")
	assert.Error(t, err)
}

func TestTargetAllows(t *testing.T) {
	t.Parallel()

	assert.True(t, Latest().Allows("99999999999999"))
	assert.True(t, To("20200102000000").Allows("20200102000000"))
	assert.True(t, To("20200102000000").Allows("20200101000000"))
	assert.False(t, To("20200102000000").Allows("20200103000000"))
	assert.False(t, Reset().Allows("20200101000000"))
}

func TestSubstitute(t *testing.T) {
	t.Parallel()

	tokens := TokenTable{
		TokenPrimaryKey: "INTEGER PRIMARY KEY AUTOINCREMENT",
		TokenString:     "TEXT",
		TokenTimestamps: "created_at DATETIME, updated_at DATETIME",
	}

	t.Run("known tokens are replaced case insensitively", func(t *testing.T) {
		out := Substitute("CREATE TABLE foo (id %PK%, name %string%, %Timestamps%)", tokens)
		assert.Equal(t, "CREATE TABLE foo (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT, created_at DATETIME, updated_at DATETIME)", out)
	})

	t.Run("unknown tokens are left untouched", func(t *testing.T) {
		assert.Equal(t, "SELECT %unknown%", Substitute("SELECT %unknown%", tokens))
	})

	t.Run("replacement text is not substituted again", func(t *testing.T) {
		out := Substitute("%a%", TokenTable{"a": "%string%"})
		assert.Equal(t, "%string%", out)
	})

	t.Run("string literals are not protected", func(t *testing.T) {
		out := Substitute("INSERT INTO foo (name) VALUES ('%string%')", tokens)
		assert.Equal(t, "INSERT INTO foo (name) VALUES ('TEXT')", out)
	})

	t.Run("empty table is a no-op", func(t *testing.T) {
		assert.Equal(t, "%pk%", Substitute("%pk%", nil))
	})
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	factory := func() (Unit, error) { return Base{}, nil }

	require.NoError(t, r.Register("20200102000000", "second", factory))
	require.NoError(t, r.Register("20200101000000", "first", factory))

	err := r.Register("20200101000000", "again", factory)
	assert.True(t, errors.Is(err, ErrDuplicateVersion))

	err = r.Register("2020", "short", factory)
	assert.True(t, errors.Is(err, ErrInvalidVersionFormat))

	assert.Equal(t, Versions{"20200101000000", "20200102000000"}, r.Versions())

	f, name, ok := r.Lookup("20200102000000")
	require.True(t, ok)
	assert.Equal(t, "second", name)
	assert.NotNil(t, f)
}

func TestRun(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("successful up reports rows and elapsed time", func(t *testing.T) {
		ex := &fakeExecutor{rows: 3}
		s := NewSession(ex, nil, TokenTable{TokenString: "TEXT"}, nil)

		d := NewDescriptor("20200101000000", "Create foo", "mem", GoKind, func() (Unit, error) {
			return UnitFunc{UpFunc: func(ctx context.Context, s *Session) error {
				if err := s.TimedExec(ctx, "CREATE TABLE foo (name %string%)"); err != nil {
					return err
				}
				_, err := s.TimedQuery(ctx, "INSERT INTO foo (name) VALUES (?)", "bar")
				return err
			}}, nil
		})

		o := Run(ctx, d, Up, s)
		require.NoError(t, o.Err)
		assert.Equal(t, Success, o.Kind)
		assert.False(t, o.Failed())
		assert.Equal(t, int64(3), o.RowsAffected)
		require.Len(t, ex.calls, 2)
		assert.Equal(t, "CREATE TABLE foo (name TEXT)", ex.calls[0].query)
		assert.Equal(t, []interface{}{"bar"}, ex.calls[1].args)
	})

	t.Run("base unit is not implemented in both directions", func(t *testing.T) {
		s := NewSession(&fakeExecutor{}, nil, nil, nil)
		d := NewDescriptor("20200101000000", "Empty", "mem", GoKind, func() (Unit, error) { return Base{}, nil })

		assert.Equal(t, NotImplemented, Run(ctx, d, Up, s).Kind)
		assert.Equal(t, NotImplemented, Run(ctx, d, Down, s).Kind)
	})

	t.Run("irreversible unit signals unrevertable down", func(t *testing.T) {
		s := NewSession(&fakeExecutor{}, nil, nil, nil)
		d := NewDescriptor("20200101000000", "One way", "mem", GoKind, func() (Unit, error) {
			return oneWayUnit{}, nil
		})

		o := Run(ctx, d, Down, s)
		assert.Equal(t, Unrevertable, o.Kind)
		assert.True(t, errors.Is(o.Err, ErrUnrevertable))
		assert.Equal(t, Success, Run(ctx, d, Up, s).Kind)
	})

	t.Run("failed statement becomes an execution error with the statement", func(t *testing.T) {
		ex := &fakeExecutor{failOn: "DROP TABLE foo"}
		s := NewSession(ex, nil, nil, func(error) string { return "1051" })
		d := NewDescriptor("20200101000000", "Drop foo", "mem", GoKind, func() (Unit, error) {
			return UnitFunc{DownFunc: func(ctx context.Context, s *Session) error {
				return s.ExecAll(ctx, []string{"DROP TABLE foo", "DROP TABLE bar"})
			}}, nil
		})

		o := Run(ctx, d, Down, s)
		require.Error(t, o.Err)
		assert.Equal(t, ExecutionFailed, o.Kind)
		assert.Len(t, ex.calls, 1)

		var execErr *ExecutionError
		require.True(t, errors.As(o.Err, &execErr))
		assert.Equal(t, "DROP TABLE foo", execErr.Statement)
		assert.Equal(t, "1051", execErr.Code)
		assert.Equal(t, Version("20200101000000"), execErr.Version)
	})

	t.Run("unregistered unit fails the step", func(t *testing.T) {
		s := NewSession(&fakeExecutor{}, nil, nil, nil)
		d := NewDescriptor("20200101000000", "Ghost", "mem", GoKind, nil)

		o := Run(ctx, d, Up, s)
		assert.Equal(t, ExecutionFailed, o.Kind)
		assert.True(t, errors.Is(o.Err, ErrUnregisteredUnit))
	})
}

type recordingPrinter struct {
	lines []string
}

func (p *recordingPrinter) Output(_ int, s string) error {
	p.lines = append(p.lines, s)
	return nil
}

func TestSession_Query(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("affected rows are summed", func(t *testing.T) {
		s := NewSession(&fakeExecutor{rows: 2}, nil, nil, nil)

		n, err := s.Query(ctx, "DELETE FROM foo")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		_, err = s.Query(ctx, "DELETE FROM bar")
		require.NoError(t, err)
		assert.Equal(t, int64(4), s.rows)
	})

	t.Run("unavailable affected rows are logged as debug output", func(t *testing.T) {
		ex := &fakeExecutor{rowsErr: errors.New("no RowsAffected available")}

		quiet := &recordingPrinter{}
		s := NewSession(ex, logger.NewBWLogger(quiet, false, false), nil, nil)
		n, err := s.Query(ctx, "UPDATE foo SET x = 1")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		assert.Empty(t, quiet.lines)

		debug := &recordingPrinter{}
		s = NewSession(ex, logger.NewBWLogger(debug, false, true), nil, nil)
		_, err = s.Query(ctx, "UPDATE foo SET x = 2")
		require.NoError(t, err)

		require.Len(t, debug.lines, 1)
		assert.Contains(t, debug.lines[0], "Shift debug: affected rows are not available")
		assert.Contains(t, debug.lines[0], "UPDATE foo SET x = 2")
		assert.Contains(t, debug.lines[0], "no RowsAffected available")
	})
}

func TestDisplayName(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "Create foo table", DisplayName("create_foo_table"))
	assert.Equal(t, "Add index", DisplayName("add-index"))
	assert.Equal(t, "", DisplayName(""))
	assert.Equal(t, "20200101000000_create_foo", CreateKeyFromVersionAndName("20200101000000", "Create foo"))
}
