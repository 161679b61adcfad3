package shift

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
	"time"

	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/internal/snapshot"
	"github.com/denismitr/shift/migration"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	createUsers = `-- +migrate Up
CREATE TABLE users (id %pk%, name %string% NOT NULL);

-- +migrate Down
DROP TABLE users;
`
	createPosts = `
up:
  - CREATE TABLE posts (id INTEGER PRIMARY KEY, user_id INTEGER NOT NULL, title TEXT)
down:
  - DROP TABLE posts
`
	seedUsers = `-- +migrate Up
INSERT INTO users (name) VALUES ('alice'), ('bob');

-- +migrate Down
DELETE FROM users WHERE name IN ('alice', 'bob');
`
	brokenSQL = `-- +migrate Up
CREATE TABLE comments (id INTEGER);
CREATE TABLE users (id INTEGER);
`
	oneWaySQL = `-- +migrate Up
CREATE TABLE audit (id INTEGER);

-- +migrate Down
-- +migrate Irreversible
`
)

type fixture struct {
	folder string
	db     *sql.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	dir := t.TempDir()
	folder := filepath.Join(dir, "migrations")
	require.NoError(t, os.Mkdir(folder, 0755))

	db, err := sql.Open("sqlite3", filepath.Join(dir, "shift.db"))
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = db.Close()
	})

	return &fixture{folder: folder, db: db}
}

func (f *fixture) write(t *testing.T, name, contents string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.folder, name), []byte(contents), 0644))
}

func (f *fixture) standard(t *testing.T) {
	f.write(t, "20200101000000_create_users.sql", createUsers)
	f.write(t, "20200102000000_create_posts.yml", createPosts)
	f.write(t, "20200103000000_seed_users.sql", seedUsers)
}

func (f *fixture) migrator(t *testing.T, opts ...OptionFunc) *Migrator {
	t.Helper()

	opts = append([]OptionFunc{
		UseSqlite(f.db, WithSqliteConnectionTimeout(5*time.Second), WithSqliteMaxConnectionAttempts(3)),
		UseLocalFolderSource(f.folder),
	}, opts...)

	m, closer, err := NewMigrator(opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		assert.NoError(t, closer())
	})

	return m
}

func (f *fixture) tables(t *testing.T) []string {
	t.Helper()

	rows, err := f.db.Query("SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var result []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		result = append(result, name)
	}
	require.NoError(t, rows.Err())

	return result
}

func (f *fixture) versions(t *testing.T) []string {
	t.Helper()

	rows, err := f.db.Query("SELECT version FROM schema_migrations ORDER BY version")
	require.NoError(t, err)
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		result = append(result, v)
	}
	require.NoError(t, rows.Err())

	return result
}

func (f *fixture) count(t *testing.T, table string) int {
	t.Helper()

	var n int
	require.NoError(t, f.db.QueryRow("SELECT COUNT(*) FROM "+table).Scan(&n))
	return n
}

func (f *fixture) snapshotPath() string {
	return snapshot.DefaultPath(f.folder)
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func outcomeVersions(r *Report) []string {
	var result []string
	for _, o := range r.Outcomes {
		result = append(result, string(o.Direction)+" "+string(o.Version))
	}
	return result
}

func TestNewMigrator(t *testing.T) {
	t.Run("database is required", func(t *testing.T) {
		m, closer, err := NewMigrator(UseLocalFolderSource(t.TempDir()))
		assert.True(t, errors.Is(err, ErrGatewayNotInitialized))
		assert.Nil(t, m)
		assert.Nil(t, closer)
	})

	t.Run("option errors are returned", func(t *testing.T) {
		_, _, err := NewMigrator(UseSqlite(&sql.DB{}), UseFSSource(nil, "x"))
		assert.True(t, errors.Is(err, migration.ErrMissingSource))
	})

	t.Run("local folder source is exposed as catalog", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t)

		require.NotNil(t, m.Catalog())
		assert.Equal(t, f.folder, m.Catalog().Folder())
		assert.Equal(t, f.snapshotPath(), m.snapshotPath)
	})

	t.Run("snapshot can be disabled regardless of option order", func(t *testing.T) {
		f := newFixture(t)
		m := f.migrator(t, WithoutSnapshot())
		assert.Equal(t, snapshot.Disabled, m.snapshotPath)
	})
}

func TestMigrator_Migrate(t *testing.T) {
	t.Run("applies everything in ascending order from an empty database", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		report, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)

		assert.Equal(t, []string{"up 20200101000000", "up 20200102000000", "up 20200103000000"}, outcomeVersions(report))
		assert.False(t, report.RolledBack)
		assert.Equal(t, 3, report.Applied())
		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
		assert.Equal(t, []string{"posts", "schema_migrations", "users"}, f.tables(t))
		assert.Equal(t, 2, f.count(t, "users"))

		assert.Equal(t, f.snapshotPath(), report.SnapshotPath)
		assert.NoError(t, report.SnapshotErr)

		contents, err := os.ReadFile(f.snapshotPath())
		require.NoError(t, err)
		assert.Contains(t, string(contents), "-- Schema snapshot of database: shift.db")
		assert.Contains(t, string(contents), "CREATE TABLE users (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT NOT NULL);")
		assert.Contains(t, string(contents), "CREATE TABLE posts")
		assert.NotContains(t, string(contents), "schema_migrations")
		assert.Contains(t, string(contents), "-- 2 tables")
	})

	t.Run("running again is a no-op without a snapshot", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)
		require.NoError(t, os.Remove(f.snapshotPath()))

		report, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)

		assert.Empty(t, report.Outcomes)
		assert.Empty(t, report.SnapshotPath)
		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
		assert.Equal(t, 2, f.count(t, "users"))
		assert.NoFileExists(t, f.snapshotPath())
	})

	t.Run("target version reverts newer migrations in descending order", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)

		report, err := m.Migrate(ctx, migration.To("20200101000000"))
		require.NoError(t, err)

		assert.Equal(t, []string{"down 20200103000000", "down 20200102000000"}, outcomeVersions(report))
		assert.Equal(t, []string{"20200101000000"}, f.versions(t))
		assert.Equal(t, []string{"schema_migrations", "users"}, f.tables(t))
		assert.Equal(t, 0, f.count(t, "users"))
	})

	t.Run("target version only applies migrations up to it", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)

		report, err := m.Migrate(testContext(t), migration.To("20200102000000"))
		require.NoError(t, err)

		assert.Equal(t, []string{"up 20200101000000", "up 20200102000000"}, outcomeVersions(report))
		assert.Equal(t, []string{"20200101000000", "20200102000000"}, f.versions(t))
	})

	t.Run("round trip reaches the same schema", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)
		first, err := os.ReadFile(f.snapshotPath())
		require.NoError(t, err)
		tablesBefore := f.tables(t)

		_, err = m.Migrate(ctx, migration.To("20200101000000"))
		require.NoError(t, err)
		_, err = m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)

		second, err := os.ReadFile(f.snapshotPath())
		require.NoError(t, err)

		assert.Equal(t, tablesBefore, f.tables(t))
		assert.Equal(t, withoutTimestamp(string(first)), withoutTimestamp(string(second)))
		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
	})

	t.Run("failure rolls back the whole batch", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		f.write(t, "20200104000000_broken.sql", brokenSQL)
		m := f.migrator(t)

		report, err := m.Migrate(testContext(t), migration.Latest())
		require.Error(t, err)

		var execErr *migration.ExecutionError
		require.True(t, errors.As(err, &execErr))
		assert.Equal(t, migration.Version("20200104000000"), execErr.Version)
		assert.Equal(t, "1", execErr.Code)

		assert.True(t, report.RolledBack)
		assert.Equal(t, 0, report.Applied())
		require.Len(t, report.Outcomes, 4)
		assert.Equal(t, migration.ExecutionFailed, report.Outcomes[3].Kind)

		assert.Empty(t, f.versions(t))
		assert.Equal(t, []string{"schema_migrations"}, f.tables(t))
		assert.NoFileExists(t, f.snapshotPath())
	})

	t.Run("failure after earlier batches keeps the installed set", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)
		require.NoError(t, os.Remove(f.snapshotPath()))

		f.write(t, "20200104000000_broken.sql", brokenSQL)

		_, err = m.Migrate(ctx, migration.Latest())
		require.Error(t, err)

		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
		assert.Equal(t, []string{"posts", "schema_migrations", "users"}, f.tables(t))
		assert.NoFileExists(t, f.snapshotPath())
	})

	t.Run("unrevertable down aborts and keeps the version", func(t *testing.T) {
		f := newFixture(t)
		f.write(t, "20200101000000_create_users.sql", createUsers)
		f.write(t, "20200102000000_create_audit.sql", oneWaySQL)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)

		report, err := m.Migrate(ctx, migration.To("20200101000000"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, migration.ErrUnrevertable))

		assert.True(t, report.RolledBack)
		require.Len(t, report.Outcomes, 1)
		assert.Equal(t, migration.Unrevertable, report.Outcomes[0].Kind)
		assert.Equal(t, []string{"20200101000000", "20200102000000"}, f.versions(t))
		assert.Equal(t, []string{"audit", "schema_migrations", "users"}, f.tables(t))
	})

	t.Run("unit without an up direction aborts the batch", func(t *testing.T) {
		f := newFixture(t)
		f.write(t, "20200101000000_create_users.sql", createUsers)
		f.write(t, "20200102000000_drop_legacy.sql", "-- +migrate Down\nDROP TABLE legacy;\n")
		m := f.migrator(t)

		report, err := m.Migrate(testContext(t), migration.Latest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, migration.ErrNotImplemented))

		assert.True(t, report.RolledBack)
		require.Len(t, report.Outcomes, 2)
		assert.False(t, report.Outcomes[0].Failed())
		assert.Equal(t, migration.NotImplemented, report.Outcomes[1].Kind)
		assert.Equal(t, migration.Version("20200102000000"), report.Outcomes[1].Version)

		assert.Empty(t, f.versions(t))
		assert.Equal(t, []string{"schema_migrations"}, f.tables(t))
		assert.NoFileExists(t, f.snapshotPath())
	})

	t.Run("snapshot failure keeps the committed batch", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		path := filepath.Join(t.TempDir(), "missing", "schema.txt")
		m := f.migrator(t, WithSnapshotPath(path))

		report, err := m.Migrate(testContext(t), migration.Latest())
		require.NoError(t, err)

		assert.Error(t, report.SnapshotErr)
		assert.Empty(t, report.SnapshotPath)
		assert.False(t, report.RolledBack)
		assert.Equal(t, 3, report.Applied())
		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
		assert.Equal(t, []string{"posts", "schema_migrations", "users"}, f.tables(t))
		assert.NoFileExists(t, path)
	})

	t.Run("reset drops application tables only", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		m := f.migrator(t)
		ctx := testContext(t)

		_, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)
		require.NoError(t, os.Remove(f.snapshotPath()))

		report, err := m.Migrate(ctx, migration.Reset())
		require.NoError(t, err)

		assert.Equal(t, []string{"posts", "users"}, report.DroppedTables)
		assert.Empty(t, report.Outcomes)
		assert.Equal(t, []string{"schema_migrations"}, f.tables(t))
		assert.Equal(t, []string{"20200101000000", "20200102000000", "20200103000000"}, f.versions(t))
		assert.NoFileExists(t, f.snapshotPath())
	})

	t.Run("discovery errors abort before anything runs", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)
		f.write(t, "20200101000000_create_people.sql", createUsers)
		m := f.migrator(t)

		_, err := m.Migrate(testContext(t), migration.Latest())

		var discoveryErr *migration.DiscoveryError
		require.True(t, errors.As(err, &discoveryErr))
		assert.True(t, errors.Is(err, migration.ErrDuplicateVersion))
		assert.Empty(t, f.versions(t))
	})

	t.Run("custom migrations table", func(t *testing.T) {
		f := newFixture(t)
		f.standard(t)

		m, closer, err := NewMigrator(
			UseSqlite(f.db, WithSqliteMigrationTable("versions")),
			UseLocalFolderSource(f.folder),
			WithoutSnapshot(),
		)
		require.NoError(t, err)
		defer closer()

		_, err = m.Migrate(testContext(t), migration.Latest())
		require.NoError(t, err)

		assert.Equal(t, []string{"posts", "users", "versions"}, f.tables(t))
		assert.NoFileExists(t, f.snapshotPath())
	})
}

func TestMigrator_FSSource(t *testing.T) {
	t.Run("migrations are read below the root", func(t *testing.T) {
		f := newFixture(t)
		fsys := fstest.MapFS{
			"migrations/20200101000000_create_users.sql": {Data: []byte(createUsers)},
			"migrations/20200102000000_create_posts.yml": {Data: []byte(createPosts)},
			"20200103000000_outside_root.sql":            {Data: []byte(seedUsers)},
		}

		m, closer, err := NewMigrator(UseSqlite(f.db), UseFSSource(fsys, "migrations"), WithoutSnapshot())
		require.NoError(t, err)
		defer closer()

		ctx := testContext(t)

		missing, err := m.MissingMigrations(ctx)
		require.NoError(t, err)
		assert.Equal(t, migration.Versions{"20200101000000", "20200102000000"}, missing.Versions())

		report, err := m.Migrate(ctx, migration.Latest())
		require.NoError(t, err)
		assert.Equal(t, 2, report.Applied())
		assert.Equal(t, []string{"posts", "schema_migrations", "users"}, f.tables(t))
	})

	t.Run("empty root reads the top level", func(t *testing.T) {
		f := newFixture(t)
		fsys := fstest.MapFS{
			"20200101000000_create_users.sql": {Data: []byte(createUsers)},
		}

		m, closer, err := NewMigrator(UseSqlite(f.db), UseFSSource(fsys, ""), WithoutSnapshot())
		require.NoError(t, err)
		defer closer()

		_, err = m.Migrate(testContext(t), migration.Latest())
		require.NoError(t, err)
		assert.Equal(t, []string{"20200101000000"}, f.versions(t))
	})

	t.Run("root must be a valid path", func(t *testing.T) {
		_, _, err := NewMigrator(UseSqlite(&sql.DB{}), UseFSSource(fstest.MapFS{}, "../migrations"))
		assert.Error(t, err)
	})
}

type recordingPrinter struct {
	lines []string
}

func (p *recordingPrinter) Output(_ int, s string) error {
	p.lines = append(p.lines, s)
	return nil
}

func TestMigrator_AbortNotice(t *testing.T) {
	f := newFixture(t)
	f.write(t, "20200101000000_create_users.sql", createUsers)
	f.write(t, "20200102000000_broken.sql", brokenSQL)

	p := &recordingPrinter{}
	m := f.migrator(t, UseLogger(p, false, false))

	_, err := m.Migrate(testContext(t), migration.Latest())
	require.Error(t, err)

	var errorLines []string
	for _, line := range p.lines {
		if strings.HasPrefix(line, "Shift error:") {
			errorLines = append(errorLines, line)
		}
	}

	require.Len(t, errorLines, 1)
	assert.Contains(t, errorLines[0], "aborted and rolled back")
	assert.Contains(t, errorLines[0], "20200102000000")
}

func TestMigrator_InMemorySource(t *testing.T) {
	f := newFixture(t)

	var ups, downs int
	r := migration.NewRegistry()
	r.MustRegister("20200101000000", "create_tags", func() (migration.Unit, error) {
		return migration.UnitFunc{
			UpFunc: func(ctx context.Context, s *migration.Session) error {
				ups++
				return s.Exec(ctx, "CREATE TABLE tags (id %pk%, label %string%)")
			},
			DownFunc: func(ctx context.Context, s *migration.Session) error {
				downs++
				return s.Exec(ctx, "DROP TABLE tags")
			},
		}, nil
	})

	m, closer, err := NewMigrator(UseSqlite(f.db), UseInMemorySource(r), WithoutSnapshot())
	require.NoError(t, err)
	defer closer()

	ctx := testContext(t)

	_, err = m.Migrate(ctx, migration.Latest())
	require.NoError(t, err)
	_, err = m.Migrate(ctx, migration.Latest())
	require.NoError(t, err)

	assert.Equal(t, 1, ups, "installed unit must not run twice")
	assert.Equal(t, []string{"schema_migrations", "tags"}, f.tables(t))

	_, err = m.Migrate(ctx, migration.To("20190101000000"))
	require.NoError(t, err)

	assert.Equal(t, 1, downs)
	assert.Empty(t, f.versions(t))
}

func TestMigrator_DryRuns(t *testing.T) {
	f := newFixture(t)
	f.standard(t)
	m := f.migrator(t)
	ctx := testContext(t)

	missing, err := m.MissingMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.Versions{"20200101000000", "20200102000000", "20200103000000"}, missing.Versions())
	assert.Equal(t, "Create users", missing[0].Name)

	batch, err := m.Plan(ctx, migration.To("20200102000000"))
	require.NoError(t, err)
	assert.Len(t, batch.Ups(), 2)
	assert.Empty(t, batch.Downs())

	_, err = m.Plan(ctx, migration.Reset())
	assert.True(t, errors.Is(err, database.ErrResetIsNotScheduled))

	installed, err := m.InstalledVersions(ctx)
	require.NoError(t, err)
	assert.Empty(t, installed)
	assert.Empty(t, f.versions(t), "dry runs must not record anything")

	_, err = m.Migrate(ctx, migration.To("20200101000000"))
	require.NoError(t, err)

	missing, err = m.MissingMigrations(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.Versions{"20200102000000", "20200103000000"}, missing.Versions())

	installed, err = m.InstalledVersions(ctx)
	require.NoError(t, err)
	assert.Equal(t, migration.Versions{"20200101000000"}, installed)
}

func TestMigrator_SaveCurrentSchema(t *testing.T) {
	f := newFixture(t)
	m := f.migrator(t, WithSnapshotPath(filepath.Join(f.folder, "dump.sql")))

	_, err := f.db.Exec("CREATE TABLE things (id INTEGER)")
	require.NoError(t, err)

	path, err := m.SaveCurrentSchema(testContext(t))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.folder, "dump.sql"), path)

	contents, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(contents), "CREATE TABLE things (id INTEGER);")
}

func withoutTimestamp(s string) string {
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if strings.HasPrefix(line, "-- Generated at:") {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}
