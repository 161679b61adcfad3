package shift

import (
	"context"

	"github.com/denismitr/shift/internal/catalog"
	"github.com/denismitr/shift/internal/database"
	"github.com/denismitr/shift/internal/logger"
	"github.com/denismitr/shift/internal/snapshot"
	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

var ErrGatewayNotInitialized = errors.New("database gateway has not been initialized")

type CloserFunc func() error

type Migrator struct {
	lg           logger.Logger
	gateway      database.Gateway
	discoverer   catalog.Discoverer
	sourceFn     func(m *Migrator) catalog.Discoverer
	registry     *migration.Registry
	folder       string
	snapshotPath string
	closerFns    []CloserFunc
}

// Report describes what a Migrate call did
type Report struct {
	Target        migration.Target
	Outcomes      []migration.Outcome
	DroppedTables []string
	RolledBack    bool
	SnapshotPath  string
	SnapshotErr   error
}

// Applied counts the units that ran successfully and were committed
func (r *Report) Applied() int {
	if r.RolledBack {
		return 0
	}

	n := 0
	for _, o := range r.Outcomes {
		if !o.Failed() {
			n++
		}
	}

	return n
}

// NewMigrator creates a migrator using option callbacks. A database
// option is required, the migrations are read from ./migrations unless
// another source is configured.
func NewMigrator(opts ...OptionFunc) (*Migrator, CloserFunc, error) {
	m := new(Migrator)
	m.lg = logger.NullLogger{}

	for _, oFunc := range opts {
		if err := oFunc(m); err != nil {
			return nil, nil, err
		}
	}

	if m.gateway == nil {
		return nil, nil, ErrGatewayNotInitialized
	}

	if m.sourceFn == nil {
		m.sourceFn = localFolderSource(catalog.DefaultMigrationsFolder)
	}

	// sources are built last so that they see the final logger and registry
	m.discoverer = m.sourceFn(m)

	if m.snapshotPath == "" && m.folder != "" {
		m.snapshotPath = snapshot.DefaultPath(m.folder)
	}

	if s, ok := m.gateway.(interface{ SetLogger(logger.Logger) }); ok {
		s.SetLogger(m.lg)
	}

	return m, m.close, nil
}

// Migrate brings the database to the target. A reset drops every
// application table, anything else runs one transactional batch.
// MySQL commits DDL implicitly, on a failed batch only data statements
// and bookkeeping rows are rolled back there.
func (m *Migrator) Migrate(ctx context.Context, target migration.Target) (*Report, error) {
	if target.IsReset() {
		return m.reset(ctx)
	}

	report := &Report{Target: target}

	if err := m.gateway.Lock(ctx); err != nil {
		m.lg.Error(err)
		return report, err
	}

	defer func() {
		if err := m.gateway.Unlock(ctx); err != nil {
			m.lg.Error(err)
		}
	}()

	batch, err := m.plan(ctx, target)
	if err != nil {
		m.lg.Error(err)
		return report, err
	}

	if batch.Empty() {
		m.lg.Infof("nothing to migrate, database is at target [%s]", target)
		return report, nil
	}

	err = m.gateway.InTransaction(ctx, func(tx database.Tx) error {
		s := migration.NewSession(tx, m.lg, m.gateway.Tokens(), m.gateway.ErrorCode)

		for _, step := range batch.Steps {
			o := migration.Run(ctx, step.Descriptor, step.Direction, s)
			report.Outcomes = append(report.Outcomes, o)

			if o.Failed() {
				return o.Err
			}

			if step.Direction == migration.Down {
				if err := tx.Remove(ctx, step.Descriptor.Version); err != nil {
					return err
				}
			} else {
				if err := tx.Record(ctx, step.Descriptor); err != nil {
					return err
				}
			}
		}

		return nil
	})

	if err != nil {
		report.RolledBack = true
		m.lg.Error(errors.Wrap(err, "migration batch aborted and rolled back, no changes were recorded"))
		return report, err
	}

	m.lg.Successf("%d migration(s) completed, target [%s] reached", len(report.Outcomes), target)

	report.SnapshotPath, report.SnapshotErr = m.snapshot(ctx)

	return report, nil
}

// MissingMigrations lists without executing anything the available
// migrations that are not installed, ascending
func (m *Migrator) MissingMigrations(ctx context.Context) (migration.Descriptors, error) {
	if err := m.gateway.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	available, err := m.discoverer.Discover(ctx)
	if err != nil {
		return nil, err
	}

	installed, err := m.gateway.ReadVersions(ctx)
	if err != nil {
		return nil, err
	}

	return database.Missing(available, installed), nil
}

// Plan computes without executing anything the batch Migrate would run
func (m *Migrator) Plan(ctx context.Context, target migration.Target) (database.Batch, error) {
	if target.IsReset() {
		return database.Batch{Target: target}, database.ErrResetIsNotScheduled
	}

	return m.plan(ctx, target)
}

func (m *Migrator) InstalledVersions(ctx context.Context) (migration.Versions, error) {
	if err := m.gateway.EnsureInitialized(ctx); err != nil {
		return nil, err
	}

	return m.gateway.ReadVersions(ctx)
}

// SaveCurrentSchema writes the schema snapshot on demand
func (m *Migrator) SaveCurrentSchema(ctx context.Context) (string, error) {
	w := snapshot.NewWriter(m.gateway, m.snapshotPath, m.lg)
	if !w.Enabled() {
		return "", nil
	}

	if err := w.Write(ctx); err != nil {
		return "", err
	}

	return w.Path(), nil
}

// SetVerbose toggles sql and debug output
func (m *Migrator) SetVerbose(verbose bool) {
	m.lg.SetVerbose(verbose)
}

func (m *Migrator) plan(ctx context.Context, target migration.Target) (database.Batch, error) {
	if err := m.gateway.EnsureInitialized(ctx); err != nil {
		return database.Batch{}, err
	}

	available, err := m.discoverer.Discover(ctx)
	if err != nil {
		return database.Batch{}, err
	}

	installed, err := m.gateway.ReadVersions(ctx)
	if err != nil {
		return database.Batch{}, err
	}

	return database.Schedule(available, installed, target)
}

// reset drops every table but the migrations table one by one, there is
// no transaction because most engines commit DDL implicitly
func (m *Migrator) reset(ctx context.Context) (*Report, error) {
	report := &Report{Target: migration.Reset()}

	tables, err := m.gateway.ShowTables(ctx)
	if err != nil {
		m.lg.Error(err)
		return report, err
	}

	m.lg.Warnf("dropping %d table(s), this cannot be undone", len(tables))

	for _, table := range tables {
		if err := m.gateway.DropTable(ctx, table); err != nil {
			m.lg.Error(err)
			return report, err
		}

		m.lg.Infof("   -> dropped %s", table)
		report.DroppedTables = append(report.DroppedTables, table)
	}

	return report, nil
}

// snapshot never fails the batch that already committed
func (m *Migrator) snapshot(ctx context.Context) (string, error) {
	path, err := m.SaveCurrentSchema(ctx)
	if err != nil {
		m.lg.Warnf("could not save schema snapshot: %v", err)
		return "", err
	}

	return path, nil
}

func (m *Migrator) close() error {
	if m.gateway == nil {
		return ErrGatewayNotInitialized
	}

	var result error
	for i := len(m.closerFns) - 1; i >= 0; i-- {
		if err := m.closerFns[i](); err != nil {
			m.lg.Error(err)
			if result == nil {
				result = err
			}
		}
	}

	return result
}

// Catalog returns the local folder catalog when migrations are read from one
func (m *Migrator) Catalog() *catalog.LocalFileCatalog {
	if lc, ok := m.discoverer.(*catalog.LocalFileCatalog); ok {
		return lc
	}

	return nil
}
