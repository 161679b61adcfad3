package cli

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/denismitr/shift"
	"github.com/denismitr/shift/internal/catalog"
	"github.com/denismitr/shift/internal/logger"
	"github.com/denismitr/shift/migration"
	"github.com/pkg/errors"
)

const DefaultConfigFile = "shift.yml"

var (
	ErrMigrationAlreadyExists = errors.New("migration already exists")
	ErrFolderInvalid          = errors.New("migrations folder is invalid")
	ErrSourceTypeIsNotValid   = errors.New("source type is not valid")
	ErrConfigAlreadyExists    = errors.New("config file already exists")
)

const configFileStub = `version: "1"
migrations:
  local_folder: ./migrations
  database_url: "%%DATABASE_URL%%"
  table: schema_migrations
  snapshot: ""
  verbose: false
`

type (
	CloserFunc func() error

	// Config is read from shift.yml, environment variables take precedence
	Config struct {
		DatabaseUrl      string `env:"SHIFT_DATABASE_URL"`
		MigrationsFolder string `env:"SHIFT_MIGRATIONS_FOLDER"`
		MigrationsTable  string `env:"SHIFT_MIGRATIONS_TABLE"`
		Snapshot         string `env:"SHIFT_SNAPSHOT"`
		Verbose          bool   `env:"SHIFT_VERBOSE"`
	}

	// Status is one line of the status listing
	Status struct {
		Version   migration.Version
		Name      string
		Installed bool
	}

	App struct {
		catalog  *catalog.LocalFileCatalog
		migrator *shift.Migrator
		clock    migration.ClockFunc
	}
)

func NewFromYaml(path string, p logger.Printer) (*App, CloserFunc, error) {
	cfg, err := LoadConfig(path, nil)
	if err != nil {
		return nil, nil, err
	}

	return New(cfg, p)
}

func New(cfg Config, p logger.Printer) (*App, CloserFunc, error) {
	if err := cfg.validate(); err != nil {
		return nil, nil, err
	}

	m, closer, err := createMigrator(cfg, p)
	if err != nil {
		return nil, nil, err
	}

	lc := m.Catalog()
	if lc == nil {
		_ = closer()
		return nil, nil, ErrSourceTypeIsNotValid
	}

	return &App{
		catalog:  lc,
		migrator: m,
		clock:    nowUTC,
	}, CloserFunc(closer), nil
}

// CreateMigration writes a stub for a new migration stamped with the current time
func (app *App) CreateMigration(name string, kind migration.Kind) (*migration.Descriptor, error) {
	if !app.catalog.IsValid() {
		return nil, errors.Wrapf(ErrFolderInvalid, "[%s]", app.catalog.Folder())
	}

	v := migration.GenerateVersion(app.clock)

	if app.catalog.AlreadyExists(v, name) {
		return nil, errors.Wrapf(ErrMigrationAlreadyExists, "version [%s] name [%s]", v, name)
	}

	return app.catalog.Create(v, name, kind)
}

// Migrate accepts "", "latest", "reset" or a version
func (app *App) Migrate(ctx context.Context, target string) (*shift.Report, error) {
	t, err := migration.ParseTarget(target)
	if err != nil {
		return nil, err
	}

	return app.migrator.Migrate(ctx, t)
}

func (app *App) Pending(ctx context.Context) (migration.Descriptors, error) {
	return app.migrator.MissingMigrations(ctx)
}

// Status lists installed versions followed by pending ones, both ascending.
// Installed versions without a source keep an empty name.
func (app *App) Status(ctx context.Context) ([]Status, error) {
	installed, err := app.migrator.InstalledVersions(ctx)
	if err != nil {
		return nil, err
	}

	available, err := app.catalog.Discover(ctx)
	if err != nil {
		return nil, err
	}

	result := make([]Status, 0, len(available))
	for _, v := range installed.Sorted() {
		s := Status{Version: v, Installed: true}
		if d, ok := available[v]; ok {
			s.Name = d.Name
		}
		result = append(result, s)
	}

	for _, d := range migration.SortDescriptors(available) {
		if installed.Contains(d.Version) {
			continue
		}

		result = append(result, Status{Version: d.Version, Name: d.Name})
	}

	return result, nil
}

func (app *App) Dump(ctx context.Context) (string, error) {
	return app.migrator.SaveCurrentSchema(ctx)
}

// InitCfg writes a config stub and never overwrites an existing file
func InitCfg(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if os.IsExist(err) {
			return errors.Wrapf(ErrConfigAlreadyExists, "[%s]", path)
		}
		return errors.Wrap(err, "could not create config file")
	}

	if _, err := io.Copy(f, strings.NewReader(configFileStub)); err != nil {
		_ = f.Close()
		return err
	}

	return f.Close()
}

func FileExists(path string) bool {
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return false
	}
	return err == nil && !info.IsDir()
}
