package cli

import (
	"database/sql"
	"log"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/denismitr/shift"
	"github.com/denismitr/shift/internal/catalog"
	"github.com/denismitr/shift/internal/logger"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/xo/dburl"
	"gopkg.in/yaml.v2"
)

var (
	ErrDatabaseURLMissing = errors.New("database url was not defined")
	ErrUnsupportedDriver  = errors.New("unsupported database driver")
)

type (
	migratorFactory    func(db *sql.DB, cfg Config, opts []shift.OptionFunc) (*shift.Migrator, shift.CloserFunc, error)
	migratorFactoryMap map[string]migratorFactory

	migrations struct {
		LocalFolder string `yaml:"local_folder"`
		DatabaseURL string `yaml:"database_url"`
		Table       string `yaml:"table"`
		Snapshot    string `yaml:"snapshot"`
		Verbose     bool   `yaml:"verbose"`
	}

	configFile struct {
		Version    string     `yaml:"version"`
		Migrations migrations `yaml:"migrations"`
	}
)

var factories = migratorFactoryMap{
	"mysql": func(db *sql.DB, cfg Config, opts []shift.OptionFunc) (*shift.Migrator, shift.CloserFunc, error) {
		var mysqlOpts []shift.MySQLOptionFunc
		if cfg.MigrationsTable != "" {
			mysqlOpts = append(mysqlOpts, shift.WithMySQLMigrationTable(cfg.MigrationsTable))
		}
		return shift.NewMigrator(append(opts, shift.UseMySQL(db, mysqlOpts...))...)
	},
	"postgres": func(db *sql.DB, cfg Config, opts []shift.OptionFunc) (*shift.Migrator, shift.CloserFunc, error) {
		var pgOpts []shift.PostgresOptionFunc
		if cfg.MigrationsTable != "" {
			pgOpts = append(pgOpts, shift.WithPostgresMigrationTable(cfg.MigrationsTable))
		}
		return shift.NewMigrator(append(opts, shift.UsePostgres(db, pgOpts...))...)
	},
	"sqlite3": func(db *sql.DB, cfg Config, opts []shift.OptionFunc) (*shift.Migrator, shift.CloserFunc, error) {
		var sqliteOpts []shift.SqliteOptionFunc
		if cfg.MigrationsTable != "" {
			sqliteOpts = append(sqliteOpts, shift.WithSqliteMigrationTable(cfg.MigrationsTable))
		}
		return shift.NewMigrator(append(opts, shift.UseSqlite(db, sqliteOpts...))...)
	},
}

// LoadConfig reads the yaml file, resolves %%NAME%% values from the
// environment and then applies SHIFT_* overrides. A nil environ means
// the process environment.
func LoadConfig(path string, environ map[string]string) (Config, error) {
	var cfg Config

	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrap(err, "could not read shift configuration file")
	}

	var cfgFile configFile
	if err := yaml.Unmarshal(b, &cfgFile); err != nil {
		return cfg, errors.Wrap(err, "could not parse shift configuration file")
	}

	lookup := func(name string) string {
		if environ != nil {
			return environ[name]
		}
		return os.Getenv(name)
	}

	cfg.DatabaseUrl = resolve(cfgFile.Migrations.DatabaseURL, lookup)
	cfg.MigrationsFolder = resolve(cfgFile.Migrations.LocalFolder, lookup)
	cfg.MigrationsTable = resolve(cfgFile.Migrations.Table, lookup)
	cfg.Snapshot = resolve(cfgFile.Migrations.Snapshot, lookup)
	cfg.Verbose = cfgFile.Migrations.Verbose

	if err := ApplyEnv(&cfg, environ); err != nil {
		return cfg, err
	}

	if cfg.MigrationsFolder == "" {
		cfg.MigrationsFolder = catalog.DefaultMigrationsFolder
	}

	return cfg, cfg.validate()
}

// ApplyEnv overrides cfg with the SHIFT_* variables that are set
func ApplyEnv(cfg *Config, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return errors.Wrap(err, "could not parse shift environment")
	}

	return nil
}

func resolve(value string, lookup func(string) string) string {
	if len(value) > 4 && strings.HasPrefix(value, "%%") && strings.HasSuffix(value, "%%") {
		return lookup(strings.Trim(value, "%"))
	}

	return value
}

func (cfg Config) validate() error {
	if cfg.DatabaseUrl == "" {
		return ErrDatabaseURLMissing
	}

	if cfg.MigrationsFolder == "" {
		return errors.Wrap(ErrFolderInvalid, "migrations folder was not defined")
	}

	return nil
}

func createMigrator(cfg Config, p logger.Printer) (*shift.Migrator, shift.CloserFunc, error) {
	u, err := dburl.Parse(cfg.DatabaseUrl)
	if err != nil {
		return nil, nil, errors.Wrap(err, "could not parse database url")
	}

	factory, ok := factories[u.Driver]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnsupportedDriver, "[%s]", u.Driver)
	}

	db, err := sql.Open(u.Driver, u.DSN)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "could not open %s database", u.Driver)
	}

	if p == nil {
		p = log.New(os.Stdout, "", 0)
	}

	opts := []shift.OptionFunc{
		shift.UseColorLogger(p, cfg.Verbose, cfg.Verbose),
		shift.UseLocalFolderSource(cfg.MigrationsFolder),
	}

	if cfg.Snapshot != "" {
		opts = append(opts, shift.WithSnapshotPath(cfg.Snapshot))
	}

	m, closer, err := factory(db, cfg, opts)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}

	return m, func() error {
		closeErr := closer()
		if err := db.Close(); err != nil && closeErr == nil {
			closeErr = err
		}
		return closeErr
	}, nil
}

func nowUTC() time.Time {
	return time.Now().UTC()
}
