package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/denismitr/shift/internal/cli"
	"github.com/denismitr/shift/migration"
	"github.com/logrusorgru/aurora/v3"
)

const prefix = "shift-cli: "

type command func(ctx context.Context, app *cli.App) error

func fail(err error) {
	fmt.Println(aurora.Red(prefix), err.Error())
	os.Exit(1)
}

func done(msg string) {
	fmt.Println(aurora.Green(prefix), msg)
	os.Exit(0)
}

func loadConfig(path, databaseUrl, folder string, verbose bool) (cli.Config, error) {
	var cfg cli.Config

	if cli.FileExists(path) {
		loaded, err := cli.LoadConfig(path, nil)
		if err != nil && databaseUrl == "" {
			return cfg, err
		}
		cfg = loaded
	} else if err := cli.ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}

	if databaseUrl != "" {
		cfg.DatabaseUrl = databaseUrl
	}

	if folder != "" {
		cfg.MigrationsFolder = folder
	}

	if cfg.MigrationsFolder == "" {
		cfg.MigrationsFolder = "./migrations"
	}

	cfg.Verbose = cfg.Verbose || verbose

	return cfg, nil
}

func run(cfg cli.Config, timeout time.Duration, cmd command) (err error) {
	app, closer, err := cli.New(cfg, log.New(os.Stdout, "", 0))
	if err != nil {
		return err
	}

	defer func() {
		if closeErr := closer(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return cmd(ctx, app)
}

func main() {
	migrateCmd := flag.Bool("migrate", false, "run the migrations up to -to, or all of them")
	resetCmd := flag.Bool("reset", false, "drop every table except the migrations table")
	pendingCmd := flag.Bool("pending", false, "list migrations that are not installed yet")
	statusCmd := flag.Bool("status", false, "list installed and pending migrations")
	dumpCmd := flag.Bool("dump", false, "write the schema snapshot")
	createCmd := flag.String("create", "", "create a new migration with the given name")
	initCmd := flag.Bool("init", false, "write a shift.yml config stub")

	to := flag.String("to", "", "target version for -migrate")
	kind := flag.String("kind", "sql", "kind of migration for -create: sql, yaml or go")
	configPath := flag.String("config", cli.DefaultConfigFile, "config file")
	databaseUrl := flag.String("db", "", "database URL, overrides the config file")
	folder := flag.String("folder", "", "migrations folder, overrides the config file")
	verbose := flag.Bool("verbose", false, "print sql and debug output")
	timeout := flag.Duration("timeout", 120*time.Second, "timeout of the whole command")

	flag.Parse()

	if *initCmd {
		if err := cli.InitCfg(*configPath); err != nil {
			fail(err)
		}
		done("config written to " + *configPath)
	}

	cfg, err := loadConfig(*configPath, *databaseUrl, *folder, *verbose)
	if err != nil {
		fail(err)
	}

	if cfg.DatabaseUrl == "" {
		fmt.Println(aurora.Red(prefix), "Database not specified")
		os.Exit(1)
	}

	var cmd command
	var msg string

	switch {
	case *migrateCmd:
		msg = "all done"
		cmd = func(ctx context.Context, app *cli.App) error {
			_, err := app.Migrate(ctx, *to)
			return err
		}
	case *resetCmd:
		msg = "all tables dropped"
		cmd = func(ctx context.Context, app *cli.App) error {
			_, err := app.Migrate(ctx, migration.ResetKeyword)
			return err
		}
	case *pendingCmd:
		msg = "done"
		cmd = func(ctx context.Context, app *cli.App) error {
			pending, err := app.Pending(ctx)
			if err != nil {
				return err
			}

			if len(pending) == 0 {
				fmt.Println(aurora.Green(prefix), "Nothing to migrate")
			}

			for _, d := range pending {
				fmt.Printf("%s  %s\n", aurora.Yellow(d.Version), d.Name)
			}
			return nil
		}
	case *statusCmd:
		msg = "done"
		cmd = func(ctx context.Context, app *cli.App) error {
			status, err := app.Status(ctx)
			if err != nil {
				return err
			}

			for _, s := range status {
				if s.Installed {
					fmt.Printf("%s  %s  %s\n", aurora.Green("installed"), s.Version, s.Name)
				} else {
					fmt.Printf("%s    %s  %s\n", aurora.Yellow("pending"), s.Version, s.Name)
				}
			}
			return nil
		}
	case *dumpCmd:
		cmd = func(ctx context.Context, app *cli.App) error {
			path, err := app.Dump(ctx)
			if err != nil {
				return err
			}

			msg = "schema written to " + path
			if path == "" {
				msg = "schema snapshot is disabled"
			}
			return nil
		}
	case *createCmd != "":
		cmd = func(ctx context.Context, app *cli.App) error {
			d, err := app.CreateMigration(*createCmd, migration.Kind(*kind))
			if err != nil {
				return err
			}

			msg = "created " + d.Location
			return nil
		}
	default:
		fmt.Println(aurora.Red(prefix), "Unknown command")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(cfg, *timeout, cmd); err != nil {
		fail(err)
	}

	done(msg)
}
