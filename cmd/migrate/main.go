// Command migrate applies, rolls back or forces the schema version of the marketer database.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/testerbesterkali/marketer/internal/config"
)

func main() {
	msg, err := run(os.Args[1:], defaultDeps())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(msg)
}

type deps struct {
	loadConfig func() (*config.EnvSpec, error)
	openDB     func(driverName, dataSourceName string) (*sql.DB, error)
	migrateF   func(db *sql.DB, sourceURL, direction string, steps int) error
}

func defaultDeps() deps {
	return deps{
		loadConfig: config.Load,
		openDB:     sql.Open,
		migrateF:   performMigrations,
	}
}

type options struct {
	direction  string
	steps      int
	force      int
	forceDirty bool
	version    bool
}

type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Version() (version uint, dirty bool, err error)
}

// Swapped in tests so no Postgres is needed.
var withPostgresInstance = func(db *sql.DB) (migratedb.Driver, error) {
	return postgres.WithInstance(db, &postgres.Config{})
}

var newMigrateWithDB = func(sourceURL string, databaseName string, driver migratedb.Driver) (migrator, error) {
	return migrate.NewWithDatabaseInstance(sourceURL, databaseName, driver)
}

var newMigrator = func(db *sql.DB, sourceURL string) (migrator, error) {
	driver, err := withPostgresInstance(db)
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	m, err := newMigrateWithDB(sourceURL, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}
	return m, nil
}

func parseArgs(args []string) (options, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	var o options
	fs.StringVar(&o.direction, "direction", "up", "migration direction: up or down")
	fs.IntVar(&o.steps, "steps", 0, "number of migration steps (0 = all)")
	fs.IntVar(&o.force, "force", -1, "force the schema version, clearing the dirty flag")
	fs.BoolVar(&o.forceDirty, "force-dirty", false, "if the database is dirty, force it to its current version and exit")
	fs.BoolVar(&o.version, "version", false, "print the current schema version and exit")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.steps < 0 {
		return options{}, fmt.Errorf("invalid steps: %d (must be >= 0)", o.steps)
	}
	switch o.direction {
	case "up", "down":
		return o, nil
	default:
		return options{}, fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", o.direction)
	}
}

func run(args []string, d deps) (string, error) {
	o, err := parseArgs(args)
	if err != nil {
		return "", err
	}
	if d.loadConfig == nil || d.openDB == nil {
		return "", errors.New("loadConfig and openDB dependencies are required")
	}
	cfg, err := d.loadConfig()
	if err != nil {
		return "", err
	}
	if err := cfg.RequireDatabase(); err != nil {
		return "", err
	}

	db, err := d.openDB("postgres", cfg.DatabaseURL)
	if err != nil {
		return "", fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if o.version || o.force >= 0 || o.forceDirty {
		m, err := newMigrator(db, cfg.MigrationsURL)
		if err != nil {
			return "", err
		}
		return inspectOrForce(m, o)
	}

	if d.migrateF == nil {
		return "", errors.New("migrateF dependency is required")
	}
	err = d.migrateF(db, cfg.MigrationsURL, o.direction, o.steps)
	if errors.Is(err, migrate.ErrNoChange) {
		return "No migrations to apply", nil
	}
	if err != nil {
		return "", fmt.Errorf("migration failed: %w", err)
	}
	return fmt.Sprintf("Migration %s completed successfully", o.direction), nil
}

func inspectOrForce(m migrator, o options) (string, error) {
	switch {
	case o.version:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			return "No migrations applied", nil
		}
		if err != nil {
			return "", fmt.Errorf("read migration version: %w", err)
		}
		return fmt.Sprintf("Schema version %d (dirty=%t)", v, dirty), nil
	case o.forceDirty:
		v, dirty, err := m.Version()
		if err != nil {
			return "", fmt.Errorf("read migration version: %w", err)
		}
		if !dirty {
			return "Database is not dirty (no force needed)", nil
		}
		if err := m.Force(int(v)); err != nil {
			return "", fmt.Errorf("force dirty version %d: %w", v, err)
		}
		return fmt.Sprintf("Forced dirty database to version %d", v), nil
	default:
		if err := m.Force(o.force); err != nil {
			return "", fmt.Errorf("force version %d: %w", o.force, err)
		}
		return fmt.Sprintf("Forced database to version %d", o.force), nil
	}
}

func performMigrations(db *sql.DB, sourceURL, direction string, steps int) error {
	m, err := newMigrator(db, sourceURL)
	if err != nil {
		return err
	}
	return applyDirection(m, direction, steps)
}

func applyDirection(m migrator, direction string, steps int) error {
	switch direction {
	case "up":
		if steps > 0 {
			return m.Steps(steps)
		}
		return m.Up()
	case "down":
		if steps > 0 {
			return m.Steps(-steps)
		}
		return m.Down()
	default:
		return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", direction)
	}
}
