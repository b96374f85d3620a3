package db

import (
	"context"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	// registers the postgres:// scheme for NewWithSourceInstance
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"

	"lotteryfactor/config"
	"lotteryfactor/logger"
)

//go:embed migrations
var migrationsFS embed.FS

// Migrate applies every pending migration for the store's engine.
//
// SQLite migrates over the live handle so in-memory stores see their own
// schema. The migrate sqlite driver closes the handle it is given, so that
// instance is never closed here. Postgres gets a dedicated connection from
// the DSN, which must then be a postgres:// URL.
func (db *DB) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(migrationsFS, "migrations/"+db.driver)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	var m *migrate.Migrate
	switch db.driver {
	case config.DriverSQLite:
		driver, err := sqlite.WithInstance(db.conn.DB, &sqlite.Config{})
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		m, err = migrate.NewWithInstance("iofs", src, config.DriverSQLite, driver)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
	case config.DriverPostgres:
		m, err = migrate.NewWithSourceInstance("iofs", src, db.dsn)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
		}
		defer m.Close()
	default:
		return fmt.Errorf("%w: unsupported driver %q", ErrMigrationFailed, db.driver)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}

	version, dirty, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return fmt.Errorf("%w: %v", ErrMigrationFailed, err)
	}
	logger.Info("Database schema up to date",
		zap.String("driver", db.driver),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty))
	return nil
}
