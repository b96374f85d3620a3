package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	// registers the "postgres" driver
	_ "github.com/lib/pq"
	"go.uber.org/zap"
	// registers the "sqlite" driver
	_ "modernc.org/sqlite"

	"lotteryfactor/config"
	"lotteryfactor/logger"
)

// DB represents a database connection
type DB struct {
	conn   *sqlx.DB
	driver string
	dsn    string
}

// sqlite pragmas applied on every new store
var sqlitePragmas = []string{
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// New opens the configured store and brings its schema up to date.
func New(ctx context.Context, cfg *config.Config) (*DB, error) {
	logger.Info("Connecting to database", zap.String("driver", cfg.DBDriver))
	conn, err := sqlx.ConnectContext(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseConnection, err)
	}

	if cfg.DBDriver == config.DriverSQLite {
		// one writer; also keeps ":memory:" stores on a single connection
		conn.SetMaxOpenConns(1)
		for _, pragma := range sqlitePragmas {
			if _, err := conn.ExecContext(ctx, pragma); err != nil {
				conn.Close()
				return nil, fmt.Errorf("%w: %s: %v", ErrDatabaseConnection, pragma, err)
			}
		}
	} else {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
		conn.SetMaxIdleConns(cfg.MaxIdleConns)
		conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	database := &DB{conn: conn, driver: cfg.DBDriver, dsn: cfg.DBDSN}

	if !cfg.SkipMigrations {
		if err := database.Migrate(ctx); err != nil {
			conn.Close()
			return nil, err
		}
	}

	logger.Info("Database connection established",
		zap.String("driver", cfg.DBDriver),
		zap.Int("max_open_conns", conn.Stats().MaxOpenConnections))
	return database, nil
}

// inTx runs fn in a single transaction, rolling back when fn fails.
func (db *DB) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransactionFailed, err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit transaction: %v", ErrTransactionFailed, err)
	}
	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}
