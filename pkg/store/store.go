// Package store provides the TradeDangerous database layer: connection
// setup for sqlite and postgres, embedded schema migrations, and the
// entity writes the import passes are built on.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	"modernc.org/sqlite"

	"github.com/eyeonus/EDDBlink/migrations"
	"github.com/eyeonus/EDDBlink/pkg/config"
	"github.com/eyeonus/EDDBlink/pkg/retry"
)

// DB wraps the sql connection with dialect awareness and the busy retry
// policy shared by every write.
type DB struct {
	*sql.DB
	driver   string // "sqlite" or "postgres"
	sqlName  string // driver name registered with database/sql
	dsn      string
	logger   *zap.Logger
	busyWait *retry.Config
}

// Open connects to the configured database and verifies the connection.
// Migrations are not applied here; call Migrate.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	db := &DB{
		logger:   logger.Named("store"),
		busyWait: retry.Fixed(cfg.BusyRetryDelay),
	}

	var err error
	switch cfg.Driver {
	case "sqlite":
		err = db.openSQLite(cfg.Path)
	case "postgres":
		err = db.openPostgres(cfg.URL)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func (db *DB) openSQLite(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create database directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection means one writer from this process. Contention with
	// other processes is covered by busy_timeout plus the retry policy.
	sqlDB.SetMaxOpenConns(1)

	db.DB = sqlDB
	db.driver = "sqlite"
	db.sqlName = "sqlite"
	db.dsn = dsn
	return nil
}

func (db *DB) openPostgres(url string) error {
	sqlDB, err := sql.Open("pgx", url)
	if err != nil {
		return fmt.Errorf("failed to open postgres database: %w", err)
	}

	db.DB = sqlDB
	db.driver = "postgres"
	db.sqlName = "pgx"
	db.dsn = url
	return nil
}

// Driver returns the dialect name, "sqlite" or "postgres".
func (db *DB) Driver() string { return db.driver }

// Q rewrites ? placeholders to $1, $2, ... for postgres and passes the
// query through unchanged for sqlite.
func (db *DB) Q(query string) string {
	if db.driver == "postgres" {
		return Rebind(query)
	}
	return query
}

// Rebind rewrites ? placeholders to $1, $2, ... for postgres.
func Rebind(query string) string {
	if !strings.ContainsRune(query, '?') {
		return query
	}
	var b strings.Builder
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// Migrate applies pending schema migrations. It is idempotent and safe
// to call on every startup.
func (db *DB) Migrate() error {
	return db.withMigrator(func(m *migrate.Migrate) error {
		err := m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			db.logger.Info("schema up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		version, _, _ := m.Version()
		db.logger.Info("applied migrations", zap.Uint("version", version))
		return nil
	})
}

// Reset reverts every migration and reapplies them, leaving the schema
// in place with empty tables. Used by the clean import path.
func (db *DB) Reset() error {
	return db.withMigrator(func(m *migrate.Migrate) error {
		if err := m.Down(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to revert migrations: %w", err)
		}
		if err := m.Up(); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		db.logger.Info("database reset")
		return nil
	})
}

// withMigrator runs fn with a migrate instance bound to a dedicated
// connection, so closing the migrator never touches the live pool.
func (db *DB) withMigrator(fn func(*migrate.Migrate) error) error {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	conn, err := sql.Open(db.sqlName, db.dsn)
	if err != nil {
		return fmt.Errorf("failed to open migration connection: %w", err)
	}
	defer conn.Close()

	var driver migratedb.Driver
	switch db.driver {
	case "sqlite":
		driver, err = migratesqlite.WithInstance(conn, &migratesqlite.Config{})
	case "postgres":
		driver, err = migratepg.WithInstance(conn, &migratepg.Config{})
	default:
		return fmt.Errorf("no migration driver for %s", db.driver)
	}
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, db.driver, driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	defer func() {
		srcErr, dbErr := m.Close()
		if srcErr != nil {
			db.logger.Warn("failed to close migration source", zap.Error(srcErr))
		}
		if dbErr != nil {
			db.logger.Warn("failed to close migration database", zap.Error(dbErr))
		}
	}()

	return fn(m)
}

// IsBusy reports whether err means another writer holds the database.
// Busy writes are retried indefinitely rather than failed.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case 5, 6: // SQLITE_BUSY, SQLITE_LOCKED
			return true
		}
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && pe.Code == "55P03" { // lock_not_available
		return true
	}
	return strings.Contains(err.Error(), "database is locked")
}

// IsConstraint reports whether err is a constraint violation. The import
// passes skip the offending record and keep going.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) && se.Code()&0xff == 19 { // SQLITE_CONSTRAINT
		return true
	}
	var pe *pgconn.PgError
	if errors.As(err, &pe) && strings.HasPrefix(pe.Code, "23") { // integrity violation
		return true
	}
	return false
}
