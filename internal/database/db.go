// Package database provides database connection and initialization functionality.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrations embed.FS

// Driver selects the SQL backend
type Driver string

const (
	DriverSQLite   Driver = "sqlite"
	DriverPostgres Driver = "postgres"
)

// DatabaseProfile defines different configuration profiles for sqlite databases
type DatabaseProfile string

const (
	// ProfileDurable - fsync on every commit
	ProfileDurable DatabaseProfile = "durable"
	// ProfileStandard - Balanced configuration for most databases
	ProfileStandard DatabaseProfile = "standard"
)

// busyTimeoutMs is how long a sqlite writer waits for the write lock before failing
const busyTimeoutMs = 5000

// DB wraps the database connection with production-grade configuration
type DB struct {
	conn    *sql.DB
	bun     *bun.DB
	driver  Driver
	path    string
	profile DatabaseProfile
	name    string // Database name for logging
}

// Config holds database configuration
type Config struct {
	Driver  Driver
	Path    string // sqlite file path
	DSN     string // postgres connection string
	Profile DatabaseProfile
	Name    string // Friendly name for logging
}

// New creates a new database connection with production-grade configuration
func New(cfg Config) (*DB, error) {
	if cfg.Driver == "" {
		cfg.Driver = DriverSQLite
	}
	if cfg.Profile == "" {
		cfg.Profile = ProfileStandard
	}

	var (
		conn  *sql.DB
		bunDB *bun.DB
		err   error
	)

	switch cfg.Driver {
	case DriverSQLite:
		if !strings.HasPrefix(cfg.Path, "file:") {
			absPath, err := filepath.Abs(cfg.Path)
			if err != nil {
				return nil, fmt.Errorf("failed to resolve database path to absolute: %w", err)
			}
			if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
			cfg.Path = absPath
		}

		conn, err = sql.Open("sqlite", buildConnectionString(cfg.Path, cfg.Profile))
		if err != nil {
			return nil, fmt.Errorf("failed to open database %s: %w", cfg.Name, err)
		}
		bunDB = bun.NewDB(conn, sqlitedialect.New())

	case DriverPostgres:
		conn = sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		bunDB = bun.NewDB(conn, pgdialect.New())

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	configureConnectionPool(conn, cfg.Driver)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", cfg.Name, err)
	}

	return &DB{
		conn:    conn,
		bun:     bunDB,
		driver:  cfg.Driver,
		path:    cfg.Path,
		profile: cfg.Profile,
		name:    cfg.Name,
	}, nil
}

// buildConnectionString creates SQLite connection string with profile-specific PRAGMAs
func buildConnectionString(path string, profile DatabaseProfile) string {
	// busy_timeout first so it already applies while the remaining PRAGMAs run.
	// Claims and reports from many workers contend for the single writer lock.
	connStr := path + fmt.Sprintf("?_pragma=busy_timeout(%d)", busyTimeoutMs)
	connStr += "&_pragma=journal_mode(WAL)"

	switch profile {
	case ProfileDurable:
		connStr += "&_pragma=synchronous(FULL)"
	default:
		connStr += "&_pragma=synchronous(NORMAL)"
		connStr += "&_pragma=temp_store(MEMORY)"
	}

	connStr += "&_pragma=foreign_keys(1)"
	connStr += "&_pragma=wal_autocheckpoint(1000)"
	connStr += "&_pragma=cache_size(-64000)" // 64MB cache (negative = KB)

	return connStr
}

// configureConnectionPool sets up connection pool for long-term operation
func configureConnectionPool(conn *sql.DB, driver Driver) {
	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(24 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if driver == DriverPostgres {
		conn.SetConnMaxLifetime(time.Hour)
	}
}

// Migrate applies the embedded goose migrations for the active driver
func (db *DB) Migrate(ctx context.Context) error {
	dir, dialect := "migrations/sqlite", goose.DialectSQLite3
	if db.driver == DriverPostgres {
		dir, dialect = "migrations/postgres", goose.DialectPostgres
	}

	fsys, err := fs.Sub(migrations, dir)
	if err != nil {
		return fmt.Errorf("failed to open migrations for %s: %w", db.name, err)
	}

	provider, err := goose.NewProvider(dialect, db.conn, fsys)
	if err != nil {
		return fmt.Errorf("failed to create migration provider for %s: %w", db.name, err)
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("failed to migrate %s: %w", db.name, err)
	}

	return nil
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.bun.Close()
}

// Conn returns the underlying sql.DB connection
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Bun returns the bun handle. Repositories use it so one query text with ?
// placeholders works against both sqlite and postgres.
func (db *DB) Bun() *bun.DB {
	return db.bun
}

// Driver returns the active SQL backend
func (db *DB) Driver() Driver {
	return db.driver
}

// Name returns the database name for logging
func (db *DB) Name() string {
	return db.name
}

// Path returns the database file path
func (db *DB) Path() string {
	return db.path
}

// WithTransaction executes a function within a database transaction.
// It handles begin, commit, rollback, panic recovery, and error wrapping automatically.
func WithTransaction(ctx context.Context, db *bun.DB, fn func(bun.Tx) error) (err error) {
	if db == nil {
		return fmt.Errorf("database connection is nil")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			err = fmt.Errorf("panic in transaction: %v", p)
		} else if err != nil {
			rollbackErr := tx.Rollback()
			if rollbackErr != nil {
				err = fmt.Errorf("transaction failed: %w (rollback also failed: %v)", err, rollbackErr)
			} else {
				err = fmt.Errorf("transaction failed: %w", err)
			}
		} else {
			if commitErr := tx.Commit(); commitErr != nil {
				err = fmt.Errorf("failed to commit transaction: %w", commitErr)
			}
		}
	}()

	err = fn(tx)
	return err
}

// HealthCheck performs a comprehensive health check on the database
func (db *DB) HealthCheck(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed for %s: %w", db.name, err)
	}

	if db.driver != DriverSQLite {
		return nil
	}

	var integrityResult string
	if err := db.conn.QueryRowContext(ctx, "PRAGMA quick_check").Scan(&integrityResult); err != nil {
		return fmt.Errorf("integrity check query failed for %s: %w", db.name, err)
	}
	if integrityResult != "ok" {
		return fmt.Errorf("integrity check failed for %s: %s", db.name, integrityResult)
	}

	return nil
}

// QuickCheck performs a quick health check (just ping, no integrity check)
func (db *DB) QuickCheck(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// WALCheckpoint forces a WAL checkpoint to prevent bloat. No-op on postgres.
func (db *DB) WALCheckpoint(ctx context.Context, mode string) error {
	if db.driver != DriverSQLite {
		return nil
	}
	if mode == "" {
		mode = "TRUNCATE"
	}

	if _, err := db.conn.ExecContext(ctx, fmt.Sprintf("PRAGMA wal_checkpoint(%s)", mode)); err != nil {
		return fmt.Errorf("WAL checkpoint failed for %s: %w", db.name, err)
	}

	return nil
}

// Stats returns database statistics
type Stats struct {
	Driver       string `json:"driver"`
	SizeBytes    int64  `json:"size_bytes"`     // Database file size
	WALSizeBytes int64  `json:"wal_size_bytes"` // WAL file size
	OpenConns    int    `json:"open_connections"`
	InUse        int    `json:"in_use"`
}

// GetStats retrieves database statistics
func (db *DB) GetStats() *Stats {
	pool := db.conn.Stats()
	stats := &Stats{
		Driver:    string(db.driver),
		OpenConns: pool.OpenConnections,
		InUse:     pool.InUse,
	}

	if db.driver == DriverSQLite {
		if fileInfo, err := os.Stat(db.path); err == nil {
			stats.SizeBytes = fileInfo.Size()
		}
		if fileInfo, err := os.Stat(db.path + "-wal"); err == nil {
			stats.WALSizeBytes = fileInfo.Size()
		}
	}

	return stats
}
