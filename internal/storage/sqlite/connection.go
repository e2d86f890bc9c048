package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"
	_ "modernc.org/sqlite"

	"github.com/alaamer12/pixcrawler/internal/common"
)

// DB manages the SQLite database connection shared by the repositories and
// the task queue.
type DB struct {
	db     *sql.DB
	logger arbor.ILogger
	config *common.SQLiteConfig
}

// NewDB opens the SQLite database, initialises the goqite queue schema and
// the application schema.
func NewDB(logger arbor.ILogger, config *common.SQLiteConfig) (*DB, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	if config.ResetOnStartup {
		if config.Environment != "development" {
			logger.Warn().
				Str("environment", config.Environment).
				Msg("reset_on_startup is enabled but environment is not 'development' - ignoring reset request")
		} else if err := resetDatabase(logger, config.Path); err != nil {
			return nil, fmt.Errorf("failed to reset database: %w", err)
		}
	}

	logger.Debug().Str("path", config.Path).Msg("Opening database connection")

	// modernc.org/sqlite uses "sqlite" driver name (not "sqlite3")
	db, err := sql.Open("sqlite", config.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't handle concurrent writers well; a single connection
	// both prevents SQLITE_BUSY storms and serialises multi-statement
	// operations from concurrent requests.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &DB{
		db:     db,
		logger: logger,
		config: config,
	}

	if err := goqite.Setup(context.Background(), db); err != nil {
		if strings.Contains(err.Error(), "already exists") {
			logger.Debug().Msg("goqite queue schema already exists (skipping initialization)")
		} else {
			db.Close()
			return nil, fmt.Errorf("failed to initialize goqite schema: %w", err)
		}
	}

	if err := s.configure(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}

	if err := s.InitSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info().Str("path", config.Path).Msg("SQLite database initialized")
	return s, nil
}

// configure applies connection pragmas.
func (s *DB) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if _, err := s.db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return nil
}

// SQL returns the underlying *sql.DB for the queue layer.
func (s *DB) SQL() *sql.DB {
	return s.db
}

// Close closes the database connection.
func (s *DB) Close() error {
	return s.db.Close()
}

// resetDatabase deletes the database files for a clean development run.
func resetDatabase(logger arbor.ILogger, path string) error {
	for _, suffix := range []string{"", "-wal", "-shm"} {
		file := path + suffix
		if err := os.Remove(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to remove %s: %w", file, err)
		}
	}
	logger.Info().Str("path", path).Msg("Database reset on startup")
	return nil
}

// unixToTime converts a Unix timestamp to time.Time, treating zero as unset.
func unixToTime(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

// timeToUnix converts a time.Time to a nullable Unix timestamp column value.
func timeToUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Valid: true, Int64: t.Unix()}
}
