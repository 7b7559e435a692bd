// Package storage archives ledger records and the remote objects each
// session created, so objects can be cleaned up from a later process.
package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/spherical-ai/spherical/libs/extractflow/internal/observability"
)

//go:embed schema.sql
var schema string

// Common errors
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnsupportedDriver = errors.New("unsupported archive driver")
)

// Config selects and tunes the database.
type Config struct {
	Driver       string // sqlite or postgres
	DSN          string // file path for sqlite
	MaxOpenConns int
}

// Store is the SQL archive.
type Store struct {
	db     *sql.DB
	driver string
	logger *observability.Logger
	now    func() time.Time
}

// Open connects to the configured database and applies the schema.
func Open(ctx context.Context, cfg Config, logger *observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.Nop()
	}

	var driver, dsn string
	switch cfg.Driver {
	case "sqlite":
		driver = "sqlite3"
		if cfg.DSN == "" {
			return nil, fmt.Errorf("sqlite path is required")
		}
		if dir := filepath.Dir(cfg.DSN); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create archive dir: %w", err)
			}
		}
		dsn = cfg.DSN
		if !strings.Contains(dsn, "?") {
			dsn += "?_busy_timeout=5000"
		}
	case "postgres":
		driver = "postgres"
		dsn = cfg.DSN
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, cfg.Driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{
		db:     db,
		driver: driver,
		logger: logger.WithOperation("storage"),
		now:    func() time.Time { return time.Now().UTC() },
	}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.logger.Debug().Str("driver", driver).Msg("archive opened")
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}
