// Package postgres stores rosters and sessions in PostgreSQL. Descriptors use
// the pgvector column type; reference photos stay on disk.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kozaktomas/attendance/internal/config"
	"github.com/kozaktomas/attendance/internal/database"
	"github.com/kozaktomas/attendance/internal/database/file"
)

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// QueryRow executes a query that returns a single row.
func (p *Pool) QueryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return p.db.QueryRowContext(ctx, query, args...)
}

// Query executes a query that returns rows.
func (p *Pool) Query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	return rows, nil
}

// Exec executes a query that doesn't return rows.
func (p *Pool) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	result, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("executing statement: %w", err)
	}
	return result, nil
}

// BeginTx starts a transaction.
func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	tx, err := p.db.BeginTx(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	return tx, nil
}

// Open connects, applies migrations and returns a postgres backend.
// Reference photos and uploads are kept under dataDir.
func Open(cfg *config.DatabaseConfig, lockTimeout time.Duration, dataDir string) (*database.Backend, error) {
	pool, err := NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	files, err := file.Open(dataDir, lockTimeout)
	if err != nil {
		pool.Close()
		return nil, err
	}

	b, err := database.NewBackend("postgres",
		NewRoster(pool, lockTimeout),
		NewLedger(pool),
		files.Photos,
		pool.Close,
	)
	if err != nil {
		pool.Close()
		return nil, err
	}
	b.Uploads = files.Uploads
	return b, nil
}

// PostgreSQL error codes the backends translate.
const (
	codeLockNotAvailable = "55P03"
	codeUniqueViolation  = "23505"
)

// mapError turns lock timeouts into ErrBusy and unique violations into
// ErrAlreadyExists. Other errors pass through.
func mapError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch pqErr.Code {
	case codeLockNotAvailable:
		return fmt.Errorf("%w: %s", database.ErrBusy, pqErr.Message)
	case codeUniqueViolation:
		return fmt.Errorf("%w: %s", database.ErrAlreadyExists, pqErr.Message)
	}
	return err
}

// lockTimeoutStatement bounds row lock waits within the current transaction.
func lockTimeoutStatement(d time.Duration) string {
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", max(d.Milliseconds(), 0))
}
