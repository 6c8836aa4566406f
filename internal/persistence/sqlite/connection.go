package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/room-scheduler/internal/persistence"
)

// timeLayout is fixed width so stored instants compare lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Config describes how to open a SQLite database.
type Config struct {
	// Path is a file path or ":memory:".
	Path        string
	BusyTimeout time.Duration
	// MaxRetries bounds retries of statements that fail with SQLITE_BUSY or SQLITE_LOCKED.
	MaxRetries uint64
	RetryBase  time.Duration
}

// DefaultConfig returns the configuration used when only a path is known.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		BusyTimeout: 5 * time.Second,
		MaxRetries:  3,
		RetryBase:   100 * time.Millisecond,
	}
}

func (c Config) dsn() string {
	params := url.Values{}
	params.Add("_pragma", "foreign_keys(1)")
	params.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	if !c.inMemory() {
		params.Add("_pragma", "journal_mode(WAL)")
	}
	params.Set("_txlock", "immediate")
	return "file:" + c.Path + "?" + params.Encode()
}

func (c Config) inMemory() bool {
	return c.Path == ":memory:" || strings.Contains(c.Path, "mode=memory")
}

// ConnectionPool manages SQLite database connections with transaction support
type ConnectionPool struct {
	db     *sql.DB
	config Config
}

// NewConnectionPool opens the database described by config.
func NewConnectionPool(ctx context.Context, config Config) (*ConnectionPool, error) {
	if config.Path == "" {
		return nil, errors.New("sqlite: database path is required")
	}
	if config.RetryBase <= 0 {
		config.RetryBase = DefaultConfig(config.Path).RetryBase
	}

	db, err := sql.Open("sqlite", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if config.inMemory() {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", config.Path, err)
	}

	return &ConnectionPool{db: db, config: config}, nil
}

// DB returns the underlying database connection
func (cp *ConnectionPool) DB() *sql.DB {
	return cp.db
}

// Close closes the connection pool
func (cp *ConnectionPool) Close() error {
	if cp.db != nil {
		return cp.db.Close()
	}
	return nil
}

// TransactionFunc represents a function that executes within a transaction
type TransactionFunc func(tx *sql.Tx) error

// WithTransaction executes fn within a transaction. The transaction is
// committed when fn returns nil and rolled back otherwise. Busy and locked
// failures restart the whole transaction.
func (cp *ConnectionPool) WithTransaction(ctx context.Context, fn TransactionFunc) error {
	return cp.withRetry(ctx, func(ctx context.Context) error {
		return cp.runTransaction(ctx, fn)
	})
}

func (cp *ConnectionPool) runTransaction(ctx context.Context, fn TransactionFunc) (err error) {
	tx, err := cp.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction failed (rollback error: %v): %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (cp *ConnectionPool) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(cp.config.MaxRetries, retry.NewExponential(cp.config.RetryBase))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if isBusy(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isBusy(err error) bool {
	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	switch sqliteErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// mapError maps SQLite errors to persistence layer errors.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var sqliteErr *sqlitedriver.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	switch sqliteErr.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
		return fmt.Errorf("%w: %v", persistence.ErrForeignKeyViolation, err)
	case sqlite3.SQLITE_CONSTRAINT_CHECK, sqlite3.SQLITE_CONSTRAINT_NOTNULL:
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	}
	return err
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatNullableTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(column, value string) (time.Time, error) {
	t, err := time.Parse(timeLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse %s: %w", column, err)
	}
	return t.UTC(), nil
}

func parseNullableTime(column string, value sql.NullString) (*time.Time, error) {
	if !value.Valid {
		return nil, nil
	}
	t, err := parseTime(column, value.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
