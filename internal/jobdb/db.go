package jobdb

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"sdqueue/internal/logging"
)

// ErrNoDatabase is returned by OpenReadOnly when nothing has been persisted
// yet.
var ErrNoDatabase = errors.New("state database does not exist")

// DB is the SQLite-backed job table.
type DB struct {
	db       *sqlx.DB
	path     string
	readOnly bool
	logger   *slog.Logger
}

const (
	sqliteBusyCode          = 5
	busyRetryAttempts       = 5
	busyRetryInitialBackoff = 10 * time.Millisecond
	busyRetryMaxBackoff     = 200 * time.Millisecond
)

// Open creates or opens the database at path and ensures the schema.
func Open(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	conn, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	d := &DB{db: conn, path: path, logger: logging.NewComponentLogger(logger, "jobdb")}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	if err := d.applyPragmas(ctx, pragmas); err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := d.initSchema(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

// OpenReadOnly opens an existing database without write access so views
// can be served while the daemon owns the file.
func OpenReadOnly(ctx context.Context, path string, logger *slog.Logger) (*DB, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDatabase, path)
		}
		return nil, fmt.Errorf("stat state db: %w", err)
	}
	conn, err := sqlx.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	d := &DB{db: conn, path: path, readOnly: true, logger: logging.NewComponentLogger(logger, "jobdb")}
	if err := d.applyPragmas(ctx, []string{"PRAGMA busy_timeout = 5000"}); err != nil {
		_ = conn.Close()
		return nil, err
	}
	exists, err := d.schemaTableExists(ctx)
	if err == nil && !exists {
		err = fmt.Errorf("%w: %s has no schema", ErrNoDatabase, path)
	}
	if err == nil {
		err = d.verifySchema(ctx)
	}
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return d, nil
}

func (d *DB) applyPragmas(ctx context.Context, pragmas []string) error {
	for _, pragma := range pragmas {
		if _, err := d.db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the database handle.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func retryOnBusy(ctx context.Context, op func() error) error {
	delay := busyRetryInitialBackoff
	var lastErr error
	for attempt := 0; attempt < busyRetryAttempts; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if !isSQLiteBusy(lastErr) || attempt == busyRetryAttempts-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if next := delay * 2; next <= busyRetryMaxBackoff {
			delay = next
		}
	}
	return lastErr
}
