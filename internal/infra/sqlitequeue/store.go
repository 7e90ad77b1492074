package sqlitequeue

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"mailbridge/pkg/flock"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

var (
	ErrJobNotFound = errors.New("sqlitequeue: job not found")
	ErrNotFailed   = errors.New("sqlitequeue: job is not failed")
	ErrBadStatus   = errors.New("sqlitequeue: unknown status")
)

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	sender       TEXT NOT NULL,
	command      TEXT NOT NULL,
	dedup_key    TEXT,
	subject      TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL DEFAULT 'pending',
	result       TEXT,
	error        TEXT,
	retry_count  INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL,
	completed_at INTEGER
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_dedup_key ON jobs(dedup_key);
CREATE INDEX IF NOT EXISTS idx_jobs_status_created ON jobs(status, created_at, id);
`

// Store is the durable command queue. The advisory lock lives next to the
// database file as "<db>.lock" and guards Dequeue against a second process
// using the same file.
type Store struct {
	db          *sql.DB
	lock        *flock.Lock
	now         func() time.Time
	busyTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Store)

// WithBusyTimeout bounds how long a statement waits on a write lock held by
// another connection before the store reports it busy.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) { s.busyTimeout = d }
}

// WithClock replaces time.Now for timestamps and age comparisons.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func Open(path string, opts ...Option) (*Store, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve db path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	s := &Store{
		lock:        flock.New(abs + ".lock"),
		now:         time.Now,
		busyTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", abs, s.busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	s.db = db

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	log.Info().Str("path", abs).Msg("command queue ready")
	return s, nil
}

// Close releases the store lock and the database. It is idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() {
		lerr := s.lock.Close()
		derr := s.db.Close()
		s.closeErr = errors.Join(lerr, derr)
	})
	return s.closeErr
}

const jobColumns = `id, sender, command, dedup_key, subject, status, result, error, retry_count, created_at, updated_at, completed_at`

type scanner func(dest ...any) error

func scanJob(scan scanner) (*jobRow, error) {
	var r jobRow
	err := scan(
		&r.ID,
		&r.Sender,
		&r.Command,
		&r.DedupKey,
		&r.Subject,
		&r.Status,
		&r.Result,
		&r.Error,
		&r.RetryCount,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// isBusy reports SQLite BUSY/LOCKED conditions, which callers treat as an
// empty result to be retried on the next cycle.
func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}
