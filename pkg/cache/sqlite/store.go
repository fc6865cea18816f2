// Package sqlite is the persistent store below both cache tiers. Rows
// survive restarts; writes are upserts so concurrent savers converge on one
// row per hash.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/askcache/pkg/metrics"
)

// ErrNotFound is returned when no live row matches a hash.
var ErrNotFound = errors.New("cache entry not found")

// Store holds the answer_cache and sql_result_cache tables.
type Store struct {
	db      *sql.DB
	retry   RetryPolicy
	metrics *metrics.Metrics
	log     logrus.FieldLogger
}

// Option configures a Store.
type Option func(*Store)

// WithRetryPolicy overrides the busy-retry schedule.
func WithRetryPolicy(p RetryPolicy) Option {
	return func(s *Store) { s.retry = p }
}

// WithMetrics records retries on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

const schema = `
CREATE TABLE IF NOT EXISTS answer_cache (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	question_hash       TEXT NOT NULL UNIQUE,
	question_normalized TEXT NOT NULL,
	question_original   TEXT NOT NULL,
	response            TEXT NOT NULL,
	embedding           BLOB,
	hit_count           INTEGER NOT NULL DEFAULT 1,
	created_at          INTEGER NOT NULL,
	last_accessed       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answer_cache_last_accessed ON answer_cache(last_accessed);
CREATE INDEX IF NOT EXISTS idx_answer_cache_hit_count ON answer_cache(hit_count);

CREATE TABLE IF NOT EXISTS sql_result_cache (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	sql_hash       TEXT NOT NULL UNIQUE,
	sql_query      TEXT NOT NULL,
	result_payload BLOB NOT NULL,
	row_count      INTEGER NOT NULL DEFAULT 0,
	hit_count      INTEGER NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL,
	last_accessed  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sql_result_cache_expires_at ON sql_result_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_sql_result_cache_hit_count ON sql_result_cache(hit_count);
`

// DSN builds a modernc sqlite data source name with WAL and a busy timeout.
func DSN(path string, busyTimeout time.Duration) string {
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)", path, busyTimeout.Milliseconds())
}

// Open opens (or creates) the store at path and migrates the schema.
func Open(path string, busyTimeout time.Duration, opts ...Option) (*Store, error) {
	db, err := sql.Open("sqlite", DSN(path, busyTimeout))
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate cache db: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an already migrated database.
func NewWithDB(db *sql.DB, opts ...Option) *Store {
	s := &Store{
		db:    db,
		retry: DefaultRetryPolicy(),
		log:   logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
