// Package querylog records every question the pipeline handles, with its
// keywords, cache outcome and latency, in a dedicated SQLite database.
package querylog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/askcache/pkg/models"
)

// Logger writes and queries query log entries.
type Logger struct {
	db   *sql.DB
	cfg  models.QueryLogConfig
	log  logrus.FieldLogger
	done chan struct{}
	wg   sync.WaitGroup
}

// New opens the query log database and starts the retention loop.
func New(cfg models.QueryLogConfig, log logrus.FieldLogger) (*Logger, error) {
	db, err := sql.Open("sqlite", cfg.DBPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open query log db: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate query log db: %w", err)
	}

	if log == nil {
		log = logrus.StandardLogger()
	}
	l := &Logger{
		db:   db,
		cfg:  cfg,
		log:  log.WithField("component", "querylog"),
		done: make(chan struct{}),
	}

	l.wg.Add(1)
	go l.retentionLoop()

	return l, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS query_log (
		request_id    TEXT PRIMARY KEY,
		question      TEXT NOT NULL,
		keywords      TEXT NOT NULL DEFAULT '',
		sql_query     TEXT,
		answer_source TEXT NOT NULL,
		similarity    REAL NOT NULL DEFAULT 0,
		sql_cached    INTEGER NOT NULL DEFAULT 0,
		row_count     INTEGER NOT NULL DEFAULT 0,
		latency_ms    INTEGER NOT NULL DEFAULT 0,
		error         TEXT,
		created_at    INTEGER NOT NULL
	)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_created ON query_log(created_at)`)
	if err != nil {
		return err
	}
	_, err = db.Exec(`CREATE INDEX IF NOT EXISTS idx_query_log_source ON query_log(answer_source)`)
	return err
}

// Log inserts an entry. A nil Logger discards it.
func (l *Logger) Log(ctx context.Context, entry models.QueryLogEntry) error {
	if l == nil || l.db == nil {
		return nil
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	sqlCached := 0
	if entry.SQLCached {
		sqlCached = 1
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO query_log
		(request_id, question, keywords, sql_query, answer_source, similarity,
		 sql_cached, row_count, latency_ms, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.RequestID, entry.Question, strings.Join(entry.Keywords, " "), entry.SQLQuery,
		entry.AnswerSource, entry.Similarity, sqlCached, entry.RowCount, entry.LatencyMs,
		entry.Error, entry.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("query log insert: %w", err)
	}
	return nil
}

// Query returns entries matching opts, newest first.
func (l *Logger) Query(ctx context.Context, opts models.QueryLogOpts) ([]models.QueryLogEntry, error) {
	q := `SELECT request_id, question, keywords, sql_query, answer_source, similarity,
		sql_cached, row_count, latency_ms, error, created_at
		FROM query_log WHERE 1=1`
	var args []any

	if opts.RequestID != "" {
		q += " AND request_id = ?"
		args = append(args, opts.RequestID)
	}
	if opts.Keyword != "" {
		q += " AND (' ' || keywords || ' ') LIKE ?"
		args = append(args, "% "+strings.ToLower(opts.Keyword)+" %")
	}
	if opts.AnswerSource != "" {
		q += " AND answer_source = ?"
		args = append(args, opts.AnswerSource)
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}

	q += " ORDER BY created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query log search: %w", err)
	}
	defer rows.Close()

	var entries []models.QueryLogEntry
	for rows.Next() {
		var e models.QueryLogEntry
		var keywords string
		var sqlQuery, errText sql.NullString
		var sqlCached int
		var createdAt int64
		if err := rows.Scan(
			&e.RequestID, &e.Question, &keywords, &sqlQuery, &e.AnswerSource, &e.Similarity,
			&sqlCached, &e.RowCount, &e.LatencyMs, &errText, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan query log row: %w", err)
		}
		e.Keywords = strings.Fields(keywords)
		e.SQLQuery = sqlQuery.String
		e.Error = errText.String
		e.SQLCached = sqlCached != 0
		e.CreatedAt = time.UnixMilli(createdAt).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Stats returns counts and mean latency grouped by answer source and day.
func (l *Logger) Stats(ctx context.Context) ([]models.QueryLogStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT answer_source, date(created_at / 1000, 'unixepoch') AS day, count(*), avg(latency_ms)
		 FROM query_log GROUP BY answer_source, day ORDER BY day DESC, answer_source`)
	if err != nil {
		return nil, fmt.Errorf("query log stats: %w", err)
	}
	defer rows.Close()

	var stats []models.QueryLogStat
	for rows.Next() {
		var s models.QueryLogStat
		var day sql.NullString
		if err := rows.Scan(&s.AnswerSource, &day, &s.Count, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("scan query log stat: %w", err)
		}
		s.Day = day.String
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Cleanup deletes entries older than the retention period.
func (l *Logger) Cleanup(ctx context.Context) (int64, error) {
	if l.cfg.RetentionDays <= 0 {
		return 0, nil
	}
	cutoff := time.Now().AddDate(0, 0, -l.cfg.RetentionDays)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM query_log WHERE created_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("query log cleanup: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the retention goroutine and closes the database.
func (l *Logger) Close() error {
	close(l.done)
	l.wg.Wait()
	return l.db.Close()
}

func (l *Logger) retentionLoop() {
	defer l.wg.Done()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-l.done:
			return
		case <-ticker.C:
			n, err := l.Cleanup(context.Background())
			if err != nil {
				l.log.WithError(err).Warn("query log retention failed")
				continue
			}
			if n > 0 {
				l.log.WithField("deleted", n).Info("query log retention")
			}
		}
	}
}
