package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/askcache/pkg/models"
)

// GetSQLResult returns the row for hash if it has not expired at now.
func (s *Store) GetSQLResult(ctx context.Context, hash string, now time.Time) (*models.SQLResultEntry, error) {
	var e models.SQLResultEntry
	err := s.withRetry(ctx, "get_sql_result", func() error {
		var createdAt, expiresAt, accessed int64
		err := s.db.QueryRowContext(ctx,
			`SELECT sql_hash, sql_query, result_payload, row_count, hit_count, created_at, expires_at, last_accessed
			 FROM sql_result_cache WHERE sql_hash = ? AND expires_at > ?`,
			hash, toMillis(now),
		).Scan(&e.SQLHash, &e.SQLQuery, &e.ResultPayload, &e.RowCount, &e.HitCount, &createdAt, &expiresAt, &accessed)
		if err != nil {
			return err
		}
		e.CreatedAt = fromMillis(createdAt)
		e.ExpiresAt = fromMillis(expiresAt)
		e.LastAccessedAt = fromMillis(accessed)
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sql result: %w", err)
	}
	return &e, nil
}

// TouchSQLResult records a reuse. Expiry is left untouched.
func (s *Store) TouchSQLResult(ctx context.Context, hash string, now time.Time) error {
	_, err := s.exec(ctx, "touch_sql_result",
		`UPDATE sql_result_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE sql_hash = ?`,
		toMillis(now), hash)
	return err
}

// UpsertSQLResult inserts e, or on a hash conflict replaces the payload and
// refreshes created_at and expires_at.
func (s *Store) UpsertSQLResult(ctx context.Context, e *models.SQLResultEntry) error {
	_, err := s.exec(ctx, "upsert_sql_result",
		`INSERT INTO sql_result_cache
			(sql_hash, sql_query, result_payload, row_count, hit_count, created_at, expires_at, last_accessed)
		 VALUES (?, ?, ?, ?, 0, ?, ?, ?)
		 ON CONFLICT(sql_hash) DO UPDATE SET
			sql_query = excluded.sql_query,
			result_payload = excluded.result_payload,
			row_count = excluded.row_count,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed,
			hit_count = sql_result_cache.hit_count + 1`,
		e.SQLHash, e.SQLQuery, e.ResultPayload, e.RowCount,
		toMillis(e.CreatedAt), toMillis(e.ExpiresAt), toMillis(e.LastAccessedAt))
	return err
}

// DeleteExpiredSQLResults removes rows with expires_at at or before now.
func (s *Store) DeleteExpiredSQLResults(ctx context.Context, now time.Time) (int64, error) {
	return s.exec(ctx, "delete_expired_sql_results", `DELETE FROM sql_result_cache WHERE expires_at <= ?`, toMillis(now))
}

// ClearSQLResults removes every result row.
func (s *Store) ClearSQLResults(ctx context.Context) (int64, error) {
	return s.exec(ctx, "clear_sql_results", `DELETE FROM sql_result_cache`)
}

// SQLResultStats returns entry and hit totals plus the topN most hit queries.
func (s *Store) SQLResultStats(ctx context.Context, topN int) (models.TierStats, error) {
	return s.stats(ctx, "sql",
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM sql_result_cache`,
		`SELECT sql_hash, sql_query, hit_count, last_accessed FROM sql_result_cache
		 ORDER BY hit_count DESC, last_accessed DESC LIMIT ?`,
		topN)
}
