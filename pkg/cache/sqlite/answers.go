package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/pario-ai/askcache/pkg/embedding"
	"github.com/pario-ai/askcache/pkg/models"
)

const answerColumns = `id, question_hash, question_normalized, question_original, response,
	embedding, hit_count, created_at, last_accessed`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanAnswer(row rowScanner) (*models.AnswerEntry, error) {
	var (
		e                   models.AnswerEntry
		blob                []byte
		createdAt, accessed int64
	)
	if err := row.Scan(&e.ID, &e.QuestionHash, &e.QuestionNormalized, &e.QuestionOriginal, &e.Response,
		&blob, &e.HitCount, &createdAt, &accessed); err != nil {
		return nil, err
	}
	vec, err := embedding.Decode(blob)
	if err != nil {
		s.log.WithError(err).WithField("hash", e.QuestionHash).Warn("discarding malformed embedding")
		vec = nil
	}
	e.Embedding = vec
	e.CreatedAt = fromMillis(createdAt)
	e.LastAccessedAt = fromMillis(accessed)
	return &e, nil
}

// GetAnswer returns the row for hash or ErrNotFound.
func (s *Store) GetAnswer(ctx context.Context, hash string) (*models.AnswerEntry, error) {
	var entry *models.AnswerEntry
	err := s.withRetry(ctx, "get_answer", func() error {
		row := s.db.QueryRowContext(ctx, `SELECT `+answerColumns+` FROM answer_cache WHERE question_hash = ?`, hash)
		e, err := s.scanAnswer(row)
		entry = e
		return err
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get answer: %w", err)
	}
	return entry, nil
}

// UpsertAnswer inserts e, or on a hash conflict replaces the response, fills
// a missing embedding, refreshes last_accessed and bumps hit_count.
func (s *Store) UpsertAnswer(ctx context.Context, e *models.AnswerEntry) error {
	var blob any
	if e.HasEmbedding() {
		blob = embedding.Encode(e.Embedding)
	}
	err := s.withRetry(ctx, "upsert_answer", func() error {
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO answer_cache
				(question_hash, question_normalized, question_original, response, embedding, hit_count, created_at, last_accessed)
			 VALUES (?, ?, ?, ?, ?, 1, ?, ?)
			 ON CONFLICT(question_hash) DO UPDATE SET
				response = excluded.response,
				embedding = COALESCE(excluded.embedding, answer_cache.embedding),
				last_accessed = excluded.last_accessed,
				hit_count = answer_cache.hit_count + 1`,
			e.QuestionHash, e.QuestionNormalized, e.QuestionOriginal, e.Response, blob,
			toMillis(e.CreatedAt), toMillis(e.LastAccessedAt),
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// TouchAnswer records a reuse of the row for hash.
func (s *Store) TouchAnswer(ctx context.Context, hash string, now time.Time) error {
	err := s.withRetry(ctx, "touch_answer", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE answer_cache SET hit_count = hit_count + 1, last_accessed = ? WHERE question_hash = ?`,
			toMillis(now), hash)
		return err
	})
	if err != nil {
		return fmt.Errorf("touch answer: %w", err)
	}
	return nil
}

// SetAnswerEmbedding backfills the embedding of a row that has none.
func (s *Store) SetAnswerEmbedding(ctx context.Context, hash string, vec []float32) error {
	if len(vec) == 0 {
		return nil
	}
	blob := embedding.Encode(vec)
	err := s.withRetry(ctx, "set_answer_embedding", func() error {
		_, err := s.db.ExecContext(ctx,
			`UPDATE answer_cache SET embedding = ? WHERE question_hash = ? AND embedding IS NULL`,
			blob, hash)
		return err
	})
	if err != nil {
		return fmt.Errorf("set answer embedding: %w", err)
	}
	return nil
}

// RecentAnswersWithEmbedding returns up to limit rows that carry an
// embedding and were accessed after notBefore, most recently accessed first.
func (s *Store) RecentAnswersWithEmbedding(ctx context.Context, limit int, notBefore time.Time) ([]models.AnswerEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []models.AnswerEntry
	err := s.withRetry(ctx, "recent_answers", func() error {
		out = out[:0]
		rows, err := s.db.QueryContext(ctx,
			`SELECT `+answerColumns+` FROM answer_cache
			 WHERE embedding IS NOT NULL AND last_accessed > ?
			 ORDER BY last_accessed DESC, id DESC
			 LIMIT ?`,
			toMillis(notBefore), limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			e, err := s.scanAnswer(rows)
			if err != nil {
				return err
			}
			if e.HasEmbedding() {
				out = append(out, *e)
			}
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("recent answers: %w", err)
	}
	return out, nil
}

// DeleteAnswersAccessedBefore removes rows whose last access is at or before cutoff.
func (s *Store) DeleteAnswersAccessedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.exec(ctx, "delete_stale_answers", `DELETE FROM answer_cache WHERE last_accessed <= ?`, toMillis(cutoff))
}

// ClearAnswers removes every answer row.
func (s *Store) ClearAnswers(ctx context.Context) (int64, error) {
	return s.exec(ctx, "clear_answers", `DELETE FROM answer_cache`)
}

// AnswerStats returns entry and hit totals plus the topN most hit questions.
func (s *Store) AnswerStats(ctx context.Context, topN int) (models.TierStats, error) {
	return s.stats(ctx, "answer",
		`SELECT COUNT(*), COALESCE(SUM(hit_count), 0) FROM answer_cache`,
		`SELECT question_hash, question_original, hit_count, last_accessed FROM answer_cache
		 ORDER BY hit_count DESC, last_accessed DESC LIMIT ?`,
		topN)
}

func (s *Store) exec(ctx context.Context, op, query string, args ...any) (int64, error) {
	var n int64
	err := s.withRetry(ctx, op, func() error {
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

func (s *Store) stats(ctx context.Context, tier, totalsQuery, topQuery string, topN int) (models.TierStats, error) {
	st := models.TierStats{Tier: tier}
	err := s.withRetry(ctx, tier+"_stats", func() error {
		return s.db.QueryRowContext(ctx, totalsQuery).Scan(&st.Entries, &st.TotalHits)
	})
	if err != nil {
		return st, fmt.Errorf("%s stats: %w", tier, err)
	}
	if topN <= 0 {
		return st, nil
	}

	err = s.withRetry(ctx, tier+"_top", func() error {
		st.Top = st.Top[:0]
		rows, err := s.db.QueryContext(ctx, topQuery, topN)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var te models.TopEntry
			var accessed int64
			if err := rows.Scan(&te.Hash, &te.Text, &te.HitCount, &accessed); err != nil {
				return err
			}
			te.LastAccessed = fromMillis(accessed)
			st.Top = append(st.Top, te)
		}
		return rows.Err()
	})
	if err != nil {
		return st, fmt.Errorf("%s top entries: %w", tier, err)
	}
	return st, nil
}
