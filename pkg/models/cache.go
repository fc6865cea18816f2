package models

import "time"

// Level identifies how an answer lookup was satisfied.
type Level string

const (
	LevelNone     Level = ""
	LevelExact    Level = "exact"
	LevelSemantic Level = "semantic"
)

// AnswerEntry is a cached natural-language answer keyed by the hash of the
// normalized question.
type AnswerEntry struct {
	ID                 int64     `json:"id"`
	QuestionHash       string    `json:"question_hash"`
	QuestionNormalized string    `json:"question_normalized"`
	QuestionOriginal   string    `json:"question_original"`
	Embedding          []float32 `json:"-"`
	Response           string    `json:"response"`
	HitCount           int64     `json:"hit_count"`
	CreatedAt          time.Time `json:"created_at"`
	LastAccessedAt     time.Time `json:"last_accessed"`
}

// HasEmbedding reports whether the entry can take part in semantic scans.
func (e *AnswerEntry) HasEmbedding() bool {
	return e != nil && len(e.Embedding) > 0
}

// SQLResultEntry is a cached result set keyed by the hash of the normalized SQL text.
type SQLResultEntry struct {
	SQLHash        string    `json:"sql_hash"`
	SQLQuery       string    `json:"sql_query"`
	ResultPayload  []byte    `json:"result_payload"`
	RowCount       int       `json:"row_count"`
	HitCount       int64     `json:"hit_count"`
	CreatedAt      time.Time `json:"created_at"`
	ExpiresAt      time.Time `json:"expires_at"`
	LastAccessedAt time.Time `json:"last_accessed"`
}

// Expired reports whether the entry is no longer servable at now.
func (e *SQLResultEntry) Expired(now time.Time) bool {
	return !e.ExpiresAt.After(now)
}

// TopEntry is one row of a most-hit listing.
type TopEntry struct {
	Hash         string    `json:"hash"`
	Text         string    `json:"text"`
	HitCount     int64     `json:"hit_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// TierStats reports persistent and in-process statistics for one cache tier.
type TierStats struct {
	Tier          string     `json:"tier"`
	Entries       int64      `json:"entries"`
	TotalHits     int64      `json:"total_hits"`
	Top           []TopEntry `json:"top"`
	MemoryEntries int        `json:"memory_entries"`
	Hits          int64      `json:"hits"`
	Misses        int64      `json:"misses"`
}

// HitRate returns the in-process hit rate as a percentage.
func (s TierStats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total) * 100
}
