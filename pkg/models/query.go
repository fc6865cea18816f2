package models

import "time"

// Answer is the outcome of one question handled by the pipeline.
type Answer struct {
	RequestID  string        `json:"request_id"`
	Question   string        `json:"question"`
	Response   string        `json:"response"`
	SQL        string        `json:"sql,omitempty"`
	RowCount   int           `json:"row_count"`
	CacheLevel Level         `json:"cache_level,omitempty"`
	Similarity float64       `json:"similarity,omitempty"`
	SQLCached  bool          `json:"sql_cached"`
	Latency    time.Duration `json:"latency_ns"`
}

// Source labels where the answer came from for logs and reports.
func (a *Answer) Source() string {
	if a.CacheLevel != LevelNone {
		return string(a.CacheLevel)
	}
	return "generated"
}

// QueryLogEntry records a single question handled by the pipeline.
type QueryLogEntry struct {
	RequestID    string    `json:"request_id"`
	Question     string    `json:"question"`
	Keywords     []string  `json:"keywords,omitempty"`
	SQLQuery     string    `json:"sql_query,omitempty"`
	AnswerSource string    `json:"answer_source"`
	Similarity   float64   `json:"similarity,omitempty"`
	SQLCached    bool      `json:"sql_cached"`
	RowCount     int       `json:"row_count"`
	LatencyMs    int64     `json:"latency_ms"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// QueryLogConfig controls the query log subsystem.
type QueryLogConfig struct {
	Enabled       bool   `yaml:"enabled"`
	DBPath        string `yaml:"db_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// QueryLogOpts specifies filters for querying the log.
type QueryLogOpts struct {
	RequestID    string
	Keyword      string
	AnswerSource string
	Since        time.Time
	Limit        int
}

// QueryLogStat holds aggregate counts for an answer source/day combination.
type QueryLogStat struct {
	AnswerSource string
	Day          string
	Count        int
	AvgLatencyMs float64
}
