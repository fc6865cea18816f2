// Package executor runs generated read-only SQL against the dataset and
// serializes result sets for the SQL result cache.
package executor

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/askcache/pkg/normalize"
)

// ErrNotReadOnly is returned for statements that could modify the dataset.
var ErrNotReadOnly = errors.New("only a single SELECT statement may be executed")

var (
	stringLiteral  = regexp.MustCompile(`'(?:[^']|'')*'`)
	writeKeywords  = regexp.MustCompile(`\b(insert|update|delete|drop|alter|create|attach|detach|pragma|vacuum|reindex)\b`)
	leadingKeyword = regexp.MustCompile(`^\(*\s*(select|with)\b`)
)

// Result is the tabular payload stored in the SQL result cache.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Truncated bool     `json:"truncated,omitempty"`
}

// Executor runs queries on a dataset opened in query-only mode.
type Executor struct {
	db      *sql.DB
	maxRows int
	timeout time.Duration
	log     logrus.FieldLogger
}

// Option configures an Executor.
type Option func(*Executor)

// WithMaxRows caps the rows returned per query.
func WithMaxRows(n int) Option {
	return func(e *Executor) { e.maxRows = n }
}

// WithTimeout bounds each query.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) {
		if l != nil {
			e.log = l
		}
	}
}

// Open opens the dataset at path. Writes are refused by the connection.
func Open(path string, opts ...Option) (*Executor, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=query_only(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open dataset: %w", err)
	}
	return NewWithDB(db, opts...), nil
}

// NewWithDB wraps an open dataset connection.
func NewWithDB(db *sql.DB, opts ...Option) *Executor {
	e := &Executor{
		db:      db,
		maxRows: 1000,
		timeout: 30 * time.Second,
		log:     logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Close releases the dataset connection.
func (e *Executor) Close() error {
	return e.db.Close()
}

// CheckReadOnly rejects anything but a single SELECT or WITH ... SELECT.
func CheckReadOnly(query string) error {
	s := normalize.NormalizeSQL(query)
	s = stringLiteral.ReplaceAllString(s, "''")
	if s == "" || strings.Contains(s, ";") {
		return ErrNotReadOnly
	}
	if !leadingKeyword.MatchString(s) || writeKeywords.MatchString(s) {
		return ErrNotReadOnly
	}
	return nil
}

// Query runs query and collects at most maxRows rows.
func (e *Executor) Query(ctx context.Context, query string) (*Result, error) {
	if err := CheckReadOnly(query); err != nil {
		return nil, err
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("execute query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}
	res := &Result{Columns: cols, Rows: [][]any{}}
	for rows.Next() {
		if e.maxRows > 0 && len(res.Rows) >= e.maxRows {
			res.Truncated = true
			break
		}
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range vals {
			if b, ok := v.([]byte); ok {
				vals[i] = string(b)
			}
		}
		res.Rows = append(res.Rows, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	if res.Truncated {
		e.log.WithField("max_rows", e.maxRows).Debug("result truncated")
	}
	return res, nil
}

// Execute runs query and returns the serialized payload and its row count.
func (e *Executor) Execute(ctx context.Context, query string) ([]byte, int, error) {
	res, err := e.Query(ctx, query)
	if err != nil {
		return nil, 0, err
	}
	payload, err := json.Marshal(res)
	if err != nil {
		return nil, 0, fmt.Errorf("encode result: %w", err)
	}
	return payload, len(res.Rows), nil
}

// DecodeResult parses a payload produced by Execute.
func DecodeResult(payload []byte) (*Result, error) {
	var r Result
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &r, nil
}

// Schema returns the CREATE statements of the dataset's tables and views.
func (e *Executor) Schema(ctx context.Context) (string, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT sql FROM sqlite_master
		 WHERE type IN ('table', 'view') AND sql IS NOT NULL AND name NOT LIKE 'sqlite_%'
		 ORDER BY name`)
	if err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	defer rows.Close()

	var stmts []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return "", fmt.Errorf("read schema: %w", err)
		}
		stmts = append(stmts, strings.TrimSpace(s)+";")
	}
	if err := rows.Err(); err != nil {
		return "", fmt.Errorf("read schema: %w", err)
	}
	return strings.Join(stmts, "\n\n"), nil
}
