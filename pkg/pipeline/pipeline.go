// Package pipeline answers natural-language questions about the dataset.
// It consults the answer cache first, then generates SQL, consults the SQL
// result cache, executes on a miss and summarizes the rows.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/askcache/pkg/cache/answer"
	"github.com/pario-ai/askcache/pkg/llm"
	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/normalize"
)

var (
	// ErrEmptyQuestion is returned for blank questions.
	ErrEmptyQuestion = errors.New("question is empty")
	// ErrNoSQL is returned when the model reply contains no query.
	ErrNoSQL = errors.New("model returned no SQL")
)

// Executor runs read-only SQL against the dataset.
type Executor interface {
	Execute(ctx context.Context, query string) ([]byte, int, error)
	Schema(ctx context.Context) (string, error)
}

// AnswerCache is the question-level cache tier.
type AnswerCache interface {
	Get(ctx context.Context, question string) (answer.Result, bool)
	Save(ctx context.Context, question, response string) bool
}

// ResultCache is the SQL-level cache tier.
type ResultCache interface {
	Get(ctx context.Context, sqlText string) (*models.SQLResultEntry, bool)
	Save(ctx context.Context, sqlText string, payload []byte, rowCount int) bool
}

// QueryLog records handled questions.
type QueryLog interface {
	Log(ctx context.Context, entry models.QueryLogEntry) error
}

// Pipeline is safe for concurrent use.
type Pipeline struct {
	llm        llm.Client
	exec       Executor
	answers    AnswerCache
	results    ResultCache
	queryLog   QueryLog
	normalizer *normalize.Normalizer
	log        logrus.FieldLogger
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithAnswerCache enables the answer tier.
func WithAnswerCache(c AnswerCache) Option {
	return func(p *Pipeline) { p.answers = c }
}

// WithResultCache enables the SQL result tier.
func WithResultCache(c ResultCache) Option {
	return func(p *Pipeline) { p.results = c }
}

// WithQueryLog records every question on l.
func WithQueryLog(l QueryLog) Option {
	return func(p *Pipeline) { p.queryLog = l }
}

// WithNormalizer sets the normalizer used for query-log keywords.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(p *Pipeline) {
		if n != nil {
			p.normalizer = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

// New creates a pipeline. Both caches are optional.
func New(client llm.Client, exec Executor, opts ...Option) *Pipeline {
	p := &Pipeline{
		llm:        client,
		exec:       exec,
		normalizer: normalize.New(normalize.English),
		log:        logrus.StandardLogger(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Ask answers question. Cache failures only cost latency; errors come from
// SQL generation, execution or summarization.
func (p *Pipeline) Ask(ctx context.Context, question string) (*models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}
	start := time.Now()
	a := &models.Answer{RequestID: requestID(ctx), Question: question}
	log := p.log.WithField("request_id", a.RequestID)

	err := p.answer(ctx, a)
	a.Latency = time.Since(start)
	p.record(ctx, a, err)
	if err != nil {
		log.WithError(err).Warn("ask failed")
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"source":     a.Source(),
		"sql_cached": a.SQLCached,
		"latency_ms": a.Latency.Milliseconds(),
	}).Info("question answered")
	return a, nil
}

func (p *Pipeline) answer(ctx context.Context, a *models.Answer) error {
	if p.answers != nil {
		if res, ok := p.answers.Get(ctx, a.Question); ok {
			a.Response = res.Response
			a.CacheLevel = res.Level
			a.Similarity = res.Similarity
			return nil
		}
	}

	schema, err := p.exec.Schema(ctx)
	if err != nil {
		return fmt.Errorf("describe dataset: %w", err)
	}
	reply, err := p.llm.Generate(ctx, sqlPrompt(schema, a.Question), nil)
	if err != nil {
		return fmt.Errorf("generate sql: %w", err)
	}
	a.SQL = llm.ExtractSQL(reply)
	if a.SQL == "" {
		return ErrNoSQL
	}

	payload, err := p.rows(ctx, a)
	if err != nil {
		return err
	}

	summary, err := p.llm.Generate(ctx, summaryPrompt(a.Question, a.SQL, payload), nil)
	if err != nil {
		return fmt.Errorf("summarize result: %w", err)
	}
	a.Response = summary

	if p.answers != nil {
		p.answers.Save(ctx, a.Question, summary)
	}
	return nil
}

func (p *Pipeline) rows(ctx context.Context, a *models.Answer) ([]byte, error) {
	if p.results != nil {
		if e, ok := p.results.Get(ctx, a.SQL); ok {
			a.SQLCached = true
			a.RowCount = e.RowCount
			return e.ResultPayload, nil
		}
	}

	payload, n, err := p.exec.Execute(ctx, a.SQL)
	if err != nil {
		return nil, fmt.Errorf("execute sql: %w", err)
	}
	a.RowCount = n
	if p.results != nil {
		p.results.Save(ctx, a.SQL, payload, n)
	}
	return payload, nil
}

func (p *Pipeline) record(ctx context.Context, a *models.Answer, askErr error) {
	if p.queryLog == nil {
		return
	}
	entry := models.QueryLogEntry{
		RequestID:    a.RequestID,
		Question:     a.Question,
		Keywords:     p.normalizer.Keywords(a.Question),
		SQLQuery:     a.SQL,
		AnswerSource: a.Source(),
		Similarity:   a.Similarity,
		SQLCached:    a.SQLCached,
		RowCount:     a.RowCount,
		LatencyMs:    a.Latency.Milliseconds(),
		CreatedAt:    time.Now(),
	}
	if askErr != nil {
		entry.AnswerSource = "error"
		entry.Error = askErr.Error()
	}
	// the request context may already be cancelled
	if err := p.queryLog.Log(context.WithoutCancel(ctx), entry); err != nil {
		p.log.WithError(err).Warn("query log write failed")
	}
}
