package main

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/pario-ai/askcache/pkg/cache/answer"
	"github.com/pario-ai/askcache/pkg/cache/sqlite"
	"github.com/pario-ai/askcache/pkg/cache/sqlresult"
	"github.com/pario-ai/askcache/pkg/config"
	"github.com/pario-ai/askcache/pkg/embedding"
	"github.com/pario-ai/askcache/pkg/executor"
	"github.com/pario-ai/askcache/pkg/llm"
	"github.com/pario-ai/askcache/pkg/metrics"
	"github.com/pario-ai/askcache/pkg/normalize"
	"github.com/pario-ai/askcache/pkg/pipeline"
	"github.com/pario-ai/askcache/pkg/querylog"
	"github.com/pario-ai/askcache/pkg/server"
	"github.com/pario-ai/askcache/pkg/validator"
)

// caches holds the persistent store and whichever tiers are enabled.
type caches struct {
	store   *sqlite.Store
	answers *answer.Cache
	results *sqlresult.Cache
	closers []func() error
}

// app is the fully wired pipeline and its collaborators.
type app struct {
	*caches
	registry *prometheus.Registry
	pipeline *pipeline.Pipeline
	exec     *executor.Executor
	queryLog *querylog.Logger
}

// openCaches opens the store and the enabled tiers. Without a model client
// the answer tier serves exact matches only.
func openCaches(cfg *config.Config, log logrus.FieldLogger, m *metrics.Metrics, model llm.Client) (*caches, error) {
	store, err := sqlite.Open(cfg.DBPath, cfg.Store.BusyTimeout,
		sqlite.WithRetryPolicy(sqlite.RetryPolicy{
			MaxRetries:      cfg.Store.MaxRetries,
			InitialInterval: cfg.Store.InitialBackoff,
			MaxInterval:     cfg.Store.MaxBackoff,
		}),
		sqlite.WithMetrics(m),
		sqlite.WithLogger(log),
	)
	if err != nil {
		return nil, fmt.Errorf("open cache store: %w", err)
	}
	c := &caches{store: store, closers: []func() error{store.Close}}

	normalizer := normalize.New(normalize.Language(cfg.Language))

	if cfg.AnswerCache.Enabled {
		opts := []answer.Option{
			answer.WithNormalizer(normalizer),
			answer.WithMetrics(m),
			answer.WithLogger(log),
		}
		if cfg.AnswerCache.Semantic && model != nil {
			if cfg.Embedding.Model != "" {
				provider := embedding.NewOpenAIProvider(cfg.Embedding.BaseURL, cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
				opts = append(opts, answer.WithEmbedder(embedding.NewClient(provider,
					embedding.WithTimeout(cfg.Embedding.Timeout),
					embedding.WithDimensions(cfg.Embedding.Dimensions),
					embedding.WithLogger(log),
				)))
			}
			if cfg.Validator.Enabled {
				opts = append(opts, answer.WithValidator(validator.New(model,
					validator.WithTimeout(cfg.Validator.Timeout),
					validator.WithLogger(log),
				)))
			}
		}

		c.answers, err = answer.New(store, answer.Config{
			Semantic:            cfg.AnswerCache.Semantic && model != nil,
			TTL:                 cfg.AnswerCache.TTL,
			Capacity:            cfg.AnswerCache.Capacity,
			SimilarityThreshold: cfg.AnswerCache.SimilarityThreshold,
			SemanticSearchLimit: cfg.AnswerCache.SemanticSearchLimit,
			MinResponseLength:   cfg.AnswerCache.MinResponseLength,
		}, opts...)
		if err != nil {
			c.close()
			return nil, fmt.Errorf("init answer cache: %w", err)
		}
		// Close waits for embedding backfills and must run before the store closes.
		c.closers = append(c.closers, func() error { c.answers.Close(); return nil })
	}

	if cfg.SQLCache.Enabled {
		c.results, err = sqlresult.New(store, sqlresult.Config{
			TTL:      cfg.SQLCache.TTL,
			Capacity: cfg.SQLCache.Capacity,
		}, sqlresult.WithMetrics(m), sqlresult.WithLogger(log))
		if err != nil {
			c.close()
			return nil, fmt.Errorf("init sql cache: %w", err)
		}
	}
	return c, nil
}

func (c *caches) close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		errs = append(errs, c.closers[i]())
	}
	return errors.Join(errs...)
}

// tiers lists the enabled tiers by name.
func (c *caches) tiers() []namedTier {
	var out []namedTier
	if c.answers != nil {
		out = append(out, namedTier{"answer", c.answers})
	}
	if c.results != nil {
		out = append(out, namedTier{"sql", c.results})
	}
	return out
}

type namedTier struct {
	name string
	tier server.Tier
}

// openApp wires every component named in cfg.
func openApp(cfg *config.Config, log logrus.FieldLogger) (*app, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	model := llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model,
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithTimeout(cfg.LLM.Timeout),
	)
	judge := model
	if cfg.Validator.Model != "" && cfg.Validator.Model != cfg.LLM.Model {
		judge = llm.NewOpenAI(cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.Validator.Model, llm.WithTimeout(cfg.Validator.Timeout))
	}

	c, err := openCaches(cfg, log, m, judge)
	if err != nil {
		return nil, err
	}
	a := &app{caches: c, registry: reg}

	a.exec, err = executor.Open(cfg.DatasetPath,
		executor.WithMaxRows(cfg.Executor.MaxRows),
		executor.WithTimeout(cfg.Executor.Timeout),
		executor.WithLogger(log),
	)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, a.exec.Close)

	opts := []pipeline.Option{
		pipeline.WithNormalizer(normalize.New(normalize.Language(cfg.Language))),
		pipeline.WithLogger(log),
	}
	if a.answers != nil {
		opts = append(opts, pipeline.WithAnswerCache(a.answers))
	}
	if a.results != nil {
		opts = append(opts, pipeline.WithResultCache(a.results))
	}
	if cfg.QueryLog.Enabled {
		a.queryLog, err = querylog.New(cfg.QueryLog, log)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, a.queryLog.Close)
		opts = append(opts, pipeline.WithQueryLog(a.queryLog))
	}

	a.pipeline = pipeline.New(model, a.exec, opts...)
	return a, nil
}
