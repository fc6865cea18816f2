// Package sqlresult caches executed result sets keyed by normalized SQL text.
// Matching is exact only and entries expire at a fixed time set on write.
package sqlresult

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/askcache/pkg/cache/recency"
	"github.com/pario-ai/askcache/pkg/cache/sqlite"
	"github.com/pario-ai/askcache/pkg/metrics"
	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/normalize"
)

const tier = "sql"

// Store is the persistence the tier needs.
type Store interface {
	GetSQLResult(ctx context.Context, hash string, now time.Time) (*models.SQLResultEntry, error)
	TouchSQLResult(ctx context.Context, hash string, now time.Time) error
	UpsertSQLResult(ctx context.Context, e *models.SQLResultEntry) error
	DeleteExpiredSQLResults(ctx context.Context, now time.Time) (int64, error)
	ClearSQLResults(ctx context.Context) (int64, error)
	SQLResultStats(ctx context.Context, topN int) (models.TierStats, error)
}

// Config tunes the tier.
type Config struct {
	TTL      time.Duration
	Capacity int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{TTL: time.Hour, Capacity: 200}
}

// Cache is the SQL result tier. It is safe for concurrent use.
type Cache struct {
	store   Store
	memory  *recency.Cache[*models.SQLResultEntry]
	cfg     Config
	metrics *metrics.Metrics
	log     logrus.FieldLogger
	now     func() time.Time

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithMetrics records lookups and saves on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(c *Cache) {
		if l != nil {
			c.log = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates the tier over store.
func New(store Store, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultConfig().TTL
	}
	mem, err := recency.New[*models.SQLResultEntry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		store:  store,
		memory: mem,
		cfg:    cfg,
		log:    logrus.StandardLogger(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.WithField("tier", tier)
	return c, nil
}

// Get returns the cached result for sqlText if one exists and has not
// expired. Hits never extend the expiry.
func (c *Cache) Get(ctx context.Context, sqlText string) (*models.SQLResultEntry, bool) {
	norm := normalize.NormalizeSQL(sqlText)
	if norm == "" {
		return c.miss("empty_sql")
	}
	hash := normalize.Hash(norm)
	now := c.now()

	e, ok := c.memory.Get(hash)
	if ok && e.Expired(now) {
		c.memory.Remove(hash)
		ok = false
	}
	if !ok {
		stored, err := c.store.GetSQLResult(ctx, hash, now)
		if err != nil {
			if !errors.Is(err, sqlite.ErrNotFound) {
				c.log.WithError(err).Warn("sql result lookup failed")
				return c.miss("store_error")
			}
			return c.miss("not_found")
		}
		e = stored
	}

	if err := c.store.TouchSQLResult(ctx, hash, now); err != nil {
		c.log.WithError(err).Warn("hit bookkeeping dropped")
	}
	cp := *e
	cp.HitCount++
	cp.LastAccessedAt = now
	c.memory.Put(hash, &cp)

	c.hits.Add(1)
	c.metrics.Lookup(tier, "hit", string(models.LevelExact))
	c.log.WithFields(logrus.Fields{"result": "hit", "level": string(models.LevelExact)}).Debug("sql cache lookup")
	return &cp, true
}

// Save stores payload for sqlText with a fresh absolute expiry. A dropped
// write returns false.
func (c *Cache) Save(ctx context.Context, sqlText string, payload []byte, rowCount int) bool {
	norm := normalize.NormalizeSQL(sqlText)
	if norm == "" {
		c.metrics.Save(tier, "rejected")
		return false
	}
	now := c.now()
	e := &models.SQLResultEntry{
		SQLHash:        normalize.Hash(norm),
		SQLQuery:       sqlText,
		ResultPayload:  payload,
		RowCount:       rowCount,
		CreatedAt:      now,
		ExpiresAt:      now.Add(c.cfg.TTL),
		LastAccessedAt: now,
	}
	if e.ResultPayload == nil {
		e.ResultPayload = []byte{}
	}
	if err := c.store.UpsertSQLResult(ctx, e); err != nil {
		c.log.WithError(err).Warn("sql result write dropped")
		c.metrics.Save(tier, "dropped")
		return false
	}
	c.memory.Put(e.SQLHash, e)
	c.metrics.Save(tier, "saved")
	return true
}

// CleanupExpired deletes rows whose expiry has passed. Reads already filter
// by expiry, so it may run at any time.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	now := c.now()
	c.memory.RemoveIf(func(_ string, e *models.SQLResultEntry) bool {
		return e.Expired(now)
	})
	n, err := c.store.DeleteExpiredSQLResults(ctx, now)
	if err != nil {
		return 0, err
	}
	c.metrics.Clean(tier, n)
	return n, nil
}

// Clear removes every entry from memory and the store.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.memory.Clear()
	return c.store.ClearSQLResults(ctx)
}

// Stats merges persistent totals with in-process counters.
func (c *Cache) Stats(ctx context.Context, topN int) (models.TierStats, error) {
	st, err := c.store.SQLResultStats(ctx, topN)
	if err != nil {
		return st, err
	}
	st.MemoryEntries = c.memory.Len()
	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	return st, nil
}

func (c *Cache) miss(reason string) (*models.SQLResultEntry, bool) {
	c.misses.Add(1)
	c.metrics.Lookup(tier, "miss", "")
	c.log.WithFields(logrus.Fields{"result": "miss", "reason": reason}).Debug("sql cache lookup")
	return nil, false
}
