// Package answer is the question-to-response cache tier. Lookups try an
// exact match on the normalized question hash first, then a semantic match
// that only counts when the equivalence validator confirms it.
package answer

import (
	"context"
	"errors"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pario-ai/askcache/pkg/cache/recency"
	"github.com/pario-ai/askcache/pkg/cache/sqlite"
	"github.com/pario-ai/askcache/pkg/embedding"
	"github.com/pario-ai/askcache/pkg/metrics"
	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/normalize"
	"github.com/pario-ai/askcache/pkg/validator"
)

const tier = "answer"

// Miss reasons reported in logs.
const (
	ReasonEmptyQuestion        = "empty_question"
	ReasonSemanticDisabled     = "semantic_disabled"
	ReasonValidatorMissing     = "validator_missing"
	ReasonEmbeddingUnavailable = "embedding_unavailable"
	ReasonStoreError           = "store_error"
	ReasonNoCandidates         = "no_candidates"
	ReasonBelowThreshold       = "below_threshold"
	ReasonValidatorRejected    = "validator_rejected"
)

// Save rejections.
var (
	ErrEmptyResponse         = errors.New("response is empty")
	ErrResponseTooShort      = errors.New("response is shorter than the minimum length")
	ErrUnresolvedPlaceholder = errors.New("response contains an unresolved placeholder")
)

var placeholderRegex = regexp.MustCompile(`\{[A-Za-z_][A-Za-z0-9_]*\}`)

// Store is the persistence the tier needs.
type Store interface {
	GetAnswer(ctx context.Context, hash string) (*models.AnswerEntry, error)
	UpsertAnswer(ctx context.Context, e *models.AnswerEntry) error
	TouchAnswer(ctx context.Context, hash string, now time.Time) error
	SetAnswerEmbedding(ctx context.Context, hash string, vec []float32) error
	RecentAnswersWithEmbedding(ctx context.Context, limit int, notBefore time.Time) ([]models.AnswerEntry, error)
	DeleteAnswersAccessedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	ClearAnswers(ctx context.Context) (int64, error)
	AnswerStats(ctx context.Context, topN int) (models.TierStats, error)
}

// Embedder yields a vector for normalized text, or false when none is available.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, bool)
}

// Validator adjudicates whether two questions ask for the same thing.
type Validator interface {
	Check(ctx context.Context, a, b string) validator.Verdict
}

// Config tunes the tier.
type Config struct {
	Semantic            bool
	TTL                 time.Duration
	Capacity            int
	SimilarityThreshold float64
	SemanticSearchLimit int
	MinResponseLength   int
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Semantic:            true,
		TTL:                 30 * 24 * time.Hour,
		Capacity:            1000,
		SimilarityThreshold: 0.92,
		SemanticSearchLimit: 200,
		MinResponseLength:   20,
	}
}

// Result describes a cache hit.
type Result struct {
	Response        string
	Level           models.Level
	Hash            string
	Similarity      float64
	MatchedQuestion string
}

// Cache is the answer tier. It is safe for concurrent use.
type Cache struct {
	store      Store
	memory     *recency.Cache[*models.AnswerEntry]
	normalizer *normalize.Normalizer
	embedder   Embedder
	validator  Validator
	cfg        Config
	metrics    *metrics.Metrics
	log        logrus.FieldLogger
	now        func() time.Time

	hits   atomic.Int64
	misses atomic.Int64

	mu        sync.Mutex
	closed    bool
	backfills sync.WaitGroup
	inflight  sync.Map
}

// Option configures a Cache.
type Option func(*Cache)

// WithEmbedder enables embedding on save and the semantic lookup path.
func WithEmbedder(e Embedder) Option {
	return func(c *Cache) { c.embedder = e }
}

// WithValidator sets the equivalence validator. Without one, semantic
// matches are never served.
func WithValidator(v Validator) Option {
	return func(c *Cache) { c.validator = v }
}

// WithNormalizer overrides the default English normalizer.
func WithNormalizer(n *normalize.Normalizer) Option {
	return func(c *Cache) {
		if n != nil {
			c.normalizer = n
		}
	}
}

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
	mem, err := recency.New[*models.AnswerEntry](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	c := &Cache{
		store:      store,
		memory:     mem,
		normalizer: normalize.New(normalize.English),
		cfg:        cfg,
		log:        logrus.StandardLogger(),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	c.log = c.log.WithField("tier", tier)
	if cfg.Semantic && c.validator == nil {
		c.log.Warn("semantic matching enabled without a validator; only exact matches will be served")
	}
	return c, nil
}

// Get looks question up. It never fails: every error degrades to a miss.
func (c *Cache) Get(ctx context.Context, question string) (Result, bool) {
	norm := c.normalizer.Normalize(question)
	if norm == "" {
		return c.miss(ReasonEmptyQuestion, 0)
	}
	hash := normalize.Hash(norm)
	now := c.now()

	if e, err := c.lookupExact(ctx, hash, now); err == nil {
		e = c.recordHit(ctx, e, now)
		return c.hit(Result{Response: e.Response, Level: models.LevelExact, Hash: hash, Similarity: 1, MatchedQuestion: e.QuestionOriginal})
	}
	return c.lookupSemantic(ctx, question, norm, now)
}

// lookupExact returns the live entry for hash. Expired entries are reported
// as sqlite.ErrNotFound; any other error means the store could not be read.
func (c *Cache) lookupExact(ctx context.Context, hash string, now time.Time) (*models.AnswerEntry, error) {
	if e, ok := c.memory.Get(hash); ok {
		if !c.expired(e, now) {
			return e, nil
		}
		c.memory.Remove(hash)
	}
	e, err := c.store.GetAnswer(ctx, hash)
	if err != nil {
		if !errors.Is(err, sqlite.ErrNotFound) {
			c.log.WithError(err).Warn("exact lookup failed")
		}
		return nil, err
	}
	if c.expired(e, now) {
		return nil, sqlite.ErrNotFound
	}
	return e, nil
}

func (c *Cache) lookupSemantic(ctx context.Context, question, norm string, now time.Time) (Result, bool) {
	if !c.cfg.Semantic {
		return c.miss(ReasonSemanticDisabled, 0)
	}
	if c.validator == nil {
		return c.miss(ReasonValidatorMissing, 0)
	}
	if c.embedder == nil {
		return c.miss(ReasonEmbeddingUnavailable, 0)
	}
	vec, ok := c.embedder.Embed(ctx, norm)
	if !ok {
		return c.miss(ReasonEmbeddingUnavailable, 0)
	}

	candidates, err := c.store.RecentAnswersWithEmbedding(ctx, c.cfg.SemanticSearchLimit, c.cutoff(now))
	if err != nil {
		c.log.WithError(err).Warn("semantic candidate scan failed")
		return c.miss(ReasonStoreError, 0)
	}

	// candidates arrive most recently accessed first; strict > keeps the
	// most recent on ties
	best, bestSim := -1, math.Inf(-1)
	for i := range candidates {
		sim := embedding.CosineSimilarity(vec, candidates[i].Embedding)
		if sim > bestSim {
			best, bestSim = i, sim
		}
	}
	if best < 0 {
		return c.miss(ReasonNoCandidates, 0)
	}
	c.metrics.Similarity(bestSim)
	if bestSim < c.cfg.SimilarityThreshold {
		return c.miss(ReasonBelowThreshold, bestSim)
	}

	cand := &candidates[best]
	verdict := c.validator.Check(ctx, question, cand.QuestionOriginal)
	c.metrics.Verdict(verdict.String())
	if verdict != validator.Equivalent {
		return c.miss(ReasonValidatorRejected, bestSim)
	}

	e := c.recordHit(ctx, cand, now)
	return c.hit(Result{
		Response:        e.Response,
		Level:           models.LevelSemantic,
		Hash:            e.QuestionHash,
		Similarity:      bestSim,
		MatchedQuestion: e.QuestionOriginal,
	})
}

// recordHit bumps the stored hit count and promotes a fresh copy of e.
func (c *Cache) recordHit(ctx context.Context, e *models.AnswerEntry, now time.Time) *models.AnswerEntry {
	if err := c.store.TouchAnswer(ctx, e.QuestionHash, now); err != nil {
		c.log.WithError(err).Warn("hit bookkeeping dropped")
	}
	cp := *e
	cp.HitCount++
	cp.LastAccessedAt = now
	c.memory.Put(cp.QuestionHash, &cp)
	if !cp.HasEmbedding() {
		c.backfill(cp.QuestionHash, cp.QuestionNormalized)
	}
	return &cp
}

// backfill embeds an entry saved without a vector, in the background.
func (c *Cache) backfill(hash, norm string) {
	if c.embedder == nil {
		return
	}
	if _, busy := c.inflight.LoadOrStore(hash, struct{}{}); busy {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		c.inflight.Delete(hash)
		return
	}
	c.backfills.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.backfills.Done()
		defer c.inflight.Delete(hash)

		ctx := context.Background()
		vec, ok := c.embedder.Embed(ctx, norm)
		if !ok {
			return
		}
		if err := c.store.SetAnswerEmbedding(ctx, hash, vec); err != nil {
			c.log.WithError(err).Warn("embedding backfill dropped")
			return
		}
		if e, ok := c.memory.Get(hash); ok && !e.HasEmbedding() {
			cp := *e
			cp.Embedding = vec
			c.memory.Put(hash, &cp)
		}
	}()
}

// ValidateResponse reports why response may not be cached, or nil.
func ValidateResponse(response string, minLen int) error {
	trimmed := strings.TrimSpace(response)
	if trimmed == "" {
		return ErrEmptyResponse
	}
	if len([]rune(trimmed)) < minLen {
		return ErrResponseTooShort
	}
	if placeholderRegex.MatchString(response) {
		return ErrUnresolvedPlaceholder
	}
	return nil
}

// Save caches response for question. It returns false when the write was
// rejected, already present, or dropped; none of these are errors to the caller.
func (c *Cache) Save(ctx context.Context, question, response string) bool {
	log := c.log.WithField("question", question)
	if err := ValidateResponse(response, c.cfg.MinResponseLength); err != nil {
		log.WithField("reason", err.Error()).Debug("answer rejected")
		c.metrics.Save(tier, "rejected")
		return false
	}
	norm := c.normalizer.Normalize(question)
	if norm == "" {
		log.WithField("reason", ReasonEmptyQuestion).Debug("answer rejected")
		c.metrics.Save(tier, "rejected")
		return false
	}
	hash := normalize.Hash(norm)
	now := c.now()

	if _, err := c.lookupExact(ctx, hash, now); err == nil {
		log.Debug("answer already cached")
		c.metrics.Save(tier, "duplicate")
		return false
	} else if !errors.Is(err, sqlite.ErrNotFound) {
		// an unreadable row may hold an earlier answer
		log.WithError(err).Warn("answer write dropped")
		c.metrics.Save(tier, "dropped")
		return false
	}

	e := &models.AnswerEntry{
		QuestionHash:       hash,
		QuestionNormalized: norm,
		QuestionOriginal:   question,
		Response:           response,
		HitCount:           1,
		CreatedAt:          now,
		LastAccessedAt:     now,
	}
	if c.embedder != nil {
		if vec, ok := c.embedder.Embed(ctx, norm); ok {
			e.Embedding = vec
		}
	}
	if err := c.store.UpsertAnswer(ctx, e); err != nil {
		log.WithError(err).Warn("answer write dropped")
		c.metrics.Save(tier, "dropped")
		return false
	}
	c.memory.Put(hash, e)
	c.metrics.Save(tier, "saved")
	log.WithField("embedded", e.HasEmbedding()).Debug("answer saved")
	return true
}

// CleanupExpired removes entries whose last access is older than the TTL.
func (c *Cache) CleanupExpired(ctx context.Context) (int64, error) {
	if c.cfg.TTL <= 0 {
		return 0, nil
	}
	now := c.now()
	c.memory.RemoveIf(func(_ string, e *models.AnswerEntry) bool {
		return c.expired(e, now)
	})
	n, err := c.store.DeleteAnswersAccessedBefore(ctx, c.cutoff(now))
	if err != nil {
		return 0, err
	}
	c.metrics.Clean(tier, n)
	return n, nil
}

// Clear removes every entry from memory and the store.
func (c *Cache) Clear(ctx context.Context) (int64, error) {
	c.memory.Clear()
	return c.store.ClearAnswers(ctx)
}

// Stats merges persistent totals with in-process counters.
func (c *Cache) Stats(ctx context.Context, topN int) (models.TierStats, error) {
	st, err := c.store.AnswerStats(ctx, topN)
	if err != nil {
		return st, err
	}
	st.MemoryEntries = c.memory.Len()
	st.Hits = c.hits.Load()
	st.Misses = c.misses.Load()
	return st, nil
}

// Close waits for pending embedding backfills. The store is not closed.
func (c *Cache) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.backfills.Wait()
}

func (c *Cache) cutoff(now time.Time) time.Time {
	if c.cfg.TTL <= 0 {
		return time.Time{}
	}
	return now.Add(-c.cfg.TTL)
}

func (c *Cache) expired(e *models.AnswerEntry, now time.Time) bool {
	return c.cfg.TTL > 0 && !e.LastAccessedAt.After(c.cutoff(now))
}

func (c *Cache) hit(r Result) (Result, bool) {
	c.hits.Add(1)
	c.metrics.Lookup(tier, "hit", string(r.Level))
	c.log.WithFields(logrus.Fields{
		"result":     "hit",
		"level":      string(r.Level),
		"similarity": r.Similarity,
	}).Info("answer cache lookup")
	return r, true
}

func (c *Cache) miss(reason string, similarity float64) (Result, bool) {
	c.misses.Add(1)
	c.metrics.Lookup(tier, "miss", "")
	fields := logrus.Fields{"result": "miss", "reason": reason}
	if similarity != 0 {
		fields["similarity"] = similarity
	}
	c.log.WithFields(fields).Debug("answer cache lookup")
	return Result{}, false
}
