package answer

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/askcache/pkg/cache/sqlite"
	"github.com/pario-ai/askcache/pkg/metrics"
	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/normalize"
	"github.com/pario-ai/askcache/pkg/validator"
)

const longAnswer = "The north region sold 1,204 units in total."

type fakeEmbedder struct {
	mu      sync.Mutex
	vectors map[string][]float32
	calls   atomic.Int64
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{vectors: make(map[string][]float32)}
}

// set registers the vector returned for question once normalized.
func (f *fakeEmbedder) set(question string, vec []float32) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[normalize.Normalize(question)] = vec
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, bool) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.vectors[text]
	return v, ok
}

type fakeValidator struct {
	verdict validator.Verdict
	calls   atomic.Int64
	mu      sync.Mutex
	lastA   string
	lastB   string
}

func (f *fakeValidator) Check(_ context.Context, a, b string) validator.Verdict {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastA, f.lastB = a, b
	f.mu.Unlock()
	return f.verdict
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "answers.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCache(t *testing.T, store Store, cfg Config, opts ...Option) (*Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clk.Now)}, opts...)
	c, err := New(store, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(c.Close)
	return c, clk
}

func TestExactRoundTrip_NoNetwork(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "What were total sales in the north region?", longAnswer))

	res, ok := c.Get(ctx, "What were total sales in the north region?")
	require.True(t, ok)
	assert.Equal(t, longAnswer, res.Response)
	assert.Equal(t, models.LevelExact, res.Level)
}

func TestExactHit_WordOrderAndNumbers(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "Top five products by revenue", longAnswer))

	res, ok := c.Get(ctx, "by revenue, the top 5 products?")
	require.True(t, ok)
	assert.Equal(t, models.LevelExact, res.Level)
}

func TestExactHit_FromStoreAfterRestart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := newTestCache(t, store, DefaultConfig())
	require.True(t, first.Save(ctx, "total sales north", longAnswer))

	second, _ := newTestCache(t, store, DefaultConfig())
	res, ok := second.Get(ctx, "total sales north")
	require.True(t, ok)
	assert.Equal(t, longAnswer, res.Response)

	e, err := store.GetAnswer(ctx, res.Hash)
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.HitCount)
}

func TestSemanticHit(t *testing.T) {
	store := newTestStore(t)
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	c, _ := newTestCache(t, store, DefaultConfig(), WithEmbedder(emb), WithValidator(val), WithMetrics(m))
	ctx := context.Background()

	saved := "What were total sales per region?"
	asked := "How much did each region sell?"
	emb.set(saved, []float32{1, 0, 0})
	emb.set(asked, []float32{0.99, 0.1, 0})

	require.True(t, c.Save(ctx, saved, longAnswer))

	res, ok := c.Get(ctx, asked)
	require.True(t, ok)
	assert.Equal(t, models.LevelSemantic, res.Level)
	assert.Equal(t, longAnswer, res.Response)
	assert.Equal(t, saved, res.MatchedQuestion)
	assert.Greater(t, res.Similarity, 0.99)
	assert.Equal(t, asked, val.lastA)
	assert.Equal(t, saved, val.lastB)

	e, err := store.GetAnswer(ctx, normalize.Hash(normalize.Normalize(saved)))
	require.NoError(t, err)
	assert.Equal(t, int64(2), e.HitCount, "hit counted on the matched entry")

	_, err = store.GetAnswer(ctx, normalize.Hash(normalize.Normalize(asked)))
	assert.ErrorIs(t, err, sqlite.ErrNotFound, "semantic hits do not create rows")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Lookups.WithLabelValues("answer", "hit", "semantic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ValidatorVerdicts.WithLabelValues("equivalent")))
}

func TestSemantic_FailClosed(t *testing.T) {
	for _, verdict := range []validator.Verdict{validator.NotEquivalent, validator.Unknown} {
		t.Run(verdict.String(), func(t *testing.T) {
			emb := newFakeEmbedder()
			val := &fakeValidator{verdict: verdict}
			c, _ := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb), WithValidator(val))
			ctx := context.Background()

			emb.set("top 5 products by revenue", []float32{1, 0})
			emb.set("top 10 products by revenue", []float32{0.99, float32(math.Sqrt(1 - 0.99*0.99))})
			require.True(t, c.Save(ctx, "top 5 products by revenue", longAnswer))

			_, ok := c.Get(ctx, "top 10 products by revenue")
			assert.False(t, ok)
			assert.Equal(t, int64(1), val.calls.Load())
		})
	}
}

func TestSemantic_NoValidatorNeverHits(t *testing.T) {
	emb := newFakeEmbedder()
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb))
	ctx := context.Background()

	emb.set("total sales per region", []float32{1, 0})
	emb.set("total sales per regions", []float32{1, 0})
	require.True(t, c.Save(ctx, "total sales per region", longAnswer))
	callsAfterSave := emb.calls.Load()

	_, ok := c.Get(ctx, "total sales per regions")
	assert.False(t, ok)
	assert.Equal(t, callsAfterSave, emb.calls.Load(), "no embedding call on the disabled path")
}

func TestSemantic_Disabled(t *testing.T) {
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	cfg := DefaultConfig()
	cfg.Semantic = false
	c, _ := newTestCache(t, newTestStore(t), cfg, WithEmbedder(emb), WithValidator(val))
	ctx := context.Background()

	emb.set("sales north", []float32{1, 0})
	emb.set("sales northern", []float32{1, 0})
	require.True(t, c.Save(ctx, "sales north", longAnswer))

	_, ok := c.Get(ctx, "sales northern")
	assert.False(t, ok)
	assert.Zero(t, val.calls.Load())
}

func TestSemantic_EmbeddingUnavailable(t *testing.T) {
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb), WithValidator(val))
	ctx := context.Background()

	emb.set("sales north", []float32{1, 0})
	require.True(t, c.Save(ctx, "sales north", longAnswer))

	_, ok := c.Get(ctx, "sales in the northern area")
	assert.False(t, ok)
	assert.Zero(t, val.calls.Load())
}

func TestSemantic_BelowThresholdSkipsValidator(t *testing.T) {
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb), WithValidator(val))
	ctx := context.Background()

	emb.set("sales north", []float32{1, 0})
	emb.set("players south", []float32{0.6, 0.8})
	require.True(t, c.Save(ctx, "sales north", longAnswer))

	_, ok := c.Get(ctx, "players south")
	assert.False(t, ok)
	assert.Zero(t, val.calls.Load())
}

func TestSemantic_NoCandidates(t *testing.T) {
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb), WithValidator(val))

	emb.set("sales north", []float32{1, 0})
	_, ok := c.Get(context.Background(), "sales north")
	assert.False(t, ok)
	assert.Zero(t, val.calls.Load())
}

func TestSemantic_TieGoesToMostRecent(t *testing.T) {
	emb := newFakeEmbedder()
	val := &fakeValidator{verdict: validator.Equivalent}
	c, clk := newTestCache(t, newTestStore(t), DefaultConfig(), WithEmbedder(emb), WithValidator(val))
	ctx := context.Background()

	emb.set("older question alpha", []float32{1, 0})
	emb.set("newer question beta", []float32{1, 0})
	emb.set("asked question gamma", []float32{1, 0})
	require.True(t, c.Save(ctx, "older question alpha", "The older answer is long enough."))
	clk.Advance(time.Minute)
	require.True(t, c.Save(ctx, "newer question beta", "The newer answer is long enough."))
	clk.Advance(time.Minute)

	res, ok := c.Get(ctx, "asked question gamma")
	require.True(t, ok)
	assert.Equal(t, "newer question beta", res.MatchedQuestion)
}

func TestValidateResponse(t *testing.T) {
	assert.ErrorIs(t, ValidateResponse("", 20), ErrEmptyResponse)
	assert.ErrorIs(t, ValidateResponse("   ", 20), ErrEmptyResponse)
	assert.ErrorIs(t, ValidateResponse("short", 20), ErrResponseTooShort)
	assert.ErrorIs(t, ValidateResponse("The total value is {placeholder} units.", 20), ErrUnresolvedPlaceholder)
	assert.NoError(t, ValidateResponse("The set {1, 2, 3} has three members.", 20))
	assert.NoError(t, ValidateResponse(longAnswer, 20))
}

func TestSaveRejections(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()
	q := "total sales in the north region"

	assert.False(t, c.Save(ctx, q, ""))
	assert.False(t, c.Save(ctx, q, "short"))
	assert.False(t, c.Save(ctx, q, "Value: {placeholder}"))
	assert.False(t, c.Save(ctx, "what is the", longAnswer), "question normalizing to nothing")

	_, ok := c.Get(ctx, q)
	assert.False(t, ok)
}

func TestSave_FirstWriterWins(t *testing.T) {
	store := newTestStore(t)
	c, _ := newTestCache(t, store, DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "total sales north", longAnswer))
	assert.False(t, c.Save(ctx, "north total sales", "A different but long enough answer."))

	res, ok := c.Get(ctx, "total sales north")
	require.True(t, ok)
	assert.Equal(t, longAnswer, res.Response)
}

// lockedStore fails every read the way an exhausted busy retry does.
type lockedStore struct {
	*sqlite.Store
	upserts atomic.Int64
}

func (s *lockedStore) GetAnswer(context.Context, string) (*models.AnswerEntry, error) {
	return nil, errors.New("database is locked")
}

func (s *lockedStore) UpsertAnswer(ctx context.Context, e *models.AnswerEntry) error {
	s.upserts.Add(1)
	return s.Store.UpsertAnswer(ctx, e)
}

func TestSave_UnreadableStoreDoesNotOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := newTestCache(t, store, DefaultConfig())
	require.True(t, first.Save(ctx, "total sales north", longAnswer))

	locked := &lockedStore{Store: store}
	second, _ := newTestCache(t, locked, DefaultConfig())
	assert.False(t, second.Save(ctx, "north total sales", "A different but long enough answer."))
	assert.Zero(t, locked.upserts.Load())

	e, err := store.GetAnswer(ctx, normalize.Hash(normalize.Normalize("total sales north")))
	require.NoError(t, err)
	assert.Equal(t, longAnswer, e.Response)
}

func TestSave_ConcurrentRaceConverges(t *testing.T) {
	store := newTestStore(t)
	c, _ := newTestCache(t, store, DefaultConfig())
	ctx := context.Background()
	responses := []string{"First concurrent response body.", "Second concurrent response body."}

	var wg sync.WaitGroup
	for _, r := range responses {
		wg.Add(1)
		go func(r string) {
			defer wg.Done()
			c.Save(ctx, "total sales north", r)
		}(r)
	}
	wg.Wait()

	st, err := store.AnswerStats(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)

	res, ok := c.Get(ctx, "total sales north")
	require.True(t, ok)
	assert.Contains(t, responses, res.Response)
}

func TestSlidingTTL(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	c, clk := newTestCache(t, newTestStore(t), cfg)
	ctx := context.Background()

	require.True(t, c.Save(ctx, "total sales north", longAnswer))

	clk.Advance(50 * time.Minute)
	_, ok := c.Get(ctx, "total sales north")
	require.True(t, ok)

	clk.Advance(50 * time.Minute)
	_, ok = c.Get(ctx, "total sales north")
	require.True(t, ok, "each hit slides the expiry")

	clk.Advance(61 * time.Minute)
	_, ok = c.Get(ctx, "total sales north")
	assert.False(t, ok)
}

func TestExpiredEntryCanBeSavedAgain(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	c, clk := newTestCache(t, newTestStore(t), cfg)
	ctx := context.Background()

	require.True(t, c.Save(ctx, "total sales north", longAnswer))
	clk.Advance(2 * time.Hour)
	require.True(t, c.Save(ctx, "total sales north", "A refreshed answer that is long enough."))

	res, ok := c.Get(ctx, "total sales north")
	require.True(t, ok)
	assert.Equal(t, "A refreshed answer that is long enough.", res.Response)
}

func TestEmbeddingBackfill(t *testing.T) {
	store := newTestStore(t)
	emb := newFakeEmbedder()
	c, err := New(store, DefaultConfig(), WithEmbedder(emb))
	require.NoError(t, err)
	ctx := context.Background()

	require.True(t, c.Save(ctx, "total sales north", longAnswer))
	hash := normalize.Hash(normalize.Normalize("total sales north"))
	e, err := store.GetAnswer(ctx, hash)
	require.NoError(t, err)
	require.False(t, e.HasEmbedding())

	emb.set("total sales north", []float32{0.5, 0.5})
	_, ok := c.Get(ctx, "total sales north")
	require.True(t, ok)
	c.Close()

	e, err = store.GetAnswer(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, 0.5}, e.Embedding)
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t)
	cfg := DefaultConfig()
	cfg.TTL = time.Hour
	c, clk := newTestCache(t, store, cfg)
	ctx := context.Background()

	require.True(t, c.Save(ctx, "old question one", longAnswer))
	clk.Advance(90 * time.Minute)
	require.True(t, c.Save(ctx, "fresh question two", longAnswer))

	n, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := c.Stats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, 1, st.MemoryEntries)
}

func TestClearAndStats(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "total sales north", longAnswer))
	c.Get(ctx, "total sales north")
	c.Get(ctx, "something never saved")

	st, err := c.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "answer", st.Tier)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, int64(2), st.TotalHits)
	assert.Equal(t, int64(1), st.Hits)
	assert.Equal(t, int64(1), st.Misses)
	assert.InDelta(t, 50.0, st.HitRate(), 0.001)
	require.Len(t, st.Top, 1)
	assert.Equal(t, "total sales north", st.Top[0].Text)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, ok := c.Get(ctx, "total sales north")
	assert.False(t, ok)
}
