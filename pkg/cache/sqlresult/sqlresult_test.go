package sqlresult

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pario-ai/askcache/pkg/cache/sqlite"
	"github.com/pario-ai/askcache/pkg/models"
)

var payload = []byte(`{"columns":["region","total"],"rows":[["north",1204]]}`)

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
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "results.db"), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestCache(t *testing.T, store Store, cfg Config) (*Cache, *clock) {
	t.Helper()
	clk := &clock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	c, err := New(store, cfg, WithClock(clk.Now))
	require.NoError(t, err)
	return c, clk
}

func TestSaveAndGet(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "SELECT region, SUM(total) FROM sales GROUP BY region;", payload, 1))

	e, ok := c.Get(ctx, "select region, sum(total)\nfrom sales -- by region\ngroup by region")
	require.True(t, ok)
	assert.Equal(t, payload, e.ResultPayload)
	assert.Equal(t, 1, e.RowCount)

	_, ok = c.Get(ctx, "select region from sales")
	assert.False(t, ok)
}

func TestGet_LiteralsAreNotComments(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "SELECT * FROM notes WHERE body = '--keep' OR id = 1", payload, 1))

	_, ok := c.Get(ctx, "SELECT * FROM notes WHERE body = '--drop' OR id = 2")
	assert.False(t, ok)
	_, ok = c.Get(ctx, "select * from notes where body = '--keep' or id = 1")
	assert.True(t, ok)
}

func TestGet_FromStoreAfterRestart(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := newTestCache(t, store, DefaultConfig())
	require.True(t, first.Save(ctx, "select 1", payload, 1))

	second, _ := newTestCache(t, store, DefaultConfig())
	e, ok := second.Get(ctx, "SELECT 1")
	require.True(t, ok)
	assert.Equal(t, payload, e.ResultPayload)
}

func TestAbsoluteExpiry(t *testing.T) {
	store := newTestStore(t)
	c, clk := newTestCache(t, store, Config{TTL: time.Hour, Capacity: 10})
	ctx := context.Background()

	require.True(t, c.Save(ctx, "select * from players", payload, 1))
	for i := 0; i < 5; i++ {
		clk.Advance(10 * time.Minute)
		_, ok := c.Get(ctx, "select * from players")
		require.True(t, ok, "hit %d", i)
	}

	clk.Advance(70 * time.Minute)
	_, ok := c.Get(ctx, "select * from players")
	assert.False(t, ok, "repeated hits must not extend the expiry")

	// a fresh cache without the memory copy also misses
	fresh, freshClk := newTestCache(t, store, Config{TTL: time.Hour, Capacity: 10})
	freshClk.Advance(2 * time.Hour)
	_, ok = fresh.Get(ctx, "select * from players")
	assert.False(t, ok)
}

func TestSave_RefreshesExpiry(t *testing.T) {
	c, clk := newTestCache(t, newTestStore(t), Config{TTL: time.Hour, Capacity: 10})
	ctx := context.Background()

	require.True(t, c.Save(ctx, "select 1", payload, 1))
	clk.Advance(50 * time.Minute)
	require.True(t, c.Save(ctx, "select 1", payload, 1))
	clk.Advance(50 * time.Minute)

	_, ok := c.Get(ctx, "select 1")
	assert.True(t, ok)
}

func TestSave_EmptySQLRejected(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	assert.False(t, c.Save(context.Background(), " -- nothing\n ", payload, 0))
	_, ok := c.Get(context.Background(), "")
	assert.False(t, ok)
}

func TestCleanupExpired(t *testing.T) {
	store := newTestStore(t)
	c, clk := newTestCache(t, store, Config{TTL: time.Hour, Capacity: 10})
	ctx := context.Background()

	require.True(t, c.Save(ctx, "select 1", payload, 1))
	clk.Advance(30 * time.Minute)
	require.True(t, c.Save(ctx, "select 2", payload, 1))
	clk.Advance(31 * time.Minute)

	n, err := c.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	st, err := c.Stats(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), st.Entries)
	assert.Equal(t, 1, st.MemoryEntries)
	require.Len(t, st.Top, 1)
	assert.Equal(t, "select 2", st.Top[0].Text)
}

func TestClearAndStats(t *testing.T) {
	c, _ := newTestCache(t, newTestStore(t), DefaultConfig())
	ctx := context.Background()

	require.True(t, c.Save(ctx, "select 1", payload, 1))
	c.Get(ctx, "select 1")
	c.Get(ctx, "select 1")
	c.Get(ctx, "select 2")

	st, err := c.Stats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "sql", st.Tier)
	assert.Equal(t, int64(2), st.TotalHits)
	assert.Equal(t, int64(2), st.Hits)
	assert.Equal(t, int64(1), st.Misses)

	n, err := c.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	_, ok := c.Get(ctx, "select 1")
	assert.False(t, ok)
}

type failingStore struct {
	Store
}

func (failingStore) UpsertSQLResult(context.Context, *models.SQLResultEntry) error {
	return errors.New("database is locked")
}

func (failingStore) GetSQLResult(context.Context, string, time.Time) (*models.SQLResultEntry, error) {
	return nil, errors.New("disk I/O error")
}

func TestStoreFailuresDegrade(t *testing.T) {
	c, _ := newTestCache(t, failingStore{}, DefaultConfig())
	ctx := context.Background()

	assert.False(t, c.Save(ctx, "select 1", payload, 1))
	_, ok := c.Get(ctx, "select 1")
	assert.False(t, ok)
}
