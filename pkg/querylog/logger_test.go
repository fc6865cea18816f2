package querylog

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/pario-ai/askcache/pkg/models"
)

func tempCfg(t *testing.T) models.QueryLogConfig {
	t.Helper()
	return models.QueryLogConfig{
		Enabled:       true,
		DBPath:        filepath.Join(t.TempDir(), "querylog_test.db"),
		RetentionDays: 30,
	}
}

func mustNew(t *testing.T, cfg models.QueryLogConfig) *Logger {
	t.Helper()
	l, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func sampleEntry() models.QueryLogEntry {
	return models.QueryLogEntry{
		RequestID:    "req-001",
		Question:     "How many players were there in 2023?",
		Keywords:     []string{"2023", "many", "players"},
		SQLQuery:     "SELECT count(*) FROM players WHERE season = 2023",
		AnswerSource: "generated",
		RowCount:     1,
		LatencyMs:    150,
		CreatedAt:    time.Now(),
	}
}

func TestLogAndQuery(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	if err := l.Log(ctx, sampleEntry()); err != nil {
		t.Fatalf("Log: %v", err)
	}

	entries, err := l.Query(ctx, models.QueryLogOpts{RequestID: "req-001"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.SQLQuery != "SELECT count(*) FROM players WHERE season = 2023" {
		t.Errorf("unexpected sql %q", e.SQLQuery)
	}
	if len(e.Keywords) != 3 || e.Keywords[2] != "players" {
		t.Errorf("unexpected keywords %v", e.Keywords)
	}
	if e.SQLCached {
		t.Error("expected sql_cached false")
	}
}

func TestQueryByKeyword(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	e2.Keywords = []string{"goals", "scored"}
	_ = l.Log(ctx, e2)

	entries, err := l.Query(ctx, models.QueryLogOpts{Keyword: "Players"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-001" {
		t.Fatalf("expected only req-001, got %+v", entries)
	}

	// whole keywords only
	entries, err = l.Query(ctx, models.QueryLogOpts{Keyword: "play"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no partial match, got %d", len(entries))
	}
}

func TestQueryBySourceAndSince(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().Add(-48 * time.Hour)
	_ = l.Log(ctx, old)

	hit := sampleEntry()
	hit.RequestID = "req-002"
	hit.AnswerSource = "exact"
	_ = l.Log(ctx, hit)

	entries, err := l.Query(ctx, models.QueryLogOpts{AnswerSource: "exact"})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 || entries[0].RequestID != "req-002" {
		t.Fatalf("expected req-002, got %+v", entries)
	}

	entries, err = l.Query(ctx, models.QueryLogOpts{Since: time.Now().Add(-time.Hour)})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 recent entry, got %d", len(entries))
	}
}

func TestQueryLimitAndOrder(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	base := time.Now().Add(-time.Hour)
	for i, id := range []string{"a", "b", "c"} {
		e := sampleEntry()
		e.RequestID = id
		e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		_ = l.Log(ctx, e)
	}

	entries, err := l.Query(ctx, models.QueryLogOpts{Limit: 2})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2, got %d", len(entries))
	}
	if entries[0].RequestID != "c" || entries[1].RequestID != "b" {
		t.Errorf("expected newest first, got %s, %s", entries[0].RequestID, entries[1].RequestID)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var l *Logger
	if err := l.Log(context.Background(), sampleEntry()); err != nil {
		t.Fatalf("Log on nil logger: %v", err)
	}
}

func TestCleanup(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 1
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(0, 0, -2)
	_ = l.Log(ctx, old)
	fresh := sampleEntry()
	fresh.RequestID = "req-002"
	_ = l.Log(ctx, fresh)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 1 {
		t.Errorf("expected 1 deleted, got %d", deleted)
	}
}

func TestCleanupDisabled(t *testing.T) {
	cfg := tempCfg(t)
	cfg.RetentionDays = 0
	l := mustNew(t, cfg)
	ctx := context.Background()

	old := sampleEntry()
	old.CreatedAt = time.Now().AddDate(-1, 0, 0)
	_ = l.Log(ctx, old)

	deleted, err := l.Cleanup(ctx)
	if err != nil {
		t.Fatalf("Cleanup: %v", err)
	}
	if deleted != 0 {
		t.Errorf("expected nothing deleted, got %d", deleted)
	}
}

func TestStats(t *testing.T) {
	l := mustNew(t, tempCfg(t))
	ctx := context.Background()

	_ = l.Log(ctx, sampleEntry())
	e2 := sampleEntry()
	e2.RequestID = "req-002"
	e2.LatencyMs = 50
	_ = l.Log(ctx, e2)
	e3 := sampleEntry()
	e3.RequestID = "req-003"
	e3.AnswerSource = "exact"
	_ = l.Log(ctx, e3)

	stats, err := l.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(stats))
	}
	var generated models.QueryLogStat
	for _, s := range stats {
		if s.AnswerSource == "generated" {
			generated = s
		}
	}
	if generated.Count != 2 {
		t.Errorf("expected count 2, got %d", generated.Count)
	}
	if generated.AvgLatencyMs != 100 {
		t.Errorf("expected avg latency 100, got %f", generated.AvgLatencyMs)
	}
	if generated.Day == "" {
		t.Error("expected day")
	}
}
