package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pario-ai/askcache/pkg/models"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, log, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Listen != ":8080" || log == nil {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "askcache.yaml")
	if err := os.WriteFile(path, []byte("answer_cache:\n  capacity: -1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := loadConfig(path); err == nil {
		t.Fatal("expected error for invalid config")
	}
}

func TestOpenCachesWithoutModel(t *testing.T) {
	cfg, log, err := loadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	cfg.DBPath = filepath.Join(t.TempDir(), "cache.db")
	cfg.SQLCache.Enabled = false

	c, err := openCaches(cfg, log, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.close() }()

	tiers := c.tiers()
	if len(tiers) != 1 || tiers[0].name != "answer" {
		t.Fatalf("expected only the answer tier, got %+v", tiers)
	}
}

func TestFormatAnswerSource(t *testing.T) {
	out := formatAnswerSource(&models.Answer{
		SQL:       "SELECT 1",
		RowCount:  1,
		SQLCached: true,
		Latency:   1500 * time.Microsecond,
	})
	for _, want := range []string{"generated", "SELECT 1", "cached: true", "2ms"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in %q", want, out)
		}
	}

	out = formatAnswerSource(&models.Answer{CacheLevel: models.LevelSemantic, Similarity: 0.9512})
	if !strings.Contains(out, "similarity 0.951") || strings.Contains(out, "sql:") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestPrintTierStats(t *testing.T) {
	var buf bytes.Buffer
	printTierStats(&buf, models.TierStats{
		Tier: "answer", Entries: 2, TotalHits: 9,
		Top: []models.TopEntry{{Text: "2023 many players", HitCount: 7, LastAccessed: time.Now()}},
	})
	out := buf.String()
	if !strings.Contains(out, "answer cache") || !strings.Contains(out, "2023 many players") {
		t.Errorf("unexpected output %q", out)
	}
}

type stubListener struct {
	err error
}

func (l stubListener) ListenAndServe(ctx context.Context) error {
	if l.err != nil {
		return l.err
	}
	<-ctx.Done()
	return nil
}

type slowJob struct {
	finished atomic.Bool
}

func (j *slowJob) Run(ctx context.Context) {
	<-ctx.Done()
	time.Sleep(20 * time.Millisecond)
	j.finished.Store(true)
}

func TestServeUntilDoneWaitsForJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	job := &slowJob{}
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, stubListener{}, job) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatal(err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("serveUntilDone did not return")
	}
	if !job.finished.Load() {
		t.Error("returned before the background job stopped")
	}
}

func TestServeUntilDoneStopsJobOnServerError(t *testing.T) {
	job := &slowJob{}
	err := serveUntilDone(context.Background(), stubListener{err: errors.New("address in use")}, job)
	if err == nil || err.Error() != "address in use" {
		t.Fatalf("err = %v", err)
	}
	if !job.finished.Load() {
		t.Error("background job still running")
	}
}
