package mcp

import (
	"fmt"
	"strings"

	"github.com/pario-ai/askcache/pkg/models"
)

type tierCount struct {
	name string
	n    int64
}

func formatAnswer(a *models.Answer) string {
	var b strings.Builder
	b.WriteString(a.Response)
	b.WriteString("\n\n")
	switch a.CacheLevel {
	case models.LevelSemantic:
		fmt.Fprintf(&b, "Source: semantic cache (similarity %.3f)\n", a.Similarity)
	case models.LevelExact:
		b.WriteString("Source: exact cache\n")
	default:
		b.WriteString("Source: generated\n")
	}
	if a.SQL != "" {
		cached := ""
		if a.SQLCached {
			cached = " (cached result)"
		}
		fmt.Fprintf(&b, "SQL%s: %s\n", cached, a.SQL)
	}
	fmt.Fprintf(&b, "Request: %s\n", a.RequestID)
	return b.String()
}

func formatTierStats(stats []models.TierStats) string {
	var b strings.Builder
	for i, st := range stats {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s cache\n"+
			"  Entries:    %d\n"+
			"  Total hits: %d\n"+
			"  In memory:  %d\n"+
			"  Hit rate:   %.1f%% (%d hits, %d misses)\n",
			st.Tier, st.Entries, st.TotalHits, st.MemoryEntries, st.HitRate(), st.Hits, st.Misses)
		if len(st.Top) == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %6s  %-20s  %s\n", "Hits", "Last Accessed", "Entry")
		for _, e := range st.Top {
			fmt.Fprintf(&b, "  %6d  %-20s  %s\n",
				e.HitCount, e.LastAccessed.Format("2006-01-02 15:04:05"), truncate(e.Text, 60))
		}
	}
	return b.String()
}

func formatCounts(title string, counts []tierCount) string {
	var b strings.Builder
	b.WriteString(title + "\n")
	for _, c := range counts {
		fmt.Fprintf(&b, "  %-8s %d\n", c.name+":", c.n)
	}
	return b.String()
}

func formatQueryLog(entries []models.QueryLogEntry) string {
	if len(entries) == 0 {
		return "No query log entries found."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-20s %-10s %8s %6s  %s\n", "Time", "Source", "Latency", "Rows", "Question")
	b.WriteString(strings.Repeat("-", 90) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-20s %-10s %6dms %6d  %s\n",
			e.CreatedAt.Format("2006-01-02 15:04:05"), e.AnswerSource, e.LatencyMs, e.RowCount,
			truncate(e.Question, 50))
	}
	return b.String()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
