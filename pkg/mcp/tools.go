package mcp

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pario-ai/askcache/pkg/models"
)

type askArgs struct {
	Question string `json:"question"`
}

type cacheStatsArgs struct {
	Top *int `json:"top"`
}

type queryLogArgs struct {
	Keyword   string `json:"keyword"`
	Source    string `json:"source"`
	RequestID string `json:"request_id"`
	Since     string `json:"since"`
	Limit     int    `json:"limit"`
}

type toolHandler func(ctx context.Context, s *Server, args json.RawMessage) ToolCallResult

var toolHandlers = map[string]toolHandler{
	"askcache_ask":           handleAsk,
	"askcache_cache_stats":   handleCacheStats,
	"askcache_cache_cleanup": handleCacheCleanup,
	"askcache_cache_clear":   handleCacheClear,
	"askcache_query_log":     handleQueryLog,
}

var allTools = []ToolDefinition{
	{
		Name:        "askcache_ask",
		Description: "Answer a natural-language question about the dataset, using cached answers and query results when possible.",
		InputSchema: map[string]any{
			"type":     "object",
			"required": []string{"question"},
			"properties": map[string]any{
				"question": map[string]any{
					"type":        "string",
					"description": "The question to answer",
				},
			},
		},
	},
	{
		Name:        "askcache_cache_stats",
		Description: "Show entries, hits and the most-hit entries for the answer and SQL result caches.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"top": map[string]any{
					"type":        "integer",
					"description": "Number of most-hit entries to list per cache (default 10)",
				},
			},
		},
	},
	{
		Name:        "askcache_cache_cleanup",
		Description: "Delete expired entries from both caches.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "askcache_cache_clear",
		Description: "Delete every entry from both caches.",
		InputSchema: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	},
	{
		Name:        "askcache_query_log",
		Description: "Search the log of answered questions with optional filters.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"keyword": map[string]any{
					"type":        "string",
					"description": "Match questions containing this keyword (optional)",
				},
				"source": map[string]any{
					"type":        "string",
					"description": "Filter by answer source: exact, semantic, generated or error (optional)",
				},
				"request_id": map[string]any{
					"type":        "string",
					"description": "Filter by request ID (optional)",
				},
				"since": map[string]any{
					"type":        "string",
					"description": "Start date in YYYY-MM-DD format (optional)",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum entries to return (default 50)",
				},
			},
		},
	},
}

func handleAsk(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	var args askArgs
	decodeArgs(rawArgs, &args)
	if args.Question == "" {
		return errorResult("question is required")
	}
	ans, err := s.asker.Ask(ctx, args.Question)
	if err != nil {
		return errorResult("Error answering question: " + err.Error())
	}
	return textResult(formatAnswer(ans))
}

func handleCacheStats(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if len(s.tiers) == 0 {
		return textResult("Caching is not configured.")
	}
	var args cacheStatsArgs
	decodeArgs(rawArgs, &args)
	top := 10
	if args.Top != nil && *args.Top >= 0 {
		top = *args.Top
	}

	stats := make([]models.TierStats, 0, len(s.tiers))
	for _, nt := range s.tiers {
		st, err := nt.tier.Stats(ctx, top)
		if err != nil {
			return errorResult("Error fetching " + nt.name + " cache stats: " + err.Error())
		}
		st.Tier = nt.name
		stats = append(stats, st)
	}
	return textResult(formatTierStats(stats))
}

func handleCacheCleanup(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return eachTier(ctx, s, "Expired entries removed", func(ctx context.Context, t Tier) (int64, error) {
		return t.CleanupExpired(ctx)
	})
}

func handleCacheClear(ctx context.Context, s *Server, _ json.RawMessage) ToolCallResult {
	return eachTier(ctx, s, "Entries cleared", func(ctx context.Context, t Tier) (int64, error) {
		return t.Clear(ctx)
	})
}

func eachTier(ctx context.Context, s *Server, title string, fn func(context.Context, Tier) (int64, error)) ToolCallResult {
	if len(s.tiers) == 0 {
		return textResult("Caching is not configured.")
	}
	counts := make([]tierCount, 0, len(s.tiers))
	for _, nt := range s.tiers {
		n, err := fn(ctx, nt.tier)
		if err != nil {
			return errorResult("Error on " + nt.name + " cache: " + err.Error())
		}
		counts = append(counts, tierCount{name: nt.name, n: n})
	}
	return textResult(formatCounts(title, counts))
}

func handleQueryLog(ctx context.Context, s *Server, rawArgs json.RawMessage) ToolCallResult {
	if s.queryLog == nil {
		return textResult("Query logging is not configured.")
	}
	var args queryLogArgs
	decodeArgs(rawArgs, &args)

	opts := models.QueryLogOpts{
		RequestID:    args.RequestID,
		Keyword:      args.Keyword,
		AnswerSource: args.Source,
		Limit:        args.Limit,
	}
	if opts.Limit <= 0 {
		opts.Limit = 50
	}
	if args.Since != "" {
		t, err := time.Parse("2006-01-02", args.Since)
		if err != nil {
			return errorResult("Invalid since date (use YYYY-MM-DD): " + err.Error())
		}
		opts.Since = t
	}

	entries, err := s.queryLog.Query(ctx, opts)
	if err != nil {
		return errorResult("Error searching query log: " + err.Error())
	}
	return textResult(formatQueryLog(entries))
}
