package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/askcache/pkg/models"
	"github.com/pario-ai/askcache/pkg/querylog"
)

func newLogCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query and manage the log of answered questions",
	}

	cmd.AddCommand(
		newLogSearchCmd(load),
		newLogStatsCmd(load),
		newLogCleanupCmd(load),
	)
	return cmd
}

func newLogSearchCmd(load loader) *cobra.Command {
	var (
		keyword   string
		source    string
		requestID string
		since     string
		limit     int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search query log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := models.QueryLogOpts{
				Keyword:      keyword,
				AnswerSource: source,
				RequestID:    requestID,
				Limit:        limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			return withQueryLog(load, func(ctx context.Context, l *querylog.Logger) error {
				entries, err := l.Query(ctx, opts)
				if err != nil {
					return err
				}
				printQueryLog(os.Stdout, entries)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&keyword, "keyword", "", "filter by question keyword")
	cmd.Flags().StringVar(&source, "source", "", "filter by answer source (exact, semantic, generated, error)")
	cmd.Flags().StringVar(&requestID, "request-id", "", "filter by request ID")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newLogStatsCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show question counts and latency by answer source and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueryLog(load, func(ctx context.Context, l *querylog.Logger) error {
				stats, err := l.Stats(ctx)
				if err != nil {
					return err
				}
				printQueryLogStats(os.Stdout, stats)
				return nil
			})
		},
	}
}

func newLogCleanupCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete query log entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withQueryLog(load, func(ctx context.Context, l *querylog.Logger) error {
				deleted, err := l.Cleanup(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("Deleted %d query log entries.\n", deleted)
				return nil
			})
		},
	}
}

func withQueryLog(load loader, fn func(context.Context, *querylog.Logger) error) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	l, err := querylog.New(cfg.QueryLog, log)
	if err != nil {
		return fmt.Errorf("open query log: %w", err)
	}
	defer func() { _ = l.Close() }()
	return fn(context.Background(), l)
}

func printQueryLog(w io.Writer, entries []models.QueryLogEntry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No query log entries found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tSOURCE\tLATENCY\tROWS\tREQUEST ID\tQUESTION")
	for _, e := range entries {
		source := e.AnswerSource
		if e.SQLCached {
			source += "+sql"
		}
		fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%s\t%s\n",
			e.CreatedAt.Local().Format("2006-01-02 15:04:05"), source, e.LatencyMs, e.RowCount,
			e.RequestID, strings.TrimSpace(e.Question))
	}
	_ = tw.Flush()
}

func printQueryLogStats(w io.Writer, stats []models.QueryLogStat) {
	if len(stats) == 0 {
		fmt.Fprintln(w, "No query log stats found.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tSOURCE\tCOUNT\tAVG LATENCY")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.0fms\n", s.Day, s.AnswerSource, s.Count, s.AvgLatencyMs)
	}
	_ = tw.Flush()
}
