package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pario-ai/askcache/pkg/metrics"
	"github.com/pario-ai/askcache/pkg/models"
)

func newCacheCmd(load loader) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the answer and SQL result caches",
	}

	var top int
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show entries, hits and the most-hit entries per cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaches(load, func(ctx context.Context, c *caches) error {
				for _, nt := range c.tiers() {
					st, err := nt.tier.Stats(ctx, top)
					if err != nil {
						return fmt.Errorf("%s cache stats: %w", nt.name, err)
					}
					st.Tier = nt.name
					printTierStats(os.Stdout, st)
				}
				return nil
			})
		},
	}
	statsCmd.Flags().IntVar(&top, "top", 10, "number of most-hit entries to list")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every cache entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaches(load, func(ctx context.Context, c *caches) error {
				for _, nt := range c.tiers() {
					n, err := nt.tier.Clear(ctx)
					if err != nil {
						return fmt.Errorf("clear %s cache: %w", nt.name, err)
					}
					fmt.Printf("Cleared %d %s cache entries.\n", n, nt.name)
				}
				return nil
			})
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withCaches(load, func(ctx context.Context, c *caches) error {
				for _, nt := range c.tiers() {
					n, err := nt.tier.CleanupExpired(ctx)
					if err != nil {
						return fmt.Errorf("clean up %s cache: %w", nt.name, err)
					}
					fmt.Printf("Deleted %d expired %s cache entries.\n", n, nt.name)
				}
				return nil
			})
		},
	}

	cmd.AddCommand(statsCmd, clearCmd, cleanupCmd)
	return cmd
}

// withCaches opens the store and tiers without any model client.
func withCaches(load loader, fn func(context.Context, *caches) error) error {
	cfg, log, err := load()
	if err != nil {
		return err
	}
	c, err := openCaches(cfg, log, metrics.New(nil), nil)
	if err != nil {
		return err
	}
	defer func() { _ = c.close() }()
	return fn(context.Background(), c)
}

func printTierStats(w io.Writer, st models.TierStats) {
	fmt.Fprintf(w, "%s cache\n", st.Tier)
	fmt.Fprintf(w, "  Entries:    %d\n", st.Entries)
	fmt.Fprintf(w, "  Total hits: %d\n", st.TotalHits)
	if len(st.Top) == 0 {
		fmt.Fprintln(w)
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  HITS\tLAST ACCESSED\tENTRY")
	for _, e := range st.Top {
		fmt.Fprintf(tw, "  %d\t%s\t%s\n", e.HitCount, e.LastAccessed.Local().Format("2006-01-02 15:04:05"), e.Text)
	}
	_ = tw.Flush()
	fmt.Fprintln(w)
}
