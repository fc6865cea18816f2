package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/askcache/pkg/models"
)

func newAskCmd(load loader) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "ask QUESTION...",
		Short: "Answer a single question and exit",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			a, err := openApp(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			ans, err := a.pipeline.Ask(context.Background(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(ans)
			}
			fmt.Println(ans.Response)
			fmt.Println()
			fmt.Print(formatAnswerSource(ans))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full answer as JSON")
	return cmd
}

func formatAnswerSource(a *models.Answer) string {
	var b strings.Builder
	switch a.CacheLevel {
	case models.LevelSemantic:
		fmt.Fprintf(&b, "source:  semantic cache (similarity %.3f)\n", a.Similarity)
	case models.LevelExact:
		b.WriteString("source:  exact cache\n")
	default:
		b.WriteString("source:  generated\n")
	}
	if a.SQL != "" {
		fmt.Fprintf(&b, "sql:     %s\n", a.SQL)
		fmt.Fprintf(&b, "rows:    %d (cached: %t)\n", a.RowCount, a.SQLCached)
	}
	fmt.Fprintf(&b, "latency: %s\n", a.Latency.Round(time.Millisecond))
	return b.String()
}
