package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pario-ai/askcache/pkg/mcp"
)

func newMCPCmd(load loader) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve askcache as an MCP server over stdio",
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

			opts := []mcp.Option{mcp.WithLogger(log)}
			for _, nt := range a.tiers() {
				opts = append(opts, mcp.WithTier(nt.name, nt.tier))
			}
			if a.queryLog != nil {
				opts = append(opts, mcp.WithQueryLog(a.queryLog))
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return mcp.New(a.pipeline, version, opts...).Run(ctx, os.Stdin, os.Stdout)
		},
	}
}
