package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pario-ai/askcache/pkg/server"
	"github.com/pario-ai/askcache/pkg/sweeper"
)

func newServeCmd(load loader) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			a, err := openApp(cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.close() }()

			opts := []server.Option{server.WithGatherer(a.registry), server.WithLogger(log)}
			sweep := map[string]sweeper.Tier{}
			for _, nt := range a.tiers() {
				opts = append(opts, server.WithTier(nt.name, nt.tier))
				sweep[nt.name] = nt.tier
			}
			srv := server.New(cfg.Listen, a.pipeline, opts...)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log.WithField("dataset", cfg.DatasetPath).Info("starting askcache")
			return serveUntilDone(ctx, srv, sweeper.New(cfg.Cleanup.Interval, sweep, log))
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

type listener interface {
	ListenAndServe(ctx context.Context) error
}

type backgroundJob interface {
	Run(ctx context.Context)
}

// serveUntilDone runs srv and job until ctx is done or srv fails, and returns
// only after both have stopped, so the caller can close what they use.
func serveUntilDone(ctx context.Context, srv listener, job backgroundJob) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	g.Go(func() error {
		job.Run(ctx)
		return nil
	})
	g.Go(func() error {
		defer cancel()
		return srv.ListenAndServe(ctx)
	})
	return g.Wait()
}
