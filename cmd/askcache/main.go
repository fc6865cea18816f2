package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/pario-ai/askcache/pkg/config"
)

var version = "dev"

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "askcache",
		Short:         "askcache answers questions about a SQLite dataset with a two-tier answer and SQL result cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to askcache config file")

	load := func() (*config.Config, logrus.FieldLogger, error) {
		return loadConfig(configPath)
	}

	root.AddCommand(
		newServeCmd(load),
		newAskCmd(load),
		newCacheCmd(load),
		newLogCmd(load),
		newMCPCmd(load),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type loader func() (*config.Config, logrus.FieldLogger, error)

// loadConfig reads configPath, or the defaults when it is empty, and builds
// a logger writing to stderr at the configured level.
func loadConfig(configPath string) (*config.Config, logrus.FieldLogger, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("load config: %w", err)
		}
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	for _, w := range cfg.Warnings() {
		log.Warn(w)
	}
	return cfg, log, nil
}
