// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands implements the trackline CLI commands.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/trackline/trackline/cmd/trackline/cli"
	"github.com/trackline/trackline/lib/backend"
	"github.com/trackline/trackline/lib/config"
	"github.com/trackline/trackline/lib/processor"
	"github.com/trackline/trackline/lib/syncer"
	"github.com/trackline/trackline/lib/version"
)

// Root returns the root trackline command with all subcommands
// registered.
func Root() *cli.Command {
	return &cli.Command{
		Name:    "trackline",
		Summary: "Maintenance tool for trackline run journals",
		Description: "trackline manages the local operation journals written by the\n" +
			"trackline client library. Runs that could not deliver all of their\n" +
			"data before the process exited leave journals behind; this tool\n" +
			"lists them, delivers them, and cleans up after them.",
		Subcommands: []*cli.Command{
			newStatusCommand(),
			newSyncCommand(),
			newClearCommand(),
			{
				Name:    "version",
				Summary: "Print the trackline version",
				Run: func(_ context.Context, _ []string, _ *slog.Logger) error {
					fmt.Println(version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "List runs with undelivered operations",
				Command:     "trackline status",
			},
			{
				Description: "Deliver everything left behind by crashed or offline runs",
				Command:     "trackline sync --all",
			},
		},
	}
}

// loadConfig resolves the effective configuration: an explicit --config
// path wins, then the TRACKLINE_CONFIG environment variable, then the
// defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// newCoordinator builds a syncer coordinator from the configuration.
// The backend client is optional; commands that deliver data check for
// it themselves and fail with a clear message when backend.url is
// unset.
func newCoordinator(cfg *config.Config, logger *slog.Logger) (*syncer.Coordinator, error) {
	var client backend.Client
	if cfg.Backend.URL != "" {
		client = backend.NewHTTPClient(backend.HTTPOptions{
			BaseURL:        cfg.Backend.URL,
			APIToken:       cfg.Backend.APIToken,
			RequestTimeout: config.Duration(cfg.Backend.RequestTimeout),
			Logger:         logger,
		})
	}
	return syncer.New(syncer.Options{
		Root:        cfg.Storage.Root,
		Client:      client,
		Journal:     cfg.JournalOptions(),
		Processor:   processorOptions(cfg),
		StopTimeout: config.Duration(cfg.Sync.StopTimeout),
		Logger:      logger,
	})
}

func processorOptions(cfg *config.Config) processor.Options {
	return processor.Options{
		MaxBatchCount:     cfg.Sync.MaxBatchCount,
		MaxBatchBytes:     cfg.Sync.MaxBatchBytes,
		InitialBackoff:    config.Duration(cfg.Sync.InitialBackoff),
		MaxBackoff:        config.Duration(cfg.Sync.MaxBackoff),
		RequestsPerSecond: cfg.Sync.RequestsPerSecond,
		PoisonRetryBudget: cfg.Sync.PoisonRetryBudget,
	}
}

// fatal prints the error and maps it to the documented fatal exit
// code.
func fatal(w io.Writer, err error) error {
	fmt.Fprintf(w, "error: %v\n", err)
	return &cli.ExitError{Code: 2}
}
