// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/trackline/trackline/cmd/trackline/cli"
	"github.com/trackline/trackline/lib/processor"
)

func newSyncCommand() *cli.Command {
	var (
		configPath string
		all        bool
		timeout    time.Duration
	)
	return &cli.Command{
		Name:    "sync",
		Summary: "Deliver undelivered operations to the backend",
		Description: "sync opens the journals left behind by crashed or offline runs\n" +
			"and delivers their operations. Runs currently owned by a live\n" +
			"process are skipped; use the library's own shutdown path for those.\n" +
			"\n" +
			"Exit codes: 0 when everything was delivered, 1 when the timeout\n" +
			"expired with operations still pending, 2 on a fatal error such as\n" +
			"journal corruption or rejected credentials.",
		Usage: "trackline sync [--all | <run_id>...] [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("sync", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to the config file")
			fs.BoolVar(&all, "all", false, "sync every run with pending operations")
			fs.DurationVar(&timeout, "timeout", 0, "bound the whole sync (0 means no limit)")
			return fs
		},
		Examples: []cli.Example{
			{
				Description: "Deliver one run, giving up after five minutes",
				Command:     "trackline sync --timeout 5m sunny-horizon-42",
			},
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			return runSync(ctx, os.Stdout, configPath, all, timeout, args, logger)
		},
	}
}

func runSync(ctx context.Context, out io.Writer, configPath string, all bool,
	timeout time.Duration, runIDs []string, logger *slog.Logger) error {
	if all == (len(runIDs) > 0) {
		return fmt.Errorf("specify either --all or one or more run ids")
	}
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var syncErr error
	if all {
		syncErr = c.SyncAll(ctx)
	} else {
		for _, runID := range runIDs {
			switch err := c.Sync(ctx, runID); {
			case errors.Is(err, processor.ErrIncompleteDrain):
				syncErr = err
			case err != nil:
				return fatal(out, err)
			}
		}
	}

	switch {
	case syncErr == nil:
		fmt.Fprintln(out, "sync complete")
		return nil
	case errors.Is(syncErr, processor.ErrIncompleteDrain):
		fmt.Fprintln(out, "sync incomplete: operations remain, run again to continue")
		return &cli.ExitError{Code: 1}
	default:
		return fatal(out, syncErr)
	}
}
