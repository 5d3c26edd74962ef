// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/trackline/trackline/cmd/trackline/cli"
)

func newStatusCommand() *cli.Command {
	var configPath string
	return &cli.Command{
		Name:    "status",
		Summary: "List runs with undelivered operations",
		Description: "status scans the storage root for journals that still hold\n" +
			"operations the backend has not confirmed. It only reads progress\n" +
			"markers, so it is safe to run while training processes are active.",
		Usage: "trackline status [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("status", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to the config file")
			return fs
		},
		Run: func(_ context.Context, _ []string, logger *slog.Logger) error {
			return runStatus(os.Stdout, configPath, logger)
		},
	}
}

func runStatus(out io.Writer, configPath string, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	pending, err := c.DiscoverUnsynced()
	if err != nil {
		return fatal(out, err)
	}
	if len(pending) == 0 {
		fmt.Fprintln(out, "all runs synced")
		return nil
	}

	tw := tabwriter.NewWriter(out, 2, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPENDING\tATTEMPTS")
	for _, run := range pending {
		fmt.Fprintf(tw, "%s\t%d\t%d\n", run.RunID, run.Pending, run.Attempts)
	}
	return tw.Flush()
}
