// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/trackline/trackline/cmd/trackline/cli"
)

func newClearCommand() *cli.Command {
	var (
		configPath string
		force      bool
	)
	return &cli.Command{
		Name:    "clear",
		Summary: "Remove journal directories left behind by finished runs",
		Description: "clear deletes journal directories whose operations were all\n" +
			"delivered. With --force it also deletes journals that still hold\n" +
			"pending operations, discarding them permanently. Journals owned by\n" +
			"a live process are never touched.",
		Usage: "trackline clear [flags]",
		Flags: func() *pflag.FlagSet {
			fs := pflag.NewFlagSet("clear", pflag.ContinueOnError)
			fs.StringVar(&configPath, "config", "", "path to the config file")
			fs.BoolVar(&force, "force", false, "also discard undelivered operations")
			return fs
		},
		Run: func(_ context.Context, _ []string, logger *slog.Logger) error {
			return runClear(os.Stdout, configPath, force, logger)
		},
	}
}

func runClear(out io.Writer, configPath string, force bool, logger *slog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	c, err := newCoordinator(cfg, logger)
	if err != nil {
		return err
	}
	removed, err := c.Clear(force)
	if err != nil {
		return fatal(out, err)
	}
	fmt.Fprintf(out, "removed %d journal directories\n", removed)
	return nil
}
