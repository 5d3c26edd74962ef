// Copyright 2026 The Trackline Authors
// SPDX-License-Identifier: Apache-2.0

// Command trackline is the maintenance tool for local run journals:
// listing, delivering, and clearing the operation logs the client
// library leaves on disk.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trackline/trackline/cmd/trackline/cli"
	"github.com/trackline/trackline/cmd/trackline/commands"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := cli.NewCommandLogger()
	if err := commands.Root().Execute(ctx, os.Args[1:], logger); err != nil {
		// ExitError means the command already reported its outcome and
		// only the exit code remains.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
