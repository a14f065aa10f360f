// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package main contains the neurorun command-line interface (CLI).
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/matt-FFFFFF/neurorun"
	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/cmdstate"
	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/config"
	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/phases"
	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/run"
	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/show"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/signalbroker"
	"github.com/urfave/cli/v3"
)

// rootCmd is the root command for the CLI.
var rootCmd = &cli.Command{
	Commands: []*cli.Command{
		run.SegmentCmd,
		run.PipelineCmd,
		phases.PhasesCmd,
		config.ConfigCmd,
		show.ShowCmd,
	},
	Writer:    os.Stdout,
	ErrWriter: os.Stderr,
	Name:      "neurorun",
	Description: `neurorun drives external neuroimaging tools over a batch of input images.
In segment mode each image is taken through a chain of phases, one external
process per phase, with the output of one phase feeding the next.
In pipeline mode a single self-reporting process is launched and its progress
lines are followed.

Interrupt once to stop cleanly after the running process is terminated.
Interrupt twice to stop immediately.`,
	Usage:     "neurorun segment --workspace /data/ws scan.nii.gz",
	Copyright: "Copyright (c) matt-FFFFFF 2025. All rights reserved.",
	Authors: []any{
		"Matt White (matt-FFFFFF)",
	},
	EnableShellCompletion: true,
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	ctx = ctxlog.New(ctx, ctxlog.DefaultLogger)
	defer cancel()

	sigCh := signalbroker.New(ctx)

	go signalbroker.Watch(ctx, sigCh, func(os.Signal) {
		if !cmdstate.Stop() {
			cancel()
		}
	}, cancel)

	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", neurorun.Version, neurorun.Commit)

	err := rootCmd.Run(ctx, os.Args) // Err is handled by cli framework

	if ctx.Err() != nil {
		ctxlog.Logger(ctx).Error("command terminated due to cancellation", "error", ctx.Err())
		os.Exit(1)
	}

	if err != nil {
		ctxlog.Logger(ctx).Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
