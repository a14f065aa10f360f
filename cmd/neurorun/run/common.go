// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package run contains the segment and pipeline commands, which start a batch
// and display its progress either as log lines or in the TUI.
package run

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/matt-FFFFFF/neurorun/cmd/neurorun/cmdstate"
	"github.com/matt-FFFFFF/neurorun/internal/batch"
	"github.com/matt-FFFFFF/neurorun/internal/config"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
	"github.com/matt-FFFFFF/neurorun/internal/selfreport"
	"github.com/matt-FFFFFF/neurorun/internal/tui"
	"github.com/urfave/cli/v3"
)

const (
	workspaceFlag = "workspace"
	configFlag    = "config"
	tuiFlag       = "tui"
	reportFlag    = "report"
	phasesFlag    = "show-phases"
	cliExitStr    = ""

	exitFailed    = 1
	exitCancelled = 130
)

// ErrWriteReport is returned when the report file cannot be created.
var ErrWriteReport = errors.New("failed to write report file")

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:      workspaceFlag,
			Aliases:   []string{"w"},
			Usage:     "Workspace directory. Overrides the workspace in the configuration file.",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage: "URL of the YAML configuration file. " +
				"Supports Hashicorp's go-getter syntax for fetching files from various sources. " +
				"Defaults are used when not given.",
			OnlyOnce: true,
		},
		&cli.BoolFlag{
			Name:        tuiFlag,
			Aliases:     []string{"t", "interactive"},
			Usage:       "Run with interactive Terminal User Interface (TUI) showing real-time progress",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
		&cli.StringFlag{
			Name:      reportFlag,
			Aliases:   []string{"o"},
			Usage:     "Write the run report to this file, for use with `neurorun show`",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.BoolFlag{
			Name:        phasesFlag,
			Usage:       "Include per-phase details in the printed summary",
			Value:       false,
			DefaultText: "false",
			OnlyOnce:    true,
		},
	}
}

// loadConfig loads the configuration and applies the workspace flag.
// The workspace defaults to the working directory and is made absolute.
func loadConfig(ctx context.Context, cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(ctx, cmd.String(configFlag))
	if err != nil {
		return nil, err
	}

	if ws := cmd.String(workspaceFlag); ws != "" {
		cfg.Workspace = ws
	}

	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}

	ws, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, err
	}

	cfg.Workspace = ws

	return cfg, nil
}

// execution describes one batch to run through a Coordinator.
type execution struct {
	title    string
	items    []string
	workflow *phase.Workflow
	pipeline *selfreport.Runner
	run      func(ctx context.Context, c *batch.Coordinator) batch.Summary
}

// execute runs ex, in the TUI when requested, and registers the coordinator's
// Cancel as the stop function for the first termination signal.
func execute(ctx context.Context, cmd *cli.Command, ex execution) batch.Summary {
	logger := ctxlog.Logger(ctx)

	if !cmd.Bool(tuiFlag) {
		c := batch.NewCoordinator(progress.NewLogReporter(ctx), ex.workflow, ex.pipeline)
		restore := cmdstate.SetStop(c.Cancel)

		defer restore()

		return ex.run(ctx, c)
	}

	logger.Info("Starting interactive TUI mode...")

	buf := new(bytes.Buffer)
	tuiCtx := ctxlog.NewForTUI(ctx, buf)

	runner := tui.NewRunner([]tui.Option{
		tui.WithTitle(ex.title),
		tui.WithItems(ex.items...),
		tui.WithCancel(func() { cmdstate.Stop() }),
	})

	c := batch.NewCoordinator(
		progress.Tee(runner.Reporter(), progress.NewLogReporter(tuiCtx)),
		ex.workflow,
		ex.pipeline,
	)
	restore := cmdstate.SetStop(c.Cancel)

	defer restore()

	var summary batch.Summary

	err := runner.Run(tuiCtx, func() {
		summary = ex.run(tuiCtx, c)
	})

	buf.WriteTo(cmd.Writer) //nolint:errcheck

	if err != nil {
		logger.Error(fmt.Sprintf("TUI execution error: %s", err.Error()), "error", err.Error())
	}

	return summary
}

// finish writes the report file if requested, prints the summary and maps the
// outcome to the process exit status.
func finish(ctx context.Context, cmd *cli.Command, summary batch.Summary) error {
	logger := ctxlog.Logger(ctx)
	report := summary.Report()

	if name := cmd.String(reportFlag); name != "" {
		if err := writeReport(name, report); err != nil {
			logger.Error(err.Error())
			return cli.Exit(cliExitStr, exitFailed)
		}

		logger.Info(fmt.Sprintf("Report written to %s", name))
	}

	if err := report.WriteText(cmd.Writer, &batch.TextOptions{ShowPhases: cmd.Bool(phasesFlag)}); err != nil {
		logger.Error(fmt.Sprintf("Failed to write summary: %s", err.Error()))
		return cli.Exit(cliExitStr, exitFailed)
	}

	return exitFor(summary)
}

func exitFor(summary batch.Summary) error {
	switch summary.Outcome {
	case progress.OutcomeSucceeded:
		return nil
	case progress.OutcomeCancelled:
		return cli.Exit(cliExitStr, exitCancelled)
	default:
		return cli.Exit(cliExitStr, exitFailed)
	}
}

func writeReport(name string, report batch.Report) error {
	f, err := os.Create(name)
	if err != nil {
		return errors.Join(ErrWriteReport, err)
	}

	defer f.Close() //nolint:errcheck

	if err := report.WriteBinary(f); err != nil {
		return errors.Join(ErrWriteReport, err)
	}

	return nil
}
