// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matt-FFFFFF/neurorun/internal/batch"
	"github.com/matt-FFFFFF/neurorun/internal/config"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/hcl"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/urfave/cli/v3"
)

const (
	phasesDirFlag = "phases"
	varFlag       = "var"
)

// ErrInvalidVar is returned when a --var value is not KEY=VALUE.
var ErrInvalidVar = errors.New("variable must be in KEY=VALUE form")

// SegmentCmd runs every input file through the configured phases, one file at a time.
var SegmentCmd = &cli.Command{
	Name:      "segment",
	Usage:     "Run the phase chain over one or more input images",
	UsageText: "neurorun segment [options] FILE...",
	Description: `Run every phase of the segmentation chain for each input file in turn.
Each phase reads the previous phase's output directory and writes a new one in a
per-file scratch directory, which is removed when the file is done.
The final phase writes its results into the workspace.

Phases come from the configuration file, or from a directory of *.neurorun.hcl
files given with --phases.

Send an interrupt to stop after the running phase is terminated. A second
interrupt stops immediately.`,
	Flags: append(commonFlags(),
		&cli.StringFlag{
			Name:      phasesDirFlag,
			Aliases:   []string{"p"},
			Usage:     "Directory of *.neurorun.hcl phase definitions. Overrides the phases in the configuration file.",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.StringSliceFlag{
			Name:  varFlag,
			Usage: "Set a template variable, as KEY=VALUE. Specify multiple times to set several.",
		},
	),
	Action: segmentAction,
}

func segmentAction(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)
	logger.Debug("Running segment command")

	files := cmd.Args().Slice()
	if len(files) == 0 {
		logger.Error("Please specify at least one input file.")
		return cli.Exit(cliExitStr, exitFailed)
	}

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load configuration: %s", err.Error()))
		return cli.Exit(cliExitStr, exitFailed)
	}

	if err := applyVars(cfg, cmd.StringSlice(varFlag)); err != nil {
		logger.Error(err.Error())
		return cli.Exit(cliExitStr, exitFailed)
	}

	wf, err := buildWorkflow(cfg, cmd.String(phasesDirFlag))
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load phases: %s", err.Error()))
		return cli.Exit(cliExitStr, exitFailed)
	}

	paths, names, err := absPaths(files)
	if err != nil {
		logger.Error(err.Error())
		return cli.Exit(cliExitStr, exitFailed)
	}

	summary := execute(ctx, cmd, execution{
		title:    "neurorun segment: " + strings.Join(wf.Plan.Names(), " → "),
		items:    names,
		workflow: wf,
		run: func(ctx context.Context, c *batch.Coordinator) batch.Summary {
			return c.Run(ctx, paths)
		},
	})

	return finish(ctx, cmd, summary)
}

// buildWorkflow returns the workflow for cfg, with phases read from dir when it is not empty.
func buildWorkflow(cfg *config.Config, dir string) (*phase.Workflow, error) {
	plan := cfg.Segment.Phases

	if dir == "" {
		dir = cfg.Segment.PhasesDir
	}

	if dir != "" {
		h, err := hcl.Load(dir, cfg.Vars)
		if err != nil {
			return nil, err
		}

		plan = h.Phases
	}

	if len(plan) == 0 {
		return nil, phase.ErrInvalidPlan
	}

	return &phase.Workflow{
		Plan:        plan,
		Executor:    phase.NewExecutor(cfg.SegmentRunner(), cfg.SearchDirs...),
		ScratchRoot: cfg.ScratchRoot,
		Workspace:   cfg.Workspace,
		Vars:        cfg.Vars,
	}, nil
}

func applyVars(cfg *config.Config, kvs []string) error {
	if len(kvs) > 0 && cfg.Vars == nil {
		cfg.Vars = make(map[string]string, len(kvs))
	}

	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return fmt.Errorf("%w: %q", ErrInvalidVar, kv)
		}

		cfg.Vars[strings.TrimSpace(k)] = v
	}

	return nil
}

// absPaths resolves the command line arguments against the working directory.
func absPaths(files []string) ([]string, []string, error) {
	paths := make([]string, len(files))
	names := make([]string, len(files))

	for i, f := range files {
		p, err := filepath.Abs(f)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %w", batch.ErrInvalidItem, f, err)
		}

		paths[i] = p
		names[i] = filepath.Base(p)
	}

	return paths, names, nil
}
