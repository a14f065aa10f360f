// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package run

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/matt-FFFFFF/neurorun/internal/batch"
	"github.com/matt-FFFFFF/neurorun/internal/config"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/selfreport"
	"github.com/urfave/cli/v3"
)

const (
	pipelineConfigFlag = "pipeline-config"
	outDirFlag         = "out-dir"
)

// PipelineCmd launches the self-reporting pipeline process once for the whole workspace.
var PipelineCmd = &cli.Command{
	Name:      "pipeline",
	Usage:     "Run the self-reporting pipeline over a workspace",
	UsageText: "neurorun pipeline [options] [-- EXTRA ARGS]",
	Description: `Launch the configured pipeline executable once and follow the progress
it reports on its standard output.

Without --pipeline-config the newest <N>_config.json in <workspace>/pipeline is
used, falling back to pipeline_config.json. Results are written next to it in
<N>_output unless --out-dir is given. Subjects named in the configuration are
tracked and reported as the pipeline finishes each of them.

Arguments after the options are passed to the pipeline executable.`,
	Flags: append(commonFlags(),
		&cli.StringFlag{
			Name:      pipelineConfigFlag,
			Usage:     "JSON configuration passed to the pipeline with --config",
			TakesFile: true,
			OnlyOnce:  true,
		},
		&cli.StringFlag{
			Name:      outDirFlag,
			Usage:     "Output directory passed to the pipeline with --out-dir",
			TakesFile: true,
			OnlyOnce:  true,
		},
	),
	Action: pipelineAction,
}

func pipelineAction(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)
	logger.Debug("Running pipeline command")

	cfg, err := loadConfig(ctx, cmd)
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load configuration: %s", err.Error()))
		return cli.Exit(cliExitStr, exitFailed)
	}

	spec, err := pipelineSpec(cfg, cmd.String(pipelineConfigFlag), cmd.String(outDirFlag), cmd.Args().Slice())
	if err != nil {
		logger.Error(err.Error())
		return cli.Exit(cliExitStr, exitFailed)
	}

	if len(spec.Entities) == 0 {
		logger.Warn("No subjects found in the pipeline configuration, completion will not be tracked per subject",
			"config", spec.ConfigPath)
	}

	grammar, err := cfg.Pipeline.Grammar.Compile()
	if err != nil {
		logger.Error(fmt.Sprintf("Invalid pipeline grammar: %s", err.Error()))
		return cli.Exit(cliExitStr, exitFailed)
	}

	runner := selfreport.NewRunner(cfg.PipelineRunner(), grammar, cfg.SearchDirs...)

	summary := execute(ctx, cmd, execution{
		title:    "neurorun pipeline: " + filepath.Base(spec.ConfigPath),
		items:    spec.Entities,
		pipeline: runner,
		run: func(ctx context.Context, c *batch.Coordinator) batch.Summary {
			return c.RunPipeline(ctx, spec)
		},
	})

	return finish(ctx, cmd, summary)
}

// pipelineSpec resolves the configuration file, output directory and subjects for one run.
func pipelineSpec(cfg *config.Config, configPath, outDir string, extra []string) (selfreport.Spec, error) {
	if configPath == "" {
		p, err := selfreport.FindLatestConfig(cfg.Workspace)
		if err != nil {
			return selfreport.Spec{}, err
		}

		configPath = p
	}

	if outDir == "" {
		outDir = selfreport.OutputDirFor(configPath)
	}

	// A configuration without subjects is still runnable.
	entities, _ := selfreport.SubjectsFromConfig(configPath)

	return selfreport.Spec{
		Executable: cfg.Pipeline.Executable,
		Args:       append(append([]string(nil), cfg.Pipeline.Args...), extra...),
		ConfigPath: configPath,
		WorkDir:    cfg.Workspace,
		OutDir:     outDir,
		Entities:   entities,
	}, nil
}
