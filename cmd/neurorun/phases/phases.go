// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phases

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/matt-FFFFFF/neurorun/internal/config"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/hcl"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/urfave/cli/v3"
)

const (
	configFlag    = "config"
	phasesDirFlag = "phases"
	debugFlag     = "debug"
)

// PhasesCmd prints the phase plan that the segment command would run.
var PhasesCmd = &cli.Command{
	Name:  "phases",
	Usage: "Print the phase plan, or explore phase variables interactively",
	Description: `Print the phases that the segment command runs, in order, with their
executables and arguments before per-file templates are rendered.

With --debug an interactive console evaluates HCL expressions such as
var.python or upper(local.scripts) against the loaded variables.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "URL of the YAML configuration file",
		},
		&cli.StringFlag{
			Name:      phasesDirFlag,
			Aliases:   []string{"p"},
			Usage:     "Directory of *.neurorun.hcl phase definitions",
			TakesFile: true,
		},
		&cli.BoolFlag{
			Name:  debugFlag,
			Usage: "Open an interactive expression console",
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	logger := ctxlog.Logger(ctx).With("command", cmd.Name)

	cfg, err := config.Load(ctx, cmd.String(configFlag))
	if err != nil {
		logger.Error(fmt.Sprintf("Failed to load configuration: %s", err.Error()))
		return cli.Exit("", 1)
	}

	dir := cmd.String(phasesDirFlag)
	if dir == "" {
		dir = cfg.Segment.PhasesDir
	}

	h := hcl.FromVars(cfg.Vars)
	h.Phases = cfg.Segment.Phases

	if dir != "" {
		if h, err = hcl.Load(dir, cfg.Vars); err != nil {
			logger.Error(fmt.Sprintf("Failed to load phases from %s: %s", dir, err.Error()))
			return cli.Exit("", 1)
		}
	}

	if cmd.Bool(debugFlag) {
		hcl.EnterDebugMode(h, cmd.Writer)
		return nil
	}

	return writePlan(cmd.Writer, h.Phases)
}

func writePlan(w io.Writer, plan phase.Plan) error {
	for i, d := range plan {
		k := i + 1

		line := fmt.Sprintf("%d. %s: %s %s", k, d.Name, d.Executable, strings.Join(d.Args, " "))
		if _, err := fmt.Fprintln(w, strings.TrimSpace(line)); err != nil {
			return err
		}

		details := []string{"output " + d.OutDirName(k)}
		if d.Timeout > 0 {
			details = append(details, "timeout "+d.Timeout.String())
		}

		if d.Description != "" {
			details = append(details, d.Description)
		}

		if _, err := fmt.Fprintf(w, "   %s\n", strings.Join(details, ", ")); err != nil {
			return err
		}
	}

	return nil
}
