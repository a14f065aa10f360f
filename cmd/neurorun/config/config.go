// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"

	"github.com/matt-FFFFFF/neurorun/internal/config"
	"github.com/urfave/cli/v3"
)

const configFlag = "config"

// ConfigCmd prints the effective configuration.
var ConfigCmd = &cli.Command{
	Name:  "config",
	Usage: "Print the effective configuration as YAML",
	Description: `Print the configuration that the segment and pipeline commands use.
Without --config the built-in defaults are printed, which is a useful starting
point for a configuration file.`,
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    configFlag,
			Aliases: []string{"c"},
			Usage:   "URL of the YAML configuration file to load and validate",
		},
	},
	Action: actionFunc,
}

func actionFunc(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(ctx, cmd.String(configFlag))
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to load configuration: %s", err.Error()), 1)
	}

	b, err := cfg.YAML()
	if err != nil {
		return cli.Exit(fmt.Sprintf("failed to encode configuration: %s", err.Error()), 1)
	}

	_, err = cmd.Writer.Write(b)

	return err
}
