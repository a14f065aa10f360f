// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package show

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/TylerBrock/colorjson"
	"github.com/matt-FFFFFF/neurorun/internal/batch"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"
)

const (
	fileArg    = "file"
	jsonFlag   = "json"
	phasesFlag = "show-phases"
	jsonIndent = 2
)

var (
	// ErrReadFile is returned when the file cannot be read.
	ErrReadFile = errors.New("failed to read file")
	// ErrWriteResults is returned when the report cannot be written to stdout.
	ErrWriteResults = errors.New("failed to write report to stdout")
)

// ShowCmd renders a report saved with --report.
var ShowCmd = &cli.Command{
	Name:        "show",
	Usage:       "Show a previously saved run report",
	Description: "Show a report written by the segment or pipeline command with --report.",
	Arguments: []cli.Argument{
		&cli.StringArg{
			Name: fileArg,
		},
	},
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  jsonFlag,
			Usage: "Print the report as JSON",
		},
		&cli.BoolFlag{
			Name:  phasesFlag,
			Usage: "Include phase details for successful items",
		},
	},
	Action: func(_ context.Context, cmd *cli.Command) error {
		name := cmd.StringArg(fileArg)
		if name == "" {
			return cli.Exit("Please specify the report file.", 1)
		}

		file, err := os.Open(name)
		if err != nil {
			return errors.Join(ErrReadFile, err)
		}

		defer file.Close() //nolint:errcheck

		report, err := batch.ReadReport(file)
		if err != nil {
			return err
		}

		if cmd.Bool(jsonFlag) {
			return writeJSON(cmd.Writer, report, !isTerminal(cmd.Writer))
		}

		if err := report.WriteText(cmd.Writer, &batch.TextOptions{ShowPhases: cmd.Bool(phasesFlag)}); err != nil {
			return errors.Join(ErrWriteResults, err)
		}

		return nil
	},
}

// writeJSON renders the report through colorjson, which formats generic maps.
func writeJSON(w io.Writer, report batch.Report, noColour bool) error {
	b, err := json.Marshal(report)
	if err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	var obj map[string]any
	if err := json.Unmarshal(b, &obj); err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	// Enumerations are stored as integers; show their names instead.
	obj["Outcome"] = report.Outcome.String()

	if items, ok := obj["Items"].([]any); ok {
		for i, it := range items {
			if m, ok := it.(map[string]any); ok && i < len(report.Items) {
				m["Status"] = report.Items[i].Status.String()
			}
		}
	}

	f := colorjson.NewFormatter()
	f.Indent = jsonIndent
	f.DisabledColor = noColour

	out, err := f.Marshal(obj)
	if err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	if _, err := fmt.Fprintln(w, string(out)); err != nil {
		return errors.Join(ErrWriteResults, err)
	}

	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
