// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package hcl

import (
	"errors"
	"fmt"
	"io"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/peterh/liner"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// ErrEvaluate is returned when a debug expression cannot be parsed or evaluated.
var ErrEvaluate = errors.New("failed to evaluate expression")

// Eval evaluates a single HCL expression against the loaded variables and locals
// and returns the value as JSON.
func (c *Config) Eval(input string) (string, error) {
	expression, diags := hclsyntax.ParseExpression([]byte(input), "repl.hcl", hcl.InitialPos)
	if diags.HasErrors() {
		return "", errors.Join(ErrEvaluate, diags)
	}

	value, diags := expression.Value(c.EvalContext())
	if diags.HasErrors() {
		return "", errors.Join(ErrEvaluate, diags)
	}

	b, err := ctyjson.Marshal(value, value.Type())
	if err != nil {
		return "", errors.Join(ErrEvaluate, err)
	}

	return string(b), nil
}

// EnterDebugMode starts an interactive prompt that evaluates expressions
// against c until the user types quit or exit, or presses Ctrl+C.
func EnterDebugMode(c *Config, w io.Writer) {
	line := liner.NewLiner()
	defer func() {
		_ = line.Close()
	}()

	line.SetCtrlCAborts(true)
	fmt.Fprintln(w, "Entering debugging mode, press `quit` or `exit` or Ctrl+C to quit.") //nolint:errcheck

	for {
		input, err := line.Prompt("debug> ")

		switch {
		case errors.Is(err, liner.ErrPromptAborted):
			fmt.Fprintln(w, "Aborted") //nolint:errcheck
			return
		case err != nil:
			fmt.Fprintln(w, "Error reading line: ", err) //nolint:errcheck
			return
		}

		if input == "quit" || input == "exit" {
			return
		}

		line.AppendHistory(input)

		out, err := c.Eval(input)
		if err != nil {
			fmt.Fprintln(w, err) //nolint:errcheck
			continue
		}

		fmt.Fprintln(w, out) //nolint:errcheck
	}
}
