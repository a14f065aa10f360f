// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

const outputDirPerm = 0o755

var (
	// ErrPhaseFailed is returned when a phase fails to start, crashes, times out or exits non-zero.
	ErrPhaseFailed = errors.New("phase failed")
	// ErrCreateOutputDir is returned when a phase output directory cannot be created.
	ErrCreateOutputDir = errors.New("failed to create phase output directory")
	// ErrProcessCrashed is returned when a phase process is terminated by a signal.
	ErrProcessCrashed = errors.New("process crashed")
)

// Executor runs a single phase as one external process. It never retries.
type Executor struct {
	Runner     *procrun.Runner
	SearchDirs []string // Searched before PATH for relative executables.
}

// NewExecutor returns an Executor using runner.
func NewExecutor(runner *procrun.Runner, searchDirs ...string) *Executor {
	return &Executor{Runner: runner, SearchDirs: searchDirs}
}

// Invocation is a phase bound to one item.
type Invocation struct {
	Index int // 1-based ordinal.
	Phase Descriptor
	Data  TemplateData
	Label string
}

// Result is the outcome of one phase.
type Result struct {
	Phase   string
	Index   int
	Path    string   // Resolved executable.
	Args    []string // Rendered arguments.
	Process procrun.Result
	Err     error
}

// Success reports whether the phase completed.
func (r Result) Success() bool {
	return r.Err == nil
}

// Cancelled reports whether the phase was stopped by a cancel request or timeout.
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, procrun.ErrCancelled)
}

// Execute renders the phase templates, creates its output directory, runs the
// process to completion and forwards every output line to reporter as
// "[<phase>] <line>". Stdout lines are info and stderr lines are errors.
func (e *Executor) Execute(ctx context.Context, inv Invocation, reporter progress.Reporter) Result {
	name := inv.Phase.Name
	logger := ctxlog.Logger(ctx).With("phase", name, "index", inv.Index)
	res := Result{Phase: name, Index: inv.Index}

	tag := func(format string, args ...any) string {
		return fmt.Sprintf("[%s] ", name) + fmt.Sprintf(format, args...)
	}

	fail := func(err error) Result {
		res.Err = errors.Join(ErrPhaseFailed, err)
		logger.Debug("phase failed", "error", res.Err)

		return res
	}

	inv.Data.Phase = name
	inv.Data.Index = inv.Index

	exe, args, env, err := renderAll(inv.Phase, inv.Data)
	if err != nil {
		reporter.Report(progress.NewLog(progress.LevelError, tag("Invalid phase definition: %s", err)))
		return fail(err)
	}

	res.Args = args

	path, err := procrun.LookPath(exe, e.SearchDirs...)
	if err != nil {
		reporter.Report(progress.NewLog(progress.LevelError, tag("Process error: failed to start: %s", err)))
		return fail(errors.Join(procrun.ErrCouldNotStartProcess, err))
	}

	res.Path = path

	if inv.Data.Out != "" {
		if err := FsFactory().MkdirAll(inv.Data.Out, outputDirPerm); err != nil {
			reporter.Report(progress.NewLog(progress.LevelError, tag("%s: %s", ErrCreateOutputDir, err)))
			return fail(errors.Join(ErrCreateOutputDir, err))
		}
	}

	if inv.Phase.Timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, inv.Phase.Timeout)
		defer cancel()
	}

	label := inv.Label
	if label == "" {
		label = name
	}

	logger.Debug("starting phase", "path", path, "args", args)

	h, err := e.Runner.Start(ctx, procrun.Spec{
		Label: label,
		Path:  path,
		Args:  args,
		Dir:   inv.Data.Scratch,
		Env:   env,
	})
	if err != nil {
		switch {
		case errors.Is(err, procrun.ErrCancelled):
			logger.Debug("cancelled before the process started")
		case errors.Is(err, procrun.ErrTimeoutExceeded):
			reporter.Report(progress.NewLog(progress.LevelError, tag("Process error: timed out after %s", inv.Phase.Timeout)))
		default:
			reporter.Report(progress.NewLog(progress.LevelError, tag("Process error: failed to start %s: %s", filepath.Base(path), err)))
		}

		return fail(err)
	}

	forwarded := make(chan struct{})

	go func() {
		defer close(forwarded)

		for l := range h.Lines() {
			level := progress.LevelInfo
			if l.Stream == procrun.Stderr {
				level = progress.LevelError
			}

			reporter.Report(progress.NewLog(level, tag("%s", strings.ToValidUTF8(string(l.Text), "�"))))
		}
	}()

	pres := h.Wait(ctx)
	<-forwarded

	res.Process = pres

	switch {
	case pres.Success():
		logger.Debug("phase succeeded", "duration", pres.Duration())
		return res
	case errors.Is(pres.Err, procrun.ErrTimeoutExceeded):
		reporter.Report(progress.NewLog(progress.LevelError, tag("Process error: timed out after %s", inv.Phase.Timeout)))
		return fail(pres.Err)
	case errors.Is(pres.Err, procrun.ErrCancelled):
		reporter.Report(progress.NewLog(progress.LevelWarning, tag("Cancelled")))
		return fail(pres.Err)
	case !pres.NormalExit:
		reporter.Report(progress.NewLog(progress.LevelError, tag("Process error: crashed")))
		return fail(errors.Join(ErrProcessCrashed, pres.Err))
	default:
		reporter.Report(progress.NewLog(progress.LevelError, tag("Failed with exit code %d", pres.ExitCode)))
		return fail(errors.Join(fmt.Errorf("exit code %d", pres.ExitCode), pres.Err))
	}
}
