// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package selfreport

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/lineproto"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

const (
	outputDirPerm = 0o755
	// ReasonCancelled is the failure reason of a cancelled run.
	ReasonCancelled = "cancelled"
)

// ErrRunFailed is returned when the pipeline process fails to start, exits
// non-zero, crashes or reports FAILED.
var ErrRunFailed = errors.New("pipeline run failed")

// Spec describes one self-reporting run.
type Spec struct {
	Executable string
	Args       []string // Appended after the standard flags.
	ConfigPath string
	WorkDir    string
	OutDir     string
	Entities   []string // Tracked entity names, typically subject folders.
	Env        map[string]string
}

// argv returns the process arguments.
func (s Spec) argv() []string {
	args := []string{
		"--config", s.ConfigPath,
		"--work-dir", s.WorkDir,
		"--out-dir", s.OutDir,
	}

	return append(args, s.Args...)
}

// Result is the outcome of a run.
type Result struct {
	Success   bool
	Reason    string // Why the run failed; empty on success.
	Err       error
	Percent   int      // Last progress value reported.
	Completed []string // Entities reported complete, in order.
	Process   procrun.Result
}

// Cancelled reports whether the run was stopped by a cancel request.
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, procrun.ErrCancelled)
}

// Runner launches self-reporting runs. It holds no per-run state.
type Runner struct {
	Procs      *procrun.Runner
	Decoder    *lineproto.Decoder
	SearchDirs []string
}

// NewRunner returns a Runner decoding output with the given grammar.
func NewRunner(procs *procrun.Runner, g lineproto.Grammar, searchDirs ...string) *Runner {
	return &Runner{
		Procs:      procs,
		Decoder:    lineproto.NewDecoder(g),
		SearchDirs: searchDirs,
	}
}

// run is the mutable state of one run. It is only touched by the line consumer
// until that goroutine finishes.
type run struct {
	ctx       context.Context
	reporter  progress.Reporter
	decoder   *lineproto.Decoder
	entities  *tracker
	percent   int
	failure   string
	lastError string
}

// Run launches the process described by spec, translates its output into
// events on reporter and blocks until it exits or ctx is cancelled.
// It does not emit a finished event; that belongs to the caller.
func (r *Runner) Run(ctx context.Context, spec Spec, reporter progress.Reporter) Result {
	logger := ctxlog.Logger(ctx)
	st := &run{
		ctx:      ctx,
		reporter: reporter,
		decoder:  r.Decoder,
		entities: newTracker(spec.Entities),
		percent:  -1,
	}

	fail := func(reason string, err error) Result {
		reporter.Report(progress.NewLog(progress.LevelError, "ERROR: "+reason))

		return Result{
			Reason:    reason,
			Err:       err,
			Percent:   max(st.percent, 0),
			Completed: st.entities.completed(),
		}
	}

	path, err := procrun.LookPath(spec.Executable, r.SearchDirs...)
	if err != nil {
		return fail("Failed to start pipeline process", errors.Join(ErrRunFailed, procrun.ErrCouldNotStartProcess, err))
	}

	if spec.OutDir != "" {
		if err := FsFactory().MkdirAll(spec.OutDir, outputDirPerm); err != nil {
			logger.Debug("failed to create pipeline output directory", "path", spec.OutDir, "error", err)
		}
	}

	reporter.Report(progress.NewLog(progress.LevelInfo, "Starting pipeline execution..."))
	logger.Debug("starting pipeline", "path", path, "args", spec.argv())

	h, err := r.Procs.Start(ctx, procrun.Spec{
		Label: "pipeline",
		Path:  path,
		Args:  spec.argv(),
		Dir:   spec.WorkDir,
		Env:   spec.Env,
	})
	if err != nil {
		if errors.Is(err, procrun.ErrCancelled) {
			reporter.Report(progress.NewLog(progress.LevelWarning, "Pipeline execution cancelled"))

			return Result{Reason: ReasonCancelled, Err: err, Percent: max(st.percent, 0)}
		}

		return fail("Failed to start pipeline process", errors.Join(ErrRunFailed, err))
	}

	consumed := make(chan struct{})

	go func() {
		defer close(consumed)

		for l := range h.Lines() {
			if l.Stream == procrun.Stderr {
				reporter.Report(progress.NewLog(progress.LevelWarning, "STDERR: "+strings.ToValidUTF8(string(l.Text), "�")))
				continue
			}

			st.handle(l.Text)
		}
	}()

	pres := h.Wait(ctx)
	<-consumed

	res := Result{Process: pres}

	switch {
	case errors.Is(pres.Err, procrun.ErrCancelled):
		reporter.Report(progress.NewLog(progress.LevelWarning, "Pipeline execution cancelled"))

		res.Reason = ReasonCancelled
		res.Err = pres.Err
	case pres.Success() && st.failure == "":
		if st.percent < 100 {
			reporter.Report(progress.NewProgress(100))
		}

		st.percent = 100

		for _, n := range st.entities.open() {
			st.entities.mark(n)
			reporter.Report(progress.NewEntityCompleted(n))
		}

		reporter.Report(progress.NewLog(progress.LevelInfo, "Pipeline execution completed successfully!"))

		if spec.OutDir != "" {
			reporter.Report(progress.NewLog(progress.LevelInfo, "Results saved in: "+spec.OutDir))
		}

		res.Success = true
	default:
		res.Reason = st.reason(pres)
		res.Err = errors.Join(fmt.Errorf("%w: %s", ErrRunFailed, res.Reason), pres.Err)
		reporter.Report(progress.NewLog(progress.LevelError, "ERROR: "+res.Reason))
	}

	res.Percent = max(st.percent, 0)
	res.Completed = st.entities.completed()

	logger.Debug("pipeline finished",
		"success", res.Success,
		"exitCode", pres.ExitCode,
		"duration", pres.Duration().Round(time.Millisecond),
		"entities", len(res.Completed))

	return res
}

// reason picks the most specific failure description available.
func (st *run) reason(pres procrun.Result) string {
	switch {
	case st.failure != "":
		return st.failure
	case st.lastError != "":
		return st.lastError
	case !pres.NormalExit:
		return "Process crashed"
	default:
		return fmt.Sprintf("Process exited with code %d", pres.ExitCode)
	}
}

func (st *run) handle(line []byte) {
	msg := st.decoder.Decode(line)
	if msg.Err != nil {
		ctxlog.Debug(st.ctx, "downgraded pipeline line", "error", msg.Err, "line", msg.Text)
	}

	switch msg.Kind {
	case lineproto.KindLog:
		text := msg.Text
		if msg.Level == progress.LevelError {
			st.lastError = msg.Text
			text = "ERROR: " + msg.Text
		}

		st.reporter.Report(progress.NewLog(msg.Level, text))
	case lineproto.KindProgress:
		if p := msg.Percent(); p > st.percent {
			st.percent = p
			st.reporter.Report(progress.NewProgress(p))
		}
	case lineproto.KindEntity:
		st.reporter.Report(progress.NewLog(progress.LevelInfo, "Pipeline finished for patient: "+msg.Text))

		name, ok := st.entities.complete(msg.Entity)
		if !ok {
			st.reporter.Report(progress.NewLog(progress.LevelWarning, "No tracked entity matches "+msg.Entity))
			return
		}

		st.reporter.Report(progress.NewEntityCompleted(name))
	case lineproto.KindSucceeded:
		st.reporter.Report(progress.NewLog(progress.LevelInfo, "FINISHED for: "+msg.Text))
	case lineproto.KindFailed:
		st.failure = msg.Text
		if st.failure == "" {
			st.failure = "Pipeline reported failure"
		}

		st.reporter.Report(progress.NewLog(progress.LevelError, "FAILED: "+msg.Text))
	default:
		st.reporter.Report(progress.NewLog(msg.Level, msg.Text))
	}
}
