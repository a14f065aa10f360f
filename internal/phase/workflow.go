// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
	"github.com/spf13/afero"
)

var (
	// ErrCreateScratch is returned when the scratch directory cannot be created.
	ErrCreateScratch = errors.New("failed to create scratch directory")
	// ErrPhasePanic is returned when a phase panics. The item fails and the batch continues.
	ErrPhasePanic = errors.New("phase panicked")
	// ErrInvalidTransition is returned when the workflow state machine receives an event it does not accept.
	ErrInvalidTransition = errors.New("invalid workflow transition")
)

// State is a workflow state.
type State int

const (
	// StateIdle is the state before the first phase.
	StateIdle State = iota
	// StateRunning is the state while a phase is executing.
	StateRunning
	// StateSucceeded means every phase completed.
	StateSucceeded
	// StateFailed means a phase failed.
	StateFailed
	// StateCancelled means the workflow was cancelled.
	StateCancelled
)

// String implements the Stringer interface for State.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ItemStatus maps the state to the item status reported to observers.
func (s State) ItemStatus() progress.ItemStatus {
	switch s {
	case StateRunning:
		return progress.StatusRunning
	case StateSucceeded:
		return progress.StatusSucceeded
	case StateFailed:
		return progress.StatusFailed
	case StateCancelled:
		return progress.StatusCancelled
	default:
		return progress.StatusPending
	}
}

type trigger int

const (
	triggerStart trigger = iota
	triggerPhaseDone
	triggerPhaseFailed
	triggerCancel
	triggerComplete
)

// transitions is the workflow state table. Anything not listed is rejected.
var transitions = map[State]map[trigger]State{
	StateIdle: {
		triggerStart:  StateRunning,
		triggerCancel: StateCancelled,
	},
	StateRunning: {
		triggerPhaseDone:   StateRunning,
		triggerPhaseFailed: StateFailed,
		triggerCancel:      StateCancelled,
		triggerComplete:    StateSucceeded,
	},
}

type machine struct {
	state State
	phase int
}

func (m *machine) fire(t trigger) error {
	next, ok := transitions[m.state][t]
	if !ok {
		return fmt.Errorf("%w: %s on trigger %d", ErrInvalidTransition, m.state, t)
	}

	if t == triggerPhaseDone {
		m.phase++
	}

	m.state = next

	return nil
}

// Item is one input file.
type Item struct {
	Index int    // Zero-based position in the batch.
	Path  string // Absolute path.
	Name  string // Display name.
}

// Hooks observe phase boundaries. Either may be nil.
type Hooks struct {
	PhaseStarted   func(k int, d Descriptor)
	PhaseSucceeded func(k int, d Descriptor)
}

// Outcome is the terminal result of a workflow run.
type Outcome struct {
	State       State
	Completed   int    // Number of phases that succeeded.
	FailedPhase string // Name of the failed phase, if any.
	Err         error
	Scratch     string // Removed before Run returns.
	Phases      []Result
	Started     time.Time
	Finished    time.Time
}

// Workflow applies a Plan to one item at a time.
type Workflow struct {
	Plan        Plan
	Executor    *Executor
	ScratchRoot string // Parent of the per-item scratch directories; empty for the OS temp dir.
	Workspace   string
	Vars        map[string]string
}

// Run executes every phase of the plan for item, strictly in order, stopping at
// the first failure. Cancellation of ctx is checked before every phase.
// The scratch directory is removed on every exit path, including a panic.
func (w *Workflow) Run(ctx context.Context, item Item, reporter progress.Reporter, hooks Hooks) (out Outcome) {
	logger := ctxlog.Logger(ctx).With("item", item.Name)
	m := &machine{}
	out.Started = time.Now()

	defer func() {
		out.Finished = time.Now()
	}()

	if ctx.Err() != nil {
		_ = m.fire(triggerCancel)
		out.State = m.state
		out.Err = procrun.ErrCancelled

		return out
	}

	fs := FsFactory()

	scratch, err := afero.TempDir(fs, w.ScratchRoot, fmt.Sprintf("neurorun_%d_", item.Index))
	if err != nil {
		reporter.Report(progress.NewLog(progress.LevelError, fmt.Sprintf("%s: %s", ErrCreateScratch, err)))

		out.State = StateFailed
		out.Err = errors.Join(ErrCreateScratch, err)

		return out
	}

	out.Scratch = scratch
	logger.Debug("created scratch directory", "path", scratch)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("phase panicked", "panic", r)
			reporter.Report(progress.NewLog(progress.LevelError, fmt.Sprintf("Internal error: %v", r)))

			out.State = StateFailed
			out.Err = errors.Join(ErrPhasePanic, fmt.Errorf("%v", r))
		}

		if err := fs.RemoveAll(scratch); err != nil {
			logger.Warn("failed to remove scratch directory", "path", scratch, "error", err)
		}
	}()

	_ = m.fire(triggerStart)

	outputs := make(map[string]string, len(w.Plan))
	for i, d := range w.Plan {
		outputs[d.Name] = filepath.Join(scratch, d.OutDirName(i+1))
	}

	itemReporter := progress.NewChildReporter(reporter, item.Name)
	prev := item.Path

	for i, d := range w.Plan {
		k := i + 1

		if ctx.Err() != nil {
			_ = m.fire(triggerCancel)
			out.Err = procrun.ErrCancelled

			break
		}

		if hooks.PhaseStarted != nil {
			hooks.PhaseStarted(k, d)
		}

		res := w.Executor.Execute(ctx, Invocation{
			Index: k,
			Phase: d,
			Label: item.Name + "/" + d.Name,
			Data: TemplateData{
				Input:     item.Path,
				InputDir:  filepath.Dir(item.Path),
				Name:      filepath.Base(item.Path),
				BaseName:  StripNiftiExt(filepath.Base(item.Path)),
				Workspace: w.Workspace,
				Scratch:   scratch,
				Out:       outputs[d.Name],
				PrevOut:   prev,
				Outputs:   outputs,
				Vars:      w.Vars,
			},
		}, progress.NewChildReporter(itemReporter, d.Name))

		out.Phases = append(out.Phases, res)

		if !res.Success() {
			out.Err = res.Err

			if res.Cancelled() || ctx.Err() != nil {
				_ = m.fire(triggerCancel)
				break
			}

			out.FailedPhase = d.Name
			_ = m.fire(triggerPhaseFailed)

			break
		}

		_ = m.fire(triggerPhaseDone)
		out.Completed = m.phase

		if hooks.PhaseSucceeded != nil {
			hooks.PhaseSucceeded(k, d)
		}

		prev = outputs[d.Name]
	}

	if m.state == StateRunning {
		_ = m.fire(triggerComplete)
	}

	out.State = m.state
	logger.Debug("workflow finished", "state", out.State.String(), "completed", out.Completed)

	return out
}
