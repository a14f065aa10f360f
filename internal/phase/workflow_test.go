// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Report(e progress.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, e)
}

func (r *recorder) Close() {}

func (r *recorder) logs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []string

	for _, e := range r.events {
		if e.Type == progress.EventLog {
			out = append(out, e.Message)
		}
	}

	return out
}

func skipWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// shPhase returns a phase that runs script with /bin/sh and appends its name to trace.
func shPhase(name, trace, script string) Descriptor {
	return Descriptor{
		Name:       name,
		Executable: "/bin/sh",
		Args:       []string{"-c", "echo {{.Phase}} >> " + trace + "; " + script},
	}
}

func readTrace(t *testing.T, path string) []string {
	t.Helper()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return strings.Fields(string(b))
}

func newWorkflow(t *testing.T, plan Plan) *Workflow {
	t.Helper()

	return &Workflow{
		Plan:        plan,
		Executor:    NewExecutor(procrun.NewRunner(procrun.WithGrace(time.Second))),
		ScratchRoot: t.TempDir(),
	}
}

func testItem(t *testing.T) Item {
	t.Helper()

	p := filepath.Join(t.TempDir(), "sub-01_T1w.nii.gz")
	require.NoError(t, os.WriteFile(p, []byte("nifti"), 0o644))

	return Item{Index: 0, Path: p, Name: filepath.Base(p)}
}

func scratchEntries(t *testing.T, w *Workflow) []os.DirEntry {
	t.Helper()

	entries, err := os.ReadDir(w.ScratchRoot)
	require.NoError(t, err)

	return entries
}

func TestWorkflow_AllPhasesSucceed(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	trace := filepath.Join(t.TempDir(), "trace")

	plan := Plan{
		shPhase("strip", trace, `cp "{{.PrevOut}}" "{{.Out}}/{{.BaseName}}_skull_stripped.nii.gz"`),
		shPhase("coregister", trace, `test -f "{{.PrevOut}}/{{.BaseName}}_skull_stripped.nii.gz" && touch "{{.Out}}/brain_rsl.nii.gz"`),
		shPhase("reorient", trace, `test "{{findNifti (index .Outputs "coregister") "_rsl"}}" = "{{index .Outputs "coregister"}}/brain_rsl.nii.gz"`),
		shPhase("preprocess", trace, `echo preprocessing`),
		shPhase("infer", trace, `echo inference 1>&2`),
		shPhase("postprocess", trace, `true`),
	}

	w := newWorkflow(t, plan)
	rec := &recorder{}

	var started, succeeded []int

	out := w.Run(ctx, testItem(t), rec, Hooks{
		PhaseStarted:   func(k int, _ Descriptor) { started = append(started, k) },
		PhaseSucceeded: func(k int, _ Descriptor) { succeeded = append(succeeded, k) },
	})

	require.Equal(t, StateSucceeded, out.State, "err: %v, logs: %v", out.Err, rec.logs())
	assert.NoError(t, out.Err)
	assert.Equal(t, 6, out.Completed)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, started)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6}, succeeded)
	assert.Equal(t, plan.Names(), readTrace(t, trace))
	assert.Contains(t, rec.logs(), "[preprocess] preprocessing")
	assert.Contains(t, rec.logs(), "[infer] inference")
	assert.Empty(t, scratchEntries(t, w), "scratch must be removed after success")

	for _, e := range rec.events {
		if e.Message == "[infer] inference" {
			assert.Equal(t, progress.LevelError, e.Level, "stderr is reported at error level")
			assert.Equal(t, []string{"sub-01_T1w.nii.gz", "infer"}, e.Path)
		}
	}
}

func TestWorkflow_FailedPhaseStopsItem(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	trace := filepath.Join(t.TempDir(), "trace")

	plan := Plan{
		shPhase("strip", trace, "true"),
		shPhase("coregister", trace, "true"),
		shPhase("reorient", trace, "echo bad orientation 1>&2; exit 2"),
		shPhase("preprocess", trace, "true"),
	}

	w := newWorkflow(t, plan)
	rec := &recorder{}
	out := w.Run(ctx, testItem(t), rec, Hooks{})

	assert.Equal(t, StateFailed, out.State)
	assert.Equal(t, "reorient", out.FailedPhase)
	assert.Equal(t, 2, out.Completed)
	require.ErrorIs(t, out.Err, ErrPhaseFailed)
	assert.Equal(t, []string{"strip", "coregister", "reorient"}, readTrace(t, trace), "no phase may start after a failure")
	assert.Contains(t, rec.logs(), "[reorient] bad orientation")
	assert.Contains(t, rec.logs(), "[reorient] Failed with exit code 2")
	assert.Empty(t, scratchEntries(t, w), "scratch must be removed after failure")
}

func TestWorkflow_MissingExecutableFailsItem(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	w := newWorkflow(t, Plan{{Name: "strip", Executable: "/definitely/not/synthstrip"}})
	rec := &recorder{}

	out := w.Run(ctx, testItem(t), rec, Hooks{})

	assert.Equal(t, StateFailed, out.State)
	require.ErrorIs(t, out.Err, procrun.ErrCouldNotStartProcess)
	assert.Equal(t, 0, out.Completed)
	assert.Empty(t, scratchEntries(t, w))
}

func TestWorkflow_CancelledBeforeStart(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(ctxlog.New(t.Context(), nil))
	cancel()

	w := newWorkflow(t, Plan{{Name: "strip", Executable: "/bin/true"}})
	out := w.Run(ctx, testItem(t), &recorder{}, Hooks{})

	assert.Equal(t, StateCancelled, out.State)
	require.ErrorIs(t, out.Err, procrun.ErrCancelled)
	assert.Empty(t, out.Scratch, "no scratch directory is created for a cancelled item")
	assert.Empty(t, scratchEntries(t, w))
}

func TestWorkflow_CancelDuringPhase(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx, cancel := context.WithCancel(ctxlog.New(t.Context(), nil))
	defer cancel()

	trace := filepath.Join(t.TempDir(), "trace")
	plan := Plan{
		shPhase("strip", trace, "exec sleep 10"),
		shPhase("coregister", trace, "true"),
	}

	w := newWorkflow(t, plan)

	var out Outcome

	done := make(chan struct{})

	go func() {
		defer close(done)
		out = w.Run(ctx, testItem(t), &recorder{}, Hooks{
			PhaseStarted: func(int, Descriptor) {
				time.AfterFunc(200*time.Millisecond, cancel)
			},
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("workflow did not stop after cancel")
	}

	assert.Equal(t, StateCancelled, out.State)
	require.ErrorIs(t, out.Err, procrun.ErrCancelled)
	assert.Empty(t, out.FailedPhase)
	assert.Equal(t, []string{"strip"}, readTrace(t, trace), "no process may start after cancel")
	assert.Empty(t, scratchEntries(t, w), "in-flight scratch must be removed")
}

func TestWorkflow_TimeoutIsFailure(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	d := Descriptor{Name: "infer", Executable: "/bin/sh", Args: []string{"-c", "exec sleep 10"}, Timeout: 100 * time.Millisecond}

	w := newWorkflow(t, Plan{d})
	out := w.Run(ctx, testItem(t), &recorder{}, Hooks{})

	assert.Equal(t, StateFailed, out.State)
	require.ErrorIs(t, out.Err, procrun.ErrTimeoutExceeded)
	assert.Equal(t, "infer", out.FailedPhase)
}

func TestWorkflow_PanicRemovesScratch(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	w := newWorkflow(t, Plan{{Name: "strip", Executable: "/bin/true"}})

	out := w.Run(ctx, testItem(t), &recorder{}, Hooks{
		PhaseStarted: func(int, Descriptor) { panic("boom") },
	})

	assert.Equal(t, StateFailed, out.State)
	require.ErrorIs(t, out.Err, ErrPhasePanic)
	assert.Empty(t, scratchEntries(t, w))
}

func TestWorkflow_TemplateErrorFailsPhase(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	w := newWorkflow(t, Plan{{Name: "strip", Executable: "/bin/true", Args: []string{"{{.Vars.model}}"}}})
	rec := &recorder{}

	out := w.Run(ctx, testItem(t), rec, Hooks{})

	assert.Equal(t, StateFailed, out.State)
	require.ErrorIs(t, out.Err, ErrRenderTemplate)
	require.NotEmpty(t, rec.logs())
	assert.True(t, strings.HasPrefix(rec.logs()[0], "[strip] Invalid phase definition"))
}

func TestMachine_RejectsInvalidTransitions(t *testing.T) {
	m := &machine{}
	require.ErrorIs(t, m.fire(triggerPhaseDone), ErrInvalidTransition)
	require.NoError(t, m.fire(triggerStart))
	require.NoError(t, m.fire(triggerPhaseDone))
	assert.Equal(t, 1, m.phase)
	require.NoError(t, m.fire(triggerPhaseFailed))
	assert.Equal(t, StateFailed, m.state)
	require.ErrorIs(t, m.fire(triggerStart), ErrInvalidTransition, "terminal states accept nothing")
}

func TestState_ItemStatus(t *testing.T) {
	assert.Equal(t, progress.StatusPending, StateIdle.ItemStatus())
	assert.Equal(t, progress.StatusRunning, StateRunning.ItemStatus())
	assert.Equal(t, progress.StatusSucceeded, StateSucceeded.ItemStatus())
	assert.Equal(t, progress.StatusFailed, StateFailed.ItemStatus())
	assert.Equal(t, progress.StatusCancelled, StateCancelled.ItemStatus())
}
