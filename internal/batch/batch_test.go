// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/lineproto"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
	"github.com/matt-FFFFFF/neurorun/internal/selfreport"
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

func (r *recorder) of(t progress.EventType) []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []progress.Event

	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}

	return out
}

func (r *recorder) percents() []int {
	var out []int
	for _, e := range r.of(progress.EventProgress) {
		out = append(out, e.Percent)
	}

	return out
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.events)
}

func skipWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

// plan returns six phases that record their starts in trace. Phase failAt
// fails for inputs whose name contains failFor.
func plan(trace string, failAt int, failFor string) phase.Plan {
	names := []string{"strip", "coregister", "reorient", "preprocess", "infer", "postprocess"}
	p := make(phase.Plan, 0, len(names))

	for i, n := range names {
		script := `echo "{{.Name}}:{{.Phase}}" >> ` + trace
		if i+1 == failAt {
			script += `; case "{{.Name}}" in *` + failFor + `*) exit 1;; esac`
		}

		p = append(p, phase.Descriptor{Name: n, Executable: "/bin/sh", Args: []string{"-c", script}})
	}

	return p
}

func inputs(t *testing.T, names ...string) []string {
	t.Helper()

	dir := t.TempDir()
	out := make([]string, 0, len(names))

	for _, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("nifti"), 0o644))
		out = append(out, p)
	}

	return out
}

func newCoordinator(t *testing.T, rec progress.Reporter, p phase.Plan) (*Coordinator, *phase.Workflow) {
	t.Helper()

	procs := procrun.NewRunner(procrun.WithGrace(300*time.Millisecond), procrun.WithKillWait(time.Second))
	w := &phase.Workflow{
		Plan:        p,
		Executor:    phase.NewExecutor(procs),
		ScratchRoot: t.TempDir(),
	}

	return NewCoordinator(rec, w, selfreport.NewRunner(procs, lineproto.DefaultGrammar())), w
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	return strings.Fields(string(b))
}

func assertNonDecreasing(t *testing.T, values []int) {
	t.Helper()

	for i := 1; i < len(values); i++ {
		assert.GreaterOrEqual(t, values[i], values[i-1], "progress decreased: %v", values)
	}

	for _, v := range values {
		assert.True(t, v >= 0 && v <= 100, "progress out of range: %v", values)
	}
}

func TestProgress(t *testing.T) {
	tests := []struct {
		i, p, total, n int
		want           int
	}{
		{0, 0, 2, 6, 0},
		{0, 3, 2, 6, 25},
		{1, 0, 2, 6, 50},
		{1, 6, 2, 6, 100},
		{2, 0, 2, 6, 100},
		{0, 1, 3, 6, 5},
		{5, 0, 2, 6, 100},
		{0, 0, 0, 6, 0},
		{0, 0, 4, 0, 0},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Progress(tt.i, tt.p, tt.total, tt.n), "Progress(%d, %d, %d, %d)", tt.i, tt.p, tt.total, tt.n)
	}
}

func TestRun_FailedItemDoesNotStopBatch(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	trace := filepath.Join(t.TempDir(), "trace")
	rec := &recorder{}
	c, w := newCoordinator(t, rec, plan(trace, 3, "item1"))

	s := c.Run(ctx, inputs(t, "item1.nii.gz", "item2.nii.gz"))

	require.True(t, s.Success, "err: %v", s.Err)
	assert.Equal(t, progress.OutcomePartial, s.Outcome)
	assert.Equal(t, []string{"item1.nii.gz"}, s.Failed)
	assert.Equal(t, 1, s.Processed)
	assert.Equal(t, "Processing completed with errors. Processed: 1/2. Failed: item1.nii.gz", s.Message)

	percents := rec.percents()
	assertNonDecreasing(t, percents)
	assert.Equal(t, []int{0, 8, 16, 50, 58, 66, 75, 83, 91, 100}, percents)

	finished := rec.of(progress.EventFinished)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Success)
	assert.Contains(t, finished[0].Message, "item1")

	assert.Equal(t, []string{
		"item1.nii.gz:strip", "item1.nii.gz:coregister", "item1.nii.gz:reorient",
		"item2.nii.gz:strip", "item2.nii.gz:coregister", "item2.nii.gz:reorient",
		"item2.nii.gz:preprocess", "item2.nii.gz:infer", "item2.nii.gz:postprocess",
	}, readLines(t, trace), "phases run in order and a failed phase stops its item")

	var statuses []progress.ItemStatus
	for _, e := range rec.of(progress.EventItemStatus) {
		statuses = append(statuses, e.Status)
	}

	assert.Equal(t, []progress.ItemStatus{
		progress.StatusRunning, progress.StatusFailed,
		progress.StatusRunning, progress.StatusSucceeded,
	}, statuses)

	entries, err := os.ReadDir(w.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories are removed")

	st := c.State()
	assert.False(t, st.Running)
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 6, st.Phases)
}

func TestRun_AllSucceeded(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	rec := &recorder{}
	c, _ := newCoordinator(t, rec, plan(filepath.Join(t.TempDir(), "trace"), 0, ""))

	s := c.Run(ctx, inputs(t, "a.nii", "b.nii", "c.nii"))

	assert.True(t, s.Success)
	assert.Equal(t, progress.OutcomeSucceeded, s.Outcome)
	assert.Equal(t, "All 3 items processed successfully", s.Message)
	assert.Equal(t, 3, s.Processed)
	assert.Len(t, s.Items(), 3)
	assertNonDecreasing(t, rec.percents())
	assert.Equal(t, 100, rec.percents()[len(rec.percents())-1])
}

func TestRun_AllFailedIsStillCompleted(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	rec := &recorder{}
	c, _ := newCoordinator(t, rec, plan(filepath.Join(t.TempDir(), "trace"), 1, "nii"))

	s := c.Run(ctx, inputs(t, "a.nii", "b.nii"))

	assert.True(t, s.Success)
	assert.Equal(t, progress.OutcomeAllFailed, s.Outcome)
	assert.Equal(t, []string{"a.nii", "b.nii"}, s.Failed)
	assert.Equal(t, []int{0, 50, 100}, rec.percents(), "a failed item still advances progress")
}

func TestRun_EmptyBatch(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c, _ := newCoordinator(t, rec, plan("/dev/null", 0, ""))

	s := c.Run(ctxlog.New(t.Context(), nil), nil)

	assert.True(t, s.Success)
	assert.Equal(t, MessageEmpty, s.Message)
	assert.Equal(t, []int{0, 100}, rec.percents())

	finished := rec.of(progress.EventFinished)
	require.Len(t, finished, 1)
	assert.True(t, finished[0].Success)
	assert.Equal(t, MessageEmpty, finished[0].Message)
}

func TestRun_RelativePathRejected(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c, _ := newCoordinator(t, rec, plan("/dev/null", 0, ""))

	s := c.Run(ctxlog.New(t.Context(), nil), []string{"relative/a.nii"})

	assert.False(t, s.Success)
	require.ErrorIs(t, s.Err, ErrInvalidItem)
	assert.Len(t, rec.of(progress.EventFinished), 1)
	assert.Empty(t, rec.percents())
}

func TestCancel_ForcedKillAndSingleFinished(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	trace := filepath.Join(t.TempDir(), "trace")
	stubborn := phase.Descriptor{
		Name:       "infer",
		Executable: "/bin/sh",
		Args:       []string{"-c", `echo "{{.Name}}:{{.Phase}}" >> ` + trace + `; trap '' TERM; while true; do sleep 0.1; done`},
	}
	after := phase.Descriptor{Name: "postprocess", Executable: "/bin/sh", Args: []string{"-c", `echo "{{.Name}}:{{.Phase}}" >> ` + trace}}

	rec := &recorder{}
	c, w := newCoordinator(t, rec, phase.Plan{stubborn, after})

	done, err := c.Start(ctx, inputs(t, "a.nii", "b.nii"))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(readLines(t, trace)) == 1 }, 5*time.Second, 10*time.Millisecond)

	before := rec.percents()
	c.Cancel()
	c.Cancel()

	var s Summary
	select {
	case s = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("batch did not stop after cancel")
	}

	assert.False(t, s.Success)
	assert.Equal(t, progress.OutcomeCancelled, s.Outcome)
	assert.Equal(t, MessageCancelled, s.Message)
	require.ErrorIs(t, s.Err, procrun.ErrCancelled)

	finished := rec.of(progress.EventFinished)
	require.Len(t, finished, 1, "finished is emitted exactly once")
	assert.False(t, finished[0].Success)
	assert.Equal(t, "cancelled", finished[0].Message)
	assert.Equal(t, progress.OutcomeCancelled, finished[0].Outcome)

	assert.Equal(t, before, rec.percents(), "no progress after cancel")
	assert.Equal(t, []string{"a.nii:infer"}, readLines(t, trace), "no process starts after cancel")

	entries, err := os.ReadDir(w.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)

	st := c.State()
	assert.True(t, st.Cancelled)
	assert.False(t, st.Running)
}

func TestRun_SingleFlight(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	trace := filepath.Join(t.TempDir(), "trace")
	slow := phase.Descriptor{Name: "infer", Executable: "/bin/sh", Args: []string{"-c", "echo started >> " + trace + "; exec sleep 10"}}

	rec := &recorder{}
	c, _ := newCoordinator(t, rec, phase.Plan{slow})

	done, err := c.Start(ctx, inputs(t, "a.nii"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(readLines(t, trace)) == 1 }, 5*time.Second, 10*time.Millisecond)

	n := rec.len()

	s := c.Run(ctx, inputs(t, "b.nii"))
	require.ErrorIs(t, s.Err, ErrBatchRunning)
	assert.False(t, s.Success)

	_, err = c.StartPipeline(ctx, selfreport.Spec{Executable: "/bin/true"})
	require.ErrorIs(t, err, ErrBatchRunning)
	assert.Equal(t, n, rec.len(), "a rejected run emits no events")

	c.Cancel()
	<-done

	assert.Len(t, rec.of(progress.EventFinished), 1)
}

func TestCancel_WhenIdleIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	rec := &recorder{}
	c, _ := newCoordinator(t, rec, plan("/dev/null", 0, ""))
	c.Cancel()

	s := c.Run(ctxlog.New(t.Context(), nil), nil)
	assert.True(t, s.Success, "a cancel before the run must not affect it")
	assert.False(t, c.State().Cancelled)
}

func pipelineScript(t *testing.T, body string) string {
	t.Helper()

	p := filepath.Join(t.TempDir(), "pipeline_runner")
	require.NoError(t, os.WriteFile(p, []byte("#!/bin/sh\n"+body+"\n"), 0o755))

	return p
}

func TestRunPipeline(t *testing.T) {
	skipWindows(t)

	t.Run("success", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		exe := pipelineScript(t, `echo "LOG: start"; echo "PROGRESS: 3/10"; echo "PROGRESS: 10/10"; echo "FINISHED: ok"; exit 0`)
		rec := &recorder{}
		c, _ := newCoordinator(t, rec, nil)
		ws := t.TempDir()

		s := c.RunPipeline(ctxlog.New(t.Context(), nil), selfreport.Spec{
			Executable: exe,
			ConfigPath: filepath.Join(ws, "1_config.json"),
			WorkDir:    ws,
			OutDir:     filepath.Join(ws, "1_output"),
		})

		assert.True(t, s.Success)
		assert.Equal(t, progress.OutcomeSucceeded, s.Outcome)
		assert.Equal(t, []int{30, 100}, rec.percents())

		finished := rec.of(progress.EventFinished)
		require.Len(t, finished, 1)
		assert.True(t, finished[0].Success)
		assert.Equal(t, MessagePipelineSucceeded, finished[0].Message)
	})

	t.Run("failure", func(t *testing.T) {
		defer goleak.VerifyNone(t)

		exe := pipelineScript(t, `echo "PROGRESS: 1/4"; echo "ERROR: out of memory"; exit 137`)
		rec := &recorder{}
		c, _ := newCoordinator(t, rec, nil)
		ws := t.TempDir()

		s := c.RunPipeline(ctxlog.New(t.Context(), nil), selfreport.Spec{Executable: exe, WorkDir: ws})

		assert.False(t, s.Success)
		assert.Equal(t, progress.OutcomeFailed, s.Outcome)
		assert.Equal(t, "out of memory", s.Message)
		require.ErrorIs(t, s.Err, selfreport.ErrRunFailed)

		finished := rec.of(progress.EventFinished)
		require.Len(t, finished, 1)
		assert.False(t, finished[0].Success)
		assert.Equal(t, "out of memory", finished[0].Message)
	})
}

func TestReport_BinaryAndText(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	c, _ := newCoordinator(t, &recorder{}, plan(filepath.Join(t.TempDir(), "trace"), 2, "bad"))

	s := c.Run(ctx, inputs(t, "good.nii", "bad.nii"))
	r := s.Report()

	var buf bytes.Buffer
	require.NoError(t, r.WriteBinary(&buf))

	got, err := ReadReport(&buf)
	require.NoError(t, err)
	assert.Equal(t, s.ID.String(), got.ID)
	assert.Equal(t, ModeSegment, got.Mode)
	assert.Equal(t, progress.OutcomePartial, got.Outcome)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "coregister", got.Items[1].FailedPhase)
	assert.Len(t, got.Items[1].Phases, 2)

	var text bytes.Buffer
	require.NoError(t, got.WriteText(&text, nil))
	assert.Contains(t, text.String(), "good.nii")
	assert.Contains(t, text.String(), "bad.nii (failed in coregister)")
	assert.Contains(t, text.String(), s.Message)

	_, err = ReadReport(strings.NewReader("not a report"))
	require.ErrorIs(t, err, ErrReadReport)
}

// cancelOn calls cancel from inside Report when a log message has the given prefix.
type cancelOn struct {
	recorder
	prefix string
	cancel func()
	once   sync.Once
}

func (r *cancelOn) Report(e progress.Event) {
	r.recorder.Report(e)

	if e.Type == progress.EventLog && strings.HasPrefix(e.Message, r.prefix) {
		r.once.Do(r.cancel)
	}
}

func TestCancel_DuringPhaseStartSpawnsNothing(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	trace := filepath.Join(t.TempDir(), "trace")
	strip := phase.Descriptor{Name: "strip", Executable: "/bin/sh", Args: []string{"-c", "echo started >> " + trace}}

	rec := &cancelOn{prefix: "PHASE 1/"}
	c, w := newCoordinator(t, rec, phase.Plan{strip})
	rec.cancel = c.Cancel

	s := c.Run(ctxlog.New(t.Context(), nil), inputs(t, "a.nii"))

	assert.Equal(t, progress.OutcomeCancelled, s.Outcome)
	require.ErrorIs(t, s.Err, procrun.ErrCancelled)
	assert.Empty(t, readLines(t, trace), "no process starts after cancel")

	for _, e := range rec.of(progress.EventLog) {
		assert.NotEqual(t, "[strip] Cancelled", e.Message)
	}

	assert.Len(t, rec.of(progress.EventFinished), 1)

	entries, err := os.ReadDir(w.ScratchRoot)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestCancel_BeforePipelineStartSpawnsNothing(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	trace := filepath.Join(t.TempDir(), "trace")
	exe := pipelineScript(t, "echo started >> "+trace+"\necho 'FINISHED: ok'")

	rec := &cancelOn{prefix: "Starting pipeline execution"}
	c, _ := newCoordinator(t, rec, phase.Plan{})
	rec.cancel = c.Cancel

	s := c.RunPipeline(ctxlog.New(t.Context(), nil), selfreport.Spec{Executable: exe, WorkDir: t.TempDir(), OutDir: t.TempDir()})

	assert.Equal(t, progress.OutcomeCancelled, s.Outcome)
	assert.Empty(t, readLines(t, trace), "no process starts after cancel")
	assert.Len(t, rec.of(progress.EventFinished), 1)
}
