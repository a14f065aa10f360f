// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procrun

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func skipWindows(t *testing.T) {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("requires /bin/sh")
	}
}

func testContext(t *testing.T) context.Context {
	t.Helper()

	ctxlog.LevelVar.Set(slog.LevelDebug)

	return ctxlog.New(t.Context(), ctxlog.DefaultLogger)
}

type collected struct {
	mu     sync.Mutex
	stdout []string
	stderr []string
	done   chan struct{}
}

func collect(h *Handle) *collected {
	c := &collected{done: make(chan struct{})}

	go func() {
		defer close(c.done)

		for l := range h.Lines() {
			c.mu.Lock()
			if l.Stream == Stderr {
				c.stderr = append(c.stderr, string(l.Text))
			} else {
				c.stdout = append(c.stdout, string(l.Text))
			}
			c.mu.Unlock()
		}
	}()

	return c
}

func (c *collected) wait(t *testing.T) {
	t.Helper()

	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("line channel was not closed")
	}
}

func shell(script string) Spec {
	return Spec{Label: "test", Path: "/bin/sh", Args: []string{"-c", script}}
}

func TestRunner_Success(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	r := NewRunner()

	h, err := r.Start(ctx, shell("echo hello; echo oops 1>&2; printf 'no newline'"))
	require.NoError(t, err)
	assert.True(t, r.Active())

	lines := collect(h)
	res := h.Wait(ctx)
	lines.wait(t)

	assert.True(t, res.Success(), "result: %+v", res)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.NormalExit)
	assert.Equal(t, []string{"hello", "no newline"}, lines.stdout)
	assert.Equal(t, []string{"oops"}, lines.stderr)
	assert.False(t, r.Active(), "runner must be released after Wait")
	assert.Equal(t, res, h.Wait(ctx), "Wait is idempotent")
}

func TestRunner_NonZeroExit(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	h, err := NewRunner().Start(ctx, shell("exit 3"))
	require.NoError(t, err)

	lines := collect(h)
	res := h.Wait(ctx)
	lines.wait(t)

	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)
	assert.True(t, res.NormalExit)
	assert.NoError(t, res.Err)
}

func TestRunner_NotFound(t *testing.T) {
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	r := NewRunner()

	h, err := r.Start(ctx, Spec{Label: "missing", Path: "/not/a/real/command"})
	require.Nil(t, h)

	var pathErr *os.PathError

	require.ErrorAs(t, err, &pathErr)
	assert.ErrorIs(t, err, ErrCouldNotStartProcess)
	assert.False(t, r.Active(), "a failed start must not hold the runner")
}

func TestRunner_Busy(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	r := NewRunner(WithGrace(time.Second))

	h, err := r.Start(ctx, shell("exec sleep 10"))
	require.NoError(t, err)

	_, err = r.Start(ctx, shell("true"))
	require.ErrorIs(t, err, ErrBusy)

	lines := collect(h)
	require.NoError(t, h.Cancel())
	res := h.Wait(ctx)
	lines.wait(t)

	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.False(t, res.NormalExit)

	h2, err := r.Start(ctx, shell("true"))
	require.NoError(t, err, "runner must accept a new process once the previous one is waited")

	lines = collect(h2)
	assert.True(t, h2.Wait(ctx).Success())
	lines.wait(t)
}

func TestRunner_CancelViaContextTerminatesGracefully(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	runCtx, cancel := context.WithCancel(ctx)

	h, err := NewRunner(WithGrace(2*time.Second)).Start(runCtx, shell("exec sleep 10"))
	require.NoError(t, err)

	lines := collect(h)

	time.AfterFunc(100*time.Millisecond, cancel)

	start := time.Now()
	res := h.Wait(runCtx)
	lines.wait(t)

	assert.Less(t, time.Since(start), 2*time.Second, "SIGTERM should stop sleep before the grace period ends")
	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.NotErrorIs(t, res.Err, ErrTimeoutExceeded)
	assert.False(t, res.Success())
}

func TestRunner_CancelKillsProcessIgnoringTerm(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	grace := 300 * time.Millisecond
	r := NewRunner(WithGrace(grace), WithKillWait(2*time.Second), WithDrainTimeout(500*time.Millisecond))

	h, err := r.Start(ctx, shell("trap '' TERM; echo ready; while :; do sleep 0.05; done"))
	require.NoError(t, err)

	ready := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)

		once := sync.Once{}
		for l := range h.Lines() {
			if string(l.Text) == "ready" {
				once.Do(func() { close(ready) })
			}
		}
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("script never became ready")
	}

	start := time.Now()
	require.NoError(t, h.Cancel())
	assert.GreaterOrEqual(t, time.Since(start), grace, "kill must wait for the grace period")

	res := h.Wait(ctx)
	<-done

	assert.ErrorIs(t, res.Err, ErrCancelled)
	assert.Equal(t, -1, res.ExitCode)
	assert.False(t, res.NormalExit)
	assert.NoError(t, h.Cancel(), "cancel is idempotent")
}

func TestRunner_Timeout(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	runCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)

	defer cancel()

	h, err := NewRunner().Start(runCtx, shell("exec sleep 10"))
	require.NoError(t, err)

	lines := collect(h)
	res := h.Wait(runCtx)
	lines.wait(t)

	assert.ErrorIs(t, res.Err, ErrTimeoutExceeded)
	assert.ErrorIs(t, runCtx.Err(), context.DeadlineExceeded)
}

func TestRunner_EnvAndDir(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := testContext(t)
	dir := t.TempDir()

	spec := shell("echo $NEURORUN_TEST; pwd")
	spec.Env = map[string]string{"NEURORUN_TEST": "BAR"}
	spec.Dir = dir

	h, err := NewRunner().Start(ctx, spec)
	require.NoError(t, err)

	lines := collect(h)
	res := h.Wait(ctx)
	lines.wait(t)

	require.True(t, res.Success())
	require.Len(t, lines.stdout, 2)
	assert.Equal(t, "BAR", lines.stdout[0])

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	got, err := filepath.EvalSymlinks(lines.stdout[1])
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestRunner_GrandchildHoldingPipeDoesNotBlockWait(t *testing.T) {
	skipWindows(t)

	ctx := testContext(t)
	r := NewRunner(WithDrainTimeout(200 * time.Millisecond))

	h, err := r.Start(ctx, shell("sleep 3 & echo started"))
	require.NoError(t, err)

	lines := collect(h)
	start := time.Now()
	res := h.Wait(ctx)
	lines.wait(t)

	assert.True(t, res.Success())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Contains(t, strings.Join(lines.stdout, "\n"), "started")
}

func TestResult_Success(t *testing.T) {
	assert.True(t, Result{ExitCode: 0, NormalExit: true}.Success())
	assert.False(t, Result{ExitCode: 0, NormalExit: false}.Success())
	assert.False(t, Result{ExitCode: 1, NormalExit: true}.Success())
	assert.False(t, Result{ExitCode: 0, NormalExit: true, Err: ErrCancelled}.Success())

	start := time.Now()
	assert.Equal(t, time.Second, Result{Started: start, Finished: start.Add(time.Second)}.Duration())
}

func TestRunner_StartAfterContextDone(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	trace := filepath.Join(t.TempDir(), "trace")

	ctx, cancel := context.WithCancel(testContext(t))
	cancel()

	r := NewRunner()
	h, err := r.Start(ctx, shell("echo started > "+trace))
	require.Nil(t, h)
	require.ErrorIs(t, err, ErrCouldNotStartProcess)
	require.ErrorIs(t, err, ErrCancelled)
	assert.False(t, r.Active())

	_, statErr := os.Stat(trace)
	assert.True(t, os.IsNotExist(statErr), "no process may start once the context is done")

	expired, cancelExpired := context.WithTimeout(testContext(t), time.Nanosecond)
	defer cancelExpired()

	<-expired.Done()

	_, err = r.Start(expired, shell("true"))
	require.ErrorIs(t, err, ErrTimeoutExceeded)
}
