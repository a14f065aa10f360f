// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procrun

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/lineproto"
)

// Stream identifies which output a line came from.
type Stream int

const (
	// Stdout is the standard output stream.
	Stdout Stream = iota
	// Stderr is the standard error stream.
	Stderr
)

// String implements the Stringer interface for Stream.
func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}

	return "stdout"
}

// Line is one complete line of process output.
type Line struct {
	Stream Stream
	Text   []byte
}

// Result is the outcome of a finished process.
type Result struct {
	Label      string
	Pid        int
	ExitCode   int  // -1 when the process was killed by a signal or never reaped.
	NormalExit bool // False when the process was terminated by a signal.
	Err        error
	Started    time.Time
	Finished   time.Time
}

// Success reports whether the process exited normally with code zero and no error.
func (r Result) Success() bool {
	return r.ExitCode == 0 && r.NormalExit && r.Err == nil
}

// Duration returns the wall time between start and finish.
func (r Result) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Handle is a running process.
// Lines must be consumed concurrently with Wait, otherwise output beyond the
// internal buffer is discarded once the drain timeout expires.
type Handle struct {
	runner  *Runner
	logger  *slog.Logger
	label   string
	ps      *os.Process
	started time.Time

	rOut, rErr  *os.File
	lines       chan Line
	linesClosed chan struct{}
	readers     sync.WaitGroup
	abandon     chan struct{}
	abandonOnce sync.Once

	exited  chan struct{}
	state   *os.ProcessState
	waitErr error

	cancelOnce sync.Once
	cancelled  atomic.Bool
	cancelErr  error

	waitOnce sync.Once
	result   Result
}

func newHandle(ctx context.Context, r *Runner, label string, ps *os.Process, rOut, rErr *os.File) *Handle {
	h := &Handle{
		runner:      r,
		logger:      ctxlog.Logger(ctx).With("label", label, "pid", ps.Pid),
		label:       label,
		ps:          ps,
		started:     time.Now(),
		rOut:        rOut,
		rErr:        rErr,
		lines:       make(chan Line, lineBufferSize),
		linesClosed: make(chan struct{}),
		abandon:     make(chan struct{}),
		exited:      make(chan struct{}),
	}

	h.readers.Add(2)

	go h.pump(rOut, Stdout)
	go h.pump(rErr, Stderr)

	go func() {
		h.readers.Wait()
		close(h.lines)
		close(h.linesClosed)
	}()

	go func() {
		state, err := ps.Wait()
		h.state = state
		h.waitErr = err
		close(h.exited)
	}()

	return h
}

func (h *Handle) pump(f *os.File, s Stream) {
	defer h.readers.Done()
	defer f.Close() //nolint:errcheck

	err := lineproto.Pump(f, func(line []byte) {
		select {
		case h.lines <- Line{Stream: s, Text: line}:
		case <-h.abandon:
		}
	})
	if err != nil {
		h.logger.Debug("output stream read error", "stream", s.String(), "error", err)
	}
}

// Label returns the label from the Spec.
func (h *Handle) Label() string {
	return h.label
}

// Pid returns the operating system process id.
func (h *Handle) Pid() int {
	return h.ps.Pid
}

// Lines returns the merged output lines. The channel is closed after the process
// has exited and both streams are drained.
func (h *Handle) Lines() <-chan Line {
	return h.lines
}

// Exited is closed when the process has been reaped.
func (h *Handle) Exited() <-chan struct{} {
	return h.exited
}

// Wait blocks until the process exits. If ctx is done first the process is
// cancelled and the result error matches ErrCancelled, or ErrTimeoutExceeded
// when the context deadline expired.
// Wait may be called more than once and always returns the same result.
func (h *Handle) Wait(ctx context.Context) Result {
	h.waitOnce.Do(func() {
		h.result = h.wait(ctx)
	})

	return h.result
}

func (h *Handle) wait(ctx context.Context) Result {
	defer h.runner.release(h)

	var ctxErr error

	select {
	case <-h.exited:
	case <-ctx.Done():
		ctxErr = ctx.Err()
		h.logger.Info("context done, stopping process")
		_ = h.Cancel()
	}

	exited := isClosed(h.exited)
	h.drain()

	res := Result{
		Label:    h.label,
		Pid:      h.ps.Pid,
		ExitCode: -1,
		Started:  h.started,
		Finished: time.Now(),
	}

	if exited {
		res.Err = h.waitErr
		if h.state != nil {
			res.ExitCode = h.state.ExitCode()
			res.NormalExit = h.state.Exited()
		}
	}

	if h.cancelled.Load() {
		cause := ErrCancelled
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			cause = ErrTimeoutExceeded
		}

		res.Err = errors.Join(res.Err, cause, h.cancelErr)
	}

	h.logger.Debug("process finished", "exitCode", res.ExitCode, "normalExit", res.NormalExit, "error", res.Err)

	return res
}

// drain waits for the readers to finish, forcing the pipes closed after the drain timeout.
// A grandchild that inherited the pipes would otherwise hold them open indefinitely.
func (h *Handle) drain() {
	timer := time.NewTimer(h.runner.DrainTimeout)
	defer timer.Stop()

	select {
	case <-h.linesClosed:
		return
	case <-timer.C:
	}

	h.logger.Debug("output not drained after exit, closing pipes")
	h.abandonOnce.Do(func() { close(h.abandon) })
	closeAll(h.rOut, h.rErr)
	<-h.linesClosed
}

// Cancel stops the process: a graceful terminate, then after the grace period a
// forced kill, then a bounded wait. It returns ErrCouldNotKillProcess if the
// process is still alive afterwards. Cancel is idempotent and does nothing
// if the process has already exited.
func (h *Handle) Cancel() error {
	h.cancelOnce.Do(func() {
		if isClosed(h.exited) {
			return
		}

		h.cancelled.Store(true)
		h.logger.Info("terminating process", "grace", h.runner.Grace)

		if err := terminate(h.ps); err != nil && !errors.Is(err, os.ErrProcessDone) {
			h.logger.Debug("failed to send terminate signal", "error", err)
		}

		if waitClosed(h.exited, h.runner.Grace) {
			return
		}

		h.logger.Info("process did not exit within grace period, killing")
		killPs(h.logger, h.ps)

		if waitClosed(h.exited, h.runner.KillWait) {
			return
		}

		h.logger.Error("process may still be running")
		h.cancelErr = ErrCouldNotKillProcess
	})

	return h.cancelErr
}

// killPs kills the process, ignoring processes that have already finished.
func killPs(logger *slog.Logger, ps *os.Process) {
	if err := ps.Kill(); err != nil {
		if errors.Is(err, os.ErrProcessDone) {
			logger.Debug("process already done")
			return
		}

		logger.Error("process kill error", "error", err)

		return
	}

	logger.Info("process killed")
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func waitClosed(ch <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		return isClosed(ch)
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	}
}
