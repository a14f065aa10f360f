// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procrun

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
)

const (
	// DefaultGrace is how long a terminated process has to exit before it is killed.
	DefaultGrace = 3 * time.Second
	// DefaultKillWait is how long to wait for a killed process to exit.
	DefaultKillWait = 2 * time.Second
	// DefaultDrainTimeout bounds how long output is read after the process has exited.
	DefaultDrainTimeout = 2 * time.Second

	lineBufferSize = 256
)

// Spec describes a process to start.
type Spec struct {
	Label string            // Used in logs, e.g. "sub-01_T1w.nii.gz/strip".
	Path  string            // Full path to the executable.
	Args  []string          // Arguments, not including the executable name itself.
	Dir   string            // Working directory, empty for the current one.
	Env   map[string]string // Added to the inherited environment.
}

// Runner starts processes and enforces that at most one is active.
type Runner struct {
	Grace        time.Duration
	KillWait     time.Duration
	DrainTimeout time.Duration

	mu     sync.Mutex
	active *Handle
}

// Option configures a Runner.
type Option func(*Runner)

// WithGrace sets the graceful termination period.
func WithGrace(d time.Duration) Option {
	return func(r *Runner) {
		r.Grace = d
	}
}

// WithKillWait sets how long to wait after a forced kill.
func WithKillWait(d time.Duration) Option {
	return func(r *Runner) {
		r.KillWait = d
	}
}

// WithDrainTimeout sets how long to keep reading output after exit.
func WithDrainTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.DrainTimeout = d
	}
}

// NewRunner returns a Runner with default timings.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{
		Grace:        DefaultGrace,
		KillWait:     DefaultKillWait,
		DrainTimeout: DefaultDrainTimeout,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Active reports whether a process handle is outstanding.
func (r *Runner) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.active != nil
}

// Start launches the process described by spec.
// The returned Handle must be waited on to release the runner.
func (r *Runner) Start(ctx context.Context, spec Spec) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active != nil {
		return nil, ErrBusy
	}

	logger := ctxlog.Logger(ctx).With("label", spec.Label)

	// Checked under the lock so a cancel that has returned never races a new start.
	if err := ctx.Err(); err != nil {
		cause := ErrCancelled
		if errors.Is(err, context.DeadlineExceeded) {
			cause = ErrTimeoutExceeded
		}

		logger.Debug("not starting process, context done", "error", err)

		return nil, errors.Join(ErrCouldNotStartProcess, cause, err)
	}
	logger.Debug("command info", "path", spec.Path, "cwd", spec.Dir, "args", spec.Args)

	env := os.Environ()
	for _, k := range slices.Sorted(maps.Keys(spec.Env)) {
		env = append(env, fmt.Sprintf("%s=%s", k, spec.Env[k]))
	}

	rOut, wOut, err := os.Pipe()
	if err != nil {
		return nil, errors.Join(ErrCouldNotStartProcess, ErrFailedToCreatePipe, err)
	}

	rErr, wErr, err := os.Pipe()
	if err != nil {
		closeAll(rOut, wOut)
		return nil, errors.Join(ErrCouldNotStartProcess, ErrFailedToCreatePipe, err)
	}

	devNull, err := os.Open(os.DevNull)
	if err != nil {
		closeAll(rOut, wOut, rErr, wErr)
		return nil, errors.Join(ErrCouldNotStartProcess, err)
	}

	args := slices.Concat([]string{filepath.Base(spec.Path)}, spec.Args)

	ps, err := os.StartProcess(spec.Path, args, &os.ProcAttr{
		Dir:   spec.Dir,
		Env:   env,
		Files: []*os.File{devNull, wOut, wErr},
	})

	// The child holds its own copies; closing ours lets readers see EOF when it exits.
	closeAll(devNull, wOut, wErr)

	if err != nil {
		closeAll(rOut, rErr)
		logger.Debug("process failed to start", "error", err)

		return nil, errors.Join(ErrCouldNotStartProcess, err)
	}

	logger.Debug("process started", "pid", ps.Pid)

	h := newHandle(ctx, r, spec.Label, ps, rOut, rErr)
	r.active = h

	return h, nil
}

func (r *Runner) release(h *Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == h {
		r.active = nil
	}
}

func closeAll(files ...*os.File) {
	for _, f := range files {
		_ = f.Close()
	}
}
