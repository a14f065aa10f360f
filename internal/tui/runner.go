// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

var _ progress.Reporter = (*TUIReporter)(nil)

// Runner manages the TUI application and progress event integration.
type Runner struct {
	model    *Model
	program  *tea.Program
	reporter *TUIReporter
	mutex    sync.Mutex
}

// TUIReporter implements progress.Reporter and forwards events to the TUI.
type TUIReporter struct {
	program *tea.Program
	closed  bool
	mutex   sync.RWMutex
}

// NewTUIReporter creates a new TUI progress reporter.
func NewTUIReporter(program *tea.Program) *TUIReporter {
	return &TUIReporter{
		program: program,
	}
}

// Report implements progress.Reporter.
func (tr *TUIReporter) Report(event progress.Event) {
	tr.mutex.RLock()
	defer tr.mutex.RUnlock()

	if tr.closed || tr.program == nil {
		return
	}

	tr.program.Send(ProgressEventMsg{Event: event})
}

// Close implements progress.Reporter.
func (tr *TUIReporter) Close() {
	tr.mutex.Lock()
	defer tr.mutex.Unlock()
	tr.closed = true
}

// NewRunner creates a new TUI runner.
// Extra tea options are appended after the alt screen option, so tests can supply input and output.
func NewRunner(opts []Option, teaOpts ...tea.ProgramOption) *Runner {
	model := NewModel(opts...)
	program := tea.NewProgram(model, append([]tea.ProgramOption{tea.WithAltScreen()}, teaOpts...)...)

	return &Runner{
		model:    model,
		program:  program,
		reporter: NewTUIReporter(program),
	}
}

// Reporter returns the progress reporter that feeds this TUI.
func (r *Runner) Reporter() progress.Reporter {
	return r.reporter
}

// Model returns the model rendered by the runner.
func (r *Runner) Model() *Model {
	return r.model
}

// Run starts the TUI and calls work, which is expected to report through Reporter.
// When work returns the TUI stays open until the user quits.
// If the user quits first, Run waits for work to return.
// If ctx is cancelled the TUI is closed and Run still waits for work to return.
func (r *Runner) Run(ctx context.Context, work func()) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	workDone := make(chan struct{})

	go func() {
		defer close(workDone)
		work()
	}()

	tuiDone := make(chan error, 1)

	go func() {
		_, err := r.program.Run()
		tuiDone <- err
	}()

	var tuiErr error

	select {
	case <-workDone:
		r.program.Send(RunCompletedMsg{})

		tuiErr = <-tuiDone

		r.reporter.Close()

	case tuiErr = <-tuiDone:
		r.reporter.Close()
		<-workDone

	case <-ctx.Done():
		r.reporter.Close()
		r.program.Quit()

		tuiErr = <-tuiDone
		<-workDone
	}

	return tuiErr
}
