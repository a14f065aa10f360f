// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
	"github.com/matt-FFFFFF/neurorun/internal/selfreport"
)

var (
	// ErrBatchRunning is returned when a run is requested while another is active.
	ErrBatchRunning = errors.New("a batch is already running")
	// ErrInvalidItem is returned when an input path is not absolute.
	ErrInvalidItem = errors.New("input path must be absolute")
	// ErrNoWorkflow is returned when a mode is used without its runner configured.
	ErrNoWorkflow = errors.New("no workflow configured")
)

const (
	// MessageCancelled is the summary of a cancelled run.
	MessageCancelled = "cancelled"
	// MessageEmpty is the summary of a batch with no items.
	MessageEmpty = "No items to process"
	// MessagePipelineSucceeded is the summary of a successful self-reporting run.
	MessagePipelineSucceeded = "Pipeline completed successfully"
)

// Coordinator runs batches and is the single writer of their state.
type Coordinator struct {
	reporter progress.Reporter
	workflow *phase.Workflow
	pipeline *selfreport.Runner

	mu        sync.Mutex
	state     State
	active    bool
	cancel    context.CancelFunc
	lastPct   int
	cancelled bool
}

// NewCoordinator returns a Coordinator reporting to reporter. Either runner
// may be nil when the corresponding mode is not used.
func NewCoordinator(reporter progress.Reporter, workflow *phase.Workflow, pipeline *selfreport.Runner) *Coordinator {
	if reporter == nil {
		reporter = progress.NewNullReporter()
	}

	return &Coordinator{
		reporter: reporter,
		workflow: workflow,
		pipeline: pipeline,
	}
}

// State returns a snapshot of the current or last batch.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state.clone()
}

// Cancel requests cooperative cancellation of the active run. The running
// process is terminated, then killed after its grace period, and no further
// process is started. It is safe to call from any goroutine and more than once.
func (c *Coordinator) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.active {
		return
	}

	c.cancelled = true
	c.state.Cancelled = true

	if c.cancel != nil {
		c.cancel()
	}
}

// Run processes every item through the workflow, one at a time, and blocks
// until the batch finishes or is cancelled.
func (c *Coordinator) Run(ctx context.Context, paths []string) Summary {
	runCtx, s, err := c.begin(ctx, len(paths), c.phases())
	if err != nil {
		return s
	}

	return c.runItems(runCtx, s, paths)
}

// Start is the non-blocking form of Run. The summary is delivered on the
// returned channel, which is then closed.
func (c *Coordinator) Start(ctx context.Context, paths []string) (<-chan Summary, error) {
	runCtx, s, err := c.begin(ctx, len(paths), c.phases())
	if err != nil {
		return nil, err
	}

	ch := make(chan Summary, 1)

	go func() {
		defer close(ch)
		ch <- c.runItems(runCtx, s, paths)
	}()

	return ch, nil
}

// RunPipeline launches one self-reporting run and blocks until it finishes.
func (c *Coordinator) RunPipeline(ctx context.Context, spec selfreport.Spec) Summary {
	runCtx, s, err := c.begin(ctx, len(spec.Entities), 0)
	if err != nil {
		return s
	}

	return c.runPipeline(runCtx, s, spec)
}

// StartPipeline is the non-blocking form of RunPipeline.
func (c *Coordinator) StartPipeline(ctx context.Context, spec selfreport.Spec) (<-chan Summary, error) {
	runCtx, s, err := c.begin(ctx, len(spec.Entities), 0)
	if err != nil {
		return nil, err
	}

	ch := make(chan Summary, 1)

	go func() {
		defer close(ch)
		ch <- c.runPipeline(runCtx, s, spec)
	}()

	return ch, nil
}

func (c *Coordinator) phases() int {
	if c.workflow == nil {
		return 0
	}

	return len(c.workflow.Plan)
}

// begin claims the coordinator for a new run and resets its state.
// A rejected run emits no events.
func (c *Coordinator) begin(ctx context.Context, total, phases int) (context.Context, Summary, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active {
		return nil, Summary{Outcome: progress.OutcomeFailed, Message: ErrBatchRunning.Error(), Err: ErrBatchRunning}, ErrBatchRunning
	}

	runCtx, cancel := context.WithCancel(ctx)

	c.active = true
	c.cancel = cancel
	c.cancelled = false
	c.lastPct = -1
	c.state = State{Total: total, Phases: phases, Running: true}

	return runCtx, Summary{
		ID:      uuid.New(),
		Total:   total,
		Started: time.Now(),
	}, nil
}

// end releases the coordinator and emits the single finished event.
func (c *Coordinator) end(s Summary) Summary {
	s.Finished = time.Now()

	c.mu.Lock()
	c.state.Running = false
	c.active = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	c.reporter.Report(progress.NewFinished(s.Success, s.Outcome, s.Message))

	return s
}

func (c *Coordinator) isCancelled(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.cancelled || ctx.Err() != nil
}

// emitProgress reports pct when it is higher than the last value and the run is not cancelled.
func (c *Coordinator) emitProgress(ctx context.Context, pct int) {
	c.mu.Lock()

	if c.cancelled || ctx.Err() != nil || pct <= c.lastPct {
		c.mu.Unlock()
		return
	}

	c.lastPct = pct
	c.mu.Unlock()

	c.reporter.Report(progress.NewProgress(pct))
}

func (c *Coordinator) update(fn func(*State)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fn(&c.state)
}

func (c *Coordinator) runItems(ctx context.Context, s Summary, paths []string) Summary {
	logger := ctxlog.Logger(ctx).With("batch", s.ID.String())
	s.mode = ModeSegment

	if c.workflow == nil {
		s.Outcome = progress.OutcomeFailed
		s.Err = ErrNoWorkflow
		s.Message = ErrNoWorkflow.Error()

		return c.end(s)
	}

	for _, p := range paths {
		if !filepath.IsAbs(p) {
			s.Outcome = progress.OutcomeFailed
			s.Err = fmt.Errorf("%w: %s", ErrInvalidItem, p)
			s.Message = s.Err.Error()
			c.reporter.Report(progress.NewLog(progress.LevelError, s.Message))

			return c.end(s)
		}
	}

	total := len(paths)
	n := len(c.workflow.Plan)

	c.reporter.Report(progress.NewLog(progress.LevelInfo, fmt.Sprintf("Starting processing of %d items", total)))
	c.emitProgress(ctx, 0)

	if total == 0 {
		c.emitProgress(ctx, 100)

		s.Success = true
		s.Outcome = progress.OutcomeSucceeded
		s.Message = MessageEmpty

		return c.end(s)
	}

	for i, path := range paths {
		if c.isCancelled(ctx) {
			break
		}

		// The index bound is authoritative: an out of range index ends the batch.
		st := c.State()
		if i >= st.Total {
			logger.Warn("item index out of range", "index", i, "total", st.Total)
			break
		}

		item := phase.Item{Index: i, Path: path, Name: filepath.Base(path)}

		c.update(func(s *State) {
			s.Index = i
			s.Phase = 0
		})

		c.reporter.Report(progress.NewLog(progress.LevelInfo, fmt.Sprintf("=== PROCESSING: %s ===", item.Name)))
		c.reporter.Report(progress.NewItemStatus(i, item.Name, progress.StatusRunning))

		out := c.workflow.Run(ctx, item, c.reporter, phase.Hooks{
			PhaseStarted: func(k int, d phase.Descriptor) {
				c.reporter.Report(progress.NewLog(progress.LevelInfo, fmt.Sprintf("PHASE %d/%d: %s", k, n, d.Name)))
			},
			PhaseSucceeded: func(k int, _ phase.Descriptor) {
				c.update(func(s *State) { s.Phase = k })
				c.emitProgress(ctx, Progress(i, k, total, n))
			},
		})

		s.items = append(s.items, newItemRecord(item, out))
		c.reporter.Report(progress.NewItemStatus(i, item.Name, out.State.ItemStatus()))

		switch out.State {
		case phase.StateSucceeded:
			c.update(func(s *State) { s.Processed++ })
		case phase.StateFailed:
			logger.Debug("item failed", "item", item.Name, "phase", out.FailedPhase, "error", out.Err)
			c.update(func(s *State) { s.Failed = append(s.Failed, item.Name) })
		}

		if out.State == phase.StateCancelled {
			break
		}

		c.emitProgress(ctx, Progress(i+1, 0, total, n))
	}

	st := c.State()
	s.Processed = st.Processed
	s.Failed = st.Failed

	if c.isCancelled(ctx) {
		c.reporter.Report(progress.NewLog(progress.LevelWarning, "Cancellation requested, processing stopped"))

		s.Outcome = progress.OutcomeCancelled
		s.Message = MessageCancelled
		s.Err = procrun.ErrCancelled

		return c.end(s)
	}

	s.Success = true
	s.Outcome, s.Message = itemsSummary(st)

	return c.end(s)
}

func itemsSummary(st State) (progress.Outcome, string) {
	if len(st.Failed) == 0 {
		return progress.OutcomeSucceeded, fmt.Sprintf("All %d items processed successfully", st.Total)
	}

	msg := fmt.Sprintf("Processing completed with errors. Processed: %d/%d. Failed: %s",
		st.Processed, st.Total, strings.Join(st.Failed, ", "))

	if st.Processed == 0 {
		return progress.OutcomeAllFailed, msg
	}

	return progress.OutcomePartial, msg
}

func (c *Coordinator) runPipeline(ctx context.Context, s Summary, spec selfreport.Spec) Summary {
	s.mode = ModePipeline

	if c.pipeline == nil {
		s.Outcome = progress.OutcomeFailed
		s.Err = ErrNoWorkflow
		s.Message = ErrNoWorkflow.Error()

		return c.end(s)
	}

	// Entity completions and progress flow straight from the process; the
	// coordinator filters them so cancellation silences further progress.
	res := c.pipeline.Run(ctx, spec, &pipelineReporter{c: c, ctx: ctx})

	c.update(func(st *State) { st.Processed = len(res.Completed) })

	s.Processed = len(res.Completed)
	s.entities = res.Completed
	s.reason = res.Reason

	switch {
	case res.Cancelled() || c.isCancelled(ctx):
		s.Outcome = progress.OutcomeCancelled
		s.Message = MessageCancelled
		s.Err = procrun.ErrCancelled
	case res.Success:
		s.Success = true
		s.Outcome = progress.OutcomeSucceeded
		s.Message = MessagePipelineSucceeded
	default:
		s.Outcome = progress.OutcomeFailed
		s.Message = res.Reason
		s.Err = res.Err
	}

	return c.end(s)
}

// pipelineReporter routes progress through the coordinator's monotonic filter.
type pipelineReporter struct {
	c   *Coordinator
	ctx context.Context
}

func (r *pipelineReporter) Report(e progress.Event) {
	if e.Type == progress.EventProgress {
		r.c.emitProgress(r.ctx, e.Percent)
		return
	}

	r.c.reporter.Report(e)
}

func (r *pipelineReporter) Close() {}
