// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

// Mode identifies how a batch was executed.
type Mode string

const (
	// ModeSegment is the chained multi-phase mode over input files.
	ModeSegment Mode = "segment"
	// ModePipeline is the single self-reporting process mode.
	ModePipeline Mode = "pipeline"
)

// Summary is the result of a run. Success and Outcome are reported separately:
// a batch whose items all failed still completed, so Success is true and
// Outcome is OutcomeAllFailed.
type Summary struct {
	ID        uuid.UUID
	Success   bool
	Outcome   progress.Outcome
	Message   string
	Processed int
	Total     int
	Failed    []string
	Err       error
	Started   time.Time
	Finished  time.Time

	mode     Mode
	items    []ItemRecord
	entities []string
	reason   string
}

// Items returns the per-item records of a segment run.
func (s Summary) Items() []ItemRecord {
	return slices.Clone(s.items)
}

// Report returns the persistable form of the summary.
func (s Summary) Report() Report {
	r := Report{
		ID:        s.ID.String(),
		Mode:      s.mode,
		Success:   s.Success,
		Outcome:   s.Outcome,
		Message:   s.Message,
		Processed: s.Processed,
		Total:     s.Total,
		Failed:    slices.Clone(s.Failed),
		Started:   s.Started,
		Finished:  s.Finished,
		Items:     slices.Clone(s.items),
		Entities:  slices.Clone(s.entities),
		Reason:    s.reason,
	}

	if s.Err != nil {
		r.Error = s.Err.Error()
	}

	return r
}

// ItemRecord describes how one item went.
type ItemRecord struct {
	Name        string
	Path        string
	Status      progress.ItemStatus
	FailedPhase string
	Error       string
	Duration    time.Duration
	Phases      []PhaseRecord
}

// PhaseRecord describes one executed phase.
type PhaseRecord struct {
	Name     string
	ExitCode int
	Duration time.Duration
	Error    string
}

func newItemRecord(item phase.Item, out phase.Outcome) ItemRecord {
	rec := ItemRecord{
		Name:        item.Name,
		Path:        item.Path,
		Status:      out.State.ItemStatus(),
		FailedPhase: out.FailedPhase,
		Duration:    out.Finished.Sub(out.Started),
	}

	if out.Err != nil {
		rec.Error = out.Err.Error()
	}

	for _, r := range out.Phases {
		pr := PhaseRecord{
			Name:     r.Phase,
			ExitCode: r.Process.ExitCode,
			Duration: r.Process.Duration(),
		}

		if r.Err != nil {
			pr.Error = r.Err.Error()
		}

		rec.Phases = append(rec.Phases, pr)
	}

	return rec
}
