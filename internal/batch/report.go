// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import (
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

var (
	// ErrWriteReport is returned when a report cannot be encoded.
	ErrWriteReport = errors.New("failed to write binary report")
	// ErrReadReport is returned when a report cannot be decoded.
	ErrReadReport = errors.New("failed to read binary report")
)

var (
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	cancelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
)

// Report is the saved record of a batch.
type Report struct {
	ID        string
	Mode      Mode
	Success   bool
	Outcome   progress.Outcome
	Message   string
	Processed int
	Total     int
	Failed    []string
	Started   time.Time
	Finished  time.Time
	Items     []ItemRecord
	Entities  []string // Pipeline mode only.
	Reason    string   // Pipeline mode failure reason.
	Error     string
}

// WriteBinary encodes the report with encoding/gob.
func (r Report) WriteBinary(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(r); err != nil {
		return errors.Join(ErrWriteReport, err)
	}

	return nil
}

// ReadReport decodes a report written by WriteBinary.
func ReadReport(rd io.Reader) (Report, error) {
	var r Report
	if err := gob.NewDecoder(rd).Decode(&r); err != nil {
		return Report{}, errors.Join(ErrReadReport, err)
	}

	return r, nil
}

// TextOptions controls WriteText.
type TextOptions struct {
	ShowPhases bool // Include phase details for successful items as well as failed ones.
}

// WriteText writes a human-readable rendering of the report.
func (r Report) WriteText(w io.Writer, opts *TextOptions) error {
	if opts == nil {
		opts = &TextOptions{}
	}

	ew := &errWriter{w: w}

	ew.printf("%s\n", headerStyle.Render(fmt.Sprintf("%s batch %s", r.Mode, r.ID)))
	ew.printf("%s %s\n", outcomeGlyph(r.Outcome), r.Message)

	if !r.Started.IsZero() {
		ew.printf("  started %s, took %s\n", r.Started.Format(time.DateTime), r.Finished.Sub(r.Started).Round(time.Second))
	}

	for _, it := range r.Items {
		ew.printf("%s %s", statusGlyph(it.Status), it.Name)

		if it.FailedPhase != "" {
			ew.printf(" (failed in %s)", it.FailedPhase)
		}

		ew.printf("\n")

		if it.Error != "" {
			ew.printf("  %s %s\n", detailStyle.Render("➜ Error:"), it.Error)
		}

		if it.Status == progress.StatusSucceeded && !opts.ShowPhases {
			continue
		}

		for _, p := range it.Phases {
			glyph := successStyle.Render("✓")
			if p.Error != "" {
				glyph = failureStyle.Render("✗")
			}

			ew.printf("    %s %s (exit code: %d, %s)\n", glyph, p.Name, p.ExitCode, p.Duration.Round(time.Millisecond))
		}
	}

	for _, e := range r.Entities {
		ew.printf("%s %s\n", successStyle.Render("✓"), e)
	}

	if r.Reason != "" && r.Outcome != progress.OutcomeSucceeded {
		ew.printf("  %s %s\n", detailStyle.Render("➜ Reason:"), r.Reason)
	}

	return ew.err
}

func outcomeGlyph(o progress.Outcome) string {
	switch o {
	case progress.OutcomeSucceeded:
		return successStyle.Render("✓")
	case progress.OutcomePartial:
		return cancelStyle.Render("!")
	case progress.OutcomeCancelled:
		return cancelStyle.Render("~")
	case progress.OutcomeAllFailed, progress.OutcomeFailed:
		return failureStyle.Render("✗")
	default:
		return pendingStyle.Render("?")
	}
}

func statusGlyph(s progress.ItemStatus) string {
	switch s {
	case progress.StatusSucceeded:
		return successStyle.Render("✓")
	case progress.StatusFailed:
		return failureStyle.Render("✗")
	case progress.StatusCancelled:
		return cancelStyle.Render("~")
	default:
		return pendingStyle.Render("·")
	}
}

// errWriter keeps the first write error.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
