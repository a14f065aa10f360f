// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

const (
	minStatusBarAvailableHeight = 10
	itemDurationRounding        = 100 * time.Millisecond
	minNameWidth                = 12
	ellipsis                    = "..."
)

// ProgressEventMsg wraps a progress event for the tea framework.
type ProgressEventMsg struct {
	Event progress.Event
}

// RunCompletedMsg indicates that the batch function has returned.
type RunCompletedMsg struct{}

// Init implements bubbletea.Model.Init.
func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		tea.EnterAltScreen,
		m.spinner.Tick,
	)
}

// Update implements bubbletea.Model.Update.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.mutex.Lock()
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.mutex.Unlock()

		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd

		m.mutex.Lock()
		m.spinner, cmd = m.spinner.Update(msg)
		m.mutex.Unlock()

		return m, cmd

	case ProgressEventMsg:
		m.processProgressEvent(msg.Event)
		return m, nil

	case RunCompletedMsg:
		m.mutex.Lock()
		m.finished = true
		m.mutex.Unlock()

		return m, nil
	}

	var cmd tea.Cmd

	m.mutex.Lock()
	m.viewport, cmd = m.viewport.Update(msg)
	m.mutex.Unlock()

	return m, cmd
}

// handleKeyPress processes keyboard input.
func (m *Model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch msg.String() {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "c":
		if m.finished || m.cancelPending || m.onCancel == nil {
			return m, nil
		}

		m.cancelPending = true
		m.appendLog("warning: Cancellation requested")

		go m.onCancel()

		return m, nil
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)

	return m, cmd
}

// View implements bubbletea.Model.View.
func (m *Model) View() string {
	if m.quitting {
		return "Shutting down...\n"
	}

	m.mutex.RLock()
	defer m.mutex.RUnlock()

	var view strings.Builder

	view.WriteString(m.styles.Title.Render("🧠 " + m.title))
	view.WriteString("\n")

	for _, r := range m.items {
		if r == nil {
			continue
		}

		m.renderItem(&view, r)
	}

	view.WriteString("\n")
	view.WriteString(m.bar.ViewAs(float64(m.percent) / 100)) //nolint:mnd
	view.WriteString("\n")

	view.WriteString(m.styles.Border.Render(m.viewport.View()))
	view.WriteString("\n")

	if m.finished {
		view.WriteString(m.renderCompletion())
		view.WriteString("\n")
	}

	if m.height == 0 || m.height > minStatusBarAvailableHeight {
		help := "'c' to cancel the run, 'q' to quit"
		if m.finished {
			help = "'q' to quit and return to terminal"
		}

		view.WriteString(m.styles.Help.Render(help))
	}

	return view.String()
}

func (m *Model) renderCompletion() string {
	if m.result.Type != progress.EventFinished {
		return m.styles.Pending.Render("Run returned")
	}

	switch m.result.Outcome {
	case progress.OutcomeSucceeded:
		return m.styles.Success.Render("✅ " + m.result.Message)
	case progress.OutcomeCancelled:
		return m.styles.Pending.Render("⏹ " + m.result.Message)
	default:
		return m.styles.Failed.Render("⚠️  " + m.result.Message)
	}
}

// renderItem renders a single item row with its phase and latest output.
func (m *Model) renderItem(b *strings.Builder, r *ItemRow) {
	var icon, name string

	switch r.Status {
	case progress.StatusPending:
		icon = "⏳"
		name = m.styles.Pending.Render(truncate(r.Name, m.nameWidth()))
	case progress.StatusRunning:
		icon = m.spinner.View()
		name = m.styles.Running.Render(truncate(r.Name, m.nameWidth()))
	case progress.StatusSucceeded:
		icon = "✅"
		name = m.styles.Success.Render(truncate(r.Name, m.nameWidth()))
	case progress.StatusFailed:
		icon = "❌"
		name = m.styles.Failed.Render(truncate(r.Name, m.nameWidth()))
	default:
		icon = "⏹"
		name = m.styles.Pending.Render(truncate(r.Name, m.nameWidth()))
	}

	b.WriteString(icon)
	b.WriteString(" ")
	b.WriteString(name)

	if r.StartTime != nil {
		elapsed := time.Since(*r.StartTime)
		if r.EndTime != nil {
			elapsed = r.EndTime.Sub(*r.StartTime)
		}

		b.WriteString(m.styles.Output.Render(fmt.Sprintf(" (%v)", elapsed.Round(itemDurationRounding))))
	}

	switch {
	case r.Status == progress.StatusFailed && r.ErrorMsg != "":
		b.WriteString("  ")
		b.WriteString(m.styles.Error.Render(truncate(phaseTag(r)+"Error: "+r.ErrorMsg, m.nameWidth())))
	case r.Status == progress.StatusRunning && r.LastOutput != "":
		b.WriteString("  ")
		b.WriteString(m.styles.Output.Render(truncate(phaseTag(r)+r.LastOutput, m.nameWidth())))
	}

	b.WriteString("\n")
}

func phaseTag(r *ItemRow) string {
	if r.Phase == "" {
		return ""
	}

	return "[" + r.Phase + "] "
}

// nameWidth splits the terminal in half between the name and the output columns.
func (m *Model) nameWidth() int {
	return max(m.width/2-4, minNameWidth) //nolint:mnd
}

func truncate(s string, width int) string {
	r := []rune(s)
	if len(r) <= width {
		return s
	}

	if width <= len(ellipsis) {
		return string(r[:width])
	}

	return string(r[:width-len(ellipsis)]) + ellipsis
}
