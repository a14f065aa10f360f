// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package tui

import (
	"strings"
	"sync"
	"time"

	bprogress "github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

const (
	maxLogLines  = 8
	defaultWidth = 80
	barWidth     = 40
)

// ItemRow is the display state of a single input item or tracked entity.
type ItemRow struct {
	Index      int
	Name       string
	Status     progress.ItemStatus
	Phase      string     // Phase currently or last executing
	LastOutput string     // Last log line attributed to this item
	ErrorMsg   string     // Last error line, shown once the item failed
	StartTime  *time.Time // When the item started running
	EndTime    *time.Time // When the item reached a terminal status
}

func (r *ItemRow) updateStatus(status progress.ItemStatus, at time.Time) {
	r.Status = status

	switch {
	case status == progress.StatusRunning:
		if r.StartTime == nil {
			r.StartTime = &at
		}
	case status.Terminal():
		if r.EndTime == nil {
			r.EndTime = &at
		}
	}
}

// Model represents the TUI application state.
type Model struct {
	title    string
	items    []*ItemRow
	byName   map[string]*ItemRow
	entities []string
	logs     []string
	percent  int

	finished      bool
	result        progress.Event
	quitting      bool
	cancelPending bool
	onCancel      func()

	width    int
	height   int
	bar      bprogress.Model
	spinner  spinner.Model
	viewport viewport.Model
	styles   *Styles
	mutex    sync.RWMutex
}

// Styles contains all the styling for the TUI.
type Styles struct {
	Title   lipgloss.Style
	Pending lipgloss.Style
	Running lipgloss.Style
	Success lipgloss.Style
	Failed  lipgloss.Style
	Output  lipgloss.Style
	Error   lipgloss.Style
	Help    lipgloss.Style
	Border  lipgloss.Style
}

// NewStyles creates the default styling for the TUI.
func NewStyles() *Styles {
	return &Styles{
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1),
		Pending: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")),
		Running: lipgloss.NewStyle().
			Foreground(lipgloss.Color("11")).
			Bold(true),
		Success: lipgloss.NewStyle().
			Foreground(lipgloss.Color("10")),
		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")),
		Output: lipgloss.NewStyle().
			Foreground(lipgloss.Color("7")).
			Italic(true),
		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color("9")).
			Italic(true),
		Help: lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			MarginTop(1),
		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("8")),
	}
}

// Option configures a Model.
type Option func(*Model)

// WithTitle sets the heading shown above the item list.
func WithTitle(title string) Option {
	return func(m *Model) {
		m.title = title
	}
}

// WithItems pre-populates the item list so that pending items are visible before they start.
func WithItems(names ...string) Option {
	return func(m *Model) {
		for i, n := range names {
			m.row(i, n)
		}
	}
}

// WithCancel sets the function invoked when the user asks to cancel the run.
func WithCancel(fn func()) Option {
	return func(m *Model) {
		m.onCancel = fn
	}
}

// NewModel creates a new TUI model.
func NewModel(opts ...Option) *Model {
	m := &Model{
		title:    "neurorun",
		byName:   make(map[string]*ItemRow),
		bar:      bprogress.New(bprogress.WithDefaultGradient(), bprogress.WithWidth(barWidth)),
		spinner:  spinner.New(spinner.WithSpinner(spinner.Dot)),
		viewport: viewport.New(defaultWidth, maxLogLines),
		styles:   NewStyles(),
		width:    defaultWidth,
	}

	for _, o := range opts {
		o(m)
	}

	return m
}

// Items returns a snapshot of the item rows.
func (m *Model) Items() []ItemRow {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make([]ItemRow, 0, len(m.items))
	for _, r := range m.items {
		if r != nil {
			out = append(out, *r)
		}
	}

	return out
}

// Percent returns the last overall progress value received.
func (m *Model) Percent() int {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.percent
}

// Entities returns the tracked entities reported complete, in completion order.
func (m *Model) Entities() []string {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return append([]string(nil), m.entities...)
}

// Finished reports whether the finished event has been received, and returns it.
func (m *Model) Finished() (progress.Event, bool) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	return m.result, m.finished
}

// row returns the row for index, creating it and any gap rows if needed.
// Callers must hold the write lock, or be constructing the model.
func (m *Model) row(index int, name string) *ItemRow {
	for len(m.items) <= index {
		m.items = append(m.items, nil)
	}

	r := m.items[index]
	if r == nil {
		r = &ItemRow{Index: index, Name: name}
		m.items[index] = r
	}

	if name != "" && r.Name != name {
		delete(m.byName, r.Name)
		r.Name = name
	}

	m.byName[r.Name] = r

	return r
}

func (m *Model) appendLog(line string) {
	m.logs = append(m.logs, line)
	if len(m.logs) > maxLogLines {
		m.logs = m.logs[len(m.logs)-maxLogLines:]
	}

	m.viewport.SetContent(strings.Join(m.logs, "\n"))
	m.viewport.GotoBottom()
}

// processProgressEvent applies an event to the model state.
func (m *Model) processProgressEvent(event progress.Event) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	switch event.Type {
	case progress.EventProgress:
		if event.Percent > m.percent {
			m.percent = min(event.Percent, 100) //nolint:mnd
		}

	case progress.EventItemStatus:
		m.row(event.Item, event.ItemName).updateStatus(event.Status, event.Timestamp)

	case progress.EventLog:
		m.appendLog(event.Level.String() + ": " + event.Message)

		if len(event.Path) == 0 {
			return
		}

		r, ok := m.byName[event.Path[0]]
		if !ok {
			return
		}

		if len(event.Path) > 1 {
			r.Phase = event.Path[len(event.Path)-1]
		}

		r.LastOutput = lastLine(event.Message)
		if event.Level == progress.LevelError {
			r.ErrorMsg = r.LastOutput
		}

	case progress.EventEntityCompleted:
		m.entities = append(m.entities, event.Entity)

		r, ok := m.byName[event.Entity]
		if !ok {
			r = m.row(len(m.items), event.Entity)
		}

		r.updateStatus(progress.StatusSucceeded, event.Timestamp)

	case progress.EventFinished:
		m.finished = true
		m.result = event
		m.cancelPending = false
	}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}
