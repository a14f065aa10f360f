// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"time"
)

// Event is a single notification emitted by a running batch.
// Only the fields relevant to Type are populated.
type Event struct {
	Type      EventType
	Path      []string  // Source of the event, e.g. ["sub-01_T1w.nii.gz", "strip"]
	Timestamp time.Time // When the event occurred

	Percent int // EventProgress

	Item     int        // EventItemStatus: zero-based index of the item
	ItemName string     // EventItemStatus: display name of the item
	Status   ItemStatus // EventItemStatus

	Level   Level  // EventLog
	Message string // EventLog, EventFinished (summary)

	Entity string // EventEntityCompleted

	Success bool    // EventFinished
	Outcome Outcome // EventFinished
}

// EventType represents the type of progress event.
type EventType int

const (
	// EventProgress carries the overall percentage in [0,100].
	EventProgress EventType = iota
	// EventItemStatus indicates an input item changed status.
	EventItemStatus
	// EventLog is a single human-readable log line.
	EventLog
	// EventEntityCompleted indicates a self-reporting run finished one entity (subject).
	EventEntityCompleted
	// EventFinished is emitted exactly once when a batch or run reaches a terminal state.
	EventFinished
)

// String implements the Stringer interface for EventType.
func (et EventType) String() string {
	switch et {
	case EventProgress:
		return "progress"
	case EventItemStatus:
		return "itemStatus"
	case EventLog:
		return "log"
	case EventEntityCompleted:
		return "entityCompleted"
	case EventFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Level is the severity of a log event. Values match log/slog, so a higher
// level is more severe and the zero value is info.
type Level int

const (
	// LevelDebug is for diagnostic output.
	LevelDebug Level = -4
	// LevelInfo is the default severity.
	LevelInfo Level = 0
	// LevelWarning is for recoverable problems.
	LevelWarning Level = 4
	// LevelError is for failures.
	LevelError Level = 8
)

// String implements the Stringer interface for Level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// ItemStatus is the lifecycle status of an input item.
type ItemStatus int

const (
	// StatusPending means the item has not started.
	StatusPending ItemStatus = iota
	// StatusRunning means a phase of the item is executing.
	StatusRunning
	// StatusSucceeded means every phase exited normally with code zero.
	StatusSucceeded
	// StatusFailed means a phase failed to start, crashed, timed out or exited non-zero.
	StatusFailed
	// StatusCancelled means the batch was cancelled while the item was running.
	StatusCancelled
)

// String implements the Stringer interface for ItemStatus.
func (s ItemStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusSucceeded:
		return "succeeded"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status is final.
func (s ItemStatus) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// Outcome qualifies a finished event.
// A batch that completes with failed items is still successful but has a partial outcome.
type Outcome int

const (
	// OutcomeUnknown is the zero value.
	OutcomeUnknown Outcome = iota
	// OutcomeSucceeded means every item or the whole run succeeded.
	OutcomeSucceeded
	// OutcomePartial means the batch completed and some items failed.
	OutcomePartial
	// OutcomeAllFailed means the batch completed and every item failed.
	OutcomeAllFailed
	// OutcomeCancelled means the user cancelled.
	OutcomeCancelled
	// OutcomeFailed means a self-reporting run failed or the batch could not run.
	OutcomeFailed
)

// String implements the Stringer interface for Outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomePartial:
		return "partial"
	case OutcomeAllFailed:
		return "all failed"
	case OutcomeCancelled:
		return "cancelled"
	case OutcomeFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// NewProgress returns a progress event.
func NewProgress(percent int) Event {
	return Event{Type: EventProgress, Percent: percent, Timestamp: time.Now()}
}

// NewItemStatus returns an item status event.
func NewItemStatus(index int, name string, status ItemStatus) Event {
	return Event{
		Type:      EventItemStatus,
		Item:      index,
		ItemName:  name,
		Status:    status,
		Timestamp: time.Now(),
	}
}

// NewLog returns a log event.
func NewLog(level Level, msg string) Event {
	return Event{Type: EventLog, Level: level, Message: msg, Timestamp: time.Now()}
}

// NewEntityCompleted returns an entity completion event.
func NewEntityCompleted(entity string) Event {
	return Event{Type: EventEntityCompleted, Entity: entity, Timestamp: time.Now()}
}

// NewFinished returns a finished event.
func NewFinished(success bool, outcome Outcome, summary string) Event {
	return Event{
		Type:      EventFinished,
		Success:   success,
		Outcome:   outcome,
		Message:   summary,
		Timestamp: time.Now(),
	}
}
