// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEventType_String(t *testing.T) {
	tests := []struct {
		eventType EventType
		expected  string
	}{
		{EventProgress, "progress"},
		{EventItemStatus, "itemStatus"},
		{EventLog, "log"},
		{EventEntityCompleted, "entityCompleted"},
		{EventFinished, "finished"},
		{EventType(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.eventType.String())
		})
	}
}

func TestItemStatus_Terminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestConstructors(t *testing.T) {
	p := NewProgress(42)
	assert.Equal(t, EventProgress, p.Type)
	assert.Equal(t, 42, p.Percent)
	assert.False(t, p.Timestamp.IsZero())

	s := NewItemStatus(1, "b.nii", StatusFailed)
	assert.Equal(t, EventItemStatus, s.Type)
	assert.Equal(t, 1, s.Item)
	assert.Equal(t, "b.nii", s.ItemName)
	assert.Equal(t, StatusFailed, s.Status)

	l := NewLog(LevelError, "[Strip] boom")
	assert.Equal(t, LevelError, l.Level)
	assert.Equal(t, "[Strip] boom", l.Message)

	f := NewFinished(true, OutcomePartial, "Processing completed with errors")
	assert.True(t, f.Success)
	assert.Equal(t, OutcomePartial, f.Outcome)
	assert.Equal(t, "partial", f.Outcome.String())
}

func TestLevel_OrderedBySeverity(t *testing.T) {
	assert.Less(t, LevelDebug, LevelInfo)
	assert.Less(t, LevelInfo, LevelWarning)
	assert.Less(t, LevelWarning, LevelError)

	var zero Level
	assert.Equal(t, LevelInfo, zero)
	assert.Equal(t, "warning", LevelWarning.String())
	assert.Equal(t, slog.LevelWarn, slogLevel(LevelWarning))
	assert.Equal(t, slog.LevelDebug, slogLevel(LevelDebug))
}
