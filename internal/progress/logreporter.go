// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"log/slog"
	"strings"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
)

// LogReporter writes every event to the context logger.
type LogReporter struct {
	ctx context.Context
}

// NewLogReporter returns a reporter that logs through ctxlog.
func NewLogReporter(ctx context.Context) *LogReporter {
	return &LogReporter{ctx: ctx}
}

// Report implements Reporter.
func (lr *LogReporter) Report(e Event) {
	logger := ctxlog.Logger(lr.ctx)
	if len(e.Path) > 0 {
		logger = logger.With("path", strings.Join(e.Path, " > "))
	}

	switch e.Type {
	case EventProgress:
		logger.Debug("progress", "percent", e.Percent)
	case EventItemStatus:
		logger.Info("item status", "index", e.Item, "item", e.ItemName, "status", e.Status.String())
	case EventLog:
		logger.Log(lr.ctx, slogLevel(e.Level), e.Message)
	case EventEntityCompleted:
		logger.Info("entity completed", "entity", e.Entity)
	case EventFinished:
		level := slog.LevelInfo
		if !e.Success {
			level = slog.LevelError
		}

		logger.Log(lr.ctx, level, "finished", "success", e.Success, "outcome", e.Outcome.String(), "summary", e.Message)
	}
}

// Close implements Reporter.
func (lr *LogReporter) Close() {}

func slogLevel(l Level) slog.Level {
	return slog.Level(l)
}
