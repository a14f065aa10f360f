// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package tui provides a real-time Terminal User Interface (TUI) for monitoring
// a batch or a self-reporting pipeline run. It shows one row per input item with
// its status, the phase being executed and the last line of output, an overall
// progress bar and a tail of the log.
//
// The TUI is fed by progress events through TUIReporter, which can be combined
// with other reporters using progress.Tee.
package tui
