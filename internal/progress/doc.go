// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package progress defines the events a running batch emits (progress, item status,
// log lines, entity completion and the single finished notification) and the
// reporters that carry them to observers such as the TUI or a log.
package progress
