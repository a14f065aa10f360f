// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package batch coordinates a run over many input items, or a single
// self-reporting pipeline run, and reports aggregate progress.
//
// A Coordinator owns the batch state. Exactly one run may be active at a
// time, every run ends with exactly one finished event, and Cancel may be
// called from any goroutine.
package batch
