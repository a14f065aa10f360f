// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package procrun starts one external process at a time, streams its stdout and
// stderr as lines while it runs, and stops it with a graceful terminate followed
// by a forced kill.
package procrun
