// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package lineproto turns the byte streams of an external process into complete lines
// and classifies each line against a tag grammar.
//
// The default grammar is the self-reporting wire protocol:
//
//	LOG: <text>           informational log
//	ERROR: <text>         error log
//	PROGRESS: <cur>/<tot> progress fraction
//	PATIENT: <id>         entity (subject) completed
//	FINISHED: <text>      completion marker
//	FAILED: <text>        terminal failure marker
//
// Any other line is a plain log line.
package lineproto
