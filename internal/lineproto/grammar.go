// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package lineproto

import (
	"errors"
	"regexp"

	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

// DefaultEntityPattern matches subject identifiers such as "sub-001".
const DefaultEntityPattern = `sub-[A-Za-z0-9_]+`

// ErrEmptyPrefix is returned when a grammar rule has an empty prefix.
var ErrEmptyPrefix = errors.New("grammar prefix must not be empty")

// LevelPrefix maps a line prefix to a log level.
type LevelPrefix struct {
	Prefix string
	Level  progress.Level
}

// Grammar describes the tags recognised at the start of a line.
// Rules are evaluated in fixed precedence: failure, success, entity, progress,
// leveled logs in the order given, then plain.
type Grammar struct {
	FailurePrefix  string
	SuccessPrefix  string
	EntityPrefix   string
	ProgressPrefix string
	LogPrefixes    []LevelPrefix
	EntityPattern  *regexp.Regexp
}

// DefaultGrammar returns the self-reporting wire protocol grammar.
func DefaultGrammar() Grammar {
	return Grammar{
		FailurePrefix:  "FAILED: ",
		SuccessPrefix:  "FINISHED: ",
		EntityPrefix:   "PATIENT: ",
		ProgressPrefix: "PROGRESS: ",
		LogPrefixes: []LevelPrefix{
			{Prefix: "ERROR: ", Level: progress.LevelError},
			{Prefix: "WARNING: ", Level: progress.LevelWarning},
			{Prefix: "LOG: ", Level: progress.LevelInfo},
			{Prefix: "DEBUG: ", Level: progress.LevelDebug},
		},
		EntityPattern: regexp.MustCompile(DefaultEntityPattern),
	}
}

// Validate checks that every configured prefix is non-empty.
// Empty failure, success, entity or progress prefixes disable that rule and are allowed.
func (g Grammar) Validate() error {
	for _, lp := range g.LogPrefixes {
		if lp.Prefix == "" {
			return ErrEmptyPrefix
		}
	}

	return nil
}
