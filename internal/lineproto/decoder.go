// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package lineproto

import (
	"errors"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

// ErrMalformedLine flags a line that was downgraded to a plain log line.
// It is a warning and never fatal.
var ErrMalformedLine = errors.New("malformed protocol line")

// Kind is the classification of a decoded line.
type Kind int

const (
	// KindPlain is an untagged line, logged verbatim.
	KindPlain Kind = iota
	// KindLog is a leveled log line.
	KindLog
	// KindProgress is a progress fraction.
	KindProgress
	// KindEntity marks an entity as completed.
	KindEntity
	// KindSucceeded is the terminal success marker.
	KindSucceeded
	// KindFailed is the terminal failure marker.
	KindFailed
)

// String implements the Stringer interface for Kind.
func (k Kind) String() string {
	switch k {
	case KindPlain:
		return "plain"
	case KindLog:
		return "log"
	case KindProgress:
		return "progress"
	case KindEntity:
		return "entity"
	case KindSucceeded:
		return "succeeded"
	case KindFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Message is a decoded line.
type Message struct {
	Kind    Kind
	Level   progress.Level
	Text    string // Payload after the tag, or the whole line for KindPlain.
	Current int    // KindProgress
	Total   int    // KindProgress
	Entity  string // KindEntity
	Err     error  // ErrMalformedLine when the line was downgraded.
}

// Percent returns floor(100*Current/Total) clamped to [0,100].
func (m Message) Percent() int {
	if m.Total <= 0 {
		return 0
	}

	return clamp(100*m.Current/m.Total, 0, 100)
}

// Decoder classifies lines against a Grammar. Decode is pure and safe for concurrent use.
type Decoder struct {
	g Grammar
}

// NewDecoder returns a Decoder for the grammar.
func NewDecoder(g Grammar) *Decoder {
	return &Decoder{g: g}
}

// Grammar returns the decoder's grammar.
func (d *Decoder) Grammar() Grammar {
	return d.g
}

// Decode classifies one complete line. It never fails: lines that cannot be
// interpreted are returned as plain info lines with Err set to ErrMalformedLine.
func (d *Decoder) Decode(line []byte) Message {
	if !utf8.Valid(line) {
		return Message{
			Kind:  KindPlain,
			Level: progress.LevelInfo,
			Text:  strings.ToValidUTF8(string(line), "�"),
			Err:   ErrMalformedLine,
		}
	}

	s := string(line)

	if payload, ok := cutPrefix(s, d.g.FailurePrefix); ok {
		return Message{Kind: KindFailed, Level: progress.LevelError, Text: payload}
	}

	if payload, ok := cutPrefix(s, d.g.SuccessPrefix); ok {
		return Message{Kind: KindSucceeded, Level: progress.LevelInfo, Text: payload}
	}

	if payload, ok := cutPrefix(s, d.g.EntityPrefix); ok {
		if entity := d.entity(payload); entity != "" {
			return Message{Kind: KindEntity, Level: progress.LevelInfo, Text: payload, Entity: entity}
		}

		if strings.Contains(payload, "/") {
			return d.decodeProgress(s, payload)
		}

		return malformed(s)
	}

	if payload, ok := cutPrefix(s, d.g.ProgressPrefix); ok {
		return d.decodeProgress(s, payload)
	}

	for _, lp := range d.g.LogPrefixes {
		if payload, ok := cutPrefix(s, lp.Prefix); ok {
			return Message{Kind: KindLog, Level: lp.Level, Text: payload}
		}
	}

	return Message{Kind: KindPlain, Level: progress.LevelInfo, Text: s}
}

func (d *Decoder) decodeProgress(line, payload string) Message {
	cur, tot, found := strings.Cut(payload, "/")
	if !found {
		// Some producers report "PROGRESS: processing sub-01"; treat it as a completion hint.
		if d.g.EntityPattern != nil {
			if entity := d.g.EntityPattern.FindString(payload); entity != "" {
				return Message{Kind: KindEntity, Level: progress.LevelInfo, Text: payload, Entity: entity}
			}
		}

		return malformed(line)
	}

	current, err := strconv.Atoi(strings.TrimSpace(cur))
	if err != nil || current < 0 {
		return malformed(line)
	}

	total, err := strconv.Atoi(strings.TrimSpace(tot))
	if err != nil || total <= 0 {
		return malformed(line)
	}

	return Message{
		Kind:    KindProgress,
		Level:   progress.LevelInfo,
		Text:    payload,
		Current: current,
		Total:   total,
	}
}

// entity extracts the entity name from an entity payload. With a pattern only
// a match counts. Without one the payload itself is the name, unless it reads
// as a "current/total" count.
func (d *Decoder) entity(payload string) string {
	if d.g.EntityPattern != nil {
		return d.g.EntityPattern.FindString(payload)
	}

	if strings.Contains(payload, "/") {
		return ""
	}

	return strings.TrimSpace(payload)
}

func malformed(line string) Message {
	return Message{Kind: KindPlain, Level: progress.LevelInfo, Text: line, Err: ErrMalformedLine}
}

func cutPrefix(s, prefix string) (string, bool) {
	if prefix == "" {
		return "", false
	}

	after, ok := strings.CutPrefix(s, prefix)
	if !ok {
		return "", false
	}

	return strings.TrimSpace(after), true
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
