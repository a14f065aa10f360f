// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package lineproto

import (
	"bytes"
	"errors"
	"io"
	"os"
)

const (
	readChunkSize = 32 * 1024
	// DefaultMaxLineLength bounds the pending partial line. Longer lines are emitted in pieces.
	DefaultMaxLineLength = 1024 * 1024
)

// Splitter buffers arbitrary chunks and returns complete lines.
// Line endings ("\n" or "\r\n") are removed and blank lines are discarded.
// It is not safe for concurrent use; use one Splitter per stream.
type Splitter struct {
	partial []byte
	max     int
}

// NewSplitter creates a Splitter with the default maximum line length.
func NewSplitter() *Splitter {
	return &Splitter{max: DefaultMaxLineLength}
}

// Write consumes a chunk and returns every line it completes.
// Returned slices are owned by the caller.
func (s *Splitter) Write(chunk []byte) [][]byte {
	if s.max <= 0 {
		s.max = DefaultMaxLineLength
	}

	var lines [][]byte

	s.partial = append(s.partial, chunk...)

	for {
		i := bytes.IndexByte(s.partial, '\n')
		if i < 0 {
			break
		}

		if line := trimLine(s.partial[:i]); line != nil {
			lines = append(lines, line)
		}

		s.partial = s.partial[i+1:]
	}

	for len(s.partial) > s.max {
		if line := trimLine(s.partial[:s.max]); line != nil {
			lines = append(lines, line)
		}

		s.partial = s.partial[s.max:]
	}

	// Compact so the backing array does not grow without bound.
	s.partial = append([]byte(nil), s.partial...)

	return lines
}

// Flush returns the pending partial line, if any, and resets the Splitter.
func (s *Splitter) Flush() []byte {
	line := trimLine(s.partial)
	s.partial = nil

	return line
}

// Partial returns a copy of the buffered incomplete line.
func (s *Splitter) Partial() []byte {
	return append([]byte(nil), s.partial...)
}

func trimLine(b []byte) []byte {
	b = bytes.TrimRight(b, "\r")
	if len(bytes.TrimSpace(b)) == 0 {
		return nil
	}

	return append([]byte(nil), b...)
}

// Pump reads r until EOF or error and calls fn for every complete line, in order.
// The final unterminated line is delivered after EOF.
// An io.EOF or closed-file error ends the pump without being returned.
func Pump(r io.Reader, fn func(line []byte)) error {
	s := NewSplitter()
	buf := make([]byte, readChunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range s.Write(buf[:n]) {
				fn(line)
			}
		}

		if err != nil {
			if line := s.Flush(); line != nil {
				fn(line)
			}

			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
				return nil
			}

			return err
		}
	}
}
