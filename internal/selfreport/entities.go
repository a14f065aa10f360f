// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package selfreport

import "strings"

// tracker records which entities have been reported complete.
type tracker struct {
	names []string
	done  map[string]bool
	order []string
}

func newTracker(names []string) *tracker {
	return &tracker{names: names, done: make(map[string]bool, len(names))}
}

// complete marks the first open entity whose name contains id. With no
// tracked names the identifier itself is used. It returns the completed name
// and false when nothing matched or the entity was already complete.
func (t *tracker) complete(id string) (string, bool) {
	if len(t.names) == 0 {
		if t.done[id] {
			return "", false
		}

		t.mark(id)

		return id, true
	}

	for _, n := range t.names {
		if !t.done[n] && strings.Contains(n, id) {
			t.mark(n)
			return n, true
		}
	}

	return "", false
}

func (t *tracker) mark(name string) {
	t.done[name] = true
	t.order = append(t.order, name)
}

// open returns the tracked names not yet complete, in order.
func (t *tracker) open() []string {
	var out []string

	for _, n := range t.names {
		if !t.done[n] {
			out = append(out, n)
		}
	}

	return out
}

// completed returns the completed names in completion order.
func (t *tracker) completed() []string {
	return t.order
}
