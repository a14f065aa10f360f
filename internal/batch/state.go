// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package batch

import "slices"

// State is a snapshot of a batch.
type State struct {
	Total     int      // Number of items.
	Index     int      // Item currently being processed, zero-based.
	Phase     int      // Phases completed for the current item.
	Phases    int      // Phases per item.
	Processed int      // Items that succeeded.
	Failed    []string // Names of failed items, in order.
	Cancelled bool
	Running   bool
}

func (s State) clone() State {
	s.Failed = slices.Clone(s.Failed)
	return s
}

// Progress returns the integer percentage for phase p of item i in a batch of
// total items with n phases each, clamped to [0,100].
// It returns 0 when there is nothing to process.
func Progress(i, p, total, n int) int {
	den := total * n
	if den <= 0 {
		return 0
	}

	return max(0, min(100*(i*n+p)/den, 100))
}
