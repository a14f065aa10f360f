// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

// ChildReporter prefixes the Path of every event before forwarding it to its parent.
type ChildReporter struct {
	parent Reporter
	prefix []string
}

// NewChildReporter creates a new child reporter with the given path prefix.
func NewChildReporter(parent Reporter, prefix ...string) *ChildReporter {
	return &ChildReporter{
		parent: parent,
		prefix: prefix,
	}
}

// Report implements Reporter.
func (cr *ChildReporter) Report(event Event) {
	if len(event.Path) == 0 {
		event.Path = cr.prefix
		cr.parent.Report(event)

		return
	}

	fullPath := make([]string, 0, len(cr.prefix)+len(event.Path))
	fullPath = append(fullPath, cr.prefix...)
	fullPath = append(fullPath, event.Path...)
	event.Path = fullPath

	cr.parent.Report(event)
}

// Close does not close the parent, which may be shared by other children.
func (cr *ChildReporter) Close() {}
