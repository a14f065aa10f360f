// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package cmdstate holds process-wide state shared between main and the subcommands.
// The signal watchdog starts before any subcommand knows what it will run,
// so the running subcommand registers its stop function here.
package cmdstate

import "sync"

var (
	mu   sync.Mutex
	stop func()
)

// SetStop registers fn as the function called on the first termination signal.
// The returned function restores the previous registration.
func SetStop(fn func()) (restore func()) {
	mu.Lock()
	defer mu.Unlock()

	prev := stop
	stop = fn

	return func() {
		mu.Lock()
		defer mu.Unlock()

		stop = prev
	}
}

// Stop calls the registered stop function, if any, and reports whether one was called.
func Stop() bool {
	mu.Lock()
	fn := stop
	mu.Unlock()

	if fn == nil {
		return false
	}

	fn()

	return true
}
