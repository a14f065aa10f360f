// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procrun

import "errors"

var (
	// ErrCouldNotStartProcess is returned when the process could not be started.
	ErrCouldNotStartProcess = errors.New("could not start process")
	// ErrCouldNotKillProcess is returned when the process is still alive after the kill wait.
	ErrCouldNotKillProcess = errors.New("could not kill process after timeout")
	// ErrFailedToCreatePipe is returned when the operating system pipe could not be created.
	ErrFailedToCreatePipe = errors.New("failed to create pipe")
	// ErrBusy is returned when the runner already has an active process.
	ErrBusy = errors.New("a process is already running")
	// ErrCancelled is returned when the process was stopped by a cancel request.
	ErrCancelled = errors.New("process cancelled")
	// ErrTimeoutExceeded is returned when the process exceeds the context deadline.
	ErrTimeoutExceeded = errors.New("timeout exceeded")
	// ErrExecutableNotFound is returned when an executable cannot be located.
	ErrExecutableNotFound = errors.New("executable not found")
)
