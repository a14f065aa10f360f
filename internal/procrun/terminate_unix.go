// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build !windows

package procrun

import (
	"os"
	"syscall"
)

func terminate(ps *os.Process) error {
	return ps.Signal(syscall.SIGTERM)
}
