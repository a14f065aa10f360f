// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

//go:build windows

package procrun

import "os"

// Windows has no graceful terminate signal for arbitrary console processes.
func terminate(ps *os.Process) error {
	return ps.Kill()
}
