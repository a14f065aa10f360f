// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import "github.com/spf13/afero"

// FsFactory is a function that returns an afero filesystem.
// External processes read and write the scratch directory, so production code uses the OS filesystem.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}
