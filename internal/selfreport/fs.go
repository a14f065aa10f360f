// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package selfreport

import "github.com/spf13/afero"

// FsFactory returns the filesystem used for configuration discovery and the output directory.
var FsFactory = func() afero.Fs {
	return afero.NewOsFs()
}
