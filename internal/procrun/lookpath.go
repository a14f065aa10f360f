// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package procrun

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// LookPath resolves an executable name.
// A name containing a path separator is checked as is. Otherwise the extra
// directories are searched first, in order, followed by PATH.
// On Windows ".exe" is tried as well.
func LookPath(name string, dirs ...string) (string, error) {
	if name == "" {
		return "", ErrExecutableNotFound
	}

	if strings.ContainsRune(name, os.PathSeparator) || strings.ContainsRune(name, '/') {
		if isExecutable(name) {
			return name, nil
		}

		return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
	}

	paths := make([]string, 0, len(dirs))
	paths = append(paths, dirs...)
	paths = append(paths, filepath.SplitList(os.Getenv("PATH"))...)

	for _, p := range paths {
		if p == "" {
			continue
		}

		for _, candidate := range candidates(filepath.Join(p, name)) {
			if isExecutable(candidate) {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("%w: %s", ErrExecutableNotFound, name)
}

// BundleDirs returns the directories shipped alongside the running executable:
// its own directory and a "bin" subdirectory.
func BundleDirs() []string {
	exe, err := os.Executable()
	if err != nil {
		return nil
	}

	dir := filepath.Dir(exe)

	return []string{dir, filepath.Join(dir, "bin")}
}

func candidates(path string) []string {
	if runtime.GOOS == "windows" && filepath.Ext(path) == "" {
		return []string{path, path + ".exe"}
	}

	return []string{path}
}

func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}

	// check if the command is executable if not Windows
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return false
	}

	return true
}
