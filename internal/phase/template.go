// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"github.com/spf13/afero"
)

var (
	// ErrRenderTemplate is returned when a phase argument template cannot be rendered.
	ErrRenderTemplate = errors.New("failed to render phase template")
	// ErrNoNifti is returned by findNifti when a directory holds no NIfTI image.
	ErrNoNifti = errors.New("no NIfTI image found")
)

var niftiExts = []string{".nii.gz", ".nii"}

// TemplateData is available to Executable, Args and Env templates.
type TemplateData struct {
	Input     string            // Absolute path of the input item.
	InputDir  string            // Directory of the input item.
	Name      string            // Base name of the input item.
	BaseName  string            // Name without the NIfTI extension.
	Workspace string            // Workspace root.
	Scratch   string            // Scratch directory owned by this item.
	Phase     string            // Name of the phase being rendered.
	Index     int               // 1-based ordinal of the phase.
	Out       string            // This phase's output directory.
	PrevOut   string            // Previous phase's output directory, or Input for the first phase.
	Outputs   map[string]string // Output directory of every phase by name.
	Vars      map[string]string // User variables from configuration.
}

var templateFuncs = template.FuncMap{
	"stripNifti": StripNiftiExt,
	"findNifti":  findNifti,
	"join":       filepath.Join,
	"base":       filepath.Base,
	"dir":        filepath.Dir,
}

func render(name, text string, data TemplateData) (string, error) {
	if !strings.Contains(text, "{{") {
		return text, nil
	}

	tmpl, err := template.New(name).Option("missingkey=error").Funcs(templateFuncs).Parse(text)
	if err != nil {
		return "", errors.Join(ErrRenderTemplate, err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", errors.Join(ErrRenderTemplate, err)
	}

	return b.String(), nil
}

// renderAll renders the executable, arguments and environment of d.
func renderAll(d Descriptor, data TemplateData) (string, []string, map[string]string, error) {
	exe, err := render(d.Name+".executable", d.Executable, data)
	if err != nil {
		return "", nil, nil, err
	}

	args := make([]string, 0, len(d.Args))

	for i, a := range d.Args {
		r, err := render(fmt.Sprintf("%s.args[%d]", d.Name, i), a, data)
		if err != nil {
			return "", nil, nil, err
		}

		args = append(args, r)
	}

	var env map[string]string

	if len(d.Env) > 0 {
		env = make(map[string]string, len(d.Env))

		for k, v := range d.Env {
			r, err := render(d.Name+".env."+k, v, data)
			if err != nil {
				return "", nil, nil, err
			}

			env[k] = r
		}
	}

	return exe, args, env, nil
}

// StripNiftiExt removes a trailing ".nii.gz" or ".nii" from name.
func StripNiftiExt(name string) string {
	for _, ext := range niftiExts {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext)
		}
	}

	return name
}

// IsNifti reports whether name has a NIfTI extension.
func IsNifti(name string) bool {
	return StripNiftiExt(name) != name
}

// findNifti returns the first NIfTI image in dir, in name order, preferring
// images whose stem ends with preferSuffix (e.g. "_rsl").
func findNifti(dir, preferSuffix string) (string, error) {
	entries, err := afero.ReadDir(FsFactory(), dir)
	if err != nil {
		return "", fmt.Errorf("%w in %s: %w", ErrNoNifti, dir, err)
	}

	var images []string

	for _, e := range entries {
		if !e.IsDir() && IsNifti(e.Name()) {
			images = append(images, e.Name())
		}
	}

	if len(images) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoNifti, dir)
	}

	sort.Strings(images)

	if preferSuffix != "" {
		for _, name := range images {
			if strings.HasSuffix(StripNiftiExt(name), preferSuffix) {
				return filepath.Join(dir, name), nil
			}
		}
	}

	return filepath.Join(dir, images[0]), nil
}
