// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/hashicorp/go-multierror"
)

var (
	// ErrInvalidPlan is returned when a phase plan fails validation.
	ErrInvalidPlan = errors.New("invalid phase plan")
	// ErrPhaseNameEmpty is returned when a phase has no name.
	ErrPhaseNameEmpty = errors.New("phase name must not be empty")
	// ErrPhaseNameDuplicate is returned when two phases share a name.
	ErrPhaseNameDuplicate = errors.New("duplicate phase name")
	// ErrExecutableEmpty is returned when a phase has no executable.
	ErrExecutableEmpty = errors.New("phase executable must not be empty")
)

// Descriptor defines one external phase.
// Executable, Args and Env values are text/template strings rendered with TemplateData.
type Descriptor struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Executable  string            `yaml:"executable"`
	Args        []string          `yaml:"args,omitempty"`
	OutputDir   string            `yaml:"output_dir,omitempty"`
	Timeout     time.Duration     `yaml:"timeout,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
}

// OutDirName returns the output directory name for the phase at 1-based ordinal k,
// relative to the scratch root. It defaults to "NN_<slug>".
func (d Descriptor) OutDirName(k int) string {
	if d.OutputDir != "" {
		return d.OutputDir
	}

	return fmt.Sprintf("%02d_%s", k, slug(d.Name))
}

// Plan is the ordered list of phases applied to every item.
type Plan []Descriptor

// Names returns the phase names in order.
func (p Plan) Names() []string {
	names := make([]string, len(p))
	for i, d := range p {
		names[i] = d.Name
	}

	return names
}

// Validate checks that every phase has a unique name and an executable.
func (p Plan) Validate() error {
	var result error

	seen := make(map[string]struct{}, len(p))
	dirs := make(map[string]struct{}, len(p))

	for i, d := range p {
		k := i + 1

		if strings.TrimSpace(d.Name) == "" {
			result = multierror.Append(result, fmt.Errorf("phase %d: %w", k, ErrPhaseNameEmpty))
		}

		if _, ok := seen[d.Name]; ok && d.Name != "" {
			result = multierror.Append(result, fmt.Errorf("phase %d: %w: %s", k, ErrPhaseNameDuplicate, d.Name))
		}

		seen[d.Name] = struct{}{}

		dir := d.OutDirName(k)
		if _, ok := dirs[dir]; ok {
			result = multierror.Append(result, fmt.Errorf("phase %d: duplicate output directory %q", k, dir))
		}

		dirs[dir] = struct{}{}

		if strings.TrimSpace(d.Executable) == "" {
			result = multierror.Append(result, fmt.Errorf("phase %d (%s): %w", k, d.Name, ErrExecutableEmpty))
		}
	}

	if result != nil {
		return errors.Join(ErrInvalidPlan, result)
	}

	return nil
}

func slug(name string) string {
	var b strings.Builder

	underscore := false

	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)

			underscore = false

			continue
		}

		if !underscore && b.Len() > 0 {
			b.WriteByte('_')

			underscore = true
		}
	}

	return strings.TrimSuffix(b.String(), "_")
}
