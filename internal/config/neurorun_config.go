// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/hashicorp/go-multierror"
	"github.com/matt-FFFFFF/neurorun/internal/lineproto"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/matt-FFFFFF/neurorun/internal/progress"
)

var (
	// ErrInvalidYaml is returned when the configuration cannot be decoded.
	ErrInvalidYaml = errors.New("invalid YAML")
	// ErrInvalidConfig is returned when the configuration fails validation.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrNegativeDuration is returned when a grace or kill wait period is negative.
	ErrNegativeDuration = errors.New("duration must not be negative")
	// ErrInvalidEntityPattern is returned when the entity pattern does not compile.
	ErrInvalidEntityPattern = errors.New("invalid entity pattern")
)

// Config is the root configuration.
type Config struct {
	Workspace   string            `yaml:"workspace,omitempty"`
	ScratchRoot string            `yaml:"scratch_root,omitempty"`
	SearchDirs  []string          `yaml:"search_dirs,omitempty"`
	Vars        map[string]string `yaml:"vars,omitempty"`
	Segment     Segment           `yaml:"segment"`
	Pipeline    Pipeline          `yaml:"pipeline"`
}

// Segment configures the chained multi-phase mode.
type Segment struct {
	Grace     time.Duration `yaml:"grace"`
	KillWait  time.Duration `yaml:"kill_wait"`
	PhasesDir string        `yaml:"phases_dir,omitempty"` // Directory of *.neurorun.hcl files overriding Phases.
	Phases    phase.Plan    `yaml:"phases"`
}

// Pipeline configures the self-reporting mode.
type Pipeline struct {
	Executable string        `yaml:"executable"`
	Args       []string      `yaml:"args,omitempty"`
	Grace      time.Duration `yaml:"grace"`
	KillWait   time.Duration `yaml:"kill_wait"`
	Grammar    Grammar       `yaml:"grammar"`
}

// Grammar is the configurable form of the line protocol tags.
type Grammar struct {
	Failure       string `yaml:"failure"`
	Success       string `yaml:"success"`
	Entity        string `yaml:"entity"`
	Progress      string `yaml:"progress"`
	Error         string `yaml:"error"`
	Warning       string `yaml:"warning"`
	Log           string `yaml:"log"`
	Debug         string `yaml:"debug"`
	EntityPattern string `yaml:"entity_pattern"`
}

// Parse decodes YAML on top of the defaults, so omitted keys keep their
// default value. Vars are merged key by key.
func Parse(b []byte) (*Config, error) {
	c := Default()
	defaults := c.Vars

	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidYaml, err)
	}

	if c.Vars == nil {
		c.Vars = make(map[string]string, len(defaults))
	}

	for k, v := range defaults {
		if _, ok := c.Vars[k]; !ok {
			c.Vars[k] = v
		}
	}

	return c, nil
}

// YAML encodes the configuration.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate checks the whole configuration and reports every problem found.
func (c *Config) Validate() error {
	var result error

	if err := c.Segment.Phases.Validate(); err != nil && c.Segment.PhasesDir == "" {
		result = multierror.Append(result, err)
	}

	for name, d := range map[string]time.Duration{
		"segment.grace":      c.Segment.Grace,
		"segment.kill_wait":  c.Segment.KillWait,
		"pipeline.grace":     c.Pipeline.Grace,
		"pipeline.kill_wait": c.Pipeline.KillWait,
	} {
		if d < 0 {
			result = multierror.Append(result, fmt.Errorf("%w: %s", ErrNegativeDuration, name))
		}
	}

	if _, err := c.Pipeline.Grammar.Compile(); err != nil {
		result = multierror.Append(result, err)
	}

	if result != nil {
		return errors.Join(ErrInvalidConfig, result)
	}

	return nil
}

// SegmentRunner returns a process runner with the segment mode timings.
func (c *Config) SegmentRunner() *procrun.Runner {
	return procrun.NewRunner(procrun.WithGrace(c.Segment.Grace), procrun.WithKillWait(c.Segment.KillWait))
}

// PipelineRunner returns a process runner with the pipeline mode timings.
func (c *Config) PipelineRunner() *procrun.Runner {
	return procrun.NewRunner(procrun.WithGrace(c.Pipeline.Grace), procrun.WithKillWait(c.Pipeline.KillWait))
}

// Compile converts the configuration into a decoder grammar.
func (g Grammar) Compile() (lineproto.Grammar, error) {
	out := lineproto.Grammar{
		FailurePrefix:  g.Failure,
		SuccessPrefix:  g.Success,
		EntityPrefix:   g.Entity,
		ProgressPrefix: g.Progress,
	}

	for _, lp := range []lineproto.LevelPrefix{
		{Prefix: g.Error, Level: progress.LevelError},
		{Prefix: g.Warning, Level: progress.LevelWarning},
		{Prefix: g.Log, Level: progress.LevelInfo},
		{Prefix: g.Debug, Level: progress.LevelDebug},
	} {
		if lp.Prefix != "" {
			out.LogPrefixes = append(out.LogPrefixes, lp)
		}
	}

	if g.EntityPattern != "" {
		re, err := regexp.Compile(g.EntityPattern)
		if err != nil {
			return lineproto.Grammar{}, errors.Join(ErrInvalidEntityPattern, err)
		}

		out.EntityPattern = re
	}

	if err := out.Validate(); err != nil {
		return lineproto.Grammar{}, err
	}

	return out, nil
}
