// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package hcl

import (
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"sort"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/matt-FFFFFF/neurorun/internal/phase"
	"github.com/spf13/afero"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// FileExt is the extension of phase definition files.
const FileExt = ".neurorun.hcl"

var (
	// ErrNoPhaseFile is returned when no phase definition file is found in the directory.
	ErrNoPhaseFile = errors.New("no `" + FileExt + "` file found in the specified directory")
	// ErrParsePhaseFile is returned when a phase definition file cannot be parsed.
	ErrParsePhaseFile = errors.New("failed to parse phase definition file")
	// ErrVariableNotSet is returned when a variable has neither a default nor a value.
	ErrVariableNotSet = errors.New("variable has no value")
	// ErrLocalCycle is returned when locals cannot be resolved.
	ErrLocalCycle = errors.New("locals could not be resolved")
	// ErrInvalidTimeout is returned when a phase timeout is not a duration.
	ErrInvalidTimeout = errors.New("invalid phase timeout")
)

// Config is the evaluated content of a phase definition directory.
type Config struct {
	Vars   map[string]cty.Value
	Locals map[string]cty.Value
	Phases phase.Plan
}

// EvalContext returns the context expressions are evaluated in: var.*, local.* and the standard functions.
func (c *Config) EvalContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"var":   objectOrEmpty(c.Vars),
			"local": objectOrEmpty(c.Locals),
		},
		Functions: functions(),
	}
}

// FromVars returns a Config holding only string variables, for evaluating
// expressions when no phase files are in use.
func FromVars(vars map[string]string) *Config {
	c := &Config{
		Vars:   make(map[string]cty.Value, len(vars)),
		Locals: make(map[string]cty.Value),
	}

	for k, v := range vars {
		c.Vars[k] = cty.StringVal(v)
	}

	return c
}

type orderedPhase struct {
	block *phaseBlock
	seq   int
}

// Load reads every *.neurorun.hcl file in dir, in name order. Values in vars
// take precedence over variable defaults and are also available as var.<name>
// when not declared.
func Load(dir string, vars map[string]string) (*Config, error) {
	blocks, err := loadBlocks(dir)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Vars:   make(map[string]cty.Value, len(vars)),
		Locals: make(map[string]cty.Value),
	}

	var (
		result error
		locals hcl.Attributes = make(hcl.Attributes)
		phases []*hclsyntax.Block
	)

	for _, b := range blocks {
		switch b.Type {
		case variableBlockType:
			var v variableBlock
			if diags := gohcl.DecodeBody(b.Body, nil, &v); diags.HasErrors() {
				result = multierror.Append(result, diags.Errs()...)
				continue
			}

			v.Name = b.Labels[0]
			if v.Default.IsNull() {
				if _, ok := vars[v.Name]; !ok {
					result = multierror.Append(result, fmt.Errorf("%w: %s at %s", ErrVariableNotSet, v.Name, b.DefRange()))
					continue
				}
			}

			cfg.Vars[v.Name] = v.Default
		case localsBlockType:
			attrs, diags := b.Body.JustAttributes()
			if diags.HasErrors() {
				result = multierror.Append(result, diags.Errs()...)
				continue
			}

			maps.Copy(locals, attrs)
		case phaseBlockType:
			phases = append(phases, b)
		default:
			result = multierror.Append(result, NewErrInvalidBlockType(b.Type, b.DefRange()))
		}
	}

	for k, v := range vars {
		cfg.Vars[k] = cty.StringVal(v)
	}

	if result != nil {
		return nil, errors.Join(ErrParsePhaseFile, result)
	}

	if err := cfg.resolveLocals(locals); err != nil {
		return nil, errors.Join(ErrParsePhaseFile, err)
	}

	ectx := cfg.EvalContext()
	ordered := make([]orderedPhase, 0, len(phases))

	for i, b := range phases {
		var p phaseBlock
		if diags := gohcl.DecodeBody(b.Body, ectx, &p); diags.HasErrors() {
			result = multierror.Append(result, diags.Errs()...)
			continue
		}

		p.Name = b.Labels[0]
		ordered = append(ordered, orderedPhase{block: &p, seq: i})
	}

	if result != nil {
		return nil, errors.Join(ErrParsePhaseFile, result)
	}

	// Phases with an explicit order come first, by order; the rest keep file order.
	sort.SliceStable(ordered, func(i, j int) bool {
		oi, oj := ordered[i].block.Order, ordered[j].block.Order
		switch {
		case oi != nil && oj != nil:
			return *oi < *oj
		case oi != nil:
			return true
		case oj != nil:
			return false
		default:
			return ordered[i].seq < ordered[j].seq
		}
	})

	for _, o := range ordered {
		d, err := o.block.descriptor()
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}

		cfg.Phases = append(cfg.Phases, d)
	}

	if result != nil {
		return nil, errors.Join(ErrParsePhaseFile, result)
	}

	if err := cfg.Phases.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (p *phaseBlock) descriptor() (phase.Descriptor, error) {
	d := phase.Descriptor{
		Name:        p.Name,
		Description: p.Description,
		Executable:  p.Executable,
		Args:        p.Args,
		OutputDir:   p.OutputDir,
		Env:         p.Env,
	}

	if p.Timeout != "" {
		t, err := time.ParseDuration(p.Timeout)
		if err != nil || t < 0 {
			return phase.Descriptor{}, fmt.Errorf("%w: phase %s: %q", ErrInvalidTimeout, p.Name, p.Timeout)
		}

		d.Timeout = t
	}

	return d, nil
}

// resolveLocals evaluates locals repeatedly until every one has a value, so
// locals may refer to each other in any order.
func (c *Config) resolveLocals(attrs hcl.Attributes) error {
	pending := slices.Sorted(maps.Keys(attrs))

	for len(pending) > 0 {
		var (
			next  []string
			diags hcl.Diagnostics
		)

		ectx := c.EvalContext()

		for _, name := range pending {
			v, d := attrs[name].Expr.Value(ectx)
			if d.HasErrors() {
				next = append(next, name)
				diags = append(diags, d...)

				continue
			}

			c.Locals[name] = v
		}

		if len(next) == len(pending) {
			return errors.Join(fmt.Errorf("%w: %v", ErrLocalCycle, next), diags)
		}

		pending = next
	}

	return nil
}

func loadBlocks(dir string) ([]*hclsyntax.Block, error) {
	fs := FsFactory()

	matches, err := afero.Glob(fs, filepath.Join(dir, "*"+FileExt))
	if err != nil {
		return nil, errors.Join(ErrParsePhaseFile, err)
	}

	if len(matches) == 0 {
		return nil, ErrNoPhaseFile
	}

	slices.Sort(matches)

	var blocks []*hclsyntax.Block

	for _, filename := range matches {
		content, fsErr := afero.ReadFile(fs, filename)
		if fsErr != nil {
			err = multierror.Append(err, fsErr)
			continue
		}

		file, diags := hclsyntax.ParseConfig(content, filename, hcl.InitialPos)
		if diags.HasErrors() {
			err = multierror.Append(err, diags.Errs()...)
			continue
		}

		body, ok := file.Body.(*hclsyntax.Body)
		if !ok {
			continue
		}

		if len(body.Attributes) > 0 {
			for _, a := range body.Attributes {
				err = multierror.Append(err, fmt.Errorf("unexpected attribute %q at %s", a.Name, a.NameRange))
			}
		}

		blocks = append(blocks, body.Blocks...)
	}

	if err != nil {
		return nil, errors.Join(ErrParsePhaseFile, err)
	}

	return blocks, nil
}

func objectOrEmpty(m map[string]cty.Value) cty.Value {
	if len(m) == 0 {
		return cty.EmptyObjectVal
	}

	return cty.ObjectVal(m)
}

func functions() map[string]function.Function {
	return map[string]function.Function{
		"abs":        stdlib.AbsoluteFunc,
		"coalesce":   stdlib.CoalesceFunc,
		"concat":     stdlib.ConcatFunc,
		"contains":   stdlib.ContainsFunc,
		"format":     stdlib.FormatFunc,
		"join":       stdlib.JoinFunc,
		"length":     stdlib.LengthFunc,
		"lower":      stdlib.LowerFunc,
		"max":        stdlib.MaxFunc,
		"merge":      stdlib.MergeFunc,
		"min":        stdlib.MinFunc,
		"replace":    stdlib.ReplaceFunc,
		"split":      stdlib.SplitFunc,
		"substr":     stdlib.SubstrFunc,
		"trimspace":  stdlib.TrimSpaceFunc,
		"trimsuffix": stdlib.TrimSuffixFunc,
		"upper":      stdlib.UpperFunc,
	}
}
