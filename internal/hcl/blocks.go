// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package hcl

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

const (
	variableBlockType = "variable"
	localsBlockType   = "locals"
	phaseBlockType    = "phase"
)

// ErrInvalidBlockType represents an error for an unknown block type.
type ErrInvalidBlockType struct {
	BlockType string
	Range     hcl.Range
}

// NewErrInvalidBlockType creates a new ErrInvalidBlockType with the specified block type and range.
func NewErrInvalidBlockType(blockType string, r hcl.Range) *ErrInvalidBlockType {
	return &ErrInvalidBlockType{
		BlockType: blockType,
		Range:     r,
	}
}

// Error implements the error interface for ErrInvalidBlockType.
func (e *ErrInvalidBlockType) Error() string {
	return fmt.Sprintf("invalid block type: %s at %s", e.BlockType, e.Range.String())
}

type variableBlock struct {
	Name        string    `hcl:"name,label"`
	Description string    `hcl:"description,optional"`
	Default     cty.Value `hcl:"default,optional"`
}

type phaseBlock struct {
	Name        string            `hcl:"name,label"`
	Order       *int              `hcl:"order,optional"`
	Description string            `hcl:"description,optional"`
	Executable  string            `hcl:"executable"`
	Args        []string          `hcl:"args,optional"`
	OutputDir   string            `hcl:"output_dir,optional"`
	Timeout     string            `hcl:"timeout,optional"`
	Env         map[string]string `hcl:"env,optional"`
}
