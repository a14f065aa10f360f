// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package hcl loads phase definitions from *.neurorun.hcl files.
//
// A directory may hold any number of files. Each may declare variables,
// locals and phases:
//
//	variable "python" {
//	  default = "python3"
//	}
//
//	locals {
//	  scripts = "/opt/neurorun/deep_learning"
//	}
//
//	phase "preprocess" {
//	  order      = 4
//	  executable = var.python
//	  args       = ["${local.scripts}/preprocess.py", "--data", "{{.PrevOut}}", "--results", "{{.Out}}"]
//	  timeout    = "30m"
//	}
//
// HCL expressions are evaluated once at load time. The {{ }} placeholders are
// phase templates rendered per item when the phase runs.
package hcl
