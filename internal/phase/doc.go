// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package phase runs the chained per-item workflow: an ordered list of external
// phases where each phase reads the previous phase's output directory and writes
// its own, all inside a scratch directory owned by the item.
package phase
