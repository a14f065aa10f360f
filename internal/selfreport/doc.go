// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package selfreport runs a single long-lived pipeline process that reports
// its own progress on stdout using the tagged line protocol in lineproto.
//
// The process is launched as
//
//	<executable> --config <path> --work-dir <path> --out-dir <path>
//
// and its output is turned into progress, log and entity completion events.
// The package also locates the configuration written by the previous stage
// of the workflow, see FindLatestConfig.
package selfreport
