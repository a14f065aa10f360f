// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package config holds the YAML configuration of neurorun.
//
// A Config is passed explicitly to the components that need it. It can be
// read from a local file or fetched from any go-getter source, see Fetch.
package config
