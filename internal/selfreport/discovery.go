// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package selfreport

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/afero"
)

const (
	pipelineDirName    = "pipeline"
	configSuffix       = "_config.json"
	fallbackConfigName = "pipeline_config.json"
	outputSuffix       = "_output"
	entityKeyPrefix    = "sub-"
)

var (
	// ErrNoPipelineConfig is returned when the workspace holds no pipeline configuration.
	ErrNoPipelineConfig = errors.New("no pipeline configuration found")
	// ErrReadPipelineConfig is returned when the pipeline configuration cannot be read or decoded.
	ErrReadPipelineConfig = errors.New("failed to read pipeline configuration")
)

// FindLatestConfig returns <workspace>/pipeline/<id>_config.json with the
// highest numeric id. Files whose prefix is not a number are ignored.
// When there is none, pipeline_config.json is used if it exists.
func FindLatestConfig(workspace string) (string, error) {
	fs := FsFactory()
	dir := filepath.Join(workspace, pipelineDirName)

	matches, err := afero.Glob(fs, filepath.Join(dir, "*"+configSuffix))
	if err != nil {
		return "", errors.Join(ErrNoPipelineConfig, err)
	}

	latest, maxID := "", -1

	for _, m := range matches {
		id, ok := configID(filepath.Base(m))
		if !ok {
			continue
		}

		if id > maxID {
			latest, maxID = m, id
		}
	}

	if latest != "" {
		return latest, nil
	}

	fallback := filepath.Join(dir, fallbackConfigName)

	exists, err := afero.Exists(fs, fallback)
	if err != nil || !exists {
		return "", fmt.Errorf("%w in %s", ErrNoPipelineConfig, dir)
	}

	return fallback, nil
}

// OutputDirFor returns the output directory paired with a configuration file:
// 7_config.json maps to 7_output, pipeline_config.json to pipeline_output.
func OutputDirFor(configPath string) string {
	prefix, _, _ := strings.Cut(filepath.Base(configPath), "_")

	return filepath.Join(filepath.Dir(configPath), prefix+outputSuffix)
}

// SubjectsFromConfig returns the sorted top-level keys of the JSON
// configuration that name a subject (keys starting with "sub-").
func SubjectsFromConfig(path string) ([]string, error) {
	b, err := afero.ReadFile(FsFactory(), path)
	if err != nil {
		return nil, errors.Join(ErrReadPipelineConfig, err)
	}

	var doc map[string]json.RawMessage
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, errors.Join(ErrReadPipelineConfig, err)
	}

	subjects := make([]string, 0, len(doc))

	for k := range doc {
		if strings.HasPrefix(k, entityKeyPrefix) {
			subjects = append(subjects, k)
		}
	}

	slices.Sort(subjects)

	return subjects, nil
}

func configID(name string) (int, bool) {
	prefix, ok := strings.CutSuffix(name, configSuffix)
	if !ok {
		return 0, false
	}

	id, err := strconv.Atoi(prefix)
	if err != nil || id < 0 {
		return 0, false
	}

	return id, true
}
