// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package phase

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
	"github.com/matt-FFFFFF/neurorun/internal/procrun"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestExecutor_CreatesOutputAndRendersEnv(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	scratch := t.TempDir()
	out := filepath.Join(scratch, "01_strip")

	e := NewExecutor(procrun.NewRunner())
	rec := &recorder{}

	res := e.Execute(ctx, Invocation{
		Index: 1,
		Phase: Descriptor{
			Name:       "strip",
			Executable: "/bin/sh",
			Args:       []string{"-c", `echo "$MODEL" > "{{.Out}}/model.txt"; pwd`},
			Env:        map[string]string{"MODEL": "{{.Vars.model}}"},
		},
		Data: TemplateData{
			Scratch: scratch,
			Out:     out,
			Vars:    map[string]string{"model": "unet3d"},
		},
	}, rec)

	require.True(t, res.Success(), "err: %v", res.Err)
	assert.Equal(t, "/bin/sh", res.Path)
	assert.Equal(t, 0, res.Process.ExitCode)

	b, err := os.ReadFile(filepath.Join(out, "model.txt"))
	require.NoError(t, err)
	assert.Equal(t, "unet3d\n", string(b))

	wd, err := filepath.EvalSymlinks(scratch)
	require.NoError(t, err)

	logs := rec.logs()
	require.Len(t, logs, 1)
	gotWd, err := filepath.EvalSymlinks(logs[0][len("[strip] "):])
	require.NoError(t, err)
	assert.Equal(t, wd, gotWd, "phase runs in the scratch directory")
}

func TestExecutor_NonZeroExit(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	e := NewExecutor(procrun.NewRunner())
	rec := &recorder{}

	res := e.Execute(ctx, Invocation{
		Index: 4,
		Phase: Descriptor{Name: "preprocess", Executable: "/bin/sh", Args: []string{"-c", "exit 7"}},
		Data:  TemplateData{Scratch: t.TempDir()},
	}, rec)

	assert.False(t, res.Success())
	assert.False(t, res.Cancelled())
	require.ErrorIs(t, res.Err, ErrPhaseFailed)
	assert.Equal(t, 7, res.Process.ExitCode)
	assert.Equal(t, []string{"[preprocess] Failed with exit code 7"}, rec.logs())
}

func TestExecutor_SearchDirsBeforePath(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	dir := t.TempDir()
	script := filepath.Join(dir, "synthstrip")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho bundled \"$@\"\n"), 0o755))

	ctx := ctxlog.New(t.Context(), nil)
	e := NewExecutor(procrun.NewRunner(), dir)
	rec := &recorder{}

	res := e.Execute(ctx, Invocation{
		Index: 1,
		Phase: Descriptor{Name: "strip", Executable: "synthstrip", Args: []string{"-i", "{{.Input}}"}},
		Data:  TemplateData{Input: "/data/a.nii", Scratch: t.TempDir()},
	}, rec)

	require.True(t, res.Success(), "err: %v", res.Err)
	assert.Equal(t, script, res.Path)
	assert.Equal(t, []string{"-i", "/data/a.nii"}, res.Args)
	assert.Equal(t, []string{"[strip] bundled -i /data/a.nii"}, rec.logs())
}

func TestExecutor_Timeout(t *testing.T) {
	skipWindows(t)
	defer goleak.VerifyNone(t)

	ctx := ctxlog.New(t.Context(), nil)
	e := NewExecutor(procrun.NewRunner(procrun.WithGrace(time.Second)))
	rec := &recorder{}

	res := e.Execute(ctx, Invocation{
		Index: 5,
		Phase: Descriptor{Name: "infer", Executable: "/bin/sh", Args: []string{"-c", "exec sleep 10"}, Timeout: 50 * time.Millisecond},
		Data:  TemplateData{Scratch: t.TempDir()},
	}, rec)

	require.ErrorIs(t, res.Err, procrun.ErrTimeoutExceeded)
	assert.False(t, res.Cancelled(), "a timeout is a failure, not a cancel")
	require.NotEmpty(t, rec.logs())
	assert.Contains(t, rec.logs()[len(rec.logs())-1], "timed out")
}
