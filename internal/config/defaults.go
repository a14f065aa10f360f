// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package config

import (
	"time"

	"github.com/matt-FFFFFF/neurorun/internal/phase"
)

const (
	defaultSegmentGrace     = 2 * time.Second
	defaultSegmentKillWait  = 1 * time.Second
	defaultPipelineGrace    = 5 * time.Second
	defaultPipelineKillWait = 3 * time.Second
	defaultPipelineExe      = "pipeline_runner"
)

// Default returns the reference configuration: the six phase segmentation
// pipeline and the standard self-reporting protocol.
func Default() *Config {
	return &Config{
		Vars: map[string]string{
			"synthstrip":       "nipreps-synthstrip",
			"synthstrip_model": "models/synthstrip.1.pt",
			"python":           "python3",
			"scripts":          "deep_learning",
			"atlas":            "deep_learning/atlas/T1.nii.gz",
			"brats":            "deep_learning/atlas/brats_ref.nii.gz",
			"checkpoint":       "deep_learning/checkpoints/fold3/epoch=146-dice=88.05.ckpt",
			"predictions":      "predictions_epoch=146-dice=88_05_task=train_fold=0_tta",
		},
		Segment: Segment{
			Grace:    defaultSegmentGrace,
			KillWait: defaultSegmentKillWait,
			Phases:   DefaultPlan(),
		},
		Pipeline: Pipeline{
			Executable: defaultPipelineExe,
			Grace:      defaultPipelineGrace,
			KillWait:   defaultPipelineKillWait,
			Grammar: Grammar{
				Failure:       "FAILED: ",
				Success:       "FINISHED: ",
				Entity:        "PATIENT: ",
				Progress:      "PROGRESS: ",
				Error:         "ERROR: ",
				Warning:       "WARNING: ",
				Log:           "LOG: ",
				Debug:         "DEBUG: ",
				EntityPattern: `sub-[A-Za-z0-9_]+`,
			},
		},
	}
}

// DefaultPlan returns skull strip, coregistration, reorientation,
// preprocessing, inference and postprocessing.
func DefaultPlan() phase.Plan {
	return phase.Plan{
		{
			Name:        "strip",
			Description: "Skull strip with SynthStrip",
			Executable:  "{{.Vars.synthstrip}}",
			Args: []string{
				"-i", "{{.Input}}",
				"-o", "{{.Out}}/{{.BaseName}}_skull_stripped.nii.gz",
				"-g", "--model", "{{.Vars.synthstrip_model}}",
			},
		},
		{
			Name:        "coregister",
			Description: "Coregistration to the atlas",
			Executable:  "{{.Vars.python}}",
			Args: []string{
				"{{.Vars.scripts}}/coregistration.py",
				"--mri", "{{.Input}}",
				"--skull", "{{.PrevOut}}/{{.BaseName}}_skull_stripped.nii.gz",
				"--atlas", "{{.Vars.atlas}}",
				"-o", "{{.Out}}",
			},
		},
		{
			Name:        "reorient",
			Description: "Reorientation to the training space",
			Executable:  "{{.Vars.python}}",
			Args: []string{
				"{{.Vars.scripts}}/reorientation.py",
				"--input", `{{findNifti .PrevOut "_rsl"}}`,
				"--output", "{{.Out}}",
				"--brats", "{{.Vars.brats}}",
				"--basename", "{{.BaseName}}",
			},
		},
		{
			Name:        "preprocess",
			Description: "Preprocessing for inference",
			Executable:  "{{.Vars.python}}",
			Args: []string{
				"{{.Vars.scripts}}/preprocess.py",
				"--data", "{{.PrevOut}}",
				"--results", "{{.Out}}",
				"--ohe",
			},
		},
		{
			Name:        "infer",
			Description: "Deep learning inference",
			Executable:  "{{.Vars.python}}",
			Args: []string{
				"{{.Vars.scripts}}/deep_learning_runner.py",
				"--depth", "6",
				"--filters", "64", "96", "128", "192", "256", "384", "512",
				"--min_fmap", "2",
				"--gpus", "1",
				"--amp",
				"--save_preds",
				"--exec_mode", "predict",
				"--data", "{{.PrevOut}}/val_3d/test",
				"--ckpt_path", "{{.Vars.checkpoint}}",
				"--tta",
				"--results", "{{.Out}}",
			},
		},
		{
			Name:        "postprocess",
			Description: "Postprocessing into the workspace",
			Executable:  "{{.Vars.python}}",
			Args: []string{
				"{{.Vars.scripts}}/postprocess.py",
				"-i", "{{.PrevOut}}/{{.Vars.predictions}}",
				"-o", "{{.Out}}",
				"--w", "{{.Workspace}}",
				"--atlas", "{{.Vars.atlas}}",
				"--brats", "{{.Vars.brats}}",
				"--mri", "{{.Input}}",
			},
		},
	}
}
