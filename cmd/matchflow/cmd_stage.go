package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matchflow-dev/matchflow/internal/condaenv"
	"github.com/matchflow-dev/matchflow/internal/engine"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

// engineFlags select the execution environment for a single-stage command.
// Empty values fall back to the project configuration when one exists.
type engineFlags struct {
	envName string
	conda   string
	python  string
	script  string
}

func addEngineFlags(cmd *cobra.Command, f *engineFlags) {
	cmd.Flags().StringVar(&f.envName, "env", "", "conda environment name")
	cmd.Flags().StringVar(&f.conda, "conda", "", "conda binary")
	cmd.Flags().StringVar(&f.python, "python", "", "python command inside the environment")
	cmd.Flags().StringVar(&f.script, "script", "", "engine script path")
}

// commonFlags mirror the parameters every engine stage accepts. Slice flags
// exist for SLURM array jobs that partition the micrograph list.
type commonFlags struct {
	micrographsDir string
	templateYAML   string
	outputDir      string
	gpus           string
	batchSize      int
	pattern        string
	startIdx       int
	endIdx         int
	jobIdx         int
	jobsPerArray   int
	noProgress     bool
}

func addCommonFlags(cmd *cobra.Command, f *commonFlags) {
	cmd.Flags().StringVar(&f.micrographsDir, "micrographs-dir", "", "directory containing micrographs")
	cmd.Flags().StringVar(&f.templateYAML, "template-yaml", "", "engine configuration template (YAML)")
	cmd.Flags().StringVar(&f.outputDir, "output-dir", "", "stage output directory")
	cmd.Flags().StringVar(&f.gpus, "gpus", "", "comma-separated GPU ids")
	cmd.Flags().IntVar(&f.batchSize, "batch-size", 0, "micrographs per engine batch")
	cmd.Flags().StringVar(&f.pattern, "pattern", "", "micrograph glob pattern")
	cmd.Flags().IntVar(&f.startIdx, "start-idx", -1, "first micrograph index to process")
	cmd.Flags().IntVar(&f.endIdx, "end-idx", -1, "micrograph index to stop before")
	cmd.Flags().IntVar(&f.jobIdx, "job-idx", -1, "this job's index within the array")
	cmd.Flags().IntVar(&f.jobsPerArray, "jobs-per-array", -1, "total jobs in the array")
	cmd.Flags().BoolVar(&f.noProgress, "no-progress", false, "disable the result-file progress watcher")
}

// apply overrides the Common fields whose flags were explicitly set.
func (f *commonFlags) apply(cmd *cobra.Command, c *stage.Common) {
	set := cmd.Flags().Changed
	if set("micrographs-dir") {
		c.MicrographsDir = f.micrographsDir
	}
	if set("template-yaml") {
		c.TemplateYAML = f.templateYAML
	}
	if set("output-dir") {
		c.Output = f.outputDir
	}
	if set("gpus") {
		c.GPUs = f.gpus
	}
	if set("batch-size") {
		c.BatchSize = f.batchSize
	}
	if set("pattern") {
		c.Pattern = f.pattern
	}
	if set("start-idx") {
		c.Slice.StartIdx = f.startIdx
	}
	if set("end-idx") {
		c.Slice.EndIdx = f.endIdx
	}
	if set("job-idx") {
		c.Slice.JobIdx = f.jobIdx
	}
	if set("jobs-per-array") {
		c.Slice.JobsPerArray = f.jobsPerArray
	}
}

// activateEnv verifies the conda environment and, on failure, surfaces the
// available environment listing so the operator can correct the name.
func activateEnv(ctx context.Context, cmd *cobra.Command, conda, name string) (*condaenv.Env, error) {
	activator := condaenv.New(conda, condaenv.WithLogger(logger))
	env, err := activator.Activate(ctx, name)
	if err != nil {
		var actErr *condaenv.ActivationError
		if errors.As(err, &actErr) && actErr.Available != "" {
			fmt.Fprintf(cmd.ErrOrStderr(), "Available environments:\n%s\n", actErr.Available)
		}
		return nil, err
	}
	return env, nil
}

// executeStage runs exactly one stage outside the pipeline ledger. This is
// the primitive cluster jobs call; run-level bookkeeping belongs to `run`.
func executeStage(cmd *cobra.Command, params stage.Params, ef engineFlags, watch bool) error {
	cfg, err := optionalConfig()
	if err != nil {
		return err
	}

	envName, conda, python, script := ef.envName, ef.conda, ef.python, ef.script
	if cfg != nil {
		if envName == "" {
			envName = cfg.Environment.Name
		}
		if conda == "" {
			conda = cfg.Environment.Conda
		}
		if python == "" {
			python = cfg.Engine.Python
		}
		if script == "" {
			script = cfg.Scripts()[params.Stage()]
		}
	}
	if envName == "" {
		return fmt.Errorf("no conda environment: set --env or environment.name in %s", configPath())
	}
	if script == "" {
		return fmt.Errorf("no engine script: set --script or engine.scripts_dir in %s", configPath())
	}

	ctx, cancel := signalContext()
	defer cancel()

	env, err := activateEnv(ctx, cmd, conda, envName)
	if err != nil {
		return err
	}
	logger.Info("running single stage",
		zap.String("stage", string(params.Stage())),
		zap.String("env", env.Name),
	)

	invoker := engine.NewExecInvoker(env,
		engine.WithPython(python),
		engine.WithLogger(logger),
	)
	runner := stage.NewRunner(invoker,
		stage.WithLogger(logger),
		stage.WithProgressWatcher(watch),
	)
	return runner.Run(ctx, stage.Spec{Params: params, Script: script})
}
