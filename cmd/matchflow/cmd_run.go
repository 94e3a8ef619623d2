package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matchflow-dev/matchflow/internal/config"
	"github.com/matchflow-dev/matchflow/internal/engine"
	"github.com/matchflow-dev/matchflow/internal/pipeline"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

var (
	runStages     string
	runResume     bool
	runNoProgress bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the configured pipeline stages in order",
	Long: `Runs the pipeline from the project configuration: verify the conda
environment, then execute each selected stage sequentially. The first stage
failure halts the run; later stages never start.

Stage outcomes are recorded in .matchflow/state/ledger.json. With --resume,
stages the ledger records as completed are skipped, and the engine itself
skips micrographs whose result files already exist.`,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runStages, "stages", "", "comma-separated stage subset (match,refine,constrained); default: all")
	runCmd.Flags().BoolVar(&runResume, "resume", false, "skip stages already recorded as completed")
	runCmd.Flags().BoolVar(&runNoProgress, "no-progress", false, "disable the result-file progress watcher")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	names, err := stage.ParseNames(runStages)
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	env, err := activateEnv(ctx, cmd, cfg.Environment.Conda, cfg.Environment.Name)
	if err != nil {
		return err
	}

	invoker := engine.NewExecInvoker(env,
		engine.WithPython(cfg.Engine.Python),
		engine.WithLogger(logger),
	)
	runner := stage.NewRunner(invoker,
		stage.WithLogger(logger),
		stage.WithProgressWatcher(!runNoProgress),
	)

	ledger, err := openLedger(config.LedgerPath(workdir), names, runResume)
	if err != nil {
		return err
	}
	logger.Info("pipeline starting",
		zap.String("runId", ledger.RunID),
		zap.Bool("resume", runResume),
	)

	p := pipeline.New(runner, cfg.Registry(), cfg.Scripts(), ledger,
		pipeline.WithResume(runResume),
		pipeline.WithLogger(logger),
	)
	return p.Run(ctx, names)
}

// openLedger resumes an existing ledger when asked, otherwise starts fresh.
func openLedger(path string, names []stage.Name, resume bool) (*pipeline.Ledger, error) {
	if resume {
		ledger, err := pipeline.LoadLedger(path)
		if err == nil {
			return ledger, nil
		}
		if !os.IsNotExist(err) {
			return nil, err
		}
	}
	ledger := pipeline.NewLedger(path, names)
	if err := ledger.Save(); err != nil {
		return nil, err
	}
	return ledger, nil
}
