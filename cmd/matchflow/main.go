// cmd/matchflow/main.go
//
// Entry point for the matchflow CLI. The binary drives a three-stage
// template-matching pipeline (match → refine → constrained) by delegating
// each stage to the external engine inside a verified conda environment.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/matchflow-dev/matchflow/internal/config"
	"github.com/matchflow-dev/matchflow/internal/logging"
)

var (
	// Global flags
	workdir string
	cfgPath string
	verbose bool

	// Logger, initialized per invocation
	logger   *zap.Logger
	closeLog func()
)

var rootCmd = &cobra.Command{
	Use:   "matchflow",
	Short: "matchflow - batch template matching pipeline driver",
	Long: `matchflow sequences high-resolution 2D template matching over a
micrograph collection in three stages:

  match        full-orientation template search per micrograph
  refine       local refinement of match peaks
  constrained  constrained search around refined large-template positions

Each stage delegates the heavy lifting to the Python engine inside a conda
environment; matchflow verifies the environment, forwards stage parameters
verbatim, and records per-stage outcomes in .matchflow/state for resume.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workdir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolve working directory: %w", err)
			}
			workdir = cwd
		}
		abs, err := filepath.Abs(workdir)
		if err != nil {
			return fmt.Errorf("resolve workdir %q: %w", workdir, err)
		}
		workdir = abs
		if err := config.InitWorkdir(workdir); err != nil {
			return fmt.Errorf("initialize %s: %w", config.WorkDirName, err)
		}
		logger, closeLog, err = logging.New(config.LogsDir(workdir), verbose)
		if err != nil {
			return err
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			closeLog()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&workdir, "workdir", "w", "", "project directory (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "pipeline configuration file (default: <workdir>/.matchflow/pipeline.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug output on the console")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(refineCmd)
	rootCmd.AddCommand(constrainedCmd)
	rootCmd.AddCommand(envCmd)
	rootCmd.AddCommand(statusCmd)
}

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	return config.DefaultConfigPath(workdir)
}

func loadConfig() (*config.PipelineConfig, error) {
	return config.Load(configPath())
}

// optionalConfig loads the pipeline configuration when the file exists.
// Single-stage commands can run entirely from flags on cluster nodes where
// no project configuration is checked out.
func optionalConfig() (*config.PipelineConfig, error) {
	if _, err := os.Stat(configPath()); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return loadConfig()
}

// signalContext cancels on SIGINT/SIGTERM so an interrupted run kills the
// engine subprocess instead of orphaning it.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
