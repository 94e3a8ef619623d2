package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/condaenv"
)

var (
	envFlagName  string
	envFlagConda string
)

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect conda environments",
}

var envCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the pipeline's conda environment",
	Long: `Runs the same activation probe the pipeline runs before any stage:
resolve the environment's interpreter and report its path and version.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, conda := envFlagName, envFlagConda
		if cfg, err := optionalConfig(); err != nil {
			return err
		} else if cfg != nil {
			if name == "" {
				name = cfg.Environment.Name
			}
			if conda == "" {
				conda = cfg.Environment.Conda
			}
		}
		ctx, cancel := signalContext()
		defer cancel()
		env, err := activateEnv(ctx, cmd, conda, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Environment:  %s\n", env.Name)
		fmt.Fprintf(cmd.OutOrStdout(), "Interpreter:  %s\n", env.Interpreter)
		fmt.Fprintf(cmd.OutOrStdout(), "Python:       %s\n", env.Version)
		return nil
	},
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the conda environments conda knows about",
	RunE: func(cmd *cobra.Command, args []string) error {
		conda := envFlagConda
		if cfg, err := optionalConfig(); err != nil {
			return err
		} else if cfg != nil && conda == "" {
			conda = cfg.Environment.Conda
		}
		ctx, cancel := signalContext()
		defer cancel()
		listing, err := condaenv.New(conda, condaenv.WithLogger(logger)).ListEnvs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), listing)
		return nil
	},
}

func init() {
	envCmd.PersistentFlags().StringVar(&envFlagName, "env", "", "conda environment name")
	envCmd.PersistentFlags().StringVar(&envFlagConda, "conda", "", "conda binary")
	envCmd.AddCommand(envCheckCmd, envListCmd)
}
