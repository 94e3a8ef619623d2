package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/config"
)

// initCmd seeds the .matchflow workspace. The directory structure is also
// created lazily by every command; init exists so users get a config template
// to edit before the first run.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .matchflow workspace and config template",
	RunE: func(cmd *cobra.Command, args []string) error {
		// PersistentPreRunE already created the workspace.
		fmt.Fprintf(cmd.OutOrStdout(), "Workspace ready at %s\n", config.WorkDir(workdir))
		fmt.Fprintf(cmd.OutOrStdout(), "Edit %s before running the pipeline.\n", config.DefaultConfigPath(workdir))
		return nil
	},
}
