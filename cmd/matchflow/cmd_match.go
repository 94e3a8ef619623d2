package main

import (
	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

var (
	matchCommon  commonFlags
	matchEngine  engineFlags
	matchCTFsDir string
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Run the full-orientation template match stage",
	Long: `Runs the match stage on its own: one engine invocation over the
micrograph directory, writing one <stem>_results.csv per micrograph.

Values come from the project configuration when present; flags override.
On cluster nodes without a config, pass all required paths as flags.`,
	RunE: runMatch,
}

func init() {
	addCommonFlags(matchCmd, &matchCommon)
	addEngineFlags(matchCmd, &matchEngine)
	matchCmd.Flags().StringVar(&matchCTFsDir, "ctfs-dir", "", "directory of per-micrograph CTF estimates")
}

func runMatch(cmd *cobra.Command, args []string) error {
	cfg, err := optionalConfig()
	if err != nil {
		return err
	}
	params := stage.MatchParams{
		Common: stage.Common{
			GPUs:      "0",
			BatchSize: stage.DefaultMatchBatch,
			Pattern:   results.DefaultPattern,
			Slice:     stage.NoSlice(),
		},
	}
	if cfg != nil {
		params = cfg.MatchParams()
	}
	matchCommon.apply(cmd, &params.Common)
	if cmd.Flags().Changed("ctfs-dir") {
		params.CTFsDir = matchCTFsDir
	}
	return executeStage(cmd, params, matchEngine, !matchCommon.noProgress)
}
