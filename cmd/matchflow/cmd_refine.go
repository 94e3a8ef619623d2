package main

import (
	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

var (
	refineCommon          commonFlags
	refineEngine          engineFlags
	refineMatchResultsDir string
	refineTemplateVolume  string
	refineResultsSuffix   string
	refineFilterNumbers   string
)

var refineCmd = &cobra.Command{
	Use:   "refine",
	Short: "Run the match-refinement stage",
	Long: `Runs the refine stage on its own: local refinement of match peaks,
joining each micrograph to its <stem>_results.csv from the match stage and
writing <stem>_refined_results.csv.`,
	RunE: runRefine,
}

func init() {
	addCommonFlags(refineCmd, &refineCommon)
	addEngineFlags(refineCmd, &refineEngine)
	refineCmd.Flags().StringVar(&refineMatchResultsDir, "match-results-dir", "", "directory holding match stage results")
	refineCmd.Flags().StringVar(&refineTemplateVolume, "template-volume", "", "template volume (MRC)")
	refineCmd.Flags().StringVar(&refineResultsSuffix, "results-suffix", "", "suffix of the match result files")
	refineCmd.Flags().StringVar(&refineFilterNumbers, "filter-numbers", "", "only process micrographs whose stem contains one of these comma-separated numbers")
}

func runRefine(cmd *cobra.Command, args []string) error {
	cfg, err := optionalConfig()
	if err != nil {
		return err
	}
	params := stage.RefineParams{
		Common: stage.Common{
			GPUs:      "0",
			BatchSize: stage.DefaultRefineBatch,
			Pattern:   results.DefaultPattern,
			Slice:     stage.NoSlice(),
		},
		ResultsSuffix: results.MatchSuffix,
	}
	if cfg != nil {
		params = cfg.RefineParams()
	}
	refineCommon.apply(cmd, &params.Common)
	set := cmd.Flags().Changed
	if set("match-results-dir") {
		params.MatchResultsDir = refineMatchResultsDir
	}
	if set("template-volume") {
		params.TemplateVolume = refineTemplateVolume
	}
	if set("results-suffix") {
		params.ResultsSuffix = refineResultsSuffix
	}
	if set("filter-numbers") {
		params.FilterNumbers = refineFilterNumbers
	}
	return executeStage(cmd, params, refineEngine, !refineCommon.noProgress)
}
