package main

import (
	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

var (
	constrainedCommon          commonFlags
	constrainedEngine          engineFlags
	constrainedLargeResultsDir string
	constrainedSmallResultsDir string
	constrainedTemplateVolume  string
	constrainedLargeSuffix     string
	constrainedSmallSuffix     string
	constrainedFalsePositives  float64
	constrainedFilterNumbers   string
	constrainedErrorLog        string
)

var constrainedCmd = &cobra.Command{
	Use:   "constrained",
	Short: "Run the constrained-search stage",
	Long: `Runs the constrained search on its own: for each micrograph, searches
for the small template around refined large-template positions, joining
<stem> + large suffix from the refine output and <stem> + small suffix from a
small-template match run.`,
	RunE: runConstrained,
}

func init() {
	addCommonFlags(constrainedCmd, &constrainedCommon)
	addEngineFlags(constrainedCmd, &constrainedEngine)
	constrainedCmd.Flags().StringVar(&constrainedLargeResultsDir, "large-results-dir", "", "directory of refined large-template results")
	constrainedCmd.Flags().StringVar(&constrainedSmallResultsDir, "small-results-dir", "", "directory of small-template match results")
	constrainedCmd.Flags().StringVar(&constrainedTemplateVolume, "template-volume", "", "small template volume (MRC)")
	constrainedCmd.Flags().StringVar(&constrainedLargeSuffix, "large-suffix", "", "suffix of the large-template result files")
	constrainedCmd.Flags().StringVar(&constrainedSmallSuffix, "small-suffix", "", "suffix of the small-template result files")
	constrainedCmd.Flags().Float64Var(&constrainedFalsePositives, "false-positives", 0, "expected false positives per micrograph, in (0,1)")
	constrainedCmd.Flags().StringVar(&constrainedFilterNumbers, "filter-numbers", "", "only process micrographs whose stem contains one of these comma-separated numbers")
	constrainedCmd.Flags().StringVar(&constrainedErrorLog, "error-log", "", "file collecting per-micrograph engine errors")
}

func runConstrained(cmd *cobra.Command, args []string) error {
	cfg, err := optionalConfig()
	if err != nil {
		return err
	}
	params := stage.ConstrainedParams{
		Common: stage.Common{
			GPUs:      "0",
			BatchSize: stage.DefaultConstrainedBatch,
			Pattern:   results.DefaultPattern,
			Slice:     stage.NoSlice(),
		},
		LargeSuffix:    results.RefineSuffix,
		SmallSuffix:    results.MatchSuffix,
		FalsePositives: stage.DefaultFalsePositives,
	}
	if cfg != nil {
		params = cfg.ConstrainedParams()
	}
	constrainedCommon.apply(cmd, &params.Common)
	set := cmd.Flags().Changed
	if set("large-results-dir") {
		params.LargeResultsDir = constrainedLargeResultsDir
	}
	if set("small-results-dir") {
		params.SmallResultsDir = constrainedSmallResultsDir
	}
	if set("template-volume") {
		params.TemplateVolume = constrainedTemplateVolume
	}
	if set("large-suffix") {
		params.LargeSuffix = constrainedLargeSuffix
	}
	if set("small-suffix") {
		params.SmallSuffix = constrainedSmallSuffix
	}
	if set("false-positives") {
		params.FalsePositives = constrainedFalsePositives
	}
	if set("filter-numbers") {
		params.FilterNumbers = constrainedFilterNumbers
	}
	if set("error-log") {
		params.ErrorLog = constrainedErrorLog
	}
	return executeStage(cmd, params, constrainedEngine, !constrainedCommon.noProgress)
}
