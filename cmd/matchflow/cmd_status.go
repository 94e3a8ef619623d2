package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/matchflow-dev/matchflow/internal/config"
	"github.com/matchflow-dev/matchflow/internal/pipeline"
	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
	"github.com/matchflow-dev/matchflow/internal/tui"
)

var statusPlain bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the last run's per-stage status and result counts",
	Long: `Opens a live status board for the current project's run ledger,
refreshing result counts as the engine writes files. With --plain, prints a
one-shot text summary instead (for logs and non-interactive shells).`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusPlain, "plain", false, "print a one-shot text summary instead of the live board")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ledgerPath := config.LedgerPath(workdir)
	targets := statusTargets()
	if statusPlain {
		return printStatus(cmd, ledgerPath, targets)
	}
	return tui.Run(ledgerPath, targets)
}

// statusTargets derives each stage's output location from the configuration.
// Without a config the board still shows ledger state, just no file counts.
func statusTargets() []tui.StageTarget {
	cfg, err := optionalConfig()
	if err != nil || cfg == nil {
		return nil
	}
	total := 0
	if stems, err := results.Stems(cfg.MicrographsDir, cfg.Pattern); err == nil {
		total = len(stems)
	}
	var targets []tui.StageTarget
	for _, params := range []stage.Params{
		cfg.MatchParams(), cfg.RefineParams(), cfg.ConstrainedParams(),
	} {
		targets = append(targets, tui.StageTarget{
			Name:      string(params.Stage()),
			OutputDir: params.OutputDir(),
			Suffix:    params.ResultSuffix(),
			Total:     total,
		})
	}
	return targets
}

func printStatus(cmd *cobra.Command, ledgerPath string, targets []tui.StageTarget) error {
	out := cmd.OutOrStdout()
	ledger, err := pipeline.LoadLedger(ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			fmt.Fprintln(out, "No run recorded yet.")
			return nil
		}
		return err
	}
	fmt.Fprintf(out, "Run:     %s\n", ledger.RunID)
	fmt.Fprintf(out, "State:   %s\n", ledger.State)
	fmt.Fprintf(out, "Updated: %s\n\n", ledger.UpdatedAt)

	counts := map[string]string{}
	for _, target := range targets {
		if n, err := results.CountWithSuffix(target.OutputDir, target.Suffix); err == nil {
			if target.Total > 0 {
				counts[target.Name] = fmt.Sprintf("%d/%d", n, target.Total)
			} else {
				counts[target.Name] = fmt.Sprintf("%d", n)
			}
		}
	}
	for _, rec := range ledger.Stages {
		line := fmt.Sprintf("%-12s %-10s", rec.Name, rec.Status)
		if c, ok := counts[rec.Name]; ok {
			line += fmt.Sprintf(" results: %s", c)
		}
		if rec.Error != "" {
			line += fmt.Sprintf(" error: %s", rec.Error)
		}
		fmt.Fprintln(out, line)
	}
	return nil
}
