package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/matchflow-dev/matchflow/internal/engine"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

// scriptedRunner records the stage order and fails on command.
type scriptedRunner struct {
	ran    []stage.Name
	failAt stage.Name
	err    error
}

func (r *scriptedRunner) Run(_ context.Context, spec stage.Spec) error {
	name := spec.Params.Stage()
	r.ran = append(r.ran, name)
	if name == r.failAt {
		return r.err
	}
	return nil
}

// fixture builds params over real temp directories so preflight-independent
// pieces (output counting) behave.
type fixture struct {
	registry *stage.Registry
	scripts  map[stage.Name]string
	ledger   *Ledger
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	root := t.TempDir()

	mkdir := func(name string) string {
		dir := filepath.Join(root, name)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir %s: %v", dir, err)
		}
		return dir
	}
	touch := func(path string) {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("touch %s: %v", path, err)
		}
	}

	micrographs := mkdir("micrographs")
	ctfs := mkdir("ctfs")
	matchOut := mkdir("match_out")
	refineOut := mkdir("refine_out")
	constrainedOut := mkdir("constrained_out")
	touch(filepath.Join(micrographs, "xenon_219_0_DWS.mrc"))
	touch(filepath.Join(ctfs, "xenon_219_0_0.0_diagnostic.txt"))
	matchYAML := filepath.Join(root, "match.yaml")
	refineYAML := filepath.Join(root, "refine.yaml")
	constrainedYAML := filepath.Join(root, "constrained.yaml")
	largeVol := filepath.Join(root, "large.mrc")
	smallVol := filepath.Join(root, "small.mrc")
	for _, p := range []string{matchYAML, refineYAML, constrainedYAML, largeVol, smallVol} {
		touch(p)
	}
	// Prior-stage results so refine and constrained preflights pass even
	// when the fake runner produced nothing.
	touch(filepath.Join(matchOut, "xenon_219_0_DWS_results.csv"))
	touch(filepath.Join(refineOut, "xenon_219_0_DWS_refined_results.csv"))

	common := func(yaml, out string, batch int) stage.Common {
		return stage.Common{
			MicrographsDir: micrographs,
			TemplateYAML:   yaml,
			Output:         out,
			GPUs:           "0,1",
			BatchSize:      batch,
			Pattern:        "*DWS.mrc",
			Slice:          stage.NoSlice(),
		}
	}

	reg := stage.NewRegistry()
	if err := reg.Register(stage.Match, func() (stage.Params, error) {
		return stage.MatchParams{Common: common(matchYAML, matchOut, 8), CTFsDir: ctfs}, nil
	}); err != nil {
		t.Fatalf("register match: %v", err)
	}
	if err := reg.Register(stage.Refine, func() (stage.Params, error) {
		return stage.RefineParams{
			Common:          common(refineYAML, refineOut, 64),
			MatchResultsDir: matchOut,
			TemplateVolume:  largeVol,
			ResultsSuffix:   "_results.csv",
		}, nil
	}); err != nil {
		t.Fatalf("register refine: %v", err)
	}
	if err := reg.Register(stage.Constrained, func() (stage.Params, error) {
		return stage.ConstrainedParams{
			Common:          common(constrainedYAML, constrainedOut, 80),
			LargeResultsDir: refineOut,
			SmallResultsDir: matchOut,
			TemplateVolume:  smallVol,
			LargeSuffix:     "_refined_results.csv",
			SmallSuffix:     "_results.csv",
			FalsePositives:  0.005,
		}, nil
	}); err != nil {
		t.Fatalf("register constrained: %v", err)
	}

	scripts := map[stage.Name]string{
		stage.Match:       "/scripts/process_all_micrographs.py",
		stage.Refine:      "/scripts/process_all_micrographs_refine.py",
		stage.Constrained: "/scripts/process_all_micrographs_constrained.py",
	}
	ledger := NewLedger(filepath.Join(root, "state", "ledger.json"), stage.Order)
	return fixture{registry: reg, scripts: scripts, ledger: ledger}
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	f := newFixture(t)
	runner := &scriptedRunner{}
	p := New(runner, f.registry, f.scripts, f.ledger)

	if err := p.Run(context.Background(), stage.Order); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []stage.Name{stage.Match, stage.Refine, stage.Constrained}
	if len(runner.ran) != len(want) {
		t.Fatalf("ran = %v", runner.ran)
	}
	for i, name := range want {
		if runner.ran[i] != name {
			t.Fatalf("ran = %v, want %v", runner.ran, want)
		}
	}
	if f.ledger.State != StateDone {
		t.Fatalf("state = %s, want done", f.ledger.State)
	}
	for _, name := range want {
		if !f.ledger.StageDone(name) {
			t.Fatalf("stage %s not completed in ledger", name)
		}
	}
}

func TestPipelineHaltsAtFailedStage(t *testing.T) {
	f := newFixture(t)
	runner := &scriptedRunner{
		failAt: stage.Refine,
		err:    &engine.ExecError{Script: "refine.py", ExitCode: 3},
	}
	p := New(runner, f.registry, f.scripts, f.ledger)

	err := p.Run(context.Background(), stage.Order)
	var execErr *engine.ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("err = %v", err)
	}
	for _, name := range runner.ran {
		if name == stage.Constrained {
			t.Fatal("constrained ran after refine failure")
		}
	}
	if f.ledger.State != StateFailed {
		t.Fatalf("state = %s, want failed", f.ledger.State)
	}
	rec := findRecord(t, f.ledger, stage.Refine)
	if rec.Status != StageFailed || rec.ExitCode != 3 {
		t.Fatalf("refine record = %+v", rec)
	}
}

func TestPipelineResumeSkipsCompletedStages(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.StageCompleted(stage.Match, 1); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	runner := &scriptedRunner{}
	p := New(runner, f.registry, f.scripts, f.ledger, WithResume(true))

	if err := p.Run(context.Background(), stage.Order); err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, name := range runner.ran {
		if name == stage.Match {
			t.Fatal("match re-ran despite completed ledger entry")
		}
	}
	if len(runner.ran) != 2 {
		t.Fatalf("ran = %v, want refine+constrained", runner.ran)
	}
}

func TestPipelineWithoutResumeRerunsEverything(t *testing.T) {
	f := newFixture(t)
	if err := f.ledger.StageCompleted(stage.Match, 1); err != nil {
		t.Fatalf("seed ledger: %v", err)
	}
	runner := &scriptedRunner{}
	p := New(runner, f.registry, f.scripts, f.ledger)

	if err := p.Run(context.Background(), stage.Order); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(runner.ran) != 3 {
		t.Fatalf("ran = %v, want all three stages", runner.ran)
	}
}

func TestPipelineRequiresScript(t *testing.T) {
	f := newFixture(t)
	delete(f.scripts, stage.Refine)
	runner := &scriptedRunner{}
	p := New(runner, f.registry, f.scripts, f.ledger)

	if err := p.Run(context.Background(), stage.Order); err == nil {
		t.Fatal("expected missing script error")
	}
	if f.ledger.State != StateFailed {
		t.Fatalf("state = %s", f.ledger.State)
	}
}

func findRecord(t *testing.T, l *Ledger, name stage.Name) StageRecord {
	t.Helper()
	for _, rec := range l.Stages {
		if rec.Name == string(name) {
			return rec
		}
	}
	t.Fatalf("no record for %s", name)
	return StageRecord{}
}
