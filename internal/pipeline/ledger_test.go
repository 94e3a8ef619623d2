package pipeline

import (
	"errors"
	"io/fs"
	"path/filepath"
	"testing"

	"github.com/matchflow-dev/matchflow/internal/stage"
)

func TestLedgerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "ledger.json")
	l := NewLedger(path, stage.Order)
	if l.RunID == "" {
		t.Fatal("run id not assigned")
	}
	if err := l.StageStarted(stage.Match); err != nil {
		t.Fatalf("StageStarted: %v", err)
	}
	if err := l.StageCompleted(stage.Match, 42); err != nil {
		t.Fatalf("StageCompleted: %v", err)
	}
	if err := l.SetState(StateRefine); err != nil {
		t.Fatalf("SetState: %v", err)
	}

	loaded, err := LoadLedger(path)
	if err != nil {
		t.Fatalf("LoadLedger: %v", err)
	}
	if loaded.RunID != l.RunID {
		t.Fatalf("run id = %q, want %q", loaded.RunID, l.RunID)
	}
	if loaded.State != StateRefine {
		t.Fatalf("state = %s", loaded.State)
	}
	if !loaded.StageDone(stage.Match) {
		t.Fatal("match not recorded as completed")
	}
	rec := findRecord(t, loaded, stage.Match)
	if rec.Results != 42 || rec.StartedAt == "" || rec.FinishedAt == "" {
		t.Fatalf("match record = %+v", rec)
	}
}

func TestLoadLedgerMissingFile(t *testing.T) {
	_, err := LoadLedger(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("err = %v, want fs.ErrNotExist", err)
	}
}

func TestLedgerStageFailedRecordsCause(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := NewLedger(path, stage.Order)
	if err := l.StageFailed(stage.Constrained, 2, errors.New("engine blew up")); err != nil {
		t.Fatalf("StageFailed: %v", err)
	}
	rec := findRecord(t, l, stage.Constrained)
	if rec.Status != StageFailed || rec.ExitCode != 2 || rec.Error == "" {
		t.Fatalf("record = %+v", rec)
	}
	if l.StageDone(stage.Constrained) {
		t.Fatal("failed stage reported as done")
	}
}

func TestLedgerRestartClearsFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.json")
	l := NewLedger(path, stage.Order)
	if err := l.StageFailed(stage.Match, 1, errors.New("boom")); err != nil {
		t.Fatalf("StageFailed: %v", err)
	}
	if err := l.StageStarted(stage.Match); err != nil {
		t.Fatalf("StageStarted: %v", err)
	}
	rec := findRecord(t, l, stage.Match)
	if rec.Status != StageRunning || rec.Error != "" || rec.FinishedAt != "" {
		t.Fatalf("record after restart = %+v", rec)
	}
}
