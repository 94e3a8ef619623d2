package tui

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/matchflow-dev/matchflow/internal/pipeline"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

func seedLedger(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "ledger.json")
	ledger := pipeline.NewLedger(path, stage.Order)
	if err := ledger.StageCompleted(stage.Match, 3); err != nil {
		t.Fatalf("StageCompleted: %v", err)
	}
	if err := ledger.StageStarted(stage.Refine); err != nil {
		t.Fatalf("StageStarted: %v", err)
	}
	return path
}

func touchResults(t *testing.T, dir, suffix string, n int) {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < n; i++ {
		name := filepath.Join(dir, string(rune('a'+i))+suffix)
		if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func loadModel(t *testing.T, m Model) Model {
	t.Helper()
	updated, _ := m.Update(m.load())
	return updated.(Model)
}

func TestViewShowsStageStatuses(t *testing.T) {
	dir := t.TempDir()
	ledgerPath := seedLedger(t, dir)
	matchOut := filepath.Join(dir, "match")
	touchResults(t, matchOut, "_results.csv", 3)

	m := NewModel(ledgerPath, []StageTarget{
		{Name: "match", OutputDir: matchOut, Suffix: "_results.csv", Total: 3},
		{Name: "refine", OutputDir: filepath.Join(dir, "refine"), Suffix: "_refined_results.csv", Total: 3},
		{Name: "constrained", OutputDir: filepath.Join(dir, "constrained"), Suffix: "_constrained_results.csv", Total: 3},
	})
	view := loadModel(t, m).View()

	for _, want := range []string{"match", "refine", "constrained", "completed", "running", "pending", "3/3", "0/3"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewWithoutLedger(t *testing.T) {
	dir := t.TempDir()
	m := NewModel(filepath.Join(dir, "missing.json"), nil)
	view := loadModel(t, m).View()
	if !strings.Contains(view, "No run recorded yet") {
		t.Fatalf("expected empty-board message, got:\n%s", view)
	}
}

func TestQuitKeys(t *testing.T) {
	m := loadModel(t, NewModel(filepath.Join(t.TempDir(), "ledger.json"), nil))
	for _, key := range []string{"q", "esc", "ctrl+c"} {
		var msg tea.Msg
		switch key {
		case "q":
			msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
		case "esc":
			msg = tea.KeyMsg{Type: tea.KeyEsc}
		case "ctrl+c":
			msg = tea.KeyMsg{Type: tea.KeyCtrlC}
		}
		_, cmd := m.Update(msg)
		if cmd == nil {
			t.Fatalf("expected quit command for %s", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Fatalf("expected QuitMsg for %s", key)
		}
	}
}
