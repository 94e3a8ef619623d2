// internal/tui/status.go
//
// Live status board for a pipeline run. It follows The Elm Architecture via
// bubbletea: the model holds the last ledger snapshot plus per-stage result
// counts, a tick message reloads both from disk, and View renders the board.
// The board is an observer: it never mutates the ledger or touches the engine.

package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/matchflow-dev/matchflow/internal/pipeline"
	"github.com/matchflow-dev/matchflow/internal/results"
)

const refreshInterval = 2 * time.Second

var (
	titleStyle        = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	styleCompleted    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	styleFailed       = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	styleRunning      = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801")).Bold(true)
	stylePending      = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	styleDetail       = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
	styleHelp         = lipgloss.NewStyle().Foreground(lipgloss.Color("#666666"))
	statusStyleByName = map[pipeline.StageStatus]lipgloss.Style{
		pipeline.StageCompleted: styleCompleted,
		pipeline.StageFailed:    styleFailed,
		pipeline.StageRunning:   styleRunning,
		pipeline.StagePending:   stylePending,
	}
)

// StageTarget tells the board where one stage writes its results and how many
// micrographs it is expected to cover.
type StageTarget struct {
	Name      string
	OutputDir string
	Suffix    string
	Total     int
}

type stageSnapshot struct {
	record pipeline.StageRecord
	count  int
	total  int
}

type snapshot struct {
	ledger *pipeline.Ledger
	stages []stageSnapshot
	err    error
}

type tickMsg time.Time

// Model is the status board's bubbletea model.
type Model struct {
	ledgerPath string
	targets    []StageTarget
	bars       map[string]progress.Model

	snap   snapshot
	loaded bool
	width  int
}

// NewModel builds a status board for the ledger at ledgerPath covering the
// given stage targets, in pipeline order.
func NewModel(ledgerPath string, targets []StageTarget) Model {
	bars := make(map[string]progress.Model, len(targets))
	for _, t := range targets {
		bar := progress.New(progress.WithDefaultGradient())
		bar.Width = 30
		bars[t.Name] = bar
	}
	return Model{ledgerPath: ledgerPath, targets: targets, bars: bars}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load, tick())
}

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// load reads the ledger and per-stage result counts off the event loop.
func (m Model) load() tea.Msg {
	snap := snapshot{}
	ledger, err := pipeline.LoadLedger(m.ledgerPath)
	if err != nil {
		if os.IsNotExist(err) {
			// No run recorded yet; render an empty board.
			return snap
		}
		snap.err = err
		return snap
	}
	snap.ledger = ledger
	for _, target := range m.targets {
		entry := stageSnapshot{total: target.Total}
		for _, rec := range ledger.Stages {
			if rec.Name == target.Name {
				entry.record = rec
				break
			}
		}
		if entry.record.Name == "" {
			entry.record = pipeline.StageRecord{Name: target.Name, Status: pipeline.StagePending}
		}
		n, err := results.CountWithSuffix(target.OutputDir, target.Suffix)
		if err == nil {
			entry.count = n
		}
		snap.stages = append(snap.stages, entry)
	}
	return snap
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case snapshot:
		m.snap = msg
		m.loaded = true
		return m, nil
	case tickMsg:
		return m, tea.Batch(m.load, tick())
	case tea.WindowSizeMsg:
		m.width = msg.Width
		return m, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, m.load
		}
	}
	return m, nil
}

func (m Model) View() string {
	if !m.loaded {
		return "Loading run state…"
	}
	if m.snap.err != nil {
		return fmt.Sprintf("Status error: %v", m.snap.err)
	}
	lines := []string{titleStyle.Render("⬡ MATCHFLOW"), ""}
	if m.snap.ledger == nil {
		lines = append(lines, "No run recorded yet. Start one with `matchflow run`.")
	} else {
		lines = append(lines, fmt.Sprintf("Run %s · State: %s · Updated: %s",
			m.snap.ledger.RunID, m.snap.ledger.State, m.snap.ledger.UpdatedAt), "")
		for _, entry := range m.snap.stages {
			lines = append(lines, m.renderStage(entry)...)
		}
	}
	lines = append(lines, "", styleHelp.Render("r=refresh  q=quit"))
	return strings.Join(lines, "\n")
}

func (m Model) renderStage(entry stageSnapshot) []string {
	status := entry.record.Status
	style, ok := statusStyleByName[status]
	if !ok {
		style = stylePending
	}
	header := fmt.Sprintf("%-12s [%s]", entry.record.Name, style.Render(string(status)))

	detail := fmt.Sprintf("results: %d", entry.count)
	if entry.total > 0 {
		detail = fmt.Sprintf("results: %d/%d", entry.count, entry.total)
	}
	if entry.record.Error != "" {
		detail += fmt.Sprintf(" · %s", entry.record.Error)
	}

	lines := []string{header}
	if bar, ok := m.bars[entry.record.Name]; ok && entry.total > 0 {
		pct := float64(entry.count) / float64(entry.total)
		if pct > 1 {
			pct = 1
		}
		lines = append(lines, "  "+bar.ViewAs(pct))
	}
	lines = append(lines, "  "+styleDetail.Render(detail))
	return lines
}

// Run launches the status board and blocks until the user quits.
func Run(ledgerPath string, targets []StageTarget) error {
	_, err := tea.NewProgram(NewModel(ledgerPath, targets)).Run()
	return err
}
