package pipeline

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/matchflow-dev/matchflow/internal/stage"
)

// StageStatus tracks one stage's lifecycle inside a run.
type StageStatus string

const (
	StagePending   StageStatus = "pending"
	StageRunning   StageStatus = "running"
	StageCompleted StageStatus = "completed"
	StageFailed    StageStatus = "failed"
)

// StageRecord is the persisted per-stage entry.
type StageRecord struct {
	Name       string      `json:"name"`
	Status     StageStatus `json:"status"`
	StartedAt  string      `json:"startedAt,omitempty"`
	FinishedAt string      `json:"finishedAt,omitempty"`
	ExitCode   int         `json:"exitCode"`
	Results    int         `json:"results"`
	Error      string      `json:"error,omitempty"`
}

// Ledger is the persisted run state. It lives in the workspace state
// directory so a failed run can be resumed from the failed stage; result
// files themselves are never recorded here, only stage outcomes.
type Ledger struct {
	RunID     string        `json:"runId"`
	State     State         `json:"state"`
	UpdatedAt string        `json:"updatedAt"`
	Stages    []StageRecord `json:"stages"`

	path string
}

// NewLedger starts a fresh ledger for a run covering the given stages.
func NewLedger(path string, names []stage.Name) *Ledger {
	l := &Ledger{
		RunID: uuid.NewString(),
		State: StateActivating,
		path:  path,
	}
	for _, name := range names {
		l.Stages = append(l.Stages, StageRecord{Name: string(name), Status: StagePending})
	}
	return l
}

// LoadLedger reads a previously persisted ledger.
func LoadLedger(path string) (*Ledger, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l Ledger
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("pipeline: parse ledger %s: %w", path, err)
	}
	l.path = path
	return &l, nil
}

// Path returns the ledger's on-disk location.
func (l *Ledger) Path() string { return l.path }

// Save persists the ledger, creating the state directory as needed.
func (l *Ledger) Save() error {
	if l.path == "" {
		return fmt.Errorf("pipeline: ledger has no path")
	}
	l.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(l.path, data, 0o644)
}

// SetState updates the pipeline-level state and persists.
func (l *Ledger) SetState(state State) error {
	l.State = state
	return l.Save()
}

func (l *Ledger) record(name stage.Name) *StageRecord {
	for i := range l.Stages {
		if l.Stages[i].Name == string(name) {
			return &l.Stages[i]
		}
	}
	l.Stages = append(l.Stages, StageRecord{Name: string(name), Status: StagePending})
	return &l.Stages[len(l.Stages)-1]
}

// StageStarted marks a stage running.
func (l *Ledger) StageStarted(name stage.Name) error {
	rec := l.record(name)
	rec.Status = StageRunning
	rec.StartedAt = time.Now().UTC().Format(time.RFC3339)
	rec.FinishedAt = ""
	rec.Error = ""
	return l.Save()
}

// StageCompleted marks a stage done with its result count.
func (l *Ledger) StageCompleted(name stage.Name, resultCount int) error {
	rec := l.record(name)
	rec.Status = StageCompleted
	rec.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	rec.ExitCode = 0
	rec.Results = resultCount
	return l.Save()
}

// StageFailed marks a stage failed with the engine exit code.
func (l *Ledger) StageFailed(name stage.Name, exitCode int, cause error) error {
	rec := l.record(name)
	rec.Status = StageFailed
	rec.FinishedAt = time.Now().UTC().Format(time.RFC3339)
	rec.ExitCode = exitCode
	if cause != nil {
		rec.Error = cause.Error()
	}
	return l.Save()
}

// StageDone reports whether the ledger records the stage as completed, which
// is what resume uses to skip finished work.
func (l *Ledger) StageDone(name stage.Name) bool {
	for _, rec := range l.Stages {
		if rec.Name == string(name) {
			return rec.Status == StageCompleted
		}
	}
	return false
}
