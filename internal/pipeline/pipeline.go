// Package pipeline sequences the three template-matching stages. Stages are
// strictly sequential: exactly one process owns a stage's output directory
// for the run's duration, and a failed stage halts everything after it.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/matchflow-dev/matchflow/internal/engine"
	"github.com/matchflow-dev/matchflow/internal/results"
	"github.com/matchflow-dev/matchflow/internal/stage"
)

// State is the pipeline-level state machine:
// ACTIVATING → MATCH → REFINE → CONSTRAINED → DONE, any failure → FAILED.
type State string

const (
	StateActivating  State = "activating"
	StateMatch       State = "match"
	StateRefine      State = "refine"
	StateConstrained State = "constrained"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

func stateFor(name stage.Name) State {
	switch name {
	case stage.Match:
		return StateMatch
	case stage.Refine:
		return StateRefine
	case stage.Constrained:
		return StateConstrained
	}
	return StateFailed
}

// StageRunner executes a single stage. Satisfied by *stage.Runner.
type StageRunner interface {
	Run(ctx context.Context, spec stage.Spec) error
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithResume skips stages the ledger already records as completed.
func WithResume(resume bool) Option {
	return func(p *Pipeline) { p.resume = resume }
}

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

// Pipeline drives registered stages in canonical order against one ledger.
type Pipeline struct {
	runner   StageRunner
	registry *stage.Registry
	scripts  map[stage.Name]string
	ledger   *Ledger
	log      *zap.Logger
	resume   bool
}

// New assembles a pipeline. The scripts map binds each stage to its engine
// entry point.
func New(runner StageRunner, registry *stage.Registry, scripts map[stage.Name]string, ledger *Ledger, opts ...Option) *Pipeline {
	p := &Pipeline{
		runner:   runner,
		registry: registry,
		scripts:  scripts,
		ledger:   ledger,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p
}

// Run executes the named stages sequentially. The first failure is terminal:
// the ledger transitions to FAILED and later stages never start. Restarting
// is safe because output naming is deterministic; with resume enabled,
// completed stages are skipped.
func (p *Pipeline) Run(ctx context.Context, names []stage.Name) error {
	for _, name := range names {
		if p.resume && p.ledger.StageDone(name) {
			p.log.Info("stage already completed, skipping", zap.String("stage", string(name)))
			continue
		}

		params, err := p.registry.Resolve(name)
		if err != nil {
			return p.fail(name, -1, err)
		}
		script, ok := p.scripts[name]
		if !ok || script == "" {
			return p.fail(name, -1, fmt.Errorf("pipeline: no engine script configured for stage %s", name))
		}

		if err := p.ledger.SetState(stateFor(name)); err != nil {
			return err
		}
		if err := p.ledger.StageStarted(name); err != nil {
			return err
		}

		if err := p.runner.Run(ctx, stage.Spec{Params: params, Script: script}); err != nil {
			return p.fail(name, exitCodeOf(err), err)
		}

		produced, countErr := results.CountWithSuffix(params.OutputDir(), params.ResultSuffix())
		if countErr != nil {
			produced = 0
		}
		if err := p.ledger.StageCompleted(name, produced); err != nil {
			return err
		}
		p.log.Info("stage completed",
			zap.String("stage", string(name)),
			zap.Int("results", produced),
		)
	}
	return p.ledger.SetState(StateDone)
}

func (p *Pipeline) fail(name stage.Name, exitCode int, cause error) error {
	if err := p.ledger.StageFailed(name, exitCode, cause); err != nil {
		p.log.Warn("ledger update failed", zap.Error(err))
	}
	if err := p.ledger.SetState(StateFailed); err != nil {
		p.log.Warn("ledger update failed", zap.Error(err))
	}
	p.log.Error("pipeline halted",
		zap.String("stage", string(name)),
		zap.Error(cause),
	)
	return cause
}

func exitCodeOf(err error) int {
	var execErr *engine.ExecError
	if errors.As(err, &execErr) {
		return execErr.ExitCode
	}
	return -1
}
