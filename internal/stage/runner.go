package stage

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/matchflow-dev/matchflow/internal/engine"
	"github.com/matchflow-dev/matchflow/internal/results"
)

// Spec pairs a stage's parameters with the engine script that executes it.
type Spec struct {
	Params Params
	Script string
}

// RunnerOption customizes a Runner.
type RunnerOption func(*Runner)

// WithLogger attaches a logger.
func WithLogger(log *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if log != nil {
			r.log = log
		}
	}
}

// WithProgressWatcher toggles the fsnotify progress watcher. Disabled in
// tests and on filesystems that do not deliver events reliably.
func WithProgressWatcher(enabled bool) RunnerOption {
	return func(r *Runner) {
		r.watch = enabled
	}
}

// Runner executes one stage: validate, preflight, then exactly one engine
// invocation with every parameter forwarded verbatim. Iteration over
// micrographs is the engine's job, not the runner's.
type Runner struct {
	invoker engine.Invoker
	log     *zap.Logger
	watch   bool
}

// NewRunner wires a runner to an engine invoker.
func NewRunner(invoker engine.Invoker, opts ...RunnerOption) *Runner {
	r := &Runner{invoker: invoker, log: zap.NewNop(), watch: true}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Run executes the stage to completion. A non-zero engine exit is the
// stage's failure; no partial-results cleanup is attempted.
func (r *Runner) Run(ctx context.Context, spec Spec) error {
	params := spec.Params
	if params == nil {
		return fmt.Errorf("stage: params are required")
	}
	if spec.Script == "" {
		return fmt.Errorf("stage %s: engine script is required", params.Stage())
	}
	if err := params.Validate(); err != nil {
		return err
	}
	if err := params.Preflight(); err != nil {
		return err
	}

	log := r.log.With(zap.String("stage", string(params.Stage())))
	log.Info("stage starting",
		zap.String("script", spec.Script),
		zap.String("output", params.OutputDir()),
	)

	watchCtx, stopWatch := context.WithCancel(ctx)
	defer stopWatch()

	var observed int
	g, gctx := errgroup.WithContext(watchCtx)
	if r.watch {
		if watcher, err := newProgressWatcher(params.OutputDir(), params.ResultSuffix(), log); err != nil {
			log.Warn("progress watcher unavailable", zap.Error(err))
		} else {
			g.Go(func() error {
				observed = watcher.run(gctx)
				return nil
			})
		}
	}

	invokeErr := r.invoker.Invoke(ctx, engine.Invocation{Script: spec.Script, Args: params.Args()})
	stopWatch()
	_ = g.Wait()

	if invokeErr != nil {
		return invokeErr
	}

	produced, err := results.CountWithSuffix(params.OutputDir(), params.ResultSuffix())
	if err != nil {
		produced = observed
	}
	log.Info("stage complete", zap.Int("results", produced))
	return nil
}
