// Package engine invokes the external template-matching entry points. The
// engine is a black box: matchflow forwards parameters verbatim, streams its
// output through, and treats the exit status as the stage result.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"

	"go.uber.org/zap"

	"github.com/matchflow-dev/matchflow/internal/condaenv"
)

// Invocation is one delegated engine run: a Python script plus its
// command-line flags, already fully rendered.
type Invocation struct {
	Script string
	Args   []string
}

// Invoker runs a single engine invocation to completion.
type Invoker interface {
	Invoke(ctx context.Context, inv Invocation) error
}

// ExecError reports a non-zero engine exit. The specific code is opaque and
// defined by the engine; matchflow only propagates it.
type ExecError struct {
	Script   string
	ExitCode int
	Err      error
}

func (e *ExecError) Error() string {
	return fmt.Sprintf("engine: %s exited with code %d", e.Script, e.ExitCode)
}

func (e *ExecError) Unwrap() error { return e.Err }

// ExecInvoker runs the engine inside a verified conda environment via
// `conda run`, so the subprocess sees exactly the interpreter the activator
// resolved.
type ExecInvoker struct {
	env    *condaenv.Env
	python string
	log    *zap.Logger
}

// Option customizes an ExecInvoker.
type Option func(*ExecInvoker)

// WithPython overrides the interpreter command inside the environment.
func WithPython(python string) Option {
	return func(i *ExecInvoker) {
		if python != "" {
			i.python = python
		}
	}
}

// WithLogger attaches a logger for invocation audit lines.
func WithLogger(log *zap.Logger) Option {
	return func(i *ExecInvoker) {
		if log != nil {
			i.log = log
		}
	}
}

// NewExecInvoker binds an invoker to a verified environment handle.
func NewExecInvoker(env *condaenv.Env, opts ...Option) *ExecInvoker {
	inv := &ExecInvoker{env: env, python: "python", log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(inv)
		}
	}
	return inv
}

// Invoke runs the script once, streaming stdout/stderr to the parent process
// so cluster job logs capture the engine's own progress output.
func (i *ExecInvoker) Invoke(ctx context.Context, inv Invocation) error {
	if i.env == nil {
		return fmt.Errorf("engine: no verified environment")
	}
	if inv.Script == "" {
		return fmt.Errorf("engine: script path is required")
	}

	argv := []string{"run", "-n", i.env.Name, "--no-capture-output", i.python, inv.Script}
	argv = append(argv, inv.Args...)

	i.log.Info("invoking engine",
		zap.String("env", i.env.Name),
		zap.String("script", inv.Script),
		zap.Strings("args", inv.Args),
	)

	cmd := exec.CommandContext(ctx, i.env.CondaBin, argv...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExecError{Script: inv.Script, ExitCode: exitErr.ExitCode(), Err: err}
		}
		return &ExecError{Script: inv.Script, ExitCode: -1, Err: err}
	}
	return nil
}
