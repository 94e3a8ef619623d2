// Package condaenv verifies the named conda environment before any pipeline
// stage runs. No stage may execute against an unverified environment, so the
// activator is the pipeline's single fatal precondition gate.
package condaenv

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"go.uber.org/zap"
)

// interpreterProbe prints the interpreter path and version on two lines so
// activation verifies the environment end to end, not just its registration.
const interpreterProbe = "import sys; print(sys.executable); print(sys.version.split()[0])"

// Runner executes a command and returns its combined standard output. It
// exists so tests can verify activation logic without a conda installation.
type Runner interface {
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// Env is a verified-environment handle. Stage runners execute the engine
// through it rather than sourcing shell activation ad hoc.
type Env struct {
	Name        string
	CondaBin    string
	Interpreter string
	Version     string
}

// ActivationError reports a failed activation together with the available
// environment listing so the operator can see the alternatives.
type ActivationError struct {
	Name      string
	Available string
	Err       error
}

func (e *ActivationError) Error() string {
	return fmt.Sprintf("condaenv: activate %q: %v", e.Name, e.Err)
}

func (e *ActivationError) Unwrap() error { return e.Err }

// Option customizes the activator.
type Option func(*Activator)

// WithRunner injects a command runner (tests).
func WithRunner(r Runner) Option {
	return func(a *Activator) {
		if r != nil {
			a.runner = r
		}
	}
}

// WithLogger attaches a logger for activation diagnostics.
func WithLogger(log *zap.Logger) Option {
	return func(a *Activator) {
		if log != nil {
			a.log = log
		}
	}
}

// Activator resolves and verifies conda environments.
type Activator struct {
	conda  string
	runner Runner
	log    *zap.Logger
}

// New builds an activator around the given conda binary ("conda" when empty).
func New(condaBin string, opts ...Option) *Activator {
	if strings.TrimSpace(condaBin) == "" {
		condaBin = "conda"
	}
	a := &Activator{conda: condaBin, runner: execRunner{}, log: zap.NewNop()}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Activate verifies that name exists and resolves its interpreter. On
// failure it returns an *ActivationError carrying the environment listing;
// the caller must treat this as fatal and run no stage.
func (a *Activator) Activate(ctx context.Context, name string) (*Env, error) {
	if strings.TrimSpace(name) == "" {
		return nil, &ActivationError{Name: name, Err: fmt.Errorf("environment name is required")}
	}

	// Audit trail: record what "python" resolves to before activation so a
	// wrong-environment run can be diagnosed after the fact.
	if host, err := exec.LookPath("python3"); err == nil {
		a.log.Info("host interpreter before activation", zap.String("path", host))
	}

	out, err := a.runner.Output(ctx, a.conda, "run", "-n", name, "python", "-c", interpreterProbe)
	if err != nil {
		listing, _ := a.ListEnvs(ctx)
		return nil, &ActivationError{Name: name, Available: listing, Err: err}
	}

	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	env := &Env{Name: name, CondaBin: a.conda}
	if len(lines) > 0 {
		env.Interpreter = strings.TrimSpace(lines[0])
	}
	if len(lines) > 1 {
		env.Version = strings.TrimSpace(lines[1])
	}
	if env.Interpreter == "" {
		return nil, &ActivationError{
			Name: name,
			Err:  fmt.Errorf("environment produced no interpreter path"),
		}
	}

	a.log.Info("environment activated",
		zap.String("env", env.Name),
		zap.String("interpreter", env.Interpreter),
		zap.String("python", env.Version),
	)
	return env, nil
}

// ListEnvs returns conda's environment listing for failure diagnostics.
func (a *Activator) ListEnvs(ctx context.Context) (string, error) {
	out, err := a.runner.Output(ctx, a.conda, "env", "list")
	if err != nil {
		return "", fmt.Errorf("condaenv: list environments: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}
