package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/matchflow-dev/matchflow/internal/condaenv"
)

func TestInvokeRequiresEnvironment(t *testing.T) {
	inv := NewExecInvoker(nil)
	if err := inv.Invoke(context.Background(), Invocation{Script: "run.py"}); err == nil {
		t.Fatal("expected error without a verified environment")
	}
}

func TestInvokeRequiresScript(t *testing.T) {
	inv := NewExecInvoker(&condaenv.Env{Name: "leopard-em", CondaBin: "conda"})
	if err := inv.Invoke(context.Background(), Invocation{}); err == nil {
		t.Fatal("expected error without a script")
	}
}

func TestInvokeMapsExitCode(t *testing.T) {
	// `false` ignores its arguments and exits 1, standing in for conda.
	inv := NewExecInvoker(&condaenv.Env{Name: "leopard-em", CondaBin: "false"})
	err := inv.Invoke(context.Background(), Invocation{Script: "run.py"})
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.ExitCode != 1 {
		t.Fatalf("expected exit code 1, got %d", execErr.ExitCode)
	}
	if execErr.Script != "run.py" {
		t.Fatalf("unexpected script in error: %q", execErr.Script)
	}
}

func TestInvokeMissingBinary(t *testing.T) {
	inv := NewExecInvoker(&condaenv.Env{Name: "leopard-em", CondaBin: "/nonexistent/conda"})
	err := inv.Invoke(context.Background(), Invocation{Script: "run.py"})
	var execErr *ExecError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecError, got %v", err)
	}
	if execErr.ExitCode != -1 {
		t.Fatalf("expected exit code -1 for unstartable binary, got %d", execErr.ExitCode)
	}
}
