package condaenv

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// fakeRunner scripts conda responses keyed by the joined argument list.
type fakeRunner struct {
	calls   [][]string
	outputs map[string]string
	fail    map[string]error
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	call := append([]string{name}, args...)
	f.calls = append(f.calls, call)
	key := strings.Join(call, " ")
	if err, ok := f.fail[key]; ok {
		return nil, err
	}
	if out, ok := f.outputs[key]; ok {
		return []byte(out), nil
	}
	return nil, fmt.Errorf("unexpected command: %s", key)
}

func TestActivateResolvesInterpreter(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"conda run -n leopard-em python -c " + interpreterProbe: "/envs/leopard-em/bin/python\n3.11.8\n",
	}}
	act := New("conda", WithRunner(runner))

	env, err := act.Activate(context.Background(), "leopard-em")
	if err != nil {
		t.Fatalf("Activate: %v", err)
	}
	if env.Interpreter != "/envs/leopard-em/bin/python" {
		t.Fatalf("interpreter = %q", env.Interpreter)
	}
	if env.Version != "3.11.8" {
		t.Fatalf("version = %q", env.Version)
	}
	if env.CondaBin != "conda" || env.Name != "leopard-em" {
		t.Fatalf("handle = %+v", env)
	}
}

func TestActivateFailureListsEnvironments(t *testing.T) {
	probeKey := "conda run -n missing python -c " + interpreterProbe
	runner := &fakeRunner{
		fail: map[string]error{probeKey: errors.New("EnvironmentNameNotFound")},
		outputs: map[string]string{
			"conda env list": "# conda environments:\nbase\nleopard-em\n",
		},
	}
	act := New("conda", WithRunner(runner))

	_, err := act.Activate(context.Background(), "missing")
	if err == nil {
		t.Fatal("expected activation error")
	}
	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("error type = %T", err)
	}
	if !strings.Contains(actErr.Available, "leopard-em") {
		t.Fatalf("available listing missing environments: %q", actErr.Available)
	}
	if actErr.Name != "missing" {
		t.Fatalf("name = %q", actErr.Name)
	}
}

func TestActivateRejectsEmptyName(t *testing.T) {
	act := New("conda", WithRunner(&fakeRunner{}))
	_, err := act.Activate(context.Background(), "  ")
	var actErr *ActivationError
	if !errors.As(err, &actErr) {
		t.Fatalf("expected ActivationError, got %v", err)
	}
}

func TestActivateRejectsEmptyProbeOutput(t *testing.T) {
	runner := &fakeRunner{outputs: map[string]string{
		"conda run -n ghost python -c " + interpreterProbe: "\n",
	}}
	act := New("conda", WithRunner(runner))
	if _, err := act.Activate(context.Background(), "ghost"); err == nil {
		t.Fatal("expected error for empty probe output")
	}
}

func TestNewDefaultsCondaBinary(t *testing.T) {
	act := New("  ")
	if act.conda != "conda" {
		t.Fatalf("conda bin = %q", act.conda)
	}
}
