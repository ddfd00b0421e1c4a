package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/xedro98/Glacier/internal/model"
)

var localServer = model.Server{ID: "local", Role: model.RoleLocal}

func TestLocalExecuteCapturesStdout(t *testing.T) {
	res, err := Local{}.Execute(context.Background(), localServer, "echo hello")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if strings.TrimSpace(res.Stdout) != "hello" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected exit code: %d", res.ExitCode)
	}
}

func TestLocalExecuteNonzeroExit(t *testing.T) {
	res, err := Local{}.Execute(context.Background(), localServer, "echo oops >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for nonzero exit")
	}
	var execErr *ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected *ExecutionError, got %T: %v", err, err)
	}
	if execErr.ExitCode != 3 {
		t.Fatalf("expected exit code 3, got %d", execErr.ExitCode)
	}
	if !strings.Contains(execErr.Stderr, "oops") {
		t.Fatalf("stderr not captured: %q", execErr.Stderr)
	}
	if res.ExitCode != 3 {
		t.Fatalf("result exit code not populated: %d", res.ExitCode)
	}
}

func TestRouterDispatchesLocal(t *testing.T) {
	r := NewRouter()
	res, err := r.Execute(context.Background(), localServer, "printf ok")
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if res.Stdout != "ok" {
		t.Fatalf("unexpected stdout: %q", res.Stdout)
	}
}

func TestLocalExecuteContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Local{}.Execute(ctx, localServer, "sleep 5")
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
