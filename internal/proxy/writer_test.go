package proxy

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
)

var localServer = model.Server{ID: "local", Role: model.RoleLocal}

func TestWriterApplyAndNoop(t *testing.T) {
	w := NewWriter(t.TempDir(), nil, nil)
	ctx := context.Background()

	changed, err := w.Apply(ctx, localServer, "example.com", "server {}\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("first apply must report a change")
	}
	if !w.Exists("local", "example.com") {
		t.Fatal("config file missing after apply")
	}

	changed, err = w.Apply(ctx, localServer, "example.com", "server {}\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("identical content must be a no-op")
	}

	changed, err = w.Apply(ctx, localServer, "example.com", "server { listen 80; }\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("changed content must rewrite the file")
	}

	data, err := os.ReadFile(w.Path("local", "example.com"))
	if err != nil {
		t.Fatalf("read conf: %v", err)
	}
	if string(data) != "server { listen 80; }\n" {
		t.Fatalf("unexpected content: %q", data)
	}
}

func TestWriterRemoveIdempotent(t *testing.T) {
	w := NewWriter(t.TempDir(), nil, nil)
	ctx := context.Background()
	if _, err := w.Apply(ctx, localServer, "example.com", "server {}\n"); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if err := w.Remove(ctx, localServer, "example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := w.Remove(ctx, localServer, "example.com"); err != nil {
		t.Fatalf("second remove must be a no-op: %v", err)
	}
	if w.Exists("local", "example.com") {
		t.Fatal("config file still present after remove")
	}
}

// recordingExec captures commands instead of running them.
type recordingExec struct {
	commands []string
	stdout   string
}

func (r *recordingExec) Execute(_ context.Context, _ model.Server, command string) (executor.Result, error) {
	r.commands = append(r.commands, command)
	return executor.Result{Stdout: r.stdout}, nil
}

func TestWriterRemoteApplyGoesThroughExecutor(t *testing.T) {
	re := &recordingExec{stdout: "changed\n"}
	w := NewWriter(t.TempDir(), re, nil)
	ctx := context.Background()
	remote := model.Server{ID: "web-2", Role: model.RoleRemote, Address: "203.0.113.7"}

	changed, err := w.Apply(ctx, remote, "example.com", "server {}\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !changed {
		t.Fatal("first apply must report a change")
	}
	if len(re.commands) != 1 || !strings.Contains(re.commands[0], w.Path("web-2", "example.com")) {
		t.Fatalf("expected one remote write command, got %v", re.commands)
	}
	if !strings.Contains(re.commands[0], "server {}") {
		t.Fatal("rendered content must be carried in the remote command")
	}
	if w.Exists("web-2", "example.com") {
		t.Fatal("remote apply must not touch the panel filesystem")
	}

	re.stdout = "unchanged\n"
	changed, err = w.Apply(ctx, remote, "example.com", "server {}\n")
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if changed {
		t.Fatal("identical remote content must be a no-op")
	}

	if err := w.Remove(ctx, remote, "example.com"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if last := re.commands[len(re.commands)-1]; !strings.Contains(last, "rm -f") {
		t.Fatalf("expected a remote rm command, got %q", last)
	}
}
