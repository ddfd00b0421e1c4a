package stack

import (
	"context"
	"strings"
	"testing"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
)

// fakeExec records executed commands and returns scripted stdout by substring.
type fakeExec struct {
	commands []string
	stdout   map[string]string // substring -> stdout
}

func (f *fakeExec) Execute(_ context.Context, _ model.Server, command string) (executor.Result, error) {
	f.commands = append(f.commands, command)
	for sub, out := range f.stdout {
		if strings.Contains(command, sub) {
			return executor.Result{Stdout: out}, nil
		}
	}
	return executor.Result{}, nil
}

var remoteServer = model.Server{ID: "r1", Role: model.RoleRemote, Address: "203.0.113.7"}

func TestCurrentStateRemoteParsesPS(t *testing.T) {
	fe := &fakeExec{stdout: map[string]string{
		"docker ps": `{"Names":"example-com-php","Image":"php:8.2-fpm","State":"running","Labels":"glacier.site=example.com,glacier.service=php,glacier.config-hash=abc123"}
{"Names":"example-com-db","Image":"mariadb:10.11","State":"exited","Labels":"glacier.site=example.com,glacier.service=mariadb,glacier.config-hash=def456"}`,
	}}
	m := NewManager(fe, nil, "/srv/glacier", nil)

	states, err := m.CurrentState(context.Background(), remoteServer, "example.com")
	if err != nil {
		t.Fatalf("current state: %v", err)
	}
	if len(states) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(states))
	}
	if states[0].Labels[LabelHash] != "abc123" {
		t.Fatalf("labels not parsed: %+v", states[0].Labels)
	}
	if states[1].State != "exited" {
		t.Fatalf("state not parsed: %+v", states[1])
	}
}

func TestApplyEmptyPlanIssuesNoCommands(t *testing.T) {
	fe := &fakeExec{}
	m := NewManager(fe, nil, "/srv/glacier", nil)
	desc, _ := Compute(siteWithServices())

	if err := m.Apply(context.Background(), remoteServer, desc, Plan{}); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if len(fe.commands) != 0 {
		t.Fatalf("empty plan must issue no commands, got %v", fe.commands)
	}
}

func TestApplyWritesComposeAndStartsChanged(t *testing.T) {
	fe := &fakeExec{}
	m := NewManager(fe, nil, "/srv/glacier", nil)
	desc, _ := Compute(siteWithServices())

	plan := Plan{Create: []string{"php"}, Recreate: []string{"mariadb"}}
	if err := m.Apply(context.Background(), remoteServer, desc, plan); err != nil {
		t.Fatalf("apply: %v", err)
	}

	joined := strings.Join(fe.commands, "\n")
	if !strings.Contains(joined, "docker-compose.yml") {
		t.Fatal("compose file not written to host")
	}
	if !strings.Contains(joined, "docker rm -f 'example-com-db'") {
		t.Fatal("recreated service must be replaced, not reused")
	}
	if !strings.Contains(joined, "docker compose up -d --no-deps mariadb php") {
		t.Fatalf("compose up missing or not limited to changed services:\n%s", joined)
	}
}

func TestTeardownRemovesContainersAndStackDir(t *testing.T) {
	fe := &fakeExec{stdout: map[string]string{
		"docker ps": `{"Names":"example-com-php","Image":"php:8.2-fpm","State":"running","Labels":"glacier.site=example.com"}`,
	}}
	m := NewManager(fe, nil, "/srv/glacier", nil)

	if err := m.Teardown(context.Background(), remoteServer, "example.com", false); err != nil {
		t.Fatalf("teardown: %v", err)
	}
	joined := strings.Join(fe.commands, "\n")
	if !strings.Contains(joined, "docker rm -f 'example-com-php'") {
		t.Fatal("containers not removed")
	}
	if !strings.Contains(joined, "rm -rf '/srv/glacier/example-com'") {
		t.Fatal("stack dir not removed")
	}
	if strings.Contains(joined, "docker volume rm") {
		t.Fatal("volumes must be preserved without purge")
	}
}
