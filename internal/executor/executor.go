package executor

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/xedro98/Glacier/internal/model"
)

// Result carries the output of a command run on a managed host.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecutionError reports a command that finished with a nonzero exit code.
type ExecutionError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExecutionError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		msg = "no stderr output"
	}
	return fmt.Sprintf("command failed (exit %d): %s", e.ExitCode, msg)
}

// Executor runs shell commands against a managed host. Implementations must
// return an *ExecutionError (alongside the captured Result) on nonzero exit;
// the caller interprets exit codes per operation.
type Executor interface {
	Execute(ctx context.Context, server model.Server, command string) (Result, error)
}

// Local runs commands on the panel host itself.
type Local struct{}

// Execute runs the command through the local shell.
func (Local) Execute(ctx context.Context, _ model.Server, command string) (Result, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, &ExecutionError{Command: command, ExitCode: res.ExitCode, Stderr: res.Stderr}
		}
		return res, fmt.Errorf("start command: %w", err)
	}
	return res, nil
}

// Router dispatches commands to the right transport for the target server:
// local servers run through the shell, remote servers over SSH.
type Router struct {
	local  Executor
	remote Executor
}

// NewRouter builds the default router with a local shell executor and an
// SSH executor for remote servers.
func NewRouter() *Router {
	return &Router{local: Local{}, remote: &SSH{}}
}

// Execute routes the command by server role.
func (r *Router) Execute(ctx context.Context, server model.Server, command string) (Result, error) {
	if server.Role == model.RoleRemote {
		return r.remote.Execute(ctx, server, command)
	}
	return r.local.Execute(ctx, server, command)
}
