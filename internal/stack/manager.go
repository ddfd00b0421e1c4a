package stack

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
)

// LocalInspector reads container state without going through the executor.
// Satisfied by *DockerClient.
type LocalInspector interface {
	SiteContainers(ctx context.Context, domain string) ([]ContainerState, error)
}

// Manager computes and applies per-site container topologies. Desired state
// comes from the descriptor; current state is read from the Docker daemon
// (Engine API on the panel host, docker CLI through the executor elsewhere);
// Apply issues only the commands the reconcile plan calls for.
type Manager struct {
	exec      executor.Executor
	local     LocalInspector // nil when the Docker socket is unavailable
	stackRoot string         // host-side root for per-site compose projects
	logger    *slog.Logger
}

// NewManager creates a stack manager. local may be nil; state is then read
// through the executor for every host.
func NewManager(exec executor.Executor, local LocalInspector, stackRoot string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if stackRoot == "" {
		stackRoot = "/srv/glacier"
	}
	return &Manager{exec: exec, local: local, stackRoot: stackRoot, logger: logger}
}

// StackDir is the compose project directory for a domain on its host.
func (m *Manager) StackDir(domain string) string {
	return path.Join(m.stackRoot, proxy.SanitizeName(domain))
}

// SiteDir is the site source directory inside the stack project.
func (m *Manager) SiteDir(domain string) string {
	return path.Join(m.StackDir(domain), "site")
}

// CurrentState lists the site's containers on the target server.
func (m *Manager) CurrentState(ctx context.Context, server model.Server, domain string) ([]ContainerState, error) {
	if server.Role == model.RoleLocal && m.local != nil {
		return m.local.SiteContainers(ctx, domain)
	}

	cmd := fmt.Sprintf("docker ps -a --filter label=%s=%s --format '{{json .}}'", LabelSite, domain)
	res, err := m.exec.Execute(ctx, server, cmd)
	if err != nil {
		return nil, fmt.Errorf("list containers on %s: %w", server.ID, err)
	}
	return parsePSOutput(res.Stdout)
}

// psLine matches the docker ps --format '{{json .}}' row shape.
type psLine struct {
	Names  string `json:"Names"`
	Image  string `json:"Image"`
	State  string `json:"State"`
	Labels string `json:"Labels"` // "k=v,k=v"
}

func parsePSOutput(out string) ([]ContainerState, error) {
	var states []ContainerState
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var row psLine
		if err := json.Unmarshal([]byte(line), &row); err != nil {
			return nil, fmt.Errorf("parse docker ps output: %w", err)
		}
		labels := map[string]string{}
		for _, pair := range strings.Split(row.Labels, ",") {
			if k, v, ok := strings.Cut(pair, "="); ok {
				labels[k] = v
			}
		}
		states = append(states, ContainerState{
			Name:   row.Names,
			Image:  row.Image,
			State:  row.State,
			Labels: labels,
		})
	}
	return states, nil
}

// Apply executes a reconcile plan on the target server. An empty plan issues
// no commands at all.
func (m *Manager) Apply(ctx context.Context, server model.Server, desc Descriptor, plan Plan) error {
	if plan.Empty() {
		return nil
	}

	content, err := RenderCompose(desc)
	if err != nil {
		return err
	}
	dir := m.StackDir(desc.Domain)
	if err := m.writeFile(ctx, server, path.Join(dir, "docker-compose.yml"), content); err != nil {
		return err
	}

	for _, name := range plan.Remove {
		if _, err := m.exec.Execute(ctx, server, "docker rm -f "+shellQuote(name)); err != nil {
			return fmt.Errorf("remove container %s: %w", name, err)
		}
	}

	changed := plan.Changed()
	if len(changed) > 0 {
		// Recreated services must be removed first so compose replaces them
		// instead of reusing the stale container.
		for _, svc := range plan.Recreate {
			spec, ok := desc.Services[svc]
			if !ok {
				continue
			}
			cmd := fmt.Sprintf("docker rm -f %s 2>/dev/null || true", shellQuote(spec.Name))
			if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
				return fmt.Errorf("replace container %s: %w", spec.Name, err)
			}
		}
		cmd := fmt.Sprintf("cd %s && docker compose up -d --no-deps %s",
			shellQuote(dir), strings.Join(changed, " "))
		if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
			return fmt.Errorf("compose up: %w", err)
		}
	}

	m.logger.Info("stack applied",
		"domain", desc.Domain,
		"server", server.ID,
		"create", plan.Create,
		"recreate", plan.Recreate,
		"remove", plan.Remove,
	)
	return nil
}

// Teardown stops and removes all of a site's containers. Data volumes are
// removed only when purgeVolumes is set.
func (m *Manager) Teardown(ctx context.Context, server model.Server, domain string, purgeVolumes bool) error {
	current, err := m.CurrentState(ctx, server, domain)
	if err != nil {
		return err
	}
	for _, c := range current {
		if _, err := m.exec.Execute(ctx, server, "docker rm -f "+shellQuote(c.Name)); err != nil {
			return fmt.Errorf("remove container %s: %w", c.Name, err)
		}
	}
	if purgeVolumes {
		name := proxy.SanitizeName(domain)
		cmd := fmt.Sprintf("docker volume ls -q --filter name=%s- | xargs -r docker volume rm", shellQuote(name))
		if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
			return fmt.Errorf("remove volumes: %w", err)
		}
	}
	if _, err := m.exec.Execute(ctx, server, "rm -rf "+shellQuote(m.StackDir(domain))); err != nil {
		return fmt.Errorf("remove stack dir: %w", err)
	}
	return nil
}

// writeFile places a file on the target host through the executor.
func (m *Manager) writeFile(ctx context.Context, server model.Server, filePath, content string) error {
	cmd := fmt.Sprintf("mkdir -p %s && cat > %s <<'GLACIER_EOF'\n%sGLACIER_EOF",
		shellQuote(path.Dir(filePath)), shellQuote(filePath), content)
	if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
		return fmt.Errorf("write %s: %w", filePath, err)
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
