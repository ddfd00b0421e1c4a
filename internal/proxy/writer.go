package proxy

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
)

// Writer places rendered vhost configs into the configuration directory the
// proxy process consumes, one file per site under a per-server subdirectory.
// Configs for the panel host are written directly; configs for remote servers
// travel through the executor to the same directory on the target host.
// Reloading the proxy is the caller's responsibility.
type Writer struct {
	confDir string
	exec    executor.Executor
	logger  *slog.Logger
}

// NewWriter creates a Writer rooted at confDir. exec may be nil when every
// managed server is local.
func NewWriter(confDir string, exec executor.Executor, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{confDir: confDir, exec: exec, logger: logger}
}

// Path returns the deterministic config file path for a domain on a server.
func (w *Writer) Path(serverID, domain string) string {
	return filepath.Join(w.confDir, serverID, ConfFileName(domain))
}

// Apply writes the config atomically (write-new-then-rename). Writing
// identical content is a no-op so unchanged renders leave the file untouched.
// Returns whether the file changed.
func (w *Writer) Apply(ctx context.Context, server model.Server, domain, content string) (bool, error) {
	if server.Role == model.RoleRemote {
		return w.applyRemote(ctx, server, domain, content)
	}

	path := w.Path(server.ID, domain)

	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, []byte(content)) {
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("create proxy conf dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return false, fmt.Errorf("write proxy conf: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return false, fmt.Errorf("rename proxy conf: %w", err)
	}
	w.logger.Info("proxy config written", "domain", domain, "path", path)
	return true, nil
}

// applyRemote mirrors the local write-compare-rename sequence on the target
// host: the content lands in a temp file, cmp decides whether anything
// changed, and the rename swaps it in whole.
func (w *Writer) applyRemote(ctx context.Context, server model.Server, domain, content string) (bool, error) {
	path := w.Path(server.ID, domain)
	cmd := fmt.Sprintf(
		"mkdir -p %[1]s && cat > %[2]s.tmp <<'GLACIER_EOF'\n%[3]sGLACIER_EOF\n"+
			"if cmp -s %[2]s.tmp %[2]s; then rm %[2]s.tmp; echo unchanged; else mv %[2]s.tmp %[2]s; echo changed; fi",
		quote(filepath.Dir(path)), quote(path), content)
	res, err := w.exec.Execute(ctx, server, cmd)
	if err != nil {
		return false, fmt.Errorf("write proxy conf on %s: %w", server.ID, err)
	}
	changed := strings.TrimSpace(res.Stdout) != "unchanged"
	if changed {
		w.logger.Info("proxy config written", "domain", domain, "server", server.ID, "path", path)
	}
	return changed, nil
}

// Remove deletes the config for a domain. Removing an absent file is a no-op.
func (w *Writer) Remove(ctx context.Context, server model.Server, domain string) error {
	path := w.Path(server.ID, domain)

	if server.Role == model.RoleRemote {
		if _, err := w.exec.Execute(ctx, server, "rm -f "+quote(path)); err != nil {
			return fmt.Errorf("remove proxy conf on %s: %w", server.ID, err)
		}
		return nil
	}

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove proxy conf: %w", err)
	}
	return nil
}

// Exists reports whether a config file is present for the domain on the
// panel-local filesystem.
func (w *Writer) Exists(serverID, domain string) bool {
	_, err := os.Stat(w.Path(serverID, domain))
	return err == nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
