// Package engine implements the site lifecycle state machine. Every public
// operation is atomic from the caller's perspective: it either commits the
// full new model state or leaves the persisted model at the pre-operation
// state plus a recorded failure reason.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xedro98/Glacier/internal/backup"
	"github.com/xedro98/Glacier/internal/cert"
	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
	"github.com/xedro98/Glacier/internal/registry"
	"github.com/xedro98/Glacier/internal/stack"
	"github.com/xedro98/Glacier/internal/store"
)

// Provisioning stage names, recorded on the site when a stage fails.
const (
	stageSource      = "source"
	stageContainers  = "containers"
	stageProxy       = "proxy"
	stageCertificate = "certificate"
	stageRestore     = "restore"
	stageTeardown    = "teardown"
)

// deleteTokenTTL bounds how long a deletion confirmation token stays valid.
const deleteTokenTTL = 10 * time.Minute

// Deps wires the engine to its collaborators.
type Deps struct {
	Store    *store.Store
	Registry *registry.Registry
	Exec     executor.Executor
	Renderer *proxy.Renderer
	Proxy    *proxy.Writer
	Stacks   *stack.Manager
	Certs    *cert.Manager
	Catalog  *backup.Catalog

	// BackupRoot is the host-side directory backup archives are written to.
	BackupRoot string

	Logger *slog.Logger
}

type deleteGrant struct {
	token     string
	expiresAt time.Time
}

// Engine orchestrates Create, Rebuild, Backup, Restore, Stage, Promote and
// Delete by sequencing the proxy, certificate and stack components and
// committing results to the config store. It is the only component that
// writes the store during a lifecycle operation.
//
// Operations against different domains run concurrently; operations against
// the same domain are serialized by a per-domain lock.
type Engine struct {
	store      *store.Store
	registry   *registry.Registry
	exec       executor.Executor
	renderer   *proxy.Renderer
	proxy      *proxy.Writer
	stacks     *stack.Manager
	certs      *cert.Manager
	catalog    *backup.Catalog
	backupRoot string
	logger     *slog.Logger

	now        func() time.Time
	newToken   func() string
	lookupHost func(host string) ([]string, error)

	mu           sync.Mutex
	locks        map[string]*sync.Mutex
	deleteGrants map[string]deleteGrant
}

// New creates the lifecycle engine.
func New(d Deps) *Engine {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.BackupRoot == "" {
		d.BackupRoot = "/srv/glacier/backups"
	}
	return &Engine{
		store:        d.Store,
		registry:     d.Registry,
		exec:         d.Exec,
		renderer:     d.Renderer,
		proxy:        d.Proxy,
		stacks:       d.Stacks,
		certs:        d.Certs,
		catalog:      d.Catalog,
		backupRoot:   d.BackupRoot,
		logger:       d.Logger,
		now:          time.Now,
		newToken:     uuid.NewString,
		lookupHost:   net.LookupHost,
		locks:        map[string]*sync.Mutex{},
		deleteGrants: map[string]deleteGrant{},
	}
}

// lock serializes operations on one domain. The returned func releases it.
func (e *Engine) lock(domain string) func() {
	e.mu.Lock()
	m, ok := e.locks[domain]
	if !ok {
		m = &sync.Mutex{}
		e.locks[domain] = m
	}
	e.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// lockPair locks two domains in a stable order so concurrent Promotes cannot
// deadlock against each other.
func (e *Engine) lockPair(a, b string) func() {
	domains := []string{a, b}
	sort.Strings(domains)
	first := e.lock(domains[0])
	second := e.lock(domains[1])
	return func() {
		second()
		first()
	}
}

// resolveTarget looks up the site's server and fails fast if it does not
// answer on its management channel.
func (e *Engine) resolveTarget(ctx context.Context, site model.Site) (model.Server, error) {
	server, err := e.registry.Resolve(site.ServerID)
	if err != nil {
		return model.Server{}, err
	}
	if err := e.registry.CheckReachable(ctx, server); err != nil {
		return model.Server{}, err
	}
	return server, nil
}

// certKey is the store key for a site's certificate record. Wildcard records
// are tracked under the "*.domain" pattern.
func certKey(site model.Site) string {
	if site.SSLMode == model.SSLWildcard {
		return "*." + site.Domain
	}
	return site.Domain
}

func (e *Engine) siteCertificate(site model.Site) (model.CertificateRecord, bool) {
	if site.SSLMode == model.SSLNone {
		return model.CertificateRecord{}, false
	}
	return e.store.Certificate(certKey(site))
}

// commitSite persists a site record, optionally alongside its certificate
// record, as one atomic write.
func (e *Engine) commitSite(site model.Site, rec *model.CertificateRecord) error {
	return e.store.Commit(func(snap *store.Snapshot) error {
		site.UpdatedAt = e.now().UTC()
		snap.Sites[site.Domain] = site
		if rec != nil {
			snap.Certificates[rec.Domain] = *rec
		}
		return nil
	})
}

// failStage records a mid-sequence failure: the site goes degraded with the
// failing stage name, already-applied external resources stay in place, and
// the caller receives a retryable state error.
func (e *Engine) failStage(site model.Site, rec *model.CertificateRecord, stage string, err error) error {
	site.Status = model.StatusDegraded
	site.FailedStage = stage
	if commitErr := e.commitSite(site, rec); commitErr != nil {
		e.logger.Error("persisting degraded state failed", "domain", site.Domain, "err", commitErr)
	}
	e.audit("provision", site.Domain, "error", fmt.Sprintf("stage %s: %v", stage, err))
	return &model.StateError{Domain: site.Domain, Stage: stage, Err: err}
}

// failTeardown records a teardown failure. The site stays in deleting with
// the failing stage recorded: deletion was already confirmed, so the retry
// path is another Delete, not a Rebuild.
func (e *Engine) failTeardown(site model.Site, err error) error {
	site.Status = model.StatusDeleting
	site.FailedStage = stageTeardown
	if commitErr := e.commitSite(site, nil); commitErr != nil {
		e.logger.Error("persisting teardown failure failed", "domain", site.Domain, "err", commitErr)
	}
	e.audit("delete", site.Domain, "error", err.Error())
	return &model.StateError{Domain: site.Domain, Stage: stageTeardown, Err: err}
}

func (e *Engine) audit(operation, domain, outcome, detail string) {
	if e.catalog != nil {
		e.catalog.Audit(operation, domain, outcome, detail)
	}
}

// descriptorConflicts checks the descriptor's host port and named volume
// claims against every other site on the same server.
func (e *Engine) descriptorConflicts(desc stack.Descriptor, serverID string) error {
	var others []stack.Descriptor
	for _, other := range e.store.SitesOn(serverID) {
		if other.Domain == desc.Domain {
			continue
		}
		otherDesc, err := stack.Compute(other)
		if err != nil {
			continue // already-persisted site with an uncomputable stack
		}
		others = append(others, otherDesc)
	}
	return stack.CheckConflicts(desc, others)
}

// provision runs the ordered stage sequence for a site: source, containers,
// proxy, certificate. Containers must exist before the proxy routes to them,
// and the proxy must exist before certificate validation traffic can be
// answered. Returns the name of the failing stage alongside the error; the
// returned site and record carry whatever progress was made.
func (e *Engine) provision(ctx context.Context, server model.Server, site model.Site, rec model.CertificateRecord) (model.Site, model.CertificateRecord, string, error) {
	rules, err := e.deploySource(ctx, server, site)
	if err != nil {
		return site, rec, stageSource, err
	}
	site.RewriteRules = rules

	desc, err := stack.Compute(site)
	if err != nil {
		return site, rec, stageContainers, err
	}
	current, err := e.stacks.CurrentState(ctx, server, site.Domain)
	if err != nil {
		return site, rec, stageContainers, err
	}
	plan := stack.Reconcile(desc, current)
	if err := e.stacks.Apply(ctx, server, desc, plan); err != nil {
		return site, rec, stageContainers, err
	}
	if err := e.ensureExtensions(ctx, server, site, plan); err != nil {
		return site, rec, stageContainers, err
	}
	site.StackHash = desc.Hash()

	if err := e.applyProxy(ctx, site, rec, server); err != nil {
		return site, rec, stageProxy, err
	}

	if site.SSLMode != model.SSLNone {
		e.advisoryDNSCheck(site, server)
		rec, err = e.certs.Issue(ctx, server, rec)
		if err != nil {
			return site, rec, stageCertificate, err
		}
		// A standard certificate is issued synchronously; rewrite the vhost
		// so TLS termination starts serving immediately.
		if rec.State == model.CertValid {
			if err := e.applyProxy(ctx, site, rec, server); err != nil {
				return site, rec, stageCertificate, err
			}
		}
	}

	return site, rec, "", nil
}

// advisoryDNSCheck warns when the domain does not resolve to the target host
// before certificate issuance. Advisory only: DNS may still be propagating,
// and issuance failure already reports itself.
func (e *Engine) advisoryDNSCheck(site model.Site, server model.Server) {
	addrs, err := e.lookupHost(site.Domain)
	if err != nil || len(addrs) == 0 {
		e.logger.Warn("domain does not resolve yet; certificate validation may fail",
			"domain", site.Domain, "err", err)
		return
	}
	if server.Role != model.RoleRemote || server.Address == "" {
		return
	}
	host := server.Address
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	for _, a := range addrs {
		if a == host {
			return
		}
	}
	e.logger.Warn("domain does not point at the target server",
		"domain", site.Domain, "server", server.ID, "resolved", addrs)
}

func (e *Engine) applyProxy(ctx context.Context, site model.Site, rec model.CertificateRecord, server model.Server) error {
	content, err := e.renderer.Render(site, rec)
	if err != nil {
		return err
	}
	_, err = e.proxy.Apply(ctx, server, site.Domain, content)
	return err
}

// ensureExtensions installs the site's PHP extensions into the php container
// whenever the plan created or replaced it. Extensions live in the container
// filesystem, so a fresh container starts without them.
func (e *Engine) ensureExtensions(ctx context.Context, server model.Server, site model.Site, plan stack.Plan) error {
	if len(site.PHPExtensions) == 0 {
		return nil
	}
	touched := false
	for _, svc := range plan.Changed() {
		if svc == "php" {
			touched = true
			break
		}
	}
	if !touched {
		return nil
	}

	quoted := make([]string, 0, len(site.PHPExtensions))
	for _, ext := range site.PHPExtensions {
		quoted = append(quoted, shellQuote(ext))
	}
	container := proxy.PHPUpstream(site.Domain)
	cmd := fmt.Sprintf("docker exec %s docker-php-ext-install %s && docker restart %s",
		shellQuote(container), strings.Join(quoted, " "), shellQuote(container))
	if _, err := e.exec.Execute(ctx, server, cmd); err != nil {
		return fmt.Errorf("install php extensions for %s: %w", site.Domain, err)
	}
	return nil
}

// deploySource places the site's document root on the host: a git clone or
// pull when a source is configured, a placeholder page otherwise. Any
// .htaccess shipped with the source is translated into nginx rewrite rules.
func (e *Engine) deploySource(ctx context.Context, server model.Server, site model.Site) ([]string, error) {
	dir := e.stacks.SiteDir(site.Domain)

	var cmd string
	if site.GitSource != "" {
		cmd = fmt.Sprintf(
			"if [ -d %[1]s/.git ]; then git -C %[1]s pull --ff-only; else git clone %[2]s %[1]s; fi",
			shellQuote(dir), shellQuote(site.GitSource))
	} else {
		cmd = fmt.Sprintf(
			"mkdir -p %[1]s && [ -f %[1]s/index.php ] || printf '%%s\\n' '<?php phpinfo();' > %[1]s/index.php",
			shellQuote(dir))
	}
	if _, err := e.exec.Execute(ctx, server, cmd); err != nil {
		return nil, fmt.Errorf("deploy source for %s: %w", site.Domain, err)
	}

	res, err := e.exec.Execute(ctx, server, fmt.Sprintf("cat %s/.htaccess 2>/dev/null || true", shellQuote(dir)))
	if err != nil {
		return nil, fmt.Errorf("read htaccess for %s: %w", site.Domain, err)
	}
	return proxy.TranslateHtaccess(strings.NewReader(res.Stdout)), nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
