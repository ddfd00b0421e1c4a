package engine

import (
	"context"
	"fmt"
	"regexp"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/proxy"
	"github.com/xedro98/Glacier/internal/stack"
	"github.com/xedro98/Glacier/internal/store"
)

var extensionNamePattern = regexp.MustCompile(`^[a-z0-9_]+$`)

// CreateRequest is the declarative intent for a new site.
type CreateRequest struct {
	Domain     string        `json:"domain"`
	PHPVersion string        `json:"php_version"`
	SSLMode    model.SSLMode `json:"ssl_mode"`
	GitSource  string        `json:"git_source,omitempty"`
	ServerID   string        `json:"server_id"`

	Services      []string       `json:"services,omitempty"`
	ServicePorts  map[string]int `json:"service_ports,omitempty"`
	PHPExtensions []string       `json:"php_extensions,omitempty"`
}

// Create provisions a new site end to end: source, containers, proxy config,
// certificate. Validation and conflict checks happen before any external side
// effect. A mid-sequence failure leaves already-applied resources in place
// (retrying is cheaper than destroy-and-recreate) and parks the site in
// degraded with the failing stage recorded; a subsequent Rebuild resumes.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (model.Site, error) {
	if err := proxy.ValidateDomain(req.Domain); err != nil {
		return model.Site{}, err
	}
	if !model.PHPVersionSupported(req.PHPVersion) {
		return model.Site{}, fmt.Errorf("%w: %q", model.ErrUnsupportedPHPVersion, req.PHPVersion)
	}
	if !req.SSLMode.Valid() {
		return model.Site{}, fmt.Errorf("%w: %q", model.ErrInvalidSSLMode, req.SSLMode)
	}

	unlock := e.lock(req.Domain)
	defer unlock()

	if _, exists := e.store.Site(req.Domain); exists {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrDomainConflict, req.Domain)
	}

	site := model.Site{
		Domain:        req.Domain,
		PHPVersion:    req.PHPVersion,
		SSLMode:       req.SSLMode,
		GitSource:     req.GitSource,
		ServerID:      req.ServerID,
		Status:        model.StatusPending,
		Services:      append([]string(nil), req.Services...),
		ServicePorts:  req.ServicePorts,
		PHPExtensions: append([]string(nil), req.PHPExtensions...),
		CreatedAt:     e.now().UTC(),
	}

	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return model.Site{}, err
	}

	desc, err := stack.Compute(site)
	if err != nil {
		return model.Site{}, err
	}
	if err := e.descriptorConflicts(desc, site.ServerID); err != nil {
		return model.Site{}, err
	}

	var rec model.CertificateRecord
	var recPtr *model.CertificateRecord
	if site.SSLMode != model.SSLNone {
		rec = e.certs.NewRecord(site.Domain, site.SSLMode)
		recPtr = &rec
	}

	site.Status = model.StatusProvisioning
	if err := e.commitSite(site, recPtr); err != nil {
		return model.Site{}, err
	}

	site, rec, stage, err := e.provision(ctx, server, site, rec)
	if recPtr != nil {
		recPtr = &rec
	}
	if err != nil {
		return site, e.failStage(site, recPtr, stage, err)
	}

	site.Status = model.StatusActive
	site.FailedStage = ""
	if err := e.commitSite(site, recPtr); err != nil {
		return site, err
	}

	e.audit("create", site.Domain, "ok", "")
	e.logger.Info("site created", "domain", site.Domain, "server", site.ServerID, "php", site.PHPVersion)
	return site, nil
}

// Rebuild re-converges a site onto its declared configuration. When the
// computed stack matches what was last applied and no new source or forced
// certificate run was requested, the whole operation is a no-op that issues
// zero external commands. A full successful rebuild is the only path out of
// degraded back to active.
func (e *Engine) Rebuild(ctx context.Context, domain, gitSource string, forceSSL bool) (model.Site, error) {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}

	desc, err := stack.Compute(site)
	if err != nil {
		return model.Site{}, err
	}
	settled := site.Status == model.StatusActive || site.Status == model.StatusStaging
	if settled && gitSource == "" && !forceSSL && desc.Hash() == site.StackHash {
		return site, nil
	}

	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return model.Site{}, err
	}

	if gitSource != "" {
		site.GitSource = gitSource
	}
	rec, _ := e.siteCertificate(site)
	var recPtr *model.CertificateRecord
	if site.SSLMode != model.SSLNone {
		recPtr = &rec
	}

	if gitSource != "" || site.Status == model.StatusDegraded {
		rules, err := e.deploySource(ctx, server, site)
		if err != nil {
			return site, e.failStage(site, recPtr, stageSource, err)
		}
		site.RewriteRules = rules
	}

	desc, err = stack.Compute(site)
	if err != nil {
		return site, err
	}
	current, err := e.stacks.CurrentState(ctx, server, site.Domain)
	if err != nil {
		return site, e.failStage(site, recPtr, stageContainers, err)
	}
	plan := stack.Reconcile(desc, current)
	if err := e.stacks.Apply(ctx, server, desc, plan); err != nil {
		return site, e.failStage(site, recPtr, stageContainers, err)
	}
	if err := e.ensureExtensions(ctx, server, site, plan); err != nil {
		return site, e.failStage(site, recPtr, stageContainers, err)
	}
	site.StackHash = desc.Hash()

	if err := e.applyProxy(ctx, site, rec, server); err != nil {
		return site, e.failStage(site, recPtr, stageProxy, err)
	}

	if forceSSL && site.SSLMode != model.SSLNone {
		rec, err = e.certs.Issue(ctx, server, rec)
		if err != nil {
			return site, e.failStage(site, &rec, stageCertificate, err)
		}
		recPtr = &rec
		if rec.State == model.CertValid {
			if err := e.applyProxy(ctx, site, rec, server); err != nil {
				return site, e.failStage(site, recPtr, stageCertificate, err)
			}
		}
	}

	if site.IsStaging() {
		site.Status = model.StatusStaging
	} else {
		site.Status = model.StatusActive
	}
	site.FailedStage = ""
	if err := e.commitSite(site, recPtr); err != nil {
		return site, err
	}

	e.audit("rebuild", domain, "ok", "")
	e.logger.Info("site rebuilt", "domain", domain, "stack_hash", site.StackHash)
	return site, nil
}

// DeleteOptions controls teardown behavior.
type DeleteOptions struct {
	// Force skips confirmation-token validation.
	Force bool
	// Token is a confirmation token previously issued by DeletionToken.
	Token string
	// RevokeCert also revokes and deletes the site's certificate.
	RevokeCert bool
	// PurgeVolumes removes the site's data volumes along with its containers.
	PurgeVolumes bool
}

// DeletionToken issues a short-lived confirmation token for deleting a
// domain. Delete without Force requires it, preventing accidental
// destruction from a mistyped domain.
func (e *Engine) DeletionToken(domain string) (string, error) {
	if _, ok := e.store.Site(domain); !ok {
		return "", fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	token := e.newToken()

	e.mu.Lock()
	e.deleteGrants[domain] = deleteGrant{token: token, expiresAt: e.now().Add(deleteTokenTTL)}
	e.mu.Unlock()
	return token, nil
}

func (e *Engine) consumeDeleteGrant(domain, token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	grant, ok := e.deleteGrants[domain]
	if !ok || token == "" || grant.token != token || e.now().After(grant.expiresAt) {
		return false
	}
	delete(e.deleteGrants, domain)
	return true
}

// peekDeleteGrant validates a token without consuming it.
func (e *Engine) peekDeleteGrant(domain, token string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	grant, ok := e.deleteGrants[domain]
	return ok && token != "" && grant.token == token && !e.now().After(grant.expiresAt)
}

// Delete tears down a site's containers, proxy config and model records.
// Deleting an absent domain is a no-op, so a retried Delete always converges.
func (e *Engine) Delete(ctx context.Context, domain string, opts DeleteOptions) error {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return nil
	}

	// A site already in deleting was confirmed by an earlier attempt; the
	// retry proceeds without a fresh token.
	confirmed := opts.Force || site.Status == model.StatusDeleting
	if !confirmed && !e.peekDeleteGrant(domain, opts.Token) {
		return fmt.Errorf("%w: %s", model.ErrConfirmationRequired, domain)
	}

	// The grant is consumed only after the target answers, so a transient
	// unreachable server does not burn the one-shot token.
	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return err
	}
	if !confirmed && !e.consumeDeleteGrant(domain, opts.Token) {
		return fmt.Errorf("%w: %s", model.ErrConfirmationRequired, domain)
	}

	site.Status = model.StatusDeleting
	if err := e.commitSite(site, nil); err != nil {
		return err
	}

	if err := e.stacks.Teardown(ctx, server, domain, opts.PurgeVolumes); err != nil {
		return e.failTeardown(site, err)
	}
	if err := e.proxy.Remove(ctx, server, domain); err != nil {
		return e.failTeardown(site, err)
	}

	if rec, ok := e.siteCertificate(site); ok && opts.RevokeCert {
		if err := e.certs.Revoke(ctx, server, rec); err != nil {
			return e.failTeardown(site, err)
		}
	}

	if e.catalog != nil {
		if err := e.catalog.DeleteFor(domain); err != nil {
			e.logger.Warn("pruning backup catalog failed", "domain", domain, "err", err)
		}
	}

	err = e.store.Commit(func(snap *store.Snapshot) error {
		delete(snap.Sites, domain)
		delete(snap.Certificates, certKey(site))
		return nil
	})
	if err != nil {
		return err
	}

	e.audit("delete", domain, "ok", "")
	e.logger.Info("site deleted", "domain", domain)
	return nil
}

// Site returns the current model record for a domain.
func (e *Engine) Site(domain string) (model.Site, error) {
	site, ok := e.store.Site(domain)
	if !ok {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	return site, nil
}

// Sites returns all known sites.
func (e *Engine) Sites() []model.Site {
	snap := e.store.View()
	out := make([]model.Site, 0, len(snap.Sites))
	for _, s := range snap.Sites {
		out = append(out, s)
	}
	return out
}

// InstallPHPExtension installs an extension into a running site's PHP
// container and records it on the model so rebuilds keep it.
func (e *Engine) InstallPHPExtension(ctx context.Context, domain, extension string) error {
	if !extensionNamePattern.MatchString(extension) {
		return fmt.Errorf("%w: invalid extension name %q", model.ErrInvalidDomain, extension)
	}

	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	for _, ext := range site.PHPExtensions {
		if ext == extension {
			return nil
		}
	}

	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return err
	}

	container := proxy.PHPUpstream(domain)
	cmd := fmt.Sprintf("docker exec %s docker-php-ext-install %s && docker restart %s",
		shellQuote(container), shellQuote(extension), shellQuote(container))
	if _, err := e.exec.Execute(ctx, server, cmd); err != nil {
		return fmt.Errorf("install extension %s on %s: %w", extension, domain, err)
	}

	site.PHPExtensions = append(site.PHPExtensions, extension)
	// The running container already has the extension; refresh the stored
	// fingerprint so the next rebuild does not recreate it.
	desc, err := stack.Compute(site)
	if err != nil {
		return err
	}
	site.StackHash = desc.Hash()
	if err := e.commitSite(site, nil); err != nil {
		return err
	}

	e.audit("install-extension", domain, "ok", extension)
	return nil
}
