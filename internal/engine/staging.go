package engine

import (
	"context"
	"fmt"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/stack"
	"github.com/xedro98/Glacier/internal/store"
)

// StagingDomain derives the staging subdomain for a production domain.
func StagingDomain(domain string) string {
	return "staging." + domain
}

// Stage creates a disposable staging copy of a production site on the same
// server: staging.<domain>, content mirrored from the production document
// root, SSL mode defaulted to standard.
func (e *Engine) Stage(ctx context.Context, domain string) (model.Site, error) {
	stagingDomain := StagingDomain(domain)

	// Both domains are locked: the staging site is created under the staging
	// domain's name, and a concurrent operation on that domain must not
	// interleave with its creation.
	unlock := e.lockPair(domain, stagingDomain)
	defer unlock()

	source, ok := e.store.Site(domain)
	if !ok {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	if source.IsStaging() {
		return model.Site{}, fmt.Errorf("%w: %s is itself a staging site", model.ErrInvalidDomain, domain)
	}
	if _, exists := e.store.Site(stagingDomain); exists {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrAlreadyStaged, stagingDomain)
	}

	staging := source.Clone()
	staging.Domain = stagingDomain
	staging.StagingFor = domain
	staging.SSLMode = model.SSLStandard
	staging.GitSource = ""
	staging.ServicePorts = nil // host ports stay with production
	staging.Status = model.StatusPending
	staging.StackHash = ""
	staging.FailedStage = ""
	staging.CreatedAt = e.now().UTC()

	server, err := e.resolveTarget(ctx, staging)
	if err != nil {
		return model.Site{}, err
	}

	desc, err := stack.Compute(staging)
	if err != nil {
		return model.Site{}, err
	}
	if err := e.descriptorConflicts(desc, staging.ServerID); err != nil {
		return model.Site{}, err
	}

	rec := e.certs.NewRecord(staging.Domain, staging.SSLMode)
	staging.Status = model.StatusProvisioning
	if err := e.commitSite(staging, &rec); err != nil {
		return model.Site{}, err
	}

	if err := e.mirrorContent(ctx, server, domain, stagingDomain); err != nil {
		return staging, e.failStage(staging, &rec, stageSource, err)
	}

	staging, rec, stage, err := e.provision(ctx, server, staging, rec)
	if err != nil {
		return staging, e.failStage(staging, &rec, stage, err)
	}

	staging.Status = model.StatusStaging
	staging.FailedStage = ""
	if err := e.commitSite(staging, &rec); err != nil {
		return staging, err
	}

	e.audit("stage", domain, "ok", stagingDomain)
	e.logger.Info("staging site created", "domain", domain, "staging", stagingDomain)
	return staging, nil
}

// mirrorContent copies one site's document root over another's on the host.
// The destination is swapped in whole so a reader never sees a half-copied
// tree.
func (e *Engine) mirrorContent(ctx context.Context, server model.Server, fromDomain, toDomain string) error {
	src := e.stacks.SiteDir(fromDomain)
	dst := e.stacks.SiteDir(toDomain)
	cmd := fmt.Sprintf(
		"rm -rf %[2]s.new && cp -a %[1]s %[2]s.new && rm -rf %[2]s.old && "+
			"{ [ ! -e %[2]s ] || mv %[2]s %[2]s.old; } && mv %[2]s.new %[2]s && rm -rf %[2]s.old",
		shellQuote(src), shellQuote(dst))
	if _, err := e.exec.Execute(ctx, server, cmd); err != nil {
		return fmt.Errorf("mirror %s into %s: %w", fromDomain, toDomain, err)
	}
	return nil
}

// Promote swaps a staging site's content and configuration into its linked
// production site, then removes the staging site. The two model records
// mutate as one unit: a single store commit at the end, so readers never
// observe both sites active or neither serving the domain.
//
// Once the production stack has been swapped, the remaining cleanup half is
// retried before failing; if it still fails, the swap is committed anyway and
// the leftover staging containers are reported for manual cleanup. A
// half-applied swap is never persisted as a steady state.
func (e *Engine) Promote(ctx context.Context, stagingDomain string) (model.Site, error) {
	peek, ok := e.store.Site(stagingDomain)
	if !ok {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, stagingDomain)
	}
	if !peek.IsStaging() {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrNotStaging, stagingDomain)
	}

	unlock := e.lockPair(stagingDomain, peek.StagingFor)
	defer unlock()

	staging, ok := e.store.Site(stagingDomain)
	if !ok || !staging.IsStaging() {
		return model.Site{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, stagingDomain)
	}
	prod, ok := e.store.Site(staging.StagingFor)
	if !ok {
		return model.Site{}, fmt.Errorf("%w: production site %s", model.ErrUnknownDomain, staging.StagingFor)
	}

	server, err := e.resolveTarget(ctx, prod)
	if err != nil {
		return model.Site{}, err
	}

	// First half: production takes over the staging content and stack shape.
	// Failure here leaves the persisted model untouched; the operation is
	// retried wholesale.
	next := prod.Clone()
	next.PHPVersion = staging.PHPVersion
	next.Services = append([]string(nil), staging.Services...)
	next.PHPExtensions = append([]string(nil), staging.PHPExtensions...)
	next.RewriteRules = append([]string(nil), staging.RewriteRules...)

	if err := e.mirrorContent(ctx, server, stagingDomain, prod.Domain); err != nil {
		return prod, fmt.Errorf("promote %s: %w", stagingDomain, err)
	}

	desc, err := stack.Compute(next)
	if err != nil {
		return prod, err
	}
	current, err := e.stacks.CurrentState(ctx, server, next.Domain)
	if err != nil {
		return prod, fmt.Errorf("promote %s: %w", stagingDomain, err)
	}
	plan := stack.Reconcile(desc, current)
	if err := e.stacks.Apply(ctx, server, desc, plan); err != nil {
		return prod, fmt.Errorf("promote %s: %w", stagingDomain, err)
	}
	if err := e.ensureExtensions(ctx, server, next, plan); err != nil {
		return prod, fmt.Errorf("promote %s: %w", stagingDomain, err)
	}
	next.StackHash = desc.Hash()

	rec, _ := e.siteCertificate(next)
	if err := e.applyProxy(ctx, next, rec, server); err != nil {
		return prod, fmt.Errorf("promote %s: %w", stagingDomain, err)
	}

	// Second half: retire the staging copy. The production swap is already
	// live, so this half is retried instead of rolled back.
	var cleanupErr error
	for attempt := 0; attempt < 2; attempt++ {
		cleanupErr = e.retireStaging(ctx, server, stagingDomain)
		if cleanupErr == nil {
			break
		}
		e.logger.Warn("staging cleanup failed, retrying", "staging", stagingDomain, "attempt", attempt+1, "err", cleanupErr)
	}

	next.Status = model.StatusActive
	next.FailedStage = ""
	commitErr := e.store.Commit(func(snap *store.Snapshot) error {
		next.UpdatedAt = e.now().UTC()
		snap.Sites[next.Domain] = next
		delete(snap.Sites, stagingDomain)
		delete(snap.Certificates, certKey(staging))
		return nil
	})
	if commitErr != nil {
		return prod, commitErr
	}

	if cleanupErr != nil {
		e.audit("promote", next.Domain, "error", fmt.Sprintf("staging cleanup incomplete: %v", cleanupErr))
		return next, fmt.Errorf("promote %s: staging resources need manual cleanup: %w", stagingDomain, cleanupErr)
	}

	e.audit("promote", next.Domain, "ok", stagingDomain)
	e.logger.Info("staging promoted", "domain", next.Domain, "staging", stagingDomain)
	return next, nil
}

func (e *Engine) retireStaging(ctx context.Context, server model.Server, stagingDomain string) error {
	if err := e.stacks.Teardown(ctx, server, stagingDomain, true); err != nil {
		return err
	}
	return e.proxy.Remove(ctx, server, stagingDomain)
}
