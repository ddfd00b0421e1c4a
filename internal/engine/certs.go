package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/store"
)

// ChallengeInfo tells the operator which DNS TXT record to publish for a
// suspended wildcard issuance.
type ChallengeInfo struct {
	Record string `json:"record"` // _acme-challenge.<domain>
	Value  string `json:"value"`
}

// PendingChallenge returns the DNS record an operator must publish before
// confirming a wildcard certificate.
func (e *Engine) PendingChallenge(domain string) (ChallengeInfo, error) {
	site, ok := e.store.Site(domain)
	if !ok {
		return ChallengeInfo{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	rec, ok := e.siteCertificate(site)
	if !ok || rec.State != model.CertPendingValidation {
		return ChallengeInfo{}, fmt.Errorf("no pending certificate challenge for %s", domain)
	}
	return ChallengeInfo{
		Record: "_acme-challenge." + domain,
		Value:  rec.ChallengeToken,
	}, nil
}

// ConfirmDNSChallenge resumes a suspended wildcard issuance after the
// operator has published the TXT record. On success the certificate goes
// valid and the site's vhost is rewritten for TLS termination.
func (e *Engine) ConfirmDNSChallenge(ctx context.Context, domain string) (model.CertificateRecord, error) {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return model.CertificateRecord{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	rec, ok := e.siteCertificate(site)
	if !ok {
		return model.CertificateRecord{}, fmt.Errorf("no certificate record for %s", domain)
	}
	server, err := e.resolveTarget(ctx, site)
	if err != nil {
		return rec, err
	}

	rec, err = e.certs.ConfirmDNS(ctx, server, rec)
	if commitErr := e.commitSite(site, &rec); commitErr != nil {
		return rec, commitErr
	}
	if err != nil {
		e.audit("confirm-dns", domain, "error", err.Error())
		return rec, err
	}

	if err := e.applyProxy(ctx, site, rec, server); err != nil {
		return rec, err
	}

	e.audit("confirm-dns", domain, "ok", "")
	e.logger.Info("wildcard certificate issued", "domain", domain, "expires", rec.ExpiresAt)
	return rec, nil
}

// RetryCertificate moves a failed certificate back into pending-validation.
// Standard certificates reissue immediately; wildcard certificates get a
// fresh challenge token and wait for the operator again.
func (e *Engine) RetryCertificate(ctx context.Context, domain string) (model.CertificateRecord, error) {
	unlock := e.lock(domain)
	defer unlock()

	site, ok := e.store.Site(domain)
	if !ok {
		return model.CertificateRecord{}, fmt.Errorf("%w: %s", model.ErrUnknownDomain, domain)
	}
	rec, ok := e.siteCertificate(site)
	if !ok {
		return model.CertificateRecord{}, fmt.Errorf("no certificate record for %s", domain)
	}

	rec, err := e.certs.RetryValidation(rec)
	if err != nil {
		return rec, err
	}

	if !rec.Wildcard {
		server, err := e.resolveTarget(ctx, site)
		if err != nil {
			return rec, err
		}
		rec, err = e.certs.Issue(ctx, server, rec)
		if commitErr := e.commitSite(site, &rec); commitErr != nil {
			return rec, commitErr
		}
		if err != nil {
			return rec, err
		}
		if rec.State == model.CertValid {
			if err := e.applyProxy(ctx, site, rec, server); err != nil {
				return rec, err
			}
		}
		return rec, nil
	}

	if err := e.commitSite(site, &rec); err != nil {
		return rec, err
	}
	return rec, nil
}

// RenewDueCertificates reissues every valid certificate inside its renewal
// window. A failed renewal keeps the existing certificate serving traffic on
// its old expiry; the failure is logged and retried on the next sweep.
// Intended for a periodic scheduler.
func (e *Engine) RenewDueCertificates(ctx context.Context) {
	snap := e.store.View()
	for _, site := range snap.Sites {
		rec, ok := e.siteCertificate(site)
		if !ok || !e.certs.RenewalDue(rec) {
			continue
		}

		unlock := e.lock(site.Domain)
		server, err := e.resolveTarget(ctx, site)
		if err != nil {
			e.logger.Warn("renewal skipped", "domain", site.Domain, "err", err)
			unlock()
			continue
		}
		renewed, err := e.certs.Renew(ctx, server, rec)
		if commitErr := e.commitSite(site, &renewed); commitErr != nil {
			e.logger.Error("persisting renewed certificate failed", "domain", site.Domain, "err", commitErr)
		}
		if err != nil {
			e.logger.Warn("certificate renewal failed", "domain", site.Domain, "err", err)
			e.audit("renew", site.Domain, "error", err.Error())
		} else {
			e.audit("renew", site.Domain, "ok", "")
		}
		unlock()
	}
}

// ExpireSweep transitions certificates past their expiry to expired and
// rewrites the affected vhosts back to plaintext. Intended for a periodic
// scheduler.
func (e *Engine) ExpireSweep(ctx context.Context) {
	snap := e.store.View()
	for key, rec := range snap.Certificates {
		domain := strings.TrimPrefix(rec.Domain, "*.")
		unlock := e.lock(domain)

		// Re-read under the domain lock: a renewal may have landed since the
		// sweep's view was taken, and its fresh expiry must not be clobbered.
		cur, ok := e.store.Certificate(key)
		if !ok {
			unlock()
			continue
		}
		next := e.certs.Expire(cur)
		if next.State == cur.State {
			unlock()
			continue
		}

		err := e.store.Commit(func(s *store.Snapshot) error {
			s.Certificates[key] = next
			return nil
		})
		if err != nil {
			e.logger.Error("persisting expired certificate failed", "domain", cur.Domain, "err", err)
			unlock()
			continue
		}
		e.logger.Warn("certificate expired", "domain", cur.Domain)

		for _, site := range e.store.View().Sites {
			if certKey(site) != key {
				continue
			}
			if site.Status != model.StatusActive && site.Status != model.StatusStaging {
				continue
			}
			server, err := e.registry.Resolve(site.ServerID)
			if err != nil {
				e.logger.Warn("rewriting vhost after expiry failed", "domain", site.Domain, "err", err)
				continue
			}
			if err := e.applyProxy(ctx, site, next, server); err != nil {
				e.logger.Warn("rewriting vhost after expiry failed", "domain", site.Domain, "err", err)
			}
		}
		unlock()
	}
}
