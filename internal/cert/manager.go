package cert

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
)

// Certificates issued through certbot are valid for 90 days.
const certLifetime = 90 * 24 * time.Hour

// TXTLookupFunc abstracts DNS TXT resolution for testability.
type TXTLookupFunc func(fqdn string) ([]string, error)

// Manager drives certificate issuance and renewal through certbot on the
// target host and tracks each certificate's state machine:
//
//	unissued → pending-validation → valid → expired
//	any state → failed on validation error; a retry re-enters pending-validation
//
// The manager never writes the config store itself; it returns updated
// records for the lifecycle engine to commit.
type Manager struct {
	exec          executor.Executor
	certRoot      string // host-side certbot config dir
	renewalWindow time.Duration
	lookupTXT     TXTLookupFunc
	now           func() time.Time
	newToken      func() string
	logger        *slog.Logger
}

// NewManager creates a certificate manager.
func NewManager(exec executor.Executor, certRoot string, renewalWindow time.Duration, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		exec:          exec,
		certRoot:      certRoot,
		renewalWindow: renewalWindow,
		lookupTXT:     net.LookupTXT,
		now:           time.Now,
		newToken:      uuid.NewString,
		logger:        logger,
	}
}

// SetTXTLookup overrides the DNS TXT resolver. Used by tests and callers
// that resolve through a non-default resolver.
func (m *Manager) SetTXTLookup(fn TXTLookupFunc) {
	if fn != nil {
		m.lookupTXT = fn
	}
}

// NewRecord creates the unissued certificate record for a site. Wildcard mode
// tracks the "*.domain" pattern; standard mode tracks the bare domain.
func (m *Manager) NewRecord(domain string, mode model.SSLMode) model.CertificateRecord {
	rec := model.CertificateRecord{Domain: domain, State: model.CertUnissued}
	if mode == model.SSLWildcard {
		rec.Domain = "*." + domain
		rec.Wildcard = true
		rec.Method = "dns-01"
	} else {
		rec.Method = "http-01"
	}
	return rec
}

// CertName is the certbot certificate name for a record: the wildcard prefix
// is stripped so artifact paths stay deterministic per base domain.
func CertName(rec model.CertificateRecord) string {
	return strings.TrimPrefix(rec.Domain, "*.")
}

// ArtifactPaths returns the deterministic private key and chain paths for a
// record on the target host.
func (m *Manager) ArtifactPaths(rec model.CertificateRecord) (keyPath, chainPath string) {
	name := CertName(rec)
	return m.certRoot + "/live/" + name + "/privkey.pem",
		m.certRoot + "/live/" + name + "/fullchain.pem"
}

// Issue starts issuance for an unissued (or previously failed) record.
//
// Standard certificates are validated over HTTP and issued synchronously.
// Wildcard certificates require a DNS TXT challenge that only the operator
// can publish, so Issue parks the record in pending-validation with the
// expected record value and returns; issuance resumes via ConfirmDNS.
func (m *Manager) Issue(ctx context.Context, server model.Server, rec model.CertificateRecord) (model.CertificateRecord, error) {
	if rec.Wildcard {
		rec.State = model.CertPendingValidation
		rec.ChallengeToken = m.newToken()
		rec.LastError = ""
		m.logger.Info("awaiting DNS challenge",
			"domain", rec.Domain,
			"record", ChallengeFQDN(rec),
			"value", rec.ChallengeToken,
		)
		return rec, nil
	}

	name := CertName(rec)
	cmd := fmt.Sprintf(
		"certbot certonly --webroot -w /var/www/html/%s -d %s -d www.%s --cert-name %s --agree-tos --non-interactive",
		name, name, name, name)
	if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
		rec.State = model.CertFailed
		rec.LastError = err.Error()
		return rec, fmt.Errorf("issue certificate for %s: %w", rec.Domain, err)
	}

	return m.markIssued(rec), nil
}

// ChallengeFQDN is the DNS name the operator must publish the TXT record at.
func ChallengeFQDN(rec model.CertificateRecord) string {
	return "_acme-challenge." + CertName(rec)
}

// ConfirmDNS resumes a suspended wildcard issuance after the operator signals
// the TXT record is published. The record is verified once — propagation
// timing is outside the system's control, so there is no polling; a missing
// or mismatched record fails validation and the operator retries.
func (m *Manager) ConfirmDNS(ctx context.Context, server model.Server, rec model.CertificateRecord) (model.CertificateRecord, error) {
	if rec.State != model.CertPendingValidation {
		return rec, fmt.Errorf("certificate for %s is not awaiting validation (state %s)", rec.Domain, rec.State)
	}

	values, err := m.lookupTXT(ChallengeFQDN(rec))
	if err != nil {
		rec.State = model.CertFailed
		rec.LastError = fmt.Sprintf("TXT lookup failed: %v", err)
		return rec, fmt.Errorf("validate %s: %w", rec.Domain, err)
	}
	found := false
	for _, v := range values {
		if strings.Contains(v, rec.ChallengeToken) {
			found = true
			break
		}
	}
	if !found {
		rec.State = model.CertFailed
		rec.LastError = "expected TXT record not found"
		return rec, fmt.Errorf("validate %s: expected TXT record not published", rec.Domain)
	}

	name := CertName(rec)
	cmd := fmt.Sprintf(
		"certbot certonly --manual --preferred-challenges=dns -d %s -d '*.%s' --cert-name %s "+
			"--manual-auth-hook 'echo %s' --agree-tos --non-interactive",
		name, name, name, rec.ChallengeToken)
	if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
		rec.State = model.CertFailed
		rec.LastError = err.Error()
		return rec, fmt.Errorf("issue wildcard certificate for %s: %w", rec.Domain, err)
	}

	return m.markIssued(rec), nil
}

// RetryValidation moves a failed record back into pending-validation with a
// fresh challenge token.
func (m *Manager) RetryValidation(rec model.CertificateRecord) (model.CertificateRecord, error) {
	if rec.State != model.CertFailed {
		return rec, fmt.Errorf("certificate for %s has not failed (state %s)", rec.Domain, rec.State)
	}
	rec.State = model.CertPendingValidation
	rec.LastError = ""
	if rec.Wildcard {
		rec.ChallengeToken = m.newToken()
	}
	return rec, nil
}

// RenewalDue reports whether the record is inside its renewal window.
func (m *Manager) RenewalDue(rec model.CertificateRecord) bool {
	if rec.State != model.CertValid {
		return false
	}
	return !m.now().Before(rec.ExpiresAt.Add(-m.renewalWindow))
}

// Renew reissues a certificate approaching expiry. A failed renewal does not
// revoke the still-valid certificate: the record stays valid on its old
// expiry and keeps serving traffic.
func (m *Manager) Renew(ctx context.Context, server model.Server, rec model.CertificateRecord) (model.CertificateRecord, error) {
	cmd := fmt.Sprintf("certbot renew --cert-name %s --non-interactive", CertName(rec))
	if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
		rec.LastError = fmt.Sprintf("renewal failed: %v", err)
		return rec, fmt.Errorf("renew certificate for %s: %w", rec.Domain, err)
	}
	return m.markIssued(rec), nil
}

// Expire transitions a valid record to expired once its expiry has passed.
// The transition never happens before the expiry timestamp.
func (m *Manager) Expire(rec model.CertificateRecord) model.CertificateRecord {
	if rec.State == model.CertValid && !m.now().Before(rec.ExpiresAt) {
		rec.State = model.CertExpired
	}
	return rec
}

// Revoke revokes and deletes the certificate on the host. Used by site
// deletion when the caller asks for it.
func (m *Manager) Revoke(ctx context.Context, server model.Server, rec model.CertificateRecord) error {
	if rec.State != model.CertValid && rec.State != model.CertExpired {
		return nil
	}
	cmd := fmt.Sprintf("certbot revoke --cert-name %s --delete-after-revoke --non-interactive", CertName(rec))
	if _, err := m.exec.Execute(ctx, server, cmd); err != nil {
		return fmt.Errorf("revoke certificate for %s: %w", rec.Domain, err)
	}
	return nil
}

func (m *Manager) markIssued(rec model.CertificateRecord) model.CertificateRecord {
	now := m.now().UTC()
	rec.State = model.CertValid
	rec.IssuedAt = now
	rec.ExpiresAt = now.Add(certLifetime)
	rec.LastError = ""
	rec.ChallengeToken = ""
	return rec
}
