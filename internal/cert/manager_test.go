package cert

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xedro98/Glacier/internal/executor"
	"github.com/xedro98/Glacier/internal/model"
)

type fakeExec struct {
	commands []string
	failOn   string // substring that makes a command fail
}

func (f *fakeExec) Execute(_ context.Context, _ model.Server, command string) (executor.Result, error) {
	f.commands = append(f.commands, command)
	if f.failOn != "" && strings.Contains(command, f.failOn) {
		return executor.Result{ExitCode: 1, Stderr: "certbot error"},
			&executor.ExecutionError{Command: command, ExitCode: 1, Stderr: "certbot error"}
	}
	return executor.Result{}, nil
}

var server = model.Server{ID: "local", Role: model.RoleLocal}

func testManager(fe *fakeExec, now time.Time) *Manager {
	m := NewManager(fe, "/etc/letsencrypt", 30*24*time.Hour, nil)
	m.now = func() time.Time { return now }
	m.newToken = func() string { return "challenge-token" }
	m.lookupTXT = func(string) ([]string, error) {
		return []string{"challenge-token"}, nil
	}
	return m
}

func TestStandardIssuance(t *testing.T) {
	fe := &fakeExec{}
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	m := testManager(fe, now)

	rec := m.NewRecord("example.com", model.SSLStandard)
	if rec.State != model.CertUnissued || rec.Wildcard {
		t.Fatalf("unexpected new record: %+v", rec)
	}

	rec, err := m.Issue(context.Background(), server, rec)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec.State != model.CertValid {
		t.Fatalf("expected valid, got %s", rec.State)
	}
	if !rec.ExpiresAt.Equal(now.Add(90 * 24 * time.Hour)) {
		t.Fatalf("unexpected expiry: %v", rec.ExpiresAt)
	}
	if len(fe.commands) != 1 || !strings.Contains(fe.commands[0], "certbot certonly --webroot") {
		t.Fatalf("unexpected commands: %v", fe.commands)
	}
}

func TestStandardIssuanceFailure(t *testing.T) {
	fe := &fakeExec{failOn: "certonly"}
	m := testManager(fe, time.Now())

	rec := m.NewRecord("example.com", model.SSLStandard)
	rec, err := m.Issue(context.Background(), server, rec)
	if err == nil {
		t.Fatal("expected issuance error")
	}
	if rec.State != model.CertFailed || rec.LastError == "" {
		t.Fatalf("expected failed record with error, got %+v", rec)
	}

	// Retry re-enters pending-validation... standard certs go straight back
	// through Issue, wildcard records through RetryValidation.
	rec, err = m.RetryValidation(rec)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.State != model.CertPendingValidation {
		t.Fatalf("expected pending-validation after retry, got %s", rec.State)
	}
}

func TestWildcardIssuanceIsSuspended(t *testing.T) {
	fe := &fakeExec{}
	m := testManager(fe, time.Now())

	rec := m.NewRecord("example.com", model.SSLWildcard)
	if rec.Domain != "*.example.com" || !rec.Wildcard {
		t.Fatalf("unexpected wildcard record: %+v", rec)
	}

	rec, err := m.Issue(context.Background(), server, rec)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if rec.State != model.CertPendingValidation {
		t.Fatalf("wildcard issuance must suspend, got %s", rec.State)
	}
	if rec.ChallengeToken == "" {
		t.Fatal("challenge token missing")
	}
	if len(fe.commands) != 0 {
		t.Fatalf("no external commands before the operator confirms, got %v", fe.commands)
	}
	if got := ChallengeFQDN(rec); got != "_acme-challenge.example.com" {
		t.Fatalf("unexpected challenge fqdn: %s", got)
	}
}

func TestConfirmDNSHappyPath(t *testing.T) {
	fe := &fakeExec{}
	m := testManager(fe, time.Now())

	rec := m.NewRecord("example.com", model.SSLWildcard)
	rec, _ = m.Issue(context.Background(), server, rec)

	rec, err := m.ConfirmDNS(context.Background(), server, rec)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if rec.State != model.CertValid {
		t.Fatalf("expected valid, got %s", rec.State)
	}
	if len(fe.commands) != 1 || !strings.Contains(fe.commands[0], "--preferred-challenges=dns") {
		t.Fatalf("unexpected commands: %v", fe.commands)
	}
}

func TestConfirmDNSRecordNotPublished(t *testing.T) {
	fe := &fakeExec{}
	m := testManager(fe, time.Now())
	m.lookupTXT = func(string) ([]string, error) { return []string{"something-else"}, nil }

	rec := m.NewRecord("example.com", model.SSLWildcard)
	rec, _ = m.Issue(context.Background(), server, rec)

	rec, err := m.ConfirmDNS(context.Background(), server, rec)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if rec.State != model.CertFailed {
		t.Fatalf("expected failed, got %s", rec.State)
	}
	if len(fe.commands) != 0 {
		t.Fatal("certbot must not run when the TXT record is missing")
	}

	// Retry re-enters pending-validation with a fresh token.
	rec, err = m.RetryValidation(rec)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if rec.State != model.CertPendingValidation || rec.ChallengeToken == "" {
		t.Fatalf("unexpected record after retry: %+v", rec)
	}
}

func TestExpireNeverBeforeExpiry(t *testing.T) {
	expiry := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	rec := model.CertificateRecord{Domain: "example.com", State: model.CertValid, ExpiresAt: expiry}

	cases := []struct {
		now  time.Time
		want model.CertState
	}{
		{expiry.Add(-time.Hour), model.CertValid},
		{expiry.Add(-time.Nanosecond), model.CertValid},
		{expiry, model.CertExpired},
		{expiry.Add(time.Hour), model.CertExpired},
	}
	for _, tc := range cases {
		m := testManager(&fakeExec{}, tc.now)
		if got := m.Expire(rec).State; got != tc.want {
			t.Fatalf("at %v: expected %s, got %s", tc.now, tc.want, got)
		}
	}
}

func TestRenewalDueWindow(t *testing.T) {
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	rec := model.CertificateRecord{Domain: "example.com", State: model.CertValid, ExpiresAt: expiry}

	m := testManager(&fakeExec{}, expiry.Add(-31*24*time.Hour))
	if m.RenewalDue(rec) {
		t.Fatal("renewal must not be due outside the window")
	}
	m = testManager(&fakeExec{}, expiry.Add(-29*24*time.Hour))
	if !m.RenewalDue(rec) {
		t.Fatal("renewal must be due inside the window")
	}
	rec.State = model.CertPendingValidation
	if m.RenewalDue(rec) {
		t.Fatal("only valid certificates renew")
	}
}

func TestRenewFailureKeepsValidCert(t *testing.T) {
	fe := &fakeExec{failOn: "renew"}
	expiry := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	m := testManager(fe, expiry.Add(-10*24*time.Hour))

	rec := model.CertificateRecord{Domain: "example.com", State: model.CertValid, ExpiresAt: expiry}
	got, err := m.Renew(context.Background(), server, rec)
	if err == nil {
		t.Fatal("expected renewal error")
	}
	var execErr *executor.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("expected ExecutionError, got %v", err)
	}
	if got.State != model.CertValid {
		t.Fatalf("failed renewal must keep the certificate valid, got %s", got.State)
	}
	if !got.ExpiresAt.Equal(expiry) {
		t.Fatalf("failed renewal must keep the old expiry, got %v", got.ExpiresAt)
	}
	if got.LastError == "" {
		t.Fatal("renewal failure must be recorded")
	}
}

func TestArtifactPathsDeterministic(t *testing.T) {
	m := testManager(&fakeExec{}, time.Now())
	rec := model.CertificateRecord{Domain: "*.example.com", Wildcard: true}
	key, chain := m.ArtifactPaths(rec)
	if key != "/etc/letsencrypt/live/example.com/privkey.pem" {
		t.Fatalf("unexpected key path: %s", key)
	}
	if chain != "/etc/letsencrypt/live/example.com/fullchain.pem" {
		t.Fatalf("unexpected chain path: %s", chain)
	}
}
