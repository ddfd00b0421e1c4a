package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xedro98/Glacier/internal/model"
)

func tempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.yml")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return s, path
}

func TestCommitPersistsAndReloads(t *testing.T) {
	s, path := tempStore(t)

	err := s.Commit(func(snap *Snapshot) error {
		snap.Servers["local"] = model.Server{ID: "local", Role: model.RoleLocal}
		snap.Sites["example.com"] = model.Site{
			Domain:     "example.com",
			PHPVersion: "8.2",
			SSLMode:    model.SSLStandard,
			ServerID:   "local",
			Status:     model.StatusActive,
			Services:   []string{"mariadb"},
		}
		snap.Certificates["example.com"] = model.CertificateRecord{
			Domain:    "example.com",
			State:     model.CertValid,
			ExpiresAt: time.Now().Add(90 * 24 * time.Hour).UTC(),
		}
		return nil
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	site, ok := reloaded.Site("example.com")
	if !ok {
		t.Fatal("site missing after reload")
	}
	if site.PHPVersion != "8.2" || site.ServerID != "local" {
		t.Fatalf("unexpected site after reload: %+v", site)
	}
	if _, ok := reloaded.Server("local"); !ok {
		t.Fatal("server missing after reload")
	}
	if rec, ok := reloaded.Certificate("example.com"); !ok || rec.State != model.CertValid {
		t.Fatalf("certificate missing or wrong state after reload: %+v", rec)
	}
}

func TestCommitFailureLeavesModelUnchanged(t *testing.T) {
	s, _ := tempStore(t)

	if err := s.Commit(func(snap *Snapshot) error {
		snap.Sites["a.com"] = model.Site{Domain: "a.com"}
		return nil
	}); err != nil {
		t.Fatalf("seed commit: %v", err)
	}

	boom := errors.New("boom")
	err := s.Commit(func(snap *Snapshot) error {
		snap.Sites["b.com"] = model.Site{Domain: "b.com"}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected mutation error, got %v", err)
	}
	if _, ok := s.Site("b.com"); ok {
		t.Fatal("failed commit must not mutate the model")
	}
	if _, ok := s.Site("a.com"); !ok {
		t.Fatal("earlier commit lost")
	}
}

func TestCommitLeavesNoTempFile(t *testing.T) {
	s, path := tempStore(t)
	if err := s.Commit(func(snap *Snapshot) error {
		snap.Sites["a.com"] = model.Site{Domain: "a.com"}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind after commit")
	}
}

func TestViewReturnsCopies(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.Commit(func(snap *Snapshot) error {
		snap.Sites["a.com"] = model.Site{Domain: "a.com", Services: []string{"mariadb"}}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}

	view := s.View()
	site := view.Sites["a.com"]
	site.Services[0] = "mutated"
	view.Sites["a.com"] = site

	fresh, _ := s.Site("a.com")
	if fresh.Services[0] != "mariadb" {
		t.Fatal("view mutation leaked into the store")
	}
}

func TestSitesOnFiltersByServer(t *testing.T) {
	s, _ := tempStore(t)
	if err := s.Commit(func(snap *Snapshot) error {
		snap.Sites["a.com"] = model.Site{Domain: "a.com", ServerID: "s1"}
		snap.Sites["b.com"] = model.Site{Domain: "b.com", ServerID: "s2"}
		snap.Sites["c.com"] = model.Site{Domain: "c.com", ServerID: "s1"}
		return nil
	}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if got := len(s.SitesOn("s1")); got != 2 {
		t.Fatalf("expected 2 sites on s1, got %d", got)
	}
	if got := len(s.SitesOn("s3")); got != 0 {
		t.Fatalf("expected 0 sites on s3, got %d", got)
	}
}
