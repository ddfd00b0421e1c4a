package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/xedro98/Glacier/internal/model"
)

// Snapshot is the canonical persisted model: every known site, server and
// certificate record, keyed by domain / server id / certificate domain.
type Snapshot struct {
	Sites        map[string]model.Site              `yaml:"sites"`
	Servers      map[string]model.Server            `yaml:"servers"`
	Certificates map[string]model.CertificateRecord `yaml:"certificates"`
}

func emptySnapshot() Snapshot {
	return Snapshot{
		Sites:        map[string]model.Site{},
		Servers:      map[string]model.Server{},
		Certificates: map[string]model.CertificateRecord{},
	}
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	c := emptySnapshot()
	for k, v := range s.Sites {
		c.Sites[k] = v.Clone()
	}
	for k, v := range s.Servers {
		c.Servers[k] = v
	}
	for k, v := range s.Certificates {
		c.Certificates[k] = v
	}
	return c
}

// Store is the single source of truth for the persisted model. The full file
// is read once at startup; every committed mutation rewrites it atomically
// (write-new-then-rename) so a crash never leaves a partial file behind.
//
// Readers always get point-in-time copies, never live references.
type Store struct {
	mu   sync.RWMutex
	path string
	snap Snapshot
}

// Open loads the model file, creating an empty store if it does not exist yet.
func Open(path string) (*Store, error) {
	s := &Store{path: path, snap: emptySnapshot()}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if err := yaml.Unmarshal(data, &s.snap); err != nil {
		return nil, fmt.Errorf("parse state file: %w", err)
	}
	if s.snap.Sites == nil {
		s.snap.Sites = map[string]model.Site{}
	}
	if s.snap.Servers == nil {
		s.snap.Servers = map[string]model.Server{}
	}
	if s.snap.Certificates == nil {
		s.snap.Certificates = map[string]model.CertificateRecord{}
	}
	return s, nil
}

// View returns a point-in-time deep copy of the whole model.
func (s *Store) View() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.Clone()
}

// Site returns a copy of the site for domain.
func (s *Store) Site(domain string) (model.Site, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	site, ok := s.snap.Sites[domain]
	return site.Clone(), ok
}

// Server returns a copy of the server record.
func (s *Store) Server(id string) (model.Server, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	srv, ok := s.snap.Servers[id]
	return srv, ok
}

// Certificate returns a copy of the certificate record for domain.
func (s *Store) Certificate(domain string) (model.CertificateRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.snap.Certificates[domain]
	return rec, ok
}

// SitesOn returns copies of all sites assigned to the given server.
func (s *Store) SitesOn(serverID string) []model.Site {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Site
	for _, site := range s.snap.Sites {
		if site.ServerID == serverID {
			out = append(out, site.Clone())
		}
	}
	return out
}

// Commit applies a mutation to the model and persists it atomically. If either
// the mutation or the write fails, the in-memory model is left unchanged.
// All record mutations, including multi-record ones such as a staging swap,
// go through a single Commit so readers never observe a torn write.
func (s *Store) Commit(mutate func(*Snapshot) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.snap.Clone()
	if err := mutate(&next); err != nil {
		return err
	}
	if err := s.save(next); err != nil {
		return err
	}
	s.snap = next
	return nil
}

func (s *Store) save(snap Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}
