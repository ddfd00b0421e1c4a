package registry

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/xedro98/Glacier/internal/model"
	"github.com/xedro98/Glacier/internal/store"
)

const defaultProbeTTL = 2 * time.Minute

// ProbeFunc checks whether a server answers on its management channel.
// Abstracted for testability, like a DNS lookup would be.
type ProbeFunc func(ctx context.Context, server model.Server) error

// DefaultProbe dials the server's SSH address; local servers are always
// considered reachable.
func DefaultProbe(ctx context.Context, server model.Server) error {
	if server.Role == model.RoleLocal {
		return nil
	}
	addr := server.Address
	if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, "22")
	}
	d := net.Dialer{Timeout: 5 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}

type probeResult struct {
	err       error
	checkedAt time.Time
}

// Registry tracks the set of managed hosts and which sites are assigned to
// them. Reachability checks are advisory: they let multi-step operations fail
// fast, but are never authoritative for consistency.
type Registry struct {
	store  *store.Store
	probe  ProbeFunc
	ttl    time.Duration
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]probeResult
}

// New creates a Registry with the default SSH dial probe.
func New(st *store.Store, logger *slog.Logger) *Registry {
	return NewWithProbe(st, logger, DefaultProbe, defaultProbeTTL)
}

// NewWithProbe creates a Registry with a custom probe and cache staleness
// bound (for testing).
func NewWithProbe(st *store.Store, logger *slog.Logger, probe ProbeFunc, ttl time.Duration) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:  st,
		probe:  probe,
		ttl:    ttl,
		logger: logger,
		cache:  make(map[string]probeResult),
	}
}

// Add registers a managed host.
func (r *Registry) Add(server model.Server) error {
	if server.ID == "" {
		return fmt.Errorf("%w: server id is required", model.ErrUnknownServer)
	}
	if server.Role != model.RoleLocal && server.Role != model.RoleRemote {
		return fmt.Errorf("invalid server role %q", server.Role)
	}
	if server.Role == model.RoleRemote && server.Address == "" {
		return fmt.Errorf("remote server %s needs an address", server.ID)
	}
	server.CreatedAt = time.Now().UTC()

	return r.store.Commit(func(snap *store.Snapshot) error {
		if _, exists := snap.Servers[server.ID]; exists {
			return fmt.Errorf("%w: %s", model.ErrServerConflict, server.ID)
		}
		snap.Servers[server.ID] = server
		return nil
	})
}

// Remove deletes a host. It fails with ServerInUse while any site still
// references the server.
func (r *Registry) Remove(serverID string) error {
	err := r.store.Commit(func(snap *store.Snapshot) error {
		if _, ok := snap.Servers[serverID]; !ok {
			return fmt.Errorf("%w: %s", model.ErrUnknownServer, serverID)
		}
		for _, site := range snap.Sites {
			if site.ServerID == serverID {
				return fmt.Errorf("%w: site %s is assigned to %s", model.ErrServerInUse, site.Domain, serverID)
			}
		}
		delete(snap.Servers, serverID)
		return nil
	})
	if err != nil {
		return err
	}

	r.mu.Lock()
	delete(r.cache, serverID)
	r.mu.Unlock()
	return nil
}

// Resolve returns the connection target for a server id.
func (r *Registry) Resolve(serverID string) (model.Server, error) {
	server, ok := r.store.Server(serverID)
	if !ok {
		return model.Server{}, fmt.Errorf("%w: %s", model.ErrUnknownServer, serverID)
	}
	return server, nil
}

// List returns all registered servers.
func (r *Registry) List() []model.Server {
	snap := r.store.View()
	out := make([]model.Server, 0, len(snap.Servers))
	for _, s := range snap.Servers {
		out = append(out, s)
	}
	return out
}

// CheckReachable probes the server, serving cached results within the
// staleness bound. A failed probe returns ServerUnreachable.
func (r *Registry) CheckReachable(ctx context.Context, server model.Server) error {
	r.mu.Lock()
	if cached, ok := r.cache[server.ID]; ok && time.Since(cached.checkedAt) < r.ttl {
		r.mu.Unlock()
		return cached.err
	}
	r.mu.Unlock()

	var result error
	if err := r.probe(ctx, server); err != nil {
		result = fmt.Errorf("%w: %s: %v", model.ErrServerUnreachable, server.ID, err)
	}

	r.mu.Lock()
	r.cache[server.ID] = probeResult{err: result, checkedAt: time.Now()}
	r.mu.Unlock()
	return result
}

// RefreshAll re-probes every registered server, warming the cache. Intended
// for a periodic scheduler.
func (r *Registry) RefreshAll(ctx context.Context) {
	for _, server := range r.List() {
		r.mu.Lock()
		delete(r.cache, server.ID)
		r.mu.Unlock()
		if err := r.CheckReachable(ctx, server); err != nil {
			r.logger.Warn("server unreachable", "server", server.ID, "err", err)
		}
	}
}
