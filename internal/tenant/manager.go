// internal/tenant/manager.go
//
// Manager is the single entry point the request layer uses:
//
//	conn, err := mgr.Connection(ctx, slugOrID)
//
// Flow: lookup cache (verify-if-suspended) → lifecycle guard → connection
// cache → factory on miss.  The guard runs on every call, including cache
// hits, so a tenant suspended on the control plane loses access as soon as
// its lookup entry is refreshed even while its client is still cached.
package tenant

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// Connector opens a validated client for a tenant.  *Factory satisfies it.
type Connector interface {
	Connect(ctx context.Context, rec *registry.Record) (*Conn, error)
}

// Options wires a Manager.
type Options struct {
	Registry  registry.Registry
	Connector Connector
	Master    io.Closer // registry pool, closed last on shutdown; may be nil
	LookupTTL time.Duration
	Cache     ConnCacheOptions
	Logger    *zap.Logger
}

// Manager resolves tenants to cached, validated clients.  All methods are
// safe for concurrent use.
type Manager struct {
	lookup    *LookupCache
	conns     *ConnCache
	connector Connector
	master    io.Closer
	log       *zap.Logger
	closing   atomic.Bool
}

// NewManager builds the lookup and connection caches.
func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Cache.Logger == nil {
		opts.Cache.Logger = opts.Logger
	}
	return &Manager{
		lookup:    NewLookupCache(opts.Registry, opts.LookupTTL, opts.Logger),
		conns:     NewConnCache(opts.Cache),
		connector: opts.Connector,
		master:    opts.Master,
		log:       opts.Logger,
	}
}

// Connection returns the client for ident, which is either a tenant id
// (UUID form) or a slug.
func (m *Manager) Connection(ctx context.Context, ident string) (*Conn, error) {
	if _, err := uuid.Parse(ident); err == nil {
		return m.ConnectionByID(ctx, ident)
	}
	return m.ConnectionBySlug(ctx, ident)
}

// ConnectionBySlug returns the client for slug.
func (m *Manager) ConnectionBySlug(ctx context.Context, slug string) (*Conn, error) {
	if m.closing.Load() {
		return nil, ErrManagerClosed
	}
	return m.resolveAndConnect(ctx, func() (*registry.Record, error) {
		return m.lookup.ResolveBySlug(ctx, slug, VerifyIfSuspended())
	})
}

// ConnectionByID returns the client for a tenant id.
func (m *Manager) ConnectionByID(ctx context.Context, id string) (*Conn, error) {
	if m.closing.Load() {
		return nil, ErrManagerClosed
	}
	return m.resolveAndConnect(ctx, func() (*registry.Record, error) {
		return m.lookup.ResolveByID(ctx, id, VerifyIfSuspended())
	})
}

// Tenant resolves metadata only.  No lifecycle guard, so status pages can
// show a suspended tenant's name.
func (m *Manager) Tenant(ctx context.Context, ident string) (*registry.Record, error) {
	if _, err := uuid.Parse(ident); err == nil {
		return m.lookup.ResolveByID(ctx, ident)
	}
	return m.lookup.ResolveBySlug(ctx, ident)
}

// ReactivateAndWarm re-reads slug from the registry and opens its client
// without the lifecycle guard.  It exists for the reactivation workflow,
// which warms a connection while the status flips back to ACTIVE.
func (m *Manager) ReactivateAndWarm(ctx context.Context, slug string) (*Conn, error) {
	if m.closing.Load() {
		return nil, ErrManagerClosed
	}
	for attempt := 0; ; attempt++ {
		rec, err := m.lookup.Refresh(ctx, slug)
		if err != nil {
			return nil, err
		}
		if rec.Status.Blocked() {
			m.log.Info("warming client for blocked tenant",
				zap.String("tenant", slug),
				zap.String("status", string(rec.Status)))
		}
		conn, err := m.getOrOpen(ctx, rec)
		if attempt == 0 && errors.Is(err, errInvalidatedDuringOpen) {
			continue
		}
		return conn, err
	}
}

// Invalidate drops the cached record and closes the cached client for
// slug.  Call it after the tenant's database location or credentials
// change.
func (m *Manager) Invalidate(slug string) {
	m.lookup.Invalidate(slug)
	if m.conns.Invalidate(slug) {
		m.log.Info("tenant invalidated", zap.String("tenant", slug))
	}
}

// Stats reports connection cache occupancy.
func (m *Manager) Stats() Stats { return m.conns.Stats() }

// Entries lists cached clients.
func (m *Manager) Entries() []EntryInfo { return m.conns.Entries() }

// Close stops accepting work, drains every cached client, then closes the
// registry pool.  ctx bounds the drain; the registry pool is closed even
// when the grace period runs out.
func (m *Manager) Close(ctx context.Context) error {
	if !m.closing.CompareAndSwap(false, true) {
		return nil
	}
	m.lookup.Close()

	err := m.conns.Close(ctx)
	if m.master != nil {
		err = multierr.Append(err, m.master.Close())
	}
	if err != nil {
		m.log.Warn("tenant manager shutdown finished with errors", zap.Error(err))
		return err
	}
	m.log.Info("tenant manager shut down")
	return nil
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// resolveAndConnect resolves the record and connects, resolving once more
// when an Invalidate voided the open it joined.
func (m *Manager) resolveAndConnect(ctx context.Context, resolve func() (*registry.Record, error)) (*Conn, error) {
	for attempt := 0; ; attempt++ {
		rec, err := resolve()
		if err != nil {
			return nil, err
		}
		conn, err := m.connect(ctx, rec)
		if attempt == 0 && errors.Is(err, errInvalidatedDuringOpen) {
			continue
		}
		return conn, err
	}
}

func (m *Manager) connect(ctx context.Context, rec *registry.Record) (*Conn, error) {
	if err := EnsureUsable(rec); err != nil {
		if rec.Status == registry.StatusTerminated {
			m.conns.Invalidate(rec.Slug)
		}
		return nil, err
	}
	return m.getOrOpen(ctx, rec)
}

// getOrOpen returns the cached client, replacing it once when it belongs to
// a different tenant id (slug reassigned on the control plane).
func (m *Manager) getOrOpen(ctx context.Context, rec *registry.Record) (*Conn, error) {
	create := func(cctx context.Context) (*Conn, error) {
		return m.connector.Connect(cctx, rec)
	}
	conn, err := m.conns.GetOrCreate(ctx, rec.Slug, create)
	if err != nil {
		return nil, err
	}
	if conn.TenantID != "" && conn.TenantID != rec.ID {
		m.log.Warn("cached client belongs to another tenant id, reopening",
			zap.String("tenant", rec.Slug),
			zap.String("cached_id", conn.TenantID),
			zap.String("tenant_id", rec.ID))
		m.conns.Invalidate(rec.Slug)
		return m.conns.GetOrCreate(ctx, rec.Slug, create)
	}
	return conn, nil
}
