// internal/tenant/lookup.go
//
// Tenant Lookup Cache.
//
// Context
// -------
// Every request needs the tenant's status and routing, but the control
// plane should not see one query per request.  Records are cached for a
// fixed TTL under two keys, `slug:<slug>` and `id:<id>`, so either form of
// identifier resolves without a registry round trip.
//
// Freshness rule
// --------------
// Active tenants trust the cache.  A cached record that looks SUSPENDED or
// TERMINATED is re-read from the registry when the caller passes
// VerifyIfSuspended, so a reactivation on the control plane is visible on
// the very next request instead of after the TTL.
//
// Notes
// -----
//   - Records handed out are shared; callers must treat them as read-only.
//   - Concurrent misses for one key collapse into a single registry read.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// DefaultLookupTTL bounds staleness of cached tenant records.
const DefaultLookupTTL = 5 * time.Minute

// ResolveOption tweaks a single resolve call.
type ResolveOption func(*resolveOptions)

type resolveOptions struct {
	verifyIfSuspended bool
}

// VerifyIfSuspended re-reads a cached blocked record from the registry
// before returning it.
func VerifyIfSuspended() ResolveOption {
	return func(o *resolveOptions) { o.verifyIfSuspended = true }
}

type lookupEntry struct {
	rec *registry.Record
	exp time.Time
}

// LookupCache is a TTL cache in front of a registry.Registry.
type LookupCache struct {
	reg registry.Registry
	ttl time.Duration
	log *zap.Logger

	sfg singleflight.Group

	mu    sync.RWMutex
	items map[string]lookupEntry

	stop     chan struct{}
	stopOnce sync.Once
}

// NewLookupCache returns a cache over reg and starts a janitor that drops
// expired records every ttl.
func NewLookupCache(reg registry.Registry, ttl time.Duration, log *zap.Logger) *LookupCache {
	if ttl <= 0 {
		ttl = DefaultLookupTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	c := &LookupCache{
		reg:   reg,
		ttl:   ttl,
		log:   log,
		items: make(map[string]lookupEntry),
		stop:  make(chan struct{}),
	}
	go c.janitor()
	return c
}

func slugKey(s string) string { return "slug:" + s }
func idKey(id string) string  { return "id:" + id }

// ResolveBySlug returns the record for slug.
func (c *LookupCache) ResolveBySlug(ctx context.Context, slug string, opts ...ResolveOption) (*registry.Record, error) {
	return c.resolve(ctx, slugKey(slug), slug, opts, c.reg.BySlug)
}

// ResolveByID returns the record for id.
func (c *LookupCache) ResolveByID(ctx context.Context, id string, opts ...ResolveOption) (*registry.Record, error) {
	return c.resolve(ctx, idKey(id), id, opts, c.reg.ByID)
}

// Refresh bypasses the cache, re-reads slug from the registry, and stores
// the result under both keys.
func (c *LookupCache) Refresh(ctx context.Context, slug string) (*registry.Record, error) {
	metrics.LookupTotal.WithLabelValues("refresh").Inc()
	return c.fetch(ctx, "refresh:"+slugKey(slug), slug, c.reg.BySlug)
}

// Invalidate drops slug and its id alias.
func (c *LookupCache) Invalidate(slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.items[slugKey(slug)]; ok {
		delete(c.items, idKey(e.rec.ID))
	}
	delete(c.items, slugKey(slug))
}

// Len reports the number of cached keys (two per tenant).
func (c *LookupCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Close stops the janitor.
func (c *LookupCache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

type fetchFunc func(ctx context.Context, key string) (*registry.Record, error)

func (c *LookupCache) resolve(ctx context.Context, key, ident string, opts []ResolveOption, fn fetchFunc) (*registry.Record, error) {
	var o resolveOptions
	for _, opt := range opts {
		opt(&o)
	}

	rec, ok := c.get(key)
	if !ok {
		metrics.LookupTotal.WithLabelValues("miss").Inc()
		return c.fetch(ctx, key, ident, fn)
	}
	metrics.LookupTotal.WithLabelValues("hit").Inc()

	if o.verifyIfSuspended && rec.Status.Blocked() {
		c.log.Debug("cached tenant looks blocked, re-verifying",
			zap.String("tenant", rec.Slug),
			zap.String("status", string(rec.Status)))
		// Re-read by the identifier the caller used: an id lookup must not
		// follow the slug if the control plane has reassigned it.
		metrics.LookupTotal.WithLabelValues("refresh").Inc()
		return c.fetch(ctx, "refresh:"+key, ident, fn)
	}
	return rec, nil
}

func (c *LookupCache) get(key string) (*registry.Record, bool) {
	c.mu.RLock()
	e, ok := c.items[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(e.exp) {
		return nil, false
	}
	return e.rec, true
}

// fetch reads through the registry once per flight key.  The registry call
// runs detached from ctx so a cancelled caller does not fail the others.
func (c *LookupCache) fetch(ctx context.Context, flight, ident string, fn fetchFunc) (*registry.Record, error) {
	detached := context.WithoutCancel(ctx)
	ch := c.sfg.DoChan(flight, func() (any, error) {
		rec, err := fn(detached, ident)
		if err != nil {
			if errors.Is(err, registry.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrTenantNotFound, ident)
			}
			metrics.LookupTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("tenant lookup %s: %w", ident, err)
		}
		c.put(rec)
		return rec, nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*registry.Record), nil
	}
}

func (c *LookupCache) put(rec *registry.Record) {
	e := lookupEntry{rec: rec, exp: time.Now().Add(c.ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.items[slugKey(rec.Slug)]; ok && old.rec.ID != rec.ID {
		delete(c.items, idKey(old.rec.ID))
	}
	if old, ok := c.items[idKey(rec.ID)]; ok && old.rec.Slug != rec.Slug {
		delete(c.items, slugKey(old.rec.Slug))
	}
	c.items[slugKey(rec.Slug)] = e
	c.items[idKey(rec.ID)] = e
}

func (c *LookupCache) janitor() {
	t := time.NewTicker(c.ttl)
	defer t.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-t.C:
			c.purge(now)
		}
	}
}

func (c *LookupCache) purge(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.items {
		if now.After(e.exp) {
			delete(c.items, k)
		}
	}
}
