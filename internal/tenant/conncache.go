package tenant

import (
	"container/list"
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/yanizio/tenantdb/internal/metrics"
)

// Static defaults.  Override through config.Cache.
const (
	DefaultCapacity      = 100
	DefaultIdleTTL       = 30 * time.Minute
	DefaultSweepInterval = time.Minute
)

// errInvalidatedDuringOpen is returned, wrapped in *ConnectionError, to the
// callers of an open that raced with Invalidate for the same slug.  The
// client it produced was built from pre-invalidation state and has been
// closed; resolving the tenant again yields a fresh one.
var errInvalidatedDuringOpen = errors.New("tenant invalidated while connecting")

// CreateFunc opens a validated client for one tenant.  It runs at most once
// per slug at a time, on a context detached from the caller that triggered
// it.
type CreateFunc func(ctx context.Context) (*Conn, error)

// Stats is a point-in-time view of the connection cache.
type Stats struct {
	Size     int           `json:"size"`
	Capacity int           `json:"capacity"`
	TTL      time.Duration `json:"ttl"`
}

// EntryInfo describes one cached client without exposing it.
type EntryInfo struct {
	Slug      string    `json:"slug"`
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
}

// ConnCacheOptions configures NewConnCache.  Zero values take the defaults.
type ConnCacheOptions struct {
	Capacity      int
	IdleTTL       time.Duration
	SweepInterval time.Duration
	CreateTimeout time.Duration
	Logger        *zap.Logger
}

// ConnCache holds at most Capacity open tenant clients keyed by slug.  The
// list is kept in recency order (front is most recent) so both the idle
// sweep and capacity eviction work from the back.
//
// The mutex guards only map and list bookkeeping; opening and closing
// clients happen outside it, and concurrent misses for one slug share a
// single open through sfg.
type ConnCache struct {
	capacity      int
	idleTTL       time.Duration
	createTimeout time.Duration
	log           *zap.Logger

	sfg singleflight.Group

	mu     sync.Mutex
	ll     *list.List // of *Conn
	items  map[string]*list.Element
	gens   map[string]uint64 // bumped by Invalidate, checked by store
	closed bool

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// NewConnCache constructs a cache and starts the background evictor.
func NewConnCache(opts ConnCacheOptions) *ConnCache {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultCapacity
	}
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	c := &ConnCache{
		capacity:      opts.Capacity,
		idleTTL:       opts.IdleTTL,
		createTimeout: opts.CreateTimeout,
		log:           opts.Logger,
		ll:            list.New(),
		items:         make(map[string]*list.Element, opts.Capacity),
		gens:          make(map[string]uint64),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go c.evictLoop(opts.SweepInterval)
	return c
}

// GetOrCreate returns the cached client for slug, or runs create once to
// open one.  A caller whose ctx ends while waiting gets ctx.Err(); the
// in-flight open carries on and still populates the cache for the others.
//
// If Invalidate(slug) runs while the open is in flight, the new client is
// closed instead of cached and every waiter gets a *ConnectionError.
func (c *ConnCache) GetOrCreate(ctx context.Context, slug string, create CreateFunc) (*Conn, error) {
	if conn, ok := c.lookup(slug); ok {
		metrics.ConnCacheHitsTotal.Inc()
		return conn, nil
	}
	if c.isClosed() {
		return nil, ErrManagerClosed
	}

	detached := context.WithoutCancel(ctx)
	ch := c.sfg.DoChan(slug, func() (any, error) {
		// Double-check after the singleflight barrier.
		if conn, ok := c.lookup(slug); ok {
			return conn, nil
		}
		metrics.ConnCacheMissesTotal.Inc()
		gen := c.generation(slug)

		cctx, cancel := detached, context.CancelFunc(func() {})
		if c.createTimeout > 0 {
			cctx, cancel = context.WithTimeout(detached, c.createTimeout)
		}
		defer cancel()

		conn, err := create(cctx)
		if err != nil {
			return nil, err
		}
		return c.store(slug, conn, gen)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Conn), nil
	}
}

// Invalidate removes and closes the client for slug and voids any open for
// slug still in flight.  It reports whether an entry was present.
func (c *ConnCache) Invalidate(slug string) bool {
	c.mu.Lock()
	c.gens[slug]++
	el, ok := c.items[slug]
	if ok {
		c.removeLocked(el)
	}
	c.mu.Unlock()

	if ok {
		c.closeConn(el.Value.(*Conn), metrics.ReasonInvalidate)
	}
	return ok
}

// Stats returns size, capacity, and idle TTL.
func (c *ConnCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Size: c.ll.Len(), Capacity: c.capacity, TTL: c.idleTTL}
}

// Entries lists cached clients from most to least recently used.
func (c *ConnCache) Entries() []EntryInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EntryInfo, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; el = el.Next() {
		conn := el.Value.(*Conn)
		out = append(out, EntryInfo{
			Slug:      conn.Slug,
			TenantID:  conn.TenantID,
			CreatedAt: conn.CreatedAt,
			LastUsed:  conn.LastUsed(),
		})
	}
	return out
}

// Close stops the evictor, refuses new entries, and closes every cached
// client in parallel.  If ctx ends first Close returns ctx.Err() and the
// remaining closes finish in the background.
func (c *ConnCache) Close(ctx context.Context) error {
	c.mu.Lock()
	c.closed = true
	victims := make([]*Conn, 0, c.ll.Len())
	for el := c.ll.Front(); el != nil; {
		next := el.Next()
		victims = append(victims, el.Value.(*Conn))
		c.removeLocked(el)
		el = next
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })

	drained := make(chan error, 1)
	go func() {
		var g errgroup.Group
		g.SetLimit(16)
		for _, conn := range victims {
			g.Go(func() error { return c.closeConn(conn, metrics.ReasonShutdown) })
		}
		drained <- g.Wait()
	}()

	select {
	case err := <-drained:
		<-c.done
		return err
	case <-ctx.Done():
		c.log.Warn("connection cache drain exceeded grace period",
			zap.Int("pending", len(victims)))
		return ctx.Err()
	}
}

// -----------------------------------------------------------------------------
// internals
// -----------------------------------------------------------------------------

// lookup returns a live entry and marks it most recently used.  An entry
// past its idle TTL is evicted here rather than returned, and so is one a
// caller closed directly.
func (c *ConnCache) lookup(slug string) (*Conn, bool) {
	c.mu.Lock()
	el, ok := c.items[slug]
	if !ok {
		c.mu.Unlock()
		return nil, false
	}
	conn := el.Value.(*Conn)
	if conn.Closed() {
		c.removeLocked(el)
		c.mu.Unlock()
		metrics.ConnEvictTotal.WithLabelValues(metrics.ReasonClosed).Inc()
		c.log.Warn("cached tenant client was closed outside the cache",
			zap.String("tenant", slug))
		return nil, false
	}
	if time.Since(conn.LastUsed()) > c.idleTTL {
		c.removeLocked(el)
		c.mu.Unlock()
		c.closeConn(conn, metrics.ReasonIdle)
		return nil, false
	}
	conn.touch()
	c.ll.MoveToFront(el)
	c.mu.Unlock()
	return conn, true
}

// store inserts conn, opened under generation gen, and trims the list to
// capacity.  The returned Conn is the one callers must use.
func (c *ConnCache) store(slug string, conn *Conn, gen uint64) (*Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ErrManagerClosed
	}
	if c.gens[slug] != gen {
		c.mu.Unlock()
		c.log.Info("tenant invalidated during open, discarding client", zap.String("tenant", slug))
		_ = c.closeConn(conn, metrics.ReasonInvalidate)
		return nil, &ConnectionError{Slug: slug, Err: errInvalidatedDuringOpen}
	}
	if el, ok := c.items[slug]; ok && el.Value.(*Conn).Closed() {
		c.removeLocked(el)
		metrics.ConnEvictTotal.WithLabelValues(metrics.ReasonClosed).Inc()
	}
	if el, ok := c.items[slug]; ok {
		existing := el.Value.(*Conn)
		c.ll.MoveToFront(el)
		c.mu.Unlock()
		c.log.Warn("duplicate tenant client discarded", zap.String("tenant", slug))
		_ = conn.Close()
		return existing, nil
	}

	conn.Slug = slug
	c.items[slug] = c.ll.PushFront(conn)
	metrics.OpenConnections.Inc()

	var victims []*Conn
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		victims = append(victims, back.Value.(*Conn))
		c.removeLocked(back)
	}
	c.mu.Unlock()

	for _, v := range victims {
		c.closeConn(v, metrics.ReasonCapacity)
	}
	return conn, nil
}

func (c *ConnCache) removeLocked(el *list.Element) {
	conn := c.ll.Remove(el).(*Conn)
	delete(c.items, conn.Slug)
	metrics.OpenConnections.Dec()
}

func (c *ConnCache) generation(slug string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gens[slug]
}

func (c *ConnCache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// closeConn closes an entry already removed from the cache.  Failures are
// logged and counted, then returned only for the shutdown path to report.
func (c *ConnCache) closeConn(conn *Conn, reason string) error {
	metrics.ConnEvictTotal.WithLabelValues(reason).Inc()
	if err := conn.Close(); err != nil {
		metrics.ConnCloseErrorsTotal.Inc()
		c.log.Warn("tenant client close failed",
			zap.String("tenant", conn.Slug),
			zap.String("reason", reason),
			zap.Error(err))
		return err
	}
	c.log.Info("tenant client evicted",
		zap.String("tenant", conn.Slug),
		zap.String("reason", reason),
		zap.Duration("age", time.Since(conn.CreatedAt).Truncate(time.Second)))
	return nil
}
