package tenant

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// testConn returns a Conn without a real pool whose closes are counted.
func testConn(id, slug string, closes *atomic.Int32) *Conn {
	c := newConn(nil, id, slug, "postgres://app:pw@localhost:5432/tenant_"+slug)
	c.closer = func() error {
		closes.Add(1)
		return nil
	}
	return c
}

// fakeRegistry is an in-memory registry.Registry with call counters.
type fakeRegistry struct {
	mu     sync.Mutex
	bySlug map[string]*registry.Record
	calls  atomic.Int32
	err    error
	delay  time.Duration
}

func newFakeRegistry(recs ...*registry.Record) *fakeRegistry {
	r := &fakeRegistry{bySlug: map[string]*registry.Record{}}
	for _, rec := range recs {
		r.bySlug[rec.Slug] = rec
	}
	return r
}

// set replaces a tenant row, as the control plane would.
func (r *fakeRegistry) set(rec *registry.Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySlug[rec.Slug] = rec
}

func (r *fakeRegistry) BySlug(_ context.Context, slug string) (*registry.Record, error) {
	r.calls.Add(1)
	time.Sleep(r.delay)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	rec, ok := r.bySlug[slug]
	if !ok {
		return nil, registry.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeRegistry) ByID(_ context.Context, id string) (*registry.Record, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	for _, rec := range r.bySlug {
		if rec.ID == id {
			cp := *rec
			return &cp, nil
		}
	}
	return nil, registry.ErrNotFound
}

// fakeConnector counts Connect calls and hands out counted test conns.
type fakeConnector struct {
	opens  atomic.Int32
	closes atomic.Int32
	fail   map[string]error
	gate   chan struct{} // when non-nil, Connect blocks until closed
}

func (f *fakeConnector) Connect(ctx context.Context, rec *registry.Record) (*Conn, error) {
	f.opens.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err, ok := f.fail[rec.Slug]; ok {
		return nil, &ConnectionError{Slug: rec.Slug, Err: err}
	}
	return testConn(rec.ID, rec.Slug, &f.closes), nil
}

func record(id, slug string, status registry.Status) *registry.Record {
	return &registry.Record{ID: id, Slug: slug, Name: slug, Status: status}
}

var errBoom = errors.New("boom")
