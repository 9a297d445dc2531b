package tenant

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

const betaID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

type closeCounter struct{ n atomic.Int32 }

func (c *closeCounter) Close() error { c.n.Add(1); return nil }

var _ io.Closer = (*closeCounter)(nil)

func newTestManager(t *testing.T, reg *fakeRegistry, conn *fakeConnector) (*Manager, *closeCounter) {
	t.Helper()
	master := &closeCounter{}
	m := NewManager(Options{
		Registry:  reg,
		Connector: conn,
		Master:    master,
		LookupTTL: time.Hour,
		Cache:     ConnCacheOptions{Capacity: 10, IdleTTL: time.Hour, SweepInterval: time.Hour},
	})
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m, master
}

func TestManager_ActiveTenantCachedConnection(t *testing.T) {
	reg := newFakeRegistry(record(acmeID, "acme", registry.StatusActive))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	first, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	second, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	byID, err := m.Connection(context.Background(), acmeID)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Same(t, first, byID)
	assert.EqualValues(t, 1, fc.opens.Load())
	assert.EqualValues(t, 1, reg.calls.Load())
	assert.Equal(t, 1, m.Stats().Size)
}

func TestManager_SuspendedTenantNeverConnects(t *testing.T) {
	reg := newFakeRegistry(record(betaID, "beta", registry.StatusSuspended))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	_, err := m.Connection(context.Background(), "beta")
	require.ErrorIs(t, err, ErrTenantSuspended)

	var se *SuspendedError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, registry.StatusSuspended, se.Status)
	assert.EqualValues(t, 0, fc.opens.Load())
}

func TestManager_ReactivationVisibleWithoutTTL(t *testing.T) {
	reg := newFakeRegistry(record(betaID, "beta", registry.StatusSuspended))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	_, err := m.Connection(context.Background(), "beta")
	require.ErrorIs(t, err, ErrTenantSuspended)

	reg.set(record(betaID, "beta", registry.StatusActive))

	conn, err := m.Connection(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", conn.Slug)
	assert.EqualValues(t, 1, fc.opens.Load())
}

func TestManager_MetadataSkipsGuard(t *testing.T) {
	reg := newFakeRegistry(record(betaID, "beta", registry.StatusSuspended))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	rec, err := m.Tenant(context.Background(), "beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", rec.Name)

	rec, err = m.Tenant(context.Background(), betaID)
	require.NoError(t, err)
	assert.Equal(t, "beta", rec.Slug)
	assert.EqualValues(t, 0, fc.opens.Load())
}

func TestManager_NotFound(t *testing.T) {
	m, _ := newTestManager(t, newFakeRegistry(), &fakeConnector{})

	_, err := m.Connection(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestManager_ReactivateAndWarmBypassesGuard(t *testing.T) {
	reg := newFakeRegistry(record(betaID, "beta", registry.StatusSuspended))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	warm, err := m.ReactivateAndWarm(context.Background(), "beta")
	require.NoError(t, err)
	assert.EqualValues(t, 1, fc.opens.Load())

	// Ordinary requests are still refused until the registry says ACTIVE.
	_, err = m.Connection(context.Background(), "beta")
	require.ErrorIs(t, err, ErrTenantSuspended)

	reg.set(record(betaID, "beta", registry.StatusActive))
	conn, err := m.Connection(context.Background(), "beta")
	require.NoError(t, err)
	assert.Same(t, warm, conn)
	assert.EqualValues(t, 1, fc.opens.Load())
}

func TestManager_TerminatedDropsCachedClient(t *testing.T) {
	reg := newFakeRegistry(record(acmeID, "acme", registry.StatusActive))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	conn, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)

	reg.set(record(acmeID, "acme", registry.StatusTerminated))
	m.lookup.Invalidate("acme")

	_, err = m.Connection(context.Background(), "acme")
	require.ErrorIs(t, err, ErrTenantSuspended)
	assert.True(t, conn.Closed())
	assert.Equal(t, 0, m.Stats().Size)
}

func TestManager_ConnectionErrorIsolatedPerTenant(t *testing.T) {
	reg := newFakeRegistry(
		record(acmeID, "acme", registry.StatusActive),
		record(betaID, "beta", registry.StatusActive),
	)
	fc := &fakeConnector{fail: map[string]error{"beta": errBoom}}
	m, master := newTestManager(t, reg, fc)

	acme, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)

	_, err = m.Connection(context.Background(), "beta")
	require.ErrorIs(t, err, ErrConnection)

	again, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	assert.Same(t, acme, again)
	assert.False(t, acme.Closed())
	assert.EqualValues(t, 0, master.n.Load())
}

func TestManager_ConcurrentFirstRequestsOpenOnce(t *testing.T) {
	reg := newFakeRegistry(record(acmeID, "acme", registry.StatusActive))
	fc := &fakeConnector{gate: make(chan struct{})}
	m, _ := newTestManager(t, reg, fc)

	const n = 50
	var wg sync.WaitGroup
	conns := make([]*Conn, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			conn, err := m.Connection(context.Background(), "acme")
			assert.NoError(t, err)
			conns[i] = conn
		}()
	}
	time.Sleep(30 * time.Millisecond)
	close(fc.gate)
	wg.Wait()

	assert.EqualValues(t, 1, fc.opens.Load())
	for _, c := range conns {
		assert.Same(t, conns[0], c)
	}
}

func TestManager_SlugReassignedReopens(t *testing.T) {
	reg := newFakeRegistry(record("old-id", "acme", registry.StatusActive))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	old, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)

	reg.set(record("new-id", "acme", registry.StatusActive))
	m.lookup.Invalidate("acme")

	fresh, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, "new-id", fresh.TenantID)
	assert.True(t, old.Closed())
}

func TestManager_InvalidateClosesClient(t *testing.T) {
	reg := newFakeRegistry(record(acmeID, "acme", registry.StatusActive))
	fc := &fakeConnector{}
	m, _ := newTestManager(t, reg, fc)

	conn, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	m.Invalidate("acme")

	assert.True(t, conn.Closed())
	assert.EqualValues(t, 1, fc.closes.Load())

	_, err = m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	assert.EqualValues(t, 2, fc.opens.Load())
	assert.EqualValues(t, 2, reg.calls.Load())
}

func TestManager_CloseDrainsEverything(t *testing.T) {
	reg := newFakeRegistry(
		record(acmeID, "acme", registry.StatusActive),
		record(betaID, "beta", registry.StatusTrial),
	)
	fc := &fakeConnector{}
	m, master := newTestManager(t, reg, fc)

	for _, slug := range []string{"acme", "beta"} {
		_, err := m.Connection(context.Background(), slug)
		require.NoError(t, err)
	}

	require.NoError(t, m.Close(context.Background()))
	assert.EqualValues(t, 2, fc.closes.Load())
	assert.EqualValues(t, 1, master.n.Load())

	_, err := m.Connection(context.Background(), "acme")
	assert.True(t, errors.Is(err, ErrManagerClosed))

	// Second Close is a no-op.
	require.NoError(t, m.Close(context.Background()))
	assert.EqualValues(t, 1, master.n.Load())
}

func TestManager_InvalidateDuringOpenServesFreshRecord(t *testing.T) {
	reg := newFakeRegistry(record("old-id", "acme", registry.StatusActive))
	fc := &fakeConnector{gate: make(chan struct{})}
	m, _ := newTestManager(t, reg, fc)

	got := make(chan *Conn, 1)
	go func() {
		conn, err := m.Connection(context.Background(), "acme")
		assert.NoError(t, err)
		got <- conn
	}()

	require.Eventually(t, func() bool { return fc.opens.Load() == 1 }, time.Second, time.Millisecond)
	reg.set(record("new-id", "acme", registry.StatusActive))
	m.Invalidate("acme")
	close(fc.gate)

	conn := <-got
	require.NotNil(t, conn)
	assert.Equal(t, "new-id", conn.TenantID)
	assert.False(t, conn.Closed())
	assert.EqualValues(t, 2, fc.opens.Load())
	assert.EqualValues(t, 1, fc.closes.Load())

	again, err := m.Connection(context.Background(), "acme")
	require.NoError(t, err)
	assert.Same(t, conn, again)
}
