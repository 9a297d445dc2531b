package tenant

import (
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// EnsureUsable is the lifecycle guard on the connection path.  It returns a
// *SuspendedError for SUSPENDED, TERMINATED, or unrecognised statuses.
//
// Metadata reads (Manager.Tenant) deliberately skip it.  The only bypass is
// Manager.ReactivateAndWarm.
func EnsureUsable(rec *registry.Record) error {
	if !rec.Status.Blocked() {
		return nil
	}
	metrics.SuspendedRejectsTotal.Inc()
	return &SuspendedError{Slug: rec.Slug, Status: rec.Status}
}
