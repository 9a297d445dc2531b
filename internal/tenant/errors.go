package tenant

import (
	"errors"
	"fmt"

	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

var (
	// ErrTenantNotFound is returned when no tenant matches the slug or id.
	// Callers map it to a 404.
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrTenantSuspended is matched by *SuspendedError.
	ErrTenantSuspended = errors.New("tenant suspended")

	// ErrConnection is matched by *ConnectionError.
	ErrConnection = errors.New("tenant connection failed")

	// ErrManagerClosed is returned once shutdown has started.
	ErrManagerClosed = errors.New("tenant manager closed")
)

// SuspendedError reports a tenant whose status forbids connections.  The
// caller can show a billing or reactivation message based on Status.
type SuspendedError struct {
	Slug   string
	Status registry.Status
}

func (e *SuspendedError) Error() string {
	return fmt.Sprintf("tenant %q is %s", e.Slug, e.Status)
}

func (e *SuspendedError) Is(target error) bool { return target == ErrTenantSuspended }

// ConnectionError wraps the driver error from a failed open or ping.  It
// may be transient; driver failures are never retried here.
type ConnectionError struct {
	Slug string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("tenant %q: connect: %v", e.Slug, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

func (e *ConnectionError) Is(target error) bool { return target == ErrConnection }
