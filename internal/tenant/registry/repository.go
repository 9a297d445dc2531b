// internal/tenant/registry/repository.go
//
// Tenant Registry Client.
//
// Every helper executes exactly one parameterised SELECT against the
// control-plane database and scans into Record.  Unlike the request path,
// these queries do NOT filter suspended rows: the lifecycle decision belongs
// to tenant.Guard, and metadata pages must still see suspended tenants.
//
// Placeholders are written as `?` and rebound per driver, so the same SQL
// serves Postgres (pgx) and MySQL.
package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when no row matches the slug or id.
var ErrNotFound = errors.New("registry: tenant not found")

// Registry is the read-only view of the control plane used by the tenant
// lookup cache.
type Registry interface {
	BySlug(ctx context.Context, slug string) (*Record, error)
	ByID(ctx context.Context, id string) (*Record, error)
}

const selectColumns = `
        SELECT id, slug, name, status, database_name, database_host,
               database_port, created_at, updated_at
        FROM   tenants`

// SQL reads tenants from the control-plane database.
type SQL struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewSQL returns a registry client.  timeout bounds every query; zero
// leaves the caller's deadline in charge.
func NewSQL(db *sqlx.DB, timeout time.Duration) *SQL {
	return &SQL{db: db, timeout: timeout}
}

// DB exposes the underlying pool so the owner can close it on shutdown.
func (s *SQL) DB() *sqlx.DB { return s.db }

// BySlug fetches one tenant by slug.
func (s *SQL) BySlug(ctx context.Context, slug string) (*Record, error) {
	return s.get(ctx, selectColumns+` WHERE slug = ? LIMIT 1`, slug)
}

// ByID fetches one tenant by id.
func (s *SQL) ByID(ctx context.Context, id string) (*Record, error) {
	return s.get(ctx, selectColumns+` WHERE id = ? LIMIT 1`, id)
}

// CountUsable returns how many tenants are ACTIVE or TRIAL.  Used as a
// startup sanity check.
func (s *SQL) CountUsable(ctx context.Context) (int, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var n int
	q := s.db.Rebind(`SELECT COUNT(*) FROM tenants WHERE status IN (?, ?)`)
	if err := s.db.GetContext(ctx, &n, q, string(StatusActive), string(StatusTrial)); err != nil {
		return 0, fmt.Errorf("registry: count tenants: %w", err)
	}
	return n, nil
}

func (s *SQL) get(ctx context.Context, q string, arg any) (*Record, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rec Record
	if err := s.db.GetContext(ctx, &rec, s.db.Rebind(q), arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("registry: query %v: %w", arg, err)
	}
	return &rec, nil
}

func (s *SQL) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}
