// internal/tenant/registry/record.go
//
// `tenants` table row model.
//
// Context
// -------
// The `Record` struct mirrors one row in the control-plane **tenants**
// table: identity, lifecycle status, and database routing.  The control
// plane is the only writer; this process reads rows and caches them.
//
// Schema reference
//
//	CREATE TABLE tenants (
//	    id             UUID          PRIMARY KEY,
//	    slug           VARCHAR(63)   NOT NULL UNIQUE,
//	    name           VARCHAR(255)  NOT NULL,
//	    status         VARCHAR(16)   NOT NULL DEFAULT 'TRIAL',
//	    database_name  VARCHAR(63)   NOT NULL DEFAULT '',
//	    database_host  VARCHAR(255)  NULL,
//	    database_port  INT           NULL,
//	    created_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP,
//	    updated_at     TIMESTAMP     NOT NULL DEFAULT CURRENT_TIMESTAMP
//	);
//
// Notes
// -----
//   - Nullable host and port are pointers; callers must nil-check.
//   - An empty DatabaseName means "derive from slug" (see tenant.Factory).
package registry

import "time"

// Status is the tenant lifecycle state as stored by the control plane.
type Status string

const (
	StatusActive     Status = "ACTIVE"
	StatusTrial      Status = "TRIAL"
	StatusSuspended  Status = "SUSPENDED"
	StatusTerminated Status = "TERMINATED"
)

// Blocked reports whether the status forbids handing out a connection.
// Unknown values are blocked.
func (s Status) Blocked() bool {
	switch s {
	case StatusActive, StatusTrial:
		return false
	}
	return true
}

// Record mirrors one row in the `tenants` table.
type Record struct {
	ID           string    `db:"id"`
	Slug         string    `db:"slug"`
	Name         string    `db:"name"`
	Status       Status    `db:"status"`
	DatabaseName string    `db:"database_name"`
	DatabaseHost *string   `db:"database_host"`
	DatabasePort *int      `db:"database_port"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// HasCustomHost reports whether the tenant lives outside the shared host.
func (r *Record) HasCustomHost() bool {
	return r.DatabaseHost != nil && *r.DatabaseHost != ""
}
