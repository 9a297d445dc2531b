// internal/tenant/conn.go
//
// Connection cache entry.
//
// Context
// -------
// A Conn wraps one per-tenant *sqlx.DB pool together with the metadata the
// cache and operators need: owning tenant, the exact connection string used
// to open it, creation time, and a `lastUsed` UnixNano timestamp touched on
// every cache hit and read by the evictor for idle and LRU decisions.
//
// Notes
// -----
//   - Close is idempotent; the pool is closed exactly once however many
//     eviction paths race for it.
//   - Callers must not Close a Conn obtained from the Manager; the cache
//     owns its lifetime.
package tenant

import (
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
)

// Conn is a cached, validated per-tenant client.
type Conn struct {
	*sqlx.DB

	TenantID  string
	Slug      string
	DSN       string
	CreatedAt time.Time

	lastUsed atomic.Int64 // UnixNano
	closed   atomic.Bool
	once     sync.Once
	closeErr error
	closer   func() error
}

func newConn(db *sqlx.DB, tenantID, slug, dsn string) *Conn {
	now := time.Now()
	c := &Conn{
		DB:        db,
		TenantID:  tenantID,
		Slug:      slug,
		DSN:       dsn,
		CreatedAt: now,
	}
	c.lastUsed.Store(now.UnixNano())
	if db != nil {
		c.closer = db.Close
	}
	return c
}

func (c *Conn) touch() { c.lastUsed.Store(time.Now().UnixNano()) }

// LastUsed returns the time of the most recent cache hit.
func (c *Conn) LastUsed() time.Time { return time.Unix(0, c.lastUsed.Load()) }

// Closed reports whether the underlying pool has been closed.
func (c *Conn) Closed() bool { return c.closed.Load() }

// Close closes the pool once and returns the first close error on every
// call.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.closed.Store(true)
		if c.closer != nil {
			c.closeErr = c.closer()
		}
	})
	return c.closeErr
}

// RedactedDSN returns DSN with the password masked, for logs.
func (c *Conn) RedactedDSN() string { return redactDSN(c.DSN) }

func redactDSN(dsn string) string {
	if strings.Contains(dsn, "://") {
		if u, err := url.Parse(dsn); err == nil {
			return u.Redacted()
		}
		return "<unparseable dsn>"
	}
	if cfg, err := mysql.ParseDSN(dsn); err == nil {
		if cfg.Passwd != "" {
			cfg.Passwd = "xxxxx"
		}
		return cfg.FormatDSN()
	}
	return "<unparseable dsn>"
}
