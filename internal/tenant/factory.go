// internal/tenant/factory.go
//
// Connection Factory.
//
// Context
// -------
// Turns a registry.Record into a connection string and a validated pool:
//
//   - `Target`: picks the tenant's custom host/port when the record has
//     one, otherwise the shared default host from config.  The database
//     name is the record's own, or `name_prefix + slug`.
//   - `DSN`: renders a Target as a pgx URL or a MySQL DSN, fetching the
//     password from the secrets.Source when `password_secret` is set.
//   - `Open`: opens the pool and pings it synchronously under the
//     connect timeout, so the cache never stores a client that fails on
//     its first query.
//
// Notes
// -----
//   - No retries.  A failed open surfaces as *ConnectionError and the
//     caller decides on backoff.
package tenant

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/config"
	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/metrics"
	"github.com/yanizio/tenantdb/internal/secrets"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// OpenFunc opens and pings a pool.  database.OpenWithOptions in production.
type OpenFunc func(ctx context.Context, engine, dsn string, opt database.Options) (*sqlx.DB, error)

// Target is the physical location of one tenant database.
type Target struct {
	Host     string
	Port     int
	Database string
}

// Factory builds and opens per-tenant clients.  Safe for concurrent use.
type Factory struct {
	cfg     config.Database
	secrets secrets.Source
	timeout time.Duration
	open    OpenFunc
	log     *zap.Logger
}

// NewFactory returns a Factory for cfg.  src may be nil when the password
// is configured inline.
func NewFactory(cfg config.Database, src secrets.Source, connectTimeout time.Duration, log *zap.Logger) *Factory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Factory{
		cfg:     cfg,
		secrets: src,
		timeout: connectTimeout,
		open:    database.OpenWithOptions,
		log:     log,
	}
}

// Engine reports the configured database engine.
func (f *Factory) Engine() string { return f.cfg.Driver }

// Target resolves where rec's database lives.
func (f *Factory) Target(rec *registry.Record) (Target, error) {
	t := Target{Host: f.cfg.Host, Port: f.cfg.Port}
	if rec.HasCustomHost() {
		t.Host = *rec.DatabaseHost
		if rec.DatabasePort != nil && *rec.DatabasePort > 0 {
			t.Port = *rec.DatabasePort
		}
	}

	var err error
	if rec.DatabaseName != "" {
		t.Database, err = database.ValidIdent(rec.DatabaseName)
	} else {
		t.Database, err = f.DatabaseName(rec.Slug)
	}
	return t, err
}

// DatabaseName applies the per-tenant naming convention to slug.
func (f *Factory) DatabaseName(slug string) (string, error) {
	return database.TenantDBName(f.cfg.NamePrefix, slug)
}

// Build returns the connection string for rec.
func (f *Factory) Build(ctx context.Context, rec *registry.Record) (string, error) {
	t, err := f.Target(rec)
	if err != nil {
		return "", err
	}
	return f.DSN(ctx, t)
}

// DSN renders t for the configured engine.
func (f *Factory) DSN(ctx context.Context, t Target) (string, error) {
	pw, err := f.password(ctx)
	if err != nil {
		return "", err
	}
	if f.cfg.Driver == database.MySQL {
		return f.mysqlDSN(t, pw), nil
	}
	return f.postgresDSN(t, pw), nil
}

// Open opens a pool for dsn and validates it with a ping bounded by the
// connect timeout.  Failures are wrapped in *ConnectionError.
func (f *Factory) Open(ctx context.Context, slug, dsn string) (*sqlx.DB, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	db, err := f.open(ctx, f.cfg.Driver, dsn, database.Options{
		MaxOpenConns:    f.cfg.MaxOpenConns,
		MaxIdleConns:    f.cfg.MaxIdleConns,
		ConnMaxLifetime: f.cfg.ConnMaxLifetime,
	})
	if err != nil {
		metrics.ConnOpenErrorsTotal.Inc()
		f.log.Warn("tenant connect failed",
			zap.String("tenant", slug),
			zap.String("dsn", redactDSN(dsn)),
			zap.Error(err))
		return nil, &ConnectionError{Slug: slug, Err: err}
	}
	metrics.ConnOpenTotal.Inc()
	return db, nil
}

// Connect builds, opens, and wraps a client for rec.
func (f *Factory) Connect(ctx context.Context, rec *registry.Record) (*Conn, error) {
	dsn, err := f.Build(ctx, rec)
	if err != nil {
		return nil, &ConnectionError{Slug: rec.Slug, Err: err}
	}
	db, err := f.Open(ctx, rec.Slug, dsn)
	if err != nil {
		return nil, err
	}
	f.log.Info("tenant client opened",
		zap.String("tenant", rec.Slug),
		zap.String("tenant_id", rec.ID),
		zap.String("dsn", redactDSN(dsn)))
	return newConn(db, rec.ID, rec.Slug, dsn), nil
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

func (f *Factory) password(ctx context.Context) (string, error) {
	if f.cfg.PasswordSecret == "" {
		return f.cfg.Password, nil
	}
	if f.secrets == nil {
		return "", fmt.Errorf("password_secret %q set but no secrets source configured", f.cfg.PasswordSecret)
	}
	return f.secrets.Lookup(ctx, f.cfg.PasswordSecret)
}

// postgresDSN fills:
//
//	postgres://{user}:{pw}@{host}:{port}/{db}?sslmode={mode}&connect_timeout={s}
func (f *Factory) postgresDSN(t Target, pw string) string {
	q := url.Values{}
	q.Set("sslmode", f.cfg.SSLMode)
	if secs := int(f.timeout / time.Second); secs > 0 {
		q.Set("connect_timeout", strconv.Itoa(secs))
	}
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(f.cfg.User, pw),
		Host:     net.JoinHostPort(t.Host, strconv.Itoa(t.Port)),
		Path:     "/" + t.Database,
		RawQuery: q.Encode(),
	}
	return u.String()
}

// mysqlDSN fills:
//
//	{user}:{pw}@tcp({host}:{port})/{db}?parseTime=true&tls={mode}
func (f *Factory) mysqlDSN(t Target, pw string) string {
	mc := mysql.NewConfig()
	mc.User = f.cfg.User
	mc.Passwd = pw
	mc.Net = "tcp"
	mc.Addr = net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	mc.DBName = t.Database
	mc.ParseTime = true
	mc.Timeout = f.timeout
	mc.TLSConfig = mysqlTLS(f.cfg.SSLMode)
	return mc.FormatDSN()
}

// mysqlTLS maps libpq-style ssl modes onto go-sql-driver/mysql tls values.
func mysqlTLS(mode string) string {
	switch mode {
	case "allow", "prefer":
		return "preferred"
	case "require":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return "true"
	}
	return ""
}
