// internal/httpapi/router.go
//
// Ops router.
//
// Context
// -------
// tenantd has no end-user traffic; the HTTP surface is for operators and
// the control plane:
//
//	GET    /healthz                          liveness + cache size
//	GET    /metrics                          Prometheus
//	GET    /tenants/{ident}                  registry metadata, no guard
//	GET    /tenants/{ident}/ping             guarded connection + ping
//	POST   /admin/tenants/{slug}/provision   create, migrate, seed
//	POST   /admin/tenants/{slug}/reactivate  refresh record, warm client
//	GET    /admin/cache                      stats and cached entries
//	DELETE /admin/cache/{slug}               drop lookup + client
//
// {ident} is a slug, or a tenant id when it parses as a UUID.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/provision"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// Manager is the subset of *tenant.Manager the router needs.
type Manager interface {
	Connection(ctx context.Context, ident string) (*tenant.Conn, error)
	Tenant(ctx context.Context, ident string) (*registry.Record, error)
	ReactivateAndWarm(ctx context.Context, slug string) (*tenant.Conn, error)
	Invalidate(slug string)
	Stats() tenant.Stats
	Entries() []tenant.EntryInfo
}

// Provisioner is the subset of *provision.Service the router needs.
type Provisioner interface {
	Provision(ctx context.Context, slug string, data provision.SeedData) (string, error)
}

// Options wires NewRouter.  Provisioner may be nil, in which case the
// provisioning endpoint answers 501.
type Options struct {
	Manager     Manager
	Provisioner Provisioner
	Logger      *zap.Logger
}

type api struct {
	mgr  Manager
	prov Provisioner
	log  *zap.Logger
}

// NewRouter returns the ops handler.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	a := &api{mgr: opts.Manager, prov: opts.Provisioner, log: opts.Logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(a.log))
	r.Use(securityHeaders)

	r.Get("/healthz", a.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/tenants/{ident}", func(r chi.Router) {
		r.Get("/", a.getTenant)
		r.Get("/ping", a.ping)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Post("/tenants/{slug}/provision", a.provision)
		r.Post("/tenants/{slug}/reactivate", a.reactivate)
		r.Get("/cache", a.cache)
		r.Delete("/cache/{slug}", a.invalidate)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}
