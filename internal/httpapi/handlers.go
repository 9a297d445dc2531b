package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yanizio/tenantdb/internal/database"
	"github.com/yanizio/tenantdb/internal/provision"
	"github.com/yanizio/tenantdb/internal/tenant"
	"github.com/yanizio/tenantdb/internal/tenant/registry"
)

// maxBody caps JSON request bodies.
const maxBody = 64 << 10

type tenantView struct {
	ID           string          `json:"id"`
	Slug         string          `json:"slug"`
	Name         string          `json:"name"`
	Status       registry.Status `json:"status"`
	DatabaseName string          `json:"database_name,omitempty"`
	CustomHost   bool            `json:"custom_host"`
	Usable       bool            `json:"usable"`
}

func viewOf(rec *registry.Record) tenantView {
	return tenantView{
		ID:           rec.ID,
		Slug:         rec.Slug,
		Name:         rec.Name,
		Status:       rec.Status,
		DatabaseName: rec.DatabaseName,
		CustomHost:   rec.HasCustomHost(),
		Usable:       !rec.Status.Blocked(),
	}
}

type provisionRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	st := a.mgr.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"connections": st.Size,
		"capacity":    st.Capacity,
	})
}

func (a *api) getTenant(w http.ResponseWriter, r *http.Request) {
	rec, err := a.mgr.Tenant(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(rec))
}

func (a *api) ping(w http.ResponseWriter, r *http.Request) {
	conn, err := a.mgr.Connection(r.Context(), chi.URLParam(r, "ident"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	start := time.Now()
	if err := conn.PingContext(r.Context()); err != nil {
		a.fail(w, r, &tenant.ConnectionError{Slug: conn.Slug, Err: err})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"slug":      conn.Slug,
		"tenant_id": conn.TenantID,
		"rtt_ms":    time.Since(start).Milliseconds(),
	})
}

func (a *api) provision(w http.ResponseWriter, r *http.Request) {
	if a.prov == nil {
		writeError(w, http.StatusNotImplemented, "provisioning is not configured")
		return
	}
	slug := chi.URLParam(r, "slug")

	var req provisionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return
	}
	hash, err := provision.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	adminID, err := a.prov.Provision(r.Context(), slug, provision.SeedData{
		AdminName:    req.Name,
		AdminEmail:   req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.log.Info("tenant provisioned", zap.String("tenant", slug), zap.String("admin_id", adminID))
	writeJSON(w, http.StatusCreated, map[string]string{
		"slug":          slug,
		"admin_user_id": adminID,
	})
}

func (a *api) reactivate(w http.ResponseWriter, r *http.Request) {
	conn, err := a.mgr.ReactivateAndWarm(r.Context(), chi.URLParam(r, "slug"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"slug":      conn.Slug,
		"tenant_id": conn.TenantID,
		"dsn":       conn.RedactedDSN(),
	})
}

func (a *api) cache(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"stats":   a.mgr.Stats(),
		"entries": a.mgr.Entries(),
	})
}

func (a *api) invalidate(w http.ResponseWriter, r *http.Request) {
	a.mgr.Invalidate(chi.URLParam(r, "slug"))
	w.WriteHeader(http.StatusNoContent)
}

// -----------------------------------------------------------------------------
// helpers
// -----------------------------------------------------------------------------

// statusFor maps core errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, tenant.ErrTenantNotFound):
		return http.StatusNotFound
	case errors.Is(err, tenant.ErrTenantSuspended):
		return http.StatusForbidden
	case errors.Is(err, tenant.ErrManagerClosed),
		errors.Is(err, tenant.ErrConnection):
		return http.StatusServiceUnavailable
	case errors.Is(err, database.ErrInvalidName),
		errors.As(err, new(validator.ValidationErrors)):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		a.log.Error("request failed",
			zap.String("path", r.URL.Path), zap.Int("status", code), zap.Error(err))
	}

	body := map[string]any{"error": err.Error()}
	var se *tenant.SuspendedError
	if errors.As(err, &se) {
		body["status"] = se.Status
	}
	var pe *provision.Error
	if errors.As(err, &pe) {
		body["step"] = pe.Step
	}
	writeJSON(w, code, body)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
