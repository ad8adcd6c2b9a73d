package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/tardis-create/revenueforge-sub000/internal/audit"
	"github.com/tardis-create/revenueforge-sub000/internal/auth"
	"github.com/tardis-create/revenueforge-sub000/internal/catalog"
	"github.com/tardis-create/revenueforge-sub000/internal/obs"
	"github.com/tardis-create/revenueforge-sub000/internal/ratelimit"
	"github.com/tardis-create/revenueforge-sub000/internal/rbac"
)

// ReadyProbe reports whether backing stores are reachable.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// Config wires the API's collaborators.
type Config struct {
	Version  string
	Probe    ReadyProbe
	Tokens   *auth.Tokens
	Verifier auth.TokenVerifier
	Users    auth.UserStore
	Matrix   *rbac.Matrix
	Limiter  *ratelimit.Limiter
	Recorder *audit.Recorder
	Products catalog.Store
}

// API is the HTTP layer: the route table plus the standard middleware
// stack assembled per route.
type API struct {
	mux      *http.ServeMux
	probe    ReadyProbe
	version  string
	tokens   *auth.Tokens
	verifier auth.TokenVerifier
	users    auth.UserStore
	matrix   *rbac.Matrix
	limiter  *ratelimit.Limiter
	recorder *audit.Recorder
	products catalog.Store
}

func New(cfg Config) *API {
	a := &API{
		mux:      http.NewServeMux(),
		probe:    cfg.Probe,
		version:  cfg.Version,
		tokens:   cfg.Tokens,
		verifier: cfg.Verifier,
		users:    cfg.Users,
		matrix:   cfg.Matrix,
		limiter:  cfg.Limiter,
		recorder: cfg.Recorder,
		products: cfg.Products,
	}
	if a.matrix == nil {
		a.matrix = rbac.Default()
	}

	a.mux.Handle("/healthz", a.stack(http.HandlerFunc(a.handleHealthz), stackOptions{tier: "default"}))
	a.mux.Handle("/readyz", a.stack(http.HandlerFunc(a.handleReady), stackOptions{tier: "default"}))
	a.mux.Handle("/metrics", Chain(obs.Handler(), Recover, SecurityHeaders))

	a.mux.Handle("/v1/auth/token", byMethod(map[string]http.Handler{
		http.MethodPost: a.stack(http.HandlerFunc(a.handleToken), stackOptions{
			tier:          "auth",
			resource:      "auth",
			action:        "login",
			auditAction:   audit.ActionLogin,
			auditResource: "auth",
		}),
	}))

	a.mux.Handle("/v1/audit", byMethod(map[string]http.Handler{
		http.MethodGet: a.stack(http.HandlerFunc(a.handleAuditList), stackOptions{
			tier:     "admin",
			resource: "audit",
			action:   "read",
		}),
	}))

	a.mux.Handle("/v1/products", byMethod(map[string]http.Handler{
		http.MethodGet: a.stack(http.HandlerFunc(a.handleProductList), stackOptions{
			tier:     "catalog",
			resource: "products",
			action:   "read",
		}),
		http.MethodPost: a.stack(http.HandlerFunc(a.handleProductCreate), stackOptions{
			tier:          "default",
			resource:      "products",
			action:        "create",
			auditAction:   audit.ActionCreate,
			auditResource: "products",
		}),
	}))

	a.mux.Handle("/v1/products/", byMethod(map[string]http.Handler{
		http.MethodDelete: a.stack(http.HandlerFunc(a.handleProductDelete), stackOptions{
			tier:          "admin",
			resource:      "products",
			action:        "delete",
			auditAction:   audit.ActionDelete,
			auditResource: "products",
			idFromPath:    true,
		}),
	}))

	a.mux.Handle("/", Chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	}), Recover, SecurityHeaders))

	return a
}

// Handler returns the server handler, wrapped with request metrics.
func (a *API) Handler() http.Handler {
	return obs.Instrument(a.mux)
}

func (a *API) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "revenueforge-api",
		"version": a.version,
	})
}

func (a *API) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := a.probe.Check(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  "dependency unavailable",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
