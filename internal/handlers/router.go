package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/gorilla/mux"
)

// HealthPath is served on every host
const HealthPath = "/health"

// HealthChecker is implemented by dependencies the health endpoint probes
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// RouterConfig holds everything the gateway routes need
type RouterConfig struct {
	Config  *config.Config
	Uploads *UploadHandler
	Stats   *StatsHandler
	Billing *BillingHandler
	Access  AccessLookup
	Health  []HealthChecker
}

// NewRouter builds the gateway handler. Host routing and session extraction
// apply to every request; the gate applies to everything under /app.
func NewRouter(rc RouterConfig) (http.Handler, error) {
	cfg := rc.Config
	r := mux.NewRouter()
	r.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)

	r.HandleFunc(HealthPath, healthHandler(rc.Health)).Methods(http.MethodGet)

	gateMiddleware := NewGateMiddleware(rc.Access, cfg.Admin.Emails)
	app := r.PathPrefix("/app").Subrouter()
	app.Use(gateMiddleware.Protect)

	api := app.PathPrefix("/api").Subrouter()
	api.MethodNotAllowedHandler = http.HandlerFunc(methodNotAllowed)
	api.HandleFunc("/uploads/track", rc.Uploads.HandleTrackUpload).Methods(http.MethodPost)
	api.HandleFunc("/uploads/{id}", rc.Uploads.HandleGetUpload).Methods(http.MethodGet)
	api.HandleFunc("/uploads/{id}/diagnostics", rc.Uploads.HandleDiagnostics).Methods(http.MethodGet)
	api.HandleFunc("/entitlements", rc.Billing.HandleEntitlements).Methods(http.MethodGet)
	api.HandleFunc("/billing/checkout", rc.Billing.HandleCheckout).Methods(http.MethodPost)

	admin := app.PathPrefix("/admin").Subrouter()
	admin.Use(RequireAdmin)
	admin.HandleFunc("/uploads/counts", rc.Stats.HandleUploadCounts).Methods(http.MethodGet)
	admin.HandleFunc("/uploads/recent", rc.Stats.HandleRecentUploads).Methods(http.MethodGet)
	admin.HandleFunc("/uploads/{id}/history", rc.Stats.HandleUploadHistory).Methods(http.MethodGet)

	if cfg.Frontend.URL != "" {
		proxy, err := NewFrontendProxy(cfg.Frontend.URL)
		if err != nil {
			return nil, err
		}
		app.PathPrefix("/").Handler(proxy)
		r.Handle("/app", gateMiddleware.Protect(proxy))
		r.PathPrefix("/").Handler(proxy)
	}

	var handler http.Handler = r
	handler = NewSessionMiddleware(cfg).Authenticate(handler)
	handler = NewHostMiddleware(cfg.Hosts.EnforceCanonical).Route(handler)
	handler = NewCorrelationMiddleware().Attach(handler)
	handler = NewRecoveryMiddleware().Recover(handler)
	return handler, nil
}

// NewFrontendProxy forwards page requests to the web frontend
func NewFrontendProxy(rawURL string) (*httputil.ReverseProxy, error) {
	target, err := url.Parse(rawURL)
	if err != nil || target.Scheme == "" || target.Host == "" {
		return nil, fmt.Errorf("invalid frontend URL %q", rawURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.LogError(r.Context(), "Frontend proxy failed", err)
		respondError(w, r.Context(), http.StatusBadGateway, "frontend unavailable")
	}
	return proxy, nil
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	respondError(w, r.Context(), http.StatusMethodNotAllowed, "method not allowed")
}

// HealthResponse reports the state of the gateway's dependencies
type HealthResponse struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func healthHandler(checks []HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, check := range checks {
			if err := check.HealthCheck(ctx); err != nil {
				logger.LogError(ctx, "Health check failed", err)
				respondJSON(w, ctx, http.StatusServiceUnavailable, HealthResponse{Status: "unhealthy", Error: err.Error()})
				return
			}
		}
		respondJSON(w, ctx, http.StatusOK, HealthResponse{Status: "healthy"})
	}
}
