package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/gate"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// APIPath prefixes the JSON endpoints of the application
const APIPath = "/app/api"

// RecoveryMiddleware recovers from panics and returns 500 Internal Server Error
type RecoveryMiddleware struct{}

// NewRecoveryMiddleware creates a new RecoveryMiddleware
func NewRecoveryMiddleware() *RecoveryMiddleware {
	return &RecoveryMiddleware{}
}

// Recover wraps a handler with panic recovery
func (m *RecoveryMiddleware) Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				ctx := r.Context()
				if logger.CorrelationIDFrom(ctx) == "" {
					ctx = logger.WithCorrelationID(ctx, uuid.New().String())
				}
				logger.Error(ctx, "Panic recovered", "panic", fmt.Sprint(rec), "path", r.URL.Path)
				respondError(w, ctx, http.StatusInternalServerError, "internal server error")
			}
		}()

		next.ServeHTTP(w, r)
	})
}

// CorrelationMiddleware tags every request with a correlation id. A valid UUID
// sent by the caller is reused.
type CorrelationMiddleware struct{}

// NewCorrelationMiddleware creates a new CorrelationMiddleware
func NewCorrelationMiddleware() *CorrelationMiddleware {
	return &CorrelationMiddleware{}
}

// Attach stores the correlation id in the context and echoes it in the response
func (m *CorrelationMiddleware) Attach(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		correlationID := uuid.New().String()
		if incoming, err := uuid.Parse(r.Header.Get("X-Correlation-ID")); err == nil {
			correlationID = incoming.String()
		}

		w.Header().Set("X-Correlation-ID", correlationID)
		ctx := logger.WithCorrelationID(r.Context(), correlationID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// HostMiddleware redirects requests to their canonical host
type HostMiddleware struct {
	enabled bool
}

// NewHostMiddleware creates a new HostMiddleware
func NewHostMiddleware(enabled bool) *HostMiddleware {
	return &HostMiddleware{enabled: enabled}
}

// Route redirects marketing pages off the app host and app pages onto it
func (m *HostMiddleware) Route(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.enabled || r.URL.Path == HealthPath {
			next.ServeHTTP(w, r)
			return
		}

		decision := gate.RouteHost(r.Host, r.URL)
		if decision.Redirect() {
			logger.Debug(r.Context(), "Redirecting to canonical host", "host", r.Host, "location", decision.Location)
			http.Redirect(w, r, decision.Location, decision.StatusCode)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// AccessLookup fetches what the gate needs to know about the caller
type AccessLookup interface {
	FetchEntitlements(ctx context.Context, opts client.FetchOptions) (models.Entitlements, error)
	FetchAdminWhoAmI(ctx context.Context, opts client.FetchOptions) (models.AdminWhoAmI, error)
}

// Access is the caller's resolved entitlement and role state
type Access struct {
	Entitlements         models.Entitlements
	HasEntitlementsError bool
	IsAdmin              bool
}

type accessKey struct{}

// AccessFrom returns the access state the gate resolved for the request
func AccessFrom(ctx context.Context) (Access, bool) {
	access, ok := ctx.Value(accessKey{}).(Access)
	return access, ok
}

// GateMiddleware guards the application shell
type GateMiddleware struct {
	lookup      AccessLookup
	adminEmails []string
}

// NewGateMiddleware creates a new GateMiddleware
func NewGateMiddleware(lookup AccessLookup, adminEmails []string) *GateMiddleware {
	return &GateMiddleware{
		lookup:      lookup,
		adminEmails: adminEmails,
	}
}

// Resolve looks up entitlements and the admin role concurrently and builds the
// gate input for path. An admin lookup failure means "not an admin".
func (m *GateMiddleware) Resolve(ctx context.Context, path string) (gate.Input, Access) {
	in := gate.Input{Pathname: path}
	var access Access

	session, ok := SessionFrom(ctx)
	if !ok {
		return in, access
	}
	in.HasSession = true

	opts := client.FetchOptions{Scope: session.Subject}
	var (
		entitlements    models.Entitlements
		whoami          models.AdminWhoAmI
		entitlementsErr error
	)

	var g errgroup.Group
	g.Go(func() error {
		entitlements, entitlementsErr = m.lookup.FetchEntitlements(ctx, opts)
		return nil
	})
	g.Go(func() error {
		var err error
		whoami, err = m.lookup.FetchAdminWhoAmI(ctx, opts)
		if err != nil {
			logger.Warn(ctx, "Admin role lookup failed", "error", err)
			whoami = models.AdminWhoAmI{}
		}
		return nil
	})
	_ = g.Wait()

	if whoami.Email == "" {
		whoami.Email = session.Email
	}
	access.IsAdmin = gate.ResolveAdmin(whoami, m.adminEmails)
	in.IsAdmin = access.IsAdmin

	switch {
	case entitlementsErr == nil:
		access.Entitlements = entitlements
		in.IsEntitled = entitlements.Entitled
	case models.IsSessionExpired(entitlementsErr):
		in.HasSession = false
	default:
		logger.Warn(ctx, "Entitlement lookup failed", "error", entitlementsErr)
		access.HasEntitlementsError = true
		in.HasEntitlementsError = true
	}

	return in, access
}

// billingAPIPaths back the billing pages and get the same gate treatment
var billingAPIPaths = []string{APIPath + "/billing", APIPath + "/entitlements"}

// gatePath is the path the gate decides on. Billing endpoints are judged as
// billing pages so creators without a subscription can still subscribe.
func gatePath(path string) string {
	for _, prefix := range billingAPIPaths {
		if gate.IsUnder(path, prefix) {
			return gate.BillingPath
		}
	}
	return path
}

// Protect applies the gate decision to every request under the application shell
func (m *GateMiddleware) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		in, access := m.Resolve(ctx, gatePath(r.URL.Path))
		decision := gate.DecideAppGate(in)
		isAPI := gate.IsUnder(r.URL.Path, APIPath)

		switch decision {
		case gate.DecisionAllow:
			next.ServeHTTP(w, r.WithContext(context.WithValue(ctx, accessKey{}, access)))

		case gate.DecisionRedirectLogin:
			if isAPI {
				respondError(w, ctx, http.StatusUnauthorized, "authentication required")
				return
			}
			http.Redirect(w, r, gate.LoginPath+"?next="+url.QueryEscape(r.URL.RequestURI()), http.StatusFound)

		case gate.DecisionRedirectBilling:
			if isAPI {
				respondError(w, ctx, http.StatusPaymentRequired, "an active subscription is required")
				return
			}
			http.Redirect(w, r, gate.BillingPath, http.StatusFound)

		default:
			w.Header().Set("Retry-After", "1")
			respondError(w, ctx, http.StatusServiceUnavailable, "loading")
		}
	})
}

// RequireAdmin rejects callers the gate did not resolve as admins
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		access, ok := AccessFrom(r.Context())
		if !ok || !access.IsAdmin {
			respondError(w, r.Context(), http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
