package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecover_PanicReturns500(t *testing.T) {
	handler := NewRecoveryMiddleware().Recover(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app", nil))

	assert.Equal(t, http.StatusInternalServerError, rr.Code)

	var response ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&response))
	assert.Equal(t, "internal server error", response.Error)
	assert.NotEmpty(t, response.CorrelationID)
	assert.Equal(t, response.CorrelationID, rr.Header().Get("X-Correlation-ID"))
}

func TestCorrelation_GeneratesID(t *testing.T) {
	var seen string
	handler := NewCorrelationMiddleware().Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFrom(r.Context())
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	_, err := uuid.Parse(seen)
	assert.NoError(t, err)
	assert.Equal(t, seen, rr.Header().Get("X-Correlation-ID"))
}

func TestCorrelation_ReusesValidIncomingID(t *testing.T) {
	incoming := uuid.New().String()

	var seen string
	handler := NewCorrelationMiddleware().Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", incoming)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, incoming, seen)
}

func TestCorrelation_ReplacesInvalidIncomingID(t *testing.T) {
	var seen string
	handler := NewCorrelationMiddleware().Attach(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.CorrelationIDFrom(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Correlation-ID", "<script>")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.NotEqual(t, "<script>", seen)
	assert.NotEmpty(t, seen)
}

func TestHostRoute(t *testing.T) {
	tests := []struct {
		name         string
		enabled      bool
		target       string
		wantCode     int
		wantLocation string
	}{
		{"disabled serves everything", false, "https://www.earnsigma.com/app/uploads", http.StatusOK, ""},
		{"app page on marketing host", true, "https://www.earnsigma.com/app/uploads?x=1", http.StatusPermanentRedirect, "https://app.earnsigma.com/app/uploads?x=1"},
		{"marketing page on app host", true, "https://app.earnsigma.com/pricing", http.StatusPermanentRedirect, "https://www.earnsigma.com/"},
		{"app page on app host", true, "https://app.earnsigma.com/app", http.StatusOK, ""},
		{"health is never redirected", true, "https://app.earnsigma.com/health", http.StatusOK, ""},
		{"unknown host is served", true, "https://preview.other.dev/app", http.StatusOK, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewHostMiddleware(tt.enabled).Route(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, tt.target, nil))

			assert.Equal(t, tt.wantCode, rr.Code)
			assert.Equal(t, tt.wantLocation, rr.Header().Get("Location"))
		})
	}
}

func serveGate(t *testing.T, lookup *fakeAccess, adminEmails []string, req *http.Request) (*httptest.ResponseRecorder, *Access) {
	t.Helper()
	var seen *Access
	handler := NewGateMiddleware(lookup, adminEmails).Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if access, ok := AccessFrom(r.Context()); ok {
			seen = &access
		}
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	return rr, seen
}

func sessionRequest(method, target, subject, email string) *http.Request {
	req := httptest.NewRequest(method, target, nil)
	if subject == "" {
		return req
	}
	return req.WithContext(WithSession(req.Context(), &Session{Subject: subject, Email: email, AccessToken: "tok"}))
}

func TestGate_NoSessionPageRedirectsToLogin(t *testing.T) {
	rr, _ := serveGate(t, &fakeAccess{}, nil, sessionRequest(http.MethodGet, "/app/uploads?step=2", "", ""))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/login?next=%2Fapp%2Fuploads%3Fstep%3D2", rr.Header().Get("Location"))
}

func TestGate_NoSessionAPIReturns401(t *testing.T) {
	lookup := &fakeAccess{}
	rr, _ := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/api/entitlements", "", ""))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Empty(t, lookup.scopes, "no lookups without a session")
}

func TestGate_NotEntitledPageRedirectsToBilling(t *testing.T) {
	lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: false}}
	rr, _ := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/uploads", "creator-1", ""))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/app/billing", rr.Header().Get("Location"))
}

func TestGate_NotEntitledAPIReturns402(t *testing.T) {
	lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: false}}
	rr, _ := serveGate(t, lookup, nil, sessionRequest(http.MethodPost, "/app/api/uploads/track", "creator-1", ""))

	assert.Equal(t, http.StatusPaymentRequired, rr.Code)
}

func TestGate_NotEntitledBillingAllowed(t *testing.T) {
	lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: false}}
	rr, access := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/billing/plans", "creator-1", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, access)
	assert.False(t, access.Entitlements.Entitled)
}

func TestGate_NotEntitledBillingEndpointsAllowed(t *testing.T) {
	for _, target := range []string{"/app/api/entitlements", "/app/api/billing/checkout"} {
		t.Run(target, func(t *testing.T) {
			lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: false}}
			rr, access := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, target, "creator-1", ""))

			assert.Equal(t, http.StatusOK, rr.Code)
			require.NotNil(t, access)
		})
	}
}

func TestGatePath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/app/api/entitlements", "/app/billing"},
		{"/app/api/billing/checkout", "/app/billing"},
		{"/app/api/billing", "/app/billing"},
		{"/app/api/entitlementsx", "/app/api/entitlementsx"},
		{"/app/api/uploads/track", "/app/api/uploads/track"},
		{"/app/uploads", "/app/uploads"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, gatePath(tt.path), tt.path)
	}
}

func TestGate_EntitledAllowedWithScopedLookups(t *testing.T) {
	lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: true, Plan: "plan_a"}}
	rr, access := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/uploads", "creator-1", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, access)
	assert.Equal(t, "plan_a", access.Entitlements.Plan)
	assert.ElementsMatch(t, []string{"creator-1", "creator-1"}, lookup.scopes)
}

func TestGate_EntitlementErrorAllows(t *testing.T) {
	lookup := &fakeAccess{entitlementsErr: models.NewAPIError(503, "", "billing down", nil, nil)}
	rr, access := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/uploads", "creator-1", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, access)
	assert.True(t, access.HasEntitlementsError)
}

func TestGate_SessionExpiredTreatedAsSignedOut(t *testing.T) {
	lookup := &fakeAccess{entitlementsErr: models.NewAPIError(401, models.ErrorCodeSessionExpired, "expired", nil, nil)}
	rr, _ := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/api/entitlements", "creator-1", ""))

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGate_AdminWithoutEntitlementsReachesAdmin(t *testing.T) {
	lookup := &fakeAccess{whoami: models.AdminWhoAmI{IsAdmin: true}}
	rr, access := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/admin/uploads/recent", "admin-1", ""))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, access)
	assert.True(t, access.IsAdmin)
}

func TestGate_AdminWithoutEntitlementsOutsideAdminGoesToBilling(t *testing.T) {
	lookup := &fakeAccess{whoami: models.AdminWhoAmI{IsAdmin: true}}
	rr, _ := serveGate(t, lookup, nil, sessionRequest(http.MethodGet, "/app/uploads", "admin-1", ""))

	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/app/billing", rr.Header().Get("Location"))
}

func TestGate_AllowlistUsesSessionEmailWhenWhoAmIFails(t *testing.T) {
	lookup := &fakeAccess{whoamiErr: errors.New("network down")}
	rr, access := serveGate(t, lookup, []string{"Ops@EarnSigma.com"}, sessionRequest(http.MethodGet, "/app/admin", "admin-1", "ops@earnsigma.com"))

	assert.Equal(t, http.StatusOK, rr.Code)
	require.NotNil(t, access)
	assert.True(t, access.IsAdmin)
}

func TestGate_PassesAccessTokenToLookups(t *testing.T) {
	lookup := &fakeAccess{entitlements: models.Entitlements{Entitled: true}}
	m := NewSessionMiddleware(testConfig())
	token := signToken(t, "creator-1", "", time.Hour)

	handler := m.Authenticate(NewGateMiddleware(lookup, nil).Protect(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})))

	req := httptest.NewRequest(http.MethodGet, "/app", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, []string{token}, lookup.tokens)
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, withSession(httptest.NewRequest(http.MethodGet, "/app/admin", nil), "creator-1", false))
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, withSession(httptest.NewRequest(http.MethodGet, "/app/admin", nil), "admin-1", true))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/app/admin", nil))
	assert.Equal(t, http.StatusForbidden, rr.Code)
}
