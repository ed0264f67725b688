package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/client"
	"github.com/earnsigma/go_earnsigma/internal/config"
	"github.com/earnsigma/go_earnsigma/internal/logger"
	"github.com/golang-jwt/jwt/v5"
)

// SessionCookieName is the cookie the web app stores its access token in
const SessionCookieName = "sb-access-token"

// Session is the signed-in user behind a request
type Session struct {
	Subject     string
	Email       string
	AccessToken string
}

// SessionClaims are the access token claims the gateway reads
type SessionClaims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

type sessionKey struct{}

// WithSession returns a context carrying session
func WithSession(ctx context.Context, session *Session) context.Context {
	return context.WithValue(ctx, sessionKey{}, session)
}

// SessionFrom returns the session stored in ctx, if any
func SessionFrom(ctx context.Context) (*Session, bool) {
	session, ok := ctx.Value(sessionKey{}).(*Session)
	return session, ok && session != nil
}

// SessionMiddleware resolves the caller's session from a bearer token or the
// session cookie. Requests without a valid token continue without a session.
type SessionMiddleware struct {
	enabled bool
	secret  []byte
	issuer  string
}

// NewSessionMiddleware creates a new SessionMiddleware
func NewSessionMiddleware(cfg *config.Config) *SessionMiddleware {
	return &SessionMiddleware{
		enabled: cfg.Auth.Enabled,
		secret:  []byte(cfg.Auth.JWTSecret),
		issuer:  cfg.Auth.Issuer,
	}
}

// ParseToken verifies an HS256 access token. With auth disabled the signature
// is not checked, which is only meant for local development.
func (m *SessionMiddleware) ParseToken(token string) (*Session, error) {
	claims := &SessionClaims{}

	if !m.enabled {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, fmt.Errorf("failed to parse access token: %w", err)
		}
	} else {
		opts := []jwt.ParserOption{
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		}
		if m.issuer != "" {
			opts = append(opts, jwt.WithIssuer(m.issuer))
		}

		_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return m.secret, nil
		}, opts...)
		if err != nil {
			return nil, fmt.Errorf("invalid access token: %w", err)
		}
	}

	if claims.Subject == "" {
		return nil, errors.New("access token has no subject")
	}

	return &Session{
		Subject:     claims.Subject,
		Email:       claims.Email,
		AccessToken: token,
	}, nil
}

// Authenticate attaches the session, the creator id and the backend access
// token to the request context
func (m *SessionMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := tokenFromRequest(r)
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		session, err := m.ParseToken(token)
		if err != nil {
			logger.Warn(ctx, "Ignoring invalid session", "error", err)
			next.ServeHTTP(w, r)
			return
		}

		ctx = WithSession(ctx, session)
		ctx = logger.WithCreatorID(ctx, session.Subject)
		ctx = client.WithAccessToken(ctx, session.AccessToken)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		scheme, token, ok := strings.Cut(header, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
		return ""
	}

	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		return cookie.Value
	}
	return ""
}
