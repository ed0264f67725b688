package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/earnsigma/go_earnsigma/internal/cache"
	"github.com/earnsigma/go_earnsigma/internal/models"
	"golang.org/x/sync/singleflight"
)

// DefaultLocalAPIBaseURL is used for local development hosts and as the last fallback
const DefaultLocalAPIBaseURL = "http://localhost:8000"

const (
	entitlementsCacheKey    = "earnsigma.entitlements.v1"
	checkoutAttemptKey      = "earnsigma.checkout.attempt.v1"
	adminWhoAmICacheKey     = "earnsigma.admin.whoami.v1"
	defaultEntitlementsTTL  = 60 * time.Second
	defaultCheckoutTTL      = 20 * time.Second
	defaultAdminWhoAmITTL   = 5 * time.Minute
	responseSampleMaxLength = 300
)

// TokenSource supplies the bearer token for requests that carry none in their context
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a fixed bearer token, such as a service token
type StaticToken string

// Token returns the token itself
func (t StaticToken) Token(ctx context.Context) (string, error) {
	return string(t), nil
}

type accessTokenKey struct{}

// WithAccessToken attaches a creator's bearer token to ctx
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey{}, token)
}

// AccessTokenFrom returns the bearer token attached to ctx, if any
func AccessTokenFrom(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenKey{}).(string)
	return token
}

// Client talks to the EarnSigma backend API
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	now        func() time.Time

	entitlements    *cache.TTL[models.Entitlements]
	adminWhoAmI     *cache.TTL[models.AdminWhoAmI]
	checkoutAttempt *cache.AttemptMarker
	group           singleflight.Group
}

// Config holds the settings for a Client. Zero values select the defaults.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	HTTPClient         *http.Client
	TokenSource        TokenSource
	Store              cache.Store
	EntitlementsTTL    time.Duration
	CheckoutAttemptTTL time.Duration
	AdminWhoAmITTL     time.Duration
	Now                func() time.Time
}

// NewClient creates a new backend API client
func NewClient(config Config) *Client {
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.Timeout}
	}
	if config.Store == nil {
		config.Store = cache.NewMemoryStore()
	}
	if config.EntitlementsTTL == 0 {
		config.EntitlementsTTL = defaultEntitlementsTTL
	}
	if config.CheckoutAttemptTTL == 0 {
		config.CheckoutAttemptTTL = defaultCheckoutTTL
	}
	if config.AdminWhoAmITTL == 0 {
		config.AdminWhoAmITTL = defaultAdminWhoAmITTL
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultLocalAPIBaseURL
	}

	return &Client{
		baseURL:         normalizeBaseURL(config.BaseURL),
		httpClient:      config.HTTPClient,
		tokens:          config.TokenSource,
		now:             config.Now,
		entitlements:    cache.NewTTL[models.Entitlements](entitlementsCacheKey, config.EntitlementsTTL, config.Store, config.Now),
		adminWhoAmI:     cache.NewTTL[models.AdminWhoAmI](adminWhoAmICacheKey, config.AdminWhoAmITTL, nil, config.Now),
		checkoutAttempt: cache.NewAttemptMarker(checkoutAttemptKey, config.CheckoutAttemptTTL, config.Store, config.Now),
	}
}

// BaseURL returns the API origin requests are sent to
func (c *Client) BaseURL() string {
	return c.baseURL
}

func normalizeBaseURL(value string) string {
	return strings.TrimRight(strings.TrimSpace(value), "/")
}

// ResolveAPIBaseURL picks the API origin. An explicit configuration wins; then
// the host serving the request; then the deployment host; then local development.
func ResolveAPIBaseURL(configured, requestHost, deploymentHost string) string {
	if configured = strings.TrimSpace(configured); configured != "" {
		return normalizeBaseURL(configured)
	}

	if host := strings.TrimSpace(requestHost); host != "" {
		hostname := strings.ToLower(host)
		if h, _, err := net.SplitHostPort(hostname); err == nil {
			hostname = h
		}

		if hostname == "localhost" || hostname == "127.0.0.1" || strings.HasSuffix(hostname, ".localhost") {
			return DefaultLocalAPIBaseURL
		}
		if strings.HasPrefix(host, "app.") {
			return "https://api." + strings.TrimPrefix(host, "app.")
		}
		return "https://" + host
	}

	if host := strings.TrimSpace(deploymentHost); host != "" {
		if strings.HasPrefix(host, "app.") {
			return "https://api." + strings.TrimPrefix(host, "app.")
		}
		return "https://" + host
	}

	return DefaultLocalAPIBaseURL
}

// JoinURL appends path to base. Absolute http(s) paths are returned unchanged.
func JoinURL(base, path string) string {
	base = normalizeBaseURL(base)
	if path == "" {
		return base
	}
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func looksLikeHTML(text string) bool {
	sample := strings.TrimLeft(text, " \t\r\n")
	if len(sample) > 200 {
		sample = sample[:200]
	}
	sample = strings.ToLower(sample)
	return strings.HasPrefix(sample, "<!doctype html") ||
		strings.HasPrefix(sample, "<html") ||
		strings.Contains(sample, "<head") ||
		strings.Contains(sample, "<body")
}

func isJSONContentType(contentType string) bool {
	normalized := strings.ToLower(contentType)
	return strings.Contains(normalized, "application/json") || strings.Contains(normalized, "+json")
}

func sample(text string) string {
	if len(text) > responseSampleMaxLength {
		return text[:responseSampleMaxLength]
	}
	return text
}

// SafeParseJSON reads and validates a JSON response body. It returns nil for
// 204 and empty bodies, and an APIError for HTML or malformed payloads.
func SafeParseJSON(resp *http.Response) (json.RawMessage, error) {
	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}

	text := string(body)
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	contentType := resp.Header.Get("Content-Type")
	trimmed := strings.TrimLeft(text, " \t\r\n")
	canAttemptJSON := isJSONContentType(contentType) || strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[")

	details := map[string]any{"content_type": contentType, "sample": sample(text)}

	if !canAttemptJSON || looksLikeHTML(text) {
		return nil, models.NewAPIError(resp.StatusCode, models.ErrorCodeNonJSON,
			"Received a non-JSON response from the billing service.", details, nil)
	}

	if !json.Valid(body) {
		return nil, models.NewAPIError(resp.StatusCode, models.ErrorCodeInvalidJSON,
			"Received malformed JSON from the billing service.", details, nil)
	}

	return json.RawMessage(body), nil
}

func contextErrorMessage(what string, status int) string {
	if what == "" {
		if status > 0 {
			return fmt.Sprintf("Request failed (HTTP %d).", status)
		}
		return "Request failed."
	}
	if status > 0 {
		return fmt.Sprintf("Failed to fetch %s (HTTP %d).", what, status)
	}
	return fmt.Sprintf("Failed to fetch %s.", what)
}

// resolveToken prefers the caller's token over the configured source
func (c *Client) resolveToken(ctx context.Context) (string, error) {
	if token := AccessTokenFrom(ctx); token != "" {
		return token, nil
	}
	if c.tokens == nil {
		return "", nil
	}
	return c.tokens.Token(ctx)
}

// DoJSON sends a JSON request and decodes the JSON response into out.
// what names the resource in error messages. out may be nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, body any, out any, what string) error {
	raw, err := c.doJSON(ctx, method, path, body, what)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return models.NewAPIError(http.StatusOK, models.ErrorCodeParse, contextErrorMessage(what, 0), nil, err)
	}
	return nil
}

// doJSON performs the request and returns the validated, non-empty response body
func (c *Client) doJSON(ctx context.Context, method, path string, body any, what string) (json.RawMessage, error) {
	url := JoinURL(c.baseURL, path)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	token, err := c.resolveToken(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve access token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewAPIError(0, models.ErrorCodeNetwork, contextErrorMessage(what, 0),
			map[string]any{"url": url}, err)
	}
	defer resp.Body.Close()

	parsed, err := SafeParseJSON(resp)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, responseError(resp.StatusCode, parsed, url, what)
	}

	if parsed == nil {
		message := "Billing service returned an empty response."
		if what != "" {
			message = fmt.Sprintf("Billing service returned an empty response for %s.", what)
		}
		return nil, models.NewAPIError(resp.StatusCode, models.ErrorCodeEmptyResponse, message,
			map[string]any{"url": url}, nil)
	}

	return parsed, nil
}

// errorEnvelope covers both the flat and the nested backend error shapes
type errorEnvelope struct {
	Message *string         `json:"message"`
	Code    *string         `json:"code"`
	Details json.RawMessage `json:"details"`
	Errors  json.RawMessage `json:"errors"`
	Error   json.RawMessage `json:"error"`
}

type nestedError struct {
	Message *string `json:"message"`
	Code    *string `json:"code"`
}

// responseError builds the APIError for a non-2xx response
func responseError(status int, parsed json.RawMessage, url, what string) *models.APIError {
	message := contextErrorMessage(what, status)
	code := ""
	var details any = map[string]any{"url": url}

	var env errorEnvelope
	if parsed != nil && json.Unmarshal(parsed, &env) == nil {
		var nested nestedError
		hasNested := len(env.Error) > 0 && json.Unmarshal(env.Error, &nested) == nil

		switch {
		case env.Message != nil:
			message = *env.Message
		case hasNested && nested.Message != nil:
			message = *nested.Message
		}

		switch {
		case env.Code != nil:
			code = *env.Code
		case hasNested && nested.Code != nil:
			code = *nested.Code
		}

		switch {
		case len(env.Details) > 0:
			details = env.Details
		case len(env.Error) > 0:
			details = env.Error
		case len(env.Errors) > 0:
			details = env.Errors
		default:
			details = parsed
		}
	}

	if status == http.StatusUnauthorized && (code == models.ErrorCodeMissingToken || code == models.ErrorCodeSessionExpired) {
		return models.NewAPIError(status, models.ErrorCodeSessionExpired, "Session expired. Please sign in again.", details, nil)
	}
	if code == "" {
		code = models.ErrorCodeUnknown
	}
	return models.NewAPIError(status, code, message, details, nil)
}
