package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// ErrCheckoutInProgress is returned while a recent checkout attempt is still fresh
var ErrCheckoutInProgress = errors.New("checkout is already starting, please wait a moment")

// CheckoutInProgressMessage is the display text for ErrCheckoutInProgress
const CheckoutInProgressMessage = "Checkout is already starting. Please wait a moment."

// FetchOptions controls cached lookups. Scope partitions the cache, normally by
// session subject.
type FetchOptions struct {
	ForceRefresh bool
	Scope        string
}

// NormalizeEntitlements builds entitlements from a backend payload. When the
// payload has no "entitled" flag it is derived from the app, upload or report
// feature (first present wins) and then from an active or trialing status.
func NormalizeEntitlements(fields map[string]json.RawMessage) models.Entitlements {
	features := map[string]bool{}
	if raw, ok := fields["features"]; ok {
		var decoded map[string]json.RawMessage
		if json.Unmarshal(raw, &decoded) == nil {
			for name, value := range decoded {
				var enabled bool
				if !isNull(value) && json.Unmarshal(value, &enabled) == nil {
					features[name] = enabled
				}
			}
		}
	}

	e := models.Entitlements{
		Plan:      models.FirstString(fields, "plan"),
		Status:    models.FirstString(fields, "status"),
		Features:  features,
		PortalURL: models.FirstString(fields, "portal_url", "portalUrl"),
	}

	var entitled bool
	if raw, ok := fields["entitled"]; ok && !isNull(raw) && json.Unmarshal(raw, &entitled) == nil {
		e.Entitled = entitled
		return e
	}

	for _, name := range []string{models.FeatureApp, models.FeatureUpload, models.FeatureReport} {
		if enabled, ok := features[name]; ok {
			e.Entitled = enabled
			return e
		}
	}

	e.Entitled = e.Status == models.SubscriptionActive || e.Status == models.SubscriptionTrialing
	return e
}

// isNull reports whether raw is a JSON null. Unmarshalling null into a bool
// succeeds and leaves false behind, so null flags must be skipped explicitly.
func isNull(raw json.RawMessage) bool {
	return strings.TrimSpace(string(raw)) == "null"
}

// FetchEntitlements returns the caller's entitlements, served from cache while
// fresh. Concurrent callers for the same scope share one request.
func (c *Client) FetchEntitlements(ctx context.Context, opts FetchOptions) (models.Entitlements, error) {
	if !opts.ForceRefresh {
		if cached, ok := c.entitlements.Get(ctx, opts.Scope); ok {
			return cached, nil
		}
	}

	key := "entitlements:" + opts.Scope
	if opts.ForceRefresh {
		c.group.Forget(key)
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		fields, err := c.getFields(ctx, http.MethodGet, "/v1/entitlements", nil, "entitlements")
		if err != nil {
			return nil, err
		}

		entitlements := NormalizeEntitlements(fields)
		if err := c.entitlements.Put(ctx, opts.Scope, entitlements); err != nil {
			return nil, err
		}
		return entitlements, nil
	})
	if err != nil {
		return models.Entitlements{}, err
	}
	return value.(models.Entitlements), nil
}

// ResetEntitlementsCache drops the cached entitlements for scope
func (c *Client) ResetEntitlementsCache(ctx context.Context, scope string) error {
	c.group.Forget("entitlements:" + scope)
	return c.entitlements.Invalidate(ctx, scope)
}

// ExtractCheckoutURL returns the checkout link from any of its spellings
func ExtractCheckoutURL(fields map[string]json.RawMessage) string {
	return models.FirstString(fields, "checkout_url", "checkoutUrl", "url")
}

// ValidateCheckoutURL accepts only absolute HTTPS links
func ValidateCheckoutURL(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme != "https" || parsed.Host == "" {
		return "", models.NewAPIError(0, models.ErrorCodeInvalidCheckout,
			"Invalid checkout URL returned by billing API", map[string]any{"url": rawURL}, err)
	}
	return parsed.String(), nil
}

func (c *Client) requestCheckout(ctx context.Context, path string, plan models.CheckoutPlan) (models.CheckoutSession, error) {
	fields, err := c.getFields(ctx, http.MethodPost, path, map[string]string{"plan": string(plan)}, "checkout session")
	if err != nil {
		return models.CheckoutSession{}, err
	}

	checkoutURL := ExtractCheckoutURL(fields)
	if checkoutURL == "" {
		return models.CheckoutSession{}, missingField("Checkout", "checkout_url")
	}

	validated, err := ValidateCheckoutURL(checkoutURL)
	if err != nil {
		return models.CheckoutSession{}, err
	}
	return models.CheckoutSession{CheckoutURL: validated}, nil
}

// CreateCheckoutSession starts a hosted checkout for plan. Concurrent calls for
// the same scope share one request, and a new attempt is refused while the
// previous one is younger than the attempt TTL. The legacy /v1/checkout
// endpoint is tried only when the billing endpoint answers 404 or 405.
func (c *Client) CreateCheckoutSession(ctx context.Context, plan models.CheckoutPlan, scope string) (models.CheckoutSession, error) {
	value, err, _ := c.group.Do("checkout:"+scope, func() (interface{}, error) {
		inProgress, err := c.checkoutAttempt.InProgress(ctx, scope)
		if err != nil {
			return nil, err
		}
		if inProgress {
			return nil, ErrCheckoutInProgress
		}

		if err := c.checkoutAttempt.Mark(ctx, scope); err != nil {
			return nil, err
		}

		session, err := c.requestCheckout(ctx, "/v1/billing/checkout", plan)
		if err != nil {
			if status, ok := models.HTTPStatusOf(err); ok && (status == http.StatusNotFound || status == http.StatusMethodNotAllowed) {
				session, err = c.requestCheckout(ctx, "/v1/checkout", plan)
			}
		}
		if err != nil {
			_ = c.checkoutAttempt.Clear(ctx, scope)
			return nil, err
		}
		return session, nil
	})
	if err != nil {
		return models.CheckoutSession{}, err
	}
	return value.(models.CheckoutSession), nil
}

// CheckoutAttemptInProgress reports whether a checkout for scope started recently
func (c *Client) CheckoutAttemptInProgress(ctx context.Context, scope string) (bool, error) {
	return c.checkoutAttempt.InProgress(ctx, scope)
}

// ClearCheckoutAttempt forgets the checkout attempt for scope
func (c *Client) ClearCheckoutAttempt(ctx context.Context, scope string) error {
	return c.checkoutAttempt.Clear(ctx, scope)
}
