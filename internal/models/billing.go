package models

// Feature flags the backend may grant with a plan
const (
	FeatureApp    = "app"
	FeatureUpload = "upload"
	FeatureReport = "report"
)

// Subscription statuses that grant access when the backend omits "entitled"
const (
	SubscriptionActive   = "active"
	SubscriptionTrialing = "trialing"
)

// Entitlements describes what the signed-in creator may use
type Entitlements struct {
	Plan      string          `json:"plan,omitempty"`
	Status    string          `json:"status,omitempty"`
	Entitled  bool            `json:"entitled"`
	Features  map[string]bool `json:"features"`
	PortalURL string          `json:"portal_url,omitempty"`
}

// HasFeature reports whether a feature flag is granted
func (e Entitlements) HasFeature(name string) bool {
	return e.Features[name]
}

// CheckoutPlan identifies a purchasable plan
type CheckoutPlan string

const (
	CheckoutPlanA CheckoutPlan = "plan_a"
	CheckoutPlanB CheckoutPlan = "plan_b"
)

// IsValid checks if the plan is one offered at checkout
func (p CheckoutPlan) IsValid() bool {
	return p == CheckoutPlanA || p == CheckoutPlanB
}

// CheckoutSession is the hosted checkout page to send the creator to
type CheckoutSession struct {
	CheckoutURL string `json:"checkout_url"`
}
