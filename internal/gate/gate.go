// Package gate decides who may see the application shell and on which host
// each page is served.
package gate

import "strings"

// Decision is the routing outcome for a request to the application shell
type Decision string

const (
	DecisionAllow           Decision = "allow"
	DecisionShowLoading     Decision = "show_loading"
	DecisionRedirectLogin   Decision = "redirect_login"
	DecisionRedirectBilling Decision = "redirect_billing"
)

const (
	// BillingPath is reachable without entitlements so creators can subscribe
	BillingPath = "/app/billing"
	// AdminPath is reachable by admins without entitlements
	AdminPath = "/app/admin"
	// LoginPath is where signed-out users are sent
	LoginPath = "/login"
)

// Input is the session, entitlement and role state for one evaluation.
// The zero values of HasEntitlementsError and IsAdmin are the defaults.
type Input struct {
	HasSession            bool
	IsLoadingSession      bool
	IsLoadingEntitlements bool
	HasEntitlementsError  bool
	IsEntitled            bool
	IsAdmin               bool
	Pathname              string
}

// DecideAppGate returns the routing decision for in. It has no side effects;
// callers re-evaluate whenever any input changes.
func DecideAppGate(in Input) Decision {
	// Never decide on stale or absent data
	if in.IsLoadingSession || (in.HasSession && in.IsLoadingEntitlements) {
		return DecisionShowLoading
	}

	if !in.HasSession {
		return DecisionRedirectLogin
	}

	// A billing outage must not lock out signed-in creators
	if in.HasEntitlementsError {
		return DecisionAllow
	}

	if !in.IsEntitled && !IsUnder(in.Pathname, BillingPath) && !(in.IsAdmin && IsUnder(in.Pathname, AdminPath)) {
		return DecisionRedirectBilling
	}

	return DecisionAllow
}

// IsUnder reports whether path is prefix itself or a descendant of it.
// "/app/billingfoo" is not under "/app/billing".
func IsUnder(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
