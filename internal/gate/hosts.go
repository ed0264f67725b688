package gate

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// Canonical hosts
const (
	MarketingHost     = "www.earnsigma.com"
	MarketingRootHost = "earnsigma.com"
	AppHost           = "app.earnsigma.com"
)

var (
	marketingPaths = map[string]struct{}{
		"/":        {},
		"/pricing": {},
		"/example": {},
		"/privacy": {},
		"/terms":   {},
	}

	appPrefixes = []string{"/login", "/signup", "/app"}

	excludedPrefixes = []string{"/_next", "/images", "/fonts"}

	excludedPaths = map[string]struct{}{
		"/favicon.ico": {},
		"/robots.txt":  {},
		"/sitemap.xml": {},
	}

	allowedHosts = map[string]struct{}{
		MarketingHost:     {},
		MarketingRootHost: {},
		AppHost:           {},
		"localhost":       {},
		"app.localhost":   {},
		"127.0.0.1":       {},
	}

	allowedHostSuffixes = []string{".vercel.app", ".earnsigma.com", ".localhost"}
)

// HostDecision is the outcome of canonical host routing.
// Location is empty when the request should be served as is.
type HostDecision struct {
	Location   string
	StatusCode int
}

// Redirect reports whether the request must be redirected
func (d HostDecision) Redirect() bool {
	return d.Location != ""
}

// NormalizeHost lowercases host and strips any port
func NormalizeHost(host string) string {
	host = strings.TrimSpace(host)
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return strings.ToLower(host)
}

// IsAppPath reports whether path belongs on the app host
func IsAppPath(path string) bool {
	for _, prefix := range appPrefixes {
		if IsUnder(path, prefix) {
			return true
		}
	}
	return false
}

// IsMarketingPath reports whether path is one of the fixed marketing pages
func IsMarketingPath(path string) bool {
	_, ok := marketingPaths[path]
	return ok
}

func isExcludedPath(path string) bool {
	if _, ok := excludedPaths[path]; ok {
		return true
	}
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func isAllowedHost(host string) bool {
	if _, ok := allowedHosts[host]; ok {
		return true
	}
	for _, suffix := range allowedHostSuffixes {
		if strings.HasSuffix(host, suffix) {
			return true
		}
	}
	return false
}

// RouteHost keeps marketing pages on the marketing host and the application on
// the app host. Static assets and unknown hosts are always served.
func RouteHost(rawHost string, u *url.URL) HostDecision {
	path := u.Path
	if path == "" {
		path = "/"
	}

	if isExcludedPath(path) {
		return HostDecision{}
	}

	host := NormalizeHost(rawHost)
	if !isAllowedHost(host) {
		return HostDecision{}
	}

	isAppHost := host == AppHost || host == "app.localhost"
	isMarketingHost := host == MarketingHost ||
		host == MarketingRootHost ||
		host == "localhost" ||
		host == "127.0.0.1" ||
		strings.HasSuffix(host, ".vercel.app")

	if host == MarketingRootHost {
		return redirectTo(u, MarketingHost, true)
	}

	if isAppHost {
		if !IsAppPath(path) {
			return redirectTo(u, MarketingHost, false)
		}
		return HostDecision{}
	}

	if isMarketingHost {
		if IsAppPath(path) {
			return redirectTo(u, AppHost, true)
		}
		if !IsMarketingPath(path) {
			return redirectTo(u, MarketingHost, false)
		}
	}

	return HostDecision{}
}

// redirectTo builds a permanent redirect to host, either keeping the path and
// query or pointing at the host root
func redirectTo(u *url.URL, host string, keepPath bool) HostDecision {
	target := url.URL{Scheme: "https", Host: host, Path: "/"}
	if strings.Contains(host, "localhost") {
		target.Scheme = "http"
	}
	if keepPath {
		target.Path = u.Path
		target.RawPath = u.RawPath
		target.RawQuery = u.RawQuery
	}

	return HostDecision{
		Location:   target.String(),
		StatusCode: http.StatusPermanentRedirect,
	}
}
