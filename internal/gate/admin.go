package gate

import (
	"strings"

	"github.com/earnsigma/go_earnsigma/internal/models"
)

// ResolveAdmin reports whether the caller is an admin, either because the
// backend says so or because their email is on the configured allowlist
func ResolveAdmin(whoami models.AdminWhoAmI, allowlist []string) bool {
	if whoami.IsAdmin {
		return true
	}

	email := strings.TrimSpace(whoami.Email)
	if email == "" {
		return false
	}

	for _, allowed := range allowlist {
		if strings.EqualFold(strings.TrimSpace(allowed), email) {
			return true
		}
	}
	return false
}
