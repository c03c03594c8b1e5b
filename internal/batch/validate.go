package batch

import (
	"fmt"
	"strings"

	"github.com/arnonsang/shadow-ua-sub000/api/schemas"
)

const (
	minUserAgentLen = 40
	maxUserAgentLen = 512
)

// ValidationError reports an identity that failed format or length checks.
// It is recoverable: the batch records it per index and continues.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("identity validation failed: %s %s", e.Field, e.Reason)
}

// browserTokens maps each browser family to the substring its UA must carry.
var browserTokens = map[schemas.Browser]string{
	schemas.BrowserChrome:  "Chrome/",
	schemas.BrowserFirefox: "Firefox/",
	schemas.BrowserSafari:  "Safari/",
	schemas.BrowserEdge:    "Edg/",
}

// validateIdentity applies the format and length checks to a generated
// identity.
func validateIdentity(identity schemas.IdentityComponents) error {
	ua := identity.UserAgent
	if ua == "" {
		return &ValidationError{Field: "user_agent", Reason: "is empty"}
	}
	if len(ua) < minUserAgentLen {
		return &ValidationError{Field: "user_agent", Reason: fmt.Sprintf("shorter than %d characters", minUserAgentLen)}
	}
	if len(ua) > maxUserAgentLen {
		return &ValidationError{Field: "user_agent", Reason: fmt.Sprintf("longer than %d characters", maxUserAgentLen)}
	}
	if !strings.HasPrefix(ua, "Mozilla/5.0 (") {
		return &ValidationError{Field: "user_agent", Reason: "missing Mozilla/5.0 prefix"}
	}
	if identity.Browser == "" {
		return &ValidationError{Field: "browser", Reason: "is empty"}
	}
	if token, ok := browserTokens[identity.Browser]; ok && !strings.Contains(ua, token) {
		return &ValidationError{Field: "user_agent", Reason: fmt.Sprintf("missing %s token for browser %s", token, identity.Browser)}
	}
	if identity.Platform == "" {
		return &ValidationError{Field: "platform", Reason: "is empty"}
	}
	return nil
}
