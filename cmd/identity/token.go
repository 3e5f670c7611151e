package identity

import (
	"net/http"
	"strings"

	"messenger/cmd/security/token"
)

// SessionTokenHeader is the legacy header carrying a raw session token.
const SessionTokenHeader = "X-Session-Token"

// TokenFromRequest extracts the caller token from "Authorization: Bearer <t>"
// or, failing that, from the X-Session-Token header. Empty means no credentials.
func TokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if h := strings.TrimSpace(r.Header.Get("Authorization")); h != "" {
		scheme, rest, ok := strings.Cut(h, " ")
		if ok && strings.EqualFold(scheme, "Bearer") {
			if t := strings.TrimSpace(rest); t != "" {
				return t
			}
		}
	}
	return strings.TrimSpace(r.Header.Get(SessionTokenHeader))
}

// SessionLookupKey returns the value stored in user_sessions.session_token for a raw token.
// When hashed is false the raw token is stored as-is (legacy rows).
func SessionLookupKey(raw string, hashed bool) string {
	if !hashed {
		return raw
	}
	return token.HashSessionTokenHex(raw)
}
