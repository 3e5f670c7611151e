package realtime

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"slices"
	"strings"
)

// originPolicy decides which browser origins may open a session.
// Entries match exactly, by host (scheme and port ignored), or "*" for any.
type originPolicy struct {
	required bool
	allowed  []string
}

func (p originPolicy) check(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	switch {
	case origin == "" && p.required:
		return errors.New("missing origin")
	case origin == "":
		return nil
	case len(p.allowed) == 0:
		return errors.New("origin not allowed (no allowlist)")
	}

	host := hostOf(origin)
	if slices.ContainsFunc(p.allowed, func(a string) bool {
		return a == "*" || a == origin || (host != "" && host == hostOf(a))
	}) {
		return nil
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// acceptPatterns lists the allowlist hosts for websocket.AcceptOptions.OriginPatterns,
// so the library's own cross-origin check agrees with check.
func (p originPolicy) acceptPatterns() []string {
	var out []string
	for _, a := range p.allowed {
		h := hostOf(a)
		if strings.TrimSpace(a) == "*" {
			h = "*"
		}
		if h != "" && !slices.Contains(out, h) {
			out = append(out, h)
		}
	}
	slices.Sort(out)
	return out
}

// hostOf returns the lower-cased host of an origin or host[:port] string.
func hostOf(s string) string {
	s = strings.TrimSpace(s)
	if strings.Contains(s, "://") {
		u, err := url.Parse(s)
		if err != nil {
			return ""
		}
		s = u.Host
	}
	if h, _, err := net.SplitHostPort(s); err == nil {
		s = h
	}
	return strings.ToLower(strings.TrimSpace(s))
}
