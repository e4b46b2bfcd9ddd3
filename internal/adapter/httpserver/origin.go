package httpserver

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a WebSocket. Requests
// without an Origin header come from native clients and are always admitted.
type originPolicy struct {
	appOrigin     string
	allowLoopback bool
}

func newCheckOrigin(appURL string, isDevelopment bool) func(r *http.Request) bool {
	p := originPolicy{appOrigin: extractOrigin(appURL), allowLoopback: isDevelopment}
	return p.check
}

func (p originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || p.allows(origin) {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "remote_addr", r.RemoteAddr)
	return false
}

func (p originPolicy) allows(origin string) bool {
	if p.appOrigin != "" && strings.EqualFold(extractOrigin(origin), p.appOrigin) {
		return true
	}
	return p.allowLoopback && isLoopback(origin)
}

// extractOrigin reduces a URL to scheme://host[:port], or "" if it has no host.
func extractOrigin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

func isLoopback(origin string) bool {
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
		return true
	default:
		return false
	}
}
