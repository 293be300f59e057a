package server

import (
	"net"
	"net/http"
	"net/url"
	"strings"
)

// originPolicy decides which browser origins may open a socket.
type originPolicy struct {
	allowed      []string
	loopbackOnly bool
}

func newOriginPolicy(allowed []string, host string) *originPolicy {
	return &originPolicy{allowed: allowed, loopbackOnly: isLoopbackHost(host)}
}

// check reports whether r's Origin header is acceptable. Requests without an
// Origin header come from non-browser clients and always pass.
func (p *originPolicy) check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Host == "" {
		return false
	}

	for _, allowed := range p.allowed {
		if matchOrigin(parsed, origin, allowed) {
			return true
		}
	}
	if len(p.allowed) > 0 {
		return false
	}
	if p.loopbackOnly {
		return isLoopbackHost(parsed.Hostname())
	}
	return true
}

// matchOrigin accepts an exact origin or a *.domain wildcard, which also
// covers the bare domain.
func matchOrigin(parsed *url.URL, origin, allowed string) bool {
	if strings.EqualFold(origin, allowed) {
		return true
	}
	domain, ok := strings.CutPrefix(allowed, "*.")
	if !ok {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}

func isLoopbackHost(host string) bool {
	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
