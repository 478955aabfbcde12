// Package cors derives preflight responses from the route table instead of a
// static method list, so OPTIONS always reflects what the router will accept.
package cors

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/badgesmith/badgesmith/internal/config"
	"github.com/badgesmith/badgesmith/internal/routing"
)

// allowedRequestHeaders is the whitelist echoed back in
// Access-Control-Allow-Headers. Requested headers outside it are dropped.
var allowedRequestHeaders = map[string]bool{
	"content-type":  true,
	"authorization": true,
	"x-signature":   true,
	"x-repo-secret": true,
	"x-timestamp":   true,
	"x-nonce":       true,
}

// Policy answers preflight requests and decorates normal responses.
type Policy struct {
	table        *routing.Table
	credentialed bool
	allowOrigins []string
	maxAge       string
}

// New creates a Policy from config. In public mode any origin is served with
// a wildcard; in credentialed mode only configured origins are echoed back.
func New(cfg config.CORSConfig, table *routing.Table) *Policy {
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = 3600
	}
	return &Policy{
		table:        table,
		credentialed: cfg.Mode == "credentialed",
		allowOrigins: cfg.AllowOrigins,
		maxAge:       strconv.Itoa(maxAge),
	}
}

// Preflight writes the 204 preflight response for path. Allow-Methods comes
// from the route table; when the requested method is in the allowed set only
// that method is advertised.
func (p *Policy) Preflight(w http.ResponseWriter, r *http.Request) {
	h := w.Header()
	origin := r.Header.Get("Origin")
	requestedMethod := r.Header.Get("Access-Control-Request-Method")
	requestedHeaders := r.Header.Get("Access-Control-Request-Headers")

	allowed := p.table.AllowedMethods(r.URL.Path)
	methods := strings.Join(allowed, ", ")
	if requestedMethod != "" {
		for _, m := range allowed {
			if strings.EqualFold(m, requestedMethod) {
				methods = m
				break
			}
		}
	}

	if p.setOrigin(h, origin) {
		h.Set("Access-Control-Allow-Methods", methods)
		if echo := p.filterHeaders(requestedHeaders); echo != "" {
			h.Set("Access-Control-Allow-Headers", echo)
		}
		h.Set("Access-Control-Max-Age", p.maxAge)
	}

	h.Add("Vary", "Origin")
	h.Add("Vary", "Access-Control-Request-Method")
	h.Add("Vary", "Access-Control-Request-Headers")
	w.WriteHeader(http.StatusNoContent)
}

// ApplyResponse decorates a non-preflight response with origin headers.
func (p *Policy) ApplyResponse(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}
	h := w.Header()
	p.setOrigin(h, origin)
	if p.credentialed {
		h.Add("Vary", "Origin")
	}
}

// setOrigin writes ACAO (and credentials) per the configured mode. Returns
// false when the origin is rejected in credentialed mode, in which case ACAO
// is omitted and the browser blocks the response.
func (p *Policy) setOrigin(h http.Header, origin string) bool {
	if !p.credentialed {
		h.Set("Access-Control-Allow-Origin", "*")
		return true
	}
	if origin == "" || !p.originAllowed(origin) {
		return false
	}
	h.Set("Access-Control-Allow-Origin", origin)
	h.Set("Access-Control-Allow-Credentials", "true")
	return true
}

func (p *Policy) originAllowed(origin string) bool {
	for _, allowed := range p.allowOrigins {
		if allowed == origin {
			return true
		}
		// Wildcard subdomains: *.example.com
		if strings.HasPrefix(allowed, "*.") && strings.HasSuffix(origin, allowed[1:]) {
			return true
		}
	}
	return false
}

// filterHeaders echoes only whitelisted requested headers, preserving the
// requested order and dropping unknown names.
func (p *Policy) filterHeaders(requested string) string {
	if requested == "" {
		return ""
	}
	var keep []string
	for _, name := range strings.Split(requested, ",") {
		name = strings.TrimSpace(name)
		if allowedRequestHeaders[strings.ToLower(name)] {
			keep = append(keep, strings.ToLower(name))
		}
	}
	return strings.Join(keep, ", ")
}
