// Package middleware provides HTTP middleware for the site API.
package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/alphatech-ng/alphatech-site/internal/identity"
)

const (
	corsMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsMaxAge  = 10 * time.Minute
)

// corsHeaders are the request headers the frontend sends cross-origin. The
// tab header ties every call to its view and chat session.
var corsHeaders = strings.Join([]string{
	"Content-Type",
	"Last-Event-ID",
	identity.SessionHeaderName,
}, ", ")

// originPolicy is the parsed ALLOWED_ORIGINS list.
type originPolicy struct {
	explicit map[string]struct{}
	wildcard bool
}

func newOriginPolicy(allowedOrigins []string) originPolicy {
	p := originPolicy{explicit: make(map[string]struct{}, len(allowedOrigins))}
	for _, o := range allowedOrigins {
		switch o = strings.TrimRight(strings.TrimSpace(o), "/"); o {
		case "":
		case "*":
			p.wildcard = true
		default:
			p.explicit[o] = struct{}{}
		}
	}
	return p
}

// match reports whether origin may call the API and whether it may send the
// visitor cookie. Wildcard matches never carry credentials: the visitor
// cookie is the only thing tying a browser to its sign-in.
func (p originPolicy) match(origin string) (allowed, credentials bool) {
	if _, ok := p.explicit[origin]; ok {
		return true, true
	}
	return p.wildcard, false
}

// CORS returns middleware that handles CORS headers for the site frontend.
// Requests without an Origin header come from the embedded frontend and pass
// through untouched.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	policy := newOriginPolicy(allowedOrigins)
	maxAge := strconv.Itoa(int(corsMaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}
			w.Header().Add("Vary", "Origin")

			allowed, credentials := policy.match(origin)
			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				if credentials {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
			}

			preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""
			if !preflight {
				next.ServeHTTP(w, r)
				return
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", corsMethods)
				w.Header().Set("Access-Control-Allow-Headers", corsHeaders)
				w.Header().Set("Access-Control-Max-Age", maxAge)
			}
			w.WriteHeader(http.StatusNoContent)
		})
	}
}
