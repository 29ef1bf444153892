package gateway

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/haasonsaas/relay/internal/errdefs"
)

// exemptPath reports whether a request path skips API key checks. Health
// probing, the root banner, and metrics scraping stay open; everything
// else requires the configured key.
func exemptPath(path string) bool {
	switch path {
	case "/", "/health", "/metrics":
		return true
	}
	return strings.HasPrefix(path, "/ui/")
}

// authMiddleware enforces the configured API key. With no key configured
// the gateway trusts its (loopback by default) binding and lets
// everything through.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := s.cfg.APIKey
		if key == "" || exemptPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}
		if subtle.ConstantTimeCompare([]byte(requestKey(r)), []byte(key)) != 1 {
			s.writeError(w, errdefs.New(errdefs.ApiAuthFailed, "invalid or missing API key"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestKey extracts the client credential from either the x-api-key
// header or a bearer token.
func requestKey(r *http.Request) string {
	if key := r.Header.Get("x-api-key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return token
	}
	return ""
}
