package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"golang.org/x/time/rate"

	"github.com/engram-memory/engram/internal/config"
)

// RequireAuth enforces bearer-token auth in production mode. Development mode
// passes everything through so local agents need no token.
func RequireAuth(cfg config.SecurityConfig, next http.Handler) http.Handler {
	if cfg.Mode != "production" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || cfg.APIToken == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(cfg.APIToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "missing or invalid token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RateLimit applies a global token-bucket limit across all callers. The
// subsystem serves one owner; per-IP buckets would be theater.
func RateLimit(reqPerSec float64, burst int, next http.Handler) http.Handler {
	limiter := rate.NewLimiter(rate.Limit(reqPerSec), burst)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SecurityHeaders sets the standard hardening headers on every response.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}
