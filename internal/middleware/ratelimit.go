package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/visionguard/visionguard/internal/ratelimit"
)

// RateLimit guards expensive endpoints (signaling sets up a whole peer
// connection per request). Keys on the authenticated user when present,
// otherwise on the hashed client IP. Redis outages fail open: signaling
// must keep working when the limiter store is down.
func RateLimit(limiter *ratelimit.Limiter, cfg ratelimit.LimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter == nil || cfg.Rate <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			var key string
			if ac, ok := GetAuthContext(r.Context()); ok {
				key = "rl:user:" + ac.UserID
			} else {
				key = "rl:ip:" + limiter.HashIP(clientIP(r))
			}

			decision, err := limiter.Check(r.Context(), key, cfg)
			if err != nil {
				log.Printf("[RateLimit] Check failed (fail open): %v", err)
				next.ServeHTTP(w, r)
				return
			}

			if !decision.Allowed {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfter))
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
