package middleware

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RequesterIDHeader identifies the caller for rate limiting and analytics.
// Requests without it fall back to the remote address.
const RequesterIDHeader = "X-Requester-ID"

// Limiter is the fixed-window rate limit decision the middleware consults.
// *cache.Gateway satisfies it and fails open when the cache is down.
type Limiter interface {
	RateLimit(ctx context.Context, key string, limit int, window time.Duration) bool
}

// RateLimit returns middleware that enforces a per-requester fixed-window
// quota. Pass nil limiter or a non-positive limit to disable enforcement.
func RateLimit(limiter Limiter, limit int, window time.Duration, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := "rate_limit:" + requesterKey(r)
			if !limiter.RateLimit(r.Context(), key, limit, window) {
				if logger != nil {
					logger.Warn("Request rate limited",
						zap.String("key", key),
						zap.String("path", r.URL.Path))
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"rate_limited","message":"request quota exceeded"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func requesterKey(r *http.Request) string {
	if id := r.Header.Get(RequesterIDHeader); id != "" {
		return id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
