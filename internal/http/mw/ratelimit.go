package mw

import (
	"net/http"
	"time"

	"github.com/go-chi/httprate"
)

// RateLimitConfig holds configuration for rate limiting.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// RateLimit returns a middleware that rate limits by operator subject when
// authenticated, falling back to client IP.
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}

	limiter := httprate.NewRateLimiter(
		cfg.Requests,
		cfg.Window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			claims := GetOperatorClaims(r.Context())
			if claims == nil || claims.Subject == "" {
				return httprate.KeyByIP(r)
			}
			return "operator:" + claims.Subject, nil
		}),
	)

	return limiter.Handler
}
