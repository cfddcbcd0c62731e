package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ieraasyl/PsoriScan/pkg/utils"
	"github.com/rs/zerolog/log"
)

// RateCounter increments a fixed-window counter and returns the count within
// the current window. *database.RedisDB implements it.
type RateCounter interface {
	IncrementRateLimit(ctx context.Context, ip, endpoint string, window time.Duration) (int64, error)
}

// RateLimiter limits requests per client IP and endpoint within a window.
// Counters live in Redis under "ratelimit:{ip}:{endpoint}" so several
// instances share them.
//
// On limit exceeded it returns 429 with Retry-After. Counter failures let
// the request through.
type RateLimiter struct {
	counter        RateCounter
	requestsPerMin int
	window         time.Duration
}

// NewRateLimiter creates a rate limiter allowing requestsPerMin requests per
// window.
//
// Example:
//
//	limiter := middleware.NewRateLimiter(redisDB, 30, time.Minute)
//	r.With(limiter.Limit("analyze")).Post("/api/analyze", h.Analyze)
func NewRateLimiter(counter RateCounter, requestsPerMin int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		counter:        counter,
		requestsPerMin: requestsPerMin,
		window:         window,
	}
}

// Limit creates middleware limiting one endpoint. Each endpoint name has its
// own counters.
//
// Headers:
//   - X-RateLimit-Limit: maximum requests per window
//   - X-RateLimit-Remaining: requests left in the current window
//   - Retry-After: seconds until the window resets (429 only)
func (rl *RateLimiter) Limit(endpoint string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ExtractClientIP(r)

			count, err := rl.counter.IncrementRateLimit(r.Context(), ip, endpoint, rl.window)
			if err != nil {
				log.Error().Err(err).Str("ip", ip).Msg("Failed to check rate limit")
				next.ServeHTTP(w, r)
				return
			}

			limit := strconv.Itoa(rl.requestsPerMin)
			if count > int64(rl.requestsPerMin) {
				log.Warn().
					Str("ip", ip).
					Str("endpoint", endpoint).
					Int64("count", count).
					Msg("Rate limit exceeded")
				rateLimitedTotal.WithLabelValues(endpoint).Inc()

				w.Header().Set("X-RateLimit-Limit", limit)
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(int(rl.window.Seconds())))
				utils.RespondWithError(w, r, http.StatusTooManyRequests, "Rate limit exceeded. Please try again later.")
				return
			}

			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rl.requestsPerMin-int(count)))

			next.ServeHTTP(w, r)
		})
	}
}
