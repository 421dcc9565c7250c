package middleware

import (
	"net/http"
	"strconv"

	"saas_template/internal/ratelimit"
	"saas_template/internal/utils"
)

// RateLimit allows each signed-in user perMinute requests per window. It must
// run after the JWT middleware. Limiter errors let the request through.
func RateLimit(limiter ratelimit.Limiter, perMinute int, logger *utils.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := GetUserID(r.Context())
			if !ok || perMinute <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			allowed, remaining, resetAt, err := limiter.AllowWithDetails(r.Context(), "user:"+userID, perMinute)
			if err != nil {
				logger.Warn("Rate limiter unavailable, allowing request", "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !allowed {
				utils.RespondWithError(w, http.StatusTooManyRequests, utils.CodeRateLimited, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
