// Package httpapi exposes the AI and admin endpoints over HTTP.
package httpapi

import (
	"context"
	"net/http"

	"saas_template/internal/ai"
	"saas_template/internal/middleware"
	"saas_template/internal/models"
	"saas_template/internal/queue"
	"saas_template/internal/ratelimit"
	"saas_template/internal/usage"
	"saas_template/internal/utils"
)

// Completer runs completions for the AI endpoints
type Completer interface {
	Complete(ctx context.Context, req ai.CompletionRequest) (*ai.Completion, error)
	Stream(ctx context.Context, req ai.StreamRequest) (*ai.Stream, error)
}

// UsageReporter serves the admin usage views
type UsageReporter interface {
	Recent(ctx context.Context, limit int) ([]usage.LogView, error)
	Summarize(ctx context.Context, days int) (*models.UsageSummary, error)
}

// UserStore persists accounts
type UserStore interface {
	GetByAuthID(ctx context.Context, authID string) (*models.User, error)
	List(ctx context.Context) ([]*models.User, error)
	Sync(ctx context.Context, u *models.User) (bool, error)
	SetAdmin(ctx context.Context, id string, isAdmin bool) (*models.User, error)
	Unsubscribe(ctx context.Context, email string) error
}

// HealthCheck reports the health of one backing service
type HealthCheck func(ctx context.Context) error

// Dependencies aggregates all services the HTTP layer needs.
type Dependencies struct {
	AI        Completer
	Usage     UsageReporter
	Queues    *queue.Registry
	Users     UserStore
	JWTSecret []byte

	// Per-user request budget for the AI endpoints; nil or 0 disables it
	RateLimiter ratelimit.Limiter
	AIRateLimit int

	// Named health checks, e.g. "database" and "redis"
	Health map[string]HealthCheck
	// RecorderStats reports usage recording counters; optional
	RecorderStats func() usage.Stats
}

// NewRouter creates an HTTP handler with all routes registered
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()
	registerRoutes(mux, deps)
	return middleware.RequestLogger(utils.NewLogger("http"))(mux)
}

func registerRoutes(mux *http.ServeMux, deps *Dependencies) {
	// Health check endpoint - public
	mux.HandleFunc("/health", deps.handleHealth)
	mux.HandleFunc("/unsubscribe", deps.handleUnsubscribe)

	// AI endpoints - any signed-in user
	userJWT := middleware.RequireUser(deps.JWTSecret)
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = ratelimit.NewNoopLimiter()
	}
	limit := middleware.RateLimit(limiter, deps.AIRateLimit, utils.NewLogger("ratelimit"))
	mux.Handle("/api/ai/complete", userJWT(limit(http.HandlerFunc(deps.handleComplete))))
	mux.Handle("/api/ai/stream", userJWT(limit(http.HandlerFunc(deps.handleStream))))

	// Account endpoints - any signed-in user
	mux.Handle("/api/user", userJWT(http.HandlerFunc(deps.handleCurrentUser)))
	mux.Handle("/api/sync-user", userJWT(http.HandlerFunc(deps.handleSyncUser)))

	// Admin endpoints - stored admin flag required
	adminJWT := middleware.RequireAdmin(deps.JWTSecret, deps.storedRole)
	mux.Handle("/api/admin/users", adminJWT(http.HandlerFunc(deps.handleListUsers)))
	mux.Handle("/api/admin/set-admin", adminJWT(http.HandlerFunc(deps.handleSetAdmin)))
	mux.Handle("/api/admin/openrouter-logs", adminJWT(http.HandlerFunc(deps.handleUsageLogs)))
	mux.Handle("/api/admin/openrouter-usage", adminJWT(http.HandlerFunc(deps.handleUsageSummary)))
	mux.Handle("/api/admin/queues", adminJWT(http.HandlerFunc(deps.handleQueues)))
	mux.Handle("/api/admin/queues/jobs", adminJWT(http.HandlerFunc(deps.handleEnqueue)))
	mux.Handle("/api/admin/queues/retry", adminJWT(http.HandlerFunc(deps.handleRetry)))
	mux.Handle("/api/admin/queues/pause", adminJWT(http.HandlerFunc(deps.handlePause)))
	mux.Handle("/api/admin/queues/resume", adminJWT(http.HandlerFunc(deps.handleResume)))
}

// allowMethod writes a 405 envelope when the request method differs
func allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	utils.RespondWithError(w, http.StatusMethodNotAllowed, utils.CodeMethod, "Method not allowed")
	return false
}
