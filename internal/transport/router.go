package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vantagelink/rollout/internal/approval"
	"github.com/vantagelink/rollout/internal/config"
	"github.com/vantagelink/rollout/internal/notification"
	"github.com/vantagelink/rollout/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Engine       *approval.Engine
	Notifier     *notification.Notifier
	Metrics      *observability.Metrics
	Checks       observability.ReadinessChecks
	Authenticate func(http.Handler) http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Checks))
	r.Method(http.MethodGet, "/metrics", observability.Handler())

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(observability.TracingMiddleware)
		r.Use(BuildRequestContext)
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Get("/approvals", handleApprovalList(deps.Engine))
		r.Get("/approvals/{instanceId}", handleApprovalDetail(deps.Engine))
		r.Post("/approvals/{instanceId}/approve", handleApprove(deps.Engine))
		r.Post("/approvals/{instanceId}/reject", handleReject(deps.Engine))

		r.Get("/workflows", handleFlowList(deps.Engine))
		r.Post("/workflows", handleFlowCreate(deps.Engine))
		r.Get("/workflows/{flowId}", handleFlowGet(deps.Engine))
		r.Put("/workflows/{flowId}", handleFlowUpdate(deps.Engine))
		r.Delete("/workflows/{flowId}", handleFlowDelete(deps.Engine))

		r.Post("/projects/{projectId}/submit", handleProjectSubmit(deps.Engine))
		r.Post("/projects/{projectId}/revise", handleProjectRevise(deps.Engine))

		r.Get("/notifications", handleNotifications(deps.Engine, deps.Notifier))
	})

	return r
}
