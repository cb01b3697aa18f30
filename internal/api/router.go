package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/bugnest/internal/api/middleware"
	"github.com/kiranshivaraju/bugnest/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler
	IngestHandler  http.HandlerFunc

	ListIssues    http.HandlerFunc
	GetIssue      http.HandlerFunc
	DeleteIssue   http.HandlerFunc
	LatestEvent   http.HandlerFunc
	IssueTrends   http.HandlerFunc
	ProjectTrend  http.HandlerFunc
	ListRules     http.HandlerFunc
	GetRule       http.HandlerFunc
	CreateRule    http.HandlerFunc
	UpdateRule    http.HandlerFunc
	DeleteRule    http.HandlerFunc
	GetSetting    http.HandlerFunc
	UpdateSetting http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public routes
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Client SDKs authenticate with the project api_key in the body and are
	// rate limited per key inside the handler.
	r.Post("/api/v1/events", orNotImplemented(deps.IngestHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Get("/api/v1/issues", orNotImplemented(deps.ListIssues))
		r.Get("/api/v1/issues/trends", orNotImplemented(deps.IssueTrends))
		r.Get("/api/v1/issues/{issueID}", orNotImplemented(deps.GetIssue))
		r.Delete("/api/v1/issues/{issueID}", orNotImplemented(deps.DeleteIssue))
		r.Get("/api/v1/issues/{issueID}/events/latest", orNotImplemented(deps.LatestEvent))

		r.Get("/api/v1/projects/trend", orNotImplemented(deps.ProjectTrend))

		r.Get("/api/v1/notification/rules", orNotImplemented(deps.ListRules))
		r.Post("/api/v1/notification/rules", orNotImplemented(deps.CreateRule))
		r.Get("/api/v1/notification/rules/{ruleID}", orNotImplemented(deps.GetRule))
		r.Patch("/api/v1/notification/rules/{ruleID}", orNotImplemented(deps.UpdateRule))
		r.Delete("/api/v1/notification/rules/{ruleID}", orNotImplemented(deps.DeleteRule))

		r.Get("/api/v1/notification/setting", orNotImplemented(deps.GetSetting))
		r.Patch("/api/v1/notification/setting", orNotImplemented(deps.UpdateSetting))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
