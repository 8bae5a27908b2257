package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/gatekeep-api/gatekeep/internal/auth"
	"github.com/gatekeep-api/gatekeep/internal/observability"
	"github.com/gatekeep-api/gatekeep/internal/permissions"
	"github.com/gatekeep-api/gatekeep/internal/platform/httpx"
	"github.com/gatekeep-api/gatekeep/internal/ratelimit"
	"github.com/gatekeep-api/gatekeep/internal/rbac"
	"github.com/gatekeep-api/gatekeep/internal/roles"
	"github.com/gatekeep-api/gatekeep/internal/users"
	"github.com/gatekeep-api/gatekeep/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger             *slog.Logger
	Config             *Config
	AuthHandler        *auth.Handler
	AuthMiddleware     auth.Middleware
	RBACMiddleware     rbac.Middleware
	RolesHandler       *roles.Handler
	PermissionsHandler *permissions.Handler
	UsersHandler       *users.Handler
	JobsHandler        *jobs.Handler
	Limiter            *ratelimit.Limiter
	Metrics            *observability.Metrics
}

// NewRouter constructs the chi.Router with application defaults.
//
// Middleware ordering on protected groups matters: the token check runs
// before the rate limiter so counters key on the authenticated user rather
// than the source IP.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	limit := ratelimit.DefaultLimit
	window := ratelimit.DefaultWindow
	if params.Config != nil {
		if params.Config.RateLimit > 0 {
			limit = params.Config.RateLimit
		}
		if params.Config.RateWindow > 0 {
			window = params.Config.RateWindow
		}
	}
	limitMW := params.Limiter.Middleware(limit, window)
	tokenMW := params.AuthMiddleware.RequireToken
	protected := func(next http.Handler) http.Handler {
		return tokenMW(limitMW(next))
	}
	adminRoles := []string{"admin", rbac.SuperAdminRole}

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			params.AuthHandler.MountRoutes(r, limitMW, protected)
		})

		r.Route("/roles", func(r chi.Router) {
			r.Use(protected)
			r.Use(params.RBACMiddleware.RequireAnyRole(adminRoles...))
			params.RolesHandler.MountRoutes(r)
		})

		r.Route("/permissions", func(r chi.Router) {
			r.Use(protected)
			r.Use(params.RBACMiddleware.RequireAnyRole(adminRoles...))
			params.PermissionsHandler.MountRoutes(r)
		})

		r.Route("/users", func(r chi.Router) {
			r.Use(protected)
			r.Use(params.RBACMiddleware.RequireAnyRole(adminRoles...))
			params.UsersHandler.MountRoutes(r)
		})

		if params.JobsHandler != nil {
			r.Route("/jobs", func(r chi.Router) {
				r.Use(protected)
				r.Use(params.RBACMiddleware.RequireAnyRole(adminRoles...))
				params.JobsHandler.MountRoutes(r)
			})
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusNotFound, "Resource not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "Method not allowed")
	})

	return r
}
