package app

import (
	"context"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	audithttp "github.com/vigil-sec/vigil/internal/audits/http"
	"github.com/vigil-sec/vigil/internal/auth"
	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/dashboard"
	"github.com/vigil-sec/vigil/internal/observability"
	"github.com/vigil-sec/vigil/internal/platform/httpx"
	"github.com/vigil-sec/vigil/internal/projects"
	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
	"github.com/vigil-sec/vigil/jobs"
	"github.com/vigil-sec/vigil/report"
	"github.com/vigil-sec/vigil/web"
)

// HealthCheck probes one dependency for /healthz.
type HealthCheck func(ctx context.Context) error

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	AuthMiddleware *auth.Middleware

	AuthHandler      *auth.Handler
	DashboardHandler *dashboard.Handler
	ProjectsHandler  *projects.Handler
	AuditsHandler    *audithttp.Handler
	CreditsHandler   *credits.Handler
	ReportHandler    *report.Handler
	JobHandler       *jobs.Handler

	HealthChecks map[string]HealthCheck
	Metrics      *observability.Metrics
}

// NewRouter constructs the chi.Router with Vigil defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	var authenticate func(http.Handler) http.Handler
	if params.AuthMiddleware != nil {
		authenticate = params.AuthMiddleware.Authenticate
	}
	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Authenticate:   authenticate,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}
	r.Use(chimw.Logger)

	r.Get("/healthz", healthHandler(params.HealthChecks, params.Logger))

	r.Get("/welcome", func(w http.ResponseWriter, r *http.Request) {
		if _, ok := shared.PrincipalFromContext(r.Context()); ok {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		if err := params.Templates.Render(w, "pages/welcome.html", view.Page(r, params.CSRFManager, "Vigil", nil)); err != nil {
			params.Logger.Error("render welcome", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	})

	if params.DashboardHandler != nil {
		r.Group(params.DashboardHandler.MountRoutes)
	}
	if params.AuthHandler != nil {
		r.Route("/auth", params.AuthHandler.MountRoutes)
	}
	if params.ProjectsHandler != nil {
		r.Route("/projects", func(r chi.Router) {
			r.Use(auth.RequireUser)
			params.ProjectsHandler.MountRoutes(r)
		})
	}
	if params.AuditsHandler != nil {
		r.Route("/audits", func(r chi.Router) {
			r.Use(auth.RequireUser)
			params.AuditsHandler.MountRoutes(r)
		})
	}
	if params.CreditsHandler != nil {
		r.Route("/credits", func(r chi.Router) {
			r.Use(auth.RequireUser)
			params.CreditsHandler.MountRoutes(r)
		})
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.ReportHandler != nil {
		r.Route("/report", params.ReportHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

func healthHandler(checks map[string]HealthCheck, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				logger.Warn("health check failed", slog.String("check", name), slog.Any("error", err))
				body[name] = "down"
				body["status"] = "degraded"
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "up"
		}
		httpx.JSON(w, status, body)
	}
}

// staticCacheHandler lets browsers cache static assets for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
