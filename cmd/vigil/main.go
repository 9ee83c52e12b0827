package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/vigil-sec/vigil/cmd/vigil/cli"
	"github.com/vigil-sec/vigil/internal/app"
	"github.com/vigil-sec/vigil/internal/audits"
	"github.com/vigil-sec/vigil/internal/audits/export"
	audithttp "github.com/vigil-sec/vigil/internal/audits/http"
	"github.com/vigil-sec/vigil/internal/auth"
	"github.com/vigil-sec/vigil/internal/credits"
	"github.com/vigil-sec/vigil/internal/dashboard"
	"github.com/vigil-sec/vigil/internal/observability"
	"github.com/vigil-sec/vigil/internal/platform/cache"
	"github.com/vigil-sec/vigil/internal/platform/db"
	"github.com/vigil-sec/vigil/internal/platform/storage"
	"github.com/vigil-sec/vigil/internal/projects"
	"github.com/vigil-sec/vigil/internal/shared"
	"github.com/vigil-sec/vigil/internal/view"
	"github.com/vigil-sec/vigil/jobs"
	"github.com/vigil-sec/vigil/report"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg, "web")

	if len(os.Args) > 1 {
		if err := runCommand(ctx, cfg, logger, os.Args[1:]); err != nil {
			logger.Error("command failed", slog.String("command", os.Args[1]), slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func runCommand(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string) error {
	switch args[0] {
	case "migrate":
		return db.Migrate(cfg.PGDSN, logger)
	case "jobs":
		c := cli.NewJobsCLI(cfg.RedisAddr)
		defer func() {
			if err := c.Close(); err != nil {
				logger.Warn("jobs cli close", slog.Any("error", err))
			}
		}()
		return c.Run(ctx, args[1:], os.Stdout)
	default:
		return errors.New("usage: vigil [migrate | jobs stats | jobs requeue <audit-id>]")
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, logger); err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var blobs projects.BlobStore = storage.Discard{}
	if opts := cfg.Storage(); opts.Enabled() {
		store, err := storage.NewMinio(ctx, opts)
		if err != nil {
			return err
		}
		blobs = store
	} else {
		logger.Warn("object storage not configured, uploaded file contents are discarded")
	}

	templates, err := view.NewEngine()
	if err != nil {
		return err
	}

	metrics := observability.NewMetrics()
	sessionManager := shared.NewSessionManager(redisClient, "vigil_session", cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)

	dashboardService := dashboard.NewService(dashboard.NewRepository(pool), dashboard.NewCache(redisClient, cfg.DashboardCacheTTL), logger)

	authService := auth.NewService(auth.NewRepository(pool), auth.NewTokens(cfg.JWTSecret, cfg.JWTTTL), cfg.InitialCredits)
	authHandler := auth.NewHandler(logger, authService, templates, sessionManager, csrfManager, cfg.IsProduction())

	creditService := credits.NewService(credits.NewRepository(pool), dashboardService, logger)

	queueOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	queue := jobs.NewClient(queueOpts)
	defer func() {
		if err := queue.Close(); err != nil {
			logger.Warn("queue close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(queueOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	auditService := audits.NewService(audits.Options{
		Repo:        audits.NewRepository(pool),
		Queue:       queue,
		Invalidator: dashboardService,
		Observer:    metrics,
		CreditCost:  cfg.AuditCreditCost,
		Logger:      logger,
	})
	projectService := projects.NewService(projects.NewRepository(pool), blobs, dashboardService, logger)

	reportClient := report.NewClient(cfg.GotenbergURL)
	var renderer export.Renderer
	if reportClient.Configured() {
		renderer = reportClient
	}

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Templates:        templates,
		SessionManager:   sessionManager,
		CSRFManager:      csrfManager,
		AuthMiddleware:   auth.NewMiddleware(authService, logger),
		AuthHandler:      authHandler,
		DashboardHandler: dashboard.NewHandler(logger, dashboardService, templates, csrfManager),
		ProjectsHandler:  projects.NewHandler(logger, projectService, auditService, templates, csrfManager, cfg.AuditCreditCost),
		AuditsHandler: audithttp.NewHandler(audithttp.Options{
			Logger:           logger,
			Service:          auditService,
			PDF:              export.NewPDFExporter(renderer, templates),
			Templates:        templates,
			CSRF:             csrfManager,
			Observer:         metrics,
			ExportsPerMinute: cfg.ExportsPerMinute,
		}),
		CreditsHandler: credits.NewHandler(logger, creditService, templates, csrfManager),
		ReportHandler:  report.NewHandler(reportClient, logger),
		JobHandler:     jobs.NewHandler(inspector, logger),
		HealthChecks: map[string]app.HealthCheck{
			"postgres": pool.Ping,
			"redis": func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			},
		},
		Metrics: metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
