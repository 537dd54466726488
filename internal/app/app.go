package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"idxwatch/internal/config"
	"idxwatch/internal/dashboard"
	"idxwatch/internal/datasource"
	"idxwatch/internal/engine"
	apierrors "idxwatch/internal/errors"
	"idxwatch/internal/infrastructure"
	customMiddleware "idxwatch/internal/middleware"
	"idxwatch/internal/notify"
	"idxwatch/internal/rules"
	"idxwatch/internal/store"
	handlers "idxwatch/internal/transport/http"
)

// AppName is the service's display name.
const AppName = "IDX Watch - Dataset Validation Engine"

// systemMetricsInterval is how often runtime stats are sampled.
const systemMetricsInterval = 30 * time.Second

// Application wires configuration, infrastructure, the validation engine
// and the HTTP server together.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	OTelProviders *infrastructure.OTelProviders
	Router        chi.Router
	Server        *http.Server

	orchestrator *engine.Orchestrator
	dashboard    *dashboard.Service
	cache        *store.Cache
	sysCollector *infrastructure.SystemMetricsCollector
	metrics      *infrastructure.BusinessMetrics
}

// NewApplication builds a fully wired application from the config file at
// configPath. An empty path uses defaults plus environment variables.
func NewApplication(configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Application starting",
		slog.String("name", AppName),
		slog.String("version", infrastructure.ServiceVersion))

	otelProviders, err := infrastructure.InitializeOTel(infrastructure.DefaultOTelConfig(), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	app := &Application{
		Config:        cfg,
		Logger:        logger,
		OTelProviders: otelProviders,
	}

	if err := app.initializeServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.setupRouter()
	app.createServer()

	return app, nil
}

// initializeServices builds the engine stack bottom-up: source and store
// clients, rule registry, validator, orchestrator, dashboard.
func (a *Application) initializeServices() error {
	metrics, err := infrastructure.CreateBusinessMetrics(a.OTelProviders.Meter)
	if err != nil {
		return fmt.Errorf("creating business metrics: %w", err)
	}
	a.metrics = metrics

	collector, err := infrastructure.NewSystemMetricsCollector(a.OTelProviders.Meter, systemMetricsInterval)
	if err != nil {
		return fmt.Errorf("creating system metrics collector: %w", err)
	}
	a.sysCollector = collector

	source := datasource.NewHTTPSource(a.Config.Source, a.Logger)
	remote := store.NewRemoteStore(a.Config.Store, a.Logger)
	a.cache = store.NewCache(a.Config.Store.CacheCapacity)

	registry := engine.NewRegistry(rules.Params{
		OutlierSigma:  a.Config.Validation.OutlierSigma,
		OutlierWindow: a.Config.Validation.OutlierWindow,
	})
	validator := engine.NewValidator(source, registry, a.Config.DefaultLookback, a.Logger, metrics)

	var notifier notify.Notifier
	if a.Config.Notify.Enabled {
		notifier = notify.NewLogNotifier(a.Logger, a.Config.Notify.Recipients)
	}

	a.orchestrator = engine.NewOrchestrator(
		validator,
		registry,
		remote,
		a.cache,
		notifier,
		a.Config.Notify,
		a.Config.Validation.Concurrency,
		a.Logger,
		metrics,
	)

	reader := store.NewFallbackReader(remote, a.cache, a.Logger, metrics)
	a.dashboard = dashboard.NewService(reader, a.Logger)

	return nil
}

// setupRouter assembles the middleware chain and mounts the API.
func (a *Application) setupRouter() {
	r := chi.NewRouter()

	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders)
	if err != nil {
		a.Logger.Warn("OTel middleware unavailable, continuing without request tracing",
			slog.String("error", err.Error()))
	} else {
		r.Use(otelMiddleware.Handler)
	}
	r.Use(customMiddleware.BusinessMetricsMiddleware(a.metrics))

	r.Use(customMiddleware.StructuredLogger(a.Logger))
	r.Use(customMiddleware.Recoverer(a.Logger))
	r.Use(customMiddleware.SecurityHeaders)

	a.setupAPIRoutes(r)

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
}

// setupAPIRoutes mounts the handler sub-routers under /api.
func (a *Application) setupAPIRoutes(r chi.Router) {
	errorHandler := apierrors.NewErrorHandler(a.Logger, false)
	healthHandler := handlers.NewHealthHandler(a.Logger)
	validationHandler := handlers.NewValidationHandler(a.orchestrator, a.Logger, errorHandler)
	dashboardHandler := handlers.NewDashboardHandler(a.dashboard, a.Logger, errorHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(render.SetContentType(render.ContentTypeJSON))

		if a.Config.Server.RateLimitRPS > 0 {
			limiter := customMiddleware.NewRateLimiter(
				a.Config.Server.RateLimitRPS, a.Config.Server.RateLimitBurst, a.Logger)
			r.Use(limiter.Handler)
		}

		if a.Config.Server.APIKey != "" {
			r.Use(customMiddleware.APIKeyAuth(a.Logger, map[string]string{
				a.Config.Server.APIKey: "default",
			}))
		}

		r.NotFound(errorHandler.NotFound)
		r.MethodNotAllowed(errorHandler.MethodNotAllowed)

		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.ReadTimeout, a.Logger))
			r.Mount("/health", healthHandler.Routes())
			r.Get("/version", healthHandler.Version)
			r.Mount("/dashboard", dashboardHandler.Routes())
		})

		// Runs can take far longer than a dashboard read; they get the
		// write timeout.
		r.Group(func(r chi.Router) {
			r.Use(customMiddleware.Timeout(a.Config.Server.WriteTimeout, a.Logger))
			r.Mount("/validation", validationHandler.Routes())
		})
	})
}

func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:         fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler:      a.Router,
		ReadTimeout:  a.Config.Server.ReadTimeout,
		WriteTimeout: a.Config.Server.WriteTimeout,
		IdleTimeout:  a.Config.Server.IdleTimeout,
	}
}

// Start launches the HTTP server and background collectors. A server
// failure cancels the passed context.
func (a *Application) Start(ctx context.Context, cancel context.CancelFunc) error {
	a.Logger.InfoContext(ctx, "Starting application",
		slog.String("name", AppName),
		slog.Int("port", a.Config.Server.Port),
		slog.String("level", a.Config.Logging.Level))

	go a.sysCollector.Start(ctx)
	go a.runSummaryLoop(ctx)

	go func() {
		if err := a.Server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.Logger.ErrorContext(ctx, "Server error", slog.String("error", err.Error()))
			cancel()
		}
	}()

	a.Logger.InfoContext(ctx, "Application started",
		slog.String("address", fmt.Sprintf("http://localhost:%d", a.Config.Server.Port)))
	return nil
}

// runSummaryLoop emits the daily validation digest on the configured
// interval until the application context is cancelled.
func (a *Application) runSummaryLoop(ctx context.Context) {
	if !a.Config.Notify.Enabled {
		return
	}
	interval := a.Config.Notify.SummaryInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.orchestrator.SendDailySummary(ctx); err != nil {
				a.Logger.ErrorContext(ctx, "Daily summary failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Stop gracefully shuts the server and infrastructure down.
func (a *Application) Stop(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "Shutting down application")

	shutdownCtx, cancel := context.WithTimeout(ctx, a.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := a.Server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	a.sysCollector.Stop()

	if a.OTelProviders != nil {
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			a.Logger.ErrorContext(ctx, "Error shutting down OpenTelemetry", slog.String("error", err.Error()))
		}
	}

	if err := infrastructure.CloseLogFile(); err != nil {
		fmt.Fprintf(os.Stderr, "closing log file: %v\n", err)
	}

	a.Logger.InfoContext(ctx, "Application shutdown complete")
	return nil
}

// Run starts the application and blocks until an interrupt arrives.
func (a *Application) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	if err := a.Start(ctx, cancel); err != nil {
		return err
	}

	select {
	case <-sigChan:
		a.Logger.InfoContext(ctx, "Received interrupt signal")
	case <-ctx.Done():
	}

	return a.Stop(context.Background())
}
