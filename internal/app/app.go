package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"golang.org/x/sync/errgroup"

	"licensed/internal/config"
	apierrors "licensed/internal/errors"
	"licensed/internal/infrastructure"
	"licensed/internal/license"
	customMiddleware "licensed/internal/middleware"
	"licensed/internal/services"
	"licensed/internal/store"
	handlers "licensed/internal/transport/http"
	ws "licensed/internal/websocket"
)

// maxRequestBody bounds webhook and activation bodies.
const maxRequestBody = 1 << 20

// Application is the wired license service
type Application struct {
	Config         *config.Config
	Logger         *slog.Logger
	OTelProviders  *infrastructure.OTelProviders
	Store          license.Store
	WebSocketHub   *ws.Hub // nil when the event feed is disabled
	LicenseService services.LicenseService
	HealthService  *services.HealthService
	Router         *chi.Mux
	Server         *http.Server

	closers []io.Closer
}

// New wires every component from cfg. Call Close when done, even if Run
// was never called.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *Application, err error) {
	if logger == nil {
		logger = infrastructure.GetLogger()
	}
	a := &Application{Config: cfg, Logger: logger}
	defer func() {
		if err != nil {
			_ = a.Close(context.Background())
		}
	}()

	providers, err := infrastructure.InitializeOTel(cfg.Telemetry, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}
	a.OTelProviders = providers

	backend, closer, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open license store: %w", err)
	}
	a.closers = append(a.closers, closer)

	if err := a.initializeServices(backend); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	if err := a.setupRouter(); err != nil {
		return nil, fmt.Errorf("failed to set up router: %w", err)
	}
	a.createServer()

	logger.InfoContext(ctx, "application initialized",
		slog.String("store", cfg.Store.Driver),
		slog.Bool("event_feed", a.WebSocketHub != nil),
		slog.Int("baseline_capacity", cfg.Licensing.BaselineCapacity),
		slog.Bool("freeze_tier_on_activation", cfg.Licensing.FreezeTierOnActivation))
	return a, nil
}

func (a *Application) initializeServices(backend license.Store) error {
	cfg := a.Config

	metrics, err := license.NewMetrics(a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	a.Store = license.NewRetryingStore(backend, license.RetryPolicy{
		MaxAttempts:     cfg.Store.Retry.MaxAttempts,
		InitialInterval: cfg.Store.Retry.InitialInterval,
		MaxInterval:     cfg.Store.Retry.MaxInterval,
	}, a.Logger, license.WithRetryMetrics(metrics))

	classifier, err := NewClassifier(cfg.Licensing.PriceBands)
	if err != nil {
		return err
	}

	ingestor := license.NewIngestor(a.Store, classifier, a.Logger,
		license.WithFrozenTierOnActivation(cfg.Licensing.FreezeTierOnActivation))
	coordinator := license.NewCoordinator(a.Store, a.Logger,
		license.WithMaxAttempts(cfg.Licensing.ActivationMaxAttempts))
	entitlements := license.NewEntitlementService(a.Store, cfg.Licensing.BaselineCapacity)

	opts := []services.LicenseServiceOption{
		services.WithMetrics(metrics),
		services.WithTracer(a.OTelProviders.Tracer),
	}
	// a nil *Hub must not reach the interfaces below
	var feed services.ClientCounter
	if cfg.WebSocket.Enabled {
		hubMetrics, err := ws.NewOTelMetrics(a.OTelProviders.Meter)
		if err != nil {
			return err
		}
		a.WebSocketHub = ws.NewHub(a.Logger, hubMetrics)
		opts = append(opts, services.WithEventPublisher(a.WebSocketHub))
		feed = a.WebSocketHub
	}

	a.LicenseService = services.NewLicenseService(ingestor, coordinator, entitlements, a.Logger, opts...)
	a.HealthService = services.NewHealthService(a.Store, cfg.Store.Driver, feed, a.Logger)
	return nil
}

// NewClassifier builds the classifier from configured price bands. An
// empty list falls back to license.DefaultPriceBands.
func NewClassifier(bands config.PriceBands) (*license.Classifier, error) {
	converted := make([]license.PriceBand, 0, len(bands))
	for _, b := range bands {
		tier, err := license.ParseTier(b.Tier)
		if err != nil {
			return nil, fmt.Errorf("price band %.2f-%.2f: %w", b.Min, b.Max, err)
		}
		converted = append(converted, license.PriceBand{
			Tier:     tier,
			Min:      b.Min,
			Max:      b.Max,
			Currency: b.Currency,
		})
	}
	return license.NewClassifier(converted...), nil
}

// setupRouter configures the HTTP router with all routes
func (a *Application) setupRouter() error {
	cfg := a.Config
	errHandler := apierrors.NewErrorHandler(a.Logger, cfg.Logging.Development)

	r := chi.NewRouter()

	// Safe for the websocket upgrade: neither wraps the ResponseWriter.
	r.Use(customMiddleware.RequestID)
	r.Use(customMiddleware.RealIP)
	r.NotFound(errHandler.NotFound)
	r.MethodNotAllowed(errHandler.MethodNotAllowed)

	if a.WebSocketHub != nil {
		r.Get("/api/license/events", ws.Handler(a.WebSocketHub, ws.Options{
			ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
			WriteBufferSize: cfg.WebSocket.WriteBufferSize,
			PingPeriod:      cfg.WebSocket.PingPeriod,
			PongWait:        cfg.WebSocket.PongWait,
			AllowedOrigins:  cfg.Security.AllowedOrigins,
		}, a.Logger))
	}

	otelMiddleware, err := customMiddleware.NewOTelMiddleware(a.OTelProviders.Tracer, a.OTelProviders.Meter)
	if err != nil {
		return err
	}

	licenseHandler := handlers.NewLicenseHandler(a.LicenseService, cfg.Security.WebhookSecret, a.Logger,
		handlers.WithWebhookBodyLimit(maxRequestBody))
	healthHandler := handlers.NewHealthHandler(a.HealthService, a.Logger)

	var activationLimits []func(http.Handler) http.Handler
	if cfg.Security.ActivationLimit.Enabled {
		activationLimits = append(activationLimits,
			customMiddleware.ActivationLimiter(cfg.Security.ActivationLimit, a.Logger))
	}

	r.Route("/api", func(r chi.Router) {
		// RequestID → RealIP → OTel → Logger → Recoverer → security → CORS → Timeout
		r.Use(otelMiddleware.Handler)
		r.Use(customMiddleware.StructuredLogger(a.Logger))
		r.Use(errHandler.Recoverer)
		r.Use(customMiddleware.SecurityHeaders)
		if cfg.Security.EnableCORS {
			r.Use(customMiddleware.CORS(cfg.Security))
		}
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))
		r.Use(render.SetContentType(render.ContentTypeJSON))

		// Ingestion answers 200 for every outcome, so it skips the
		// limiters below and bounds its own body.
		licenseHandler.WebhookRoutes(r, "/license/webhook")
		// storefront ping URL used by older product listings
		licenseHandler.WebhookRoutes(r, "/gumroad-ping")

		r.Group(func(r chi.Router) {
			if cfg.Security.RateLimit.Enabled {
				r.Use(customMiddleware.NewRateLimiter(
					cfg.Security.RateLimit.RPS,
					cfg.Security.RateLimit.Burst,
					a.Logger,
				).Handler)
			}
			r.Use(customMiddleware.MaxBodySize(maxRequestBody))

			r.Get("/health", healthHandler.HealthCheck)
			r.Get("/health/ready", healthHandler.ReadinessCheck)
			r.Get("/version", healthHandler.Version)

			r.Mount("/license", licenseHandler.Routes(activationLimits...))
		})
	})

	if a.OTelProviders.PrometheusHTTP != nil {
		r.Handle("/metrics", a.OTelProviders.PrometheusHTTP)
	}

	a.Router = r
	return nil
}

// createServer creates the HTTP server
func (a *Application) createServer() {
	a.Server = &http.Server{
		Addr:           a.Config.Addr(),
		Handler:        a.Router,
		ReadTimeout:    a.Config.Server.ReadTimeout,
		WriteTimeout:   a.Config.Server.WriteTimeout,
		IdleTimeout:    a.Config.Server.IdleTimeout,
		MaxHeaderBytes: a.Config.Server.MaxHeaderBytes,
		ErrorLog:       slog.NewLogLogger(a.Logger.Handler(), slog.LevelWarn),
	}
}

// Run listens on the configured address and serves until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts the server down
// gracefully and stops the event hub.
func (a *Application) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	// The hub outlives in-flight requests so their events still reach it.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	if a.WebSocketHub != nil {
		g.Go(func() error {
			a.WebSocketHub.Run(hubCtx)
			return nil
		})
	}

	g.Go(func() error {
		a.Logger.InfoContext(ctx, "license service listening",
			slog.String("address", ln.Addr().String()),
			slog.String("version", infrastructure.Version))
		if err := a.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		defer stopHub()

		a.Logger.InfoContext(ctx, "shutting down license service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close releases the store and flushes telemetry.
func (a *Application) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	a.closers = nil

	if a.OTelProviders != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.OTelProviders.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
		a.OTelProviders = nil
	}
	return errors.Join(errs...)
}
