package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/surpriset/marketsync/internal/handler"
	"github.com/surpriset/marketsync/internal/marketplace"
	"github.com/surpriset/marketsync/internal/reconcile"
	"github.com/surpriset/marketsync/internal/relay"
	"github.com/surpriset/marketsync/internal/storage/postgres"
	"github.com/surpriset/marketsync/pkg/health"
	"github.com/surpriset/marketsync/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server and the staleness
// scheduler, and handles graceful shutdown. It is the single wiring point
// for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.SetReady(true)

	// Domain services: store, relay chain, extractor registry, reconciler.
	store := postgres.NewProductRepository(pool)

	relayClient := relay.NewClient(relay.Config{
		Timeout:           cfg.Relay.Timeout,
		UserAgent:         cfg.Relay.UserAgent,
		RequestsPerSecond: cfg.Relay.RequestsPerSecond,
		Burst:             cfg.Relay.Burst,
	})
	registry := marketplace.NewRegistry(relayClient)

	reconciler := reconcile.NewService(store, registry, reconcile.Config{
		StaleAfter:    cfg.Reconcile.StaleAfter,
		MaxConcurrent: cfg.Reconcile.MaxConcurrent,
	})

	// One stale-price pass shortly after startup, in the background.
	if !cfg.Reconcile.SchedulerOff {
		scheduler := reconcile.NewScheduler(reconciler, cfg.Reconcile.SchedulerDelay, cfg.Reconcile.StaleAfter)
		scheduler.Start(zctx.Base(ctx, lg))
	}

	// HTTP API.
	h := handler.New(
		handler.Config{
			DefaultMarginPercent: cfg.DefaultMarginPercent,
			ProxyAllowedHosts:    cfg.Proxy.AllowedHosts,
		},
		store,
		registry,
		reconciler,
		relayClient,
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.HandleFunc("/api/health", healthSvc.LiveEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      90 * time.Second, // refresh endpoints stay open across sequential fetches
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins: cfg.CORS.Origins,
				AllowHeaders: []string{"Content-Type", "Authorization"},
				MaxAge:       86400,
			}),
			httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
				RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
				Burst:             cfg.RateLimit.Burst,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}
