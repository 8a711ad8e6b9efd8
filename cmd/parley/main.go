// Command parley runs the chat-relay proxy: a thin server between the
// browser widget and a thread/run/messages conversational-agent API.
package main

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
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/sablehq/parley/internal/adapter/agentapi"
	relayhttp "github.com/sablehq/parley/internal/adapter/http"
	"github.com/sablehq/parley/internal/adapter/otel"
	"github.com/sablehq/parley/internal/adapter/ristretto"
	"github.com/sablehq/parley/internal/adapter/ws"
	"github.com/sablehq/parley/internal/config"
	"github.com/sablehq/parley/internal/credential"
	"github.com/sablehq/parley/internal/driver"
	"github.com/sablehq/parley/internal/lifecycle"
	"github.com/sablehq/parley/internal/logger"
	"github.com/sablehq/parley/internal/middleware"
	"github.com/sablehq/parley/internal/resilience"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser := logger.New(cfg.Logging)
	defer logCloser.Close()
	slog.SetDefault(log)

	slog.Info("config loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"upstream", cfg.Upstream.BaseURL,
		"poll_interval", cfg.Poll.Interval,
	)

	ctx := context.Background()

	// --- Telemetry ---
	shutdownOtel, err := otel.Init(ctx, cfg.Logging.Service, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOtel(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	metrics, err := otel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	store, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer store.Close()

	limiter := middleware.NewRateLimiter(cfg.Rate.RequestsPerSecond, cfg.Rate.Burst)
	stopCleanup := limiter.StartCleanup(cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
	defer stopCleanup()

	hub := ws.NewHub()

	// --- Upstream ---
	tokens := credential.New(credential.Config{
		TokenURL:     cfg.Credential.TokenURL,
		ClientID:     cfg.Credential.ClientID,
		ClientSecret: cfg.Credential.ClientSecret,
		Scope:        cfg.Credential.Scope,
	})

	client := agentapi.NewClient(cfg.Upstream.BaseURL, cfg.Upstream.AgentID, tokens)
	client.SetTimeout(cfg.Upstream.Timeout)
	client.SetBreaker(resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	client.SetMetrics(metrics)

	lc := lifecycle.New(client,
		lifecycle.WithInterval(cfg.Poll.Interval),
		lifecycle.WithMaxPolls(cfg.Poll.MaxAttempts),
		lifecycle.WithMetrics(metrics),
	)

	drv := driver.New(lc, client, hub)
	drv.SetMetrics(metrics)
	sessions := driver.NewRegistry()

	// --- HTTP ---
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(5 * time.Minute)) // turns span the whole poll loop
	r.Use(relayhttp.CORS(cfg.Server.CORSOrigin))
	r.Use(relayhttp.SecurityHeaders)
	r.Use(relayhttp.Logger)
	r.Use(otel.HTTPMiddleware(cfg.Logging.Service))
	r.Use(limiter.Handler)
	r.Use(middleware.Idempotency(store, cfg.Cache.TTL))

	handlers := relayhttp.NewHandlers(client, drv, sessions)
	relayhttp.MountRoutes(r, handlers, hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      6 * time.Minute,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
