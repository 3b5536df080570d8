// cartd - Storefront cart daemon.
// Keeps the shopper's cart in sync between the guest store and the backend
// and serves it to local UIs over REST, SSE and MCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"

	"storefront-cart/internal/cart"
	"storefront-cart/internal/catalog"
	"storefront-cart/internal/config"
	"storefront-cart/internal/guest"
	"storefront-cart/internal/handler"
	"storefront-cart/internal/identity"
	"storefront-cart/internal/middleware"
	"storefront-cart/internal/negotiation"
	"storefront-cart/internal/observe"
	"storefront-cart/internal/storeapi"
	"storefront-cart/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := initLogger(cfg)
	logger.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("backend", cfg.Backend.BaseURL),
		slog.String("store_driver", cfg.Store.Driver),
		slog.String("merge_strategy", cfg.Sync.MergeStrategy),
	)

	// One client for every backend call so they share the session cookie
	session := identity.NewSession()
	clientHeader, err := negotiation.FormatClientHeader(negotiation.ClientInfo{
		Name:    "cartd",
		Version: storeapi.DefaultAPIVersion,
	})
	if err != nil {
		return fmt.Errorf("building client header: %w", err)
	}
	httpClient := &http.Client{
		Jar:     session,
		Timeout: 30 * time.Second,
		Transport: transport.New(transport.Options{
			Timeout:      cfg.Backend.Timeout,
			ChromeTLS:    cfg.Backend.ChromeTLS,
			ClientHeader: clientHeader,
			Token:        session.Token,
		}),
	}

	session.OnTransition(func(t identity.Transition) {
		logger.Info("session changed",
			slog.String("kind", string(t.Kind)),
			slog.Int64("user_id", t.Identity.ID))
	})

	auth := identity.NewClient(httpClient, cfg.Backend.BaseURL, session, logger)

	gw, err := storeapi.New(storeapi.Config{
		BaseURL:         cfg.Backend.BaseURL,
		APIKey:          cfg.Backend.APIKey,
		HTTPClient:      httpClient,
		Logger:          logger,
		BreakerFailures: cfg.Backend.BreakerFailures,
		BreakerTimeout:  cfg.Backend.BreakerTimeout,
	})
	if err != nil {
		return fmt.Errorf("creating store api client: %w", err)
	}

	products, err := catalog.New(httpClient, cfg.Backend.BaseURL, cfg.Catalog.CacheSize)
	if err != nil {
		return fmt.Errorf("creating catalog client: %w", err)
	}

	backend, err := guest.Open(ctx, guest.BackendConfig{
		Driver:        cfg.Store.Driver,
		Path:          cfg.Store.Path,
		RedisAddr:     cfg.Store.RedisAddr,
		RedisPassword: cfg.Store.RedisPassword,
		TTL:           cfg.Store.TTL,
	})
	if err != nil {
		return fmt.Errorf("opening guest store: %w", err)
	}
	store := guest.NewStore(backend, cfg.Store.Key, logger)
	defer store.Close()

	reporter, flush, err := initReporter(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating error reporter: %w", err)
	}
	defer flush()

	engine, err := cart.New(cart.Options{
		Gateway:       gw,
		Store:         store,
		Catalog:       products,
		Identity:      session,
		Reporter:      reporter,
		Logger:        logger,
		Strategy:      cart.MergeStrategy(cfg.Sync.MergeStrategy),
		PersistDelay:  cfg.Sync.Debounce,
		RetryAttempts: cfg.Sync.MaxRetries,
		RetryInterval: cfg.Sync.RetryInterval,
	})
	if err != nil {
		return fmt.Errorf("creating cart engine: %w", err)
	}
	engine.Start(ctx)

	h := handler.New(engine, auth, logger)

	// Recovery is outermost so it also catches panics from logging
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging(logger))
	r.Use(negotiation.Middleware(negotiation.LocalAPIVersion, logger))
	h.RegisterRoutes(r)

	// No WriteTimeout: /cart/stream holds connections open
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			slog.String("port", cfg.Port),
			slog.String("addr", server.Addr),
		)
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-shutdown:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			server.Close()
			return fmt.Errorf("shutdown error: %w", err)
		}
		// Writes the pending guest cart before the store closes
		if err := engine.Close(shutdownCtx); err != nil {
			logger.Error("closing cart engine", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
	return nil
}

// initReporter returns the error sink: Sentry in front of the log when a
// DSN is configured, the log alone otherwise.
func initReporter(cfg *config.Config, logger *slog.Logger) (observe.Reporter, func(), error) {
	logReporter := observe.NewLogReporter(logger)
	if cfg.SentryDSN == "" {
		return logReporter, func() {}, nil
	}

	sr, err := observe.NewSentryReporter(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     "cartd@" + negotiation.LocalAPIVersion,
	}, logReporter)
	if err != nil {
		return nil, nil, err
	}
	return sr, func() { sr.Flush(2 * time.Second) }, nil
}

// initLogger creates a structured logger configured for the environment.
// Production uses JSON format for log aggregation; development uses text.
func initLogger(cfg *config.Config) *slog.Logger {
	level := cfg.SlogLevel()
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
