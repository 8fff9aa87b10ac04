package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/suteetoe/coursecatalog/internal/handler"
	"github.com/suteetoe/coursecatalog/internal/middleware"
	"github.com/suteetoe/coursecatalog/internal/search"
	"github.com/suteetoe/coursecatalog/internal/throttle"
	"github.com/suteetoe/coursecatalog/pkg/jwtutil"
	"github.com/suteetoe/coursecatalog/pkg/logger"
	"github.com/suteetoe/coursecatalog/prometheus"
	"go.uber.org/zap"
)

const notificationRetryInterval = time.Minute

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the catalog API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}
			defer a.close()
			return serve(cmd.Context(), a)
		},
	}
}

func serve(parent context.Context, a *app) error {
	log := a.log
	cfg := a.cfg
	log.Info("Starting course catalog service...", zap.String("environment", cfg.Server.Env))

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Search.ReindexOnStart {
		summary, err := search.NewReindexer(a.db, a.backend, 500, log).Run(ctx)
		if err != nil {
			return err
		}
		log.Info("Search index rebuilt", zap.Any("documents", summary))
	}

	throttler, err := newThrottler(a)
	if err != nil {
		return err
	}
	jwtUtil := jwtutil.NewJWTUtil(&jwtutil.JWTConfig{SigningKey: cfg.JWT.SigningKey, Issuer: cfg.JWT.Issuer})

	e := echo.New()
	e.HideBanner = true
	e.Server.ReadTimeout = cfg.Server.RequestTimeout
	e.Server.WriteTimeout = cfg.Server.RequestTimeout

	// Apply global middleware - order matters
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.RequestIDMiddleware())
	e.Use(logger.Middleware())
	e.Use(prometheus.MetricsMiddleware())

	// Public routes - no authentication required
	e.GET("/health", handler.HealthCheck)
	e.GET("/metrics", handler.MetricsHandler)

	// API routes - all require authentication and are throttled per user
	api := e.Group("/api/v1")
	api.Use(middleware.JWTAuthMiddleware(jwtUtil, a.db))
	api.Use(middleware.Throttle(throttler, "api"))

	handler.New(handler.Deps{
		Store:          a.store,
		Perms:          a.perms,
		Search:         a.search,
		Publisher:      a.publisher,
		Pipeline:       a.pipeline,
		DefaultPartner: cfg.Search.DefaultPartner,
	}).Register(api)

	go retryNotifications(ctx, a)

	errCh := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", cfg.Server.Port))
		if err := e.Start(":" + cfg.Server.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown failed", zap.Error(err))
	}
	a.pipeline.Stop()
	return nil
}

// newThrottler keeps request history in Redis when configured, otherwise in memory
func newThrottler(a *app) (*throttle.Throttler, error) {
	var st throttle.Store
	if a.cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		st = throttle.NewRedisStore(client)
		a.log.Info("Throttle history kept in Redis", zap.String("addr", a.cfg.Redis.Addr))
	} else {
		st = throttle.NewMemoryStore()
	}
	return throttle.New(st, throttle.DBOverrides{DB: a.db}, a.cfg.Throttle.DefaultRate, a.cfg.Throttle.ScopeRates, a.log)
}

// retryNotifications sends notifications left pending and resends failed
// ones until they reach notify.MaxDeliveryAttempts
func retryNotifications(ctx context.Context, a *app) {
	ticker := time.NewTicker(notificationRetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.notifier.DeliverPending(ctx, 100); n > 0 {
				a.log.Info("Retried notifications", zap.Int("count", n))
			}
		}
	}
}
