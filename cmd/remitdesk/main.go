// Package main запускает HTTP-сервер сервиса сделок remitdesk.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/remitdesk/internal/backend"
	"github.com/mmeshcher/remitdesk/internal/config"
	"github.com/mmeshcher/remitdesk/internal/confirm"
	"github.com/mmeshcher/remitdesk/internal/handler"
	"github.com/mmeshcher/remitdesk/internal/metrics"
	"github.com/mmeshcher/remitdesk/internal/middleware"
	"github.com/mmeshcher/remitdesk/internal/repository"
	"github.com/mmeshcher/remitdesk/internal/service"
)

const confirmCapacity = 10000

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	var repo service.Repository = repository.NopRepository{}
	if cfg.DatabaseURI != "" {
		pg, err := repository.NewPostgresRepository(cfg.DatabaseURI)
		if err != nil {
			sugar.Fatalw("database initialization error", "error", err.Error())
		}
		repo = pg
	} else {
		sugar.Info("DATABASE_URI is not set, transition journal disabled")
	}

	backendClient := backend.NewClient(cfg.BackendAddress, cfg.BackendTimeout, cfg.BackendRetries)
	gate := confirm.NewGate[*service.Result](cfg.ConfirmTTL, confirmCapacity)
	collector := metrics.NewCollector()

	svc := service.NewService(backendClient, repo, gate, collector, logger, cfg.CDNBaseURL)
	defer svc.Close()

	if cfg.JWTSecret == "" {
		sugar.Warn("JWT_SECRET is not set, using a random secret")
	}
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWTSecret)
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	h := handler.NewHandler(svc, logger, authMiddleware, limiter, collector)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting remitdesk server", "addr", cfg.RunAddress, "backend", cfg.BackendAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Infow("server stopped gracefully", "pendingConfirmations", gate.Pending())
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
