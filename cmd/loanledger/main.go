// Package main запускает HTTP-сервер сервиса платёжного реестра займов.
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

	"github.com/lenddesk/loanledger/internal/clock"
	"github.com/lenddesk/loanledger/internal/config"
	"github.com/lenddesk/loanledger/internal/handler"
	"github.com/lenddesk/loanledger/internal/middleware"
	"github.com/lenddesk/loanledger/internal/notification"
	"github.com/lenddesk/loanledger/internal/ratelimit"
	"github.com/lenddesk/loanledger/internal/repository"
	"github.com/lenddesk/loanledger/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	timeSource := clock.System()

	dispatcher := notification.NewDispatcher(repo, logger, timeSource, cfg.AdminPoolID, cfg.NotificationQueueSize)

	svc := service.NewService(repo, dispatcher, timeSource)

	limiter := ratelimit.New(timeSource)

	auth := middleware.NewActorAuth(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, auth, limiter)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Очистка простаивающих вёдер лимитера
	limiter.StartSweeping(ctx, cfg.RateLimitSweepInterval, cfg.RateLimitBucketMaxAge)

	// Фоновый обход просроченных займов
	svc.StartOverdueScan(ctx, cfg.OverdueScanInterval)

	// Асинхронная обработка очереди уведомлений
	g.Go(func() error {
		dispatcher.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting loanledger server", "addr", cfg.RunAddress)
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
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
