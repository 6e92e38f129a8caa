// Package main is the entrypoint for the inferq API server, worker
// pool, and reconciler. All three run in one process; the broker keeps
// them decoupled so they can be split later without code changes.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/inferq/internal/ai"
	"github.com/kiranshivaraju/inferq/internal/api"
	"github.com/kiranshivaraju/inferq/internal/api/handler"
	mw "github.com/kiranshivaraju/inferq/internal/api/middleware"
	"github.com/kiranshivaraju/inferq/internal/cache"
	"github.com/kiranshivaraju/inferq/internal/config"
	"github.com/kiranshivaraju/inferq/internal/jobs"
	"github.com/kiranshivaraju/inferq/internal/queue"
	"github.com/kiranshivaraju/inferq/internal/reconciler"
	"github.com/kiranshivaraju/inferq/internal/store"
	"github.com/kiranshivaraju/inferq/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "pool_size", cfg.Worker.PoolSize)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Redis: one client for the cache, one for the broker streams
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("parse redis url: %w", err)
	}
	streamClient := redis.NewClient(redisOpts)
	defer streamClient.Close()

	streams, err := queue.NewStreamsQueue(ctx, streamClient, queue.StreamsConfig{
		RequestsStream:      cfg.Queue.RequestsStream,
		NotificationsStream: cfg.Queue.NotificationsStream,
		Group:               cfg.Queue.Group,
		Consumer:            cfg.Queue.Consumer,
		Concurrency:         cfg.Worker.PoolSize,
	})
	if err != nil {
		return fmt.Errorf("create streams queue: %w", err)
	}
	slog.Info("broker ready",
		"requests", cfg.Queue.RequestsStream,
		"notifications", cfg.Queue.NotificationsStream)

	// 5. Store, AI client, services
	pgStore := store.NewPostgresStore(pool)
	aiClient := ai.NewClient(ai.NewRegistry(cfg.AI), cfg.AI)
	jobService := jobs.NewService(pgStore, redisCache, streams, cfg.AI.ResultCacheTTL)

	// 6. Background loops: worker pool and reconciler
	workerPool := worker.NewPool(pgStore, redisCache, streams, streams, aiClient, cfg.AI.ResultCacheTTL)
	recon := reconciler.New(pgStore, redisCache, streams, cfg.Reconciler, cfg.AI.ResultCacheTTL)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		workerPool.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		recon.Start(ctx)
	}()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, 60),

		HealthHandler:    handler.NewHealthHandler(pgStore, redisCache),
		SubmitJobHandler: handler.NewSubmitJobHandler(jobService),
		GetJobHandler:    handler.NewGetJobHandler(jobService),
		GetResultHandler: handler.NewGetResultHandler(jobService),
		ListJobsHandler:  handler.NewListJobsHandler(jobService),
		ListModels:       handler.NewListModelsHandler(pgStore),
	}
	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		stop()
		wg.Wait()
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// In-flight jobs observe the cancelled context; anything cut short
	// stays processing and the reconciler resolves it after restart.
	wg.Wait()

	slog.Info("server stopped gracefully")
	return nil
}
