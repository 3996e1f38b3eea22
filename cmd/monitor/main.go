package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/splax/cyclemon/internal/app/migrate"
	httpx "github.com/splax/cyclemon/internal/http"
	mqttx "github.com/splax/cyclemon/internal/mqtt"
	"github.com/splax/cyclemon/internal/repository/postgres"
	"github.com/splax/cyclemon/internal/service/ingest"
	"github.com/splax/cyclemon/internal/service/snapshot"
	"github.com/splax/cyclemon/internal/ws"
	"github.com/splax/cyclemon/pkg/config"
	"github.com/splax/cyclemon/pkg/logger"
)

func main() {
	cfg := config.LoadMonitorConfig()
	log := logger.New("monitor", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	snapshots := snapshot.New(repo, cfg.RecentLimit, cfg.ChartLimit)
	ingestSvc := ingest.New(repo, hub, log, cfg.StoreTimeout)

	sub := mqttx.NewSubscriber(cfg.MQTTBrokerURL, cfg.MQTTClientID, cfg.MQTTTopic, cfg.MQTTBuffer, log)
	defer sub.Close()
	go func() {
		if err := sub.Connect(); err != nil {
			log.Error("mqtt connect failed", "error", err)
		}
	}()
	go ingestSvc.Run(ctx, sub.Messages())

	// Leave the limiter nil unless Redis is configured; the router owns
	// the in-memory fallback and closes it on shutdown.
	var limiter httpx.RateLimiter
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory fallback", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, snapshots, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("monitor server starting", "addr", cfg.Addr, "topic", cfg.MQTTTopic)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("monitor server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
