package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/productowl/productowl/internal/config"
	"github.com/productowl/productowl/internal/database"
	"github.com/productowl/productowl/internal/logger"
	"github.com/productowl/productowl/internal/notify"
	"github.com/productowl/productowl/internal/products"
	"github.com/productowl/productowl/internal/scheduler"
	"github.com/productowl/productowl/internal/scraper"
	"github.com/productowl/productowl/internal/server"
	"github.com/productowl/productowl/internal/tracking"
)

const shutdownTimeout = 15 * time.Second

func main() {
	_ = godotenv.Load() // load .env if present; not fatal if missing

	cfg := config.Load()

	zlog, err := logger.New(cfg.LogJSON, cfg.Env != "production")
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = zlog.Sync() }()

	// graceful shutdown coordination
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg)
	if err != nil {
		zlog.Error("database connection failed", "error", err)
		os.Exit(1)
	}

	productRepo := products.NewRepository(pool)
	trackingRepo := tracking.NewRepository(pool)

	fetcher, err := scraper.NewFetcher(cfg, zlog.With("component", "fetcher"))
	if err != nil {
		zlog.Error("fetcher init failed", "error", err)
		os.Exit(1)
	}

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(zlog.With("component", "notify"))
	if cfg.WebhookURL != "" {
		dispatcher = notify.NewWebhookDispatcher(cfg.WebhookURL)
	}

	runner := scheduler.NewRunner(
		productRepo,
		trackingRepo,
		fetcher,
		scraper.Extract,
		dispatcher,
		zlog.With("component", "runner"),
		scheduler.Config{
			Workers:        cfg.BatchWorkers,
			FailureCeiling: cfg.FailureCeiling,
		},
	)

	sched, err := scheduler.New(cfg.CronSpec, cfg.CronTimezone, runner, zlog.With("component", "scheduler"))
	if err != nil {
		zlog.Error("scheduler init failed", "error", err)
		os.Exit(1)
	}

	// scheduler runs until ctx is cancelled
	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sched.Run(ctx)
	}()

	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := server.NewRouter(server.Deps{
		Log:      zlog.With("component", "http"),
		Products: productRepo,
		Tracking: trackingRepo,
		Runner:   runner,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		zlog.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zlog.Error("server listen failed", "error", err)
			stop()
		}
	}()

	// wait for interrupt
	<-ctx.Done()
	zlog.Info("shutdown signal received")

	// stop accepting new requests, allow time to finish
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Error("server shutdown failed", "error", err)
	}

	// wait for the scheduler to finish (it reacts to ctx)
	wg.Wait()

	// close DB pool (blocks until connections returned)
	pool.Close()

	zlog.Info("graceful shutdown complete")
}
