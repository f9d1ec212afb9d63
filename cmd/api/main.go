package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/config"
	"github.com/mxrelay/mxrelay/internal/database"
	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/ingress"
	"github.com/mxrelay/mxrelay/internal/mailer"
	"github.com/mxrelay/mxrelay/internal/metrics"
	"github.com/mxrelay/mxrelay/internal/queue"
	"github.com/mxrelay/mxrelay/internal/ratelimit"
	"github.com/mxrelay/mxrelay/internal/server"
	"github.com/mxrelay/mxrelay/internal/whitelist"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("Starting mxrelay API server")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	db, err := database.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	m := metrics.New()
	limiter := ratelimit.New(rdb)
	idemStore := idempotency.New(rdb, idempotency.DefaultTTL)
	q := queue.New(rdb)
	sender := mailer.NewLoggingSender()

	var wl *whitelist.Checker
	if cfg.Whitelist.Enabled {
		wl = whitelist.New(db)
	}

	handlers := ingress.NewHandlers(limiter, idemStore, wl, q, sender, m, cfg.Auth.APIKey, cfg.Server.AttachmentsDir, cfg.Whitelist.SignupURL)

	pingRedis := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return rdb.Ping(ctx).Err()
	}

	r := server.New(handlers, db, pingRedis, cfg.Server.RequestTimeout)
	httpServer := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logrus.Infof("Starting HTTP server on port %s", cfg.Server.Port)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Fatalf("HTTP server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down API server...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logrus.Errorf("HTTP server shutdown error: %v", err)
	}
	if err := rdb.Close(); err != nil {
		logrus.Errorf("Redis client close error: %v", err)
	}

	logrus.Info("API server stopped gracefully")
}
