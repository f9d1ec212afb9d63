package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/agent"
	"github.com/mxrelay/mxrelay/internal/config"
	"github.com/mxrelay/mxrelay/internal/database"
	"github.com/mxrelay/mxrelay/internal/idempotency"
	"github.com/mxrelay/mxrelay/internal/metrics"
	"github.com/mxrelay/mxrelay/internal/queue"
	"github.com/mxrelay/mxrelay/internal/scheduler"
	"github.com/mxrelay/mxrelay/internal/store"
	"github.com/mxrelay/mxrelay/internal/tools/deletetask"
	"github.com/mxrelay/mxrelay/internal/tools/schedule"
	"github.com/mxrelay/mxrelay/internal/worker"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("Starting mxrelay worker")

	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		logrus.Fatalf("Configuration validation failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})

	db, err := database.Init(cfg.Database)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}

	q := queue.New(rdb)
	idemStore := idempotency.New(rdb, idempotency.DefaultTTL)
	m := metrics.New()
	w := worker.New(q, idemStore, agent.NewStub(), m)

	// The worker only ever writes job rows via this Scheduler instance
	// (Start is never called, so no in-process cron set is registered
	// here); the running cmd/scheduler process picks up the change on
	// its next refresh. This mirrors how AddJob/RemoveJob already
	// degrade to store-only writes when IsRunning() is false.
	st := store.New(db)
	jobStore := scheduler.NewJobStore(db)
	jobClient := scheduler.New(jobStore, func(context.Context, uuid.UUID) {}, 0, 0)
	w.Scheduler = schedule.New(st, jobClient)
	w.DeleteTool = deletetask.New(st, jobClient)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logrus.Info("Shutting down worker...")
		cancel()
	}()

	if err := w.Run(ctx); err != nil && err != context.Canceled {
		logrus.Errorf("worker stopped with error: %v", err)
	}

	if err := rdb.Close(); err != nil {
		logrus.Errorf("Redis client close error: %v", err)
	}

	logrus.Info("Worker stopped gracefully")
}
