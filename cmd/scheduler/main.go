package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/mxrelay/mxrelay/internal/config"
	"github.com/mxrelay/mxrelay/internal/database"
	"github.com/mxrelay/mxrelay/internal/scheduler"
	"github.com/mxrelay/mxrelay/internal/schedulertask"
	"github.com/mxrelay/mxrelay/internal/store"
)

func main() {
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)
	logrus.Info("Starting mxrelay scheduler")

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

	st := store.New(db)
	jobStore := scheduler.NewJobStore(db)

	// The scheduler's FireFunc and the executor's JobRemover reference
	// each other; execRef closes the cycle once both sides exist.
	var execRef *schedulertask.Executor
	sched := scheduler.New(jobStore, func(ctx context.Context, taskID uuid.UUID) {
		execRef.Execute(ctx, taskID)
	}, cfg.Scheduler.RefreshEvery, cfg.Scheduler.MaxWorkers)
	execRef = schedulertask.New(st, sched, cfg.Scheduler.APIBaseURL, cfg.Auth.APIKey, cfg.Scheduler.APITimeout)

	if err := sched.Start(); err != nil {
		logrus.Fatalf("Failed to start scheduler: %v", err)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logrus.Info("Shutting down scheduler...")
	if err := sched.Stop(); err != nil {
		logrus.Errorf("Failed to stop scheduler: %v", err)
	}
	sched.Wait()

	logrus.Info("Scheduler stopped gracefully")
}
