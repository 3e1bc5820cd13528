// Package main provides the scheduled sync and reconciliation worker for the tip ledger engine.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tip-ledger/internal/app"
)

func main() {
	once := flag.Bool("once", false, "Run a single scheduler tick and exit")
	flag.Parse()

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Worker startup failed: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	scheduler, err := a.NewScheduler()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create scheduler")
	}

	if *once {
		result, err := scheduler.Tick(context.Background(), time.Now().UTC())
		if err != nil {
			logger.WithError(err).Error("Scheduler tick failed")
			a.Close()
			os.Exit(1)
		}
		logger.WithFields(map[string]interface{}{
			"swept":      result.Swept,
			"enqueued":   result.EnqueuedDays,
			"executed":   result.Executed,
			"failed":     result.Failed,
			"reconciled": result.Reconciled,
		}).Info("Scheduler tick complete")
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to start scheduler")
	}

	logger.WithFields(map[string]interface{}{
		"poll_interval": cfg.Sync.PollInterval.String(),
		"batch_size":    cfg.Sync.BatchSize,
		"concurrency":   cfg.Sync.Concurrency,
		"reconcile":     cfg.Reconcile.Enabled,
	}).Info("Worker started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	logger.Info("Shutdown signal received, stopping scheduler...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Error stopping scheduler")
	}

	logger.Info("Worker stopped. Goodbye!")
}
