// Package main provides the API server entry point for the tip ledger engine.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tip-ledger/internal/api"
	"github.com/tip-ledger/internal/app"
)

func main() {
	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Server startup failed: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	webhooks, err := a.NewWebhookService()
	if err != nil {
		logger.WithError(err).Fatal("Failed to create webhook service")
	}

	services := api.Services{
		Webhooks:  webhooks,
		Backfill:  a.Backfill,
		Reconcile: a.Reconciler,
		Jobs:      a.Orchestrator,
		Query:     a.Query,
		Auditor:   a.Auditor,
	}
	if a.Consistency != nil {
		services.Mirror = a.Consistency
	}

	serverConfig := &api.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    2 * time.Minute, // inline backfills and webhook reconciles hold the request
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		AdminToken:      cfg.Server.AdminToken,
		RequestsPerSec:  cfg.RateLimit.APIRequestsPerSecond,
	}
	if cfg.Server.AdminToken == "" {
		logger.Warn("ADMIN_TOKEN not set; admin and read routes are unauthenticated")
	}

	server, err := api.NewServer(serverConfig, services)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create server")
	}

	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Server failed to start")
		}
	}()

	logger.WithFields(map[string]interface{}{
		"host": cfg.Server.Host,
		"port": cfg.Server.Port,
	}).Info("Server started successfully")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), serverConfig.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server exited")
}
