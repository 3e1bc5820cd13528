// Package main provides a CLI for enqueueing (and optionally running) sync jobs over a date range.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tip-ledger/internal/app"
	"github.com/tip-ledger/internal/service"
	"github.com/tip-ledger/internal/types"
)

func main() {
	var (
		from     = flag.String("from", "", "First day to sync (YYYY-MM-DD, required)")
		to       = flag.String("to", "", "Last day to sync (YYYY-MM-DD, defaults to -from)")
		accounts = flag.String("accounts", "all", "Account class: platform, connected, all")
		limit    = flag.Int("limit", 0, "Maximum accounts per day (0 = default)")
		run      = flag.Bool("run", false, "Execute the queued jobs before exiting")
	)
	flag.Parse()

	req, err := buildRequest(*from, *to, *accounts, *limit, *run)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Backfill startup failed: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := a.Backfill.Backfill(ctx, req, time.Now().UTC())
	if err != nil {
		logger.WithError(err).Error("Backfill failed")
		a.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		logger.WithError(err).Error("Failed to write result")
	}
}

func buildRequest(from, to, accounts string, limit int, run bool) (service.BackfillRequest, error) {
	if from == "" {
		return service.BackfillRequest{}, fmt.Errorf("-from is required")
	}
	fromDay, err := types.ParseDay(from)
	if err != nil {
		return service.BackfillRequest{}, err
	}
	toDay := fromDay
	if to != "" {
		if toDay, err = types.ParseDay(to); err != nil {
			return service.BackfillRequest{}, err
		}
	}
	class, err := types.ParseAccountClass(accounts)
	if err != nil {
		return service.BackfillRequest{}, err
	}
	return service.BackfillRequest{From: fromDay, To: toDay, Class: class, Limit: limit, Run: run}, nil
}
