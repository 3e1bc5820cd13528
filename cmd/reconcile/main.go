// Package main provides a CLI for reconciling one day of account balances.
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
	"github.com/tip-ledger/internal/types"
)

func main() {
	var (
		day       = flag.String("day", "", "Day to reconcile (YYYY-MM-DD, defaults to yesterday)")
		account   = flag.String("account", "", "Reconcile a single account id")
		accounts  = flag.String("accounts", "all", "Account class: platform, connected, all")
		limit     = flag.Int("limit", 0, "Maximum accounts to reconcile (0 = default)")
		unmatched = flag.Bool("unmatched", false, "List the day's unmatched snapshots instead of reconciling")
	)
	flag.Parse()

	now := time.Now().UTC()
	target := types.PreviousDay(now)
	if *day != "" {
		parsed, err := types.ParseDay(*day)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		target = parsed
	}
	class, err := types.ParseAccountClass(*accounts)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	cfg, logger, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("Reconcile startup failed: %v", err)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize")
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var out interface{}
	switch {
	case *unmatched:
		out, err = a.Reconciler.ListUnmatched(ctx, target)
	case *account != "":
		out, err = a.Reconciler.Reconcile(ctx, target, *account, now)
	default:
		out, err = a.Reconciler.ReconcileAll(ctx, target, class, *limit, now)
	}
	if err != nil {
		logger.WithError(err).Error("Reconciliation failed")
		a.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		logger.WithError(err).Error("Failed to write result")
	}
}
