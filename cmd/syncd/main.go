// Package main provides the daemon entry point: periodic sync runs plus an
// HTTP status endpoint.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/fetcher"
	"github.com/registry-mirror/internal/ledger"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/orchestrator"
	"github.com/registry-mirror/internal/resolver"
	"github.com/registry-mirror/internal/status"
	"github.com/registry-mirror/internal/store"
	"github.com/registry-mirror/internal/types"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logging.GetGlobalLogger().Errorf("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logging.InitGlobalLogger(
		logging.ParseLogLevel(cfg.Logging.Level),
		logging.ParseLogFormat(cfg.Logging.Format),
	)
	log := logging.GetGlobalLogger()
	log.Infof("Registry mirror daemon starting, poll interval %s", cfg.Daemon.PollInterval)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	st, err := store.NewStore(cfg.Store.DataDir, log)
	if err != nil {
		log.Errorf("Failed to open store: %v", err)
		os.Exit(1)
	}

	pool, err := ledger.NewPool(&cfg.Chains, log)
	if err != nil {
		log.Errorf("Failed to create ledger pool: %v", err)
		os.Exit(1)
	}

	contracts := make(map[types.ChainID]string)
	for chain, cc := range cfg.Chains.Chains {
		contracts[chain] = cc.RegistryContract
	}

	res := resolver.NewResolver(&cfg.Resolver, log)
	ftch := fetcher.NewFetcher(pool, res, contracts, log)
	orch := orchestrator.New(cfg, pool, st, ftch, log)

	statusServer := status.NewServer(&status.ServerConfig{
		Host: cfg.Daemon.StatusHost,
		Port: cfg.Daemon.StatusPort,
	}, st, log)
	statusServer.Start()

	runOnce := func() {
		result, err := orch.Run(ctx)
		if err != nil {
			log.Errorf("Sync run failed: %v", err)
			return
		}
		statusServer.RecordRun(&status.RunSummary{
			RunID:      result.RunID,
			State:      string(result.State),
			Fetched:    result.Fetched,
			FetchErrs:  result.FetchErrs,
			Remaining:  result.Remaining,
			FinishedAt: time.Now().UTC(),
		})
	}

	// First run immediately, then on the poll interval
	runOnce()

	ticker := time.NewTicker(cfg.Daemon.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Shutdown signal received")
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				log.Errorf("Status server shutdown error: %v", err)
			}
			return
		case <-ticker.C:
			runOnce()
		}
	}
}
