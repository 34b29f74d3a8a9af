// Package main provides the one-shot sync entry point, suitable for cron or
// CI schedules with an external execution-time limit.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/fetcher"
	"github.com/registry-mirror/internal/ledger"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/orchestrator"
	"github.com/registry-mirror/internal/resolver"
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
	log.Info("Registry mirror sync starting")

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

	result, err := orch.Run(ctx)
	if err != nil {
		log.Errorf("Sync run failed: %v", err)
		os.Exit(1)
	}

	log.WithFields(map[string]interface{}{
		"runId":     result.RunID,
		"state":     string(result.State),
		"fetched":   result.Fetched,
		"errors":    result.FetchErrs,
		"remaining": result.Remaining,
		"duration":  result.Duration.String(),
	}).Info("Sync run finished")
}
