// Package main re-derives the sync index from the record files on disk.
// Recovery tool for a lost or corrupted index; scan checkpoints are not
// recoverable and the next sync re-scans from each chain's floor block.
package main

import (
	"os"

	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/store"
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

	st, err := store.NewStore(cfg.Store.DataDir, log)
	if err != nil {
		log.Errorf("Failed to open store: %v", err)
		os.Exit(1)
	}

	idx, err := st.RebuildIndex()
	if err != nil {
		log.Errorf("Failed to rebuild index: %v", err)
		os.Exit(1)
	}

	if err := st.SaveIndex(idx); err != nil {
		log.Errorf("Failed to save rebuilt index: %v", err)
		os.Exit(1)
	}

	log.Infof("Rebuilt index with %d agents", idx.TotalAgents)
}
