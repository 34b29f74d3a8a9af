// Package orchestrator drives the end-to-end sync run: scan, fetch, persist,
// finalize, with durable checkpoints at every boundary.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/registry-mirror/internal/config"
	"github.com/registry-mirror/internal/ledger"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/scanner"
	"github.com/registry-mirror/internal/store"
	"github.com/registry-mirror/internal/types"
)

// State is one step of the sync state machine
type State string

const (
	StateInit           State = "INIT"
	StateResume         State = "RESUME"
	StateScan           State = "SCAN"
	StateFetch          State = "FETCH"
	StateFinalize       State = "FINALIZE"
	StateDone           State = "DONE"
	StateCheckpointExit State = "CHECKPOINT_EXIT"
)

// AgentFetcher produces a record for one (chain, id); it never fails, a
// fetch problem becomes an error-tagged record
type AgentFetcher interface {
	Fetch(ctx context.Context, chain types.ChainID, id uint64, mint *models.MintInfo) *models.AgentRecord
}

// RunResult summarizes one sync run
type RunResult struct {
	RunID      string
	State      State // DONE or CHECKPOINT_EXIT
	Discovered int   // Mints found by this run's scan
	Fetched    int   // Records written, error records included
	FetchErrs  int   // Records written with an error tag
	Remaining  int   // Queue tail left behind on CHECKPOINT_EXIT
	Duration   time.Duration
}

// Orchestrator runs the sync state machine. It is the single writer of the
// index file for the duration of a run.
type Orchestrator struct {
	cfg     *config.Config
	source  ledger.Source
	store   *store.Store
	fetcher AgentFetcher
	scanner *scanner.Scanner
	log     *logging.Logger
}

// New creates an orchestrator
func New(cfg *config.Config, source ledger.Source, st *store.Store, fetcher AgentFetcher, log *logging.Logger) *Orchestrator {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &Orchestrator{
		cfg:     cfg,
		source:  source,
		store:   st,
		fetcher: fetcher,
		scanner: scanner.NewScanner(source, log),
		log:     log,
	}
}

// Run executes one sync run. It returns an error only on unrecoverable
// failures (a checkpoint or record write that did not land); a tripped
// deadline is a planned partial-progress exit, reported as
// StateCheckpointExit with a nil error.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{RunID: uuid.NewString()}
	log := o.log.WithField("runId", result.RunID)

	// INIT: load the index, or default when absent. The record files on
	// disk, not the index, decide which agents already exist.
	log.Infof("[Orchestrator] %s: loading index", StateInit)
	idx, err := o.store.LoadIndex()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StateInit, err)
	}
	if idx == nil {
		idx = models.NewSyncIndex()
	}
	idx.LastRunID = result.RunID

	existingKeys, err := o.store.ListAgentKeys()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", StateInit, err)
	}
	existing := make(map[string]bool, len(existingKeys))
	for _, key := range existingKeys {
		existing[key] = true
	}

	// A persisted pending queue means the previous run was interrupted;
	// the queue IS the fetch work and scanning is skipped entirely.
	var queue []models.PendingAgent
	if len(idx.PendingAgents) > 0 && !o.cfg.Sync.ForceRefresh {
		queue = idx.PendingAgents
		log.Infof("[Orchestrator] %s: resuming %d pending agents from interrupted run", StateResume, len(queue))
	} else {
		log.Infof("[Orchestrator] %s: scanning %d chains", StateScan, len(o.cfg.Chains.Enabled))
		queue, err = o.scan(ctx, idx, existing, log)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", StateScan, err)
		}
		result.Discovered = len(queue)

		// Durability point: queue and height checkpoints land before any
		// fetching begins. This is what makes resumption safe.
		idx.PendingAgents = queue
		if err := o.store.SaveIndex(idx); err != nil {
			return nil, fmt.Errorf("%s: %w", StateScan, err)
		}
	}

	// FETCH: fixed-size concurrent batches, deadline polled between batches.
	// An in-flight batch always completes; only new batches are withheld.
	log.Infof("[Orchestrator] %s: fetching %d agents in batches of %d", StateFetch, len(queue), o.cfg.Sync.FetchConcurrency)
	stats := make(map[types.ChainID]*models.ChainStats)
	touched := make(map[string]bool)

	for len(queue) > 0 {
		if o.cfg.Sync.Deadline > 0 && time.Since(start) >= o.cfg.Sync.Deadline {
			idx.PendingAgents = queue
			if err := o.store.SaveIndex(idx); err != nil {
				return nil, fmt.Errorf("%s: %w", StateCheckpointExit, err)
			}
			result.State = StateCheckpointExit
			result.Remaining = len(queue)
			result.Duration = time.Since(start)
			log.Warnf("[Orchestrator] %s: deadline reached with %d agents remaining, checkpoint saved", StateCheckpointExit, len(queue))
			return result, nil
		}

		batch := queue[:min(o.cfg.Sync.FetchConcurrency, len(queue))]
		records := o.fetchBatch(ctx, batch)

		for _, record := range records {
			if err := o.store.SaveAgent(record); err != nil {
				// A write that did not land must abort the run; pretending
				// it persisted breaks the crash-safety invariant.
				return nil, fmt.Errorf("%s: %w", StateFetch, err)
			}
			foldStats(stats, record)
			touched[record.Key()] = true
			result.Fetched++
			if record.Error != "" {
				result.FetchErrs++
			}
		}

		// Shrink the durable queue after every batch so a hard kill loses
		// at most one batch of fetch work.
		queue = queue[len(batch):]
		idx.PendingAgents = queue
		if err := o.store.SaveIndex(idx); err != nil {
			return nil, fmt.Errorf("%s: %w", StateFetch, err)
		}
	}

	// FINALIZE: stats are a full recomputation, so records untouched this
	// run are re-read to fold their status into the tally.
	log.Infof("[Orchestrator] %s: reconciling stats across %d existing agents", StateFinalize, len(existingKeys))
	allKeys := make([]string, 0, len(existing)+len(touched))
	for key := range existing {
		allKeys = append(allKeys, key)
		if touched[key] {
			continue
		}
		chain, id, ok := models.SplitAgentKey(key)
		if !ok {
			continue
		}
		record, err := o.store.LoadAgent(chain, id)
		if err != nil {
			log.Warnf("[Orchestrator] %s: skipping unreadable record %s: %v", StateFinalize, key, err)
			continue
		}
		foldStats(stats, record)
	}
	for key := range touched {
		if !existing[key] {
			allKeys = append(allKeys, key)
		}
	}

	idx.SetAgentIDs(allKeys)
	idx.Stats = stats
	idx.LastSync = time.Now().UTC()
	// Clearing the pending queue signals the catalog is fully caught up
	idx.PendingAgents = nil
	if err := o.store.SaveIndex(idx); err != nil {
		return nil, fmt.Errorf("%s: %w", StateFinalize, err)
	}

	result.State = StateDone
	result.Duration = time.Since(start)
	log.Infof("[Orchestrator] %s: %d agents known, %d fetched this run (%d errors) in %s",
		StateDone, idx.TotalAgents, result.Fetched, result.FetchErrs, result.Duration.Round(time.Millisecond))
	return result, nil
}

// scan walks each enabled chain and builds the fetch queue from mints not
// already persisted (all of them under force refresh). Chains are scanned
// sequentially so the index file keeps a single writer.
func (o *Orchestrator) scan(ctx context.Context, idx *models.SyncIndex, existing map[string]bool, log *logging.Logger) ([]models.PendingAgent, error) {
	var queue []models.PendingAgent

	for _, chain := range o.cfg.Chains.Enabled {
		cc := o.cfg.Chains.Chains[chain]
		if cc.RegistryContract == "" {
			log.Warnf("[Orchestrator] Chain %s: no registry contract configured, skipping", chain)
			continue
		}

		height, err := o.source.Height(ctx, chain)
		if err != nil {
			// One unreachable chain must not block the other's progress.
			// Its checkpoint stays put and the next run retries.
			log.Warnf("[Orchestrator] Chain %s: height query failed, skipping chain: %v", chain, err)
			continue
		}

		from := cc.ScanFloorBlock
		if checkpoint, ok := idx.LastScannedBlock[chain]; ok && !o.cfg.Sync.ForceRefresh && checkpoint >= from {
			from = checkpoint + 1
		}
		if from > height {
			log.Infof("[Orchestrator] Chain %s: checkpoint %d already at height %d, nothing to scan", chain, from-1, height)
			continue
		}

		scanResult, err := o.scanner.Scan(ctx, &scanner.ScanInput{
			Chain:           chain,
			Contract:        cc.RegistryContract,
			FromBlock:       from,
			ToBlock:         height,
			ChunkSize:       cc.ScanChunkSize,
			CheckpointEvery: o.cfg.Sync.CheckpointEvery,
			OnCheckpoint: func(chain types.ChainID, block uint64, mints []scanner.DiscoveredMint) error {
				idx.LastScannedBlock[chain] = block
				// The checkpoint and the mints it covers land in the same
				// write; a kill right after this save loses no discoveries.
				pending := append([]models.PendingAgent(nil), queue...)
				idx.PendingAgents = append(pending, o.pendingFromMints(chain, mints, existing)...)
				return o.store.SaveIndex(idx)
			},
		})
		if err != nil {
			return nil, err
		}

		if scanResult.Advanced {
			idx.LastScannedBlock[chain] = scanResult.SafeBlock
		}

		queue = append(queue, o.pendingFromMints(chain, scanResult.Mints, existing)...)
	}

	return queue, nil
}

// pendingFromMints turns discovered mints into queue entries, skipping ids
// already persisted on disk (all are queued under force refresh).
func (o *Orchestrator) pendingFromMints(chain types.ChainID, mints []scanner.DiscoveredMint, existing map[string]bool) []models.PendingAgent {
	var pending []models.PendingAgent
	for _, mint := range mints {
		if !o.cfg.Sync.ForceRefresh && existing[models.AgentKey(chain, mint.ID)] {
			continue
		}
		mintInfo := mint.Mint
		pending = append(pending, models.PendingAgent{
			ID:    mint.ID,
			Chain: chain,
			Mint:  &mintInfo,
		})
	}
	return pending
}

// fetchBatch fetches one batch concurrently. Record order within a batch is
// irrelevant; each produces exactly one file write.
func (o *Orchestrator) fetchBatch(ctx context.Context, batch []models.PendingAgent) []*models.AgentRecord {
	records := make([]*models.AgentRecord, len(batch))

	var wg sync.WaitGroup
	for i, pending := range batch {
		wg.Add(1)
		go func(i int, pending models.PendingAgent) {
			defer wg.Done()
			records[i] = o.fetcher.Fetch(ctx, pending.Chain, pending.ID, pending.Mint)
		}(i, pending)
	}
	wg.Wait()

	return records
}

// foldStats accumulates one record into the per-chain tally. The accumulator
// is threaded through the run and returned with the index, never a global.
func foldStats(stats map[types.ChainID]*models.ChainStats, record *models.AgentRecord) {
	if stats[record.Chain] == nil {
		stats[record.Chain] = &models.ChainStats{}
	}
	stats[record.Chain].Fold(record)
}
