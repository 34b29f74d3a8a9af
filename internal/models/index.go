package models

import (
	"sort"
	"time"

	"github.com/registry-mirror/internal/types"
)

// PendingAgent is one discovered-but-not-yet-fetched registry token.
// A non-empty pending queue in the persisted index is the signal that the
// previous run was interrupted and the next run should resume fetching.
type PendingAgent struct {
	ID    uint64        `json:"id"`
	Chain types.ChainID `json:"chain"`
	Mint  *MintInfo     `json:"mintInfo,omitempty"`
}

// ChainStats holds per-chain derived counters. They are a full recomputation
// from the record set, never incremented across runs.
type ChainStats struct {
	Active       int `json:"active"`
	Inactive     int `json:"inactive"`
	Errors       int `json:"errors"`
	X402         int `json:"x402"`
	WithServices int `json:"withServices"`
}

// Fold accumulates one record into the counters.
func (s *ChainStats) Fold(record *AgentRecord) {
	if record.Error != "" {
		s.Errors++
		return
	}
	if record.Active {
		s.Active++
	} else {
		s.Inactive++
	}
	if record.X402Support {
		s.X402++
	}
	if len(record.Services) > 0 {
		s.WithServices++
	}
}

// SyncIndex is the process-wide summary, rebuilt on every completed run and
// persisted at every checkpoint boundary in between.
type SyncIndex struct {
	LastSync         time.Time                     `json:"lastSync"`
	LastRunID        string                        `json:"lastRunId,omitempty"`
	LastScannedBlock map[types.ChainID]uint64      `json:"lastScannedBlock"`
	TotalAgents      int                           `json:"totalAgents"`
	AgentIDs         []string                      `json:"agentIds"`
	Stats            map[types.ChainID]*ChainStats `json:"stats"`
	PendingAgents    []PendingAgent                `json:"pendingAgents,omitempty"`
}

// NewSyncIndex returns an empty index with initialized maps.
func NewSyncIndex() *SyncIndex {
	return &SyncIndex{
		LastScannedBlock: make(map[types.ChainID]uint64),
		Stats:            make(map[types.ChainID]*ChainStats),
	}
}

// SetAgentIDs replaces the known-agent list, sorted for stable display.
func (idx *SyncIndex) SetAgentIDs(keys []string) {
	sorted := make([]string, len(keys))
	copy(sorted, keys)
	sort.Strings(sorted)
	idx.AgentIDs = sorted
	idx.TotalAgents = len(sorted)
}
