// Package scanner walks block ranges in bounded windows and extracts
// registry mint events.
package scanner

import (
	"context"
	"fmt"

	"github.com/registry-mirror/internal/ledger"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/types"
)

// CheckpointFunc persists the scan's safe high-water mark together with the
// mints discovered so far. The durable checkpoint must never outrun the
// durable record of its discoveries: a crash after a mark-only save would
// leave the next run scanning past mints nobody queued. A persistence
// failure aborts the scan: proceeding while believing progress was saved
// breaks the crash-safety invariant.
type CheckpointFunc func(chain types.ChainID, block uint64, mints []DiscoveredMint) error

// ScanInput describes one chain scan
type ScanInput struct {
	Chain     types.ChainID
	Contract  string
	FromBlock uint64 // inclusive
	ToBlock   uint64 // inclusive
	ChunkSize uint64
	// CheckpointEvery is the number of windows between checkpoint saves.
	CheckpointEvery int
	OnCheckpoint    CheckpointFunc
}

// DiscoveredMint is one newly registered token found by the scan
type DiscoveredMint struct {
	ID   uint64
	Mint models.MintInfo
}

// ScanResult summarizes one chain scan
type ScanResult struct {
	// Mints holds each discovered id exactly once, in first-seen order.
	Mints []DiscoveredMint
	// SafeBlock is the highest block through which every window succeeded,
	// valid only when Advanced is true. The checkpoint never advances past a
	// failed window; its blocks get re-scanned on the next cycle instead of
	// being dropped.
	SafeBlock      uint64
	Advanced       bool
	WindowsScanned int
	WindowsFailed  int
}

// Scanner extracts mint events from a ledger source
type Scanner struct {
	source ledger.Source
	log    *logging.Logger
}

// NewScanner creates a scanner
func NewScanner(source ledger.Source, log *logging.Logger) *Scanner {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &Scanner{source: source, log: log}
}

// Scan walks [FromBlock, ToBlock] in chunk-sized windows, strictly in
// increasing block order. A failed window is logged and skipped, not retried;
// the safe mark freezes before it so the next run re-scans the gap.
func (s *Scanner) Scan(ctx context.Context, input *ScanInput) (*ScanResult, error) {
	if input.ChunkSize == 0 {
		return nil, fmt.Errorf("chunk size must be positive")
	}
	if input.FromBlock > input.ToBlock {
		return nil, fmt.Errorf("invalid block range [%d, %d]", input.FromBlock, input.ToBlock)
	}

	result := &ScanResult{}
	seen := make(map[uint64]bool)
	anyFailed := false
	lastCheckpointed := uint64(0)

	s.log.Infof("[Scanner] Chain %s: scanning blocks %d-%d in windows of %d",
		input.Chain, input.FromBlock, input.ToBlock, input.ChunkSize)

	for start := input.FromBlock; start <= input.ToBlock; {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("scan cancelled: %w", ctx.Err())
		}

		end := start + input.ChunkSize - 1
		if end > input.ToBlock {
			end = input.ToBlock
		}

		events, err := s.source.MintLogs(ctx, input.Chain, input.Contract, start, end)
		if err != nil {
			// Skip the window; its mints get picked up when the next cycle
			// re-scans from the frozen safe mark.
			s.log.Warnf("[Scanner] Chain %s: window %d-%d failed, skipping: %v",
				input.Chain, start, end, err)
			result.WindowsFailed++
			anyFailed = true
		} else {
			for _, ev := range events {
				// First-seen wins: within one scan an id mints at most once
				if seen[ev.ID] {
					continue
				}
				seen[ev.ID] = true
				result.Mints = append(result.Mints, DiscoveredMint{
					ID: ev.ID,
					Mint: models.MintInfo{
						BlockNumber: ev.BlockNumber,
						TxHash:      ev.TxHash,
					},
				})
			}
			if !anyFailed {
				result.SafeBlock = end
				result.Advanced = true
			}
		}

		result.WindowsScanned++

		if input.OnCheckpoint != nil && input.CheckpointEvery > 0 &&
			result.WindowsScanned%input.CheckpointEvery == 0 &&
			result.Advanced && result.SafeBlock != lastCheckpointed {
			if err := input.OnCheckpoint(input.Chain, result.SafeBlock, result.Mints); err != nil {
				return nil, fmt.Errorf("checkpoint save at block %d failed: %w", result.SafeBlock, err)
			}
			lastCheckpointed = result.SafeBlock
			s.log.Debugf("[Scanner] Chain %s: checkpoint saved at block %d", input.Chain, result.SafeBlock)
		}

		// Uint64 overflow guard at the top of the block range
		if end == ^uint64(0) {
			break
		}
		start = end + 1
	}

	if result.Advanced {
		s.log.Infof("[Scanner] Chain %s: found %d mints in %d windows (%d failed), safe through block %d",
			input.Chain, len(result.Mints), result.WindowsScanned, result.WindowsFailed, result.SafeBlock)
	} else {
		s.log.Warnf("[Scanner] Chain %s: found %d mints but made no checkpoint progress (%d of %d windows failed)",
			input.Chain, len(result.Mints), result.WindowsFailed, result.WindowsScanned)
	}

	return result, nil
}
