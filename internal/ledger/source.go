// Package ledger provides read access to the on-chain registry through a
// pool of redundant RPC endpoints per chain.
package ledger

import (
	"context"
	"fmt"

	"github.com/registry-mirror/internal/types"
)

// MintEvent is one entity-creation transfer extracted from the logs
type MintEvent struct {
	ID          uint64
	BlockNumber uint64
	TxHash      string
}

// Source is the ledger read capability the sync engine consumes
type Source interface {
	// Height returns the chain's current block number
	Height(ctx context.Context, chain types.ChainID) (uint64, error)

	// MintLogs returns creation transfers (from the zero address) emitted by
	// the registry contract in the inclusive block range [from, to]
	MintLogs(ctx context.Context, chain types.ChainID, contract string, from, to uint64) ([]MintEvent, error)

	// OwnerOf returns the current controller of a registry token
	OwnerOf(ctx context.Context, chain types.ChainID, contract string, id uint64) (string, error)

	// TokenURI returns the token's metadata URI
	TokenURI(ctx context.Context, chain types.ChainID, contract string, id uint64) (string, error)
}

// Common error values for ledger operations

var (
	// ErrUnknownChain indicates the pool has no endpoints for the chain
	ErrUnknownChain = fmt.Errorf("chain not configured")

	// ErrNoEndpoints indicates the chain was configured without endpoints
	ErrNoEndpoints = fmt.Errorf("no RPC endpoints configured")
)

// LedgerError wraps errors with chain and operation context
type LedgerError struct {
	Chain types.ChainID
	Op    string // Operation that failed (e.g., "Height", "MintLogs")
	Err   error
}

func (e *LedgerError) Error() string {
	return fmt.Sprintf("ledger error [%s:%s]: %v", e.Chain, e.Op, e.Err)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError
func NewLedgerError(chain types.ChainID, op string, err error) *LedgerError {
	return &LedgerError{Chain: chain, Op: op, Err: err}
}
