package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/registry-mirror/internal/types"
)

// AgentService represents one service advertised in an agent's metadata
type AgentService struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Version  string `json:"version"`
	Endpoint string `json:"endpoint"`
}

// MintInfo holds the provenance of a registration event
type MintInfo struct {
	BlockNumber uint64 `json:"blockNumber"`
	TxHash      string `json:"txHash,omitempty"`
}

// AgentRecord represents one registry token mirrored off-chain.
// The identity key is (chain, id); the same numeric id can occur on both
// chains independently.
type AgentRecord struct {
	ID              uint64                 `json:"id"`
	Chain           types.ChainID          `json:"chain"`
	Owner           string                 `json:"owner,omitempty"`
	Name            string                 `json:"name,omitempty"`
	Description     string                 `json:"description,omitempty"`
	Image           string                 `json:"image,omitempty"`
	Active          bool                   `json:"active"`
	X402Support     bool                   `json:"x402Support"`
	Services        []AgentService         `json:"services"`
	RegisteredBlock *uint64                `json:"registeredBlock"`
	TxHash          *string                `json:"txHash"`
	RawMetadata     map[string]interface{} `json:"rawMetadata,omitempty"`
	SyncedAt        time.Time              `json:"syncedAt"`
	Error           string                 `json:"error,omitempty"`
}

// Key returns the record's global identity key, "chain-id".
func (r *AgentRecord) Key() string {
	return AgentKey(r.Chain, r.ID)
}

// AgentKey builds the global identity key for a (chain, id) pair.
func AgentKey(chain types.ChainID, id uint64) string {
	return fmt.Sprintf("%s-%d", chain, id)
}

// SplitAgentKey recovers the (chain, id) pair from a key built by AgentKey.
func SplitAgentKey(key string) (types.ChainID, uint64, bool) {
	sep := strings.LastIndex(key, "-")
	if sep <= 0 {
		return "", 0, false
	}

	chain := types.ChainID(key[:sep])
	if !chain.Valid() {
		return "", 0, false
	}

	id, err := strconv.ParseUint(key[sep+1:], 10, 64)
	if err != nil {
		return "", 0, false
	}
	return chain, id, true
}

// FallbackName synthesizes a display name for an agent with no metadata name.
func FallbackName(id uint64) string {
	return fmt.Sprintf("Agent #%d", id)
}

// NewErrorRecord builds the terminal record for a failed fetch attempt.
// Only id, chain, and syncedAt are populated alongside the error.
func NewErrorRecord(id uint64, chain types.ChainID, err error) *AgentRecord {
	return &AgentRecord{
		ID:       id,
		Chain:    chain,
		SyncedAt: time.Now().UTC(),
		Error:    err.Error(),
	}
}
