// Package types provides common type definitions for the registry mirror system.
package types

// ChainID represents supported blockchain networks
type ChainID string

const (
	// ChainEthereum represents the Ethereum mainnet
	ChainEthereum ChainID = "ethereum"
	// ChainBase represents the Base network
	ChainBase ChainID = "base"
)

// AllChains lists every chain the mirror can sync, in display order.
var AllChains = []ChainID{ChainEthereum, ChainBase}

// Valid reports whether the chain is one the mirror knows about.
func (c ChainID) Valid() bool {
	switch c {
	case ChainEthereum, ChainBase:
		return true
	}
	return false
}
