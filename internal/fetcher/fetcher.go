// Package fetcher turns discovered token ids into normalized agent records.
package fetcher

import (
	"context"
	"sync"
	"time"

	"github.com/registry-mirror/internal/ledger"
	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/types"
)

// MetadataResolver resolves a metadata URI into a parsed document
type MetadataResolver interface {
	Resolve(ctx context.Context, uri string) map[string]interface{}
}

// Fetcher assembles agent records from ledger state and resolved metadata.
// Its contract is "always returns a record": an unrecoverable ledger failure
// produces an error-tagged record, never an error to the batch driver, so one
// bad token cannot abort a batch.
type Fetcher struct {
	source    ledger.Source
	resolver  MetadataResolver
	contracts map[types.ChainID]string
	log       *logging.Logger
}

// NewFetcher creates a fetcher. contracts maps each chain to its registry
// contract address.
func NewFetcher(source ledger.Source, resolver MetadataResolver, contracts map[types.ChainID]string, log *logging.Logger) *Fetcher {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	return &Fetcher{
		source:    source,
		resolver:  resolver,
		contracts: contracts,
		log:       log,
	}
}

// Fetch builds the record for one (chain, id) pair. Owner and metadata URI
// are read concurrently; each ledger call carries the pool's own retry.
func (f *Fetcher) Fetch(ctx context.Context, chain types.ChainID, id uint64, mint *models.MintInfo) *models.AgentRecord {
	contract := f.contracts[chain]

	var (
		wg       sync.WaitGroup
		owner    string
		uri      string
		ownerErr error
		uriErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		owner, ownerErr = f.source.OwnerOf(ctx, chain, contract, id)
	}()
	go func() {
		defer wg.Done()
		uri, uriErr = f.source.TokenURI(ctx, chain, contract, id)
	}()
	wg.Wait()

	if ownerErr != nil {
		f.log.Warnf("[Fetcher] Chain %s: agent %d owner lookup failed: %v", chain, id, ownerErr)
		return models.NewErrorRecord(id, chain, ownerErr)
	}
	if uriErr != nil {
		f.log.Warnf("[Fetcher] Chain %s: agent %d tokenURI lookup failed: %v", chain, id, uriErr)
		return models.NewErrorRecord(id, chain, uriErr)
	}

	// Resolution failures collapse to an empty document; field fallbacks
	// below cover the rest.
	metadata := f.resolver.Resolve(ctx, uri)

	record := &models.AgentRecord{
		ID:          id,
		Chain:       chain,
		Owner:       owner,
		Name:        stringField(metadata, "name", models.FallbackName(id)),
		Description: stringField(metadata, "description", ""),
		Image:       stringField(metadata, "image", ""),
		Active:      boolField(metadata, "active", true),
		X402Support: boolField(metadata, "x402Support", false),
		Services:    serviceList(metadata),
		SyncedAt:    time.Now().UTC(),
	}

	if len(metadata) > 0 {
		record.RawMetadata = metadata
	}
	if mint != nil {
		block := mint.BlockNumber
		record.RegisteredBlock = &block
		if mint.TxHash != "" {
			hash := mint.TxHash
			record.TxHash = &hash
		}
	}

	return record
}

func stringField(doc map[string]interface{}, key, fallback string) string {
	if v, ok := doc[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

func boolField(doc map[string]interface{}, key string, fallback bool) bool {
	if v, ok := doc[key].(bool); ok {
		return v
	}
	return fallback
}

// serviceList extracts the ordered service declarations, tolerating missing
// or malformed entries. A missing list falls back to empty, never nil, so
// the persisted JSON always carries an array.
func serviceList(doc map[string]interface{}) []models.AgentService {
	services := []models.AgentService{}

	raw, ok := doc["services"].([]interface{})
	if !ok {
		return services
	}

	for _, item := range raw {
		entry, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		services = append(services, models.AgentService{
			Name:     stringField(entry, "name", ""),
			Type:     stringField(entry, "type", ""),
			Version:  stringField(entry, "version", ""),
			Endpoint: stringField(entry, "endpoint", ""),
		})
	}

	return services
}
