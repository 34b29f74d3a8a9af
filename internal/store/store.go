// Package store persists agent records and the sync index as flat JSON
// files, the contract consumed by the external read layers.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/types"
)

const indexFilename = "index.json"

// Store reads and writes the mirror's data directory. Every write goes
// through a temp file and rename in the same directory, so a crash between
// writes leaves at worst a stale index, never a torn file. The index must
// have exactly one writer per run.
type Store struct {
	dir string
	log *logging.Logger
}

// NewStore creates a store rooted at dir, creating the directory if needed
func NewStore(dir string, log *logging.Logger) (*Store, error) {
	if log == nil {
		log = logging.GetGlobalLogger()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dir, err)
	}
	return &Store{dir: dir, log: log}, nil
}

// Dir returns the data directory path
func (s *Store) Dir() string {
	return s.dir
}

// SaveAgent writes (or overwrites) the record file for one (chain, id)
func (s *Store) SaveAgent(record *models.AgentRecord) error {
	path := filepath.Join(s.dir, agentFilename(record.Chain, record.ID))
	if err := writeJSONAtomic(path, record); err != nil {
		return fmt.Errorf("failed to save agent %s: %w", record.Key(), err)
	}
	return nil
}

// LoadAgent reads the record for one (chain, id)
func (s *Store) LoadAgent(chain types.ChainID, id uint64) (*models.AgentRecord, error) {
	path := filepath.Join(s.dir, agentFilename(chain, id))
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read agent %s: %w", models.AgentKey(chain, id), err)
	}

	var record models.AgentRecord
	if err := json.Unmarshal(raw, &record); err != nil {
		return nil, fmt.Errorf("corrupt agent record %s: %w", models.AgentKey(chain, id), err)
	}
	return &record, nil
}

// ListAgentKeys enumerates the (chain, id) keys persisted on disk. The files
// themselves are the source of truth for "existing"; a corrupt index can
// neither cause false re-fetching nor false skipping.
func (s *Store) ListAgentKeys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list data directory: %w", err)
	}

	var keys []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		chain, id, ok := parseAgentFilename(entry.Name())
		if !ok {
			continue
		}
		keys = append(keys, models.AgentKey(chain, id))
	}
	return keys, nil
}

// LoadIndex reads the persisted sync index. A missing index is not an
// error; it returns nil and the orchestrator starts from defaults.
func (s *Store) LoadIndex() (*models.SyncIndex, error) {
	raw, err := os.ReadFile(filepath.Join(s.dir, indexFilename))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index: %w", err)
	}

	var idx models.SyncIndex
	if err := json.Unmarshal(raw, &idx); err != nil {
		return nil, fmt.Errorf("corrupt index: %w", err)
	}
	if idx.LastScannedBlock == nil {
		idx.LastScannedBlock = make(map[types.ChainID]uint64)
	}
	if idx.Stats == nil {
		idx.Stats = make(map[types.ChainID]*models.ChainStats)
	}
	return &idx, nil
}

// SaveIndex persists the sync index
func (s *Store) SaveIndex(idx *models.SyncIndex) error {
	if err := writeJSONAtomic(filepath.Join(s.dir, indexFilename), idx); err != nil {
		return fmt.Errorf("failed to save index: %w", err)
	}
	return nil
}

// RebuildIndex re-derives an index from the record files on disk. Scan
// checkpoints cannot be recovered from records, so they are left unset and
// the next run re-scans from each chain's configured floor.
func (s *Store) RebuildIndex() (*models.SyncIndex, error) {
	keys, err := s.ListAgentKeys()
	if err != nil {
		return nil, err
	}

	idx := models.NewSyncIndex()
	for _, key := range keys {
		chain, id, ok := models.SplitAgentKey(key)
		if !ok {
			continue
		}
		record, err := s.LoadAgent(chain, id)
		if err != nil {
			s.log.Warnf("[Store] Skipping unreadable record %s during rebuild: %v", key, err)
			continue
		}
		if idx.Stats[chain] == nil {
			idx.Stats[chain] = &models.ChainStats{}
		}
		idx.Stats[chain].Fold(record)
	}

	idx.SetAgentIDs(keys)
	idx.LastSync = time.Now().UTC()
	return idx, nil
}

// writeJSONAtomic marshals v and writes it via temp file + rename. Rename
// within one directory is atomic on POSIX filesystems.
func writeJSONAtomic(path string, v interface{}) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal failed: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("temp file creation failed: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("temp file write failed: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("temp file close failed: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename failed: %w", err)
	}
	return nil
}

func agentFilename(chain types.ChainID, id uint64) string {
	return fmt.Sprintf("%s-%d.json", chain, id)
}

// parseAgentFilename recovers (chain, id) from a record filename
func parseAgentFilename(name string) (types.ChainID, uint64, bool) {
	if !strings.HasSuffix(name, ".json") || name == indexFilename {
		return "", 0, false
	}
	return models.SplitAgentKey(strings.TrimSuffix(name, ".json"))
}
