package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st, err := NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return st
}

func testRecord(chain types.ChainID, id uint64, active bool) *models.AgentRecord {
	return &models.AgentRecord{
		ID:       id,
		Chain:    chain,
		Owner:    "0xOwner",
		Name:     models.FallbackName(id),
		Active:   active,
		Services: []models.AgentService{},
		SyncedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveAndLoadAgent(t *testing.T) {
	st := newTestStore(t)

	record := testRecord(types.ChainEthereum, 7, true)
	require.NoError(t, st.SaveAgent(record))

	loaded, err := st.LoadAgent(types.ChainEthereum, 7)
	require.NoError(t, err)
	assert.Equal(t, record, loaded)
}

func TestSaveAgentOverwrites(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 7, true)))
	updated := testRecord(types.ChainEthereum, 7, false)
	updated.Owner = "0xNewOwner"
	require.NoError(t, st.SaveAgent(updated))

	loaded, err := st.LoadAgent(types.ChainEthereum, 7)
	require.NoError(t, err)
	assert.Equal(t, "0xNewOwner", loaded.Owner)
	assert.False(t, loaded.Active)
}

func TestSameIDOnBothChainsGetsSeparateFiles(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 7, true)))
	require.NoError(t, st.SaveAgent(testRecord(types.ChainBase, 7, false)))

	keys, err := st.ListAgentKeys()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ethereum-7", "base-7"}, keys)
}

func TestListAgentKeysIgnoresForeignFiles(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 1, true)))
	require.NoError(t, st.SaveIndex(models.NewSyncIndex()))
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(st.Dir(), "dogecoin-3.json"), []byte("{}"), 0o644))

	keys, err := st.ListAgentKeys()
	require.NoError(t, err)
	assert.Equal(t, []string{"ethereum-1"}, keys)
}

func TestLoadIndexMissingReturnsNil(t *testing.T) {
	st := newTestStore(t)

	idx, err := st.LoadIndex()
	require.NoError(t, err)
	assert.Nil(t, idx)
}

func TestSaveAndLoadIndex(t *testing.T) {
	st := newTestStore(t)

	idx := models.NewSyncIndex()
	idx.LastScannedBlock[types.ChainEthereum] = 109
	idx.PendingAgents = []models.PendingAgent{
		{ID: 7, Chain: types.ChainEthereum, Mint: &models.MintInfo{BlockNumber: 104}},
	}
	require.NoError(t, st.SaveIndex(idx))

	loaded, err := st.LoadIndex()
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, uint64(109), loaded.LastScannedBlock[types.ChainEthereum])
	require.Len(t, loaded.PendingAgents, 1)
	assert.Equal(t, uint64(7), loaded.PendingAgents[0].ID)
	assert.Equal(t, uint64(104), loaded.PendingAgents[0].Mint.BlockNumber)
}

func TestRebuildIndexDerivesStatsFromRecords(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 1, true)))
	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 2, false)))

	withServices := testRecord(types.ChainBase, 3, true)
	withServices.Services = []models.AgentService{{Name: "chat", Type: "a2a"}}
	withServices.X402Support = true
	require.NoError(t, st.SaveAgent(withServices))

	failed := models.NewErrorRecord(4, types.ChainBase, os.ErrDeadlineExceeded)
	require.NoError(t, st.SaveAgent(failed))

	idx, err := st.RebuildIndex()
	require.NoError(t, err)

	assert.Equal(t, 4, idx.TotalAgents)
	assert.Equal(t, []string{"base-3", "base-4", "ethereum-1", "ethereum-2"}, idx.AgentIDs)

	eth := idx.Stats[types.ChainEthereum]
	require.NotNil(t, eth)
	assert.Equal(t, 1, eth.Active)
	assert.Equal(t, 1, eth.Inactive)

	base := idx.Stats[types.ChainBase]
	require.NotNil(t, base)
	assert.Equal(t, 1, base.Active)
	assert.Equal(t, 1, base.Errors)
	assert.Equal(t, 1, base.X402)
	assert.Equal(t, 1, base.WithServices)
}

func TestWriteJSONAtomicLeavesNoTempFiles(t *testing.T) {
	st := newTestStore(t)

	require.NoError(t, st.SaveAgent(testRecord(types.ChainEthereum, 1, true)))
	require.NoError(t, st.SaveIndex(models.NewSyncIndex()))

	entries, err := os.ReadDir(st.Dir())
	require.NoError(t, err)
	for _, entry := range entries {
		assert.NotContains(t, entry.Name(), ".tmp-")
	}
}
