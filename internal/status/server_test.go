package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/registry-mirror/internal/models"
	"github.com/registry-mirror/internal/store"
	"github.com/registry-mirror/internal/types"
)

func newTestServer(t *testing.T) (*Server, *store.Store) {
	t.Helper()
	st, err := store.NewStore(t.TempDir(), nil)
	require.NoError(t, err)
	return NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0"}, st, nil), st
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestStatusReportsIndexAndLastRun(t *testing.T) {
	s, st := newTestServer(t)

	idx := models.NewSyncIndex()
	idx.LastScannedBlock[types.ChainEthereum] = 109
	idx.SetAgentIDs([]string{"ethereum-7"})
	require.NoError(t, st.SaveIndex(idx))

	s.RecordRun(&RunSummary{
		RunID:      "run-1",
		State:      "DONE",
		Fetched:    1,
		FinishedAt: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC),
	})

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Index   *models.SyncIndex `json:"index"`
		LastRun *RunSummary       `json:"lastRun"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	require.NotNil(t, body.Index)
	assert.Equal(t, uint64(109), body.Index.LastScannedBlock[types.ChainEthereum])
	assert.Equal(t, 1, body.Index.TotalAgents)

	require.NotNil(t, body.LastRun)
	assert.Equal(t, "run-1", body.LastRun.RunID)
	assert.Equal(t, "DONE", body.LastRun.State)
}

func TestStatusBeforeFirstRun(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	// No index, no runs yet: still a well-formed response
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Nil(t, body["index"])
	assert.Nil(t, body["lastRun"])
}

func TestStatusRejectsOtherMethods(t *testing.T) {
	s, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
