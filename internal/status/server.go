// Package status provides the daemon's HTTP status surface.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/registry-mirror/internal/logging"
	"github.com/registry-mirror/internal/store"
)

// RunSummary is the last completed (or interrupted) run, as shown on /status
type RunSummary struct {
	RunID      string    `json:"runId"`
	State      string    `json:"state"`
	Fetched    int       `json:"fetched"`
	FetchErrs  int       `json:"fetchErrors"`
	Remaining  int       `json:"remaining"`
	FinishedAt time.Time `json:"finishedAt"`
}

// Server exposes sync progress over HTTP. This is operational surface for
// the syncer itself; the catalog read API lives elsewhere.
type Server struct {
	router     *mux.Router
	httpServer *http.Server
	store      *store.Store
	log        *logging.Logger

	mu      sync.RWMutex
	lastRun *RunSummary
}

// ServerConfig holds status server configuration
type ServerConfig struct {
	Host string
	Port string
}

// NewServer creates a status server
func NewServer(cfg *ServerConfig, st *store.Store, log *logging.Logger) *Server {
	if log == nil {
		log = logging.GetGlobalLogger()
	}

	s := &Server{
		router: mux.NewRouter(),
		store:  st,
		log:    log,
	}
	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Start begins serving in a background goroutine
func (s *Server) Start() {
	go func() {
		s.log.Infof("[Status] Listening on %s", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("[Status] Server error: %v", err)
		}
	}()
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// RecordRun publishes the outcome of a sync run
func (s *Server) RecordRun(summary *RunSummary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = summary
}

// Handler returns the underlying router, used by tests
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	idx, err := s.store.LoadIndex()
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	s.mu.RLock()
	lastRun := s.lastRun
	s.mu.RUnlock()

	response := map[string]interface{}{
		"index":   idx,
		"lastRun": lastRun,
	}
	writeJSON(w, http.StatusOK, response)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
