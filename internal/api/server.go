// Package api exposes a read-only operational HTTP surface while a run
// executes. All mutation happens through store claims, never over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/BashkirovN/MiniStateAffairs/internal/models"
	"github.com/BashkirovN/MiniStateAffairs/internal/telemetry"
)

// Reader is the store slice the ops server needs.
type Reader interface {
	GetItem(ctx context.Context, id string) (models.WorkItem, error)
	RecentRuns(ctx context.Context, limit int) ([]models.JobRun, error)
	RunSummary(ctx context.Context, region, branch string) (map[string]int, error)
}

// Server wires the ops handlers.
type Server struct {
	store Reader
}

func New(store Reader) *Server {
	return &Server{store: store}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount("/metrics", telemetry.Handler())

	r.Get("/runs", s.handleRecentRuns)
	r.Get("/runs/summary", s.handleSummary)
	r.Get("/items/{id}", s.handleGetItem)
	return r
}

func (s *Server) handleRecentRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.RecentRuns(r.Context(), 20)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	region := r.URL.Query().Get("region")
	branch := r.URL.Query().Get("source")
	if region == "" || branch == "" {
		http.Error(w, "region and source are required", http.StatusBadRequest)
		return
	}
	summary, err := s.store.RunSummary(r.Context(), region, branch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"region": region, "source": branch, "statuses": summary})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	item, err := s.store.GetItem(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
