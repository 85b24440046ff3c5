// Package http serves a read-only inspection API over the cache and its store.
package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aretw0/mealycache/internal/logging"
	"github.com/aretw0/mealycache/pkg/cache"
	"github.com/aretw0/mealycache/pkg/domain"
	"github.com/aretw0/mealycache/pkg/ports"
)

// Cache is the part of cache.Oracle the API reads.
type Cache interface {
	Stats() cache.Stats
	Lookup(word domain.Word) (domain.Word, bool)
}

// Server holds the inspected components. Any of them may be nil; the matching
// routes then answer 503.
type Server struct {
	Cache    Cache
	Store    ports.ObservationStore
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// LookupResponse is the body of GET /lookup.
type LookupResponse struct {
	Word     domain.Word `json:"word"`
	Response domain.Word `json:"response"`
	Complete bool        `json:"complete"`
}

// NewHandler creates the router.
func NewHandler(s *Server) http.Handler {
	if s.Logger == nil {
		s.Logger = logging.NewNop()
	}
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/stats", s.stats)
	r.Get("/lookup", s.lookup)
	r.Get("/observations", s.observations)
	r.Get("/majority", s.majority)
	if s.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		return
	}
	s.writeJSON(w, http.StatusOK, s.Cache.Stats())
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		http.Error(w, "cache not configured", http.StatusServiceUnavailable)
		return
	}
	word := domain.ParseWord(r.URL.Query().Get("word"))
	resp, complete := s.Cache.Lookup(word)
	s.writeJSON(w, http.StatusOK, LookupResponse{Word: word, Response: resp, Complete: complete})
}

func (s *Server) observations(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	prefix := domain.ParseWord(r.URL.Query().Get("prefix"))
	obs, err := s.Store.List(r.Context(), prefix)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		s.Logger.Error("List failed", "prefix", prefix, "error", err)
		return
	}
	if obs == nil {
		obs = []domain.Observation{}
	}
	s.writeJSON(w, http.StatusOK, obs)
}

func (s *Server) majority(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		http.Error(w, "store not configured", http.StatusServiceUnavailable)
		return
	}
	key := domain.ParseWord(r.URL.Query().Get("key"))
	obs, ok, err := s.Store.Majority(r.Context(), key)
	if err != nil {
		http.Error(w, "store error", http.StatusInternalServerError)
		s.Logger.Error("Majority failed", "key", key, "error", err)
		return
	}
	if !ok {
		http.Error(w, "no observation for "+key.String(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, obs)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.Logger.Error("Response encode failed", "error", err)
	}
}
