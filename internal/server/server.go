package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/stratum/internal/memory"
	"github.com/lazypower/stratum/internal/store"
)

// Server is the stratum HTTP API server.
type Server struct {
	mem     *memory.Subsystem
	db      *store.DB
	router  chi.Router
	version string
	started time.Time
}

// New creates a new Server over a running subsystem.
func New(mem *memory.Subsystem, version string) *Server {
	s := &Server{
		mem:     mem,
		db:      mem.DB(),
		version: version,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/records", s.handleSubmit)
		r.Get("/records", s.handleListRecords)
		r.Get("/records/{recordID}", s.handleGetRecord)
		r.Post("/records/{recordID}/reset", s.handleResetStrength)

		r.Post("/query", s.handleQuery)
		r.Get("/patterns", s.handleListPatterns)
		r.Post("/patterns/query", s.handleQueryPatterns)

		r.Get("/deadletters", s.handleDeadLetters)

		// Manual maintenance triggers; the schedulers run these on their own.
		r.Post("/decay/run", s.handleRunDecay)
		r.Post("/consolidate/run", s.handleRunConsolidate)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.db.Ping(); err != nil {
		dbOK = false
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.db.Path,
		"pool":    s.mem.Pool().Snapshot(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.mem.Stats()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}
