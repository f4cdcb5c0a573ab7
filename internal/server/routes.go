package server

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lazypower/stratum/internal/memory"
	"github.com/lazypower/stratum/internal/store"
	"github.com/lazypower/stratum/internal/worker"
)

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req memory.SubmitInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, `{"error":"content required"}`, http.StatusBadRequest)
		return
	}

	rec, err := s.mem.Submit(r.Context(), req)
	if err != nil {
		// Queue saturation is backpressure, not a server fault.
		if errors.Is(err, worker.ErrCapacityExceeded) {
			http.Error(w, `{"error":"subsystem saturated, retry later"}`, http.StatusServiceUnavailable)
			return
		}
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]any{
		"id":     rec.ID,
		"tier":   rec.Tier,
		"phase":  rec.Phase,
		"status": "classifying",
	})
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = store.TierIntake
	}

	filter := store.RecordFilter{Phase: r.URL.Query().Get("phase")}
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			filter.Limit = n
		}
	}

	records, err := s.db.ListByTier(tier, filter)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"tier":    tier,
		"count":   len(records),
		"records": recordsJSON(records),
	})
}

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")

	rec, err := s.db.GetRecord(id)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}
	if rec == nil {
		http.Error(w, `{"error":"record not found"}`, http.StatusNotFound)
		return
	}

	decisions, _ := s.db.ListDecisions(id)
	resets, _ := s.db.ListStrengthResets(id)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"record":    recordJSON(*rec),
		"decisions": decisions,
		"resets":    resets,
	})
}

func (s *Server) handleResetStrength(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recordID")

	var req struct {
		Reason string `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Reason == "" {
		http.Error(w, `{"error":"reason required"}`, http.StatusBadRequest)
		return
	}

	if err := s.mem.ResetStrength(id, req.Reason); err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "reset"})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	results, err := s.mem.Query(ctx, req.Query, req.TopK)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   req.Query,
		"count":   len(results),
		"results": results,
	})
}

func (s *Server) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	patterns, err := s.db.AllPatterns()
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":    len(patterns),
		"patterns": patterns,
	})
}

func (s *Server) handleQueryPatterns(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
		TopK  int    `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}
	if req.Query == "" {
		http.Error(w, `{"error":"query required"}`, http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
	defer cancel()

	matches, err := s.mem.QueryPatterns(ctx, req.Query, req.TopK)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"query":   req.Query,
		"count":   len(matches),
		"matches": matches,
	})
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	letters, err := s.db.ListDeadLetters(limit)
	if err != nil {
		http.Error(w, `{"error":"`+err.Error()+`"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"count":        len(letters),
		"dead_letters": letters,
	})
}

func (s *Server) handleRunDecay(w http.ResponseWriter, r *http.Request) {
	// Async: the cycle submits jobs through the pool and can outlive the
	// request.
	go func() {
		if _, err := s.mem.Decay().RunCycle(context.Background()); err != nil {
			log.Printf("manual decay cycle failed: %v", err)
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "decay cycle started"})
}

func (s *Server) handleRunConsolidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pass string `json:"pass"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid json"}`, http.StatusBadRequest)
		return
	}

	switch req.Pass {
	case "nightly":
		go func() {
			if _, _, err := s.mem.Consolidator().RunNightly(context.Background()); err != nil {
				log.Printf("manual nightly pass failed: %v", err)
			}
		}()
	case "weekly":
		go func() {
			if _, err := s.mem.Consolidator().RunWeekly(context.Background()); err != nil {
				log.Printf("manual weekly pass failed: %v", err)
			}
		}()
	default:
		http.Error(w, `{"error":"pass must be nightly or weekly"}`, http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": req.Pass + " pass started"})
}

type recordView struct {
	ID              string  `json:"id"`
	Tier            string  `json:"tier"`
	Phase           string  `json:"phase"`
	Content         string  `json:"content,omitempty"`
	Criticality     float64 `json:"criticality"`
	Strength        float64 `json:"strength"`
	SuccessScore    float64 `json:"success_score"`
	RepetitionCount int     `json:"repetition_count"`
	ClusterFlag     bool    `json:"cluster_flag,omitempty"`
	Version         int64   `json:"version"`
	CreatedAt       int64   `json:"created_at"`
	UpdatedAt       int64   `json:"updated_at"`
}

func recordJSON(rec store.Record) recordView {
	return recordView{
		ID:              rec.ID,
		Tier:            rec.Tier,
		Phase:           rec.Phase,
		Content:         rec.Content,
		Criticality:     rec.Criticality,
		Strength:        rec.Strength,
		SuccessScore:    rec.SuccessScore,
		RepetitionCount: rec.RepetitionCount,
		ClusterFlag:     rec.ClusterFlag,
		Version:         rec.Version,
		CreatedAt:       rec.CreatedAt,
		UpdatedAt:       rec.UpdatedAt,
	}
}

func recordsJSON(records []store.Record) []recordView {
	out := make([]recordView, len(records))
	for i, rec := range records {
		out[i] = recordJSON(rec)
	}
	return out
}
