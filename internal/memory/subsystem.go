// Package memory is the subsystem facade: it owns the stores, the working
// buffer, the worker pool, the router, and the schedulers, and exposes the
// operations the server and CLI call. All mutation of persisted records runs
// through pool jobs, so concurrency control lives in exactly one place.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/lazypower/stratum/internal/buffer"
	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/consolidate"
	"github.com/lazypower/stratum/internal/decay"
	"github.com/lazypower/stratum/internal/embed"
	"github.com/lazypower/stratum/internal/llm"
	"github.com/lazypower/stratum/internal/router"
	"github.com/lazypower/stratum/internal/store"
	"github.com/lazypower/stratum/internal/worker"
)

// classifyPriority is above the HighPriority boundary: classification is
// user-facing work and must never be shed, only backpressured.
const classifyPriority = 6

// Subsystem wires the tiered memory components together.
type Subsystem struct {
	cfg config.Config
	db  *store.DB

	embedder  embed.Embedder
	extractor *router.Extractor
	router    *router.Router
	buf       *buffer.Buffer
	pool      *worker.Pool

	decay        *decay.Engine
	consolidator *consolidate.Consolidator

	sweepCancel context.CancelFunc
	sweepDone   chan struct{}
}

// New builds a subsystem over an open database. llmClient may be nil; phase
// compression then falls back to truncation.
func New(cfg config.Config, db *store.DB, embedder embed.Embedder, llmClient llm.Client) (*Subsystem, error) {
	extractor, err := router.NewExtractor(cfg.Router.SignalCacheEntries)
	if err != nil {
		return nil, err
	}

	s := &Subsystem{
		cfg:       cfg,
		db:        db,
		embedder:  embedder,
		extractor: extractor,
		router:    router.New(cfg.Router),
		buf:       buffer.New(cfg.Buffer.Capacity),
	}
	s.pool = worker.New(cfg.Pool, s.deadLetter)

	var summarizer llm.Summarizer
	if llmClient != nil {
		summarizer = &llm.ClientSummarizer{Client: llmClient}
	}
	s.decay = decay.NewEngine(db, s.pool, summarizer, cfg.Decay)
	s.consolidator = consolidate.New(db, s.buf, cfg.Consolidate, cfg.Buffer.PromoteThreshold, s.Reclassify)

	return s, nil
}

// Start launches the pool, the schedulers, and the intake TTL sweep.
func (s *Subsystem) Start(ctx context.Context) error {
	s.pool.Start(ctx)
	if err := s.decay.Start(); err != nil {
		return err
	}
	if err := s.consolidator.Start(); err != nil {
		return err
	}

	sweepCtx, cancel := context.WithCancel(ctx)
	s.sweepCancel = cancel
	s.sweepDone = make(chan struct{})
	go s.sweepLoop(sweepCtx)
	return nil
}

// Close stops schedulers and workers, waiting for in-flight jobs.
func (s *Subsystem) Close() {
	if s.sweepCancel != nil {
		s.sweepCancel()
		<-s.sweepDone
	}
	s.consolidator.Stop()
	s.decay.Stop()
	s.pool.Close()
	s.extractor.Close()
}

// Pool exposes the worker pool for health reporting.
func (s *Subsystem) Pool() *worker.Pool { return s.pool }

// Buffer exposes the working buffer for inspection.
func (s *Subsystem) Buffer() *buffer.Buffer { return s.buf }

// DB exposes the store for read-side handlers.
func (s *Subsystem) DB() *store.DB { return s.db }

// Decay exposes the decay engine for manual cycle triggers.
func (s *Subsystem) Decay() *decay.Engine { return s.decay }

// Consolidator exposes the consolidator for manual pass triggers.
func (s *Subsystem) Consolidator() *consolidate.Consolidator { return s.consolidator }

// SubmitInput is one incoming experience.
type SubmitInput struct {
	Content      string  `json:"content"`
	Criticality  float64 `json:"criticality"`
	SuccessScore float64 `json:"success_score"`
}

// Submit ingests an experience: persist it in intake, store its embedding,
// queue classification, and place it in the working buffer. The record is
// durable before Submit returns; classification happens asynchronously.
func (s *Subsystem) Submit(ctx context.Context, in SubmitInput) (*store.Record, error) {
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, fmt.Errorf("submit: empty content")
	}

	rec := &store.Record{
		ID:           uuid.New().String(),
		Tier:         store.TierIntake,
		Phase:        store.PhaseFull,
		Content:      content,
		Criticality:  clamp01(in.Criticality),
		SuccessScore: clamp01(in.SuccessScore),
	}
	if err := s.db.CreateRecord(rec); err != nil {
		return nil, err
	}

	// Embedding is best-effort: a record without a vector still routes, it
	// just cannot cluster or answer similarity queries until re-embedded.
	if vec, err := s.embedWithRetry(ctx, content); err != nil {
		log.Printf("memory: embed %s: %v", rec.ID, err)
	} else if err := s.db.SaveVector(rec.ID, vec, s.embedder.Model()); err != nil {
		log.Printf("memory: save vector %s: %v", rec.ID, err)
	}

	if err := s.submitClassify(rec.ID); err != nil {
		return nil, fmt.Errorf("queue classification for %s: %w", rec.ID, err)
	}

	// New experiences start with attention proportional to their criticality.
	if evicted := s.buf.Insert(rec.ID, 0.3+0.7*rec.Criticality); evicted != "" {
		log.Printf("memory: buffer evicted %s", evicted)
	}
	return rec, nil
}

// embedWithRetry calls the embedder under a per-call timeout with exponential
// backoff between attempts.
func (s *Subsystem) embedWithRetry(ctx context.Context, content string) ([]float64, error) {
	timeout := time.Duration(s.cfg.Intake.EmbedTimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	op := func() ([]float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return s.embedder.Embed(callCtx, content)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = time.Duration(s.cfg.Retry.InitialBackoffMS) * time.Millisecond
	eb.MaxInterval = time.Duration(s.cfg.Retry.MaxBackoffMS) * time.Millisecond

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(s.cfg.Retry.MaxTries)))
}

func (s *Subsystem) submitClassify(recordID string) error {
	return s.pool.Submit(&worker.Job{
		ID:       worker.NewJobID("classify", recordID),
		Kind:     "classify",
		RecordID: recordID,
		Priority: classifyPriority,
		Run: func(ctx context.Context) error {
			return s.classifyRecord(ctx, recordID)
		},
	})
}

// Reclassify resubmits a record for classification. Used by the nightly
// consolidation pass for promoted buffer items.
func (s *Subsystem) Reclassify(recordID string) {
	if err := s.submitClassify(recordID); err != nil {
		log.Printf("memory: reclassify %s: %v", recordID, err)
	}
}

// classifyRecord extracts signals, routes, logs the decision, and applies it.
// A CAS conflict surfaces as an error so the pool requeues the job; the retry
// re-reads the record and extracts against the new version.
func (s *Subsystem) classifyRecord(ctx context.Context, id string) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	rec, err := s.db.GetRecord(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}

	sv := s.extractor.Extract(rec)
	dec := s.router.Route(sv)
	if err := s.logDecision(rec.ID, dec, nil); err != nil {
		return err
	}
	return s.applyDecision(rec, dec)
}

// logDecision appends the routing-audit row. extra is appended to the rule
// reasoning (the TTL sweep tags its forced routes here).
func (s *Subsystem) logDecision(recordID string, dec router.Decision, extra []string) error {
	signals, err := json.Marshal(dec.Signals)
	if err != nil {
		return fmt.Errorf("encode signals: %w", err)
	}
	reasoning, err := json.Marshal(append(dec.Reasoning, extra...))
	if err != nil {
		return fmt.Errorf("encode reasoning: %w", err)
	}
	return s.db.InsertDecision(&store.Decision{
		RecordID:   recordID,
		TargetTier: dec.TargetTier,
		Confidence: dec.Confidence,
		Signals:    string(signals),
		Reasoning:  string(reasoning),
	})
}

func (s *Subsystem) applyDecision(rec *store.Record, dec router.Decision) error {
	switch dec.TargetTier {
	case router.TargetIntake:
		// Ambiguous: stays in intake for re-evaluation.
		return nil
	case router.TargetDiscard:
		return s.discard(rec)
	default:
		rec.Tier = dec.TargetTier
		if dec.ClusterFlag {
			rec.ClusterFlag = true
		}
		return s.db.UpdateRecordCAS(rec, rec.Version)
	}
}

// discard tombstones a record: content cleared, counters and timestamps kept.
func (s *Subsystem) discard(rec *store.Record) error {
	rec.Tier = store.TierForgotten
	rec.Phase = store.PhaseForgotten
	rec.Content = ""
	if err := s.db.UpdateRecordCAS(rec, rec.Version); err != nil {
		return err
	}
	if err := s.db.DeleteVector(rec.ID); err != nil {
		log.Printf("memory: drop vector for %s: %v", rec.ID, err)
	}
	s.buf.Remove(rec.ID)
	return nil
}

// sweepLoop force-routes intake records older than the TTL. A record no rule
// claims even under forced routing is discarded rather than left to rot.
func (s *Subsystem) sweepLoop(ctx context.Context) {
	defer close(s.sweepDone)

	interval := time.Duration(s.cfg.Intake.SweepSeconds) * time.Second
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.SweepIntake(ctx); err != nil {
				log.Printf("memory: intake sweep: %v", err)
			}
		}
	}
}

// SweepIntake expires intake records past their TTL.
func (s *Subsystem) SweepIntake(ctx context.Context) error {
	cutoff := time.Now().Add(-time.Duration(s.cfg.Intake.TTLSeconds) * time.Second).UnixMilli()
	expired, err := s.db.ListIntakeOlderThan(cutoff)
	if err != nil {
		return err
	}

	for i := range expired {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rec := &expired[i]

		sv := s.extractor.Extract(rec)
		dec := s.router.Route(sv)
		if dec.TargetTier == router.TargetIntake {
			dec.TargetTier = router.TargetDiscard
		}
		if err := s.logDecision(rec.ID, dec, []string{"ttl-expired"}); err != nil {
			return err
		}
		if err := s.applyDecision(rec, dec); err != nil {
			log.Printf("memory: expire %s: %v", rec.ID, err)
		}
	}
	if len(expired) > 0 {
		log.Printf("memory: swept %d expired intake records", len(expired))
	}
	return nil
}

// QueryResult is one similarity hit.
type QueryResult struct {
	Record     store.Record `json:"record"`
	Similarity float64      `json:"similarity"`
}

// Query embeds the query text and returns the topK most similar records from
// the durable tiers and intake. Retrieval counts as use: each hit's record is
// touched, which boosts repetition and slows its decay.
func (s *Subsystem) Query(ctx context.Context, text string, topK int) ([]QueryResult, error) {
	if topK <= 0 {
		topK = 5
	}
	qvec, err := s.embedWithRetry(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	var candidates []store.Record
	for _, tier := range []string{store.TierIntake, store.TierLongTerm, store.TierProcedural, store.TierCritical} {
		records, err := s.db.ListByTier(tier, store.RecordFilter{Limit: 500})
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, records...)
	}

	ids := make([]string, 0, len(candidates))
	for i := range candidates {
		ids = append(ids, candidates[i].ID)
	}
	vectors, err := s.db.VectorsForRecords(ids)
	if err != nil {
		return nil, err
	}

	results := make([]QueryResult, 0, len(candidates))
	for i := range candidates {
		vec, ok := vectors[candidates[i].ID]
		if !ok {
			continue
		}
		results = append(results, QueryResult{
			Record:     candidates[i],
			Similarity: embed.CosineSimilarity(qvec, vec),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > topK {
		results = results[:topK]
	}

	for i := range results {
		if err := s.db.TouchRecord(results[i].Record.ID); err != nil {
			log.Printf("memory: touch %s: %v", results[i].Record.ID, err)
		}
		s.buf.Touch(results[i].Record.ID, 0.1)
	}
	return results, nil
}

// PatternMatch is one pattern hit for a query.
type PatternMatch struct {
	Pattern    store.Pattern `json:"pattern"`
	Similarity float64       `json:"similarity"`
}

// QueryPatterns ranks stored patterns against the query embedding.
func (s *Subsystem) QueryPatterns(ctx context.Context, text string, topK int) ([]PatternMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	qvec, err := s.embedWithRetry(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	patterns, err := s.db.AllPatterns()
	if err != nil {
		return nil, err
	}

	matches := make([]PatternMatch, 0, len(patterns))
	for i := range patterns {
		matches = append(matches, PatternMatch{
			Pattern:    patterns[i],
			Similarity: embed.CosineSimilarity(qvec, patterns[i].Embedding),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

// ResetStrength restores a record's strength on new corroborating evidence
// and refreshes its buffer attention.
func (s *Subsystem) ResetStrength(id, reason string) error {
	if err := s.db.ResetStrength(id, reason); err != nil {
		return err
	}
	s.buf.Touch(id, 0.3)
	return nil
}

// Stats is the health snapshot served by the stats endpoint.
type Stats struct {
	Tiers  map[string]map[string]int `json:"tiers"`
	Pool   worker.Stats              `json:"pool"`
	Buffer int                       `json:"buffer"`
}

// Stats reports tier counts, pool health, and buffer occupancy.
func (s *Subsystem) Stats() (*Stats, error) {
	tiers, err := s.db.TierCounts()
	if err != nil {
		return nil, err
	}
	return &Stats{
		Tiers:  tiers,
		Pool:   s.pool.Snapshot(),
		Buffer: s.buf.Len(),
	}, nil
}

// deadLetter is the pool's sink for jobs that exhausted their attempts.
func (s *Subsystem) deadLetter(job *worker.Job, cause error) {
	reason := "unknown"
	if cause != nil {
		reason = cause.Error()
	}
	if err := s.db.AddDeadLetter(job.Kind, job.RecordID, reason, job.Attempts); err != nil {
		log.Printf("memory: record dead letter for %s: %v", job.ID, err)
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
