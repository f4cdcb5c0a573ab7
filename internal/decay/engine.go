// Package decay implements the forgetting curve: periodic strength
// recomputation, phase transitions along the compression gradient, and
// content compression through the summarizer. Strength is a pure function of
// elapsed time and record counters, so running a cycle twice in a row is a
// no-op by construction.
package decay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/llm"
	"github.com/lazypower/stratum/internal/store"
	"github.com/lazypower/stratum/internal/worker"
)

// decay jobs run below HighPriority: they are periodic housekeeping, and a
// dropped job just means the record is visited on the next cycle.
const jobPriority = 3

// Engine drives the hourly decay cycle.
type Engine struct {
	db         *store.DB
	pool       *worker.Pool
	summarizer llm.Summarizer
	cfg        config.DecayConfig
	cron       *cron.Cron
}

// NewEngine wires a decay engine. The summarizer may be nil, in which case
// phase transitions fall back to hard truncation.
func NewEngine(db *store.DB, pool *worker.Pool, summarizer llm.Summarizer, cfg config.DecayConfig) *Engine {
	return &Engine{
		db:         db,
		pool:       pool,
		summarizer: summarizer,
		cfg:        cfg,
	}
}

// Start schedules decay cycles on the configured cron expression.
func (e *Engine) Start() error {
	e.cron = cron.New()
	_, err := e.cron.AddFunc(e.cfg.Schedule, func() {
		if _, err := e.RunCycle(context.Background()); err != nil {
			log.Printf("decay: cycle failed: %v", err)
		}
	})
	if err != nil {
		return fmt.Errorf("schedule decay: %w", err)
	}
	e.cron.Start()
	return nil
}

// Stop halts the schedule and waits for a running trigger to return.
func (e *Engine) Stop() {
	if e.cron != nil {
		<-e.cron.Stop().Done()
	}
}

// ComputeStrength evaluates the forgetting curve for a record at a point in
// time. Criticality slows the clock: a record at criticality 1.0 experiences
// only (1 - drag) of the elapsed time. Success, recency of access, and
// repetition each add a multiplicative boost. The result is clamped to [0,1].
func ComputeStrength(rec *store.Record, now time.Time, cfg config.DecayConfig) float64 {
	ref := rec.CreatedAt
	if rec.LastAccess != nil && *rec.LastAccess > ref {
		ref = *rec.LastAccess
	}
	elapsed := now.Sub(time.UnixMilli(ref))
	if elapsed < 0 {
		elapsed = 0
	}

	drag := 1 - cfg.CriticalityDrag*clamp01(rec.Criticality)
	if drag < 0 {
		drag = 0
	}
	halfLife := cfg.HalfLifeDays
	if halfLife <= 0 {
		halfLife = 30
	}
	days := elapsed.Hours() / 24
	base := math.Pow(0.5, days*drag/halfLife)

	boost := cfg.SuccessBoost * clamp01(rec.SuccessScore)
	if rec.LastAccess != nil && cfg.RecencyHours > 0 {
		age := now.Sub(time.UnixMilli(*rec.LastAccess))
		if age >= 0 && age.Hours() <= cfg.RecencyHours {
			boost += cfg.RecencyBoost
		}
	}
	rep := float64(rec.RepetitionCount) / 10
	if rep > 1 {
		rep = 1
	}
	boost += cfg.RepetitionBoost * rep

	return clamp01(base * (1 + boost))
}

// RunCycle submits one decay job per eligible record, stopping when the
// wall-clock budget for the cycle runs out. Returns the number of jobs
// submitted. Dropped jobs are not an error; the record is simply visited on
// the next cycle.
func (e *Engine) RunCycle(ctx context.Context) (int, error) {
	records, err := e.db.ListDecayEligible()
	if err != nil {
		return 0, fmt.Errorf("decay cycle: %w", err)
	}

	var deadline time.Time
	if e.cfg.CycleBudgetMS > 0 {
		deadline = time.Now().Add(time.Duration(e.cfg.CycleBudgetMS) * time.Millisecond)
	}

	submitted := 0
	for i := range records {
		if ctx.Err() != nil {
			return submitted, ctx.Err()
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			log.Printf("decay: cycle budget exhausted after %d of %d records", submitted, len(records))
			break
		}

		id := records[i].ID
		job := &worker.Job{
			ID:       worker.NewJobID("decay", id),
			Kind:     "decay",
			RecordID: id,
			Priority: jobPriority,
			Run: func(ctx context.Context) error {
				return e.DecayRecord(ctx, id)
			},
		}
		if err := e.pool.Submit(job); err != nil {
			if errors.Is(err, worker.ErrJobDropped) {
				continue
			}
			return submitted, fmt.Errorf("submit decay job: %w", err)
		}
		submitted++
	}

	log.Printf("decay: cycle submitted %d jobs (%d eligible)", submitted, len(records))
	return submitted, nil
}

// DecayRecord recomputes one record's strength and applies any phase
// transition. Strength and compressed content land in a single CAS write, so
// a record is never observed in a new phase with old content. A failed
// compression leaves the record in its current phase; the next cycle retries
// because strength depends only on elapsed time.
func (e *Engine) DecayRecord(ctx context.Context, id string) error {
	rec, err := e.db.GetRecord(id)
	if err != nil {
		return err
	}
	if rec == nil || rec.Phase == store.PhaseForgotten {
		return nil
	}

	strength := ComputeStrength(rec, time.Now(), e.cfg)
	target := PhaseForStrength(strength, e.cfg.PhaseThresholds)

	// Phases only move forward. A strength reset restores strength without
	// reconstructing content, so the stored phase can be further along than
	// the fresh strength implies.
	if phaseRank(target) <= phaseRank(rec.Phase) {
		if math.Abs(strength-rec.Strength) < 1e-9 {
			return nil
		}
		rec.Strength = strength
		return e.db.UpdateRecordCAS(rec, rec.Version)
	}

	if target == store.PhaseForgotten {
		return e.forget(rec, strength)
	}

	budget := PhaseBudget(target, e.cfg.PhaseBudgets)
	compressed, err := e.compress(ctx, rec.Content, budget, target)
	if err != nil {
		return fmt.Errorf("compress %s to %s: %w", rec.ID, target, err)
	}

	log.Printf("decay: record %s %s -> %s (strength %.3f)", rec.ID, rec.Phase, target, strength)
	rec.Strength = strength
	rec.Phase = target
	rec.Content = compressed
	return e.db.UpdateRecordCAS(rec, rec.Version)
}

func (e *Engine) compress(ctx context.Context, content string, budget int, phase string) (string, error) {
	if e.summarizer == nil {
		return llm.TruncateToBudget(content, budget), nil
	}
	return e.summarizer.Summarize(ctx, content, budget, compressionHint(phase))
}

// forget clears content but keeps the row: tier, counters, and timestamps
// survive so the audit trail and statistics stay intact.
func (e *Engine) forget(rec *store.Record, strength float64) error {
	log.Printf("decay: record %s forgotten (strength %.4f)", rec.ID, strength)
	rec.Strength = strength
	rec.Phase = store.PhaseForgotten
	rec.Tier = store.TierForgotten
	rec.Content = ""
	if err := e.db.UpdateRecordCAS(rec, rec.Version); err != nil {
		return err
	}
	if err := e.db.DeleteVector(rec.ID); err != nil {
		log.Printf("decay: drop vector for %s: %v", rec.ID, err)
	}
	return nil
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
