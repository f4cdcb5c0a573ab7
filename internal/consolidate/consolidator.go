// Package consolidate implements the scheduled maintenance passes: the
// nightly buffer sweep that promotes high-attention items back through
// classification, and the weekly clustering pass that distills flagged
// longterm records into patterns. Clustering reads records and writes
// patterns; it never rewrites the records themselves.
package consolidate

import (
	"context"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"gonum.org/v1/gonum/stat"

	"github.com/lazypower/stratum/internal/buffer"
	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/embed"
	"github.com/lazypower/stratum/internal/store"
)

// ReclassifyFunc resubmits a record for classification. The consolidator does
// not talk to the worker pool directly; the subsystem facade owns that wiring.
type ReclassifyFunc func(recordID string)

// Consolidator runs the nightly and weekly passes.
type Consolidator struct {
	db         *store.DB
	buf        *buffer.Buffer
	cfg        config.ConsolidateConfig
	promoteMin float64
	reclassify ReclassifyFunc
	cron       *cron.Cron
}

// New wires a consolidator. promoteMin is the attention weight a buffer item
// needs to be promoted by the nightly pass.
func New(db *store.DB, buf *buffer.Buffer, cfg config.ConsolidateConfig, promoteMin float64, reclassify ReclassifyFunc) *Consolidator {
	return &Consolidator{
		db:         db,
		buf:        buf,
		cfg:        cfg,
		promoteMin: promoteMin,
		reclassify: reclassify,
	}
}

// Start registers both passes on their cron schedules.
func (c *Consolidator) Start() error {
	c.cron = cron.New()
	if _, err := c.cron.AddFunc(c.cfg.NightlySchedule, func() {
		if _, _, err := c.RunNightly(context.Background()); err != nil {
			log.Printf("consolidate: nightly pass failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule nightly consolidation: %w", err)
	}
	if _, err := c.cron.AddFunc(c.cfg.WeeklySchedule, func() {
		if _, err := c.RunWeekly(context.Background()); err != nil {
			log.Printf("consolidate: weekly pass failed: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("schedule weekly consolidation: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the schedules and waits for a running pass to return.
func (c *Consolidator) Stop() {
	if c.cron != nil {
		<-c.cron.Stop().Done()
	}
}

// RunNightly drains high-attention buffer items back into classification and
// clears stale low-attention items. Promoted records get a touch first, so
// the renewed attention also counts against decay.
func (c *Consolidator) RunNightly(ctx context.Context) (promoted, cleared int, err error) {
	drained := c.buf.DrainAbove(c.promoteMin)
	for _, item := range drained {
		if ctx.Err() != nil {
			return promoted, cleared, ctx.Err()
		}
		if err := c.db.TouchRecord(item.RecordID); err != nil {
			log.Printf("consolidate: touch %s: %v", item.RecordID, err)
			continue
		}
		if c.reclassify != nil {
			c.reclassify(item.RecordID)
		}
		promoted++
	}

	cutoff := time.Now().Add(-24 * time.Hour)
	cleared = c.buf.ClearOlderThan(cutoff, c.promoteMin)

	log.Printf("consolidate: nightly pass promoted %d, cleared %d", promoted, cleared)
	return promoted, cleared, nil
}

// RunWeekly clusters flagged and recent longterm records and upserts one
// pattern per cluster. A cluster whose centroid matches a stored pattern
// updates that pattern in place; otherwise a new pattern is created.
// Returns the number of patterns written.
func (c *Consolidator) RunWeekly(ctx context.Context) (int, error) {
	since := time.Now().AddDate(0, 0, -c.cfg.ClusterWindowDays).UnixMilli()
	candidates, err := c.db.ListClusterCandidates(since)
	if err != nil {
		return 0, fmt.Errorf("weekly consolidation: %w", err)
	}
	if len(candidates) < c.cfg.MinClusterSize {
		return 0, nil
	}

	byID := make(map[string]*store.Record, len(candidates))
	ids := make([]string, 0, len(candidates))
	for i := range candidates {
		byID[candidates[i].ID] = &candidates[i]
		ids = append(ids, candidates[i].ID)
	}

	// Records without a stored vector cannot cluster; skip them quietly.
	vectors, err := c.db.VectorsForRecords(ids)
	if err != nil {
		return 0, fmt.Errorf("weekly consolidation: %w", err)
	}

	clusters := GreedyClusters(vectors, c.cfg.SimilarityThreshold, c.cfg.MinClusterSize)

	existing, err := c.db.AllPatterns()
	if err != nil {
		return 0, fmt.Errorf("weekly consolidation: %w", err)
	}

	written := 0
	for _, cluster := range clusters {
		if ctx.Err() != nil {
			return written, ctx.Err()
		}
		p := c.patternFor(cluster, vectors, byID, existing)
		if err := c.db.UpsertPattern(p); err != nil {
			return written, err
		}
		written++
	}

	log.Printf("consolidate: weekly pass wrote %d patterns from %d candidates", written, len(candidates))
	return written, nil
}

// patternFor builds the pattern row for a cluster, reusing an existing
// pattern's identity when the centroid matches one closely enough.
func (c *Consolidator) patternFor(cluster Cluster, vectors map[string][]float64, byID map[string]*store.Record, existing []store.Pattern) *store.Pattern {
	p := &store.Pattern{
		PatternID:         uuid.New().String(),
		Embedding:         cluster.Centroid,
		SourceRecordCount: len(cluster.RecordIDs),
		FrequencyScore:    frequencyScore(len(cluster.RecordIDs)),
		Confidence:        cohesion(vectors, cluster),
	}

	for i := range existing {
		if embed.CosineSimilarity(cluster.Centroid, existing[i].Embedding) >= c.cfg.PatternMatchMin {
			p.PatternID = existing[i].PatternID
			p.CreatedAt = existing[i].CreatedAt
			p.FalsePositiveRate = existing[i].FalsePositiveRate
			break
		}
	}

	// Does repeated use of the member records track their success? Positive
	// correlation is evidence the pattern captures something that works.
	successes := make([]float64, 0, len(cluster.RecordIDs))
	repetitions := make([]float64, 0, len(cluster.RecordIDs))
	for _, id := range cluster.RecordIDs {
		if rec, ok := byID[id]; ok {
			successes = append(successes, rec.SuccessScore)
			repetitions = append(repetitions, float64(rec.RepetitionCount))
		}
	}
	if corr := stat.Correlation(successes, repetitions, nil); !math.IsNaN(corr) {
		p.SuccessCorrelation = corr
	}

	return p
}

// frequencyScore saturates at 10 source records.
func frequencyScore(size int) float64 {
	score := float64(size) / 10
	if score > 1 {
		return 1
	}
	return score
}
