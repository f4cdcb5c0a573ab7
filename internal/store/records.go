package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Tiers a persisted record can live in. The working buffer is process-local
// and never persisted, so it has no tier value here.
const (
	TierIntake     = "intake"
	TierLongTerm   = "longterm"
	TierProcedural = "procedural"
	TierCritical   = "critical"
	TierForgotten  = "forgotten"
)

// Phases along the compression gradient, from full content to forgotten.
const (
	PhaseFull        = "full"
	PhaseCompressed1 = "compressed1"
	PhaseCompressed2 = "compressed2"
	PhaseEssence     = "essence"
	PhasePattern     = "pattern"
	PhaseIntuitive   = "intuitive"
	PhaseForgotten   = "forgotten"
)

// ErrStaleVersion is returned when an optimistic-concurrency write lost the
// race: some other writer advanced the record's version first.
var ErrStaleVersion = errors.New("stale record version")

// Record is the unit flowing through every tier.
type Record struct {
	ID              string
	Tier            string
	Phase           string
	Content         string
	Criticality     float64
	Strength        float64
	SuccessScore    float64
	RepetitionCount int
	ClusterFlag     bool
	Version         int64
	LastAccess      *int64
	CreatedAt       int64
	UpdatedAt       int64
}

// CreateRecord inserts a new record. New records start at version 1,
// strength 1.0, phase full.
func (db *DB) CreateRecord(rec *Record) error {
	now := time.Now().UnixMilli()
	if rec.Tier == "" {
		rec.Tier = TierIntake
	}
	if rec.Phase == "" {
		rec.Phase = PhaseFull
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = now
	}

	clusterFlag := 0
	if rec.ClusterFlag {
		clusterFlag = 1
	}

	_, err := db.Exec(`
		INSERT INTO memory_records (id, tier, phase, content, criticality, strength,
			success_score, repetition_count, cluster_flag, version, last_access, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.Tier, rec.Phase, rec.Content, rec.Criticality, 1.0,
		rec.SuccessScore, rec.RepetitionCount, clusterFlag, 1, rec.LastAccess, rec.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("create record: %w", err)
	}

	rec.Strength = 1.0
	rec.Version = 1
	rec.UpdatedAt = now
	return nil
}

// GetRecord returns a record by ID, or nil if not found.
func (db *DB) GetRecord(id string) (*Record, error) {
	row := db.QueryRow(`
		SELECT id, tier, phase, content, criticality, strength, success_score,
			repetition_count, cluster_flag, version, last_access, created_at, updated_at
		FROM memory_records WHERE id = ?
	`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// UpdateRecordCAS writes a record back under optimistic concurrency control.
// The write succeeds only if the stored version still equals expectedVersion;
// on success the record's version is advanced by one. A lost race returns
// ErrStaleVersion and leaves the stored row untouched.
func (db *DB) UpdateRecordCAS(rec *Record, expectedVersion int64) error {
	now := time.Now().UnixMilli()
	clusterFlag := 0
	if rec.ClusterFlag {
		clusterFlag = 1
	}

	result, err := db.Exec(`
		UPDATE memory_records SET tier = ?, phase = ?, content = ?, criticality = ?,
			strength = ?, success_score = ?, repetition_count = ?, cluster_flag = ?,
			version = version + 1, last_access = ?, updated_at = ?
		WHERE id = ? AND version = ?
	`, rec.Tier, rec.Phase, rec.Content, rec.Criticality,
		rec.Strength, rec.SuccessScore, rec.RepetitionCount, clusterFlag,
		rec.LastAccess, now, rec.ID, expectedVersion)
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update record %s: %w", rec.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update record %s: %w", rec.ID, ErrStaleVersion)
	}

	rec.Version = expectedVersion + 1
	rec.UpdatedAt = now
	return nil
}

// TouchRecord updates last_access and increments repetition_count
// (a retrieval counts as corroborating use; it still goes through the same
// CAS path as every other mutation).
func (db *DB) TouchRecord(id string) error {
	rec, err := db.GetRecord(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("touch record: %s not found", id)
	}
	now := time.Now().UnixMilli()
	rec.LastAccess = &now
	rec.RepetitionCount++
	return db.UpdateRecordCAS(rec, rec.Version)
}

// RecordFilter narrows ListByTier results.
type RecordFilter struct {
	Phase       string  // exact phase, empty = any
	MinStrength float64 // inclusive lower bound
	Limit       int     // default 50
}

func (f RecordFilter) limit() int {
	if f.Limit <= 0 {
		return 50
	}
	return f.Limit
}

// ListByTier returns records in a tier ordered by strength DESC.
func (db *DB) ListByTier(tier string, filter RecordFilter) ([]Record, error) {
	query := `
		SELECT id, tier, phase, content, criticality, strength, success_score,
			repetition_count, cluster_flag, version, last_access, created_at, updated_at
		FROM memory_records WHERE tier = ?`
	args := []any{tier}

	if filter.Phase != "" {
		query += " AND phase = ?"
		args = append(args, filter.Phase)
	}
	if filter.MinStrength > 0 {
		query += " AND strength >= ?"
		args = append(args, filter.MinStrength)
	}
	query += " ORDER BY strength DESC, created_at DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list by tier: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListIntakeOlderThan returns intake records created before the cutoff,
// oldest first. Used by the TTL sweep.
func (db *DB) ListIntakeOlderThan(cutoff int64) ([]Record, error) {
	rows, err := db.Query(`
		SELECT id, tier, phase, content, criticality, strength, success_score,
			repetition_count, cluster_flag, version, last_access, created_at, updated_at
		FROM memory_records WHERE tier = ? AND created_at < ?
		ORDER BY created_at ASC
	`, TierIntake, cutoff)
	if err != nil {
		return nil, fmt.Errorf("list expired intake: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListDecayEligible returns all records the decay engine should visit:
// durable tiers that have not yet been forgotten.
func (db *DB) ListDecayEligible() ([]Record, error) {
	rows, err := db.Query(`
		SELECT id, tier, phase, content, criticality, strength, success_score,
			repetition_count, cluster_flag, version, last_access, created_at, updated_at
		FROM memory_records
		WHERE tier IN (?, ?, ?) AND phase != ?
		ORDER BY updated_at ASC
	`, TierLongTerm, TierProcedural, TierCritical, PhaseForgotten)
	if err != nil {
		return nil, fmt.Errorf("list decay eligible: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ListClusterCandidates returns longterm records flagged for clustering or
// created within the trailing window.
func (db *DB) ListClusterCandidates(since int64) ([]Record, error) {
	rows, err := db.Query(`
		SELECT id, tier, phase, content, criticality, strength, success_score,
			repetition_count, cluster_flag, version, last_access, created_at, updated_at
		FROM memory_records
		WHERE tier = ? AND (cluster_flag = 1 OR created_at >= ?)
	`, TierLongTerm, since)
	if err != nil {
		return nil, fmt.Errorf("list cluster candidates: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// ResetStrength restores a record's strength to 1.0 in response to new
// corroborating evidence. This is the only sanctioned way strength moves
// against the decay gradient, and every use leaves an audit row.
func (db *DB) ResetStrength(id, reason string) error {
	rec, err := db.GetRecord(id)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("reset strength: record %s not found", id)
	}

	now := time.Now().UnixMilli()
	if _, err := db.Exec(`
		INSERT INTO strength_resets (record_id, old_strength, reason, created_at)
		VALUES (?, ?, ?, ?)
	`, id, rec.Strength, reason, now); err != nil {
		return fmt.Errorf("record strength reset: %w", err)
	}

	rec.Strength = 1.0
	rec.LastAccess = &now
	rec.RepetitionCount++
	if err := db.UpdateRecordCAS(rec, rec.Version); err != nil {
		return fmt.Errorf("apply strength reset: %w", err)
	}
	return nil
}

// StrengthReset is one audit row from the strength_resets table.
type StrengthReset struct {
	ID          int64
	RecordID    string
	OldStrength float64
	Reason      string
	CreatedAt   int64
}

// ListStrengthResets returns the reset audit trail for a record.
func (db *DB) ListStrengthResets(recordID string) ([]StrengthReset, error) {
	rows, err := db.Query(`
		SELECT id, record_id, old_strength, reason, created_at
		FROM strength_resets WHERE record_id = ? ORDER BY created_at ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list strength resets: %w", err)
	}
	defer rows.Close()

	var resets []StrengthReset
	for rows.Next() {
		var r StrengthReset
		if err := rows.Scan(&r.ID, &r.RecordID, &r.OldStrength, &r.Reason, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan strength reset: %w", err)
		}
		resets = append(resets, r)
	}
	return resets, rows.Err()
}

// TierCounts returns record counts grouped by tier and phase.
func (db *DB) TierCounts() (map[string]map[string]int, error) {
	rows, err := db.Query(`
		SELECT tier, phase, COUNT(*) FROM memory_records GROUP BY tier, phase
	`)
	if err != nil {
		return nil, fmt.Errorf("tier counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]map[string]int)
	for rows.Next() {
		var tier, phase string
		var n int
		if err := rows.Scan(&tier, &phase, &n); err != nil {
			return nil, fmt.Errorf("scan tier count: %w", err)
		}
		if counts[tier] == nil {
			counts[tier] = make(map[string]int)
		}
		counts[tier][phase] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var content sql.NullString
	var clusterFlag int
	var lastAccess sql.NullInt64
	err := row.Scan(&rec.ID, &rec.Tier, &rec.Phase, &content, &rec.Criticality,
		&rec.Strength, &rec.SuccessScore, &rec.RepetitionCount, &clusterFlag,
		&rec.Version, &lastAccess, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Content = content.String
	rec.ClusterFlag = clusterFlag != 0
	if lastAccess.Valid {
		rec.LastAccess = &lastAccess.Int64
	}
	return &rec, nil
}

func scanRecords(rows *sql.Rows) ([]Record, error) {
	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}
