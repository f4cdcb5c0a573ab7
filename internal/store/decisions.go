package store

import (
	"fmt"
	"time"
)

// Decision is one immutable routing-audit row. The record it describes may be
// re-routed later, but only by a new row; existing rows are never updated.
type Decision struct {
	ID         int64
	RecordID   string
	TargetTier string
	Confidence float64
	Signals    string // JSON-encoded signal vector
	Reasoning  string // JSON array of rule names that fired
	CreatedAt  int64
}

// InsertDecision appends a routing decision to the audit log.
func (db *DB) InsertDecision(d *Decision) error {
	now := time.Now().UnixMilli()
	result, err := db.Exec(`
		INSERT INTO routing_decisions (record_id, target_tier, confidence, signals, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, d.RecordID, d.TargetTier, d.Confidence, d.Signals, d.Reasoning, now)
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	d.ID, _ = result.LastInsertId()
	d.CreatedAt = now
	return nil
}

// ListDecisions returns all decisions for a record, oldest first.
func (db *DB) ListDecisions(recordID string) ([]Decision, error) {
	rows, err := db.Query(`
		SELECT id, record_id, target_tier, confidence, signals, reasoning, created_at
		FROM routing_decisions WHERE record_id = ? ORDER BY created_at ASC, id ASC
	`, recordID)
	if err != nil {
		return nil, fmt.Errorf("list decisions: %w", err)
	}
	defer rows.Close()

	var decisions []Decision
	for rows.Next() {
		var d Decision
		if err := rows.Scan(&d.ID, &d.RecordID, &d.TargetTier, &d.Confidence,
			&d.Signals, &d.Reasoning, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}
