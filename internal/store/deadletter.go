package store

import (
	"fmt"
	"time"
)

// DeadLetter is a job that exhausted its retries. Kept for offline
// inspection; never retried automatically.
type DeadLetter struct {
	ID        int64
	JobKind   string
	RecordID  string
	Reason    string
	Attempts  int
	CreatedAt int64
}

// AddDeadLetter records a permanently failed job.
func (db *DB) AddDeadLetter(jobKind, recordID, reason string, attempts int) error {
	_, err := db.Exec(`
		INSERT INTO dead_letters (job_kind, record_id, reason, attempts, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, jobKind, recordID, reason, attempts, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("add dead letter: %w", err)
	}
	return nil
}

// ListDeadLetters returns the most recent dead letters, newest first.
func (db *DB) ListDeadLetters(limit int) ([]DeadLetter, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Query(`
		SELECT id, job_kind, COALESCE(record_id, ''), reason, attempts, created_at
		FROM dead_letters ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list dead letters: %w", err)
	}
	defer rows.Close()

	var letters []DeadLetter
	for rows.Next() {
		var d DeadLetter
		if err := rows.Scan(&d.ID, &d.JobKind, &d.RecordID, &d.Reason, &d.Attempts, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		letters = append(letters, d)
	}
	return letters, rows.Err()
}
