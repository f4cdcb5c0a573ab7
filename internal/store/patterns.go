package store

import (
	"database/sql"
	"fmt"
	"time"
)

// Pattern is a derived aggregate over a cluster of longterm records. Patterns
// are created and updated only by the consolidation pass, never by routing.
type Pattern struct {
	PatternID          string
	Embedding          []float64 // cluster centroid
	SourceRecordCount  int
	FrequencyScore     float64
	SuccessCorrelation float64
	Confidence         float64
	FalsePositiveRate  float64
	CreatedAt          int64
	UpdatedAt          int64
}

// UpsertPattern creates or replaces a pattern row.
func (db *DB) UpsertPattern(p *Pattern) error {
	now := time.Now().UnixMilli()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	blob := encodeEmbedding(p.Embedding)

	_, err := db.Exec(`
		INSERT INTO patterns (pattern_id, embedding, dimensions, source_record_count,
			frequency_score, success_correlation, confidence, false_positive_rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(pattern_id) DO UPDATE SET embedding = ?, dimensions = ?,
			source_record_count = ?, frequency_score = ?, success_correlation = ?,
			confidence = ?, false_positive_rate = ?, updated_at = ?
	`, p.PatternID, blob, len(p.Embedding), p.SourceRecordCount,
		p.FrequencyScore, p.SuccessCorrelation, p.Confidence, p.FalsePositiveRate, p.CreatedAt, now,
		blob, len(p.Embedding), p.SourceRecordCount, p.FrequencyScore,
		p.SuccessCorrelation, p.Confidence, p.FalsePositiveRate, now)
	if err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}
	p.UpdatedAt = now
	return nil
}

// GetPattern returns a pattern by ID, or nil if not found.
func (db *DB) GetPattern(patternID string) (*Pattern, error) {
	row := db.QueryRow(`
		SELECT pattern_id, embedding, source_record_count, frequency_score,
			success_correlation, confidence, false_positive_rate, created_at, updated_at
		FROM patterns WHERE pattern_id = ?
	`, patternID)

	p, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get pattern: %w", err)
	}
	return p, nil
}

// AllPatterns returns every stored pattern.
func (db *DB) AllPatterns() ([]Pattern, error) {
	rows, err := db.Query(`
		SELECT pattern_id, embedding, source_record_count, frequency_score,
			success_correlation, confidence, false_positive_rate, created_at, updated_at
		FROM patterns
	`)
	if err != nil {
		return nil, fmt.Errorf("all patterns: %w", err)
	}
	defer rows.Close()

	var patterns []Pattern
	for rows.Next() {
		p, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pattern: %w", err)
		}
		patterns = append(patterns, *p)
	}
	return patterns, rows.Err()
}

func scanPattern(row rowScanner) (*Pattern, error) {
	var p Pattern
	var blob []byte
	err := row.Scan(&p.PatternID, &blob, &p.SourceRecordCount, &p.FrequencyScore,
		&p.SuccessCorrelation, &p.Confidence, &p.FalsePositiveRate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Embedding = decodeEmbedding(blob)
	return &p, nil
}
