package store

import (
	"fmt"
)

type migration struct {
	Version     int
	Description string
	SQL         string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "memory_records: tiered record store",
		SQL: `
CREATE TABLE memory_records (
    id               TEXT PRIMARY KEY,
    tier             TEXT NOT NULL CHECK (tier IN ('intake', 'longterm', 'procedural', 'critical', 'forgotten')),
    phase            TEXT NOT NULL CHECK (phase IN ('full', 'compressed1', 'compressed2', 'essence', 'pattern', 'intuitive', 'forgotten')),
    content          TEXT,

    -- Routing/decay inputs
    criticality      REAL NOT NULL DEFAULT 0,
    strength         REAL NOT NULL DEFAULT 1.0,
    success_score    REAL NOT NULL DEFAULT 0,
    repetition_count INTEGER NOT NULL DEFAULT 0,

    -- Pattern clustering
    cluster_flag     INTEGER NOT NULL DEFAULT 0,

    -- Optimistic concurrency
    version          INTEGER NOT NULL DEFAULT 1,

    last_access      INTEGER,
    created_at       INTEGER NOT NULL,
    updated_at       INTEGER NOT NULL
);

CREATE INDEX idx_records_tier     ON memory_records(tier);
CREATE INDEX idx_records_phase    ON memory_records(phase);
CREATE INDEX idx_records_strength ON memory_records(strength DESC);
CREATE INDEX idx_records_created  ON memory_records(created_at DESC);
`,
	},
	{
		Version:     2,
		Description: "record_vectors: embedding vectors for semantic search",
		SQL: `
CREATE TABLE record_vectors (
    record_id  TEXT PRIMARY KEY,
    embedding  BLOB NOT NULL,
    model      TEXT NOT NULL,
    dimensions INTEGER NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY (record_id) REFERENCES memory_records(id) ON DELETE CASCADE
);
`,
	},
	{
		Version:     3,
		Description: "routing_decisions: immutable classification audit",
		SQL: `
CREATE TABLE routing_decisions (
    id          INTEGER PRIMARY KEY,
    record_id   TEXT NOT NULL,
    target_tier TEXT NOT NULL,
    confidence  REAL NOT NULL,
    signals     TEXT NOT NULL,
    reasoning   TEXT NOT NULL,
    created_at  INTEGER NOT NULL
);

CREATE INDEX idx_decisions_record  ON routing_decisions(record_id);
CREATE INDEX idx_decisions_created ON routing_decisions(created_at DESC);
`,
	},
	{
		Version:     4,
		Description: "patterns: clustered aggregates over longterm records",
		SQL: `
CREATE TABLE patterns (
    pattern_id          TEXT PRIMARY KEY,
    embedding           BLOB NOT NULL,
    dimensions          INTEGER NOT NULL,
    source_record_count INTEGER NOT NULL,
    frequency_score     REAL NOT NULL,
    success_correlation REAL NOT NULL,
    confidence          REAL NOT NULL,
    false_positive_rate REAL NOT NULL DEFAULT 0,
    created_at          INTEGER NOT NULL,
    updated_at          INTEGER NOT NULL
);
`,
	},
	{
		Version:     5,
		Description: "dead_letters: jobs that exhausted their retries",
		SQL: `
CREATE TABLE dead_letters (
    id         INTEGER PRIMARY KEY,
    job_kind   TEXT NOT NULL,
    record_id  TEXT,
    reason     TEXT NOT NULL,
    attempts   INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);

CREATE INDEX idx_deadletters_created ON dead_letters(created_at DESC);
`,
	},
	{
		Version:     6,
		Description: "strength_resets: audit trail for explicit strength resets",
		SQL: `
CREATE TABLE strength_resets (
    id           INTEGER PRIMARY KEY,
    record_id    TEXT NOT NULL,
    old_strength REAL NOT NULL,
    reason       TEXT NOT NULL,
    created_at   INTEGER NOT NULL
);

CREATE INDEX idx_resets_record ON strength_resets(record_id);
`,
	},
}

func (db *DB) migrate() error {
	// Create schema_versions table if it doesn't exist
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_versions (
			version     INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now') * 1000)
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := db.QueryRow("SELECT COUNT(*) FROM schema_versions WHERE version = ?", m.Version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.Version, err)
		}
		if count > 0 {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if _, err := tx.Exec(
			"INSERT INTO schema_versions (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// SchemaVersion returns the current schema version.
func (db *DB) SchemaVersion() (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_versions").Scan(&version)
	return version, err
}
