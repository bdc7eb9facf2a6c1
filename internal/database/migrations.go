package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "pass history",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS passes (
    id TEXT PRIMARY KEY,
    cache_key TEXT NOT NULL,
    region TEXT DEFAULT '',
    started_at TEXT NOT NULL,
    finished_at TEXT NOT NULL,
    article_count INTEGER DEFAULT 0,
    forced INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS pass_sources (
    pass_id TEXT NOT NULL REFERENCES passes(id) ON DELETE CASCADE,
    source_key TEXT NOT NULL,
    source_name TEXT,
    status TEXT NOT NULL,
    count INTEGER DEFAULT 0,
    error TEXT,
    PRIMARY KEY (pass_id, source_key)
);

CREATE INDEX IF NOT EXISTS idx_passes_started ON passes(started_at);
CREATE INDEX IF NOT EXISTS idx_pass_sources_key ON pass_sources(source_key);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
