package database

import (
	"database/sql"
	"fmt"
	"time"
)

// Fixed-width UTC timestamps so that text comparison orders them.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// RecordPass stores a pass and its per-source outcomes.
func (db *DB) RecordPass(p Pass) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	forced := 0
	if p.Forced {
		forced = 1
	}
	_, err = tx.Exec(
		`INSERT INTO passes (id, cache_key, region, started_at, finished_at, article_count, forced)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.CacheKey, p.Region,
		p.StartedAt.UTC().Format(timeLayout), p.FinishedAt.UTC().Format(timeLayout),
		p.ArticleCount, forced,
	)
	if err != nil {
		return fmt.Errorf("inserting pass: %w", err)
	}

	for _, s := range p.Sources {
		var errText *string
		if s.Error != "" {
			errText = &s.Error
		}
		_, err := tx.Exec(
			`INSERT INTO pass_sources (pass_id, source_key, source_name, status, count, error)
			VALUES (?, ?, ?, ?, ?, ?)`,
			p.ID, s.SourceKey, s.Name, s.Status, s.Count, errText,
		)
		if err != nil {
			return fmt.Errorf("inserting pass source %s: %w", s.SourceKey, err)
		}
	}
	return tx.Commit()
}

// GetRecentPasses returns up to limit passes, newest first, with their
// source outcomes.
func (db *DB) GetRecentPasses(limit int) ([]Pass, error) {
	rows, err := db.conn.Query(
		`SELECT id, cache_key, region, started_at, finished_at, article_count, forced
		FROM passes ORDER BY started_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var passes []Pass
	for rows.Next() {
		var p Pass
		var started, finished string
		var forced int
		if err := rows.Scan(&p.ID, &p.CacheKey, &p.Region, &started, &finished, &p.ArticleCount, &forced); err != nil {
			return nil, err
		}
		p.StartedAt, _ = time.Parse(timeLayout, started)
		p.FinishedAt, _ = time.Parse(timeLayout, finished)
		p.Forced = forced == 1
		passes = append(passes, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range passes {
		sources, err := db.getPassSources(passes[i].ID)
		if err != nil {
			return nil, err
		}
		passes[i].Sources = sources
	}
	return passes, nil
}

func (db *DB) getPassSources(passID string) ([]PassSource, error) {
	rows, err := db.conn.Query(
		`SELECT source_key, COALESCE(source_name, ''), status, count, COALESCE(error, '')
		FROM pass_sources WHERE pass_id = ? ORDER BY rowid`, passID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PassSource
	for rows.Next() {
		var s PassSource
		if err := rows.Scan(&s.SourceKey, &s.Name, &s.Status, &s.Count, &s.Error); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetSourceHealth aggregates outcomes per source over passes started at
// or after since.
func (db *DB) GetSourceHealth(since time.Time) ([]SourceHealth, error) {
	rows, err := db.conn.Query(
		`SELECT ps.source_key, COALESCE(ps.source_name, ''), ps.status, ps.count,
			COALESCE(ps.error, ''), p.started_at
		FROM pass_sources ps JOIN passes p ON p.id = ps.pass_id
		WHERE p.started_at >= ?
		ORDER BY ps.source_key, p.started_at`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SourceHealth
	index := make(map[string]int)
	for rows.Next() {
		var key, name, status, errText, started string
		var count int
		if err := rows.Scan(&key, &name, &status, &count, &errText, &started); err != nil {
			return nil, err
		}
		i, ok := index[key]
		if !ok {
			i = len(out)
			index[key] = i
			out = append(out, SourceHealth{SourceKey: key})
		}
		h := &out[i]
		h.Passes++
		h.Articles += count
		if status != "ok" {
			h.Failures++
		}
		// Rows arrive oldest first, so the last one wins.
		h.Name = name
		h.LastStatus = status
		h.LastError = errText
		h.LastSeen, _ = time.Parse(timeLayout, started)
	}
	return out, rows.Err()
}

// PrunePasses deletes passes started before cutoff and returns how many
// were removed.
func (db *DB) PrunePasses(cutoff time.Time) (int64, error) {
	res, err := db.conn.Exec(
		"DELETE FROM passes WHERE started_at < ?", cutoff.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountPasses returns the number of recorded passes.
func (db *DB) CountPasses() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM passes").Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return n, err
}
