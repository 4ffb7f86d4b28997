// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package template implements the self-learning extraction templates: a
// persistent per-label store, a layout matcher, a pattern learner, and the
// pattern-dispatch extractor.
package template

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/extraction-engine/internal/layout"
	"github.com/pdiddy/extraction-engine/pkg/types"
)

// Store manages the template SQLite database: one template per label, its
// field patterns, and the extraction history.
type Store struct {
	db *sql.DB
}

// NewStore opens or creates the template database at path, creating the
// schema if it does not exist.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating template directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening template database: %w", err)
	}

	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating template schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS templates (
			label TEXT PRIMARY KEY,
			sample_count INTEGER NOT NULL,
			confidence REAL NOT NULL,
			reference TEXT NOT NULL,
			reference_text TEXT NOT NULL,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS field_patterns (
			label TEXT NOT NULL REFERENCES templates(label) ON DELETE CASCADE,
			field TEXT NOT NULL,
			method TEXT NOT NULL,
			confidence REAL NOT NULL,
			successes INTEGER NOT NULL DEFAULT 0,
			failures INTEGER NOT NULL DEFAULT 0,
			payload TEXT NOT NULL,
			PRIMARY KEY (label, field)
		)`,
		`CREATE TABLE IF NOT EXISTS extraction_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			label TEXT NOT NULL,
			method TEXT NOT NULL,
			field_count INTEGER NOT NULL,
			confidence REAL NOT NULL,
			duration_ms INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_label ON extraction_history(label)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// Get loads the template for label with all its field patterns. The second
// return is false when no template exists.
func (s *Store) Get(ctx context.Context, label string) (*types.Template, bool, error) {
	tpl := &types.Template{Label: label, Patterns: make(map[string]types.FieldPattern)}

	var reference string
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT sample_count, confidence, reference, created_at, updated_at
		 FROM templates WHERE label = ?`, label,
	).Scan(&tpl.SampleCount, &tpl.Confidence, &reference, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("reading template %s: %w", label, err)
	}

	if err := json.Unmarshal([]byte(reference), &tpl.Reference); err != nil {
		return nil, false, fmt.Errorf("decoding reference for %s: %w", label, err)
	}
	tpl.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	tpl.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)

	rows, err := s.db.QueryContext(ctx,
		`SELECT field, method, confidence, successes, failures, payload
		 FROM field_patterns WHERE label = ?`, label,
	)
	if err != nil {
		return nil, false, fmt.Errorf("reading patterns for %s: %w", label, err)
	}
	defer rows.Close()

	for rows.Next() {
		var p types.FieldPattern
		var payload string
		if err := rows.Scan(&p.Field, &p.Method, &p.Confidence, &p.Successes, &p.Failures, &payload); err != nil {
			return nil, false, fmt.Errorf("scanning pattern for %s: %w", label, err)
		}
		if err := json.Unmarshal([]byte(payload), &p.Data); err != nil {
			return nil, false, fmt.Errorf("decoding pattern payload for %s.%s: %w", label, p.Field, err)
		}
		tpl.Patterns[p.Field] = p
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("iterating patterns for %s: %w", label, err)
	}
	return tpl, true, nil
}

// Upsert writes the template and replaces its field patterns in one
// transaction.
func (s *Store) Upsert(ctx context.Context, tpl *types.Template) error {
	reference, err := json.Marshal(tpl.Reference)
	if err != nil {
		return fmt.Errorf("encoding reference for %s: %w", tpl.Label, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning template transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO templates (label, sample_count, confidence, reference, reference_text, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(label) DO UPDATE SET
			sample_count = excluded.sample_count,
			confidence = excluded.confidence,
			reference = excluded.reference,
			reference_text = excluded.reference_text,
			updated_at = excluded.updated_at`,
		tpl.Label, tpl.SampleCount, tpl.Confidence, string(reference),
		layout.ReferenceText(tpl.Reference),
		tpl.CreatedAt.UTC().Format(time.RFC3339), tpl.UpdatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("writing template %s: %w", tpl.Label, err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM field_patterns WHERE label = ?`, tpl.Label); err != nil {
		return fmt.Errorf("clearing patterns for %s: %w", tpl.Label, err)
	}
	for field, p := range tpl.Patterns {
		payload, err := json.Marshal(p.Data)
		if err != nil {
			return fmt.Errorf("encoding pattern payload for %s.%s: %w", tpl.Label, field, err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO field_patterns (label, field, method, confidence, successes, failures, payload)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			tpl.Label, field, string(p.Method), p.Confidence, p.Successes, p.Failures, string(payload),
		)
		if err != nil {
			return fmt.Errorf("writing pattern %s.%s: %w", tpl.Label, field, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing template %s: %w", tpl.Label, err)
	}
	return nil
}

// Delete removes the template for label and, via the cascade, its patterns.
func (s *Store) Delete(ctx context.Context, label string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM templates WHERE label = ?`, label); err != nil {
		return fmt.Errorf("deleting template %s: %w", label, err)
	}
	return nil
}

// Summary is one row of List: a template's headline numbers.
type Summary struct {
	Label       string    `json:"label"`
	SampleCount int       `json:"sample_count"`
	Confidence  float64   `json:"confidence"`
	FieldCount  int       `json:"field_count"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// List returns a summary per stored template, ordered by label.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT t.label, t.sample_count, t.confidence, t.updated_at,
			(SELECT COUNT(*) FROM field_patterns p WHERE p.label = t.label)
		 FROM templates t ORDER BY t.label`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing templates: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	for rows.Next() {
		var sm Summary
		var updatedAt string
		if err := rows.Scan(&sm.Label, &sm.SampleCount, &sm.Confidence, &updatedAt, &sm.FieldCount); err != nil {
			return nil, fmt.Errorf("scanning template summary: %w", err)
		}
		sm.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		summaries = append(summaries, sm)
	}
	return summaries, rows.Err()
}

// Count returns the number of stored templates.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM templates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting templates: %w", err)
	}
	return n, nil
}

// RecordOutcome bumps a pattern's success or failure counter after the
// extractor has been scored against a known result.
func (s *Store) RecordOutcome(ctx context.Context, label, field string, ok bool) error {
	column := "failures"
	if ok {
		column = "successes"
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE field_patterns SET `+column+` = `+column+` + 1 WHERE label = ? AND field = ?`,
		label, field,
	)
	if err != nil {
		return fmt.Errorf("recording outcome for %s.%s: %w", label, field, err)
	}
	return nil
}

// RecordHistory appends one extraction to the history log.
func (s *Store) RecordHistory(ctx context.Context, label string, method types.ExtractionMethod, fieldCount int, confidence float64, duration time.Duration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO extraction_history (label, method, field_count, confidence, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		label, string(method), fieldCount, confidence, duration.Milliseconds(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", label, err)
	}
	return nil
}

// LabelStats aggregates a label's template maturity and extraction history.
type LabelStats struct {
	Label         string         `json:"label"`
	SampleCount   int            `json:"sample_count"`
	Confidence    float64        `json:"confidence"`
	Extractions   int            `json:"extractions"`
	AvgDurationMS float64        `json:"avg_duration_ms"`
	ByMethod      map[string]int `json:"by_method"`
	FieldPatterns []FieldStat    `json:"field_patterns"`
}

// FieldStat is one pattern's exercised record.
type FieldStat struct {
	Field       string  `json:"field"`
	Method      string  `json:"method"`
	Confidence  float64 `json:"confidence"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
}

// Stats aggregates history and pattern health for one label.
func (s *Store) Stats(ctx context.Context, label string) (LabelStats, error) {
	stats := LabelStats{Label: label, ByMethod: make(map[string]int)}

	err := s.db.QueryRowContext(ctx,
		`SELECT sample_count, confidence FROM templates WHERE label = ?`, label,
	).Scan(&stats.SampleCount, &stats.Confidence)
	if err != nil && err != sql.ErrNoRows {
		return stats, fmt.Errorf("reading template stats for %s: %w", label, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT method, COUNT(*), AVG(duration_ms) FROM extraction_history
		 WHERE label = ? GROUP BY method`, label,
	)
	if err != nil {
		return stats, fmt.Errorf("reading history stats for %s: %w", label, err)
	}
	defer rows.Close()

	var totalDuration float64
	for rows.Next() {
		var method string
		var count int
		var avgDuration sql.NullFloat64
		if err := rows.Scan(&method, &count, &avgDuration); err != nil {
			return stats, fmt.Errorf("scanning history stats: %w", err)
		}
		stats.ByMethod[method] = count
		stats.Extractions += count
		totalDuration += avgDuration.Float64 * float64(count)
	}
	if err := rows.Err(); err != nil {
		return stats, err
	}
	if stats.Extractions > 0 {
		stats.AvgDurationMS = totalDuration / float64(stats.Extractions)
	}

	patternRows, err := s.db.QueryContext(ctx,
		`SELECT field, method, confidence, successes, failures
		 FROM field_patterns WHERE label = ? ORDER BY field`, label,
	)
	if err != nil {
		return stats, fmt.Errorf("reading pattern stats for %s: %w", label, err)
	}
	defer patternRows.Close()

	for patternRows.Next() {
		var fs FieldStat
		if err := patternRows.Scan(&fs.Field, &fs.Method, &fs.Confidence, &fs.Successes, &fs.Failures); err != nil {
			return stats, fmt.Errorf("scanning pattern stats: %w", err)
		}
		if total := fs.Successes + fs.Failures; total > 0 {
			fs.SuccessRate = float64(fs.Successes) / float64(total)
		}
		stats.FieldPatterns = append(stats.FieldPatterns, fs)
	}
	return stats, patternRows.Err()
}

// ExportYAML writes the full template for label to w.
func (s *Store) ExportYAML(ctx context.Context, label string, w io.Writer) error {
	tpl, ok, err := s.Get(ctx, label)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("no template for label %s", label)
	}
	data, err := yaml.Marshal(tpl)
	if err != nil {
		return fmt.Errorf("marshaling template %s: %w", label, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("writing template export: %w", err)
	}
	return nil
}
