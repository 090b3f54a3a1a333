// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package solution persists batch results to a SQLite database so
// scored batches can be inspected and compared after the run.
// Implements: prd009-persistence; docs/ARCHITECTURE § Result Store.
package solution

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/spectrum-engine/pkg/types"
)

// Store manages the result SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the result database at path, creating the
// schema if it does not exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS batches (
			batch_id TEXT PRIMARY KEY,
			created_at TEXT NOT NULL,
			matches INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS matches (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			batch_id TEXT NOT NULL REFERENCES batches(batch_id),
			scan_id TEXT NOT NULL,
			hit_id INTEGER NOT NULL,
			hit_name TEXT,
			score REAL NOT NULL,
			modification TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_matches_batch_scan ON matches(batch_id, scan_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// StoredMatch is one persisted match row.
type StoredMatch struct {
	ScanID       string  `json:"scan_id"`
	HitID        int64   `json:"hit_id"`
	HitName      string  `json:"hit_name,omitempty"`
	Score        float64 `json:"score"`
	Modification string  `json:"modification"`
}

// Write persists every match in set under batchID in one transaction.
// Re-writing an existing batch id replaces its rows.
func (s *Store) Write(ctx context.Context, batchID string, set types.SolutionSet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM matches WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("clearing previous batch rows: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO batches (batch_id, created_at, matches) VALUES (?, ?, ?)`,
		batchID, time.Now().UTC().Format(time.RFC3339), set.TotalMatches()); err != nil {
		return fmt.Errorf("recording batch: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO matches (batch_id, scan_id, hit_id, hit_name, score, modification)
		 VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for scanID, matches := range set {
		for _, m := range matches {
			if _, err := stmt.ExecContext(ctx, batchID, scanID,
				m.Target.ID(), hitName(m.Target), m.Score, m.Modification.Name); err != nil {
				return fmt.Errorf("inserting match for scan %q: %w", scanID, err)
			}
		}
	}
	return tx.Commit()
}

// Matches returns the persisted matches for one scan in a batch,
// best score first.
func (s *Store) Matches(ctx context.Context, batchID, scanID string) ([]StoredMatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT scan_id, hit_id, hit_name, score, modification
		 FROM matches WHERE batch_id = ? AND scan_id = ?
		 ORDER BY score DESC, hit_id ASC`, batchID, scanID)
	if err != nil {
		return nil, fmt.Errorf("querying matches: %w", err)
	}
	defer rows.Close()

	var out []StoredMatch
	for rows.Next() {
		var m StoredMatch
		if err := rows.Scan(&m.ScanID, &m.HitID, &m.HitName, &m.Score, &m.Modification); err != nil {
			return nil, fmt.Errorf("scanning match row: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func hitName(target types.Structure) string {
	if c, ok := target.(*types.Candidate); ok {
		return c.Name
	}
	return ""
}
