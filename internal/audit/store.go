// Package audit persists permission decisions to a local SQLite
// database. Commands are credential-redacted before they touch disk;
// records are immutable once written and leave only through retention
// cleanup.
package audit

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Record is one audited permission decision.
type Record struct {
	ID             int64     `json:"id"`
	Command        string    `json:"command"`
	Classification string    `json:"classification"`
	Decision       string    `json:"decision"`
	Reasoning      string    `json:"reasoning,omitempty"`
	Confidence     float64   `json:"confidence"`
	ResponseTimeMs int64     `json:"response_time_ms"`
	Timestamp      time.Time `json:"timestamp"`
}

// Stats aggregates the decision history.
type Stats struct {
	ReadCount     int64 `json:"read_count"`
	CreateCount   int64 `json:"create_count"`
	UpdateCount   int64 `json:"update_count"`
	DeleteCount   int64 `json:"delete_count"`
	TotalRequests int64 `json:"total_requests"`
	ApprovedCount int64 `json:"approved_count"`
	DeniedCount   int64 `json:"denied_count"`
	PendingCount  int64 `json:"pending_count"`
	SkippedCount  int64 `json:"skipped_count"`
}

type Store struct {
	db   *sql.DB
	path string
	mu   sync.Mutex
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	s := &Store{db: db, path: dbPath}
	if err := s.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}

	// The audit log holds command history; keep it owner-only.
	if _, err := os.Stat(dbPath); err == nil {
		if err := os.Chmod(dbPath, 0600); err != nil {
			log.Printf("[audit] cannot restrict db permissions: %v", err)
		}
	}
	return s, nil
}

func (s *Store) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decisions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			command TEXT NOT NULL,
			classification TEXT NOT NULL CHECK(classification IN ('READ', 'CREATE', 'UPDATE', 'DELETE')),
			timestamp DATETIME DEFAULT CURRENT_TIMESTAMP,
			user_decision TEXT NOT NULL CHECK(user_decision IN ('APPROVED', 'PENDING_USER', 'DENIED', 'SKIPPED')),
			reasoning TEXT,
			confidence_score REAL CHECK(confidence_score BETWEEN 0.0 AND 1.0),
			response_time_ms INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_timestamp ON decisions(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_classification ON decisions(classification)`,
		`CREATE INDEX IF NOT EXISTS idx_decisions_user_decision ON decisions(user_decision)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string { return s.path }

// Insert stores a decision, redacting credentials from the command
// first. The record's ID is filled in on success; a zero timestamp
// becomes the current time.
func (s *Store) Insert(rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	command := Redact(rec.Command)
	if command != rec.Command {
		log.Printf("[audit] credentials redacted from command before storage")
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	res, err := s.db.Exec(`
		INSERT INTO decisions (command, classification, timestamp, user_decision, reasoning, confidence_score, response_time_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, command, rec.Classification, ts.UTC().Format(time.RFC3339), rec.Decision, rec.Reasoning, rec.Confidence, rec.ResponseTimeMs)
	if err != nil {
		return fmt.Errorf("store decision: %w", err)
	}

	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	rec.Command = command
	rec.Timestamp = ts
	return nil
}

// Recent returns decisions newest-first.
func (s *Store) Recent(limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.db.Query(`
		SELECT id, command, classification, timestamp, user_decision,
		       COALESCE(reasoning, ''), COALESCE(confidence_score, 0), COALESCE(response_time_ms, 0)
		FROM decisions
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("query decisions: %w", err)
	}
	defer rows.Close()

	result := make([]Record, 0)
	for rows.Next() {
		var rec Record
		var ts string
		if err := rows.Scan(&rec.ID, &rec.Command, &rec.Classification, &ts, &rec.Decision, &rec.Reasoning, &rec.Confidence, &rec.ResponseTimeMs); err != nil {
			return nil, fmt.Errorf("scan decision: %w", err)
		}
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		rec.Timestamp = parsed
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate decisions: %w", err)
	}
	return result, nil
}

// Stats aggregates counts by classification and decision. Total counts
// classified requests, so the classification counts always sum to it.
func (s *Store) Stats() (*Stats, error) {
	row := s.db.QueryRow(`
		SELECT
			SUM(CASE WHEN classification = 'READ' THEN 1 ELSE 0 END),
			SUM(CASE WHEN classification = 'CREATE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN classification = 'UPDATE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN classification = 'DELETE' THEN 1 ELSE 0 END),
			SUM(CASE WHEN user_decision = 'APPROVED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN user_decision = 'DENIED' THEN 1 ELSE 0 END),
			SUM(CASE WHEN user_decision = 'PENDING_USER' THEN 1 ELSE 0 END),
			SUM(CASE WHEN user_decision = 'SKIPPED' THEN 1 ELSE 0 END)
		FROM decisions
	`)

	var stats Stats
	var read, create, update, del, approved, denied, pending, skipped sql.NullInt64
	if err := row.Scan(&read, &create, &update, &del, &approved, &denied, &pending, &skipped); err != nil {
		return nil, fmt.Errorf("query stats: %w", err)
	}
	stats.ReadCount = read.Int64
	stats.CreateCount = create.Int64
	stats.UpdateCount = update.Int64
	stats.DeleteCount = del.Int64
	stats.ApprovedCount = approved.Int64
	stats.DeniedCount = denied.Int64
	stats.PendingCount = pending.Int64
	stats.SkippedCount = skipped.Int64
	stats.TotalRequests = stats.ReadCount + stats.CreateCount + stats.UpdateCount + stats.DeleteCount
	return &stats, nil
}

// Cleanup deletes records older than the given number of days and
// returns how many were removed.
func (s *Store) Cleanup(days int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().AddDate(0, 0, -days).Format(time.RFC3339)
	res, err := s.db.Exec(`DELETE FROM decisions WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleanup decisions: %w", err)
	}
	deleted, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cleanup rows affected: %w", err)
	}
	if deleted > 0 {
		log.Printf("[audit] cleaned up %d decisions older than %d days", deleted, days)
	}
	return deleted, nil
}
