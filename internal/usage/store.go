// Package usage keeps an append-only ledger of Gemini generations:
// which model ran, how many tokens it reported, how the response was
// classified, and how long it took. Email content and reply text are
// never stored.
package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Outcome values recorded alongside gemini.Outcome.
const (
	OutcomeTransportError = "transport_error"
)

// timestampLayout is fixed-width so stored timestamps sort lexically
// at sub-second precision.
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Record is one generation attempt.
type Record struct {
	ID              string
	Timestamp       time.Time
	RequestID       string
	Model           string
	Outcome         string // "ok", "no_text", "parse_error", "transport_error"
	PromptTokens    int
	CandidateTokens int
	Duration        time.Duration
}

// Summary holds aggregated totals.
type Summary struct {
	TotalRecords         int   `json:"total_records"`
	TotalPromptTokens    int64 `json:"total_prompt_tokens"`
	TotalCandidateTokens int64 `json:"total_candidate_tokens"`
	AvgDurationMs        int64 `json:"avg_duration_ms"`
}

// Store is an append-only SQLite ledger. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database at dbPath using the
// go-sqlite3 driver.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open usage database: %w", err)
	}
	s, err := NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an open database and creates the schema if needed.
// The Store takes ownership of db.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate usage schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS generations (
		id               TEXT PRIMARY KEY,
		timestamp        TEXT NOT NULL,
		request_id       TEXT NOT NULL,
		model            TEXT NOT NULL,
		outcome          TEXT NOT NULL,
		prompt_tokens    INTEGER NOT NULL,
		candidate_tokens INTEGER NOT NULL,
		duration_ms      INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_generations_timestamp ON generations(timestamp);
	CREATE INDEX IF NOT EXISTS idx_generations_outcome ON generations(outcome);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Record appends rec. A UUIDv7 ID and the current time are filled in
// when missing.
func (s *Store) Record(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("generate usage record ID: %w", err)
		}
		rec.ID = id.String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generations
			(id, timestamp, request_id, model, outcome, prompt_tokens, candidate_tokens, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		rec.Timestamp.UTC().Format(timestampLayout),
		rec.RequestID,
		rec.Model,
		rec.Outcome,
		rec.PromptTokens,
		rec.CandidateTokens,
		rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert usage record: %w", err)
	}
	return nil
}

// Summary returns totals for records within [start, end).
func (s *Store) Summary(ctx context.Context, start, end time.Time) (*Summary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(candidate_tokens), 0),
		        CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER)
		 FROM generations
		 WHERE timestamp >= ? AND timestamp < ?`,
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	)

	var sum Summary
	if err := row.Scan(&sum.TotalRecords, &sum.TotalPromptTokens, &sum.TotalCandidateTokens, &sum.AvgDurationMs); err != nil {
		return nil, fmt.Errorf("query usage summary: %w", err)
	}
	return &sum, nil
}

// SummaryByOutcome returns per-outcome totals for records within [start, end).
func (s *Store) SummaryByOutcome(ctx context.Context, start, end time.Time) (map[string]*Summary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT outcome, COUNT(*), COALESCE(SUM(prompt_tokens), 0), COALESCE(SUM(candidate_tokens), 0),
		        CAST(COALESCE(AVG(duration_ms), 0) AS INTEGER)
		 FROM generations
		 WHERE timestamp >= ? AND timestamp < ?
		 GROUP BY outcome
		 ORDER BY COUNT(*) DESC`,
		start.UTC().Format(timestampLayout),
		end.UTC().Format(timestampLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query usage by outcome: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*Summary)
	for rows.Next() {
		var key string
		var sum Summary
		if err := rows.Scan(&key, &sum.TotalRecords, &sum.TotalPromptTokens, &sum.TotalCandidateTokens, &sum.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan usage by outcome: %w", err)
		}
		result[key] = &sum
	}
	return result, rows.Err()
}
