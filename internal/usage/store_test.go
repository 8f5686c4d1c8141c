package usage

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// testStore opens an in-memory ledger on the pure-Go driver.
func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	// Each connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	s, err := NewStore(db)
	if err != nil {
		db.Close()
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecord_And_Summary(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", Model: "gemini-2.0-flash-001", Outcome: "ok", PromptTokens: 100, CandidateTokens: 40, Duration: 800 * time.Millisecond},
		{Timestamp: now, RequestID: "r2", Model: "gemini-2.0-flash-001", Outcome: "ok", PromptTokens: 200, CandidateTokens: 60, Duration: 1200 * time.Millisecond},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 2 {
		t.Errorf("TotalRecords = %d, want 2", sum.TotalRecords)
	}
	if sum.TotalPromptTokens != 300 {
		t.Errorf("TotalPromptTokens = %d, want 300", sum.TotalPromptTokens)
	}
	if sum.TotalCandidateTokens != 100 {
		t.Errorf("TotalCandidateTokens = %d, want 100", sum.TotalCandidateTokens)
	}
	if sum.AvgDurationMs != 1000 {
		t.Errorf("AvgDurationMs = %d, want 1000", sum.AvgDurationMs)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := testStore(t)
	now := time.Now()

	sum, err := s.Summary(context.Background(), now.Add(-time.Hour), now)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 || sum.TotalPromptTokens != 0 || sum.AvgDurationMs != 0 {
		t.Errorf("expected zero summary, got %+v", sum)
	}
}

func TestSummary_TimeWindow(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	old := now.Add(-48 * time.Hour)
	for _, ts := range []time.Time{old, now} {
		if err := s.Record(ctx, Record{Timestamp: ts, RequestID: "r", Model: "m", Outcome: "ok", PromptTokens: 10}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := s.Summary(ctx, now.Add(-24*time.Hour), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (old record excluded)", sum.TotalRecords)
	}
}

func TestSummary_SameSecondIncluded(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)
	if err := s.Record(ctx, Record{Timestamp: base.Add(100 * time.Millisecond), Model: "m", Outcome: "ok"}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := s.Summary(ctx, base.Add(-time.Minute), base.Add(200*time.Millisecond))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 1 {
		t.Errorf("TotalRecords = %d, want 1 (record earlier in the same second)", sum.TotalRecords)
	}

	sum, err = s.Summary(ctx, base.Add(-time.Minute), base.Add(50*time.Millisecond))
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.TotalRecords != 0 {
		t.Errorf("TotalRecords = %d, want 0 (record after window end)", sum.TotalRecords)
	}
}

func TestSummaryByOutcome(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	now := time.Now().UTC()
	recs := []Record{
		{Timestamp: now, RequestID: "r1", Model: "m", Outcome: "ok", PromptTokens: 10, CandidateTokens: 5},
		{Timestamp: now, RequestID: "r2", Model: "m", Outcome: "ok", PromptTokens: 20, CandidateTokens: 5},
		{Timestamp: now, RequestID: "r3", Model: "m", Outcome: "no_text", PromptTokens: 7},
		{Timestamp: now, RequestID: "r4", Model: "m", Outcome: OutcomeTransportError},
	}
	for _, rec := range recs {
		if err := s.Record(ctx, rec); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	result, err := s.SummaryByOutcome(ctx, now.Add(-time.Minute), now.Add(time.Minute))
	if err != nil {
		t.Fatalf("SummaryByOutcome: %v", err)
	}
	if len(result) != 3 {
		t.Fatalf("got %d groups, want 3", len(result))
	}
	if ok := result["ok"]; ok == nil || ok.TotalRecords != 2 || ok.TotalPromptTokens != 30 {
		t.Errorf("ok group = %+v", ok)
	}
	if nt := result["no_text"]; nt == nil || nt.TotalPromptTokens != 7 {
		t.Errorf("no_text group = %+v", nt)
	}
	if result[OutcomeTransportError] == nil {
		t.Error("missing transport_error group")
	}
}

func TestRecord_GeneratesID(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := s.Record(ctx, Record{RequestID: "same", Model: "m", Outcome: "ok"}); err != nil {
			t.Fatalf("Record %d: %v", i, err)
		}
	}

	var count int
	if err := s.db.QueryRow(`SELECT COUNT(DISTINCT id) FROM generations`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("distinct ids = %d, want 2", count)
	}
}

func TestRecord_DuplicateIDRejected(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rec := Record{ID: "fixed", RequestID: "r", Model: "m", Outcome: "ok"}
	if err := s.Record(ctx, rec); err != nil {
		t.Fatalf("first Record: %v", err)
	}
	if err := s.Record(ctx, rec); err == nil {
		t.Error("expected primary key violation on duplicate ID")
	}
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open(%q): %v", path, err)
	}
	defer s.Close()

	if err := s.Record(context.Background(), Record{RequestID: "r", Model: "m", Outcome: "ok"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
}
