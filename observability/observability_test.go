package observability

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/medifind/dbopen"
	"github.com/hazyhaar/medifind/idgen"
	"github.com/hazyhaar/medifind/shield"
)

func setupLog(t *testing.T, opts ...Option) (*SearchLog, *sql.DB) {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
	return NewSearchLog(db, opts...), db
}

func TestInit_CreatesTables(t *testing.T) {
	db := dbopen.OpenMemory(t)
	if err := Init(db); err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"search_events", "source_outcomes", "http_request_logs"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
}

func TestSearchLog_LogAndRecent(t *testing.T) {
	// WHAT: Logged searches come back newest first with their source outcomes.
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	l, _ := setupLog(t)
	ctx := context.Background()

	l.LogSearch(ctx, SearchEvent{
		RequestID: "srch_1", Term: "dolo 650", ItemCount: 2, Partial: true,
		BestTotal: "63.00", BestSource: "truemeds", Duration: 1500 * time.Millisecond,
		CreatedAt: base,
		Sources: []SourceOutcome{
			{Source: "apollo", Status: "ok", Quotes: 1, Duration: 800 * time.Millisecond},
			{Source: "pharmeasy", Status: "failed", Error: "quote: adapter failure: 503"},
		},
	})
	l.LogSearch(ctx, SearchEvent{
		RequestID: "srch_2", Term: "crocin", Cached: true, CreatedAt: base.Add(time.Minute),
	})

	events, err := l.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].RequestID != "srch_2" || !events[0].Cached {
		t.Errorf("first: got %+v, want cached srch_2", events[0])
	}
	first := events[1]
	if first.BestTotal != "63.00" || first.DurationMS != 1500 || !first.Partial {
		t.Errorf("srch_1: got %+v", first)
	}
	if len(first.Sources) != 2 {
		t.Fatalf("outcomes: got %d, want 2", len(first.Sources))
	}
	if first.Sources[1].Source != "pharmeasy" || first.Sources[1].Error == "" {
		t.Errorf("pharmeasy outcome: got %+v", first.Sources[1])
	}
	if !first.CreatedAt.Equal(base) {
		t.Errorf("created_at: got %v, want %v", first.CreatedAt, base)
	}
}

func TestSearchLog_DuplicateRequestIDDropped(t *testing.T) {
	// WHAT: A failing write is swallowed and leaves no partial rows.
	// WHY: The search log must never fail a search.
	l, db := setupLog(t)
	ctx := context.Background()
	ev := SearchEvent{RequestID: "srch_dup", Term: "x", Sources: []SourceOutcome{{Source: "a", Status: "ok"}}}
	l.LogSearch(ctx, ev)
	ev.Sources = append(ev.Sources, SourceOutcome{Source: "b", Status: "ok"})
	l.LogSearch(ctx, ev)

	var n int
	db.QueryRow("SELECT COUNT(*) FROM source_outcomes").Scan(&n)
	if n != 1 {
		t.Fatalf("outcomes: got %d, want 1", n)
	}
}

func TestSearchLog_Popular(t *testing.T) {
	now := time.Now()
	l, _ := setupLog(t)
	ctx := context.Background()
	ids := idgen.Sequential("srch_")
	for term, n := range map[string]int{"dolo 650": 3, "crocin": 1, "azithral 500": 2} {
		for i := 0; i < n; i++ {
			l.LogSearch(ctx, SearchEvent{RequestID: ids(), Term: term, CreatedAt: now})
		}
	}
	l.LogSearch(ctx, SearchEvent{RequestID: ids(), Term: "old", CreatedAt: now.Add(-48 * time.Hour)})

	terms, err := l.Popular(ctx, now.Add(-time.Hour), 2)
	if err != nil {
		t.Fatalf("popular: %v", err)
	}
	if len(terms) != 2 || terms[0] != "dolo 650" || terms[1] != "azithral 500" {
		t.Fatalf("got %v, want [dolo 650 azithral 500]", terms)
	}
}

func TestSearchLog_LogRequest(t *testing.T) {
	l, db := setupLog(t, WithIDGenerator(idgen.Sequential("hrl_")))
	l.LogRequest(context.Background(), shield.AccessEntry{
		Method: "GET", Path: "/api/search", StatusCode: 200, Duration: 40 * time.Millisecond,
		RequestID: "srch_9",
	})
	var id, path string
	var status int
	if err := db.QueryRow("SELECT log_id, path, status_code FROM http_request_logs").Scan(&id, &path, &status); err != nil {
		t.Fatal(err)
	}
	if id != "hrl_1" || path != "/api/search" || status != 200 {
		t.Fatalf("got %s %s %d", id, path, status)
	}
}

func TestCleanup(t *testing.T) {
	// WHAT: Old searches are deleted with their outcomes; recent ones stay.
	l, db := setupLog(t)
	ctx := context.Background()
	l.LogSearch(ctx, SearchEvent{
		RequestID: "old", Term: "x", CreatedAt: time.Now().Add(-40 * 24 * time.Hour),
		Sources: []SourceOutcome{{Source: "a", Status: "ok"}},
	})
	l.LogSearch(ctx, SearchEvent{RequestID: "new", Term: "y", CreatedAt: time.Now()})

	if err := Cleanup(ctx, db, RetentionConfig{SearchDays: 30}); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	var events, outcomes int
	db.QueryRow("SELECT COUNT(*) FROM search_events").Scan(&events)
	db.QueryRow("SELECT COUNT(*) FROM source_outcomes").Scan(&outcomes)
	if events != 1 || outcomes != 0 {
		t.Fatalf("got %d events / %d outcomes, want 1 / 0", events, outcomes)
	}
}
