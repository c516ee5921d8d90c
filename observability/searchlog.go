// Package observability persists a log of searches, their per-source
// outcomes and HTTP requests to SQLite, and applies retention to it.
//
// Writes never fail the caller: errors are logged and dropped so a broken
// log database cannot take searches down with it.
package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/medifind/dbopen"
	"github.com/hazyhaar/medifind/idgen"
	"github.com/hazyhaar/medifind/shield"
)

// SearchEvent is one served search.
type SearchEvent struct {
	RequestID  string          `json:"request_id"`
	Term       string          `json:"term"`
	Quantity   int             `json:"quantity,omitempty"`
	Cached     bool            `json:"cached"`
	Partial    bool            `json:"partial"`
	ItemCount  int             `json:"item_count"`
	BestTotal  string          `json:"best_total,omitempty"`
	BestSource string          `json:"best_source,omitempty"`
	Duration   time.Duration   `json:"-"`
	DurationMS int64           `json:"duration_ms"`
	CreatedAt  time.Time       `json:"created_at"`
	Sources    []SourceOutcome `json:"sources,omitempty"`
}

// SourceOutcome is what one source did for a SearchEvent.
type SourceOutcome struct {
	Source     string        `json:"source"`
	Status     string        `json:"status"`
	Quotes     int           `json:"quotes"`
	Rejected   int           `json:"rejected"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMS int64         `json:"duration_ms"`
}

// SearchLog writes and reads the search log.
type SearchLog struct {
	db     *sql.DB
	newID  idgen.Generator
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a SearchLog.
type Option func(*SearchLog)

// WithLogger sets the logger used for dropped writes.
func WithLogger(l *slog.Logger) Option {
	return func(s *SearchLog) { s.logger = l }
}

// WithIDGenerator sets the generator for HTTP log row IDs.
func WithIDGenerator(gen idgen.Generator) Option {
	return func(s *SearchLog) { s.newID = gen }
}

// WithClock injects the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *SearchLog) { s.now = fn }
}

// NewSearchLog wraps a database that already has Schema applied.
func NewSearchLog(db *sql.DB, opts ...Option) *SearchLog {
	l := &SearchLog{
		db:     db,
		newID:  idgen.Prefixed("hrl_", idgen.UUIDv7()),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// LogSearch records ev and its source outcomes in one transaction.
func (l *SearchLog) LogSearch(ctx context.Context, ev SearchEvent) {
	created := ev.CreatedAt
	if created.IsZero() {
		created = l.now()
	}
	err := dbopen.RunTx(ctx, l.db, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO search_events (
				request_id, term, quantity, cached, partial, item_count,
				best_total, best_source, duration_ms, created_at
			) VALUES (?,?,?,?,?,?,?,?,?,?)`,
			ev.RequestID, ev.Term, ev.Quantity, ev.Cached, ev.Partial, ev.ItemCount,
			nullString(ev.BestTotal), nullString(ev.BestSource),
			ev.Duration.Milliseconds(), created.Unix())
		if err != nil {
			return err
		}
		for _, so := range ev.Sources {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO source_outcomes (
					request_id, source, status, quotes, rejected, error, duration_ms
				) VALUES (?,?,?,?,?,?,?)`,
				ev.RequestID, so.Source, so.Status, so.Quotes, so.Rejected,
				nullString(so.Error), so.Duration.Milliseconds())
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		l.logger.WarnContext(ctx, "observability: search log failed",
			"request_id", ev.RequestID, "error", err)
	}
}

// LogRequest records one HTTP request. It satisfies shield.RequestLogger.
func (l *SearchLog) LogRequest(ctx context.Context, r shield.AccessEntry) {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO http_request_logs (
			log_id, method, path, status_code, duration_ms,
			request_id, ip_address, user_agent, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), r.Method, r.Path, r.StatusCode, r.Duration.Milliseconds(),
		nullString(r.RequestID), nullString(r.IPAddress), nullString(r.UserAgent), l.now().Unix())
	if err != nil {
		l.logger.WarnContext(ctx, "observability: request log failed", "path", r.Path, "error", err)
	}
}

// Recent returns the last limit searches, newest first, with their source
// outcomes.
func (l *SearchLog) Recent(ctx context.Context, limit int) ([]SearchEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT request_id, term, quantity, cached, partial, item_count,
		       COALESCE(best_total, ''), COALESCE(best_source, ''), duration_ms, created_at
		FROM search_events
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("observability: recent: %w", err)
	}
	defer rows.Close()

	var events []SearchEvent
	for rows.Next() {
		var ev SearchEvent
		var created int64
		if err := rows.Scan(&ev.RequestID, &ev.Term, &ev.Quantity, &ev.Cached, &ev.Partial,
			&ev.ItemCount, &ev.BestTotal, &ev.BestSource, &ev.DurationMS, &created); err != nil {
			return nil, fmt.Errorf("observability: recent scan: %w", err)
		}
		ev.Duration = time.Duration(ev.DurationMS) * time.Millisecond
		ev.CreatedAt = time.Unix(created, 0).UTC()
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	rows.Close() // release the connection before the per-event queries

	for i := range events {
		outcomes, err := l.outcomes(ctx, events[i].RequestID)
		if err != nil {
			return nil, err
		}
		events[i].Sources = outcomes
	}
	return events, nil
}

func (l *SearchLog) outcomes(ctx context.Context, requestID string) ([]SourceOutcome, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT source, status, quotes, rejected, COALESCE(error, ''), duration_ms
		FROM source_outcomes WHERE request_id = ? ORDER BY source`, requestID)
	if err != nil {
		return nil, fmt.Errorf("observability: outcomes: %w", err)
	}
	defer rows.Close()

	var out []SourceOutcome
	for rows.Next() {
		var so SourceOutcome
		if err := rows.Scan(&so.Source, &so.Status, &so.Quotes, &so.Rejected, &so.Error, &so.DurationMS); err != nil {
			return nil, fmt.Errorf("observability: outcomes scan: %w", err)
		}
		so.Duration = time.Duration(so.DurationMS) * time.Millisecond
		out = append(out, so)
	}
	return out, rows.Err()
}

// Popular returns the most searched terms since the given time, most
// frequent first.
func (l *SearchLog) Popular(ctx context.Context, since time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT term FROM search_events
		WHERE created_at >= ?
		GROUP BY term
		ORDER BY COUNT(*) DESC, term
		LIMIT ?`, since.Unix(), limit)
	if err != nil {
		return nil, fmt.Errorf("observability: popular: %w", err)
	}
	defer rows.Close()

	var terms []string
	for rows.Next() {
		var term string
		if err := rows.Scan(&term); err != nil {
			return nil, err
		}
		terms = append(terms, term)
	}
	return terms, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
