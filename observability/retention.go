package observability

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// RetentionConfig gives per-table retention in days. Zero keeps everything.
type RetentionConfig struct {
	SearchDays     int
	HTTPLogsDays   int
	RunVacuumAfter bool
}

// Cleanup deletes rows older than the retention thresholds. Source outcomes
// go with their search through the foreign key cascade.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	now := time.Now().Unix()

	targets := []struct {
		stmt string
		days int
	}{
		{"DELETE FROM search_events WHERE created_at < ?", cfg.SearchDays},
		{"DELETE FROM http_request_logs WHERE created_at < ?", cfg.HTTPLogsDays},
	}
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now - int64(t.days*86400)
		if _, err := db.ExecContext(ctx, t.stmt, cutoff); err != nil {
			return fmt.Errorf("observability: cleanup: %w", err)
		}
	}

	if cfg.RunVacuumAfter {
		if _, err := db.ExecContext(ctx, "VACUUM"); err != nil {
			return fmt.Errorf("observability: vacuum: %w", err)
		}
	}
	return nil
}
