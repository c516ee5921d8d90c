package observability

import "database/sql"

// Schema is the DDL for the search log. Open the database with
// dbopen.WithSchema(Schema) or call Init.
const Schema = `
CREATE TABLE IF NOT EXISTS search_events (
    request_id  TEXT PRIMARY KEY,
    term        TEXT NOT NULL,
    quantity    INTEGER NOT NULL DEFAULT 0,
    cached      INTEGER NOT NULL,
    partial     INTEGER NOT NULL,
    item_count  INTEGER NOT NULL,
    best_total  TEXT,
    best_source TEXT,
    duration_ms INTEGER NOT NULL,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_search_events_time ON search_events(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_search_events_term ON search_events(term, created_at DESC);

CREATE TABLE IF NOT EXISTS source_outcomes (
    request_id  TEXT NOT NULL REFERENCES search_events(request_id) ON DELETE CASCADE,
    source      TEXT NOT NULL,
    status      TEXT NOT NULL,
    quotes      INTEGER NOT NULL DEFAULT 0,
    rejected    INTEGER NOT NULL DEFAULT 0,
    error       TEXT,
    duration_ms INTEGER NOT NULL,
    PRIMARY KEY (request_id, source)
);
CREATE INDEX IF NOT EXISTS idx_source_outcomes_source ON source_outcomes(source, status);

CREATE TABLE IF NOT EXISTS http_request_logs (
    log_id      TEXT PRIMARY KEY,
    method      TEXT NOT NULL,
    path        TEXT NOT NULL,
    status_code INTEGER,
    duration_ms INTEGER,
    request_id  TEXT,
    ip_address  TEXT,
    user_agent  TEXT,
    created_at  INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
CREATE INDEX IF NOT EXISTS idx_http_logs_time ON http_request_logs(created_at DESC);
`

// Init applies Schema to db.
func Init(db *sql.DB) error {
	_, err := db.Exec(Schema)
	return err
}
