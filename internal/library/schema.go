package library

import "fmt"

// ensureSchema creates the library tables when missing. The schema is tiny
// and stable, so plain idempotent DDL beats a migration framework here.
func (l *Library) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS content (
	id     INTEGER PRIMARY KEY,
	title  TEXT NOT NULL,
	path   TEXT NOT NULL,
	series TEXT,
	part   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS content_playlist (
	content_id   INTEGER NOT NULL REFERENCES content(id) ON DELETE CASCADE,
	stream_index TEXT NOT NULL,
	playlist     TEXT NOT NULL,
	PRIMARY KEY (content_id, stream_index)
);

CREATE INDEX IF NOT EXISTS idx_content_series_part ON content(series, part);
`
	if _, err := l.db.Exec(ddl); err != nil {
		return fmt.Errorf("ensuring library schema: %w", err)
	}
	return nil
}
