// Package library is the metadata collaborator of the streaming engine: it
// maps content ids to media file paths, persists synthesized playlists for
// reuse across sessions, and answers "what plays next" lookups.
package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"watchstream/internal/streaming"
)

// Library is a sqlite-backed implementation of streaming.Library.
type Library struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (or creates) the library database at path and ensures the
// schema exists.
func Open(path string, log *slog.Logger) (*Library, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening library database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening library database: %w", err)
	}

	l := &Library{db: db, log: log}
	if err := l.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Library) Close() error {
	return l.db.Close()
}

// ContentPath returns the media file path for a content id.
func (l *Library) ContentPath(ctx context.Context, contentID int64) (string, bool, error) {
	var path string
	err := l.db.QueryRowContext(ctx,
		`SELECT path FROM content WHERE id = ?`, contentID,
	).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying content path: %w", err)
	}
	return path, true, nil
}

// ContentTitle returns the display title for a content id.
func (l *Library) ContentTitle(ctx context.Context, contentID int64) (string, bool, error) {
	var title string
	err := l.db.QueryRowContext(ctx,
		`SELECT title FROM content WHERE id = ?`, contentID,
	).Scan(&title)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying content title: %w", err)
	}
	return title, true, nil
}

// NextAfter returns the next part of the same series, if there is one.
func (l *Library) NextAfter(ctx context.Context, contentID int64) (streaming.NextContent, bool, error) {
	var next streaming.NextContent
	err := l.db.QueryRowContext(ctx,
		`SELECT n.id, n.title
		   FROM content c
		   JOIN content n ON n.series = c.series AND n.part = c.part + 1
		  WHERE c.id = ? AND c.series IS NOT NULL AND c.series != ''`,
		contentID,
	).Scan(&next.ID, &next.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return streaming.NextContent{}, false, nil
	}
	if err != nil {
		return streaming.NextContent{}, false, fmt.Errorf("querying next content: %w", err)
	}
	return next, true, nil
}

// PersistedPlaylist returns the stored manifest for (content id, selection).
func (l *Library) PersistedPlaylist(ctx context.Context, contentID int64, ident string) (string, bool, error) {
	var manifest string
	err := l.db.QueryRowContext(ctx,
		`SELECT playlist FROM content_playlist WHERE content_id = ? AND stream_index = ?`,
		contentID, ident,
	).Scan(&manifest)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("querying persisted playlist: %w", err)
	}
	return manifest, true, nil
}

// SavePlaylist stores a manifest for (content id, selection). Saving the same
// pair again overwrites, so concurrent sessions synthesizing the same
// playlist stay idempotent.
func (l *Library) SavePlaylist(ctx context.Context, contentID int64, ident, manifest string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO content_playlist (content_id, stream_index, playlist)
		 VALUES (?, ?, ?)
		 ON CONFLICT(content_id, stream_index) DO UPDATE SET playlist = excluded.playlist`,
		contentID, ident, manifest,
	)
	if err != nil {
		return fmt.Errorf("saving playlist: %w", err)
	}
	return nil
}

// AddContent inserts a content row. Used when seeding a library and by
// tests; the indexing pipeline that normally fills this table lives outside
// this server.
func (l *Library) AddContent(ctx context.Context, id int64, title, path, series string, part int) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO content (id, title, path, series, part) VALUES (?, ?, ?, ?, ?)`,
		id, title, path, series, part,
	)
	if err != nil {
		return fmt.Errorf("adding content: %w", err)
	}
	return nil
}
