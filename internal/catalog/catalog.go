// Package catalog keeps a local SQLite index of completed downloads so
// observers can browse what a destination directory holds without
// re-scanning it. Recording is best-effort; the download path never fails
// on a catalog error.
package catalog

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Entry represents one completed download.
type Entry struct {
	ID            int64
	Title         string
	Artist        string
	MediaKind     string
	FilePath      string
	SourceURL     string
	Quality       string
	Format        string
	FileSize      int64
	Backend       string
	PlaylistID    string
	PlaylistIndex int
	CreatedAt     time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS downloads (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    title           TEXT NOT NULL DEFAULT '',
    artist          TEXT NOT NULL DEFAULT '',
    media_kind      TEXT NOT NULL DEFAULT 'video',
    file_path       TEXT NOT NULL UNIQUE,
    source_url      TEXT NOT NULL DEFAULT '',
    quality         TEXT NOT NULL DEFAULT '',
    format          TEXT NOT NULL DEFAULT '',
    file_size       INTEGER NOT NULL DEFAULT 0,
    backend         TEXT NOT NULL DEFAULT '',
    playlist_id     TEXT NOT NULL DEFAULT '',
    playlist_index  INTEGER NOT NULL DEFAULT 0,
    created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_downloads_media_kind ON downloads(media_kind);
CREATE INDEX IF NOT EXISTS idx_downloads_playlist_id ON downloads(playlist_id);
CREATE INDEX IF NOT EXISTS idx_downloads_created_at ON downloads(created_at);
`

// DB wraps an SQLite connection for the download catalog.
type DB struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the catalog database at the given path.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database at %s: %w", path, err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, fmt.Errorf("setting pragma %q: %w", pragma, err)
		}
	}

	if _, err := sqlDB.Exec(createTableSQL); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &DB{db: sqlDB}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

// Upsert inserts or updates an entry keyed by file path and returns its id.
func (d *DB) Upsert(entry Entry) (int64, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("catalog not initialized")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	_, err := d.db.Exec(`
		INSERT INTO downloads (
			title, artist, media_kind, file_path, source_url,
			quality, format, file_size, backend, playlist_id, playlist_index
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(file_path) DO UPDATE SET
			title=excluded.title, artist=excluded.artist,
			media_kind=excluded.media_kind, source_url=excluded.source_url,
			quality=excluded.quality, format=excluded.format,
			file_size=excluded.file_size, backend=excluded.backend,
			playlist_id=excluded.playlist_id, playlist_index=excluded.playlist_index
	`,
		entry.Title, entry.Artist, entry.MediaKind, entry.FilePath, entry.SourceURL,
		entry.Quality, entry.Format, entry.FileSize, entry.Backend,
		entry.PlaylistID, entry.PlaylistIndex,
	)
	if err != nil {
		return 0, fmt.Errorf("upserting catalog entry: %w", err)
	}

	// LastInsertId is unreliable for ON CONFLICT DO UPDATE; query the row.
	var id int64
	if err := d.db.QueryRow("SELECT id FROM downloads WHERE file_path = ?", entry.FilePath).Scan(&id); err != nil {
		return 0, fmt.Errorf("querying upserted entry id: %w", err)
	}
	return id, nil
}

// List returns entries ordered by created_at descending.
func (d *DB) List(limit, offset int) ([]Entry, error) {
	if d == nil || d.db == nil {
		return nil, fmt.Errorf("catalog not initialized")
	}

	if limit <= 0 {
		limit = 200
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := d.db.Query(`
		SELECT id, title, artist, media_kind, file_path, source_url,
			quality, format, file_size, backend, playlist_id, playlist_index, created_at
		FROM downloads
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(
			&e.ID, &e.Title, &e.Artist, &e.MediaKind, &e.FilePath, &e.SourceURL,
			&e.Quality, &e.Format, &e.FileSize, &e.Backend,
			&e.PlaylistID, &e.PlaylistIndex, &e.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning catalog row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the total number of catalog entries.
func (d *DB) Count() (int, error) {
	if d == nil || d.db == nil {
		return 0, fmt.Errorf("catalog not initialized")
	}

	var count int
	if err := d.db.QueryRow("SELECT COUNT(*) FROM downloads").Scan(&count); err != nil {
		return 0, fmt.Errorf("counting catalog entries: %w", err)
	}
	return count, nil
}
