package store

import (
	"database/sql"
	"fmt"
	"time"
)

// HistoryEntry is one finished download kept for the history view. History
// survives queue clears.
type HistoryEntry struct {
	ID           int64     `json:"id"`
	TrackID      string    `json:"track_id"`
	Title        string    `json:"title"`
	Artist       string    `json:"artist"`
	Album        string    `json:"album"`
	FilePath     string    `json:"file_path"`
	FileSize     int64     `json:"file_size"`
	Quality      string    `json:"quality"`
	DownloadedAt time.Time `json:"downloaded_at"`
}

// AddHistory records a finished track.
func (s *QueueStore) AddHistory(entry *HistoryEntry) error {
	entry.DownloadedAt = time.Now()
	result, err := s.db.Exec(`
		INSERT INTO download_history (track_id, title, artist, album, file_path, file_size, quality, downloaded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.TrackID, entry.Title, entry.Artist, entry.Album,
		entry.FilePath, entry.FileSize, entry.Quality, entry.DownloadedAt,
	)
	if err != nil {
		return fmt.Errorf("recording history for %s: %w", entry.TrackID, err)
	}
	entry.ID, _ = result.LastInsertId()
	return nil
}

// History pages over past downloads, newest first.
func (s *QueueStore) History(offset, limit int) ([]*HistoryEntry, int, error) {
	limit = clampPageSize(limit)

	var total int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM download_history").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting history: %w", err)
	}

	rows, err := s.db.Query(`
		SELECT id, track_id, title, artist, album, file_path, file_size, quality, downloaded_at
		FROM download_history
		ORDER BY downloaded_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	entries := []*HistoryEntry{}
	for rows.Next() {
		e := &HistoryEntry{}
		var artist, album, filePath, quality sql.NullString
		var fileSize sql.NullInt64
		if err := rows.Scan(&e.ID, &e.TrackID, &e.Title, &artist, &album,
			&filePath, &fileSize, &quality, &e.DownloadedAt); err != nil {
			return nil, 0, fmt.Errorf("scanning history entry: %w", err)
		}
		e.Artist = artist.String
		e.Album = album.String
		e.FilePath = filePath.String
		e.FileSize = fileSize.Int64
		e.Quality = quality.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("iterating history rows: %w", err)
	}
	return entries, total, nil
}

// WasDownloaded reports whether a track already appears in history.
func (s *QueueStore) WasDownloaded(trackID string) (bool, error) {
	var n int
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM download_history WHERE track_id = ?", trackID,
	).Scan(&n); err != nil {
		return false, fmt.Errorf("checking history for %s: %w", trackID, err)
	}
	return n > 0, nil
}

// CacheGet reads a value from the persistent key/value cache.
func (s *QueueStore) CacheGet(key string) (string, bool, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM config_cache WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("reading cache key %s: %w", key, err)
	}
	return value, true, nil
}

// CacheSet writes a value into the persistent key/value cache.
func (s *QueueStore) CacheSet(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO config_cache (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now())
	if err != nil {
		return fmt.Errorf("writing cache key %s: %w", key, err)
	}
	return nil
}
