package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Item statuses.
const (
	StatusPending     = "pending"
	StatusDownloading = "downloading"
	StatusCompleted   = "completed"
	StatusFailed      = "failed"
	StatusPaused      = "paused"
)

// Item types. Albums and playlists are parent rows; their tracks reference
// them through parent_id.
const (
	TypeTrack    = "track"
	TypeAlbum    = "album"
	TypePlaylist = "playlist"
)

// MaxPageSize caps listing queries.
const MaxPageSize = 1000

// IsTerminal reports whether a status is final for a row.
func IsTerminal(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// QueueItem is the single queue row type, shared by parents and children.
type QueueItem struct {
	ID              string     `json:"id"`
	Type            string     `json:"type"`
	Title           string     `json:"title"`
	Artist          string     `json:"artist"`
	Album           string     `json:"album"`
	Status          string     `json:"status"`
	Progress        int        `json:"progress"`
	DownloadURL     string     `json:"-"`
	OutputPath      string     `json:"output_path"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	RetryCount      int        `json:"retry_count"`
	MetadataJSON    string     `json:"-"`
	PartialFilePath string     `json:"-"`
	BytesDownloaded int64      `json:"bytes_downloaded"`
	TotalBytes      int64      `json:"total_bytes"`
	ParentID        string     `json:"parent_id,omitempty"`
	TotalTracks     int        `json:"total_tracks,omitempty"`
	CompletedTracks int        `json:"completed_tracks"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

// IsParent reports whether the row heads a family (album/playlist, or a
// standalone track with no parent).
func (item *QueueItem) IsParent() bool {
	if item.Type == TypeAlbum || item.Type == TypePlaylist {
		return true
	}
	return item.ParentID == ""
}

// IsResumable reports whether a partially downloaded stream can continue
// where it stopped.
func (item *QueueItem) IsResumable() bool {
	return item.PartialFilePath != "" && item.BytesDownloaded > 0 && item.TotalBytes > 0
}

// SetMetadata stores tagger input as JSON on the row.
func (item *QueueItem) SetMetadata(metadata interface{}) error {
	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling metadata: %w", err)
	}
	item.MetadataJSON = string(data)
	return nil
}

// Metadata unmarshals the stored tagger input into target.
func (item *QueueItem) Metadata(target interface{}) error {
	if item.MetadataJSON == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(item.MetadataJSON), target); err != nil {
		return fmt.Errorf("unmarshalling metadata: %w", err)
	}
	return nil
}

// QueueStats aggregates counts over family-head rows only; child tracks are
// an implementation detail the UI never sees.
type QueueStats struct {
	Total       int `json:"total"`
	Pending     int `json:"pending"`
	Downloading int `json:"downloading"`
	Completed   int `json:"completed"`
	Failed      int `json:"failed"`
	Paused      int `json:"paused"`
}

// QueueStore is the single point of mutation for queue rows.
type QueueStore struct {
	db      *sql.DB
	batchMu sync.Mutex // serializes batch inserts against the WAL
}

// NewQueueStore wraps an open database.
func NewQueueStore(db *sql.DB) *QueueStore {
	return &QueueStore{db: db}
}

// DB exposes the underlying handle (facade shutdown closes it).
func (s *QueueStore) DB() *sql.DB { return s.db }

const itemColumns = `id, type, title, artist, album, status, progress,
	download_url, output_path, error_message, retry_count, metadata_json,
	partial_file_path, bytes_downloaded, total_bytes,
	parent_id, total_tracks, completed_tracks,
	created_at, updated_at, completed_at`

// topLevelFilter selects family heads: album/playlist parents plus tracks
// enqueued on their own.
const topLevelFilter = `(type IN ('album', 'playlist') OR parent_id IS NULL OR parent_id = '')`

// Insert adds a single row. Fails on duplicate id.
func (s *QueueStore) Insert(item *QueueItem) error {
	now := time.Now()
	item.CreatedAt = now
	item.UpdatedAt = now

	_, err := s.db.Exec(`
		INSERT INTO queue_items (
			id, type, title, artist, album, status, progress,
			download_url, output_path, error_message, retry_count, metadata_json,
			partial_file_path, bytes_downloaded, total_bytes,
			parent_id, total_tracks, completed_tracks,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.Type, item.Title, item.Artist, item.Album, item.Status, item.Progress,
		item.DownloadURL, item.OutputPath, item.ErrorMessage, item.RetryCount, item.MetadataJSON,
		item.PartialFilePath, item.BytesDownloaded, item.TotalBytes,
		item.ParentID, item.TotalTracks, item.CompletedTracks,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting queue item %s: %w", item.ID, err)
	}
	return nil
}

// InsertBatch adds many rows in one transaction with INSERT OR IGNORE
// semantics, so re-enqueueing an album skips the children that already
// exist. Batches are serialized to avoid WAL lock storms.
func (s *QueueStore) InsertBatch(items []*QueueItem) error {
	if len(items) == 0 {
		return nil
	}

	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning batch insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO queue_items (
			id, type, title, artist, album, status, progress,
			download_url, output_path, error_message, retry_count, metadata_json,
			partial_file_path, bytes_downloaded, total_bytes,
			parent_id, total_tracks, completed_tracks,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing batch insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now()
	for _, item := range items {
		item.CreatedAt = now
		item.UpdatedAt = now
		if _, err := stmt.Exec(
			item.ID, item.Type, item.Title, item.Artist, item.Album, item.Status, item.Progress,
			item.DownloadURL, item.OutputPath, item.ErrorMessage, item.RetryCount, item.MetadataJSON,
			item.PartialFilePath, item.BytesDownloaded, item.TotalBytes,
			item.ParentID, item.TotalTracks, item.CompletedTracks,
			item.CreatedAt, item.UpdatedAt,
		); err != nil {
			return fmt.Errorf("batch inserting item %s: %w", item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing batch insert: %w", err)
	}
	return nil
}

// Update writes every mutable column of item. A parent transitioning to
// completed is verified against its children first: if the family is not
// fully terminal the update is rewritten to keep the parent downloading and
// completed_at is cleared. After a legitimate parent terminal transition the
// WAL is checkpointed so a hard kill cannot lose the state.
func (s *QueueStore) Update(item *QueueItem) error {
	if item.Type != TypeTrack && item.Status == StatusCompleted {
		finished, err := s.CountFinishedChildren(item.ID)
		if err != nil {
			return err
		}
		if finished < item.TotalTracks {
			item.Status = StatusDownloading
			item.CompletedAt = nil
		}
	}

	item.UpdatedAt = time.Now()

	result, err := s.db.Exec(`
		UPDATE queue_items
		SET type = ?, title = ?, artist = ?, album = ?, status = ?, progress = ?,
		    download_url = ?, output_path = ?, error_message = ?, retry_count = ?,
		    metadata_json = ?, partial_file_path = ?, bytes_downloaded = ?,
		    total_bytes = ?, parent_id = ?, total_tracks = ?, completed_tracks = ?,
		    updated_at = ?, completed_at = ?
		WHERE id = ?`,
		item.Type, item.Title, item.Artist, item.Album, item.Status, item.Progress,
		item.DownloadURL, item.OutputPath, item.ErrorMessage, item.RetryCount,
		item.MetadataJSON, item.PartialFilePath, item.BytesDownloaded,
		item.TotalBytes, item.ParentID, item.TotalTracks, item.CompletedTracks,
		item.UpdatedAt, item.CompletedAt, item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating queue item %s: %w", item.ID, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("queue item not found: %s", item.ID)
	}

	if item.Type != TypeTrack && IsTerminal(item.Status) {
		s.checkpoint()
	}
	return nil
}

// UpdateProgress persists byte progress for a running download without
// touching the rest of the row.
func (s *QueueStore) UpdateProgress(id string, progress int, bytesDownloaded, totalBytes int64, partialPath string) error {
	_, err := s.db.Exec(`
		UPDATE queue_items
		SET progress = ?, bytes_downloaded = ?, total_bytes = ?,
		    partial_file_path = ?, updated_at = ?
		WHERE id = ?`,
		progress, bytesDownloaded, totalBytes, partialPath, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("updating progress for %s: %w", id, err)
	}
	return nil
}

// Get retrieves one row by id.
func (s *QueueStore) Get(id string) (*QueueItem, error) {
	row := s.db.QueryRow(`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue item not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting queue item %s: %w", id, err)
	}
	s.deriveParentProgress(item)
	return item, nil
}

// Pending returns queued rows in FIFO admission order.
func (s *QueueStore) Pending(limit int) ([]*QueueItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE status = ? AND type = 'track'
		ORDER BY created_at ASC, rowid ASC
		LIMIT ?`, StatusPending, limit)
	if err != nil {
		return nil, fmt.Errorf("listing pending items: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows, false)
}

// List pages over family heads, newest last. Child rows never surface here.
func (s *QueueStore) List(offset, limit int) ([]*QueueItem, error) {
	limit = clampPageSize(limit)
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE `+topLevelFilter+`
		ORDER BY created_at ASC, rowid ASC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing queue: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows, true)
}

// ListByStatus pages over family heads with a status filter.
func (s *QueueStore) ListByStatus(status string, offset, limit int) ([]*QueueItem, error) {
	limit = clampPageSize(limit)
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE status = ? AND `+topLevelFilter+`
		ORDER BY created_at DESC, rowid DESC
		LIMIT ? OFFSET ?`, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing queue by status: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows, true)
}

// Count returns the number of family heads, optionally filtered by status.
func (s *QueueStore) Count(status string) (int, error) {
	var (
		count int
		err   error
	)
	if status == "" {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE ` + topLevelFilter).Scan(&count)
	} else {
		err = s.db.QueryRow(`SELECT COUNT(*) FROM queue_items WHERE status = ? AND `+topLevelFilter, status).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting queue items: %w", err)
	}
	return count, nil
}

// Children returns every child row of a parent in admission order.
func (s *QueueStore) Children(parentID string) ([]*QueueItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE parent_id = ?
		ORDER BY created_at ASC, rowid ASC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing children of %s: %w", parentID, err)
	}
	defer rows.Close()
	return s.scanItems(rows, false)
}

// Stats aggregates family-head counts per status bucket.
func (s *QueueStore) Stats() (*QueueStats, error) {
	stats := &QueueStats{}
	err := s.db.QueryRow(`
		SELECT
			COUNT(*),
			COALESCE(SUM(status = 'pending'), 0),
			COALESCE(SUM(status = 'downloading'), 0),
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status = 'failed'), 0),
			COALESCE(SUM(status = 'paused'), 0)
		FROM queue_items
		WHERE `+topLevelFilter).Scan(
		&stats.Total, &stats.Pending, &stats.Downloading,
		&stats.Completed, &stats.Failed, &stats.Paused,
	)
	if err != nil {
		return nil, fmt.Errorf("aggregating queue stats: %w", err)
	}
	return stats, nil
}

// Delete removes one row.
func (s *QueueStore) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM queue_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting queue item %s: %w", id, err)
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return fmt.Errorf("queue item not found: %s", id)
	}
	return nil
}

// DeleteChildren removes child rows of a parent restricted to the given
// statuses. Completed children survive a parent cancellation.
func (s *QueueStore) DeleteChildren(parentID string, statuses ...string) error {
	query := "DELETE FROM queue_items WHERE parent_id = ?"
	args := []interface{}{parentID}
	if len(statuses) > 0 {
		query += " AND status IN (?" + repeatPlaceholder(len(statuses)-1) + ")"
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	if _, err := s.db.Exec(query, args...); err != nil {
		return fmt.Errorf("deleting children of %s: %w", parentID, err)
	}
	return nil
}

// Resumable lists rows eligible to continue a partial transfer.
func (s *QueueStore) Resumable(limit int) ([]*QueueItem, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE status IN ('pending', 'paused', 'failed')
		  AND partial_file_path IS NOT NULL AND partial_file_path != ''
		  AND bytes_downloaded > 0
		  AND total_bytes > 0
		ORDER BY updated_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing resumable items: %w", err)
	}
	defer rows.Close()
	return s.scanItems(rows, false)
}

// checkpoint forces the WAL into the main database file. Invoked after
// parent terminal transitions so a hard kill directly afterwards cannot
// roll the family back.
func (s *QueueStore) checkpoint() {
	s.db.Exec("PRAGMA wal_checkpoint(RESTART)")
}

// deriveParentProgress applies the read-side rule for completed_tracks:
// while a parent is non-terminal the count is derived from the children so
// the UI never sees a stale value; once terminal the stored value is
// trusted to avoid oscillation during the completion transition.
func (s *QueueStore) deriveParentProgress(item *QueueItem) {
	if item.Type == TypeTrack || IsTerminal(item.Status) {
		return
	}
	if n, err := s.CountCompletedChildren(item.ID); err == nil {
		item.CompletedTracks = n
	}
}

func (s *QueueStore) scanItems(rows *sql.Rows, derive bool) ([]*QueueItem, error) {
	items := []*QueueItem{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning queue item: %w", err)
		}
		if derive {
			s.deriveParentProgress(item)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue rows: %w", err)
	}
	return items, nil
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanItem(row scannable) (*QueueItem, error) {
	item := &QueueItem{}
	var (
		artist, album, downloadURL, outputPath sql.NullString
		errorMessage, metadataJSON             sql.NullString
		partialPath, parentID                  sql.NullString
		completedAt                            sql.NullTime
	)

	err := row.Scan(
		&item.ID, &item.Type, &item.Title, &artist, &album, &item.Status, &item.Progress,
		&downloadURL, &outputPath, &errorMessage, &item.RetryCount, &metadataJSON,
		&partialPath, &item.BytesDownloaded, &item.TotalBytes,
		&parentID, &item.TotalTracks, &item.CompletedTracks,
		&item.CreatedAt, &item.UpdatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Artist = artist.String
	item.Album = album.String
	item.DownloadURL = downloadURL.String
	item.OutputPath = outputPath.String
	item.ErrorMessage = errorMessage.String
	item.MetadataJSON = metadataJSON.String
	item.PartialFilePath = partialPath.String
	item.ParentID = parentID.String
	if completedAt.Valid {
		item.CompletedAt = &completedAt.Time
	}
	return item, nil
}

func clampPageSize(limit int) int {
	if limit <= 0 || limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}

func repeatPlaceholder(n int) string {
	out := ""
	for i := 0; i < n; i++ {
		out += ", ?"
	}
	return out
}
