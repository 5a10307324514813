package store

import (
	"database/sql"
	"fmt"
	"time"
)

// FailedTrack records a permanently failed child so a partial-success
// parent can explain itself and be retried selectively.
type FailedTrack struct {
	ID           int64     `json:"id"`
	ParentID     string    `json:"parent_id"`
	TrackID      string    `json:"track_id"`
	TrackTitle   string    `json:"track_title"`
	TrackArtist  string    `json:"track_artist"`
	ErrorMessage string    `json:"error_message"`
	RetryCount   int       `json:"retry_count"`
	FailedAt     time.Time `json:"failed_at"`
}

// FamilyUpdate describes what FinishChild did to the parent, so the caller
// can emit the right notifications without re-reading the database.
type FamilyUpdate struct {
	Parent         *QueueItem
	BecameTerminal bool
	PartialSuccess bool
}

// FinishChild persists a child's terminal state and settles the parent's
// accounting in the same transaction. The child's Status must already be
// completed or failed. When the last outstanding child lands, the parent is
// promoted: completed if at least one child succeeded (a partial success
// when some failed), failed if every child failed.
func (s *QueueStore) FinishChild(child *QueueItem) (*FamilyUpdate, error) {
	if !IsTerminal(child.Status) {
		return nil, fmt.Errorf("child %s is not terminal: %s", child.ID, child.Status)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning child accounting: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	child.UpdatedAt = now
	if child.Status == StatusCompleted {
		child.Progress = 100
		if child.CompletedAt == nil {
			child.CompletedAt = &now
		}
	}

	if _, err := tx.Exec(`
		UPDATE queue_items
		SET status = ?, progress = ?, output_path = ?, error_message = ?,
		    retry_count = ?, partial_file_path = ?, bytes_downloaded = ?,
		    total_bytes = ?, updated_at = ?, completed_at = ?
		WHERE id = ?`,
		child.Status, child.Progress, child.OutputPath, child.ErrorMessage,
		child.RetryCount, child.PartialFilePath, child.BytesDownloaded,
		child.TotalBytes, child.UpdatedAt, child.CompletedAt, child.ID,
	); err != nil {
		return nil, fmt.Errorf("recording terminal child %s: %w", child.ID, err)
	}

	if child.ParentID == "" {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing child accounting: %w", err)
		}
		return nil, nil
	}

	if child.Status == StatusFailed {
		if _, err := tx.Exec(`
			INSERT INTO failed_tracks (parent_id, track_id, track_title, track_artist, error_message, retry_count)
			VALUES (?, ?, ?, ?, ?, ?)`,
			child.ParentID, child.ID, child.Title, child.Artist, child.ErrorMessage, child.RetryCount,
		); err != nil {
			return nil, fmt.Errorf("recording failed track %s: %w", child.ID, err)
		}
	}

	parent := &QueueItem{}
	row := tx.QueryRow(`SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, child.ParentID)
	parent, err = scanItem(row)
	if err == sql.ErrNoRows {
		// Parent was deleted (cancellation raced the worker); the child
		// update alone still stands.
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("committing orphan child accounting: %w", err)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading parent %s: %w", child.ParentID, err)
	}

	var completed, finished int
	if err := tx.QueryRow(`
		SELECT
			COALESCE(SUM(status = 'completed'), 0),
			COALESCE(SUM(status IN ('completed', 'failed')), 0)
		FROM queue_items WHERE parent_id = ?`, child.ParentID,
	).Scan(&completed, &finished); err != nil {
		return nil, fmt.Errorf("counting children of %s: %w", child.ParentID, err)
	}

	update := &FamilyUpdate{Parent: parent}
	parent.CompletedTracks = completed
	parent.UpdatedAt = now

	if parent.TotalTracks > 0 && finished >= parent.TotalTracks {
		update.BecameTerminal = true
		parent.Progress = 100
		parent.CompletedAt = &now
		if completed > 0 {
			parent.Status = StatusCompleted
			update.PartialSuccess = completed < parent.TotalTracks
		} else {
			parent.Status = StatusFailed
			parent.ErrorMessage = "all tracks failed"
		}
	} else {
		parent.Status = StatusDownloading
		if parent.TotalTracks > 0 {
			parent.Progress = finished * 100 / parent.TotalTracks
		}
	}

	if _, err := tx.Exec(`
		UPDATE queue_items
		SET status = ?, progress = ?, completed_tracks = ?, error_message = ?,
		    updated_at = ?, completed_at = ?
		WHERE id = ?`,
		parent.Status, parent.Progress, parent.CompletedTracks, parent.ErrorMessage,
		parent.UpdatedAt, parent.CompletedAt, parent.ID,
	); err != nil {
		return nil, fmt.Errorf("settling parent %s: %w", parent.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing child accounting: %w", err)
	}

	if update.BecameTerminal {
		s.checkpoint()
	}
	return update, nil
}

// CountCompletedChildren counts a parent's successfully finished tracks.
func (s *QueueStore) CountCompletedChildren(parentID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE parent_id = ? AND status = 'completed'`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting completed children of %s: %w", parentID, err)
	}
	return n, nil
}

// CountFinishedChildren counts children in any terminal state. A failed
// child counts once it is marked failed, regardless of how many retries it
// consumed getting there.
func (s *QueueStore) CountFinishedChildren(parentID string) (int, error) {
	var n int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM queue_items
		WHERE parent_id = ? AND status IN ('completed', 'failed')`, parentID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting finished children of %s: %w", parentID, err)
	}
	return n, nil
}

// FailedTracks lists the failure records of one parent, newest first.
func (s *QueueStore) FailedTracks(parentID string) ([]*FailedTrack, error) {
	rows, err := s.db.Query(`
		SELECT id, parent_id, track_id, track_title, track_artist, error_message, retry_count, failed_at
		FROM failed_tracks
		WHERE parent_id = ?
		ORDER BY failed_at DESC`, parentID)
	if err != nil {
		return nil, fmt.Errorf("listing failed tracks of %s: %w", parentID, err)
	}
	defer rows.Close()

	tracks := []*FailedTrack{}
	for rows.Next() {
		ft := &FailedTrack{}
		var artist, errMsg sql.NullString
		if err := rows.Scan(&ft.ID, &ft.ParentID, &ft.TrackID, &ft.TrackTitle,
			&artist, &errMsg, &ft.RetryCount, &ft.FailedAt); err != nil {
			return nil, fmt.Errorf("scanning failed track: %w", err)
		}
		ft.TrackArtist = artist.String
		ft.ErrorMessage = errMsg.String
		tracks = append(tracks, ft)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating failed tracks: %w", err)
	}
	return tracks, nil
}

// ClearFailedTracks drops the failure records of a parent, used when its
// failed children are re-enqueued.
func (s *QueueStore) ClearFailedTracks(parentID string) error {
	if _, err := s.db.Exec("DELETE FROM failed_tracks WHERE parent_id = ?", parentID); err != nil {
		return fmt.Errorf("clearing failed tracks of %s: %w", parentID, err)
	}
	return nil
}
