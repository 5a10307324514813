package store

import (
	"fmt"
	"time"
)

// stuckThreshold is how long a downloading parent may sit without an update
// before the startup sweep considers it abandoned.
const stuckThreshold = 5 * time.Minute

// ResetInFlight demotes rows left in downloading by a previous process back
// to pending. Runs once before the scheduler starts.
func (s *QueueStore) ResetInFlight() (int, error) {
	result, err := s.db.Exec(`
		UPDATE queue_items
		SET status = 'pending', updated_at = ?
		WHERE status = 'downloading'`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("resetting in-flight items: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// PauseInFlight moves downloading track rows to paused. Used by stop-all,
// where rows must stay resumable without being re-dispatched.
func (s *QueueStore) PauseInFlight() (int, error) {
	result, err := s.db.Exec(`
		UPDATE queue_items
		SET status = 'paused', updated_at = ?
		WHERE status = 'downloading' AND type = 'track'`, time.Now())
	if err != nil {
		return 0, fmt.Errorf("pausing in-flight items: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// FixIncompleteParents demotes parents marked completed whose children are
// not all terminal, which happens when the process dies between the child
// update and the parent settle. Genuine partial successes (every child
// terminal, some failed) are left alone.
func (s *QueueStore) FixIncompleteParents() (int, error) {
	result, err := s.db.Exec(`
		UPDATE queue_items
		SET status = 'pending', completed_at = NULL, updated_at = ?
		WHERE type IN ('album', 'playlist')
		  AND status = 'completed'
		  AND total_tracks > 0
		  AND (SELECT COUNT(*) FROM queue_items c
		       WHERE c.parent_id = queue_items.id
		         AND c.status IN ('completed', 'failed')) < total_tracks`,
		time.Now())
	if err != nil {
		return 0, fmt.Errorf("fixing incomplete parents: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

// FixStuckParents settles parents stuck in downloading whose children are
// all terminal but whose settle transaction never ran. Only parents quiet
// for longer than the stuck threshold are touched so a live family is
// never raced.
func (s *QueueStore) FixStuckParents() (int, error) {
	cutoff := time.Now().Add(-stuckThreshold)
	rows, err := s.db.Query(`
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE type IN ('album', 'playlist')
		  AND status = 'downloading'
		  AND total_tracks > 0
		  AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("listing stuck parents: %w", err)
	}
	candidates, err := s.scanItems(rows, false)
	rows.Close()
	if err != nil {
		return 0, err
	}

	fixed := 0
	now := time.Now()
	for _, parent := range candidates {
		var completed, finished, children int
		if err := s.db.QueryRow(`
			SELECT
				COALESCE(SUM(status = 'completed'), 0),
				COALESCE(SUM(status IN ('completed', 'failed')), 0),
				COUNT(*)
			FROM queue_items WHERE parent_id = ?`, parent.ID,
		).Scan(&completed, &finished, &children); err != nil {
			return fixed, fmt.Errorf("counting children of stuck parent %s: %w", parent.ID, err)
		}
		// Settle against the rows that exist: a crash mid-admission can
		// leave fewer children than total_tracks, and those rows are all
		// the family will ever have.
		if finished < children {
			continue
		}

		status := StatusCompleted
		errMsg := parent.ErrorMessage
		if completed == 0 {
			status = StatusFailed
			errMsg = "all tracks failed"
		}
		if _, err := s.db.Exec(`
			UPDATE queue_items
			SET status = ?, progress = 100, completed_tracks = ?,
			    error_message = ?, updated_at = ?, completed_at = ?
			WHERE id = ?`,
			status, completed, errMsg, now, now, parent.ID,
		); err != nil {
			return fixed, fmt.Errorf("settling stuck parent %s: %w", parent.ID, err)
		}
		fixed++
	}

	if fixed > 0 {
		s.checkpoint()
	}
	return fixed, nil
}

// ClearCompleted removes finished work in one transaction: completed track
// children of completed parents, standalone completed tracks, and fully
// successful parents. Partial-success parents stay behind with their failed
// children so the user can still see and retry them.
func (s *QueueStore) ClearCompleted() (int, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning clear-completed: %w", err)
	}
	defer tx.Rollback()

	removed := 0

	result, err := tx.Exec(`
		DELETE FROM queue_items
		WHERE type = 'track'
		  AND status = 'completed'
		  AND parent_id IN (SELECT id FROM queue_items WHERE status = 'completed')`)
	if err != nil {
		return 0, fmt.Errorf("clearing completed children: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		removed += int(n)
	}

	result, err = tx.Exec(`
		DELETE FROM queue_items
		WHERE type = 'track'
		  AND status = 'completed'
		  AND (parent_id IS NULL OR parent_id = '')`)
	if err != nil {
		return 0, fmt.Errorf("clearing standalone completed tracks: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		removed += int(n)
	}

	result, err = tx.Exec(`
		DELETE FROM queue_items
		WHERE type IN ('album', 'playlist')
		  AND status = 'completed'
		  AND completed_tracks >= total_tracks
		  AND NOT EXISTS (SELECT 1 FROM queue_items c
		                  WHERE c.parent_id = queue_items.id
		                    AND c.status NOT IN ('completed', 'failed'))`)
	if err != nil {
		return 0, fmt.Errorf("clearing completed parents: %w", err)
	}
	if n, err := result.RowsAffected(); err == nil {
		removed += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing clear-completed: %w", err)
	}
	return removed, nil
}

// ClearAll empties the queue and its failure records.
func (s *QueueStore) ClearAll() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning clear-all: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM failed_tracks"); err != nil {
		return fmt.Errorf("clearing failed tracks: %w", err)
	}
	if _, err := tx.Exec("DELETE FROM queue_items"); err != nil {
		return fmt.Errorf("clearing queue: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing clear-all: %w", err)
	}
	return nil
}
