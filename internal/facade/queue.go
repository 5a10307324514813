package facade

import (
	"context"
	"encoding/json"
	"time"

	"github.com/melodex/melodex-core/internal/store"
)

// admissionTimeout bounds the catalog fetches done while expanding an
// album or playlist into queue rows.
const admissionTimeout = 2 * time.Minute

func admissionCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), admissionTimeout)
}

// DownloadTrack queues one track. quality overrides the configured
// default when non-empty. Returns the queue item ID.
func (a *App) DownloadTrack(trackID, quality string) (string, int) {
	manager, _, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	ctx, cancel := admissionCtx()
	defer cancel()
	id, err := manager.DownloadTrack(ctx, trackID, quality)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return id, CodeOK
}

// DownloadAlbum queues an album and all its tracks.
func (a *App) DownloadAlbum(albumID, quality string) (string, int) {
	manager, _, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	ctx, cancel := admissionCtx()
	defer cancel()
	id, err := manager.DownloadAlbum(ctx, albumID, quality)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return id, CodeOK
}

// DownloadPlaylist queues a playlist and all its tracks.
func (a *App) DownloadPlaylist(playlistID, quality string) (string, int) {
	manager, _, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	ctx, cancel := admissionCtx()
	defer cancel()
	id, err := manager.DownloadPlaylist(ctx, playlistID, quality)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return id, CodeOK
}

// customPlaylistRequest is the wire document for imported track lists.
type customPlaylistRequest struct {
	Title    string   `json:"title"`
	TrackIDs []string `json:"track_ids"`
	Quality  string   `json:"quality,omitempty"`
}

// DownloadCustomPlaylist queues an imported track list described by a
// {"title": ..., "track_ids": [...]} JSON document.
func (a *App) DownloadCustomPlaylist(doc string) (string, int) {
	manager, _, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}

	var req customPlaylistRequest
	if err := json.Unmarshal([]byte(doc), &req); err != nil {
		return wireError(err, CodeValidation)
	}

	ctx, cancel := admissionCtx()
	defer cancel()
	id, err := manager.DownloadCustomPlaylist(ctx, req.Title, req.TrackIDs, req.Quality)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return id, CodeOK
}

// PauseDownload suspends an item (and its children).
func (a *App) PauseDownload(itemID string) int {
	manager, _, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	return codeFor(manager.Pause(itemID))
}

// ResumeDownload returns a paused item to the queue.
func (a *App) ResumeDownload(itemID string) int {
	manager, _, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	return codeFor(manager.Resume(itemID))
}

// CancelDownload removes an item and its children, deleting partials.
func (a *App) CancelDownload(itemID string) int {
	manager, _, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	return codeFor(manager.Cancel(itemID))
}

// RetryDownload requeues a failed item, or a parent's failed tracks.
func (a *App) RetryDownload(itemID string) int {
	manager, _, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	return codeFor(manager.Retry(itemID))
}

// StopAllDownloads interrupts everything running; in-flight rows move to
// paused so they stay resumable.
func (a *App) StopAllDownloads() int {
	manager, _, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	return codeFor(manager.StopAll())
}

// GetQueue lists queue families as {items,total,offset,limit} JSON.
// filter restricts the page to one status; empty means all.
func (a *App) GetQueue(offset, limit int, filter string) (string, int) {
	_, queue, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	if limit <= 0 {
		limit = 100
	}

	var (
		items []*store.QueueItem
		err   error
	)
	if filter == "" {
		items, err = queue.List(offset, limit)
	} else {
		items, err = queue.ListByStatus(filter, offset, limit)
	}
	if err != nil {
		return wireError(err, codeFor(err))
	}
	total, err := queue.Count(filter)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wirePage(items, total, offset, limit)
}

// GetQueueItem returns one queue row by ID.
func (a *App) GetQueueItem(itemID string) (string, int) {
	_, queue, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	item, err := queue.Get(itemID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(item)
}

// GetQueueChildren returns a parent's child tracks as {data,total}.
func (a *App) GetQueueChildren(parentID string) (string, int) {
	_, queue, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	children, err := queue.Children(parentID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireList(children, len(children))
}

// GetFailedTracks lists a parent's failed-track records as {data,total}.
func (a *App) GetFailedTracks(parentID string) (string, int) {
	_, queue, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	failed, err := queue.FailedTracks(parentID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireList(failed, len(failed))
}

// GetStats returns aggregate queue counters.
func (a *App) GetStats() (string, int) {
	manager, _, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	stats, err := manager.Stats()
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(stats)
}

// ClearCompleted removes finished families from the queue.
func (a *App) ClearCompleted() int {
	_, queue, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	if _, err := queue.ClearCompleted(); err != nil {
		return codeFor(err)
	}
	return CodeOK
}

// ClearQueue removes every queue row. Running downloads are stopped first.
func (a *App) ClearQueue() int {
	manager, queue, ok := a.handle()
	if !ok {
		return CodeNotInitialized
	}
	if err := manager.StopAll(); err != nil {
		return codeFor(err)
	}
	if err := queue.ClearAll(); err != nil {
		return codeFor(err)
	}
	return CodeOK
}

// GetHistory pages through the download history, newest first.
func (a *App) GetHistory(offset, limit int) (string, int) {
	_, queue, ok := a.handle()
	if !ok {
		return "", CodeNotInitialized
	}
	if limit <= 0 {
		limit = 50
	}
	entries, total, err := queue.History(offset, limit)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wirePage(entries, total, offset, limit)
}
