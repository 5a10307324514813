// Package download coordinates the persistent queue, the worker pool and
// the per-track pipeline. Albums and playlists are expanded into child
// track rows at admission; the scheduler only ever dispatches tracks.
package download

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/deezer"
	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/monitoring"
	"github.com/melodex/melodex-core/internal/store"
)

// ErrAlreadyQueued is returned when an admission request duplicates an
// item still in the queue.
var ErrAlreadyQueued = errors.New("item is already in the queue")

// dispatchInterval paces the scheduler loop.
const dispatchInterval = 500 * time.Millisecond

// dispatchBatch bounds how many pending rows one scheduler pass reads.
const dispatchBatch = 100

// CatalogService is the slice of the service client admission needs.
type CatalogService interface {
	GetTrack(ctx context.Context, trackID string) (*deezer.Track, error)
	GetAlbum(ctx context.Context, albumID string) (*deezer.Album, error)
	GetPlaylist(ctx context.Context, playlistID string) (*deezer.Playlist, error)
}

// Pipeline turns one pending track row into a finished file.
type Pipeline interface {
	Process(ctx context.Context, item *store.QueueItem) error
}

// TrackInfo is the pipeline input persisted on each queue row, built at
// admission from catalog data.
type TrackInfo struct {
	TrackID          string `json:"track_id"`
	Title            string `json:"title"`
	Artist           string `json:"artist"`
	Album            string `json:"album"`
	AlbumArtist      string `json:"album_artist,omitempty"`
	TrackNumber      int    `json:"track_number,omitempty"`
	DiscNumber       int    `json:"disc_number,omitempty"`
	TotalDiscs       int    `json:"total_discs,omitempty"`
	Year             int    `json:"year,omitempty"`
	Genre            string `json:"genre,omitempty"`
	ISRC             string `json:"isrc,omitempty"`
	Label            string `json:"label,omitempty"`
	Duration         int    `json:"duration,omitempty"`
	Quality          string `json:"quality,omitempty"`
	CoverURL         string `json:"cover_url,omitempty"`
	Playlist         string `json:"playlist,omitempty"`
	PlaylistPosition int    `json:"playlist_position,omitempty"`
}

// Manager owns queue admission, scheduling and completion accounting.
type Manager struct {
	cfg      *config.Config
	queue    *store.QueueStore
	catalog  CatalogService
	pipeline Pipeline
	notifier Notifier
	pool     *WorkerPool
	logger   *zap.Logger

	// discCounts remembers disc totals per album so single-track
	// admissions get consistent CD-folder placement. playlists memoizes
	// listings for repeat admissions within a session.
	discCounts *lru.Cache[string, int]
	playlists  *lru.Cache[string, *deezer.Playlist]

	mu       sync.RWMutex
	paused   map[string]bool
	inflight map[string]bool
	started  bool
	stopping bool
}

// NewManager wires the scheduler. notifier may be nil.
func NewManager(
	cfg *config.Config,
	queue *store.QueueStore,
	catalog CatalogService,
	pipeline Pipeline,
	notifier Notifier,
	logger *zap.Logger,
) *Manager {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	discCounts, _ := lru.New[string, int](512)
	playlists, _ := lru.New[string, *deezer.Playlist](64)
	m := &Manager{
		cfg:        cfg,
		queue:      queue,
		catalog:    catalog,
		pipeline:   pipeline,
		notifier:   notifier,
		logger:     logger.Named("download"),
		discCounts: discCounts,
		playlists:  playlists,
		paused:     make(map[string]bool),
		inflight:   make(map[string]bool),
	}
	m.pool = NewWorkerPool(workerCount(cfg), m.handle, logger)
	return m
}

func workerCount(cfg *config.Config) int {
	n := cfg.Download.ConcurrentDownloads
	if n < 1 {
		n = 1
	}
	if n > 32 {
		n = 32
	}
	return n
}

// Start recovers persisted state from the previous session and launches
// the workers and the scheduler loop.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errs.Validation("download manager already started")
	}
	m.started = true
	m.stopping = false
	m.mu.Unlock()

	if n, err := m.queue.ResetInFlight(); err != nil {
		m.logger.Warn("resetting in-flight downloads", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("reset interrupted downloads", zap.Int("count", n))
	}
	if n, err := m.queue.FixIncompleteParents(); err != nil {
		m.logger.Warn("fixing incomplete parents", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("requeued incomplete parents", zap.Int("count", n))
	}
	if n, err := m.queue.FixStuckParents(); err != nil {
		m.logger.Warn("fixing stuck parents", zap.Error(err))
	} else if n > 0 {
		m.logger.Info("settled stuck parents", zap.Int("count", n))
	}

	if err := m.pool.Start(ctx); err != nil {
		m.mu.Lock()
		m.started = false
		m.mu.Unlock()
		return err
	}

	go m.consumeResults()
	go m.schedule(ctx)
	return nil
}

// Stop cancels running downloads and shuts the pool down. In-flight
// tracks are reset to pending so the next session resumes them.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	m.stopping = true
	m.mu.Unlock()

	m.pool.Stop()

	if _, err := m.queue.ResetInFlight(); err != nil {
		m.logger.Warn("resetting in-flight downloads on stop", zap.Error(err))
	}
}

// StopAll cancels everything that is running or queued without shutting
// the manager down. In-flight rows revert to paused so they stay
// resumable but are not re-dispatched.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	m.stopping = true
	m.mu.Unlock()

	m.pool.CancelAll()

	// Give cancelled handlers a moment to write their paused state,
	// then sweep anything still marked downloading.
	time.Sleep(100 * time.Millisecond)
	if _, err := m.queue.PauseInFlight(); err != nil {
		return err
	}

	m.mu.Lock()
	m.stopping = false
	m.inflight = make(map[string]bool)
	m.mu.Unlock()
	return nil
}

// schedule dispatches pending track rows to the pool in FIFO order.
func (m *Manager) schedule(ctx context.Context) {
	ticker := time.NewTicker(dispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.running() {
				return
			}
			m.dispatch()
		}
	}
}

func (m *Manager) dispatch() {
	m.mu.RLock()
	stopping := m.stopping
	m.mu.RUnlock()
	if stopping {
		return
	}

	items, err := m.queue.Pending(dispatchBatch)
	if err != nil {
		m.logger.Warn("reading pending queue", zap.Error(err))
		return
	}

	for _, item := range items {
		m.mu.Lock()
		if m.inflight[item.ID] || m.paused[item.ID] || m.paused[item.ParentID] {
			m.mu.Unlock()
			continue
		}
		m.inflight[item.ID] = true
		m.mu.Unlock()

		if err := m.pool.Submit(&Job{ID: item.ID, Item: item}); err != nil {
			m.mu.Lock()
			delete(m.inflight, item.ID)
			m.mu.Unlock()
			return
		}
	}
}

// handle is the pool's job handler: it runs the pipeline for one track
// and settles the row.
func (m *Manager) handle(ctx context.Context, job *Job) error {
	item, err := m.queue.Get(job.ID)
	if err != nil {
		// Cancelled between dispatch and start.
		return nil
	}
	if item.Status == store.StatusCompleted {
		return nil
	}
	if m.isPaused(item) {
		return nil
	}

	item.Status = store.StatusDownloading
	item.ErrorMessage = ""
	if err := m.queue.Update(item); err != nil {
		return err
	}

	m.notifier.NotifyStarted(item.ID)
	monitoring.RecordDownloadStart()
	started := time.Now()

	procErr := m.pipeline.Process(ctx, item)
	return m.settle(item, procErr, time.Since(started))
}

// settle records the pipeline outcome: terminal states go through the
// family accounting, interruptions return the row to pending or paused.
func (m *Manager) settle(item *store.QueueItem, procErr error, took time.Duration) error {
	// The row may have been cancelled and deleted while the pipeline ran.
	current, err := m.queue.Get(item.ID)
	if err != nil {
		return nil
	}

	if procErr != nil && errors.Is(procErr, context.Canceled) {
		// The stop-all sweep may have paused the row already; keep that.
		if m.isPaused(item) || m.isStopping() || current.Status == store.StatusPaused {
			item.Status = store.StatusPaused
		} else {
			// Shutdown or a cancelled pool context: the row goes back to
			// pending and resumes next session from its partial file.
			item.Status = store.StatusPending
		}
		monitoring.RecordDownloadInterrupted()
		return m.queue.Update(item)
	}

	// A retryable failure goes back to pending until the retry budget is
	// spent; only then does the row turn terminal.
	if procErr != nil && errs.IsRetryable(procErr) && item.RetryCount < m.maxRetries() {
		item.Status = store.StatusPending
		item.ErrorMessage = procErr.Error()
		item.RetryCount++
		monitoring.RecordRetry(string(errs.KindOf(procErr)))
		monitoring.RecordDownloadInterrupted()
		m.logger.Warn("track requeued after retryable failure",
			zap.String("item_id", item.ID),
			zap.Int("retry_count", item.RetryCount),
			zap.Error(procErr))
		return m.queue.Update(item)
	}

	if procErr == nil {
		item.Status = store.StatusCompleted
		item.Progress = 100
		item.ErrorMessage = ""
		monitoring.RecordDownloadComplete(m.cfg.Download.Quality, took, item.BytesDownloaded)
	} else {
		item.Status = store.StatusFailed
		item.ErrorMessage = procErr.Error()
		monitoring.RecordDownloadFailed(m.cfg.Download.Quality, string(errs.KindOf(procErr)))
	}

	family, err := m.queue.FinishChild(item)
	if err != nil {
		m.logger.Error("settling track", zap.String("item_id", item.ID), zap.Error(err))
		return err
	}

	if procErr == nil {
		m.notifier.NotifyCompleted(item.ID)
	} else {
		m.notifier.NotifyFailed(item.ID, procErr)
	}

	if family != nil && family.BecameTerminal {
		parent := family.Parent
		if parent.Status == store.StatusCompleted {
			m.notifier.NotifyCompleted(parent.ID)
			if family.PartialSuccess {
				m.logger.Warn("family finished with failures",
					zap.String("parent_id", parent.ID),
					zap.Int("completed", parent.CompletedTracks),
					zap.Int("total", parent.TotalTracks))
			}
		} else {
			m.notifier.NotifyFailed(parent.ID, errors.New(parent.ErrorMessage))
		}
	}
	return procErr
}

func (m *Manager) consumeResults() {
	for result := range m.pool.Results() {
		m.mu.Lock()
		delete(m.inflight, result.JobID)
		m.mu.Unlock()

		if stats, err := m.queue.Stats(); err == nil {
			monitoring.UpdateQueueSize(stats.Pending + stats.Downloading)
		}
	}
}

// DownloadTrack admits a single track. quality overrides the configured
// default when non-empty.
func (m *Manager) DownloadTrack(ctx context.Context, trackID, quality string) (string, error) {
	if trackID == "" {
		return "", errs.Validation("track ID cannot be empty")
	}
	id := trackItemID(trackID)
	if err := m.ensureAdmissible(id); err != nil {
		return "", err
	}

	track, err := m.catalog.GetTrack(ctx, trackID)
	if err != nil {
		return "", err
	}

	info := trackInfoFromTrack(track)
	info.Quality = quality
	if track.Album != nil {
		if discs, ok := m.discCounts.Get(string(track.Album.ID)); ok {
			info.TotalDiscs = discs
		}
	}

	item := &store.QueueItem{
		ID:     id,
		Type:   store.TypeTrack,
		Title:  track.Title,
		Artist: track.ArtistName(),
		Album:  track.AlbumTitle(),
		Status: store.StatusPending,
	}
	if err := item.SetMetadata(info); err != nil {
		return "", err
	}
	if err := m.queue.Insert(item); err != nil {
		return "", err
	}
	m.logger.Info("track queued", zap.String("item_id", id), zap.String("title", track.Title))
	return id, nil
}

// DownloadAlbum admits an album as a parent row plus one child per track.
func (m *Manager) DownloadAlbum(ctx context.Context, albumID, quality string) (string, error) {
	if albumID == "" {
		return "", errs.Validation("album ID cannot be empty")
	}
	id := albumItemID(albumID)
	if err := m.ensureAdmissible(id); err != nil {
		return "", err
	}

	album, err := m.catalog.GetAlbum(ctx, albumID)
	if err != nil {
		return "", err
	}
	if album.Tracks == nil || len(album.Tracks.Data) == 0 {
		return "", errs.Validation("album has no tracks: " + albumID)
	}
	tracks := album.Tracks.Data

	totalDiscs := album.DiscCount
	for _, t := range tracks {
		if t.DiscNumber > totalDiscs {
			totalDiscs = t.DiscNumber
		}
	}
	m.discCounts.Add(albumID, totalDiscs)

	parent := &store.QueueItem{
		ID:          id,
		Type:        store.TypeAlbum,
		Title:       album.Title,
		Artist:      album.ArtistName(),
		Album:       album.Title,
		Status:      store.StatusDownloading,
		TotalTracks: len(tracks),
	}
	if err := m.queue.Insert(parent); err != nil {
		return "", err
	}

	children := make([]*store.QueueItem, 0, len(tracks))
	for _, t := range tracks {
		info := trackInfoFromTrack(t)
		info.Quality = quality
		info.Album = album.Title
		info.AlbumArtist = album.ArtistName()
		info.TotalDiscs = totalDiscs
		info.Label = album.Label
		info.CoverURL = coverURL(album)
		if info.Year == 0 {
			info.Year = yearOf(album.ReleaseDate)
		}
		if info.Genre == "" {
			info.Genre = albumGenre(album)
		}

		child := &store.QueueItem{
			ID:       childItemID(albumID, t.ID.String()),
			Type:     store.TypeTrack,
			Title:    t.Title,
			Artist:   t.ArtistName(),
			Album:    album.Title,
			Status:   store.StatusPending,
			ParentID: id,
		}
		if child.Artist == "" {
			child.Artist = album.ArtistName()
		}
		if err := child.SetMetadata(info); err != nil {
			return "", err
		}
		children = append(children, child)
	}
	if err := m.queue.InsertBatch(children); err != nil {
		return "", err
	}

	m.logger.Info("album queued",
		zap.String("item_id", id),
		zap.String("title", album.Title),
		zap.Int("tracks", len(children)))
	return id, nil
}

// DownloadPlaylist admits a playlist as a parent row plus one child per
// track, preserving playlist order.
func (m *Manager) DownloadPlaylist(ctx context.Context, playlistID, quality string) (string, error) {
	if playlistID == "" {
		return "", errs.Validation("playlist ID cannot be empty")
	}
	id := playlistItemID(playlistID)
	if err := m.ensureAdmissible(id); err != nil {
		return "", err
	}

	playlist, ok := m.playlists.Get(playlistID)
	if !ok {
		var err error
		playlist, err = m.catalog.GetPlaylist(ctx, playlistID)
		if err != nil {
			return "", err
		}
		m.playlists.Add(playlistID, playlist)
	}
	if playlist.Tracks == nil || len(playlist.Tracks.Data) == 0 {
		return "", errs.Validation("playlist has no tracks: " + playlistID)
	}
	tracks := playlist.Tracks.Data

	creator := ""
	if playlist.Creator != nil {
		creator = playlist.Creator.Name
	}
	parent := &store.QueueItem{
		ID:          id,
		Type:        store.TypePlaylist,
		Title:       playlist.Title,
		Artist:      creator,
		Status:      store.StatusDownloading,
		TotalTracks: len(tracks),
	}
	if err := m.queue.Insert(parent); err != nil {
		return "", err
	}

	children := make([]*store.QueueItem, 0, len(tracks))
	for i, t := range tracks {
		info := trackInfoFromTrack(t)
		info.Quality = quality
		info.Playlist = playlist.Title
		info.PlaylistPosition = i + 1

		child := &store.QueueItem{
			ID:       childItemID(playlistID, t.ID.String()),
			Type:     store.TypeTrack,
			Title:    t.Title,
			Artist:   t.ArtistName(),
			Album:    t.AlbumTitle(),
			Status:   store.StatusPending,
			ParentID: id,
		}
		if err := child.SetMetadata(info); err != nil {
			return "", err
		}
		children = append(children, child)
	}
	if err := m.queue.InsertBatch(children); err != nil {
		return "", err
	}

	m.logger.Info("playlist queued",
		zap.String("item_id", id),
		zap.String("title", playlist.Title),
		zap.Int("tracks", len(children)))
	return id, nil
}

// DownloadCustomPlaylist admits an ad-hoc track list (for example an
// import from another service) under a generated playlist parent.
func (m *Manager) DownloadCustomPlaylist(ctx context.Context, title string, trackIDs []string, quality string) (string, error) {
	if title == "" {
		return "", errs.Validation("playlist title cannot be empty")
	}
	if len(trackIDs) == 0 {
		return "", errs.Validation("playlist has no tracks")
	}

	key := uuid.NewString()
	id := "playlist_custom_" + key
	parent := &store.QueueItem{
		ID:          id,
		Type:        store.TypePlaylist,
		Title:       title,
		Status:      store.StatusDownloading,
		TotalTracks: len(trackIDs),
	}
	if err := m.queue.Insert(parent); err != nil {
		return "", err
	}

	children := make([]*store.QueueItem, 0, len(trackIDs))
	for i, trackID := range trackIDs {
		// Titles resolve lazily: the pipeline fetches catalog data for
		// rows admitted with only a track ID.
		info := TrackInfo{
			TrackID:          trackID,
			Quality:          quality,
			Playlist:         title,
			PlaylistPosition: i + 1,
		}
		child := &store.QueueItem{
			ID:       childItemID(key, trackID),
			Type:     store.TypeTrack,
			Status:   store.StatusPending,
			ParentID: id,
		}
		if err := child.SetMetadata(info); err != nil {
			return "", err
		}
		children = append(children, child)
	}
	if err := m.queue.InsertBatch(children); err != nil {
		return "", err
	}
	return id, nil
}

// Pause suspends an item. For parents the whole family is suspended;
// the running track, if any, is interrupted.
func (m *Manager) Pause(itemID string) error {
	item, err := m.queue.Get(itemID)
	if err != nil {
		return err
	}
	if store.IsTerminal(item.Status) {
		return errs.Validation("cannot pause a finished item")
	}

	m.mu.Lock()
	m.paused[itemID] = true
	m.mu.Unlock()

	m.pool.Cancel(itemID)
	if item.IsParent() && item.Type != store.TypeTrack {
		children, err := m.queue.Children(itemID)
		if err != nil {
			return err
		}
		for _, child := range children {
			m.pool.Cancel(child.ID)
			if child.Status == store.StatusPending {
				child.Status = store.StatusPaused
				if err := m.queue.Update(child); err != nil {
					return err
				}
			}
		}
	}

	if !store.IsTerminal(item.Status) {
		item.Status = store.StatusPaused
		return m.queue.Update(item)
	}
	return nil
}

// Resume returns a paused item (and its paused children) to pending.
func (m *Manager) Resume(itemID string) error {
	item, err := m.queue.Get(itemID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.paused, itemID)
	m.mu.Unlock()

	if item.IsParent() && item.Type != store.TypeTrack {
		children, err := m.queue.Children(itemID)
		if err != nil {
			return err
		}
		for _, child := range children {
			if child.Status == store.StatusPaused {
				child.Status = store.StatusPending
				if err := m.queue.Update(child); err != nil {
					return err
				}
			}
		}
		item.Status = store.StatusDownloading
		return m.queue.Update(item)
	}

	if item.Status == store.StatusPaused {
		item.Status = store.StatusPending
		return m.queue.Update(item)
	}
	return nil
}

// Cancel removes an item and its children from the queue, interrupting
// any running downloads and deleting partial files.
func (m *Manager) Cancel(itemID string) error {
	item, err := m.queue.Get(itemID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.paused, itemID)
	m.mu.Unlock()

	m.pool.Cancel(itemID)
	removePartial(item)

	children, err := m.queue.Children(itemID)
	if err == nil {
		for _, child := range children {
			m.pool.Cancel(child.ID)
			removePartial(child)
		}
	}

	if err := m.queue.DeleteChildren(itemID); err != nil {
		return err
	}
	return m.queue.Delete(itemID)
}

// Retry requeues a failed item. For parents only the failed children
// are reset; completed tracks are not downloaded again.
func (m *Manager) Retry(itemID string) error {
	item, err := m.queue.Get(itemID)
	if err != nil {
		return err
	}

	if item.IsParent() && item.Type != store.TypeTrack {
		children, err := m.queue.Children(itemID)
		if err != nil {
			return err
		}
		retried := 0
		for _, child := range children {
			if child.Status != store.StatusFailed {
				continue
			}
			child.Status = store.StatusPending
			child.ErrorMessage = ""
			child.Progress = 0
			child.RetryCount++
			if err := m.queue.Update(child); err != nil {
				return err
			}
			retried++
		}
		if retried == 0 {
			return errs.Validation("no failed tracks to retry")
		}
		if err := m.queue.ClearFailedTracks(itemID); err != nil {
			return err
		}
		item.Status = store.StatusDownloading
		item.CompletedAt = nil
		item.ErrorMessage = ""
		return m.queue.Update(item)
	}

	if item.Status != store.StatusFailed {
		return errs.Validation("only failed items can be retried")
	}
	item.Status = store.StatusPending
	item.ErrorMessage = ""
	item.Progress = 0
	item.RetryCount++
	return m.queue.Update(item)
}

// Stats combines persistent queue counts with live session counters.
func (m *Manager) Stats() (*store.QueueStats, error) {
	return m.queue.Stats()
}

// ActiveCount reports how many tracks are downloading right now.
func (m *Manager) ActiveCount() int {
	return m.pool.ActiveCount()
}

// ensureAdmissible rejects a duplicate only while the existing row is
// live. Terminal leftovers are cleared so a finished item can be
// downloaded again.
func (m *Manager) ensureAdmissible(id string) error {
	item, err := m.queue.Get(id)
	if err != nil {
		return nil
	}
	if !store.IsTerminal(item.Status) {
		return ErrAlreadyQueued
	}
	if err := m.queue.ClearFailedTracks(id); err != nil {
		return err
	}
	if err := m.queue.DeleteChildren(id); err != nil {
		return err
	}
	return m.queue.Delete(id)
}

func (m *Manager) isPaused(item *store.QueueItem) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paused[item.ID] || (item.ParentID != "" && m.paused[item.ParentID])
}

// maxRetries is the per-row requeue budget from settings.
func (m *Manager) maxRetries() int {
	n := m.cfg.Network.MaxRetries
	if n < 0 {
		return 0
	}
	return n
}

func (m *Manager) isStopping() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stopping
}

func (m *Manager) running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.started
}

func removePartial(item *store.QueueItem) {
	if item.PartialFilePath != "" {
		os.Remove(item.PartialFilePath)
	}
}

func trackItemID(trackID string) string { return "track_" + trackID }

func albumItemID(albumID string) string { return "album_" + albumID }

func playlistItemID(listID string) string { return "playlist_" + listID }

func childItemID(parent, track string) string {
	return fmt.Sprintf("track_%s_%s", parent, track)
}

// trackInfoFromTrack captures the catalog fields the pipeline needs.
func trackInfoFromTrack(t *deezer.Track) TrackInfo {
	info := TrackInfo{
		TrackID:     t.ID.String(),
		Title:       t.Title,
		Artist:      t.ArtistName(),
		Album:       t.AlbumTitle(),
		TrackNumber: t.Number(),
		DiscNumber:  t.DiscNumber,
		ISRC:        t.ISRC,
		Duration:    t.Duration,
		Year:        yearOf(t.ReleaseDate),
	}
	if t.Album != nil {
		info.CoverURL = coverURL(t.Album)
	}
	return info
}

func coverURL(album *deezer.Album) string {
	switch {
	case album.CoverXL != "":
		return album.CoverXL
	case album.CoverBig != "":
		return album.CoverBig
	default:
		return album.Cover
	}
}

func albumGenre(album *deezer.Album) string {
	if album.Genres == nil || len(album.Genres.Data) == 0 {
		return ""
	}
	return album.Genres.Data[0].Name
}

// yearOf extracts the year from a "2006-01-02" release date.
func yearOf(date string) int {
	if len(date) < 4 {
		return 0
	}
	year, err := strconv.Atoi(date[:4])
	if err != nil {
		return 0
	}
	return year
}
