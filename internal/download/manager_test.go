package download

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/deezer"
	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/store"
)

// fakeCatalog serves canned catalog entities.
type fakeCatalog struct {
	tracks    map[string]*deezer.Track
	albums    map[string]*deezer.Album
	playlists map[string]*deezer.Playlist
}

func (f *fakeCatalog) GetTrack(_ context.Context, id string) (*deezer.Track, error) {
	if t, ok := f.tracks[id]; ok {
		return t, nil
	}
	return nil, errors.New("track not found: " + id)
}

func (f *fakeCatalog) GetAlbum(_ context.Context, id string) (*deezer.Album, error) {
	if a, ok := f.albums[id]; ok {
		return a, nil
	}
	return nil, errors.New("album not found: " + id)
}

func (f *fakeCatalog) GetPlaylist(_ context.Context, id string) (*deezer.Playlist, error) {
	if p, ok := f.playlists[id]; ok {
		return p, nil
	}
	return nil, errors.New("playlist not found: " + id)
}

// fakePipeline records processed rows and fails the configured item IDs.
type fakePipeline struct {
	mu        sync.Mutex
	processed []string
	fail      map[string]error
}

func (f *fakePipeline) Process(_ context.Context, item *store.QueueItem) error {
	f.mu.Lock()
	f.processed = append(f.processed, item.ID)
	err := f.fail[item.ID]
	f.mu.Unlock()
	return err
}

func (f *fakePipeline) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.processed...)
}

func catalogTrack(id, title, artist string) *deezer.Track {
	return &deezer.Track{
		ID:          deezer.FlexibleID(id),
		Title:       title,
		TrackNumber: 1,
		Artist:      &deezer.Artist{Name: artist},
		Album:       &deezer.Album{Title: "Album", CoverXL: "https://img/xl.jpg"},
		ReleaseDate: "2001-03-12",
		Available:   true,
	}
}

func catalogAlbum(title string, trackIDs ...string) *deezer.Album {
	tracks := make([]*deezer.Track, 0, len(trackIDs))
	for i, id := range trackIDs {
		tracks = append(tracks, &deezer.Track{
			ID:          deezer.FlexibleID(id),
			Title:       "Track " + id,
			TrackNumber: i + 1,
			DiscNumber:  1,
			Artist:      &deezer.Artist{Name: "Artist"},
		})
	}
	return &deezer.Album{
		ID:          deezer.FlexibleID("900"),
		Title:       title,
		Label:       "Label Records",
		CoverXL:     "https://img/album.jpg",
		DiscCount:   1,
		ReleaseDate: "1999-06-01",
		Artist:      &deezer.Artist{Name: "Artist"},
		Tracks:      &deezer.Tracks{Data: tracks},
	}
}

func newTestManager(t *testing.T, catalog *fakeCatalog, pipeline Pipeline, workers int) (*Manager, *store.QueueStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	queue := store.NewQueueStore(db)

	cfg := &config.Config{}
	cfg.Download.Quality = deezer.QualityMP3320
	cfg.Download.ConcurrentDownloads = workers

	return NewManager(cfg, queue, catalog, pipeline, nil, nil), queue
}

func newRetryManager(t *testing.T, catalog *fakeCatalog, pipeline Pipeline, maxRetries int) (*Manager, *store.QueueStore) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	queue := store.NewQueueStore(db)

	cfg := &config.Config{}
	cfg.Download.Quality = deezer.QualityMP3320
	cfg.Download.ConcurrentDownloads = 1
	cfg.Network.MaxRetries = maxRetries

	return NewManager(cfg, queue, catalog, pipeline, nil, nil), queue
}

// flakyPipeline fails each item a fixed number of times before succeeding.
type flakyPipeline struct {
	mu       sync.Mutex
	failures int
	err      error
	attempts map[string]int
}

func (f *flakyPipeline) Process(_ context.Context, item *store.QueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[item.ID]++
	if f.attempts[item.ID] <= f.failures {
		return f.err
	}
	return nil
}

func TestDownloadTrackAdmission(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"101": catalogTrack("101", "One More Time", "Daft Punk"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadTrack(context.Background(), "101", "")
	require.NoError(t, err)
	assert.Equal(t, "track_101", id)

	item, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, item.Status)
	assert.Equal(t, "One More Time", item.Title)

	var info TrackInfo
	require.NoError(t, item.Metadata(&info))
	assert.Equal(t, "101", info.TrackID)
	assert.Equal(t, "https://img/xl.jpg", info.CoverURL)
	assert.Equal(t, 2001, info.Year)

	_, err = m.DownloadTrack(context.Background(), "101", "")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestDownloadTrackValidation(t *testing.T) {
	m, _ := newTestManager(t, &fakeCatalog{}, &fakePipeline{}, 1)

	_, err := m.DownloadTrack(context.Background(), "", "")
	require.Error(t, err)

	_, err = m.DownloadTrack(context.Background(), "missing", "")
	require.Error(t, err)
}

func TestDownloadAlbumExpandsChildren(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2", "3"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)
	assert.Equal(t, "album_900", id)

	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDownloading, parent.Status)
	assert.Equal(t, 3, parent.TotalTracks)

	children, err := queue.Children(id)
	require.NoError(t, err)
	require.Len(t, children, 3)
	for i, child := range children {
		assert.Equal(t, store.StatusPending, child.Status)
		assert.Equal(t, id, child.ParentID)

		var info TrackInfo
		require.NoError(t, child.Metadata(&info))
		assert.Equal(t, "Discovery", info.Album)
		assert.Equal(t, "Artist", info.AlbumArtist)
		assert.Equal(t, "Label Records", info.Label)
		assert.Equal(t, 1999, info.Year)
		assert.Equal(t, i+1, info.TrackNumber)
	}

	_, err = m.DownloadAlbum(context.Background(), "900", "")
	assert.ErrorIs(t, err, ErrAlreadyQueued)
}

func TestDiscCountCacheUpgradesSingleTracks(t *testing.T) {
	album := catalogAlbum("Box Set", "1", "2")
	album.Tracks.Data[1].DiscNumber = 2

	single := catalogTrack("77", "Bonus", "Artist")
	single.Album.ID = "900"

	catalog := &fakeCatalog{
		albums: map[string]*deezer.Album{"900": album},
		tracks: map[string]*deezer.Track{"77": single},
	}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	_, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	id, err := m.DownloadTrack(context.Background(), "77", "")
	require.NoError(t, err)

	item, err := queue.Get(id)
	require.NoError(t, err)
	var info TrackInfo
	require.NoError(t, item.Metadata(&info))
	assert.Equal(t, 2, info.TotalDiscs, "disc total learned from the album admission")
}

func TestDownloadAlbumWithoutTracks(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"901": {ID: "901", Title: "Empty", Tracks: &deezer.Tracks{}},
	}}
	m, _ := newTestManager(t, catalog, &fakePipeline{}, 1)

	_, err := m.DownloadAlbum(context.Background(), "901", "")
	require.Error(t, err)
}

func TestDownloadPlaylistPreservesOrder(t *testing.T) {
	catalog := &fakeCatalog{playlists: map[string]*deezer.Playlist{
		"55": {
			ID:      "55",
			Title:   "Road Trip",
			Creator: &deezer.User{Name: "dj"},
			Tracks: &deezer.Tracks{Data: []*deezer.Track{
				catalogTrack("7", "Seven", "A"),
				catalogTrack("8", "Eight", "B"),
			}},
		},
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadPlaylist(context.Background(), "55", "")
	require.NoError(t, err)

	children, err := queue.Children(id)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for i, child := range children {
		var info TrackInfo
		require.NoError(t, child.Metadata(&info))
		assert.Equal(t, "Road Trip", info.Playlist)
		assert.Equal(t, i+1, info.PlaylistPosition)
	}
}

func TestDownloadCustomPlaylist(t *testing.T) {
	m, queue := newTestManager(t, &fakeCatalog{}, &fakePipeline{}, 1)

	id, err := m.DownloadCustomPlaylist(context.Background(), "Imported", []string{"11", "12"}, "")
	require.NoError(t, err)

	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.TypePlaylist, parent.Type)
	assert.Equal(t, 2, parent.TotalTracks)

	children, err := queue.Children(id)
	require.NoError(t, err)
	require.Len(t, children, 2)

	// Only the track ID is known up front; titles resolve during download.
	var info TrackInfo
	require.NoError(t, children[0].Metadata(&info))
	assert.Equal(t, "11", info.TrackID)
	assert.Empty(t, info.Title)
	assert.Equal(t, "Imported", info.Playlist)
}

func TestManagerProcessesQueueInOrder(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "First", "A"),
		"2": catalogTrack("2", "Second", "B"),
		"3": catalogTrack("3", "Third", "C"),
	}}
	pipeline := &fakePipeline{}
	m, queue := newTestManager(t, catalog, pipeline, 1)

	for _, id := range []string{"1", "2", "3"} {
		_, err := m.DownloadTrack(context.Background(), id, "")
		require.NoError(t, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		stats, err := queue.Stats()
		return err == nil && stats.Completed == 3
	}, 10*time.Second, 50*time.Millisecond)

	assert.Equal(t, []string{"track_1", "track_2", "track_3"}, pipeline.order())
}

func TestAlbumPartialSuccess(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2", "3"),
	}}
	pipeline := &fakePipeline{fail: map[string]error{
		"track_900_2": errors.New("stream unavailable"),
	}}
	m, queue := newTestManager(t, catalog, pipeline, 2)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		parent, err := queue.Get(id)
		return err == nil && store.IsTerminal(parent.Status)
	}, 10*time.Second, 50*time.Millisecond)

	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusCompleted, parent.Status)
	assert.Equal(t, 2, parent.CompletedTracks)

	failed, err := queue.FailedTracks(id)
	require.NoError(t, err)
	require.Len(t, failed, 1)
}

func TestStartupRecoveryRequeuesInterruptedTrack(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "First", "A"),
	}}
	pipeline := &fakePipeline{}
	m, queue := newTestManager(t, catalog, pipeline, 1)

	// Simulate a crash mid-download from a previous session.
	_, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)
	item, err := queue.Get("track_1")
	require.NoError(t, err)
	item.Status = store.StatusDownloading
	require.NoError(t, queue.Update(item))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		got, err := queue.Get("track_1")
		return err == nil && got.Status == store.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)
}

func TestPauseAndResumeFamily(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	require.NoError(t, m.Pause(id))
	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, parent.Status)

	children, err := queue.Children(id)
	require.NoError(t, err)
	for _, child := range children {
		assert.Equal(t, store.StatusPaused, child.Status)
	}

	require.NoError(t, m.Resume(id))
	parent, err = queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDownloading, parent.Status)

	children, err = queue.Children(id)
	require.NoError(t, err)
	for _, child := range children {
		assert.Equal(t, store.StatusPending, child.Status)
	}
}

func TestCancelRemovesFamily(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	require.NoError(t, m.Cancel(id))

	_, err = queue.Get(id)
	require.Error(t, err)
	children, err := queue.Children(id)
	require.NoError(t, err)
	assert.Empty(t, children)
}

func TestRetryFailedTrack(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "First", "A"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	_, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)
	item, err := queue.Get("track_1")
	require.NoError(t, err)
	item.Status = store.StatusFailed
	item.ErrorMessage = "boom"
	require.NoError(t, queue.Update(item))

	require.NoError(t, m.Retry("track_1"))

	got, err := queue.Get("track_1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, 1, got.RetryCount)

	// A pending item is not retryable.
	require.Error(t, m.Retry("track_1"))
}

func TestRetryableFailureRequeuesUntilSuccess(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "Flaky", "Artist"),
	}}
	pipeline := &flakyPipeline{failures: 2, err: errs.Network("connection reset", nil)}
	m, queue := newRetryManager(t, catalog, pipeline, 3)

	_, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		got, err := queue.Get("track_1")
		return err == nil && got.Status == store.StatusCompleted
	}, 10*time.Second, 50*time.Millisecond)

	got, err := queue.Get("track_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount, "one increment per requeue")
}

func TestRetryBudgetExhaustionFailsTrack(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "Hopeless", "Artist"),
	}}
	pipeline := &flakyPipeline{failures: 100, err: errs.Network("connection reset", nil)}
	m, queue := newRetryManager(t, catalog, pipeline, 2)

	_, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		got, err := queue.Get("track_1")
		return err == nil && got.Status == store.StatusFailed
	}, 10*time.Second, 50*time.Millisecond)

	got, err := queue.Get("track_1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetryCount)
	assert.Contains(t, got.ErrorMessage, "connection reset")
}

func TestNonRetryableFailureGoesStraightToFailed(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "Gone", "Artist"),
	}}
	pipeline := &flakyPipeline{failures: 100, err: errs.NotFound("track not available")}
	m, queue := newRetryManager(t, catalog, pipeline, 3)

	_, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	require.Eventually(t, func() bool {
		got, err := queue.Get("track_1")
		return err == nil && got.Status == store.StatusFailed
	}, 10*time.Second, 50*time.Millisecond)

	got, err := queue.Get("track_1")
	require.NoError(t, err)
	assert.Zero(t, got.RetryCount, "a not-found track is never requeued")
}

func TestTerminalTrackCanBeQueuedAgain(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"101": catalogTrack("101", "One More Time", "Daft Punk"),
	}}
	m, queue := newTestManager(t, catalog, &fakePipeline{}, 1)

	id, err := m.DownloadTrack(context.Background(), "101", "")
	require.NoError(t, err)
	item, err := queue.Get(id)
	require.NoError(t, err)
	item.Status = store.StatusCompleted
	require.NoError(t, queue.Update(item))

	got, err := m.DownloadTrack(context.Background(), "101", "")
	require.NoError(t, err, "a finished row does not block a new download")
	assert.Equal(t, id, got)

	item, err = queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, item.Status)
	assert.Zero(t, item.RetryCount)
}

func TestFailedAlbumCanBeQueuedAgain(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2"),
	}}
	pipeline := &fakePipeline{fail: map[string]error{
		"track_900_1": errors.New("boom"),
		"track_900_2": errors.New("boom"),
	}}
	m, queue := newTestManager(t, catalog, pipeline, 1)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	require.Eventually(t, func() bool {
		parent, err := queue.Get(id)
		return err == nil && parent.Status == store.StatusFailed
	}, 10*time.Second, 50*time.Millisecond)
	m.Stop()

	got, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDownloading, parent.Status)

	children, err := queue.Children(id)
	require.NoError(t, err)
	require.Len(t, children, 2)
	for _, child := range children {
		assert.Equal(t, store.StatusPending, child.Status)
		assert.Zero(t, child.RetryCount)
	}

	failed, err := queue.FailedTracks(id)
	require.NoError(t, err)
	assert.Empty(t, failed, "failure records from the first run are cleared")
}

func TestRetryFailedAlbumTracks(t *testing.T) {
	catalog := &fakeCatalog{albums: map[string]*deezer.Album{
		"900": catalogAlbum("Discovery", "1", "2"),
	}}
	pipeline := &fakePipeline{fail: map[string]error{
		"track_900_1": errors.New("boom"),
		"track_900_2": errors.New("boom"),
	}}
	m, queue := newTestManager(t, catalog, pipeline, 1)

	id, err := m.DownloadAlbum(context.Background(), "900", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))

	require.Eventually(t, func() bool {
		parent, err := queue.Get(id)
		return err == nil && parent.Status == store.StatusFailed
	}, 10*time.Second, 50*time.Millisecond)
	m.Stop()

	require.NoError(t, m.Retry(id))

	parent, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDownloading, parent.Status)

	children, err := queue.Children(id)
	require.NoError(t, err)
	for _, child := range children {
		assert.Equal(t, store.StatusPending, child.Status)
		assert.Equal(t, 1, child.RetryCount)
	}
}

// blockingPipeline holds every job until its context is cancelled.
type blockingPipeline struct {
	started chan string
}

func (b *blockingPipeline) Process(ctx context.Context, item *store.QueueItem) error {
	b.started <- item.ID
	<-ctx.Done()
	return ctx.Err()
}

func TestStopAllPausesRunningTrack(t *testing.T) {
	catalog := &fakeCatalog{tracks: map[string]*deezer.Track{
		"1": catalogTrack("1", "Endless", "Artist"),
	}}
	pipeline := &blockingPipeline{started: make(chan string, 1)}
	m, queue := newTestManager(t, catalog, pipeline, 1)

	id, err := m.DownloadTrack(context.Background(), "1", "")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	select {
	case <-pipeline.started:
	case <-time.After(5 * time.Second):
		t.Fatal("track never started")
	}

	require.NoError(t, m.StopAll())

	item, err := queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPaused, item.Status, "interrupted rows stay resumable without re-dispatch")

	require.NoError(t, m.Resume(id))
	item, err = queue.Get(id)
	require.NoError(t, err)
	assert.Equal(t, store.StatusPending, item.Status)
}
