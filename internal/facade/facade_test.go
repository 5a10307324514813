package facade

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/store"
)

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}

// initApp boots an App against throwaway data and config directories.
func initApp(t *testing.T) *App {
	t.Helper()
	t.Setenv("APPDATA", t.TempDir())

	app := New()
	code := app.Initialize(filepath.Join(t.TempDir(), "settings.json"))
	require.Equal(t, CodeOK, code)
	t.Cleanup(func() { app.Shutdown() })
	return app
}

func TestLifecycleCodes(t *testing.T) {
	t.Setenv("APPDATA", t.TempDir())
	app := New()

	assert.Equal(t, CodeNotInitialized, app.Shutdown())
	_, code := app.GetQueue(0, 10, "")
	assert.Equal(t, CodeNotInitialized, code)
	_, code = app.Search("track", "x", 5)
	assert.Equal(t, CodeNotInitialized, code)
	assert.Equal(t, CodeNotInitialized, app.PauseDownload("x"))
	assert.False(t, app.IsAuthenticated())

	configPath := filepath.Join(t.TempDir(), "settings.json")
	require.Equal(t, CodeOK, app.Initialize(configPath))
	assert.Equal(t, CodeAlreadyInitialized, app.Initialize(configPath))

	assert.Equal(t, CodeOK, app.Shutdown())
	assert.Equal(t, CodeNotInitialized, app.Shutdown())
}

func TestInitializeRejectsBadConfig(t *testing.T) {
	t.Setenv("APPDATA", t.TempDir())
	dir := t.TempDir()
	configPath := filepath.Join(dir, "settings.json")
	require.NoError(t, writeFile(configPath, `{"download": {"quality": "OGG_VORBIS"}}`))

	app := New()
	assert.Equal(t, CodeInvalidConfig, app.Initialize(configPath))
}

func TestGetVersion(t *testing.T) {
	app := New()
	assert.NotEmpty(t, app.GetVersion())
}

func TestSettingsRoundtrip(t *testing.T) {
	app := initApp(t)

	payload, code := app.GetSettings()
	require.Equal(t, CodeOK, code)

	var cfg config.Config
	require.NoError(t, json.Unmarshal([]byte(payload), &cfg))
	assert.Empty(t, cfg.Deezer.ARL, "token never crosses the wire")
	assert.Equal(t, 8, cfg.Download.ConcurrentDownloads)

	code = app.UpdateSettings(`{"download": {"quality": "FLAC", "concurrent_downloads": 3}}`)
	require.Equal(t, CodeOK, code)

	payload, code = app.GetSettings()
	require.Equal(t, CodeOK, code)
	require.NoError(t, json.Unmarshal([]byte(payload), &cfg))
	assert.Equal(t, "FLAC", cfg.Download.Quality)

	assert.Equal(t, CodeValidation, app.UpdateSettings(`not json`))
	assert.Equal(t, CodeValidation, app.UpdateSettings(`{"download": {"quality": "OGG"}}`))
}

func TestDownloadPath(t *testing.T) {
	app := initApp(t)

	path, code := app.GetDownloadPath()
	require.Equal(t, CodeOK, code)
	assert.NotEmpty(t, path)

	next := filepath.Join(t.TempDir(), "music")
	require.Equal(t, CodeOK, app.SetDownloadPath(next))
	assert.DirExists(t, next)

	path, code = app.GetDownloadPath()
	require.Equal(t, CodeOK, code)
	assert.Equal(t, next, path)

	assert.Equal(t, CodeValidation, app.SetDownloadPath(""))
}

func TestValidationCodes(t *testing.T) {
	app := initApp(t)

	_, code := app.DownloadTrack("", "")
	assert.Equal(t, CodeValidation, code)

	_, code = app.Search("track", "", 5)
	assert.Equal(t, CodeValidation, code)

	_, code = app.Search("podcast", "query", 5)
	assert.Equal(t, CodeValidation, code)

	_, code = app.DownloadCustomPlaylist(`{broken`)
	assert.Equal(t, CodeValidation, code)

	_, code = app.DownloadCustomPlaylist(`{"title": "", "track_ids": ["1"]}`)
	assert.Equal(t, CodeValidation, code)

	assert.Equal(t, CodeValidation, app.Authenticate(""))
}

func TestCustomPlaylistQueueFlow(t *testing.T) {
	app := initApp(t)

	id, code := app.DownloadCustomPlaylist(`{"title": "Imported", "track_ids": ["11", "12"]}`)
	require.Equal(t, CodeOK, code)
	require.True(t, strings.HasPrefix(id, "playlist_custom_"))
	require.Equal(t, CodeOK, app.PauseDownload(id))

	payload, code := app.GetQueueItem(id)
	require.Equal(t, CodeOK, code)
	var parent store.QueueItem
	require.NoError(t, json.Unmarshal([]byte(payload), &parent))
	assert.Equal(t, store.TypePlaylist, parent.Type)
	assert.Equal(t, 2, parent.TotalTracks)

	payload, code = app.GetQueueChildren(id)
	require.Equal(t, CodeOK, code)
	var children listEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &children))
	assert.Equal(t, 2, children.Total)

	payload, code = app.GetQueue(0, 10, "")
	require.Equal(t, CodeOK, code)
	var page pageEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &page))
	assert.Equal(t, 1, page.Total)

	payload, code = app.GetQueue(0, 10, store.StatusCompleted)
	require.Equal(t, CodeOK, code)
	var filtered pageEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &filtered))
	assert.Zero(t, filtered.Total, "nothing finished yet")

	_, code = app.GetStats()
	assert.Equal(t, CodeOK, code)

	require.Equal(t, CodeOK, app.CancelDownload(id))
	_, code = app.GetQueueItem(id)
	assert.Equal(t, CodeOperationFailed, code, "cancelled item is gone")
}

func TestHistoryEmptyPage(t *testing.T) {
	app := initApp(t)

	payload, code := app.GetHistory(0, 20)
	require.Equal(t, CodeOK, code)

	var page pageEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &page))
	assert.Zero(t, page.Total)
	assert.Equal(t, 20, page.Limit)
}

func TestMetricsExposition(t *testing.T) {
	app := initApp(t)

	payload, code := app.Metrics()
	require.Equal(t, CodeOK, code)
	assert.NotEmpty(t, payload)
}

func TestClearQueue(t *testing.T) {
	app := initApp(t)

	id, code := app.DownloadCustomPlaylist(`{"title": "Imported", "track_ids": ["1"]}`)
	require.Equal(t, CodeOK, code)
	require.Equal(t, CodeOK, app.PauseDownload(id))

	require.Equal(t, CodeOK, app.ClearQueue())

	payload, code := app.GetQueue(0, 10, "")
	require.Equal(t, CodeOK, code)
	var page pageEnvelope
	require.NoError(t, json.Unmarshal([]byte(payload), &page))
	assert.Zero(t, page.Total)
}
