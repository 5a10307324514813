package tag

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testJPEG renders a solid image of the given dimensions.
func testJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func artworkServer(t *testing.T, body []byte, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchResizesAndCaches(t *testing.T) {
	var hits int32
	srv := artworkServer(t, testJPEG(t, 400, 200), &hits)

	f, err := NewArtworkFetcher(t.TempDir(), 5*time.Second, nil)
	require.NoError(t, err)

	data, mime, err := f.Fetch(context.Background(), srv.URL+"/cover.jpg", 100)
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", mime)

	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 100, img.Bounds().Dx(), "longest edge scaled to target")
	assert.Equal(t, 50, img.Bounds().Dy(), "aspect ratio preserved")

	// Second fetch is served from the disk cache.
	_, _, err = f.Fetch(context.Background(), srv.URL+"/cover.jpg", 100)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

func TestFetchKeepsOriginalWhenSizeZero(t *testing.T) {
	var hits int32
	original := testJPEG(t, 300, 300)
	srv := artworkServer(t, original, &hits)

	f, err := NewArtworkFetcher(t.TempDir(), 5*time.Second, nil)
	require.NoError(t, err)

	data, _, err := f.Fetch(context.Background(), srv.URL+"/cover.jpg", 0)
	require.NoError(t, err)
	assert.Equal(t, original, data)
}

func TestFetchValidation(t *testing.T) {
	f, err := NewArtworkFetcher(t.TempDir(), 0, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), "", 100)
	require.Error(t, err)
}

func TestFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f, err := NewArtworkFetcher(t.TempDir(), 5*time.Second, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/missing.jpg", 100)
	require.Error(t, err)
}

func TestSaveCover(t *testing.T) {
	var hits int32
	srv := artworkServer(t, testJPEG(t, 200, 200), &hits)

	f, err := NewArtworkFetcher(t.TempDir(), 5*time.Second, nil)
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "Artist", "Album", "cover.jpg")
	require.NoError(t, f.SaveCover(context.Background(), srv.URL+"/c.jpg", 200, dest))

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestClearAndSizeCache(t *testing.T) {
	var hits int32
	srv := artworkServer(t, testJPEG(t, 120, 120), &hits)

	cacheDir := t.TempDir()
	f, err := NewArtworkFetcher(cacheDir, 5*time.Second, nil)
	require.NoError(t, err)

	_, _, err = f.Fetch(context.Background(), srv.URL+"/a.jpg", 0)
	require.NoError(t, err)

	size, err := f.CacheSize()
	require.NoError(t, err)
	assert.Positive(t, size)

	require.NoError(t, f.ClearCache())
	size, err = f.CacheSize()
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestNewArtworkFetcherRequiresDir(t *testing.T) {
	_, err := NewArtworkFetcher("", time.Second, nil)
	require.Error(t, err)
}
