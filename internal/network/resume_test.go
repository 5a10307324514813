package network

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodex/melodex-core/internal/errs"
)

// rangeServer serves content honouring Range requests, like the CDN does.
func rangeServer(t *testing.T, content []byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Accept-Ranges", "bytes")
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
			return
		}

		start := 0
		if rng := r.Header.Get("Range"); rng != "" {
			fmt.Sscanf(rng, "bytes=%d-", &start)
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(content)-1, len(content)))
			w.Header().Set("Content-Length", strconv.Itoa(len(content)-start))
			w.WriteHeader(http.StatusPartialContent)
		} else {
			w.Header().Set("Content-Length", strconv.Itoa(len(content)))
		}
		w.Write(content[start:])
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testContent(n int) []byte {
	content := make([]byte, n)
	for i := range content {
		content[i] = byte(i % 251)
	}
	return content
}

func TestDownloadFreshTransfer(t *testing.T) {
	content := testContent(700 * 1024)
	srv := rangeServer(t, content)

	dir := t.TempDir()
	final := filepath.Join(dir, "track.mp3")
	partial := final + ".part"

	var lastDownloaded, lastTotal int64
	d := NewDownloaderWithClient(srv.Client())
	res, err := d.Download(context.Background(), &Request{
		URL:         srv.URL,
		OutputPath:  final,
		PartialPath: partial,
		Progress: func(downloaded, total int64) {
			lastDownloaded, lastTotal = downloaded, total
		},
	})

	require.NoError(t, err)
	assert.False(t, res.Resumed)
	assert.Equal(t, int64(len(content)), res.BytesDownloaded)
	assert.Equal(t, res.BytesDownloaded, lastDownloaded)
	assert.Equal(t, res.TotalBytes, lastTotal)

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	_, err = os.Stat(partial)
	assert.True(t, os.IsNotExist(err), "partial must be renamed away")
}

func TestDownloadResumesFromPartial(t *testing.T) {
	content := testContent(512 * 1024)
	cut := 200 * 1024

	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		start := 0
		fmt.Sscanf(gotRange, "bytes=%d-", &start)
		w.Header().Set("Content-Length", strconv.Itoa(len(content)-start))
		if start > 0 {
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(content)-1, len(content)))
			w.WriteHeader(http.StatusPartialContent)
		}
		w.Write(content[start:])
	}))
	defer srv.Close()

	dir := t.TempDir()
	final := filepath.Join(dir, "track.flac")
	partial := final + ".part"
	require.NoError(t, os.WriteFile(partial, content[:cut], 0o644))

	d := NewDownloaderWithClient(srv.Client())
	res, err := d.Download(context.Background(), &Request{
		URL:             srv.URL,
		OutputPath:      final,
		PartialPath:     partial,
		BytesDownloaded: int64(cut),
		TotalBytes:      int64(len(content)),
	})

	require.NoError(t, err)
	assert.True(t, res.Resumed)
	assert.Equal(t, fmt.Sprintf("bytes=%d-", cut), gotRange)
	assert.Equal(t, int64(len(content)), res.BytesDownloaded)

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, got, "resumed bytes must equal a single non-resumed transfer")
}

func TestDownloadSizeMismatchRestartsFromZero(t *testing.T) {
	content := testContent(64 * 1024)
	srv := rangeServer(t, content)

	dir := t.TempDir()
	final := filepath.Join(dir, "track.mp3")
	partial := final + ".part"
	// Stored offset disagrees with the on-disk partial.
	require.NoError(t, os.WriteFile(partial, content[:10], 0o644))

	d := NewDownloaderWithClient(srv.Client())
	res, err := d.Download(context.Background(), &Request{
		URL:             srv.URL,
		OutputPath:      final,
		PartialPath:     partial,
		BytesDownloaded: 999,
		TotalBytes:      int64(len(content)),
	})

	require.NoError(t, err)
	assert.False(t, res.Resumed)

	got, err := os.ReadFile(final)
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestDownloadIncompleteBodyPreservesPartial(t *testing.T) {
	content := testContent(64 * 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Advertise more than we send, then cut the connection.
		w.Header().Set("Content-Length", strconv.Itoa(len(content)*2))
		w.Write(content)
	}))
	defer srv.Close()

	dir := t.TempDir()
	final := filepath.Join(dir, "track.mp3")
	partial := final + ".part"

	d := NewDownloaderWithClient(srv.Client())
	res, err := d.Download(context.Background(), &Request{
		URL:         srv.URL,
		OutputPath:  final,
		PartialPath: partial,
	})

	require.Error(t, err)
	assert.True(t, errs.IsNetwork(err))
	assert.Positive(t, res.BytesDownloaded)

	info, statErr := os.Stat(partial)
	require.NoError(t, statErr, "partial must survive the failure")
	assert.Equal(t, res.BytesDownloaded, info.Size())

	_, statErr = os.Stat(final)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadHTTPErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := NewDownloaderWithClient(srv.Client())
	_, err := d.Download(context.Background(), &Request{
		URL:         srv.URL,
		OutputPath:  filepath.Join(dir, "x.mp3"),
		PartialPath: filepath.Join(dir, "x.mp3.part"),
	})

	require.Error(t, err)
	assert.True(t, errs.IsNetwork(err))
}

func TestSupportsResume(t *testing.T) {
	content := testContent(1234)
	srv := rangeServer(t, content)

	d := NewDownloaderWithClient(srv.Client())
	ok, size, err := d.SupportsResume(context.Background(), srv.URL, nil)

	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(len(content)), size)
}

func TestDownloadCancelledMidTransfer(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000000")
		w.Write(make([]byte, 1024))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	ctx, cancel := context.WithCancel(context.Background())
	go cancel()

	dir := t.TempDir()
	d := NewDownloaderWithClient(srv.Client())
	_, err := d.Download(ctx, &Request{
		URL:         srv.URL,
		OutputPath:  filepath.Join(dir, "x.mp3"),
		PartialPath: filepath.Join(dir, "x.mp3.part"),
	})

	require.Error(t, err)
}
