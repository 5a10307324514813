package network

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/melodex/melodex-core/internal/errs"
)

// copyBufferSize is used for both the read buffer and the buffered writer.
const copyBufferSize = 256 * 1024

// Downloader performs resumable range downloads over a shared media client.
type Downloader struct {
	client  *http.Client
	limiter *rate.Limiter
}

// NewDownloader builds a Downloader. bandwidthLimit is in bytes per second;
// zero disables throttling.
func NewDownloader(timeout time.Duration, bandwidthLimit int64) *Downloader {
	var limiter *rate.Limiter
	if bandwidthLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(bandwidthLimit), copyBufferSize)
	}
	return &Downloader{
		client:  NewClient(DownloadClientConfig(timeout)),
		limiter: limiter,
	}
}

// NewDownloaderWithClient is used by tests to inject an httptest client.
func NewDownloaderWithClient(client *http.Client) *Downloader {
	return &Downloader{client: client}
}

// Request describes one resumable transfer.
type Request struct {
	URL             string
	OutputPath      string
	PartialPath     string
	BytesDownloaded int64
	TotalBytes      int64
	Headers         map[string]string
	// Progress receives cumulative byte counts as chunks land.
	Progress func(downloaded, total int64)
}

// Result reports transfer state. BytesDownloaded is valid even on error so
// the caller can persist it for the next resume.
type Result struct {
	BytesDownloaded int64
	TotalBytes      int64
	Resumed         bool
}

// SupportsResume issues a HEAD request and reports whether the server
// advertises byte ranges, together with the Content-Length.
func (d *Downloader) SupportsResume(ctx context.Context, url string, headers map[string]string) (bool, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false, 0, errs.Network("building HEAD request", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return false, 0, errs.Network("HEAD request failed", err)
	}
	defer resp.Body.Close()

	return resp.Header.Get("Accept-Ranges") == "bytes", resp.ContentLength, nil
}

// Download streams req.URL into req.PartialPath, resuming from
// req.BytesDownloaded when the on-disk partial matches, then renames the
// partial onto req.OutputPath. The partial file is preserved on every error
// path so a later call can resume.
func (d *Downloader) Download(ctx context.Context, req *Request) (*Result, error) {
	res := &Result{
		BytesDownloaded: req.BytesDownloaded,
		TotalBytes:      req.TotalBytes,
	}

	out, startByte, err := openPartial(req)
	if err != nil {
		return res, err
	}
	defer out.Close()
	res.Resumed = startByte > 0
	res.BytesDownloaded = startByte

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, req.URL, nil)
	if err != nil {
		return res, errs.Network("building download request", err)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}
	if startByte > 0 {
		httpReq.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return res, errs.Network("download request failed", err)
	}
	defer resp.Body.Close()

	switch {
	case startByte > 0 && resp.StatusCode == http.StatusOK:
		// Server ignored the Range header; it restreams from zero.
		if err := restartPartial(out); err != nil {
			return res, err
		}
		startByte = 0
		res.Resumed = false
		res.BytesDownloaded = 0
	case startByte > 0 && resp.StatusCode != http.StatusPartialContent:
		return res, errs.Network(fmt.Sprintf("unexpected status resuming download: %d", resp.StatusCode), nil)
	case startByte == 0 && resp.StatusCode != http.StatusOK:
		return res, errs.Network(fmt.Sprintf("download failed with status %d", resp.StatusCode), nil)
	}

	if res.TotalBytes == 0 && resp.ContentLength > 0 {
		res.TotalBytes = resp.ContentLength + startByte
	}

	if err := d.copyBody(ctx, resp.Body, out, req, res); err != nil {
		return res, err
	}

	if res.TotalBytes > 0 && res.BytesDownloaded < res.TotalBytes {
		return res, errs.Network(fmt.Sprintf("download incomplete: %d of %d bytes", res.BytesDownloaded, res.TotalBytes), nil)
	}

	if err := out.Close(); err != nil {
		return res, errs.Filesystem("closing partial file", err)
	}
	if err := moveFile(req.PartialPath, req.OutputPath); err != nil {
		return res, err
	}
	return res, nil
}

// copyBody streams the response into a buffered writer, throttled by the
// bandwidth limiter, updating progress per chunk.
func (d *Downloader) copyBody(ctx context.Context, body io.Reader, out *os.File, req *Request, res *Result) error {
	writer := bufio.NewWriterSize(out, copyBufferSize)
	buf := make([]byte, copyBufferSize)

	for {
		if err := ctx.Err(); err != nil {
			writer.Flush()
			return errs.Network("download cancelled", err)
		}

		n, err := body.Read(buf)
		if n > 0 {
			if d.limiter != nil {
				if waitErr := d.limiter.WaitN(ctx, n); waitErr != nil {
					writer.Flush()
					return errs.Network("download cancelled", waitErr)
				}
			}
			if _, writeErr := writer.Write(buf[:n]); writeErr != nil {
				writer.Flush()
				return errs.Filesystem("writing partial file", writeErr)
			}
			res.BytesDownloaded += int64(n)
			if req.Progress != nil {
				req.Progress(res.BytesDownloaded, res.TotalBytes)
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			// Keep the partial: everything flushed so far feeds resume.
			writer.Flush()
			return errs.Network("reading download stream", err)
		}
	}

	if err := writer.Flush(); err != nil {
		return errs.Filesystem("flushing partial file", err)
	}
	return nil
}

// openPartial decides between appending to a matching partial and starting
// over, returning the open file and the resume offset.
func openPartial(req *Request) (*os.File, int64, error) {
	if req.PartialPath != "" && req.BytesDownloaded > 0 {
		if info, err := os.Stat(req.PartialPath); err == nil && info.Size() == req.BytesDownloaded {
			f, err := os.OpenFile(req.PartialPath, os.O_APPEND|os.O_WRONLY, 0o644)
			if err != nil {
				return nil, 0, errs.Filesystem("opening partial file", err)
			}
			return f, req.BytesDownloaded, nil
		}
		// Size mismatch: the partial is unusable.
		os.Remove(req.PartialPath)
	}

	if err := os.MkdirAll(filepath.Dir(req.PartialPath), 0o755); err != nil {
		return nil, 0, errs.Filesystem("creating download directory", err)
	}
	f, err := os.Create(req.PartialPath)
	if err != nil {
		return nil, 0, errs.Filesystem("creating partial file", err)
	}
	return f, 0, nil
}

func restartPartial(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return errs.Filesystem("truncating partial file", err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return errs.Filesystem("rewinding partial file", err)
	}
	return nil
}

// moveFile renames src onto dst, falling back to copy+delete across
// filesystem boundaries.
func moveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.Filesystem("creating output directory", err)
	}
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return errs.Filesystem("opening partial for copy", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return errs.Filesystem("creating output file", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errs.Filesystem("copying to output file", err)
	}
	if err := out.Close(); err != nil {
		return errs.Filesystem("closing output file", err)
	}
	return os.Remove(src)
}
