package tag

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/nfnt/resize"
	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/errs"
)

const jpegQuality = 95

// ArtworkFetcher downloads cover art, resizes it to the configured
// dimension and caches the result on disk keyed by URL and size.
type ArtworkFetcher struct {
	cacheDir   string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewArtworkFetcher creates the fetcher and its cache directory.
func NewArtworkFetcher(cacheDir string, timeout time.Duration, logger *zap.Logger) (*ArtworkFetcher, error) {
	if cacheDir == "" {
		return nil, errs.Validation("artwork cache directory cannot be empty")
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return nil, errs.Filesystem("creating artwork cache directory", err)
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArtworkFetcher{
		cacheDir:   cacheDir,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("artwork"),
	}, nil
}

// Fetch returns the image bytes and MIME type for a cover URL, resized
// so the longest edge is size pixels. size 0 keeps the original.
func (a *ArtworkFetcher) Fetch(ctx context.Context, url string, size int) ([]byte, string, error) {
	if url == "" {
		return nil, "", errs.Validation("artwork URL cannot be empty")
	}

	cachePath := filepath.Join(a.cacheDir, a.cacheKey(url, size))
	if data, err := os.ReadFile(cachePath); err == nil {
		return data, mimeFromExt(cachePath), nil
	}

	data, mime, err := a.download(ctx, url)
	if err != nil {
		return nil, "", err
	}

	if size > 0 {
		if resized, err := resizeImage(data, size); err == nil {
			data = resized
		} else {
			a.logger.Debug("artwork resize skipped", zap.String("url", url), zap.Error(err))
		}
	}

	if err := writeAtomic(cachePath, data); err != nil {
		a.logger.Warn("artwork cache write failed", zap.Error(err))
	}
	return data, mime, nil
}

// SaveCover fetches the cover and writes it to destPath, for the
// standalone album cover file.
func (a *ArtworkFetcher) SaveCover(ctx context.Context, url string, size int, destPath string) error {
	data, _, err := a.Fetch(ctx, url, size)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
		return errs.Filesystem("creating cover directory", err)
	}
	if err := writeAtomic(destPath, data); err != nil {
		return errs.Filesystem("writing album cover", err)
	}
	return nil
}

func (a *ArtworkFetcher) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", errs.Network("building artwork request", err)
	}
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", errs.Network("downloading artwork", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", errs.FromStatus(resp.StatusCode, "artwork download failed")
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", errs.Network("reading artwork data", err)
	}
	return data, mimeOrJPEG(resp.Header.Get("Content-Type")), nil
}

// ClearCache removes every cached image.
func (a *ArtworkFetcher) ClearCache() error {
	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		return errs.Filesystem("reading artwork cache", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(a.cacheDir, entry.Name())); err != nil {
			return errs.Filesystem("removing cached artwork", err)
		}
	}
	return nil
}

// CacheSize returns the total bytes held in the cache.
func (a *ArtworkFetcher) CacheSize() (int64, error) {
	var total int64
	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		return 0, errs.Filesystem("reading artwork cache", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if info, err := entry.Info(); err == nil {
			total += info.Size()
		}
	}
	return total, nil
}

// PruneCache removes cached images older than maxAge.
func (a *ArtworkFetcher) PruneCache(maxAge time.Duration) error {
	entries, err := os.ReadDir(a.cacheDir)
	if err != nil {
		return errs.Filesystem("reading artwork cache", err)
	}
	cutoff := time.Now().Add(-maxAge)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(a.cacheDir, entry.Name())); err != nil {
				return errs.Filesystem("removing stale artwork", err)
			}
		}
	}
	return nil
}

func (a *ArtworkFetcher) cacheKey(url string, size int) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s_%d", url, size)))
	return hex.EncodeToString(sum[:]) + ".jpg"
}

// resizeImage scales the image so its longest edge is targetSize,
// preserving aspect ratio. Images already at the target pass through.
func resizeImage(data []byte, targetSize int) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width == targetSize && height == targetSize {
		return data, nil
	}

	var resized image.Image
	if width > height {
		resized = resize.Resize(uint(targetSize), 0, img, resize.Lanczos3)
	} else {
		resized = resize.Resize(0, uint(targetSize), img, resize.Lanczos3)
	}

	var buf bytes.Buffer
	switch format {
	case "png":
		err = png.Encode(&buf, resized)
	default:
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: jpegQuality})
	}
	if err != nil {
		return nil, fmt.Errorf("encoding resized image: %w", err)
	}
	return buf.Bytes(), nil
}

func mimeFromExt(path string) string {
	if filepath.Ext(path) == ".png" {
		return "image/png"
	}
	return "image/jpeg"
}

// writeAtomic writes via a temp file and rename so readers never see a
// partial image.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}
