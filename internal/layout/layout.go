// Package layout renders final on-disk paths for downloaded tracks from
// the user's filename templates. Every rendered segment is sanitized for
// Windows path rules and the result is checked to stay inside the output
// directory.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/errs"
)

// variousArtists is the folder compilations and playlists are filed under.
const variousArtists = "Various Artists"

// Fields carries the template values for one track.
type Fields struct {
	Artist           string
	Title            string
	Album            string
	AlbumArtist      string
	TrackNumber      int
	DiscNumber       int
	TotalDiscs       int
	Year             int
	Playlist         string
	PlaylistPosition int
}

// Builder renders download paths from the configured layout templates.
type Builder struct {
	cfg config.DownloadConfig
}

// NewBuilder returns a Builder over the given download configuration.
func NewBuilder(cfg config.DownloadConfig) *Builder {
	return &Builder{cfg: cfg}
}

// TrackPath returns the absolute path a track should be written to.
// ext is the audio extension without the dot ("mp3", "flac").
func (b *Builder) TrackPath(f Fields, ext string) (string, error) {
	dir, err := b.trackDir(f)
	if err != nil {
		return "", err
	}

	var tmpl string
	switch {
	case f.Playlist != "" && b.cfg.CreatePlaylistFolder:
		tmpl = orDefault(b.cfg.PlaylistTrackTemplate, "{playlist_position:02d} - {artist} - {title}")
	case f.TrackNumber > 0:
		tmpl = orDefault(b.cfg.AlbumTrackTemplate, "{track_number:02d} - {title}")
	default:
		tmpl = orDefault(b.cfg.SingleTrackTemplate, "{artist} - {title}")
	}

	filename := renderSegment(tmpl, f)
	full := filepath.Join(dir, filename+"."+strings.TrimPrefix(ext, "."))
	if err := ensureWithin(b.cfg.OutputDir, full); err != nil {
		return "", err
	}
	return full, nil
}

// AlbumDir returns the directory an album's tracks land in. Cover art and
// other album-level files are saved next to the tracks.
func (b *Builder) AlbumDir(f Fields) (string, error) {
	return b.trackDir(f)
}

// CoverPath returns where the standalone album cover file is written.
func (b *Builder) CoverPath(f Fields) (string, error) {
	dir, err := b.trackDir(f)
	if err != nil {
		return "", err
	}
	name := b.cfg.AlbumCoverFilename
	if name == "" {
		name = "cover.jpg"
	}
	full := filepath.Join(dir, sanitizeSegment(name))
	if err := ensureWithin(b.cfg.OutputDir, full); err != nil {
		return "", err
	}
	return full, nil
}

func (b *Builder) trackDir(f Fields) (string, error) {
	if b.cfg.OutputDir == "" {
		return "", errs.Validation("output directory is not configured")
	}

	var parts []string
	if f.Playlist != "" && b.cfg.CreatePlaylistFolder {
		// Playlists file under a shared compilation folder.
		tmpl := orDefault(b.cfg.PlaylistFolderTemplate, "{playlist}")
		parts = append(parts, variousArtists, renderSegment(tmpl, f))
	} else {
		if b.cfg.CreateArtistFolder {
			tmpl := orDefault(b.cfg.ArtistFolderTemplate, "{album_artist}")
			parts = append(parts, renderSegment(tmpl, f))
		}
		if b.cfg.CreateAlbumFolder {
			tmpl := orDefault(b.cfg.AlbumFolderTemplate, "{album}")
			parts = append(parts, renderSegment(tmpl, f))
		}
		if b.cfg.CreateCDFolder && f.DiscNumber > 0 && f.TotalDiscs > 1 {
			tmpl := orDefault(b.cfg.CDFolderTemplate, "CD {disc_number}")
			parts = append(parts, renderSegment(tmpl, f))
		}
	}

	dir := filepath.Join(append([]string{b.cfg.OutputDir}, parts...)...)
	if err := ensureWithin(b.cfg.OutputDir, dir); err != nil {
		return "", err
	}
	return dir, nil
}

// renderSegment substitutes placeholders and sanitizes the result as a
// single path segment. Field values are sanitized before substitution so
// a title containing a separator cannot introduce extra directories.
func renderSegment(tmpl string, f Fields) string {
	albumArtist := f.AlbumArtist
	if albumArtist == "" {
		albumArtist = f.Artist
	}
	if f.Playlist != "" {
		albumArtist = variousArtists
	}

	r := strings.NewReplacer(
		"{artist}", sanitizeSegment(f.Artist),
		"{title}", sanitizeSegment(f.Title),
		"{album}", sanitizeSegment(f.Album),
		"{album_artist}", sanitizeSegment(albumArtist),
		"{playlist}", sanitizeSegment(f.Playlist),
		"{track_number:02d}", fmt.Sprintf("%02d", f.TrackNumber),
		"{track_number}", fmt.Sprintf("%d", f.TrackNumber),
		"{playlist_position:02d}", fmt.Sprintf("%02d", f.PlaylistPosition),
		"{playlist_position}", fmt.Sprintf("%d", f.PlaylistPosition),
		"{disc_number}", fmt.Sprintf("%d", f.DiscNumber),
		"{year}", fmt.Sprintf("%d", f.Year),
	)
	return sanitizeSegment(r.Replace(tmpl))
}

// sanitizeSegment makes a string safe as one path segment on Windows and
// POSIX filesystems. Invalid and control characters become underscores and
// trailing dots and spaces are trimmed.
func sanitizeSegment(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if r < 0x20 || r == 0x7f || strings.ContainsRune(`<>:"/\|?*`, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	s := strings.TrimSpace(b.String())
	s = strings.TrimRight(s, ". ")
	if s == "" {
		return "unknown"
	}
	return s
}

// ensureWithin rejects paths that escape the output directory. Escapes are
// template mistakes, so they surface as validation errors and are never
// retried.
func ensureWithin(root, path string) error {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return errs.Validation("resolving output path: " + err.Error())
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return errs.Validation("path escapes output directory: " + path)
	}
	return nil
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
