package facade

import (
	"context"
	"time"

	"github.com/melodex/melodex-core/internal/errs"
)

// catalogTimeout bounds read-through catalog calls from the host.
const catalogTimeout = 30 * time.Second

// defaultSearchLimit applies when the host passes limit <= 0.
const defaultSearchLimit = 25

func (a *App) catalogCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), catalogTimeout)
}

// Search queries the catalog. kind is one of track, album, artist,
// playlist. Returns {data,total} JSON.
func (a *App) Search(kind, query string, limit int) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}
	if query == "" {
		return wireError(errs.Validation("search query cannot be empty"), CodeValidation)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()

	switch kind {
	case "track", "":
		tracks, err := client.SearchTracks(ctx, query, limit)
		if err != nil {
			return wireError(err, codeFor(err))
		}
		return wireList(tracks, len(tracks))
	case "album":
		albums, err := client.SearchAlbums(ctx, query, limit)
		if err != nil {
			return wireError(err, codeFor(err))
		}
		return wireList(albums, len(albums))
	case "artist":
		artists, err := client.SearchArtists(ctx, query, limit)
		if err != nil {
			return wireError(err, codeFor(err))
		}
		return wireList(artists, len(artists))
	case "playlist":
		playlists, err := client.SearchPlaylists(ctx, query, limit)
		if err != nil {
			return wireError(err, codeFor(err))
		}
		return wireList(playlists, len(playlists))
	default:
		return wireError(errs.Validation("unknown search kind: "+kind), CodeValidation)
	}
}

// GetAlbum returns one album with its track listing.
func (a *App) GetAlbum(albumID string) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()
	album, err := client.GetAlbum(ctx, albumID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(album)
}

// GetArtist returns one artist.
func (a *App) GetArtist(artistID string) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()
	artist, err := client.GetArtist(ctx, artistID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(artist)
}

// GetArtistAlbums returns an artist's discography as {data,total}.
func (a *App) GetArtistAlbums(artistID string, limit int) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()
	albums, err := client.GetArtistAlbums(ctx, artistID, limit)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireList(albums, len(albums))
}

// GetPlaylist returns one playlist with its track listing.
func (a *App) GetPlaylist(playlistID string) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()
	playlist, err := client.GetPlaylist(ctx, playlistID)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(playlist)
}

// GetCharts returns the editorial charts.
func (a *App) GetCharts(limit int) (string, int) {
	a.mu.Lock()
	client, ok := a.client, a.initialized
	a.mu.Unlock()
	if !ok {
		return "", CodeNotInitialized
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	ctx, cancel := a.catalogCtx()
	defer cancel()
	chart, err := client.GetChart(ctx, limit)
	if err != nil {
		return wireError(err, codeFor(err))
	}
	return wireObject(chart)
}
