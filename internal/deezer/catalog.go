package deezer

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"

	"github.com/melodex/melodex-core/internal/errs"
)

const (
	defaultSearchLimit = 25
	artistAlbumsBatch  = 100
)

// cached runs fetch through the client's expiring LRU.
func cached[T any](c *Client, key string, fetch func() (T, error)) (T, error) {
	if hit, ok := c.cache.Get(key); ok {
		if typed, ok := hit.(T); ok {
			return typed, nil
		}
	}
	value, err := fetch()
	if err != nil {
		var zero T
		return zero, err
	}
	c.cache.Add(key, value)
	return value, nil
}

// GetTrack retrieves full track details.
func (c *Client) GetTrack(ctx context.Context, trackID string) (*Track, error) {
	if trackID == "" {
		return nil, errs.Validation("track ID cannot be empty")
	}
	return cached(c, "track:"+trackID, func() (*Track, error) {
		body, err := c.apiRequest(ctx, "/track/"+trackID, nil)
		if err != nil {
			return nil, err
		}
		var track Track
		if err := json.Unmarshal(body, &track); err != nil {
			return nil, errs.Network("decoding track", err)
		}
		normalizeTrackNumber(&track, 0)
		return &track, nil
	})
}

// GetAlbum retrieves an album with its track listing. Track numbers are
// normalized; endpoints that return zero positions fall back to listing
// order.
func (c *Client) GetAlbum(ctx context.Context, albumID string) (*Album, error) {
	if albumID == "" {
		return nil, errs.Validation("album ID cannot be empty")
	}
	return cached(c, "album:"+albumID, func() (*Album, error) {
		body, err := c.apiRequest(ctx, "/album/"+albumID, nil)
		if err != nil {
			return nil, err
		}
		var album Album
		if err := json.Unmarshal(body, &album); err != nil {
			return nil, errs.Network("decoding album", err)
		}
		if album.Tracks != nil {
			for i, track := range album.Tracks.Data {
				normalizeTrackNumber(track, i+1)
			}
		}
		return &album, nil
	})
}

// GetArtist retrieves artist details.
func (c *Client) GetArtist(ctx context.Context, artistID string) (*Artist, error) {
	if artistID == "" {
		return nil, errs.Validation("artist ID cannot be empty")
	}
	return cached(c, "artist:"+artistID, func() (*Artist, error) {
		body, err := c.apiRequest(ctx, "/artist/"+artistID, nil)
		if err != nil {
			return nil, err
		}
		var artist Artist
		if err := json.Unmarshal(body, &artist); err != nil {
			return nil, errs.Network("decoding artist", err)
		}
		return &artist, nil
	})
}

// GetArtistAlbums retrieves an artist's releases, paging through the API's
// 100-per-request window until limit is reached or the listing ends.
func (c *Client) GetArtistAlbums(ctx context.Context, artistID string, limit int) ([]*Album, error) {
	if artistID == "" {
		return nil, errs.Validation("artist ID cannot be empty")
	}
	if limit <= 0 {
		limit = 500
	}

	key := fmt.Sprintf("artist_albums:%s:%d", artistID, limit)
	return cached(c, key, func() ([]*Album, error) {
		var all []*Album
		for index := 0; len(all) < limit; index += artistAlbumsBatch {
			params := url.Values{}
			params.Set("limit", strconv.Itoa(artistAlbumsBatch))
			params.Set("index", strconv.Itoa(index))

			body, err := c.apiRequest(ctx, "/artist/"+artistID+"/albums", params)
			if err != nil {
				return nil, err
			}
			var page struct {
				Data []*Album `json:"data"`
				Next string   `json:"next"`
			}
			if err := json.Unmarshal(body, &page); err != nil {
				return nil, errs.Network("decoding artist albums", err)
			}
			if len(page.Data) == 0 {
				break
			}
			all = append(all, page.Data...)
			if page.Next == "" {
				break
			}
		}
		if len(all) > limit {
			all = all[:limit]
		}
		return all, nil
	})
}

// GetPlaylist retrieves a playlist with its track listing.
func (c *Client) GetPlaylist(ctx context.Context, playlistID string) (*Playlist, error) {
	if playlistID == "" {
		return nil, errs.Validation("playlist ID cannot be empty")
	}
	return cached(c, "playlist:"+playlistID, func() (*Playlist, error) {
		body, err := c.apiRequest(ctx, "/playlist/"+playlistID, nil)
		if err != nil {
			return nil, err
		}
		var playlist Playlist
		if err := json.Unmarshal(body, &playlist); err != nil {
			return nil, errs.Network("decoding playlist", err)
		}
		return &playlist, nil
	})
}

// SearchTracks searches the track catalog.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]*Track, error) {
	var tracks []*Track
	err := c.search(ctx, "/search/track", query, limit, &tracks)
	if err != nil {
		return nil, err
	}
	for _, track := range tracks {
		normalizeTrackNumber(track, 0)
	}
	return tracks, nil
}

// SearchAlbums searches the album catalog.
func (c *Client) SearchAlbums(ctx context.Context, query string, limit int) ([]*Album, error) {
	var albums []*Album
	if err := c.search(ctx, "/search/album", query, limit, &albums); err != nil {
		return nil, err
	}
	return albums, nil
}

// SearchArtists searches the artist catalog.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]*Artist, error) {
	var artists []*Artist
	if err := c.search(ctx, "/search/artist", query, limit, &artists); err != nil {
		return nil, err
	}
	return artists, nil
}

// SearchPlaylists searches the playlist catalog.
func (c *Client) SearchPlaylists(ctx context.Context, query string, limit int) ([]*Playlist, error) {
	var playlists []*Playlist
	if err := c.search(ctx, "/search/playlist", query, limit, &playlists); err != nil {
		return nil, err
	}
	return playlists, nil
}

func (c *Client) search(ctx context.Context, endpoint, query string, limit int, target interface{}) error {
	if query == "" {
		return errs.Validation("search query cannot be empty")
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	key := fmt.Sprintf("%s:%s:%d", endpoint, query, limit)
	body, err := cached(c, key, func() (json.RawMessage, error) {
		params := url.Values{}
		params.Set("q", query)
		params.Set("limit", strconv.Itoa(limit))
		return c.apiRequest(ctx, endpoint, params)
	})
	if err != nil {
		return err
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return errs.Network("decoding search response", err)
	}
	if err := json.Unmarshal(envelope.Data, target); err != nil {
		return errs.Network("decoding search results", err)
	}
	return nil
}

// GetChart retrieves the editorial chart listings.
func (c *Client) GetChart(ctx context.Context, limit int) (*Chart, error) {
	if limit < 1 || limit > 100 {
		limit = defaultSearchLimit
	}
	return cached(c, fmt.Sprintf("chart:%d", limit), func() (*Chart, error) {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))

		body, err := c.apiRequest(ctx, "/chart", params)
		if err != nil {
			return nil, err
		}
		var chart Chart
		if err := json.Unmarshal(body, &chart); err != nil {
			return nil, errs.Network("decoding chart", err)
		}
		return &chart, nil
	})
}

// GetEditorialReleases retrieves the new-releases listing.
func (c *Client) GetEditorialReleases(ctx context.Context, limit int) ([]*Album, error) {
	if limit < 1 || limit > 100 {
		limit = defaultSearchLimit
	}
	return cached(c, fmt.Sprintf("editorial_releases:%d", limit), func() ([]*Album, error) {
		params := url.Values{}
		params.Set("limit", strconv.Itoa(limit))

		body, err := c.apiRequest(ctx, "/editorial/0/releases", params)
		if err != nil {
			return nil, err
		}
		var envelope struct {
			Data []*Album `json:"data"`
		}
		if err := json.Unmarshal(body, &envelope); err != nil {
			return nil, errs.Network("decoding editorial releases", err)
		}
		return envelope.Data, nil
	})
}

// normalizeTrackNumber settles the position fields onto TrackNumber.
// fallback is used when the endpoint reported no position at all.
func normalizeTrackNumber(track *Track, fallback int) {
	if track == nil {
		return
	}
	if n := track.Number(); n > 0 {
		track.TrackNumber = n
	} else if fallback > 0 {
		track.TrackNumber = fallback
	}
	track.TrackPosition = 0
}
