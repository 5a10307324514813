package deezer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melodex/melodex-core/internal/errs"
)

// streamServer wires the three endpoints the stream resolver touches. The
// grant function decides which qualities the media endpoint licenses.
func streamServer(t *testing.T, grant func(quality string) bool) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/api/track/"):
			json.NewEncoder(w).Encode(map[string]interface{}{
				"id": 77, "title": "Song", "readable": true,
			})
		case r.URL.Path == "/gw":
			switch r.URL.Query().Get("method") {
			case "deezer.getUserData":
				gwUserData(w, r)
			case "deezer.pageTrack":
				json.NewEncoder(w).Encode(map[string]interface{}{
					"results": map[string]interface{}{
						"DATA": map[string]interface{}{"TRACK_TOKEN": "track-token-77"},
					},
				})
			default:
				t.Errorf("unexpected gateway method %q", r.URL.Query().Get("method"))
			}
		case r.URL.Path == "/media/v1/get_url":
			var payload struct {
				LicenseToken string `json:"license_token"`
				Media        []struct {
					Formats []struct {
						Format string `json:"format"`
					} `json:"formats"`
				} `json:"media"`
				TrackTokens []string `json:"track_tokens"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			require.Equal(t, "license-token", payload.LicenseToken)
			require.Equal(t, []string{"track-token-77"}, payload.TrackTokens)

			quality := payload.Media[0].Formats[0].Format
			if !grant(quality) {
				json.NewEncoder(w).Encode(map[string]interface{}{
					"data": []map[string]interface{}{
						{"errors": []map[string]interface{}{{"code": 2002, "message": "format not licensed"}}},
					},
				})
				return
			}
			json.NewEncoder(w).Encode(map[string]interface{}{
				"data": []map[string]interface{}{{
					"media": []map[string]interface{}{{
						"sources": []map[string]interface{}{{"url": "https://cdn.example/stream-" + quality}},
					}},
				}},
			})
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func authedStreamClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	c := newTestClient(srv)
	require.NoError(t, c.Authenticate(context.Background(), "arl"))
	return c
}

func TestGetTrackStreamURLRequestedQuality(t *testing.T) {
	srv := streamServer(t, func(string) bool { return true })
	c := authedStreamClient(t, srv)

	stream, err := c.GetTrackStreamURL(context.Background(), "77", QualityFLAC)
	require.NoError(t, err)
	assert.Equal(t, QualityFLAC, stream.Quality)
	assert.Equal(t, "flac", stream.Format)
	assert.Equal(t, "https://cdn.example/stream-FLAC", stream.URL)
}

func TestGetTrackStreamURLFallsBack(t *testing.T) {
	srv := streamServer(t, func(q string) bool { return q == QualityMP3320 })
	c := authedStreamClient(t, srv)

	stream, err := c.GetTrackStreamURL(context.Background(), "77", QualityFLAC)
	require.NoError(t, err)
	assert.Equal(t, QualityMP3320, stream.Quality, "FLAC unavailable, next step down granted")
	assert.Equal(t, "mp3", stream.Format)
}

func TestGetTrackStreamURLNoQualityAvailable(t *testing.T) {
	srv := streamServer(t, func(string) bool { return false })
	c := authedStreamClient(t, srv)

	_, err := c.GetTrackStreamURL(context.Background(), "77", QualityMP3320)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}

func TestGetTrackStreamURLValidation(t *testing.T) {
	c := NewClient(0, "", nil)

	_, err := c.GetTrackStreamURL(context.Background(), "", QualityFLAC)
	assert.True(t, errs.IsValidation(err))

	_, err = c.GetTrackStreamURL(context.Background(), "77", "OGG")
	assert.True(t, errs.IsValidation(err))
}

func TestGetTrackStreamURLUnavailableTrack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/track/") {
			json.NewEncoder(w).Encode(map[string]interface{}{"id": 5, "title": "Gone", "readable": false})
			return
		}
		gwUserData(w, r)
	}))
	defer srv.Close()

	c := newTestClient(srv)
	require.NoError(t, c.Authenticate(context.Background(), "arl"))

	_, err := c.GetTrackStreamURL(context.Background(), "5", QualityMP3320)
	require.Error(t, err)
	assert.True(t, errs.IsNotFound(err))
}
