package deezer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Stream qualities, ordered MP3_128 < MP3_320 < FLAC.
const (
	QualityMP3128 = "MP3_128"
	QualityMP3320 = "MP3_320"
	QualityFLAC   = "FLAC"
)

// Track is a catalog track. Endpoints disagree on which position field they
// fill; Number() reconciles them.
type Track struct {
	ID             FlexibleID `json:"id"`
	Title          string     `json:"title"`
	TitleShort     string     `json:"title_short"`
	TitleVersion   string     `json:"title_version"`
	ISRC           string     `json:"isrc"`
	Link           string     `json:"link"`
	Duration       int        `json:"duration"`
	TrackPosition  int        `json:"track_position"`
	TrackNumber    int        `json:"track_number"`
	DiscNumber     int        `json:"disk_number"`
	Rank           int        `json:"rank"`
	ExplicitLyrics bool       `json:"explicit_lyrics"`
	PreviewURL     string     `json:"preview"`
	MD5Image       string     `json:"md5_image"`
	Artist         *Artist    `json:"artist"`
	Album          *Album     `json:"album"`
	ReleaseDate    string     `json:"release_date"`
	Available      bool       `json:"readable"`
	Contributors   []*Artist  `json:"contributors"`

	// Enrichment carried through the pipeline, never serialized back.
	AlbumArtist      string    `json:"-"`
	TotalDiscs       int       `json:"-"`
	Playlist         *Playlist `json:"-"`
	PlaylistPosition int       `json:"-"`
}

// Number returns the track's position on its disc, whichever field the
// endpoint populated.
func (t *Track) Number() int {
	if t.TrackNumber > 0 {
		return t.TrackNumber
	}
	return t.TrackPosition
}

// ArtistName is a nil-safe accessor.
func (t *Track) ArtistName() string {
	if t.Artist == nil {
		return ""
	}
	return t.Artist.Name
}

// AlbumTitle is a nil-safe accessor.
func (t *Track) AlbumTitle() string {
	if t.Album == nil {
		return ""
	}
	return t.Album.Title
}

// Album is a catalog album, optionally carrying its track listing.
type Album struct {
	ID             FlexibleID `json:"id"`
	Title          string     `json:"title"`
	UPC            string     `json:"upc"`
	Link           string     `json:"link"`
	Cover          string     `json:"cover"`
	CoverMedium    string     `json:"cover_medium"`
	CoverBig       string     `json:"cover_big"`
	CoverXL        string     `json:"cover_xl"`
	MD5Image       string     `json:"md5_image"`
	Genres         *Genres    `json:"genres"`
	Label          string     `json:"label"`
	TrackCount     int        `json:"nb_tracks"`
	DiscCount      int        `json:"nb_disk"`
	Duration       int        `json:"duration"`
	ReleaseDate    string     `json:"release_date"`
	RecordType     string     `json:"record_type"`
	Available      bool       `json:"available"`
	ExplicitLyrics bool       `json:"explicit_lyrics"`
	Contributors   []*Artist  `json:"contributors"`
	Artist         *Artist    `json:"artist"`
	Tracks         *Tracks    `json:"tracks"`
}

// ArtistName is a nil-safe accessor.
func (a *Album) ArtistName() string {
	if a.Artist == nil {
		return ""
	}
	return a.Artist.Name
}

// Artist is a catalog artist.
type Artist struct {
	ID            FlexibleID `json:"id"`
	Name          string     `json:"name"`
	Link          string     `json:"link"`
	Picture       string     `json:"picture"`
	PictureMedium string     `json:"picture_medium"`
	PictureBig    string     `json:"picture_big"`
	PictureXL     string     `json:"picture_xl"`
	Role          string     `json:"role"`
}

// Playlist is a user or editorial playlist.
type Playlist struct {
	ID            FlexibleID   `json:"id"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	Duration      int          `json:"duration"`
	Public        bool         `json:"public"`
	Collaborative bool         `json:"collaborative"`
	TrackCount    int          `json:"nb_tracks"`
	Link          string       `json:"link"`
	Picture       string       `json:"picture"`
	PictureMedium string       `json:"picture_medium"`
	PictureBig    string       `json:"picture_big"`
	PictureXL     string       `json:"picture_xl"`
	Creator       *User        `json:"creator"`
	Tracks        *Tracks      `json:"tracks"`
	CreationDate  FlexibleTime `json:"creation_date"`
}

// User is a playlist creator.
type User struct {
	ID   FlexibleID `json:"id"`
	Name string     `json:"name"`
	Link string     `json:"link"`
}

// Tracks is a paginated track listing.
type Tracks struct {
	Data  []*Track `json:"data"`
	Total int      `json:"total"`
	Next  string   `json:"next"`
}

// Genres wraps an album's genre listing.
type Genres struct {
	Data []*Genre `json:"data"`
}

// Genre is a music genre.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Chart groups the editorial chart listings.
type Chart struct {
	Tracks    *TrackList    `json:"tracks"`
	Albums    *AlbumList    `json:"albums"`
	Artists   *ArtistList   `json:"artists"`
	Playlists *PlaylistList `json:"playlists"`
}

// TrackList wraps a plain track listing.
type TrackList struct {
	Data []*Track `json:"data"`
}

// AlbumList wraps a plain album listing.
type AlbumList struct {
	Data []*Album `json:"data"`
}

// ArtistList wraps a plain artist listing.
type ArtistList struct {
	Data []*Artist `json:"data"`
}

// PlaylistList wraps a plain playlist listing.
type PlaylistList struct {
	Data []*Playlist `json:"data"`
}

// StreamURL is a resolved, time-limited media URL for one track.
type StreamURL struct {
	TrackID string
	Quality string
	URL     string
	Format  string
}

// FormatExtension maps a quality to its container extension.
func FormatExtension(quality string) string {
	if quality == QualityFLAC {
		return "flac"
	}
	return "mp3"
}

// FlexibleID absorbs the API's habit of returning ids as either strings or
// numbers.
type FlexibleID string

func (f *FlexibleID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*f = FlexibleID(n.String())
		return nil
	}
	return fmt.Errorf("id must be a string or number")
}

func (f FlexibleID) String() string { return string(f) }

func (f FlexibleID) Int64() (int64, error) {
	return strconv.ParseInt(string(f), 10, 64)
}

// FlexibleTime absorbs the API's assorted timestamp formats.
type FlexibleTime struct {
	time.Time
}

func (ft *FlexibleTime) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	for _, format := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(format, s); err == nil {
			ft.Time = t
			return nil
		}
	}
	return fmt.Errorf("unable to parse time: %s", s)
}
