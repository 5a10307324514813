package tag

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/bogem/id3v2/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleTags() *TrackTags {
	return &TrackTags{
		Title:       "One More Time",
		Artist:      "Daft Punk",
		Album:       "Discovery",
		AlbumArtist: "Daft Punk",
		TrackNumber: 1,
		DiscNumber:  1,
		TotalDiscs:  2,
		Year:        2001,
		Genre:       "House",
		ISRC:        "GBDUW0000059",
		Label:       "Virgin",
	}
}

// writeDummyMP3 writes a file the ID3 library will treat as tagless
// audio and prepend a fresh tag to.
func writeDummyMP3(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "track.mp3")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xfb, 0x90, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00}, 0o644))
	return path
}

// writeMinimalFLAC writes a bare stream marker plus an empty STREAMINFO
// block, enough for the FLAC parser to round trip.
func writeMinimalFLAC(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "track.flac")
	data := []byte("fLaC")
	data = append(data, 0x80, 0x00, 0x00, 0x22)
	data = append(data, make([]byte, 34)...)
	data = append(data, 0xff, 0xf8)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestApplyMP3Roundtrip(t *testing.T) {
	path := writeDummyMP3(t, t.TempDir())
	tagger := New(true, true, "en", nil)

	tags := sampleTags()
	tags.PlainLyrics = "One more time\nWe're gonna celebrate"
	tags.SyncedLyrics = "[00:05.00]One more time\n[00:08.50]We're gonna celebrate"
	require.NoError(t, tagger.Apply(path, tags))

	got, err := tagger.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "One More Time", got.Title)
	assert.Equal(t, "Daft Punk", got.Artist)
	assert.Equal(t, "Discovery", got.Album)
	assert.Equal(t, "Daft Punk", got.AlbumArtist)
	assert.Equal(t, 1, got.TrackNumber)
	assert.Equal(t, 1, got.DiscNumber, "disc/total field parses back to the disc number")
	assert.Equal(t, 2001, got.Year)
	assert.Equal(t, "House", got.Genre)
}

func TestApplyMP3EmbedsArtworkAndLyrics(t *testing.T) {
	path := writeDummyMP3(t, t.TempDir())
	tagger := New(true, true, "en", nil)

	tags := sampleTags()
	tags.ArtworkData = []byte{0xff, 0xd8, 0xff, 0xe0}
	tags.ArtworkMIME = "image/jpeg"
	tags.PlainLyrics = "la la la"
	require.NoError(t, tagger.Apply(path, tags))

	raw, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer raw.Close()

	pics := raw.GetFrames(raw.CommonID("Attached picture"))
	require.Len(t, pics, 1)
	pic, ok := pics[0].(id3v2.PictureFrame)
	require.True(t, ok)
	assert.Equal(t, "image/jpeg", pic.MimeType)

	uslt := raw.GetFrames(raw.CommonID("Unsynchronised lyrics/text transcription"))
	require.Len(t, uslt, 1)
}

func TestApplyMP3SkipsArtworkWhenDisabled(t *testing.T) {
	path := writeDummyMP3(t, t.TempDir())
	tagger := New(false, false, "en", nil)

	tags := sampleTags()
	tags.ArtworkData = []byte{0xff, 0xd8}
	require.NoError(t, tagger.Apply(path, tags))

	raw, err := id3v2.Open(path, id3v2.Options{Parse: true})
	require.NoError(t, err)
	defer raw.Close()
	assert.Empty(t, raw.GetFrames(raw.CommonID("Attached picture")))
}

func TestApplyFLACRoundtrip(t *testing.T) {
	path := writeMinimalFLAC(t, t.TempDir())
	tagger := New(true, true, "en", nil)

	tags := sampleTags()
	tags.PlainLyrics = "plain"
	tags.SyncedLyrics = "[00:01.00]synced"
	require.NoError(t, tagger.Apply(path, tags))

	got, err := tagger.Read(path)
	require.NoError(t, err)
	assert.Equal(t, "One More Time", got.Title)
	assert.Equal(t, "Daft Punk", got.AlbumArtist)
	assert.Equal(t, 1, got.TrackNumber)
	assert.Equal(t, 2001, got.Year)
	assert.Equal(t, "plain", got.PlainLyrics)
	assert.Equal(t, "[00:01.00]synced", got.SyncedLyrics)
}

func TestApplyRejectsUnsupportedFormat(t *testing.T) {
	tagger := New(true, true, "en", nil)
	err := tagger.Apply("song.ogg", sampleTags())
	require.Error(t, err)

	err = tagger.Apply("song.mp3", nil)
	require.Error(t, err)
}

func TestDiscField(t *testing.T) {
	assert.Equal(t, "2/3", discField(2, 3))
	assert.Equal(t, "2", discField(2, 0))
}

func TestLeadingInt(t *testing.T) {
	assert.Equal(t, 4, leadingInt("4/12"))
	assert.Equal(t, 4, leadingInt("4"))
	assert.Equal(t, 0, leadingInt("x"))
}

func TestID3Language(t *testing.T) {
	assert.Equal(t, "eng", id3Language(""))
	assert.Equal(t, "eng", id3Language("en"))
	assert.Equal(t, "fra", id3Language("fr"))
	assert.Equal(t, "jpn", id3Language("ja"))
	assert.Equal(t, "swe", id3Language("swe"))
	assert.Equal(t, "eng", id3Language("zz-unknown"))
}

func TestParseLRCTimestamp(t *testing.T) {
	tests := []struct {
		ts   string
		want int
	}{
		{"00:00.00", 0},
		{"00:15.50", 15500},
		{"02:05.50", 125500},
		{"01:01.234", 61234},
		{"bogus", -1},
		{"00:00:00", -1},
		{"aa:bb.cc", -1},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseLRCTimestamp(tt.ts), tt.ts)
	}
}

func TestSyltFrameSkipsMalformedLines(t *testing.T) {
	frame := syltFrame("no timestamps here\njust text", "eng")
	assert.Nil(t, frame)

	frame = syltFrame("[00:01.00]line one\ngarbage\n[00:02.00]line two", "eng")
	require.NotNil(t, frame)
}

func TestWriteLRC(t *testing.T) {
	dir := t.TempDir()
	audio := filepath.Join(dir, "song.mp3")

	path, err := WriteLRC(audio, "[00:01.00]hello")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "song.lrc"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "[00:01.00]hello", string(data))

	_, err = WriteLRC(audio, "")
	require.Error(t, err)
}
