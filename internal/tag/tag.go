// Package tag writes track metadata, artwork and lyrics into downloaded
// audio files. MP3 files get ID3v2.4 frames, FLAC files get Vorbis
// comments plus a picture block.
package tag

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/bogem/id3v2/v2"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	"github.com/go-flac/go-flac"
	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/errs"
)

// TrackTags carries everything that can be written into an audio file.
type TrackTags struct {
	Title       string
	Artist      string
	Album       string
	AlbumArtist string
	TrackNumber int
	DiscNumber  int
	TotalDiscs  int
	Year        int
	Genre       string
	ISRC        string
	Label       string
	Copyright   string

	ArtworkData []byte
	ArtworkMIME string

	SyncedLyrics string // LRC text
	PlainLyrics  string
}

// Tagger applies TrackTags to audio files.
type Tagger struct {
	embedArtwork bool
	embedLyrics  bool
	lyricsLang   string
	logger       *zap.Logger
}

// New returns a Tagger. lyricsLang is an ISO 639 language code; two
// letter codes are widened to the three letter form ID3 requires.
func New(embedArtwork, embedLyrics bool, lyricsLang string, logger *zap.Logger) *Tagger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Tagger{
		embedArtwork: embedArtwork,
		embedLyrics:  embedLyrics,
		lyricsLang:   id3Language(lyricsLang),
		logger:       logger.Named("tag"),
	}
}

// Apply writes the tags into the file at path. The format is chosen by
// extension.
func (t *Tagger) Apply(path string, tags *TrackTags) error {
	if tags == nil {
		return errs.Validation("tags cannot be nil")
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return t.applyMP3(path, tags)
	case ".flac":
		return t.applyFLAC(path, tags)
	default:
		return errs.Validation("unsupported audio format: " + ext)
	}
}

func (t *Tagger) applyMP3(path string, tags *TrackTags) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return errs.Filesystem("opening mp3 for tagging", err)
	}
	defer tag.Close()

	tag.SetVersion(4)
	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if tags.Title != "" {
		tag.SetTitle(tags.Title)
	}
	if tags.Artist != "" {
		tag.SetArtist(tags.Artist)
	}
	if tags.Album != "" {
		tag.SetAlbum(tags.Album)
	}
	if tags.Genre != "" {
		tag.SetGenre(tags.Genre)
	}
	if tags.Year > 0 {
		tag.SetYear(strconv.Itoa(tags.Year))
	}
	if tags.AlbumArtist != "" {
		tag.DeleteFrames("TPE2")
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, tags.AlbumArtist)
	}
	if tags.TrackNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(tags.TrackNumber))
	}
	if tags.DiscNumber > 0 {
		tag.DeleteFrames("TPOS")
		tag.AddTextFrame("TPOS", id3v2.EncodingUTF8, discField(tags.DiscNumber, tags.TotalDiscs))
	}
	if tags.ISRC != "" {
		tag.AddTextFrame(tag.CommonID("ISRC"), id3v2.EncodingUTF8, tags.ISRC)
	}
	if tags.Label != "" {
		tag.AddTextFrame(tag.CommonID("Publisher"), id3v2.EncodingUTF8, tags.Label)
	}
	if tags.Copyright != "" {
		tag.AddTextFrame(tag.CommonID("Copyright message"), id3v2.EncodingUTF8, tags.Copyright)
	}

	if t.embedArtwork && len(tags.ArtworkData) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    mimeOrJPEG(tags.ArtworkMIME),
			PictureType: id3v2.PTFrontCover,
			Description: "Front Cover",
			Picture:     tags.ArtworkData,
		})
	}

	if t.embedLyrics {
		t.embedMP3Lyrics(tag, tags)
	}

	if err := tag.Save(); err != nil {
		return errs.Filesystem("saving mp3 tags", err)
	}
	return nil
}

func (t *Tagger) applyFLAC(path string, tags *TrackTags) error {
	f, err := flac.ParseFile(path)
	if err != nil {
		return errs.Filesystem("parsing flac file", err)
	}

	cmtBlock := vorbisBlock(f)
	cmt, err := flacvorbis.ParseFromMetaDataBlock(*cmtBlock)
	if err != nil {
		cmt = flacvorbis.New()
	}

	addComment(cmt, "TITLE", tags.Title)
	addComment(cmt, "ARTIST", tags.Artist)
	addComment(cmt, "ALBUM", tags.Album)
	addComment(cmt, "ALBUMARTIST", tags.AlbumArtist)
	addComment(cmt, "GENRE", tags.Genre)
	addComment(cmt, "ISRC", tags.ISRC)
	addComment(cmt, "LABEL", tags.Label)
	addComment(cmt, "COPYRIGHT", tags.Copyright)
	if tags.Year > 0 {
		addComment(cmt, "DATE", strconv.Itoa(tags.Year))
	}
	if tags.TrackNumber > 0 {
		addComment(cmt, "TRACKNUMBER", strconv.Itoa(tags.TrackNumber))
	}
	if tags.DiscNumber > 0 {
		addComment(cmt, "DISCNUMBER", discField(tags.DiscNumber, tags.TotalDiscs))
	}
	if tags.TotalDiscs > 0 {
		addComment(cmt, "TOTALDISCS", strconv.Itoa(tags.TotalDiscs))
	}
	if t.embedLyrics {
		addComment(cmt, "LYRICS", tags.PlainLyrics)
		addComment(cmt, "SYNCEDLYRICS", tags.SyncedLyrics)
	}

	res := cmt.Marshal()
	cmtBlock.Data = res.Data

	if t.embedArtwork && len(tags.ArtworkData) > 0 && !hasPicture(f) {
		pic, err := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Front Cover",
			tags.ArtworkData, mimeOrJPEG(tags.ArtworkMIME))
		if err != nil {
			t.logger.Warn("skipping flac artwork", zap.String("path", path), zap.Error(err))
		} else {
			block := pic.Marshal()
			f.Meta = append(f.Meta, &block)
		}
	}

	if err := f.Save(path); err != nil {
		return errs.Filesystem("saving flac tags", err)
	}
	return nil
}

// Read returns the tags currently present in the file. Artwork and
// lyrics are not read back.
func (t *Tagger) Read(path string) (*TrackTags, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		return readMP3(path)
	case ".flac":
		return readFLAC(path)
	default:
		return nil, errs.Validation("unsupported audio format: " + ext)
	}
}

func readMP3(path string) (*TrackTags, error) {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return nil, errs.Filesystem("opening mp3", err)
	}
	defer tag.Close()

	tags := &TrackTags{
		Title:  tag.Title(),
		Artist: tag.Artist(),
		Album:  tag.Album(),
		Genre:  tag.Genre(),
	}
	if year, err := strconv.Atoi(tag.Year()); err == nil {
		tags.Year = year
	}
	tags.AlbumArtist = textFrame(tag, "TPE2")
	tags.TrackNumber = leadingInt(textFrame(tag, tag.CommonID("Track number/Position in set")))
	tags.DiscNumber = leadingInt(textFrame(tag, "TPOS"))
	return tags, nil
}

func readFLAC(path string) (*TrackTags, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return nil, errs.Filesystem("parsing flac file", err)
	}

	tags := &TrackTags{}
	for _, block := range f.Meta {
		if block.Type != flac.VorbisComment {
			continue
		}
		cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
		if err != nil {
			continue
		}
		tags.Title = firstComment(cmt, "TITLE")
		tags.Artist = firstComment(cmt, "ARTIST")
		tags.Album = firstComment(cmt, "ALBUM")
		tags.AlbumArtist = firstComment(cmt, "ALBUMARTIST")
		tags.Genre = firstComment(cmt, "GENRE")
		tags.Year, _ = strconv.Atoi(firstComment(cmt, "DATE"))
		tags.TrackNumber = leadingInt(firstComment(cmt, "TRACKNUMBER"))
		tags.DiscNumber = leadingInt(firstComment(cmt, "DISCNUMBER"))
		tags.PlainLyrics = firstComment(cmt, "LYRICS")
		tags.SyncedLyrics = firstComment(cmt, "SYNCEDLYRICS")
		break
	}
	return tags, nil
}

func vorbisBlock(f *flac.File) *flac.MetaDataBlock {
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			return block
		}
	}
	block := &flac.MetaDataBlock{Type: flac.VorbisComment}
	f.Meta = append(f.Meta, block)
	return block
}

func hasPicture(f *flac.File) bool {
	for _, block := range f.Meta {
		if block.Type == flac.Picture {
			return true
		}
	}
	return false
}

func addComment(cmt *flacvorbis.MetaDataBlockVorbisComment, key, value string) {
	if value == "" {
		return
	}
	if err := cmt.Add(key, value); err != nil {
		// Only fails on malformed keys; ours are fixed.
		return
	}
}

func firstComment(cmt *flacvorbis.MetaDataBlockVorbisComment, key string) string {
	values, err := cmt.Get(key)
	if err != nil || len(values) == 0 {
		return ""
	}
	return values[0]
}

func textFrame(tag *id3v2.Tag, id string) string {
	frames := tag.GetFrames(id)
	if len(frames) == 0 {
		return ""
	}
	if tf, ok := frames[0].(id3v2.TextFrame); ok {
		return tf.Text
	}
	return ""
}

// discField renders "disc" or "disc/total" for TPOS and DISCNUMBER.
func discField(disc, total int) string {
	if total > 0 {
		return fmt.Sprintf("%d/%d", disc, total)
	}
	return strconv.Itoa(disc)
}

// leadingInt parses the number before an optional "/total" suffix.
func leadingInt(s string) int {
	n, _ := strconv.Atoi(strings.Split(s, "/")[0])
	return n
}

func mimeOrJPEG(mime string) string {
	if mime == "" {
		return "image/jpeg"
	}
	return mime
}

// id3Language widens common two letter codes to the ISO 639-2 form the
// USLT and SYLT frames require.
func id3Language(lang string) string {
	switch strings.ToLower(lang) {
	case "", "en", "eng":
		return "eng"
	case "fr", "fra", "fre":
		return "fra"
	case "de", "deu", "ger":
		return "deu"
	case "es", "spa":
		return "spa"
	case "it", "ita":
		return "ita"
	case "pt", "por":
		return "por"
	case "ja", "jpn":
		return "jpn"
	default:
		if len(lang) == 3 {
			return strings.ToLower(lang)
		}
		return "eng"
	}
}
