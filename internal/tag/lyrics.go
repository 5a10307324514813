package tag

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bogem/id3v2/v2"

	"github.com/melodex/melodex-core/internal/errs"
)

// embedMP3Lyrics writes USLT and SYLT frames. Existing lyric frames are
// replaced.
func (t *Tagger) embedMP3Lyrics(tag *id3v2.Tag, tags *TrackTags) {
	if tags.PlainLyrics == "" && tags.SyncedLyrics == "" {
		return
	}

	tag.DeleteFrames(tag.CommonID("Unsynchronised lyrics/text transcription"))
	tag.DeleteFrames("SYLT")

	if tags.PlainLyrics != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          t.lyricsLang,
			ContentDescriptor: "",
			Lyrics:            tags.PlainLyrics,
		})
	}

	if tags.SyncedLyrics != "" {
		if frame := syltFrame(tags.SyncedLyrics, t.lyricsLang); frame != nil {
			tag.AddFrame("SYLT", frame)
		}
	}
}

// syltFrame builds a SYLT frame body from LRC text. The frame layout is
// encoding byte, 3 byte language, timestamp format (0x02 milliseconds),
// content type (0x01 lyrics), empty descriptor, then null terminated
// text and 4 byte big endian timestamp pairs.
func syltFrame(lrc, language string) id3v2.Framer {
	var body []byte
	body = append(body, id3v2.EncodingUTF8.Key)
	body = append(body, []byte(language[:3])...)
	body = append(body, 0x02, 0x01, 0x00)

	wrote := false
	for _, line := range strings.Split(lrc, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		end := strings.Index(line, "]")
		if end < 0 {
			continue
		}
		ms := parseLRCTimestamp(line[1:end])
		if ms < 0 {
			continue
		}
		text := strings.TrimSpace(line[end+1:])

		body = append(body, []byte(text)...)
		body = append(body, 0x00)
		body = append(body, byte(ms>>24), byte(ms>>16), byte(ms>>8), byte(ms))
		wrote = true
	}
	if !wrote {
		return nil
	}
	return id3v2.UnknownFrame{Body: body}
}

// parseLRCTimestamp converts "mm:ss.xx" (or "mm:ss.xxx") to
// milliseconds, returning -1 for anything malformed.
func parseLRCTimestamp(ts string) int {
	parts := strings.Split(ts, ":")
	if len(parts) != 2 {
		return -1
	}
	var minutes int
	if n, err := fmt.Sscanf(parts[0], "%d", &minutes); err != nil || n != 1 {
		return -1
	}

	secParts := strings.Split(parts[1], ".")
	if len(secParts) != 2 {
		return -1
	}
	var seconds int
	if n, err := fmt.Sscanf(secParts[0], "%d", &seconds); err != nil || n != 1 {
		return -1
	}

	frac := secParts[1]
	if len(frac) == 2 {
		frac += "0"
	}
	var ms int
	if n, err := fmt.Sscanf(frac, "%d", &ms); err != nil || n != 1 {
		return -1
	}
	return (minutes*60+seconds)*1000 + ms
}

// WriteLRC saves synchronized lyrics as a sidecar .lrc file next to the
// audio file and returns its path.
func WriteLRC(audioPath, lrc string) (string, error) {
	if lrc == "" {
		return "", errs.Validation("no synchronized lyrics to write")
	}
	lrcPath := strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + ".lrc"
	if err := os.WriteFile(lrcPath, []byte(lrc), 0o644); err != nil {
		return "", errs.Filesystem("writing lrc file", err)
	}
	return lrcPath, nil
}
