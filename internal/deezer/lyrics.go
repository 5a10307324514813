package deezer

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/melodex/melodex-core/internal/errs"
)

// Lyrics holds a track's lyric content in both synchronized and plain form.
type Lyrics struct {
	TrackID        string       `json:"track_id"`
	SyncedLyrics   string       `json:"synced_lyrics"`
	UnsyncedLyrics string       `json:"unsynced_lyrics"`
	Synchronized   []*LyricLine `json:"synchronized"`
	Writers        string       `json:"writers"`
	Copyright      string       `json:"copyright"`
}

// LyricLine is one synchronized line.
type LyricLine struct {
	Line         string `json:"line"`
	Milliseconds int    `json:"milliseconds"`
	Duration     int    `json:"duration"`
	LrcTimestamp string `json:"lrc_timestamp"`
}

// HasLyrics reports whether any lyric content is present.
func (l *Lyrics) HasLyrics() bool {
	return l.SyncedLyrics != "" || l.UnsyncedLyrics != ""
}

// PlainText returns unsynchronized text, derived from the synchronized
// lines when no plain version exists.
func (l *Lyrics) PlainText() string {
	if l.UnsyncedLyrics != "" {
		return l.UnsyncedLyrics
	}
	if len(l.Synchronized) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range l.Synchronized {
		b.WriteString(line.Line)
		b.WriteString("\n")
	}
	return b.String()
}

// LRC returns the synchronized lyrics in LRC file format.
func (l *Lyrics) LRC() string {
	if l.SyncedLyrics != "" {
		return l.SyncedLyrics
	}
	return formatLRC(l.Synchronized)
}

// GetLyrics retrieves lyrics for a track. Missing lyrics are not an error;
// an empty Lyrics is returned so taggers can proceed.
func (c *Client) GetLyrics(ctx context.Context, trackID string) (*Lyrics, error) {
	if trackID == "" {
		return nil, errs.Validation("track ID cannot be empty")
	}

	return cached(c, "lyrics:"+trackID, func() (*Lyrics, error) {
		lyrics := &Lyrics{TrackID: trackID}

		result, err := c.gwRequest(ctx, "song.getLyrics", map[string]interface{}{
			"sng_id": trackID,
		})
		if err != nil {
			// Auth problems must surface; anything else reads as "no lyrics".
			if errs.IsAuth(err) {
				return nil, err
			}
			return lyrics, nil
		}

		results, ok := result["results"].(map[string]interface{})
		if !ok {
			return lyrics, nil
		}

		if sync, ok := results["LYRICS_SYNC_JSON"].([]interface{}); ok && len(sync) > 0 {
			lyrics.Synchronized = parseSynchronized(sync)
			lyrics.SyncedLyrics = formatLRC(lyrics.Synchronized)
		}
		if text, ok := results["LYRICS_TEXT"].(string); ok {
			lyrics.UnsyncedLyrics = text
		}
		if writers, ok := results["LYRICS_WRITERS"].(string); ok {
			lyrics.Writers = writers
		}
		if copyright, ok := results["LYRICS_COPYRIGHTS"].(string); ok {
			lyrics.Copyright = copyright
		}
		return lyrics, nil
	})
}

func parseSynchronized(data []interface{}) []*LyricLine {
	var lines []*LyricLine
	for _, item := range data {
		raw, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		line := &LyricLine{}
		if text, ok := raw["line"].(string); ok {
			line.Line = text
		}
		line.Milliseconds = numericField(raw, "milliseconds")
		line.Duration = numericField(raw, "duration")
		line.LrcTimestamp = lrcTimestamp(line.Milliseconds)
		lines = append(lines, line)
	}
	return lines
}

// numericField reads a field the gateway serves as either string or number.
func numericField(raw map[string]interface{}, key string) int {
	switch v := raw[key].(type) {
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	case float64:
		return int(v)
	}
	return 0
}

func formatLRC(lines []*LyricLine) string {
	if len(lines) == 0 {
		return ""
	}
	var b strings.Builder
	for _, line := range lines {
		if line.LrcTimestamp != "" {
			fmt.Fprintf(&b, "[%s]%s\n", line.LrcTimestamp, line.Line)
		}
	}
	return b.String()
}

// lrcTimestamp renders milliseconds as the LRC mm:ss.xx form.
func lrcTimestamp(ms int) string {
	if ms < 0 {
		ms = 0
	}
	totalSeconds := ms / 1000
	return fmt.Sprintf("%02d:%02d.%02d", totalSeconds/60, totalSeconds%60, (ms%1000)/10)
}
