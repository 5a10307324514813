package deezer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/errs"
)

// qualityFallback lists the qualities to try, best first, for a requested
// quality. The service silently omits formats per region and license tier.
func qualityFallback(quality string) []string {
	switch quality {
	case QualityFLAC:
		return []string{QualityFLAC, QualityMP3320, QualityMP3128}
	case QualityMP3320:
		return []string{QualityMP3320, QualityMP3128}
	default:
		return []string{QualityMP3128}
	}
}

// GetTrackStreamURL resolves a time-limited media URL for a track, falling
// back to lower qualities when the requested one is not licensed. The
// returned StreamURL carries the quality actually granted.
func (c *Client) GetTrackStreamURL(ctx context.Context, trackID, quality string) (*StreamURL, error) {
	if trackID == "" {
		return nil, errs.Validation("track ID cannot be empty")
	}
	if quality != QualityMP3128 && quality != QualityMP3320 && quality != QualityFLAC {
		return nil, errs.Validation("invalid quality: " + quality)
	}

	track, err := c.GetTrack(ctx, trackID)
	if err != nil {
		return nil, err
	}
	if !track.Available {
		return nil, errs.NotFound("track not available for download: " + trackID)
	}

	trackToken, err := c.trackToken(ctx, trackID)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, try := range qualityFallback(quality) {
		mediaURL, err := c.mediaURL(ctx, trackToken, try)
		if err == nil {
			if try != quality {
				c.logger.Info("quality fallback",
					zap.String("track_id", trackID),
					zap.String("requested", quality),
					zap.String("granted", try))
			}
			return &StreamURL{
				TrackID: trackID,
				Quality: try,
				URL:     mediaURL,
				Format:  FormatExtension(try),
			}, nil
		}
		lastErr = err
		// Auth and rate-limit failures affect every quality equally;
		// stepping down only helps for licensing gaps.
		if errs.IsAuth(err) || errs.IsRateLimit(err) {
			return nil, err
		}
		c.logger.Debug("quality unavailable",
			zap.String("track_id", trackID),
			zap.String("quality", try),
			zap.Error(err))
	}
	return nil, errs.NotFound(fmt.Sprintf("no stream available for track %s: %v", trackID, lastErr))
}

// trackToken resolves the per-track token required by the media endpoint.
func (c *Client) trackToken(ctx context.Context, trackID string) (string, error) {
	result, err := c.gwRequest(ctx, "deezer.pageTrack", map[string]interface{}{
		"sng_id": trackID,
	})
	if err != nil {
		return "", err
	}

	results, ok := result["results"].(map[string]interface{})
	if !ok {
		return "", errs.Network("malformed pageTrack response", nil)
	}
	data, ok := results["DATA"].(map[string]interface{})
	if !ok {
		return "", errs.Network("pageTrack response missing DATA", nil)
	}
	token, ok := data["TRACK_TOKEN"].(string)
	if !ok || token == "" {
		return "", errs.NotFound("track token not found for " + trackID)
	}
	return token, nil
}

// mediaURL exchanges a track token for a CDN URL at the given quality.
func (c *Client) mediaURL(ctx context.Context, trackToken, quality string) (string, error) {
	c.mu.RLock()
	licenseToken := c.licenseToken
	arl := c.arl
	c.mu.RUnlock()

	if licenseToken == "" {
		return "", errs.Auth("license token not available", nil)
	}

	payload := map[string]interface{}{
		"license_token": licenseToken,
		"media": []map[string]interface{}{{
			"type": "FULL",
			"formats": []map[string]string{{
				"cipher": "BF_CBC_STRIPE",
				"format": quality,
			}},
		}},
		"track_tokens": []string{trackToken},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", errs.Validation("marshalling media payload: " + err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.mediaBase+"/v1/get_url", bytes.NewReader(body))
	if err != nil {
		return "", errs.Network("building media request", err)
	}
	req.Header.Set("Cookie", "arl="+arl)
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.do(ctx, req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return "", errs.FromStatus(resp.StatusCode, "media request rejected: "+string(raw))
	}

	var result struct {
		Data []struct {
			Errors []struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
			Media []struct {
				Sources []struct {
					URL string `json:"url"`
				} `json:"sources"`
			} `json:"media"`
		} `json:"data"`
		Error []interface{} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", errs.Network("decoding media response", err)
	}
	if len(result.Error) > 0 {
		return "", errs.Network(fmt.Sprintf("media API error: %v", result.Error), nil)
	}
	if len(result.Data) == 0 {
		return "", errs.NotFound("no data in media response")
	}

	entry := result.Data[0]
	if len(entry.Errors) > 0 {
		return "", errs.NotFound(fmt.Sprintf("media error %d: %s", entry.Errors[0].Code, entry.Errors[0].Message))
	}
	if len(entry.Media) == 0 || len(entry.Media[0].Sources) == 0 {
		return "", errs.NotFound("no media sources available")
	}
	mediaURL := entry.Media[0].Sources[0].URL
	if mediaURL == "" {
		return "", errs.NotFound("media URL missing from response")
	}
	return mediaURL, nil
}
