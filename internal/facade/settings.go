package facade

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// GetSettings returns the active configuration as JSON. The session token
// is redacted; hosts manage it through Authenticate.
func (a *App) GetSettings() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return "", CodeNotInitialized
	}

	redacted := *a.cfg
	redacted.Deezer.ARL = ""
	return wireObject(&redacted)
}

// UpdateSettings merges a JSON document over the active configuration,
// validates and persists it. Worker-count changes apply on the next
// Initialize; everything else takes effect immediately.
func (a *App) UpdateSettings(doc string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}

	updated := *a.cfg
	if err := json.Unmarshal([]byte(doc), &updated); err != nil {
		return CodeValidation
	}
	if updated.Deezer.ARL == "" {
		updated.Deezer.ARL = a.cfg.Deezer.ARL
	}
	if err := updated.Validate(); err != nil {
		a.logger.Warn("rejected settings update", zap.Error(err))
		return CodeValidation
	}
	if err := updated.Save(a.configPath); err != nil {
		a.logger.Error("persisting settings", zap.Error(err))
		return CodeFilesystem
	}

	// The scheduler and pipeline share this pointer; mutating in place
	// propagates quality, lyric and artwork changes to running sessions.
	*a.cfg = updated
	a.logger.Info("settings updated")
	return CodeOK
}

// GetDownloadPath returns the configured output directory.
func (a *App) GetDownloadPath() (string, int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return "", CodeNotInitialized
	}
	return a.cfg.Download.OutputDir, CodeOK
}

// SetDownloadPath points the output directory somewhere else, creating it
// if needed, and persists the change.
func (a *App) SetDownloadPath(path string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}
	if path == "" {
		return CodeValidation
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return CodeFilesystem
	}

	previous := a.cfg.Download.OutputDir
	a.cfg.Download.OutputDir = path
	if err := a.cfg.Save(a.configPath); err != nil {
		a.cfg.Download.OutputDir = previous
		return CodeFilesystem
	}
	return CodeOK
}

// Metrics renders the process metrics in Prometheus text exposition
// format for hosts that scrape or display them.
func (a *App) Metrics() (string, int) {
	a.mu.Lock()
	initialized := a.initialized
	a.mu.Unlock()
	if !initialized {
		return "", CodeNotInitialized
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		return "", CodeOperationFailed
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return "", CodeOperationFailed
		}
	}
	return buf.String(), CodeOK
}
