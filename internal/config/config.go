// Package config loads and validates settings.json. The session token is
// sealed at rest: a plaintext ARL found on load is re-saved encrypted.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/melodex/melodex-core/internal/security"
)

// Quality levels accepted by the stream resolver.
const (
	QualityMP3  = "MP3_320"
	QualityFLAC = "FLAC"
)

// Config is the full application configuration.
type Config struct {
	Deezer   DeezerConfig   `json:"deezer" mapstructure:"deezer"`
	Download DownloadConfig `json:"download" mapstructure:"download"`
	Lyrics   LyricsConfig   `json:"lyrics" mapstructure:"lyrics"`
	Network  NetworkConfig  `json:"network" mapstructure:"network"`
	Logging  LoggingConfig  `json:"logging" mapstructure:"logging"`
}

// DeezerConfig holds service credentials.
type DeezerConfig struct {
	ARL string `json:"arl" mapstructure:"arl"`
}

// DownloadConfig drives the scheduler, the file layout and artwork.
type DownloadConfig struct {
	OutputDir           string `json:"output_dir" mapstructure:"output_dir"`
	Quality             string `json:"quality" mapstructure:"quality"`
	ConcurrentDownloads int    `json:"concurrent_downloads" mapstructure:"concurrent_downloads"`
	EmbedArtwork        bool   `json:"embed_artwork" mapstructure:"embed_artwork"`
	ArtworkSize         int    `json:"artwork_size" mapstructure:"artwork_size"`
	SaveAlbumCover      bool   `json:"save_album_cover" mapstructure:"save_album_cover"`
	AlbumCoverSize      int    `json:"album_cover_size" mapstructure:"album_cover_size"`
	AlbumCoverFilename  string `json:"album_cover_filename" mapstructure:"album_cover_filename"`

	SingleTrackTemplate    string `json:"single_track_template" mapstructure:"single_track_template"`
	AlbumTrackTemplate     string `json:"album_track_template" mapstructure:"album_track_template"`
	PlaylistTrackTemplate  string `json:"playlist_track_template" mapstructure:"playlist_track_template"`
	ArtistFolderTemplate   string `json:"artist_folder_template" mapstructure:"artist_folder_template"`
	AlbumFolderTemplate    string `json:"album_folder_template" mapstructure:"album_folder_template"`
	PlaylistFolderTemplate string `json:"playlist_folder_template" mapstructure:"playlist_folder_template"`
	CreateArtistFolder     bool   `json:"create_artist_folder" mapstructure:"create_artist_folder"`
	CreateAlbumFolder      bool   `json:"create_album_folder" mapstructure:"create_album_folder"`
	CreatePlaylistFolder   bool   `json:"create_playlist_folder" mapstructure:"create_playlist_folder"`
	CreateCDFolder         bool   `json:"create_cd_folder" mapstructure:"create_cd_folder"`
	CDFolderTemplate       string `json:"cd_folder_template" mapstructure:"cd_folder_template"`
}

// LyricsConfig controls lyric retrieval and placement.
type LyricsConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	EmbedInFile    bool   `json:"embed_in_file" mapstructure:"embed_in_file"`
	SaveSyncedFile bool   `json:"save_synced_file" mapstructure:"save_synced_file"`
	Language       string `json:"language" mapstructure:"language"`
}

// NetworkConfig tunes the HTTP layer.
type NetworkConfig struct {
	ProxyURL       string `json:"proxy_url" mapstructure:"proxy_url"`
	Timeout        int    `json:"timeout" mapstructure:"timeout"`
	MaxRetries     int    `json:"max_retries" mapstructure:"max_retries"`
	BandwidthLimit int    `json:"bandwidth_limit" mapstructure:"bandwidth_limit"` // bytes/sec, 0 = unlimited
}

// LoggingConfig configures the structured logger and its rotation.
type LoggingConfig struct {
	Level      string `json:"level" mapstructure:"level"`
	Format     string `json:"format" mapstructure:"format"`
	Output     string `json:"output" mapstructure:"output"`
	FilePath   string `json:"file_path" mapstructure:"file_path"`
	MaxSizeMB  int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `json:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `json:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `json:"compress" mapstructure:"compress"`
}

// Load reads configuration from configPath (default location if empty),
// creating a default file on first run. Environment variables prefixed
// MELODEX override file values. A plaintext ARL is sealed and the file
// rewritten before the call returns.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		configPath = DefaultConfigPath()
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating config directory: %w", err)
	}

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			// First run: materialize the defaults.
			if werr := v.WriteConfigAs(configPath); werr != nil {
				return nil, fmt.Errorf("writing default config: %w", werr)
			}
		} else if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			if werr := v.WriteConfigAs(configPath); werr != nil {
				return nil, fmt.Errorf("writing default config: %w", werr)
			}
		} else {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("MELODEX")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	if err := cfg.unsealARL(configPath); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// unsealARL decrypts the stored token for in-memory use and, if it was
// found in plaintext, rewrites the file sealed.
func (c *Config) unsealARL(configPath string) error {
	if c.Deezer.ARL == "" {
		return nil
	}

	te := security.NewTokenEncryptor(filepath.Dir(configPath))
	if security.IsSealed(c.Deezer.ARL) {
		plain, err := te.Open(c.Deezer.ARL)
		if err != nil {
			return fmt.Errorf("decrypting stored ARL: %w", err)
		}
		c.Deezer.ARL = plain
		return nil
	}

	// Plaintext found: seal it on disk, keep plaintext in memory.
	if err := c.Save(configPath); err != nil {
		return fmt.Errorf("sealing plaintext ARL: %w", err)
	}
	return nil
}

// Validate checks value ranges and enumerations, filling safe defaults for
// optional fields.
func (c *Config) Validate() error {
	if c.Download.ConcurrentDownloads < 1 {
		return fmt.Errorf("concurrent downloads must be at least 1")
	}
	if c.Download.ConcurrentDownloads > 32 {
		return fmt.Errorf("concurrent downloads cannot exceed 32")
	}
	if c.Download.Quality != QualityMP3 && c.Download.Quality != QualityFLAC {
		return fmt.Errorf("invalid quality: %s (must be %s or %s)", c.Download.Quality, QualityMP3, QualityFLAC)
	}
	if c.Download.OutputDir == "" {
		return fmt.Errorf("output directory cannot be empty")
	}
	if c.Download.ArtworkSize < 100 || c.Download.ArtworkSize > 5000 {
		return fmt.Errorf("artwork size must be between 100 and 5000 pixels")
	}

	if c.Network.Timeout < 1 {
		return fmt.Errorf("network timeout must be at least 1 second")
	}
	if c.Network.MaxRetries < 0 || c.Network.MaxRetries > 10 {
		return fmt.Errorf("max retries must be between 0 and 10")
	}
	if c.Network.BandwidthLimit < 0 {
		return fmt.Errorf("bandwidth limit cannot be negative")
	}

	if c.Lyrics.Language == "" {
		c.Lyrics.Language = "en"
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s", c.Logging.Format)
	}
	validOutputs := map[string]bool{"file": true, "console": true, "both": true}
	if !validOutputs[c.Logging.Output] {
		return fmt.Errorf("invalid log output: %s", c.Logging.Output)
	}
	if c.Logging.MaxSizeMB < 1 {
		return fmt.Errorf("log max size must be at least 1 MB")
	}

	return nil
}

// Save writes the configuration to path with the ARL sealed.
func (c *Config) Save(path string) error {
	stored := *c
	if stored.Deezer.ARL != "" && !security.IsSealed(stored.Deezer.ARL) {
		te := security.NewTokenEncryptor(filepath.Dir(path))
		sealed, err := te.Seal(stored.Deezer.ARL)
		if err != nil {
			return fmt.Errorf("sealing ARL: %w", err)
		}
		stored.Deezer.ARL = sealed
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	v.Set("deezer", stored.Deezer)
	v.Set("download", stored.Download)
	v.Set("lyrics", stored.Lyrics)
	v.Set("network", stored.Network)
	v.Set("logging", stored.Logging)
	return v.WriteConfig()
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("download.output_dir", defaultDownloadDir())
	v.SetDefault("download.quality", QualityMP3)
	v.SetDefault("download.concurrent_downloads", 8)
	v.SetDefault("download.embed_artwork", true)
	v.SetDefault("download.artwork_size", 1200)
	v.SetDefault("download.save_album_cover", false)
	v.SetDefault("download.album_cover_size", 1200)
	v.SetDefault("download.album_cover_filename", "cover.jpg")
	v.SetDefault("download.single_track_template", "{artist} - {title}")
	v.SetDefault("download.album_track_template", "{track_number:02d} - {title}")
	v.SetDefault("download.playlist_track_template", "{playlist_position:02d} - {artist} - {title}")
	v.SetDefault("download.artist_folder_template", "{album_artist}")
	v.SetDefault("download.album_folder_template", "{album}")
	v.SetDefault("download.playlist_folder_template", "{playlist}")
	v.SetDefault("download.create_artist_folder", true)
	v.SetDefault("download.create_album_folder", true)
	v.SetDefault("download.create_playlist_folder", true)
	v.SetDefault("download.create_cd_folder", false)
	v.SetDefault("download.cd_folder_template", "CD {disc_number}")

	v.SetDefault("lyrics.enabled", true)
	v.SetDefault("lyrics.embed_in_file", true)
	v.SetDefault("lyrics.save_synced_file", true)
	v.SetDefault("lyrics.language", "en")

	v.SetDefault("network.timeout", 30)
	v.SetDefault("network.max_retries", 3)
	v.SetDefault("network.bandwidth_limit", 0)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "file")
	v.SetDefault("logging.file_path", filepath.Join(DataDir(), "logs", "melodex.log"))
	v.SetDefault("logging.max_size_mb", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 30)
	v.SetDefault("logging.compress", true)
}

// DataDir returns the application data directory. A .portable marker next
// to the executable keeps everything beside the binary instead.
func DataDir() string {
	if portableDir, ok := portableMode(); ok {
		return portableDir
	}
	base := os.Getenv("APPDATA")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "."
		}
		base = home
	}
	return filepath.Join(base, "Melodex")
}

// DefaultConfigPath returns where settings.json lives for this install.
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "settings.json")
}

func defaultDownloadDir() string {
	return filepath.Join(DataDir(), "downloads")
}

func portableMode() (string, bool) {
	exePath, err := os.Executable()
	if err != nil {
		return "", false
	}
	dir := filepath.Dir(exePath)
	if _, err := os.Stat(filepath.Join(dir, ".portable")); err != nil {
		return "", false
	}
	return dir, true
}
