package download

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/decrypt"
	"github.com/melodex/melodex-core/internal/deezer"
	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/layout"
	"github.com/melodex/melodex-core/internal/monitoring"
	"github.com/melodex/melodex-core/internal/network"
	"github.com/melodex/melodex-core/internal/store"
	"github.com/melodex/melodex-core/internal/tag"
)

// StreamService is the slice of the service client the pipeline needs.
type StreamService interface {
	CatalogService
	GetTrackStreamURL(ctx context.Context, trackID, quality string) (*deezer.StreamURL, error)
	GetLyrics(ctx context.Context, trackID string) (*deezer.Lyrics, error)
}

// TrackPipeline downloads, decrypts and tags one track per Process call.
type TrackPipeline struct {
	cfg        *config.Config
	queue      *store.QueueStore
	client     StreamService
	downloader *network.Downloader
	tagger     *tag.Tagger
	artwork    *tag.ArtworkFetcher
	paths      *layout.Builder
	recovery   *errs.RecoveryManager
	notifier   Notifier
	logger     *zap.Logger
}

// NewTrackPipeline wires the pipeline. notifier may be nil.
func NewTrackPipeline(
	cfg *config.Config,
	queue *store.QueueStore,
	client StreamService,
	downloader *network.Downloader,
	tagger *tag.Tagger,
	artwork *tag.ArtworkFetcher,
	recovery *errs.RecoveryManager,
	notifier Notifier,
	logger *zap.Logger,
) *TrackPipeline {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TrackPipeline{
		cfg:        cfg,
		queue:      queue,
		client:     client,
		downloader: downloader,
		tagger:     tagger,
		artwork:    artwork,
		paths:      layout.NewBuilder(cfg.Download),
		recovery:   recovery,
		notifier:   notifier,
		logger:     logger.Named("pipeline"),
	}
}

// Process runs the full chain for one queue row: resolve the stream,
// download the encrypted payload with resume, decrypt it in place, then
// tag, fetch lyrics and artwork, and record history. Tagging and lyric
// failures do not fail the track.
func (p *TrackPipeline) Process(ctx context.Context, item *store.QueueItem) error {
	info, err := p.trackInfo(ctx, item)
	if err != nil {
		return err
	}
	log := p.logger.With(zap.String("item_id", item.ID), zap.String("track_id", info.TrackID))

	stream, err := p.resolveStream(ctx, info)
	if err != nil {
		return err
	}

	outputPath, err := p.paths.TrackPath(layoutFields(info), stream.Format)
	if err != nil {
		return err
	}
	if _, statErr := os.Stat(outputPath); statErr == nil {
		log.Info("file already exists, skipping download", zap.String("path", outputPath))
		item.OutputPath = outputPath
		// Only the first completion writes history; a re-download of a
		// file that is already on disk must not duplicate the entry.
		downloaded, histErr := p.queue.WasDownloaded(info.TrackID)
		if histErr != nil {
			log.Warn("checking download history", zap.Error(histErr))
		}
		if downloaded {
			return nil
		}
		return p.finishTrack(item, info, outputPath, stream.Quality)
	}
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return errs.Filesystem("creating output directory", err)
	}

	encPath := outputPath + ".enc"
	if err := p.downloadEncrypted(ctx, item, stream, encPath); err != nil {
		return err
	}

	if err := p.decryptStream(info.TrackID, encPath, outputPath); err != nil {
		return err
	}
	os.Remove(encPath)

	// The partial is gone; clear the resume state so a retry starts clean.
	if err := p.queue.UpdateProgress(item.ID, 100, item.BytesDownloaded, item.TotalBytes, ""); err != nil {
		log.Warn("clearing resume state", zap.Error(err))
	}
	item.OutputPath = outputPath
	item.PartialFilePath = ""

	p.enrich(ctx, info, outputPath, log)

	return p.finishTrack(item, info, outputPath, stream.Quality)
}

// trackInfo loads the persisted metadata, fetching catalog data for rows
// admitted with only a track ID.
func (p *TrackPipeline) trackInfo(ctx context.Context, item *store.QueueItem) (*TrackInfo, error) {
	var info TrackInfo
	if err := item.Metadata(&info); err != nil {
		return nil, errs.Validation("queue item has no track metadata: " + item.ID)
	}
	if info.TrackID == "" {
		return nil, errs.Validation("queue item has no track ID: " + item.ID)
	}
	if info.Title != "" {
		return &info, nil
	}

	track, err := p.client.GetTrack(ctx, info.TrackID)
	if err != nil {
		return nil, err
	}
	fetched := trackInfoFromTrack(track)
	fetched.Quality = info.Quality
	fetched.Playlist = info.Playlist
	fetched.PlaylistPosition = info.PlaylistPosition
	info = fetched

	item.Title = info.Title
	item.Artist = info.Artist
	item.Album = info.Album
	if err := item.SetMetadata(&info); err != nil {
		return nil, err
	}
	if err := p.queue.Update(item); err != nil {
		return nil, err
	}
	return &info, nil
}

// resolveStream prefers the quality requested at admission over the
// configured default.
func (p *TrackPipeline) resolveStream(ctx context.Context, info *TrackInfo) (*deezer.StreamURL, error) {
	quality := info.Quality
	if quality == "" {
		quality = p.cfg.Download.Quality
	}
	var stream *deezer.StreamURL
	err := p.recovery.ExecuteWithRecovery(ctx, "resolve stream", func() error {
		var resolveErr error
		stream, resolveErr = p.client.GetTrackStreamURL(ctx, info.TrackID, quality)
		return resolveErr
	})
	return stream, err
}

// downloadEncrypted transfers the stripe-encrypted payload to encPath,
// resuming from the persisted partial when one exists.
func (p *TrackPipeline) downloadEncrypted(ctx context.Context, item *store.QueueItem, stream *deezer.StreamURL, encPath string) error {
	partialPath := item.PartialFilePath
	if partialPath == "" {
		partialPath = encPath + ".part"
	}

	req := &network.Request{
		URL:             stream.URL,
		OutputPath:      encPath,
		PartialPath:     partialPath,
		BytesDownloaded: item.BytesDownloaded,
		TotalBytes:      item.TotalBytes,
		Progress: func(downloaded, total int64) {
			progress := 0
			if total > 0 {
				progress = int(downloaded * 100 / total)
			}
			if err := p.queue.UpdateProgress(item.ID, progress, downloaded, total, partialPath); err != nil {
				p.logger.Debug("persisting progress", zap.Error(err))
			}
			p.notifier.NotifyProgress(item.ID, progress, downloaded, total)
		},
	}

	return p.recovery.ExecuteWithRecovery(ctx, "download track", func() error {
		result, err := p.downloader.Download(ctx, req)
		if result != nil {
			// Persisting the byte count on failure is what makes the next
			// attempt a resume instead of a restart.
			item.BytesDownloaded = result.BytesDownloaded
			item.TotalBytes = result.TotalBytes
			item.PartialFilePath = partialPath
			req.BytesDownloaded = result.BytesDownloaded
			req.TotalBytes = result.TotalBytes
		}
		return err
	})
}

func (p *TrackPipeline) decryptStream(trackID, encPath, outputPath string) error {
	key, err := decrypt.Key(trackID)
	if err != nil {
		return err
	}
	started := time.Now()
	if err := decrypt.DecryptFile(encPath, outputPath, key, nil); err != nil {
		os.Remove(outputPath)
		return err
	}
	monitoring.RecordDecryption(time.Since(started))
	return nil
}

// enrich tags the finished file and writes the optional sidecars. Nothing
// here fails the track: the audio is already on disk.
func (p *TrackPipeline) enrich(ctx context.Context, info *TrackInfo, outputPath string, log *zap.Logger) {
	tags := trackTags(info)

	if p.cfg.Download.EmbedArtwork && info.CoverURL != "" && p.artwork != nil {
		data, mime, err := p.artwork.Fetch(ctx, info.CoverURL, p.cfg.Download.ArtworkSize)
		if err != nil {
			log.Warn("fetching artwork", zap.Error(err))
		} else {
			tags.ArtworkData = data
			tags.ArtworkMIME = mime
		}
	}

	var lyrics *deezer.Lyrics
	if p.cfg.Lyrics.Enabled {
		var err error
		lyrics, err = p.client.GetLyrics(ctx, info.TrackID)
		if err != nil {
			log.Warn("fetching lyrics", zap.Error(err))
			lyrics = nil
		}
	}
	if lyrics != nil && lyrics.HasLyrics() {
		if p.cfg.Lyrics.EmbedInFile {
			tags.PlainLyrics = lyrics.PlainText()
			tags.SyncedLyrics = lyrics.LRC()
		}
		if lrc := lyrics.LRC(); p.cfg.Lyrics.SaveSyncedFile && lrc != "" {
			if _, err := tag.WriteLRC(outputPath, lrc); err != nil {
				log.Warn("writing lyrics file", zap.Error(err))
			}
		}
	}

	if p.tagger != nil {
		if err := p.tagger.Apply(outputPath, tags); err != nil {
			log.Warn("tagging file", zap.Error(err))
		}
	}

	if p.cfg.Download.SaveAlbumCover && info.CoverURL != "" && info.Playlist == "" && p.artwork != nil {
		coverPath, err := p.paths.CoverPath(layoutFields(info))
		if err == nil {
			if _, statErr := os.Stat(coverPath); os.IsNotExist(statErr) {
				if err := p.artwork.SaveCover(ctx, info.CoverURL, p.cfg.Download.AlbumCoverSize, coverPath); err != nil {
					log.Warn("saving album cover", zap.Error(err))
				}
			}
		}
	}
}

func (p *TrackPipeline) finishTrack(item *store.QueueItem, info *TrackInfo, outputPath, quality string) error {
	item.OutputPath = outputPath

	size := int64(0)
	if fi, err := os.Stat(outputPath); err == nil {
		size = fi.Size()
	}
	entry := &store.HistoryEntry{
		TrackID:  info.TrackID,
		Title:    info.Title,
		Artist:   info.Artist,
		Album:    info.Album,
		FilePath: outputPath,
		FileSize: size,
		Quality:  quality,
	}
	if err := p.queue.AddHistory(entry); err != nil {
		p.logger.Warn("recording history", zap.String("track_id", info.TrackID), zap.Error(err))
	}
	return nil
}

func layoutFields(info *TrackInfo) layout.Fields {
	return layout.Fields{
		Artist:           info.Artist,
		Title:            info.Title,
		Album:            info.Album,
		AlbumArtist:      info.AlbumArtist,
		TrackNumber:      info.TrackNumber,
		DiscNumber:       info.DiscNumber,
		TotalDiscs:       info.TotalDiscs,
		Year:             info.Year,
		Playlist:         info.Playlist,
		PlaylistPosition: info.PlaylistPosition,
	}
}

func trackTags(info *TrackInfo) *tag.TrackTags {
	return &tag.TrackTags{
		Title:       info.Title,
		Artist:      info.Artist,
		Album:       info.Album,
		AlbumArtist: info.AlbumArtist,
		TrackNumber: info.TrackNumber,
		DiscNumber:  info.DiscNumber,
		TotalDiscs:  info.TotalDiscs,
		Year:        info.Year,
		Genre:       info.Genre,
		ISRC:        info.ISRC,
		Label:       info.Label,
	}
}
