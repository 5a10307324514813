// Package facade is the embedding surface for hosts: a single App handle,
// integer result codes, and JSON strings on the wire. Hosts never touch
// the internal packages directly.
package facade

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/melodex/melodex-core/internal/config"
	"github.com/melodex/melodex-core/internal/deezer"
	"github.com/melodex/melodex-core/internal/download"
	"github.com/melodex/melodex-core/internal/errs"
	"github.com/melodex/melodex-core/internal/monitoring"
	"github.com/melodex/melodex-core/internal/network"
	"github.com/melodex/melodex-core/internal/store"
	"github.com/melodex/melodex-core/internal/tag"
)

// Result codes shared with every host binding.
const (
	CodeOK                 = 0
	CodeNotInitialized     = -1
	CodeAlreadyInitialized = -2
	CodeInvalidConfig      = -3
	CodeDatabase           = -4
	CodeMigration          = -5
	CodeSchedulerStart     = -6
	CodeOperationFailed    = -7
	CodeValidation         = -8
	CodeFilesystem         = -9
	CodeAlreadyQueued      = -10
)

// Version is stamped at build time.
var Version = "0.0.0-dev"

// databaseFile is the queue database path under the data directory.
var databaseFile = filepath.Join("data", "queue.db")

// App is the host-facing handle. One App per process; all methods are
// safe for concurrent use.
type App struct {
	mu          sync.Mutex
	initialized bool
	intentional bool // shutdown was requested, not a crash

	cfg        *config.Config
	configPath string
	db         *sql.DB
	queue      *store.QueueStore
	client     *deezer.Client
	manager    *download.Manager
	notifier   *download.CallbackNotifier
	logger     *zap.Logger
	cancel     context.CancelFunc

	queueCB func(statsJSON string)
}

// New returns an uninitialized App.
func New() *App {
	return &App{}
}

// Initialize loads configuration, opens the database, authenticates the
// session when a token is configured, and starts the scheduler. Returns
// CodeOK or the first failing step's code.
func (a *App) Initialize(configPath string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.initialized {
		return CodeAlreadyInitialized
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return CodeInvalidConfig
	}
	if configPath == "" {
		configPath = config.DefaultConfigPath()
	}

	logger, err := monitoring.NewLogger(cfg.Logging)
	if err != nil {
		return CodeInvalidConfig
	}

	db, err := store.Open(filepath.Join(config.DataDir(), databaseFile))
	if err != nil {
		logger.Error("opening queue database", zap.Error(err))
		if strings.Contains(err.Error(), "migration") {
			return CodeMigration
		}
		return CodeDatabase
	}

	timeout := time.Duration(cfg.Network.Timeout) * time.Second
	client := deezer.NewClient(timeout, cfg.Network.ProxyURL, logger)

	if cfg.Deezer.ARL != "" {
		authCtx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := client.Authenticate(authCtx, cfg.Deezer.ARL); err != nil {
			// Catalog reads work unauthenticated; downloads will surface
			// auth errors per item.
			logger.Warn("session authentication failed", zap.Error(err))
		}
		cancel()
	}

	notifier := download.NewCallbackNotifier()

	recovery := errs.NewRecoveryManager(
		client,
		monitoring.NewFieldLogger(logger),
		retryConfig(cfg.Network.MaxRetries),
	)

	tagger := tag.New(
		cfg.Download.EmbedArtwork,
		cfg.Lyrics.Enabled && cfg.Lyrics.EmbedInFile,
		cfg.Lyrics.Language,
		logger,
	)
	artwork, err := tag.NewArtworkFetcher(
		filepath.Join(config.DataDir(), "cache", "artwork"), timeout, logger)
	if err != nil {
		db.Close()
		return CodeFilesystem
	}

	queue := store.NewQueueStore(db)
	downloader := network.NewDownloader(timeout, int64(cfg.Network.BandwidthLimit))
	pipeline := download.NewTrackPipeline(
		cfg, queue, client, downloader, tagger, artwork, recovery, notifier, logger)
	manager := download.NewManager(cfg, queue, client, pipeline, notifier, logger)

	ctx, cancel := context.WithCancel(context.Background())
	if err := manager.Start(ctx); err != nil {
		cancel()
		db.Close()
		logger.Error("starting scheduler", zap.Error(err))
		return CodeSchedulerStart
	}

	a.cfg = cfg
	a.configPath = configPath
	a.db = db
	a.queue = queue
	a.client = client
	a.manager = manager
	a.notifier = notifier
	a.logger = logger
	a.cancel = cancel
	a.initialized = true
	a.intentional = false

	go a.watchContext(ctx)

	logger.Info("core initialized",
		zap.String("version", Version),
		zap.String("config", configPath),
		zap.Int("workers", cfg.Download.ConcurrentDownloads))
	return CodeOK
}

// watchContext flags an application context that dies without a Shutdown
// call, which means a host bug or a crash in progress.
func (a *App) watchContext(ctx context.Context) {
	<-ctx.Done()
	a.mu.Lock()
	intentional := a.intentional
	logger := a.logger
	a.mu.Unlock()
	if !intentional && logger != nil {
		logger.DPanic("application context cancelled without shutdown")
	}
}

// Shutdown stops the scheduler, resets in-flight rows and closes the
// database. Safe to call more than once.
func (a *App) Shutdown() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.initialized {
		return CodeNotInitialized
	}
	a.intentional = true
	a.initialized = false

	a.manager.Stop()
	a.cancel()
	a.notifier.Close()
	if err := a.db.Close(); err != nil {
		a.logger.Warn("closing database", zap.Error(err))
	}
	a.logger.Info("core shut down")
	a.logger.Sync()
	return CodeOK
}

// Authenticate establishes a session from an ARL token and persists it.
func (a *App) Authenticate(arl string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}
	if arl == "" {
		return CodeValidation
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.client.Authenticate(ctx, arl); err != nil {
		a.logger.Warn("authentication failed", zap.Error(err))
		return codeFor(err)
	}

	a.cfg.Deezer.ARL = arl
	if err := a.cfg.Save(a.configPath); err != nil {
		a.logger.Warn("persisting session token", zap.Error(err))
		return CodeFilesystem
	}
	return CodeOK
}

// IsAuthenticated reports whether a session is established.
func (a *App) IsAuthenticated() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized && a.client.IsAuthenticated()
}

// GetVersion returns the library version string.
func (a *App) GetVersion() string {
	return Version
}

// SetProgressCallback registers the per-item progress callback. Speed and
// ETA arrive preformatted.
func (a *App) SetProgressCallback(cb func(itemID string, progress int, speed, eta string)) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}
	a.notifier.SetProgressCallback(cb)
	return CodeOK
}

// SetStatusCallback registers the per-item status callback
// (started/completed/failed). Registering also wires queue stat pushes.
func (a *App) SetStatusCallback(cb func(itemID, status, errorMsg string)) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}
	a.notifier.SetStatusCallback(func(itemID, status, errorMsg string) {
		if cb != nil {
			cb(itemID, status, errorMsg)
		}
		a.pushQueueStats()
	})
	return CodeOK
}

// SetQueueCallback registers a callback receiving queue stats JSON after
// every status change.
func (a *App) SetQueueCallback(cb func(statsJSON string)) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return CodeNotInitialized
	}
	a.queueCB = cb
	return CodeOK
}

func (a *App) pushQueueStats() {
	a.mu.Lock()
	cb := a.queueCB
	queue := a.queue
	a.mu.Unlock()
	if cb == nil || queue == nil {
		return
	}
	stats, err := queue.Stats()
	if err != nil {
		return
	}
	if payload, err := marshal(stats); err == nil {
		cb(payload)
	}
}

// handle returns the manager and queue under the initialization check.
func (a *App) handle() (*download.Manager, *store.QueueStore, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.manager, a.queue, a.initialized
}

func retryConfig(maxRetries int) errs.RetryConfig {
	cfg := errs.DefaultRetryConfig()
	if maxRetries > 0 {
		cfg.MaxRetries = maxRetries
	}
	return cfg
}

// codeFor maps an internal error to a host result code.
func codeFor(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, download.ErrAlreadyQueued):
		return CodeAlreadyQueued
	}
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindNotFound:
		return CodeValidation
	case errs.KindFilesystem:
		return CodeFilesystem
	default:
		return CodeOperationFailed
	}
}
