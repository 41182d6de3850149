// Package app builds the storage engine and its collaborators from config
// and owns their lifecycle. The CLI and the HTTP server both go through it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"drive-go/internal/cache"
	"drive-go/internal/config"
	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/encryption"
	"drive-go/internal/metrics"
	"drive-go/internal/notify"
	"drive-go/internal/snapshot"
	"drive-go/internal/staging"
	"drive-go/internal/vault"
	"drive-go/internal/volume"
)

// Options tune how an App is built.
type Options struct {
	// Command names the CLI command being run; it prefixes the run ID
	// written on every log line.
	Command string

	// EchoLog copies log lines to stderr.
	EchoLog bool
}

// App holds the wired engine and everything it depends on.
// The caller must call Close when done.
type App struct {
	cfg        *config.Config
	db         drive.Database
	volume     *volume.Volume
	closeCache func() error
	metrics    *metrics.Metrics
	notifier   *notify.DBNotifier
	engine     *drive.Engine
	staging    *staging.Area
	snapshots  *snapshot.Service
	encryptor  snapshot.Encryptor
	logger     *slog.Logger
	log        drive.Logger
	logFile    *os.File
	scheduler  *scheduler
}

// New creates a fully wired App from cfg.
func New(ctx context.Context, cfg *config.Config, opts Options) (*App, error) {
	runID := time.Now().UTC().Format("20060102T150405Z")
	if opts.Command != "" {
		runID = opts.Command + "-" + runID
	}
	logger, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel, runID, opts.EchoLog)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	a := &App{cfg: cfg, logger: logger, log: &slogAdapter{l: logger}, logFile: logFile}

	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg

	db, err := database.NewDatabaseFromConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("creating database: %w", err)
	}
	a.db = db
	if err := db.CheckMigrations(); err != nil {
		return fmt.Errorf("database schema out of date: %w", err)
	}

	vol, err := volume.Open(cfg.Storage.Root)
	if err != nil {
		return fmt.Errorf("opening storage volume: %w", err)
	}
	a.volume = vol

	listingCache, closeCache, err := cache.NewCacheFromConfig(ctx, cfg.Cache)
	if err != nil {
		return fmt.Errorf("creating listing cache: %w", err)
	}
	a.closeCache = closeCache

	a.notifier = notify.NewDBNotifier(db, a.log, notify.DefaultQueueSize)

	deps := drive.Dependencies{
		Database: db,
		Volume:   vol,
		Cache:    listingCache,
		Notifier: a.notifier,
		Logger:   a.log,
		Space:    vol,
	}
	if cfg.Server.Metrics {
		a.metrics = metrics.New()
		deps.Metrics = a.metrics
	}
	a.engine = drive.NewEngine(deps, drive.Settings{
		ListingTTL:         time.Duration(cfg.Storage.ListingTTLSeconds) * time.Second,
		TrashRetentionDays: cfg.Storage.TrashRetentionDays,
		DefaultQuotaBytes:  cfg.Storage.DefaultQuotaBytes,
		SweepWorkers:       cfg.Storage.SweepWorkers,
		BlockedPatterns:    cfg.Storage.BlockedPatterns,
	})

	a.staging, err = staging.NewAreaFromConfig(cfg.Staging, nil, nil, a.log)
	if err != nil {
		return fmt.Errorf("creating staging area: %w", err)
	}

	a.encryptor, err = encryption.NewEncryptorFromConfig(cfg.Encryption)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}
	vaults, err := vault.NewVaultsFromConfig(ctx, cfg.Vaults)
	if err != nil {
		return fmt.Errorf("creating vaults: %w", err)
	}
	a.snapshots = snapshot.NewService(db, a.encryptor, vaults, nil, a.log, filepath.Join(cfg.BaseDir, "tmp"))
	if err := os.MkdirAll(filepath.Join(cfg.BaseDir, "tmp"), 0700); err != nil {
		return fmt.Errorf("creating temp directory: %w", err)
	}

	a.logger.Debug("app ready", "storage_root", vol.Root(), "database", cfg.Database.Type, "cache", cfg.Cache.Type, "vaults", len(vaults))
	return nil
}

func (a *App) Config() *config.Config        { return a.cfg }
func (a *App) Engine() *drive.Engine         { return a.engine }
func (a *App) Database() drive.Database      { return a.db }
func (a *App) Staging() *staging.Area        { return a.staging }
func (a *App) Snapshots() *snapshot.Service  { return a.snapshots }
func (a *App) Encryptor() snapshot.Encryptor { return a.encryptor }
func (a *App) Logger() *slog.Logger          { return a.logger }
func (a *App) DriveLogger() drive.Logger     { return a.log }

// Metrics returns nil when metrics are disabled.
func (a *App) Metrics() *metrics.Metrics { return a.metrics }

// Close stops the scheduler, flushes pending notifications and releases all
// resources. It returns the first error encountered.
func (a *App) Close() error {
	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if a.scheduler != nil {
		a.scheduler.stop()
	}
	if a.notifier != nil {
		keep(a.notifier.Close())
	}
	if a.closeCache != nil {
		keep(a.closeCache())
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			keep(fmt.Errorf("closing database: %w", err))
		}
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
