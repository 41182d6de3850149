package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron"

	"drive-go/internal/drive"
	"drive-go/internal/snapshot"
	"drive-go/internal/staging"
)

// HousekeepingReport summarizes one housekeeping run.
type HousekeepingReport struct {
	Trash         *drive.SweepResult `json:"trash"`
	TempFiles     int                `json:"temp_files_removed"`
	StagedUploads int                `json:"staged_uploads_removed"`
}

// Housekeeping purges expired trash for every user and removes stale upload
// temp files and abandoned chunked uploads. Every step runs even when an
// earlier one fails; the errors are joined.
func (a *App) Housekeeping(ctx context.Context) (*HousekeepingReport, error) {
	report := &HousekeepingReport{}
	var errs []error

	sweep, err := a.engine.Trash().Sweep(ctx)
	report.Trash = sweep
	if err != nil {
		errs = append(errs, fmt.Errorf("trash sweep: %w", err))
	}

	report.TempFiles, err = a.engine.CleanupTempFiles(ctx, drive.StaleTempAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("temp file cleanup: %w", err))
	}

	report.StagedUploads, err = a.staging.CleanupStale(staging.StaleAge)
	if err != nil {
		errs = append(errs, fmt.Errorf("staging cleanup: %w", err))
	}

	return report, errors.Join(errs...)
}

// Snapshot takes a snapshot and prunes old ones down to the configured
// number to keep.
func (a *App) Snapshot(ctx context.Context) (*snapshot.Info, error) {
	info, err := a.snapshots.Backup(ctx)
	if err != nil {
		return nil, err
	}
	if keep := a.cfg.Snapshot.Keep; keep > 0 {
		if _, err := a.snapshots.Prune(ctx, keep); err != nil {
			a.log.Warn("snapshot pruning failed", "error", err)
		}
	}
	return info, nil
}

// scheduler runs periodic jobs on cron schedules. A job that is still
// running when it fires again is skipped.
type scheduler struct {
	cron    *cron.Cron
	ctx     context.Context
	stopCtx context.CancelFunc
	log     drive.Logger
}

func newScheduler(log drive.Logger) *scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &scheduler{cron: cron.New(), ctx: ctx, stopCtx: cancel, log: log}
}

func (s *scheduler) add(name, spec string, job func(ctx context.Context) error) error {
	var running sync.Mutex
	err := s.cron.AddFunc(spec, func() {
		if !running.TryLock() {
			s.log.Warn("scheduled job still running, skipping", "job", name)
			return
		}
		defer running.Unlock()

		s.log.Info("scheduled job started", "job", name)
		if err := job(s.ctx); err != nil {
			s.log.Error("scheduled job failed", "job", name, "error", err)
			return
		}
		s.log.Info("scheduled job finished", "job", name)
	})
	if err != nil {
		return fmt.Errorf("scheduling %s (%q): %w", name, spec, err)
	}
	return nil
}

func (s *scheduler) stop() {
	s.stopCtx()
	s.cron.Stop()
}

// StartScheduler runs housekeeping on the storage sweep schedule and, when
// configured, snapshots on the snapshot schedule. It is stopped by Close.
func (a *App) StartScheduler() error {
	if a.scheduler != nil {
		return fmt.Errorf("scheduler already started")
	}
	s := newScheduler(a.log)

	if spec := a.cfg.Storage.SweepSchedule; spec != "" {
		err := s.add("housekeeping", spec, func(ctx context.Context) error {
			_, err := a.Housekeeping(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}
	if spec := a.cfg.Snapshot.Schedule; spec != "" {
		err := s.add("snapshot", spec, func(ctx context.Context) error {
			_, err := a.Snapshot(ctx)
			return err
		})
		if err != nil {
			return err
		}
	}

	s.cron.Start()
	a.scheduler = s
	return nil
}
