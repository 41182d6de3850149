package drive

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// StaleTempAge is the age after which an abandoned upload temp file is removed.
const StaleTempAge = 24 * time.Hour

// SpaceReporter reports free and total bytes of the storage backing the volume.
type SpaceReporter interface {
	Space() (free, total uint64, err error)
}

// Health describes the state of the storage volume.
type Health struct {
	Healthy        bool      `json:"healthy"`
	Writable       bool      `json:"writable"`
	FreeBytes      uint64    `json:"free_bytes,omitempty"`
	TotalBytes     uint64    `json:"total_bytes,omitempty"`
	FreeFormatted  string    `json:"free_formatted,omitempty"`
	TotalFormatted string    `json:"total_formatted,omitempty"`
	Error          string    `json:"error,omitempty"`
	CheckedAt      time.Time `json:"checked_at"`
}

// Health probes the volume by writing and removing a small file, and adds
// free space figures when a SpaceReporter is configured.
func (e *Engine) Health(ctx context.Context) *Health {
	h := &Health{CheckedAt: e.clock.Now()}
	probe := "/" + tempName(e.idgen, "health")
	if err := afero.WriteFile(e.fs, probe, []byte("ok"), 0644); err != nil {
		h.Error = Classify(ioFailure("health probe", probe, err)).Message
		e.logger.Error("storage health probe failed", "error", err)
		return h
	}
	if err := e.fs.Remove(probe); err != nil {
		e.logger.Warn("removing health probe failed", "path", probe, "error", err)
	}
	h.Writable = true
	h.Healthy = true

	if e.space != nil {
		free, total, err := e.space.Space()
		if err != nil {
			e.logger.Warn("reading volume space failed", "error", err)
			return h
		}
		h.FreeBytes, h.TotalBytes = free, total
		h.FreeFormatted, h.TotalFormatted = formatBytes(int64(free)), formatBytes(int64(total))
	}
	return h
}

// CleanupTempFiles removes upload temp files older than maxAge from every
// user tree and returns how many were removed.
func (e *Engine) CleanupTempFiles(ctx context.Context, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		maxAge = StaleTempAge
	}
	cutoff := e.clock.Now().Add(-maxAge)
	root := "/" + usersDir
	if ok, err := afero.DirExists(e.fs, root); err != nil || !ok {
		return 0, nil
	}

	var stale []string
	err := afero.Walk(e.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if !info.IsDir() && strings.HasPrefix(info.Name(), tempPrefix) && info.ModTime().Before(cutoff) {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning for temp files: %w", err)
	}

	removed := 0
	for _, p := range stale {
		if err := e.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			e.logger.Warn("removing stale temp file failed", "path", p, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		e.logger.Info("stale temp files removed", "count", removed, "older_than", maxAge.String(), "dir", root)
	}
	return removed, nil
}

// ReconcileAll recomputes used_bytes for every user. It keeps going past
// failures and returns the first one.
func (e *Engine) ReconcileAll(ctx context.Context) (int, error) {
	users, err := e.database.ListUsers()
	if err != nil {
		return 0, fmt.Errorf("listing users: %w", err)
	}
	var first error
	done := 0
	for _, u := range users {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if _, err := e.quota.Reconcile(ctx, u); err != nil {
			forUser(e.logger, u).Error("reconciling quota failed", "error", err)
			if first == nil {
				first = err
			}
			continue
		}
		done++
	}
	return done, first
}
