package drive

import (
	"context"
	"errors"
	"fmt"
	"path"
	"time"

	"github.com/spf13/afero"
)

// MoveStrategy is one way of relocating a node on the volume. A strategy must
// leave the node at exactly one of src or dst when it returns; Mover verifies
// that afterwards and rolls back whatever the strategy left behind.
type MoveStrategy interface {
	Name() string
	Move(ctx context.Context, fsys afero.Fs, src, dst string) error
}

// DefaultMoveStrategies is the fallback ladder used for every move:
// native rename, rename retried with backoff, then copy and delete.
func DefaultMoveStrategies() []MoveStrategy {
	return []MoveStrategy{
		RenameStrategy{},
		RetryRenameStrategy{Attempts: 3, Backoff: 100 * time.Millisecond},
		CopyDeleteStrategy{},
	}
}

// RenameStrategy is the filesystem's native rename.
type RenameStrategy struct{}

func (RenameStrategy) Name() string { return "rename" }

func (RenameStrategy) Move(_ context.Context, fsys afero.Fs, src, dst string) error {
	return fsys.Rename(src, dst)
}

// RetryRenameStrategy makes sure the destination directory exists and retries
// the rename with exponential backoff. Network shares tend to report locked
// or stale handles for a short while after they were touched.
type RetryRenameStrategy struct {
	Attempts int
	Backoff  time.Duration
}

func (RetryRenameStrategy) Name() string { return "retry-rename" }

func (s RetryRenameStrategy) Move(ctx context.Context, fsys afero.Fs, src, dst string) error {
	if err := fsys.MkdirAll(path.Dir(dst), 0755); err != nil {
		return fmt.Errorf("creating destination directory: %w", err)
	}
	attempts := max(s.Attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return errors.Join(err, ctx.Err())
			case <-time.After(s.Backoff << (i - 1)):
			}
		}
		if err = fsys.Rename(src, dst); err == nil {
			return nil
		}
	}
	return err
}

// CopyDeleteStrategy copies the tree, verifies the copy, removes the source
// and verifies the source is gone. If the source cannot be removed the
// destination copy is rolled back, restoring any source files that were
// already deleted.
type CopyDeleteStrategy struct{}

func (CopyDeleteStrategy) Name() string { return "copy-delete" }

func (CopyDeleteStrategy) Move(ctx context.Context, fsys afero.Fs, src, dst string) error {
	srcFiles, srcBytes, err := treeStats(ctx, fsys, src)
	if err != nil {
		return fmt.Errorf("measuring source: %w", err)
	}

	if err := copyTree(ctx, fsys, src, dst, false); err != nil {
		return errors.Join(fmt.Errorf("copying: %w", err), removeArtifact(fsys, dst))
	}

	dstFiles, dstBytes, err := treeStats(ctx, fsys, dst)
	if err == nil && (dstFiles != srcFiles || dstBytes != srcBytes) {
		err = fmt.Errorf("copy has %d files/%d bytes, source has %d files/%d bytes", dstFiles, dstBytes, srcFiles, srcBytes)
	}
	if err != nil {
		return errors.Join(fmt.Errorf("verifying copy: %w", err), removeArtifact(fsys, dst))
	}

	removeErr := fsys.RemoveAll(src)
	if removeErr == nil && !exists(fsys, src) {
		return nil
	}
	if removeErr == nil {
		removeErr = errors.New("source still present after removal")
	}

	// Put back whatever part of the source was already removed, then drop the copy.
	rollbackCtx := context.WithoutCancel(ctx)
	if err := copyTree(rollbackCtx, fsys, dst, src, true); err != nil {
		return fmt.Errorf("removing source: %v; restoring source from copy: %w", removeErr, err)
	}
	return errors.Join(fmt.Errorf("removing source: %w", removeErr), removeArtifact(fsys, dst))
}

func removeArtifact(fsys afero.Fs, p string) error {
	if err := fsys.RemoveAll(p); err != nil {
		return fmt.Errorf("rolling back %s: %w", p, err)
	}
	return nil
}

// Mover runs the strategy ladder. Paths handed to Move are volume paths.
type Mover struct {
	fs         afero.Fs
	strategies []MoveStrategy
	logger     Logger
	metrics    Metrics
}

// NewMover creates a Mover. With no strategies, DefaultMoveStrategies is used.
func NewMover(fsys afero.Fs, logger Logger, metrics Metrics, strategies ...MoveStrategy) *Mover {
	if len(strategies) == 0 {
		strategies = DefaultMoveStrategies()
	}
	return &Mover{fs: fsys, strategies: strategies, logger: logger, metrics: metrics}
}

// Move relocates src to dst, which must not exist. Each failing strategy is
// logged and its leftovers rolled back before the next one runs; the error is
// only returned when every strategy failed.
func (m *Mover) Move(ctx context.Context, src, dst string) error {
	if _, err := m.fs.Stat(src); err != nil {
		return ioFailure("move", src, err)
	}
	if exists(m.fs, dst) {
		return fmt.Errorf("move %s: %w", dst, ErrAlreadyExists)
	}

	var failures []error
	var last error
	for _, strategy := range m.strategies {
		err := strategy.Move(ctx, m.fs, src, dst)
		srcLeft, dstMade := exists(m.fs, src), exists(m.fs, dst)

		switch {
		case !srcLeft && dstMade:
			m.metrics.ObserveMoveAttempt(strategy.Name(), true)
			if err != nil {
				m.logger.Warn("move strategy reported failure but the move completed", "strategy", strategy.Name(), "src", src, "dst", dst, "error", err)
			}
			return nil
		case !srcLeft && !dstMade:
			m.metrics.ObserveMoveAttempt(strategy.Name(), false)
			m.logger.Error("item vanished during move", "strategy", strategy.Name(), "src", src, "dst", dst, "error", err)
			return &IOError{Op: "move", Path: src, Err: fmt.Errorf("item missing at both source and destination after %s: %v", strategy.Name(), err)}
		}

		if err == nil {
			err = errors.New("destination missing after move")
		}
		m.metrics.ObserveMoveAttempt(strategy.Name(), false)
		m.logger.Warn("move strategy failed", "strategy", strategy.Name(), "src", src, "dst", dst, "error", err)

		if dstMade {
			if rbErr := m.rollback(ctx, src, dst); rbErr != nil {
				m.logger.Error("move rollback failed", "strategy", strategy.Name(), "src", src, "dst", dst, "error", rbErr)
				return &IOError{Op: "move", Path: src, Err: errors.Join(err, rbErr)}
			}
		}

		failures = append(failures, fmt.Errorf("%s: %w", strategy.Name(), err))
		last = err
		if ctx.Err() != nil {
			break
		}
	}

	return &IOError{Op: "move", Path: src, Retryable: Retryable(last), Err: errors.Join(failures...)}
}

// rollback removes a partial destination, but only when the source is still
// complete; otherwise the destination may hold the only full copy.
func (m *Mover) rollback(ctx context.Context, src, dst string) error {
	ctx = context.WithoutCancel(ctx)
	srcFiles, srcBytes, err := treeStats(ctx, m.fs, src)
	if err != nil {
		return fmt.Errorf("measuring source before rollback: %w", err)
	}
	dstFiles, dstBytes, err := treeStats(ctx, m.fs, dst)
	if err != nil {
		return fmt.Errorf("measuring destination before rollback: %w", err)
	}
	if srcFiles < dstFiles || srcBytes < dstBytes {
		return fmt.Errorf("source is incomplete (%d files/%d bytes, destination %d files/%d bytes); leaving both in place", srcFiles, srcBytes, dstFiles, dstBytes)
	}
	return removeArtifact(m.fs, dst)
}
