package drive

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
)

// DefaultRetentionDays is how long trashed items are kept before the sweep
// purges them.
const DefaultRetentionDays = 30

const day = 24 * time.Hour

var trashNamePattern = regexp.MustCompile(`^(\d+)_(.+)$`)

// parseTrashName splits a stored trash name into its deletion time and the
// original name. Names without a timestamp prefix fall back to mtime.
func parseTrashName(stored string, mtime time.Time) (time.Time, string) {
	m := trashNamePattern.FindStringSubmatch(stored)
	if m == nil {
		return mtime, stored
	}
	ts, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return mtime, stored
	}
	return time.Unix(ts, 0), m[2]
}

// DaysRemaining returns max(0, retention - whole days since deletedAt).
func DaysRemaining(now, deletedAt time.Time, retentionDays int) int {
	elapsed := max(0, int(now.Sub(deletedAt)/day))
	return max(0, retentionDays-elapsed)
}

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Users      int
	Purged     int
	FreedBytes int64
	Failures   int
}

// TrashManager implements soft delete: items move into the owner's .trash
// folder under a {unix}_{name} name, from where they are restored or purged.
type TrashManager struct {
	database  Database
	fs        afero.Fs
	resolver  *PathResolver
	quota     *QuotaLedger
	listings  *DirectoryCache
	mover     *Mover
	clock     Clock
	idgen     IDGenerator
	logger    Logger
	metrics   Metrics
	retention int
	workers   int

	// locks serializes changes to one user's trash folder.
	locks *keyedMutex
}

// NewTrashManager creates a TrashManager. retentionDays <= 0 selects
// DefaultRetentionDays; workers bounds how many users a sweep handles at once.
func NewTrashManager(database Database, fsys afero.Fs, resolver *PathResolver, quota *QuotaLedger, listings *DirectoryCache, mover *Mover, clock Clock, idgen IDGenerator, logger Logger, metrics Metrics, retentionDays, workers int) *TrashManager {
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}
	return &TrashManager{
		database:  database,
		fs:        fsys,
		resolver:  resolver,
		quota:     quota,
		listings:  listings,
		mover:     mover,
		clock:     clock,
		idgen:     idgen,
		logger:    logger,
		metrics:   metrics,
		retention: retentionDays,
		workers:   max(workers, 1),
		locks:     newKeyedMutex(),
	}
}

// RetentionDays returns the configured retention.
func (t *TrashManager) RetentionDays() int { return t.retention }

// Trash moves the item at logical into its owner's trash and returns the
// stored trash name. Items reached through a share land in the owner's trash
// so that their bytes stay in the namespace they are charged to.
func (t *TrashManager) Trash(ctx context.Context, actor *User, logical string) (string, error) {
	abs, err := t.resolver.Resolve(actor, logical)
	if err != nil {
		return "", err
	}
	owner, err := t.ownerOf(actor, abs)
	if err != nil {
		return "", err
	}
	ownerRoot := UserRoot(owner)
	trashAbs := ownerRoot + "/" + TrashDirName
	if abs == ownerRoot {
		return "", fmt.Errorf("%w: cannot delete a drive root", ErrInvalidPath)
	}
	if isWithin(abs, trashAbs) {
		return "", fmt.Errorf("%w: %q is already in the trash", ErrInvalidPath, logical)
	}
	if _, err := t.fs.Stat(volumePath(abs)); err != nil {
		return "", ioFailure("trash", logical, err)
	}
	if err := t.fs.MkdirAll(volumePath(trashAbs), 0755); err != nil {
		return "", ioFailure("create trash", trashAbs, err)
	}

	unlock := t.locks.Lock(owner.ID)
	defer unlock()
	stored, err := t.freeTrashName(trashAbs, baseName(abs))
	if err != nil {
		return "", err
	}
	if err := t.mover.Move(ctx, volumePath(abs), volumePath(trashAbs+"/"+stored)); err != nil {
		return "", err
	}

	if err := t.database.DeleteActivityUnder(abs); err != nil {
		t.logger.Warn("removing stars and recents of trashed item failed", "path", abs, "error", err)
	}

	t.listings.Invalidate(ctx, actor, logical)
	t.listings.Invalidate(ctx, owner, TrashDirName)
	if owner.ID != actor.ID {
		if rel, ok := RelativeTo(owner, abs); ok {
			t.listings.Invalidate(ctx, owner, rel)
		}
	}
	t.logger.Info("item trashed", "user", actor.Username, "owner", owner.Username, "path", abs, "stored", stored)
	return stored, nil
}

// freeTrashName returns {unix}_{name}, moving the timestamp forward when two
// items with the same name are trashed within the same second.
func (t *TrashManager) freeTrashName(trashAbs, name string) (string, error) {
	ts := t.clock.Now().Unix()
	for i := 0; i < maxCollisionProbes; i++ {
		candidate := fmt.Sprintf("%d_%s", ts+int64(i), name)
		if !exists(t.fs, volumePath(trashAbs+"/"+candidate)) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free trash slot for %q", ErrAlreadyExists, name)
}

// List returns the user's trash, most recently deleted first.
func (t *TrashManager) List(ctx context.Context, u *User) ([]DirectoryEntry, error) {
	trashAbs := UserRoot(u) + "/" + TrashDirName
	children, err := afero.ReadDir(t.fs, volumePath(trashAbs))
	if err != nil {
		if errors.Is(ioFailure("list", trashAbs, err), ErrNotFound) {
			return []DirectoryEntry{}, nil
		}
		return nil, ioFailure("list trash", trashAbs, err)
	}

	now := t.clock.Now()
	entries := make([]DirectoryEntry, 0, len(children))
	for _, child := range children {
		if strings.HasPrefix(child.Name(), tempPrefix) {
			continue
		}
		logical := TrashDirName + "/" + child.Name()
		entry := newEntry(t.fs, logical, trashAbs+"/"+child.Name(), child)
		if entry == nil {
			continue
		}
		if entry.IsDir() {
			size, err := treeSize(ctx, t.fs, volumePath(trashAbs+"/"+child.Name()))
			if err != nil {
				return nil, ioFailure("measure", logical, err)
			}
			entry.Size = &size
			entry.SizeFormatted = formatBytes(size)
		}
		deletedAt, original := parseTrashName(child.Name(), child.ModTime())
		entry.Name = original
		entry.Trash = &TrashInfo{
			StoredName:    child.Name(),
			OriginalName:  original,
			DeletedAt:     deletedAt,
			DaysRemaining: DaysRemaining(now, deletedAt, t.retention),
		}
		entries = append(entries, *entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Trash.DeletedAt.After(entries[j].Trash.DeletedAt)
	})
	return entries, nil
}

// trashChild validates a ".trash/{stored}" path and returns its absolute form.
func (t *TrashManager) trashChild(u *User, trashLogical string) (abs, stored string, err error) {
	clean, err := CleanRelative(trashLogical)
	if err != nil {
		return "", "", err
	}
	dir, stored, ok := strings.Cut(clean, "/")
	if !ok || dir != TrashDirName || stored == "" || strings.Contains(stored, "/") {
		return "", "", fmt.Errorf("%w: %q is not a trash entry", ErrInvalidPath, trashLogical)
	}
	return UserRoot(u) + "/" + clean, stored, nil
}

// Restore moves a trash entry back to the user's root under its original
// name, or a "name (N)" variant if that name is taken. It returns the
// restored logical path.
func (t *TrashManager) Restore(ctx context.Context, u *User, trashLogical string) (string, error) {
	abs, stored, err := t.trashChild(u, trashLogical)
	if err != nil {
		return "", err
	}
	unlock := t.locks.Lock(u.ID)
	defer unlock()
	if _, err := t.fs.Stat(volumePath(abs)); err != nil {
		return "", ioFailure("restore", trashLogical, err)
	}

	_, original := parseTrashName(stored, time.Time{})
	if ValidateName(original) != nil {
		// Entries put into the trash by hand may carry names no user
		// operation would accept.
		original = SanitizeName(original, t.clock, t.idgen)
	}
	root := UserRoot(u)
	name, err := UniqueName(t.fs, root, original)
	if err != nil {
		return "", err
	}
	if err := t.mover.Move(ctx, volumePath(abs), volumePath(root+"/"+name)); err != nil {
		return "", err
	}

	t.listings.Invalidate(ctx, u, trashLogical)
	forUser(t.logger, u).Info("item restored", "stored", stored, "restored", name)
	return name, nil
}

// Purge permanently deletes a trash entry and releases its bytes from the
// user's quota. It returns the number of bytes freed. Of two purges of the
// same entry only one succeeds; the other gets ErrNotFound.
func (t *TrashManager) Purge(ctx context.Context, u *User, trashLogical string) (int64, error) {
	abs, stored, err := t.trashChild(u, trashLogical)
	if err != nil {
		return 0, err
	}
	unlock := t.locks.Lock(u.ID)
	defer unlock()
	p := volumePath(abs)
	if _, err := t.fs.Stat(p); err != nil {
		return 0, ioFailure("purge", trashLogical, err)
	}

	size, err := treeSize(ctx, t.fs, p)
	if err != nil {
		return 0, ioFailure("measure", trashLogical, err)
	}
	if err := t.fs.RemoveAll(p); err != nil {
		return 0, ioFailure("purge", trashLogical, err)
	}
	if exists(t.fs, p) {
		return 0, &IOError{Op: "purge", Path: trashLogical, Err: errors.New("entry still present after removal")}
	}

	if _, err := t.quota.Adjust(u.ID, -size); err != nil {
		return 0, err
	}
	if err := t.database.DeleteActivityUnder(abs); err != nil {
		t.logger.Warn("removing stars and recents of purged item failed", "path", abs, "error", err)
	}
	t.listings.Invalidate(ctx, u, trashLogical)
	t.metrics.ObservePurge(size)
	forUser(t.logger, u).Info("trash entry purged", "stored", stored, "bytes", size)
	return size, nil
}

// Empty purges every entry in the user's trash.
func (t *TrashManager) Empty(ctx context.Context, u *User) (int, int64, error) {
	entries, err := t.List(ctx, u)
	if err != nil {
		return 0, 0, err
	}
	var purged int
	var freed int64
	for _, e := range entries {
		n, err := t.Purge(ctx, u, e.Path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return purged, freed, err
		}
		purged++
		freed += n
	}
	return purged, freed, nil
}

// Sweep purges every trash entry whose age reached the retention period,
// for all users. Failures are logged per entry and never stop the run, so
// the sweep can simply be re-run.
func (t *TrashManager) Sweep(ctx context.Context) (*SweepResult, error) {
	users, err := t.database.ListUsers()
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}

	result := &SweepResult{Users: len(users)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.workers)
	for _, u := range users {
		u := u
		g.Go(func() error {
			purged, freed, failures := t.sweepUser(gctx, u)
			mu.Lock()
			result.Purged += purged
			result.FreedBytes += freed
			result.Failures += failures
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return result, err
	}
	t.logger.Info("trash sweep finished", "users", result.Users, "purged", result.Purged, "freed", result.FreedBytes, "failures", result.Failures)
	return result, nil
}

func (t *TrashManager) sweepUser(ctx context.Context, u *User) (purged int, freed int64, failures int) {
	entries, err := t.List(ctx, u)
	if err != nil {
		forUser(t.logger, u).Error("listing trash for sweep failed", "error", err)
		return 0, 0, 1
	}
	now := t.clock.Now()
	for _, e := range entries {
		if ctx.Err() != nil {
			return purged, freed, failures
		}
		if now.Sub(e.Trash.DeletedAt) < time.Duration(t.retention)*day {
			continue
		}
		n, err := t.Purge(ctx, u, e.Path)
		switch {
		case err == nil:
			purged++
			freed += n
		case errors.Is(err, ErrNotFound):
		default:
			failures++
			forUser(t.logger, u).Error("purging expired trash entry failed", "entry", e.Path, "error", err)
		}
	}
	return purged, freed, failures
}

func (t *TrashManager) ownerOf(actor *User, abs string) (*User, error) {
	if isWithin(abs, UserRoot(actor)) {
		return actor, nil
	}
	return t.resolver.OwnerOf(abs)
}
