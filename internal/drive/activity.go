package drive

import (
	"context"
	"fmt"
)

const (
	maxRecentsShown  = 20
	maxRecentsStored = 50
)

// ToggleStar stars or unstars the item at logical and returns the new state.
func (e *Engine) ToggleStar(ctx context.Context, u *User, logical string) (bool, error) {
	abs, err := e.resolveItem(u, logical)
	if err != nil {
		return false, err
	}
	info, err := e.fs.Stat(volumePath(abs))
	if err != nil {
		return false, ioFailure("star", logical, err)
	}

	existing, err := e.database.FindStar(u.ID, abs)
	if err != nil {
		return false, fmt.Errorf("loading star: %w", err)
	}
	starred := existing == nil
	if starred {
		err = e.database.CreateStar(&Star{UserID: u.ID, Path: abs, IsDir: info.IsDir(), CreatedAt: e.clock.Now()})
	} else {
		err = e.database.DeleteStar(u.ID, abs)
	}
	if err != nil {
		return false, fmt.Errorf("toggling star: %w", err)
	}

	e.listings.Invalidate(ctx, u, parentLogical(logical))
	return starred, nil
}

// Starred returns the user's starred items. Stars whose target has vanished
// or been trashed are dropped along the way.
func (e *Engine) Starred(ctx context.Context, u *User) ([]DirectoryEntry, error) {
	stars, err := e.database.ListStars(u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing stars: %w", err)
	}
	entries := make([]DirectoryEntry, 0, len(stars))
	for _, s := range stars {
		entry := e.activityEntry(u, s.Path)
		if entry == nil {
			if err := e.database.DeleteStar(u.ID, s.Path); err != nil {
				forUser(e.logger, u).Warn("pruning stale star failed", "path", s.Path, "error", err)
			}
			continue
		}
		entry.Starred = true
		entries = append(entries, *entry)
	}
	return entries, nil
}

// Recents returns the most recently opened files and folders.
func (e *Engine) Recents(ctx context.Context, u *User) ([]DirectoryEntry, error) {
	recents, err := e.database.ListRecents(u.ID, maxRecentsStored)
	if err != nil {
		return nil, fmt.Errorf("listing recents: %w", err)
	}
	starred, err := e.listings.starredSet(u)
	if err != nil {
		return nil, err
	}
	entries := make([]DirectoryEntry, 0, maxRecentsShown)
	for _, r := range recents {
		if len(entries) == maxRecentsShown {
			break
		}
		entry := e.activityEntry(u, r.Path)
		if entry == nil {
			if err := e.database.DeleteRecent(u.ID, r.Path); err != nil {
				forUser(e.logger, u).Warn("pruning stale recent failed", "path", r.Path, "error", err)
			}
			continue
		}
		entry.Starred = starred[r.Path]
		entries = append(entries, *entry)
	}
	return entries, nil
}

// activityEntry projects a recorded absolute path, or returns nil when the
// target is gone, trashed or no longer reachable by u.
func (e *Engine) activityEntry(u *User, abs string) *DirectoryEntry {
	if inTrash(abs) {
		return nil
	}
	info, err := e.fs.Stat(volumePath(abs))
	if err != nil {
		return nil
	}
	logical, own := RelativeTo(u, abs)
	if !own {
		ok, err := e.shares.HasAccess(u, abs, AccessView)
		if err != nil || !ok {
			return nil
		}
		logical = abs
	}
	return newEntry(e.fs, logical, abs, info)
}
