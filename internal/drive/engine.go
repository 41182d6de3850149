package drive

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/afero"
)

// Dependencies are the collaborators an Engine is built from. Database and
// Volume are required; the rest default to no-op or real implementations.
type Dependencies struct {
	Database Database
	Volume   afero.Fs
	Cache    ListingCache
	Notifier Notifier
	Logger   Logger
	Metrics  Metrics
	Clock    Clock
	IDs      IDGenerator
	Space    SpaceReporter
}

// Settings tune the engine.
type Settings struct {
	ListingTTL         time.Duration
	TrashRetentionDays int
	DefaultQuotaBytes  int64
	SweepWorkers       int
	MoveStrategies     []MoveStrategy

	// BlockedPatterns are glob patterns of file names refused on upload
	// and rename, e.g. "thumbs.db" or "*.iso".
	BlockedPatterns []string
}

// Engine is the storage orchestrator. It owns the path resolver, quota
// ledger, share index, trash manager and directory cache, and exposes the
// file operations the HTTP layer and CLI call.
//
// Access to absolute users/... paths is checked by the caller with
// Shares().HasAccess before an operation is invoked.
type Engine struct {
	database Database
	fs       afero.Fs
	resolver *PathResolver
	quota    *QuotaLedger
	shares   *ShareGrantIndex
	trash    *TrashManager
	listings *DirectoryCache
	mover    *Mover
	names    *keyedMutex
	clock    Clock
	idgen    IDGenerator
	logger   Logger
	metrics  Metrics
	space    SpaceReporter
	blocked  *NameFilter

	defaultQuota int64
}

// NewEngine wires the engine components together.
func NewEngine(deps Dependencies, settings Settings) *Engine {
	if deps.Cache == nil {
		deps.Cache = nopListingCache{}
	}
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = NewNopLogger()
	}
	if deps.Metrics == nil {
		deps.Metrics = NopMetrics{}
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.IDs == nil {
		deps.IDs = RandomIDs{}
	}

	resolver := NewPathResolver(deps.Database)
	quota := NewQuotaLedger(deps.Database, deps.Volume, deps.Logger, deps.Metrics)
	listings := NewDirectoryCache(deps.Cache, settings.ListingTTL, deps.Volume, resolver, deps.Database, deps.Logger, deps.Metrics)
	mover := NewMover(deps.Volume, deps.Logger, deps.Metrics, settings.MoveStrategies...)
	trash := NewTrashManager(deps.Database, deps.Volume, resolver, quota, listings, mover, deps.Clock, deps.IDs, deps.Logger, deps.Metrics, settings.TrashRetentionDays, settings.SweepWorkers)
	shares := NewShareGrantIndex(deps.Database, deps.Volume, deps.Notifier, deps.Clock, deps.IDs, deps.Logger)

	return &Engine{
		database:     deps.Database,
		fs:           deps.Volume,
		resolver:     resolver,
		quota:        quota,
		shares:       shares,
		trash:        trash,
		listings:     listings,
		mover:        mover,
		names:        newKeyedMutex(),
		clock:        deps.Clock,
		idgen:        deps.IDs,
		logger:       deps.Logger,
		metrics:      deps.Metrics,
		space:        deps.Space,
		blocked:      NewNameFilter(settings.BlockedPatterns),
		defaultQuota: settings.DefaultQuotaBytes,
	}
}

func (e *Engine) Paths() *PathResolver      { return e.resolver }
func (e *Engine) Quota() *QuotaLedger       { return e.quota }
func (e *Engine) Shares() *ShareGrantIndex  { return e.shares }
func (e *Engine) Trash() *TrashManager      { return e.trash }
func (e *Engine) Listings() *DirectoryCache { return e.listings }

// EnsureUser returns the user for an authenticated identity, creating the
// account and its root folder on first login.
func (e *Engine) EnsureUser(ctx context.Context, id Identity) (*User, error) {
	if id.Username == "" {
		return nil, fmt.Errorf("%w: empty username", ErrInvalidRequest)
	}
	now := e.clock.Now()

	u, err := e.database.FindUserByUsername(id.Username)
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}
	if u == nil {
		u, err = e.createUser(id, now)
		if err != nil {
			return nil, err
		}
	} else {
		if err := e.database.TouchUserLogin(u.ID, now, id.DisplayName, id.Email); err != nil {
			return nil, fmt.Errorf("recording login: %w", err)
		}
		u.LastLoginAt = &now
		u.DisplayName, u.Email = id.DisplayName, id.Email
	}

	if err := e.fs.MkdirAll(volumePath(UserRoot(u)), 0755); err != nil {
		return nil, ioFailure("create root", UserRoot(u), err)
	}
	return u, nil
}

func (e *Engine) createUser(id Identity, now time.Time) (*User, error) {
	base := SanitizeRootName(id.Username)
	if base == "" {
		base = "user"
	}
	rootName := base
	for i := 2; ; i++ {
		taken, err := e.database.FindUserByRootName(rootName)
		if err != nil {
			return nil, fmt.Errorf("checking root name: %w", err)
		}
		if taken == nil {
			break
		}
		rootName = fmt.Sprintf("%s_%d", base, i)
	}

	u := &User{
		Username:    id.Username,
		RootName:    rootName,
		DisplayName: id.DisplayName,
		Email:       id.Email,
		QuotaBytes:  e.defaultQuota,
		CreatedAt:   now,
		LastLoginAt: &now,
	}
	if err := e.database.CreateUser(u); err != nil {
		// A concurrent first login may have won the insert.
		existing, findErr := e.database.FindUserByUsername(id.Username)
		if findErr == nil && existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("creating user: %w", err)
	}
	e.logger.Info("user created", "username", u.Username, "root", UserRoot(u), "quota", u.QuotaBytes)
	return u, nil
}

// List returns one page of a directory listing.
func (e *Engine) List(ctx context.Context, u *User, logical string, page, perPage int) (*Listing, error) {
	entries, err := e.listings.List(ctx, u, logical)
	if err != nil {
		return nil, err
	}
	items, pg := Paginate(entries, page, perPage)
	if logical != "" && logical != "/" {
		if abs, err := e.resolver.Resolve(u, logical); err == nil {
			e.recordRecent(u, abs, true)
		}
	}
	return &Listing{Path: logical, Items: items, Pagination: pg}, nil
}

// CreateFolder creates name inside the directory at logical and returns the
// new folder's logical path.
func (e *Engine) CreateFolder(ctx context.Context, u *User, logical, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	parentAbs, err := e.resolveDir(u, logical)
	if err != nil {
		return "", err
	}
	target := parentAbs + "/" + name
	if exists(e.fs, volumePath(target)) {
		return "", fmt.Errorf("folder %q: %w", name, ErrAlreadyExists)
	}
	if err := e.fs.Mkdir(volumePath(target), 0755); err != nil {
		return "", ioFailure("create folder", joinLogical(logical, name), err)
	}

	created := joinLogical(logical, name)
	e.invalidate(ctx, u, created, target)
	return created, nil
}

// Rename gives the item at logical a new name in the same directory and
// returns its new logical path.
func (e *Engine) Rename(ctx context.Context, u *User, logical, newName string) (string, error) {
	if err := ValidateName(newName); err != nil {
		return "", err
	}
	abs, err := e.resolveItem(u, logical)
	if err != nil {
		return "", err
	}
	if e.blocked.Blocked(newName) {
		if info, err := e.fs.Stat(volumePath(abs)); err == nil && !info.IsDir() {
			return "", fmt.Errorf("%w: %q is blocked by the storage policy", ErrInvalidName, newName)
		}
	}
	dstAbs := parentLogical(abs) + "/" + newName
	renamed := joinLogical(parentLogical(logical), newName)
	if dstAbs == abs {
		return renamed, nil
	}
	if exists(e.fs, volumePath(dstAbs)) {
		return "", fmt.Errorf("rename to %q: %w", newName, ErrAlreadyExists)
	}
	if err := e.mover.Move(ctx, volumePath(abs), volumePath(dstAbs)); err != nil {
		return "", err
	}

	e.rewritePaths(abs, dstAbs)
	e.invalidate(ctx, u, logical, abs)
	e.invalidate(ctx, u, renamed, dstAbs)
	return renamed, nil
}

// Move relocates the item at src into the directory targetDir, renaming it
// to "name (N)" when the name is taken there. When the item changes owner
// (moved into or out of a shared folder) its bytes move between the two
// quotas. It returns the item's new logical path.
func (e *Engine) Move(ctx context.Context, u *User, src, targetDir string) (string, error) {
	srcAbs, err := e.resolveItem(u, src)
	if err != nil {
		return "", err
	}
	targetAbs, err := e.resolveDir(u, targetDir)
	if err != nil {
		return "", err
	}
	if isWithin(targetAbs, srcAbs) {
		return "", fmt.Errorf("%w: cannot move %q into itself", ErrInvalidPath, src)
	}
	if inTrash(targetAbs) {
		return "", fmt.Errorf("%w: use delete to move items to the trash", ErrInvalidPath)
	}
	if parentLogical(srcAbs) == targetAbs {
		return src, nil
	}

	srcOwner, err := e.ownerOf(u, srcAbs)
	if err != nil {
		return "", err
	}
	dstOwner, err := e.ownerOf(u, targetAbs)
	if err != nil {
		return "", err
	}

	unlock := e.names.Lock(dstOwner.ID)
	defer unlock()

	name, err := UniqueName(e.fs, targetAbs, baseName(srcAbs))
	if err != nil {
		return "", err
	}
	dstAbs := targetAbs + "/" + name

	var size int64
	crossOwner := srcOwner.ID != dstOwner.ID
	if crossOwner {
		if size, err = treeSize(ctx, e.fs, volumePath(srcAbs)); err != nil {
			return "", ioFailure("measure", src, err)
		}
		if err := e.quota.Reserve(dstOwner.ID, size); err != nil {
			return "", err
		}
	}
	if err := e.mover.Move(ctx, volumePath(srcAbs), volumePath(dstAbs)); err != nil {
		if crossOwner {
			e.releaseQuota(dstOwner.ID, size)
		}
		return "", err
	}
	if crossOwner {
		e.releaseQuota(srcOwner.ID, size)
	}

	e.rewritePaths(srcAbs, dstAbs)
	moved := joinLogical(targetDir, name)
	e.invalidate(ctx, u, src, srcAbs)
	e.invalidate(ctx, u, moved, dstAbs)
	return moved, nil
}

// Delete moves the item to the trash. It never removes data.
func (e *Engine) Delete(ctx context.Context, u *User, logical string) error {
	_, err := e.trash.Trash(ctx, u, logical)
	return err
}

// ItemResult is the outcome of one item of a batch operation.
type ItemResult struct {
	Path    string `json:"path"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// BatchResult holds per-item outcomes and the number that succeeded.
type BatchResult struct {
	Results   []ItemResult `json:"results"`
	Succeeded int          `json:"success_count"`
}

// BatchDelete trashes every path independently; one failure never stops or
// undoes the others.
func (e *Engine) BatchDelete(ctx context.Context, u *User, paths []string) *BatchResult {
	result := &BatchResult{Results: make([]ItemResult, 0, len(paths))}
	for _, p := range paths {
		item := ItemResult{Path: p}
		if err := e.Delete(ctx, u, p); err != nil {
			cat := Classify(err)
			item.Error, item.Code = cat.Message, cat.Code
			forUser(e.logger, u).Warn("batch delete item failed", "path", p, "error", err)
		} else {
			item.Success = true
			result.Succeeded++
		}
		result.Results = append(result.Results, item)
	}
	return result
}

// Open returns a reader over a file's content and records the access.
func (e *Engine) Open(ctx context.Context, u *User, logical string) (io.ReadCloser, *DirectoryEntry, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return nil, nil, err
	}
	entry, err := e.entryAt(u, logical, abs)
	if err != nil {
		return nil, nil, err
	}
	if entry.IsDir() {
		return nil, nil, fmt.Errorf("%w: %q is a directory", ErrInvalidPath, logical)
	}
	f, err := e.fs.Open(volumePath(abs))
	if err != nil {
		return nil, nil, ioFailure("open", logical, err)
	}
	e.recordRecent(u, abs, false)
	return f, entry, nil
}

// GetFileInfo returns the entry for a single file or directory.
func (e *Engine) GetFileInfo(ctx context.Context, u *User, logical string) (*DirectoryEntry, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return nil, err
	}
	return e.entryAt(u, logical, abs)
}

// FileExists reports whether anything exists at logical.
func (e *Engine) FileExists(ctx context.Context, u *User, logical string) (bool, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return false, err
	}
	ok, err := afero.Exists(e.fs, volumePath(abs))
	if err != nil {
		return false, ioFailure("stat", logical, err)
	}
	return ok, nil
}

// DirectorySize returns the total bytes of the files at or below logical.
func (e *Engine) DirectorySize(ctx context.Context, u *User, logical string) (int64, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return 0, err
	}
	size, err := treeSize(ctx, e.fs, volumePath(abs))
	if err != nil {
		return 0, ioFailure("measure", logical, err)
	}
	return size, nil
}

// RecalculateQuota reconciles the user's counter with the volume.
func (e *Engine) RecalculateQuota(ctx context.Context, u *User) (int64, error) {
	return e.quota.Reconcile(ctx, u)
}

// entryAt stats abs and projects it, with the starred flag for u.
func (e *Engine) entryAt(u *User, logical, abs string) (*DirectoryEntry, error) {
	info, err := e.fs.Stat(volumePath(abs))
	if err != nil {
		return nil, ioFailure("stat", logical, err)
	}
	entry := newEntry(e.fs, logical, abs, info)
	if entry == nil {
		return nil, fmt.Errorf("%w: %q is not a regular file or directory", ErrInvalidPath, logical)
	}
	if abs == UserRoot(u) {
		entry.Name = ""
	}
	star, err := e.database.FindStar(u.ID, abs)
	if err != nil {
		return nil, fmt.Errorf("loading star: %w", err)
	}
	entry.Starred = star != nil
	return entry, nil
}

// resolveDir resolves logical and requires an existing directory.
func (e *Engine) resolveDir(u *User, logical string) (string, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return "", err
	}
	info, err := e.fs.Stat(volumePath(abs))
	if err != nil {
		return "", ioFailure("stat", logical, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %q is not a directory", ErrInvalidPath, logical)
	}
	return abs, nil
}

// resolveItem resolves logical and requires an existing node that is
// neither a drive root nor inside a trash folder.
func (e *Engine) resolveItem(u *User, logical string) (string, error) {
	abs, err := e.resolver.Resolve(u, logical)
	if err != nil {
		return "", err
	}
	if isUserRoot(abs) {
		return "", fmt.Errorf("%w: cannot modify a drive root", ErrInvalidPath)
	}
	if inTrash(abs) {
		return "", fmt.Errorf("%w: items in the trash can only be restored or purged", ErrInvalidPath)
	}
	if _, err := e.fs.Stat(volumePath(abs)); err != nil {
		return "", ioFailure("stat", logical, err)
	}
	return abs, nil
}

func (e *Engine) ownerOf(u *User, abs string) (*User, error) {
	if isWithin(abs, UserRoot(u)) {
		return u, nil
	}
	return e.resolver.OwnerOf(abs)
}

// invalidate drops the cached listings affected by a change at logical for
// the acting user and, when the path belongs to someone else, for the owner.
func (e *Engine) invalidate(ctx context.Context, u *User, logical, abs string) {
	e.listings.Invalidate(ctx, u, logical)
	if isWithin(abs, UserRoot(u)) {
		return
	}
	owner, err := e.resolver.OwnerOf(abs)
	if err != nil {
		e.logger.Warn("resolving owner for cache invalidation failed", "path", abs, "error", err)
		return
	}
	if rel, ok := RelativeTo(owner, abs); ok {
		e.listings.Invalidate(ctx, owner, rel)
	}
}

// rewritePaths keeps stars, recents and shares pointing at an item after it
// was renamed or moved.
func (e *Engine) rewritePaths(oldAbs, newAbs string) {
	if err := e.database.RewriteActivityPaths(oldAbs, newAbs); err != nil {
		e.logger.Warn("rewriting stars and recents failed", "from", oldAbs, "to", newAbs, "error", err)
	}
	owner, err := e.resolver.OwnerOf(oldAbs)
	if err != nil {
		return
	}
	oldRel, ok := RelativeTo(owner, oldAbs)
	if !ok || oldRel == "" {
		return
	}
	newRel, ok := RelativeTo(owner, newAbs)
	if !ok {
		// The item left the owner's namespace; its shares no longer apply.
		newRel = ""
	}
	if err := e.database.RewriteSharePaths(owner.ID, oldRel, newRel); err != nil {
		e.logger.Warn("rewriting shares failed", "from", oldAbs, "to", newAbs, "error", err)
	}
}

func (e *Engine) releaseQuota(userID, n int64) {
	if n == 0 {
		return
	}
	if _, err := e.quota.Adjust(userID, -n); err != nil {
		e.logger.Error("releasing quota failed", "user_id", userID, "bytes", n, "error", err)
	}
}

func (e *Engine) recordRecent(u *User, abs string, isDir bool) {
	err := e.database.UpsertRecent(&Recent{UserID: u.ID, Path: abs, IsDir: isDir, AccessedAt: e.clock.Now()})
	if err == nil {
		err = e.database.PruneRecents(u.ID, maxRecentsStored)
	}
	if err != nil {
		forUser(e.logger, u).Warn("recording recent access failed", "path", abs, "error", err)
	}
}
