package drive

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
	"golang.org/x/sync/singleflight"
)

// DefaultListingTTL is how long a directory listing stays cached.
const DefaultListingTTL = 60 * time.Second

// tempPrefix marks in-flight upload files; they never show up in listings.
const tempPrefix = ".tmp-"

// ListingKey is the cache key of a user's view of a logical directory.
func ListingKey(userID int64, logical string) string {
	return fmt.Sprintf("listing:%d:%016x", userID, xxhash.Sum64String(strings.Trim(logical, "/")))
}

// DirectoryCache memoizes directory listings per (user, logical path).
//
// Each user has an invalidation epoch. A fill records the epoch before it
// reads the volume and only stores its result if no invalidation happened in
// the meantime, so a slow read can never put a pre-mutation listing back
// into the cache. Concurrent misses for the same key and epoch share one read.
type DirectoryCache struct {
	store    ListingCache
	ttl      time.Duration
	fs       afero.Fs
	resolver *PathResolver
	database Database
	logger   Logger
	metrics  Metrics

	group  singleflight.Group
	mu     sync.Mutex
	epochs map[int64]uint64
}

// NewDirectoryCache creates a DirectoryCache over store.
func NewDirectoryCache(store ListingCache, ttl time.Duration, fsys afero.Fs, resolver *PathResolver, database Database, logger Logger, metrics Metrics) *DirectoryCache {
	if ttl <= 0 {
		ttl = DefaultListingTTL
	}
	return &DirectoryCache{
		store:    store,
		ttl:      ttl,
		fs:       fsys,
		resolver: resolver,
		database: database,
		logger:   logger,
		metrics:  metrics,
		epochs:   make(map[int64]uint64),
	}
}

// List returns the full, sorted listing of a directory: directories first,
// then files, each ordered by case-insensitive name.
func (c *DirectoryCache) List(ctx context.Context, u *User, logical string) ([]DirectoryEntry, error) {
	logical = strings.Trim(logical, "/")
	key := ListingKey(u.ID, logical)

	entries, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("listing cache read failed", "key", key, "error", err)
	}
	if ok {
		c.metrics.ObserveCacheLookup(true)
		return entries, nil
	}
	c.metrics.ObserveCacheLookup(false)

	epoch := c.epoch(u.ID)
	v, err, _ := c.group.Do(fmt.Sprintf("%s@%d", key, epoch), func() (any, error) {
		entries, err := c.read(ctx, u, logical)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.epochs[u.ID] == epoch {
			if err := c.store.Set(ctx, key, entries, c.ttl); err != nil {
				c.logger.Warn("listing cache write failed", "key", key, "error", err)
			}
		}
		return entries, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]DirectoryEntry), nil
}

// Invalidate drops the cached listing of logical and of every ancestor up to
// and including the root. It returns once the keys are gone.
func (c *DirectoryCache) Invalidate(ctx context.Context, u *User, logical string) {
	c.mu.Lock()
	c.epochs[u.ID]++
	c.mu.Unlock()

	keys := make([]string, 0, 4)
	for p := strings.Trim(logical, "/"); ; p = parentLogical(p) {
		keys = append(keys, ListingKey(u.ID, p))
		if p == "" {
			break
		}
	}
	if err := c.store.Delete(ctx, keys...); err != nil {
		forUser(c.logger, u).Error("listing cache invalidation failed", "path", logical, "error", err)
	}
}

func (c *DirectoryCache) epoch(userID int64) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochs[userID]
}

func (c *DirectoryCache) read(ctx context.Context, u *User, logical string) ([]DirectoryEntry, error) {
	abs, err := c.resolver.Resolve(u, logical)
	if err != nil {
		return nil, err
	}
	dir := volumePath(abs)
	info, err := c.fs.Stat(dir)
	if err != nil {
		return nil, ioFailure("list", logical, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %q is not a directory", ErrInvalidPath, logical)
	}

	children, err := afero.ReadDir(c.fs, dir)
	if err != nil {
		return nil, ioFailure("list", logical, err)
	}
	starred, err := c.starredSet(u)
	if err != nil {
		return nil, err
	}

	var dirs, files []DirectoryEntry
	for _, child := range children {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		name := child.Name()
		if name == TrashDirName || strings.HasPrefix(name, tempPrefix) {
			continue
		}
		childAbs := abs + "/" + name
		entry := newEntry(c.fs, joinLogical(logical, name), childAbs, child)
		if entry == nil {
			continue
		}
		entry.Starred = starred[childAbs]
		if entry.IsDir() {
			dirs = append(dirs, *entry)
		} else {
			files = append(files, *entry)
		}
	}
	sortEntries(dirs)
	sortEntries(files)
	listing := make([]DirectoryEntry, 0, len(dirs)+len(files))
	return append(append(listing, dirs...), files...), nil
}

func (c *DirectoryCache) starredSet(u *User) (map[string]bool, error) {
	stars, err := c.database.ListStars(u.ID)
	if err != nil {
		return nil, fmt.Errorf("loading stars: %w", err)
	}
	set := make(map[string]bool, len(stars))
	for _, s := range stars {
		set[s.Path] = true
	}
	return set, nil
}

// newEntry projects a node for display. Symlinks, devices and other special
// nodes yield nil.
func newEntry(fsys afero.Fs, logical, abs string, info os.FileInfo) *DirectoryEntry {
	entry := &DirectoryEntry{
		Name:       info.Name(),
		Path:       logical,
		ModifiedAt: info.ModTime(),
	}
	switch {
	case info.IsDir():
		entry.Kind = KindDirectory
	case info.Mode().IsRegular():
		size := info.Size()
		entry.Kind = KindFile
		entry.Size = &size
		entry.SizeFormatted = formatBytes(size)
		entry.MimeType = detectMime(fsys, volumePath(abs), info.Name())
	default:
		return nil
	}
	return entry
}

// detectMime uses the extension when it is known and sniffs the content
// otherwise.
func detectMime(fsys afero.Fs, p, name string) string {
	if t := mime.TypeByExtension(path.Ext(name)); t != "" {
		return t
	}
	f, err := fsys.Open(p)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	mt, err := mimetype.DetectReader(io.LimitReader(f, 3072))
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}

func sortEntries(entries []DirectoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return strings.ToLower(entries[i].Name) < strings.ToLower(entries[j].Name)
	})
}

// DefaultPerPage is used when a listing request does not ask for a page size.
const DefaultPerPage = 50

const maxPerPage = 500

// Paginate slices a full listing. Pages are 1-based.
func Paginate(entries []DirectoryEntry, page, perPage int) ([]DirectoryEntry, Pagination) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 {
		perPage = DefaultPerPage
	}
	perPage = min(perPage, maxPerPage)

	total := len(entries)
	offset := (page - 1) * perPage
	pg := Pagination{
		CurrentPage: page,
		PerPage:     perPage,
		Total:       total,
		LastPage:    (total + perPage - 1) / perPage,
		HasMore:     offset+perPage < total,
	}
	if offset >= total {
		return []DirectoryEntry{}, pg
	}
	end := min(offset+perPage, total)
	return entries[offset:end], pg
}
