// Package staging assembles chunked uploads outside the user trees and hands
// the finished file to the storage engine as one ordinary upload.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"

	"drive-go/internal/drive"
)

// StaleAge is how long an unfinished upload may sit before the sweep
// removes it.
const StaleAge = 24 * time.Hour

// MaxChunks bounds the number of chunks one upload may declare.
const MaxChunks = 100000

var errChunkTooLarge = fmt.Errorf("%w: chunk exceeds the declared upload size", drive.ErrInvalidRequest)

// Uploader receives completed uploads. *drive.Engine satisfies it.
type Uploader interface {
	UploadFiles(ctx context.Context, u *drive.User, logical string, uploads []drive.Upload, relativePaths []string) ([]drive.UploadResult, error)
}

// Upload is the client-visible state of a chunked upload.
type Upload struct {
	ID             string    `json:"upload_id"`
	Dir            string    `json:"path"`
	Name           string    `json:"name"`
	RelativePath   string    `json:"relative_path,omitempty"`
	TotalSize      int64     `json:"total_size"`
	TotalChunks    int       `json:"total_chunks"`
	ReceivedChunks int       `json:"received_chunks"`
	ReceivedBytes  int64     `json:"received_bytes"`
	CreatedAt      time.Time `json:"created_at"`
}

// BeginRequest describes a new chunked upload.
type BeginRequest struct {
	Dir          string
	Name         string
	RelativePath string
	TotalSize    int64
	TotalChunks  int
}

// Area is a staging area for chunked uploads. The declared sizes of all open
// uploads never exceed maxSize.
type Area struct {
	store   *chunkStore
	maxSize int64
	clock   drive.Clock
	idgen   drive.IDGenerator
	logger  drive.Logger

	mu sync.Mutex
}

// NewArea creates a staging area on fsys. The root of fsys belongs to the
// staging area.
func NewArea(fsys afero.Fs, maxSize int64, clock drive.Clock, idgen drive.IDGenerator, logger drive.Logger) *Area {
	if clock == nil {
		clock = drive.SystemClock{}
	}
	if idgen == nil {
		idgen = drive.RandomIDs{}
	}
	if logger == nil {
		logger = drive.NewNopLogger()
	}
	return &Area{
		store:   &chunkStore{fs: fsys},
		maxSize: maxSize,
		clock:   clock,
		idgen:   idgen,
		logger:  logger,
	}
}

// Begin opens a new upload for u.
func (a *Area) Begin(u *drive.User, req BeginRequest) (*Upload, error) {
	if err := drive.ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.TotalSize < 0 {
		return nil, fmt.Errorf("%w: negative upload size", drive.ErrInvalidRequest)
	}
	if req.TotalChunks < 1 || req.TotalChunks > MaxChunks {
		return nil, fmt.Errorf("%w: chunk count must be between 1 and %d", drive.ErrInvalidRequest, MaxChunks)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	reserved, err := a.reserved()
	if err != nil {
		return nil, err
	}
	if reserved+req.TotalSize > a.maxSize {
		return nil, fmt.Errorf("%w: staging area full (%s of %s in use)", drive.ErrInvalidRequest,
			humanize.IBytes(uint64(reserved)), humanize.IBytes(uint64(a.maxSize)))
	}

	m := &uploadMeta{
		ID:           a.idgen.New(),
		UserID:       u.ID,
		Dir:          req.Dir,
		Name:         req.Name,
		RelativePath: req.RelativePath,
		TotalSize:    req.TotalSize,
		TotalChunks:  req.TotalChunks,
		CreatedAt:    a.clock.Now(),
	}
	if err := a.store.create(m); err != nil {
		return nil, err
	}
	a.logger.Debug("chunked upload started", "upload_id", m.ID, "user", u.Username, "name", m.Name, "size", m.TotalSize)
	return toUpload(m, nil), nil
}

func (a *Area) reserved() (int64, error) {
	metas, _, err := a.store.list()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range metas {
		total += m.TotalSize
	}
	return total, nil
}

// PutChunk stores chunk index of an upload. Re-sending a chunk replaces it.
func (a *Area) PutChunk(u *drive.User, id string, index int, r io.Reader) (*Upload, error) {
	m, err := a.owned(u, id)
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= m.TotalChunks {
		return nil, fmt.Errorf("%w: chunk index %d out of range", drive.ErrInvalidRequest, index)
	}

	sizes, err := a.store.chunkSizes(id)
	if err != nil {
		return nil, err
	}
	var others int64
	for i, n := range sizes {
		if i != index {
			others += n
		}
	}
	if _, err := a.store.writeChunk(id, index, r, m.TotalSize-others); err != nil {
		return nil, err
	}

	sizes, err = a.store.chunkSizes(id)
	if err != nil {
		return nil, err
	}
	return toUpload(m, sizes), nil
}

// Status reports the progress of an upload.
func (a *Area) Status(u *drive.User, id string) (*Upload, error) {
	m, err := a.owned(u, id)
	if err != nil {
		return nil, err
	}
	sizes, err := a.store.chunkSizes(id)
	if err != nil {
		return nil, err
	}
	return toUpload(m, sizes), nil
}

// Complete hands the assembled file to up and removes the staged chunks,
// whatever the outcome of the upload itself.
func (a *Area) Complete(ctx context.Context, up Uploader, u *drive.User, id string) (*drive.UploadResult, error) {
	m, err := a.owned(u, id)
	if err != nil {
		return nil, err
	}
	sizes, err := a.store.chunkSizes(id)
	if err != nil {
		return nil, err
	}
	var got int64
	for i := 0; i < m.TotalChunks; i++ {
		n, ok := sizes[i]
		if !ok {
			return nil, fmt.Errorf("%w: chunk %d has not been received", drive.ErrInvalidRequest, i)
		}
		got += n
	}
	if got != m.TotalSize {
		return nil, fmt.Errorf("%w: received %d bytes, expected %d", drive.ErrInvalidRequest, got, m.TotalSize)
	}

	content := a.store.open(id, m.TotalChunks)
	defer func() {
		content.Close()
		if err := a.store.remove(id); err != nil {
			a.logger.Warn("failed to remove staged upload", "upload_id", id, "error", err)
		}
	}()

	var relPaths []string
	if m.RelativePath != "" {
		relPaths = []string{m.RelativePath}
	}
	results, err := up.UploadFiles(ctx, u, m.Dir, []drive.Upload{{Name: m.Name, Size: m.TotalSize, Content: content}}, relPaths)
	if err != nil {
		return nil, err
	}
	if len(results) != 1 {
		return nil, fmt.Errorf("upload returned %d results, expected 1", len(results))
	}
	return &results[0], nil
}

// Abort discards an upload.
func (a *Area) Abort(u *drive.User, id string) error {
	if _, err := a.owned(u, id); err != nil {
		return err
	}
	return a.store.remove(id)
}

// CleanupStale removes uploads created more than maxAge ago, and upload
// directories without readable metadata whose mtime is that old.
func (a *Area) CleanupStale(maxAge time.Duration) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	metas, orphans, err := a.store.list()
	if err != nil {
		return 0, err
	}
	cutoff := a.clock.Now().Add(-maxAge)
	removed := 0
	var errs []error
	for _, m := range metas {
		if m.CreatedAt.After(cutoff) {
			continue
		}
		if err := a.store.remove(m.ID); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	for id, mtime := range orphans {
		if mtime.After(cutoff) {
			continue
		}
		if err := a.store.remove(id); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	if removed > 0 {
		a.logger.Info("removed stale staged uploads", "count", removed)
	}
	return removed, errors.Join(errs...)
}

// Size returns the bytes declared by all open uploads.
func (a *Area) Size() (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reserved()
}

// owned loads an upload and checks it belongs to u. Uploads of other users
// are reported as missing.
func (a *Area) owned(u *drive.User, id string) (*uploadMeta, error) {
	if id == "" || !validID(id) {
		return nil, fmt.Errorf("upload %q: %w", id, drive.ErrNotFound)
	}
	m, err := a.store.meta(id)
	if err != nil {
		return nil, err
	}
	if m == nil || m.UserID != u.ID {
		return nil, fmt.Errorf("upload %q: %w", id, drive.ErrNotFound)
	}
	return m, nil
}

func validID(id string) bool {
	for _, r := range id {
		if !(r == '-' || r >= '0' && r <= '9' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z') {
			return false
		}
	}
	return true
}

func toUpload(m *uploadMeta, sizes map[int]int64) *Upload {
	up := &Upload{
		ID:           m.ID,
		Dir:          m.Dir,
		Name:         m.Name,
		RelativePath: m.RelativePath,
		TotalSize:    m.TotalSize,
		TotalChunks:  m.TotalChunks,
		CreatedAt:    m.CreatedAt,
	}
	for _, n := range sizes {
		up.ReceivedChunks++
		up.ReceivedBytes += n
	}
	return up
}
