package drive

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// Upload is one file of an upload request. Size is the declared size used
// for quota admission; the bytes actually written are what gets charged.
type Upload struct {
	Name    string
	Size    int64
	Content io.Reader
}

// UploadResult is the outcome of one uploaded file.
type UploadResult struct {
	Name    string `json:"name"`
	Path    string `json:"path,omitempty"`
	Success bool   `json:"success"`
	Size    int64  `json:"size,omitempty"`
	Error   string `json:"error,omitempty"`
	Code    string `json:"code,omitempty"`
}

// UploadFiles stores each upload inside the directory at logical. Files are
// independent: a rejected or failed file does not affect the others.
//
// relativePaths, when given, is parallel to uploads and places each file in
// a subfolder of logical (folder uploads); missing folders are created.
// Every file is charged to the owner of the directory it lands in.
func (e *Engine) UploadFiles(ctx context.Context, u *User, logical string, uploads []Upload, relativePaths []string) ([]UploadResult, error) {
	baseAbs, err := e.resolveDir(u, logical)
	if err != nil {
		return nil, err
	}
	if inTrash(baseAbs) {
		return nil, fmt.Errorf("%w: cannot upload into the trash", ErrInvalidPath)
	}
	owner, err := e.ownerOf(u, baseAbs)
	if err != nil {
		return nil, err
	}

	results := make([]UploadResult, 0, len(uploads))
	touched := map[string]bool{}
	for i, up := range uploads {
		rel := ""
		if i < len(relativePaths) {
			rel = relativePaths[i]
		}
		res, dirLogical := e.uploadOne(ctx, u, owner, logical, baseAbs, up, rel)
		if res.Success {
			touched[dirLogical] = true
		}
		results = append(results, res)
	}

	for dir := range touched {
		e.invalidate(ctx, u, dir, baseAbs)
	}
	return results, nil
}

func (e *Engine) uploadOne(ctx context.Context, u, owner *User, logical, baseAbs string, up Upload, relPath string) (UploadResult, string) {
	res := UploadResult{Name: up.Name}
	fail := func(err error) (UploadResult, string) {
		cat := Classify(err)
		res.Error, res.Code = cat.Message, cat.Code
		e.metrics.ObserveUpload(0, false)
		forUser(e.logger, u).Warn("upload failed", "name", up.Name, "error", err)
		return res, ""
	}

	sub := strings.Trim(normalizeSlashes(relPath), "/")
	name := baseName(normalizeSlashes(up.Name))
	if sub != "" {
		name = baseName(sub)
	}
	res.Name = name
	if err := ValidateName(name); err != nil {
		return fail(err)
	}
	if up.Size < 0 {
		return fail(fmt.Errorf("%w: negative size", ErrInvalidRequest))
	}

	if e.blocked.Blocked(name) || e.blocked.Blocked(sub) {
		return fail(fmt.Errorf("%w: %q is blocked by the storage policy", ErrInvalidName, name))
	}

	dirLogical, dirAbs := logical, baseAbs
	if strings.Contains(sub, "/") {
		folder, err := CleanRelative(parentLogical(sub))
		if err != nil {
			return fail(err)
		}
		for _, seg := range strings.Split(folder, "/") {
			if err := ValidateName(seg); err != nil {
				return fail(err)
			}
		}
		dirLogical = joinLogical(logical, folder)
		dirAbs = baseAbs + "/" + folder
		if err := e.fs.MkdirAll(volumePath(dirAbs), 0755); err != nil {
			return fail(ioFailure("create folder", dirLogical, err))
		}
	}

	if err := e.quota.Reserve(owner.ID, up.Size); err != nil {
		return fail(err)
	}
	written, finalName, err := e.store(ctx, owner, dirAbs, name, up.Content, up.Size)
	if err != nil {
		e.releaseQuota(owner.ID, up.Size)
		return fail(err)
	}
	if delta := written - up.Size; delta < 0 {
		if _, err := e.quota.Adjust(owner.ID, delta); err != nil {
			e.logger.Error("correcting upload charge failed", "user_id", owner.ID, "delta", delta, "error", err)
		}
	}

	e.metrics.ObserveUpload(written, true)
	res.Success = true
	res.Name = finalName
	res.Path = joinLogical(dirLogical, finalName)
	res.Size = written
	return res, dirLogical
}

// store writes at most size bytes of content to a hidden temp file in dirAbs,
// then renames it to a free variant of name under the owner's name lock.
// Content longer than size is rejected, since only size was admitted.
func (e *Engine) store(ctx context.Context, owner *User, dirAbs, name string, content io.Reader, size int64) (int64, string, error) {
	tmp := volumePath(dirAbs + "/" + tempName(e.idgen, ""))
	f, err := e.fs.Create(tmp)
	if err != nil {
		return 0, "", ioFailure("upload", name, err)
	}
	written, err := io.Copy(f, contextReader{ctx: ctx, r: io.LimitReader(content, size+1)})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = e.fs.Remove(tmp)
		return 0, "", ioFailure("upload", name, err)
	}
	if written > size {
		_ = e.fs.Remove(tmp)
		return 0, "", fmt.Errorf("%w: %q is larger than its declared %d bytes", ErrInvalidRequest, name, size)
	}

	unlock := e.names.Lock(owner.ID)
	defer unlock()
	finalName, err := UniqueName(e.fs, dirAbs, name)
	if err != nil {
		_ = e.fs.Remove(tmp)
		return 0, "", err
	}
	if err := e.fs.Rename(tmp, volumePath(dirAbs+"/"+finalName)); err != nil {
		_ = e.fs.Remove(tmp)
		return 0, "", ioFailure("upload", finalName, err)
	}
	return written, finalName, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
