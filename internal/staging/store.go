package staging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/afero"
)

const (
	metaFile    = "meta.json"
	chunkPrefix = "chunk-"
)

// uploadMeta is persisted as meta.json in each upload's directory.
type uploadMeta struct {
	ID           string    `json:"id"`
	UserID       int64     `json:"user_id"`
	Dir          string    `json:"dir"`
	Name         string    `json:"name"`
	RelativePath string    `json:"relative_path,omitempty"`
	TotalSize    int64     `json:"total_size"`
	TotalChunks  int       `json:"total_chunks"`
	CreatedAt    time.Time `json:"created_at"`
}

// chunkStore lays uploads out on an afero filesystem:
//
//	/<upload_id>/
//	  meta.json
//	  chunk-000000
//	  chunk-000001
//
// Concurrency is managed by the caller; distinct chunks of one upload may be
// written in parallel since each goes to its own file.
type chunkStore struct {
	fs afero.Fs
}

func uploadDir(id string) string { return "/" + id }

func chunkPath(id string, index int) string {
	return path.Join(uploadDir(id), fmt.Sprintf("%s%06d", chunkPrefix, index))
}

func (s *chunkStore) create(m *uploadMeta) error {
	if err := s.fs.MkdirAll(uploadDir(m.ID), 0755); err != nil {
		return fmt.Errorf("creating upload directory: %w", err)
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("encoding upload metadata: %w", err)
	}
	if err := afero.WriteFile(s.fs, path.Join(uploadDir(m.ID), metaFile), data, 0644); err != nil {
		s.fs.RemoveAll(uploadDir(m.ID))
		return fmt.Errorf("writing upload metadata: %w", err)
	}
	return nil
}

// meta returns nil when the upload does not exist.
func (s *chunkStore) meta(id string) (*uploadMeta, error) {
	data, err := afero.ReadFile(s.fs, path.Join(uploadDir(id), metaFile))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading upload metadata: %w", err)
	}
	var m uploadMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding upload metadata: %w", err)
	}
	return &m, nil
}

// writeChunk stores r as chunk index, replacing a previous attempt. At most
// limit bytes are accepted.
func (s *chunkStore) writeChunk(id string, index int, r io.Reader, limit int64) (int64, error) {
	dest := chunkPath(id, index)
	tmp := dest + ".part"
	f, err := s.fs.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return 0, fmt.Errorf("creating chunk file: %w", err)
	}
	n, err := io.Copy(f, io.LimitReader(r, limit+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.fs.Remove(tmp)
		return n, fmt.Errorf("writing chunk: %w", err)
	}
	if n > limit {
		s.fs.Remove(tmp)
		return n, errChunkTooLarge
	}
	if err := s.fs.Rename(tmp, dest); err != nil {
		s.fs.Remove(tmp)
		return n, fmt.Errorf("storing chunk: %w", err)
	}
	return n, nil
}

// chunkSizes returns the size of each received chunk by index.
func (s *chunkStore) chunkSizes(id string) (map[int]int64, error) {
	infos, err := afero.ReadDir(s.fs, uploadDir(id))
	if err != nil {
		return nil, fmt.Errorf("reading upload directory: %w", err)
	}
	sizes := make(map[int]int64)
	for _, fi := range infos {
		name := fi.Name()
		if fi.IsDir() || len(name) != len(chunkPrefix)+6 || name[:len(chunkPrefix)] != chunkPrefix {
			continue
		}
		idx, err := strconv.Atoi(name[len(chunkPrefix):])
		if err != nil {
			continue
		}
		sizes[idx] = fi.Size()
	}
	return sizes, nil
}

// open returns a reader over chunks 0..n-1 in order. Files are opened lazily.
func (s *chunkStore) open(id string, n int) io.ReadCloser {
	return &chunkReader{fs: s.fs, id: id, total: n}
}

func (s *chunkStore) remove(id string) error {
	return s.fs.RemoveAll(uploadDir(id))
}

// list returns the metadata of every upload plus the modification time of
// upload directories whose meta.json is unreadable.
func (s *chunkStore) list() ([]*uploadMeta, map[string]time.Time, error) {
	infos, err := afero.ReadDir(s.fs, "/")
	if err != nil {
		return nil, nil, fmt.Errorf("reading staging root: %w", err)
	}
	var metas []*uploadMeta
	orphans := make(map[string]time.Time)
	for _, fi := range infos {
		if !fi.IsDir() {
			continue
		}
		m, err := s.meta(fi.Name())
		if err != nil || m == nil {
			orphans[fi.Name()] = fi.ModTime()
			continue
		}
		metas = append(metas, m)
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].CreatedAt.Before(metas[j].CreatedAt) })
	return metas, orphans, nil
}

type chunkReader struct {
	fs    afero.Fs
	id    string
	total int
	next  int
	cur   afero.File
}

func (r *chunkReader) Read(p []byte) (int, error) {
	for {
		if r.cur == nil {
			if r.next >= r.total {
				return 0, io.EOF
			}
			f, err := r.fs.Open(chunkPath(r.id, r.next))
			if err != nil {
				return 0, fmt.Errorf("opening chunk %d: %w", r.next, err)
			}
			r.cur = f
			r.next++
		}
		n, err := r.cur.Read(p)
		if err == io.EOF {
			r.cur.Close()
			r.cur = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *chunkReader) Close() error {
	if r.cur != nil {
		err := r.cur.Close()
		r.cur = nil
		return err
	}
	return nil
}
