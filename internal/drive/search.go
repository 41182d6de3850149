package drive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const maxSearchResults = 100

var errSearchFull = errors.New("search result limit reached")

// Search walks the directory at logical and returns the entries whose name
// contains query, ignoring case. Exact matches come first, then shorter
// names. The trash and temporary upload files are skipped.
func (e *Engine) Search(ctx context.Context, u *User, query, logical string) ([]DirectoryEntry, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty search query", ErrInvalidRequest)
	}
	baseAbs, err := e.resolveDir(u, logical)
	if err != nil {
		return nil, err
	}
	starred, err := e.listings.starredSet(u)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(query)
	var results []DirectoryEntry
	root := volumePath(baseAbs)
	err = afero.Walk(e.fs, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}
		if p == root {
			return nil
		}
		name := info.Name()
		if name == TrashDirName && info.IsDir() {
			return filepath.SkipDir
		}
		if strings.HasPrefix(name, tempPrefix) || !strings.Contains(strings.ToLower(name), needle) {
			return nil
		}

		abs := baseAbs + "/" + filepath.ToSlash(strings.TrimPrefix(p, root+"/"))
		entry := newEntry(e.fs, joinLogical(logical, strings.TrimPrefix(abs, baseAbs+"/")), abs, info)
		if entry == nil {
			return nil
		}
		entry.Starred = starred[abs]
		results = append(results, *entry)
		if len(results) >= maxSearchResults {
			return errSearchFull
		}
		return nil
	})
	if err != nil && !errors.Is(err, errSearchFull) {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ioFailure("search", logical, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		ei := strings.EqualFold(results[i].Name, query)
		ej := strings.EqualFold(results[j].Name, query)
		if ei != ej {
			return ei
		}
		return len(results[i].Name) < len(results[j].Name)
	})
	if results == nil {
		results = []DirectoryEntry{}
	}
	return results, nil
}
