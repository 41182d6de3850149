// Package volume provides the filesystem all user trees live on.
package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/afero"

	"drive-go/internal/drive"
)

// Volume is a directory on the local filesystem exposed as an afero.Fs whose
// root is that directory. Paths outside the root cannot be reached.
type Volume struct {
	afero.Fs
	root string
}

// Open prepares root (creating it if needed) and returns a Volume over it.
func Open(root string) (*Volume, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving volume root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0755); err != nil {
		return nil, fmt.Errorf("creating volume root: %w", err)
	}

	info, err := os.Lstat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("stat volume root: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		resolved, err := filepath.EvalSymlinks(absRoot)
		if err != nil {
			return nil, fmt.Errorf("resolving volume root symlink: %w", err)
		}
		absRoot = resolved
		if info, err = os.Stat(absRoot); err != nil {
			return nil, fmt.Errorf("stat volume root: %w", err)
		}
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("volume root is not a directory: %s", absRoot)
	}

	return &Volume{
		Fs:   afero.NewBasePathFs(afero.NewOsFs(), absRoot),
		root: absRoot,
	}, nil
}

// Root returns the absolute directory backing the volume.
func (v *Volume) Root() string {
	return v.root
}

var _ drive.SpaceReporter = (*Volume)(nil)
