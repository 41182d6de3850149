package vault

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/spf13/afero"

	"drive-go/internal/snapshot"
)

const snapshotsDir = "/snapshots"

// FileSystemVault stores snapshots as files under a directory, typically a
// mounted backup disk:
//
//	<root>/
//	  snapshots/
//	    drive-20240115T103000Z.snapshot
type FileSystemVault struct {
	name string
	fs   afero.Fs
}

// NewFileSystemVault creates a vault rooted at root on the OS filesystem.
func NewFileSystemVault(name, root string) (*FileSystemVault, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault root: %w", err)
	}
	return NewFileSystemVaultOn(name, afero.NewBasePathFs(afero.NewOsFs(), root))
}

// NewFileSystemVaultOn creates a vault on an existing afero filesystem, whose
// root is the vault root.
func NewFileSystemVaultOn(name string, fsys afero.Fs) (*FileSystemVault, error) {
	if err := fsys.MkdirAll(snapshotsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create snapshots directory: %w", err)
	}
	return &FileSystemVault{name: name, fs: fsys}, nil
}

func (v *FileSystemVault) Name() string { return v.name }

// PutSnapshot writes through a temp file and renames it into place, so a
// partially written snapshot is never listed.
func (v *FileSystemVault) PutSnapshot(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}
	dest := path.Join(snapshotsDir, name)

	tmp, err := afero.TempFile(v.fs, snapshotsDir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			v.fs.Remove(tmpPath)
		}
	}()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if written != size {
		return sizeMismatch(size, written)
	}
	if err := v.fs.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	success = true
	return nil
}

func (v *FileSystemVault) GetSnapshot(ctx context.Context, name string, w io.Writer) error {
	if err := checkName(name); err != nil {
		return err
	}
	f, err := v.fs.Open(path.Join(snapshotsDir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, snapshot.ErrNotFound)
		}
		return fmt.Errorf("failed to open snapshot: %w", err)
	}
	defer f.Close()

	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	return nil
}

func (v *FileSystemVault) ListSnapshots(ctx context.Context) ([]snapshot.Info, error) {
	infos, err := afero.ReadDir(v.fs, snapshotsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshots directory: %w", err)
	}
	out := make([]snapshot.Info, 0, len(infos))
	for _, fi := range infos {
		if fi.IsDir() || strings.HasPrefix(fi.Name(), ".tmp-") {
			continue
		}
		out = append(out, snapshot.Info{Name: fi.Name(), Size: fi.Size(), CreatedAt: fi.ModTime()})
	}
	return out, nil
}

func (v *FileSystemVault) DeleteSnapshot(ctx context.Context, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if err := v.fs.Remove(path.Join(snapshotsDir, name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%s: %w", name, snapshot.ErrNotFound)
		}
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ValidateSetup checks that the snapshots directory exists and accepts writes.
func (v *FileSystemVault) ValidateSetup(ctx context.Context) error {
	info, err := v.fs.Stat(snapshotsDir)
	if err != nil {
		return fmt.Errorf("vault not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("vault path is not a directory: %s", snapshotsDir)
	}
	probe := path.Join(snapshotsDir, ".tmp-probe")
	if err := afero.WriteFile(v.fs, probe, nil, 0644); err != nil {
		return fmt.Errorf("vault not writable: %w", err)
	}
	return v.fs.Remove(probe)
}

var _ snapshot.Vault = (*FileSystemVault)(nil)
