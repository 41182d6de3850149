package drive

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/afero"
)

// treeSize sums the sizes of regular files at or below p. The context is
// checked for every visited node so large trees can be abandoned.
func treeSize(ctx context.Context, fsys afero.Fs, p string) (int64, error) {
	var total int64
	err := afero.Walk(fsys, p, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// treeStats counts regular files and their bytes at or below p.
func treeStats(ctx context.Context, fsys afero.Fs, p string) (files int, bytes int64, err error) {
	err = afero.Walk(fsys, p, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if info.Mode().IsRegular() {
			files++
			bytes += info.Size()
		}
		return nil
	})
	return files, bytes, err
}

// copyTree copies src (file or directory) to dst. With skipExisting, files
// already present at the destination are left alone; otherwise an existing
// destination file is an error.
func copyTree(ctx context.Context, fsys afero.Fs, src, dst string, skipExisting bool) error {
	return afero.Walk(fsys, src, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		target := dst + strings.TrimPrefix(p, src)
		switch {
		case info.IsDir():
			if err := fsys.MkdirAll(target, info.Mode().Perm()|0700); err != nil {
				return fmt.Errorf("creating directory %s: %w", target, err)
			}
		case info.Mode().IsRegular():
			if skipExisting {
				if _, err := fsys.Stat(target); err == nil {
					return nil
				}
			}
			if err := copyFile(fsys, p, target, info); err != nil {
				return err
			}
		}
		return nil
	})
}

func copyFile(fsys afero.Fs, src, dst string, info os.FileInfo) error {
	in, err := fsys.Open(src)
	if err != nil {
		return fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	out, err := fsys.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("creating %s: %w", dst, err)
	}
	written, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("copying %s: %w", src, err)
	}
	if written != info.Size() {
		return fmt.Errorf("copying %s: wrote %d of %d bytes", src, written, info.Size())
	}
	return fsys.Chtimes(dst, info.ModTime(), info.ModTime())
}

// exists reports whether p exists. Stat errors other than "not exist" count
// as existing so that rollback logic never assumes a node is gone.
func exists(fsys afero.Fs, p string) bool {
	_, err := fsys.Stat(p)
	return err == nil || !os.IsNotExist(err)
}
