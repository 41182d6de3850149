package testutil

import (
	"path"
	"testing"
	"time"

	"github.com/spf13/afero"
)

// NewTestVolume returns a volume rooted at a fresh temporary directory.
// Directory renames behave exactly as they do in production.
func NewTestVolume(t *testing.T) afero.Fs {
	t.Helper()
	return afero.NewBasePathFs(afero.NewOsFs(), t.TempDir())
}

// WriteFile creates p (and its parents) on fsys with content.
func WriteFile(t *testing.T, fsys afero.Fs, p string, content []byte) {
	t.Helper()

	if err := fsys.MkdirAll(path.Dir(p), 0755); err != nil {
		t.Fatalf("creating %s: %v", path.Dir(p), err)
	}
	if err := afero.WriteFile(fsys, p, content, 0644); err != nil {
		t.Fatalf("writing %s: %v", p, err)
	}
}

// Mkdir creates directory p and its parents on fsys.
func Mkdir(t *testing.T, fsys afero.Fs, p string) {
	t.Helper()

	if err := fsys.MkdirAll(p, 0755); err != nil {
		t.Fatalf("creating %s: %v", p, err)
	}
}

// Age sets the modification time of p to now minus d.
func Age(t *testing.T, fsys afero.Fs, p string, now time.Time, d time.Duration) {
	t.Helper()

	at := now.Add(-d)
	if err := fsys.Chtimes(p, at, at); err != nil {
		t.Fatalf("setting times of %s: %v", p, err)
	}
}

// Exists reports whether p exists on fsys.
func Exists(t *testing.T, fsys afero.Fs, p string) bool {
	t.Helper()

	ok, err := afero.Exists(fsys, p)
	if err != nil {
		t.Fatalf("checking %s: %v", p, err)
	}
	return ok
}
