package volume

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/afero"
)

func TestOpen(t *testing.T) {
	t.Run("creates missing root", func(t *testing.T) {
		root := filepath.Join(t.TempDir(), "storage")

		v, err := Open(root)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}
		if info, err := os.Stat(root); err != nil || !info.IsDir() {
			t.Fatalf("root not created: %v", err)
		}
		if v.Root() != root {
			t.Errorf("Root() = %q, want %q", v.Root(), root)
		}
	})

	t.Run("confines paths to root", func(t *testing.T) {
		root := t.TempDir()
		v, err := Open(root)
		if err != nil {
			t.Fatalf("Open() error = %v", err)
		}

		if err := afero.WriteFile(v, "/users/a/files/x.txt", []byte("x"), 0644); err == nil {
			t.Fatal("WriteFile() into missing parent should fail")
		}
		if err := v.MkdirAll("/users/a/files", 0755); err != nil {
			t.Fatalf("MkdirAll() error = %v", err)
		}
		if err := afero.WriteFile(v, "/users/a/files/x.txt", []byte("x"), 0644); err != nil {
			t.Fatalf("WriteFile() error = %v", err)
		}
		if _, err := os.Stat(filepath.Join(root, "users", "a", "files", "x.txt")); err != nil {
			t.Errorf("file not written below root: %v", err)
		}

		if _, err := v.Open("/../outside"); err == nil {
			t.Error("Open() outside the root should fail")
		}
	})

	t.Run("rejects file as root", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "file")
		if err := os.WriteFile(file, nil, 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(file); err == nil {
			t.Error("Open() on a regular file should fail")
		}
	})
}

func TestVolume_Space(t *testing.T) {
	v, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	free, total, err := v.Space()
	if err != nil {
		t.Skipf("Space() unsupported: %v", err)
	}
	if total == 0 || free > total {
		t.Errorf("Space() = %d free of %d total", free, total)
	}
}
