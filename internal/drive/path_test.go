package drive_test

import (
	"errors"
	"testing"

	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

func TestSanitizeRootName(t *testing.T) {
	tests := []struct {
		username string
		want     string
	}{
		{"alice", "alice"},
		{"john.doe@example.com", "john.doe_example.com"},
		{"DOMAIN\\bob", "DOMAIN_bob"},
		{"a b", "a_b"},
		{"...", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := drive.SanitizeRootName(tt.username); got != tt.want {
			t.Errorf("SanitizeRootName(%q) = %q, want %q", tt.username, got, tt.want)
		}
	}
}

func TestPathResolver_Resolve(t *testing.T) {
	r := drive.NewPathResolver(nil)
	alice := &drive.User{ID: 1, Username: "alice", RootName: "alice"}

	valid := []struct {
		name    string
		logical string
		want    string
	}{
		{"empty is root", "", "users/alice/files"},
		{"slash is root", "/", "users/alice/files"},
		{"simple", "docs/a.txt", "users/alice/files/docs/a.txt"},
		{"duplicate and trailing slashes", "docs//a.txt/", "users/alice/files/docs/a.txt"},
		{"backslashes", `docs\a.txt`, "users/alice/files/docs/a.txt"},
		{"dots inside names", "v1.2/notes.txt", "users/alice/files/v1.2/notes.txt"},
		{"absolute reference", "users/bob/files/shared/x.txt", "users/bob/files/shared/x.txt"},
		{"absolute owner root", "users/bob/files", "users/bob/files"},
	}
	for _, tt := range valid {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(alice, tt.logical)
			if err != nil {
				t.Fatalf("Resolve(%q) error = %v", tt.logical, err)
			}
			if got != tt.want {
				t.Errorf("Resolve(%q) = %q, want %q", tt.logical, got, tt.want)
			}
		})
	}

	invalid := []struct {
		name    string
		logical string
	}{
		{"parent traversal", "../bob/files"},
		{"nested traversal", "docs/../../etc"},
		{"encoded traversal", "%2e%2e/etc"},
		{"double encoded traversal", "%252e%252e/etc"},
		{"null byte", "docs/a\x00.txt"},
		{"control character", "docs/a\nb"},
		{"leading slash", "/etc/passwd"},
		{"leading backslash", `\etc`},
		{"drive letter", "C:/Windows"},
		{"dot segment", "./docs"},
		{"reserved device", "docs/CON"},
		{"reserved device with extension", "nul.txt"},
		{"absolute not normalized", "users/bob/files//x"},
		{"absolute trailing slash", "users/bob/files/x/"},
		{"absolute outside files", "users/bob/config"},
		{"absolute traversal", "users/bob/files/../../alice"},
		{"absolute unsanitized namespace", "users/b@b/files"},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Resolve(alice, tt.logical)
			if !errors.Is(err, drive.ErrInvalidPath) {
				t.Errorf("Resolve(%q) error = %v, want ErrInvalidPath", tt.logical, err)
			}
		})
	}
}

func TestUserRoot_FallsBackToSanitizedUsername(t *testing.T) {
	u := &drive.User{ID: 7, Username: "jane@corp"}
	if got := drive.UserRoot(u); got != "users/jane_corp/files" {
		t.Errorf("UserRoot() = %q", got)
	}
	u = &drive.User{ID: 7, Username: ".."}
	if got := drive.UserRoot(u); got != "users/7/files" {
		t.Errorf("UserRoot() = %q, want users/7/files", got)
	}
}

func TestRelativeTo(t *testing.T) {
	alice := &drive.User{ID: 1, Username: "alice", RootName: "alice"}

	if rel, ok := drive.RelativeTo(alice, "users/alice/files"); !ok || rel != "" {
		t.Errorf("RelativeTo(root) = %q, %v", rel, ok)
	}
	if rel, ok := drive.RelativeTo(alice, "users/alice/files/a/b"); !ok || rel != "a/b" {
		t.Errorf("RelativeTo(a/b) = %q, %v", rel, ok)
	}
	if _, ok := drive.RelativeTo(alice, "users/alice/filesx/a"); ok {
		t.Error("RelativeTo() accepted a sibling prefix")
	}
	if _, ok := drive.RelativeTo(alice, "users/bob/files/a"); ok {
		t.Error("RelativeTo() accepted another namespace")
	}
}

func TestPathResolver_OwnerOf(t *testing.T) {
	h := testutil.NewTestEngine(t, drive.Settings{})
	bob := h.User(t, "bob", 0)
	paths := h.Engine.Paths()

	owner, err := paths.OwnerOf("users/bob/files/shared/report.pdf")
	if err != nil {
		t.Fatalf("OwnerOf() error = %v", err)
	}
	if owner.ID != bob.ID {
		t.Errorf("OwnerOf() = user %d, want %d", owner.ID, bob.ID)
	}

	if _, err := paths.OwnerOf("tmp/uploads/x"); !errors.Is(err, drive.ErrInvalidPath) {
		t.Errorf("OwnerOf(outside users) error = %v, want ErrInvalidPath", err)
	}
	if _, err := paths.OwnerOf("users/ghost/files/x"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("OwnerOf(unknown owner) error = %v, want ErrNotFound", err)
	}
}
