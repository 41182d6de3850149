package drive_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

// upload stores content as name inside dir and fails the test if the engine
// rejects it.
func upload(t *testing.T, h *testutil.EngineHarness, u *drive.User, dir, name string, content []byte) drive.UploadResult {
	t.Helper()

	results, err := h.Engine.UploadFiles(context.Background(), u, dir, []drive.Upload{{
		Name:    name,
		Size:    int64(len(content)),
		Content: bytes.NewReader(content),
	}}, nil)
	if err != nil {
		t.Fatalf("UploadFiles(%s) error = %v", name, err)
	}
	if len(results) != 1 || !results[0].Success {
		t.Fatalf("UploadFiles(%s) = %+v", name, results)
	}
	return results[0]
}

func names(entries []drive.DirectoryEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func equalNames(got []drive.DirectoryEntry, want ...string) bool {
	n := names(got)
	if len(n) != len(want) {
		return false
	}
	for i := range n {
		if n[i] != want[i] {
			return false
		}
	}
	return true
}

func TestEngine_EnsureUser(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{DefaultQuotaBytes: 5 << 30})

	u, err := h.Engine.EnsureUser(ctx, drive.Identity{Username: "jane@corp", DisplayName: "Jane", Email: "jane@corp.example"})
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if u.ID == 0 || u.RootName != "jane_corp" || u.QuotaBytes != 5<<30 {
		t.Errorf("EnsureUser() = %+v", u)
	}
	if !testutil.Exists(t, h.Volume, "/users/jane_corp/files") {
		t.Error("root folder was not created")
	}

	t.Run("second login returns the same user", func(t *testing.T) {
		again, err := h.Engine.EnsureUser(ctx, drive.Identity{Username: "jane@corp", DisplayName: "Jane Doe"})
		if err != nil {
			t.Fatalf("EnsureUser() error = %v", err)
		}
		if again.ID != u.ID || again.DisplayName != "Jane Doe" {
			t.Errorf("EnsureUser() = %+v, want ID %d with refreshed name", again, u.ID)
		}
	})

	t.Run("colliding root names get a suffix", func(t *testing.T) {
		other, err := h.Engine.EnsureUser(ctx, drive.Identity{Username: "jane_corp"})
		if err != nil {
			t.Fatalf("EnsureUser() error = %v", err)
		}
		if other.RootName != "jane_corp_2" {
			t.Errorf("RootName = %q, want jane_corp_2", other.RootName)
		}
	})

	t.Run("empty username", func(t *testing.T) {
		if _, err := h.Engine.EnsureUser(ctx, drive.Identity{}); !errors.Is(err, drive.ErrInvalidRequest) {
			t.Errorf("EnsureUser(empty) error = %v, want ErrInvalidRequest", err)
		}
	})
}

func TestEngine_CreateFolder(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)

	created, err := h.Engine.CreateFolder(ctx, alice, "", "Projects")
	if err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if created != "Projects" {
		t.Errorf("CreateFolder() = %q, want Projects", created)
	}
	nested, err := h.Engine.CreateFolder(ctx, alice, "Projects", "2024")
	if err != nil {
		t.Fatalf("CreateFolder(nested) error = %v", err)
	}
	if nested != "Projects/2024" {
		t.Errorf("CreateFolder(nested) = %q", nested)
	}

	if _, err := h.Engine.CreateFolder(ctx, alice, "", "Projects"); !errors.Is(err, drive.ErrAlreadyExists) {
		t.Errorf("CreateFolder(duplicate) error = %v, want ErrAlreadyExists", err)
	}
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "a:b"); !errors.Is(err, drive.ErrInvalidName) {
		t.Errorf("CreateFolder(a:b) error = %v, want ErrInvalidName", err)
	}
	if _, err := h.Engine.CreateFolder(ctx, alice, "missing", "x"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("CreateFolder(in missing parent) error = %v, want ErrNotFound", err)
	}
	if _, err := h.Engine.CreateFolder(ctx, alice, "", ".trash"); !errors.Is(err, drive.ErrInvalidName) {
		t.Errorf("CreateFolder(.trash) error = %v, want ErrInvalidName", err)
	}
	// Nothing was touched by the rejected requests.
	if testutil.Exists(t, h.Volume, h.Path(alice, "missing")) {
		t.Error("rejected request created a folder")
	}
}

func TestEngine_Rename(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{BlockedPatterns: []string{"*.iso"}})
	alice := h.User(t, "alice", 0)
	upload(t, h, alice, "", "draft.txt", []byte("hello"))
	upload(t, h, alice, "", "final.txt", []byte("world"))

	if _, err := h.Engine.ToggleStar(ctx, alice, "draft.txt"); err != nil {
		t.Fatalf("ToggleStar() error = %v", err)
	}

	renamed, err := h.Engine.Rename(ctx, alice, "draft.txt", "notes.txt")
	if err != nil {
		t.Fatalf("Rename() error = %v", err)
	}
	if renamed != "notes.txt" {
		t.Errorf("Rename() = %q, want notes.txt", renamed)
	}
	if testutil.Exists(t, h.Volume, h.Path(alice, "draft.txt")) || !testutil.Exists(t, h.Volume, h.Path(alice, "notes.txt")) {
		t.Error("file was not renamed on the volume")
	}

	t.Run("stars follow the item", func(t *testing.T) {
		starred, err := h.Engine.Starred(ctx, alice)
		if err != nil {
			t.Fatalf("Starred() error = %v", err)
		}
		if !equalNames(starred, "notes.txt") {
			t.Errorf("Starred() = %v, want [notes.txt]", names(starred))
		}
	})

	t.Run("taken name", func(t *testing.T) {
		if _, err := h.Engine.Rename(ctx, alice, "notes.txt", "final.txt"); !errors.Is(err, drive.ErrAlreadyExists) {
			t.Errorf("Rename() error = %v, want ErrAlreadyExists", err)
		}
	})

	t.Run("invalid name", func(t *testing.T) {
		if _, err := h.Engine.Rename(ctx, alice, "notes.txt", "notes.exe"); !errors.Is(err, drive.ErrInvalidName) {
			t.Errorf("Rename() error = %v, want ErrInvalidName", err)
		}
	})

	t.Run("blocked pattern applies to files only", func(t *testing.T) {
		if _, err := h.Engine.Rename(ctx, alice, "notes.txt", "image.iso"); !errors.Is(err, drive.ErrInvalidName) {
			t.Errorf("Rename(file) error = %v, want ErrInvalidName", err)
		}
		if _, err := h.Engine.CreateFolder(ctx, alice, "", "images"); err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}
		if _, err := h.Engine.Rename(ctx, alice, "images", "disk.iso"); err != nil {
			t.Errorf("Rename(folder) error = %v", err)
		}
	})

	t.Run("root cannot be renamed", func(t *testing.T) {
		if _, err := h.Engine.Rename(ctx, alice, "", "other"); !errors.Is(err, drive.ErrInvalidPath) {
			t.Errorf("Rename(root) error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("missing item", func(t *testing.T) {
		if _, err := h.Engine.Rename(ctx, alice, "ghost.txt", "x.txt"); !errors.Is(err, drive.ErrNotFound) {
			t.Errorf("Rename(missing) error = %v, want ErrNotFound", err)
		}
	})
}

func TestEngine_Move(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "archive"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "inbox"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	upload(t, h, alice, "inbox", "a.txt", []byte("first"))
	upload(t, h, alice, "archive", "a.txt", []byte("older"))

	moved, err := h.Engine.Move(ctx, alice, "inbox/a.txt", "archive")
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if moved != "archive/a (1).txt" {
		t.Errorf("Move() = %q, want archive/a (1).txt", moved)
	}
	if testutil.Exists(t, h.Volume, h.Path(alice, "inbox/a.txt")) {
		t.Error("source still exists after move")
	}

	t.Run("into itself", func(t *testing.T) {
		if _, err := h.Engine.CreateFolder(ctx, alice, "archive", "deep"); err != nil {
			t.Fatalf("CreateFolder() error = %v", err)
		}
		if _, err := h.Engine.Move(ctx, alice, "archive", "archive/deep"); !errors.Is(err, drive.ErrInvalidPath) {
			t.Errorf("Move(into child) error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("into trash", func(t *testing.T) {
		testutil.Mkdir(t, h.Volume, h.Path(alice, ".trash"))
		if _, err := h.Engine.Move(ctx, alice, "archive/a.txt", ".trash"); !errors.Is(err, drive.ErrInvalidPath) {
			t.Errorf("Move(into trash) error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("target must be a directory", func(t *testing.T) {
		if _, err := h.Engine.Move(ctx, alice, "archive/a.txt", "archive/a (1).txt"); !errors.Is(err, drive.ErrInvalidPath) {
			t.Errorf("Move(onto file) error = %v, want ErrInvalidPath", err)
		}
	})

	t.Run("same directory is a no-op", func(t *testing.T) {
		got, err := h.Engine.Move(ctx, alice, "archive/a.txt", "archive")
		if err != nil {
			t.Fatalf("Move() error = %v", err)
		}
		if got != "archive/a.txt" {
			t.Errorf("Move() = %q, want archive/a.txt", got)
		}
	})
}

func TestEngine_MoveAcrossOwnersTransfersQuota(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	bob := h.User(t, "bob", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "team"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := h.Engine.Shares().Grant(alice, bob.ID, "team", drive.AccessEdit, nil); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	upload(t, h, bob, "", "plan.txt", make([]byte, 40))

	moved, err := h.Engine.Move(ctx, bob, "plan.txt", "users/alice/files/team")
	if err != nil {
		t.Fatalf("Move() error = %v", err)
	}
	if moved != "users/alice/files/team/plan.txt" {
		t.Errorf("Move() = %q", moved)
	}
	if got := h.Used(t, bob); got != 0 {
		t.Errorf("bob used = %d, want 0", got)
	}
	if got := h.Used(t, alice); got != 40 {
		t.Errorf("alice used = %d, want 40", got)
	}

	t.Run("rejected when the new owner is full", func(t *testing.T) {
		if err := h.Engine.Quota().SetQuota(alice.ID, 50); err != nil {
			t.Fatalf("SetQuota() error = %v", err)
		}
		upload(t, h, bob, "", "big.bin", make([]byte, 20))

		_, err := h.Engine.Move(ctx, bob, "big.bin", "users/alice/files/team")
		if !errors.Is(err, drive.ErrQuotaExceeded) {
			t.Fatalf("Move() error = %v, want ErrQuotaExceeded", err)
		}
		if !testutil.Exists(t, h.Volume, h.Path(bob, "big.bin")) {
			t.Error("file left bob's drive after a rejected move")
		}
		if got := h.Used(t, alice); got != 40 {
			t.Errorf("alice used = %d, want 40", got)
		}
		if got := h.Used(t, bob); got != 20 {
			t.Errorf("bob used = %d, want 20", got)
		}
	})
}

func TestEngine_BatchDelete(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	upload(t, h, alice, "", "a.txt", []byte("a"))
	upload(t, h, alice, "", "b.txt", []byte("b"))

	result := h.Engine.BatchDelete(ctx, alice, []string{"a.txt", "missing.txt", "../x", "b.txt"})
	if result.Succeeded != 2 {
		t.Errorf("Succeeded = %d, want 2", result.Succeeded)
	}
	wantCodes := []string{"", drive.CodeFileNotFound, drive.CodeValidationError, ""}
	for i, r := range result.Results {
		if r.Code != wantCodes[i] {
			t.Errorf("result[%d] (%s) code = %q, want %q", i, r.Path, r.Code, wantCodes[i])
		}
	}

	trash, err := h.Engine.Trash().List(ctx, alice)
	if err != nil {
		t.Fatalf("Trash().List() error = %v", err)
	}
	if len(trash) != 2 {
		t.Errorf("trash has %d entries, want 2", len(trash))
	}
}

func TestEngine_OpenAndInfo(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	upload(t, h, alice, "", "hello.txt", []byte("hello world"))
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "docs"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	rc, entry, err := h.Engine.Open(ctx, alice, "hello.txt")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	data, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		t.Fatalf("reading file: %v", err)
	}
	if string(data) != "hello world" {
		t.Errorf("content = %q", data)
	}
	if entry.Size == nil || *entry.Size != 11 || entry.MimeType != "text/plain; charset=utf-8" {
		t.Errorf("entry = %+v", entry)
	}

	if _, _, err := h.Engine.Open(ctx, alice, "docs"); !errors.Is(err, drive.ErrInvalidPath) {
		t.Errorf("Open(dir) error = %v, want ErrInvalidPath", err)
	}

	info, err := h.Engine.GetFileInfo(ctx, alice, "docs")
	if err != nil {
		t.Fatalf("GetFileInfo() error = %v", err)
	}
	if !info.IsDir() || info.Size != nil {
		t.Errorf("GetFileInfo(docs) = %+v", info)
	}

	ok, err := h.Engine.FileExists(ctx, alice, "nope.txt")
	if err != nil || ok {
		t.Errorf("FileExists(nope.txt) = %v, %v", ok, err)
	}

	size, err := h.Engine.DirectorySize(ctx, alice, "")
	if err != nil {
		t.Fatalf("DirectorySize() error = %v", err)
	}
	if size != 11 {
		t.Errorf("DirectorySize() = %d, want 11", size)
	}
}

func TestEngine_ListSortsAndHides(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	for _, dir := range []string{"beta", "Alpha"} {
		if _, err := h.Engine.CreateFolder(ctx, alice, "", dir); err != nil {
			t.Fatalf("CreateFolder(%s) error = %v", dir, err)
		}
	}
	upload(t, h, alice, "", "zeta.txt", []byte("z"))
	upload(t, h, alice, "", "Apple.txt", []byte("a"))
	upload(t, h, alice, "", "gone.txt", []byte("g"))
	if err := h.Engine.Delete(ctx, alice, "gone.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	testutil.WriteFile(t, h.Volume, h.Path(alice, ".tmp-upload"), []byte("partial"))

	listing, err := h.Engine.List(ctx, alice, "", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalNames(listing.Items, "Alpha", "beta", "Apple.txt", "zeta.txt") {
		t.Errorf("List() = %v, want [Alpha beta Apple.txt zeta.txt]", names(listing.Items))
	}
	if listing.Pagination.Total != 4 {
		t.Errorf("Total = %d, want 4", listing.Pagination.Total)
	}
}

func TestEngine_ListingCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "docs"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}

	root, err := h.Engine.List(ctx, alice, "", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalNames(root.Items, "docs") {
		t.Fatalf("List() = %v", names(root.Items))
	}
	if _, err := h.Engine.List(ctx, alice, "docs", 1, 50); err != nil {
		t.Fatalf("List(docs) error = %v", err)
	}

	// Changes made behind the engine's back are not seen until the TTL or
	// an invalidation.
	testutil.WriteFile(t, h.Volume, h.Path(alice, "outside.txt"), []byte("x"))
	root, err = h.Engine.List(ctx, alice, "", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalNames(root.Items, "docs") {
		t.Errorf("cached List() = %v, want [docs]", names(root.Items))
	}

	// A nested mutation clears the whole ancestor chain.
	if _, err := h.Engine.CreateFolder(ctx, alice, "docs", "2024"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	docs, err := h.Engine.List(ctx, alice, "docs", 1, 50)
	if err != nil {
		t.Fatalf("List(docs) error = %v", err)
	}
	if !equalNames(docs.Items, "2024") {
		t.Errorf("List(docs) = %v, want [2024]", names(docs.Items))
	}
	root, err = h.Engine.List(ctx, alice, "", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalNames(root.Items, "docs", "outside.txt") {
		t.Errorf("List() = %v, want [docs outside.txt]", names(root.Items))
	}
}

func TestEngine_SharedFolderInvalidatesOwnerListing(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	bob := h.User(t, "bob", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "team"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	if _, err := h.Engine.Shares().Grant(alice, bob.ID, "team", drive.AccessEdit, nil); err != nil {
		t.Fatalf("Grant() error = %v", err)
	}
	if _, err := h.Engine.List(ctx, alice, "team", 1, 50); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	upload(t, h, bob, "users/alice/files/team", "from-bob.txt", []byte("hi"))

	listing, err := h.Engine.List(ctx, alice, "team", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !equalNames(listing.Items, "from-bob.txt") {
		t.Errorf("owner List(team) = %v, want [from-bob.txt]", names(listing.Items))
	}
	if got := h.Used(t, alice); got != 2 {
		t.Errorf("alice used = %d, want 2 (owner is charged)", got)
	}
	if got := h.Used(t, bob); got != 0 {
		t.Errorf("bob used = %d, want 0", got)
	}
}

func TestPaginate(t *testing.T) {
	entries := make([]drive.DirectoryEntry, 5)
	for i := range entries {
		entries[i].Name = string(rune('a' + i))
	}

	page, pg := drive.Paginate(entries, 3, 2)
	if !equalNames(page, "e") {
		t.Errorf("page 3 = %v, want [e]", names(page))
	}
	if pg.LastPage != 3 || pg.HasMore || pg.Total != 5 {
		t.Errorf("pagination = %+v", pg)
	}

	page, pg = drive.Paginate(entries, 1, 2)
	if !equalNames(page, "a", "b") || !pg.HasMore {
		t.Errorf("page 1 = %v, %+v", names(page), pg)
	}

	page, _ = drive.Paginate(entries, 4, 2)
	if len(page) != 0 {
		t.Errorf("page 4 = %v, want empty", names(page))
	}

	_, pg = drive.Paginate(entries, 0, 0)
	if pg.CurrentPage != 1 || pg.PerPage != drive.DefaultPerPage {
		t.Errorf("defaults = %+v", pg)
	}
}

func TestEngine_QuotaScenario(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 1_048_576)

	upload(t, h, alice, "", "report.pdf", make([]byte, 600_000))
	if got := h.Used(t, alice); got != 600_000 {
		t.Fatalf("used = %d, want 600000", got)
	}

	notes := make([]byte, 500_000)
	results, err := h.Engine.UploadFiles(ctx, alice, "", []drive.Upload{{Name: "notes.txt", Size: int64(len(notes)), Content: bytes.NewReader(notes)}}, nil)
	if err != nil {
		t.Fatalf("UploadFiles() error = %v", err)
	}
	if results[0].Success || results[0].Code != drive.CodeQuotaExceeded {
		t.Fatalf("UploadFiles(notes.txt) = %+v, want QUOTA_EXCEEDED", results[0])
	}
	if testutil.Exists(t, h.Volume, h.Path(alice, "notes.txt")) {
		t.Error("rejected upload left a file behind")
	}
	if got := h.Used(t, alice); got != 600_000 {
		t.Errorf("used after rejection = %d, want 600000", got)
	}

	if err := h.Engine.Delete(ctx, alice, "report.pdf"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if got := h.Used(t, alice); got != 600_000 {
		t.Errorf("used after soft delete = %d, want 600000", got)
	}

	trash, err := h.Engine.Trash().List(ctx, alice)
	if err != nil {
		t.Fatalf("Trash().List() error = %v", err)
	}
	if len(trash) != 1 {
		t.Fatalf("trash has %d entries, want 1", len(trash))
	}
	freed, err := h.Engine.Trash().Purge(ctx, alice, trash[0].Path)
	if err != nil {
		t.Fatalf("Purge() error = %v", err)
	}
	if freed != 600_000 {
		t.Errorf("Purge() = %d, want 600000", freed)
	}
	if got := h.Used(t, alice); got != 0 {
		t.Errorf("used after purge = %d, want 0", got)
	}

	upload(t, h, alice, "", "notes.txt", notes)
	if got := h.Used(t, alice); got != 500_000 {
		t.Errorf("used = %d, want 500000", got)
	}

	reconciled, err := h.Engine.RecalculateQuota(ctx, alice)
	if err != nil {
		t.Fatalf("RecalculateQuota() error = %v", err)
	}
	if reconciled != 500_000 {
		t.Errorf("RecalculateQuota() = %d, want 500000", reconciled)
	}
}
