package drive_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"drive-go/internal/drive"
	"drive-go/internal/testutil"
)

func TestEngine_ToggleStar(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	upload(t, h, alice, "", "a.txt", []byte("a"))

	// Fill the cache so the toggle has something to invalidate.
	if _, err := h.Engine.List(ctx, alice, "", 1, 50); err != nil {
		t.Fatalf("List() error = %v", err)
	}

	starred, err := h.Engine.ToggleStar(ctx, alice, "a.txt")
	if err != nil {
		t.Fatalf("ToggleStar() error = %v", err)
	}
	if !starred {
		t.Error("first ToggleStar() = false, want true")
	}
	listing, err := h.Engine.List(ctx, alice, "", 1, 50)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if !listing.Items[0].Starred {
		t.Error("listing does not show the star")
	}

	starred, err = h.Engine.ToggleStar(ctx, alice, "a.txt")
	if err != nil {
		t.Fatalf("ToggleStar() error = %v", err)
	}
	if starred {
		t.Error("second ToggleStar() = true, want false")
	}

	if _, err := h.Engine.ToggleStar(ctx, alice, "ghost.txt"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("ToggleStar(missing) error = %v, want ErrNotFound", err)
	}
}

func TestEngine_StarredDropsVanishedItems(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	upload(t, h, alice, "", "keep.txt", []byte("k"))
	upload(t, h, alice, "", "vanish.txt", []byte("v"))
	for _, p := range []string{"keep.txt", "vanish.txt"} {
		if _, err := h.Engine.ToggleStar(ctx, alice, p); err != nil {
			t.Fatalf("ToggleStar(%s) error = %v", p, err)
		}
	}
	if err := h.Volume.Remove(h.Path(alice, "vanish.txt")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	starred, err := h.Engine.Starred(ctx, alice)
	if err != nil {
		t.Fatalf("Starred() error = %v", err)
	}
	if !equalNames(starred, "keep.txt") || !starred[0].Starred {
		t.Errorf("Starred() = %v, want [keep.txt]", names(starred))
	}
	stars, err := h.DB.ListStars(alice.ID)
	if err != nil {
		t.Fatalf("ListStars() error = %v", err)
	}
	if len(stars) != 1 {
		t.Errorf("stored stars = %d, want the stale one pruned", len(stars))
	}
}

func TestEngine_Recents(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "docs"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	upload(t, h, alice, "docs", "a.txt", []byte("a"))
	upload(t, h, alice, "", "b.txt", []byte("b"))

	open := func(p string) {
		t.Helper()
		rc, _, err := h.Engine.Open(ctx, alice, p)
		if err != nil {
			t.Fatalf("Open(%s) error = %v", p, err)
		}
		_, _ = io.Copy(io.Discard, rc)
		rc.Close()
		h.Clock.Advance(time.Second)
	}
	open("docs/a.txt")
	if _, err := h.Engine.List(ctx, alice, "docs", 1, 50); err != nil {
		t.Fatalf("List() error = %v", err)
	}
	h.Clock.Advance(time.Second)
	open("b.txt")

	recents, err := h.Engine.Recents(ctx, alice)
	if err != nil {
		t.Fatalf("Recents() error = %v", err)
	}
	if !equalNames(recents, "b.txt", "docs", "a.txt") {
		t.Errorf("Recents() = %v, want [b.txt docs a.txt]", names(recents))
	}

	// Trashed items disappear from recents.
	if err := h.Engine.Delete(ctx, alice, "b.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	recents, err = h.Engine.Recents(ctx, alice)
	if err != nil {
		t.Fatalf("Recents() error = %v", err)
	}
	if !equalNames(recents, "docs", "a.txt") {
		t.Errorf("Recents() after delete = %v, want [docs a.txt]", names(recents))
	}
}

func TestEngine_RecentsOfSharedItemsNeedAccess(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	bob := h.User(t, "bob", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "team"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	upload(t, h, alice, "team", "roadmap.md", []byte("# roadmap"))
	share, err := h.Engine.Shares().Grant(alice, bob.ID, "team", drive.AccessView, nil)
	if err != nil {
		t.Fatalf("Grant() error = %v", err)
	}

	rc, _, err := h.Engine.Open(ctx, bob, "users/alice/files/team/roadmap.md")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	rc.Close()

	recents, err := h.Engine.Recents(ctx, bob)
	if err != nil {
		t.Fatalf("Recents() error = %v", err)
	}
	if len(recents) != 1 || recents[0].Path != "users/alice/files/team/roadmap.md" {
		t.Fatalf("Recents() = %+v", recents)
	}

	if err := h.Engine.Shares().Revoke(alice, share.ID); err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	recents, err = h.Engine.Recents(ctx, bob)
	if err != nil {
		t.Fatalf("Recents() error = %v", err)
	}
	if len(recents) != 0 {
		t.Errorf("Recents() after revoke = %v, want empty", names(recents))
	}
}

func TestEngine_Search(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	if _, err := h.Engine.CreateFolder(ctx, alice, "", "Reports"); err != nil {
		t.Fatalf("CreateFolder() error = %v", err)
	}
	upload(t, h, alice, "Reports", "report", []byte("x"))
	upload(t, h, alice, "Reports", "annual-report-2024.pdf", []byte("x"))
	upload(t, h, alice, "", "report.txt", []byte("x"))
	upload(t, h, alice, "", "notes.txt", []byte("x"))
	upload(t, h, alice, "", "old-report.txt", []byte("x"))
	if err := h.Engine.Delete(ctx, alice, "old-report.txt"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	testutil.WriteFile(t, h.Volume, h.Path(alice, ".tmp-report"), []byte("partial"))

	results, err := h.Engine.Search(ctx, alice, "REPORT", "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	// Exact matches first, then shorter names.
	if !equalNames(results, "report", "Reports", "report.txt", "annual-report-2024.pdf") {
		t.Errorf("Search() = %v", names(results))
	}
	for _, r := range results {
		if r.Name == "report" && r.Path != "Reports/report" {
			t.Errorf("Path = %q, want Reports/report", r.Path)
		}
	}

	scoped, err := h.Engine.Search(ctx, alice, "report", "Reports")
	if err != nil {
		t.Fatalf("Search(scoped) error = %v", err)
	}
	if len(scoped) != 2 {
		t.Errorf("Search(scoped) = %v, want 2 results", names(scoped))
	}

	none, err := h.Engine.Search(ctx, alice, "nothing", "")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("Search(nothing) = %v, want empty slice", none)
	}

	if _, err := h.Engine.Search(ctx, alice, "   ", ""); !errors.Is(err, drive.ErrInvalidRequest) {
		t.Errorf("Search(blank) error = %v, want ErrInvalidRequest", err)
	}
}

func TestEngine_Notifications(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	alice := h.User(t, "alice", 0)
	bob := h.User(t, "bob", 0)

	for i := 0; i < 3; i++ {
		n := &drive.Notification{
			ID:        fmt.Sprintf("n-%d", i),
			UserID:    bob.ID,
			Title:     "New file shared",
			Type:      "share",
			CreatedAt: h.Clock.Now().Add(time.Duration(i) * time.Minute),
		}
		if err := h.DB.CreateNotification(n); err != nil {
			t.Fatalf("CreateNotification() error = %v", err)
		}
	}

	list, err := h.Engine.Notifications(ctx, bob)
	if err != nil {
		t.Fatalf("Notifications() error = %v", err)
	}
	if len(list) != 3 || list[0].ID != "n-2" {
		t.Fatalf("Notifications() = %+v, want newest first", list)
	}

	if err := h.Engine.MarkNotificationRead(ctx, bob, "n-1"); err != nil {
		t.Fatalf("MarkNotificationRead() error = %v", err)
	}
	// Another user's notification cannot be marked.
	if err := h.Engine.MarkNotificationRead(ctx, alice, "n-0"); err == nil {
		t.Error("MarkNotificationRead() by another user succeeded")
	}

	list, err = h.Engine.Notifications(ctx, bob)
	if err != nil {
		t.Fatalf("Notifications() error = %v", err)
	}
	for _, n := range list {
		if (n.ReadAt != nil) != (n.ID == "n-1") {
			t.Errorf("notification %s ReadAt = %v", n.ID, n.ReadAt)
		}
	}
}

func TestEngine_LookupUser(t *testing.T) {
	ctx := context.Background()
	h := testutil.NewTestEngine(t, drive.Settings{})
	h.User(t, "alice", 0)

	u, err := h.Engine.LookupUser(ctx, "alice")
	if err != nil {
		t.Fatalf("LookupUser() error = %v", err)
	}
	if u.Username != "alice" {
		t.Errorf("LookupUser() = %+v", u)
	}
	if _, err := h.Engine.LookupUser(ctx, "nobody"); !errors.Is(err, drive.ErrNotFound) {
		t.Errorf("LookupUser(nobody) error = %v, want ErrNotFound", err)
	}
	users, err := h.Engine.Users(ctx)
	if err != nil {
		t.Fatalf("Users() error = %v", err)
	}
	if len(users) != 1 {
		t.Errorf("Users() = %d users, want 1", len(users))
	}
}
