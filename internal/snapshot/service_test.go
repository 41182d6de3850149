package snapshot_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"drive-go/internal/database"
	"drive-go/internal/drive"
	"drive-go/internal/encryption"
	"drive-go/internal/snapshot"
	"drive-go/internal/testutil"
	"drive-go/internal/vault"
)

type fixture struct {
	svc   *snapshot.Service
	db    *database.SQLiteDatabase
	clock *testutil.StubClock
	enc   *encryption.TestEncryptor
	local *vault.MemoryVault
	other *vault.MemoryVault
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := database.NewSQLiteDatabase(filepath.Join(t.TempDir(), "drive.db"))
	if err != nil {
		t.Fatalf("NewSQLiteDatabase() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	enc := encryption.NewTestEncryptor()
	if err := enc.Setup("hunter2"); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	f := &fixture{
		db:    db,
		clock: testutil.FixedClock(),
		enc:   enc,
		local: vault.NewMemoryVault("local"),
		other: vault.NewMemoryVault("offsite"),
	}
	f.svc = snapshot.NewService(db, enc, []snapshot.Vault{f.local, f.other}, f.clock, nil, t.TempDir())
	return f
}

func TestName(t *testing.T) {
	at := time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)
	name := snapshot.Name(at)
	if name != "drive-20240115T103000Z.snapshot" {
		t.Fatalf("Name() = %q", name)
	}
	got, ok := snapshot.ParseName(name)
	if !ok || !got.Equal(at) {
		t.Errorf("ParseName(%q) = %v, %v", name, got, ok)
	}
	for _, bad := range []string{"drive.db", "drive-nottime.snapshot", "other-20240115T103000Z.snapshot"} {
		if _, ok := snapshot.ParseName(bad); ok {
			t.Errorf("ParseName(%q) ok = true, want false", bad)
		}
	}
}

func TestService_BackupStoresInEveryVault(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	info, err := f.svc.Backup(ctx)
	if err != nil {
		t.Fatalf("Backup() error = %v", err)
	}
	if info.Name != "drive-20240115T103000Z.snapshot" {
		t.Errorf("Name = %q", info.Name)
	}

	for _, v := range []*vault.MemoryVault{f.local, f.other} {
		var buf bytes.Buffer
		if err := v.GetSnapshot(ctx, info.Name, &buf); err != nil {
			t.Fatalf("GetSnapshot(%s) error = %v", v.Name(), err)
		}
		if int64(buf.Len()) != info.Size {
			t.Errorf("%s holds %d bytes, want %d", v.Name(), buf.Len(), info.Size)
		}
		if bytes.HasPrefix(buf.Bytes(), []byte("SQLite format 3")) {
			t.Errorf("%s holds an unencrypted database", v.Name())
		}
	}
}

func TestService_BackupRestoreRoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user := &drive.User{Username: "alice", RootName: "alice", QuotaBytes: 1 << 20, CreatedAt: f.clock.Now()}
	if err := f.db.CreateUser(user); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if _, err := f.svc.Backup(ctx); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	dest := filepath.Join(t.TempDir(), "restored", "drive.db")
	info, err := f.svc.Restore(ctx, "offsite", "", "hunter2", dest)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if info.Name != snapshot.Name(f.clock.Now()) {
		t.Errorf("restored %q, want newest snapshot", info.Name)
	}

	restored, err := database.NewSQLiteDatabase(dest)
	if err != nil {
		t.Fatalf("opening restored database: %v", err)
	}
	defer restored.Close()
	got, err := restored.FindUserByUsername("alice")
	if err != nil {
		t.Fatalf("FindUserByUsername() error = %v", err)
	}
	if got == nil || got.QuotaBytes != 1<<20 {
		t.Errorf("restored user = %+v, want alice with 1MiB quota", got)
	}
}

func TestService_RestoreErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Backup(ctx); err != nil {
		t.Fatalf("Backup() error = %v", err)
	}

	t.Run("wrong passphrase", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "drive.db")
		_, err := f.svc.Restore(ctx, "", "", "wrong", dest)
		if !errors.Is(err, encryption.ErrWrongPassphrase) {
			t.Errorf("Restore() error = %v, want ErrWrongPassphrase", err)
		}
		if _, statErr := os.Stat(dest); statErr == nil {
			t.Error("Restore() left a file behind after failing")
		}
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		_, err := f.svc.Restore(ctx, "local", "drive-19990101T000000Z.snapshot", "hunter2", filepath.Join(t.TempDir(), "drive.db"))
		if !errors.Is(err, snapshot.ErrNotFound) {
			t.Errorf("Restore() error = %v, want ErrNotFound", err)
		}
	})

	t.Run("unknown vault", func(t *testing.T) {
		_, err := f.svc.Restore(ctx, "tape", "", "hunter2", filepath.Join(t.TempDir(), "drive.db"))
		if err == nil || !strings.Contains(err.Error(), "unknown vault") {
			t.Errorf("Restore() error = %v, want unknown vault", err)
		}
	})

	t.Run("existing destination", func(t *testing.T) {
		dest := filepath.Join(t.TempDir(), "drive.db")
		if err := os.WriteFile(dest, []byte("live"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := f.svc.Restore(ctx, "", "", "hunter2", dest); err == nil {
			t.Error("Restore() over an existing file should fail")
		}
		data, _ := os.ReadFile(dest)
		if string(data) != "live" {
			t.Errorf("destination was modified: %q", data)
		}
	})
}

func TestService_ListAndPrune(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := f.svc.Backup(ctx); err != nil {
			t.Fatalf("Backup() #%d error = %v", i, err)
		}
		f.clock.Advance(24 * time.Hour)
	}
	// Foreign objects are not snapshots and survive pruning.
	if err := f.local.PutSnapshot(ctx, "README", strings.NewReader("hi"), 2); err != nil {
		t.Fatal(err)
	}

	list, err := f.svc.List(ctx, "local")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 4 {
		t.Fatalf("len(List()) = %d, want 4", len(list))
	}
	if !list[0].CreatedAt.After(list[3].CreatedAt) {
		t.Errorf("List() not newest first: %v", list)
	}

	deleted, err := f.svc.Prune(ctx, 2)
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if deleted != 4 {
		t.Errorf("Prune() deleted %d, want 4 (2 per vault)", deleted)
	}

	list, err = f.svc.List(ctx, "offsite")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].Name != "drive-20240118T103000Z.snapshot" {
		t.Errorf("after Prune() List() = %v", list)
	}
	raw, _ := f.local.ListSnapshots(ctx)
	if len(raw) != 3 {
		t.Errorf("local vault holds %d objects, want 2 snapshots + README", len(raw))
	}

	if _, err := f.svc.Prune(ctx, 0); err == nil {
		t.Error("Prune(0) should return error")
	}
}

func TestService_BackupWithoutVaults(t *testing.T) {
	db := testutil.NewTestDatabase(t)
	svc := snapshot.NewService(db, encryption.PlainEncryptor{}, nil, nil, nil, t.TempDir())
	if _, err := svc.Backup(context.Background()); err == nil {
		t.Error("Backup() with no vaults should return error")
	}
}
