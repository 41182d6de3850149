package testutil

import (
	"context"
	"testing"

	"github.com/spf13/afero"

	"drive-go/internal/cache"
	"drive-go/internal/database"
	"drive-go/internal/drive"
)

// EngineHarness bundles an engine with the collaborators tests inspect.
type EngineHarness struct {
	Engine   *drive.Engine
	DB       *database.SQLiteDatabase
	Volume   afero.Fs
	Clock    *StubClock
	IDs      *StubIDGenerator
	Notifier *RecordingNotifier
	Cache    *cache.MemoryCache
}

// NewTestEngine builds an engine over an in-memory database, a temp dir
// volume and an in-memory listing cache.
func NewTestEngine(t *testing.T, settings drive.Settings) *EngineHarness {
	t.Helper()
	return NewTestEngineWithVolume(t, settings, nil)
}

// NewTestEngineWithVolume is NewTestEngine with the temp dir volume passed
// through wrap, for tests that need to intercept filesystem calls.
func NewTestEngineWithVolume(t *testing.T, settings drive.Settings, wrap func(afero.Fs) afero.Fs) *EngineHarness {
	t.Helper()

	volume := NewTestVolume(t)
	if wrap != nil {
		volume = wrap(volume)
	}
	h := &EngineHarness{
		DB:       NewTestDatabase(t),
		Volume:   volume,
		Clock:    FixedClock(),
		IDs:      NewStubIDGenerator(),
		Notifier: NewRecordingNotifier(),
		Cache:    cache.NewMemoryCache(1000),
	}
	h.Engine = drive.NewEngine(drive.Dependencies{
		Database: h.DB,
		Volume:   h.Volume,
		Cache:    h.Cache,
		Notifier: h.Notifier,
		Clock:    h.Clock,
		IDs:      h.IDs,
	}, settings)
	return h
}

// User creates (or logs in) username with the given quota.
func (h *EngineHarness) User(t *testing.T, username string, quota int64) *drive.User {
	t.Helper()

	u, err := h.Engine.EnsureUser(context.Background(), drive.Identity{Username: username})
	if err != nil {
		t.Fatalf("EnsureUser(%s) error = %v", username, err)
	}
	if err := h.DB.SetQuotaBytes(u.ID, quota); err != nil {
		t.Fatalf("SetQuotaBytes(%s) error = %v", username, err)
	}
	u.QuotaBytes = quota
	return u
}

// Used returns the persisted used_bytes of u.
func (h *EngineHarness) Used(t *testing.T, u *drive.User) int64 {
	t.Helper()

	fresh, err := h.DB.FindUserByID(u.ID)
	if err != nil || fresh == nil {
		t.Fatalf("FindUserByID(%d) = %v, %v", u.ID, fresh, err)
	}
	return fresh.UsedBytes
}

// Path maps a path relative to u's root onto the volume.
func (h *EngineHarness) Path(u *drive.User, rel string) string {
	if rel == "" {
		return "/" + drive.UserRoot(u)
	}
	return "/" + drive.UserRoot(u) + "/" + rel
}
