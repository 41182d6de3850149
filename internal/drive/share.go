package drive

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// SharedRootLink is the link attached to share notifications.
const SharedRootLink = "SHARED_ROOT"

// ShareGrantIndex records owner to grantee grants and answers access checks.
type ShareGrantIndex struct {
	database Database
	fs       afero.Fs
	notifier Notifier
	clock    Clock
	idgen    IDGenerator
	logger   Logger
}

// NewShareGrantIndex creates a ShareGrantIndex.
func NewShareGrantIndex(database Database, fsys afero.Fs, notifier Notifier, clock Clock, idgen IDGenerator, logger Logger) *ShareGrantIndex {
	return &ShareGrantIndex{
		database: database,
		fs:       fsys,
		notifier: notifier,
		clock:    clock,
		idgen:    idgen,
		logger:   logger,
	}
}

// HasAccess reports whether principal may use abs at the required level.
// Paths under the principal's own root are always allowed. Otherwise every
// active incoming share is considered; overlapping shares with different
// levels do not hide each other.
func (s *ShareGrantIndex) HasAccess(principal *User, abs string, required AccessLevel) (bool, error) {
	if isWithin(abs, UserRoot(principal)) {
		return true, nil
	}
	shares, err := s.database.ListSharesForGrantee(principal.ID)
	if err != nil {
		return false, fmt.Errorf("listing shares for %s: %w", principal.Username, err)
	}
	now := s.clock.Now()
	for _, sh := range shares {
		if !sh.Active(now) || !sh.Level.Satisfies(required) {
			continue
		}
		if isWithin(abs, sharedRoot(sh)) {
			return true, nil
		}
	}
	return false, nil
}

// sharedRoot is the absolute path a share points at.
func sharedRoot(sh *Share) string {
	root := UserRoot(&User{ID: sh.OwnerID, Username: sh.OwnerUsername, RootName: sh.OwnerRootName})
	if p := strings.Trim(sh.Path, "/"); p != "" {
		return root + "/" + p
	}
	return root
}

// SharedRoot returns the absolute path a share grants access to.
func SharedRoot(sh *Share) string { return sharedRoot(sh) }

// Grant shares path (relative to the owner's root) with the grantee. An
// existing share for the same (owner, grantee, path) is updated instead of
// duplicated. The grantee is notified when a new share is created.
func (s *ShareGrantIndex) Grant(owner *User, granteeID int64, path string, level AccessLevel, expiresAt *time.Time) (*Share, error) {
	if granteeID == owner.ID {
		return nil, fmt.Errorf("%w: cannot share with yourself", ErrInvalidRequest)
	}
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalidRequest, level)
	}
	now := s.clock.Now()
	if expiresAt != nil && !expiresAt.After(now) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrInvalidRequest)
	}

	rel, err := CleanRelative(path)
	if err != nil {
		return nil, err
	}
	if rel == "" || isWithin(rel, TrashDirName) {
		return nil, fmt.Errorf("%w: %q cannot be shared", ErrInvalidPath, path)
	}
	abs := UserRoot(owner) + "/" + rel
	if _, err := s.fs.Stat(volumePath(abs)); err != nil {
		return nil, ioFailure("share", rel, err)
	}

	grantee, err := s.database.FindUserByID(granteeID)
	if err != nil {
		return nil, fmt.Errorf("loading grantee: %w", err)
	}
	if grantee == nil {
		return nil, fmt.Errorf("grantee %d: %w", granteeID, ErrNotFound)
	}

	share := &Share{
		OwnerID:   owner.ID,
		GranteeID: grantee.ID,
		Path:      rel,
		Level:     level,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	created, err := s.database.UpsertShare(share)
	if err != nil {
		return nil, fmt.Errorf("storing share: %w", err)
	}
	share.OwnerUsername = owner.Username
	share.OwnerRootName = owner.RootName
	share.GranteeUsername = grantee.Username

	if created {
		s.logger.Info("share created", "owner", owner.Username, "grantee", grantee.Username, "path", rel, "level", level)
		s.notifier.Notify(Notification{
			ID:        s.idgen.New(),
			UserID:    grantee.ID,
			Title:     "New file shared",
			Message:   fmt.Sprintf("%s shared %q with you.", displayName(owner), baseName(rel)),
			Type:      "share",
			Link:      SharedRootLink,
			CreatedAt: now,
		})
	}
	return share, nil
}

// Update changes the level and expiry of a share. Only the owner may update.
func (s *ShareGrantIndex) Update(owner *User, shareID int64, level AccessLevel, expiresAt *time.Time) (*Share, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: unknown access level %q", ErrInvalidRequest, level)
	}
	share, err := s.find(shareID)
	if err != nil {
		return nil, err
	}
	if share.OwnerID != owner.ID {
		return nil, fmt.Errorf("updating share %d: %w", shareID, ErrAccessDenied)
	}
	share.Level = level
	share.ExpiresAt = expiresAt
	share.UpdatedAt = s.clock.Now()
	if err := s.database.UpdateShare(share); err != nil {
		return nil, fmt.Errorf("updating share: %w", err)
	}
	return share, nil
}

// Revoke deletes a share. The owner and the grantee may both do this.
func (s *ShareGrantIndex) Revoke(actor *User, shareID int64) error {
	share, err := s.find(shareID)
	if err != nil {
		return err
	}
	if share.OwnerID != actor.ID && share.GranteeID != actor.ID {
		return fmt.Errorf("revoking share %d: %w", shareID, ErrAccessDenied)
	}
	if err := s.database.DeleteShare(shareID); err != nil {
		return fmt.Errorf("deleting share: %w", err)
	}
	return nil
}

// SharedWith returns the active shares granted to u.
func (s *ShareGrantIndex) SharedWith(u *User) ([]*Share, error) {
	shares, err := s.database.ListSharesForGrantee(u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing incoming shares: %w", err)
	}
	now := s.clock.Now()
	active := make([]*Share, 0, len(shares))
	for _, sh := range shares {
		if sh.Active(now) {
			active = append(active, sh)
		}
	}
	return active, nil
}

// SharedBy returns every share u created, expired ones included.
func (s *ShareGrantIndex) SharedBy(u *User) ([]*Share, error) {
	shares, err := s.database.ListSharesByOwner(u.ID)
	if err != nil {
		return nil, fmt.Errorf("listing outgoing shares: %w", err)
	}
	return shares, nil
}

func (s *ShareGrantIndex) find(id int64) (*Share, error) {
	share, err := s.database.FindShareByID(id)
	if err != nil {
		return nil, fmt.Errorf("loading share %d: %w", id, err)
	}
	if share == nil {
		return nil, fmt.Errorf("share %d: %w", id, ErrNotFound)
	}
	return share, nil
}

func displayName(u *User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
