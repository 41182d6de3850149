package drive

import "time"

// Database provides an interface for metadata storage operations.
// Finders return (nil, nil) when the record does not exist.
type Database interface {
	// User operations

	FindUserByID(id int64) (*User, error)
	FindUserByUsername(username string) (*User, error)

	// FindUserByRootName returns the user whose namespace lives at users/{rootName}.
	FindUserByRootName(rootName string) (*User, error)

	// CreateUser inserts the user and sets its ID.
	CreateUser(user *User) error

	// TouchUserLogin records a successful login and refreshes the profile fields.
	TouchUserLogin(id int64, at time.Time, displayName, email string) error

	ListUsers() ([]*User, error)

	// AddUsedBytes atomically applies used_bytes = max(0, used_bytes + delta)
	// and returns the new value.
	AddUsedBytes(id int64, delta int64) (int64, error)

	SetUsedBytes(id int64, used int64) error
	SetQuotaBytes(id int64, quota int64) error

	// Star operations

	FindStar(userID int64, path string) (*Star, error)
	CreateStar(star *Star) error
	DeleteStar(userID int64, path string) error
	ListStars(userID int64) ([]*Star, error)

	// Recent operations

	// UpsertRecent inserts or refreshes the (user, path) access entry.
	UpsertRecent(recent *Recent) error

	// PruneRecents keeps only the keep most recent entries for the user.
	PruneRecents(userID int64, keep int) error

	ListRecents(userID int64, limit int) ([]*Recent, error)
	DeleteRecent(userID int64, path string) error

	// Path bookkeeping

	// DeleteActivityUnder removes every star and recent (for all users) that
	// points at path or one of its descendants.
	DeleteActivityUnder(path string) error

	// RewriteActivityPaths re-points stars and recents at oldPath (and below)
	// to newPath.
	RewriteActivityPaths(oldPath, newPath string) error

	// RewriteSharePaths re-points the owner's shares at oldPath (and below)
	// to newPath. Paths are relative to the owner's root. An empty newPath
	// deletes them.
	RewriteSharePaths(ownerID int64, oldPath, newPath string) error

	// Share operations

	// UpsertShare inserts a share or, when one exists for the same
	// (owner, grantee, path), updates its level and expiry. The share's ID is
	// set in both cases; created reports which one happened.
	UpsertShare(share *Share) (created bool, err error)

	FindShareByID(id int64) (*Share, error)

	// ListSharesForGrantee returns all incoming shares, expired ones included.
	ListSharesForGrantee(granteeID int64) ([]*Share, error)

	ListSharesByOwner(ownerID int64) ([]*Share, error)
	UpdateShare(share *Share) error
	DeleteShare(id int64) error

	// Notification operations

	CreateNotification(n *Notification) error
	ListNotifications(userID int64, limit int) ([]*Notification, error)
	MarkNotificationRead(userID int64, id string, at time.Time) error

	// Lifecycle

	// CheckMigrations verifies the schema is at the latest version.
	CheckMigrations() error

	// BackupTo writes a consistent copy of the database to destPath.
	BackupTo(destPath string) error

	Close() error
}
