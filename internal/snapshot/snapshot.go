// Package snapshot produces encrypted copies of the metadata database and
// ships them to one or more vaults.
package snapshot

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrNotFound is returned by vaults when a snapshot does not exist.
var ErrNotFound = errors.New("snapshot not found")

const (
	namePrefix = "drive-"
	nameSuffix = ".snapshot"
	timeLayout = "20060102T150405Z"
)

// Info describes a stored snapshot.
type Info struct {
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// Vault is an off-host store for snapshot files.
type Vault interface {
	Name() string

	// PutSnapshot stores size bytes from r under name, replacing any
	// previous snapshot of that name.
	PutSnapshot(ctx context.Context, name string, r io.Reader, size int64) error

	// GetSnapshot writes the named snapshot to w. Returns ErrNotFound
	// (wrapped) when it does not exist.
	GetSnapshot(ctx context.Context, name string, w io.Writer) error

	// ListSnapshots returns every stored snapshot, in no particular order.
	ListSnapshots(ctx context.Context) ([]Info, error)

	DeleteSnapshot(ctx context.Context, name string) error

	// ValidateSetup checks that the vault is reachable and writable.
	ValidateSetup(ctx context.Context) error
}

// Encryptor encrypts snapshots for storage in vaults.
// Encryption only needs the public key; decryption requires unlocking the
// private key with a passphrase.
type Encryptor interface {
	// Setup generates a new key pair protected by passphrase.
	Setup(passphrase string) error

	Encrypt(r io.Reader, w io.Writer) error

	// Unlock decrypts the private key and returns a context that can
	// decrypt snapshots.
	Unlock(passphrase string) (DecryptionContext, error)

	// IsConfigured reports whether keys exist.
	IsConfigured() bool
}

// DecryptionContext holds an unlocked private key.
type DecryptionContext interface {
	Decrypt(r io.Reader, w io.Writer) error
}

// Source writes a consistent copy of the data being snapshotted.
// drive.Database satisfies it.
type Source interface {
	BackupTo(destPath string) error
}

// Name returns the snapshot file name for a snapshot taken at t.
func Name(t time.Time) string {
	return namePrefix + t.UTC().Format(timeLayout) + nameSuffix
}

// ParseName extracts the creation time from a snapshot name. ok is false for
// names that were not produced by Name.
func ParseName(name string) (t time.Time, ok bool) {
	if !strings.HasPrefix(name, namePrefix) || !strings.HasSuffix(name, nameSuffix) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, namePrefix), nameSuffix)
	t, err := time.Parse(timeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
