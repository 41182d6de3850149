package encryption

import (
	"fmt"
	"io"

	"drive-go/internal/snapshot"
)

// PlainEncryptor stores snapshots unencrypted. Use it only when the vaults
// are already trusted with plaintext data.
type PlainEncryptor struct{}

var _ snapshot.Encryptor = PlainEncryptor{}

func (PlainEncryptor) Setup(string) error { return nil }

func (PlainEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}

func (PlainEncryptor) Unlock(string) (snapshot.DecryptionContext, error) {
	return plainDecryptionContext{}, nil
}

func (PlainEncryptor) IsConfigured() bool { return true }

type plainDecryptionContext struct{}

func (plainDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying snapshot: %w", err)
	}
	return nil
}
