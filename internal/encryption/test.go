package encryption

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"drive-go/internal/snapshot"
)

// testMagic marks data sealed by TestEncryptor so sealed output differs from
// the plaintext without any real cryptography.
var testMagic = []byte("DRVSNAP\x00")

// TestEncryptor is a deterministic, reversible Encryptor for tests. Unlock
// only succeeds with the passphrase given to Setup.
type TestEncryptor struct {
	mu         sync.Mutex
	passphrase string
	configured bool
}

var _ snapshot.Encryptor = (*TestEncryptor)(nil)

// NewTestEncryptor returns an encryptor that is already set up with an empty
// passphrase.
func NewTestEncryptor() *TestEncryptor {
	return &TestEncryptor{configured: true}
}

func (e *TestEncryptor) Setup(passphrase string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.passphrase = passphrase
	e.configured = true
	return nil
}

func (e *TestEncryptor) Encrypt(r io.Reader, w io.Writer) error {
	if _, err := w.Write(testMagic); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}

func (e *TestEncryptor) Unlock(passphrase string) (snapshot.DecryptionContext, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if passphrase != e.passphrase {
		return nil, ErrWrongPassphrase
	}
	return testDecryptionContext{}, nil
}

func (e *TestEncryptor) IsConfigured() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.configured
}

type testDecryptionContext struct{}

func (testDecryptionContext) Decrypt(r io.Reader, w io.Writer) error {
	header := make([]byte, len(testMagic))
	if _, err := io.ReadFull(r, header); err != nil {
		return fmt.Errorf("reading header: %w", err)
	}
	if !bytes.Equal(header, testMagic) {
		return fmt.Errorf("not sealed by TestEncryptor")
	}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("copying data: %w", err)
	}
	return nil
}
