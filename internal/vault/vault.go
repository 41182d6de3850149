// Package vault holds the snapshot vault backends.
package vault

import (
	"fmt"
	"io"
	"strings"
)

// checkName rejects names that could escape the vault's namespace.
func checkName(name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, "/\\") {
		return fmt.Errorf("invalid snapshot name %q", name)
	}
	return nil
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func sizeMismatch(expected, got int64) error {
	return fmt.Errorf("size mismatch: expected %d bytes, got %d", expected, got)
}
