package vault

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"drive-go/internal/snapshot"
)

// MemoryVault keeps snapshots in memory. It is safe for concurrent use.
type MemoryVault struct {
	name      string
	mu        sync.RWMutex
	snapshots map[string][]byte
}

func NewMemoryVault(name string) *MemoryVault {
	return &MemoryVault{
		name:      name,
		snapshots: make(map[string][]byte),
	}
}

func (m *MemoryVault) Name() string { return m.name }

func (m *MemoryVault) PutSnapshot(ctx context.Context, name string, r io.Reader, size int64) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("failed to read snapshot: %w", err)
	}
	if int64(len(data)) != size {
		return sizeMismatch(size, int64(len(data)))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[name] = data
	return nil
}

func (m *MemoryVault) GetSnapshot(ctx context.Context, name string, w io.Writer) error {
	m.mu.RLock()
	data, ok := m.snapshots[name]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%s: %w", name, snapshot.ErrNotFound)
	}
	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

func (m *MemoryVault) ListSnapshots(ctx context.Context) ([]snapshot.Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]snapshot.Info, 0, len(m.snapshots))
	for name, data := range m.snapshots {
		out = append(out, snapshot.Info{Name: name, Size: int64(len(data))})
	}
	return out, nil
}

func (m *MemoryVault) DeleteSnapshot(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.snapshots[name]; !ok {
		return fmt.Errorf("%s: %w", name, snapshot.ErrNotFound)
	}
	delete(m.snapshots, name)
	return nil
}

func (m *MemoryVault) ValidateSetup(ctx context.Context) error {
	return nil
}

var _ snapshot.Vault = (*MemoryVault)(nil)
