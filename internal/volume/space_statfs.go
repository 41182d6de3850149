//go:build linux || darwin

package volume

import (
	"fmt"
	"syscall"
)

// Space returns the free and total bytes of the filesystem holding the root.
func (v *Volume) Space() (free, total uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(v.root, &st); err != nil {
		return 0, 0, fmt.Errorf("statfs %s: %w", v.root, err)
	}
	bsize := uint64(st.Bsize)
	return st.Bavail * bsize, st.Blocks * bsize, nil
}
