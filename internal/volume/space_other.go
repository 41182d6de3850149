//go:build !linux && !darwin

package volume

import "errors"

// Space is not available on this platform.
func (v *Volume) Space() (free, total uint64, err error) {
	return 0, 0, errors.New("free space reporting is not supported on this platform")
}
