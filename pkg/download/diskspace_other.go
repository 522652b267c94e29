//go:build !linux && !darwin && !freebsd && !openbsd && !dragonfly && !windows

package download

import "math"

// FreeDiskSpace has no implementation on this platform and reports
// unlimited space, which disables the pre-flight check.
func FreeDiskSpace(string) (uint64, error) {
	return math.MaxUint64, nil
}
