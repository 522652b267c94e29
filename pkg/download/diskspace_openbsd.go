package download

import "golang.org/x/sys/unix"

// FreeDiskSpace returns the bytes available to unprivileged users on the
// filesystem holding path.
func FreeDiskSpace(path string) (uint64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return 0, err
	}
	if st.F_bavail < 0 {
		return 0, nil
	}
	return uint64(st.F_bavail) * uint64(st.F_bsize), nil
}
