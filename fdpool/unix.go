//go:build linux

package fdpool

import "golang.org/x/sys/unix"

// isSocketFD fstats fd and reports whether it names a socket, mirroring
// FdCtx::init()'s S_ISSOCK(fd_stat.st_mode) check.
func isSocketFD(fd int) bool {
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFSOCK
}
