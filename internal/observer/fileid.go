package observer

import (
	"os"
	"syscall"
)

// fileIdentity extracts the (device, inode) pair that identifies a
// physical file across renames. ok is false when the platform stat does
// not expose them; rotation detection then degrades to offset checks.
func fileIdentity(fi os.FileInfo) (dev, ino uint64, ok bool) {
	st, ok := fi.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), true
}
