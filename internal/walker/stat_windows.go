//go:build windows

package walker

import (
	"os"
	"syscall"
	"time"
)

// Windows has no change time; the creation time fills the ctime slot,
// matching what investigators expect from NTFS metadata.
func fileTimes(info os.FileInfo) (atime, ctime time.Time) {
	st, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok || st == nil {
		return
	}
	atime = time.Unix(0, st.LastAccessTime.Nanoseconds())
	ctime = time.Unix(0, st.CreationTime.Nanoseconds())
	return
}
