//go:build linux

package walker

import (
	"os"
	"syscall"
	"time"
)

// fileTimes pulls access and change times out of the platform stat data.
// Filesystems that do not expose it (afero's memory FS) yield zero times.
func fileTimes(info os.FileInfo) (atime, ctime time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return
	}
	atime = time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec))
	ctime = time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))
	return
}
