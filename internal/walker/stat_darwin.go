//go:build darwin

package walker

import (
	"os"
	"syscall"
	"time"
)

func fileTimes(info os.FileInfo) (atime, ctime time.Time) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok || st == nil {
		return
	}
	atime = time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec)
	ctime = time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec)
	return
}
