// Package recyclebin decodes $I deletion metadata files from Windows
// Recycle Bin folders: a fixed 24-byte header followed by the original
// path in UTF-16LE.
package recyclebin

import (
	"encoding/binary"

	"github.com/Velocidex/ordereddict"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

// minSize is the smallest input worth decoding: the 24-byte header plus
// at least a few path characters.
const minSize = 32

// Decode parses a $I file. Inputs shorter than minSize report ok=false,
// a skip rather than an error. The deletion time converts via FILETIME;
// a zero or out-of-range value leaves the timestamp empty.
func Decode(data []byte, path string) (model.ArtifactRecord, bool) {
	if len(data) < minSize {
		return model.ArtifactRecord{}, false
	}
	origSize := binary.LittleEndian.Uint64(data[8:16])
	ticks := binary.LittleEndian.Uint64(data[16:24])
	origPath := record.UTF16LEString(data[24:])

	ts := ""
	if t, ok := timeutil.FiletimeToUTC(ticks); ok {
		ts = timeutil.FormatISO(t)
	}

	extra := ordereddict.NewDict().
		Set("orig_size", origSize).
		Set("orig_path", origPath)
	return model.ArtifactRecord{
		ArtifactType: "recycle_i",
		Name:         record.WinBase(path),
		Path:         path,
		Timestamp:    ts,
		Extra:        record.FormatExtra(extra, record.DefaultExtraLimit),
	}, true
}
