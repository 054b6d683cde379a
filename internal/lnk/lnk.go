// Package lnk decodes Windows shortcut (.lnk) files through the golnk
// structured reader. When the reader fails the decoder falls back to
// filesystem metadata plus a content hash, so a damaged shortcut still
// yields a referenceable record.
package lnk

import (
	"bytes"
	"time"

	"github.com/Velocidex/ordereddict"
	golnk "github.com/parsiya/golnk"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

const extraLimit = 400

// attrs carries the fields pulled out of a parsed shortcut. Zero times
// mean the shortcut did not embed that timestamp.
type attrs struct {
	target      string
	workingDir  string
	description string
	arguments   string
	icon        string
	modified    time.Time
	accessed    time.Time
	created     time.Time
}

// fsTimes carries the caller's stat of the shortcut file. It drives the
// fallback record and backfills timestamps the shortcut does not embed.
type fsTimes struct {
	mtime time.Time
	atime time.Time
	ctime time.Time
}

// Decode parses the shortcut bytes read from path. mtime, atime and
// ctime come from the caller's stat of the file.
func Decode(path string, data []byte, mtime, atime, ctime time.Time) (rec model.ArtifactRecord) {
	// golnk indexes untrusted offsets; treat a panic like a parse failure.
	defer func() {
		if r := recover(); r != nil {
			rec = record.Fallback("lnk", path, mtime, atime, int64(len(data)), data)
		}
	}()

	f, err := golnk.Read(bytes.NewReader(data), uint64(len(data)))
	if err != nil {
		return record.Fallback("lnk", path, mtime, atime, int64(len(data)), data)
	}

	target := f.LinkInfo.LocalBasePath + f.LinkInfo.CommonPathSuffix
	if target == "" {
		target = f.StringData.RelativePath
	}
	return assemble(path, int64(len(data)), fsTimes{mtime, atime, ctime}, attrs{
		target:      target,
		workingDir:  f.StringData.WorkingDir,
		description: f.StringData.NameString,
		arguments:   f.StringData.CommandLineArguments,
		icon:        f.StringData.IconLocation,
		modified:    f.Header.WriteTime,
		accessed:    f.Header.AccessTime,
		created:     f.Header.CreationTime,
	})
}

// assemble builds the canonical record. Each timestamp prefers the
// embedded value and falls back to the filesystem one, so last_access is
// the embedded access time else the file atime.
func assemble(path string, size int64, fs fsTimes, a attrs) model.ArtifactRecord {
	mt := ""
	if validTime(a.modified) {
		mt = timeutil.FormatISO(a.modified)
	}
	at := ""
	if validTime(a.accessed) {
		at = timeutil.FormatISO(a.accessed)
	}
	ct := ""
	if validTime(a.created) {
		ct = timeutil.FormatISO(a.created)
	}
	if mt == "" {
		mt = timeutil.NormalizeTime(fs.mtime)
	}
	if at == "" {
		at = timeutil.NormalizeTime(fs.atime)
	}
	if ct == "" {
		ct = timeutil.NormalizeTime(fs.ctime)
	}

	extra := ordereddict.NewDict().Set("target", a.target)
	if a.workingDir != "" {
		extra.Set("working_dir", a.workingDir)
	}
	if a.description != "" {
		extra.Set("description", a.description)
	}
	if a.arguments != "" {
		extra.Set("arguments", a.arguments)
	}
	if a.icon != "" {
		extra.Set("icon", a.icon)
	}
	extra.Set("size", size).Set("source", "golnk")
	if mt != "" {
		extra.Set("mtime", mt)
	}
	if at != "" {
		extra.Set("atime", at)
	}
	if ct != "" {
		extra.Set("ctime", ct)
	}

	return model.ArtifactRecord{
		ArtifactType: "lnk",
		Name:         record.WinBase(path),
		Path:         path,
		Timestamp:    mt,
		LastAccess:   at,
		Extra:        record.FormatExtra(extra, extraLimit),
	}
}

// validTime filters the 1601-epoch placeholders shortcut headers carry
// for timestamps that were never set.
func validTime(t time.Time) bool {
	return !t.IsZero() && t.Year() > 1601
}
