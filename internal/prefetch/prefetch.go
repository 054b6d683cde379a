// Package prefetch decodes Windows Prefetch (.pf) files across format
// versions 17, 23 and 26, with an opportunistic fallback for newer
// layouts. MAM-compressed containers are decompressed transparently; a
// failed decompression falls through to parsing the raw bytes.
package prefetch

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/Velocidex/ordereddict"
	prefetchlib "www.velocidex.com/golang/go-prefetch"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

const (
	headerSize     = 84
	maxFilesSample = 200
	extraLimit     = 600
)

// Volume describes one volume-information entry. A zero CreationTime
// means the entry carried no timestamp.
type Volume struct {
	Name         string
	CreationTime time.Time
	Serial       string
}

// Info is the decoded content of one prefetch file. Offsets that could
// not be resolved leave their fields at zero values; a nil RunCount means
// the section layout could not be parsed at all.
type Info struct {
	Version    uint32
	Executable string
	Hash       string
	RunCount   *int64
	RunTimes   []time.Time
	Files      []string
	Volumes    []Volume
	DirStrings [][]string

	// MFT reference of the first file metric, version 23 and newer.
	MFTEntry uint64
	MFTSeq   uint16

	// Trace-chain entry width inferred from the section offsets,
	// 0 when neither known width lines up.
	TraceChainStride int
}

type sections struct {
	metricsOffset         uint32
	metricsCount          uint32
	traceChainsOffset     uint32
	traceChainsCount      uint32
	filenameStringsOffset uint32
	filenameStringsSize   uint32
	volumesOffset         uint32
	volumesCount          uint32
	volumesSize           uint32

	// Tail fields, nil/absent when the file ends inside the
	// version-specific layout.
	lastRun  []byte
	runCount *int64
}

// reader walks a byte buffer sequentially with a sticky error so a chain
// of reads degrades into a single bounds check.
type reader struct {
	data []byte
	off  int
	err  error
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if r.off+n > len(r.data) {
		r.err = fmt.Errorf("read of %d bytes at offset %d past end (%d bytes)", n, r.off, len(r.data))
		return nil
	}
	b := r.data[r.off : r.off+n]
	r.off += n
	return b
}

func (r *reader) skip(n int) {
	r.take(n)
}

func (r *reader) u32() uint32 {
	b := r.take(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

// Decode parses data into an ArtifactRecord. An unreadable header
// degrades to the minimal fallback record; everything past the header
// degrades field by field instead of failing the file.
func Decode(data []byte, path string, mtime time.Time) model.ArtifactRecord {
	info, err := Parse(data)
	if err != nil {
		return record.Fallback("prefetch", path, mtime, time.Time{}, int64(len(data)), data)
	}
	return info.Record(path, mtime)
}

// Parse decodes data into an Info. It errors only when the fixed header
// cannot be read; section-level damage yields a partially filled Info.
func Parse(data []byte) (*Info, error) {
	data = maybeDecompress(data)
	if len(data) < headerSize {
		return nil, fmt.Errorf("parse header: file too short (%d bytes)", len(data))
	}

	info := &Info{
		Version:    binary.LittleEndian.Uint32(data[0:4]),
		Executable: record.UTF16LEString(data[16:76]),
		Hash:       strconv.FormatUint(uint64(binary.LittleEndian.Uint32(data[76:80])), 16),
	}

	sec, err := parseSections(data, info.Version)
	if err != nil {
		return info, nil
	}
	info.RunCount = sec.runCount
	info.RunTimes = runTimesFrom(sec.lastRun)
	info.TraceChainStride = traceChainStride(sec, info.Version)

	for _, stride := range volumeStrides(info.Version) {
		vols, dirs, err := parseVolumes(data, int(sec.volumesOffset), int(sec.volumesCount), stride)
		if err == nil {
			info.Volumes = vols
			info.DirStrings = dirs
			break
		}
	}

	if info.Version != 17 {
		if entry, seq, ok := probeMetrics(data, int(sec.metricsOffset)); ok {
			info.MFTEntry = entry
			info.MFTSeq = seq
		}
	}

	// The filename-strings block is located independently, so it is
	// extracted even when volumes or metrics could not be.
	info.Files = parseFilenames(data, int(sec.filenameStringsOffset), int(sec.filenameStringsSize))
	return info, nil
}

// maybeDecompress unwraps a MAM compression container. Any failure
// returns the original bytes untouched.
func maybeDecompress(data []byte) []byte {
	if len(data) < 8 || string(data[0:3]) != "MAM" {
		return data
	}
	size := binary.LittleEndian.Uint32(data[4:8])
	decompressed, err := prefetchlib.LZXpressHuffmanDecompressWithFallback(data[8:], int(size))
	if err != nil || len(decompressed) == 0 {
		return data
	}
	return decompressed
}

// parseSections reads the fixed section table and the version-specific
// tail. The section offsets error when unreadable, but a file truncated
// inside the tail keeps its table: the filename-strings offset is still
// valid even when no run time or run count survived.
func parseSections(data []byte, version uint32) (*sections, error) {
	r := &reader{data: data, off: headerSize}
	sec := &sections{
		metricsOffset:         r.u32(),
		metricsCount:          r.u32(),
		traceChainsOffset:     r.u32(),
		traceChainsCount:      r.u32(),
		filenameStringsOffset: r.u32(),
		filenameStringsSize:   r.u32(),
		volumesOffset:         r.u32(),
		volumesCount:          r.u32(),
		volumesSize:           r.u32(),
	}
	if r.err != nil {
		return nil, r.err
	}
	switch version {
	case 17:
		sec.lastRun = r.take(8)
	case 23:
		r.skip(8)
		sec.lastRun = r.take(8)
	default:
		// Version 26 and the 30+ layouts carry eight run-time slots.
		r.skip(8)
		sec.lastRun = r.take(64)
	}
	r.skip(16)
	if count := r.u32(); r.err == nil {
		rc := int64(count)
		sec.runCount = &rc
	}
	return sec, nil
}

func volumeStrides(version uint32) []int {
	switch version {
	case 17:
		return []int{40}
	case 23:
		return []int{104}
	case 26:
		return []int{104, 96}
	default:
		return []int{96, 104}
	}
}

// runTimesFrom extracts every distinct non-zero FILETIME from the
// last-run field, one candidate per 8-byte group.
func runTimesFrom(lastRun []byte) []time.Time {
	var out []time.Time
	for i := 0; i+8 <= len(lastRun); i += 8 {
		ticks := binary.LittleEndian.Uint64(lastRun[i : i+8])
		if ticks == 0 {
			continue
		}
		t, ok := timeutil.FiletimeToUTC(ticks)
		if !ok {
			continue
		}
		seen := false
		for _, prev := range out {
			if prev.Equal(t) {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, t)
		}
	}
	return out
}

// parseVolumes decodes count volume entries laid out with the given
// stride. A truncated tail keeps the entries read so far; an entry whose
// name offsets point outside the buffer means the stride does not match
// this layout and the whole attempt fails so the caller can retry.
func parseVolumes(data []byte, base, count, stride int) ([]Volume, [][]string, error) {
	if count == 0 {
		return nil, nil, nil
	}
	if base <= 0 || base+36 > len(data) {
		return nil, nil, fmt.Errorf("volume information at offset %d out of range", base)
	}
	var vols []Volume
	var dirs [][]string
	for i := 0; i < count; i++ {
		off := base + i*stride
		if off+36 > len(data) {
			break
		}
		volPathOffset := int(binary.LittleEndian.Uint32(data[off : off+4]))
		volPathLength := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		creation := binary.LittleEndian.Uint64(data[off+8 : off+16])
		serial := binary.LittleEndian.Uint32(data[off+16 : off+20])
		dirStringsOffset := int(binary.LittleEndian.Uint32(data[off+28 : off+32]))
		dirStringsCount := int(binary.LittleEndian.Uint32(data[off+32 : off+36]))

		var name string
		if volPathLength > 0 {
			nameOff := base + volPathOffset
			nameEnd := nameOff + volPathLength*2
			if volPathOffset <= 0 || nameEnd > len(data) {
				return nil, nil, fmt.Errorf("volume %d name at offset %d out of range, stride %d mismatch", i, volPathOffset, stride)
			}
			name = record.UTF16LEString(data[nameOff:nameEnd])
		}

		vol := Volume{Name: name, Serial: strconv.FormatUint(uint64(serial), 16)}
		if t, ok := timeutil.FiletimeToUTC(creation); ok {
			vol.CreationTime = t
		}
		vols = append(vols, vol)
		dirs = append(dirs, parseDirStrings(data, base+dirStringsOffset, dirStringsCount))
	}
	if len(vols) == 0 {
		return nil, nil, fmt.Errorf("no volume entries decoded at offset %d", base)
	}
	return vols, dirs, nil
}

// parseDirStrings reads count length-prefixed UTF-16LE directory strings:
// a 2-byte character count followed by that many characters and a NUL.
func parseDirStrings(data []byte, off, count int) []string {
	var out []string
	for i := 0; i < count; i++ {
		if off < 0 || off+2 > len(data) {
			break
		}
		words := int(binary.LittleEndian.Uint16(data[off : off+2]))
		off += 2
		end := off + words*2 + 2
		if end > len(data) {
			end = len(data)
		}
		out = append(out, record.UTF16LEString(data[off:end]))
		off += words*2 + 2
	}
	return out
}

func parseFilenames(data []byte, off, size int) []string {
	if off <= 0 || size <= 0 || off >= len(data) {
		return nil
	}
	end := off + size
	if end > len(data) {
		end = len(data)
	}
	return record.UTF16LEStrings(data[off:end])
}

// probeMetrics reads the MFT file reference from the first metrics entry
// (32 bytes in version 23 and newer): low 48 bits entry number, high 16
// bits sequence number.
func probeMetrics(data []byte, off int) (entry uint64, seq uint16, ok bool) {
	if off <= 0 || off+32 > len(data) {
		return 0, 0, false
	}
	ref := binary.LittleEndian.Uint64(data[off+24 : off+32])
	return ref & 0xFFFFFFFFFFFF, uint16(ref >> 48), true
}

// traceChainStride infers the trace-chain entry width from the section
// arithmetic: the chains must end exactly where the filename strings
// begin. Versions up to 26 use 12-byte entries, 30+ uses 8.
func traceChainStride(sec *sections, version uint32) int {
	strides := []int{12, 8}
	switch version {
	case 17, 23, 26:
	default:
		strides = []int{8, 12}
	}
	if sec.traceChainsCount == 0 {
		return 0
	}
	for _, s := range strides {
		end := uint64(sec.traceChainsOffset) + uint64(s)*uint64(sec.traceChainsCount)
		if end == uint64(sec.filenameStringsOffset) {
			return s
		}
	}
	return 0
}

// Record folds the Info into the canonical artifact shape. The primary
// timestamp is the newest run time, else the file mtime.
func (info *Info) Record(path string, mtime time.Time) model.ArtifactRecord {
	var ts time.Time
	for _, rt := range info.RunTimes {
		if rt.After(ts) {
			ts = rt
		}
	}
	if ts.IsZero() {
		ts = mtime
	}

	extra := ordereddict.NewDict().Set("source", "builtin")
	if info.RunCount != nil {
		extra.Set("run_count", *info.RunCount)
	}
	extra.Set("pref_hash", info.Hash).
		Set("files_count", len(info.Files)).
		Set("volumes_count", len(info.Volumes)).
		Set("exe_path", info.Executable)

	runTimes := make([]string, 0, len(info.RunTimes))
	for _, rt := range info.RunTimes {
		runTimes = append(runTimes, timeutil.FormatISO(rt))
	}
	sample := info.Files
	if len(sample) > maxFilesSample {
		sample = sample[:maxFilesSample]
	}
	if sample == nil {
		sample = []string{}
	}
	volumes := make([]interface{}, 0, len(info.Volumes))
	for _, v := range info.Volumes {
		vol := ordereddict.NewDict().Set("name", v.Name)
		if v.CreationTime.IsZero() {
			vol.Set("creation_time", nil)
		} else {
			vol.Set("creation_time", timeutil.FormatISO(v.CreationTime))
		}
		vol.Set("serial", v.Serial)
		volumes = append(volumes, vol)
	}
	details := ordereddict.NewDict().
		Set("version", info.Version).
		Set("exe", info.Executable).
		Set("pref_hash", info.Hash).
		Set("run_count", info.RunCount).
		Set("run_times", runTimes).
		Set("files_count", len(info.Files)).
		Set("files_sample", sample).
		Set("volumes_count", len(info.Volumes)).
		Set("volumes", volumes)

	return model.ArtifactRecord{
		ArtifactType: "prefetch",
		Name:         record.WinBase(path),
		Path:         path,
		Timestamp:    timeutil.NormalizeTime(ts),
		RunCount:     info.RunCount,
		Extra:        record.FormatExtra(extra, extraLimit),
		Details:      record.DetailsJSON(details),
	}
}
