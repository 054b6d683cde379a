package prefetch

import (
	"encoding/binary"
	"strings"
	"testing"
	"time"
)

const (
	ticksJan2021 = 132539328000000000 // 2021-01-01T00:00:00Z
	ticksMar2021 = 132590304000000000 // 2021-03-01T00:00:00Z
)

func put16(b []byte, off int, v uint16) { binary.LittleEndian.PutUint16(b[off:], v) }
func put32(b []byte, off int, v uint32) { binary.LittleEndian.PutUint32(b[off:], v) }
func put64(b []byte, off int, v uint64) { binary.LittleEndian.PutUint64(b[off:], v) }

func putUTF16(b []byte, off int, s string) {
	for i := 0; i < len(s); i++ {
		b[off+2*i] = s[i]
	}
}

// buildV23 lays out a complete version 23 file: one metrics entry, two
// 12-byte trace chains, two filename strings, one volume with two
// directory strings.
func buildV23(t *testing.T) []byte {
	t.Helper()
	buf := make([]byte, 344)
	put32(buf, 0, 23)
	copy(buf[4:8], "SCCA")
	putUTF16(buf, 16, "CMD.EXE")
	put32(buf, 76, 0xB13D4A02)

	put32(buf, 84, 160)  // metrics offset
	put32(buf, 88, 1)    // metrics count
	put32(buf, 92, 192)  // trace chains offset
	put32(buf, 96, 2)    // trace chains count
	put32(buf, 100, 216) // filename strings offset
	put32(buf, 104, 24)  // filename strings size
	put32(buf, 108, 240) // volumes offset
	put32(buf, 112, 1)   // volumes count
	put32(buf, 116, 104) // volumes size
	put64(buf, 128, ticksJan2021)
	put32(buf, 152, 7) // run count

	put64(buf, 184, 5|uint64(0xAB)<<48) // MFT reference of first metric

	putUTF16(buf, 216, "A.EXE\x00B.DLL")

	put32(buf, 240, 40) // volume name offset
	put32(buf, 244, 2)  // volume name chars
	put64(buf, 248, ticksJan2021)
	put32(buf, 256, 0x12AB34CD)
	put32(buf, 268, 48) // dir strings offset
	put32(buf, 272, 2)  // dir strings count
	putUTF16(buf, 280, "C:")
	put16(buf, 288, 3)
	putUTF16(buf, 290, "ABC")
	put16(buf, 298, 2)
	putUTF16(buf, 300, "XY")
	return buf
}

func TestParseV23(t *testing.T) {
	info, err := Parse(buildV23(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Version != 23 {
		t.Errorf("expected version 23, got %d", info.Version)
	}
	if info.Executable != "CMD.EXE" {
		t.Errorf("expected executable CMD.EXE, got %q", info.Executable)
	}
	if info.Hash != "b13d4a02" {
		t.Errorf("expected hash b13d4a02, got %q", info.Hash)
	}
	if info.RunCount == nil || *info.RunCount != 7 {
		t.Errorf("expected run count 7, got %v", info.RunCount)
	}
	want := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	if len(info.RunTimes) != 1 || !info.RunTimes[0].Equal(want) {
		t.Errorf("expected one run time %v, got %v", want, info.RunTimes)
	}
	if len(info.Files) != 2 || info.Files[0] != "A.EXE" || info.Files[1] != "B.DLL" {
		t.Errorf("expected [A.EXE B.DLL], got %v", info.Files)
	}
	if len(info.Volumes) != 1 {
		t.Fatalf("expected one volume, got %d", len(info.Volumes))
	}
	vol := info.Volumes[0]
	if vol.Name != "C:" || vol.Serial != "12ab34cd" || !vol.CreationTime.Equal(want) {
		t.Errorf("unexpected volume %+v", vol)
	}
	if len(info.DirStrings) != 1 || len(info.DirStrings[0]) != 2 ||
		info.DirStrings[0][0] != "ABC" || info.DirStrings[0][1] != "XY" {
		t.Errorf("expected directory strings [[ABC XY]], got %v", info.DirStrings)
	}
	if info.MFTEntry != 5 || info.MFTSeq != 0xAB {
		t.Errorf("expected MFT 5/ab, got %d/%x", info.MFTEntry, info.MFTSeq)
	}
	if info.TraceChainStride != 12 {
		t.Errorf("expected trace chain stride 12, got %d", info.TraceChainStride)
	}
}

func TestParseV17(t *testing.T) {
	buf := make([]byte, 200)
	put32(buf, 0, 17)
	putUTF16(buf, 16, "NOTEPAD.EXE")
	put32(buf, 76, 0x1A2B)
	put32(buf, 100, 148) // filename strings offset
	put32(buf, 104, 12)  // filename strings size
	put32(buf, 108, 160) // volumes offset
	put32(buf, 112, 1)   // volumes count
	put32(buf, 116, 40)  // volumes size
	put64(buf, 120, ticksJan2021)
	put32(buf, 144, 3) // run count
	putUTF16(buf, 148, "X.DLL")
	put32(buf, 160, 36) // volume name offset
	put32(buf, 164, 2)
	put32(buf, 176, 0xFF)
	putUTF16(buf, 196, "D:")

	info, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.Version != 17 || info.Executable != "NOTEPAD.EXE" || info.Hash != "1a2b" {
		t.Errorf("unexpected header fields %q %q %d", info.Executable, info.Hash, info.Version)
	}
	if info.RunCount == nil || *info.RunCount != 3 {
		t.Errorf("expected run count 3, got %v", info.RunCount)
	}
	if len(info.Files) != 1 || info.Files[0] != "X.DLL" {
		t.Errorf("expected [X.DLL], got %v", info.Files)
	}
	if len(info.Volumes) != 1 {
		t.Fatalf("expected one volume, got %d", len(info.Volumes))
	}
	vol := info.Volumes[0]
	if vol.Name != "D:" || vol.Serial != "ff" {
		t.Errorf("unexpected volume %+v", vol)
	}
	if !vol.CreationTime.IsZero() {
		t.Errorf("expected absent creation time, got %v", vol.CreationTime)
	}
	if info.MFTEntry != 0 || info.MFTSeq != 0 {
		t.Errorf("expected no MFT probe for version 17, got %d/%d", info.MFTEntry, info.MFTSeq)
	}
	if info.TraceChainStride != 0 {
		t.Errorf("expected no trace chain stride without chains, got %d", info.TraceChainStride)
	}
}

func TestParseV26StrideRetry(t *testing.T) {
	base := 216
	buf := make([]byte, base+200)
	put32(buf, 0, 26)
	putUTF16(buf, 16, "APP.EXE")
	put32(buf, 76, 0xC0DE)
	put32(buf, 108, uint32(base)) // volumes offset
	put32(buf, 112, 2)            // volumes count
	put32(buf, 116, 192)          // volumes size
	put64(buf, 128, ticksJan2021)
	put64(buf, 136, ticksMar2021)
	put64(buf, 144, ticksJan2021) // duplicate slot, must be deduplicated
	put32(buf, 208, 99)           // run count

	// Two 96-byte volume entries. Read with the 104-byte stride the
	// second entry lands inside real data and its name offsets point
	// far outside the buffer, forcing the retry.
	put32(buf, base, 192)
	put32(buf, base+4, 2)
	put64(buf, base+8, ticksJan2021)
	put32(buf, base+16, 0x1)
	put32(buf, base+96, 196)
	put32(buf, base+100, 2)
	put64(buf, base+104, ticksJan2021)
	put32(buf, base+112, 0x2)
	putUTF16(buf, base+192, "C:")
	putUTF16(buf, base+196, "D:")

	info, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.RunCount == nil || *info.RunCount != 99 {
		t.Errorf("expected run count 99, got %v", info.RunCount)
	}
	if len(info.RunTimes) != 2 {
		t.Errorf("expected two distinct run times, got %v", info.RunTimes)
	}
	if len(info.Volumes) != 2 {
		t.Fatalf("expected two volumes via the 96-byte stride, got %d", len(info.Volumes))
	}
	if info.Volumes[0].Name != "C:" || info.Volumes[1].Name != "D:" {
		t.Errorf("expected volumes C: and D:, got %v", info.Volumes)
	}

	rec := info.Record(`C:\Windows\Prefetch\APP.EXE-5D6E8BAF.pf`, time.Time{})
	if rec.Timestamp != "2021-03-01T00:00:00Z" {
		t.Errorf("expected newest run time as primary timestamp, got %q", rec.Timestamp)
	}
}

func TestParseHeaderOnly(t *testing.T) {
	buf := buildV23(t)[:headerSize]
	info, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.RunCount != nil {
		t.Errorf("expected nil run count when sections are unreadable, got %v", *info.RunCount)
	}
	if info.Executable != "CMD.EXE" || info.Hash != "b13d4a02" {
		t.Errorf("expected header fields to survive, got %q %q", info.Executable, info.Hash)
	}

	mtime := time.Date(2022, 2, 2, 8, 0, 0, 0, time.UTC)
	rec := info.Record(`C:\Windows\Prefetch\CMD.EXE-1234.pf`, mtime)
	if rec.Timestamp != "2022-02-02T08:00:00Z" {
		t.Errorf("expected file mtime fallback, got %q", rec.Timestamp)
	}
	want := "source=builtin;pref_hash=b13d4a02;files_count=0;volumes_count=0;exe_path=CMD.EXE"
	if rec.Extra != want {
		t.Errorf("expected %q, got %q", want, rec.Extra)
	}
	if rec.RunCount != nil {
		t.Errorf("expected nil run count column, got %v", *rec.RunCount)
	}
}

func TestParseTruncatedTailKeepsFilenames(t *testing.T) {
	// A version 26 file cut off inside the 64-byte run-time field. The
	// section table survives, so the filename strings must still decode.
	buf := make([]byte, 134)
	put32(buf, 0, 26)
	putUTF16(buf, 16, "APP.EXE")
	put32(buf, 100, 122) // filename strings offset
	put32(buf, 104, 12)  // filename strings size
	putUTF16(buf, 122, "X.DLL")

	info, err := Parse(buf)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if info.RunCount != nil {
		t.Errorf("expected nil run count for truncated tail, got %v", *info.RunCount)
	}
	if len(info.RunTimes) != 0 {
		t.Errorf("expected no run times, got %v", info.RunTimes)
	}
	if len(info.Files) != 1 || info.Files[0] != "X.DLL" {
		t.Errorf("expected filenames to survive truncation, got %v", info.Files)
	}
}

func TestParseTooShort(t *testing.T) {
	if _, err := Parse([]byte("short")); err == nil {
		t.Error("expected error for input shorter than the header")
	}
}

func TestRecordV23(t *testing.T) {
	info, err := Parse(buildV23(t))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	rec := info.Record(`C:\Windows\Prefetch\CMD.EXE-0B3F252E.pf`, time.Time{})
	if rec.ArtifactType != "prefetch" {
		t.Errorf("expected artifact type prefetch, got %q", rec.ArtifactType)
	}
	if rec.Name != "CMD.EXE-0B3F252E.pf" {
		t.Errorf("expected basename, got %q", rec.Name)
	}
	if rec.Timestamp != "2021-01-01T00:00:00Z" {
		t.Errorf("expected run time as primary timestamp, got %q", rec.Timestamp)
	}
	wantExtra := "source=builtin;run_count=7;pref_hash=b13d4a02;files_count=2;volumes_count=1;exe_path=CMD.EXE"
	if rec.Extra != wantExtra {
		t.Errorf("expected %q, got %q", wantExtra, rec.Extra)
	}
	if rec.RunCount == nil || *rec.RunCount != 7 {
		t.Errorf("expected run count column 7, got %v", rec.RunCount)
	}
	for _, fragment := range []string{
		`"version":23`,
		`"run_times":["2021-01-01T00:00:00Z"]`,
		`"files_sample":["A.EXE","B.DLL"]`,
		`"volumes":[{"name":"C:","creation_time":"2021-01-01T00:00:00Z","serial":"12ab34cd"}]`,
	} {
		if !strings.Contains(rec.Details, fragment) {
			t.Errorf("expected details to contain %s, got %s", fragment, rec.Details)
		}
	}
}

func TestDecodeFallback(t *testing.T) {
	mtime := time.Date(2022, 5, 5, 12, 0, 0, 0, time.UTC)
	rec := Decode([]byte("not a prefetch file"), `C:\evidence\BAD.pf`, mtime)
	if rec.ArtifactType != "prefetch" {
		t.Errorf("expected artifact type prefetch, got %q", rec.ArtifactType)
	}
	if !strings.Contains(rec.Extra, "source=fallback_minimal") {
		t.Errorf("expected fallback extra, got %q", rec.Extra)
	}
	if !strings.Contains(rec.Extra, "md5=") {
		t.Errorf("expected content hash in extra, got %q", rec.Extra)
	}
	if rec.Timestamp != "2022-05-05T12:00:00Z" {
		t.Errorf("expected mtime timestamp, got %q", rec.Timestamp)
	}
}

func TestDecodeMAMPassthrough(t *testing.T) {
	data := []byte{'M', 'A', 'M', 0x04, 0, 0, 0, 0}
	rec := Decode(data, "SHORT.pf", time.Time{})
	if !strings.Contains(rec.Extra, "source=fallback_minimal") {
		t.Errorf("expected fallback after failed decompression, got %q", rec.Extra)
	}
}

func TestRunTimesFrom(t *testing.T) {
	buf := make([]byte, 32)
	put64(buf, 0, ticksJan2021)
	put64(buf, 8, 0)
	put64(buf, 16, ^uint64(0)) // past year 9999, dropped
	put64(buf, 24, ticksJan2021)
	got := runTimesFrom(buf)
	if len(got) != 1 {
		t.Errorf("expected a single distinct run time, got %v", got)
	}
}
