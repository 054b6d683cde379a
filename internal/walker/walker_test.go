package walker

import (
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf16"

	"github.com/spf13/afero"

	"github.com/wabproject/wab/internal/model"
)

func utf16Bytes(s string) []byte {
	units := utf16.Encode([]rune(s))
	buf := make([]byte, 0, len(units)*2)
	for _, u := range units {
		buf = binary.LittleEndian.AppendUint16(buf, u)
	}
	return buf
}

// iFileData builds a valid $I deletion record for origPath.
func iFileData(origPath string) []byte {
	buf := make([]byte, 24)
	binary.LittleEndian.PutUint64(buf[0:8], 2)
	binary.LittleEndian.PutUint64(buf[8:16], 2048)
	binary.LittleEndian.PutUint64(buf[16:24], 132676578000000000)
	return append(buf, utf16Bytes(origPath+"\x00")...)
}

func testFS(t *testing.T) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	files := map[string][]byte{
		"/evidence/docs/report.txt":                      []byte("nothing to see"),
		"/evidence/shortcuts/app.lnk":                    []byte("not really a shortcut"),
		"/evidence/Windows/Prefetch/CMD.EXE-1A2B3C4D.pf": []byte("xx"),
		"/evidence/$RECYCLE.BIN/S-1-5-21/$I7ABC.doc":     iFileData(`C:\secret\evil.doc`),
		"/evidence/$RECYCLE.BIN/S-1-5-21/$Itiny.txt":     []byte("short"),
	}
	for path, data := range files {
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return fs
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		dir      string
		fileName string
		want     Kind
	}{
		{"pf anywhere", "/exports/pf", "APP.EXE-1A2B3C4D.pf", KindPrefetch},
		{"any file under prefetch dir", `C:\Windows\Prefetch`, "Layout.ini", KindPrefetch},
		{"lnk", "/home/bob", "Run Me.LNK", KindLnk},
		{"lnk under recycle dir", `C:\$Recycle.Bin\S-1-5-21`, "install.lnk", KindLnk},
		{"dollar-i under recycle dir", `C:\$Recycle.Bin\S-1-5-21-1004`, "$IX9Y8Z7.pdf", KindRecycleBin},
		{"legacy info2", `D:\recycle.bin`, "INFO2", KindRecycleBin},
		{"dollar-i outside recycle dir", "/tmp", "$I123.doc", KindSkip},
		{"plain file", "/evidence/docs", "report.txt", KindSkip},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.dir, tt.fileName); got != tt.want {
				t.Errorf("Classify(%q, %q): expected %v, got %v", tt.dir, tt.fileName, tt.want, got)
			}
		})
	}
}

func TestWalkDecodesMixedTree(t *testing.T) {
	w := New(testFS(t), 2)

	records, err := w.Walk(context.Background(), "/evidence")
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(records))
	}

	byType := make(map[string]*model.ArtifactRecord)
	for _, rec := range records {
		byType[rec.ArtifactType] = rec
	}

	pf, ok := byType["prefetch"]
	if !ok {
		t.Fatal("expected a prefetch record")
	}
	if !strings.Contains(pf.Extra, "source=fallback_minimal") {
		t.Errorf("expected garbage prefetch to fall back, got extra %q", pf.Extra)
	}

	shortcut, ok := byType["lnk"]
	if !ok {
		t.Fatal("expected a lnk record")
	}
	if shortcut.Name != "app.lnk" {
		t.Errorf("expected lnk name 'app.lnk', got %q", shortcut.Name)
	}

	deleted, ok := byType["recycle_i"]
	if !ok {
		t.Fatal("expected a recycle_i record")
	}
	if deleted.Name != "$I7ABC.doc" {
		t.Errorf("expected recycle name '$I7ABC.doc', got %q", deleted.Name)
	}
	if !strings.Contains(deleted.Extra, `orig_path=C:\secret\evil.doc`) {
		t.Errorf("expected original path in extra, got %q", deleted.Extra)
	}
}

func TestWalkLnkCarriesFileAccessTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.lnk")
	if err := os.WriteFile(path, []byte("not a shortcut"), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat failed: %v", err)
	}
	if atime, _ := fileTimes(info); atime.IsZero() {
		t.Skip("platform stat does not expose an access time")
	}

	w := New(nil, 1)
	records, err := w.Walk(context.Background(), dir)
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].LastAccess == "" {
		t.Error("expected last_access filled from the file atime")
	}
}

func TestWalkPrefetchFolderNonRecursive(t *testing.T) {
	fs := afero.NewMemMapFs()
	files := map[string][]byte{
		"/evidence/Prefetch/A.EXE-11111111.pf":     []byte("xx"),
		"/evidence/Prefetch/ReadMe.txt":            []byte("skip me"),
		"/evidence/Prefetch/sub/B.EXE-22222222.pf": []byte("xx"),
	}
	for path, data := range files {
		if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}

	w := New(fs, 4)
	records, err := w.Walk(context.Background(), "/evidence/Prefetch")
	if err != nil {
		t.Fatalf("Walk failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record from flat listing, got %d", len(records))
	}
	if records[0].Name != "A.EXE-11111111.pf" {
		t.Errorf("expected top-level .pf only, got %q", records[0].Name)
	}
}

func TestWalkMissingRoot(t *testing.T) {
	w := New(afero.NewMemMapFs(), 1)
	if _, err := w.Walk(context.Background(), "/nope"); err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestWalkRootIsFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	if err := afero.WriteFile(fs, "/file.bin", []byte("x"), 0o644); err != nil {
		t.Fatalf("failed to write: %v", err)
	}
	w := New(fs, 1)
	if _, err := w.Walk(context.Background(), "/file.bin"); err == nil {
		t.Fatal("expected error for non-folder root")
	}
}

func TestWalkCancelled(t *testing.T) {
	w := New(testFS(t), 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := w.Walk(ctx, "/evidence")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(records) != 0 {
		t.Errorf("expected no records after pre-cancelled walk, got %d", len(records))
	}
}
