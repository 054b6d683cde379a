package shellbags

import (
	"encoding/binary"
	"testing"
	"time"
)

type fakeKey struct {
	lastWrite time.Time
	values    map[string][]byte
	subkeys   map[string]*fakeKey
}

func (k *fakeKey) LastWrite() time.Time { return k.lastWrite }

func (k *fakeKey) Value(name string) []byte { return k.values[name] }

func (k *fakeKey) Subkey(name string) (bagKey, bool) {
	if sub, ok := k.subkeys[name]; ok {
		return sub, true
	}
	return nil, false
}

func mruBytes(indexes ...uint32) []byte {
	b := make([]byte, 0, len(indexes)*4)
	for _, idx := range indexes {
		b = binary.LittleEndian.AppendUint32(b, idx)
	}
	return b
}

func testTree() *fakeKey {
	grandchild := &fakeKey{
		lastWrite: time.Date(2022, 1, 2, 3, 4, 5, 0, time.UTC),
		values: map[string][]byte{
			"MRUListEx": mruBytes(0, 0xFFFFFFFF),
			"0":         blob(item(fileEntry(0x31, "bob", nil))),
		},
	}
	child := &fakeKey{
		lastWrite: time.Date(2021, 6, 15, 10, 30, 0, 0, time.UTC),
		values: map[string][]byte{
			"MRUListEx": mruBytes(0, 0xFFFFFFFF),
			"0":         blob(item(fileEntry(0x31, "Users", nil))),
		},
		subkeys: map[string]*fakeKey{"0": grandchild},
	}
	root := &fakeKey{
		values: map[string][]byte{
			// MRU order 1 then 0, terminator, plus a stray partial int.
			"MRUListEx": append(mruBytes(1, 0, 0xFFFFFFFF), 0x02, 0x00),
			"1":         blob(item(append([]byte{0x1f, 0x00}, clsidThisPC...))),
			"0":         blob(item(append([]byte{0x1f, 0x00}, clsidDesktop...))),
		},
		subkeys: map[string]*fakeKey{"1": child},
	}
	return root
}

func TestWalkTree(t *testing.T) {
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(testTree(), `Software\Microsoft\Windows\Shell\BagMRU`, nil, 0)

	if len(w.records) != 4 {
		t.Fatalf("expected 4 records, got %d", len(w.records))
	}

	wantPaths := []string{
		"This PC",
		`This PC\Users`,
		`This PC\Users\bob`,
		"Desktop",
	}
	wantNames := []string{"This PC", "Users", "bob", "Desktop"}
	wantAccess := []string{
		"2021-06-15T10:30:00Z",
		"2022-01-02T03:04:05Z",
		"",
		"",
	}
	for i, rec := range w.records {
		if rec.Path != wantPaths[i] {
			t.Errorf("record %d: expected path %q, got %q", i, wantPaths[i], rec.Path)
		}
		if rec.Name != wantNames[i] {
			t.Errorf("record %d: expected name %q, got %q", i, wantNames[i], rec.Name)
		}
		if rec.LastAccess != wantAccess[i] {
			t.Errorf("record %d: expected last access %q, got %q", i, wantAccess[i], rec.LastAccess)
		}
	}
}

func TestWalkRecordShape(t *testing.T) {
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(testTree(), `Software\Microsoft\Windows\Shell\BagMRU`, nil, 0)

	rec := w.records[0]
	if rec.ArtifactType != "shellbag" {
		t.Errorf("expected artifact type shellbag, got %s", rec.ArtifactType)
	}
	if rec.Timestamp != "" {
		t.Errorf("expected empty timestamp, got %q", rec.Timestamp)
	}
	wantExtra := `key_path=Software\Microsoft\Windows\Shell\BagMRU\1;source=registry`
	if rec.Extra != wantExtra {
		t.Errorf("expected extra %q, got %q", wantExtra, rec.Extra)
	}
}

func TestWalkCollapsesVolumeJoin(t *testing.T) {
	root := &fakeKey{
		values: map[string][]byte{
			"MRUListEx": mruBytes(0),
			"0": blob(
				item([]byte{0x2f, 'C', ':', '\\', 0x00}),
				item(fileEntry(0x31, "Users", nil)),
			),
		},
	}
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(root, `Software\Microsoft\Windows\Shell\BagMRU`, nil, 0)

	if len(w.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.records))
	}
	if w.records[0].Path != `C:\Users` {
		t.Errorf(`expected path C:\Users, got %q`, w.records[0].Path)
	}
	if w.records[0].Name != "Users" {
		t.Errorf("expected name Users, got %q", w.records[0].Name)
	}
}

func TestWalkDepthCap(t *testing.T) {
	key := &fakeKey{values: map[string][]byte{
		"MRUListEx": mruBytes(0),
		"0":         blob(item(fileEntry(0x31, "deep", nil))),
	}}
	for i := 0; i < 5; i++ {
		key = &fakeKey{
			values: map[string][]byte{
				"MRUListEx": mruBytes(0),
				"0":         blob(item(fileEntry(0x31, "dir", nil))),
			},
			subkeys: map[string]*fakeKey{"0": key},
		}
	}

	w := &walker{maxDepth: 2}
	w.walk(key, "BagMRU", nil, 0)

	if len(w.records) != 3 {
		t.Errorf("expected 3 records at depth cap 2, got %d", len(w.records))
	}
}

func TestWalkMissingMRUListEx(t *testing.T) {
	root := &fakeKey{
		values: map[string][]byte{
			"0": blob(item(fileEntry(0x31, "orphan", nil))),
		},
	}
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(root, "BagMRU", nil, 0)

	if len(w.records) != 0 {
		t.Errorf("expected no records without MRUListEx, got %d", len(w.records))
	}
}

func TestWalkSkipsEmptySegments(t *testing.T) {
	child := &fakeKey{values: map[string][]byte{
		"MRUListEx": mruBytes(0),
		"0":         blob(item(fileEntry(0x31, "hidden", nil))),
	}}
	root := &fakeKey{
		values: map[string][]byte{
			"MRUListEx": mruBytes(0, 1),
			"0":         blob(item([]byte{0x74, 1, 2, 3})),
			"1":         blob(item(fileEntry(0x31, "visible", nil))),
		},
		subkeys: map[string]*fakeKey{"0": child},
	}
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(root, "BagMRU", nil, 0)

	if len(w.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.records))
	}
	if w.records[0].Name != "visible" {
		t.Errorf("expected name visible, got %q", w.records[0].Name)
	}
}

func TestWalkSkipsMissingValues(t *testing.T) {
	root := &fakeKey{
		values: map[string][]byte{
			"MRUListEx": mruBytes(0, 7),
			"0":         blob(item(fileEntry(0x31, "present", nil))),
		},
	}
	w := &walker{maxDepth: DefaultMaxDepth}
	w.walk(root, "BagMRU", nil, 0)

	if len(w.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(w.records))
	}
	if w.records[0].Name != "present" {
		t.Errorf("expected name present, got %q", w.records[0].Name)
	}
}
