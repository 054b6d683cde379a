package shellbags

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Velocidex/ordereddict"
	"www.velocidex.com/golang/regparser"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

// DefaultMaxDepth bounds BagMRU recursion so a cyclic or hostile hive
// cannot blow the stack.
const DefaultMaxDepth = 25

const mruTerminator = 0xFFFFFFFF

// rootPaths are the BagMRU/Bags locations probed in every hive. The
// first four are the NTUSER.DAT layouts; the last two are the same keys
// as they appear relative to a UsrClass.dat hive root.
var rootPaths = []string{
	`Software\Microsoft\Windows\Shell\BagMRU`,
	`Software\Microsoft\Windows\Shell\Bags`,
	`Software\Classes\Local Settings\Software\Microsoft\Windows\Shell\BagMRU`,
	`Software\Classes\Local Settings\Software\Microsoft\Windows\Shell\Bags`,
	`Local Settings\Software\Microsoft\Windows\Shell\BagMRU`,
	`Local Settings\Software\Microsoft\Windows\Shell\Bags`,
}

// bagKey is the minimal registry key surface the walker needs. Satisfied
// by regNode over a parsed hive, and by fakes in tests.
type bagKey interface {
	LastWrite() time.Time
	Value(name string) []byte
	Subkey(name string) (bagKey, bool)
}

// regNode adapts a regparser key node to bagKey. Value lookups are
// case-insensitive and only binary data is returned; other value types
// behave as missing, the same as a type-mismatched live registry read.
type regNode struct {
	key *regparser.CM_KEY_NODE
}

func (n regNode) LastWrite() time.Time {
	return n.key.LastWriteTime().Time
}

func (n regNode) Value(name string) []byte {
	for _, v := range n.key.Values() {
		if strings.EqualFold(v.ValueName(), name) {
			vd := v.ValueData()
			if vd.Type == regparser.REG_BINARY {
				return vd.Data
			}
			return nil
		}
	}
	return nil
}

func (n regNode) Subkey(name string) (bagKey, bool) {
	for _, sub := range n.key.Subkeys() {
		if strings.EqualFold(sub.Name(), name) {
			return regNode{key: sub}, true
		}
	}
	return nil, false
}

type walker struct {
	maxDepth int
	records  []*model.ArtifactRecord
}

// walk decodes one key's MRUListEx and recurses into the numbered
// subkeys. Records are appended parent-first, matching MRU order within
// each key. Keys without a parseable MRUListEx end their subtree.
func (w *walker) walk(key bagKey, keyPath string, parentSegments []string, depth int) {
	if depth > w.maxDepth {
		return
	}
	mru := key.Value("MRUListEx")
	if mru == nil {
		return
	}
	for off := 0; off+4 <= len(mru); off += 4 {
		index := binary.LittleEndian.Uint32(mru[off : off+4])
		if index == mruTerminator {
			continue
		}
		name := strconv.FormatUint(uint64(index), 10)
		data := key.Value(name)
		if data == nil {
			continue
		}
		segments := parseShellItemList(data)
		if len(segments) == 0 {
			continue
		}

		fullSegments := append(append([]string(nil), parentSegments...), segments...)
		fullPath := strings.ReplaceAll(strings.Join(fullSegments, `\`), `\\`, `\`)

		displayName := record.WinBase(fullPath)
		if displayName == "" {
			displayName = fullSegments[len(fullSegments)-1]
		}

		valuePath := keyPath + `\` + name

		var lastAccess string
		sub, hasSub := key.Subkey(name)
		if hasSub {
			lastAccess = timeutil.NormalizeTime(sub.LastWrite())
		}

		extra := ordereddict.NewDict().
			Set("key_path", valuePath).
			Set("source", "registry")

		w.records = append(w.records, &model.ArtifactRecord{
			ArtifactType: "shellbag",
			Name:         displayName,
			Path:         fullPath,
			LastAccess:   lastAccess,
			Extra:        record.FormatExtra(extra, record.DefaultExtraLimit),
		})

		if hasSub {
			w.walk(sub, valuePath, fullSegments, depth+1)
		}
	}
}

// ParseHive walks every known BagMRU root in a raw hive and returns the
// decoded shellbag records in traversal order. Roots absent from the
// hive are skipped. maxDepth <= 0 selects DefaultMaxDepth.
func ParseHive(r io.ReaderAt, maxDepth int) ([]*model.ArtifactRecord, error) {
	reg, err := regparser.NewRegistry(r)
	if err != nil {
		return nil, fmt.Errorf("open hive: %w", err)
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	rootKey := reg.OpenKey("/")
	if rootKey == nil {
		return nil, fmt.Errorf("open hive: no root key")
	}

	w := &walker{maxDepth: maxDepth}
	for _, root := range rootPaths {
		key, ok := descend(regNode{key: rootKey}, root)
		if !ok {
			continue
		}
		w.walk(key, root, nil, 0)
	}
	return w.records, nil
}

// descend resolves a backslash-separated key path component by
// component, case-insensitively.
func descend(key bagKey, path string) (bagKey, bool) {
	for _, component := range strings.Split(path, `\`) {
		sub, ok := key.Subkey(component)
		if !ok {
			return nil, false
		}
		key = sub
	}
	return key, true
}

// ParseHiveFile opens path as a raw registry hive and parses its
// shellbags.
func ParseHiveFile(path string, maxDepth int) ([]*model.ArtifactRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open hive %s: %w", path, err)
	}
	defer f.Close()
	return ParseHive(f, maxDepth)
}
