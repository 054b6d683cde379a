// Package record holds helpers shared by every artifact decoder: the
// ordered extra/details encodings, fallback records for undecodable
// inputs, content hashing, and the string utilities Windows on-disk
// formats keep needing.
package record

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
	"unicode/utf16"

	"github.com/Velocidex/ordereddict"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/timeutil"
)

// DefaultExtraLimit caps the length of a single value inside the extra
// column before truncation.
const DefaultExtraLimit = 400

// FormatExtra renders d as "k=v;k=v" in insertion order. Nil values are
// skipped, values longer than limit are truncated with an ellipsis, and
// semicolons inside values become commas so the encoding stays splittable.
func FormatExtra(d *ordereddict.Dict, limit int) string {
	if d == nil {
		return ""
	}
	if limit <= 0 {
		limit = DefaultExtraLimit
	}
	parts := make([]string, 0, d.Len())
	for _, key := range d.Keys() {
		v, ok := d.Get(key)
		if !ok || v == nil {
			continue
		}
		s := stringify(v)
		if len(s) > limit {
			cut := limit - 10
			if cut < 0 {
				cut = 0
			}
			s = s[:cut] + "..."
		}
		s = strings.ReplaceAll(s, ";", ",")
		parts = append(parts, key+"="+s)
	}
	return strings.Join(parts, ";")
}

func stringify(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case []string, []interface{}, map[string]interface{}, *ordereddict.Dict:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprintf("%v", x)
		}
		return string(b)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// ParseExtra splits an extra column back into a lookup map. Keys are
// lowercased, values trimmed, and bare tokens without an = become flags
// with an empty value.
func ParseExtra(extra string) map[string]string {
	kv := make(map[string]string)
	for _, part := range strings.Split(extra, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if k, v, found := strings.Cut(part, "="); found {
			kv[strings.ToLower(strings.TrimSpace(k))] = strings.TrimSpace(v)
		} else {
			kv[strings.ToLower(part)] = ""
		}
	}
	return kv
}

// DetailsJSON renders d as the JSON details column, preserving key order.
func DetailsJSON(d *ordereddict.Dict) string {
	if d == nil {
		return ""
	}
	b, err := json.Marshal(d)
	if err != nil {
		return ""
	}
	return string(b)
}

// MD5Hex returns the lowercase hex MD5 of data. Used only to fingerprint
// undecodable artifacts, not for anything security sensitive.
func MD5Hex(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// SHA256File hashes the file at path in streaming fashion.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Fallback builds the minimal record emitted when a decoder cannot make
// sense of an input: type, name, path, the file mtime/atime and, when
// content is available, its size and MD5 so the evidence is still
// referenceable. A zero atime leaves last_access empty.
func Fallback(artifactType, path string, mtime, atime time.Time, size int64, content []byte) model.ArtifactRecord {
	extra := ordereddict.NewDict().
		Set("source", "fallback_minimal").
		Set("size", size)
	if content != nil {
		extra.Set("md5", MD5Hex(content))
	}
	return model.ArtifactRecord{
		ArtifactType: artifactType,
		Name:         WinBase(path),
		Path:         path,
		Timestamp:    timeutil.NormalizeTime(mtime),
		LastAccess:   timeutil.NormalizeTime(atime),
		Extra:        FormatExtra(extra, DefaultExtraLimit),
	}
}

// WinBase returns the final path component, treating both backslashes and
// forward slashes as separators so Windows paths split correctly on any
// host.
func WinBase(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}

// UTF16LEString decodes little-endian UTF-16 and truncates at the first
// NUL. A trailing odd byte is dropped.
func UTF16LEString(data []byte) string {
	runes := utf16.Decode(codeUnits(data))
	for i, r := range runes {
		if r == 0 {
			return string(runes[:i])
		}
	}
	return string(runes)
}

// UTF16LEStrings decodes a NUL-separated little-endian UTF-16 block into
// its non-empty segments.
func UTF16LEStrings(data []byte) []string {
	decoded := string(utf16.Decode(codeUnits(data)))
	var out []string
	for _, part := range strings.Split(decoded, "\x00") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func codeUnits(data []byte) []uint16 {
	u := make([]uint16, 0, len(data)/2)
	for i := 0; i+1 < len(data); i += 2 {
		u = append(u, uint16(data[i])|uint16(data[i+1])<<8)
	}
	return u
}
