package shellbags

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"

	"github.com/wabproject/wab/internal/record"
)

// parseShellItemList decodes a SHELL_ITEM_LIST blob into path segments.
// Each item is a 2-byte little-endian size followed by its payload; a
// zero size, an undersized item or an overrun ends the list. Items that
// yield no segment are skipped, not fatal.
func parseShellItemList(data []byte) []string {
	var segments []string
	offset := 0
	for offset < len(data) {
		if offset+2 > len(data) {
			break
		}
		size := int(binary.LittleEndian.Uint16(data[offset : offset+2]))
		if size == 0 {
			break
		}
		if size < 3 || offset+size > len(data) {
			break
		}
		if seg := itemSegment(data[offset+2 : offset+size]); seg != "" {
			segments = append(segments, seg)
		}
		offset += size
	}
	return segments
}

// itemSegment extracts the display segment for a single shell item. The
// type byte at payload offset 0 dispatches; any type without a handler,
// or a payload too short for its type, yields no segment.
func itemSegment(payload []byte) string {
	itemType := payload[0]
	switch {
	case itemType == 0x1f && len(payload) >= 0x12:
		// Root folder: CLSID at offset 2.
		clsid := strings.ToUpper(hex.EncodeToString(payload[2:18]))
		if name, ok := clsidNames[clsid]; ok {
			return name
		}
		return `CLSID\{` + clsid + `}`

	case (itemType == 0x31 || itemType == 0x32) && len(payload) > 0x14:
		return fileEntryName(payload)

	case (itemType == 0x2e || itemType == 0x2f) && len(payload) > 1:
		// Volume entry: ASCII drive string at offset 1.
		return strings.Trim(asciiIgnore(payload[1:]), "\x00")

	case itemType >= 0x41 && itemType <= 0x4f && len(payload) > 8:
		// URI: UTF-16 code unit count at offset 4, string at offset 8.
		n := int(binary.LittleEndian.Uint32(payload[4:8])) * 2
		if n > 0 && len(payload) >= 8+n {
			return record.UTF16LEString(payload[8 : 8+n])
		}
		return ""

	case itemType == 0x61 && len(payload) > 16:
		end := 20
		if len(payload) < end {
			end = len(payload)
		}
		return "Delegate:{" + strings.ToUpper(hex.EncodeToString(payload[4:end])) + "}"

	case itemType == 0x71 && len(payload) > 20:
		return "UsersPropertyView:{" + hex.EncodeToString(payload[4:20]) + "}"

	case (itemType == 0xc3 || itemType == 0xc4) && len(payload) > 4:
		// Network location: UTF-16LE from offset 4 to the next double NUL.
		if end := indexDoubleNul(payload, 4); end >= 0 {
			return record.UTF16LEString(payload[4 : end+1])
		}
		return ""
	}
	return ""
}

// fileEntryName resolves a 0x31/0x32 file entry. When the extension
// block signature is present the long name is a UTF-16LE string 20 bytes
// past it, accepted only when it spans whole code units; otherwise the
// short ASCII name at offset 0x14 is used.
func fileEntryName(payload []byte) string {
	if sig := bytes.Index(payload, []byte{0xbe, 0xef}); sig != -1 {
		nameOff := sig + 20
		if nameOff < len(payload) {
			if end := indexDoubleNul(payload, nameOff); end >= 0 {
				raw := payload[nameOff:end]
				if len(raw)%2 == 0 {
					if name := record.UTF16LEString(raw); name != "" {
						return name
					}
				}
			}
		}
	}
	if end := bytes.IndexByte(payload[0x14:], 0); end >= 0 {
		return asciiIgnore(payload[0x14 : 0x14+end])
	}
	return ""
}

// indexDoubleNul finds the first double-NUL at or after from, at any
// byte alignment.
func indexDoubleNul(b []byte, from int) int {
	for i := from; i+1 < len(b); i++ {
		if b[i] == 0 && b[i+1] == 0 {
			return i
		}
	}
	return -1
}

// asciiIgnore keeps only 7-bit bytes, dropping the rest.
func asciiIgnore(b []byte) string {
	out := make([]byte, 0, len(b))
	for _, c := range b {
		if c < 0x80 {
			out = append(out, c)
		}
	}
	return string(out)
}
