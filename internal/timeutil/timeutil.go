// Package timeutil converts between the timestamp representations found in
// Windows artifacts: FILETIME tick counts, epoch numbers of varying
// magnitude, and ISO-8601 strings with or without a trailing Z.
package timeutil

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// isoLayout is the canonical storage format for every timestamp column.
const isoLayout = "2006-01-02T15:04:05Z"

const (
	// epochDelta is the seconds between the FILETIME epoch (1601-01-01)
	// and the Unix epoch (1970-01-01).
	epochDelta     = 11644473600
	ticksPerSecond = 10000000
	maxYear        = 9999
)

// parseLayouts are tried in order by ParseFlexible. Fractional seconds are
// optional in all of them.
var parseLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// FiletimeToUTC converts a FILETIME tick count (100ns intervals since
// 1601-01-01 UTC) to a UTC time. The arithmetic runs against the fixed
// 1601 epoch so values outside the platform's native range still convert.
// Zero ticks and results past year 9999 report ok=false.
func FiletimeToUTC(ticks uint64) (time.Time, bool) {
	if ticks == 0 {
		return time.Time{}, false
	}
	secs := int64(ticks/ticksPerSecond) - epochDelta
	nanos := int64(ticks%ticksPerSecond) * 100
	t := time.Unix(secs, nanos).UTC()
	if t.Year() > maxYear {
		return time.Time{}, false
	}
	return t, true
}

// UTCToFiletime is the inverse of FiletimeToUTC. Times before the FILETIME
// epoch map to 0.
func UTCToFiletime(t time.Time) uint64 {
	secs := t.Unix() + epochDelta
	if secs < 0 {
		return 0
	}
	return uint64(secs)*ticksPerSecond + uint64(t.Nanosecond()/100)
}

// ParseFlexible parses a timestamp in any representation the decoders or
// the store may hand over: ISO-8601 with or without a trailing Z (naive
// values are taken as UTC), or a bare number interpreted by magnitude.
// Above 1e14 the number is FILETIME ticks, above 1e12 epoch milliseconds,
// otherwise epoch seconds. Unparseable input reports ok=false, never an
// error.
func ParseFlexible(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "none", "null":
		return time.Time{}, false
	}
	for _, layout := range parseLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return time.Time{}, false
	}
	return fromEpochNumber(v)
}

func fromEpochNumber(v float64) (time.Time, bool) {
	var t time.Time
	switch {
	case v > 1e14: // FILETIME ticks
		return FiletimeToUTC(uint64(v))
	case v > 1e12: // epoch milliseconds
		t = time.UnixMilli(int64(v)).UTC()
	default: // epoch seconds, possibly fractional
		sec, frac := math.Modf(v)
		t = time.Unix(int64(sec), int64(frac*1e9)).UTC()
	}
	if t.Year() < 1 || t.Year() > maxYear {
		return time.Time{}, false
	}
	return t, true
}

// Normalize canonicalizes a timestamp string into strict
// YYYY-MM-DDTHH:MM:SSZ. Empty input stays empty; strings no parser
// understands pass through unchanged rather than being dropped.
// Normalize is idempotent.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	if t, ok := ParseFlexible(s); ok {
		return FormatISO(t)
	}
	return s
}

// NormalizeTime renders t in the canonical storage format; the zero time
// yields an empty string.
func NormalizeTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return FormatISO(t)
}

// FormatISO renders t as strict YYYY-MM-DDTHH:MM:SSZ in UTC, truncating
// sub-second precision.
func FormatISO(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// SafeUnix converts t to POSIX seconds. The zero time, times before 1970
// and times past year 9999 report ok=false instead of producing a
// misleading number; 1601-baseline artifacts fall in that range.
func SafeUnix(t time.Time) (float64, bool) {
	if t.IsZero() || t.Year() > maxYear {
		return 0, false
	}
	secs := t.Unix()
	if secs < 0 {
		return 0, false
	}
	return float64(secs) + float64(t.Nanosecond())/1e9, true
}
