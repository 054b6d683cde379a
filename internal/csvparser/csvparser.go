// Package csvparser imports artifact records from CSV files. It accepts
// the exact layout the artifacts export writes, and more generally any
// CSV whose header names a usable subset of the schema columns, so rows
// produced by other tooling can be merged into a store.
package csvparser

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/timeutil"
)

// fieldAliases maps accepted header names to schema columns. The id and
// event_time columns the export writes are derived data; they are
// deliberately not mapped.
var fieldAliases = map[string]string{
	"artifact_type": "artifact_type",
	"type":          "artifact_type",
	"name":          "name",
	"filename":      "name",
	"path":          "path",
	"full_path":     "path",
	"timestamp":     "timestamp",
	"mtime":         "timestamp",
	"last_access":   "last_access",
	"atime":         "last_access",
	"run_count":     "run_count",
	"runs":          "run_count",
	"extra":         "extra",
	"details":       "details",
}

// ReadResult contains the outcome of a CSV import.
type ReadResult struct {
	Records  []*model.ArtifactRecord
	Count    int
	Excluded int
}

// ValidateHeader checks that the file starts with a header naming at
// least the artifact_type and name columns, under any accepted alias.
func ValidateHeader(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(newNullStripper(f))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("reading header: %w", err)
	}

	cols := buildColumnMap(header)
	if _, ok := cols["artifact_type"]; !ok {
		return fmt.Errorf("no artifact_type column in header (found: %s)", strings.Join(header, ", "))
	}
	if _, ok := cols["name"]; !ok {
		return fmt.Errorf("no name column in header (found: %s)", strings.Join(header, ", "))
	}
	return nil
}

// ReadRecords reads artifact rows from a CSV file. Malformed rows and
// rows without any identity are counted and skipped rather than failing
// the import; timestamps are normalized to ISO-8601 Z and unparseable
// run counts become NULL. An onProgress callback is called every 10,000
// rows if non-nil.
func ReadRecords(path string, onProgress func(count int)) (*ReadResult, error) {
	if err := ValidateHeader(path); err != nil {
		return nil, fmt.Errorf("invalid CSV: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening file: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(newNullStripper(f))
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1 // allow variable field counts

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	cols := buildColumnMap(header)

	result := &ReadResult{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			result.Excluded++
			continue
		}

		rec := rowToRecord(row, cols)
		if rec.ArtifactType == "" && rec.Name == "" {
			result.Excluded++
			continue
		}
		result.Records = append(result.Records, rec)
		result.Count++

		if onProgress != nil && result.Count%10000 == 0 {
			onProgress(result.Count)
		}
	}

	return result, nil
}

// buildColumnMap maps schema columns to their positions in the header.
// The first occurrence of a column wins.
func buildColumnMap(header []string) map[string]int {
	cols := make(map[string]int)
	for i, col := range header {
		name, ok := fieldAliases[strings.TrimSpace(strings.ToLower(col))]
		if !ok {
			continue
		}
		if _, seen := cols[name]; !seen {
			cols[name] = i
		}
	}
	return cols
}

func rowToRecord(row []string, cols map[string]int) *model.ArtifactRecord {
	rec := &model.ArtifactRecord{
		ArtifactType: field(row, cols, "artifact_type"),
		Name:         field(row, cols, "name"),
		Path:         field(row, cols, "path"),
		Timestamp:    timeutil.Normalize(field(row, cols, "timestamp")),
		LastAccess:   timeutil.Normalize(field(row, cols, "last_access")),
		Extra:        field(row, cols, "extra"),
		Details:      field(row, cols, "details"),
	}
	if raw := field(row, cols, "run_count"); raw != "" {
		if n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64); err == nil {
			rec.RunCount = &n
		}
	}
	return rec
}

// field returns the row value for a mapped column, or "" when the
// column is absent or the row is short.
func field(row []string, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// nullStripper wraps a reader and strips null bytes from the stream.
// CSVs recovered from Windows systems routinely carry them and they
// break encoding/csv.
type nullStripper struct {
	r io.Reader
}

func newNullStripper(r io.Reader) io.Reader {
	return &nullStripper{r: r}
}

func (ns *nullStripper) Read(p []byte) (int, error) {
	n, err := ns.r.Read(p)
	if n > 0 {
		cleaned := strings.ReplaceAll(string(p[:n]), "\x00", "")
		copy(p, cleaned)
		n = len(cleaned)
	}
	return n, err
}
