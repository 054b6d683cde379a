// Package report assembles investigator-facing output: the case
// metadata header, per-type tallies, timeline buckets and the CSV
// exports for artifacts and correlated events.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strconv"
	"time"

	"github.com/Velocidex/ordereddict"
	"github.com/google/uuid"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/record"
	"github.com/wabproject/wab/internal/timeutil"
)

// defaultBins matches the resolution of the timeline chart the full
// system rendered.
const defaultBins = 24

// CaseDetails are the investigator-supplied report fields. All of them
// may be empty; Examiner falls back to the OS account name.
type CaseDetails struct {
	Examiner    string
	CaseID      string
	EvidenceID  string
	Description string
	Notes       string
}

// BuildMetadata assembles the report header fields in presentation
// order. A store hash failure leaves the DB SHA256 field empty rather
// than failing the report.
func BuildMetadata(dbPath, toolVersion string, details CaseDetails) *ordereddict.Dict {
	examiner := details.Examiner
	if examiner == "" {
		if u, err := user.Current(); err == nil {
			examiner = u.Username
		}
	}
	host, _ := os.Hostname()
	hash, err := record.SHA256File(dbPath)
	if err != nil {
		hash = ""
	}
	return ordereddict.NewDict().
		Set("Examiner", examiner).
		Set("Source", host).
		Set("OS", runtime.GOOS+" "+runtime.GOARCH).
		Set("Tool Version", toolVersion).
		Set("Generated", timeutil.FormatISO(time.Now())).
		Set("DB SHA256", hash).
		Set("Case ID", details.CaseID).
		Set("Notes", details.Notes).
		Set("Evidence ID", details.EvidenceID).
		Set("Description", details.Description).
		Set("Report ID", uuid.NewString())
}

// TypeCount is one row of the per-type tally.
type TypeCount struct {
	Type  string
	Count int
}

// CountsByType tallies records per artifact type, most frequent first.
// Records without a type count under "unknown"; ties order by type name
// so output is stable.
func CountsByType(recs []*model.ArtifactRecord) []TypeCount {
	tally := make(map[string]int)
	for _, rec := range recs {
		name := rec.ArtifactType
		if name == "" {
			name = "unknown"
		}
		tally[name]++
	}
	counts := make([]TypeCount, 0, len(tally))
	for name, n := range tally {
		counts = append(counts, TypeCount{Type: name, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count != counts[j].Count {
			return counts[i].Count > counts[j].Count
		}
		return counts[i].Type < counts[j].Type
	})
	return counts
}

// Bucket is one bin of the event timeline.
type Bucket struct {
	Start time.Time
	Count int
}

// TimelineHistogram distributes every parseable event time into bins
// equal spans between the earliest and latest event. Records without a
// usable time are skipped, as are times outside the POSIX range. When
// all events share one instant a single bucket holds them all.
func TimelineHistogram(recs []*model.ArtifactRecord, bins int) []Bucket {
	if bins <= 0 {
		bins = defaultBins
	}
	var secs []float64
	for _, rec := range recs {
		t, ok := timeutil.ParseFlexible(rec.EventTime())
		if !ok {
			continue
		}
		if s, ok := timeutil.SafeUnix(t); ok {
			secs = append(secs, s)
		}
	}
	if len(secs) == 0 {
		return nil
	}
	lo, hi := secs[0], secs[0]
	for _, s := range secs[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}
	if lo == hi {
		return []Bucket{{Start: time.Unix(int64(lo), 0).UTC(), Count: len(secs)}}
	}
	width := (hi - lo) / float64(bins)
	buckets := make([]Bucket, bins)
	for i := range buckets {
		buckets[i].Start = time.Unix(int64(lo+width*float64(i)), 0).UTC()
	}
	for _, s := range secs {
		idx := int((s - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		buckets[idx].Count++
	}
	return buckets
}

// WriteArtifactsCSV writes every record in schema column order with the
// coalesced event_time appended as the last column.
func WriteArtifactsCSV(w io.Writer, recs []*model.ArtifactRecord) error {
	cw := csv.NewWriter(w)
	if err := writeArtifactRows(cw, recs); err != nil {
		return fmt.Errorf("writing artifacts csv: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing artifacts csv: %w", err)
	}
	return nil
}

// WriteCorrelationCSV writes the correlated event stream.
func WriteCorrelationCSV(w io.Writer, events []model.CorrelatedEvent) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "artifact_type", "detail", "anomaly", "session"}); err != nil {
		return fmt.Errorf("writing correlation csv: %w", err)
	}
	for _, ev := range events {
		row := []string{ev.Timestamp, ev.ArtifactType, ev.Detail, ev.Anomaly, strconv.Itoa(ev.Session)}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing correlation csv: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing correlation csv: %w", err)
	}
	return nil
}

// WriteReportCSV writes the full case report: the metadata block, a
// blank line, the counts-by-type block, another blank line, then every
// artifact row.
func WriteReportCSV(w io.Writer, meta *ordereddict.Dict, recs []*model.ArtifactRecord) error {
	cw := csv.NewWriter(w)
	for _, key := range meta.Keys() {
		value, _ := meta.GetString(key)
		if err := cw.Write([]string{key, value}); err != nil {
			return fmt.Errorf("writing report metadata: %w", err)
		}
	}
	if err := cw.Write(nil); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := cw.Write([]string{"artifact_type", "count"}); err != nil {
		return fmt.Errorf("writing report counts: %w", err)
	}
	for _, tc := range CountsByType(recs) {
		if err := cw.Write([]string{tc.Type, strconv.Itoa(tc.Count)}); err != nil {
			return fmt.Errorf("writing report counts: %w", err)
		}
	}
	if err := cw.Write(nil); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	if err := writeArtifactRows(cw, recs); err != nil {
		return fmt.Errorf("writing report rows: %w", err)
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("writing report: %w", err)
	}
	return nil
}

func writeArtifactRows(cw *csv.Writer, recs []*model.ArtifactRecord) error {
	header := append([]string{"id"}, model.Fields...)
	header = append(header, "event_time")
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, rec := range recs {
		if err := cw.Write(artifactRow(rec)); err != nil {
			return err
		}
	}
	return nil
}

func artifactRow(rec *model.ArtifactRecord) []string {
	runCount := ""
	if rec.RunCount != nil {
		runCount = strconv.FormatInt(*rec.RunCount, 10)
	}
	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.ArtifactType,
		rec.Name,
		rec.Path,
		rec.Timestamp,
		rec.LastAccess,
		runCount,
		rec.Extra,
		rec.Details,
		rec.EventTime(),
	}
}
