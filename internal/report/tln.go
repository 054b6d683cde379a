package report

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/timeutil"
)

// tlnHeader is the classic five-field TLN timeline layout.
const tlnHeader = "Time|Source|Host|User|Description"

// WriteTLN writes records as pipe-delimited TLN timeline lines so other
// timeline tools can ingest an export. Time is POSIX seconds; records
// whose event time is missing or outside the POSIX range get 0. Host
// and user are unknown for decoded artifacts and written as "-".
func WriteTLN(w io.Writer, recs []*model.ArtifactRecord) error {
	bw := bufio.NewWriter(w)
	if _, err := bw.WriteString(tlnHeader + "\n"); err != nil {
		return fmt.Errorf("writing tln: %w", err)
	}
	for _, rec := range recs {
		var epoch int64
		if t, ok := timeutil.ParseFlexible(rec.EventTime()); ok {
			if s, ok := timeutil.SafeUnix(t); ok {
				epoch = int64(s)
			}
		}
		line := fmt.Sprintf("%d|%s|-|-|%s\n", epoch, tlnSource(rec.ArtifactType), tlnDescription(rec))
		if _, err := bw.WriteString(line); err != nil {
			return fmt.Errorf("writing tln: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing tln: %w", err)
	}
	return nil
}

// tlnSource renders the artifact type as a short uppercase source tag.
func tlnSource(artifactType string) string {
	if artifactType == "" {
		return "ARTIFACT"
	}
	return strings.ToUpper(sanitizeTLN(artifactType))
}

func tlnDescription(rec *model.ArtifactRecord) string {
	desc := rec.Name
	if rec.Path != "" {
		desc += " (" + rec.Path + ")"
	}
	return sanitizeTLN(desc)
}

// sanitizeTLN keeps a value on one line and out of the field delimiter.
func sanitizeTLN(s string) string {
	s = strings.ReplaceAll(s, "|", "/")
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return s
}
