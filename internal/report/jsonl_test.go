package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/wabproject/wab/internal/model"
)

func TestWriteJSONL(t *testing.T) {
	runs := int64(7)
	recs := []*model.ArtifactRecord{
		{
			ID:           1,
			ArtifactType: "prefetch",
			Name:         "CMD.EXE-1A2B3C4D.pf",
			Path:         `C:\Tools & Drivers\cmd.pf`,
			Timestamp:    "2021-06-01T10:00:00Z",
			RunCount:     &runs,
		},
		{
			ID:           2,
			ArtifactType: "lnk",
			Name:         "app.lnk",
		},
	}

	var buf bytes.Buffer
	if err := WriteJSONL(&buf, recs); err != nil {
		t.Fatalf("WriteJSONL: %v", err)
	}
	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var first map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("first line is not valid JSON: %v", err)
	}
	if first["artifact_type"] != "prefetch" {
		t.Errorf("expected artifact_type prefetch, got %v", first["artifact_type"])
	}
	if first["run_count"] != float64(7) {
		t.Errorf("expected run_count 7, got %v", first["run_count"])
	}
	if !strings.Contains(lines[0], `Tools & Drivers`) {
		t.Errorf("expected unescaped ampersand in %q", lines[0])
	}

	var second map[string]interface{}
	if err := json.Unmarshal([]byte(lines[1]), &second); err != nil {
		t.Fatalf("second line is not valid JSON: %v", err)
	}
	if second["run_count"] != nil {
		t.Errorf("expected null run_count, got %v", second["run_count"])
	}
}
