package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/wabproject/wab/internal/model"
)

// WriteJSONL writes one JSON object per record, one record per line.
// Field names match the artifacts schema, so line-oriented JSON tooling
// can filter exports without a header contract.
func WriteJSONL(w io.Writer, recs []*model.ArtifactRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, rec := range recs {
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("writing jsonl: %w", err)
		}
	}
	return nil
}
