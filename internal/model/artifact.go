package model

// Fields is the ordered list of column names in the artifacts table.
// Used for insert parameter ordering, field validation, and CSV export.
var Fields = []string{
	"artifact_type", "name", "path", "timestamp", "last_access",
	"run_count", "extra", "details",
}

// ArtifactRecord is a single decoded artifact row. Field names and structure
// match the artifacts SQLite schema; timestamps are strict ISO-8601 UTC
// strings with a trailing Z, or empty when the source format carried none.
type ArtifactRecord struct {
	ID           int64  `json:"id" db:"id"`
	ArtifactType string `json:"artifact_type" db:"artifact_type"`
	Name         string `json:"name" db:"name"`
	Path         string `json:"path" db:"path"`
	Timestamp    string `json:"timestamp" db:"timestamp"`
	LastAccess   string `json:"last_access" db:"last_access"`
	RunCount     *int64 `json:"run_count" db:"run_count"`
	Extra        string `json:"extra" db:"extra"`
	Details      string `json:"details" db:"details"`
}

// EventTime returns the primary event time, falling back to last access.
// Records where both are empty cannot be placed on a timeline.
func (a *ArtifactRecord) EventTime() string {
	if a.Timestamp != "" {
		return a.Timestamp
	}
	return a.LastAccess
}

// CorrelatedEvent is one row of correlator output. Session numbers are
// recomputed on every correlation run and carry no persistent identity.
type CorrelatedEvent struct {
	Timestamp    string `json:"timestamp"`
	ArtifactType string `json:"artifact_type"`
	Detail       string `json:"detail"`
	Anomaly      string `json:"anomaly"`
	Session      int    `json:"session"`
}
