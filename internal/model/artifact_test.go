package model

import "testing"

func TestArtifactDefaults(t *testing.T) {
	a := ArtifactRecord{}

	if a.ID != 0 {
		t.Errorf("expected ID to be 0, got %d", a.ID)
	}

	if a.RunCount != nil {
		t.Errorf("expected nil RunCount, got %v", *a.RunCount)
	}
}

func TestEventTime(t *testing.T) {
	a := ArtifactRecord{Timestamp: "2024-01-02T03:04:05Z", LastAccess: "2024-01-01T00:00:00Z"}
	if got := a.EventTime(); got != "2024-01-02T03:04:05Z" {
		t.Errorf("expected primary timestamp, got %s", got)
	}

	a.Timestamp = ""
	if got := a.EventTime(); got != "2024-01-01T00:00:00Z" {
		t.Errorf("expected last_access fallback, got %s", got)
	}
}
