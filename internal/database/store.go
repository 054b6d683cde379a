package database

import (
	"context"

	"github.com/wabproject/wab/internal/model"
)

// Store defines the interface for all artifact persistence operations.
// Every method the application needs is captured here so that app.go
// depends on the interface, not on a concrete database type.
type Store interface {
	// Init creates the artifacts schema if missing and applies
	// non-destructive column migrations. Safe to call on every open.
	Init() error

	// Writes. BulkInsert chunks rows into per-chunk transactions and
	// retries each chunk on lock contention; onProgress, when non-nil,
	// is called with the running total after every chunk.
	InsertArtifact(rec *model.ArtifactRecord) error
	BulkInsert(ctx context.Context, recs []*model.ArtifactRecord, onProgress func(int)) (int, error)

	// Reads. QueryAll orders by coalesced event time descending for
	// display; QueryForCorrelation orders ascending and excludes rows
	// that carry no event time at all. QueryFiltered takes a WHERE
	// clause built by the query package.
	QueryAll(ctx context.Context) ([]*model.ArtifactRecord, error)
	QueryForCorrelation(ctx context.Context) ([]*model.ArtifactRecord, error)
	QueryFiltered(ctx context.Context, where string, args []interface{}, limit int) ([]*model.ArtifactRecord, error)
	CountByType() (map[string]int64, error)

	// Maintenance
	Clear() error
	Migrate() error

	// Lifecycle
	Close() error
	Path() string
}
