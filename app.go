package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/wabproject/wab/internal/config"
	"github.com/wabproject/wab/internal/correlate"
	"github.com/wabproject/wab/internal/csvparser"
	"github.com/wabproject/wab/internal/database"
	"github.com/wabproject/wab/internal/model"
	"github.com/wabproject/wab/internal/query"
	"github.com/wabproject/wab/internal/report"
	"github.com/wabproject/wab/internal/shellbags"
	"github.com/wabproject/wab/internal/walker"
)

var log = logrus.WithField("component", "app")

// App wires the decoders, store and correlator together behind the
// command surface. Every command builds one App, runs one operation
// through it and closes it.
type App struct {
	cfg   config.Config
	store database.Store
}

// NewApp opens the configured store, creating the schema when missing.
func NewApp(cfg config.Config) (*App, error) {
	store, err := database.OpenStore(cfg.Driver, cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return &App{cfg: cfg, store: store}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}

// ScanFolder walks root, decodes every recognized artifact file and
// persists the results. Returns the number of rows written.
func (a *App) ScanFolder(ctx context.Context, root string) (int, error) {
	w := walker.New(afero.NewOsFs(), a.cfg.Workers)
	recs, err := w.Walk(ctx, root)
	if err != nil {
		return 0, err
	}
	if len(recs) == 0 {
		log.WithField("folder", root).Warn("no artifacts found")
		return 0, nil
	}
	total := len(recs)
	n, err := a.store.BulkInsert(ctx, recs, func(done int) {
		log.WithFields(logrus.Fields{"done": done, "total": total}).Debug("inserting artifacts")
	})
	if err != nil {
		return n, fmt.Errorf("storing artifacts: %w", err)
	}
	log.WithFields(logrus.Fields{"folder": root, "rows": n}).Info("scan complete")
	return n, nil
}

// ParseShellbags decodes BagMRU folder history from each hive file and
// persists the records. Unreadable hives are logged and skipped; if no
// hive yielded anything the first error is returned.
func (a *App) ParseShellbags(ctx context.Context, hives []string) (int, error) {
	var (
		recs     []*model.ArtifactRecord
		firstErr error
	)
	for _, hive := range hives {
		bags, err := shellbags.ParseHiveFile(hive, a.cfg.MaxShellbagDepth)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.WithError(err).WithField("hive", hive).Warn("skipping hive")
			continue
		}
		log.WithFields(logrus.Fields{"hive": hive, "records": len(bags)}).Info("hive decoded")
		recs = append(recs, bags...)
	}
	if len(recs) == 0 {
		return 0, firstErr
	}
	n, err := a.store.BulkInsert(ctx, recs, nil)
	if err != nil {
		return n, fmt.Errorf("storing shellbags: %w", err)
	}
	return n, nil
}

// Artifacts returns stored records matching filter, newest first.
// A limit of zero returns everything.
func (a *App) Artifacts(ctx context.Context, filter query.Filter, limit int) ([]*model.ArtifactRecord, error) {
	where, args := filter.Where(a.dialect())
	return a.store.QueryFiltered(ctx, where, args, limit)
}

// Correlate runs a correlation pass over the stored records using the
// configured thresholds.
func (a *App) Correlate(ctx context.Context) []model.CorrelatedEvent {
	return correlate.Run(ctx, a.store, correlate.Options{
		SessionGap:        time.Duration(a.cfg.SessionGapSeconds) * time.Second,
		LinkWindow:        time.Duration(a.cfg.LinkWindowSeconds) * time.Second,
		RunCountThreshold: a.cfg.RunCountThreshold,
	})
}

// ExportArtifacts writes every stored record to a file, newest first,
// in the requested format: "csv", "tln" or "jsonl". Returns the number
// of rows written.
func (a *App) ExportArtifacts(ctx context.Context, outPath, format string) (int, error) {
	var write func(io.Writer, []*model.ArtifactRecord) error
	switch format {
	case "csv":
		write = report.WriteArtifactsCSV
	case "tln":
		write = report.WriteTLN
	case "jsonl":
		write = report.WriteJSONL
	default:
		return 0, fmt.Errorf("unsupported export format: %s", format)
	}

	recs, err := a.store.QueryAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading artifacts: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()
	if err := write(f, recs); err != nil {
		return 0, err
	}
	return len(recs), nil
}

// ImportArtifactsCSV loads artifact rows from a CSV export and persists
// them. Returns the number of rows written.
func (a *App) ImportArtifactsCSV(ctx context.Context, path string) (int, error) {
	result, err := csvparser.ReadRecords(path, func(count int) {
		log.WithField("rows", count).Debug("reading import csv")
	})
	if err != nil {
		return 0, err
	}
	if result.Excluded > 0 {
		log.WithField("rows", result.Excluded).Warn("skipped malformed import rows")
	}
	if len(result.Records) == 0 {
		return 0, nil
	}
	n, err := a.store.BulkInsert(ctx, result.Records, nil)
	if err != nil {
		return n, fmt.Errorf("storing imported artifacts: %w", err)
	}
	return n, nil
}

// ExportCorrelationCSV runs a correlation pass and writes the event
// stream to a CSV file. Returns the number of events written.
func (a *App) ExportCorrelationCSV(ctx context.Context, outPath string) (int, error) {
	events := a.Correlate(ctx)
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating export file: %w", err)
	}
	defer f.Close()
	if err := report.WriteCorrelationCSV(f, events); err != nil {
		return 0, err
	}
	return len(events), nil
}

// WriteReport writes the case report CSV: the metadata header, counts
// by type and every artifact row. Returns the artifact row count.
func (a *App) WriteReport(ctx context.Context, outPath string, details report.CaseDetails) (int, error) {
	recs, err := a.store.QueryAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading artifacts: %w", err)
	}
	meta := report.BuildMetadata(a.store.Path(), "v"+Version, details)
	f, err := os.Create(outPath)
	if err != nil {
		return 0, fmt.Errorf("creating report file: %w", err)
	}
	defer f.Close()
	if err := report.WriteReportCSV(f, meta, recs); err != nil {
		return 0, err
	}
	log.WithFields(logrus.Fields{"path": outPath, "rows": len(recs)}).Info("report written")
	return len(recs), nil
}

// StoreStats summarizes the store for the stats command.
type StoreStats struct {
	Path     string
	Counts   map[string]int64
	Timeline []report.Bucket
}

// Stats reports per-type row counts and the event-time histogram.
func (a *App) Stats(ctx context.Context, bins int) (*StoreStats, error) {
	counts, err := a.store.CountByType()
	if err != nil {
		return nil, fmt.Errorf("counting artifacts: %w", err)
	}
	recs, err := a.store.QueryAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading artifacts: %w", err)
	}
	return &StoreStats{
		Path:     a.store.Path(),
		Counts:   counts,
		Timeline: report.TimelineHistogram(recs, bins),
	}, nil
}

// ClearStore deletes every stored artifact row. The schema stays.
func (a *App) ClearStore() error {
	if err := a.store.Clear(); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	log.WithField("store", a.store.Path()).Info("store cleared")
	return nil
}

func (a *App) dialect() query.QueryDialect {
	if a.cfg.Driver == "postgres" {
		return &database.PostgresDialect{}
	}
	return &database.SQLiteDialect{}
}
