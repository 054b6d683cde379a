package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wabproject/wab/internal/model"

	_ "modernc.org/sqlite"
)

var log = logrus.WithField("component", "database")

// Lock-retry parameters. WAL plus the busy timeout absorbs most
// contention; writes that still surface "database is locked" are retried
// every retrySleep until retryWindow has elapsed, then the error
// propagates.
const (
	bulkChunkSize = 200
	retryWindow   = 15 * time.Second
	retrySleep    = 100 * time.Millisecond
)

// indexedColumns get an index at schema creation time.
var indexedColumns = []string{"artifact_type", "timestamp", "last_access"}

// migrations lists columns added after the first schema revision shipped.
// Each is applied with ALTER TABLE only when missing, so opening a store
// written by an older build never loses data.
var migrations = []struct {
	column string
	ddl    string
}{
	{"details", "ALTER TABLE artifacts ADD COLUMN details TEXT"},
	{"run_count", "ALTER TABLE artifacts ADD COLUMN run_count INTEGER"},
}

// eventTimeExpr coalesces the two time columns into the sort key.
// NULLIF treats empty strings left by older writers as missing.
const eventTimeExpr = "COALESCE(NULLIF(timestamp, ''), NULLIF(last_access, ''))"

// selectColumns is the shared SELECT list; scanArtifacts depends on this
// exact column order.
const selectColumns = "id, COALESCE(artifact_type, ''), COALESCE(name, ''), " +
	"COALESCE(path, ''), COALESCE(timestamp, ''), COALESCE(last_access, ''), " +
	"run_count, COALESCE(extra, ''), COALESCE(details, '')"

// SQLiteStore manages all SQLite operations for an artifact store.
// It implements the Store interface.
type SQLiteStore struct {
	path    string
	conn    *sql.DB
	dialect Dialect
}

// OpenSQLite opens the artifact store at path, creating the file, its
// parent folder, and the schema when missing.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database folder: %w", err)
		}
	}

	d := &SQLiteDialect{}

	conn, err := sql.Open(d.DriverName(), d.DSN(path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	db := &SQLiteStore{path: path, conn: conn, dialect: d}
	if err := db.Init(); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// Init creates the artifacts table and its indexes if missing, then
// applies column migrations. Idempotent.
func (db *SQLiteStore) Init() error {
	if _, err := db.conn.Exec(db.dialect.CreateTableSQL()); err != nil {
		return fmt.Errorf("creating artifacts table: %w", err)
	}
	for _, col := range indexedColumns {
		if _, err := db.conn.Exec(db.dialect.CreateIndexSQL(col+"_idx", "artifacts", col)); err != nil {
			return fmt.Errorf("creating index on %s: %w", col, err)
		}
	}
	return db.Migrate()
}

// Migrate adds columns that pre-existing stores lack. Best effort: a
// store created by Init already has every column and each check is a
// no-op.
func (db *SQLiteStore) Migrate() error {
	for _, m := range migrations {
		var count int
		err := db.conn.QueryRow(
			db.dialect.SchemaCheckColumnSQL("artifacts", m.column),
		).Scan(&count)
		if err == nil && count == 0 {
			if _, aerr := db.conn.Exec(m.ddl); aerr != nil {
				log.WithError(aerr).Warnf("adding column %s", m.column)
			}
		}
	}
	return nil
}

// Close closes the database connection.
func (db *SQLiteStore) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

// Path returns the file path of the database.
func (db *SQLiteStore) Path() string {
	return db.path
}

// InsertArtifact inserts a single record, retrying on lock contention.
func (db *SQLiteStore) InsertArtifact(rec *model.ArtifactRecord) error {
	return withLockRetry(func() error {
		_, err := db.conn.Exec(db.dialect.InsertArtifactSQL(), insertArgs(rec)...)
		return err
	})
}

// BulkInsert inserts records in chunks of bulkChunkSize rows, one
// transaction per chunk, each chunk retried on lock contention. Returns
// the number of rows committed before any error.
func (db *SQLiteStore) BulkInsert(ctx context.Context, recs []*model.ArtifactRecord, onProgress func(int)) (int, error) {
	inserted := 0
	for start := 0; start < len(recs); start += bulkChunkSize {
		if err := ctx.Err(); err != nil {
			return inserted, err
		}
		end := start + bulkChunkSize
		if end > len(recs) {
			end = len(recs)
		}
		chunk := recs[start:end]

		err := withLockRetry(func() error {
			return insertChunk(ctx, db.conn, db.dialect.InsertArtifactSQL(), chunk, insertArgs)
		})
		if err != nil {
			return inserted, fmt.Errorf("inserting chunk at row %d: %w", start, err)
		}
		inserted += len(chunk)
		if onProgress != nil {
			onProgress(inserted)
		}
	}
	return inserted, nil
}

// QueryAll returns every record ordered by coalesced event time,
// newest first; records without any time sort last.
func (db *SQLiteStore) QueryAll(ctx context.Context) ([]*model.ArtifactRecord, error) {
	query := "SELECT " + selectColumns + " FROM artifacts ORDER BY " +
		eventTimeExpr + " DESC NULLS LAST"
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// QueryForCorrelation returns the time-bearing records ordered by
// coalesced event time ascending, the order the correlator requires.
func (db *SQLiteStore) QueryForCorrelation(ctx context.Context) ([]*model.ArtifactRecord, error) {
	query := "SELECT " + selectColumns + " FROM artifacts WHERE " +
		eventTimeExpr + " IS NOT NULL ORDER BY " + eventTimeExpr + " ASC"
	rows, err := db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts for correlation: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// QueryFiltered returns records matching a caller-built WHERE clause,
// ordered by coalesced event time descending. limit <= 0 means no limit.
func (db *SQLiteStore) QueryFiltered(ctx context.Context, where string, args []interface{}, limit int) ([]*model.ArtifactRecord, error) {
	query := "SELECT " + selectColumns + " FROM artifacts"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY " + eventTimeExpr + " DESC NULLS LAST"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying artifacts: %w", err)
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

// CountByType returns the record count per artifact type.
func (db *SQLiteStore) CountByType() (map[string]int64, error) {
	rows, err := db.conn.Query(
		"SELECT COALESCE(artifact_type, ''), COUNT(*) FROM artifacts GROUP BY artifact_type")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	result := make(map[string]int64)
	for rows.Next() {
		var atype string
		var count int64
		if err := rows.Scan(&atype, &count); err != nil {
			return nil, err
		}
		result[atype] = count
	}
	return result, rows.Err()
}

// Clear deletes every artifact row. The table and indexes remain.
func (db *SQLiteStore) Clear() error {
	_, err := db.conn.Exec("DELETE FROM artifacts")
	return err
}

// insertChunk writes one chunk inside a single transaction.
func insertChunk(ctx context.Context, conn *sql.DB, insertSQL string, chunk []*model.ArtifactRecord, args func(*model.ArtifactRecord) []interface{}) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(insertSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range chunk {
		if _, err := stmt.Exec(args(rec)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// insertArgs maps a record to the insert parameter order. Empty time
// strings and empty details bind as NULL so the COALESCE-based event
// time expressions treat them as missing.
func insertArgs(rec *model.ArtifactRecord) []interface{} {
	return []interface{}{
		rec.ArtifactType, rec.Name, rec.Path,
		nullable(rec.Timestamp), nullable(rec.LastAccess),
		rec.RunCount, rec.Extra, nullable(rec.Details),
	}
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// scanArtifacts converts sql.Rows in selectColumns order into records.
func scanArtifacts(rows *sql.Rows) ([]*model.ArtifactRecord, error) {
	var recs []*model.ArtifactRecord
	for rows.Next() {
		rec := &model.ArtifactRecord{}
		var runCount sql.NullInt64
		err := rows.Scan(
			&rec.ID, &rec.ArtifactType, &rec.Name, &rec.Path,
			&rec.Timestamp, &rec.LastAccess, &runCount, &rec.Extra, &rec.Details,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning artifact row: %w", err)
		}
		if runCount.Valid {
			v := runCount.Int64
			rec.RunCount = &v
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// isLockError reports whether err is SQLite lock contention.
func isLockError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}

// withLockRetry runs fn, retrying while it returns a lock error, until
// retryWindow has elapsed.
func withLockRetry(fn func() error) error {
	start := time.Now()
	for {
		err := fn()
		if err == nil || !isLockError(err) {
			return err
		}
		if time.Since(start) > retryWindow {
			return err
		}
		time.Sleep(retrySleep)
	}
}
