package database

import "fmt"

// SQLiteDialect implements the Dialect interface for SQLite databases.
type SQLiteDialect struct{}

func (d *SQLiteDialect) DriverName() string           { return "sqlite" }
func (d *SQLiteDialect) Placeholder(index int) string { return "?" }

// DSN wraps the file path with the pragmas every connection needs:
// WAL journaling so readers don't block the writer, a 30s busy timeout,
// and NORMAL synchronous mode.
func (d *SQLiteDialect) DSN(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(30000)" +
		"&_pragma=synchronous(NORMAL)"
}

func (d *SQLiteDialect) SchemaCheckColumnSQL(table, column string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name='%s'", table, column)
}

func (d *SQLiteDialect) CreateTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS artifacts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		artifact_type TEXT,
		name TEXT,
		path TEXT,
		timestamp TEXT,
		last_access TEXT,
		run_count INTEGER,
		extra TEXT,
		details TEXT
	)`
}

func (d *SQLiteDialect) CreateIndexSQL(indexName, tableName, column string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, column)
}

func (d *SQLiteDialect) InsertArtifactSQL() string {
	return `INSERT INTO artifacts (
		artifact_type, name, path, timestamp, last_access, run_count, extra, details
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
}
