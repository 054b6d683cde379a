package database

import "fmt"

// PostgresDialect implements the Dialect interface for PostgreSQL
// databases. Timestamps stay TEXT: the stored values are fixed-width
// ISO-8601 Z strings, so lexicographic ordering matches time ordering
// and the two backends share the same query SQL.
type PostgresDialect struct{}

func (d *PostgresDialect) DriverName() string           { return "pgx" }
func (d *PostgresDialect) DSN(connStr string) string    { return connStr }
func (d *PostgresDialect) Placeholder(index int) string { return fmt.Sprintf("$%d", index) }

func (d *PostgresDialect) SchemaCheckColumnSQL(table, column string) string {
	return fmt.Sprintf(
		"SELECT COUNT(*) FROM information_schema.columns WHERE table_name='%s' AND column_name='%s'",
		table, column)
}

func (d *PostgresDialect) CreateTableSQL() string {
	return `CREATE TABLE IF NOT EXISTS artifacts (
		id SERIAL PRIMARY KEY,
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

func (d *PostgresDialect) CreateIndexSQL(indexName, tableName, column string) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON %s (%s)", indexName, tableName, column)
}

func (d *PostgresDialect) InsertArtifactSQL() string {
	return `INSERT INTO artifacts (
		artifact_type, name, path, timestamp, last_access, run_count, extra, details
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
}
