package database

// Dialect abstracts all database-specific SQL generation. Each backend
// (SQLite, PostgreSQL) implements this interface; the stores share the
// logical SQL and differ only through it. Placeholder matches the
// query.QueryDialect interface through Go structural typing, so a
// Dialect can also serve as a QueryDialect.
type Dialect interface {
	// DriverName returns the database/sql driver name (e.g. "sqlite", "pgx").
	DriverName() string

	// DSN returns the data source name for opening a connection.
	// For SQLite this wraps the file path with the WAL/busy-timeout
	// pragmas; for PostgreSQL it passes the connection string through.
	DSN(pathOrConnStr string) string

	// Placeholder returns the parameter placeholder for the given 1-based
	// index. SQLite: "?" (ignoring index), PostgreSQL: "$1", "$2", etc.
	Placeholder(index int) string

	// SchemaCheckColumnSQL returns a query counting how many times a
	// column appears in a table's schema. Used for migration checks.
	// SQLite queries pragma_table_info; PostgreSQL information_schema.
	SchemaCheckColumnSQL(table, column string) string

	// CreateTableSQL returns the DDL for the artifacts table.
	CreateTableSQL() string

	// CreateIndexSQL returns DDL to create an index on a table column.
	CreateIndexSQL(indexName, tableName, column string) string

	// InsertArtifactSQL returns the parameterized INSERT statement for a
	// single artifact row: 8 columns, 8 placeholders.
	InsertArtifactSQL() string
}
