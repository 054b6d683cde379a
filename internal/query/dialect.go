package query

// QueryDialect abstracts the one SQL syntax difference filter
// compilation cares about. database.Dialect satisfies it structurally,
// so a store's own dialect can be passed straight through.
type QueryDialect interface {
	// Placeholder returns the parameter placeholder for the given 1-based
	// index. SQLite returns "?" (ignoring the index), PostgreSQL returns
	// "$1", "$2", etc.
	Placeholder(index int) string
}

// sqliteQueryDialect is the default dialect, producing SQLite-compatible SQL.
type sqliteQueryDialect struct{}

func (d sqliteQueryDialect) Placeholder(index int) string { return "?" }

// DefaultDialect is the query dialect used when none is explicitly set.
// It produces SQLite-compatible SQL.
var DefaultDialect QueryDialect = sqliteQueryDialect{}
