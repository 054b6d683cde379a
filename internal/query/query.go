// Package query compiles artifact listing filters into parameterized
// WHERE clauses for Store.QueryFiltered.
package query

import (
	"fmt"

	"github.com/wabproject/wab/internal/model"
)

// Logic determines how multiple predicates are combined.
type Logic int

const (
	AND Logic = iota
	OR
)

// Operator represents a SQL comparison operator.
type Operator string

const (
	Equal          Operator = "="
	NotEqual       Operator = "!="
	Like           Operator = "LIKE"
	NotLike        Operator = "NOT LIKE"
	GreaterOrEqual Operator = ">="
	LessOrEqual    Operator = "<="
)

// validOperators is the set of allowed operators for validation.
var validOperators = map[Operator]bool{
	Equal: true, NotEqual: true, Like: true, NotLike: true,
	GreaterOrEqual: true, LessOrEqual: true,
}

// eventTime is the coalesced event-time expression the stores order by.
// Stored times are strict ISO-8601 Z strings, so plain string comparison
// orders them chronologically on every backend.
const eventTime = "COALESCE(NULLIF(timestamp, ''), NULLIF(last_access, ''))"

// Bounds substituted for an absent side of a date range. ISO-8601 Z
// strings compare lexicographically, so these sort outside any real time.
const (
	minTimeBound = "0000-01-01T00:00:00Z"
	maxTimeBound = "9999-12-31T23:59:59Z"
)

// Predicate represents a single filter condition or a composite of conditions.
// Predicates use parameterized values to prevent SQL injection.
type Predicate struct {
	kind  predicateKind
	field string
	op    Operator
	value string
	date1 string
	date2 string
	left  *Predicate
	right *Predicate
	logic Logic
}

type predicateKind int

const (
	predNone predicateKind = iota
	predSimple
	predDate
	predComposite
)

// Simple creates a predicate that compares a column to a value.
// Returns nil if the column name is invalid or the operator is unrecognized.
func Simple(field string, op Operator, value string) *Predicate {
	if !isValidField(field) || !validOperators[op] {
		return nil
	}
	return &Predicate{
		kind:  predSimple,
		field: field,
		op:    op,
		value: value,
	}
}

// DateRange creates a predicate filtering records whose coalesced event
// time falls between two ISO-8601 Z datetimes (inclusive).
func DateRange(date1, date2 string) *Predicate {
	return &Predicate{
		kind:  predDate,
		date1: date1,
		date2: date2,
	}
}

// Combine joins multiple predicates with the given logic (AND or OR).
// Returns nil for an empty slice. Returns the single predicate if only one
// is given. Nil predicates in the slice are skipped.
func Combine(preds []*Predicate, logic Logic) *Predicate {
	filtered := make([]*Predicate, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			filtered = append(filtered, p)
		}
	}

	if len(filtered) == 0 {
		return nil
	}
	if len(filtered) == 1 {
		return filtered[0]
	}

	result := &Predicate{
		kind:  predComposite,
		left:  filtered[0],
		right: filtered[1],
		logic: logic,
	}
	for i := 2; i < len(filtered); i++ {
		result = &Predicate{
			kind:  predComposite,
			left:  result,
			right: filtered[i],
			logic: logic,
		}
	}
	return result
}

// WhereClause returns the SQL WHERE fragment and its parameter values
// using the default (SQLite) dialect.
// For example: "(artifact_type = ?)", []interface{}{"prefetch"}
func (p *Predicate) WhereClause() (string, []interface{}) {
	return p.WhereClauseFor(DefaultDialect)
}

// WhereClauseFor renders the predicate tree with d's placeholders,
// numbering them left to right starting at 1.
func (p *Predicate) WhereClauseFor(d QueryDialect) (string, []interface{}) {
	sql, args, _ := p.clause(d, 1)
	return sql, args
}

func (p *Predicate) clause(d QueryDialect, next int) (string, []interface{}, int) {
	if p == nil {
		return "", nil, next
	}

	switch p.kind {
	case predSimple:
		ph := d.Placeholder(next)
		if p.op == Like || p.op == NotLike {
			return fmt.Sprintf("(%s %s %s)", p.field, p.op, ph),
				[]interface{}{"%" + p.value + "%"}, next + 1
		}
		return fmt.Sprintf("(%s %s %s)", p.field, p.op, ph),
			[]interface{}{p.value}, next + 1

	case predDate:
		sql := fmt.Sprintf("(%s BETWEEN %s AND %s)",
			eventTime, d.Placeholder(next), d.Placeholder(next+1))
		return sql, []interface{}{p.date1, p.date2}, next + 2

	case predComposite:
		leftSQL, leftArgs, next := p.left.clause(d, next)
		rightSQL, rightArgs, next := p.right.clause(d, next)

		if leftSQL == "" && rightSQL == "" {
			return "", nil, next
		}
		if leftSQL == "" {
			return rightSQL, rightArgs, next
		}
		if rightSQL == "" {
			return leftSQL, leftArgs, next
		}

		logicStr := "AND"
		if p.logic == OR {
			logicStr = "OR"
		}
		sql := fmt.Sprintf("(%s %s %s)", leftSQL, logicStr, rightSQL)
		return sql, append(leftArgs, rightArgs...), next

	default:
		return "", nil, next
	}
}

// Fields returns the list of column names referenced by this predicate tree.
func (p *Predicate) Fields() []string {
	if p == nil {
		return nil
	}

	switch p.kind {
	case predSimple:
		return []string{p.field}
	case predDate:
		return []string{"timestamp", "last_access"}
	case predComposite:
		seen := make(map[string]bool)
		var result []string
		for _, f := range append(p.left.Fields(), p.right.Fields()...) {
			if !seen[f] {
				seen[f] = true
				result = append(result, f)
			}
		}
		return result
	default:
		return nil
	}
}

// Filter is the artifact listing surface the CLI exposes. Zero fields
// are skipped entirely.
type Filter struct {
	// Types restricts to these artifact types, OR-combined.
	Types []string
	// Name matches as a substring of the record name.
	Name string
	// From and To bound the coalesced event time, inclusive. An absent
	// side is widened to the representable extreme.
	From string
	To   string
}

// Predicate compiles the filter into a predicate tree, or nil when the
// filter is empty.
func (f Filter) Predicate() *Predicate {
	var preds []*Predicate

	if len(f.Types) > 0 {
		typePreds := make([]*Predicate, 0, len(f.Types))
		for _, artifactType := range f.Types {
			typePreds = append(typePreds, Simple("artifact_type", Equal, artifactType))
		}
		preds = append(preds, Combine(typePreds, OR))
	}
	if f.Name != "" {
		preds = append(preds, Simple("name", Like, f.Name))
	}
	if f.From != "" || f.To != "" {
		from, to := f.From, f.To
		if from == "" {
			from = minTimeBound
		}
		if to == "" {
			to = maxTimeBound
		}
		preds = append(preds, DateRange(from, to))
	}

	return Combine(preds, AND)
}

// Where compiles the filter for d, returning the WHERE fragment and its
// arguments. An empty filter yields ("", nil).
func (f Filter) Where(d QueryDialect) (string, []interface{}) {
	p := f.Predicate()
	if p == nil {
		return "", nil
	}
	return p.WhereClauseFor(d)
}

// isValidField checks a column name against the known schema columns.
func isValidField(name string) bool {
	for _, f := range model.Fields {
		if f == name {
			return true
		}
	}
	return false
}
