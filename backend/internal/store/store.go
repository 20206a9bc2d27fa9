// Package store defines the filtered record store every component persists
// through, plus an in-process implementation. Adapters for real backends
// live in the gormstore and neo4jstore subpackages.
package store

import (
	"context"
)

// Row is a single record keyed by column name
type Row map[string]any

// Op is a filter comparison operator
type Op string

const (
	OpEq    Op = "eq"
	OpNeq   Op = "neq"
	OpIn    Op = "in"
	OpNotIn Op = "not_in"
)

// Filter restricts a query to rows whose Column compares to Value under Op.
// For OpIn and OpNotIn, Value is a []any.
type Filter struct {
	Column string
	Op     Op
	Value  any
}

// Order sorts query results by a column
type Order struct {
	Column string
	Desc   bool
}

// Query selects rows matching every filter. Limit <= 0 means unlimited.
type Query struct {
	Filters []Filter
	Order   []Order
	Limit   int
}

// Store is the record store contract. Every backend must treat an Update or
// Delete without filters as invalid rather than touching every row.
type Store interface {
	Select(ctx context.Context, table string, q Query) ([]Row, error)
	Insert(ctx context.Context, table string, rows ...Row) error
	Update(ctx context.Context, table string, fields Row, filters ...Filter) (int, error)
	Upsert(ctx context.Context, table string, row Row, conflictKeys ...string) error
	Delete(ctx context.Context, table string, filters ...Filter) (int, error)
}

// Eq matches rows where column == value
func Eq(column string, value any) Filter {
	return Filter{Column: column, Op: OpEq, Value: value}
}

// Neq matches rows where column != value
func Neq(column string, value any) Filter {
	return Filter{Column: column, Op: OpNeq, Value: value}
}

// In matches rows where column is one of values
func In(column string, values ...any) Filter {
	return Filter{Column: column, Op: OpIn, Value: values}
}

// InStrings is In for a string slice
func InStrings(column string, values []string) Filter {
	return Filter{Column: column, Op: OpIn, Value: toAny(values)}
}

// NotInStrings matches rows where column is none of values
func NotInStrings(column string, values []string) Filter {
	return Filter{Column: column, Op: OpNotIn, Value: toAny(values)}
}

// Where builds a query from filters
func Where(filters ...Filter) Query {
	return Query{Filters: filters}
}

// OrderBy returns a copy of q sorted by column
func (q Query) OrderBy(column string, desc bool) Query {
	q.Order = append(append([]Order{}, q.Order...), Order{Column: column, Desc: desc})
	return q
}

// WithLimit returns a copy of q capped at n rows
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

// Values returns the list operand of an In/NotIn filter
func (f Filter) Values() []any {
	switch v := f.Value.(type) {
	case []any:
		return v
	case []string:
		return toAny(v)
	case nil:
		return nil
	default:
		return []any{v}
	}
}

func toAny(values []string) []any {
	out := make([]any, len(values))
	for i, v := range values {
		out[i] = v
	}
	return out
}
