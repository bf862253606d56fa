// Package search validates declarative filter/sort parameters against the
// parameter registry, compiles them into a storage-neutral query plan and
// executes that plan through a Finder.
package search

import (
	"encoding/json"
	"errors"
	"time"
)

// ErrNotValidated is returned when a payload did not come from the Validator.
var ErrNotValidated = errors.New("payload has not been validated")

// Direction is the order of a sort clause.
type Direction int

// Sort directions. "low" sorts ascending and "high" sorts descending.
const (
	Ascending Direction = iota
	Descending
)

func (d Direction) String() string {
	if d == Descending {
		return "high"
	}
	return "low"
}

// Value is a typed clause value. Which field is meaningful depends on the
// parameter's data type: Text for string and string-options (the declared
// option spelling), Number for numeric, Time for date-time.
type Value struct {
	Text   string
	Number float64
	Time   time.Time
}

// FilterClause is either a ValueFilter or a RangeFilter.
type FilterClause interface {
	Parameter() string
	filterClause()
}

// ValueFilter keeps records whose parameter matches one of Values.
type ValueFilter struct {
	Param  string
	Values []Value
}

// Parameter implements FilterClause.
func (f ValueFilter) Parameter() string { return f.Param }
func (ValueFilter) filterClause()       {}

// RangeFilter keeps records whose parameter lies within [Min, Max]; either
// bound may be nil.
type RangeFilter struct {
	Param string
	Min   *Value
	Max   *Value
}

// Parameter implements FilterClause.
func (f RangeFilter) Parameter() string { return f.Param }
func (RangeFilter) filterClause()       {}

// SortClause orders results by one parameter.
type SortClause struct {
	Param     string
	Direction Direction
}

// Payload is a filter/sort request that passed validation. It can only be
// produced by Validator.Validate.
type Payload struct {
	filters    []FilterClause
	sorts      []SortClause
	rawFilters any
	rawSorts   any
}

// Filters returns the typed filter clauses in request order.
func (p *Payload) Filters() []FilterClause {
	return append([]FilterClause(nil), p.filters...)
}

// Sorts returns the typed sort clauses in priority order.
func (p *Payload) Sorts() []SortClause {
	return append([]SortClause(nil), p.sorts...)
}

// RawFilters returns the filter clauses as they were submitted.
func (p *Payload) RawFilters() any { return p.rawFilters }

// RawSorts returns the sort clauses as they were submitted.
func (p *Payload) RawSorts() any { return p.rawSorts }

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
