package search

import (
	"fmt"
	"strings"
	"time"

	"github.com/ortelius/cvefeed-backend/internal/params"
)

// DateLayout is the only timestamp format accepted in filter values.
const DateLayout = "2006-01-02T15:04:05Z"

const (
	keyParameter = "parameter"
	keyValues    = "included_values"
	keyRange     = "included_range"
	keyDirection = "direction"
	keyMin       = "min"
	keyMax       = "max"
)

// Validator checks filter and sort clauses against the registry.
type Validator struct {
	reg *params.Registry
}

// NewValidator returns a validator bound to reg.
func NewValidator(reg *params.Registry) *Validator {
	return &Validator{reg: reg}
}

// Registry returns the registry the validator checks against.
func (v *Validator) Registry() *params.Registry { return v.reg }

// Validate checks decoded JSON filter and sort clause lists. It returns the
// typed payload when there are no errors, otherwise nil and the error list.
// Filters are checked before sorts; each list stops at the first stage that
// reports errors.
func (v *Validator) Validate(filters, sorts any) (*Payload, []string) {
	typedFilters, errs := v.validateFilters(filters)
	typedSorts, sortErrs := v.validateSorts(sorts)
	errs = append(errs, sortErrs...)

	if len(errs) > 0 {
		return nil, errs
	}
	return &Payload{
		filters:    typedFilters,
		sorts:      typedSorts,
		rawFilters: filters,
		rawSorts:   sorts,
	}, nil
}

// present treats JSON null the same as a missing key.
func present(m map[string]any, key string) bool {
	v, ok := m[key]
	return ok && v != nil
}

func (v *Validator) validateFilters(raw any) ([]FilterClause, []string) {
	list, ok := raw.([]any)
	if !ok {
		return nil, []string{"Filter parameters should be a list."}
	}

	// Stage 1: structure
	var errs []string
	var notObject, noName, neither, both bool
	clauses := make([]map[string]any, 0, len(list))
	seen := make(map[string]bool)
	var dups []string
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			notObject = true
			continue
		}
		name, ok := m[keyParameter].(string)
		if !ok {
			noName = true
		} else {
			if seen[name] {
				dups = append(dups, name)
			}
			seen[name] = true
		}
		hasValues, hasRange := present(m, keyValues), present(m, keyRange)
		switch {
		case !hasValues && !hasRange:
			neither = true
		case hasValues && hasRange:
			both = true
		}
		clauses = append(clauses, m)
	}
	if notObject {
		errs = append(errs, "Each filter parameter should be an object.")
	}
	if noName {
		errs = append(errs, "Filter parameters should have a 'parameter' key, which is a string.")
	}
	if neither {
		errs = append(errs, "Filter parameters need to include either an 'included_range' or 'included_values' key.")
	}
	if both {
		errs = append(errs, "Filter parameters cannot include both an 'included_range' and 'included_values' key.")
	}
	for _, name := range dups {
		errs = append(errs, fmt.Sprintf("Filter parameters should not contain duplicates: %s.", name))
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 2: shape of included_range / included_values
	for _, m := range clauses {
		name := m[keyParameter].(string)
		if present(m, keyRange) {
			rng, ok := m[keyRange].(map[string]any)
			if !ok {
				errs = append(errs, fmt.Sprintf("Filter parameter 'included_range' for %s should be an object.", name))
				continue
			}
			if !present(rng, keyMin) && !present(rng, keyMax) {
				errs = append(errs, fmt.Sprintf("Filter parameter 'included_range' for %s should have a 'min' or 'max' value.", name))
			}
			continue
		}
		values, ok := m[keyValues].([]any)
		if !ok {
			errs = append(errs, fmt.Sprintf("Filter parameter 'included_values' for %s should be a list.", name))
			continue
		}
		if len(values) == 0 {
			errs = append(errs, fmt.Sprintf("Filter parameter 'included_values' for %s should contain at least one value.", name))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 3: registry membership
	for _, m := range clauses {
		name := m[keyParameter].(string)
		if _, ok := v.reg.Lookup(name); !ok {
			errs = append(errs, fmt.Sprintf("Filter parameter %s is not in the list of possible parameters.", name))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 4: operation legality
	for _, m := range clauses {
		name := m[keyParameter].(string)
		def, _ := v.reg.Lookup(name)
		if present(m, keyRange) && !def.Accepts(params.OpFilterByRange) {
			errs = append(errs, fmt.Sprintf("Parameter %s cannot be filtered by a range.", name))
		}
		if present(m, keyValues) && !def.Accepts(params.OpFilterByValue) {
			errs = append(errs, fmt.Sprintf("Parameter %s cannot be filtered by values.", name))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 5 and 6: typed values, ordering, duplicates
	typed := make([]FilterClause, 0, len(clauses))
	for _, m := range clauses {
		def, _ := v.reg.Lookup(m[keyParameter].(string))
		if present(m, keyRange) {
			clause, clauseErrs := checkRange(def, m[keyRange].(map[string]any))
			errs = append(errs, clauseErrs...)
			typed = append(typed, clause)
			continue
		}
		clause, clauseErrs := checkValues(def, m[keyValues].([]any))
		errs = append(errs, clauseErrs...)
		typed = append(typed, clause)
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return typed, nil
}

// parseValue converts one raw value according to the parameter's data type.
// The returned key identifies the value for duplicate detection.
func parseValue(def params.Definition, raw any) (Value, string, bool) {
	switch def.DataType {
	case params.TypeStringOptions:
		s, ok := raw.(string)
		if !ok {
			return Value{}, "", false
		}
		canon, ok := def.Canonical(s)
		if !ok {
			return Value{}, "", false
		}
		return Value{Text: canon}, canon, true
	case params.TypeDateTime:
		s, ok := raw.(string)
		if !ok {
			return Value{}, "", false
		}
		t, ok := parseStrictTime(s)
		if !ok {
			return Value{}, "", false
		}
		return Value{Time: t}, t.String(), true
	case params.TypeNumeric:
		f, ok := toFloat(raw)
		if !ok {
			return Value{}, "", false
		}
		return Value{Number: f}, fmt.Sprint(f), true
	default:
		s, ok := raw.(string)
		if !ok {
			return Value{}, "", false
		}
		return Value{Text: s}, s, true
	}
}

// parseStrictTime accepts exactly DateLayout; time.Parse alone would also
// accept fractional seconds.
func parseStrictTime(s string) (time.Time, bool) {
	if len(s) != len(DateLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func typeMismatch(def params.Definition, what string) string {
	switch def.DataType {
	case params.TypeStringOptions:
		return fmt.Sprintf("%s for %s should be in the list of options: %s.", what, def.Name, strings.Join(def.PossibleValues, ", "))
	case params.TypeDateTime:
		return fmt.Sprintf("%s for %s should be timestamps in the format YYYY-MM-DDTHH:MM:SSZ.", what, def.Name)
	case params.TypeNumeric:
		return fmt.Sprintf("%s for %s should be numeric.", what, def.Name)
	default:
		return fmt.Sprintf("%s for %s should be strings.", what, def.Name)
	}
}

func checkValues(def params.Definition, raw []any) (FilterClause, []string) {
	var errs []string
	clause := ValueFilter{Param: def.Name, Values: make([]Value, 0, len(raw))}
	seen := make(map[string]bool, len(raw))
	mismatch, duplicate, blank := false, false, false
	substring := def.Accepts(params.OpSubstringSearch)

	for _, r := range raw {
		val, key, ok := parseValue(def, r)
		if !ok {
			mismatch = true
			continue
		}
		if substring && strings.TrimSpace(val.Text) == "" {
			blank = true
			continue
		}
		if seen[key] {
			duplicate = true
			continue
		}
		seen[key] = true
		clause.Values = append(clause.Values, val)
	}

	if mismatch {
		errs = append(errs, typeMismatch(def, "Values"))
	}
	if blank {
		errs = append(errs, fmt.Sprintf("Values for %s should not be empty strings.", def.Name))
	}
	if duplicate {
		errs = append(errs, fmt.Sprintf("Values for %s should not contain duplicates.", def.Name))
	}
	return clause, errs
}

func checkRange(def params.Definition, rng map[string]any) (FilterClause, []string) {
	clause := RangeFilter{Param: def.Name}
	mismatch := false

	for _, key := range []string{keyMin, keyMax} {
		if !present(rng, key) {
			continue
		}
		val, _, ok := parseValue(def, rng[key])
		if !ok {
			mismatch = true
			continue
		}
		if key == keyMin {
			clause.Min = &val
		} else {
			clause.Max = &val
		}
	}

	if mismatch {
		return clause, []string{typeMismatch(def, "Range values")}
	}
	if clause.Min == nil || clause.Max == nil {
		return clause, nil
	}

	ordered := true
	switch def.DataType {
	case params.TypeStringOptions:
		ordered = def.Rank(clause.Min.Text) < def.Rank(clause.Max.Text)
	case params.TypeDateTime:
		ordered = clause.Min.Time.Before(clause.Max.Time)
	case params.TypeNumeric:
		ordered = clause.Min.Number < clause.Max.Number
	}
	if !ordered {
		return clause, []string{fmt.Sprintf("Min value for %s should be less than max value.", def.Name)}
	}
	return clause, nil
}

func (v *Validator) validateSorts(raw any) ([]SortClause, []string) {
	list, ok := raw.([]any)
	if !ok {
		return nil, []string{"Sort parameters should be a list."}
	}

	// Stage 1: structure
	var errs []string
	var notObject, noName, noDirection bool
	clauses := make([]map[string]any, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			notObject = true
			continue
		}
		if _, ok := m[keyParameter].(string); !ok {
			noName = true
		}
		if _, ok := m[keyDirection].(string); !ok {
			noDirection = true
		}
		clauses = append(clauses, m)
	}
	if notObject {
		errs = append(errs, "Each sort parameter should be an object.")
	}
	if noName {
		errs = append(errs, "Sort parameters should all have a 'parameter' key, which is a string.")
	}
	if noDirection {
		errs = append(errs, "Sort parameters should all have a 'direction' key, which is a string.")
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 2: duplicates, direction vocabulary, registry membership
	seen := make(map[string]bool)
	badDirection := false
	for _, m := range clauses {
		name := m[keyParameter].(string)
		if seen[name] {
			errs = append(errs, fmt.Sprintf("Sort parameters should not contain duplicates: %s.", name))
		}
		seen[name] = true
		if d := m[keyDirection].(string); d != "low" && d != "high" {
			badDirection = true
		}
	}
	if badDirection {
		errs = append(errs, "Sort parameter 'direction' should be either 'low' or 'high'.")
	}
	for _, m := range clauses {
		name := m[keyParameter].(string)
		if _, ok := v.reg.Lookup(name); !ok {
			errs = append(errs, fmt.Sprintf("Sort parameter %s is not in the list of possible parameters.", name))
		}
	}
	if len(errs) > 0 {
		return nil, errs
	}

	// Stage 3: operation legality
	typed := make([]SortClause, 0, len(clauses))
	for _, m := range clauses {
		name := m[keyParameter].(string)
		def, _ := v.reg.Lookup(name)
		if !def.Accepts(params.OpSort) {
			errs = append(errs, fmt.Sprintf("Parameter %s cannot be sorted.", name))
			continue
		}
		dir := Ascending
		if m[keyDirection].(string) == "high" {
			dir = Descending
		}
		typed = append(typed, SortClause{Param: name, Direction: dir})
	}
	if len(errs) > 0 {
		return nil, errs
	}
	return typed, nil
}
