package search

import (
	"fmt"
	"strings"

	"github.com/ortelius/cvefeed-backend/internal/params"
	"github.com/ortelius/cvefeed-backend/model"
)

// PredicateKind is the comparison a predicate performs.
type PredicateKind int

// Predicate kinds.
const (
	// KindIn matches when the field equals one of Values.
	KindIn PredicateKind = iota
	// KindRange matches Min <= field <= Max; a nil bound is open.
	KindRange
	// KindContains matches when the lower-cased field contains any of Values.
	KindContains
)

func (k PredicateKind) String() string {
	switch k {
	case KindRange:
		return "range"
	case KindContains:
		return "contains"
	default:
		return "in"
	}
}

// Predicate is one storage-neutral match condition.
//
// Values hold strings for string and string-options parameters and
// float64 for numeric ones. Range bounds are float64 for numeric
// parameters and canonical timestamp strings for date-time parameters.
type Predicate struct {
	Path   string
	Within string
	Kind   PredicateKind
	Values []any
	Min    any
	Max    any
}

// SortKey orders results by Path. When Ranks is set the field is an ordinal
// option and sorts by its 1-based position in Ranks; absent or unrecognized
// values sort as Unknown.
type SortKey struct {
	Path       string
	Descending bool
	Ranks      []string
	Unknown    int
}

// RankOf returns the sort rank of value under this key.
func (k SortKey) RankOf(value string) int {
	for i, r := range k.Ranks {
		if r == value {
			return i + 1
		}
	}
	return k.Unknown
}

// Plan is a compiled query.
type Plan struct {
	Predicates []Predicate
	Sort       []SortKey
}

// Compiler turns validated payloads into plans.
type Compiler struct {
	reg *params.Registry
}

// NewCompiler returns a compiler bound to reg.
func NewCompiler(reg *params.Registry) *Compiler {
	return &Compiler{reg: reg}
}

// Compile builds the plan for a validated payload. It performs no I/O.
func (c *Compiler) Compile(p *Payload) (Plan, error) {
	if p == nil {
		return Plan{}, ErrNotValidated
	}

	plan := Plan{
		Predicates: make([]Predicate, 0, len(p.filters)),
		Sort:       make([]SortKey, 0, len(p.sorts)),
	}

	for _, f := range p.filters {
		def, err := c.reg.Get(f.Parameter())
		if err != nil {
			return Plan{}, err
		}
		pred := Predicate{Path: def.Path(), Within: def.WithinList()}

		switch clause := f.(type) {
		case ValueFilter:
			pred.Values = make([]any, 0, len(clause.Values))
			pred.Kind = KindIn
			if def.DataType == params.TypeString && def.Accepts(params.OpSubstringSearch) {
				pred.Kind = KindContains
			}
			for _, v := range clause.Values {
				switch {
				case def.DataType == params.TypeNumeric:
					pred.Values = append(pred.Values, v.Number)
				case pred.Kind == KindContains:
					pred.Values = append(pred.Values, strings.ToLower(v.Text))
				default:
					pred.Values = append(pred.Values, v.Text)
				}
			}
		case RangeFilter:
			if def.DataType == params.TypeStringOptions {
				pred.Kind = KindIn
				pred.Values = optionSlice(def, clause.Min, clause.Max)
				break
			}
			pred.Kind = KindRange
			pred.Min = rangeBound(def, clause.Min)
			pred.Max = rangeBound(def, clause.Max)
		default:
			return Plan{}, fmt.Errorf("unsupported filter clause %T", f)
		}

		plan.Predicates = append(plan.Predicates, pred)
	}

	for _, s := range p.sorts {
		def, err := c.reg.Get(s.Param)
		if err != nil {
			return Plan{}, err
		}
		key := SortKey{Path: def.Path(), Descending: s.Direction == Descending}
		if def.DataType == params.TypeStringOptions {
			key.Ranks = append([]string(nil), def.PossibleValues...)
			if key.Descending {
				key.Unknown = len(key.Ranks) + 1
			}
		}
		plan.Sort = append(plan.Sort, key)
	}

	return plan, nil
}

// optionSlice returns the contiguous run of options between the bounds.
func optionSlice(def params.Definition, min, max *Value) []any {
	lo, hi := 1, len(def.PossibleValues)
	if min != nil {
		lo = def.Rank(min.Text)
	}
	if max != nil {
		hi = def.Rank(max.Text)
	}
	out := make([]any, 0, hi-lo+1)
	for _, v := range def.PossibleValues[lo-1 : hi] {
		out = append(out, v)
	}
	return out
}

func rangeBound(def params.Definition, v *Value) any {
	if v == nil {
		return nil
	}
	if def.DataType == params.TypeDateTime {
		return model.FormatTimestamp(v.Time)
	}
	return v.Number
}
