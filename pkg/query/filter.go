package query

import (
	"sort"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/indexlevel"
)

// ConditionKind discriminates the three filter-condition shapes:
// equality, one-of, and range.
type ConditionKind int

const (
	CondEqual ConditionKind = iota
	CondOneOf
	CondRange
)

// Condition is one property's condition within a Conjunct. Exactly the
// fields matching Kind are meaningful.
type Condition struct {
	Kind  ConditionKind
	Equal indexlevel.Value
	OneOf []indexlevel.Value

	GT, GTE, LT, LTE *indexlevel.Value
}

// Equal builds an equality condition.
func Equal(v indexlevel.Value) Condition { return Condition{Kind: CondEqual, Equal: v} }

// OneOf builds a one-of condition.
func OneOf(vs ...indexlevel.Value) Condition { return Condition{Kind: CondOneOf, OneOf: vs} }

// Range builds a range condition. Pass nil for unused bounds.
func Range(gt, gte, lt, lte *indexlevel.Value) Condition {
	return Condition{Kind: CondRange, GT: gt, GTE: gte, LT: lt, LTE: lte}
}

// Conjunct is one filter entry: an AND over its property->condition
// pairs.
type Conjunct map[string]Condition

// Filters is the outer OR-list a query is evaluated against.
type Filters []Conjunct

// Direction is the sort direction requested for a query.
type Direction int

const (
	Asc Direction = iota
	Desc
)

// Sort names the property results are ordered by and the direction.
type Sort struct {
	Property  string
	Direction Direction
}

// validate checks structural rules: no empty conjuncts anywhere in the
// list, and every range condition has exactly one strictness per side.
func (fs Filters) validate() error {
	for _, c := range fs {
		if len(c) == 0 {
			return dwnerr.New("query.validate", dwnerr.BadFilter)
		}
		for _, cond := range c {
			if err := cond.validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c Condition) validate() error {
	switch c.Kind {
	case CondEqual:
		return nil
	case CondOneOf:
		if len(c.OneOf) == 0 {
			return dwnerr.New("query.Condition.validate", dwnerr.BadFilter)
		}
		return nil
	case CondRange:
		if c.GT != nil && c.GTE != nil {
			return dwnerr.New("query.Condition.validate", dwnerr.BadFilter)
		}
		if c.LT != nil && c.LTE != nil {
			return dwnerr.New("query.Condition.validate", dwnerr.BadFilter)
		}
		if c.GT == nil && c.GTE == nil && c.LT == nil && c.LTE == nil {
			return dwnerr.New("query.Condition.validate", dwnerr.BadFilter)
		}
		return nil
	default:
		return dwnerr.New("query.Condition.validate", dwnerr.BadFilter)
	}
}

// matchesCondition reports whether value satisfies cond. Values of a
// different Kind than the condition expects never match: mixing types
// under one property is a usage contract, not something this package
// enforces, so a cross-type comparison here deterministically fails
// rather than panicking.
func matchesCondition(value indexlevel.Value, cond Condition) bool {
	switch cond.Kind {
	case CondEqual:
		return value.Kind == cond.Equal.Kind && compareValues(value, cond.Equal) == 0
	case CondOneOf:
		for _, v := range cond.OneOf {
			if value.Kind == v.Kind && compareValues(value, v) == 0 {
				return true
			}
		}
		return false
	case CondRange:
		if value.Kind == indexlevel.KindString && !rangeSameKind(cond, indexlevel.KindString) {
			return false
		}
		if cond.GT != nil {
			if value.Kind != cond.GT.Kind || compareValues(value, *cond.GT) <= 0 {
				return false
			}
		}
		if cond.GTE != nil {
			if value.Kind != cond.GTE.Kind || compareValues(value, *cond.GTE) < 0 {
				return false
			}
		}
		if cond.LT != nil {
			if value.Kind != cond.LT.Kind || compareValues(value, *cond.LT) >= 0 {
				return false
			}
		}
		if cond.LTE != nil {
			if value.Kind != cond.LTE.Kind || compareValues(value, *cond.LTE) > 0 {
				return false
			}
		}
		return true
	}
	return false
}

func rangeSameKind(cond Condition, k indexlevel.ValueKind) bool {
	for _, b := range []*indexlevel.Value{cond.GT, cond.GTE, cond.LT, cond.LTE} {
		if b != nil && b.Kind != k {
			return false
		}
	}
	return true
}

// compareValues orders two values of the same Kind the same way their
// sortable byte encoding would; for differing Kinds the comparison is
// implementation-defined (ordered by Kind) since the engine never
// enforces same-type-per-property.
func compareValues(a, b indexlevel.Value) int {
	if a.Kind != b.Kind {
		if a.Kind < b.Kind {
			return -1
		}
		return 1
	}
	ea, _ := indexlevel.Encode(a)
	eb, _ := indexlevel.Encode(b)
	switch {
	case string(ea) < string(eb):
		return -1
	case string(ea) > string(eb):
		return 1
	default:
		return 0
	}
}

// MatchesConjunct reports whether indexes satisfies every condition in c.
// A property absent from indexes never matches a condition on it.
func MatchesConjunct(indexes indexlevel.Indexes, c Conjunct) bool {
	for prop, cond := range c {
		v, ok := indexes[prop]
		if !ok {
			return false
		}
		if !matchesCondition(v, cond) {
			return false
		}
	}
	return true
}

// MatchesAny reports whether indexes satisfies at least one conjunct in
// fs. It is the evaluator shared by the query engine's post-filter step
// and pkg/events' synchronous subscriber dispatch.
func MatchesAny(indexes indexlevel.Indexes, fs Filters) bool {
	for _, c := range fs {
		if MatchesConjunct(indexes, c) {
			return true
		}
	}
	return false
}

// sortedOneOf returns cond's values in ascending encoded order, the
// order a one-of driver scan needs to iterate in to stay deterministic.
func sortedOneOf(values []indexlevel.Value) []indexlevel.Value {
	out := append([]indexlevel.Value(nil), values...)
	sort.Slice(out, func(i, j int) bool {
		return compareValues(out[i], out[j]) < 0
	})
	return out
}
