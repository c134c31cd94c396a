package query

import (
	"context"
	"sort"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/indexlevel"
	dwnlog "github.com/dwn-core/dwn/pkg/log"
	"github.com/dwn-core/dwn/pkg/metrics"
)

// candidate is one item surviving a conjunct's driver scan and
// post-filter check, carrying everything the merge step needs: its
// itemID and its value (if any) for the query's chosen sort property.
// The indexes record read during the post-filter is not kept.
type candidate struct {
	itemID    string
	sortValue indexlevel.Value
	hasSort   bool
}

// chooseDriver implements the deterministic driver-selection policy for
// one conjunct.
func chooseDriver(c Conjunct, sortProperty string) string {
	if cond, ok := c[sortProperty]; ok && cond.Kind == CondRange {
		return sortProperty
	}
	var candidates []string
	for prop, cond := range c {
		if cond.Kind == CondEqual || cond.Kind == CondOneOf {
			candidates = append(candidates, prop)
		}
	}
	if len(candidates) > 0 {
		sort.Strings(candidates)
		return candidates[0]
	}
	return sortProperty
}

// scanConjunct runs one conjunct's driver scan, reads each surviving
// candidate's indexes record once to apply the remaining (non-driver)
// conditions, and returns matches. driverIsSort reports whether the
// chosen driver is srt.Property, in which case the returned slice is
// already ordered by (sortValue, itemID) in srt.Direction — the
// precondition the k-way merge path in engine.go relies on.
func scanConjunct(ctx context.Context, level *indexlevel.Level, c Conjunct, srt Sort) (matches []candidate, driverIsSort bool, err error) {
	driverProp := chooseDriver(c, srt.Property)
	driverIsSort = driverProp == srt.Property
	reverse := driverIsSort && srt.Direction == Desc

	seen := make(map[string]bool)
	var itemIDsInOrder []string
	collect := func(value []byte, itemID string) error {
		if seen[itemID] {
			return nil
		}
		seen[itemID] = true
		itemIDsInOrder = append(itemIDsInOrder, itemID)
		return nil
	}

	cond, hasCond := c[driverProp]
	switch {
	case !hasCond:
		err = level.ScanProperty(ctx, driverProp, nil, nil, reverse, 0, collect)
	case cond.Kind == CondRange:
		gte, lte, rerr := rangeBounds(cond)
		if rerr != nil {
			return nil, false, rerr
		}
		err = level.ScanProperty(ctx, driverProp, gte, lte, reverse, 0, collect)
	case cond.Kind == CondEqual:
		b, eerr := indexlevel.Encode(cond.Equal)
		if eerr != nil {
			return nil, false, eerr
		}
		err = level.ScanProperty(ctx, driverProp, b, b, reverse, 0, collect)
	case cond.Kind == CondOneOf:
		// sortedOneOf is ascending; when this driver doubles as the sort
		// property in Desc order, the outer value loop must also run
		// high-to-low, or the concatenated per-value scans (each already
		// reversed internally) only form a sequence of descending runs,
		// not a single descending stream — exactly what kWayMerge (which
		// trusts driverIsSort streams to already be fully ordered) needs.
		values := sortedOneOf(cond.OneOf)
		if reverse {
			for i, j := 0, len(values)-1; i < j; i, j = i+1, j-1 {
				values[i], values[j] = values[j], values[i]
			}
		}
		for _, v := range values {
			b, eerr := indexlevel.Encode(v)
			if eerr != nil {
				return nil, false, eerr
			}
			if serr := level.ScanProperty(ctx, driverProp, b, b, reverse, 0, collect); serr != nil {
				err = serr
				break
			}
		}
	}
	if err != nil {
		return nil, false, err
	}

	for _, itemID := range itemIDsInOrder {
		if err := ctx.Err(); err != nil {
			return nil, false, dwnerr.Wrap("query.scanConjunct", dwnerr.Cancelled, err)
		}
		indexes, found, gerr := level.Get(ctx, itemID)
		if gerr != nil {
			return nil, false, gerr
		}
		if !found {
			// Secondary key pointed at a vanished indexes record:
			// the driver scan skips it rather than failing outright;
			// messagestore.Query is the layer that turns a surviving
			// itemID with no backing message into a hard error.
			metrics.CorruptedIndexesTotal.Inc()
			dwnlog.WithComponent("query").Warn().Str("item_id", itemID).
				Str("driver_property", driverProp).
				Msg("driver scan skipped a vanished indexes record")
			continue
		}
		if !MatchesConjunct(indexes, c) {
			continue
		}
		sortVal, hasSort := indexes[srt.Property]
		matches = append(matches, candidate{itemID: itemID, sortValue: sortVal, hasSort: hasSort})
	}
	return matches, driverIsSort, nil
}

func rangeBounds(cond Condition) (gte, lte []byte, err error) {
	if cond.GTE != nil {
		gte, err = indexlevel.Encode(*cond.GTE)
	} else if cond.GT != nil {
		gte, err = exclusiveLowerBound(*cond.GT)
	}
	if err != nil {
		return nil, nil, err
	}
	if cond.LTE != nil {
		lte, err = indexlevel.Encode(*cond.LTE)
	} else if cond.LT != nil {
		lte, err = exclusiveUpperBound(*cond.LT)
	}
	if err != nil {
		return nil, nil, err
	}
	return gte, lte, nil
}

// exclusiveLowerBound and exclusiveUpperBound deliberately return a
// *loose* (inclusive) scan bound at v's own encoding rather than trying
// to construct a byte string tight enough to exclude v exactly: variable
// -length string encodings make an exact successor/predecessor key
// unconstructable (v is always a byte-lex prefix of v plus any
// continuation, regardless of how that continuation compares to v as a
// string). The driver scan is therefore allowed to include the boundary
// value; every candidate it yields is re-checked against the full
// condition (strict comparator included) in scanConjunct's post-filter
// step, which excludes boundary matches precisely.
func exclusiveLowerBound(v indexlevel.Value) ([]byte, error) {
	return indexlevel.Encode(v)
}

func exclusiveUpperBound(v indexlevel.Value) ([]byte, error) {
	return indexlevel.Encode(v)
}
