/*
Package query implements a disjunctive-normal-form filter engine: a
query is a list of conjuncts (OR of ANDs), each conjunct scanned via a
deterministically chosen driver property against pkg/indexlevel, merged
and deduplicated by MessageCid, sorted by a requested property, and
paginated with a stable cursor.
*/
package query

import (
	"container/heap"
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/dwn-core/dwn/pkg/dwnerr"
	"github.com/dwn-core/dwn/pkg/indexlevel"
)

// Cursor identifies the last item returned by a previous page: the sort
// tuple (sortValue, itemID).
type Cursor struct {
	SortValue indexlevel.Value
	ItemID    string
}

// Page bounds one query's result size and continuation point. A nil
// Limit means unlimited; Limit pointing at 0 means "return nothing".
type Page struct {
	Limit  *int
	Cursor *Cursor
}

// Result is what Query returns.
type Result struct {
	ItemIDs    []string
	NextCursor *Cursor
}

// Query evaluates filters against level, sorted by srt and paginated by
// page. It is stateless beyond the caller-provided level.
func Query(ctx context.Context, level *indexlevel.Level, filters Filters, srt Sort, page Page) (Result, error) {
	if err := filters.validate(); err != nil {
		return Result{}, err
	}
	if page.Limit != nil && *page.Limit == 0 {
		return Result{}, nil
	}
	if err := ctx.Err(); err != nil {
		return Result{}, dwnerr.Wrap("query.Query", dwnerr.Cancelled, err)
	}

	perConjunct := make([][]candidate, len(filters))
	driverIsSort := make([]bool, len(filters))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, runtime.GOMAXPROCS(0))) // bounded fan-out across conjuncts
	for i, conjunct := range filters {
		i, conjunct := i, conjunct
		g.Go(func() error {
			matches, isSort, err := scanConjunct(gctx, level, conjunct, srt)
			if err != nil {
				return err
			}
			perConjunct[i] = matches
			driverIsSort[i] = isSort
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Result{}, err
	}

	allDriverIsSort := true
	for _, v := range driverIsSort {
		if !v {
			allDriverIsSort = false
			break
		}
	}

	var ordered []candidate
	if allDriverIsSort && len(perConjunct) > 0 {
		ordered = kWayMerge(perConjunct, srt.Direction)
	} else {
		ordered = bufferAndSort(perConjunct, srt.Direction)
	}

	filtered := applyCursor(ordered, srt.Direction, page.Cursor)

	limit := -1
	if page.Limit != nil {
		limit = *page.Limit
	}
	var out Result
	for idx, c := range filtered {
		if limit >= 0 && idx >= limit {
			last := filtered[idx-1]
			out.NextCursor = &Cursor{SortValue: last.sortValue, ItemID: last.itemID}
			break
		}
		out.ItemIDs = append(out.ItemIDs, c.itemID)
	}
	return out, nil
}

// dedupByItemID removes duplicate itemIDs across conjunct results,
// keeping the first occurrence: each MessageCid appears at most once
// regardless of how many filters it satisfies.
func dedupByItemID(cands []candidate) []candidate {
	seen := make(map[string]bool, len(cands))
	out := make([]candidate, 0, len(cands))
	for _, c := range cands {
		if seen[c.itemID] {
			continue
		}
		seen[c.itemID] = true
		out = append(out, c)
	}
	return out
}

// bufferAndSort is the fallback merge path: materialize every
// conjunct's matches, dedup, and sort once.
func bufferAndSort(perConjunct [][]candidate, dir Direction) []candidate {
	var all []candidate
	for _, c := range perConjunct {
		all = append(all, c...)
	}
	all = dedupByItemID(all)
	sortCandidates(all, dir)
	return all
}

func sortCandidates(cands []candidate, dir Direction) {
	less := func(i, j int) bool {
		return candidateLess(cands[i], cands[j], dir)
	}
	insertionSortStable(cands, less)
}

// insertionSortStable is a small stable sort over every match of the
// query (the page limit is applied only after sorting); a
// dependency-free stable sort keeps the tie-breaking rule
// (sortValue, itemID) easy to audit.
func insertionSortStable(cands []candidate, less func(i, j int) bool) {
	for i := 1; i < len(cands); i++ {
		for j := i; j > 0 && less(j, j-1); j-- {
			cands[j], cands[j-1] = cands[j-1], cands[j]
		}
	}
}

func candidateLess(a, b candidate, dir Direction) bool {
	cmp := compareCandidates(a, b)
	if dir == Desc {
		cmp = -cmp
	}
	return cmp < 0
}

// compareCandidates orders by (sortValue, itemID) ascending, treating a
// missing sort-property value as sorting before any present value —
// this only affects items whose indexes record genuinely omits the
// requested sort property.
func compareCandidates(a, b candidate) int {
	if a.hasSort != b.hasSort {
		if !a.hasSort {
			return -1
		}
		return 1
	}
	if a.hasSort && b.hasSort {
		if cmp := compareValues(a.sortValue, b.sortValue); cmp != 0 {
			return cmp
		}
	}
	switch {
	case a.itemID < b.itemID:
		return -1
	case a.itemID > b.itemID:
		return 1
	default:
		return 0
	}
}

// kWayMerge is the fast merge path: every input slice is
// already ordered by (sortValue, itemID) in dir because its conjunct's
// driver was the sort property itself, so a heap holding one cursor per
// stream produces the global order without a re-sort, deduplicating by
// itemID as it goes. The input streams are slices scanConjunct has
// already materialized in full.
func kWayMerge(perConjunct [][]candidate, dir Direction) []candidate {
	h := &mergeHeap{dir: dir}
	for i, stream := range perConjunct {
		if len(stream) > 0 {
			heap.Push(h, &mergeCursor{stream: stream, pos: 0, streamIdx: i})
		}
	}
	heap.Init(h)

	seen := make(map[string]bool)
	var out []candidate
	for h.Len() > 0 {
		mc := heap.Pop(h).(*mergeCursor)
		c := mc.stream[mc.pos]
		if !seen[c.itemID] {
			seen[c.itemID] = true
			out = append(out, c)
		}
		mc.pos++
		if mc.pos < len(mc.stream) {
			heap.Push(h, mc)
		}
	}
	return out
}

type mergeCursor struct {
	stream    []candidate
	pos       int
	streamIdx int
}

type mergeHeap struct {
	items []*mergeCursor
	dir   Direction
}

func (h *mergeHeap) Len() int { return len(h.items) }
func (h *mergeHeap) Less(i, j int) bool {
	a := h.items[i].stream[h.items[i].pos]
	b := h.items[j].stream[h.items[j].pos]
	return candidateLess(a, b, h.dir)
}
func (h *mergeHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *mergeHeap) Push(x any)    { h.items = append(h.items, x.(*mergeCursor)) }
func (h *mergeHeap) Pop() any {
	old := h.items
	n := len(old)
	item := old[n-1]
	h.items = old[:n-1]
	return item
}

// applyCursor filters out everything at or before the cursor position:
// ascending keeps (sortValue, itemID) > cursor tuple, descending keeps
// < cursor tuple.
func applyCursor(ordered []candidate, dir Direction, cursor *Cursor) []candidate {
	if cursor == nil {
		return ordered
	}
	ref := candidate{itemID: cursor.ItemID, sortValue: cursor.SortValue, hasSort: true}
	out := ordered[:0:0]
	for _, c := range ordered {
		cmp := compareCandidates(c, ref)
		if dir == Desc {
			cmp = -cmp
		}
		if cmp > 0 {
			out = append(out, c)
		}
	}
	return out
}
