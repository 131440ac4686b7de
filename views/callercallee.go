package views

import (
	"sort"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// CallerCalleeRow is one row of the flat caller/callee table: every
// distinct location gets exactly one row regardless of how many call
// paths reach it, with Self holding the cost of allocations made
// directly at that location and Inclusive additionally summing every
// frame it called into, mirroring CallerCalleeModel's two cost
// columns.
type CallerCalleeRow struct {
	Location  Location
	Self      model.CostVector
	Inclusive model.CostVector
}

// CallerCallee flattens a Dataset into one row per distinct resolved
// location, the table view behind the original's CallerCalleeModel.
func CallerCallee(d *accum.Dataset) []CallerCalleeRow {
	rows := make(map[Location]*CallerCalleeRow)

	get := func(loc Location) *CallerCalleeRow {
		r, ok := rows[loc]
		if !ok {
			r = &CallerCalleeRow{Location: loc}
			rows[loc] = r
		}
		return r
	}

	for traceID := 1; traceID < len(d.Traces)+1; traceID++ {
		tid := model.TraceID(traceID)
		if int(tid) >= len(d.PerTrace) {
			continue
		}
		cost := d.PerTrace[tid]
		if cost.IsZero() {
			continue
		}
		seen := make(map[Location]bool)
		for _, frame := range pathToRoot(d, tid) {
			loc := locationOf(d, d.Traces[frame-1].IPID)
			if seen[loc] {
				continue // a recursive call contributes its inclusive cost once per row
			}
			seen[loc] = true
			addVector(&get(loc).Inclusive, cost)
		}
		leaf := locationOf(d, d.Traces[tid-1].IPID)
		addVector(&get(leaf).Self, cost)
	}

	out := make([]CallerCalleeRow, 0, len(rows))
	for _, r := range rows {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Self.Get(model.CostMalloc).Allocated > out[j].Self.Get(model.CostMalloc).Allocated
	})
	return out
}
