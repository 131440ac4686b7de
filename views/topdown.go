package views

import (
	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// TopDown groups every allocation by its root (outermost caller)
// frame first, nesting each distinct callee chain beneath it: "from
// main, where did allocations end up" — the inverted orientation of
// the original's same TreeModel.
func TopDown(d *accum.Dataset) []*Node {
	root := newNode(Location{})
	for traceID := 1; traceID < len(d.Traces)+1; traceID++ {
		tid := model.TraceID(traceID)
		if int(tid) >= len(d.PerTrace) {
			continue
		}
		cost := d.PerTrace[tid]
		if cost.IsZero() {
			continue
		}
		path := pathToRoot(d, tid) // leaf to root; walk it in reverse for root-first
		cur := root
		for i := len(path) - 1; i >= 0; i-- {
			loc := locationOf(d, d.Traces[path[i]-1].IPID)
			child, ok := cur.Children[loc]
			if !ok {
				child = newNode(loc)
				cur.Children[loc] = child
			}
			addVector(&child.Inclusive, cost)
			cur = child
		}
		addVector(&cur.Self, cost)
	}
	return root.Sorted(model.CostMalloc)
}
