package views

import (
	"sort"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// Node is one row of a bottom-up or top-down tree: the leaf
// identifies the location the row is grouped by, Self is the cost
// attributed directly to traces ending here, Inclusive additionally
// sums every child row beneath it, and Children holds the next level
// of the tree keyed by location so repeated call paths merge into one
// row, matching the original's tree model merge behavior.
type Node struct {
	Location Location
	Self     model.CostVector
	Inclusive model.CostVector
	Children map[Location]*Node
}

func newNode(loc Location) *Node {
	return &Node{Location: loc, Children: make(map[Location]*Node)}
}

// Sorted returns n's children ordered by descending inclusive
// allocated bytes, the default sort the original's tree model used
// for its initial display.
func (n *Node) Sorted(kind model.CostKind) []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Inclusive.Get(kind).Allocated > out[j].Inclusive.Get(kind).Allocated
	})
	return out
}

// BottomUp groups every allocation by its leaf (allocating) frame
// first, then nests each of its distinct caller chains beneath it, so
// expanding a row answers "who calls this allocation site, and how
// much of its cost comes from each caller" — the original's
// TreeModel in its default, non-inverted orientation.
func BottomUp(d *accum.Dataset) []*Node {
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
		path := pathToRoot(d, tid) // leaf to root
		cur := root
		var leafNode *Node
		for _, frame := range path {
			loc := locationOf(d, d.Traces[frame-1].IPID)
			child, ok := cur.Children[loc]
			if !ok {
				child = newNode(loc)
				cur.Children[loc] = child
			}
			addVector(&child.Inclusive, cost)
			if leafNode == nil {
				leafNode = child
			}
			cur = child
		}
		if leafNode != nil {
			addVector(&leafNode.Self, cost)
		}
	}
	return root.Sorted(model.CostMalloc)
}

func addVector(dst *model.CostVector, src model.CostVector) {
	for k := range dst {
		ds := &dst[k]
		ss := &src[k]
		ds.Allocations += ss.Allocations
		ds.Deallocations += ss.Deallocations
		ds.Allocated += ss.Allocated
		ds.Leaked += ss.Leaked
		ds.Temporary += ss.Temporary
		if ss.Peak > ds.Peak {
			ds.Peak = ss.Peak
			ds.PeakTime = ss.PeakTime
		}
	}
}
