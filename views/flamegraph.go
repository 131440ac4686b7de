package views

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// FoldedStacks renders d's traces as the folded-stack text format
// (`func;func;func count`, root to leaf, one line per distinct call
// path) the original's flamegraph.cpp builds its flame graph from.
// Producing this text is the interchange-format boundary: rendering
// the flame graph itself is a GUI concern this package stays out of.
func FoldedStacks(d *accum.Dataset, kind model.CostKind) string {
	var lines []string
	for traceID := 1; traceID < len(d.Traces)+1; traceID++ {
		tid := model.TraceID(traceID)
		if int(tid) >= len(d.PerTrace) {
			continue
		}
		count := d.PerTrace[tid].Get(kind).Allocations
		if count <= 0 {
			continue
		}
		path := pathToRoot(d, tid)
		names := make([]string, len(path))
		for i, frame := range path {
			loc := locationOf(d, d.Traces[frame-1].IPID)
			fn := loc.Function
			if fn == "" {
				fn = "??"
			}
			names[len(path)-1-i] = fn // original has root first, leaf last
		}
		lines = append(lines, fmt.Sprintf("%s %d", strings.Join(names, ";"), count))
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}
