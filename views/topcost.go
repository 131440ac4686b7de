package views

import (
	"sort"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// TopCostEntry is one ranked row of a "top N allocation sites" report.
type TopCostEntry struct {
	Location Location
	Stats    model.CostStats
}

// TopCost ranks CallerCallee's rows by kind's self cost and returns
// the highest n, the data behind the original's parser.cpp top-cost
// summary lines (it prints the same ranked list as plain text rather
// than a table widget).
func TopCost(d *accum.Dataset, kind model.CostKind, n int) []TopCostEntry {
	rows := CallerCallee(d)
	entries := make([]TopCostEntry, len(rows))
	for i, r := range rows {
		entries[i] = TopCostEntry{Location: r.Location, Stats: *r.Self.Get(kind)}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Stats.Peak > entries[j].Stats.Peak
	})
	if n > 0 && n < len(entries) {
		entries = entries[:n]
	}
	return entries
}
