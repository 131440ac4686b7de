package report

import (
	"fmt"
	"strings"

	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
	"github.com/tracekit/heaptrace/views"
)

// TopCost renders d's totals and its top n allocation sites under kind
// as a markdown report, grounded on xtop cmd/root.go's
// renderMarkdownReport section-by-section assembly (heading, summary
// bullets, then a ranked table) with the host-health sections it has
// no equivalent for dropped.
func TopCost(d *accum.Dataset, kind model.CostKind, n int) string {
	var sb strings.Builder

	sb.WriteString("# Allocation Report\n\n")

	sb.WriteString("## Totals\n\n")
	for k := model.CostMalloc; int(k) < len(d.Total); k++ {
		st := d.Total.Get(k)
		if st.Allocations == 0 && st.Peak == 0 {
			continue
		}
		sb.WriteString("- " + costLine(k, st) + "\n")
	}

	sb.WriteString(fmt.Sprintf("\n## Top %d Allocation Sites (%s)\n\n", n, kind))
	sb.WriteString("| Function | File | Allocations | Leaked | Peak |\n")
	sb.WriteString("|----------|------|-------------|--------|------|\n")
	for _, e := range views.TopCost(d, kind, n) {
		fn := e.Location.Function
		if fn == "" {
			fn = "??"
		}
		file := e.Location.File
		if file == "" {
			file = "-"
		}
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s |\n",
			fn, file, count(e.Stats.Allocations), bytes(e.Stats.Leaked), bytes(e.Stats.Peak)))
	}

	if leaked := len(d.LeakedAllocations); leaked > 0 {
		sb.WriteString(fmt.Sprintf("\n## Leaks\n\n- %s allocation(s) never freed\n", count(int64(leaked))))
	}

	sb.WriteString("\n---\n*Generated by heaptrace*\n")
	return sb.String()
}

// Histogram renders d's size-class histogram as a markdown table, the
// text counterpart to the original's HistogramModel bar chart.
func Histogram(d *accum.Dataset) string {
	var sb strings.Builder
	sb.WriteString("## Size Histogram\n\n")
	sb.WriteString("| Size Class | Count |\n")
	sb.WriteString("|------------|-------|\n")
	for _, b := range views.Histogram(d) {
		sb.WriteString(fmt.Sprintf("| >= %s | %s |\n", bytes(int64(b.LowerBound)), count(b.Count)))
	}
	return sb.String()
}
