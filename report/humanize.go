// Package report renders an accumulated or diffed dataset as
// human-readable text, the offline, non-interactive counterpart to
// package watch's live console.
package report

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/tracekit/heaptrace/model"
)

// bytes formats a byte count the way every other figure in a report is
// formatted, via go-humanize's IEC-suffix convention (KiB/MiB/GiB)
// rather than the teacher's own hand-rolled fmtBytesSimple, since this
// dependency is already in the module's require block for exactly this
// concern and reaching for it beats reimplementing it.
func bytes(n int64) string {
	if n < 0 {
		return "-" + humanize.IBytes(uint64(-n))
	}
	return humanize.IBytes(uint64(n))
}

// count formats an allocation/deallocation count with thousands
// separators.
func count(n int64) string {
	return humanize.Comma(n)
}

// costLine renders one CostKind row of a CostVector as a single
// "kind: N allocations, M deallocations, X leaked, Y peak" line.
func costLine(kind model.CostKind, st *model.CostStats) string {
	return fmt.Sprintf("%-12s %s allocations, %s deallocations, %s leaked, %s peak",
		kind.String()+":", count(st.Allocations), count(st.Deallocations), bytes(st.Leaked), bytes(st.Peak))
}
