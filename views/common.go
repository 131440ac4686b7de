// Package views derives report-ready aggregations from a finished
// accum.Dataset: bottom-up and top-down call trees, a flat
// caller/callee table, a size-class histogram, a time-bucketed cost
// chart, and folded-stack flame-graph input. Every function here is
// pure over its Dataset argument, grounded on the original's
// treemodel.cpp/callercalleemodel.h/histogrammodel.cpp/chartmodel.cpp/
// flamegraph.cpp GUI models with the Qt widget layer stripped away:
// these produce the data those widgets would have displayed, not a
// rendering of it.
package views

import (
	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// Location names one resolved source position, the unit every view
// groups cost by.
type Location struct {
	Function string
	File     string
	Line     uint32
	Module   string
}

func locationOf(d *accum.Dataset, ipid model.IPID) Location {
	if ipid == model.None || int(ipid) > len(d.IPs) {
		return Location{}
	}
	ip := d.IPs[ipid-1]
	loc := Location{
		Function: stringAt(d, ip.Frame.FunctionID),
		File:     stringAt(d, ip.Frame.FileID),
		Line:     ip.Frame.Line,
	}
	if ip.ModuleID != model.None {
		for _, m := range d.Modules.All() {
			if m.ID == ip.ModuleID {
				loc.Module = m.Path
				break
			}
		}
	}
	return loc
}

func stringAt(d *accum.Dataset, id model.StringID) string {
	if id == model.None || int(id) > len(d.Strings) {
		return ""
	}
	return d.Strings[id-1]
}

// pathToRoot returns the trace's frames, leaf (index 0) to root.
func pathToRoot(d *accum.Dataset, leaf model.TraceID) []model.TraceID {
	var path []model.TraceID
	id := leaf
	for id != model.None {
		path = append(path, id)
		id = d.Traces[id-1].ParentID
	}
	return path
}
