// Package diff computes the delta between two accumulated datasets:
// what self added or grew relative to base, expressed in self's own
// trace/string numbering so the result can be fed straight into the
// report and view layers like any other accum.Dataset.
package diff

import (
	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// traceKey is a structural fingerprint of a trace node: the function
// and file names (not the raw IPID, which differs freely between two
// independently-interpreted runs) of every frame from leaf to root.
// Two traces with the same key are "the same call stack" for diff
// purposes even if their underlying addresses never matched.
type traceKey string

// builder accumulates the result Dataset's tables as base's
// ancestor chains get copied in, appending new strings/IPs/traces
// only when self genuinely lacks them.
type builder struct {
	strings   []string
	stringIdx map[string]model.StringID

	ips []model.IP

	traces   []model.TraceNode
	perTrace []model.CostVector

	// copiedFromBase remembers, for a base TraceID already copied in,
	// which result TraceID it landed at, so a chain is never copied
	// twice.
	copiedFromBase map[model.TraceID]model.TraceID
}

// Compute implements the five-step diff: trace dedup by structural
// key, a string remap table so base's ancestor chains can be copied
// into self's numbering, structural-equality allocation matching with
// ancestor-chain copying for trace nodes self never saw, cost
// subtraction, and zero-cost pruning (via ChangedTraces) so a report
// over the result shows only what changed.
func Compute(base, self *accum.Dataset) *accum.Dataset {
	baseKeys := traceKeys(base)
	selfKeys := traceKeys(self)

	b := newBuilder(self)
	matched := matchTraces(baseKeys, selfKeys, base, b)

	for baseTrace, resultTrace := range matched {
		subtract(&b.perTrace[resultTrace], &base.PerTrace[baseTrace])
	}

	result := &accum.Dataset{
		Strings:  b.strings,
		IPs:      b.ips,
		Traces:   b.traces,
		Allocs:   self.Allocs,
		Modules:  self.Modules,
		Ranges:   self.Ranges,
		PerTrace: b.perTrace,
		Total:    self.Total,
	}
	subtract(&result.Total, &base.Total)
	return result
}

func newBuilder(self *accum.Dataset) *builder {
	b := &builder{
		strings:        append([]string(nil), self.Strings...),
		stringIdx:      make(map[string]model.StringID, len(self.Strings)),
		ips:            append([]model.IP(nil), self.IPs...),
		traces:         append([]model.TraceNode(nil), self.Traces...),
		perTrace:       append([]model.CostVector(nil), self.PerTrace...),
		copiedFromBase: make(map[model.TraceID]model.TraceID),
	}
	for i, s := range b.strings {
		b.stringIdx[s] = model.StringID(i + 1)
	}
	if len(b.perTrace) == 0 {
		b.perTrace = make([]model.CostVector, 1)
	}
	return b
}

// internString finds or appends s, returning its StringID in the
// result's own table.
func (b *builder) internString(s string) model.StringID {
	if s == "" {
		return model.None
	}
	if id, ok := b.stringIdx[s]; ok {
		return id
	}
	b.strings = append(b.strings, s)
	id := model.StringID(len(b.strings))
	b.stringIdx[s] = id
	return id
}

// copyChain copies id's ancestor chain from base into the result's
// own tables if it isn't already present (via copiedFromBase),
// translating every string reference through internString, and
// returns the resulting TraceID.
func (b *builder) copyChain(base *accum.Dataset, id model.TraceID) model.TraceID {
	if id == model.None {
		return model.None
	}
	if resultID, ok := b.copiedFromBase[id]; ok {
		return resultID
	}

	node := base.Traces[id-1]
	parent := b.copyChain(base, node.ParentID)

	ipID := model.IPID(model.None)
	if node.IPID != model.None && int(node.IPID) <= len(base.IPs) {
		srcIP := base.IPs[node.IPID-1]
		dstIP := srcIP
		dstIP.Frame.FunctionID = b.internString(stringAt(base, srcIP.Frame.FunctionID))
		dstIP.Frame.FileID = b.internString(stringAt(base, srcIP.Frame.FileID))
		b.ips = append(b.ips, dstIP)
		ipID = model.IPID(len(b.ips))
		b.ips[ipID-1].ID = ipID
	}

	b.traces = append(b.traces, model.TraceNode{IPID: ipID, ParentID: parent, CoreCLRType: node.CoreCLRType})
	resultID := model.TraceID(len(b.traces))
	b.traces[resultID-1].ID = resultID
	b.perTrace = append(b.perTrace, model.CostVector{})
	b.copiedFromBase[id] = resultID
	return resultID
}

// ChangedTraces returns the TraceIDs of d whose cost vector did not
// cancel out to zero, the diff engine's zero-cost pruning step: a
// report walking Compute's result should skip any trace IsZero
// reports as unchanged rather than list a row of zeroes.
func ChangedTraces(d *accum.Dataset) []model.TraceID {
	var ids []model.TraceID
	for i, v := range d.PerTrace {
		if i == 0 {
			continue
		}
		if !v.IsZero() {
			ids = append(ids, model.TraceID(i))
		}
	}
	return ids
}

// traceKeys builds the structural fingerprint for every trace in d,
// keyed by TraceID (1-based, index 0 holds the sentinel root's key).
func traceKeys(d *accum.Dataset) []traceKey {
	keys := make([]traceKey, len(d.Traces)+1)
	for i := range d.Traces {
		id := model.TraceID(i + 1)
		keys[id] = frameKey(d, id) + "<-" + keys[d.Traces[i].ParentID]
	}
	return keys
}

func frameKey(d *accum.Dataset, id model.TraceID) traceKey {
	node := d.Traces[id-1]
	if int(node.IPID) == 0 || int(node.IPID) > len(d.IPs) {
		return ""
	}
	ip := d.IPs[node.IPID-1]
	fn := stringAt(d, ip.Frame.FunctionID)
	file := stringAt(d, ip.Frame.FileID)
	return traceKey(fn + "\x00" + file)
}

func stringAt(d *accum.Dataset, id model.StringID) string {
	if int(id) == 0 || int(id) > len(d.Strings) {
		return ""
	}
	return d.Strings[id-1]
}

// matchTraces pairs every base trace with a result TraceID: one
// already present in self if the structural key matches, or one
// freshly copied (ancestor chain and all) from base if self never
// took that call stack. The returned map lets Compute subtract base's
// cost from the right slot either way.
func matchTraces(baseKeys, selfKeys []traceKey, base *accum.Dataset, b *builder) map[model.TraceID]model.TraceID {
	selfByKey := make(map[traceKey]model.TraceID, len(selfKeys))
	for id := 1; id < len(selfKeys); id++ {
		selfByKey[selfKeys[id]] = model.TraceID(id)
	}

	matched := make(map[model.TraceID]model.TraceID, len(baseKeys))
	for id := 1; id < len(baseKeys); id++ {
		baseID := model.TraceID(id)
		if selfID, ok := selfByKey[baseKeys[id]]; ok {
			matched[baseID] = selfID
			continue
		}
		matched[baseID] = b.copyChain(base, baseID)
	}
	return matched
}

// subtract removes base's contribution from v in place, across every
// cost kind, leaving negative Leaked/Peak values exactly as the
// original does when self shrank relative to base.
func subtract(v, base *model.CostVector) {
	for k := 0; k < len(v); k++ {
		vs := &v[k]
		bs := &base[k]
		vs.Allocations -= bs.Allocations
		vs.Deallocations -= bs.Deallocations
		vs.Allocated -= bs.Allocated
		vs.Leaked -= bs.Leaked
		vs.Peak -= bs.Peak
		vs.Temporary -= bs.Temporary
		vs.PeakInstances -= bs.PeakInstances
	}
}
