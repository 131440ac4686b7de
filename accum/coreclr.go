package accum

import "github.com/tracekit/heaptrace/model"

// ManagedRegionClassifier decides whether an address range belongs to
// a managed runtime's heap, generalizing the original's hardcoded
// "is this the CoreCLR GC heap" check into a pluggable interface any
// managed runtime's shim can satisfy by tagging its own mmap calls.
type ManagedRegionClassifier interface {
	Classify(trace model.TraceID, prot uint32) model.CoreCLRState
}

// staticClassifier always answers the same state; used when the
// traced process carries no managed runtime at all.
type staticClassifier struct{ state model.CoreCLRState }

func (s staticClassifier) Classify(model.TraceID, uint32) model.CoreCLRState { return s.state }

// NoManagedRuntime returns a classifier that marks every range as
// definitely not managed.
func NoManagedRuntime() ManagedRegionClassifier { return staticClassifier{model.RegionNo} }

// Combine applies the classifier's ordering rule when two samples of
// the same range disagree (e.g. an early sample before the runtime's
// shim had tagged the call site, and a later one after): the result is
// the higher-ranked state, yes > untracked > no > anything else, so
// yes wins over everything, since a single managed allocation seen
// anywhere in the range is enough evidence the whole mapping backs the
// managed heap, and untracked wins over a firm no.
func Combine(a, b model.CoreCLRState) model.CoreCLRState {
	rank := func(s model.CoreCLRState) int {
		switch s {
		case model.RegionYes:
			return 3
		case model.RegionUntracked:
			return 2
		case model.RegionNo:
			return 1
		default:
			return 0
		}
	}
	if rank(a) >= rank(b) {
		return a
	}
	return b
}
