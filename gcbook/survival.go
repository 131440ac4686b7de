// Package gcbook implements the GC and object-reference bookkeeping
// shared by the tracker's live-pointer maintenance and the symbol
// interpreter's allocation accounting.
package gcbook

import (
	"fmt"
	"sort"

	"github.com/tracekit/heaptrace/model"
)

// SurvivalRange is one `L <len> <src> <dst>` record: the live objects
// in [src, src+len) moved to [dst, dst+len), or stayed if dst == src.
type SurvivalRange struct {
	Src uint64
	Dst uint64
	Len uint64
}

// ErrOverlappingSurvivalRanges is returned when two survival ranges
// within one GC cycle overlap; this is a diagnostic condition per the
// spec, not fatal, and callers are expected to log and continue.
type ErrOverlappingSurvivalRanges struct {
	A, B SurvivalRange
}

func (e *ErrOverlappingSurvivalRanges) Error() string {
	return fmt.Sprintf("survival ranges overlap: [%x,%x) and [%x,%x)",
		e.A.Src, e.A.Src+e.A.Len, e.B.Src, e.B.Src+e.B.Len)
}

// Replayer holds the live managed-pointer set (ptr -> allocation
// index) and replays a GC cycle's survival ranges against it.
type Replayer struct {
	Live map[uint64]model.AllocInfoID
}

// NewReplayer creates a replayer with an empty live-pointer map; the
// zero value's Live field must be initialized before use.
func NewReplayer() *Replayer {
	return &Replayer{Live: make(map[uint64]model.AllocInfoID)}
}

// Apply replays the survival ranges observed during one GC cycle
// against the current live set:
//
//  1. partition live pointers into "inside a range" and "outside";
//  2. for each range, reassociate surviving pointers to their new
//     location (dst == src means "stayed");
//  3. pointers outside any range are dead, returned for `~` emission.
//
// Ranges must not overlap within one cycle; overlap is reported via
// err but replay still proceeds using range order as given, matching
// the original's "log and continue" posture for diagnostics.
func (r *Replayer) Apply(ranges []SurvivalRange) (dead []model.AllocInfoID, err error) {
	sorted := make([]SurvivalRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Src < sorted[j].Src })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Src < sorted[i-1].Src+sorted[i-1].Len {
			err = &ErrOverlappingSurvivalRanges{A: sorted[i-1], B: sorted[i]}
		}
	}

	inRange := make(map[uint64]bool, len(r.Live))
	next := make(map[uint64]model.AllocInfoID, len(r.Live))

	for _, rg := range ranges {
		for ptr, idx := range r.Live {
			if ptr < rg.Src || ptr >= rg.Src+rg.Len {
				continue
			}
			inRange[ptr] = true
			newPtr := ptr
			if rg.Dst != rg.Src {
				newPtr = rg.Dst + (ptr - rg.Src)
			}
			next[newPtr] = idx
		}
	}

	for ptr, idx := range r.Live {
		if !inRange[ptr] {
			dead = append(dead, idx)
		}
	}

	r.Live = next
	return dead, err
}

// Insert records a newly-observed managed allocation.
func (r *Replayer) Insert(ptr uint64, idx model.AllocInfoID) {
	r.Live[ptr] = idx
}

// Remove deletes ptr from the live set (an explicit `~` deallocation
// unrelated to GC movement).
func (r *Replayer) Remove(ptr uint64) (model.AllocInfoID, bool) {
	idx, ok := r.Live[ptr]
	if ok {
		delete(r.Live, ptr)
	}
	return idx, ok
}
