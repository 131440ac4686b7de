package accum

import (
	"sort"

	"github.com/tracekit/heaptrace/model"
)

// RangeMap is a non-overlapping partition of the address space, used
// to attribute smaps-derived physical memory costs to the mmap call
// that created each region. Ranges are kept sorted by Start; mmap
// splits an existing range when it lands inside one, munmap removes
// or truncates the ranges it covers, and adjacent ranges created by
// the same trace are coalesced back together so the view layer isn't
// swamped with page-sized fragments.
type RangeMap struct {
	ranges []model.AddressRange
}

// NewRangeMap returns an empty map.
func NewRangeMap() *RangeMap { return &RangeMap{} }

func (m *RangeMap) indexOf(addr uint64) int {
	return sort.Search(len(m.ranges), func(i int) bool { return m.ranges[i].End() > addr })
}

// Insert records a new mapping, splitting any existing range it
// overlaps. Overlaps are a diagnostic (a prior munmap was missed or
// the traced process reused an address the tracker hadn't yet been
// told was freed) and are resolved by letting the new range win.
func (m *RangeMap) Insert(r model.AddressRange) {
	m.Remove(r.Start, r.Size)
	i := m.indexOf(r.Start)
	m.ranges = append(m.ranges, model.AddressRange{})
	copy(m.ranges[i+1:], m.ranges[i:])
	m.ranges[i] = r
}

// Remove deletes the portion of the map covered by [start, start+size),
// splitting any range that only partially overlaps.
func (m *RangeMap) Remove(start, size uint64) {
	end := start + size
	var out []model.AddressRange
	for _, r := range m.ranges {
		switch {
		case r.End() <= start || r.Start >= end:
			out = append(out, r)
		case r.Start < start && r.End() > end:
			left := r
			left.Size = start - r.Start
			right := r
			right.Start = end
			right.Size = r.End() - end
			out = append(out, left, right)
		case r.Start < start:
			left := r
			left.Size = start - r.Start
			out = append(out, left)
		case r.End() > end:
			right := r
			right.Start = end
			right.Size = r.End() - end
			out = append(out, right)
		default:
			// fully covered, drop it
		}
	}
	m.ranges = out
}

// Find returns the range containing addr, or nil.
func (m *RangeMap) Find(addr uint64) *model.AddressRange {
	i := m.indexOf(addr)
	if i >= len(m.ranges) || m.ranges[i].Start > addr {
		return nil
	}
	return &m.ranges[i]
}

// UpdatePhysical attaches a smaps-sampled physical memory breakdown to
// every range the sample's [start, end) interval crosses.
func (m *RangeMap) UpdatePhysical(start, end uint64, phys model.PhysicalMemory) {
	for i := range m.ranges {
		r := &m.ranges[i]
		if r.Start < end && r.End() > start {
			r.Physical = phys
		}
	}
}

// CoalesceSimilar merges adjacent ranges that share a trace, CoreCLR
// classification, protection flags and file descriptor, undoing page-level
// fragmentation that the traced process's own allocator may have
// produced across many small mmaps from the same call site.
func (m *RangeMap) CoalesceSimilar() {
	if len(m.ranges) == 0 {
		return
	}
	out := m.ranges[:1]
	for _, r := range m.ranges[1:] {
		last := &out[len(out)-1]
		if last.End() == r.Start && last.SimilarTo(&r) {
			last.Size += r.Size
			continue
		}
		out = append(out, r)
	}
	m.ranges = out
}

// All returns the ranges in Start-sorted order.
func (m *RangeMap) All() []model.AddressRange { return m.ranges }
