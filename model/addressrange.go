package model

// CoreCLRState classifies an address range's relationship to the
// managed runtime heap, generalized from the original's
// hardcoded CoreCLR check into a pluggable three-state classification.
type CoreCLRState int

const (
	RegionNo CoreCLRState = iota
	RegionYes
	RegionUntracked
)

// PhysicalMemory holds the smaps-derived physical-memory breakdown for
// one address range, all in bytes. The tracker's smaps sampler converts
// smaps' kB counters to bytes before writing them; the accumulator's
// Reader does not parse per-region smaps records, so it never fills
// this in.
type PhysicalMemory struct {
	PrivateClean uint64
	PrivateDirty uint64
	SharedClean  uint64
	SharedDirty  uint64
	IsSet        bool
}

// AddressRange is one record of the non-overlapping ordered partition
// of tracked virtual memory regions.
type AddressRange struct {
	Start     uint64
	Size      uint64
	Prot      uint32
	Fd        int32
	CoreCLR   CoreCLRState
	TraceID   TraceID
	Physical  PhysicalMemory
}

// End returns the exclusive end address of the range.
func (r *AddressRange) End() uint64 { return r.Start + r.Size }

// SimilarTo reports whether two ranges carry identical attributes and
// are therefore eligible for coalescing when adjacent.
func (r *AddressRange) SimilarTo(o *AddressRange) bool {
	return r.Prot == o.Prot && r.Fd == o.Fd && r.CoreCLR == o.CoreCLR && r.TraceID == o.TraceID
}
