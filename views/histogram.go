package views

import (
	"math/bits"
	"sort"

	"github.com/tracekit/heaptrace/accum"
)

// Bucket is one power-of-two size class: Count allocations were made
// whose size fell in [LowerBound, LowerBound*2).
type Bucket struct {
	LowerBound uint64
	Count      int64
}

// Histogram buckets every allocation in d by the power of two nearest
// below its size, grounded on the original's HistogramModel size-class
// bucketing (there expressed as a fixed QVector<HistogramRow> keyed by
// the same power-of-two scheme for its size-class bar chart).
func Histogram(d *accum.Dataset) []Bucket {
	counts := make(map[uint64]int64)
	for _, a := range d.Allocs {
		if a.Size == 0 {
			counts[0]++
			continue
		}
		bound := uint64(1) << uint(bits.Len64(a.Size)-1)
		counts[bound]++
	}

	bounds := make([]uint64, 0, len(counts))
	for b := range counts {
		bounds = append(bounds, b)
	}
	sort.Slice(bounds, func(i, j int) bool { return bounds[i] < bounds[j] })

	out := make([]Bucket, 0, len(bounds))
	for _, b := range bounds {
		out = append(out, Bucket{LowerBound: b, Count: counts[b]})
	}
	return out
}
