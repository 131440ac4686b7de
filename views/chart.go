package views

import (
	"github.com/tracekit/heaptrace/accum"
	"github.com/tracekit/heaptrace/model"
)

// ChartPoint is one time-bucketed sample of the aggregate cost,
// the non-GUI data behind the original's ChartModel (itself a
// time series the Qt chart widgets plotted directly).
type ChartPoint struct {
	TimestampMS  uint64
	MallocBytes  int64
	ManagedBytes int64
	RSSBytes     int64
}

// ChartSeries downsamples d's Timeline into buckets of bucketMS
// milliseconds, keeping the last sample observed in each bucket — the
// same "don't plot every single event" decision the original's
// ChartModel makes to keep its series a manageable size for plotting.
func ChartSeries(d *accum.Dataset, bucketMS uint64) []ChartPoint {
	if bucketMS == 0 {
		bucketMS = 1
	}
	var out []ChartPoint
	var lastBucket uint64
	first := true
	for _, s := range d.Timeline {
		bucket := s.TimestampMS / bucketMS
		if first || bucket != lastBucket {
			out = append(out, pointFromSample(s))
			lastBucket = bucket
			first = false
			continue
		}
		out[len(out)-1] = pointFromSample(s)
	}
	return out
}

func pointFromSample(s accum.TimelineSample) ChartPoint {
	return ChartPoint{
		TimestampMS:  s.TimestampMS,
		MallocBytes:  s.Total.Get(model.CostMalloc).Leaked,
		ManagedBytes: s.Total.Get(model.CostManaged).Leaked,
		RSSBytes:     s.Total.Get(model.CostPrivateDirty).Peak,
	}
}
