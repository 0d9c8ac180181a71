package metrics

import (
	"sync/atomic"
	"time"
)

// BucketCount is the number of latency buckets, the last one being +Inf.
const BucketCount = 8

const cacheLineSize = 64

// Bounds are the inclusive upper bounds of the first BucketCount-1 buckets.
var Bounds = [BucketCount - 1]time.Duration{
	5 * time.Millisecond,
	10 * time.Millisecond,
	25 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	250 * time.Millisecond,
	500 * time.Millisecond,
}

// Counter is a monotonically increasing uint64 padded to a full cache line.
type Counter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

// Inc adds one.
func (c *Counter) Inc() { atomic.AddUint64(&c.value, 1) }

// Add adds n.
func (c *Counter) Add(n uint64) { atomic.AddUint64(&c.value, n) }

// Load returns the current value.
func (c *Counter) Load() uint64 { return atomic.LoadUint64(&c.value) }

// Histogram counts observations per fixed latency bucket and keeps their sum
// in nanoseconds.
type Histogram struct {
	buckets [BucketCount]uint64
	sumNs   uint64
}

// Observe records d.
func (h *Histogram) Observe(d time.Duration) {
	if d < 0 {
		d = 0
	}
	atomic.AddUint64(&h.buckets[BucketIndex(d)], 1)
	atomic.AddUint64(&h.sumNs, uint64(d))
}

// Buckets returns the non-cumulative bucket counts.
func (h *Histogram) Buckets() []uint64 {
	out := make([]uint64, BucketCount)
	for i := range out {
		out[i] = atomic.LoadUint64(&h.buckets[i])
	}
	return out
}

// Sum returns the total observed duration.
func (h *Histogram) Sum() time.Duration {
	return time.Duration(atomic.LoadUint64(&h.sumNs))
}

// BucketIndex returns the bucket d falls into.
func BucketIndex(d time.Duration) int {
	for i, bound := range Bounds {
		if d <= bound {
			return i
		}
	}
	return BucketCount - 1
}

// Cumulative turns raw bucket counts into the running totals expected by
// exposition formats. Missing trailing buckets count as zero.
func Cumulative(raw []uint64) [BucketCount]uint64 {
	var out [BucketCount]uint64
	var running uint64
	for i := 0; i < BucketCount; i++ {
		if i < len(raw) {
			running += raw[i]
		}
		out[i] = running
	}
	return out
}
