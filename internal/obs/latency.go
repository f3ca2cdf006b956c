package obs

import (
	"sync/atomic"
	"time"
)

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Observe records one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if s == nil || d < 0 {
		return
	}
	ns := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, ns)
	for {
		curr := atomic.LoadUint64(&s.min)
		if curr != 0 && ns >= curr {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, curr, ns) {
			break
		}
	}
	for {
		curr := atomic.LoadUint64(&s.max)
		if ns <= curr {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, curr, ns) {
			break
		}
	}
}

// Capture returns the current stats values.
func (s *LatencyStats) Capture() LatencySnapshot {
	if s == nil {
		return LatencySnapshot{}
	}
	count := atomic.LoadUint64(&s.count)
	sum := atomic.LoadUint64(&s.sum)
	snap := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		snap.Avg = time.Duration(sum / count)
	}
	return snap
}
