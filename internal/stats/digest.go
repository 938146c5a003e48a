// Package stats summarizes repeated target runs and formats the exit report.
package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// RunDigest accumulates run wall times and answers percentile queries.
// It is safe for concurrent use.
type RunDigest struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int
	total  time.Duration
	min    time.Duration
	max    time.Duration
}

// NewRunDigest returns an empty digest.
func NewRunDigest() *RunDigest {
	return &RunDigest{
		digest: tdigest.NewWithCompression(100), // ~100 centroids, ~10KB
	}
}

// Add records one run duration.
func (r *RunDigest) Add(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.digest.Add(float64(d), 1)
	if r.count == 0 || d < r.min {
		r.min = d
	}
	if d > r.max {
		r.max = d
	}
	r.count++
	r.total += d
}

// RunSummary is a point-in-time view of a RunDigest.
type RunSummary struct {
	Count int
	Min   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	Max   time.Duration
}

// Summary returns the current statistics.
func (r *RunDigest) Summary() RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count == 0 {
		return RunSummary{}
	}

	// The digest interpolates; clamp so p50/p95 stay inside the observed range.
	clamp := func(d time.Duration) time.Duration {
		return min(max(d, r.min), r.max)
	}

	return RunSummary{
		Count: r.count,
		Min:   r.min,
		Mean:  r.total / time.Duration(r.count),
		P50:   clamp(time.Duration(r.digest.Quantile(0.50))),
		P95:   clamp(time.Duration(r.digest.Quantile(0.95))),
		Max:   r.max,
	}
}
