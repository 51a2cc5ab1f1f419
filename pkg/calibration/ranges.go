package calibration

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Initial bounds of a fresh tracker; any real reading widens past them.
const (
	initialMin = 1000
	initialMax = -1000
)

// RangeTracker records the running min and max of each sensor. It is safe
// for concurrent use.
type RangeTracker struct {
	mu     sync.Mutex
	ranges *mat.Dense
}

// NewRangeTracker returns a tracker for n sensors.
func NewRangeTracker(n int) *RangeTracker {
	r := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		r.Set(i, 0, initialMin)
		r.Set(i, 1, initialMax)
	}
	return &RangeTracker{ranges: r}
}

// Observe widens the ranges to include sample.
func (t *RangeTracker) Observe(sample []float64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, _ := t.ranges.Dims()
	if len(sample) != n {
		return fmt.Errorf("sample has %d values, want %d", len(sample), n)
	}
	for i, v := range sample {
		if v < t.ranges.At(i, 0) {
			t.ranges.Set(i, 0, v)
		}
		if v > t.ranges.At(i, 1) {
			t.ranges.Set(i, 1, v)
		}
	}
	return nil
}

// Reset replaces the tracked ranges, e.g. with ones loaded from disk.
func (t *RangeTracker) Reset(ranges mat.Matrix) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ranges = mat.DenseCopyOf(ranges)
}

// Ranges returns a copy of the current ranges (n x 2: min, max).
func (t *RangeTracker) Ranges() *mat.Dense {
	t.mu.Lock()
	defer t.mu.Unlock()
	return mat.DenseCopyOf(t.ranges)
}

// Normalize scales each row of samples into [0, 1] using ranges (one row per
// sample row, min and max columns). Rows with no spread are mapped to zero.
func Normalize(samples, ranges mat.Matrix) (*mat.Dense, error) {
	r, c := samples.Dims()
	nr, _ := ranges.Dims()
	if nr != r {
		return nil, fmt.Errorf("normalize: %d rows but %d ranges", r, nr)
	}

	out := mat.NewDense(r, c, nil)
	for i := 0; i < r; i++ {
		lo := ranges.At(i, 0)
		scale := 1 / (ranges.At(i, 1) - lo)
		if math.IsInf(scale, 0) || math.IsNaN(scale) {
			scale = 0
		}
		for j := 0; j < c; j++ {
			out.Set(i, j, (samples.At(i, j)-lo)*scale)
		}
	}
	return out, nil
}
