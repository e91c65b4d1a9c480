package strategy

import (
	"math"
	"sort"
)

// Window is a bounded rolling sample of float values. Pushing beyond capacity
// evicts the oldest sample.
type Window struct {
	cap  int
	vals []float64
}

// NewWindow creates a window holding at most n samples.
func NewWindow(n int) *Window {
	return &Window{cap: n, vals: make([]float64, 0, n)}
}

// Push appends a sample, evicting the oldest when full.
func (w *Window) Push(v float64) {
	if len(w.vals) == w.cap {
		copy(w.vals, w.vals[1:])
		w.vals = w.vals[:len(w.vals)-1]
	}
	w.vals = append(w.vals, v)
}

// Len returns the number of held samples.
func (w *Window) Len() int { return len(w.vals) }

// Full reports whether the window holds its capacity of samples.
func (w *Window) Full() bool { return len(w.vals) == w.cap }

// Mean returns the arithmetic mean of the held samples, 0 when empty.
func (w *Window) Mean() float64 {
	if len(w.vals) == 0 {
		return 0
	}
	var sum float64
	for _, v := range w.vals {
		sum += v
	}
	return sum / float64(len(w.vals))
}

// Percentile returns the p-th percentile (0..100) with linear interpolation
// between closest ranks, 0 when empty.
func (w *Window) Percentile(p float64) float64 {
	n := len(w.vals)
	if n == 0 {
		return 0
	}
	sorted := make([]float64, n)
	copy(sorted, w.vals)
	sort.Float64s(sorted)

	if n == 1 {
		return sorted[0]
	}
	rank := p / 100.0 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
