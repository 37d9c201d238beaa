// Package integrate holds the midpoint-rule kernel run by every worker.
package integrate

import (
	"math"

	"github.com/qcserestipy/gopi/pkg/partition"
)

// Quarter is the unit quarter circle, sqrt(1 - x²). Rounding can push the
// radicand slightly below zero near x = 1, so it is clamped.
func Quarter(x float64) float64 {
	return math.Sqrt(math.Max(0, 1-x*x))
}

// Partial integrates Quarter over the subdivisions [r.Start, r.End) of an
// n-way split of [0,1] using the midpoint of each subdivision. The sum is
// kept local; callers publish it to an accumulator once.
func Partial(r partition.Range, n int) float64 {
	if n <= 0 || r.Empty() {
		return 0
	}
	h := 1.0 / float64(n)

	acc := 0.0
	for i := r.Start; i < r.End; i++ {
		x := float64(i)*h + h/2
		acc += Quarter(x) * h
	}
	return acc
}

// Area is the single-worker integral over all n subdivisions.
func Area(n int) float64 {
	return Partial(partition.Range{Start: 0, End: n}, n)
}

// Pi scales a quarter-circle area to the π approximation.
func Pi(area float64) float64 { return 4 * area }
