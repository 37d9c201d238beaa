// Package partition splits the N subdivisions of [0,1] between workers.
package partition

import (
	"errors"
	"fmt"
)

// MaxWorkers bounds a single split; each worker is a goroutine or a process.
const MaxWorkers = 1 << 14

var (
	ErrNoWorkers         = errors.New("worker count must be at least 1")
	ErrTooManyWorkers    = fmt.Errorf("worker count must be at most %d", MaxWorkers)
	ErrNegativeDivisions = errors.New("division count must not be negative")
)

// Range is the half-open index interval [Start, End) owned by one worker.
type Range struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Len returns the number of subdivisions in the range.
func (r Range) Len() int { return r.End - r.Start }

func (r Range) Empty() bool { return r.End <= r.Start }

func (r Range) String() string { return fmt.Sprintf("[%d,%d)", r.Start, r.End) }

// Split divides n subdivisions among w workers. Every range holds n/w or
// n/w+1 subdivisions; the first n%w ranges are the larger ones, and the
// ranges are contiguous, so together they cover [0, n) exactly once.
func Split(n, w int) ([]Range, error) {
	if w < 1 {
		return nil, fmt.Errorf("split %d divisions among %d workers: %w", n, w, ErrNoWorkers)
	}
	if w > MaxWorkers {
		return nil, fmt.Errorf("split %d divisions among %d workers: %w", n, w, ErrTooManyWorkers)
	}
	if n < 0 {
		return nil, fmt.Errorf("split %d divisions: %w", n, ErrNegativeDivisions)
	}

	chunk := n / w
	remainder := n % w

	ranges := make([]Range, w)
	for i := range ranges {
		start := i*chunk + min(i, remainder)
		size := chunk
		if i < remainder {
			size++
		}
		ranges[i] = Range{Start: start, End: start + size}
	}
	return ranges, nil
}
