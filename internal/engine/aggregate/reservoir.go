package aggregate

import (
	"math/rand"
	"sort"
)

// reservoir is a bounded sample of observed values, maintained with
// classic reservoir sampling (Vitter's algorithm R) so memory stays
// constant regardless of how many samples a long-running task
// produces.
type reservoir struct {
	capacity int
	seen     int64
	values   []float64
}

func newReservoir(capacity int) *reservoir {
	if capacity <= 0 {
		capacity = 10000
	}
	return &reservoir{capacity: capacity, values: make([]float64, 0, capacity)}
}

func (r *reservoir) add(v float64) {
	r.seen++
	if len(r.values) < r.capacity {
		r.values = append(r.values, v)
		return
	}
	j := rand.Int63n(r.seen)
	if j < int64(r.capacity) {
		r.values[j] = v
	}
}

// percentile returns the linear-interpolated percentile over the
// current sample, sorting a private copy so concurrent readers never
// observe a partially-sorted reservoir.
func (r *reservoir) percentile(p float64) float64 {
	if len(r.values) == 0 {
		return 0
	}
	sorted := make([]float64, len(r.values))
	copy(sorted, r.values)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}
	rank := p / 100 * float64(len(sorted)-1)
	lo := int(rank)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
