// Package weighted implements weighted random selection over arbitrary
// records: build a cumulative-weight sequence once, draw a single uniform
// value, and binary-search for the owning bucket. The pool strategies and the
// identity factory both select through this package so the drawing semantics
// stay identical everywhere.
package weighted

import (
	"math/rand"
	"sort"
)

// Picker holds the cumulative weights for one draw set. A Picker is cheap to
// build and intended to be rebuilt whenever the candidate set or the weights
// change; it holds no locks and must not be shared across goroutines while
// being built.
type Picker struct {
	cumulative []float64
	total      float64
}

// New builds a Picker from per-candidate weights. Non-positive weights are
// treated as zero; such candidates can never be drawn. Returns ok=false when
// no candidate carries positive weight.
func New(weights []float64) (*Picker, bool) {
	p := &Picker{cumulative: make([]float64, len(weights))}
	for i, w := range weights {
		if w > 0 {
			p.total += w
		}
		p.cumulative[i] = p.total
	}
	if p.total <= 0 {
		return nil, false
	}
	return p, true
}

// Pick draws one index using the provided RNG. The probability of index i is
// weights[i]/sum(weights).
func (p *Picker) Pick(rng *rand.Rand) int {
	target := rng.Float64() * p.total
	// sort.Search finds the first bucket whose cumulative weight exceeds the
	// target, which is exactly the owner of that point on the number line.
	return sort.Search(len(p.cumulative), func(i int) bool {
		return p.cumulative[i] > target
	})
}

// PickOne is the convenience path for one-shot draws: build and draw in a
// single call. Returns ok=false when no candidate has positive weight.
func PickOne(rng *rand.Rand, weights []float64) (int, bool) {
	p, ok := New(weights)
	if !ok {
		return 0, false
	}
	return p.Pick(rng), true
}
