package weighted

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPickOne(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	t.Run("should respect relative weights over many draws", func(t *testing.T) {
		weights := []float64{1, 0, 9}
		counts := make([]int, len(weights))
		const draws = 10000
		for i := 0; i < draws; i++ {
			idx, ok := PickOne(rng, weights)
			require.True(t, ok)
			counts[idx]++
		}

		assert.Zero(t, counts[1], "zero-weight candidate must never be drawn")
		// Index 2 carries 90% of the mass; allow a generous band around it.
		assert.InDelta(t, 0.9, float64(counts[2])/draws, 0.03)
		assert.InDelta(t, 0.1, float64(counts[0])/draws, 0.03)
	})

	t.Run("should reject all-zero weights", func(t *testing.T) {
		_, ok := PickOne(rng, []float64{0, 0, 0})
		assert.False(t, ok)
	})

	t.Run("should reject empty input", func(t *testing.T) {
		_, ok := PickOne(rng, nil)
		assert.False(t, ok)
	})

	t.Run("should treat negative weights as zero", func(t *testing.T) {
		for i := 0; i < 100; i++ {
			idx, ok := PickOne(rng, []float64{-5, 3, -1})
			require.True(t, ok)
			assert.Equal(t, 1, idx)
		}
	})
}

func TestPickerSingleCandidate(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	p, ok := New([]float64{2.5})
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		assert.Equal(t, 0, p.Pick(rng))
	}
}
