package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWeightedDistribution(t *testing.T) {
	var wd weightedDistribution
	var freq []int
	const numIter = 10000

	setWeights := func(weights []uint32) {
		wd.clear()
		for _, w := range weights {
			wd.AddWeight(w)
		}
	}
	// Numbers in [0, numIter) instead of random numbers, for determinism.
	computeFreq := func() {
		freq = make([]int, wd.size())
		for i := 0; i < numIter; i++ {
			freq[wd.RandomIndex(uint64(i))]++
		}
	}

	setWeights([]uint32{1, 1})
	computeFreq()
	assert.Equal(t, numIter/2, freq[0])
	assert.Equal(t, numIter/2, freq[1])

	setWeights([]uint32{1, 2})
	computeFreq()
	assert.Greater(t, freq[0], numIter/4)
	assert.Less(t, freq[0], numIter/2)
	assert.Greater(t, freq[1], numIter/2)

	setWeights([]uint32{10, 100, 1})
	computeFreq()
	assert.Less(t, 9*freq[2], freq[0])
	assert.Less(t, 9*freq[0], freq[1])

	setWeights([]uint32{0, 1, 2})
	computeFreq()
	assert.Equal(t, 0, freq[0])
	assert.Greater(t, freq[2], freq[1])

	setWeights([]uint32{2, 1, 0})
	computeFreq()
	assert.Equal(t, 0, freq[2])
	assert.Greater(t, freq[0], freq[1])

	setWeights([]uint32{1, 2, 3, 4, 5})
	computeFreq()
	assert.Greater(t, freq[4], freq[3])
	assert.Greater(t, freq[3], freq[2])
	assert.Greater(t, freq[2], freq[1])
	assert.Greater(t, freq[1], freq[0])

	// Sampling after a mutation without recomputing must fail loudly.
	wd.ChangeWeight(2, 1)
	assert.Panics(t, func() { wd.RandomIndex(0) })
	wd.RecomputeInternalState()
	// Weights: {1, 2, 1, 4, 5}.
	computeFreq()
	assert.Greater(t, freq[4], freq[3])
	assert.Greater(t, freq[3], freq[2])
	assert.Less(t, freq[2], freq[1])
	assert.Greater(t, freq[1], freq[0])

	// Weights: {1, 2, 1, 0, 5}.
	wd.ChangeWeight(3, 0)
	wd.RecomputeInternalState()
	computeFreq()
	assert.Greater(t, freq[4], freq[1])
	assert.Greater(t, freq[1], freq[0])
	assert.Greater(t, freq[1], freq[2])
	assert.Equal(t, 0, freq[3])

	// PopBack leaves a usable prefix cache behind.
	wd.PopBack()
	require.Equal(t, 4, wd.size())
	computeFreq()
	assert.Greater(t, freq[1], freq[0])
	assert.Greater(t, freq[1], freq[2])
	assert.Equal(t, 0, freq[3])
}

func TestWeightedDistributionFailsLoudly(t *testing.T) {
	var wd weightedDistribution
	assert.Panics(t, func() { wd.RandomIndex(0) }, "empty distribution")

	wd.AddWeight(0)
	wd.AddWeight(0)
	assert.Panics(t, func() { wd.RandomIndex(0) }, "zero total weight")
}

func TestWeightedDistributionLarge(t *testing.T) {
	var wd weightedDistribution
	for i := uint32(1); i < 100000; i++ {
		wd.AddWeight(i)
	}
	// O(log n) sampling keeps this instant even at this size.
	for i := 0; i < 10000; i++ {
		idx := wd.RandomIndex(uint64(i) * 977)
		require.Less(t, idx, wd.size())
	}
}
