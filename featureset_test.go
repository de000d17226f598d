package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFeatureSetComputeWeight(t *testing.T) {
	fs := NewFeatureSet(10)

	w := func(fv FeatureVec) uint32 { return fs.ComputeWeight(fv) }

	fs.IncrementFrequencies(FeatureVec{1, 2, 3})
	assert.Equal(t, w(FeatureVec{1}), w(FeatureVec{2}))
	assert.Equal(t, w(FeatureVec{1}), w(FeatureVec{3}))
	assert.Panics(t, func() { w(FeatureVec{4}) })

	fs.IncrementFrequencies(FeatureVec{1, 2})
	assert.Greater(t, w(FeatureVec{3}), w(FeatureVec{2}))
	assert.Greater(t, w(FeatureVec{3}), w(FeatureVec{1}))
	assert.Greater(t, w(FeatureVec{3, 1}), w(FeatureVec{2, 1}))
	assert.Greater(t, w(FeatureVec{3, 2}), w(FeatureVec{2}))

	fs.IncrementFrequencies(FeatureVec{1})
	assert.Greater(t, w(FeatureVec{3}), w(FeatureVec{2}))
	assert.Greater(t, w(FeatureVec{2}), w(FeatureVec{1}))
	assert.Greater(t, w(FeatureVec{3, 2}), w(FeatureVec{3, 1}))
}

func TestFeatureSetComputeWeightWithDifferentDomains(t *testing.T) {
	fs := NewFeatureSet(10)
	// Domain #1 is the rarest, domain #3 the most explored.
	f1 := counters8Domain.begin
	f2 := cmpDomain.begin
	f3 := boundedPathDomain.begin
	fs.IncrementFrequencies(FeatureVec{
		f1,
		f2, f2 + 1,
		f3, f3 + 1, f3 + 2,
	})

	w := func(fv FeatureVec) uint32 { return fs.ComputeWeight(fv) }

	// Features of a less explored domain weigh more.
	assert.Greater(t, w(FeatureVec{f1}), w(FeatureVec{f2}))
	assert.Greater(t, w(FeatureVec{f2}), w(FeatureVec{f3}))
}

func TestFeatureSetCountUnseenAndPruneFrequentFeatures(t *testing.T) {
	fs := NewFeatureSet(3)
	var features FeatureVec

	countUnseenAndPrune := func() int {
		return fs.CountUnseenAndPruneFrequentFeatures(&features)
	}
	increment := func(fv FeatureVec) { fs.IncrementFrequencies(fv) }

	// On the empty set.
	features = FeatureVec{10, 20}
	assert.Equal(t, 2, countUnseenAndPrune())
	assert.Equal(t, 0, fs.Size())
	assert.Equal(t, FeatureVec{10, 20}, features)

	// Add {10} for the first time.
	features = FeatureVec{10, 20}
	increment(FeatureVec{10})
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 1, fs.Size())
	assert.Equal(t, FeatureVec{10, 20}, features)

	// Second time.
	features = FeatureVec{10, 20}
	increment(FeatureVec{10})
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 1, fs.Size())
	assert.Equal(t, FeatureVec{10, 20}, features)

	// Third time: {10} becomes frequent, pruning removes it.
	features = FeatureVec{10, 20}
	increment(FeatureVec{10})
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 1, fs.Size())
	assert.Equal(t, FeatureVec{20}, features)

	// {30} seen once; {10, 20} still gets pruned to {20}.
	features = FeatureVec{10, 20}
	increment(FeatureVec{30})
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 2, fs.Size())
	assert.Equal(t, FeatureVec{20}, features)

	// {10, 20, 30} => {20, 30}; 1 unseen.
	features = FeatureVec{10, 20, 30}
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 2, fs.Size())
	assert.Equal(t, FeatureVec{20, 30}, features)

	// {10, 20, 30} => {20}; 1 unseen.
	features = FeatureVec{10, 20, 30}
	increment(FeatureVec{30})
	increment(FeatureVec{30})
	assert.Equal(t, 1, countUnseenAndPrune())
	assert.Equal(t, 2, fs.Size())
	assert.Equal(t, FeatureVec{20}, features)

	// {10, 20, 30} => {20}; 0 unseen.
	features = FeatureVec{10, 20, 30}
	increment(FeatureVec{20})
	increment(FeatureVec{20})
	assert.Equal(t, 0, countUnseenAndPrune())
	assert.Equal(t, 3, fs.Size())
	assert.Equal(t, FeatureVec{20}, features)

	// {10, 20, 30} => {}; 0 unseen.
	features = FeatureVec{10, 20, 30}
	increment(FeatureVec{20})
	assert.Equal(t, 0, countUnseenAndPrune())
	assert.Equal(t, 3, fs.Size())
	assert.Equal(t, FeatureVec{}, features)
}

// Incrementing a vector and immediately re-testing it must report nothing
// unseen and prune nothing (the threshold is not reached by one bump).
func TestFeatureSetIncrementThenCount(t *testing.T) {
	fs := NewFeatureSet(5)
	fv := FeatureVec{100, 200, 300}
	fs.IncrementFrequencies(fv)

	again := fv.cpy()
	require.Equal(t, 0, fs.CountUnseenAndPruneFrequentFeatures(&again))
	require.Equal(t, fv, again)
}

func TestFeatureSetDomainCountsAndCoveragePCs(t *testing.T) {
	fs := NewFeatureSet(10)
	fs.IncrementFrequencies(FeatureVec{
		counters8Domain.ConvertToMe(convert8bitCounterToNumber(7, 1)),
		counters8Domain.ConvertToMe(convert8bitCounterToNumber(3, 255)),
		counters8Domain.ConvertToMe(convert8bitCounterToNumber(3, 1)),
		dataFlowDomain.ConvertToMe(42),
	})

	assert.Equal(t, 3, fs.CountFeatures(counters8Domain))
	assert.Equal(t, 1, fs.CountFeatures(dataFlowDomain))
	assert.Equal(t, 0, fs.CountFeatures(cmpDomain))
	// Two distinct pcs: 3 (two buckets) and 7.
	assert.Equal(t, []uint64{3, 7}, fs.ToCoveragePCs())
}
