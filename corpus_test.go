package main

import (
	"math/rand"
	"sort"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCorpusGetCmpArgs(t *testing.T) {
	fs := NewFeatureSet(3)
	corpus := &Corpus{}
	cmpArgs := []byte{2, 0, 1, 2, 3}
	features := FeatureVec{10, 20, 30}
	fs.IncrementFrequencies(features)
	corpus.Add([]byte{1}, features, cmpArgs, fs, nil)

	assert.Equal(t, 1, corpus.NumActive())
	assert.Equal(t, cmpArgs, corpus.GetCmpArgs(0))
}

func TestCorpusPrintStats(t *testing.T) {
	fs := NewFeatureSet(3)
	corpus := &Corpus{}
	features1 := FeatureVec{10, 20, 30}
	features2 := FeatureVec{20, 40}
	fs.IncrementFrequencies(features1)
	corpus.Add([]byte{1, 2, 3}, features1, nil, fs, nil)
	fs.IncrementFrequencies(features2)
	corpus.Add([]byte{4, 5}, features2, nil, fs, nil)

	var buf strings.Builder
	corpus.PrintStats(&buf, fs)
	assert.Equal(t,
		"{ \"corpus_stats\": [\n"+
			"  {\"size\": 3, \"frequencies\": [1, 2, 1]},\n"+
			"  {\"size\": 2, \"frequencies\": [2, 1]}]}\n",
		buf.String())
}

func TestCorpusPrune(t *testing.T) {
	// Prune removes an input once all of its features appear at least 3
	// times.
	fs := NewFeatureSet(3)
	corpus := &Corpus{}
	rng := rand.New(rand.NewSource(0))
	maxCorpusSize := 1000

	add := func(data []byte, features FeatureVec) {
		fs.IncrementFrequencies(features)
		corpus.Add(data, features, nil, fs, nil)
	}
	verifyActiveInputs := func(expected [][]byte) {
		var observed [][]byte
		for i := 0; i < corpus.NumTotal(); i++ {
			if rec, active := corpus.record(i); active {
				observed = append(observed, rec.Data)
			}
		}
		sortInputs := func(inputs [][]byte) {
			sort.Slice(inputs, func(i, j int) bool {
				return string(inputs[i]) < string(inputs[j])
			})
		}
		sortInputs(observed)
		sortInputs(expected)
		assert.Equal(t, expected, observed)
	}

	add([]byte{0}, FeatureVec{20, 40})
	add([]byte{1}, FeatureVec{20, 30})
	add([]byte{2}, FeatureVec{30, 40})
	add([]byte{3}, FeatureVec{40, 50})
	add([]byte{4}, FeatureVec{10, 20})

	// Features 20 and 40 are frequent => input {0} goes.
	require.Equal(t, 5, corpus.NumActive())
	assert.Equal(t, 1, corpus.Prune(fs, nil, maxCorpusSize, rng))
	assert.Equal(t, 4, corpus.NumActive())
	assert.Equal(t, 5, corpus.NumTotal())
	verifyActiveInputs([][]byte{{1}, {2}, {3}, {4}})

	add([]byte{5}, FeatureVec{30, 60})
	require.Equal(t, 6, corpus.NumTotal())
	// Feature 30 is now frequent => inputs {1} and {2} go.
	require.Equal(t, 5, corpus.NumActive())
	assert.Equal(t, 2, corpus.Prune(fs, nil, maxCorpusSize, rng))
	assert.Equal(t, 3, corpus.NumActive())
	verifyActiveInputs([][]byte{{3}, {4}, {5}})

	// Shrinking max_corpus_size evicts uniformly at random.
	assert.Equal(t, 0, corpus.Prune(fs, nil, 3, rng))
	assert.Equal(t, 3, corpus.NumActive())
	assert.Equal(t, 1, corpus.Prune(fs, nil, 2, rng))
	assert.Equal(t, 2, corpus.NumActive())
	assert.Equal(t, 1, corpus.Prune(fs, nil, 1, rng))
	assert.Equal(t, 1, corpus.NumActive())
	assert.Panics(t, func() { corpus.Prune(fs, nil, 0, rng) })
	assert.Equal(t, 6, corpus.NumTotal())
}

// Regression shape: a record whose whole support goes frequent while a
// sibling keeps one rare feature.
func TestCorpusPruneMixedSupport(t *testing.T) {
	fs := NewFeatureSet(2)
	corpus := &Corpus{}
	rng := rand.New(rand.NewSource(0))

	add := func(data []byte, features FeatureVec) {
		fs.IncrementFrequencies(features)
		corpus.Add(data, features, nil, fs, nil)
	}
	add([]byte{1}, FeatureVec{10, 20})
	add([]byte{2}, FeatureVec{10})

	pruned := corpus.Prune(fs, nil, 1000, rng)
	assert.Equal(t, 1, pruned)
	assert.Equal(t, 1, corpus.NumActive())
	assert.Equal(t, 2, corpus.NumTotal())
}

func TestCorpusSampling(t *testing.T) {
	fs := NewFeatureSet(10)
	corpus := &Corpus{}

	fs.IncrementFrequencies(FeatureVec{1})
	corpus.Add([]byte{0xaa}, FeatureVec{1}, nil, fs, nil)
	fs.IncrementFrequencies(FeatureVec{2})
	corpus.Add([]byte{0xbb}, FeatureVec{2}, nil, fs, nil)

	seen := make(map[byte]int)
	for i := 0; i < 1000; i++ {
		seen[corpus.WeightedRandom(uint64(i))[0]]++
		seen[corpus.UniformRandom(uint64(i))[0]]++
	}
	assert.Greater(t, seen[0xaa], 0)
	assert.Greater(t, seen[0xbb], 0)

	// A corpus holding only a weightless seed still samples it.
	seedOnly := &Corpus{}
	seedOnly.Add([]byte{0}, nil, nil, fs, nil)
	assert.Equal(t, []byte{0}, seedOnly.WeightedRandom(7))

	empty := &Corpus{}
	assert.Panics(t, func() { empty.UniformRandom(0) })
}

func TestCorpusMaxAndAvgSize(t *testing.T) {
	fs := NewFeatureSet(10)
	corpus := &Corpus{}
	max, avg := corpus.MaxAndAvgSize()
	assert.Equal(t, 0, max)
	assert.Equal(t, 0, avg)

	fs.IncrementFrequencies(FeatureVec{1, 2})
	corpus.Add(make([]byte, 10), FeatureVec{1}, nil, fs, nil)
	corpus.Add(make([]byte, 4), FeatureVec{2}, nil, fs, nil)
	max, avg = corpus.MaxAndAvgSize()
	assert.Equal(t, 10, max)
	assert.Equal(t, 7, avg)
}
