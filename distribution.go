package main

import "sort"

/******************************************************************************/
/*************************** Weighted Distribution ****************************/
/******************************************************************************/

// weightedDistribution samples indexes proportionally to their weight using
// cached prefix sums: AddWeight extends the cache, ChangeWeight and PopBack
// leave it usable or dirty as noted, RandomIndex is O(log n) on a clean
// cache. Sampling with a dirty cache is a programmer error.
type weightedDistribution struct {
	weights    []uint32
	cumulative []uint64
	dirty      bool
}

func (wd *weightedDistribution) size() int { return len(wd.weights) }

func (wd *weightedDistribution) total() uint64 {
	if len(wd.cumulative) == 0 {
		return 0
	}
	return wd.cumulative[len(wd.cumulative)-1]
}

// AddWeight appends a weight, extending the prefix cache in O(1).
func (wd *weightedDistribution) AddWeight(weight uint32) {
	wd.weights = append(wd.weights, weight)
	wd.cumulative = append(wd.cumulative, wd.total()+uint64(weight))
}

// ChangeWeight replaces the weight at index and marks the cache dirty;
// RecomputeInternalState must run before the next RandomIndex.
func (wd *weightedDistribution) ChangeWeight(index int, weight uint32) {
	wd.weights[index] = weight
	wd.dirty = true
}

// PopBack removes the last weight. The remaining prefix cache stays valid.
func (wd *weightedDistribution) PopBack() {
	n := len(wd.weights) - 1
	wd.weights = wd.weights[:n]
	wd.cumulative = wd.cumulative[:n]
}

// RecomputeInternalState rebuilds the prefix cache in O(n).
func (wd *weightedDistribution) RecomputeInternalState() {
	var running uint64
	wd.cumulative = wd.cumulative[:0]
	for _, w := range wd.weights {
		running += uint64(w)
		wd.cumulative = append(wd.cumulative, running)
	}
	wd.dirty = false
}

// RandomIndex maps random onto an index with probability proportional to its
// weight. Zero-weight indexes are never returned.
func (wd *weightedDistribution) RandomIndex(random uint64) int {
	if wd.dirty {
		panic("weightedDistribution: RandomIndex on a stale cache")
	}
	if len(wd.weights) == 0 {
		panic("weightedDistribution: RandomIndex on an empty distribution")
	}
	total := wd.total()
	if total == 0 {
		panic("weightedDistribution: RandomIndex with zero total weight")
	}
	random %= total
	return sort.Search(len(wd.cumulative), func(i int) bool {
		return wd.cumulative[i] > random
	})
}

func (wd *weightedDistribution) clear() {
	wd.weights = wd.weights[:0]
	wd.cumulative = wd.cumulative[:0]
	wd.dirty = false
}
