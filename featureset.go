package main

import (
	"fmt"
	"sort"
)

/******************************************************************************/
/******************************** Feature Set *********************************/
/******************************************************************************/

// FeatureSet is the global frequency table of observed features. Each entry
// is a saturating counter in [1, frequencyThreshold]; a feature whose counter
// has reached the threshold is "frequent" and gets pruned from every
// FeatureVec passing through CountUnseenAndPruneFrequentFeatures, so inputs
// exercising only hot behavior stop looking interesting.
type FeatureSet struct {
	frequencyThreshold uint8
	frequencies        map[feature]uint8
	domainCounts       [numDomains]int // seen features per domain
}

func NewFeatureSet(frequencyThreshold uint8) *FeatureSet {
	if frequencyThreshold == 0 {
		panic("FeatureSet: frequencyThreshold must be positive")
	}
	return &FeatureSet{
		frequencyThreshold: frequencyThreshold,
		frequencies:        make(map[feature]uint8),
	}
}

// Size returns the number of seen features.
func (fs *FeatureSet) Size() int { return len(fs.frequencies) }

// Frequency returns the saturating counter of f, 0 if unseen.
func (fs *FeatureSet) Frequency(f feature) uint8 { return fs.frequencies[f] }

// CountFeatures returns the number of seen features in d.
func (fs *FeatureSet) CountFeatures(d featureDomain) int {
	return fs.domainCounts[d.index]
}

// CountUnseenAndPruneFrequentFeatures removes from fv every feature whose
// frequency already reached the threshold, and returns how many of the
// surviving features are not yet in the set. The set itself is not mutated.
func (fs *FeatureSet) CountUnseenAndPruneFrequentFeatures(fv *FeatureVec) int {
	var unseen int
	kept := (*fv)[:0]
	for _, f := range *fv {
		freq := fs.frequencies[f]
		if freq >= fs.frequencyThreshold {
			continue
		}
		if freq == 0 {
			unseen++
		}
		kept = append(kept, f)
	}
	*fv = kept
	return unseen
}

// IncrementFrequencies bumps the counter of every feature in fv, saturating
// at the threshold. Per-domain counts are updated the first time a feature
// of that domain becomes seen.
func (fs *FeatureSet) IncrementFrequencies(fv FeatureVec) {
	for _, f := range fv {
		freq := fs.frequencies[f]
		if freq == 0 {
			fs.domainCounts[domainOf(f).index]++
		}
		if freq < fs.frequencyThreshold {
			fs.frequencies[f] = freq + 1
		}
	}
}

// Rarity scale for ComputeWeight. Chosen large enough that realistic domain
// populations and frequencies keep distinct weights ordered.
const featureWeightScale = 1 << 16

// ComputeWeight returns a strictly positive rarity score for fv: each
// feature contributes more the lower its frequency, and features of a
// globally rarer domain contribute more than equally-frequent features of a
// better-explored domain. Every feature must already be in the set.
func (fs *FeatureSet) ComputeWeight(fv FeatureVec) uint32 {
	var weight uint32
	for _, f := range fv {
		freq := fs.frequencies[f]
		if freq == 0 {
			panic(fmt.Sprintf("ComputeWeight: unknown feature 0x%x", uint64(f)))
		}
		domainSeen := fs.domainCounts[domainOf(f).index]
		contribution := uint32(featureWeightScale / (domainSeen * int(freq)))
		if contribution == 0 {
			contribution = 1
		}
		weight += contribution
	}
	return weight
}

// ToCoveragePCs returns the sorted pc indexes of all seen counter-domain
// features.
func (fs *FeatureSet) ToCoveragePCs() []uint64 {
	seen := make(map[uint64]struct{})
	for f := range fs.frequencies {
		if !counters8Domain.Contains(f) {
			continue
		}
		seen[convert8bitCounterFeatureToPcIndex(f)] = struct{}{}
	}
	pcs := make([]uint64, 0, len(seen))
	for pc := range seen {
		pcs = append(pcs, pc)
	}
	sort.Slice(pcs, func(i, j int) bool { return pcs[i] < pcs[j] })
	return pcs
}

// allFrequent reports whether every feature of fv has become frequent.
// Vacuously false for an empty vector: an input with no recorded features is
// not evidence of anything.
func (fs *FeatureSet) allFrequent(fv FeatureVec) bool {
	if len(fv) == 0 {
		return false
	}
	for _, f := range fv {
		if fs.frequencies[f] < fs.frequencyThreshold {
			return false
		}
	}
	return true
}
