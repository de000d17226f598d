package main

import "fmt"

/******************************************************************************/
/***************************** Coverage Frontier ******************************/
/******************************************************************************/

// PCInfo describes one instrumented pc of the target binary.
type PCInfo struct {
	PC    uint64
	Flags uint32
}

const pcFlagFuncEntry uint32 = 1

// PCTable lists the instrumented pcs in address order; function boundaries
// are marked with pcFlagFuncEntry.
type PCTable []PCInfo

// CoverageFrontier scores how partially explored each function of the target
// is. A function none of whose pcs are covered is uninteresting (nothing
// reaches it yet); a fully covered one is exhausted; a partially covered one
// is a frontier, and inputs touching it deserve extra mutation effort.
//
// The score is a scalar hint consumed by Corpus.Add; it is recomputed from
// the corpus on demand.
type CoverageFrontier struct {
	pcTable PCTable

	funcStart   []int // pc index -> pc index of its function entry
	isFrontier  []bool
	funcWeights []uint32 // keyed by function-entry pc index

	numFrontiers int
}

func newCoverageFrontier(pcTable PCTable) *CoverageFrontier {
	cf := &CoverageFrontier{
		pcTable:     pcTable,
		funcStart:   make([]int, len(pcTable)),
		isFrontier:  make([]bool, len(pcTable)),
		funcWeights: make([]uint32, len(pcTable)),
	}
	start := 0
	for i, pc := range pcTable {
		if pc.Flags&pcFlagFuncEntry != 0 {
			start = i
		}
		cf.funcStart[i] = start
	}
	return cf
}

// Compute rebuilds the frontier from the active corpus records and returns
// the number of frontier functions.
func (cf *CoverageFrontier) Compute(corpus *Corpus) int {
	covered := make([]bool, len(cf.pcTable))
	for i := 0; i < corpus.NumTotal(); i++ {
		rec, active := corpus.record(i)
		if !active {
			continue
		}
		for _, f := range rec.Features {
			if !counters8Domain.Contains(f) {
				continue
			}
			pcIndex := convert8bitCounterFeatureToPcIndex(f)
			if pcIndex < uint64(len(covered)) {
				covered[pcIndex] = true
			}
		}
	}

	cf.numFrontiers = 0
	for i := range cf.isFrontier {
		cf.isFrontier[i] = false
		cf.funcWeights[i] = 0
	}

	for begin := 0; begin < len(cf.pcTable); {
		end := begin + 1
		for end < len(cf.pcTable) && cf.pcTable[end].Flags&pcFlagFuncEntry == 0 {
			end++
		}
		var coveredPCs int
		for i := begin; i < end; i++ {
			if covered[i] {
				coveredPCs++
			}
		}
		size := end - begin
		if coveredPCs > 0 && coveredPCs < size {
			cf.numFrontiers++
			uncovered := size - coveredPCs
			weight := uint32(255 * uncovered / size)
			if weight == 0 {
				weight = 1
			}
			for i := begin; i < end; i++ {
				cf.isFrontier[i] = true
				cf.funcWeights[i] = weight
			}
		}
		begin = end
	}
	return cf.numFrontiers
}

// NumFunctionsInFrontier returns the result of the last Compute.
func (cf *CoverageFrontier) NumFunctionsInFrontier() int { return cf.numFrontiers }

// PcIndexIsFrontier reports whether pcIndex belongs to a frontier function.
func (cf *CoverageFrontier) PcIndexIsFrontier(pcIndex uint64) bool {
	if pcIndex >= uint64(len(cf.isFrontier)) {
		return false
	}
	return cf.isFrontier[pcIndex]
}

// FrontierWeight returns the scalar score of the function owning pcIndex;
// zero if the function is not a frontier. Out-of-range indexes are a
// programmer error.
func (cf *CoverageFrontier) FrontierWeight(pcIndex uint64) uint32 {
	if pcIndex >= uint64(len(cf.funcWeights)) {
		panic(fmt.Sprintf("FrontierWeight: pc index %d out of range", pcIndex))
	}
	return cf.funcWeights[pcIndex]
}

// frontierBonus sums the frontier weights touched by fv. A nil frontier
// (no pc table available) contributes nothing.
func (cf *CoverageFrontier) frontierBonus(fv FeatureVec) uint32 {
	if cf == nil {
		return 0
	}
	var bonus uint32
	for _, f := range fv {
		if !counters8Domain.Contains(f) {
			continue
		}
		pcIndex := convert8bitCounterFeatureToPcIndex(f)
		if pcIndex < uint64(len(cf.funcWeights)) {
			bonus += cf.funcWeights[pcIndex]
		}
	}
	return bonus
}
