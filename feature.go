package main

import (
	"fmt"
	"math/bits"
)

/******************************************************************************/
/**************************** Features and Domains ****************************/
/******************************************************************************/

// A feature is a 64-bit tag for one dynamic event observed in the target:
// an edge hit, a counter bucket, a data-flow load, a comparison, a short
// path. The feature space is split into contiguous domains, one per
// instrumentation source.
type feature uint64

// FeatureVec is an ordered set of features. Duplicates are not permitted;
// order carries no meaning but is preserved for determinism.
type FeatureVec []feature

// Domain indexes into the domain table below.
const (
	domainPCGuard = iota
	domain8bitCounters
	domainDataFlow
	domainCMP
	domainBoundedPath
	domainUnknown
	numDomains
)

const (
	// Per-pc counter values are bucketed into 8 log2 buckets, so the
	// counter domain carries 8 features per pc index.
	countersPerPC = 8

	pcGuardDomainSize      feature = 1 << 32
	counters8DomainSize    feature = 1 << 35
	dataFlowDomainSize     feature = 1 << 40
	cmpDomainSize          feature = 1 << 40
	boundedPathDomainSize  feature = 1 << 40
	unknownDomainSize      feature = 1 << 40
)

// featureDomain is one contiguous [begin, end) interval of feature space.
type featureDomain struct {
	index      int
	name       string
	begin, end feature
}

func (d featureDomain) Contains(f feature) bool { return f >= d.begin && f < d.end }
func (d featureDomain) size() feature           { return d.end - d.begin }

// ConvertToMe maps a raw instrumentation number into this domain.
func (d featureDomain) ConvertToMe(n uint64) feature {
	return d.begin + feature(n)%d.size()
}

var (
	pcGuardDomain = featureDomain{
		index: domainPCGuard, name: "pc",
		begin: 0, end: pcGuardDomainSize,
	}
	counters8Domain = featureDomain{
		index: domain8bitCounters, name: "cnt",
		begin: pcGuardDomain.end, end: pcGuardDomain.end + counters8DomainSize,
	}
	dataFlowDomain = featureDomain{
		index: domainDataFlow, name: "df",
		begin: counters8Domain.end, end: counters8Domain.end + dataFlowDomainSize,
	}
	cmpDomain = featureDomain{
		index: domainCMP, name: "cmp",
		begin: dataFlowDomain.end, end: dataFlowDomain.end + cmpDomainSize,
	}
	boundedPathDomain = featureDomain{
		index: domainBoundedPath, name: "path",
		begin: cmpDomain.end, end: cmpDomain.end + boundedPathDomainSize,
	}
	unknownDomain = featureDomain{
		index: domainUnknown, name: "unknown",
		begin: boundedPathDomain.end, end: boundedPathDomain.end + unknownDomainSize,
	}

	allDomains = [numDomains]featureDomain{
		pcGuardDomain, counters8Domain, dataFlowDomain,
		cmpDomain, boundedPathDomain, unknownDomain,
	}
)

func domainOf(f feature) featureDomain {
	for _, d := range allDomains {
		if d.Contains(f) {
			return d
		}
	}
	return unknownDomain
}

// *****************************************************************************
// ************************ Instrumentation Conversions ************************

// convert8bitCounterToNumber packs a (pc index, counter value) pair into a
// raw number for the counter domain. The counter value is reduced to its
// log2 bucket, AFL style.
func convert8bitCounterToNumber(pcIndex uint64, counterValue uint8) uint64 {
	if counterValue == 0 {
		panic("convert8bitCounterToNumber: zero counter")
	}
	bucket := uint64(bits.Len8(counterValue) - 1) // in [0, 7]
	return pcIndex*countersPerPC + bucket
}

// convert8bitCounterFeatureToPcIndex recovers the pc index from a feature
// of the counter domain.
func convert8bitCounterFeatureToPcIndex(f feature) uint64 {
	if !counters8Domain.Contains(f) {
		panic(fmt.Sprintf("feature 0x%x is not a counter feature", uint64(f)))
	}
	return uint64(f-counters8Domain.begin) / countersPerPC
}

// convertPcPairToNumber packs a (pc offset, load address offset) pair into a
// raw number for the data-flow domain.
func convertPcPairToNumber(pcOffset, addrOffset, mainObjectSize uint64) uint64 {
	return pcOffset*mainObjectSize + addrOffset
}

// convertContextAndArgPairToNumber hashes a comparison (arg1, arg2) pair
// together with its calling-context hash into a raw number for the cmp
// domain.
func convertContextAndArgPairToNumber(arg1, arg2, ctxHash uint64) uint64 {
	return hash64Bits(arg1) ^ hash64Bits(arg2)<<1 ^ ctxHash
}

// hash64Bits is a cheap 64-bit mixer (the splitmix64 finalizer).
func hash64Bits(x uint64) uint64 {
	x ^= x >> 30
	x *= 0xbf58476d1ce4e5b9
	x ^= x >> 27
	x *= 0x94d049bb133111eb
	x ^= x >> 31
	return x
}

// *****************************************************************************
// ****************************** FeatureVec utils *****************************

func (fv FeatureVec) cpy() FeatureVec {
	c := make(FeatureVec, len(fv))
	copy(c, fv)
	return c
}
