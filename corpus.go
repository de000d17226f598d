package main

import (
	"fmt"
	"io"
	"math/rand"
)

/******************************************************************************/
/********************************** Corpus ************************************/
/******************************************************************************/

// CorpusRecord is one kept input together with the features that made it
// interesting when first seen. Data is never mutated after insertion.
type CorpusRecord struct {
	Data     []byte
	Features FeatureVec
	CmpArgs  []byte
}

// Corpus is the ordered store of kept records. Records are append-only;
// pruning marks them inactive, it never deletes. A weightedDistribution runs
// parallel to the records: inactive records carry weight zero and cannot be
// sampled.
type Corpus struct {
	records   []CorpusRecord
	active    []bool
	numActive int
	wd        weightedDistribution
}

// Add appends a record with a rarity weight from fs, biased by the coverage
// frontier when one is available. All features must already be seen by fs
// (IncrementFrequencies runs first on the add path).
func (c *Corpus) Add(data []byte, fv FeatureVec, cmpArgs []byte,
	fs *FeatureSet, frontier *CoverageFrontier) {

	rec := CorpusRecord{
		Data:     append([]byte(nil), data...),
		Features: fv.cpy(),
		CmpArgs:  append([]byte(nil), cmpArgs...),
	}

	var weight uint32
	if len(fv) > 0 {
		weight = fs.ComputeWeight(fv) + frontier.frontierBonus(fv)
	}

	c.records = append(c.records, rec)
	c.active = append(c.active, true)
	c.numActive++
	c.wd.AddWeight(weight)
	c.wd.RecomputeInternalState()
}

// NumTotal counts all records ever added; NumActive only those still
// eligible for sampling.
func (c *Corpus) NumTotal() int  { return len(c.records) }
func (c *Corpus) NumActive() int { return c.numActive }

// Get returns the input bytes of record i.
func (c *Corpus) Get(i int) []byte { return c.records[i].Data }

// GetCmpArgs returns the serialized comparison operands of record i.
func (c *Corpus) GetCmpArgs(i int) []byte { return c.records[i].CmpArgs }

func (c *Corpus) record(i int) (CorpusRecord, bool) {
	return c.records[i], c.active[i]
}

// WeightedRandom samples an active record biased by rarity. When every
// active record carries weight zero (e.g. only the initial dummy input is
// present) it degrades to uniform sampling.
func (c *Corpus) WeightedRandom(random uint64) []byte {
	if c.wd.total() == 0 {
		return c.UniformRandom(random)
	}
	return c.records[c.wd.RandomIndex(random)].Data
}

// UniformRandom samples uniformly among active records.
func (c *Corpus) UniformRandom(random uint64) []byte {
	if c.numActive == 0 {
		panic("Corpus: sampling from an empty corpus")
	}
	nth := int(random % uint64(c.numActive))
	for i, ok := range c.active {
		if !ok {
			continue
		}
		if nth == 0 {
			return c.records[i].Data
		}
		nth--
	}
	panic("Corpus: active bitmap out of sync")
}

// Prune deactivates records in two phases: first every record whose feature
// support has become entirely frequent in fs, then uniformly random evictions
// until at most maxCorpusSize records stay active. Returns the number of
// newly inactive records. Must not run during shard loading: it would
// interfere with distillation.
func (c *Corpus) Prune(fs *FeatureSet, frontier *CoverageFrontier,
	maxCorpusSize int, rng *rand.Rand) int {

	if maxCorpusSize <= 0 {
		panic("Corpus.Prune: max_corpus_size must be at least 1")
	}
	if frontier != nil {
		// Refresh the per-function scores so records added after the prune
		// see the current frontier.
		frontier.Compute(c)
	}

	var pruned int
	for i := range c.records {
		if !c.active[i] {
			continue
		}
		if fs.allFrequent(c.records[i].Features) {
			c.deactivate(i)
			pruned++
		}
	}

	for c.numActive > maxCorpusSize {
		c.deactivate(c.nthActive(rng.Intn(c.numActive)))
		pruned++
	}

	c.wd.RecomputeInternalState()
	return pruned
}

func (c *Corpus) deactivate(i int) {
	c.active[i] = false
	c.numActive--
	c.wd.ChangeWeight(i, 0)
}

func (c *Corpus) nthActive(nth int) int {
	for i, ok := range c.active {
		if !ok {
			continue
		}
		if nth == 0 {
			return i
		}
		nth--
	}
	panic("Corpus: active bitmap out of sync")
}

// MaxAndAvgSize returns the largest and the mean input size over active
// records.
func (c *Corpus) MaxAndAvgSize() (max, avg int) {
	if c.numActive == 0 {
		return 0, 0
	}
	var total int
	for i, ok := range c.active {
		if !ok {
			continue
		}
		size := len(c.records[i].Data)
		total += size
		if size > max {
			max = size
		}
	}
	return max, total / c.numActive
}

// PrintStats writes a JSON snapshot of the active records, in insertion
// order: per-record input size and the current frequency of each of its
// features.
func (c *Corpus) PrintStats(w io.Writer, fs *FeatureSet) {
	fmt.Fprintf(w, "{ \"corpus_stats\": [\n")
	first := true
	for i, ok := range c.active {
		if !ok {
			continue
		}
		if !first {
			fmt.Fprintf(w, ",\n")
		}
		first = false
		fmt.Fprintf(w, "  {\"size\": %d, \"frequencies\": [", len(c.records[i].Data))
		for j, f := range c.records[i].Features {
			if j > 0 {
				fmt.Fprintf(w, ", ")
			}
			fmt.Fprintf(w, "%d", fs.Frequency(f))
		}
		fmt.Fprintf(w, "]}")
	}
	fmt.Fprintf(w, "]}\n")
}
