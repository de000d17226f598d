package main

import (
	"fmt"
	"io/ioutil"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

/******************************************************************************/
/******************************* Fuzzing Engine *******************************/
/******************************************************************************/

// A feature seen this many times is "boring" and stops making inputs
// interesting.
const frequencyThreshold = 100

// Engine is one fuzzing shard: it owns the feature set, the corpus and the
// RNG, drives the target through the user callbacks, and cooperates with
// sibling shards only through the append-only files of the workdir.
type Engine struct {
	env       *Environment
	callbacks Callbacks
	fsys      fileSys
	rng       *rand.Rand

	fs       *FeatureSet
	corpus   *Corpus
	frontier *CoverageFrontier
	fnFilter *functionFilter
	rep      *reporterT

	numRuns         int
	numCrashReports int
}

// NewEngine wires one shard together. rng is the shard's single RNG, shared
// with the mutator so a run replays under a fixed seed. pcTable may be nil
// when the binary's pc layout is unknown; the coverage frontier is then
// disabled.
func NewEngine(env *Environment, callbacks Callbacks, fsys fileSys,
	rng *rand.Rand, pcTable PCTable) *Engine {

	e := &Engine{
		env:       env,
		callbacks: callbacks,
		fsys:      fsys,
		rng:       rng,
		fs:        NewFeatureSet(frequencyThreshold),
		corpus:    &Corpus{},
		fnFilter:  makeFunctionFilter(env.FunctionFilter),
	}
	if len(pcTable) > 0 {
		e.frontier = newCoverageFrontier(pcTable)
	}
	e.rep = makeReporter(env)
	return e
}

// *****************************************************************************
// ***************************** Run Fuzz Functions ****************************
// *****************************************************************************

// FuzzingLoop is the life of a shard: warm up, absorb what the workdir
// already knows, then mutate, execute and attribute coverage until the run
// budget is spent or an early exit is requested.
func (e *Engine) FuzzingLoop() error {
	if err := e.env.prepareWorkdir(e.fsys); err != nil {
		return err
	}

	{
		// Execute one dummy input; warms up the target, discards the result.
		var br BatchResult
		e.callbacks.Execute(e.env.Binary, [][]byte{e.callbacks.DummyValidInput()}, &br)
	}

	e.Log("begin-fuzz", 0)

	if e.env.FullSync || e.env.DistillingInThisShard() {
		// Load all shards in random order.
		var loaded int
		for _, shard := range e.rng.Perm(e.env.TotalShards) {
			if err := e.LoadShard(e.env, shard, shard == e.env.MyShardIndex); err != nil {
				return err
			}
			if loaded++; loaded%100 == 0 {
				log.Printf("shards loaded: %d.\n", loaded)
			}
		}
	} else {
		// Only load my shard.
		if err := e.LoadShard(e.env, e.env.MyShardIndex, true); err != nil {
			return err
		}
	}

	if len(e.env.MergeFrom) > 0 {
		if err := e.mergeFromOtherCorpus(e.env.MergeFrom); err != nil {
			return err
		}
	}

	corpusFile, err := e.fsys.Open(e.env.MakeCorpusPath(e.env.MyShardIndex), "a")
	if err != nil {
		return err
	}
	defer corpusFile.Close()
	featuresFile, err := e.fsys.Open(e.env.MakeFeaturesPath(e.env.MyShardIndex), "a")
	if err != nil {
		return err
	}
	defer featuresFile.Close()

	if e.corpus.NumTotal() == 0 {
		e.corpus.Add(e.callbacks.DummyValidInput(), nil, nil, e.fs, e.frontier)
	}

	e.Log("init-done", 0)
	// Reset counters so the pre-init work doesn't pollute the reports.
	e.rep.resetTimer()
	e.numRuns = 0

	if e.env.DistillingInThisShard() {
		if err := e.distill(); err != nil {
			return err
		}
	}
	if err := e.generateCoverageReport(); err != nil {
		return err
	}

	numberOfBatches := (e.env.NumRuns + e.env.BatchSize - 1) / e.env.BatchSize
	var newRuns int
	for batchIndex := 0; batchIndex < numberOfBatches; batchIndex++ {
		if EarlyExitRequested() {
			break
		}

		batchSize := e.env.BatchSize
		if remaining := e.env.NumRuns - newRuns; remaining < batchSize {
			batchSize = remaining
		}
		inputs := make([][]byte, batchSize)
		for i := range inputs {
			if e.env.UseCorpusWeights {
				inputs[i] = e.corpus.WeightedRandom(e.rng.Uint64())
			} else {
				inputs[i] = e.corpus.UniformRandom(e.rng.Uint64())
			}
		}
		e.callbacks.Mutate(inputs)

		batchStart := time.Now()
		gainedNewCoverage, err := e.RunBatch(inputs, corpusFile, featuresFile, nil)
		if err != nil {
			return err
		}
		e.rep.noteBatch(len(inputs), time.Since(batchStart))
		newRuns += len(inputs)

		batchIsPowerOfTwo := (batchIndex-1)&batchIndex == 0

		if gainedNewCoverage {
			e.Log("new-feature", 1)
		} else if batchIsPowerOfTwo {
			e.Log("pulse", 1)
		}

		if batchIsPowerOfTwo {
			if err := e.generateCorpusStats(); err != nil {
				return err
			}
			e.printStatus(batchIndex)
		}

		if e.env.LoadOtherShardFrequency > 0 && e.env.TotalShards > 1 &&
			batchIndex%e.env.LoadOtherShardFrequency == 0 {
			// A sibling shard, never self.
			offset := 1 + e.rng.Intn(e.env.TotalShards-1)
			other := (e.env.MyShardIndex + offset) % e.env.TotalShards
			if err := e.LoadShard(e.env, other, false); err != nil {
				return err
			}
		}
	}
	// Tests rely on this line being present at the end.
	e.Log("end-fuzz", 0)
	return nil
}

// *****************************************************************************
// ******************************* Batch Running *******************************

func (e *Engine) executeAndReportCrash(binary string, inputs [][]byte,
	br *BatchResult) (bool, error) {

	success := e.callbacks.Execute(binary, inputs, br)
	if !success {
		if err := e.ReportCrash(binary, inputs, br); err != nil {
			return success, err
		}
	}
	return success, nil
}

// RunBatch executes one batch on the target (and every extra binary),
// attributes coverage, and feeds survivors into the corpus and the shard
// files. unconditionalFeaturesFile, when set, receives the framed features
// of every input regardless of novelty (the rerun path uses this). Returns
// whether the batch produced new coverage.
func (e *Engine) RunBatch(inputs [][]byte,
	corpusFile, featuresFile, unconditionalFeaturesFile remoteFile) (bool, error) {

	var br BatchResult
	success, err := e.executeAndReportCrash(e.env.Binary, inputs, &br)
	if err != nil {
		return false, err
	}
	for _, extra := range e.env.ExtraBinaries {
		var extraBr BatchResult
		ok, err := e.executeAndReportCrash(extra, inputs, &extraBr)
		if err != nil {
			return false, err
		}
		success = success && ok
	}
	if !success && e.env.ExitOnCrash {
		log.Printf("exit_on_crash is enabled; exiting soon.\n")
		RequestEarlyExit(1)
		return false, nil
	}

	e.numRuns += len(inputs)

	var batchGainedNewCoverage bool
	for i := range inputs {
		fv := br.Results[i].Features
		functionFilterPassed := e.fnFilter.filter(fv)
		newCount := e.fs.CountUnseenAndPruneFrequentFeatures(&fv)

		if unconditionalFeaturesFile != nil {
			packed := packBytes(packFeaturesAndHash(inputs[i], fv))
			if err := unconditionalFeaturesFile.Append(packed); err != nil {
				return false, err
			}
		}
		if newCount == 0 {
			continue
		}
		if !e.inputPassesFilter(inputs[i]) {
			continue
		}

		e.fs.IncrementFrequencies(fv)
		batchGainedNewCoverage = true

		if functionFilterPassed {
			e.corpus.Add(inputs[i], fv, nil, e.fs, e.frontier)
		}
		if e.env.PruneFrequency > 0 &&
			e.corpus.NumTotal()%e.env.PruneFrequency == 0 {
			e.corpus.Prune(e.fs, e.frontier, e.env.MaxCorpusSize, e.rng)
		}
		if corpusFile != nil {
			if err := corpusFile.Append(packBytes(inputs[i])); err != nil {
				return false, err
			}
		}
		for _, dir := range e.env.CorpusDirs {
			if err := writeToLocalHashedFileInDir(dir, inputs[i]); err != nil {
				return false, err
			}
		}
		if featuresFile != nil {
			packed := packBytes(packFeaturesAndHash(inputs[i], fv))
			if err := featuresFile.Append(packed); err != nil {
				return false, err
			}
		}
	}
	return batchGainedNewCoverage, nil
}

// *****************************************************************************
// ******************************* Shard Loading *******************************

// LoadShard absorbs one shard's records. Records whose features are known
// are offered to the feature set and added to the corpus when they still
// carry something unseen. Inputs whose features never made it to disk are
// re-executed iff rerun (only the owning shard reruns: results are appended
// to its own features file, the inputs are already on disk).
func (e *Engine) LoadShard(loadEnv *Environment, shardIndex int, rerun bool) error {
	records := readShard(e.fsys, loadEnv, shardIndex)

	var toRerun [][]byte
	var addedToCorpus int
	for _, rec := range records {
		if len(rec.Features) == 0 {
			if rerun {
				toRerun = append(toRerun, rec.Data)
			}
			continue
		}
		fv := rec.Features
		if e.fs.CountUnseenAndPruneFrequentFeatures(&fv) > 0 {
			e.fs.IncrementFrequencies(fv)
			e.corpus.Add(rec.Data, fv, nil, e.fs, e.frontier)
			addedToCorpus++
		}
	}
	// No pruning here: it would interfere with distillation.
	if addedToCorpus > 0 {
		e.Log("load-shard", 1)
	}

	if len(toRerun) == 0 {
		return nil
	}
	log.Printf("%d inputs to rerun.\n", len(toRerun))
	featuresFile, err := e.fsys.Open(e.env.MakeFeaturesPath(e.env.MyShardIndex), "a")
	if err != nil {
		return err
	}
	defer featuresFile.Close()

	// Re-run in batches of at most batch_size, only the features go to disk.
	for len(toRerun) > 0 {
		batchSize := e.env.BatchSize
		if len(toRerun) < batchSize {
			batchSize = len(toRerun)
		}
		batch := toRerun[len(toRerun)-batchSize:]
		toRerun = toRerun[:len(toRerun)-batchSize]

		gained, err := e.RunBatch(batch, nil, nil, featuresFile)
		if err != nil {
			return err
		}
		if gained {
			e.Log("rerun-old", 1)
		}
	}
	return nil
}

// mergeFromOtherCorpus replays the same-index shard of another workdir, then
// appends whatever it contributed to our own corpus file so the findings
// stick.
func (e *Engine) mergeFromOtherCorpus(mergeFromDir string) error {
	log.Printf("merging from %s.\n", mergeFromDir)
	mergeEnv := *e.env
	mergeEnv.Workdir = mergeFromDir

	initialTotal := e.corpus.NumTotal()
	if err := e.LoadShard(&mergeEnv, e.env.MyShardIndex, true); err != nil {
		return err
	}
	newTotal := e.corpus.NumTotal()
	if newTotal == initialTotal {
		return nil
	}

	var combined []byte
	for idx := initialTotal; idx < newTotal; idx++ {
		combined = append(combined, packBytes(e.corpus.Get(idx))...)
	}
	log.Printf("merge: %d new inputs added.\n", newTotal-initialTotal)

	f, err := e.fsys.Open(e.env.MakeCorpusPath(e.env.MyShardIndex), "a")
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Append(combined)
}

// *****************************************************************************
// **************************** Reports and Filters ****************************

// distill writes the current active corpus atomically ("w" mode, single
// append) to this shard's distilled file.
func (e *Engine) distill() error {
	var packed []byte
	for i := 0; i < e.corpus.NumTotal(); i++ {
		rec, active := e.corpus.record(i)
		if !active {
			continue
		}
		packed = append(packed, packBytes(rec.Data)...)
		for _, dir := range e.env.CorpusDirs {
			if err := writeToLocalHashedFileInDir(dir, rec.Data); err != nil {
				return err
			}
		}
	}
	path := e.env.MakeDistilledPath()
	log.Printf("distilling %d records to %s.\n", e.corpus.NumActive(), path)

	f, err := e.fsys.Open(path, "w")
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Append(packed)
}

func (e *Engine) generateCoverageReport() error {
	if e.frontier == nil || !e.env.GeneratingCoverageReportInThisShard() {
		return nil
	}
	f, err := e.fsys.Open(e.env.MakeCoverageReportPath(), "w")
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Append(e.coverageReportBytes())
}

func (e *Engine) generateCorpusStats() error {
	if !e.env.GeneratingCorpusStatsInThisShard() {
		return nil
	}
	var buf strings.Builder
	e.corpus.PrintStats(&buf, e.fs)

	f, err := e.fsys.Open(e.env.MakeCorpusStatsPath(), "w")
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Append([]byte(buf.String()))
}

// inputPassesFilter runs the external input filter, when configured, on a
// temp copy of the input. Nonzero exit rejects; an interrupted filter also
// requests an early exit.
func (e *Engine) inputPassesFilter(input []byte) bool {
	if len(e.env.InputFilter) == 0 {
		return true
	}
	path := filepath.Join(os.TempDir(),
		fmt.Sprintf("centipede-filter-input-%d", e.env.MyShardIndex))
	if err := ioutil.WriteFile(path, input, 0644); err != nil {
		log.Printf("Could not write filter input: %v.\n", err)
		return false
	}
	defer os.Remove(path)

	cmd := makeCommand(e.env.InputFilter, []string{path}, nil)
	if err := cmd.Execute(); err != nil {
		log.Printf("Input filter failed to run: %v.\n", err)
		return false
	}
	if cmd.WasInterrupted() {
		RequestEarlyExit(1)
		return false
	}
	return cmd.exitCode == 0
}

// *****************************************************************************
// ******************************* Crash Triage ********************************

// ReportCrash narrows a crashed batch down to a reproducer: the suspect (the
// first input the runner did not report on) is retried alone first, then
// every input in order. The first single-input failure is saved under its
// content hash; at most MaxNumCrashReports reports are produced per process.
func (e *Engine) ReportCrash(binary string, inputs [][]byte, br *BatchResult) error {
	if e.numCrashReports >= e.env.MaxNumCrashReports {
		return nil
	}
	e.numCrashReports++

	log.Printf("Batch execution failed; exit code: %d.\n", br.ExitCode)
	fmt.Fprintf(os.Stderr, "Log of batch follows: [[[==================\n%s"+
		"==================]]]\n", br.Log)
	logPrefix := fmt.Sprintf("ReportCrash[%d]: ", e.numCrashReports-1)
	log.Printf("%sthe crash occurred when running %s on %d inputs.\n",
		logPrefix, binary, len(inputs))
	if e.numCrashReports == e.env.MaxNumCrashReports {
		log.Printf("%sreached max_num_crash_reports; further reports suppressed.\n",
			logPrefix)
	}

	// Executes one input alone; on a crash, dumps the reproducer and
	// reports done.
	tryOneInput := func(input []byte) (bool, error) {
		var unused BatchResult
		if e.callbacks.Execute(binary, [][]byte{input}, &unused) {
			return false, nil
		}
		crashDir := e.env.MakeCrashReproducerDirPath()
		if err := e.fsys.MkdirAll(crashDir); err != nil {
			return false, err
		}
		path := filepath.Join(crashDir, hashOf(input))
		log.Printf("%scrash detected, saving input to %s.\n", logPrefix, path)

		f, err := e.fsys.Open(path, "w") // overwrites an existing reproducer
		if err != nil {
			return false, err
		}
		defer f.Close()
		return true, f.Append(input)
	}

	if br.NumOutputsRead < len(inputs) {
		log.Printf("%sexecuting input %d out of %d.\n",
			logPrefix, br.NumOutputsRead, len(inputs))
		done, err := tryOneInput(inputs[br.NumOutputsRead])
		if done || err != nil {
			return err
		}
	}
	log.Printf("%sexecuting inputs one-by-one, trying to find the reproducer.\n",
		logPrefix)
	for _, input := range inputs {
		done, err := tryOneInput(input)
		if done || err != nil {
			return err
		}
	}
	log.Printf("%scrash was not observed when running inputs one-by-one.\n",
		logPrefix)
	return nil
}

// *****************************************************************************
// ****************************** Function Filter ******************************

// functionFilter accepts inputs that touch a configured set of pc index
// ranges ("5,10-20"). Symbol names are a concern of the external reporting
// layer; the core filters on pc indexes.
type functionFilter struct {
	ranges [][2]uint64
}

func makeFunctionFilter(spec string) *functionFilter {
	ff := &functionFilter{}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		if len(part) == 0 {
			continue
		}
		bounds := strings.SplitN(part, "-", 2)
		lo, err := strconv.ParseUint(bounds[0], 10, 64)
		if err != nil {
			log.Printf("Ignoring bad function_filter entry %q: %v.\n", part, err)
			continue
		}
		hi := lo
		if len(bounds) == 2 {
			hi, err = strconv.ParseUint(bounds[1], 10, 64)
			if err != nil || hi < lo {
				log.Printf("Ignoring bad function_filter entry %q.\n", part)
				continue
			}
		}
		ff.ranges = append(ff.ranges, [2]uint64{lo, hi})
	}
	return ff
}

// filter returns true when no filter is configured or fv covers one of the
// configured pc ranges.
func (ff *functionFilter) filter(fv FeatureVec) bool {
	if len(ff.ranges) == 0 {
		return true
	}
	for _, f := range fv {
		if !counters8Domain.Contains(f) {
			continue
		}
		pc := convert8bitCounterFeatureToPcIndex(f)
		for _, r := range ff.ranges {
			if pc >= r[0] && pc <= r[1] {
				return true
			}
		}
	}
	return false
}
