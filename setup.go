package main

import (
	"flag"
	"fmt"
	"io/ioutil"
	"log"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// *****************************************************************************
// ******************************* Setup Functions *****************************
// *****************************************************************************

// *****************************************************************************
// *************************** Command Line Interface **************************

// Environment carries everything one shard needs to fuzz: the target, the
// shared workdir, the shard topology and the loop budget. It is parsed once
// from the CLI and then treated as read-only.
type Environment struct {
	// Target
	Binary        string
	ExtraBinaries []string

	// Shared state roots
	Workdir   string
	MergeFrom string

	// Shard topology
	TotalShards  int
	MyShardIndex int
	NumShards    int // shards run by this invocation (informational)

	// Loop budget
	NumRuns   int
	BatchSize int

	// Corpus management
	PruneFrequency int
	MaxCorpusSize  int

	// Cross-shard behavior
	LoadOtherShardFrequency int
	FullSync                bool
	DistillShards           int

	// Feature selection
	UseCorpusWeights    bool
	UseDataflowFeatures bool
	UseCmpFeatures      bool
	PathLevel           int

	// Filters
	InputFilter    string
	FunctionFilter string
	CorpusDirs     []string

	// Crash handling
	ExitOnCrash        bool
	MaxNumCrashReports int

	// One-shot corpus operations
	SaveCorpusToLocalDir     string
	ExportCorpusFromLocalDir string

	// Misc
	KnobValues []uint8
	Seed       int64
	LogLevel   int
	Verbose    bool

	// Derived
	binaryIdentity string
}

// Parse is the command line interface implementation.
func Parse() (env Environment) {
	var extraBinaries, corpusDirs string

	flag.StringVar(&env.Binary, "binary", "", "Fuzz target: instrumented binary path")
	flag.StringVar(&extraBinaries, "extra_binaries", "",
		"Extra binaries to run every batch on. Comma separated, no space.")
	flag.StringVar(&env.Workdir, "workdir", "", "Shared state directory")
	flag.StringVar(&env.MergeFrom, "merge_from", "",
		"Another workdir to merge the same-index shard from")

	flag.IntVar(&env.TotalShards, "total_shards", 1, "Total number of fuzzing shards")
	flag.IntVar(&env.MyShardIndex, "my_shard_index", 0, "Index of this shard")
	flag.IntVar(&env.NumShards, "num_shards", 1, "Number of shards run by this invocation")

	flag.IntVar(&env.NumRuns, "num_runs", 100, "Number of target executions")
	flag.IntVar(&env.BatchSize, "batch_size", 1000, "Inputs sent to the target per execution")

	flag.IntVar(&env.PruneFrequency, "prune_frequency", 100,
		"Prune the corpus every time it grows by this many records. 0 disables.")
	flag.IntVar(&env.MaxCorpusSize, "max_corpus_size", 100000, "Max active corpus records")

	flag.IntVar(&env.LoadOtherShardFrequency, "load_other_shard_frequency", 10,
		"Load a random sibling shard every this many batches. 0 disables.")
	flag.BoolVar(&env.FullSync, "full_sync", false, "Load all shards at startup")
	flag.IntVar(&env.DistillShards, "distill_shards", 0,
		"The first this many shards distill the corpus after loading all shards")

	flag.BoolVar(&env.UseCorpusWeights, "use_corpus_weights", true,
		"Sample the corpus by rarity weight instead of uniformly")
	flag.BoolVar(&env.UseDataflowFeatures, "use_dataflow_features", false,
		"Use data-flow (pc, load address) features")
	flag.BoolVar(&env.UseCmpFeatures, "use_cmp_features", false,
		"Use context-hashed comparison features")
	flag.IntVar(&env.PathLevel, "path_level", 0, "Bounded-path feature depth. 0 disables.")

	flag.StringVar(&env.InputFilter, "input_filter", "",
		"Executable deciding whether to keep an input: nonzero exit rejects it")
	flag.StringVar(&env.FunctionFilter, "function_filter", "",
		"Only add inputs touching these pc index ranges (a,b-c,...)")
	flag.StringVar(&corpusDirs, "corpus_dir", "",
		"Directories to mirror new corpus inputs into. Comma separated.")

	flag.BoolVar(&env.ExitOnCrash, "exit_on_crash", false, "Stop fuzzing on the first crash")
	flag.IntVar(&env.MaxNumCrashReports, "max_num_crash_reports", 5,
		"Crash reports per process before suppression")

	flag.StringVar(&env.SaveCorpusToLocalDir, "save_corpus_to_local_dir", "",
		"Save all shard corpora to this directory and exit")
	flag.StringVar(&env.ExportCorpusFromLocalDir, "export_corpus_from_local_dir", "",
		"Export the inputs of this directory into the shards and exit")

	var knobValues string
	flag.StringVar(&knobValues, "knobs", "",
		"Initial knob values. Comma separated bytes, in registration order.")

	flag.Int64Var(&env.Seed, "seed", 1, "RNG seed (exactly one RNG per shard)")
	flag.IntVar(&env.LogLevel, "log_level", 1, "Suppress log events above this level")

	var verbose bool
	flag.BoolVar(&verbose, "v", false, "Live status display")

	flag.Parse()

	if len(env.Binary) == 0 {
		flag.Usage()
		fmt.Println("")
		log.Fatalf("binary parameter is mandatory\n")
	}
	if len(env.Workdir) == 0 {
		log.Fatalf("workdir parameter is mandatory\n")
	}

	if len(extraBinaries) > 0 {
		env.ExtraBinaries = strings.Split(extraBinaries, ",")
	}
	if len(corpusDirs) > 0 {
		env.CorpusDirs = strings.Split(corpusDirs, ",")
	}
	if len(knobValues) > 0 {
		for _, s := range strings.Split(knobValues, ",") {
			v, err := strconv.ParseUint(strings.TrimSpace(s), 10, 8)
			if err != nil {
				log.Fatalf("bad knob value %q: %v", s, err)
			}
			env.KnobValues = append(env.KnobValues, uint8(v))
		}
	}
	env.Verbose = verbose

	postParse(&env)
	return env
}

// postParse validates the environment and computes derived state. Called on
// the CLI path and by tests building environments by hand.
func postParse(env *Environment) {
	if env.TotalShards < 1 {
		log.Fatalf("total_shards must be at least 1")
	}
	if env.MyShardIndex < 0 || env.MyShardIndex >= env.TotalShards {
		log.Fatalf("my_shard_index %d out of range [0, %d)",
			env.MyShardIndex, env.TotalShards)
	}
	if env.BatchSize < 1 {
		log.Fatalf("batch_size must be at least 1")
	}
	if env.Seed == 0 {
		env.Seed = 1
	}

	env.binaryIdentity = binaryIdentity(env.Binary)
}

// binaryIdentity names the feature universe of a binary: same contents, same
// identity; a recompiled target gets fresh feature sets.
func binaryIdentity(binary string) string {
	base := filepath.Base(binary)
	contents, err := ioutil.ReadFile(binary)
	if err != nil {
		// The binary may be a command name resolved via PATH, or absent in
		// tests; fall back to hashing its path.
		return fmt.Sprintf("%s-%s", base, hashOf([]byte(binary)))
	}
	return fmt.Sprintf("%s-%s", base, hashOf(contents))
}

// *****************************************************************************
// ******************************* Workdir Layout ******************************

func (env *Environment) MakeCorpusPath(shardIndex int) string {
	return filepath.Join(env.Workdir, fmt.Sprintf("corpus.%d", shardIndex))
}

func (env *Environment) MakeFeaturesPath(shardIndex int) string {
	return filepath.Join(env.Workdir, "features", env.binaryIdentity,
		fmt.Sprintf("features.%d", shardIndex))
}

func (env *Environment) MakeCoverageReportPath() string {
	return filepath.Join(env.Workdir,
		fmt.Sprintf("coverage-report.%s.%d", env.binaryIdentity, env.MyShardIndex))
}

func (env *Environment) MakeCorpusStatsPath() string {
	return filepath.Join(env.Workdir,
		fmt.Sprintf("corpus-stats.%s.%d", env.binaryIdentity, env.MyShardIndex))
}

func (env *Environment) MakeDistilledPath() string {
	return filepath.Join(env.Workdir,
		fmt.Sprintf("distilled.%s.%d", env.binaryIdentity, env.MyShardIndex))
}

func (env *Environment) MakeCrashReproducerDirPath() string {
	return filepath.Join(env.Workdir, "crashes", env.binaryIdentity)
}

// DistillingInThisShard: the first distill_shards shards write out a
// distilled corpus after loading every shard.
func (env *Environment) DistillingInThisShard() bool {
	return env.MyShardIndex < env.DistillShards
}

// One report of each kind per workdir is enough.
func (env *Environment) GeneratingCoverageReportInThisShard() bool {
	return env.MyShardIndex == 0
}

func (env *Environment) GeneratingCorpusStatsInThisShard() bool {
	return env.MyShardIndex == 0
}

// prepareWorkdir creates the directories the shard will append into.
func (env *Environment) prepareWorkdir(fsys fileSys) error {
	dirs := []string{
		env.Workdir,
		filepath.Dir(env.MakeFeaturesPath(env.MyShardIndex)),
		env.MakeCrashReproducerDirPath(),
	}
	for _, dir := range dirs {
		if err := fsys.MkdirAll(dir); err != nil {
			return err
		}
	}
	return nil
}

// *****************************************************************************
// ******************************** Rlimits ************************************

// raiseFileLimit bumps RLIMIT_NOFILE to its hard maximum: a full-sync over
// many shards opens many files in quick succession.
func raiseFileLimit() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		log.Printf("Failed to get rlimit nb of files: %v.\n", err)
		return
	}
	rlim.Cur = rlim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		log.Printf("Failed to set rlimit nb of files: %v.\n", err)
	}
}
