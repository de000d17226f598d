package main

import (
	"bufio"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

/******************************************************************************/
/****************************** User Callbacks ********************************/
/******************************************************************************/

// Callbacks is how the engine talks to the target. Execute runs one batch
// out-of-process and fills br; it returns false iff the batch crashed (an
// individual input failure shows as br.NumOutputsRead < len(inputs)).
// Embedders with their own runner IPC supply their own implementation; the
// default one shells out to the target binary.
type Callbacks interface {
	Execute(binary string, inputs [][]byte, br *BatchResult) bool
	DummyValidInput() []byte
	Mutate(inputs [][]byte)
}

// *****************************************************************************
// ************************** Default Implementation ***************************

// featuresOutEnv tells the runner where to report features: one line per
// completed input, space-separated raw 8-bit-counter numbers.
const featuresOutEnv = "CENTIPEDE_FEATURES_OUT"

// runnerFlagsEnv carries the run-time instrumentation switches to the
// runner injected into the target.
const runnerFlagsEnv = "CENTIPEDE_RUNNER_FLAGS"

// defaultCallbacks execs the target once per batch, passing the inputs as
// file arguments.
type defaultCallbacks struct {
	env *Environment
	mut *mutator

	tmpDir string
}

func makeDefaultCallbacks(env *Environment, mut *mutator) (*defaultCallbacks, error) {
	tmpDir, err := ioutil.TempDir("", "centipede-")
	if err != nil {
		return nil, err
	}
	return &defaultCallbacks{env: env, mut: mut, tmpDir: tmpDir}, nil
}

// runnerFlags renders the instrumentation switches in the colon-separated
// form the runner parses.
func (cb *defaultCallbacks) runnerFlags() string {
	flags := ":"
	if cb.env.UseDataflowFeatures {
		flags += "use_dataflow_features:"
	}
	if cb.env.UseCmpFeatures {
		flags += "use_cmp_features:"
	}
	if cb.env.PathLevel > 0 {
		flags += fmt.Sprintf("path_level=%d:", cb.env.PathLevel)
	}
	return flags
}

func (cb *defaultCallbacks) Execute(binary string, inputs [][]byte, br *BatchResult) bool {
	br.reset(len(inputs))

	args := make([]string, 0, len(inputs))
	for i, input := range inputs {
		path := filepath.Join(cb.tmpDir, fmt.Sprintf("input-%06d", i))
		if err := ioutil.WriteFile(path, input, 0644); err != nil {
			br.Log = fmt.Sprintf("cannot write input file: %v", err)
			return false
		}
		args = append(args, path)
	}

	featuresPath := filepath.Join(cb.tmpDir, "features-out")
	os.Remove(featuresPath)

	cmd := makeCommand(binary, args, append(os.Environ(),
		featuresOutEnv+"="+featuresPath,
		runnerFlagsEnv+"="+cb.runnerFlags()))
	err := cmd.Execute()
	br.ExitCode = cmd.exitCode
	br.Log = string(cmd.Output())
	if cmd.WasInterrupted() {
		RequestEarlyExit(1)
	}
	if err != nil {
		return false
	}

	br.NumOutputsRead = cb.readFeatures(featuresPath, br)
	return !cmd.crashed && cmd.exitCode == 0
}

// readFeatures parses the runner's report. Returns how many inputs the
// runner completed; their features land in br.Results.
func (cb *defaultCallbacks) readFeatures(path string, br *BatchResult) int {
	f, err := os.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()

	var n int
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 1<<20), 1<<24)
	for scanner.Scan() && n < len(br.Results) {
		var fv FeatureVec
		seen := make(map[feature]struct{})
		for _, word := range strings.Fields(scanner.Text()) {
			raw, err := strconv.ParseUint(word, 10, 64)
			if err != nil {
				continue
			}
			// A feature vector holds no duplicates.
			f := counters8Domain.ConvertToMe(raw)
			if _, ok := seen[f]; ok {
				continue
			}
			seen[f] = struct{}{}
			fv = append(fv, f)
		}
		br.Results[n].Features = fv
		n++
	}
	return n
}

func (cb *defaultCallbacks) DummyValidInput() []byte { return []byte{0} }

func (cb *defaultCallbacks) Mutate(inputs [][]byte) { cb.mut.MutateMany(inputs) }

func (cb *defaultCallbacks) cleanup() {
	os.RemoveAll(cb.tmpDir)
}
