package main

import (
	"log"
	"math/rand"
	"os"
)

func main() {
	env := Parse()
	raiseFileLimit()
	installSignalHandler()

	if len(env.SaveCorpusToLocalDir) > 0 {
		if err := saveCorpusToLocalDir(localFS{}, &env, env.SaveCorpusToLocalDir); err != nil {
			log.Fatalf("Could not save corpus: %v.\n", err)
		}
		return
	}
	if len(env.ExportCorpusFromLocalDir) > 0 {
		if err := exportCorpusFromLocalDir(localFS{}, &env, env.ExportCorpusFromLocalDir); err != nil {
			log.Fatalf("Could not export corpus: %v.\n", err)
		}
		return
	}

	// Exactly one RNG per shard, shared by the loop and the mutator, so a
	// run replays given the same seed.
	rng := rand.New(rand.NewSource(env.Seed))
	knobs := &Knobs{}
	knobs.Set(env.KnobValues)

	callbacks, err := makeDefaultCallbacks(&env, makeMutator(rng, knobs))
	if err != nil {
		log.Fatalf("Could not set up callbacks: %v.\n", err)
	}

	engine := NewEngine(&env, callbacks, localFS{}, rng, nil)
	if err := engine.FuzzingLoop(); err != nil {
		// The shard cannot make forward progress without its files.
		callbacks.cleanup()
		log.Fatalf("Fatal: %v.\n", err)
	}

	if env.Verbose {
		log.Print(engine.endReport().String())
	}
	callbacks.cleanup()
	// os.Exit skips deferred calls; cleanup must already be done.
	os.Exit(ExitCode())
}
