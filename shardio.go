package main

import (
	"hash/fnv"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
)

/******************************************************************************/
/********************************* Shard I/O **********************************/
/******************************************************************************/

// Per shard index i, corpus.<i> and features.<i> are appended to only by the
// shard owning i; any shard reads any file at any time. Readers must expect
// to land between a writer's two appends, so the corpus and feature frames
// of one record may not both be visible. Records are therefore re-assembled
// by input hash: inputs with no matching feature frame come back with an
// empty FeatureVec (candidates for re-execution), feature frames with no
// matching input are dropped (the data is replayable).

// readShard reads and aligns one shard's corpus and features files.
// Missing or unreadable files read as empty: expected before the owning
// shard has written anything.
func readShard(fsys fileSys, env *Environment, shardIndex int) []CorpusRecord {
	corpusBlobs := unpackBytes(readFileIfPresent(fsys, env.MakeCorpusPath(shardIndex)))
	featureBlobs := unpackBytes(readFileIfPresent(fsys, env.MakeFeaturesPath(shardIndex)))
	return extractCorpusRecords(corpusBlobs, featureBlobs)
}

func extractCorpusRecords(corpusBlobs, featureBlobs [][]byte) []CorpusRecord {
	featuresByHash := make(map[string]FeatureVec, len(featureBlobs))
	for _, blob := range featureBlobs {
		hash, fv, ok := unpackFeaturesAndHash(blob)
		if !ok {
			continue
		}
		featuresByHash[hash] = fv
	}

	records := make([]CorpusRecord, 0, len(corpusBlobs))
	for _, input := range corpusBlobs {
		records = append(records, CorpusRecord{
			Data:     append([]byte(nil), input...),
			Features: featuresByHash[hashOf(input)],
		})
	}
	return records
}

// writeCorpusRecord appends one input and its framed (hash, features) blob
// to the shard's two append files.
func writeCorpusRecord(corpusFile, featuresFile remoteFile,
	data []byte, fv FeatureVec) error {

	if err := corpusFile.Append(packBytes(data)); err != nil {
		return err
	}
	return featuresFile.Append(packBytes(packFeaturesAndHash(data, fv)))
}

// *****************************************************************************
// **************************** Local Dir Export *******************************

// exportCorpusFromLocalDir shards the files under localDir by filename hash
// and appends each input to its shard's corpus file, unless the shard
// already holds that input. The partition is stable and the whole operation
// is idempotent: re-running it adds nothing.
func exportCorpusFromLocalDir(fsys fileSys, env *Environment, localDir string) error {
	shardedPaths := make([][]string, env.TotalShards)
	err := filepath.Walk(localDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		shard := filenameHash(info.Name()) % uint64(env.TotalShards)
		shardedPaths[shard] = append(shardedPaths[shard], path)
		return nil
	})
	if err != nil {
		return err
	}

	var added, ignored int
	for shard := 0; shard < env.TotalShards; shard++ {
		if len(shardedPaths[shard]) == 0 {
			continue
		}

		existing := make(map[string]struct{})
		for _, input := range unpackBytes(readFileIfPresent(fsys, env.MakeCorpusPath(shard))) {
			existing[hashOf(input)] = struct{}{}
		}

		var shardData []byte
		for _, path := range shardedPaths[shard] {
			input, err := ioutil.ReadFile(path)
			if err != nil {
				return err
			}
			if _, ok := existing[hashOf(input)]; ok {
				ignored++
				continue
			}
			shardData = append(shardData, packBytes(input)...)
			added++
		}
		if len(shardData) == 0 {
			continue
		}

		f, err := fsys.Open(env.MakeCorpusPath(shard), "a")
		if err != nil {
			return err
		}
		if err := f.Append(shardData); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
	log.Printf("export: %d inputs added, %d ignored.\n", added, ignored)
	return nil
}

// saveCorpusToLocalDir mirrors every shard's corpus into content-addressed
// files under localDir.
func saveCorpusToLocalDir(fsys fileSys, env *Environment, localDir string) error {
	for shard := 0; shard < env.TotalShards; shard++ {
		inputs := unpackBytes(readFileIfPresent(fsys, env.MakeCorpusPath(shard)))
		if len(inputs) > 0 {
			log.Printf("read %d inputs from %s.\n", len(inputs), env.MakeCorpusPath(shard))
		}
		for _, input := range inputs {
			if err := writeToLocalHashedFileInDir(localDir, input); err != nil {
				return err
			}
		}
	}
	return nil
}

// filenameHash partitions export paths; fnv-1a is cheap and spreads short
// names well.
func filenameHash(name string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
