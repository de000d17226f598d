package main

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvironmentPaths(t *testing.T) {
	env := shardTestEnv(t, 4)

	assert.Equal(t, filepath.Join(env.Workdir, "corpus.2"), env.MakeCorpusPath(2))

	features := env.MakeFeaturesPath(3)
	assert.True(t, strings.HasPrefix(features, filepath.Join(env.Workdir, "features")))
	assert.True(t, strings.HasSuffix(features, "features.3"))
	assert.Contains(t, features, env.binaryIdentity)

	assert.Contains(t, env.MakeCoverageReportPath(), "coverage-report.")
	assert.Contains(t, env.MakeCorpusStatsPath(), "corpus-stats.")
	assert.Contains(t, env.MakeDistilledPath(), "distilled.")
	assert.Equal(t, filepath.Join(env.Workdir, "crashes", env.binaryIdentity),
		env.MakeCrashReproducerDirPath())
}

func TestBinaryIdentityStable(t *testing.T) {
	// Unreadable binaries hash their path: stable across processes, distinct
	// across targets.
	id1 := binaryIdentity("/no/such/target-a")
	id2 := binaryIdentity("/no/such/target-a")
	id3 := binaryIdentity("/no/such/target-b")
	assert.Equal(t, id1, id2)
	assert.NotEqual(t, id1, id3)
	assert.True(t, strings.HasPrefix(id1, "target-a-"))
}

func TestDistillAndReportSelection(t *testing.T) {
	env := shardTestEnv(t, 4)
	env.DistillShards = 2

	env.MyShardIndex = 0
	assert.True(t, env.DistillingInThisShard())
	assert.True(t, env.GeneratingCoverageReportInThisShard())
	assert.True(t, env.GeneratingCorpusStatsInThisShard())

	env.MyShardIndex = 1
	assert.True(t, env.DistillingInThisShard())
	assert.False(t, env.GeneratingCoverageReportInThisShard())

	env.MyShardIndex = 2
	assert.False(t, env.DistillingInThisShard())
}

func TestPrepareWorkdir(t *testing.T) {
	env := shardTestEnv(t, 1)
	// shardTestEnv already prepared it; preparing again is harmless.
	require.NoError(t, env.prepareWorkdir(localFS{}))
}
