package main

import (
	"io/ioutil"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCallbacksReadFeatures(t *testing.T) {
	cb, err := makeDefaultCallbacks(&Environment{}, makeMutator(rand.New(rand.NewSource(1)), &Knobs{}))
	require.NoError(t, err)
	defer cb.cleanup()

	path := filepath.Join(t.TempDir(), "features-out")
	require.NoError(t, ioutil.WriteFile(path,
		[]byte("8 16 24\n\n40 40\n"), 0644))

	var br BatchResult
	br.reset(4)
	n := cb.readFeatures(path, &br)

	// Three lines parsed: the runner died before reporting the fourth
	// input.
	assert.Equal(t, 3, n)
	assert.Equal(t, FeatureVec{
		counters8Domain.ConvertToMe(8),
		counters8Domain.ConvertToMe(16),
		counters8Domain.ConvertToMe(24),
	}, br.Results[0].Features)
	assert.Empty(t, br.Results[1].Features, "blank line means no features")
	assert.Len(t, br.Results[2].Features, 1, "duplicates are dropped")
}

func TestDefaultCallbacksReadFeaturesMissingFile(t *testing.T) {
	cb, err := makeDefaultCallbacks(&Environment{}, makeMutator(rand.New(rand.NewSource(1)), &Knobs{}))
	require.NoError(t, err)
	defer cb.cleanup()

	var br BatchResult
	br.reset(2)
	assert.Equal(t, 0, cb.readFeatures(filepath.Join(t.TempDir(), "absent"), &br))
}

func TestDefaultCallbacksDummyInput(t *testing.T) {
	cb, err := makeDefaultCallbacks(&Environment{}, makeMutator(rand.New(rand.NewSource(1)), &Knobs{}))
	require.NoError(t, err)
	defer cb.cleanup()
	assert.NotEmpty(t, cb.DummyValidInput())
}
