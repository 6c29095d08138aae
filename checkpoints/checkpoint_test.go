package checkpoints

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/optimizer"
)

func sampleState() *ModuleState {
	return &ModuleState{
		Weights: []WeightTensor{
			{Name: "gen.0.weight", Shape: []int{2, 3}, Data: []float32{1, 2, 3, 4, 5, 6}, Role: "generator"},
			{Name: "disc.0.weight", Shape: []int{3, 1}, Data: []float32{7, 8, 9}, Role: "discriminator"},
		},
		TrainingState: TrainingState{
			Epoch:        4,
			GlobalStep:   120,
			SampleCount:  16,
			Stage:        2,
			EpochInStage: 1,
			Alpha:        0.75,
		},
		OptimizerState: map[string]*optimizer.State{
			"generator": {Type: "Adam", StepCount: 120, Parameters: map[string]float64{"learning_rate": 0.0002}},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	saver, err := NewSaver(t.TempDir(), "dcgan")
	require.NoError(t, err)

	require.NoError(t, saver.Save(sampleState(), LatestSuffix))
	require.True(t, saver.Exists(LatestSuffix))

	loaded, err := saver.Load(LatestSuffix)
	require.NoError(t, err)
	assert.Equal(t, sampleState().Weights, loaded.Weights)
	assert.Equal(t, sampleState().TrainingState, loaded.TrainingState)
	assert.Equal(t, "Adam", loaded.OptimizerState["generator"].Type)
	assert.Equal(t, "dcgan", loaded.Metadata.ModelName)
	assert.NotEmpty(t, loaded.Metadata.RunID)
}

func TestRunIDStableAcrossSaves(t *testing.T) {
	saver, err := NewSaver(t.TempDir(), "dcgan")
	require.NoError(t, err)

	require.NoError(t, saver.Save(sampleState(), EpochSuffix(1)))
	require.NoError(t, saver.Save(sampleState(), EpochSuffix(2)))

	first, err := saver.Load(EpochSuffix(1))
	require.NoError(t, err)
	second, err := saver.Load(EpochSuffix(2))
	require.NoError(t, err)
	assert.Equal(t, first.Metadata.RunID, second.Metadata.RunID)
}

func TestLoadMissingCheckpointFails(t *testing.T) {
	saver, err := NewSaver(t.TempDir(), "dcgan")
	require.NoError(t, err)
	assert.False(t, saver.Exists(LatestSuffix))
	_, err = saver.Load(LatestSuffix)
	assert.Error(t, err)
}

func TestLoadRejectsForeignFramework(t *testing.T) {
	saver, err := NewSaver(t.TempDir(), "dcgan")
	require.NoError(t, err)

	state := sampleState()
	require.NoError(t, saver.Save(state, LatestSuffix))

	loaded, err := saver.Load(LatestSuffix)
	require.NoError(t, err)
	assert.Equal(t, Framework, loaded.Metadata.Framework)

	// Rewrite with a foreign framework marker.
	loaded.Metadata.Framework = "other"
	raw := saver.Path("foreign")
	writeJSON(t, raw, loaded)
	_, err = LoadFile(raw)
	assert.Error(t, err)
}

func writeJSON(t *testing.T, path string, v any) {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o644))
}

func TestEpochSuffix(t *testing.T) {
	assert.Equal(t, "epoch_7", EpochSuffix(7))
}
