package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/synthesis"
)

func testConfigs(n any) (*config.GlobalConfig, *config.ModelConfig) {
	global := &config.GlobalConfig{
		BatchSize: 2,
		Modality:  "rad",
		InferenceParameters: map[string]any{
			countKey: n,
		},
	}
	model := &config.ModelConfig{
		ModelName:        "dcgan",
		LabelingParadigm: config.ParadigmUnlabeled,
		NDimensions:      2,
		Architecture: config.Architecture{
			LatentVectorSize: 4,
			HiddenSize:       8,
			ImageChannels:    1,
			ImageSize:        4,
		},
		Losses: map[string]config.LossSpec{
			"discriminator": {Name: "bce"},
			"generator":     {Name: "bce"},
		},
		Optimizers: map[string]config.OptimizerSpec{
			"discriminator": {Name: "sgd", LearningRate: 0.01},
			"generator":     {Name: "sgd", LearningRate: 0.01},
		},
		AccumulateGradBatches: 1,
		GradientClipAlgorithm: "norm",
		Seed:                  9,
	}
	return global, model
}

// trainedModelDir writes a usable final checkpoint for the model.
func trainedModelDir(t *testing.T, model *config.ModelConfig) string {
	t.Helper()
	base := t.TempDir()
	dir := filepath.Join(base, "dcgan_model")
	m, err := synthesis.New(model, synthesis.Options{})
	require.NoError(t, err)
	require.NoError(t, synthesis.Setup(m))
	state, err := m.Snapshot()
	require.NoError(t, err)
	saver, err := checkpoints.NewSaver(dir, model.ModelName)
	require.NoError(t, err)
	require.NoError(t, saver.Save(state, checkpoints.FinalSuffix))
	return dir
}

func TestBatchPlan(t *testing.T) {
	assert.Equal(t, []int{4, 4, 2}, BatchPlan(10, 4))
	assert.Equal(t, []int{3}, BatchPlan(3, 8))
	assert.Equal(t, []int{2, 2}, BatchPlan(4, 2))
	assert.Nil(t, BatchPlan(0, 4))
}

func TestMissingCountFailsBeforeModelWork(t *testing.T) {
	global, model := testConfigs(5)
	delete(global.InferenceParameters, countKey)

	// No checkpoint exists: a configuration error proves validation
	// ran before any model loading.
	_, err := NewManager(Options{Global: global, Model: model, ModelDir: filepath.Join(t.TempDir(), "missing")})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestNonPositiveCountRejected(t *testing.T) {
	global, model := testConfigs(0)
	_, err := NewManager(Options{Global: global, Model: model, ModelDir: t.TempDir()})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestWrongCountTypeRejected(t *testing.T) {
	global, model := testConfigs("many")
	_, err := NewManager(Options{Global: global, Model: model, ModelDir: t.TempDir()})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLabeledCountRequiresClassMap(t *testing.T) {
	global, model := testConfigs(5)
	model.LabelingParadigm = config.ParadigmLabeled
	model.NumClasses = 2
	_, err := NewManager(Options{Global: global, Model: model, ModelDir: t.TempDir()})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestLabeledPlansSortedByClass(t *testing.T) {
	global, _ := testConfigs(map[string]any{"1": 3, "0": 2})
	model := &config.ModelConfig{LabelingParadigm: config.ParadigmLabeled}
	plans, err := parsePlans(global, model)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, 0, plans[0].class)
	assert.Equal(t, 2, plans[0].count)
	assert.Equal(t, 1, plans[1].class)
	assert.Equal(t, 3, plans[1].count)
}

func TestRunGeneratesAllRequestedImages(t *testing.T) {
	global, model := testConfigs(5)
	modelDir := trainedModelDir(t, model)

	mgr, err := NewManager(Options{Global: global, Model: model, ModelDir: modelDir})
	require.NoError(t, err)
	require.NoError(t, mgr.Run())

	entries, err := os.ReadDir(mgr.OutputDir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Len(t, names, 5)
	assert.Contains(t, names, "generated_image_0.png")
	assert.Contains(t, names, "generated_image_4.png")
}

func TestLabeledRunTagsFilesByClass(t *testing.T) {
	global, model := testConfigs(map[string]any{"0": 2, "1": 1})
	model.LabelingParadigm = config.ParadigmLabeled
	model.NumClasses = 2
	modelDir := trainedModelDir(t, model)

	mgr, err := NewManager(Options{Global: global, Model: model, ModelDir: modelDir})
	require.NoError(t, err)
	require.NoError(t, mgr.Run())

	entries, err := os.ReadDir(mgr.OutputDir())
	require.NoError(t, err)
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Len(t, names, 3)
	assert.Contains(t, names, "generated_image_0_class_0.png")
	assert.Contains(t, names, "generated_image_1_class_0.png")
	assert.Contains(t, names, "generated_image_2_class_1.png")
}

func TestOutputDirCollisionGetsSuffix(t *testing.T) {
	global, model := testConfigs(2)
	modelDir := trainedModelDir(t, model)

	first, err := NewManager(Options{Global: global, Model: model, ModelDir: modelDir})
	require.NoError(t, err)
	require.NoError(t, first.Run())

	second, err := NewManager(Options{Global: global, Model: model, ModelDir: modelDir})
	require.NoError(t, err)
	require.NoError(t, second.Run())

	assert.Equal(t, first.OutputDir()+"_1", second.OutputDir())
	for _, dir := range []string{first.OutputDir(), second.OutputDir()} {
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.NotEmpty(t, entries)
	}
}
