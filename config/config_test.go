package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validYAML = `
batch_size: 4
num_epochs: 6
modality: rad
metrics: [mae]
inference_parameters:
  n_images_to_generate: 10
model_config:
  model_name: dcgan
  labeling_paradigm: unlabeled
  n_dimensions: 2
  architecture:
    latent_vector_size: 16
    image_size: 8
  losses:
    discriminator: {name: bce}
    generator: {name: bce}
  optimizers:
    discriminator: {name: adam, learning_rate: 0.0002}
    generator: {name: adam, learning_rate: 0.0002}
`

func TestParseValidConfig(t *testing.T) {
	global, model, err := Parse([]byte(validYAML))
	require.NoError(t, err)

	assert.Equal(t, 4, global.BatchSize)
	assert.Equal(t, "rad", global.Modality)
	assert.Equal(t, "dcgan", model.ModelName)
	assert.Equal(t, 16, model.Architecture.LatentVectorSize)
	assert.Equal(t, 1, model.AccumulateGradBatches, "accumulation defaults to 1")
	assert.Equal(t, "norm", model.GradientClipAlgorithm)
	assert.Equal(t, int64(42), model.FixedLatentVectorSeed)
}

func TestBatchSizeDefaultsToOne(t *testing.T) {
	yaml := `
model_config:
  model_name: dcgan
  architecture: {latent_vector_size: 16, image_size: 8}
  losses:
    discriminator: {name: bce}
    generator: {name: bce}
  optimizers:
    discriminator: {name: adam}
    generator: {name: adam}
`
	global, _, err := Parse([]byte(yaml))
	require.NoError(t, err)
	assert.Equal(t, 1, global.BatchSize)
}

func TestMissingLossEntryFails(t *testing.T) {
	yaml := `
model_config:
  model_name: dcgan
  architecture: {latent_vector_size: 16}
  losses:
    generator: {name: bce}
  optimizers:
    discriminator: {name: adam}
    generator: {name: adam}
`
	_, _, err := Parse([]byte(yaml))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestLabeledParadigmRequiresClasses(t *testing.T) {
	yaml := `
model_config:
  model_name: dcgan
  labeling_paradigm: labeled
  architecture: {latent_vector_size: 16}
  losses:
    discriminator: {name: bce}
    generator: {name: bce}
  optimizers:
    discriminator: {name: adam}
    generator: {name: adam}
`
	_, _, err := Parse([]byte(yaml))
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestSchedulersSharedForm(t *testing.T) {
	yaml := validYAML + `
  schedulers: {name: steplr, step_size: 2, gamma: 0.5}
`
	_, model, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.NotNil(t, model.Schedulers)
	require.NotNil(t, model.Schedulers.Shared)
	assert.Equal(t, "steplr", model.Schedulers.Shared.Name)
	assert.Nil(t, model.Schedulers.Discriminator)
}

func TestSchedulersSplitForm(t *testing.T) {
	yaml := validYAML + `
  schedulers:
    discriminator: {name: explr, gamma: 0.9}
    generator: {name: explr, gamma: 0.9}
`
	_, model, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.NotNil(t, model.Schedulers)
	assert.Nil(t, model.Schedulers.Shared)
	require.NotNil(t, model.Schedulers.Discriminator)
	assert.Equal(t, "explr", model.Schedulers.Discriminator.Name)
}

func TestSchedulersOneSidedFormIsPreserved(t *testing.T) {
	// Only one sub-network named: the config parses, the synthesis module
	// rejects it with the both-or-neither rule at optimizer configuration.
	yaml := validYAML + `
  schedulers:
    discriminator: {name: explr, gamma: 0.9}
`
	_, model, err := Parse([]byte(yaml))
	require.NoError(t, err)
	require.NotNil(t, model.Schedulers.Discriminator)
	assert.Nil(t, model.Schedulers.Generator)
	assert.Nil(t, model.Schedulers.Shared)
}
