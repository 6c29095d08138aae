// Package config resolves the YAML run configuration into immutable
// GlobalConfig and ModelConfig values. Configuration is validated once,
// up front: anything malformed fails with a ConfigurationError before
// model work begins.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ErrConfiguration is the sentinel wrapped by every configuration
// failure. Callers match it with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// ConfigurationError wraps a descriptive message into the taxonomy.
func ConfigurationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Labeling paradigms supported by the synthesis modules.
const (
	ParadigmUnlabeled = "unlabeled"
	ParadigmLabeled   = "labeled"
)

// LossSpec names a loss function plus its variant options.
type LossSpec struct {
	Name      string  `yaml:"name"`
	Reduction string  `yaml:"reduction"`
	Epsilon   float64 `yaml:"epsilon"`
}

// OptimizerSpec names an optimizer and its hyperparameters.
type OptimizerSpec struct {
	Name         string  `yaml:"name"`
	LearningRate float64 `yaml:"learning_rate"`
	Beta1        float64 `yaml:"beta1"`
	Beta2        float64 `yaml:"beta2"`
	Epsilon      float64 `yaml:"epsilon"`
	Momentum     float64 `yaml:"momentum"`
	Alpha        float64 `yaml:"alpha"`
}

// SchedulerSpec names a learning-rate schedule.
type SchedulerSpec struct {
	Name     string  `yaml:"name"`
	StepSize int     `yaml:"step_size"`
	Gamma    float64 `yaml:"gamma"`
	TMax     int     `yaml:"t_max"`
	EtaMin   float64 `yaml:"eta_min"`
}

// SchedulersConfig carries the scheduler configuration for the two
// sub-networks. The YAML either names discriminator/generator entries
// explicitly (both-or-neither, enforced by the synthesis modules) or is
// a single spec shared by both.
type SchedulersConfig struct {
	Discriminator *SchedulerSpec
	Generator     *SchedulerSpec
	Shared        *SchedulerSpec
}

// UnmarshalYAML accepts either the per-network mapping or a bare spec.
func (s *SchedulersConfig) UnmarshalYAML(node *yaml.Node) error {
	var split struct {
		Discriminator *SchedulerSpec `yaml:"discriminator"`
		Generator     *SchedulerSpec `yaml:"generator"`
	}
	if err := node.Decode(&split); err == nil && (split.Discriminator != nil || split.Generator != nil) {
		s.Discriminator = split.Discriminator
		s.Generator = split.Generator
		return nil
	}
	var shared SchedulerSpec
	if err := node.Decode(&shared); err != nil {
		return err
	}
	s.Shared = &shared
	return nil
}

// Architecture holds per-architecture hyperparameters. Fields that only
// one architecture reads are ignored by the others.
type Architecture struct {
	LatentVectorSize int `yaml:"latent_vector_size"`
	HiddenSize       int `yaml:"hidden_size"`
	ImageChannels    int `yaml:"image_channels"`
	ImageSize        int `yaml:"image_size"`

	// Progressive growing (StyleGAN).
	Alpha                        float64 `yaml:"alpha"`
	ProgressiveEpochs            []int   `yaml:"progressive_epochs"`
	ProgressiveSizeStartingValue int     `yaml:"progressive_size_starting_value"`
	ProgressiveSizeGrowthFactor  int     `yaml:"progressive_size_growth_factor"`
	DefaultForwardStep           *int    `yaml:"default_forward_step"`
	GradientPenaltyWeight        float64 `yaml:"gradient_penalty_weight"`
	CriticSquaredLossWeight      float64 `yaml:"critic_squared_loss_weight"`
}

// ModelConfig is the immutable per-run model configuration. It is owned
// by the orchestrators and read-only to the synthesis modules.
type ModelConfig struct {
	ModelName        string       `yaml:"model_name"`
	LabelingParadigm string       `yaml:"labeling_paradigm"`
	NDimensions      int          `yaml:"n_dimensions"`
	NumClasses       int          `yaml:"num_classes"`
	Architecture     Architecture `yaml:"architecture"`

	Losses     map[string]LossSpec      `yaml:"losses"`
	Optimizers map[string]OptimizerSpec `yaml:"optimizers"`
	Schedulers *SchedulersConfig        `yaml:"schedulers"`

	AccumulateGradBatches  int     `yaml:"accumulate_grad_batches"`
	GradientClipVal        float64 `yaml:"gradient_clip_val"`
	GradientClipAlgorithm  string  `yaml:"gradient_clip_algorithm"`
	SaveModelEveryNEpochs  int     `yaml:"save_model_every_n_epochs"`
	SaveEvalImagesCadence  int     `yaml:"save_eval_images_every_n_epochs"`
	NFixedImagesToGenerate int     `yaml:"n_fixed_images_to_generate"`
	FixedImagesBatchSize   int     `yaml:"fixed_images_batch_size"`
	FixedLatentVectorSeed  int64   `yaml:"fixed_latent_vector_seed"`
	Seed                   int64   `yaml:"seed"`
}

// GlobalConfig is the run-wide configuration shared by training and
// inference.
type GlobalConfig struct {
	BatchSize           int            `yaml:"batch_size"`
	NumEpochs           int            `yaml:"num_epochs"`
	Modality            string         `yaml:"modality"`
	Metrics             []string       `yaml:"metrics"`
	InferenceParameters map[string]any `yaml:"inference_parameters"`
	DataloaderShuffle   bool           `yaml:"dataloader_shuffle"`
}

type fileSchema struct {
	ModelConfig  ModelConfig  `yaml:"model_config"`
	GlobalConfig GlobalConfig `yaml:",inline"`
}

// Load reads, defaults and validates a run configuration file.
func Load(path string) (*GlobalConfig, *ModelConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(raw)
}

// Parse decodes a run configuration from YAML bytes.
func Parse(raw []byte) (*GlobalConfig, *ModelConfig, error) {
	var schema fileSchema
	if err := yaml.Unmarshal(raw, &schema); err != nil {
		return nil, nil, ConfigurationError("failed to parse config: %v", err)
	}
	global := schema.GlobalConfig
	model := schema.ModelConfig
	applyDefaults(&global, &model)
	if err := validate(&global, &model); err != nil {
		return nil, nil, err
	}
	return &global, &model, nil
}

func applyDefaults(global *GlobalConfig, model *ModelConfig) {
	if global.BatchSize == 0 {
		global.BatchSize = 1
	}
	if model.LabelingParadigm == "" {
		model.LabelingParadigm = ParadigmUnlabeled
	}
	if model.NDimensions == 0 {
		model.NDimensions = 2
	}
	if model.AccumulateGradBatches == 0 {
		model.AccumulateGradBatches = 1
	}
	if model.GradientClipAlgorithm == "" {
		model.GradientClipAlgorithm = "norm"
	}
	if model.FixedImagesBatchSize == 0 {
		model.FixedImagesBatchSize = model.NFixedImagesToGenerate
	}
	if model.FixedLatentVectorSeed == 0 {
		model.FixedLatentVectorSeed = 42
	}
	if model.Seed == 0 {
		model.Seed = 1
	}
	if model.Architecture.HiddenSize == 0 {
		model.Architecture.HiddenSize = 128
	}
	if model.Architecture.ImageChannels == 0 {
		model.Architecture.ImageChannels = 1
	}
	if model.Architecture.ProgressiveSizeGrowthFactor == 0 {
		model.Architecture.ProgressiveSizeGrowthFactor = 2
	}
}

func validate(global *GlobalConfig, model *ModelConfig) error {
	if model.ModelName == "" {
		return ConfigurationError("model_config.model_name is required")
	}
	if model.LabelingParadigm != ParadigmUnlabeled && model.LabelingParadigm != ParadigmLabeled {
		return ConfigurationError("unknown labeling paradigm %q", model.LabelingParadigm)
	}
	if model.LabelingParadigm == ParadigmLabeled && model.NumClasses <= 0 {
		return ConfigurationError("labeled paradigm requires a positive num_classes, got %d", model.NumClasses)
	}
	if model.NDimensions != 2 && model.NDimensions != 3 {
		return ConfigurationError("n_dimensions must be 2 or 3, got %d", model.NDimensions)
	}
	if model.Architecture.LatentVectorSize <= 0 {
		return ConfigurationError("architecture.latent_vector_size must be positive, got %d", model.Architecture.LatentVectorSize)
	}
	if model.AccumulateGradBatches < 1 {
		return ConfigurationError("accumulate_grad_batches must be >= 1, got %d", model.AccumulateGradBatches)
	}
	if model.GradientClipVal < 0 {
		return ConfigurationError("gradient_clip_val must not be negative, got %v", model.GradientClipVal)
	}
	if alg := model.GradientClipAlgorithm; alg != "norm" && alg != "value" {
		return ConfigurationError("gradient_clip_algorithm must be \"norm\" or \"value\", got %q", alg)
	}
	if global.BatchSize < 1 {
		return ConfigurationError("batch_size must be >= 1, got %d", global.BatchSize)
	}
	for _, sub := range []string{"discriminator", "generator"} {
		if _, ok := model.Losses[sub]; !ok {
			return ConfigurationError("model_config.losses is missing the %q entry", sub)
		}
		if _, ok := model.Optimizers[sub]; !ok {
			return ConfigurationError("model_config.optimizers is missing the %q entry", sub)
		}
	}
	return nil
}
