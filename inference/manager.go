// Package inference drives batched generation from a trained model:
// parameter validation, the batch plan, and persistence of every
// generated sample.
package inference

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/imaging"
	"github.com/tsawler/go-synth/synthesis"
)

const countKey = "n_images_to_generate"

// classPlan is the generation request for one class. Unlabeled runs
// use a single plan with a class of 0 and no file tag.
type classPlan struct {
	class   int
	labeled bool
	count   int
}

// Options configures an inference run.
type Options struct {
	Global *config.GlobalConfig
	Model  *config.ModelConfig

	// ModelDir holds the trained model's checkpoints.
	ModelDir string

	// OutputBase is the directory the output directory is created in;
	// defaults to the model directory's parent.
	OutputBase string

	// CheckpointSuffix selects the checkpoint to load; defaults to the
	// final one.
	CheckpointSuffix string

	Logger *slog.Logger
}

// Manager owns one inference run.
type Manager struct {
	global *config.GlobalConfig
	model  *config.ModelConfig
	logger *slog.Logger

	module    synthesis.Module
	plans     []classPlan
	outputDir string
}

// NewManager validates the inference parameters, claims an output
// directory and loads the trained module. Parameter validation happens
// before any model work.
func NewManager(opts Options) (*Manager, error) {
	if opts.Global == nil || opts.Model == nil {
		return nil, config.ConfigurationError("inference requires global and model configuration")
	}
	if opts.ModelDir == "" {
		return nil, config.ConfigurationError("inference requires a model directory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	plans, err := parsePlans(opts.Global, opts.Model)
	if err != nil {
		return nil, err
	}

	base := opts.OutputBase
	if base == "" {
		base = filepath.Dir(opts.ModelDir)
	}
	outputDir, err := claimOutputDir(base, filepath.Base(opts.ModelDir))
	if err != nil {
		return nil, err
	}

	module, err := synthesis.New(opts.Model, synthesis.Options{
		Logger:   logger,
		RNG:      rand.New(rand.NewSource(opts.Model.Seed)),
		Modality: opts.Global.Modality,
	})
	if err != nil {
		return nil, err
	}
	if err := synthesis.Setup(module); err != nil {
		return nil, err
	}

	saver, err := checkpoints.NewSaver(opts.ModelDir, opts.Model.ModelName)
	if err != nil {
		return nil, err
	}
	suffix := opts.CheckpointSuffix
	if suffix == "" {
		suffix = checkpoints.FinalSuffix
	}
	if err := synthesis.LoadCheckpoint(module, saver, suffix); err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return &Manager{
		global:    opts.Global,
		model:     opts.Model,
		logger:    logger,
		module:    module,
		plans:     plans,
		outputDir: outputDir,
	}, nil
}

// OutputDir returns the claimed output directory.
func (m *Manager) OutputDir() string {
	return m.outputDir
}

// Run generates and persists every requested sample. File indices
// increase monotonically across batches and classes.
func (m *Manager) Run() error {
	sampleIndex := 0
	for _, plan := range m.plans {
		for _, batchSize := range BatchPlan(plan.count, m.global.BatchSize) {
			batch, err := m.module.InferenceStep(batchSize, plan.class)
			if err != nil {
				return err
			}
			hostBatch, err := imaging.ToChannelLast(batch)
			if err != nil {
				return err
			}
			for i := 0; i < batchSize; i++ {
				sample, err := imaging.Sample(hostBatch, i)
				if err != nil {
					return err
				}
				name := fmt.Sprintf("generated_image_%d", sampleIndex)
				if plan.labeled {
					name += fmt.Sprintf("_class_%d", plan.class)
				}
				path := filepath.Join(m.outputDir, name)
				if err := imaging.SaveSingleImage(sample, path, m.global.Modality, m.model.NDimensions); err != nil {
					return err
				}
				sampleIndex++
			}
		}
		m.logger.Info("generated images", "class", plan.class, "count", plan.count)
	}
	m.logger.Info("inference finished", "total", sampleIndex, "output_dir", m.outputDir)
	return nil
}

// BatchPlan splits a total into ceil(total/batchSize) batch sizes:
// full batches followed by the remainder.
func BatchPlan(total, batchSize int) []int {
	if total <= 0 || batchSize <= 0 {
		return nil
	}
	var plan []int
	for total > 0 {
		n := batchSize
		if n > total {
			n = total
		}
		plan = append(plan, n)
		total -= n
	}
	return plan
}

// parsePlans validates inference_parameters and expands them into
// per-class generation plans.
func parsePlans(global *config.GlobalConfig, model *config.ModelConfig) ([]classPlan, error) {
	raw, ok := global.InferenceParameters[countKey]
	if !ok {
		return nil, config.ConfigurationError("inference_parameters is missing %q", countKey)
	}

	if model.LabelingParadigm == config.ParadigmLabeled {
		perClass, ok := raw.(map[string]any)
		if !ok {
			return nil, config.ConfigurationError("%q must map class labels to counts for labeled models", countKey)
		}
		var plans []classPlan
		for key, value := range perClass {
			class, err := strconv.Atoi(key)
			if err != nil {
				return nil, config.ConfigurationError("%q has a non-integer class label %q", countKey, key)
			}
			count, err := parseCount(value)
			if err != nil {
				return nil, config.ConfigurationError("%q for class %q: %v", countKey, key, err)
			}
			plans = append(plans, classPlan{class: class, labeled: true, count: count})
		}
		if len(plans) == 0 {
			return nil, config.ConfigurationError("%q names no classes", countKey)
		}
		sort.Slice(plans, func(i, j int) bool { return plans[i].class < plans[j].class })
		return plans, nil
	}

	count, err := parseCount(raw)
	if err != nil {
		return nil, config.ConfigurationError("%q: %v", countKey, err)
	}
	return []classPlan{{count: count}}, nil
}

func parseCount(value any) (int, error) {
	count, ok := value.(int)
	if !ok {
		return 0, fmt.Errorf("expected an integer count, got %T", value)
	}
	if count <= 0 {
		return 0, fmt.Errorf("count must be positive, got %d", count)
	}
	return count, nil
}

// claimOutputDir creates <base>/<modelName>_inference_output, adding a
// numeric suffix when the directory already exists. Existing output is
// never reused or overwritten.
func claimOutputDir(base, modelName string) (string, error) {
	name := modelName + "_inference_output"
	for attempt := 0; ; attempt++ {
		candidate := filepath.Join(base, name)
		if attempt > 0 {
			candidate = fmt.Sprintf("%s_%d", candidate, attempt)
		}
		err := os.Mkdir(candidate, 0o755)
		if err == nil {
			return candidate, nil
		}
		if !os.IsExist(err) {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
}
