// Package training orchestrates the epoch loop: dataset splitting,
// batching, module training steps, checkpoint cadence and resume.
package training

import (
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/data"
	"github.com/tsawler/go-synth/metrics"
	"github.com/tsawler/go-synth/synthesis"
)

// ManagerOptions configures a training run.
type ManagerOptions struct {
	Global  *config.GlobalConfig
	Model   *config.ModelConfig
	Dataset data.Dataset

	// ModelDir receives checkpoints and preview images.
	ModelDir string

	// Resume restarts from the latest checkpoint in ModelDir when one
	// exists.
	Resume bool

	// ValSplit and TestSplit carve held-out subsets from the dataset.
	// An explicit count takes precedence over a ratio.
	ValSplit  data.SplitSpec
	TestSplit data.SplitSpec

	Logger *slog.Logger
	// ProgressOutput receives the progress bar; defaults to stdout.
	ProgressOutput io.Writer
}

// Manager owns one training run over a synthesis module.
type Manager struct {
	global *config.GlobalConfig
	model  *config.ModelConfig
	logger *slog.Logger
	out    io.Writer

	module synthesis.Module
	loader *data.DataLoader
	saver  *checkpoints.Saver

	trainSet   data.Dataset
	valSet     data.Dataset
	testSet    data.Dataset
	startEpoch int
}

// NewManager wires the dataset, module and checkpointing for a run.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Global == nil || opts.Model == nil {
		return nil, config.ConfigurationError("training requires global and model configuration")
	}
	if opts.Dataset == nil {
		return nil, config.ConfigurationError("training requires a dataset")
	}
	if opts.ModelDir == "" {
		return nil, config.ConfigurationError("training requires a model directory")
	}
	if opts.Global.NumEpochs <= 0 {
		return nil, config.ConfigurationError("num_epochs must be positive, got %d", opts.Global.NumEpochs)
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.ProgressOutput
	if out == nil {
		out = os.Stdout
	}

	rng := rand.New(rand.NewSource(opts.Model.Seed))
	trainSet, valSet, testSet, err := data.Split(opts.Dataset, opts.ValSplit, opts.TestSplit, rng)
	if err != nil {
		return nil, err
	}
	logger.Info("dataset split",
		"train", trainSet.Len(),
		"validation", datasetLen(valSet),
		"test", datasetLen(testSet))

	loader, err := data.NewDataLoader(trainSet, opts.Global.BatchSize, opts.Global.DataloaderShuffle, rng)
	if err != nil {
		return nil, err
	}
	calc, err := metrics.Get(opts.Global.Metrics)
	if err != nil {
		return nil, err
	}
	saver, err := checkpoints.NewSaver(opts.ModelDir, opts.Model.ModelName)
	if err != nil {
		return nil, err
	}

	module, err := synthesis.New(opts.Model, synthesis.Options{
		ModelDir: opts.ModelDir,
		Logger:   logger,
		RNG:      rng,
		Metrics:  calc,
		Resize:   loader,
		Modality: opts.Global.Modality,
	})
	if err != nil {
		return nil, err
	}
	if err := synthesis.Setup(module); err != nil {
		return nil, err
	}

	m := &Manager{
		global:   opts.Global,
		model:    opts.Model,
		logger:   logger,
		out:      out,
		module:   module,
		loader:   loader,
		saver:    saver,
		trainSet: trainSet,
		valSet:   valSet,
		testSet:  testSet,
	}

	if opts.Resume && saver.Exists(checkpoints.LatestSuffix) {
		state, err := saver.Load(checkpoints.LatestSuffix)
		if err != nil {
			return nil, fmt.Errorf("failed to resume: %w", err)
		}
		if err := module.Restore(state); err != nil {
			return nil, fmt.Errorf("failed to resume: %w", err)
		}
		m.startEpoch = state.TrainingState.Epoch + 1
		logger.Info("resumed from checkpoint",
			"epoch", state.TrainingState.Epoch,
			"global_step", state.TrainingState.GlobalStep)
	}
	return m, nil
}

func datasetLen(ds data.Dataset) int {
	if ds == nil {
		return 0
	}
	return ds.Len()
}

// Module returns the managed synthesis module.
func (m *Manager) Module() synthesis.Module {
	return m.module
}

// HeldOut returns the validation and test subsets carved from the
// dataset; either may be nil.
func (m *Manager) HeldOut() (validation, test data.Dataset) {
	return m.valSet, m.testSet
}

// Run executes the training loop from the start (or resumed) epoch to
// the configured epoch count, saving the rolling checkpoint each epoch
// and tagged checkpoints on the configured cadence.
func (m *Manager) Run() error {
	totalEpochs := m.global.NumEpochs
	if err := m.module.OnTrainStart(totalEpochs, m.trainSet.Len()); err != nil {
		return err
	}

	for epoch := m.startEpoch; epoch < totalEpochs; epoch++ {
		m.loader.Reset()
		bar := NewProgressBar(m.out, fmt.Sprintf("Epoch %d/%d", epoch+1, totalEpochs), m.loader.Len())

		batchIndex := 0
		for m.loader.HasNext() {
			batch, err := m.loader.Next()
			if err != nil {
				return err
			}
			if batch == nil {
				break
			}
			rec, err := m.module.TrainingStep(batch, batchIndex)
			if err != nil {
				return fmt.Errorf("epoch %d batch %d: %w", epoch, batchIndex, err)
			}
			batchIndex++
			bar.Update(batchIndex, rec)
		}
		bar.Finish()

		if err := m.module.OnTrainEpochEnd(epoch); err != nil {
			return err
		}
		if err := m.saveCheckpoint(checkpoints.LatestSuffix); err != nil {
			return err
		}
		if cadence := m.model.SaveModelEveryNEpochs; cadence > 0 && (epoch+1)%cadence == 0 {
			if err := m.saveCheckpoint(checkpoints.EpochSuffix(epoch)); err != nil {
				return err
			}
		}
	}

	return m.saveCheckpoint(checkpoints.FinalSuffix)
}

func (m *Manager) saveCheckpoint(suffix string) error {
	state, err := m.module.Snapshot()
	if err != nil {
		return err
	}
	if err := m.saver.Save(state, suffix); err != nil {
		return fmt.Errorf("failed to save checkpoint %s: %w", suffix, err)
	}
	return nil
}
