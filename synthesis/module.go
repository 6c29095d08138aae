// Package synthesis implements the adversarial model modules: the
// per-batch training state machines, inference-time generation, and
// their serialized state.
package synthesis

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/data"
	"github.com/tsawler/go-synth/imaging"
	"github.com/tsawler/go-synth/losses"
	"github.com/tsawler/go-synth/metrics"
	"github.com/tsawler/go-synth/optimizer"
	"github.com/tsawler/go-synth/scheduler"
	"github.com/tsawler/go-synth/tensor"
)

// ErrUnsupportedOperation marks operations a module cannot perform,
// such as validation steps on adversarial models.
var ErrUnsupportedOperation = errors.New("unsupported operation")

// ErrStageSchedule is the sentinel for progressive stage schedules
// that do not cover the trainer's epoch count.
var ErrStageSchedule = errors.New("stage schedule mismatch")

// StageScheduleError wraps a descriptive message into the taxonomy.
func StageScheduleError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrStageSchedule, fmt.Sprintf(format, args...))
}

// LossRecord carries the named scalar losses and metrics of one
// training step.
type LossRecord map[string]float64

// ResizePipeline is the data-pipeline hook progressive models drive
// when their output resolution changes.
type ResizePipeline interface {
	SetResizeSize(size int)
}

// Module is the capability interface every synthesis model implements.
// Lifecycle: InitializeModel, InitializeLosses, ConfigureOptimizers,
// then either the training hooks or InferenceStep.
type Module interface {
	InitializeModel() error
	InitializeLosses() error
	ConfigureOptimizers() error

	// OnTrainStart runs before the first batch, once the trainer knows
	// the epoch count and dataset size.
	OnTrainStart(totalEpochs, datasetSize int) error

	// TrainingStep consumes exactly one batch. A nil record means the
	// batch was skipped.
	TrainingStep(batch *data.Batch, batchIndex int) (LossRecord, error)

	ValidationStep(batch *data.Batch) (LossRecord, error)
	TestStep(batch *data.Batch) (LossRecord, error)

	// InferenceStep generates n samples, postprocessed to [0, 1].
	// classLabel is ignored by unlabeled modules.
	InferenceStep(n, classLabel int) (*tensor.Tensor, error)

	OnTrainEpochEnd(epoch int) error

	Snapshot() (*checkpoints.ModuleState, error)
	Restore(state *checkpoints.ModuleState) error

	Name() string
}

// Options carries the run-level collaborators a module needs.
type Options struct {
	// ModelDir receives preview images; empty disables previews.
	ModelDir string
	Logger   *slog.Logger
	RNG      *rand.Rand
	Metrics  metrics.Calculator
	// Resize is the training data pipeline hook; nil outside training.
	Resize ResizePipeline
	// Modality is recorded alongside persisted previews.
	Modality string
}

// moduleBase holds the state machinery shared by the model modules.
type moduleBase struct {
	model  *config.ModelConfig
	logger *slog.Logger
	rng    *rand.Rand
	calc   metrics.Calculator

	modelDir string
	modality string

	discLoss, genLoss losses.Loss
	discOpt, genOpt   optimizer.Optimizer
	discSched         scheduler.LRScheduler
	genSched          scheduler.LRScheduler
	discBaseLR        float64
	genBaseLR         float64

	history     []LossRecord
	epochStart  int
	epoch       int
	globalStep  int
	sampleCount int
}

func newModuleBase(model *config.ModelConfig, opts Options) moduleBase {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rng := opts.RNG
	if rng == nil {
		rng = rand.New(rand.NewSource(model.Seed))
	}
	return moduleBase{
		model:    model,
		logger:   logger,
		rng:      rng,
		calc:     opts.Metrics,
		modelDir: opts.ModelDir,
		modality: opts.Modality,
	}
}

// initLosses resolves the discriminator and generator losses.
func (b *moduleBase) initLosses() error {
	discLoss, err := losses.Get(b.model.Losses["discriminator"])
	if err != nil {
		return err
	}
	genLoss, err := losses.Get(b.model.Losses["generator"])
	if err != nil {
		return err
	}
	b.discLoss, b.genLoss = discLoss, genLoss
	return nil
}

// configureOptimizers resolves both optimizers and their schedulers.
// Scheduler config naming only one sub-network is rejected.
func (b *moduleBase) configureOptimizers(discParams, genParams []*tensor.Tensor) error {
	discOpt, err := optimizer.Get(discParams, b.model.Optimizers["discriminator"])
	if err != nil {
		return err
	}
	genOpt, err := optimizer.Get(genParams, b.model.Optimizers["generator"])
	if err != nil {
		return err
	}
	b.discOpt, b.genOpt = discOpt, genOpt
	b.discBaseLR = discOpt.LearningRate()
	b.genBaseLR = genOpt.LearningRate()

	discSpec, genSpec := config.SchedulerSpec{}, config.SchedulerSpec{}
	if s := b.model.Schedulers; s != nil {
		switch {
		case s.Shared != nil:
			discSpec, genSpec = *s.Shared, *s.Shared
		case s.Discriminator != nil && s.Generator != nil:
			discSpec, genSpec = *s.Discriminator, *s.Generator
		default:
			return config.ConfigurationError("schedulers must name both discriminator and generator, or neither")
		}
	}
	if b.discSched, err = scheduler.Get(discSpec); err != nil {
		return err
	}
	if b.genSched, err = scheduler.Get(genSpec); err != nil {
		return err
	}
	return nil
}

// applySchedules sets both learning rates for the current epoch.
func (b *moduleBase) applySchedules(epoch int) {
	b.discOpt.SetLearningRate(b.discSched.LR(epoch, b.globalStep, b.discBaseLR))
	b.genOpt.SetLearningRate(b.genSched.LR(epoch, b.globalStep, b.genBaseLR))
}

// stepBoundary reports whether the optimizer should step after this
// batch under gradient accumulation.
func (b *moduleBase) stepBoundary(batchIndex int) bool {
	return (batchIndex+1)%b.model.AccumulateGradBatches == 0
}

// accumScale is the loss scale applied so accumulated gradients average
// over the accumulation window.
func (b *moduleBase) accumScale() float32 {
	return 1 / float32(b.model.AccumulateGradBatches)
}

// clipAndStep clips the accumulated gradients, applies the update and
// clears the gradients.
func (b *moduleBase) clipAndStep(opt optimizer.Optimizer, params []*tensor.Tensor) error {
	if err := optimizer.ClipGradients(params, b.model.GradientClipVal, b.model.GradientClipAlgorithm); err != nil {
		return err
	}
	if err := opt.Step(); err != nil {
		return err
	}
	opt.ZeroGrad()
	return nil
}

// freeze disables gradient accumulation for params and returns the
// restore function. The restore must run even on error paths.
func freeze(params []*tensor.Tensor) func() {
	saved := make([]bool, len(params))
	for i, p := range params {
		saved[i] = p.RequiresGrad()
		p.SetRequiresGrad(false)
	}
	return func() {
		for i, p := range params {
			p.SetRequiresGrad(saved[i])
		}
	}
}

// record appends a step record to the loss history and logs it.
func (b *moduleBase) record(rec LossRecord, batchSize int) {
	b.history = append(b.history, rec)
	b.globalStep++
	b.sampleCount += batchSize

	attrs := make([]any, 0, 2*len(rec)+2)
	attrs = append(attrs, "step", b.globalStep)
	for k, v := range rec {
		attrs = append(attrs, k, v)
	}
	b.logger.Debug("training step", attrs...)
}

// computeMetrics evaluates the configured metrics on a real batch and
// detached generated batch and merges them into the record.
func (b *moduleBase) computeMetrics(rec LossRecord, real, fake *tensor.Tensor) error {
	if b.calc == nil {
		return nil
	}
	values, err := b.calc.ComputeAll(real, fake)
	if err != nil {
		return err
	}
	for k, v := range values {
		rec[k] = v
	}
	return nil
}

// logEpochAggregate averages the records of the finished epoch.
func (b *moduleBase) logEpochAggregate(epoch int) {
	steps := b.history[b.epochStart:]
	b.epochStart = len(b.history)
	if len(steps) == 0 {
		b.logger.Info("epoch finished with no steps", "epoch", epoch)
		return
	}
	sums := map[string]float64{}
	for _, rec := range steps {
		for k, v := range rec {
			sums[k] += v
		}
	}
	attrs := []any{"epoch", epoch, "steps", len(steps)}
	for k, sum := range sums {
		attrs = append(attrs, k, sum/float64(len(steps)))
	}
	b.logger.Info("epoch finished", attrs...)
}

// previewDue reports whether a fixed-seed preview set should be
// persisted after this epoch. Previews are 2D only.
func (b *moduleBase) previewDue(epoch int) bool {
	return b.modelDir != "" &&
		b.model.NDimensions == 2 &&
		b.model.SaveEvalImagesCadence > 0 &&
		b.model.NFixedImagesToGenerate > 0 &&
		(epoch+1)%b.model.SaveEvalImagesCadence == 0
}

// savePreview generates the fixed-seed preview set with a throwaway
// generator so the training random stream is untouched, and writes it
// under the model directory.
func (b *moduleBase) savePreview(epoch int, generate func(n int, rng *rand.Rand) (*tensor.Tensor, error)) error {
	dir := filepath.Join(b.modelDir, "eval_images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create preview directory: %w", err)
	}

	previewRNG := rand.New(rand.NewSource(b.model.FixedLatentVectorSeed))
	remaining := b.model.NFixedImagesToGenerate
	saved := 0
	for remaining > 0 {
		n := b.model.FixedImagesBatchSize
		if n > remaining {
			n = remaining
		}
		batch, err := generate(n, previewRNG)
		if err != nil {
			return err
		}
		hostBatch, err := imaging.ToChannelLast(batch)
		if err != nil {
			return err
		}
		for i := 0; i < n; i++ {
			sample, err := imaging.Sample(hostBatch, i)
			if err != nil {
				return err
			}
			path := filepath.Join(dir, fmt.Sprintf("epoch_%d_sample_%d", epoch, saved))
			if err := imaging.SaveSingleImage(sample, path, b.modality, 2); err != nil {
				return err
			}
			saved++
		}
		remaining -= n
	}
	b.logger.Info("saved preview images", "epoch", epoch, "count", saved)
	return nil
}

// trainingState snapshots the shared training counters.
func (b *moduleBase) trainingState() checkpoints.TrainingState {
	return checkpoints.TrainingState{
		Epoch:       b.epoch,
		GlobalStep:  b.globalStep,
		SampleCount: b.sampleCount,
	}
}

func (b *moduleBase) restoreTrainingState(state checkpoints.TrainingState) {
	b.epoch = state.Epoch
	b.globalStep = state.GlobalStep
	b.sampleCount = state.SampleCount
	b.epochStart = 0
	b.history = nil
}

// optimizerStates snapshots both optimizers for checkpointing.
func (b *moduleBase) optimizerStates() (map[string]*optimizer.State, error) {
	discState, err := b.discOpt.State()
	if err != nil {
		return nil, err
	}
	genState, err := b.genOpt.State()
	if err != nil {
		return nil, err
	}
	return map[string]*optimizer.State{
		"discriminator": discState,
		"generator":     genState,
	}, nil
}

func (b *moduleBase) restoreOptimizerStates(states map[string]*optimizer.State) error {
	if states == nil {
		return nil
	}
	if state, ok := states["discriminator"]; ok {
		if err := b.discOpt.LoadState(state); err != nil {
			return fmt.Errorf("failed to restore discriminator optimizer: %w", err)
		}
	}
	if state, ok := states["generator"]; ok {
		if err := b.genOpt.LoadState(state); err != nil {
			return fmt.Errorf("failed to restore generator optimizer: %w", err)
		}
	}
	return nil
}

// snapshotLinears serializes layer weights under a sub-network role.
func snapshotLinears(role string, layers []*Linear) []checkpoints.WeightTensor {
	var weights []checkpoints.WeightTensor
	for _, l := range layers {
		weights = append(weights,
			checkpoints.WeightTensor{
				Name:  l.Name + ".weight",
				Shape: append([]int(nil), l.W.Shape...),
				Data:  append([]float32(nil), l.W.Data...),
				Role:  role,
			},
			checkpoints.WeightTensor{
				Name:  l.Name + ".bias",
				Shape: append([]int(nil), l.B.Shape...),
				Data:  append([]float32(nil), l.B.Data...),
				Role:  role,
			},
		)
	}
	return weights
}

// restoreLinears loads serialized weights back into layers by name.
// Every layer must find both of its tensors.
func restoreLinears(weights []checkpoints.WeightTensor, layers []*Linear) error {
	byName := make(map[string]checkpoints.WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}
	for _, l := range layers {
		for name, dst := range map[string]*tensor.Tensor{
			l.Name + ".weight": l.W,
			l.Name + ".bias":   l.B,
		} {
			src, ok := byName[name]
			if !ok {
				return fmt.Errorf("checkpoint is missing tensor %q", name)
			}
			if !dst.ShapeEquals(src.Shape) {
				return fmt.Errorf("checkpoint tensor %q has shape %v, model expects %v", name, src.Shape, dst.Shape)
			}
			copy(dst.Data, src.Data)
		}
	}
	return nil
}
