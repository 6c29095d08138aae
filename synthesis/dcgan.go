package synthesis

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/data"
	"github.com/tsawler/go-synth/tensor"
)

// DCGAN is the deep adversarial synthesis module with a fixed output
// resolution. It supports both the unlabeled and labeled paradigms; a
// labeled run conditions both sub-networks on a one-hot class vector.
type DCGAN struct {
	moduleBase

	gen        *dcganGenerator
	disc       *dcganDiscriminator
	labelSize  int // 0 when unlabeled
	latentSize int
}

// NewDCGAN creates an uninitialized DCGAN module.
func NewDCGAN(model *config.ModelConfig, opts Options) *DCGAN {
	labelSize := 0
	if model.LabelingParadigm == config.ParadigmLabeled {
		labelSize = model.NumClasses
	}
	return &DCGAN{
		moduleBase: newModuleBase(model, opts),
		labelSize:  labelSize,
		latentSize: model.Architecture.LatentVectorSize,
	}
}

func (m *DCGAN) Name() string { return "dcgan" }

// InitializeModel builds the generator and discriminator networks.
func (m *DCGAN) InitializeModel() error {
	arch := m.model.Architecture
	if arch.ImageSize <= 0 {
		return config.ConfigurationError("dcgan requires a positive architecture.image_size, got %d", arch.ImageSize)
	}
	sampleShape := []int{arch.ImageChannels}
	for i := 0; i < m.model.NDimensions; i++ {
		sampleShape = append(sampleShape, arch.ImageSize)
	}
	imageElems := arch.ImageChannels * spatialElems(arch.ImageSize, m.model.NDimensions)

	gen, err := newDCGANGenerator(m.latentSize+m.labelSize, arch.HiddenSize, sampleShape, m.rng)
	if err != nil {
		return err
	}
	disc, err := newDCGANDiscriminator(imageElems, m.labelSize, arch.HiddenSize, m.rng)
	if err != nil {
		return err
	}
	m.gen, m.disc = gen, disc
	return nil
}

func (m *DCGAN) InitializeLosses() error {
	return m.initLosses()
}

func (m *DCGAN) ConfigureOptimizers() error {
	return m.configureOptimizers(m.disc.Params(), m.gen.Params())
}

func (m *DCGAN) OnTrainStart(totalEpochs, datasetSize int) error {
	m.logger.Info("starting training", "model", m.Name(), "epochs", totalEpochs, "dataset_size", datasetSize)
	return nil
}

// oneHotLabels builds the conditioning vector for a labeled batch, or
// nil for unlabeled runs.
func (m *DCGAN) oneHotLabels(labels []int) (*tensor.Tensor, error) {
	if m.labelSize == 0 {
		return nil, nil
	}
	return tensor.OneHot(labels, m.labelSize)
}

// sampleLatent draws latent noise, appending the one-hot class vector
// when conditioning.
func (m *DCGAN) sampleLatent(n int, labels *tensor.Tensor, rng *rand.Rand) (*tensor.Tensor, error) {
	z, err := tensor.Randn([]int{n, m.latentSize}, rng)
	if err != nil {
		return nil, err
	}
	if labels == nil {
		return z, nil
	}
	return tensor.ConcatCols(z, labels)
}

// TrainingStep runs the generator phase then the discriminator phase
// over one batch, stepping each optimizer only on accumulation
// boundaries. Only the active sub-network accumulates gradients; the
// discriminator phase reuses the generator's fakes detached.
func (m *DCGAN) TrainingStep(batch *data.Batch, batchIndex int) (LossRecord, error) {
	n := batch.Size()
	labels, err := m.oneHotLabels(batch.Labels)
	if err != nil {
		return nil, err
	}
	allReal, err := tensor.Ones([]int{n, 1})
	if err != nil {
		return nil, err
	}
	allFake, err := tensor.Zeros([]int{n, 1})
	if err != nil {
		return nil, err
	}
	boundary := m.stepBoundary(batchIndex)

	genLoss, fake, err := m.generatorPhase(labels, allReal, n, boundary)
	if err != nil {
		return nil, fmt.Errorf("generator phase: %w", err)
	}
	discLoss, err := m.discriminatorPhase(batch.Images, fake, labels, allReal, allFake, boundary)
	if err != nil {
		return nil, fmt.Errorf("discriminator phase: %w", err)
	}

	rec := LossRecord{"disc_loss": discLoss, "gen_loss": genLoss}
	if err := m.computeMetrics(rec, batch.Images, fake); err != nil {
		return nil, err
	}
	m.record(rec, n)
	return rec, nil
}

// discriminatorPhase scores the real batch against the detached fakes
// and averages the two losses.
func (m *DCGAN) discriminatorPhase(real, fake, labels, allReal, allFake *tensor.Tensor, boundary bool) (float64, error) {
	restore := freeze(m.gen.Params())
	defer restore()

	realPreds, err := m.disc.Forward(real, labels)
	if err != nil {
		return 0, err
	}
	lossReal, err := m.discLoss.Forward(realPreds, allReal)
	if err != nil {
		return 0, err
	}
	fakePreds, err := m.disc.Forward(fake, labels)
	if err != nil {
		return 0, err
	}
	lossFake, err := m.discLoss.Forward(fakePreds, allFake)
	if err != nil {
		return 0, err
	}

	sum, err := tensor.Add(lossReal, lossFake)
	if err != nil {
		return 0, err
	}
	loss, err := tensor.Scale(sum, 0.5)
	if err != nil {
		return 0, err
	}
	value, err := loss.Item()
	if err != nil {
		return 0, err
	}

	scaled, err := tensor.Scale(loss, m.accumScale())
	if err != nil {
		return 0, err
	}
	if err := tensor.Backward(scaled); err != nil {
		return 0, err
	}
	if boundary {
		if err := m.clipAndStep(m.discOpt, m.disc.Params()); err != nil {
			return 0, err
		}
	}
	return float64(value), nil
}

// generatorPhase pushes fresh fakes through the frozen discriminator
// against all-real targets. The detached fakes are returned for
// metric computation.
func (m *DCGAN) generatorPhase(labels, allReal *tensor.Tensor, n int, boundary bool) (float64, *tensor.Tensor, error) {
	restore := freeze(m.disc.Params())
	defer restore()

	z, err := m.sampleLatent(n, labels, m.rng)
	if err != nil {
		return 0, nil, err
	}
	fake, err := m.gen.Forward(z)
	if err != nil {
		return 0, nil, err
	}
	preds, err := m.disc.Forward(fake, labels)
	if err != nil {
		return 0, nil, err
	}
	loss, err := m.genLoss.Forward(preds, allReal)
	if err != nil {
		return 0, nil, err
	}
	value, err := loss.Item()
	if err != nil {
		return 0, nil, err
	}

	scaled, err := tensor.Scale(loss, m.accumScale())
	if err != nil {
		return 0, nil, err
	}
	if err := tensor.Backward(scaled); err != nil {
		return 0, nil, err
	}
	if boundary {
		if err := m.clipAndStep(m.genOpt, m.gen.Params()); err != nil {
			return 0, nil, err
		}
	}
	return float64(value), fake.Detach(), nil
}

func (m *DCGAN) ValidationStep(*data.Batch) (LossRecord, error) {
	return nil, fmt.Errorf("%w: dcgan has no validation step", ErrUnsupportedOperation)
}

func (m *DCGAN) TestStep(*data.Batch) (LossRecord, error) {
	return nil, fmt.Errorf("%w: dcgan has no test step", ErrUnsupportedOperation)
}

// InferenceStep generates n samples rescaled from the generator's
// [-1, 1] range to [0, 1]. Training state is not touched.
func (m *DCGAN) InferenceStep(n, classLabel int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	return m.generate(n, classLabel, m.rng)
}

func (m *DCGAN) generate(n, classLabel int, rng *rand.Rand) (*tensor.Tensor, error) {
	var labels *tensor.Tensor
	if m.labelSize > 0 {
		classes := make([]int, n)
		for i := range classes {
			classes[i] = classLabel
		}
		var err error
		if labels, err = tensor.OneHot(classes, m.labelSize); err != nil {
			return nil, err
		}
	}
	z, err := m.sampleLatent(n, labels, rng)
	if err != nil {
		return nil, err
	}
	fake, err := m.gen.Forward(z)
	if err != nil {
		return nil, err
	}
	shifted, err := tensor.AddScalar(fake, 1)
	if err != nil {
		return nil, err
	}
	rescaled, err := tensor.Scale(shifted, 0.5)
	if err != nil {
		return nil, err
	}
	return rescaled.Detach(), nil
}

// OnTrainEpochEnd logs the epoch aggregate, advances the schedulers
// and persists the fixed-seed preview set on the configured cadence.
func (m *DCGAN) OnTrainEpochEnd(epoch int) error {
	m.epoch = epoch
	m.logEpochAggregate(epoch)
	m.applySchedules(epoch + 1)

	if m.previewDue(epoch) {
		return m.savePreview(epoch, func(n int, rng *rand.Rand) (*tensor.Tensor, error) {
			return m.generate(n, 0, rng)
		})
	}
	return nil
}

func (m *DCGAN) Snapshot() (*checkpoints.ModuleState, error) {
	optStates, err := m.optimizerStates()
	if err != nil {
		return nil, err
	}
	weights := snapshotLinears("generator", m.gen.linears())
	weights = append(weights, snapshotLinears("discriminator", m.disc.linears())...)
	return &checkpoints.ModuleState{
		Weights:        weights,
		TrainingState:  m.trainingState(),
		OptimizerState: optStates,
	}, nil
}

func (m *DCGAN) Restore(state *checkpoints.ModuleState) error {
	if err := restoreLinears(state.Weights, m.gen.linears()); err != nil {
		return err
	}
	if err := restoreLinears(state.Weights, m.disc.linears()); err != nil {
		return err
	}
	m.restoreTrainingState(state.TrainingState)
	return m.restoreOptimizerStates(state.OptimizerState)
}
