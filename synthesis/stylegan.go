package synthesis

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/data"
	"github.com/tsawler/go-synth/tensor"
)

// initialAlpha is the fade-in starting point used when the config does
// not set one and when a new stage begins.
const initialAlpha = 1e-5

// StyleGAN is the progressive-growing adversarial module. Resolution
// starts small and doubles per stage; within a stage the new layers
// fade in as alpha climbs from near zero to one. The critic trains
// with a Wasserstein objective plus gradient penalty.
type StyleGAN struct {
	moduleBase

	gen    *styleGenerator
	critic *styleCritic
	resize ResizePipeline

	stage        int
	alpha        float64
	epochInStage int
	datasetSize  int

	latentSize int
	numStages  int
}

// NewStyleGAN creates an uninitialized StyleGAN module.
func NewStyleGAN(model *config.ModelConfig, opts Options) *StyleGAN {
	return &StyleGAN{
		moduleBase: newModuleBase(model, opts),
		resize:     opts.Resize,
		latentSize: model.Architecture.LatentVectorSize,
		numStages:  len(model.Architecture.ProgressiveEpochs),
	}
}

func (m *StyleGAN) Name() string { return "stylegan" }

// InitializeModel builds the per-stage generator and critic networks.
func (m *StyleGAN) InitializeModel() error {
	arch := m.model.Architecture
	if m.numStages == 0 {
		return config.ConfigurationError("stylegan requires a non-empty architecture.progressive_epochs")
	}
	if arch.ProgressiveSizeStartingValue <= 0 {
		return config.ConfigurationError("stylegan requires a positive architecture.progressive_size_starting_value, got %d", arch.ProgressiveSizeStartingValue)
	}
	if arch.ProgressiveSizeGrowthFactor < 2 {
		return config.ConfigurationError("architecture.progressive_size_growth_factor must be >= 2, got %d", arch.ProgressiveSizeGrowthFactor)
	}
	for i, epochs := range arch.ProgressiveEpochs {
		if epochs <= 0 {
			return config.ConfigurationError("architecture.progressive_epochs[%d] must be positive, got %d", i, epochs)
		}
	}

	gen, err := newStyleGenerator(m.latentSize, arch.HiddenSize, arch.ImageChannels,
		m.model.NDimensions, arch.ProgressiveSizeStartingValue, arch.ProgressiveSizeGrowthFactor,
		m.numStages, m.rng)
	if err != nil {
		return err
	}
	critic, err := newStyleCritic(arch.HiddenSize, arch.ImageChannels,
		m.model.NDimensions, arch.ProgressiveSizeStartingValue, arch.ProgressiveSizeGrowthFactor,
		m.numStages, m.rng)
	if err != nil {
		return err
	}
	m.gen, m.critic = gen, critic

	m.alpha = m.model.Architecture.Alpha
	if m.alpha <= 0 {
		m.alpha = initialAlpha
	}
	return nil
}

func (m *StyleGAN) InitializeLosses() error {
	return m.initLosses()
}

func (m *StyleGAN) ConfigureOptimizers() error {
	return m.configureOptimizers(m.critic.Params(), m.gen.Params())
}

// OnTrainStart validates that the stage schedule covers the trainer's
// epochs exactly, then points the data pipeline at the first stage's
// resolution.
func (m *StyleGAN) OnTrainStart(totalEpochs, datasetSize int) error {
	scheduled := 0
	for _, epochs := range m.model.Architecture.ProgressiveEpochs {
		scheduled += epochs
	}
	if scheduled != totalEpochs {
		return StageScheduleError("progressive_epochs sum to %d but the trainer runs %d epochs", scheduled, totalEpochs)
	}
	m.datasetSize = datasetSize
	if m.resize != nil {
		m.resize.SetResizeSize(m.gen.resolution(m.stage))
	}
	m.logger.Info("starting training", "model", m.Name(), "epochs", totalEpochs,
		"dataset_size", datasetSize, "stages", m.numStages, "stage", m.stage, "alpha", m.alpha)
	return nil
}

// TrainingStep runs the critic phase then the generator phase at the
// current stage and alpha, and advances the fade-in. Batches of size 1
// are skipped: the gradient penalty's per-sample interpolation is
// degenerate there.
func (m *StyleGAN) TrainingStep(batch *data.Batch, batchIndex int) (LossRecord, error) {
	n := batch.Size()
	if n == 1 {
		m.logger.Warn("skipping batch of size 1 during progressive training", "batch_index", batchIndex)
		return nil, nil
	}
	boundary := m.stepBoundary(batchIndex)

	criticLoss, err := m.criticPhase(batch.Images, n, boundary)
	if err != nil {
		return nil, fmt.Errorf("critic phase: %w", err)
	}
	genLoss, fake, err := m.generatorPhase(n, boundary)
	if err != nil {
		return nil, fmt.Errorf("generator phase: %w", err)
	}

	// Fade in proportionally to the samples seen in this stage.
	m.alpha += float64(n) / (float64(m.model.Architecture.ProgressiveEpochs[m.stage]) * float64(m.datasetSize))
	if m.alpha > 1 {
		m.alpha = 1
	}

	rec := LossRecord{"disc_loss": criticLoss, "gen_loss": genLoss}
	if err := m.computeMetrics(rec, batch.Images, fake); err != nil {
		return nil, err
	}
	m.record(rec, n)
	return rec, nil
}

// criticPhase maximizes the score gap between real and fake batches,
// regularized by the gradient penalty and the squared real scores.
func (m *StyleGAN) criticPhase(real *tensor.Tensor, n int, boundary bool) (float64, error) {
	restore := freeze(m.gen.Params())
	defer restore()

	z, err := tensor.Randn([]int{n, m.latentSize}, m.rng)
	if err != nil {
		return 0, err
	}
	fake, err := m.gen.Forward(z, m.stage, m.alpha)
	if err != nil {
		return 0, err
	}
	fake = fake.Detach()

	realScore, err := m.critic.Forward(real, m.stage, m.alpha)
	if err != nil {
		return 0, err
	}
	fakeScore, err := m.critic.Forward(fake, m.stage, m.alpha)
	if err != nil {
		return 0, err
	}

	meanReal, err := tensor.Mean(realScore)
	if err != nil {
		return 0, err
	}
	meanFake, err := tensor.Mean(fakeScore)
	if err != nil {
		return 0, err
	}
	gap, err := tensor.Sub(meanFake, meanReal)
	if err != nil {
		return 0, err
	}

	penalty, err := m.gradientPenalty(real, fake, n)
	if err != nil {
		return 0, err
	}
	weightedPenalty, err := tensor.Scale(penalty, float32(m.model.Architecture.GradientPenaltyWeight))
	if err != nil {
		return 0, err
	}

	realSq, err := tensor.Mul(realScore, realScore)
	if err != nil {
		return 0, err
	}
	meanRealSq, err := tensor.Mean(realSq)
	if err != nil {
		return 0, err
	}
	drift, err := tensor.Scale(meanRealSq, float32(m.model.Architecture.CriticSquaredLossWeight))
	if err != nil {
		return 0, err
	}

	loss, err := tensor.Add(gap, weightedPenalty)
	if err != nil {
		return 0, err
	}
	if loss, err = tensor.Add(loss, drift); err != nil {
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
		if err := m.clipAndStep(m.discOpt, m.critic.Params()); err != nil {
			return 0, err
		}
	}
	return float64(value), nil
}

// gradientPenalty interpolates real and detached fake samples with a
// per-sample blend coefficient, scores the interpolation, and
// penalizes the score's input gradient for straying from unit norm.
func (m *StyleGAN) gradientPenalty(real, fake *tensor.Tensor, n int) (*tensor.Tensor, error) {
	realFlat, err := flatten(real)
	if err != nil {
		return nil, err
	}
	fakeFlat, err := flatten(fake)
	if err != nil {
		return nil, err
	}
	elems := realFlat.Shape[1]

	beta, err := tensor.RandUniform([]int{n, 1}, m.rng)
	if err != nil {
		return nil, err
	}
	betaWide, err := tensor.ExpandCols(beta, elems)
	if err != nil {
		return nil, err
	}
	betaInv, err := tensor.Scale(betaWide, -1)
	if err != nil {
		return nil, err
	}
	if betaInv, err = tensor.AddScalar(betaInv, 1); err != nil {
		return nil, err
	}

	realPart, err := tensor.Mul(realFlat, betaWide)
	if err != nil {
		return nil, err
	}
	fakePart, err := tensor.Mul(fakeFlat, betaInv)
	if err != nil {
		return nil, err
	}
	mixedFlat, err := tensor.Add(realPart, fakePart)
	if err != nil {
		return nil, err
	}

	// The interpolation is a fresh differentiation root: gradients are
	// taken with respect to it, not the batches that produced it.
	interp := mixedFlat.Detach()
	interp.SetRequiresGrad(true)
	interpImg, err := tensor.Reshape(interp, real.Shape)
	if err != nil {
		return nil, err
	}
	score, err := m.critic.Forward(interpImg, m.stage, m.alpha)
	if err != nil {
		return nil, err
	}

	grad, err := tensor.Grad(score, interp)
	if err != nil {
		return nil, err
	}
	gradSq, err := tensor.Mul(grad, grad)
	if err != nil {
		return nil, err
	}
	sumSq, err := tensor.SumRows(gradSq)
	if err != nil {
		return nil, err
	}
	norm, err := tensor.Sqrt(sumSq)
	if err != nil {
		return nil, err
	}
	excess, err := tensor.AddScalar(norm, -1)
	if err != nil {
		return nil, err
	}
	excessSq, err := tensor.Mul(excess, excess)
	if err != nil {
		return nil, err
	}
	return tensor.Mean(excessSq)
}

// generatorPhase minimizes the negated critic score of fresh fakes.
// The detached fakes are returned for metric computation.
func (m *StyleGAN) generatorPhase(n int, boundary bool) (float64, *tensor.Tensor, error) {
	restore := freeze(m.critic.Params())
	defer restore()

	z, err := tensor.Randn([]int{n, m.latentSize}, m.rng)
	if err != nil {
		return 0, nil, err
	}
	fake, err := m.gen.Forward(z, m.stage, m.alpha)
	if err != nil {
		return 0, nil, err
	}
	score, err := m.critic.Forward(fake, m.stage, m.alpha)
	if err != nil {
		return 0, nil, err
	}
	meanScore, err := tensor.Mean(score)
	if err != nil {
		return 0, nil, err
	}
	loss, err := tensor.Scale(meanScore, -1)
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

func (m *StyleGAN) ValidationStep(*data.Batch) (LossRecord, error) {
	return nil, fmt.Errorf("%w: stylegan has no validation step", ErrUnsupportedOperation)
}

func (m *StyleGAN) TestStep(*data.Batch) (LossRecord, error) {
	return nil, fmt.Errorf("%w: stylegan has no test step", ErrUnsupportedOperation)
}

// inferenceStage is the stage used outside training: the configured
// default forward stage, or the final one.
func (m *StyleGAN) inferenceStage() int {
	if s := m.model.Architecture.DefaultForwardStep; s != nil {
		return *s
	}
	return m.numStages - 1
}

// InferenceStep generates n samples at the inference stage with the
// fade-in complete, rescaled to [0, 1].
func (m *StyleGAN) InferenceStep(n, _ int) (*tensor.Tensor, error) {
	if n <= 0 {
		return nil, fmt.Errorf("sample count must be positive, got %d", n)
	}
	return m.generate(n, m.inferenceStage(), m.rng)
}

func (m *StyleGAN) generate(n, stage int, rng *rand.Rand) (*tensor.Tensor, error) {
	z, err := tensor.Randn([]int{n, m.latentSize}, rng)
	if err != nil {
		return nil, err
	}
	fake, err := m.gen.Forward(z, stage, 1)
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

// OnTrainEpochEnd logs the epoch aggregate and advances the
// progressive stage when its epoch quota is met, resetting alpha and
// pointing the data pipeline at the new resolution.
func (m *StyleGAN) OnTrainEpochEnd(epoch int) error {
	m.epoch = epoch
	m.logEpochAggregate(epoch)
	m.applySchedules(epoch + 1)

	if m.previewDue(epoch) {
		if err := m.savePreview(epoch, func(n int, rng *rand.Rand) (*tensor.Tensor, error) {
			return m.generate(n, m.stage, rng)
		}); err != nil {
			return err
		}
	}

	m.epochInStage++
	if m.epochInStage >= m.model.Architecture.ProgressiveEpochs[m.stage] && m.stage < m.numStages-1 {
		m.stage++
		m.epochInStage = 0
		m.alpha = m.model.Architecture.Alpha
		if m.alpha <= 0 {
			m.alpha = initialAlpha
		}
		resolution := m.gen.resolution(m.stage)
		if m.resize != nil {
			m.resize.SetResizeSize(resolution)
		}
		m.logger.Info("advancing progressive stage", "stage", m.stage, "resolution", resolution)
	}
	return nil
}

func (m *StyleGAN) Snapshot() (*checkpoints.ModuleState, error) {
	optStates, err := m.optimizerStates()
	if err != nil {
		return nil, err
	}
	weights := snapshotLinears("generator", m.gen.linears())
	weights = append(weights, snapshotLinears("discriminator", m.critic.linears())...)
	state := m.trainingState()
	state.Stage = m.stage
	state.EpochInStage = m.epochInStage
	state.Alpha = m.alpha
	return &checkpoints.ModuleState{
		Weights:        weights,
		TrainingState:  state,
		OptimizerState: optStates,
	}, nil
}

func (m *StyleGAN) Restore(state *checkpoints.ModuleState) error {
	if err := restoreLinears(state.Weights, m.gen.linears()); err != nil {
		return err
	}
	if err := restoreLinears(state.Weights, m.critic.linears()); err != nil {
		return err
	}
	m.restoreTrainingState(state.TrainingState)
	m.stage = state.TrainingState.Stage
	m.epochInStage = state.TrainingState.EpochInStage
	m.alpha = state.TrainingState.Alpha
	if m.resize != nil {
		m.resize.SetResizeSize(m.gen.resolution(m.stage))
	}
	return m.restoreOptimizerStates(state.OptimizerState)
}
