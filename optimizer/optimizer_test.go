package optimizer

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

// paramWithGrad builds a leaf parameter and runs one backward pass so
// it carries a known gradient.
func paramWithGrad(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(values)}, values)
	require.NoError(t, err)
	p.SetRequiresGrad(true)
	// loss = sum(p^2) so grad = 2p.
	squared, err := tensor.Mul(p, p)
	require.NoError(t, err)
	loss, err := tensor.Sum(squared)
	require.NoError(t, err)
	require.NoError(t, tensor.Backward(loss))
	return p
}

func TestGetResolvesNames(t *testing.T) {
	p := paramWithGrad(t, []float32{1})
	for _, name := range []string{"adam", "sgd", "rmsprop", "Adam"} {
		opt, err := Get([]*tensor.Tensor{p}, config.OptimizerSpec{Name: name})
		require.NoError(t, err, name)
		require.NotNil(t, opt)
	}
}

func TestGetUnknownNameIsConfigurationError(t *testing.T) {
	p := paramWithGrad(t, []float32{1})
	_, err := Get([]*tensor.Tensor{p}, config.OptimizerSpec{Name: "lbfgs"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestSGDStep(t *testing.T) {
	p := paramWithGrad(t, []float32{1, -2})
	opt, err := NewSGD([]*tensor.Tensor{p}, 0.1, 0)
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	// p -= lr * 2p
	assert.InDelta(t, 0.8, float64(p.Data[0]), 1e-6)
	assert.InDelta(t, -1.6, float64(p.Data[1]), 1e-6)
	assert.Equal(t, uint64(1), opt.StepCount())
}

func TestAdamFirstStepMovesByLearningRate(t *testing.T) {
	p := paramWithGrad(t, []float32{1})
	opt, err := NewAdam([]*tensor.Tensor{p}, 0.1, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, opt.Step())
	// With bias correction, the first Adam step is ~lr in the gradient
	// direction regardless of gradient magnitude.
	assert.InDelta(t, 0.9, float64(p.Data[0]), 1e-4)
}

func TestZeroGradSkipsStep(t *testing.T) {
	p := paramWithGrad(t, []float32{1})
	opt, err := NewSGD([]*tensor.Tensor{p}, 0.1, 0)
	require.NoError(t, err)
	opt.ZeroGrad()
	require.NoError(t, opt.Step())
	assert.Equal(t, float32(1), p.Data[0], "no gradient, no movement")
}

func TestAdamStateRoundTrip(t *testing.T) {
	p := paramWithGrad(t, []float32{1, 2, 3})
	opt, err := NewAdam([]*tensor.Tensor{p}, 0.01, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, opt.Step())

	state, err := opt.State()
	require.NoError(t, err)
	assert.Equal(t, "Adam", state.Type)
	assert.Len(t, state.StateData, 2, "momentum and variance buffers")

	fresh, err := NewAdam([]*tensor.Tensor{p.Clone()}, 0.01, 0, 0, 0)
	require.NoError(t, err)
	require.NoError(t, fresh.LoadState(state))
	assert.Equal(t, opt.StepCount(), fresh.StepCount())

	restored, err := fresh.State()
	require.NoError(t, err)
	assert.Equal(t, state.StateData, restored.StateData)
}

func TestLoadStateRejectsWrongType(t *testing.T) {
	p := paramWithGrad(t, []float32{1})
	opt, err := NewSGD([]*tensor.Tensor{p}, 0.1, 0.9)
	require.NoError(t, err)
	err = opt.LoadState(&State{Type: "Adam"})
	assert.Error(t, err)
}

func TestClipByGlobalNorm(t *testing.T) {
	p := paramWithGrad(t, []float32{3, 4}) // grad = (6, 8), norm 10
	require.NoError(t, ClipGradients([]*tensor.Tensor{p}, 5, ClipByNorm))

	grad := p.Grad()
	norm := math.Hypot(float64(grad.Data[0]), float64(grad.Data[1]))
	assert.InDelta(t, 5.0, norm, 1e-5)
	assert.InDelta(t, 3.0, float64(grad.Data[0]), 1e-5)
	assert.InDelta(t, 4.0, float64(grad.Data[1]), 1e-5)
}

func TestClipByNormLeavesSmallGradients(t *testing.T) {
	p := paramWithGrad(t, []float32{0.1, 0.1})
	before := append([]float32(nil), p.Grad().Data...)
	require.NoError(t, ClipGradients([]*tensor.Tensor{p}, 5, ClipByNorm))
	assert.Equal(t, before, p.Grad().Data)
}

func TestClipByValue(t *testing.T) {
	p := paramWithGrad(t, []float32{3, -4}) // grad = (6, -8)
	require.NoError(t, ClipGradients([]*tensor.Tensor{p}, 5, ClipByValue))
	assert.Equal(t, []float32{5, -5}, p.Grad().Data)
}

func TestClipDisabledWhenZero(t *testing.T) {
	p := paramWithGrad(t, []float32{3, 4})
	before := append([]float32(nil), p.Grad().Data...)
	require.NoError(t, ClipGradients([]*tensor.Tensor{p}, 0, ClipByNorm))
	assert.Equal(t, before, p.Grad().Data)
}
