package losses

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

func TestGetResolvesKnownNames(t *testing.T) {
	for _, name := range []string{"bce", "mse", "wasserstein", "BCE"} {
		loss, err := Get(config.LossSpec{Name: name})
		require.NoError(t, err, name)
		require.NotNil(t, loss)
	}
}

func TestGetUnknownNameIsConfigurationError(t *testing.T) {
	_, err := Get(config.LossSpec{Name: "hinge"})
	require.Error(t, err)
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestBCELoss(t *testing.T) {
	loss, err := Get(config.LossSpec{Name: "bce"})
	require.NoError(t, err)

	pred, _ := tensor.NewTensor([]int{2, 1}, []float32{0.9, 0.1})
	target, _ := tensor.NewTensor([]int{2, 1}, []float32{1, 0})
	out, err := loss.Forward(pred, target)
	require.NoError(t, err)

	want := -(math.Log(0.9) + math.Log(0.9)) / 2
	assert.InDelta(t, want, float64(out.Data[0]), 1e-5)
}

func TestBCELossSaturatedPredictionsStayFinite(t *testing.T) {
	loss, _ := Get(config.LossSpec{Name: "bce"})
	pred, _ := tensor.NewTensor([]int{2, 1}, []float32{0, 1})
	target, _ := tensor.NewTensor([]int{2, 1}, []float32{1, 0})
	out, err := loss.Forward(pred, target)
	require.NoError(t, err)
	assert.False(t, math.IsInf(float64(out.Data[0]), 0))
	assert.False(t, math.IsNaN(float64(out.Data[0])))
}

func TestMSELoss(t *testing.T) {
	loss, _ := Get(config.LossSpec{Name: "mse"})
	pred, _ := tensor.NewTensor([]int{2}, []float32{1, 3})
	target, _ := tensor.NewTensor([]int{2}, []float32{0, 1})
	out, err := loss.Forward(pred, target)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, float64(out.Data[0]), 1e-6)
}

func TestWassersteinLossIgnoresTarget(t *testing.T) {
	loss, _ := Get(config.LossSpec{Name: "wasserstein"})
	pred, _ := tensor.NewTensor([]int{4}, []float32{1, 2, 3, 4})
	out, err := loss.Forward(pred, nil)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, float64(out.Data[0]), 1e-6)
}
