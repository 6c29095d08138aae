package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

func mustTensor(t *testing.T, shape []int, data []float32) *tensor.Tensor {
	t.Helper()
	out, err := tensor.NewTensor(shape, data)
	require.NoError(t, err)
	return out
}

func TestGetResolvesNames(t *testing.T) {
	calc, err := Get([]string{"mae", "mse", "psnr"})
	require.NoError(t, err)
	assert.Len(t, calc, 3)
}

func TestGetEmptyListYieldsNil(t *testing.T) {
	calc, err := Get(nil)
	require.NoError(t, err)
	assert.Nil(t, calc)
}

func TestGetUnknownNameIsConfigurationError(t *testing.T) {
	_, err := Get([]string{"ssim"})
	assert.ErrorIs(t, err, config.ErrConfiguration)
}

func TestMAE(t *testing.T) {
	real := mustTensor(t, []int{4}, []float32{1, 2, 3, 4})
	fake := mustTensor(t, []int{4}, []float32{2, 2, 1, 4})
	v, err := (&MAE{}).Compute(real, fake)
	require.NoError(t, err)
	assert.InDelta(t, 0.75, v, 1e-6)
}

func TestMSE(t *testing.T) {
	real := mustTensor(t, []int{2}, []float32{1, 3})
	fake := mustTensor(t, []int{2}, []float32{2, 1})
	v, err := (&MSE{}).Compute(real, fake)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, v, 1e-6)
}

func TestPSNRIdenticalBatchesIsInfinite(t *testing.T) {
	real := mustTensor(t, []int{3}, []float32{0.5, 0.25, 1})
	v, err := (&PSNR{}).Compute(real, real)
	require.NoError(t, err)
	assert.True(t, math.IsInf(v, 1))
}

func TestPSNRValue(t *testing.T) {
	real := mustTensor(t, []int{2}, []float32{1, 1})
	fake := mustTensor(t, []int{2}, []float32{0.9, 0.9})
	v, err := (&PSNR{}).Compute(real, fake)
	require.NoError(t, err)
	// mse = 0.01, peak = 1, psnr = 10*log10(1/0.01) = 20.
	assert.InDelta(t, 20.0, v, 1e-4)
}

func TestShapeMismatchFails(t *testing.T) {
	real := mustTensor(t, []int{2}, []float32{1, 1})
	fake := mustTensor(t, []int{3}, []float32{1, 1, 1})
	_, err := (&MSE{}).Compute(real, fake)
	assert.Error(t, err)
}

func TestComputeAll(t *testing.T) {
	calc, err := Get([]string{"mae", "mse"})
	require.NoError(t, err)
	real := mustTensor(t, []int{2}, []float32{1, 3})
	fake := mustTensor(t, []int{2}, []float32{2, 1})
	results, err := calc.ComputeAll(real, fake)
	require.NoError(t, err)
	assert.InDelta(t, 1.5, results["mae"], 1e-6)
	assert.InDelta(t, 2.5, results["mse"], 1e-6)
}
