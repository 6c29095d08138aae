package tensor

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTensorValidation(t *testing.T) {
	_, err := NewTensor([]int{2, 3}, make([]float32, 5))
	assert.Error(t, err, "mismatched data length should be rejected")

	_, err = NewTensor([]int{2, 0}, nil)
	assert.Error(t, err, "zero dimension should be rejected")

	tt, err := NewTensor([]int{2, 3}, make([]float32, 6))
	require.NoError(t, err)
	assert.Equal(t, 6, tt.NumElems)
	assert.Equal(t, []int{3, 1}, tt.Strides)
}

func TestMatMul(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3, 2}, []float32{7, 8, 9, 10, 11, 12})
	out, err := MatMul(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, out.Shape)
	assert.Equal(t, []float32{58, 64, 139, 154}, out.Data)
}

func TestMatMulBackward(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, []float32{5, 6, 7, 8})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	out, err := MatMul(a, b)
	require.NoError(t, err)
	loss, err := Sum(out)
	require.NoError(t, err)
	require.NoError(t, Backward(loss))

	// d(sum(AB))/dA = ones @ B^T, rows are column sums of B.
	assert.Equal(t, []float32{11, 15, 11, 15}, a.Grad().Data)
	// d(sum(AB))/dB = A^T @ ones, rows are column sums of A.
	assert.Equal(t, []float32{4, 4, 6, 6}, b.Grad().Data)
}

func TestBroadcastBiasAdd(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{3}, []float32{10, 20, 30})
	bias.SetRequiresGrad(true)

	out, err := Add(x, bias)
	require.NoError(t, err)
	assert.Equal(t, []float32{11, 22, 33, 14, 25, 36}, out.Data)

	loss, err := Sum(out)
	require.NoError(t, err)
	require.NoError(t, Backward(loss))
	assert.Equal(t, []float32{2, 2, 2}, bias.Grad().Data, "bias gradient folds over the batch")
}

func TestMeanBackward(t *testing.T) {
	x, _ := NewTensor([]int{4}, []float32{1, 2, 3, 4})
	x.SetRequiresGrad(true)
	m, err := Mean(x)
	require.NoError(t, err)
	assert.InDelta(t, 2.5, float64(m.Data[0]), 1e-6)
	require.NoError(t, Backward(m))
	for _, g := range x.Grad().Data {
		assert.InDelta(t, 0.25, float64(g), 1e-6)
	}
}

func TestGradAccumulatesAcrossBackwardCalls(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)

	for i := 0; i < 2; i++ {
		y, err := Mul(x, x)
		require.NoError(t, err)
		loss, err := Sum(y)
		require.NoError(t, err)
		require.NoError(t, Backward(loss))
	}
	// d(x^2)/dx = 2x, accumulated twice without an intervening ZeroGrad.
	assert.Equal(t, []float32{4, 8}, x.Grad().Data)

	x.ZeroGrad()
	assert.Nil(t, x.Grad())
}

func TestDetachBlocksGradient(t *testing.T) {
	x, _ := NewTensor([]int{2}, []float32{3, 4})
	x.SetRequiresGrad(true)
	y, err := Mul(x, x)
	require.NoError(t, err)

	detached := y.Detach()
	assert.False(t, detached.RequiresGrad())
	assert.Equal(t, y.Data, detached.Data, "detach shares data")

	z, err := Scale(detached, 2)
	require.NoError(t, err)
	assert.False(t, z.RequiresGrad(), "no graph grows past a detached tensor")
}

func TestSecondOrderGradient(t *testing.T) {
	// f(x) = sum(x^2); g = df/dx = 2x; penalty = mean(g^2) = mean(4 x^2).
	// d(penalty)/dx = 8x / n.
	x, _ := NewTensor([]int{2}, []float32{1, 2})
	x.SetRequiresGrad(true)

	y, err := Mul(x, x)
	require.NoError(t, err)
	f, err := Sum(y)
	require.NoError(t, err)

	g, err := Grad(f, x)
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 4}, g.Data)
	assert.Nil(t, x.Grad(), "Grad must not touch accumulators")

	gSquared, err := Mul(g, g)
	require.NoError(t, err)
	penalty, err := Mean(gSquared)
	require.NoError(t, err)
	require.NoError(t, Backward(penalty))

	assert.InDelta(t, 4.0, float64(x.Grad().Data[0]), 1e-5)
	assert.InDelta(t, 8.0, float64(x.Grad().Data[1]), 1e-5)
}

func TestActivations(t *testing.T) {
	x, _ := NewTensor([]int{3}, []float32{-2, 0, 2})

	lr, err := LeakyReLU(x, 0.1)
	require.NoError(t, err)
	assert.InDelta(t, -0.2, float64(lr.Data[0]), 1e-6)
	assert.InDelta(t, 2.0, float64(lr.Data[2]), 1e-6)

	th, err := Tanh(x)
	require.NoError(t, err)
	assert.InDelta(t, math.Tanh(-2), float64(th.Data[0]), 1e-6)

	sg, err := Sigmoid(x)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, float64(sg.Data[1]), 1e-6)
}

func TestClamp(t *testing.T) {
	x, _ := NewTensor([]int{4}, []float32{-1, 0.3, 0.7, 2})
	x.SetRequiresGrad(true)
	c, err := Clamp(x, 0, 1)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0.3, 0.7, 1}, c.Data)

	loss, err := Sum(c)
	require.NoError(t, err)
	require.NoError(t, Backward(loss))
	assert.Equal(t, []float32{0, 1, 1, 0}, x.Grad().Data, "clamped elements carry no gradient")
}

func TestRandnUsesProvidedGenerator(t *testing.T) {
	a, err := Randn([]int{2, 3}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	b, err := Randn([]int{2, 3}, rand.New(rand.NewSource(7)))
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data, "same seed must reproduce the same latents")

	c, err := Randn([]int{2, 3}, rand.New(rand.NewSource(8)))
	require.NoError(t, err)
	assert.NotEqual(t, a.Data, c.Data)
}

func TestConcatAndSliceCols(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 1}, []float32{9, 10})
	a.SetRequiresGrad(true)

	joined, err := ConcatCols(a, b)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, joined.Shape)
	assert.Equal(t, []float32{1, 2, 9, 3, 4, 10}, joined.Data)

	back, err := SliceCols(joined, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, a.Data, back.Data)

	loss, err := Sum(joined)
	require.NoError(t, err)
	require.NoError(t, Backward(loss))
	assert.Equal(t, []float32{1, 1, 1, 1}, a.Grad().Data)
}

func TestNearestUpsampleAndAvgPool(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 2, 2}, []float32{1, 2, 3, 4})

	up, err := NearestUpsample(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 4, 4}, up.Shape)
	assert.Equal(t, float32(1), up.Data[0])
	assert.Equal(t, float32(1), up.Data[5])
	assert.Equal(t, float32(4), up.Data[15])

	down, err := AvgPool(up, 2)
	require.NoError(t, err)
	assert.Equal(t, x.Data, down.Data, "pooling inverts nearest upsampling")
}

func TestAvgPool3D(t *testing.T) {
	data := make([]float32, 8)
	for i := range data {
		data[i] = float32(i)
	}
	x, _ := NewTensor([]int{1, 1, 2, 2, 2}, data)
	down, err := AvgPool(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1, 1, 1}, down.Shape)
	assert.InDelta(t, 3.5, float64(down.Data[0]), 1e-6)
}

func TestAvgPoolRejectsIndivisibleExtent(t *testing.T) {
	x, _ := NewTensor([]int{1, 1, 3, 3}, make([]float32, 9))
	_, err := AvgPool(x, 2)
	assert.Error(t, err)
}
