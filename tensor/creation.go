package tensor

import (
	"fmt"
	"math/rand"
)

// Zeros creates a zero-filled tensor.
func Zeros(shape []int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	return NewTensor(shape, make([]float32, n))
}

// Ones creates a tensor filled with 1.
func Ones(shape []int) (*Tensor, error) {
	return Full(shape, 1.0)
}

// Full creates a tensor filled with value.
func Full(shape []int, value float32) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = value
	}
	return NewTensor(shape, data)
}

// FromScalar creates a single-element tensor.
func FromScalar(value float32) *Tensor {
	t, _ := NewTensor([]int{1}, []float32{value})
	return t
}

// Randn creates a tensor of standard-normal samples drawn from rng.
// The generator is always passed explicitly: latent sampling must never
// touch a hidden global stream, otherwise fixed-seed preview generation
// would perturb training randomness.
func Randn(shape []int, rng *rand.Rand) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(rng.NormFloat64())
	}
	return NewTensor(shape, data)
}

// RandUniform creates a tensor of uniform samples in [0, 1) drawn from rng.
func RandUniform(shape []int, rng *rand.Rand) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = rng.Float32()
	}
	return NewTensor(shape, data)
}

// OneHot creates a [batch, numClasses] tensor with a single 1 per row.
func OneHot(classes []int, numClasses int) (*Tensor, error) {
	if numClasses <= 0 {
		return nil, fmt.Errorf("numClasses must be positive, got %d", numClasses)
	}
	data := make([]float32, len(classes)*numClasses)
	for i, c := range classes {
		if c < 0 || c >= numClasses {
			return nil, fmt.Errorf("class %d out of range [0, %d)", c, numClasses)
		}
		data[i*numClasses+c] = 1.0
	}
	return NewTensor([]int{len(classes), numClasses}, data)
}

// OnesLike creates a graph-free tensor of ones with t's shape.
func OnesLike(t *Tensor) *Tensor {
	out, _ := Ones(append([]int(nil), t.Shape...))
	return out
}

// ZerosLike creates a graph-free tensor of zeros with t's shape.
func ZerosLike(t *Tensor) *Tensor {
	out, _ := Zeros(append([]int(nil), t.Shape...))
	return out
}
