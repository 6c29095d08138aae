package tensor

import (
	"fmt"
)

// Tensor is a CPU-resident float32 tensor with row-major strides.
// Tensors participate in a dynamically built computation graph: every
// operation that receives at least one gradient-requiring input records
// its creator so that Backward can replay the chain rule.
type Tensor struct {
	Shape    []int
	Strides  []int
	Data     []float32
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      operation
}

// operation is one node of the computation graph. Backward returns the
// gradients with respect to each input, in input order. Implementations
// build their results out of the exported tensor operations so that a
// gradient can itself be differentiated (needed for gradient penalties).
type operation interface {
	inputs() []*Tensor
	backward(gradOut *Tensor) ([]*Tensor, error)
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, elements=%d, requiresGrad=%v)",
		t.Shape, t.NumElems, t.requiresGrad)
}

// RequiresGrad reports whether gradients are tracked for this tensor.
func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

// SetRequiresGrad marks the tensor as a differentiation leaf.
func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if Backward has not
// reached this tensor yet.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// ZeroGrad clears the accumulated gradient.
func (t *Tensor) ZeroGrad() {
	t.grad = nil
}

// Detach returns a tensor sharing this tensor's data but disconnected
// from the computation graph. Used to score fake images without
// propagating discriminator gradients into the generator.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    append([]int(nil), t.Shape...),
		Strides:  append([]int(nil), t.Strides...),
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}

// Clone returns a deep copy with no graph history.
func (t *Tensor) Clone() *Tensor {
	data := make([]float32, len(t.Data))
	copy(data, t.Data)
	out, _ := NewTensor(append([]int(nil), t.Shape...), data)
	return out
}

// Item returns the single element of a scalar-like tensor.
func (t *Tensor) Item() (float32, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("Item requires a single-element tensor, got shape %v", t.Shape)
	}
	return t.Data[0], nil
}

// ShapeEquals reports whether the tensor has exactly the given shape.
func (t *Tensor) ShapeEquals(shape []int) bool {
	if len(t.Shape) != len(shape) {
		return false
	}
	for i, d := range t.Shape {
		if d != shape[i] {
			return false
		}
	}
	return true
}

func calculateStrides(shape []int) []int {
	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func numElements(shape []int) (int, error) {
	n := 1
	for _, dim := range shape {
		if dim <= 0 {
			return 0, fmt.Errorf("invalid dimension %d in shape %v", dim, shape)
		}
		n *= dim
	}
	return n, nil
}

// NewTensor creates a tensor with the given shape wrapping data. The
// data slice is owned by the tensor afterwards.
func NewTensor(shape []int, data []float32) (*Tensor, error) {
	if len(shape) == 0 {
		return nil, fmt.Errorf("shape must not be empty")
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if len(data) != n {
		return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(data), shape, n)
	}
	return &Tensor{
		Shape:    append([]int(nil), shape...),
		Strides:  calculateStrides(shape),
		Data:     data,
		NumElems: n,
	}, nil
}

// newResult wires a freshly computed tensor into the graph when any of
// the operation's inputs require gradients.
func newResult(shape []int, data []float32, op operation) (*Tensor, error) {
	out, err := NewTensor(shape, data)
	if err != nil {
		return nil, err
	}
	for _, in := range op.inputs() {
		if in.requiresGrad {
			out.requiresGrad = true
			out.creator = op
			break
		}
	}
	return out, nil
}
