package tensor

import (
	"fmt"
	"math"
)

// Binary elementwise operations support equal shapes plus two broadcast
// forms that cover every use in the synthesis modules: a [1] scalar on
// either side, and a trailing bias vector [D] added to a matrix [N, D].

type addOp struct{ a, b *Tensor }

func (op *addOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *addOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(gradOut, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// Add computes a + b.
func Add(a, b *Tensor) (*Tensor, error) {
	data, shape, err := broadcastBinary(a, b, func(x, y float32) float32 { return x + y })
	if err != nil {
		return nil, fmt.Errorf("add failed: %w", err)
	}
	return newResult(shape, data, &addOp{a: a, b: b})
}

type subOp struct{ a, b *Tensor }

func (op *subOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *subOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceToShape(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	negated, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(negated, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// Sub computes a - b.
func Sub(a, b *Tensor) (*Tensor, error) {
	data, shape, err := broadcastBinary(a, b, func(x, y float32) float32 { return x - y })
	if err != nil {
		return nil, fmt.Errorf("sub failed: %w", err)
	}
	return newResult(shape, data, &subOp{a: a, b: b})
}

type mulOp struct{ a, b *Tensor }

func (op *mulOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *mulOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	// The live inputs stay in the expressions so a second differentiation
	// of the gradient remains exact.
	ga, err := Mul(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceToShape(ga, op.a.Shape)
	if err != nil {
		return nil, err
	}
	gb, err := Mul(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(gb, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// Mul computes the elementwise product a * b.
func Mul(a, b *Tensor) (*Tensor, error) {
	data, shape, err := broadcastBinary(a, b, func(x, y float32) float32 { return x * y })
	if err != nil {
		return nil, fmt.Errorf("mul failed: %w", err)
	}
	return newResult(shape, data, &mulOp{a: a, b: b})
}

type divOp struct{ a, b *Tensor }

func (op *divOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *divOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := Div(gradOut, op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := reduceToShape(ga, op.a.Shape)
	if err != nil {
		return nil, err
	}
	bSquared, err := Mul(op.b, op.b)
	if err != nil {
		return nil, err
	}
	ratio, err := Div(op.a, bSquared)
	if err != nil {
		return nil, err
	}
	gb, err := Mul(gradOut, ratio)
	if err != nil {
		return nil, err
	}
	gb, err = Scale(gb, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(gb, op.b.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// Div computes the elementwise quotient a / b.
func Div(a, b *Tensor) (*Tensor, error) {
	data, shape, err := broadcastBinary(a, b, func(x, y float32) float32 { return x / y })
	if err != nil {
		return nil, fmt.Errorf("div failed: %w", err)
	}
	return newResult(shape, data, &divOp{a: a, b: b})
}

type scaleOp struct {
	a      *Tensor
	factor float32
}

func (op *scaleOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *scaleOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Scale(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Scale computes a * factor for a scalar constant factor.
func Scale(a *Tensor, factor float32) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = v * factor
	}
	return newResult(a.Shape, data, &scaleOp{a: a, factor: factor})
}

type addScalarOp struct {
	a *Tensor
}

func (op *addScalarOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *addScalarOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	return []*Tensor{gradOut}, nil
}

// AddScalar computes a + value for a scalar constant.
func AddScalar(a *Tensor, value float32) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = v + value
	}
	return newResult(a.Shape, data, &addScalarOp{a: a})
}

type matMulOp struct{ a, b *Tensor }

func (op *matMulOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *matMulOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	bT, err := Transpose(op.b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, err
	}
	aT, err := Transpose(op.a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{gradA, gradB}, nil
}

// MatMul computes the matrix product of two 2D tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", a.Shape, b.Shape)
	}
	data := make([]float32, m*n)
	for i := 0; i < m; i++ {
		rowA := a.Data[i*k : (i+1)*k]
		rowOut := data[i*n : (i+1)*n]
		for p := 0; p < k; p++ {
			av := rowA[p]
			if av == 0 {
				continue
			}
			rowB := b.Data[p*n : (p+1)*n]
			for j := 0; j < n; j++ {
				rowOut[j] += av * rowB[j]
			}
		}
	}
	return newResult([]int{m, n}, data, &matMulOp{a: a, b: b})
}

type transposeOp struct{ a *Tensor }

func (op *transposeOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *transposeOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Transpose(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Transpose swaps the two axes of a 2D tensor.
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float32, a.NumElems)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[j*rows+i] = a.Data[i*cols+j]
		}
	}
	return newResult([]int{cols, rows}, data, &transposeOp{a: a})
}

type reshapeOp struct {
	a        *Tensor
	oldShape []int
}

func (op *reshapeOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *reshapeOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Reshape(gradOut, op.oldShape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Reshape returns a tensor viewing the same elements under a new shape.
func Reshape(a *Tensor, shape []int) (*Tensor, error) {
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n != a.NumElems {
		return nil, fmt.Errorf("cannot reshape %v (%d elements) to %v (%d elements)", a.Shape, a.NumElems, shape, n)
	}
	data := make([]float32, a.NumElems)
	copy(data, a.Data)
	return newResult(shape, data, &reshapeOp{a: a, oldShape: append([]int(nil), a.Shape...)})
}

// Unary math operations. Activations whose derivative is piecewise
// constant (ReLU family, Clamp) capture a mask at forward time; smooth
// activations rebuild their derivative from the live output so that
// second-order gradients remain exact.

type leakyReLUOp struct {
	a     *Tensor
	mask  *Tensor
	slope float32
}

func (op *leakyReLUOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *leakyReLUOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Mul(gradOut, op.mask)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// LeakyReLU computes max(x, slope*x).
func LeakyReLU(a *Tensor, slope float32) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	maskData := make([]float32, a.NumElems)
	for i, v := range a.Data {
		if v > 0 {
			data[i] = v
			maskData[i] = 1
		} else {
			data[i] = slope * v
			maskData[i] = slope
		}
	}
	mask, err := NewTensor(a.Shape, maskData)
	if err != nil {
		return nil, err
	}
	return newResult(a.Shape, data, &leakyReLUOp{a: a, mask: mask, slope: slope})
}

// ReLU computes max(x, 0).
func ReLU(a *Tensor) (*Tensor, error) {
	return LeakyReLU(a, 0)
}

type tanhOp struct {
	a   *Tensor
	out *Tensor
}

func (op *tanhOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *tanhOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	squared, err := Mul(op.out, op.out)
	if err != nil {
		return nil, err
	}
	deriv, err := Sub(OnesLike(op.out), squared)
	if err != nil {
		return nil, err
	}
	g, err := Mul(gradOut, deriv)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Tanh computes the hyperbolic tangent elementwise.
func Tanh(a *Tensor) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(math.Tanh(float64(v)))
	}
	op := &tanhOp{a: a}
	out, err := newResult(a.Shape, data, op)
	if err != nil {
		return nil, err
	}
	op.out = out
	return out, nil
}

type sigmoidOp struct {
	a   *Tensor
	out *Tensor
}

func (op *sigmoidOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sigmoidOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	oneMinus, err := Sub(OnesLike(op.out), op.out)
	if err != nil {
		return nil, err
	}
	deriv, err := Mul(op.out, oneMinus)
	if err != nil {
		return nil, err
	}
	g, err := Mul(gradOut, deriv)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Sigmoid computes 1 / (1 + exp(-x)) elementwise.
func Sigmoid(a *Tensor) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(1.0 / (1.0 + math.Exp(-float64(v))))
	}
	op := &sigmoidOp{a: a}
	out, err := newResult(a.Shape, data, op)
	if err != nil {
		return nil, err
	}
	op.out = out
	return out, nil
}

type sqrtOp struct {
	a   *Tensor
	out *Tensor
}

func (op *sqrtOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sqrtOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	half, err := Scale(gradOut, 0.5)
	if err != nil {
		return nil, err
	}
	g, err := Div(half, op.out)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Sqrt computes the elementwise square root.
func Sqrt(a *Tensor) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(math.Sqrt(float64(v)))
	}
	op := &sqrtOp{a: a}
	out, err := newResult(a.Shape, data, op)
	if err != nil {
		return nil, err
	}
	op.out = out
	return out, nil
}

type logOp struct{ a *Tensor }

func (op *logOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *logOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Div(gradOut, op.a)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Log computes the natural logarithm elementwise.
func Log(a *Tensor) (*Tensor, error) {
	data := make([]float32, a.NumElems)
	for i, v := range a.Data {
		data[i] = float32(math.Log(float64(v)))
	}
	return newResult(a.Shape, data, &logOp{a: a})
}

type clampOp struct {
	a    *Tensor
	mask *Tensor
}

func (op *clampOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *clampOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Mul(gradOut, op.mask)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Clamp limits every element to [lo, hi].
func Clamp(a *Tensor, lo, hi float32) (*Tensor, error) {
	if lo > hi {
		return nil, fmt.Errorf("clamp bounds inverted: [%v, %v]", lo, hi)
	}
	data := make([]float32, a.NumElems)
	maskData := make([]float32, a.NumElems)
	for i, v := range a.Data {
		switch {
		case v < lo:
			data[i] = lo
		case v > hi:
			data[i] = hi
		default:
			data[i] = v
			maskData[i] = 1
		}
	}
	mask, err := NewTensor(a.Shape, maskData)
	if err != nil {
		return nil, err
	}
	return newResult(a.Shape, data, &clampOp{a: a, mask: mask})
}

// Reductions and their broadcast inverses. Each pair is the other's
// backward, so gradients of gradients stay inside the graph.

type meanOp struct {
	a *Tensor
}

func (op *meanOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *meanOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	scaled, err := Scale(gradOut, 1.0/float32(op.a.NumElems))
	if err != nil {
		return nil, err
	}
	g, err := Expand(scaled, op.a.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Mean reduces all elements to their average, shape [1].
func Mean(a *Tensor) (*Tensor, error) {
	var sum float32
	for _, v := range a.Data {
		sum += v
	}
	return newResult([]int{1}, []float32{sum / float32(a.NumElems)}, &meanOp{a: a})
}

type sumOp struct {
	a *Tensor
}

func (op *sumOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sumOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Expand(gradOut, op.a.Shape)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Sum reduces all elements to their total, shape [1].
func Sum(a *Tensor) (*Tensor, error) {
	var sum float32
	for _, v := range a.Data {
		sum += v
	}
	return newResult([]int{1}, []float32{sum}, &sumOp{a: a})
}

type expandOp struct {
	a *Tensor
}

func (op *expandOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *expandOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := Sum(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// Expand broadcasts a single-element tensor to an arbitrary shape.
func Expand(a *Tensor, shape []int) (*Tensor, error) {
	if a.NumElems != 1 {
		return nil, fmt.Errorf("expand requires a single-element tensor, got shape %v", a.Shape)
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = a.Data[0]
	}
	return newResult(shape, data, &expandOp{a: a})
}

type sumRowsOp struct{ a *Tensor }

func (op *sumRowsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sumRowsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := ExpandCols(gradOut, op.a.Shape[1])
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// SumRows reduces a [N, D] tensor to per-row sums of shape [N, 1].
func SumRows(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("sumRows requires a 2D tensor, got %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float32, rows)
	for i := 0; i < rows; i++ {
		var sum float32
		for j := 0; j < cols; j++ {
			sum += a.Data[i*cols+j]
		}
		data[i] = sum
	}
	return newResult([]int{rows, 1}, data, &sumRowsOp{a: a})
}

type expandColsOp struct{ a *Tensor }

func (op *expandColsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *expandColsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := SumRows(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// ExpandCols broadcasts a [N, 1] tensor across cols columns to [N, cols].
func ExpandCols(a *Tensor, cols int) (*Tensor, error) {
	if len(a.Shape) != 2 || a.Shape[1] != 1 {
		return nil, fmt.Errorf("expandCols requires a [N, 1] tensor, got %v", a.Shape)
	}
	rows := a.Shape[0]
	data := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[i*cols+j] = a.Data[i]
		}
	}
	return newResult([]int{rows, cols}, data, &expandColsOp{a: a})
}

type sumColsOp struct{ a *Tensor }

func (op *sumColsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sumColsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := ExpandRows(gradOut, op.a.Shape[0])
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// SumCols reduces a [N, D] tensor to per-column sums of shape [D].
func SumCols(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("sumCols requires a 2D tensor, got %v", a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float32, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			data[j] += a.Data[i*cols+j]
		}
	}
	return newResult([]int{cols}, data, &sumColsOp{a: a})
}

type expandRowsOp struct{ a *Tensor }

func (op *expandRowsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *expandRowsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := SumCols(gradOut)
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// ExpandRows broadcasts a [D] tensor across rows to [rows, D].
func ExpandRows(a *Tensor, rows int) (*Tensor, error) {
	if len(a.Shape) != 1 {
		return nil, fmt.Errorf("expandRows requires a 1D tensor, got %v", a.Shape)
	}
	cols := a.Shape[0]
	data := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		copy(data[i*cols:(i+1)*cols], a.Data)
	}
	return newResult([]int{rows, cols}, data, &expandRowsOp{a: a})
}

// broadcastBinary applies fn under the supported broadcast forms and
// returns the raw result data plus the output shape.
func broadcastBinary(a, b *Tensor, fn func(x, y float32) float32) ([]float32, []int, error) {
	switch {
	case a.ShapeEquals(b.Shape):
		data := make([]float32, a.NumElems)
		for i := range data {
			data[i] = fn(a.Data[i], b.Data[i])
		}
		return data, a.Shape, nil
	case b.NumElems == 1:
		data := make([]float32, a.NumElems)
		for i := range data {
			data[i] = fn(a.Data[i], b.Data[0])
		}
		return data, a.Shape, nil
	case a.NumElems == 1:
		data := make([]float32, b.NumElems)
		for i := range data {
			data[i] = fn(a.Data[0], b.Data[i])
		}
		return data, b.Shape, nil
	case len(a.Shape) == 2 && len(b.Shape) == 1 && a.Shape[1] == b.Shape[0]:
		rows, cols := a.Shape[0], a.Shape[1]
		data := make([]float32, a.NumElems)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				data[i*cols+j] = fn(a.Data[i*cols+j], b.Data[j])
			}
		}
		return data, a.Shape, nil
	default:
		return nil, nil, fmt.Errorf("incompatible shapes %v and %v", a.Shape, b.Shape)
	}
}

// reduceToShape folds a gradient back to the shape of a broadcast input.
func reduceToShape(grad *Tensor, shape []int) (*Tensor, error) {
	if grad.ShapeEquals(shape) {
		return grad, nil
	}
	n, err := numElements(shape)
	if err != nil {
		return nil, err
	}
	if n == 1 {
		summed, err := Sum(grad)
		if err != nil {
			return nil, err
		}
		if len(shape) == 1 {
			return summed, nil
		}
		return Reshape(summed, shape)
	}
	if len(grad.Shape) == 2 && len(shape) == 1 && grad.Shape[1] == shape[0] {
		return SumCols(grad)
	}
	return nil, fmt.Errorf("cannot reduce gradient of shape %v to %v", grad.Shape, shape)
}
