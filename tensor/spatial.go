package tensor

import (
	"fmt"
)

// Spatial operations treat shape [N, C, s1, ..., sk], covering both 2D
// (k=2) and 3D (k=3) imaging. They exist for progressive growing: a new
// resolution stage is blended against the upsampled previous stage, and
// the critic folds higher resolutions back down before scoring.

type concatColsOp struct {
	a, b *Tensor
}

func (op *concatColsOp) inputs() []*Tensor { return []*Tensor{op.a, op.b} }

func (op *concatColsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	ga, err := SliceCols(gradOut, 0, op.a.Shape[1])
	if err != nil {
		return nil, err
	}
	gb, err := SliceCols(gradOut, op.a.Shape[1], op.a.Shape[1]+op.b.Shape[1])
	if err != nil {
		return nil, err
	}
	return []*Tensor{ga, gb}, nil
}

// ConcatCols joins two [N, Da] and [N, Db] tensors into [N, Da+Db].
// Used for class conditioning: a one-hot label block appended to the
// latent vector.
func ConcatCols(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("concatCols requires 2D tensors, got %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[0] != b.Shape[0] {
		return nil, fmt.Errorf("concatCols row mismatch: %d vs %d", a.Shape[0], b.Shape[0])
	}
	rows := a.Shape[0]
	ca, cb := a.Shape[1], b.Shape[1]
	data := make([]float32, rows*(ca+cb))
	for i := 0; i < rows; i++ {
		copy(data[i*(ca+cb):], a.Data[i*ca:(i+1)*ca])
		copy(data[i*(ca+cb)+ca:], b.Data[i*cb:(i+1)*cb])
	}
	return newResult([]int{rows, ca + cb}, data, &concatColsOp{a: a, b: b})
}

type sliceColsOp struct {
	a        *Tensor
	from, to int
}

func (op *sliceColsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *sliceColsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := PadCols(gradOut, op.from, op.a.Shape[1])
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// SliceCols extracts columns [from, to) of a [N, D] tensor.
func SliceCols(a *Tensor, from, to int) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("sliceCols requires a 2D tensor, got %v", a.Shape)
	}
	if from < 0 || to > a.Shape[1] || from >= to {
		return nil, fmt.Errorf("invalid column range [%d, %d) for shape %v", from, to, a.Shape)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	width := to - from
	data := make([]float32, rows*width)
	for i := 0; i < rows; i++ {
		copy(data[i*width:(i+1)*width], a.Data[i*cols+from:i*cols+to])
	}
	return newResult([]int{rows, width}, data, &sliceColsOp{a: a, from: from, to: to})
}

type padColsOp struct {
	a      *Tensor
	offset int
}

func (op *padColsOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *padColsOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	g, err := SliceCols(gradOut, op.offset, op.offset+op.a.Shape[1])
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// PadCols embeds a [N, D] tensor at column offset inside a zero matrix
// of width totalCols.
func PadCols(a *Tensor, offset, totalCols int) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("padCols requires a 2D tensor, got %v", a.Shape)
	}
	if offset < 0 || offset+a.Shape[1] > totalCols {
		return nil, fmt.Errorf("pad range [%d, %d) exceeds width %d", offset, offset+a.Shape[1], totalCols)
	}
	rows, cols := a.Shape[0], a.Shape[1]
	data := make([]float32, rows*totalCols)
	for i := 0; i < rows; i++ {
		copy(data[i*totalCols+offset:], a.Data[i*cols:(i+1)*cols])
	}
	return newResult([]int{rows, totalCols}, data, &padColsOp{a: a, offset: offset})
}

func spatialDims(shape []int) ([]int, error) {
	if len(shape) < 3 {
		return nil, fmt.Errorf("spatial operations require shape [N, C, spatial...], got %v", shape)
	}
	return shape[2:], nil
}

// blockCount returns factor^k for k spatial dimensions.
func blockCount(factor, k int) int {
	n := 1
	for i := 0; i < k; i++ {
		n *= factor
	}
	return n
}

type nearestUpsampleOp struct {
	a      *Tensor
	factor int
}

func (op *nearestUpsampleOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *nearestUpsampleOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	// The adjoint of nearest-neighbour replication is a block sum.
	spatial, err := spatialDims(op.a.Shape)
	if err != nil {
		return nil, err
	}
	pooled, err := AvgPool(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	g, err := Scale(pooled, float32(blockCount(op.factor, len(spatial))))
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// NearestUpsample replicates every spatial cell factor times along each
// spatial dimension.
func NearestUpsample(a *Tensor, factor int) (*Tensor, error) {
	if factor < 1 {
		return nil, fmt.Errorf("upsample factor must be >= 1, got %d", factor)
	}
	spatial, err := spatialDims(a.Shape)
	if err != nil {
		return nil, err
	}
	outShape := append([]int{a.Shape[0], a.Shape[1]}, make([]int, len(spatial))...)
	for i, s := range spatial {
		outShape[2+i] = s * factor
	}
	n, _ := numElements(outShape)
	outStrides := calculateStrides(outShape)
	data := make([]float32, n)
	coords := make([]int, len(outShape))
	for flat := 0; flat < n; flat++ {
		rem := flat
		for d, stride := range outStrides {
			coords[d] = rem / stride
			rem %= stride
		}
		src := coords[0]*a.Strides[0] + coords[1]*a.Strides[1]
		for d := 0; d < len(spatial); d++ {
			src += (coords[2+d] / factor) * a.Strides[2+d]
		}
		data[flat] = a.Data[src]
	}
	return newResult(outShape, data, &nearestUpsampleOp{a: a, factor: factor})
}

type avgPoolOp struct {
	a      *Tensor
	factor int
}

func (op *avgPoolOp) inputs() []*Tensor { return []*Tensor{op.a} }

func (op *avgPoolOp) backward(gradOut *Tensor) ([]*Tensor, error) {
	spatial, err := spatialDims(op.a.Shape)
	if err != nil {
		return nil, err
	}
	up, err := NearestUpsample(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	g, err := Scale(up, 1.0/float32(blockCount(op.factor, len(spatial))))
	if err != nil {
		return nil, err
	}
	return []*Tensor{g}, nil
}

// AvgPool averages non-overlapping factor-sized blocks along every
// spatial dimension. Spatial extents must be divisible by factor.
func AvgPool(a *Tensor, factor int) (*Tensor, error) {
	if factor < 1 {
		return nil, fmt.Errorf("pool factor must be >= 1, got %d", factor)
	}
	spatial, err := spatialDims(a.Shape)
	if err != nil {
		return nil, err
	}
	outShape := append([]int{a.Shape[0], a.Shape[1]}, make([]int, len(spatial))...)
	for i, s := range spatial {
		if s%factor != 0 {
			return nil, fmt.Errorf("spatial extent %d not divisible by pool factor %d", s, factor)
		}
		outShape[2+i] = s / factor
	}
	n, _ := numElements(outShape)
	outStrides := calculateStrides(outShape)
	data := make([]float32, n)
	coords := make([]int, len(a.Shape))
	for flat := 0; flat < a.NumElems; flat++ {
		rem := flat
		for d, stride := range a.Strides {
			coords[d] = rem / stride
			rem %= stride
		}
		dst := coords[0]*outStrides[0] + coords[1]*outStrides[1]
		for d := 0; d < len(spatial); d++ {
			dst += (coords[2+d] / factor) * outStrides[2+d]
		}
		data[dst] += a.Data[flat]
	}
	scale := 1.0 / float32(blockCount(factor, len(spatial)))
	for i := range data {
		data[i] *= scale
	}
	return newResult(outShape, data, &avgPoolOp{a: a, factor: factor})
}
