package synthesis

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-synth/tensor"
)

// Linear is a fully connected layer with Xavier-initialized weights.
type Linear struct {
	Name string
	W    *tensor.Tensor // [in, out]
	B    *tensor.Tensor // [out]
}

// NewLinear creates a named fully connected layer. Initialization
// draws from the provided generator so builds are reproducible.
func NewLinear(name string, in, out int, rng *rand.Rand) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("layer %s needs positive dimensions, got %dx%d", name, in, out)
	}
	limit := float32(math.Sqrt(6.0 / float64(in+out)))
	wData := make([]float32, in*out)
	for i := range wData {
		wData[i] = (rng.Float32()*2 - 1) * limit
	}
	w, err := tensor.NewTensor([]int{in, out}, wData)
	if err != nil {
		return nil, err
	}
	b, err := tensor.Zeros([]int{out})
	if err != nil {
		return nil, err
	}
	w.SetRequiresGrad(true)
	b.SetRequiresGrad(true)
	return &Linear{Name: name, W: w, B: b}, nil
}

// Forward computes x*W + b for a [N, in] batch.
func (l *Linear) Forward(x *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := tensor.MatMul(x, l.W)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", l.Name, err)
	}
	out, err := tensor.Add(h, l.B)
	if err != nil {
		return nil, fmt.Errorf("layer %s: %w", l.Name, err)
	}
	return out, nil
}

// Params returns the layer's trainable tensors.
func (l *Linear) Params() []*tensor.Tensor {
	return []*tensor.Tensor{l.W, l.B}
}

const leakySlope = 0.2

func lrelu(x *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.LeakyReLU(x, leakySlope)
}

func flatten(img *tensor.Tensor) (*tensor.Tensor, error) {
	if len(img.Shape) < 2 {
		return nil, fmt.Errorf("flatten requires a batched tensor, got %v", img.Shape)
	}
	return tensor.Reshape(img, []int{img.Shape[0], img.NumElems / img.Shape[0]})
}

func spatialElems(size, nDimensions int) int {
	elems := 1
	for i := 0; i < nDimensions; i++ {
		elems *= size
	}
	return elems
}

// dcganGenerator maps a latent vector (plus an optional one-hot class
// vector) to an image in [-1, 1].
type dcganGenerator struct {
	layers      [3]*Linear
	sampleShape []int // [C, spatial...]
}

func newDCGANGenerator(inputSize, hidden int, sampleShape []int, rng *rand.Rand) (*dcganGenerator, error) {
	outElems := 1
	for _, s := range sampleShape {
		outElems *= s
	}
	l1, err := NewLinear("gen.fc1", inputSize, hidden, rng)
	if err != nil {
		return nil, err
	}
	l2, err := NewLinear("gen.fc2", hidden, hidden, rng)
	if err != nil {
		return nil, err
	}
	l3, err := NewLinear("gen.fc3", hidden, outElems, rng)
	if err != nil {
		return nil, err
	}
	return &dcganGenerator{layers: [3]*Linear{l1, l2, l3}, sampleShape: sampleShape}, nil
}

func (g *dcganGenerator) Forward(z *tensor.Tensor) (*tensor.Tensor, error) {
	h, err := g.layers[0].Forward(z)
	if err != nil {
		return nil, err
	}
	if h, err = lrelu(h); err != nil {
		return nil, err
	}
	if h, err = g.layers[1].Forward(h); err != nil {
		return nil, err
	}
	if h, err = lrelu(h); err != nil {
		return nil, err
	}
	if h, err = g.layers[2].Forward(h); err != nil {
		return nil, err
	}
	if h, err = tensor.Tanh(h); err != nil {
		return nil, err
	}
	return tensor.Reshape(h, append([]int{z.Shape[0]}, g.sampleShape...))
}

func (g *dcganGenerator) Params() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range g.layers {
		params = append(params, l.Params()...)
	}
	return params
}

func (g *dcganGenerator) linears() []*Linear {
	return g.layers[:]
}

// dcganDiscriminator scores a batch of images (plus the optional
// one-hot class vector) as real with a sigmoid output in (0, 1).
type dcganDiscriminator struct {
	layers [3]*Linear
}

func newDCGANDiscriminator(imageElems, labelSize, hidden int, rng *rand.Rand) (*dcganDiscriminator, error) {
	l1, err := NewLinear("disc.fc1", imageElems+labelSize, hidden, rng)
	if err != nil {
		return nil, err
	}
	l2, err := NewLinear("disc.fc2", hidden, hidden, rng)
	if err != nil {
		return nil, err
	}
	l3, err := NewLinear("disc.fc3", hidden, 1, rng)
	if err != nil {
		return nil, err
	}
	return &dcganDiscriminator{layers: [3]*Linear{l1, l2, l3}}, nil
}

func (d *dcganDiscriminator) Forward(img, labels *tensor.Tensor) (*tensor.Tensor, error) {
	x, err := flatten(img)
	if err != nil {
		return nil, err
	}
	if labels != nil {
		if x, err = tensor.ConcatCols(x, labels); err != nil {
			return nil, err
		}
	}
	if x, err = d.layers[0].Forward(x); err != nil {
		return nil, err
	}
	if x, err = lrelu(x); err != nil {
		return nil, err
	}
	if x, err = d.layers[1].Forward(x); err != nil {
		return nil, err
	}
	if x, err = lrelu(x); err != nil {
		return nil, err
	}
	if x, err = d.layers[2].Forward(x); err != nil {
		return nil, err
	}
	return tensor.Sigmoid(x)
}

func (d *dcganDiscriminator) Params() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range d.layers {
		params = append(params, l.Params()...)
	}
	return params
}

func (d *dcganDiscriminator) linears() []*Linear {
	return d.layers[:]
}

// styleGenerator grows output resolution stage by stage. Each stage
// owns a hidden block and a to-image head; during fade-in the previous
// head's upsampled output is blended with the new head's.
type styleGenerator struct {
	base     *Linear
	blocks   []*Linear // blocks[s-1] enters stage s
	toImage  []*Linear // per stage
	channels int
	nDims    int
	start    int
	growth   int
}

func newStyleGenerator(latent, hidden, channels, nDims, startSize, growth, numStages int, rng *rand.Rand) (*styleGenerator, error) {
	base, err := NewLinear("gen.base", latent, hidden, rng)
	if err != nil {
		return nil, err
	}
	g := &styleGenerator{base: base, channels: channels, nDims: nDims, start: startSize, growth: growth}
	for s := 0; s < numStages; s++ {
		if s > 0 {
			block, err := NewLinear(fmt.Sprintf("gen.block%d", s), hidden, hidden, rng)
			if err != nil {
				return nil, err
			}
			g.blocks = append(g.blocks, block)
		}
		res := g.resolution(s)
		head, err := NewLinear(fmt.Sprintf("gen.to_image%d", s), hidden, channels*spatialElems(res, nDims), rng)
		if err != nil {
			return nil, err
		}
		g.toImage = append(g.toImage, head)
	}
	return g, nil
}

func (g *styleGenerator) resolution(stage int) int {
	res := g.start
	for s := 0; s < stage; s++ {
		res *= g.growth
	}
	return res
}

func (g *styleGenerator) imageShape(n, stage int) []int {
	shape := []int{n, g.channels}
	res := g.resolution(stage)
	for i := 0; i < g.nDims; i++ {
		shape = append(shape, res)
	}
	return shape
}

// Forward synthesizes a batch at the given stage. While alpha < 1 the
// previous stage's image is upsampled and blended in.
func (g *styleGenerator) Forward(z *tensor.Tensor, stage int, alpha float64) (*tensor.Tensor, error) {
	if stage < 0 || stage >= len(g.toImage) {
		return nil, fmt.Errorf("stage %d out of range [0, %d)", stage, len(g.toImage))
	}
	h, err := g.base.Forward(z)
	if err != nil {
		return nil, err
	}
	if h, err = lrelu(h); err != nil {
		return nil, err
	}
	prev := h
	for s := 0; s < stage; s++ {
		prev = h
		if h, err = g.blocks[s].Forward(h); err != nil {
			return nil, err
		}
		if h, err = lrelu(h); err != nil {
			return nil, err
		}
	}
	img, err := g.toImageAt(h, z.Shape[0], stage)
	if err != nil {
		return nil, err
	}
	if stage == 0 || alpha >= 1 {
		return img, nil
	}

	prevImg, err := g.toImageAt(prev, z.Shape[0], stage-1)
	if err != nil {
		return nil, err
	}
	up, err := tensor.NearestUpsample(prevImg, g.growth)
	if err != nil {
		return nil, err
	}
	return blend(img, up, alpha)
}

func (g *styleGenerator) toImageAt(h *tensor.Tensor, n, stage int) (*tensor.Tensor, error) {
	out, err := g.toImage[stage].Forward(h)
	if err != nil {
		return nil, err
	}
	if out, err = tensor.Tanh(out); err != nil {
		return nil, err
	}
	return tensor.Reshape(out, g.imageShape(n, stage))
}

func (g *styleGenerator) Params() []*tensor.Tensor {
	params := g.base.Params()
	for _, l := range g.blocks {
		params = append(params, l.Params()...)
	}
	for _, l := range g.toImage {
		params = append(params, l.Params()...)
	}
	return params
}

func (g *styleGenerator) linears() []*Linear {
	all := []*Linear{g.base}
	all = append(all, g.blocks...)
	all = append(all, g.toImage...)
	return all
}

// styleCritic scores images with an unbounded output, mirroring the
// generator's stage structure with per-stage from-image heads.
type styleCritic struct {
	fromImage []*Linear // per stage
	blocks    []*Linear // blocks[s-1] descends from stage s
	out       *Linear
	channels  int
	nDims     int
	start     int
	growth    int
}

func newStyleCritic(hidden, channels, nDims, startSize, growth, numStages int, rng *rand.Rand) (*styleCritic, error) {
	c := &styleCritic{channels: channels, nDims: nDims, start: startSize, growth: growth}
	res := startSize
	for s := 0; s < numStages; s++ {
		head, err := NewLinear(fmt.Sprintf("disc.from_image%d", s), channels*spatialElems(res, nDims), hidden, rng)
		if err != nil {
			return nil, err
		}
		c.fromImage = append(c.fromImage, head)
		if s > 0 {
			block, err := NewLinear(fmt.Sprintf("disc.block%d", s), hidden, hidden, rng)
			if err != nil {
				return nil, err
			}
			c.blocks = append(c.blocks, block)
		}
		res *= growth
	}
	out, err := NewLinear("disc.out", hidden, 1, rng)
	if err != nil {
		return nil, err
	}
	c.out = out
	return c, nil
}

// Forward scores a batch rendered at the given stage. While alpha < 1
// the downsampled image is scored through the previous head and
// blended in.
func (c *styleCritic) Forward(img *tensor.Tensor, stage int, alpha float64) (*tensor.Tensor, error) {
	if stage < 0 || stage >= len(c.fromImage) {
		return nil, fmt.Errorf("stage %d out of range [0, %d)", stage, len(c.fromImage))
	}
	flat, err := flatten(img)
	if err != nil {
		return nil, err
	}
	x, err := c.fromImage[stage].Forward(flat)
	if err != nil {
		return nil, err
	}
	if x, err = lrelu(x); err != nil {
		return nil, err
	}
	if stage > 0 {
		if x, err = c.blocks[stage-1].Forward(x); err != nil {
			return nil, err
		}
		if x, err = lrelu(x); err != nil {
			return nil, err
		}
		if alpha < 1 {
			down, err := tensor.AvgPool(img, c.growth)
			if err != nil {
				return nil, err
			}
			downFlat, err := flatten(down)
			if err != nil {
				return nil, err
			}
			skip, err := c.fromImage[stage-1].Forward(downFlat)
			if err != nil {
				return nil, err
			}
			if skip, err = lrelu(skip); err != nil {
				return nil, err
			}
			if x, err = blend(x, skip, alpha); err != nil {
				return nil, err
			}
		}
		for s := stage - 2; s >= 0; s-- {
			if x, err = c.blocks[s].Forward(x); err != nil {
				return nil, err
			}
			if x, err = lrelu(x); err != nil {
				return nil, err
			}
		}
	}
	return c.out.Forward(x)
}

func (c *styleCritic) Params() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, l := range c.fromImage {
		params = append(params, l.Params()...)
	}
	for _, l := range c.blocks {
		params = append(params, l.Params()...)
	}
	return append(params, c.out.Params()...)
}

func (c *styleCritic) linears() []*Linear {
	all := append([]*Linear(nil), c.fromImage...)
	all = append(all, c.blocks...)
	return append(all, c.out)
}

// blend computes alpha*a + (1-alpha)*b.
func blend(a, b *tensor.Tensor, alpha float64) (*tensor.Tensor, error) {
	sa, err := tensor.Scale(a, float32(alpha))
	if err != nil {
		return nil, err
	}
	sb, err := tensor.Scale(b, float32(1-alpha))
	if err != nil {
		return nil, err
	}
	return tensor.Add(sa, sb)
}
