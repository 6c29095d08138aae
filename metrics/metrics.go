// Package metrics computes similarity metrics between real and
// generated batches, logged alongside the adversarial losses.
package metrics

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

// Metric compares a real batch against a generated batch and returns a
// scalar score. Implementations must not modify their inputs.
type Metric interface {
	Compute(real, fake *tensor.Tensor) (float64, error)
	Name() string
}

// Calculator holds the resolved metric set for a run, keyed by name.
type Calculator map[string]Metric

// Get resolves the configured metric names. Unknown names fail with a
// ConfigurationError. An empty list yields a nil calculator.
func Get(names []string) (Calculator, error) {
	if len(names) == 0 {
		return nil, nil
	}
	calc := make(Calculator, len(names))
	for _, name := range names {
		switch strings.ToLower(name) {
		case "mae":
			calc[name] = &MAE{}
		case "mse":
			calc[name] = &MSE{}
		case "psnr":
			calc[name] = &PSNR{}
		default:
			return nil, config.ConfigurationError("unknown metric %q", name)
		}
	}
	return calc, nil
}

// ComputeAll evaluates every metric in the calculator.
func (c Calculator) ComputeAll(real, fake *tensor.Tensor) (map[string]float64, error) {
	results := make(map[string]float64, len(c))
	for name, m := range c {
		v, err := m.Compute(real, fake)
		if err != nil {
			return nil, fmt.Errorf("metric %s failed: %w", name, err)
		}
		results[name] = v
	}
	return results, nil
}

func checkShapes(real, fake *tensor.Tensor) error {
	if !real.ShapeEquals(fake.Shape) {
		return fmt.Errorf("shape mismatch: real %v vs fake %v", real.Shape, fake.Shape)
	}
	return nil
}

// MAE is the mean absolute error.
type MAE struct{}

func (m *MAE) Name() string { return "mae" }

func (m *MAE) Compute(real, fake *tensor.Tensor) (float64, error) {
	if err := checkShapes(real, fake); err != nil {
		return 0, err
	}
	var sum float64
	for i := range real.Data {
		sum += math.Abs(float64(real.Data[i] - fake.Data[i]))
	}
	return sum / float64(real.NumElems), nil
}

// MSE is the mean squared error.
type MSE struct{}

func (m *MSE) Name() string { return "mse" }

func (m *MSE) Compute(real, fake *tensor.Tensor) (float64, error) {
	if err := checkShapes(real, fake); err != nil {
		return 0, err
	}
	diff := make([]float64, real.NumElems)
	for i := range real.Data {
		diff[i] = float64(real.Data[i] - fake.Data[i])
	}
	return floats.Dot(diff, diff) / float64(real.NumElems), nil
}

// PSNR is the peak signal-to-noise ratio against the real batch's
// dynamic range.
type PSNR struct{}

func (m *PSNR) Name() string { return "psnr" }

func (m *PSNR) Compute(real, fake *tensor.Tensor) (float64, error) {
	mse := &MSE{}
	errVal, err := mse.Compute(real, fake)
	if err != nil {
		return 0, err
	}
	if errVal == 0 {
		return math.Inf(1), nil
	}
	peak := 0.0
	for _, v := range real.Data {
		if a := math.Abs(float64(v)); a > peak {
			peak = a
		}
	}
	if peak == 0 {
		peak = 1
	}
	return 10 * math.Log10(peak*peak/errVal), nil
}
