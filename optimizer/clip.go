package optimizer

import (
	"fmt"

	"gonum.org/v1/gonum/floats"

	"github.com/tsawler/go-synth/tensor"
)

// Gradient clipping algorithms, matching the trainer configuration
// values "norm" and "value".
const (
	ClipByNorm  = "norm"
	ClipByValue = "value"
)

// ClipGradients limits the accumulated gradients of params in place.
// A clipVal of 0 disables clipping. For "norm" the global L2 norm over
// all gradients is rescaled to clipVal when it exceeds it; for "value"
// every gradient element is limited to [-clipVal, clipVal].
func ClipGradients(params []*tensor.Tensor, clipVal float64, algorithm string) error {
	if clipVal == 0 {
		return nil
	}
	if clipVal < 0 {
		return fmt.Errorf("clip value must not be negative, got %v", clipVal)
	}
	switch algorithm {
	case ClipByNorm:
		return clipByGlobalNorm(params, clipVal)
	case ClipByValue:
		clipByValue(params, float32(clipVal))
		return nil
	default:
		return fmt.Errorf("unknown gradient clip algorithm %q", algorithm)
	}
}

func clipByGlobalNorm(params []*tensor.Tensor, maxNorm float64) error {
	var flat []float64
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		for _, g := range grad.Data {
			flat = append(flat, float64(g))
		}
	}
	if len(flat) == 0 {
		return nil
	}
	norm := floats.Norm(flat, 2)
	if norm <= maxNorm {
		return nil
	}
	scale := float32(maxNorm / norm)
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		for i := range grad.Data {
			grad.Data[i] *= scale
		}
	}
	return nil
}

func clipByValue(params []*tensor.Tensor, limit float32) {
	for _, p := range params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		for i, g := range grad.Data {
			if g > limit {
				grad.Data[i] = limit
			} else if g < -limit {
				grad.Data[i] = -limit
			}
		}
	}
}
