// Package losses resolves configured loss names into differentiable
// loss functions operating on graph tensors.
package losses

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

// Loss computes a scalar loss tensor attached to the computation graph.
// Critic-style losses ignore the target argument and may receive nil.
type Loss interface {
	Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error)
	Name() string
}

// Get resolves a loss spec by name. Unknown names fail with a
// ConfigurationError.
func Get(spec config.LossSpec) (Loss, error) {
	switch strings.ToLower(spec.Name) {
	case "bce":
		eps := spec.Epsilon
		if eps == 0 {
			eps = 1e-7
		}
		return &BCELoss{epsilon: float32(eps)}, nil
	case "mse":
		return &MSELoss{}, nil
	case "wasserstein":
		return &WassersteinLoss{}, nil
	default:
		return nil, config.ConfigurationError("unknown loss %q", spec.Name)
	}
}

// BCELoss is binary cross entropy over probabilities in (0, 1).
// Predictions are clamped away from the boundaries before the log.
type BCELoss struct {
	epsilon float32
}

func (l *BCELoss) Name() string { return "bce" }

// Forward computes -mean(t*log(p) + (1-t)*log(1-p)).
func (l *BCELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if target == nil {
		return nil, fmt.Errorf("bce loss requires a target tensor")
	}
	p, err := tensor.Clamp(predicted, l.epsilon, 1-l.epsilon)
	if err != nil {
		return nil, fmt.Errorf("bce clamp failed: %w", err)
	}
	logP, err := tensor.Log(p)
	if err != nil {
		return nil, err
	}
	posTerm, err := tensor.Mul(target, logP)
	if err != nil {
		return nil, err
	}
	oneMinusP, err := tensor.Sub(tensor.OnesLike(p), p)
	if err != nil {
		return nil, err
	}
	logOneMinusP, err := tensor.Log(oneMinusP)
	if err != nil {
		return nil, err
	}
	oneMinusT, err := tensor.Sub(tensor.OnesLike(target), target)
	if err != nil {
		return nil, err
	}
	negTerm, err := tensor.Mul(oneMinusT, logOneMinusP)
	if err != nil {
		return nil, err
	}
	combined, err := tensor.Add(posTerm, negTerm)
	if err != nil {
		return nil, err
	}
	mean, err := tensor.Mean(combined)
	if err != nil {
		return nil, err
	}
	return tensor.Scale(mean, -1)
}

// MSELoss is mean squared error.
type MSELoss struct{}

func (l *MSELoss) Name() string { return "mse" }

// Forward computes mean((p - t)^2).
func (l *MSELoss) Forward(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if target == nil {
		return nil, fmt.Errorf("mse loss requires a target tensor")
	}
	diff, err := tensor.Sub(predicted, target)
	if err != nil {
		return nil, fmt.Errorf("mse subtraction failed: %w", err)
	}
	squared, err := tensor.Mul(diff, diff)
	if err != nil {
		return nil, err
	}
	return tensor.Mean(squared)
}

// WassersteinLoss is the critic-score term used by the progressive GAN:
// the mean critic output. The caller composes the signs (critic gap,
// negated generator score); target is ignored.
type WassersteinLoss struct{}

func (l *WassersteinLoss) Name() string { return "wasserstein" }

// Forward computes mean(predicted).
func (l *WassersteinLoss) Forward(predicted, _ *tensor.Tensor) (*tensor.Tensor, error) {
	return tensor.Mean(predicted)
}
