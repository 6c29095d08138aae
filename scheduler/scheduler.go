// Package scheduler implements learning-rate scheduling strategies and
// the name resolver that maps scheduler configuration onto them.
package scheduler

import (
	"math"
	"strings"

	"github.com/tsawler/go-synth/config"
)

// LRScheduler defines the interface for learning rate scheduling
// strategies. Schedulers are pure functions of the training position.
type LRScheduler interface {
	// LR returns the learning rate for the current epoch/step.
	LR(epoch int, step int, baseLR float64) float64

	// Name returns the scheduler name for logging.
	Name() string
}

// Get resolves a scheduler spec by name. Unknown names fail with a
// ConfigurationError.
func Get(spec config.SchedulerSpec) (LRScheduler, error) {
	switch strings.ToLower(spec.Name) {
	case "steplr":
		return NewStepLR(spec.StepSize, spec.Gamma), nil
	case "explr", "exponentiallr":
		return NewExponentialLR(spec.Gamma), nil
	case "cosineannealinglr":
		return NewCosineAnnealingLR(spec.TMax, spec.EtaMin), nil
	case "", "constant":
		return &ConstantLR{}, nil
	default:
		return nil, config.ConfigurationError("unknown scheduler %q", spec.Name)
	}
}

// StepLR reduces the learning rate by a factor every StepSize epochs.
type StepLR struct {
	StepSize int
	Gamma    float64
}

// NewStepLR creates a step learning rate scheduler.
func NewStepLR(stepSize int, gamma float64) *StepLR {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLR{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLR) LR(epoch int, step int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLR) Name() string { return "StepLR" }

// ExponentialLR decays the learning rate exponentially per epoch.
type ExponentialLR struct {
	Gamma float64
}

// NewExponentialLR creates an exponential learning rate scheduler.
func NewExponentialLR(gamma float64) *ExponentialLR {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLR{Gamma: gamma}
}

func (s *ExponentialLR) LR(epoch int, step int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLR) Name() string { return "ExponentialLR" }

// CosineAnnealingLR implements a cosine annealing schedule.
type CosineAnnealingLR struct {
	TMax   int
	EtaMin float64
}

// NewCosineAnnealingLR creates a cosine annealing scheduler.
func NewCosineAnnealingLR(tMax int, etaMin float64) *CosineAnnealingLR {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLR{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLR) LR(epoch int, step int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLR) Name() string { return "CosineAnnealingLR" }

// ConstantLR maintains a constant learning rate (default behavior).
type ConstantLR struct{}

func (s *ConstantLR) LR(epoch int, step int, baseLR float64) float64 {
	return baseLR
}

func (s *ConstantLR) Name() string { return "ConstantLR" }
