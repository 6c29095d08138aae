package optimizer

import (
	"fmt"

	"github.com/tsawler/go-synth/tensor"
)

// SGD implements stochastic gradient descent with optional momentum.
type SGD struct {
	params []*tensor.Tensor

	lr       float64
	momentum float64

	velocity [][]float32
	steps    uint64
}

// NewSGD creates an SGD optimizer. A zero learning rate takes the
// conventional default of 1e-2; momentum 0 means plain SGD.
func NewSGD(params []*tensor.Tensor, lr, momentum float64) (*SGD, error) {
	if lr == 0 {
		lr = 1e-2
	}
	if lr < 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if momentum < 0 || momentum >= 1 {
		return nil, fmt.Errorf("momentum must lie in [0, 1), got %v", momentum)
	}
	s := &SGD{
		params:   params,
		lr:       lr,
		momentum: momentum,
		velocity: make([][]float32, len(params)),
	}
	for i, p := range params {
		s.velocity[i] = make([]float32, p.NumElems)
	}
	return s, nil
}

func (s *SGD) Name() string { return "SGD" }

// Step applies one SGD update to every parameter carrying a gradient.
func (s *SGD) Step() error {
	s.steps++
	mu := float32(s.momentum)
	lr := float32(s.lr)
	for i, p := range s.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("gradient size %d does not match parameter size %d", grad.NumElems, p.NumElems)
		}
		vel := s.velocity[i]
		for j, g := range grad.Data {
			if mu > 0 {
				vel[j] = mu*vel[j] + g
				p.Data[j] -= lr * vel[j]
			} else {
				p.Data[j] -= lr * g
			}
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all owned parameters.
func (s *SGD) ZeroGrad() {
	for _, p := range s.params {
		p.ZeroGrad()
	}
}

func (s *SGD) SetLearningRate(lr float64) { s.lr = lr }
func (s *SGD) LearningRate() float64      { return s.lr }
func (s *SGD) StepCount() uint64          { return s.steps }

// State extracts the velocity buffers for checkpointing.
func (s *SGD) State() (*State, error) {
	state := &State{
		Type:      s.Name(),
		StepCount: s.steps,
		Parameters: map[string]float64{
			"lr":       s.lr,
			"momentum": s.momentum,
		},
	}
	state.StateData = snapshotBuffers("velocity", s.params, s.velocity)
	return state, nil
}

// LoadState restores the velocity buffers from a checkpoint.
func (s *SGD) LoadState(state *State) error {
	if err := validateStateType(s.Name(), state); err != nil {
		return err
	}
	if lr, ok := state.Parameters["lr"]; ok {
		s.lr = lr
	}
	s.steps = state.StepCount
	return restoreBuffers("velocity", state, s.velocity)
}
