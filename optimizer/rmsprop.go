package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-synth/tensor"
)

// RMSProp implements the RMSProp optimizer.
type RMSProp struct {
	params []*tensor.Tensor

	lr      float64
	alpha   float64
	epsilon float64

	squaredAvg [][]float32
	steps      uint64
}

// NewRMSProp creates an RMSProp optimizer. Zero hyperparameters take
// the conventional defaults (lr 1e-2, alpha 0.99, eps 1e-8).
func NewRMSProp(params []*tensor.Tensor, lr, alpha, epsilon float64) (*RMSProp, error) {
	if lr == 0 {
		lr = 1e-2
	}
	if lr < 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if alpha == 0 {
		alpha = 0.99
	}
	if alpha < 0 || alpha >= 1 {
		return nil, fmt.Errorf("alpha must lie in [0, 1), got %v", alpha)
	}
	if epsilon == 0 {
		epsilon = 1e-8
	}
	r := &RMSProp{
		params:     params,
		lr:         lr,
		alpha:      alpha,
		epsilon:    epsilon,
		squaredAvg: make([][]float32, len(params)),
	}
	for i, p := range params {
		r.squaredAvg[i] = make([]float32, p.NumElems)
	}
	return r, nil
}

func (r *RMSProp) Name() string { return "RMSProp" }

// Step applies one RMSProp update to every parameter carrying a gradient.
func (r *RMSProp) Step() error {
	r.steps++
	a := float32(r.alpha)
	for i, p := range r.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("gradient size %d does not match parameter size %d", grad.NumElems, p.NumElems)
		}
		sq := r.squaredAvg[i]
		for j, g := range grad.Data {
			sq[j] = a*sq[j] + (1-a)*g*g
			p.Data[j] -= float32(r.lr * float64(g) / (math.Sqrt(float64(sq[j])) + r.epsilon))
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all owned parameters.
func (r *RMSProp) ZeroGrad() {
	for _, p := range r.params {
		p.ZeroGrad()
	}
}

func (r *RMSProp) SetLearningRate(lr float64) { r.lr = lr }
func (r *RMSProp) LearningRate() float64      { return r.lr }
func (r *RMSProp) StepCount() uint64          { return r.steps }

// State extracts the squared-average buffers for checkpointing.
func (r *RMSProp) State() (*State, error) {
	state := &State{
		Type:      r.Name(),
		StepCount: r.steps,
		Parameters: map[string]float64{
			"lr":      r.lr,
			"alpha":   r.alpha,
			"epsilon": r.epsilon,
		},
	}
	state.StateData = snapshotBuffers("squared_grad_avg", r.params, r.squaredAvg)
	return state, nil
}

// LoadState restores the squared-average buffers from a checkpoint.
func (r *RMSProp) LoadState(state *State) error {
	if err := validateStateType(r.Name(), state); err != nil {
		return err
	}
	if lr, ok := state.Parameters["lr"]; ok {
		r.lr = lr
	}
	r.steps = state.StepCount
	return restoreBuffers("squared_grad_avg", state, r.squaredAvg)
}
