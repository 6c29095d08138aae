package optimizer

import (
	"fmt"
	"math"

	"github.com/tsawler/go-synth/tensor"
)

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	params []*tensor.Tensor

	lr      float64
	beta1   float64
	beta2   float64
	epsilon float64

	momentum [][]float32 // first moment per parameter
	variance [][]float32 // second moment per parameter
	steps    uint64
}

// NewAdam creates an Adam optimizer. Zero hyperparameters take the
// conventional defaults (lr 1e-3, betas 0.9/0.999, eps 1e-8).
func NewAdam(params []*tensor.Tensor, lr, beta1, beta2, epsilon float64) (*Adam, error) {
	if lr == 0 {
		lr = 1e-3
	}
	if lr < 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %v", lr)
	}
	if beta1 == 0 {
		beta1 = 0.9
	}
	if beta2 == 0 {
		beta2 = 0.999
	}
	if epsilon == 0 {
		epsilon = 1e-8
	}
	if beta1 < 0 || beta1 >= 1 || beta2 < 0 || beta2 >= 1 {
		return nil, fmt.Errorf("betas must lie in [0, 1), got %v and %v", beta1, beta2)
	}
	a := &Adam{
		params:   params,
		lr:       lr,
		beta1:    beta1,
		beta2:    beta2,
		epsilon:  epsilon,
		momentum: make([][]float32, len(params)),
		variance: make([][]float32, len(params)),
	}
	for i, p := range params {
		a.momentum[i] = make([]float32, p.NumElems)
		a.variance[i] = make([]float32, p.NumElems)
	}
	return a, nil
}

func (a *Adam) Name() string { return "Adam" }

// Step applies one Adam update to every parameter carrying a gradient.
func (a *Adam) Step() error {
	a.steps++
	correction1 := 1.0 - math.Pow(a.beta1, float64(a.steps))
	correction2 := 1.0 - math.Pow(a.beta2, float64(a.steps))
	b1 := float32(a.beta1)
	b2 := float32(a.beta2)
	for i, p := range a.params {
		grad := p.Grad()
		if grad == nil {
			continue
		}
		if grad.NumElems != p.NumElems {
			return fmt.Errorf("gradient size %d does not match parameter size %d", grad.NumElems, p.NumElems)
		}
		m := a.momentum[i]
		v := a.variance[i]
		for j, g := range grad.Data {
			m[j] = b1*m[j] + (1-b1)*g
			v[j] = b2*v[j] + (1-b2)*g*g
			mHat := float64(m[j]) / correction1
			vHat := float64(v[j]) / correction2
			p.Data[j] -= float32(a.lr * mHat / (math.Sqrt(vHat) + a.epsilon))
		}
	}
	return nil
}

// ZeroGrad clears the gradients of all owned parameters.
func (a *Adam) ZeroGrad() {
	for _, p := range a.params {
		p.ZeroGrad()
	}
}

func (a *Adam) SetLearningRate(lr float64) { a.lr = lr }
func (a *Adam) LearningRate() float64      { return a.lr }
func (a *Adam) StepCount() uint64          { return a.steps }

// State extracts the moment buffers for checkpointing.
func (a *Adam) State() (*State, error) {
	state := &State{
		Type:      a.Name(),
		StepCount: a.steps,
		Parameters: map[string]float64{
			"lr":      a.lr,
			"beta1":   a.beta1,
			"beta2":   a.beta2,
			"epsilon": a.epsilon,
		},
	}
	state.StateData = append(state.StateData, snapshotBuffers("momentum", a.params, a.momentum)...)
	state.StateData = append(state.StateData, snapshotBuffers("variance", a.params, a.variance)...)
	return state, nil
}

// LoadState restores the moment buffers from a checkpoint.
func (a *Adam) LoadState(state *State) error {
	if err := validateStateType(a.Name(), state); err != nil {
		return err
	}
	if lr, ok := state.Parameters["lr"]; ok {
		a.lr = lr
	}
	a.steps = state.StepCount
	if err := restoreBuffers("momentum", state, a.momentum); err != nil {
		return err
	}
	return restoreBuffers("variance", state, a.variance)
}
