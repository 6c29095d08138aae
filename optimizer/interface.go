// Package optimizer implements the numeric optimization primitives used
// by the synthesis modules: one optimizer instance per sub-network,
// stepping the parameters it owns from their accumulated gradients.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/tensor"
)

// Optimizer is the common interface for all optimizers. State save and
// restore exists for checkpoint functionality: momentum and variance
// buffers survive a resumed run.
type Optimizer interface {
	// Step applies one update from the parameters' accumulated gradients.
	// Parameters without a gradient are skipped.
	Step() error

	// ZeroGrad clears the accumulated gradients of all owned parameters.
	ZeroGrad()

	// SetLearningRate updates the learning rate (driven by schedulers).
	SetLearningRate(lr float64)

	// LearningRate returns the current learning rate.
	LearningRate() float64

	// StepCount returns the number of optimization steps taken.
	StepCount() uint64

	// State extracts optimizer state for checkpointing.
	State() (*State, error)

	// LoadState restores optimizer state from a checkpoint.
	LoadState(state *State) error

	// Name returns the optimizer type name.
	Name() string
}

// State is the serializable snapshot of an optimizer.
type State struct {
	Type       string             `json:"type"`
	StepCount  uint64             `json:"step_count"`
	Parameters map[string]float64 `json:"parameters"`
	StateData  []StateTensor      `json:"state_data"`
}

// StateTensor is one optimizer state buffer (momentum, variance, ...).
type StateTensor struct {
	Name      string    `json:"name"`
	Shape     []int     `json:"shape"`
	Data      []float32 `json:"data"`
	StateType string    `json:"state_type"`
}

// Get resolves an optimizer spec by name for the given parameters.
// Unknown names fail with a ConfigurationError.
func Get(params []*tensor.Tensor, spec config.OptimizerSpec) (Optimizer, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter tensor")
	}
	switch strings.ToLower(spec.Name) {
	case "adam":
		return NewAdam(params, spec.LearningRate, spec.Beta1, spec.Beta2, spec.Epsilon)
	case "sgd":
		return NewSGD(params, spec.LearningRate, spec.Momentum)
	case "rmsprop":
		return NewRMSProp(params, spec.LearningRate, spec.Alpha, spec.Epsilon)
	default:
		return nil, config.ConfigurationError("unknown optimizer %q", spec.Name)
	}
}

// validateStateType ensures a restored state matches the optimizer.
func validateStateType(optimizerType string, state *State) error {
	if state.Type != optimizerType {
		return fmt.Errorf("state type mismatch: expected %s, got %s", optimizerType, state.Type)
	}
	return nil
}

// snapshotBuffers converts per-parameter state buffers into state
// tensors named <stateType>_<index>.
func snapshotBuffers(stateType string, params []*tensor.Tensor, buffers [][]float32) []StateTensor {
	out := make([]StateTensor, 0, len(buffers))
	for i, buf := range buffers {
		data := make([]float32, len(buf))
		copy(data, buf)
		out = append(out, StateTensor{
			Name:      fmt.Sprintf("%s_%d", stateType, i),
			Shape:     append([]int(nil), params[i].Shape...),
			Data:      data,
			StateType: stateType,
		})
	}
	return out
}

// restoreBuffers loads state tensors of one type back into buffers.
func restoreBuffers(stateType string, state *State, buffers [][]float32) error {
	for _, st := range state.StateData {
		if st.StateType != stateType {
			continue
		}
		idx := extractBufferIndex(st.Name)
		if idx < 0 || idx >= len(buffers) {
			return fmt.Errorf("state tensor %s has no matching buffer", st.Name)
		}
		if len(st.Data) != len(buffers[idx]) {
			return fmt.Errorf("state tensor %s size mismatch: expected %d, got %d", st.Name, len(buffers[idx]), len(st.Data))
		}
		copy(buffers[idx], st.Data)
	}
	return nil
}

// extractBufferIndex parses the trailing index of names like
// "momentum_0" or "variance_12".
func extractBufferIndex(name string) int {
	lastUnderscore := strings.LastIndexByte(name, '_')
	if lastUnderscore < 0 {
		return -1
	}
	var idx int
	if n, err := fmt.Sscanf(name[lastUnderscore+1:], "%d", &idx); n == 1 && err == nil {
		return idx
	}
	return -1
}
