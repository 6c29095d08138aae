// Package checkpoints serializes model weights, optimizer state and
// training progress so runs can be resumed and models reloaded for
// inference.
package checkpoints

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/tsawler/go-synth/optimizer"
)

const (
	// Framework identifies the producer in checkpoint metadata.
	Framework = "go-synth"

	// FormatVersion is bumped on incompatible layout changes.
	FormatVersion = "1.0.0"
)

// Suffixes for the rolling and epoch-tagged checkpoint files.
const (
	LatestSuffix = "latest"
	FinalSuffix  = "final"
)

// WeightTensor represents a model parameter tensor with its data.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
	Role  string    `json:"role"` // "generator" or "discriminator"
}

// TrainingState captures the training position needed to resume a run.
// The progressive fields are zero for models that do not grow.
type TrainingState struct {
	Epoch        int     `json:"epoch"`
	GlobalStep   int     `json:"global_step"`
	SampleCount  int     `json:"sample_count"`
	Stage        int     `json:"stage,omitempty"`
	EpochInStage int     `json:"epoch_in_stage,omitempty"`
	Alpha        float64 `json:"alpha,omitempty"`
}

// Metadata describes a checkpoint file.
type Metadata struct {
	RunID     string    `json:"run_id"`
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	ModelName string    `json:"model_name"`
	CreatedAt time.Time `json:"created_at"`
}

// ModuleState is a synthesis module's complete serialized state.
type ModuleState struct {
	Weights        []WeightTensor             `json:"weights"`
	TrainingState  TrainingState              `json:"training_state"`
	OptimizerState map[string]*optimizer.State `json:"optimizer_state,omitempty"`
	Metadata       Metadata                   `json:"metadata"`
}

// Saver writes and reads module checkpoints under a model directory.
// All checkpoints of a run share one run id.
type Saver struct {
	modelDir  string
	modelName string
	runID     string
}

// NewSaver creates a saver rooted at modelDir, creating the directory
// if needed.
func NewSaver(modelDir, modelName string) (*Saver, error) {
	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &Saver{
		modelDir:  modelDir,
		modelName: modelName,
		runID:     uuid.NewString(),
	}, nil
}

// Path returns the checkpoint file path for a suffix, e.g. "latest"
// or "epoch_10".
func (s *Saver) Path(suffix string) string {
	return filepath.Join(s.modelDir, fmt.Sprintf("checkpoint_%s.json", suffix))
}

// EpochSuffix formats the suffix used for per-epoch checkpoints.
func EpochSuffix(epoch int) string {
	return fmt.Sprintf("epoch_%d", epoch)
}

// Save writes the module state under the given suffix, stamping
// metadata.
func (s *Saver) Save(state *ModuleState, suffix string) error {
	state.Metadata = Metadata{
		RunID:     s.runID,
		Framework: Framework,
		Version:   FormatVersion,
		ModelName: s.modelName,
		CreatedAt: time.Now().UTC(),
	}

	path := s.Path(suffix)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(state); err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	return nil
}

// Load reads the module state stored under the given suffix.
func (s *Saver) Load(suffix string) (*ModuleState, error) {
	return LoadFile(s.Path(suffix))
}

// Exists reports whether a checkpoint with the suffix is present.
func (s *Saver) Exists(suffix string) bool {
	_, err := os.Stat(s.Path(suffix))
	return err == nil
}

// LoadFile reads a checkpoint from an explicit path and validates its
// framework and version markers.
func LoadFile(path string) (*ModuleState, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint: %w", err)
	}
	defer file.Close()

	var state ModuleState
	if err := json.NewDecoder(file).Decode(&state); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
	}
	if state.Metadata.Framework != Framework {
		return nil, fmt.Errorf("checkpoint %s was written by %q, expected %q", filepath.Base(path), state.Metadata.Framework, Framework)
	}
	if state.Metadata.Version != FormatVersion {
		return nil, fmt.Errorf("checkpoint %s has version %q, expected %q", filepath.Base(path), state.Metadata.Version, FormatVersion)
	}
	return &state, nil
}
