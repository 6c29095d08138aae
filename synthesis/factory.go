package synthesis

import (
	"strings"

	"github.com/tsawler/go-synth/checkpoints"
	"github.com/tsawler/go-synth/config"
)

// New creates the module named by the model configuration. StyleGAN is
// unlabeled-only: its latent path has no conditioning input.
func New(model *config.ModelConfig, opts Options) (Module, error) {
	switch strings.ToLower(model.ModelName) {
	case "dcgan":
		return NewDCGAN(model, opts), nil
	case "stylegan":
		if model.LabelingParadigm == config.ParadigmLabeled {
			return nil, config.ConfigurationError("stylegan does not support the labeled paradigm")
		}
		return NewStyleGAN(model, opts), nil
	default:
		return nil, config.ConfigurationError("unknown model name %q", model.ModelName)
	}
}

// Setup runs the module initialization sequence in order.
func Setup(m Module) error {
	if err := m.InitializeModel(); err != nil {
		return err
	}
	if err := m.InitializeLosses(); err != nil {
		return err
	}
	return m.ConfigureOptimizers()
}

// LoadCheckpoint restores a module from the checkpoint stored under
// the given suffix. The module must already be set up.
func LoadCheckpoint(m Module, saver *checkpoints.Saver, suffix string) error {
	state, err := saver.Load(suffix)
	if err != nil {
		return err
	}
	return m.Restore(state)
}
