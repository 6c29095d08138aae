// Command go-synth trains generative synthesis models and runs
// batched inference from their checkpoints.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/tsawler/go-synth/config"
	"github.com/tsawler/go-synth/data"
	"github.com/tsawler/go-synth/inference"
	"github.com/tsawler/go-synth/training"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var verbose bool

	root := &cobra.Command{
		Use:           "go-synth",
		Short:         "Train and sample generative image-synthesis models",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelInfo
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	root.AddCommand(newTrainCommand(), newGenerateCommand())
	return root
}

func newTrainCommand() *cobra.Command {
	var (
		configPath string
		dataPath   string
		modelDir   string
		resume     bool
		valFrames  int
		valRatio   float64
		testFrames int
		testRatio  float64
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model from a CSV data manifest",
		RunE: func(cmd *cobra.Command, args []string) error {
			global, model, err := config.Load(configPath)
			if err != nil {
				return err
			}
			dataset, err := data.NewCSVDataset(dataPath, model.Architecture.ImageSize, model.Architecture.ImageChannels)
			if err != nil {
				return err
			}
			if model.LabelingParadigm == config.ParadigmLabeled && !dataset.Labeled() {
				return config.ConfigurationError("labeled paradigm requires a label column in %s", dataPath)
			}

			manager, err := training.NewManager(training.ManagerOptions{
				Global:    global,
				Model:     model,
				Dataset:   dataset,
				ModelDir:  modelDir,
				Resume:    resume,
				ValSplit:  data.SplitSpec{Count: valFrames, Ratio: valRatio},
				TestSplit: data.SplitSpec{Count: testFrames, Ratio: testRatio},
				Logger:    slog.Default(),
			})
			if err != nil {
				return err
			}
			if err := manager.Run(); err != nil {
				return err
			}

			printSummary([]string{"Model", "Epochs", "Samples", "Model Dir"}, []string{
				model.ModelName,
				fmt.Sprintf("%d", global.NumEpochs),
				fmt.Sprintf("%d", dataset.Len()),
				modelDir,
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "run configuration file (required)")
	cmd.Flags().StringVar(&dataPath, "data", "", "CSV data manifest (required)")
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "directory for checkpoints and previews (required)")
	cmd.Flags().BoolVar(&resume, "resume", false, "resume from the latest checkpoint")
	cmd.Flags().IntVar(&valFrames, "val-frames", 0, "validation samples held out (overrides --val-ratio)")
	cmd.Flags().Float64Var(&valRatio, "val-ratio", 0, "validation fraction held out")
	cmd.Flags().IntVar(&testFrames, "test-frames", 0, "test samples held out (overrides --test-ratio)")
	cmd.Flags().Float64Var(&testRatio, "test-ratio", 0, "test fraction held out")
	for _, flag := range []string{"config", "data", "model-dir"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}

func newGenerateCommand() *cobra.Command {
	var (
		configPath string
		modelDir   string
		outputDir  string
		checkpoint string
	)

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate images from a trained model",
		RunE: func(cmd *cobra.Command, args []string) error {
			global, model, err := config.Load(configPath)
			if err != nil {
				return err
			}
			manager, err := inference.NewManager(inference.Options{
				Global:           global,
				Model:            model,
				ModelDir:         modelDir,
				OutputBase:       outputDir,
				CheckpointSuffix: checkpoint,
				Logger:           slog.Default(),
			})
			if err != nil {
				return err
			}
			if err := manager.Run(); err != nil {
				return err
			}

			printSummary([]string{"Model", "Checkpoint", "Output Dir"}, []string{
				model.ModelName,
				checkpointLabel(checkpoint),
				manager.OutputDir(),
			})
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "run configuration file (required)")
	cmd.Flags().StringVar(&modelDir, "model-dir", "", "trained model directory (required)")
	cmd.Flags().StringVar(&outputDir, "output-dir", "", "directory to create the output directory in")
	cmd.Flags().StringVar(&checkpoint, "checkpoint", "", "checkpoint suffix to load (default: final)")
	for _, flag := range []string{"config", "model-dir"} {
		_ = cmd.MarkFlagRequired(flag)
	}
	return cmd
}

func checkpointLabel(suffix string) string {
	if suffix == "" {
		return "final"
	}
	return suffix
}

func printSummary(headers, row []string) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader(headers)
	table.Append(row)
	table.Render()
}
