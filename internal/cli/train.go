package cli

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/happyhackingspace/vocrf/crf"
	"github.com/happyhackingspace/vocrf/internal/corpus"
	"github.com/spf13/cobra"
)

func (c *CLI) newTrainCommand() *cobra.Command {
	var dataFolder string
	var featuresPath string
	var c1, c2, epsilon float64
	var maxIterations int
	var regularization string
	var shuffle bool

	cmd := &cobra.Command{
		Use:   "train <modelfile>",
		Short: "Train a variable-order CRF model on a training-data corpus",
		Args:  cobra.ExactArgs(1),
		Example: `  vocrf train model.bin --data-folder data
  vocrf train model.bin --data-folder data --features features.txt --regularization l1 --c1 0.5`,
		RunE: func(cmd *cobra.Command, args []string) error {
			modelPath := args[0]
			slog.Info("Training", "data-folder", dataFolder, "features", featuresPath, "output", modelPath)

			labels := crf.NewAlphabet()
			attrs := crf.NewAlphabet()
			sequences, err := corpus.LoadDir(dataFolder, labels, attrs)
			if err != nil {
				return err
			}
			slog.Info("Training data loaded", "sequences", len(sequences), "labels", labels.Size(), "attributes", attrs.Size())

			var fs *crf.FeatureSet
			if featuresPath != "" {
				f, err := os.Open(featuresPath)
				if err != nil {
					return fmt.Errorf("vocrf: open features file: %w", err)
				}
				features, err := crf.ReadFeatures(f, labels, attrs)
				_ = f.Close()
				if err != nil {
					return fmt.Errorf("vocrf: read features file: %w", err)
				}
				fs = crf.NewFeatureSet(features)
			} else {
				fs = crf.GenerateUnigramFeatures(sequences)
			}
			slog.Info("Feature table ready", "features", len(fs.Features))

			cfg := crf.DefaultTrainerConfig()
			switch regularization {
			case "l1":
				cfg.Regularization = crf.RegL1
			case "l2":
				cfg.Regularization = crf.RegL2
			case "none":
				cfg.Regularization = crf.RegNone
			default:
				return fmt.Errorf("vocrf: unknown regularization %q (want l1, l2, or none)", regularization)
			}
			cfg.C1 = c1
			cfg.C2 = c2
			cfg.Epsilon = epsilon
			cfg.MaxIterations = maxIterations
			cfg.Shuffle = shuffle

			tr := crf.NewTrainer(cfg, labels.Size(), fs, slog.Default())

			start := time.Now()
			weights, err := tr.Train(sequences)
			if err != nil {
				return err
			}
			slog.Info("Training completed", "duration", time.Since(start))

			model := &crf.Model{
				Labels:     labels,
				Attributes: attrs,
				Features:   fs.Features,
				Weights:    weights,
			}
			out, err := os.Create(modelPath)
			if err != nil {
				return fmt.Errorf("vocrf: create model file: %w", err)
			}
			defer func() { _ = out.Close() }()
			if err := model.Save(out); err != nil {
				return fmt.Errorf("vocrf: save model: %w", err)
			}
			slog.Info("Model saved", "path", modelPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to training-data folder")
	cmd.Flags().StringVar(&featuresPath, "features", "", "Path to an external feature-list file (default: auto-generate unigram features)")
	cmd.Flags().Float64Var(&c1, "c1", 1.0, "L1 regularization coefficient")
	cmd.Flags().Float64Var(&c2, "c2", 1.0, "L2 regularization coefficient")
	cmd.Flags().Float64Var(&epsilon, "epsilon", 1e-5, "Gradient-norm convergence threshold")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 0, "Maximum L-BFGS iterations (0 = unbounded)")
	cmd.Flags().StringVar(&regularization, "regularization", "l2", "Regularization: l1, l2, or none")
	cmd.Flags().BoolVar(&shuffle, "shuffle", false, "Shuffle sequence order every epoch")
	return cmd
}
