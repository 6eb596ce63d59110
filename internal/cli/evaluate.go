package cli

import (
	"fmt"
	"log/slog"
	"math"
	"sort"
	"time"

	"github.com/bits-and-blooms/bitset"
	"github.com/happyhackingspace/vocrf/crf"
	"github.com/happyhackingspace/vocrf/internal/corpus"
	"github.com/spf13/cobra"
)

func (c *CLI) newEvaluateCommand() *cobra.Command {
	var dataFolder string
	var cvFolds int

	cmd := &cobra.Command{
		Use:     "evaluate",
		Short:   "Evaluate label accuracy via group cross-validation",
		Example: `  vocrf evaluate --data-folder data --cv 10`,
		RunE: func(cmd *cobra.Command, args []string) error {
			slog.Info("Evaluating", "folds", cvFolds, "data-folder", dataFolder)

			labels := crf.NewAlphabet()
			attrs := crf.NewAlphabet()
			sequences, err := corpus.LoadDir(dataFolder, labels, attrs)
			if err != nil {
				return err
			}

			start := time.Now()
			result := evaluateCV(sequences, labels, cvFolds)
			slog.Debug("Evaluation completed", "duration", time.Since(start))

			fmt.Printf("Label accuracy: %.1f%% (%d/%d)\n", result.labelAccuracy()*100, result.labelCorrect, result.labelTotal)
			fmt.Printf("Sequence accuracy: %.1f%% (%d/%d)\n", result.seqAccuracy()*100, result.seqCorrect, result.seqTotal)
			classes := append([]string(nil), labels.ToStr...)
			classes = append(classes, "__BOS_EOS__")
			printConfusionMatrix(result.confusion, classes)
			printClassReport(result.confusion, classes)
			return nil
		},
	}

	cmd.Flags().StringVar(&dataFolder, "data-folder", "data", "Path to training-data folder")
	cmd.Flags().IntVar(&cvFolds, "cv", 10, "Number of cross-validation folds")
	return cmd
}

type cvResult struct {
	labelCorrect, labelTotal int
	seqCorrect, seqTotal     int
	confusion                map[string]map[string]int
}

func (r *cvResult) labelAccuracy() float64 {
	if r.labelTotal == 0 {
		return 0
	}
	return float64(r.labelCorrect) / float64(r.labelTotal)
}

func (r *cvResult) seqAccuracy() float64 {
	if r.seqTotal == 0 {
		return 0
	}
	return float64(r.seqCorrect) / float64(r.seqTotal)
}

// evaluateCV runs group k-fold cross-validation: sequences sharing a Group
// (set by corpus.LoadDir to the source file) never split across a fold's
// train/test sides, matching the teacher's domain-grouped evaluation.
func evaluateCV(sequences []crf.TrainingSequence, labels *crf.Alphabet, nFolds int) *cvResult {
	numLabels := labels.Size()
	groups := make([]int, len(sequences))
	for i, seq := range sequences {
		groups[i] = seq.Group
	}
	folds := corpus.GroupKFold(groups, nFolds)

	result := &cvResult{confusion: make(map[string]map[string]int)}

	for _, testIdx := range folds {
		testSet := bitset.New(uint(len(sequences)))
		for _, i := range testIdx {
			testSet.Set(uint(i))
		}

		var trainSeqs []crf.TrainingSequence
		for i, seq := range sequences {
			if !testSet.Test(uint(i)) {
				trainSeqs = append(trainSeqs, seq)
			}
		}
		if len(trainSeqs) == 0 {
			continue
		}

		fs := crf.GenerateUnigramFeatures(trainSeqs)
		cfg := crf.DefaultTrainerConfig()
		tr := crf.NewTrainer(cfg, numLabels, fs, slog.Default())
		weights, err := tr.Train(trainSeqs)
		if err != nil {
			slog.Warn("fold training failed", "error", err)
			continue
		}

		expW := make([]float64, len(weights))
		for i, w := range weights {
			expW[i] = math.Exp(w)
		}

		pp := crf.NewPreprocessor(numLabels)
		ctx := crf.NewContext(numLabels)

		for _, idx := range testIdx {
			seq := sequences[idx]
			item := pp.Process(seq.Items, seq.Labels, fs, numLabels)
			ctx.Load(item)
			ctx.SetWeight(expW)
			decoded := ctx.Viterbi()

			allCorrect := true
			for j, want := range seq.Labels {
				result.labelTotal++
				var got int
				if j < len(decoded.Labels) {
					got = decoded.Labels[j]
				}
				result.recordConfusion(labelName(labels, want), labelName(labels, got))
				if got == want {
					result.labelCorrect++
				} else {
					allCorrect = false
				}
			}
			result.seqTotal++
			if allCorrect {
				result.seqCorrect++
			}
		}
	}
	return result
}

func (r *cvResult) recordConfusion(trueLabel, predLabel string) {
	row, ok := r.confusion[trueLabel]
	if !ok {
		row = make(map[string]int)
		r.confusion[trueLabel] = row
	}
	row[predLabel]++
}

func labelName(labels *crf.Alphabet, id int) string {
	if id < 0 || id >= labels.Size() {
		return "__BOS_EOS__"
	}
	return labels.String(id)
}

func printClassReport(confusion map[string]map[string]int, classes []string) {
	fmt.Printf("\nPer-class metrics:\n")
	fmt.Printf("%8s  %6s  %6s  %6s  %7s\n", "class", "prec", "recall", "f1", "support")
	for _, cls := range classes {
		tp, fp, fn := 0, 0, 0
		support := 0
		for trueClass, row := range confusion {
			for predClass, count := range row {
				if trueClass == cls {
					support += count
				}
				switch {
				case trueClass == cls && predClass == cls:
					tp += count
				case trueClass != cls && predClass == cls:
					fp += count
				case trueClass == cls && predClass != cls:
					fn += count
				}
			}
		}
		precision, recall, f1 := 0.0, 0.0, 0.0
		if tp+fp > 0 {
			precision = float64(tp) / float64(tp+fp)
		}
		if tp+fn > 0 {
			recall = float64(tp) / float64(tp+fn)
		}
		if precision+recall > 0 {
			f1 = 2 * precision * recall / (precision + recall)
		}
		fmt.Printf("%8s  %5.1f%%  %5.1f%%  %5.1f%%  %7d\n", cls, precision*100, recall*100, f1*100, support)
	}
}

func printConfusionMatrix(confusion map[string]map[string]int, classes []string) {
	if len(confusion) == 0 {
		return
	}

	sorted := append([]string(nil), classes...)
	sort.Slice(sorted, func(i, j int) bool {
		ti, tj := 0, 0
		for _, v := range confusion[sorted[i]] {
			ti += v
		}
		for _, v := range confusion[sorted[j]] {
			tj += v
		}
		return ti > tj
	})

	fmt.Printf("\nConfusion matrix (rows=true, cols=predicted):\n")
	fmt.Printf("%8s", "")
	for _, cls := range sorted {
		fmt.Printf(" %5s", cls)
	}
	fmt.Printf("  total  acc%%\n")

	for _, trueClass := range sorted {
		fmt.Printf("%8s", trueClass)
		total, correct := 0, 0
		for _, predClass := range sorted {
			count := confusion[trueClass][predClass]
			total += count
			if trueClass == predClass {
				correct = count
			}
			if count == 0 {
				fmt.Printf("   %5s", ".")
			} else {
				fmt.Printf("   %5d", count)
			}
		}
		acc := 0.0
		if total > 0 {
			acc = float64(correct) / float64(total) * 100
		}
		fmt.Printf("  %5d %5.1f\n", total, acc)
	}
}
