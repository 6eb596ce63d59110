package crf

import (
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

// buildOverfitCorpus returns a tiny two-label training corpus where each
// label is strongly predicted by a single, label-exclusive attribute, so a
// trained model should recover the training labels exactly on decode. Each
// sequence ends with an attribute-less EOS boundary item labelled with the
// BOS/EOS sentinel (labels.Size()), which is what the last position decodes to.
func buildOverfitCorpus() (labels, attrs *Alphabet, seqs []TrainingSequence) {
	labels = NewAlphabet()
	attrs = NewAlphabet()

	bLabel := labels.Add("B")
	iLabel := labels.Add("I")
	bAttr := attrs.Add("is-b")
	iAttr := attrs.Add("is-i")

	mkItem := func(attr int) Item {
		item := NewItem(attrs.Size())
		item.Attrs.Set(attr, 1.0)
		return item
	}

	eos := labels.Size()

	seq1 := TrainingSequence{
		Items:  []Item{mkItem(bAttr), mkItem(iAttr), mkItem(iAttr), NewItem(attrs.Size())},
		Labels: []int{bLabel, iLabel, iLabel, eos},
	}
	seq2 := TrainingSequence{
		Items:  []Item{mkItem(bAttr), mkItem(iAttr), NewItem(attrs.Size())},
		Labels: []int{bLabel, iLabel, eos},
	}
	return labels, attrs, []TrainingSequence{seq1, seq2}
}

func TestTrainerOverfitsTinyCorpusAndViterbiRecoversLabels(t *testing.T) {
	labels, _, seqs := buildOverfitCorpus()

	fs := GenerateUnigramFeatures(seqs)
	cfg := DefaultTrainerConfig()
	cfg.Regularization = RegL2
	cfg.C2 = 0.01 // light regularization so the strong single-attribute signal dominates
	cfg.Epsilon = 1e-7

	tr := NewTrainer(cfg, labels.Size(), fs, slog.New(slog.DiscardHandler))
	weights, err := tr.Train(seqs)
	require.NoError(t, err)
	require.Len(t, weights, len(fs.Features))

	expW := make([]float64, len(weights))
	for i, w := range weights {
		expW[i] = math.Exp(w)
	}

	pp := NewPreprocessor(labels.Size())
	ctx := NewContext(labels.Size())

	for _, seq := range seqs {
		item := pp.Process(seq.Items, seq.Labels, fs, labels.Size())
		ctx.Load(item)
		ctx.SetWeight(expW)
		result := ctx.Viterbi()
		require.Equal(t, seq.Labels, result.Labels)
	}
}

func TestTrainerL1RegularizationMovesWeightsOffZero(t *testing.T) {
	labels, _, seqs := buildOverfitCorpus()

	fs := GenerateUnigramFeatures(seqs)
	cfg := DefaultTrainerConfig()
	cfg.Regularization = RegL1
	cfg.C1 = 0.01
	cfg.Epsilon = 1e-7

	tr := NewTrainer(cfg, labels.Size(), fs, slog.New(slog.DiscardHandler))
	weights, err := tr.Train(seqs)
	require.NoError(t, err)

	nonzero := 0
	for _, w := range weights {
		if w != 0 {
			nonzero++
		}
	}
	require.Greater(t, nonzero, 0, "orthant-wise line search must be able to move a weight away from its zero init")
}

func TestTrainerShuffleStillOverfitsTinyCorpus(t *testing.T) {
	labels, _, seqs := buildOverfitCorpus()

	fs := GenerateUnigramFeatures(seqs)
	cfg := DefaultTrainerConfig()
	cfg.Regularization = RegL2
	cfg.C2 = 0.01
	cfg.Epsilon = 1e-7
	cfg.Shuffle = true

	tr := NewTrainer(cfg, labels.Size(), fs, slog.New(slog.DiscardHandler))
	weights, err := tr.Train(seqs)
	require.NoError(t, err)

	expW := make([]float64, len(weights))
	for i, w := range weights {
		expW[i] = math.Exp(w)
	}

	pp := NewPreprocessor(labels.Size())
	ctx := NewContext(labels.Size())
	for _, seq := range seqs {
		item := pp.Process(seq.Items, seq.Labels, fs, labels.Size())
		ctx.Load(item)
		ctx.SetWeight(expW)
		result := ctx.Viterbi()
		require.Equal(t, seq.Labels, result.Labels, "epoch shuffling must not change what the model converges to")
	}
}
